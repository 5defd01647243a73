package world

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"cubeyard.io/internal/protocol"
	adminauthpkg "cubeyard.io/internal/sim/world/feature/admin/auth"
	adminrequestspkg "cubeyard.io/internal/sim/world/feature/admin/requests"
	"cubeyard.io/internal/sim/world/logic/ids"
	"cubeyard.io/internal/sim/world/policy/rules"
	"cubeyard.io/internal/sim/world/state"
)

var ErrStopped = errors.New("world stopped")

type Config struct {
	Limits        rules.Limits
	AdminMoveStep float64
	// RejectNotices sends requestRejected frames back to the sender.
	RejectNotices bool
	Verifier      *adminauthpkg.Verifier

	// Optional hook (tests).
	NewSessionID func() string
}

type JoinRequest struct {
	Out  chan []byte
	Resp chan JoinResponse
}

type JoinResponse struct {
	SessionID string
}

// Envelope is one inbound item bound to the session that sent it: a request,
// or the session's departure. Both share the inbox so a departure is handled
// after every request the connection queued before it.
type Envelope struct {
	SessionID string
	Req       protocol.Request

	// verified carries the credential check done before queueing.
	verified bool
	leave    bool
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type AuditEntry struct {
	Time   time.Time `json:"time"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"` // e.g. "RESET_WORLD"
	Target string    `json:"target,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// World is the single-threaded authority over players, blocks and chat.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg   Config
	store *state.Store
	log   *log.Logger

	sessions map[string]*session

	inbox    chan Envelope
	join     chan JoinRequest
	stateReq chan adminrequestspkg.StateReq[state.Snapshot]
	resetReq chan adminrequestspkg.ResetReq

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	auditLogger AuditLogger

	processed uint64
	rejected  uint64
	slowDrops uint64
	metrics   atomic.Value
}

func New(cfg Config, store *state.Store, logger *log.Logger) (*World, error) {
	if store == nil {
		return nil, errors.New("world: nil store")
	}
	if cfg.Limits == (rules.Limits{}) {
		cfg.Limits = rules.DefaultLimits()
	}
	if cfg.AdminMoveStep <= 0 {
		cfg.AdminMoveStep = 1
	}
	if cfg.NewSessionID == nil {
		cfg.NewSessionID = ids.NewSessionID
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[world] ", log.LstdFlags|log.Lmicroseconds)
	}
	w := &World{
		cfg:      cfg,
		store:    store,
		log:      logger,
		sessions: map[string]*session{},
		inbox:    make(chan Envelope, 1024),
		join:     make(chan JoinRequest, 64),
		stateReq: make(chan adminrequestspkg.StateReq[state.Snapshot], 8),
		resetReq: make(chan adminrequestspkg.ResetReq, 8),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	w.publishMetrics()
	return w, nil
}

func (w *World) SetAuditLogger(l AuditLogger) { w.auditLogger = l }

// Run processes joins, requests and leaves one at a time until ctx ends or
// Stop is called. Open sessions are closed on return.
func (w *World) Run(ctx context.Context) error {
	defer close(w.done)
	defer w.closeAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			w.handleJoin(req)
		case env := <-w.inbox:
			w.handleEnvelope(env)
		case req := <-w.stateReq:
			w.settle()
			req.Resp <- w.store.Snapshot()
		case req := <-w.resetReq:
			w.settle()
			w.handleAdminReset(req)
		}
		w.processed++
		w.publishMetrics()
	}
}

// settle handles the inbox items already queued, so an admin query observes
// everything submitted before it.
func (w *World) settle() {
	for n := len(w.inbox); n > 0; n-- {
		w.handleEnvelope(<-w.inbox)
		w.processed++
	}
}

func (w *World) handleEnvelope(env Envelope) {
	if env.leave {
		w.handleLeave(env.SessionID)
		return
	}
	w.handleRequest(env)
}

func (w *World) Stop() { w.stopOnce.Do(func() { close(w.stop) }) }

// Done is closed once Run has returned.
func (w *World) Done() <-chan struct{} { return w.done }

// Connect registers a new session whose frames will be written to out.
// The init frame is already queued on out when Connect returns.
func (w *World) Connect(ctx context.Context, out chan []byte) (string, error) {
	req := JoinRequest{Out: out, Resp: make(chan JoinResponse, 1)}
	select {
	case w.join <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-w.done:
		return "", ErrStopped
	}
	select {
	case resp := <-req.Resp:
		return resp.SessionID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-w.done:
		return "", ErrStopped
	}
}

// Submit queues a request from sessionID. An adminAuth credential is checked
// here, on the caller's goroutine, so the loop only applies the verdict.
func (w *World) Submit(ctx context.Context, sessionID string, req protocol.Request) error {
	env := Envelope{SessionID: sessionID, Req: req}
	if a, ok := req.(protocol.AdminAuthReq); ok {
		env.verified = w.cfg.Verifier.Verify(a.Credential)
	}
	select {
	case w.inbox <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return ErrStopped
	}
}

// Disconnect removes the session once the requests it submitted earlier have
// been handled. Calling it more than once is harmless.
func (w *World) Disconnect(sessionID string) {
	select {
	case w.inbox <- Envelope{SessionID: sessionID, leave: true}:
	case <-w.done:
	}
}

// RequestSnapshot asks the world loop goroutine for a deep copy of the state.
// It is safe to call from other goroutines (e.g. admin HTTP handlers).
func (w *World) RequestSnapshot(ctx context.Context) (state.Snapshot, error) {
	if w == nil {
		return state.Snapshot{}, adminrequestspkg.ErrUnavailable
	}
	ctx, cancel := w.boundToRun(ctx)
	defer cancel()
	return adminrequestspkg.RequestState(ctx, w.stateReq)
}

// RequestReset asks the world loop goroutine to clear the given scope.
func (w *World) RequestReset(ctx context.Context, scope adminrequestspkg.Scope) error {
	if w == nil {
		return adminrequestspkg.ErrUnavailable
	}
	ctx, cancel := w.boundToRun(ctx)
	defer cancel()
	return adminrequestspkg.RequestReset(ctx, w.resetReq, scope)
}

func (w *World) boundToRun(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-w.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (w *World) auditEvent(actor, action, target, reason string) {
	if w.auditLogger == nil {
		return
	}
	err := w.auditLogger.WriteAudit(AuditEntry{
		Time:   time.Now().UTC(),
		Actor:  actor,
		Action: action,
		Target: target,
		Reason: reason,
	})
	if err != nil {
		w.log.Printf("audit %s: %v", action, err)
	}
}
