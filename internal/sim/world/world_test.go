package world

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"cubeyard.io/internal/protocol"
	adminauthpkg "cubeyard.io/internal/sim/world/feature/admin/auth"
	adminrequestspkg "cubeyard.io/internal/sim/world/feature/admin/requests"
	"cubeyard.io/internal/sim/world/state"
)

const testAdminKey = "letmein"

type recordingAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (r *recordingAudit) WriteAudit(e AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestWorld(t *testing.T, cfg Config) *World {
	t.Helper()
	store, err := state.Open(nil, state.Config{}, quietLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if cfg.Verifier == nil {
		v, err := adminauthpkg.NewVerifier(testAdminKey, bcrypt.MinCost)
		if err != nil {
			t.Fatalf("verifier: %v", err)
		}
		cfg.Verifier = v
	}
	n := 0
	cfg.NewSessionID = func() string {
		n++
		return fmt.Sprintf("S%d", n)
	}
	w, err := New(cfg, store, quietLogger())
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-w.Done()
	})
	return w
}

type testClient struct {
	id  string
	out chan []byte
	w   *World
}

func connect(t *testing.T, w *World, queue int) *testClient {
	t.Helper()
	out := make(chan []byte, queue)
	id, err := w.Connect(context.Background(), out)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return &testClient{id: id, out: out, w: w}
}

func (c *testClient) submit(t *testing.T, req protocol.Request) {
	t.Helper()
	if err := c.w.Submit(context.Background(), c.id, req); err != nil {
		t.Fatalf("submit %s: %v", req.RequestType(), err)
	}
}

func (c *testClient) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case b, ok := <-c.out:
		if !ok {
			t.Fatalf("%s: outbound queue closed", c.id)
		}
		env, err := protocol.DecodeBase(b)
		if err != nil {
			t.Fatalf("%s: decode frame: %v", c.id, err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: timed out waiting for frame", c.id)
	}
	return protocol.Envelope{}
}

func (c *testClient) expect(t *testing.T, typ string, dst any) {
	t.Helper()
	env := c.next(t)
	if env.Type != typ {
		t.Fatalf("%s: expected %s, got %s (%s)", c.id, typ, env.Type, env.Data)
	}
	if dst != nil {
		if err := json.Unmarshal(env.Data, dst); err != nil {
			t.Fatalf("%s: decode %s: %v", c.id, typ, err)
		}
	}
}

// quiet asserts nothing is pending. Call after settle.
func (c *testClient) quiet(t *testing.T) {
	t.Helper()
	select {
	case b, ok := <-c.out:
		if ok {
			t.Fatalf("%s: unexpected frame %s", c.id, b)
		}
	default:
	}
}

// settle waits until the loop has handled everything queued so far.
func settle(t *testing.T, w *World) state.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := w.RequestSnapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func TestJoin_InitThenPlayerJoined(t *testing.T) {
	w := newTestWorld(t, Config{})
	a := connect(t, w, 16)

	var init struct {
		ID       string                  `json:"id"`
		Players  map[string]state.Player `json:"players"`
		Blocks   []json.RawMessage       `json:"blocks"`
		Messages []json.RawMessage       `json:"messages"`
	}
	a.expect(t, protocol.TypeInit, &init)
	if init.ID != a.id || len(init.Players) != 1 || len(init.Blocks) != 0 || len(init.Messages) != 0 {
		t.Fatalf("unexpected init for empty world: %+v", init)
	}

	b := connect(t, w, 16)
	b.expect(t, protocol.TypeInit, &init)
	if len(init.Players) != 2 {
		t.Fatalf("second session should see both players, got %d", len(init.Players))
	}
	var joined state.Player
	a.expect(t, protocol.TypePlayerJoined, &joined)
	if joined.ID != b.id || joined.Username != state.DefaultUsername {
		t.Fatalf("unexpected playerJoined: %+v", joined)
	}
	settle(t, w)
	b.quiet(t)
}

func TestMovement_WithinAndBeyondBound(t *testing.T) {
	w := newTestWorld(t, Config{})
	a := connect(t, w, 16)
	a.expect(t, protocol.TypeInit, nil)
	b := connect(t, w, 16)
	b.expect(t, protocol.TypeInit, nil)
	a.expect(t, protocol.TypePlayerJoined, nil)

	a.submit(t, protocol.UpdateReq{X: 1, Y: 1, Z: 0})
	var moved struct {
		ID string  `json:"id"`
		X  float64 `json:"x"`
		Y  float64 `json:"y"`
		Z  float64 `json:"z"`
	}
	b.expect(t, protocol.TypePlayerMoved, &moved)
	if moved.ID != a.id || moved.X != 1 || moved.Y != 1 || moved.Z != 0 {
		t.Fatalf("unexpected playerMoved: %+v", moved)
	}

	a.submit(t, protocol.UpdateReq{X: 10, Y: 1, Z: 0})
	snap := settle(t, w)
	b.quiet(t)
	a.quiet(t)
	if p := snap.Players[a.id]; p.X != 1 || p.Y != 1 || p.Z != 0 {
		t.Fatalf("rejected move changed position: %+v", p)
	}
	if m := w.Metrics(); m.Rejected != 1 {
		t.Fatalf("expected 1 rejection, got %d", m.Rejected)
	}
}

func TestAdminGate_ThenAuthThenReset(t *testing.T) {
	audit := &recordingAudit{}
	w := newTestWorld(t, Config{})
	w.SetAuditLogger(audit)
	a := connect(t, w, 32)
	a.expect(t, protocol.TypeInit, nil)
	b := connect(t, w, 32)
	b.expect(t, protocol.TypeInit, nil)
	a.expect(t, protocol.TypePlayerJoined, nil)

	a.submit(t, protocol.PlaceBlockReq{Payload: map[string]json.RawMessage{"x": json.RawMessage(`1`)}})
	a.expect(t, protocol.TypeBlockPlaced, nil)
	b.expect(t, protocol.TypeBlockPlaced, nil)
	a.submit(t, protocol.SendMessageReq{Text: "hello"})
	a.expect(t, protocol.TypeReceiveMessage, nil)
	b.expect(t, protocol.TypeReceiveMessage, nil)

	for _, req := range []protocol.Request{
		protocol.ResetWorldReq{},
		protocol.ResetChatReq{},
		protocol.ResetPlayersReq{},
		protocol.AdminMessageReq{Text: "nope"},
		protocol.AdminMoveReq{Target: b.id, Direction: "up"},
	} {
		a.submit(t, req)
	}
	snap := settle(t, w)
	a.quiet(t)
	b.quiet(t)
	if len(snap.Blocks) != 1 || len(snap.Messages) != 1 {
		t.Fatalf("gated ops mutated state: blocks=%d msgs=%d", len(snap.Blocks), len(snap.Messages))
	}

	a.submit(t, protocol.AdminAuthReq{Credential: testAdminKey})
	a.expect(t, protocol.TypeAdminAuthSuccess, nil)
	var promoted state.Player
	a.expect(t, protocol.TypePlayerJoined, &promoted)
	if promoted.ID != a.id || !promoted.IsAdmin || promoted.Username != state.AdminUsername {
		t.Fatalf("unexpected promoted player: %+v", promoted)
	}
	b.expect(t, protocol.TypePlayerJoined, nil)

	a.submit(t, protocol.ResetWorldReq{})
	a.expect(t, protocol.TypeWorldReset, nil)
	b.expect(t, protocol.TypeWorldReset, nil)
	snap = settle(t, w)
	if len(snap.Blocks) != 0 || len(snap.Messages) != 0 {
		t.Fatalf("reset left state behind: %+v", snap)
	}

	got := audit.actions()
	want := []string{"ADMIN_AUTH", "RESET_WORLD"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("audit mismatch: %v", got)
	}
}

func TestAdminAuth_FailAndReauth(t *testing.T) {
	w := newTestWorld(t, Config{})
	a := connect(t, w, 16)
	a.expect(t, protocol.TypeInit, nil)
	b := connect(t, w, 16)
	b.expect(t, protocol.TypeInit, nil)
	a.expect(t, protocol.TypePlayerJoined, nil)

	a.submit(t, protocol.AdminAuthReq{Credential: "wrong"})
	a.expect(t, protocol.TypeAdminAuthFail, nil)
	settle(t, w)
	b.quiet(t)

	a.submit(t, protocol.AdminAuthReq{Credential: testAdminKey})
	a.expect(t, protocol.TypeAdminAuthSuccess, nil)
	a.expect(t, protocol.TypePlayerJoined, nil)
	b.expect(t, protocol.TypePlayerJoined, nil)

	// Already admin: acknowledged, nothing re-broadcast.
	a.submit(t, protocol.AdminAuthReq{Credential: testAdminKey})
	a.expect(t, protocol.TypeAdminAuthSuccess, nil)
	settle(t, w)
	a.quiet(t)
	b.quiet(t)

	// A wrong credential never demotes.
	a.submit(t, protocol.AdminAuthReq{Credential: "wrong"})
	a.expect(t, protocol.TypeAdminAuthFail, nil)
	a.submit(t, protocol.ResetChatReq{})
	a.expect(t, protocol.TypeChatReset, nil)
	b.expect(t, protocol.TypeChatReset, nil)
}

func TestChatRenameColourAnimation(t *testing.T) {
	w := newTestWorld(t, Config{})
	a := connect(t, w, 32)
	a.expect(t, protocol.TypeInit, nil)
	b := connect(t, w, 32)
	b.expect(t, protocol.TypeInit, nil)
	a.expect(t, protocol.TypePlayerJoined, nil)

	a.submit(t, protocol.UpdateUsernameReq{Username: "  alice  "})
	var renamed struct {
		ID       string `json:"id"`
		OldName  string `json:"oldName"`
		Username string `json:"username"`
	}
	a.expect(t, protocol.TypePlayerRenamed, &renamed)
	b.expect(t, protocol.TypePlayerRenamed, nil)
	if renamed.OldName != state.DefaultUsername || renamed.Username != "alice" {
		t.Fatalf("unexpected rename: %+v", renamed)
	}

	a.submit(t, protocol.SendMessageReq{Text: "hi"})
	var msg state.Message
	b.expect(t, protocol.TypeReceiveMessage, &msg)
	a.expect(t, protocol.TypeReceiveMessage, nil)
	if msg.Username != "alice" || msg.SenderID != a.id || msg.Text != "hi" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	a.submit(t, protocol.UpdateColorReq{Part: "torsoColor", Color: 0xABCDEF})
	var colour struct {
		ID    string `json:"id"`
		Part  string `json:"part"`
		Color int64  `json:"color"`
	}
	b.expect(t, protocol.TypePlayerColorChanged, &colour)
	if colour.Part != "torsoColor" || colour.Color != 0xABCDEF {
		t.Fatalf("unexpected colour change: %+v", colour)
	}

	walking := true
	a.submit(t, protocol.UpdateAnimationReq{Animation: "run", Walking: &walking})
	var anim struct {
		Animation string  `json:"animation"`
		Walking   bool    `json:"walking"`
		VelocityY float64 `json:"velocityY"`
	}
	b.expect(t, protocol.TypePlayerAnimated, &anim)
	if anim.Animation != "run" || !anim.Walking {
		t.Fatalf("unexpected animation: %+v", anim)
	}

	// Invalid input: no broadcast anywhere.
	a.submit(t, protocol.UpdateColorReq{Part: "hatColor", Color: 1})
	a.submit(t, protocol.SendMessageReq{Text: "   "})
	a.submit(t, protocol.UpdateUsernameReq{Username: ""})
	settle(t, w)
	a.quiet(t)
	b.quiet(t)
}

func TestDisconnect_ExactlyOnePlayerLeft(t *testing.T) {
	w := newTestWorld(t, Config{})
	a := connect(t, w, 16)
	a.expect(t, protocol.TypeInit, nil)
	b := connect(t, w, 16)
	b.expect(t, protocol.TypeInit, nil)
	a.expect(t, protocol.TypePlayerJoined, nil)

	w.Disconnect(b.id)
	w.Disconnect(b.id)
	snap := settle(t, w)

	var left string
	a.expect(t, protocol.TypePlayerLeft, &left)
	if left != b.id {
		t.Fatalf("unexpected playerLeft id: %s", left)
	}
	a.quiet(t)
	if _, ok := snap.Players[b.id]; ok {
		t.Fatalf("departed player still present")
	}
	if _, ok := <-b.out; ok {
		t.Fatalf("expected departed session queue closed")
	}

	// Requests from a departed session are no-ops.
	_ = w.Submit(context.Background(), b.id, protocol.SendMessageReq{Text: "ghost"})
	if snap := settle(t, w); len(snap.Messages) != 0 {
		t.Fatalf("departed session wrote a message")
	}
}

func TestDisconnect_AppliesRequestsQueuedBeforeIt(t *testing.T) {
	const n = 50
	for round := 0; round < 10; round++ {
		w := newTestWorld(t, Config{})
		a := connect(t, w, 2*n+8)
		a.expect(t, protocol.TypeInit, nil)
		obs := connect(t, w, 2*n+8)
		obs.expect(t, protocol.TypeInit, nil)
		a.expect(t, protocol.TypePlayerJoined, nil)

		for i := 0; i < n; i++ {
			a.submit(t, protocol.SendMessageReq{Text: fmt.Sprintf("m%d", i)})
		}
		a.submit(t, protocol.PlaceBlockReq{Payload: map[string]json.RawMessage{"x": json.RawMessage(`1`)}})
		w.Disconnect(a.id)

		snap := settle(t, w)
		if len(snap.Messages) != n || len(snap.Blocks) != 1 {
			t.Fatalf("round %d: applied %d/%d messages and %d/1 blocks before the disconnect", round, len(snap.Messages), n, len(snap.Blocks))
		}
		for i := 0; i < n; i++ {
			var m state.Message
			obs.expect(t, protocol.TypeReceiveMessage, &m)
			if m.Text != fmt.Sprintf("m%d", i) {
				t.Fatalf("round %d: message %d out of order: %q", round, i, m.Text)
			}
		}
		obs.expect(t, protocol.TypeBlockPlaced, nil)
		obs.expect(t, protocol.TypePlayerLeft, nil)
		obs.quiet(t)
	}
}

func TestSlowConsumerIsCutOff(t *testing.T) {
	w := newTestWorld(t, Config{})
	slow := connect(t, w, 1) // init fills the queue
	fast := connect(t, w, 16)
	fast.expect(t, protocol.TypeInit, nil)
	settle(t, w)

	slow.expect(t, protocol.TypeInit, nil)
	if _, ok := <-slow.out; ok {
		t.Fatalf("expected slow session queue closed")
	}
	if m := w.Metrics(); m.SlowDrops != 1 {
		t.Fatalf("expected one slow drop, got %d", m.SlowDrops)
	}

	// The regular disconnect path still announces the departure.
	w.Disconnect(slow.id)
	settle(t, w)
	fast.expect(t, protocol.TypePlayerLeft, nil)
}

func TestRemoveBlockAndAdminCommands(t *testing.T) {
	w := newTestWorld(t, Config{AdminMoveStep: 2})
	a := connect(t, w, 64)
	a.expect(t, protocol.TypeInit, nil)
	b := connect(t, w, 64)
	b.expect(t, protocol.TypeInit, nil)
	a.expect(t, protocol.TypePlayerJoined, nil)

	b.submit(t, protocol.PlaceBlockReq{Payload: map[string]json.RawMessage{"y": json.RawMessage(`2`)}})
	var block struct {
		ID       string `json:"id"`
		PlayerID string `json:"playerId"`
	}
	a.expect(t, protocol.TypeBlockPlaced, &block)
	b.expect(t, protocol.TypeBlockPlaced, nil)
	if block.ID == "" || block.PlayerID != b.id {
		t.Fatalf("unexpected block: %+v", block)
	}

	a.submit(t, protocol.AdminAuthReq{Credential: testAdminKey})
	a.expect(t, protocol.TypeAdminAuthSuccess, nil)
	a.expect(t, protocol.TypePlayerJoined, nil)
	b.expect(t, protocol.TypePlayerJoined, nil)

	a.submit(t, protocol.RemoveBlockReq{ID: "missing"})
	settle(t, w)
	a.quiet(t)
	b.quiet(t)

	a.submit(t, protocol.RemoveBlockReq{ID: block.ID})
	var removed string
	b.expect(t, protocol.TypeBlockRemoved, &removed)
	a.expect(t, protocol.TypeBlockRemoved, nil)
	if removed != block.ID {
		t.Fatalf("unexpected removed id: %s", removed)
	}

	a.submit(t, protocol.AdminMoveReq{Target: b.id, Direction: "north"})
	var moved struct {
		ID string  `json:"id"`
		X  float64 `json:"x"`
		Y  float64 `json:"y"`
		Z  float64 `json:"z"`
	}
	b.expect(t, protocol.TypePlayerMoved, &moved)
	a.expect(t, protocol.TypePlayerMoved, nil)
	if moved.ID != b.id || moved.Z != -2 || moved.Y != 1 {
		t.Fatalf("unexpected admin move: %+v", moved)
	}

	a.submit(t, protocol.AdminMessageReq{Text: "restart soon"})
	var msg state.Message
	b.expect(t, protocol.TypeReceiveMessage, &msg)
	a.expect(t, protocol.TypeReceiveMessage, nil)
	if msg.Username != state.SystemUsername || msg.SenderID != "" {
		t.Fatalf("unexpected system message: %+v", msg)
	}

	a.submit(t, protocol.ResetPlayersReq{})
	var players map[string]state.Player
	b.expect(t, protocol.TypePlayersReset, &players)
	a.expect(t, protocol.TypePlayersReset, nil)
	if p := players[b.id]; p.Z != state.Spawn.Z || p.Y != state.Spawn.Y {
		t.Fatalf("player not back at spawn: %+v", p)
	}
	if !players[a.id].IsAdmin {
		t.Fatalf("admin flag lost on players reset")
	}
}

func TestRejectNotices(t *testing.T) {
	w := newTestWorld(t, Config{RejectNotices: true})
	a := connect(t, w, 16)
	a.expect(t, protocol.TypeInit, nil)

	a.submit(t, protocol.UpdateReq{X: 50, Y: 1, Z: 0})
	var rej protocol.RejectedMsg
	a.expect(t, protocol.TypeRequestRejected, &rej)
	if rej.Type != protocol.TypeUpdate || rej.Code != protocol.ErrTooFar {
		t.Fatalf("unexpected rejection: %+v", rej)
	}

	a.submit(t, protocol.ResetWorldReq{})
	a.expect(t, protocol.TypeRequestRejected, &rej)
	if rej.Code != protocol.ErrNoPermission {
		t.Fatalf("expected permission rejection, got %+v", rej)
	}
}

func TestRequestReset_FromLocalAdmin(t *testing.T) {
	w := newTestWorld(t, Config{})
	a := connect(t, w, 16)
	a.expect(t, protocol.TypeInit, nil)
	a.submit(t, protocol.SendMessageReq{Text: "hello"})
	a.expect(t, protocol.TypeReceiveMessage, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.RequestReset(ctx, adminrequestspkg.ScopeChat); err != nil {
		t.Fatalf("reset: %v", err)
	}
	a.expect(t, protocol.TypeChatReset, nil)
	if snap := settle(t, w); len(snap.Messages) != 0 {
		t.Fatalf("chat not cleared")
	}
	if err := w.RequestReset(ctx, "bogus"); err == nil {
		t.Fatalf("expected error for unknown scope")
	}
}

func TestStop_ClosesSessionsAndRejectsCalls(t *testing.T) {
	w := newTestWorld(t, Config{})
	a := connect(t, w, 16)
	a.expect(t, protocol.TypeInit, nil)

	w.Stop()
	<-w.Done()
	if _, ok := <-a.out; ok {
		t.Fatalf("expected session queue closed on stop")
	}
	if _, err := w.Connect(context.Background(), make(chan []byte, 1)); err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	w.Disconnect(a.id) // must not block
}
