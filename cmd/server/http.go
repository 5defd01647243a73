package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cubeyard.io/internal/persistence/docstore"
	"cubeyard.io/internal/sim/world"
	adminrequestspkg "cubeyard.io/internal/sim/world/feature/admin/requests"
	"cubeyard.io/internal/sim/world/state"
	"cubeyard.io/internal/transport/ws"
)

type httpAPI struct {
	world  *world.World
	ws     *ws.Server
	async  *docstore.Async
	sqlite *docstore.SQLite
	log    *log.Logger
}

func (a *httpAPI) routes(enableAdmin bool, staticDir string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.handleMetrics)
	if enableAdmin {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", a.handleState)
		mux.HandleFunc("/admin/v1/reset", a.handleReset)
	}
	mux.HandleFunc("/v1/ws", a.ws.Handler())
	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

func (a *httpAPI) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	m := a.world.Metrics()
	st := a.ws.Stats()

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP cubeyard_world_players Players currently in the world.\n")
	fmt.Fprintf(rw, "# TYPE cubeyard_world_players gauge\n")
	fmt.Fprintf(rw, "cubeyard_world_players %d\n", m.Players)

	fmt.Fprintf(rw, "# HELP cubeyard_world_sessions Open sessions.\n")
	fmt.Fprintf(rw, "# TYPE cubeyard_world_sessions gauge\n")
	fmt.Fprintf(rw, "cubeyard_world_sessions %d\n", m.Sessions)

	fmt.Fprintf(rw, "# HELP cubeyard_world_blocks Placed blocks.\n")
	fmt.Fprintf(rw, "# TYPE cubeyard_world_blocks gauge\n")
	fmt.Fprintf(rw, "cubeyard_world_blocks %d\n", m.Blocks)

	fmt.Fprintf(rw, "# HELP cubeyard_world_messages Chat messages kept in history.\n")
	fmt.Fprintf(rw, "# TYPE cubeyard_world_messages gauge\n")
	fmt.Fprintf(rw, "cubeyard_world_messages %d\n", m.Messages)

	fmt.Fprintf(rw, "# HELP cubeyard_world_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE cubeyard_world_queue_depth gauge\n")
	fmt.Fprintf(rw, "cubeyard_world_queue_depth{queue=%q} %d\n", "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(rw, "cubeyard_world_queue_depth{queue=%q} %d\n", "join", m.QueueDepths.Join)

	fmt.Fprintf(rw, "# HELP cubeyard_world_processed_total Items handled by the world loop.\n")
	fmt.Fprintf(rw, "# TYPE cubeyard_world_processed_total counter\n")
	fmt.Fprintf(rw, "cubeyard_world_processed_total %d\n", m.Processed)

	fmt.Fprintf(rw, "# HELP cubeyard_world_rejected_total Requests dropped by validation or permission checks.\n")
	fmt.Fprintf(rw, "# TYPE cubeyard_world_rejected_total counter\n")
	fmt.Fprintf(rw, "cubeyard_world_rejected_total %d\n", m.Rejected)

	fmt.Fprintf(rw, "# HELP cubeyard_world_slow_drops_total Sessions closed because their outbound queue was full.\n")
	fmt.Fprintf(rw, "# TYPE cubeyard_world_slow_drops_total counter\n")
	fmt.Fprintf(rw, "cubeyard_world_slow_drops_total %d\n", m.SlowDrops)

	fmt.Fprintf(rw, "# HELP cubeyard_store_persist_failures_total Failed document writes.\n")
	fmt.Fprintf(rw, "# TYPE cubeyard_store_persist_failures_total counter\n")
	fmt.Fprintf(rw, "cubeyard_store_persist_failures_total %d\n", m.PersistFailures)

	fmt.Fprintf(rw, "# HELP cubeyard_ws_connections Open websocket connections.\n")
	fmt.Fprintf(rw, "# TYPE cubeyard_ws_connections gauge\n")
	fmt.Fprintf(rw, "cubeyard_ws_connections %d\n", st.Connections)

	fmt.Fprintf(rw, "# HELP cubeyard_ws_dropped_frames_total Inbound frames dropped at the transport.\n")
	fmt.Fprintf(rw, "# TYPE cubeyard_ws_dropped_frames_total counter\n")
	fmt.Fprintf(rw, "cubeyard_ws_dropped_frames_total{reason=%q} %d\n", "decode", st.DecodeRejects)
	fmt.Fprintf(rw, "cubeyard_ws_dropped_frames_total{reason=%q} %d\n", "rate", st.RateLimited)

	if a.async != nil {
		fmt.Fprintf(rw, "# HELP cubeyard_store_async_failures_total Failed write-behind flushes.\n")
		fmt.Fprintf(rw, "# TYPE cubeyard_store_async_failures_total counter\n")
		fmt.Fprintf(rw, "cubeyard_store_async_failures_total %d\n", a.async.Failures())
	}
	if a.sqlite != nil {
		fmt.Fprintf(rw, "# HELP cubeyard_audit_dropped_total Audit rows dropped because the queue was full.\n")
		fmt.Fprintf(rw, "# TYPE cubeyard_audit_dropped_total counter\n")
		fmt.Fprintf(rw, "cubeyard_audit_dropped_total %d\n", a.sqlite.DroppedAudits())
	}
}

func (a *httpAPI) handleState(rw http.ResponseWriter, r *http.Request) {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	snap, err := a.world.RequestSnapshot(ctx)
	rw.Header().Set("Content-Type", "application/json")
	if err != nil {
		rw.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
		return
	}
	resp := struct {
		OK      bool               `json:"ok"`
		State   state.Snapshot     `json:"state"`
		Metrics world.WorldMetrics `json:"metrics"`
		WS      ws.Stats           `json:"ws"`
		Time    string             `json:"time"`
	}{
		OK:      true,
		State:   snap,
		Metrics: a.world.Metrics(),
		WS:      a.ws.Stats(),
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	_ = json.NewEncoder(rw).Encode(resp)
}

func (a *httpAPI) handleReset(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	scope, err := adminrequestspkg.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := a.world.RequestReset(ctx, scope); err != nil {
		rw.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "scope": scope, "error": err.Error()})
		return
	}
	a.log.Printf("admin http reset scope=%s from %s", scope, r.RemoteAddr)
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "scope": scope})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ipLimiter is a per-client-IP token bucket in front of the whole mux.
type ipLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*ipBucket
}

type ipBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

const ipIdleTTL = 30 * time.Minute

func newIPLimiter(perMinute float64, burst int) *ipLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiter{
		limit:   rate.Limit(perMinute / 60),
		burst:   burst,
		now:     time.Now,
		clients: map[string]*ipBucket{},
	}
}

func (l *ipLimiter) allow(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.clients[host]
	if !ok {
		if len(l.clients) > 4096 {
			l.evictLocked(now)
		}
		b = &ipBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[host] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

func (l *ipLimiter) evictLocked(now time.Time) {
	for k, b := range l.clients {
		if now.Sub(b.seen) > ipIdleTTL {
			delete(l.clients, k)
		}
	}
}

func (l *ipLimiter) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !l.allow(r.RemoteAddr) {
			http.Error(rw, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(rw, r)
	})
}
