package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cubeyard.io/internal/persistence/docstore"
	persistlog "cubeyard.io/internal/persistence/log"
	"cubeyard.io/internal/platform/config"
	"cubeyard.io/internal/sim/tuning"
	"cubeyard.io/internal/sim/world"
	adminauthpkg "cubeyard.io/internal/sim/world/feature/admin/auth"
	"cubeyard.io/internal/sim/world/state"
	"cubeyard.io/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (missing file uses defaults)")
		staticDir  = flag.String("static", "", "serve client assets from this directory (optional)")
		envFile    = flag.String("env", ".env", "dotenv file to load before reading the environment")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	if err := config.LoadDotEnv(*envFile); err != nil {
		logger.Fatalf("env: %v", err)
	}
	var cfg config.Server
	if err := config.ParseEnv(&cfg); err != nil {
		logger.Fatalf("env: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("env: %v", err)
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	_ = os.MkdirAll(*dataDir, 0o755)

	backend, sqliteDB, err := openBackend(cfg, *dataDir)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	var async *docstore.Async
	if cfg.StoreAsync {
		async = docstore.NewAsync(backend, log.New(os.Stdout, "[store] ", log.LstdFlags|log.Lmicroseconds))
		backend = async
	}
	defer backend.Close()

	store, err := state.Open(docstore.NewGateway(backend), state.Config{
		MessageCapacity: tune.MessageCapacity,
	}, log.New(os.Stdout, "[store] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("load world: %v", err)
	}
	c := store.Counts()
	logger.Printf("store=%s blocks=%d messages=%d", cfg.StoreBackend, c.Blocks, c.Messages)

	verifier, err := buildVerifier(cfg)
	if err != nil {
		logger.Fatalf("admin key: %v", err)
	}
	if !verifier.Enabled() {
		logger.Printf("no admin key configured (CY_ADMIN_KEY / CY_ADMIN_KEY_BCRYPT); adminAuth will always fail")
	}

	w, err := world.New(world.Config{
		Limits:        tune.Limits(),
		AdminMoveStep: tune.AdminMoveStep,
		RejectNotices: tune.RejectNotices,
		Verifier:      verifier,
	}, store, log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	auditLog := persistlog.NewAuditLogger(*dataDir)
	defer auditLog.Close()
	audit := persistlog.Tee{auditLog}
	if sqliteDB != nil {
		audit = append(audit, sqliteDB)
	}
	w.SetAuditLogger(audit)

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	wsSrv := ws.NewServer(w, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds), ws.Options{
		OutQueue:   tune.OutQueue,
		RatePerSec: tune.InboundRatePerSec,
		Burst:      tune.InboundBurst,
	})

	api := &httpAPI{
		world:  w,
		ws:     wsSrv,
		async:  async,
		sqlite: sqliteDB,
		log:    logger,
	}
	mux := api.routes(cfg.EnableAdminHTTP, *staticDir)
	if !cfg.EnableAdminHTTP {
		logger.Printf("admin endpoints disabled (CY_ENABLE_ADMIN_HTTP=false)")
	}

	var handler http.Handler = mux
	if cfg.HTTPRatePerMin > 0 {
		handler = newIPLimiter(cfg.HTTPRatePerMin, cfg.HTTPRateBurst).wrap(mux)
	}

	listen := listenAddr(*addr, cfg.Port)
	srv := &http.Server{
		Addr:              listen,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	cancel()
	<-w.Done()
}

// openBackend returns the configured document backend. The SQLite handle is
// also returned so it can receive audit rows.
func openBackend(cfg config.Server, dataDir string) (docstore.Backend, *docstore.SQLite, error) {
	switch cfg.StoreBackend {
	case "file":
		f, err := docstore.OpenFiles(filepath.Join(dataDir, "docs"), cfg.StoreCompress)
		return f, nil, err
	case "memory":
		return docstore.NewMemory(), nil, nil
	default:
		db, err := docstore.OpenSQLite(filepath.Join(dataDir, "world.db"))
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	}
}

// buildVerifier prefers a pre-hashed key. With neither key set the verifier
// is nil and rejects every credential.
func buildVerifier(cfg config.Server) (*adminauthpkg.Verifier, error) {
	if h := strings.TrimSpace(cfg.AdminKeyBcrypt); h != "" {
		return adminauthpkg.NewVerifierFromHash(h)
	}
	if cfg.AdminKey != "" {
		return adminauthpkg.NewVerifier(cfg.AdminKey, 0)
	}
	return nil, nil
}

func listenAddr(addr, port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return addr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = ""
	}
	return net.JoinHostPort(host, port)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
