package docstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"cubeyard.io/internal/sim/world"
)

// SQLite keeps documents in one table and, as a side channel, admin audit
// entries in another. Document writes are synchronous; audit writes go
// through a buffered writer goroutine.
type SQLite struct {
	db *sql.DB

	// auditMu orders sends on audits against the close in Close.
	auditMu sync.RWMutex
	audits  chan world.AuditEntry
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool

	droppedAudits atomic.Uint64
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLite{
		db:     db,
		audits: make(chan world.AuditEntry, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.auditLoop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			key TEXT PRIMARY KEY,
			body BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audits (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			target TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS audits_action ON audits(action);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Get(key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	var body []byte
	err := s.db.QueryRow(`SELECT body FROM documents WHERE key=?`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return body, true, nil
}

func (s *SQLite) Put(key string, body []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.db.Exec(
		`INSERT INTO documents(key,body,updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET body=excluded.body, updated_at=excluded.updated_at`,
		key, body, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// WriteAudit never blocks the caller; entries are dropped when the writer
// falls behind.
func (s *SQLite) WriteAudit(entry world.AuditEntry) error {
	if s == nil {
		return nil
	}
	s.auditMu.RLock()
	defer s.auditMu.RUnlock()
	if s.closed.Load() {
		return nil
	}
	select {
	case s.audits <- entry:
	default:
		s.droppedAudits.Add(1)
	}
	return nil
}

func (s *SQLite) DroppedAudits() uint64 { return s.droppedAudits.Load() }

func (s *SQLite) Close() error {
	var err error
	s.once.Do(func() {
		s.auditMu.Lock()
		s.closed.Store(true)
		close(s.audits)
		s.auditMu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLite) auditLoop() {
	insert, err := s.db.Prepare(`INSERT INTO audits(at,actor,action,target,reason,raw_json) VALUES(?,?,?,?,?,?)`)
	if err != nil {
		for range s.audits {
			s.droppedAudits.Add(1)
		}
		return
	}
	defer insert.Close()

	for a := range s.audits {
		raw, _ := json.Marshal(a)
		if _, err := insert.Exec(
			a.Time.UTC().Format(time.RFC3339Nano),
			a.Actor,
			a.Action,
			a.Target,
			a.Reason,
			string(raw),
		); err != nil {
			s.droppedAudits.Add(1)
		}
	}
}
