// Package store persists repositories, targets and builds in SQLite
// (modernc.org/sqlite, pure Go). It is the single source of truth for job
// state: enqueue inserts a queued row, workers claim it through a
// compare-and-set transition that enforces at most one running build per
// target, and terminal writes stamp timestamps and duration.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the database. Writes are serialized with a mutex; sqlite's
// single-writer model makes finer locking pointless.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the database at path (":memory:" for tests) and
// applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// The modernc driver multiplies writers onto one connection poorly;
	// keep a single connection so the mutex above is the whole story.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	PRAGMA foreign_keys = ON;
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS repositories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL,
		docs_path TEXT NOT NULL DEFAULT 'docs',
		auth_kind TEXT NOT NULL DEFAULT 'none',
		token TEXT NOT NULL DEFAULT '',
		deploy_key TEXT NOT NULL DEFAULT '',
		verify_tls INTEGER NOT NULL DEFAULT 1,
		public INTEGER NOT NULL DEFAULT 0,
		main_target_id INTEGER,
		project_name TEXT NOT NULL DEFAULT '',
		project_version TEXT NOT NULL DEFAULT '',
		project_summary TEXT NOT NULL DEFAULT '',
		project_homepage TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS targets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		ref_kind TEXT NOT NULL,
		ref_name TEXT NOT NULL,
		auto_build INTEGER NOT NULL DEFAULT 0,
		env_manager TEXT NOT NULL DEFAULT '',
		last_built_commit TEXT NOT NULL DEFAULT '',
		latest_build_id INTEGER,
		created_at INTEGER NOT NULL,
		UNIQUE(repository_id, ref_kind, ref_name)
	);

	CREATE TABLE IF NOT EXISTS builds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repository_id INTEGER NOT NULL,
		target_id INTEGER NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		trigger_kind TEXT NOT NULL,
		ref_name TEXT NOT NULL,
		env_manager TEXT NOT NULL DEFAULT '',
		commit_sha TEXT NOT NULL DEFAULT '',
		error_kind TEXT NOT NULL DEFAULT '',
		log_path TEXT NOT NULL DEFAULT '',
		artifact_path TEXT NOT NULL DEFAULT '',
		workspace_path TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		finished_at INTEGER,
		duration_s REAL NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_builds_status ON builds(status);
	CREATE INDEX IF NOT EXISTS idx_builds_target ON builds(target_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func timePtr(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := time.Unix(0, ns.Int64)
	return &t
}
