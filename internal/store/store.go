// Package store provides the embedded libSQL document store backing the
// statly reconciliation engine.
//
// The store keeps four collections: tasks, focus_records, sync_ledger and
// sync_locks. Embedded task snapshots inside focus records live in a JSON
// column, which gives the store the two document operations the engine
// needs: "does any embedded snapshot reference one of these ids" queries
// (json_each) and index-addressed partial updates of a single snapshot
// (json_set), without rewriting the whole array.
//
// The database runs in embedded mode using ncruces/go-sqlite3 with WAL
// for concurrent readers. All cross-process coordination goes through the
// sync_locks table; lock acquisition is a single guarded upsert so two
// processes can never both observe "not in progress".
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the database connection. Construct with Open, inject by
// reference into every component, and Close once at process shutdown.
// There is deliberately no package-level singleton.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new store connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist it is created; call InitSchema before
// first use. The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
	}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the store connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the store schema if it doesn't exist.
// Idempotent - safe to call multiple times.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		user_id TEXT NOT NULL,
		id TEXT NOT NULL,
		source TEXT NOT NULL,
		title TEXT NOT NULL,
		project_id TEXT,
		parent_id TEXT,
		ancestor_ids TEXT NOT NULL,  -- JSON array, self first, root last
		modified_time TEXT,
		synced_at TEXT NOT NULL,
		PRIMARY KEY (user_id, id)
	);

	CREATE TABLE IF NOT EXISTS focus_records (
		user_id TEXT NOT NULL,
		id TEXT NOT NULL,
		source TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		crosses_midnight INTEGER NOT NULL DEFAULT 0,
		tasks TEXT NOT NULL,  -- JSON array of embedded task snapshots
		synced_at TEXT NOT NULL,
		PRIMARY KEY (user_id, id)
	);

	CREATE TABLE IF NOT EXISTS sync_ledger (
		user_id TEXT NOT NULL,
		sync_type TEXT NOT NULL,
		last_sync_time TEXT NOT NULL,
		entities_updated INTEGER,
		PRIMARY KEY (user_id, sync_type)
	);

	CREATE TABLE IF NOT EXISTS sync_locks (
		user_id TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		in_progress INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		PRIMARY KEY (user_id, endpoint)
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(user_id, project_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(user_id, parent_id);
	CREATE INDEX IF NOT EXISTS idx_focus_start ON focus_records(user_id, start_time);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// UpsertCounts aggregates the outcome of a batch of upserts.
type UpsertCounts struct {
	Created  int `json:"created"`
	Modified int `json:"modified"`
	Matched  int `json:"matched"`
	Failed   int `json:"failed"`
}

// Add accumulates other into c.
func (c *UpsertCounts) Add(other UpsertCounts) {
	c.Created += other.Created
	c.Modified += other.Modified
	c.Matched += other.Matched
	c.Failed += other.Failed
}

// Total returns the number of operations the counts cover.
func (c UpsertCounts) Total() int {
	return c.Created + c.Modified + c.Matched + c.Failed
}

// Timestamps are stored as UTC RFC3339 strings so that SQL-level string
// comparison (used by the lock staleness guard) orders chronologically.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func stringToNull(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
