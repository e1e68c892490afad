// Package chatstore is the persistent entity store of the chat client:
// rooms, members, messages, reactions, edits, pending redactions and the
// per-session sync cursor, backed by SQLite.
//
// All mutation methods accumulate on an internal working transaction that
// is only made durable by Save. Readers outside the working set observe
// committed state only. The store assumes a single logical writer; a
// mutex serializes all access.
package chatstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Store provides typed access to the client's local database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu sync.Mutex
	tx *sql.Tx // open working set, nil when clean
}

// Open creates or opens the client database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY between the working set and reads.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initializeDatabase(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &Store{db: db, logger: slog.Default()}, nil
}

// SetLogger replaces the store's logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Close discards any uncommitted working set and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	return s.db.Close()
}

// initializeDatabase applies pragmas and creates the schema.
func initializeDatabase(db *sql.DB) error {
	pragmas := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA foreign_keys=ON`,
		`PRAGMA busy_timeout=5000`,
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply pragma: %w", err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			id               TEXT PRIMARY KEY,
			name             TEXT,                       -- NULL means derive from membership
			prev_batch       TEXT,                       -- NULL means no more history
			unread_count     INTEGER NOT NULL DEFAULT 0,
			last_activity_ts INTEGER NOT NULL DEFAULT 0,
			excerpt          TEXT NOT NULL DEFAULT '',
			encrypted        INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS members (
			room_id      TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			user_id      TEXT NOT NULL,
			display_name TEXT,
			avatar_url   TEXT,
			active       INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (room_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id            TEXT PRIMARY KEY,               -- protocol event id
			room_id       TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			sender        TEXT NOT NULL DEFAULT '',
			body          TEXT,
			formatted_body TEXT,
			reply_to      TEXT,
			ts            INTEGER NOT NULL DEFAULT 0,
			media_url     TEXT,
			aspect_ratio  REAL,
			is_redacted   INTEGER NOT NULL DEFAULT 0,
			pending       INTEGER NOT NULL DEFAULT 0      -- placeholder awaiting its event
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_ts ON messages(room_id, ts)`,

		`CREATE TABLE IF NOT EXISTS reactions (
			id         TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			key        TEXT NOT NULL,
			sender     TEXT NOT NULL,
			ts         INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reactions_message ON reactions(message_id)`,

		`CREATE TABLE IF NOT EXISTS edits (
			id                 TEXT PRIMARY KEY,
			message_id         TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			new_body           TEXT NOT NULL,
			new_formatted_body TEXT,
			ts                 INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edits_message ON edits(message_id)`,

		// Pending redactions only: a redaction whose target is known is
		// applied immediately and never persisted.
		`CREATE TABLE IF NOT EXISTS redactions (
			id        TEXT PRIMARY KEY,
			room_id   TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			target_id TEXT,
			sender    TEXT NOT NULL DEFAULT '',
			ts        INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS session (
			user_id     TEXT PRIMARY KEY,
			device_id   TEXT NOT NULL,
			next_batch  TEXT,                             -- NULL forces initial sync
			next_txn_id INTEGER NOT NULL DEFAULT 1
		)`,
	}
	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns the open working set when present so reads within a
// reconciliation pass see their own writes; otherwise the committed DB.
// Callers must hold s.mu.
func (s *Store) q() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// ensureTx opens the working transaction if none is open. Callers must
// hold s.mu.
func (s *Store) ensureTx(ctx context.Context) (*sql.Tx, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.tx = tx
	return tx, nil
}

// Save commits all pending mutations atomically. It is a no-op when the
// working set is clean.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit working set: %w", err)
	}
	return nil
}

// Discard rolls back all pending mutations.
func (s *Store) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return
	}
	if err := s.tx.Rollback(); err != nil {
		s.logger.Warn("Failed to roll back working set", "error", err)
	}
	s.tx = nil
}

// Dirty reports whether uncommitted mutations exist.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

// count runs a COUNT query against the current view.
func (s *Store) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.q().QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}
