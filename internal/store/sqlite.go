// ABOUTME: SQLite store setup using modernc.org/sqlite
// ABOUTME: Opens the shared database with WAL mode and creates the schema

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is how timestamps are persisted. Comparisons happen in Go
// after parsing, never lexicographically in SQL.
const timeFormat = time.RFC3339Nano

// SQLiteStore is the shared relational store for looma-sync processes
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the SQLite database at the given path.
// The schema is created if it doesn't exist and parent directories are
// created as needed. Write transactions begin IMMEDIATE so concurrent
// writers conflict at BEGIN, which RunInTx retries.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// _txlock=immediate surfaces write conflicts at BEGIN; busy_timeout
	// lets brief same-process contention block instead of failing.
	db, err := sql.Open("sqlite", path+"?_txlock=immediate&_pragma=busy_timeout(2000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS locks (
			key          TEXT PRIMARY KEY,
			holder_token TEXT NOT NULL,
			expires_at   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS repeat_keys (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			expires_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS user_updates (
			user_id    TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			type       TEXT NOT NULL,
			payload    TEXT NOT NULL,
			created_at TEXT NOT NULL,

			PRIMARY KEY (user_id, seq),
			CHECK (seq >= 1),
			CHECK (type IN ('session-created', 'session-updated', 'session-audio-updated', 'session-transcribed'))
		);

		CREATE TABLE IF NOT EXISTS tracking_sessions (
			id                TEXT PRIMARY KEY,
			owner_id          TEXT NOT NULL,
			state             TEXT NOT NULL,
			audio_format      TEXT NOT NULL DEFAULT '',
			audio_ref         TEXT,
			audio_duration_ms INTEGER NOT NULL DEFAULT 0,
			audio_size        INTEGER NOT NULL DEFAULT 0,
			transcription     TEXT,
			created_at        TEXT NOT NULL,
			last_activity_at  TEXT NOT NULL,

			CHECK (state IN ('starting', 'in_progress', 'processing', 'finished', 'canceled'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_owner
			ON tracking_sessions(owner_id);

		CREATE INDEX IF NOT EXISTS idx_sessions_state_activity
			ON tracking_sessions(state, last_activity_at);

		CREATE TABLE IF NOT EXISTS audio_chunks (
			session_id TEXT NOT NULL,
			idx        INTEGER NOT NULL,
			format     TEXT NOT NULL,
			data       BLOB NOT NULL,
			created_at TEXT NOT NULL,

			PRIMARY KEY (session_id, idx),
			FOREIGN KEY (session_id) REFERENCES tracking_sessions(id)
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// parseTime parses a persisted timestamp
func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeFormat, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", v, err)
	}
	return t, nil
}
