// ABOUTME: SQLite implementation of the settings Store using modernc.org/sqlite
// ABOUTME: Provides conversation mapping persistence with automatic schema creation

package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "settings")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Serialize access through one connection; mutations must never
	// interleave partial writes
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("settings store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// The hidden column holds a JSON array of event kind strings so that new
// preference flags are additive and need no schema migration.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			key         TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL DEFAULT '',
			working_dir TEXT NOT NULL DEFAULT '',
			hidden      TEXT NOT NULL DEFAULT '[]',
			updated_at  DATETIME NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Get returns the mapping for a key, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Mapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, session_id, working_dir, hidden, updated_at
		 FROM conversations WHERE key = ?`, key)

	var m Mapping
	var hiddenJSON string
	err := row.Scan(&m.Key, &m.SessionID, &m.WorkingDir, &hiddenJSON, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying mapping: %w", err)
	}

	if err := json.Unmarshal([]byte(hiddenJSON), &m.Hidden); err != nil {
		// A corrupt hidden column should not make the conversation
		// unusable; log and fall back to showing everything
		s.logger.Warn("invalid hidden kinds, resetting", "key", key, "error", err)
		m.Hidden = nil
	}

	return &m, nil
}

// Upsert writes the full mapping for a key.
func (s *SQLiteStore) Upsert(ctx context.Context, m *Mapping) error {
	hiddenJSON, err := json.Marshal(hiddenOrEmpty(m.Hidden))
	if err != nil {
		return fmt.Errorf("encoding hidden kinds: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (key, session_id, working_dir, hidden, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			session_id = excluded.session_id,
			working_dir = excluded.working_dir,
			hidden = excluded.hidden,
			updated_at = excluded.updated_at`,
		m.Key, m.SessionID, m.WorkingDir, string(hiddenJSON), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upserting mapping: %w", err)
	}
	return nil
}

// SetSessionID records a newly issued backend session id.
func (s *SQLiteStore) SetSessionID(ctx context.Context, key, sessionID string) error {
	return s.setColumn(ctx, key, "session_id", sessionID)
}

// ClearSessionID forgets the stored session id for a key.
func (s *SQLiteStore) ClearSessionID(ctx context.Context, key string) error {
	return s.setColumn(ctx, key, "session_id", "")
}

// SetWorkingDir records a working directory override.
func (s *SQLiteStore) SetWorkingDir(ctx context.Context, key, dir string) error {
	return s.setColumn(ctx, key, "working_dir", dir)
}

// SetHidden replaces the hidden event kinds for a key.
func (s *SQLiteStore) SetHidden(ctx context.Context, key string, hidden []string) error {
	hiddenJSON, err := json.Marshal(hiddenOrEmpty(hidden))
	if err != nil {
		return fmt.Errorf("encoding hidden kinds: %w", err)
	}
	return s.setColumn(ctx, key, "hidden", string(hiddenJSON))
}

// setColumn updates one column for a key, creating the row if absent.
func (s *SQLiteStore) setColumn(ctx context.Context, key, column, value string) error {
	// Column names come from the fixed call sites above, never user input
	query := fmt.Sprintf(
		`INSERT INTO conversations (key, %s, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET %s = excluded.%s, updated_at = excluded.updated_at`,
		column, column, column)

	_, err := s.db.ExecContext(ctx, query, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("updating %s: %w", column, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// hiddenOrEmpty normalizes nil to an empty slice so the column always
// holds a JSON array.
func hiddenOrEmpty(hidden []string) []string {
	if hidden == nil {
		return []string{}
	}
	return hidden
}
