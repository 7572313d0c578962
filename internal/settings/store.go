// ABOUTME: Store interface and data types for per-conversation durable settings
// ABOUTME: Maps conversation key to backend session id, working dir, and visibility flags

package settings

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no mapping exists for a conversation key
var ErrNotFound = errors.New("not found")

// Mapping is the durable record for one conversation. It survives process
// restarts; the backend session id is the resume token handed to the
// backend when a session is recreated.
type Mapping struct {
	Key        string
	SessionID  string
	WorkingDir string

	// Hidden lists output event kinds the user chose not to receive.
	// Stored as an open set of strings so new kinds need no migration.
	Hidden []string

	UpdatedAt time.Time
}

// IsHidden reports whether the given event kind is suppressed.
func (m *Mapping) IsHidden(kind string) bool {
	for _, h := range m.Hidden {
		if h == kind {
			return true
		}
	}
	return false
}

// Store defines durable settings persistence. Writes are synchronous: when
// a mutation returns, the change has been flushed. Implementations must
// serialize writes (single-writer discipline).
type Store interface {
	// Get returns the mapping for a key, or ErrNotFound
	Get(ctx context.Context, key string) (*Mapping, error)

	// Upsert writes the full mapping for a key
	Upsert(ctx context.Context, m *Mapping) error

	// SetSessionID records a newly issued backend session id
	SetSessionID(ctx context.Context, key, sessionID string) error

	// ClearSessionID forgets the stored session id so the next session
	// starts fresh rather than resuming
	ClearSessionID(ctx context.Context, key string) error

	// SetWorkingDir records a working directory override
	SetWorkingDir(ctx context.Context, key, dir string) error

	// SetHidden replaces the hidden event kinds for a key
	SetHidden(ctx context.Context, key string, hidden []string) error

	// Close releases any resources held by the store
	Close() error
}
