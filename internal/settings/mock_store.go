// ABOUTME: In-memory Store implementation for tests
// ABOUTME: Mirrors SQLite semantics including synchronous upsert behavior

package settings

import (
	"context"
	"sync"
	"time"
)

// MockStore is an in-memory Store for tests.
type MockStore struct {
	mu       sync.Mutex
	mappings map[string]*Mapping

	// FailWrites makes every mutation return this error when set
	FailWrites error
}

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		mappings: make(map[string]*Mapping),
	}
}

func (m *MockStore) Get(ctx context.Context, key string) (*Mapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mapping, ok := m.mappings[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *mapping
	cp.Hidden = append([]string(nil), mapping.Hidden...)
	return &cp, nil
}

func (m *MockStore) Upsert(ctx context.Context, mapping *Mapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}
	cp := *mapping
	cp.Hidden = append([]string(nil), mapping.Hidden...)
	cp.UpdatedAt = time.Now().UTC()
	m.mappings[mapping.Key] = &cp
	return nil
}

func (m *MockStore) SetSessionID(ctx context.Context, key, sessionID string) error {
	return m.mutate(key, func(mapping *Mapping) {
		mapping.SessionID = sessionID
	})
}

func (m *MockStore) ClearSessionID(ctx context.Context, key string) error {
	return m.mutate(key, func(mapping *Mapping) {
		mapping.SessionID = ""
	})
}

func (m *MockStore) SetWorkingDir(ctx context.Context, key, dir string) error {
	return m.mutate(key, func(mapping *Mapping) {
		mapping.WorkingDir = dir
	})
}

func (m *MockStore) SetHidden(ctx context.Context, key string, hidden []string) error {
	return m.mutate(key, func(mapping *Mapping) {
		mapping.Hidden = append([]string(nil), hidden...)
	})
}

func (m *MockStore) Close() error {
	return nil
}

// mutate applies fn to the mapping for key, creating it if absent.
func (m *MockStore) mutate(key string, fn func(*Mapping)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}
	mapping, ok := m.mappings[key]
	if !ok {
		mapping = &Mapping{Key: key}
		m.mappings[key] = mapping
	}
	fn(mapping)
	mapping.UpdatedAt = time.Now().UTC()
	return nil
}
