// ABOUTME: Registry maps conversation keys to live session records
// ABOUTME: Table mutex plus per-key creation locks; one backend open per key

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/agent-relay/internal/backend"
	"github.com/2389/agent-relay/internal/conversation"
	"github.com/2389/agent-relay/internal/settings"
)

// Config holds registry tunables.
type Config struct {
	// QueueLimit bounds each record's pending message queue
	QueueLimit int

	// DefaultWorkingDir is used when a conversation has no stored
	// working directory
	DefaultWorkingDir string
}

// Registry is the process-wide table of live sessions.
type Registry struct {
	cfg      Config
	opener   backend.Opener
	settings settings.Store
	logger   *slog.Logger

	mu       sync.Mutex
	records  map[string]*Record
	creating map[string]*creation

	sweeping atomic.Bool
}

// creation tracks one in-flight backend open so concurrent callers for the
// same key wait on it and a /stop can cancel it.
type creation struct {
	keyMu  sync.Mutex
	cancel context.CancelFunc
	refs   int
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, opener backend.Opener, store settings.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:      cfg,
		opener:   opener,
		settings: store,
		logger:   logger.With("component", "registry"),
		records:  make(map[string]*Record),
		creating: make(map[string]*creation),
	}
}

// Get returns the live record for key, if any.
func (r *Registry) Get(key conversation.Key) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key.String()]
	return rec, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Snapshot returns the current records, for status reporting.
func (r *Registry) Snapshot() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}

// GetOrCreate returns the live record for key, opening a backend session if
// none exists. Concurrent callers for the same key share one open; callers
// for different keys never block each other. A stored session id is offered
// as a resume token; if the backend rejects it the stale id is cleared and
// the open retried fresh. A failed open never inserts a record.
func (r *Registry) GetOrCreate(ctx context.Context, key conversation.Key) (*Record, error) {
	ks := key.String()

	// Fast path
	r.mu.Lock()
	if rec, ok := r.records[ks]; ok {
		r.mu.Unlock()
		return rec, nil
	}
	cr, ok := r.creating[ks]
	if !ok {
		cr = &creation{}
		r.creating[ks] = cr
	}
	cr.refs++
	r.mu.Unlock()

	cr.keyMu.Lock()
	defer func() {
		cr.keyMu.Unlock()
		r.mu.Lock()
		cr.refs--
		if cr.refs == 0 {
			delete(r.creating, ks)
		}
		r.mu.Unlock()
	}()

	// Double check: a racing caller may have finished the open while we
	// waited on the creation lock
	r.mu.Lock()
	if rec, ok := r.records[ks]; ok {
		r.mu.Unlock()
		return rec, nil
	}
	r.mu.Unlock()

	openCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	cr.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		cr.cancel = nil
		r.mu.Unlock()
	}()

	conn, err := r.open(openCtx, key)
	if err != nil {
		return nil, err
	}

	rec := newRecord(key, conn, r.cfg.QueueLimit)

	r.mu.Lock()
	r.records[ks] = rec
	total := len(r.records)
	r.mu.Unlock()

	r.logger.Info("session created",
		"key", ks,
		"record_id", rec.ID,
		"active_sessions", total,
	)
	return rec, nil
}

// open performs one backend open for key, resuming from the stored mapping
// when possible.
func (r *Registry) open(ctx context.Context, key conversation.Key) (backend.Conn, error) {
	req := backend.OpenRequest{WorkingDir: r.cfg.DefaultWorkingDir}

	mapping, err := r.settings.Get(ctx, key.String())
	switch {
	case err == nil:
		req.ResumeToken = mapping.SessionID
		if mapping.WorkingDir != "" {
			req.WorkingDir = mapping.WorkingDir
		}
	case errors.Is(err, settings.ErrNotFound):
		// First contact for this conversation
	default:
		return nil, fmt.Errorf("loading conversation settings: %w", err)
	}

	conn, err := r.opener.Open(ctx, req)
	if err == nil {
		return conn, nil
	}
	if req.ResumeToken == "" || !errors.Is(err, backend.ErrResumeRejected) {
		return nil, err
	}

	// The stored id points at a conversation the backend no longer
	// knows. Clear it and start over rather than wedging the key.
	r.logger.Warn("resume token rejected, starting fresh",
		"key", key.String(),
		"error", err,
	)
	if cerr := r.settings.ClearSessionID(ctx, key.String()); cerr != nil {
		r.logger.Error("clearing stale session id", "key", key.String(), "error", cerr)
	}

	req.ResumeToken = ""
	return r.opener.Open(ctx, req)
}

// CancelCreation aborts an in-flight open for key, if one exists. Used when
// the user stops a session that is still being created.
func (r *Registry) CancelCreation(key conversation.Key) bool {
	r.mu.Lock()
	cr, ok := r.creating[key.String()]
	var cancel context.CancelFunc
	if ok {
		cancel = cr.cancel
	}
	r.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Destroy removes the record for key and tears down its backend connection.
// Idempotent; destroying an absent key is a no-op. The durable settings
// mapping is untouched — an explicit reset clears it separately.
func (r *Registry) Destroy(key conversation.Key) bool {
	ks := key.String()

	r.mu.Lock()
	rec, ok := r.records[ks]
	if ok {
		delete(r.records, ks)
	}
	total := len(r.records)
	r.mu.Unlock()

	if !ok {
		return false
	}

	rec.close()
	r.logger.Info("session destroyed",
		"key", ks,
		"record_id", rec.ID,
		"active_sessions", total,
	)
	return true
}

// Sweep destroys sessions idle longer than threshold and returns how many
// were removed. Single-flight: if a sweep is already running this call
// returns immediately.
func (r *Registry) Sweep(threshold time.Duration) int {
	if !r.sweeping.CompareAndSwap(false, true) {
		return 0
	}
	defer r.sweeping.Store(false)

	cutoff := time.Now().Add(-threshold)

	r.mu.Lock()
	var stale []*Record
	for _, rec := range r.records {
		if rec.LastActivity().Before(cutoff) {
			stale = append(stale, rec)
		}
	}
	r.mu.Unlock()

	swept := 0
	for _, rec := range stale {
		// Re-check under the destroy path: activity may have arrived
		// between the snapshot and now
		if rec.LastActivity().Before(cutoff) && r.Destroy(rec.Key) {
			swept++
		}
	}

	if swept > 0 {
		r.logger.Info("idle sweep complete", "swept", swept, "threshold", threshold)
	}
	return swept
}

// RunSweeper sweeps on interval until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval, threshold time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Debug("idle sweeper started", "interval", interval, "threshold", threshold)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(threshold)
		}
	}
}

// Shutdown destroys every live session. Called once at process exit.
func (r *Registry) Shutdown() {
	for _, rec := range r.Snapshot() {
		r.Destroy(rec.Key)
	}
}
