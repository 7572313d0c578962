// ABOUTME: Sliding-window deduplication of inbound platform message ids
// ABOUTME: Platforms redeliver on webhook retries; each id is handled once

// Package dedupe drops redelivered platform messages. Chat platforms retry
// webhook deliveries and long-poll updates can overlap after a reconnect,
// so every inbound message id is checked against a sliding window before
// dispatch.
package dedupe

import (
	"sync"
	"time"
)

// Window remembers message ids for a fixed TTL, bounded in size. Expired
// entries are pruned lazily on insert, so no background goroutine is
// needed and there is nothing to close.
type Window struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	order   []stamped // insertion order, oldest first
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type stamped struct {
	id string
	at time.Time
}

// New creates a Window. ttl bounds how long an id is remembered; maxSize
// bounds memory when traffic outpaces expiry.
func New(ttl time.Duration, maxSize int) *Window {
	return &Window{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Observe records one inbound message id and reports whether it is a
// duplicate. The check and the mark are a single atomic step, so of any
// number of concurrent deliveries of the same id exactly one proceeds.
// The id should be prefixed with the platform name to keep id spaces
// from colliding.
func (w *Window) Observe(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.prune(now)

	if at, ok := w.seen[id]; ok && now.Sub(at) < w.ttl {
		return true
	}

	if w.maxSize > 0 && len(w.seen) >= w.maxSize {
		w.evictOldest()
	}
	w.seen[id] = now
	w.order = append(w.order, stamped{id: id, at: now})
	return false
}

// Len returns the number of remembered ids, counting expired entries not
// yet pruned.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// prune drops expired entries from the front of the order slice. Entries
// are appended in time order, so expiry stops at the first live one.
func (w *Window) prune(now time.Time) {
	i := 0
	for ; i < len(w.order); i++ {
		e := w.order[i]
		if now.Sub(e.at) < w.ttl {
			break
		}
		// An id re-observed later has a fresher timestamp in the map;
		// only delete when this is its newest record
		if at, ok := w.seen[e.id]; ok && at.Equal(e.at) {
			delete(w.seen, e.id)
		}
	}
	if i > 0 {
		w.order = w.order[i:]
	}
}

// evictOldest drops the oldest live entry to make room.
func (w *Window) evictOldest() {
	for len(w.order) > 0 {
		e := w.order[0]
		w.order = w.order[1:]
		if at, ok := w.seen[e.id]; ok && at.Equal(e.at) {
			delete(w.seen, e.id)
			return
		}
	}
}
