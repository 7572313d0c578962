// ABOUTME: Record is one live session: a backend conn plus lifecycle state
// ABOUTME: and a bounded FIFO queue of messages that arrived mid-turn

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agent-relay/internal/backend"
	"github.com/2389/agent-relay/internal/conversation"
)

// State is a session lifecycle phase.
type State int

const (
	// StateCreating covers the backend open; a record in this state is
	// never visible in the registry table
	StateCreating State = iota

	// StateIdle means the session is live with no turn in flight
	StateIdle

	// StateBusy means a turn is in flight and a receiver loop owns the
	// connection's event stream
	StateBusy

	// StateClosing means teardown has begun; no new work is accepted
	StateClosing

	// StateClosed is terminal
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateCreating:
		return "creating"
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrQueueFull is returned by Enqueue when the pending queue is at capacity.
var ErrQueueFull = errors.New("session queue full")

// ErrNotIdle is returned by BeginTurn when the session cannot start a turn.
var ErrNotIdle = errors.New("session not idle")

// Record is one conversation's live session. All mutable fields are guarded
// by mu; the backend connection itself is exclusively owned by this record.
type Record struct {
	// ID identifies the record in logs; it is not the backend session id
	ID string

	// Key is the conversation this record serves
	Key conversation.Key

	mu           sync.Mutex
	conn         backend.Conn
	state        State
	queue        []string
	queueLimit   int
	cancelTurn   context.CancelFunc
	createdAt    time.Time
	lastActivity time.Time
}

// newRecord wraps an opened connection. The record starts Idle: Creating
// ends the moment the open succeeds.
func newRecord(key conversation.Key, conn backend.Conn, queueLimit int) *Record {
	now := time.Now()
	return &Record{
		ID:           uuid.New().String(),
		Key:          key,
		conn:         conn,
		state:        StateIdle,
		queueLimit:   queueLimit,
		createdAt:    now,
		lastActivity: now,
	}
}

// Conn returns the backend connection.
func (r *Record) Conn() backend.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// State returns the current lifecycle state.
func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// CreatedAt returns when the record entered the table.
func (r *Record) CreatedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createdAt
}

// LastActivity returns the last time the session did work.
func (r *Record) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

// Touch advances the activity timestamp.
func (r *Record) Touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActivity = time.Now()
}

// QueueLen returns the number of pending messages.
func (r *Record) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// BeginTurn transitions Idle→Busy, recording the cancel func for the turn's
// receiver context. Returns ErrNotIdle if a turn is already in flight or the
// record is shutting down.
func (r *Record) BeginTurn(cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return ErrNotIdle
	}
	r.state = StateBusy
	r.cancelTurn = cancel
	r.lastActivity = time.Now()
	return nil
}

// EndTurn transitions Busy→Idle. Teardown states are left alone so a close
// racing the end of a turn stays closed.
func (r *Record) EndTurn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateBusy {
		r.state = StateIdle
	}
	r.cancelTurn = nil
	r.lastActivity = time.Now()
}

// EnqueueOrBegin atomically decides what to do with an inbound message:
// if the session is Idle it begins a turn (using cancel) and returns
// started=true; if Busy it appends to the FIFO queue. This is the one
// decision point, so a message can never be both queued and submitted.
func (r *Record) EnqueueOrBegin(text string, cancel context.CancelFunc) (started bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateIdle:
		r.state = StateBusy
		r.cancelTurn = cancel
		r.lastActivity = time.Now()
		return true, nil
	case StateBusy:
		if r.queueLimit > 0 && len(r.queue) >= r.queueLimit {
			return false, ErrQueueFull
		}
		r.queue = append(r.queue, text)
		return false, nil
	default:
		return false, ErrNotIdle
	}
}

// DequeueNext pops the oldest pending message. The caller must still hold
// the turn (state Busy); draining happens before the Busy→Idle transition.
func (r *Record) DequeueNext() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return "", false
	}
	next := r.queue[0]
	r.queue = r.queue[1:]
	return next, true
}

// FinishTurn atomically ends one turn: pop the queue head and stay Busy
// (cancel becomes the next turn's cancel func), or transition Busy→Idle
// when the queue is empty. The check and the release happen under one lock
// acquisition, so a message enqueued while a turn finishes is either
// returned here or starts its own turn — never stranded on an idle record.
// Records in teardown release nothing and report no work.
func (r *Record) FinishTurn(cancel context.CancelFunc) (next string, more bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateBusy {
		return "", false
	}
	r.lastActivity = time.Now()

	if len(r.queue) > 0 {
		next = r.queue[0]
		r.queue = r.queue[1:]
		r.cancelTurn = cancel
		return next, true
	}

	r.state = StateIdle
	r.cancelTurn = nil
	return "", false
}

// ClearQueue discards all pending messages and returns how many there were.
func (r *Record) ClearQueue() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.queue)
	r.queue = nil
	return n
}

// DetachTurn releases the turn's cancel func without ending the turn.
// Used when a receiver abandons a dying record for a replacement: closing
// the old record must not cancel the receiver that is moving on.
func (r *Record) DetachTurn() {
	r.mu.Lock()
	r.cancelTurn = nil
	r.mu.Unlock()
}

// CancelTurn cancels the in-flight receiver context, if any. The turn winds
// down through its normal exit path; state transitions happen there.
func (r *Record) CancelTurn() bool {
	r.mu.Lock()
	cancel := r.cancelTurn
	r.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// close walks Closing→Closed, cancelling any in-flight turn and tearing
// down the connection. Idempotent.
func (r *Record) close() {
	r.mu.Lock()
	if r.state == StateClosing || r.state == StateClosed {
		r.mu.Unlock()
		return
	}
	r.state = StateClosing
	cancel := r.cancelTurn
	r.cancelTurn = nil
	conn := r.conn
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}

	r.mu.Lock()
	r.state = StateClosed
	r.queue = nil
	r.mu.Unlock()
}
