// ABOUTME: Connection and Opener contracts for the backend coding agent
// ABOUTME: One Conn is exclusively owned by one session record, never shared

package backend

import (
	"context"
	"errors"
)

// ErrResumeRejected indicates the backend refused the supplied resume token.
// The caller should fall back to a fresh session.
var ErrResumeRejected = errors.New("resume token rejected")

// ErrUnavailable indicates the backend could not be reached or spawned.
// Wrapped open/submit errors carrying this sentinel are retryable.
var ErrUnavailable = errors.New("backend unavailable")

// ErrConnClosed indicates an operation on a closed connection.
var ErrConnClosed = errors.New("connection closed")

// OpenRequest describes how to open a backend session.
type OpenRequest struct {
	// ResumeToken is a previously captured backend session id; empty
	// means start a fresh session
	ResumeToken string

	// WorkingDir is the directory the agent operates in
	WorkingDir string
}

// Conn is one live backend session. Exactly one consumer reads Events();
// the session record's receiver loop enforces this structurally.
type Conn interface {
	// SessionID returns the backend-issued session id, available once
	// the init event has been observed
	SessionID() string

	// Submit sends one user message into the session
	Submit(ctx context.Context, text string) error

	// Events returns the output event stream. The channel is closed
	// when the connection terminates.
	Events() <-chan Event

	// Interrupt asks the backend to stop the current turn without
	// tearing down the session
	Interrupt() error

	// Close terminates the session and releases the underlying process
	Close() error
}

// Opener opens backend sessions. The production implementation spawns the
// agent CLI; tests substitute fakes.
type Opener interface {
	Open(ctx context.Context, req OpenRequest) (Conn, error)
}
