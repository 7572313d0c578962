// ABOUTME: Error classification and bounded exponential backoff for
// ABOUTME: backend open/submit failures

package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/2389/agent-relay/internal/backend"
)

// ErrorKind classifies a backend failure for retry purposes.
type ErrorKind int

const (
	// KindPermanent failures are not retried; the session is torn down
	KindPermanent ErrorKind = iota

	// KindTransient failures may be retried with backoff
	KindTransient

	// KindResumeInvalid means a resume token was rejected; the caller
	// falls back to a fresh session instead of retrying the resume
	KindResumeInvalid
)

// String returns the lowercase kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindResumeInvalid:
		return "resume_invalid"
	default:
		return "permanent"
	}
}

// Classify maps a backend error onto a retry kind. Context cancellation is
// permanent: the caller asked for the work to stop.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindPermanent
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindPermanent
	case errors.Is(err, backend.ErrResumeRejected):
		return KindResumeInvalid
	case errors.Is(err, backend.ErrUnavailable):
		return KindTransient
	default:
		return KindPermanent
	}
}

// RetryPolicy bounds retries of transient backend failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first
	MaxAttempts int

	// BaseDelay is the backoff for the first retry
	BaseDelay time.Duration

	// MaxDelay caps the backoff growth
	MaxDelay time.Duration
}

// DefaultRetryPolicy matches the configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// ShouldRetry reports whether attempt (1-based) may be followed by another
// try. Only transient failures are retried.
func (p RetryPolicy) ShouldRetry(kind ErrorKind, attempt int) bool {
	return kind == KindTransient && attempt < p.MaxAttempts
}

// Backoff returns the delay before retry number attempt (1-based):
// exponential growth capped at MaxDelay, with up to 25% jitter so
// simultaneous failures don't retry in lockstep.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay << (attempt - 1)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(d)/4 + 1))
	return d + jitter
}
