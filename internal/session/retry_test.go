// ABOUTME: Tests for backend error classification and backoff bounds.

package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/2389/agent-relay/internal/backend"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindPermanent},
		{"unavailable", backend.ErrUnavailable, KindTransient},
		{"wrapped unavailable", fmt.Errorf("opening: %w", backend.ErrUnavailable), KindTransient},
		{"resume rejected", backend.ErrResumeRejected, KindResumeInvalid},
		{"wrapped resume rejected", fmt.Errorf("open: %w", backend.ErrResumeRejected), KindResumeInvalid},
		{"context canceled", context.Canceled, KindPermanent},
		{"deadline exceeded", context.DeadlineExceeded, KindPermanent},
		{"unknown error", errors.New("weird"), KindPermanent},
		{"conn closed", backend.ErrConnClosed, KindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second}

	assert.True(t, p.ShouldRetry(KindTransient, 1))
	assert.True(t, p.ShouldRetry(KindTransient, 2))
	assert.False(t, p.ShouldRetry(KindTransient, 3), "attempts are bounded by MaxAttempts")

	assert.False(t, p.ShouldRetry(KindPermanent, 1))
	assert.False(t, p.ShouldRetry(KindResumeInvalid, 1), "resume fallback is not a retry")
}

func TestRetryPolicy_BackoffGrowsAndCaps(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	prevMax := time.Duration(0)
	for attempt := 1; attempt <= 8; attempt++ {
		d := p.Backoff(attempt)

		// base << (attempt-1), capped; jitter adds at most 25%
		expected := p.BaseDelay << (attempt - 1)
		if expected > p.MaxDelay || expected <= 0 {
			expected = p.MaxDelay
		}
		assert.GreaterOrEqual(t, d, expected, "attempt %d", attempt)
		assert.LessOrEqual(t, d, expected+expected/4, "attempt %d", attempt)

		if expected > prevMax {
			prevMax = expected
		}
	}

	assert.LessOrEqual(t, p.Backoff(30), p.MaxDelay+p.MaxDelay/4, "growth must cap at MaxDelay")
}

func TestRetryPolicy_BackoffClampsAttempt(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Greater(t, p.Backoff(0), time.Duration(0))
	assert.Greater(t, p.Backoff(-5), time.Duration(0))
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 10*time.Second, p.MaxDelay)
}

func TestErrorKind_String(t *testing.T) {
	assert.Equal(t, "transient", KindTransient.String())
	assert.Equal(t, "permanent", KindPermanent.String())
	assert.Equal(t, "resume_invalid", KindResumeInvalid.String())
}
