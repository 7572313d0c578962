// ABOUTME: Tests for the health endpoint served by the assembled relay.

package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agent-relay/internal/session"
	"github.com/2389/agent-relay/internal/settings"
)

func newTestRelay(t *testing.T) *Relay {
	t.Helper()
	registry := session.NewRegistry(session.Config{QueueLimit: 4}, nil, settings.NewMockStore(), nil)
	t.Cleanup(registry.Shutdown)
	return &Relay{
		logger:    slog.Default(),
		registry:  registry,
		startedAt: time.Now().Add(-42 * time.Second),
	}
}

func TestHandleHealth(t *testing.T) {
	r := newTestRelay(t)

	rec := httptest.NewRecorder()
	r.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Status         string `json:"status"`
		ActiveSessions int    `json:"active_sessions"`
		UptimeSeconds  int64  `json:"uptime_seconds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 0, body.ActiveSessions)
	assert.GreaterOrEqual(t, body.UptimeSeconds, int64(42))
}

func TestHandleHealth_MethodNotAllowed(t *testing.T) {
	r := newTestRelay(t)

	rec := httptest.NewRecorder()
	r.handleHealth(rec, httptest.NewRequest(http.MethodPost, "/health", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
