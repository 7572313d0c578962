// ABOUTME: Tests for allow-list gating of inbound conversations.
// ABOUTME: Covers the nil / empty / explicit-list policy truth table.

package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/agent-relay/internal/conversation"
)

func key(platform, chat, user string, direct bool) conversation.Key {
	return conversation.Key{Platform: platform, ChatID: chat, UserID: user, Direct: direct}
}

func TestPolicy_Permit(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		key    conversation.Key
		want   bool
	}{
		{
			name:   "nil list accepts group chats",
			policy: Policy{Allowed: nil},
			key:    key("telegram", "g1", "u1", false),
			want:   true,
		},
		{
			name:   "nil list accepts direct messages",
			policy: Policy{Allowed: nil},
			key:    key("telegram", "dm1", "u1", true),
			want:   true,
		},
		{
			name:   "empty list accepts direct messages",
			policy: Policy{Allowed: []string{}},
			key:    key("telegram", "dm1", "u1", true),
			want:   true,
		},
		{
			name:   "empty list rejects group chats",
			policy: Policy{Allowed: []string{}},
			key:    key("telegram", "g1", "u1", false),
			want:   false,
		},
		{
			name:   "explicit list accepts listed chat",
			policy: Policy{Allowed: []string{"g1", "g2"}},
			key:    key("telegram", "g2", "u1", false),
			want:   true,
		},
		{
			name:   "explicit list accepts listed user",
			policy: Policy{Allowed: []string{"u1"}},
			key:    key("telegram", "g9", "u1", false),
			want:   true,
		},
		{
			name:   "explicit list rejects unlisted identity",
			policy: Policy{Allowed: []string{"g1"}},
			key:    key("telegram", "g9", "u9", false),
			want:   false,
		},
		{
			name:   "explicit list rejects unlisted direct message",
			policy: Policy{Allowed: []string{"g1"}},
			key:    key("telegram", "dm9", "u9", true),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Permit(tt.key))
		})
	}
}

func TestGate_Allow(t *testing.T) {
	gate := NewGate(map[string]Policy{
		"telegram": {Allowed: []string{"chat-1"}},
		"slack":    {Allowed: []string{}},
	})

	t.Run("listed chat passes", func(t *testing.T) {
		assert.True(t, gate.Allow(key("telegram", "chat-1", "u1", false)))
	})

	t.Run("unlisted chat rejected", func(t *testing.T) {
		assert.False(t, gate.Allow(key("telegram", "chat-2", "u1", false)))
	})

	t.Run("dm-only platform accepts dm", func(t *testing.T) {
		assert.True(t, gate.Allow(key("slack", "D123", "U1", true)))
	})

	t.Run("dm-only platform rejects channel", func(t *testing.T) {
		assert.False(t, gate.Allow(key("slack", "C123", "U1", false)))
	})

	t.Run("unconfigured platform accepts everything", func(t *testing.T) {
		assert.True(t, gate.Allow(key("console", "local", "local", true)))
	})
}

func TestGate_NilPolicies(t *testing.T) {
	gate := NewGate(nil)
	assert.True(t, gate.Allow(key("telegram", "any", "any", false)))
}
