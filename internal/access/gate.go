// ABOUTME: Allow-list evaluation for inbound conversations
// ABOUTME: Decides accept/reject before any session work happens

package access

import (
	"slices"

	"github.com/2389/agent-relay/internal/conversation"
)

// Policy is one platform's allow-list.
//
// Three modes, matching the config semantics:
//   - Allowed == nil: accept every conversation
//   - len(Allowed) == 0: accept direct messages only
//   - otherwise: accept only the listed chat IDs or user IDs
type Policy struct {
	Allowed []string
}

// Permit reports whether a conversation passes this policy.
func (p Policy) Permit(key conversation.Key) bool {
	if p.Allowed == nil {
		return true
	}
	if len(p.Allowed) == 0 {
		return key.Direct
	}
	return slices.Contains(p.Allowed, key.ChatID) || slices.Contains(p.Allowed, key.UserID)
}

// Gate evaluates inbound conversation identity against per-platform policies.
// It is pure configuration; there is no state to mutate after construction.
type Gate struct {
	policies map[string]Policy
}

// NewGate builds a gate from platform name to policy.
func NewGate(policies map[string]Policy) *Gate {
	if policies == nil {
		policies = make(map[string]Policy)
	}
	return &Gate{policies: policies}
}

// Allow reports whether the conversation may create or use a session.
// Platforms with no configured policy accept everything.
func (g *Gate) Allow(key conversation.Key) bool {
	policy, ok := g.policies[key.Platform]
	if !ok {
		return true
	}
	return policy.Permit(key)
}
