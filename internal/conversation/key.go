// ABOUTME: Conversation key derivation from platform chat/thread identity
// ABOUTME: The key is the unit of session isolation used everywhere as the lookup key

package conversation

import "strings"

// Key identifies one conversation (chat or thread) on one platform.
// Two inbound messages with the same key always resolve to the same session.
type Key struct {
	// Platform is the source platform name (e.g., "telegram", "slack")
	Platform string

	// ChatID is the chat/channel identifier on the platform
	ChatID string

	// ThreadID is the thread identifier within the chat, if the platform
	// threads replies; empty for unthreaded chats
	ThreadID string

	// UserID is the sender's platform user identifier. It does not
	// contribute to the key string but is needed for DM detection and
	// access checks.
	UserID string

	// Direct is true when the conversation is a direct/private message
	Direct bool
}

// String returns the canonical form used as the lookup key in the registry
// and the settings store: platform:chat[:thread].
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Platform)
	b.WriteByte(':')
	b.WriteString(k.ChatID)
	if k.ThreadID != "" {
		b.WriteByte(':')
		b.WriteString(k.ThreadID)
	}
	return b.String()
}
