// ABOUTME: Output event types delivered from sessions to platform sinks
// ABOUTME: Defines the Sink and Transport boundary interfaces for frontends

package conversation

// EventKind classifies an output event for sinks and visibility filtering.
type EventKind string

const (
	// KindText is assistant response text
	KindText EventKind = "text"

	// KindThinking is the agent's internal reasoning stream
	KindThinking EventKind = "thinking"

	// KindToolUse is a raw tool invocation by the agent
	KindToolUse EventKind = "tool_use"

	// KindToolResult is the output of a tool invocation
	KindToolResult EventKind = "tool_result"

	// KindTurnComplete marks the end of one agent turn
	KindTurnComplete EventKind = "turn_complete"

	// KindError is a terminal error for the current turn
	KindError EventKind = "error"

	// KindNotice is an informational message from the relay itself
	// (command confirmations, queue notices); never filtered
	KindNotice EventKind = "notice"
)

// FilterableKinds lists the event kinds users may hide via /settings.
func FilterableKinds() []EventKind {
	return []EventKind{KindThinking, KindToolUse, KindToolResult}
}

// OutputEvent is one unit of streamed output delivered to a sink.
type OutputEvent struct {
	Kind EventKind

	// Text carries the payload for text/thinking/error/notice events
	Text string

	// ToolName and ToolInput are set for tool_use events
	ToolName  string
	ToolInput string

	// IsError marks a failed tool_result
	IsError bool

	// DurationMS is set on turn_complete events
	DurationMS int64
}

// Sink receives output events for one conversation. Implementations are
// responsible for platform-specific rendering and message splitting, and
// must not block the caller; slow transports should buffer internally.
type Sink interface {
	Emit(key Key, event OutputEvent)
}

// Transport is the capability interface one chat platform implements.
// It is selected once at startup by configuration; the core never
// branches on the platform name.
type Transport interface {
	// Name returns the platform identifier used in conversation keys
	Name() string

	// Send delivers rendered text to the conversation
	Send(key Key, text string) error

	// Run starts the platform event loop, invoking handler for each
	// inbound message until the transport shuts down
	Run(handler func(key Key, messageID, text string)) error
}
