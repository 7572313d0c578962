// ABOUTME: Event types streamed from a backend agent connection
// ABOUTME: Mirrors the agent CLI's stream-json output message taxonomy

package backend

// EventKind indicates the type of a streamed backend event.
type EventKind int

const (
	// EventInit is emitted once when the backend session is ready and
	// carries the backend-issued session id
	EventInit EventKind = iota

	// EventThinking is a chunk of the agent's internal reasoning
	EventThinking

	// EventText is a chunk of assistant response text
	EventText

	// EventToolUse is a tool invocation by the agent
	EventToolUse

	// EventToolResult is the output of a tool invocation
	EventToolResult

	// EventResult marks the end of a turn
	EventResult

	// EventError is a terminal error; the turn is over
	EventError
)

// Event is one unit of backend output.
type Event struct {
	Kind EventKind

	// SessionID is set on EventInit, and on EventResult when the
	// backend reports it
	SessionID string

	// Text carries payload for thinking/text/error events and the
	// final response summary on EventResult
	Text string

	// ToolUse is set for EventToolUse
	ToolUse *ToolUse

	// ToolResult is set for EventToolResult
	ToolResult *ToolResult

	// DurationMS is set on EventResult
	DurationMS int64

	// IsError marks an EventResult for a failed turn
	IsError bool
}

// ToolUse describes a tool invocation.
type ToolUse struct {
	ID        string
	Name      string
	InputJSON string
}

// ToolResult describes the outcome of a tool invocation.
type ToolResult struct {
	ID      string
	Output  string
	IsError bool
}

// EndOfTurn reports whether this event terminates the current turn.
func (e *Event) EndOfTurn() bool {
	return e.Kind == EventResult || e.Kind == EventError
}
