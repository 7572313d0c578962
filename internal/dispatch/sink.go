// ABOUTME: Adapts a platform Transport into an output event Sink
// ABOUTME: Formats events as plain text and enforces platform size limits

package dispatch

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/agent-relay/internal/conversation"
	"github.com/2389/agent-relay/internal/render"
)

// Message size limit applied to every outbound send. Telegram caps at
// 4096; Slack higher. 4000 leaves headroom for prefixes on both.
const sendLimit = 4000

// Preview limits for the noisier event kinds.
const (
	thinkingLimit   = 500
	toolInputLimit  = 200
	toolOutputLimit = 500
)

// TransportSink renders output events to text and delivers them through a
// Transport. One sink serves all conversations on its platform.
type TransportSink struct {
	transport conversation.Transport
	logger    *slog.Logger
}

// NewTransportSink creates a sink for one transport.
func NewTransportSink(t conversation.Transport, logger *slog.Logger) *TransportSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransportSink{
		transport: t,
		logger:    logger.With("component", "sink", "platform", t.Name()),
	}
}

// Emit formats one event and sends it. Events that render to nothing are
// dropped silently; send failures are logged, not propagated — the turn
// keeps streaming even when one message fails to deliver.
func (s *TransportSink) Emit(key conversation.Key, event conversation.OutputEvent) {
	text := formatEvent(event)
	if text == "" {
		return
	}
	if err := s.transport.Send(key, render.Truncate(text, sendLimit)); err != nil {
		s.logger.Error("send failed",
			"key", key.String(),
			"kind", string(event.Kind),
			"error", err,
		)
	}
}

// formatEvent renders an output event as platform-ready plain text. An
// empty result means the event produces no message.
func formatEvent(event conversation.OutputEvent) string {
	switch event.Kind {
	case conversation.KindText:
		return render.Plain(event.Text)

	case conversation.KindThinking:
		t := strings.TrimSpace(event.Text)
		if t == "" {
			return ""
		}
		return "💭 " + render.Truncate(t, thinkingLimit)

	case conversation.KindToolUse:
		if event.ToolName == "" {
			return ""
		}
		input := strings.TrimSpace(event.ToolInput)
		if input == "" || input == "{}" {
			return "🔧 " + event.ToolName
		}
		return fmt.Sprintf("🔧 %s %s", event.ToolName, render.Truncate(input, toolInputLimit))

	case conversation.KindToolResult:
		out := strings.TrimSpace(event.Text)
		if out == "" {
			return ""
		}
		prefix := "📄"
		if event.IsError {
			prefix = "⚠️"
		}
		return prefix + " " + render.Truncate(out, toolOutputLimit)

	case conversation.KindError:
		return "❌ " + event.Text

	case conversation.KindNotice:
		return event.Text

	case conversation.KindTurnComplete:
		// The reply itself signals completion; no extra message
		return ""

	default:
		return ""
	}
}
