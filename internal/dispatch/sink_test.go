// ABOUTME: Tests for output event formatting in the transport sink.

package dispatch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/agent-relay/internal/conversation"
)

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name  string
		event conversation.OutputEvent
		want  string
	}{
		{
			name:  "text renders markdown to plain",
			event: conversation.OutputEvent{Kind: conversation.KindText, Text: "some **bold** text"},
			want:  "some bold text",
		},
		{
			name:  "thinking gets a marker",
			event: conversation.OutputEvent{Kind: conversation.KindThinking, Text: "let me see"},
			want:  "💭 let me see",
		},
		{
			name:  "empty thinking dropped",
			event: conversation.OutputEvent{Kind: conversation.KindThinking, Text: "  "},
			want:  "",
		},
		{
			name:  "tool use without input",
			event: conversation.OutputEvent{Kind: conversation.KindToolUse, ToolName: "Bash", ToolInput: "{}"},
			want:  "🔧 Bash",
		},
		{
			name:  "tool use with input",
			event: conversation.OutputEvent{Kind: conversation.KindToolUse, ToolName: "Bash", ToolInput: `{"command":"ls"}`},
			want:  `🔧 Bash {"command":"ls"}`,
		},
		{
			name:  "tool result",
			event: conversation.OutputEvent{Kind: conversation.KindToolResult, Text: "3 files"},
			want:  "📄 3 files",
		},
		{
			name:  "failed tool result",
			event: conversation.OutputEvent{Kind: conversation.KindToolResult, Text: "no such dir", IsError: true},
			want:  "⚠️ no such dir",
		},
		{
			name:  "empty tool result dropped",
			event: conversation.OutputEvent{Kind: conversation.KindToolResult, Text: ""},
			want:  "",
		},
		{
			name:  "error",
			event: conversation.OutputEvent{Kind: conversation.KindError, Text: "session failed"},
			want:  "❌ session failed",
		},
		{
			name:  "notice passes through",
			event: conversation.OutputEvent{Kind: conversation.KindNotice, Text: "Session reset."},
			want:  "Session reset.",
		},
		{
			name:  "turn complete is silent",
			event: conversation.OutputEvent{Kind: conversation.KindTurnComplete, DurationMS: 1200},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatEvent(tt.event))
		})
	}
}

func TestFormatEvent_LongPayloadsTruncated(t *testing.T) {
	long := strings.Repeat("x", 10_000)

	thinking := formatEvent(conversation.OutputEvent{Kind: conversation.KindThinking, Text: long})
	assert.LessOrEqual(t, len([]rune(thinking)), thinkingLimit+len("💭 "))

	result := formatEvent(conversation.OutputEvent{Kind: conversation.KindToolResult, Text: long})
	assert.LessOrEqual(t, len([]rune(result)), toolOutputLimit+len("📄 "))
}

// recordingTransport captures sends for sink tests.
type recordingTransport struct {
	sent []string
	fail error
}

func (r *recordingTransport) Name() string { return "rec" }

func (r *recordingTransport) Send(_ conversation.Key, text string) error {
	if r.fail != nil {
		return r.fail
	}
	r.sent = append(r.sent, text)
	return nil
}

func (r *recordingTransport) Run(func(conversation.Key, string, string)) error { return nil }

func TestTransportSink_Emit(t *testing.T) {
	tr := &recordingTransport{}
	sink := NewTransportSink(tr, nil)
	key := tgKey("1")

	sink.Emit(key, conversation.OutputEvent{Kind: conversation.KindText, Text: "hi"})
	sink.Emit(key, conversation.OutputEvent{Kind: conversation.KindTurnComplete})

	assert.Equal(t, []string{"hi"}, tr.sent, "silent events must not send")
}

func TestTransportSink_EmitCapsMessageSize(t *testing.T) {
	tr := &recordingTransport{}
	sink := NewTransportSink(tr, nil)

	sink.Emit(tgKey("1"), conversation.OutputEvent{
		Kind: conversation.KindNotice,
		Text: strings.Repeat("y", 2*sendLimit),
	})

	assert.Len(t, tr.sent, 1)
	assert.LessOrEqual(t, len([]rune(tr.sent[0])), sendLimit)
}
