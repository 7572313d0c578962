// ABOUTME: Table tests for stream-json line parsing.
// ABOUTME: No subprocess involved; raw lines in, events out.

package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []Event
	}{
		{
			name: "system init carries session id",
			line: `{"type":"system","subtype":"init","session_id":"sess-123"}`,
			want: []Event{{Kind: EventInit, SessionID: "sess-123"}},
		},
		{
			name: "system non-init skipped",
			line: `{"type":"system","subtype":"compact"}`,
			want: nil,
		},
		{
			name: "assistant text block",
			line: `{"type":"assistant","message":{"content":[{"type":"text","text":"hello"}]}}`,
			want: []Event{{Kind: EventText, Text: "hello"}},
		},
		{
			name: "assistant thinking block",
			line: `{"type":"assistant","message":{"content":[{"type":"thinking","thinking":"hmm"}]}}`,
			want: []Event{{Kind: EventThinking, Text: "hmm"}},
		},
		{
			name: "empty text block skipped",
			line: `{"type":"assistant","message":{"content":[{"type":"text","text":""}]}}`,
			want: []Event{},
		},
		{
			name: "tool use block",
			line: `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`,
			want: []Event{{Kind: EventToolUse, ToolUse: &ToolUse{ID: "t1", Name: "Bash", InputJSON: `{"command":"ls"}`}}},
		},
		{
			name: "tool result with string content",
			line: `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","content":"ok"}]}}`,
			want: []Event{{Kind: EventToolResult, ToolResult: &ToolResult{ID: "t1", Output: "ok"}}},
		},
		{
			name: "tool result with block content",
			line: `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","content":[{"type":"text","text":"line1"},{"type":"text","text":"line2"}],"is_error":true}]}}`,
			want: []Event{{Kind: EventToolResult, ToolResult: &ToolResult{ID: "t1", Output: "line1line2", IsError: true}}},
		},
		{
			name: "multiple blocks in one line",
			line: `{"type":"assistant","message":{"content":[{"type":"thinking","thinking":"plan"},{"type":"text","text":"answer"}]}}`,
			want: []Event{
				{Kind: EventThinking, Text: "plan"},
				{Kind: EventText, Text: "answer"},
			},
		},
		{
			name: "successful result ends turn",
			line: `{"type":"result","subtype":"success","session_id":"sess-123","result":"done","duration_ms":4200}`,
			want: []Event{{Kind: EventResult, SessionID: "sess-123", Text: "done", DurationMS: 4200}},
		},
		{
			name: "error result marks failure",
			line: `{"type":"result","subtype":"error_during_execution","is_error":true,"result":"boom","duration_ms":10}`,
			want: []Event{{Kind: EventResult, Text: "boom", DurationMS: 10, IsError: true}},
		},
		{
			name: "unknown line type skipped",
			line: `{"type":"control_response","request_id":"r1"}`,
			want: nil,
		},
		{
			name: "unknown block type skipped",
			line: `{"type":"assistant","message":{"content":[{"type":"hologram","text":"x"}]}}`,
			want: []Event{},
		},
		{
			name: "assistant without message skipped",
			line: `{"type":"assistant"}`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLine_InvalidJSON(t *testing.T) {
	_, err := ParseLine([]byte("not json at all"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding stream line")
}

func TestEvent_EndOfTurn(t *testing.T) {
	assert.True(t, (&Event{Kind: EventResult}).EndOfTurn())
	assert.True(t, (&Event{Kind: EventError}).EndOfTurn())
	assert.False(t, (&Event{Kind: EventText}).EndOfTurn())
	assert.False(t, (&Event{Kind: EventInit}).EndOfTurn())
}

func TestLooksLikeResumeRejection(t *testing.T) {
	assert.True(t, looksLikeResumeRejection("Error: No conversation found with session ID abc"))
	assert.True(t, looksLikeResumeRejection("session abc not found"))
	assert.False(t, looksLikeResumeRejection("connection refused"))
	assert.False(t, looksLikeResumeRejection(""))
}
