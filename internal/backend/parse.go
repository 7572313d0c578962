// ABOUTME: Parses agent CLI stream-json output lines into backend events
// ABOUTME: One stdout line may expand into several events (content blocks)

package backend

import (
	"encoding/json"
	"fmt"
)

// streamLine is the envelope of one stream-json stdout line.
type streamLine struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	Message   *streamMessage  `json:"message"`
	Result    string          `json:"result"`
	IsError   bool            `json:"is_error"`
	Duration  int64           `json:"duration_ms"`
	Error     json.RawMessage `json:"error"`
}

// streamMessage holds the content blocks of assistant/user lines.
type streamMessage struct {
	Content []contentBlock `json:"content"`
}

// contentBlock is one block inside a message.
type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// ParseLine decodes one stream-json stdout line into zero or more events.
// Unknown line and block types are skipped rather than failing the stream;
// the agent CLI adds new types over time.
func ParseLine(line []byte) ([]Event, error) {
	var sl streamLine
	if err := json.Unmarshal(line, &sl); err != nil {
		return nil, fmt.Errorf("decoding stream line: %w", err)
	}

	switch sl.Type {
	case "system":
		if sl.Subtype == "init" {
			return []Event{{Kind: EventInit, SessionID: sl.SessionID}}, nil
		}
		return nil, nil

	case "assistant", "user":
		if sl.Message == nil {
			return nil, nil
		}
		return blockEvents(sl.Message.Content), nil

	case "result":
		if sl.IsError {
			return []Event{{
				Kind:       EventResult,
				SessionID:  sl.SessionID,
				Text:       sl.Result,
				DurationMS: sl.Duration,
				IsError:    true,
			}}, nil
		}
		return []Event{{
			Kind:       EventResult,
			SessionID:  sl.SessionID,
			Text:       sl.Result,
			DurationMS: sl.Duration,
		}}, nil

	default:
		return nil, nil
	}
}

// blockEvents converts message content blocks into events.
func blockEvents(blocks []contentBlock) []Event {
	events := make([]Event, 0, len(blocks))
	for _, block := range blocks {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			events = append(events, Event{Kind: EventText, Text: block.Text})

		case "thinking":
			if block.Thinking == "" {
				continue
			}
			events = append(events, Event{Kind: EventThinking, Text: block.Thinking})

		case "tool_use":
			events = append(events, Event{
				Kind: EventToolUse,
				ToolUse: &ToolUse{
					ID:        block.ID,
					Name:      block.Name,
					InputJSON: string(block.Input),
				},
			})

		case "tool_result":
			events = append(events, Event{
				Kind: EventToolResult,
				ToolResult: &ToolResult{
					ID:      block.ToolUseID,
					Output:  decodeToolOutput(block.Content),
					IsError: block.IsError,
				},
			})
		}
	}
	return events
}

// decodeToolOutput renders a tool_result content field, which may be a
// plain string or a list of content blocks.
func decodeToolOutput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var out string
		for _, b := range blocks {
			if b.Type == "text" {
				out += b.Text
			}
		}
		return out
	}

	return string(raw)
}
