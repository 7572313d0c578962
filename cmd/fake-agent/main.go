// ABOUTME: Fake agent CLI for end-to-end testing — speaks stream-json on
// ABOUTME: stdin/stdout and echoes messages back with markdown formatting.
//
// Point the relay at it to exercise the full pipeline without a real agent:
//
//	backend:
//	  command: fake-agent
//
// It honors --resume (rejecting the token "expired" the way the real CLI
// rejects an unknown session) and answers control_request interrupts with
// an interrupted result, so stop/resume flows can be tested locally.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

type inboundLine struct {
	Type    string `json:"type"`
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
	Request struct {
		Subtype string `json:"subtype"`
	} `json:"request"`
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("fake-agent: ")

	// The relay passes the standard agent CLI flags; only --resume matters
	// here, the rest are accepted and ignored.
	resume := resumeToken(os.Args[1:])
	if resume == "expired" {
		fmt.Fprintln(os.Stderr, "No conversation found with session ID: expired")
		os.Exit(1)
	}

	sessionID := resume
	if sessionID == "" {
		sessionID = "fake-" + uuid.New().String()
	}

	out := json.NewEncoder(os.Stdout)
	emit(out, map[string]any{
		"type":       "system",
		"subtype":    "init",
		"session_id": sessionID,
	})

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var in inboundLine
		if err := json.Unmarshal(line, &in); err != nil {
			log.Printf("skipping unparseable line: %v", err)
			continue
		}

		switch in.Type {
		case "user":
			text := ""
			for _, block := range in.Message.Content {
				if block.Type == "text" {
					text += block.Text
				}
			}
			respond(out, sessionID, text)

		case "control_request":
			if in.Request.Subtype == "interrupt" {
				emit(out, resultLine(sessionID, "interrupted", 0))
			}
		}
	}
}

// respond streams one echo turn: an assistant text block, then a result.
func respond(out *json.Encoder, sessionID, input string) {
	start := time.Now()

	emit(out, map[string]any{
		"type":       "assistant",
		"session_id": sessionID,
		"message": map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": echoReply(input)},
			},
		},
	})

	// Small delay so queued messages pile up in manual tests
	time.Sleep(50 * time.Millisecond)

	emit(out, resultLine(sessionID, "", time.Since(start).Milliseconds()))
}

func resultLine(sessionID, result string, duration int64) map[string]any {
	return map[string]any{
		"type":        "result",
		"subtype":     "success",
		"session_id":  sessionID,
		"result":      result,
		"is_error":    false,
		"duration_ms": duration,
	}
}

func emit(out *json.Encoder, line map[string]any) {
	if err := out.Encode(line); err != nil {
		log.Fatalf("writing stdout: %v", err)
	}
}

func resumeToken(args []string) string {
	for i, arg := range args {
		if arg == "--resume" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func echoReply(input string) string {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "markdown") || strings.Contains(lower, "bullet") || strings.Contains(lower, "list") {
		return "Here is a **markdown** response:\n\n- First item\n- Second item with `code`\n- Third item\n\n> This is a blockquote.\n"
	}
	return fmt.Sprintf("Echo: **%s**\n\nI received your message and am responding with some *formatted* text.", input)
}
