// ABOUTME: Local stdin/stdout transport, mainly for development and probing
// ABOUTME: One fixed direct conversation; lines in, colorized replies out

// Package console implements the conversation.Transport interface over the
// process's own terminal. Useful for exercising the relay without any chat
// platform attached: every stdin line becomes an inbound message on a
// single direct conversation.
package console

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/agent-relay/internal/conversation"
)

// Transport is the stdin/stdout platform adapter.
type Transport struct {
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	// mu serializes Send writes so concurrent turns don't interleave
	// mid-line
	mu sync.Mutex
}

// New creates a console transport bound to the process terminal.
func New(logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		in:     os.Stdin,
		out:    os.Stdout,
		logger: logger.With("component", "console"),
	}
}

// Name returns the platform identifier used in conversation keys.
func (t *Transport) Name() string {
	return "console"
}

// localKey is the single conversation the console serves.
func localKey() conversation.Key {
	return conversation.Key{
		Platform: "console",
		ChatID:   "local",
		UserID:   "local",
		Direct:   true,
	}
}

// Run reads stdin lines and hands each to the dispatcher until EOF.
func (t *Transport) Run(handler func(key conversation.Key, messageID, text string)) error {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	key := localKey()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		handler(key, uuid.New().String(), line)
	}

	t.logger.Info("console input closed")
	return scanner.Err()
}

// Send prints one reply, prefixed so relay output is distinguishable from
// whatever the user types next.
func (t *Transport) Send(_ conversation.Key, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	prefix := color.CyanString("◆ ")
	for _, line := range strings.Split(text, "\n") {
		if _, err := io.WriteString(t.out, prefix+line+"\n"); err != nil {
			return err
		}
	}
	return nil
}
