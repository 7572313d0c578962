// ABOUTME: Backend Conn implementation that spawns the coding-agent CLI
// ABOUTME: Speaks stream-json over stdin/stdout, one subprocess per session

package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// CLIConfig describes how to spawn the agent CLI.
type CLIConfig struct {
	// Command is the agent binary (e.g., "claude")
	Command string

	// Args are extra arguments appended to every invocation
	Args []string

	// PermissionMode is passed via --permission-mode when set
	PermissionMode string

	// SystemPrompt is passed via --append-system-prompt when set
	SystemPrompt string

	// ProbeWindow is how long Open watches for an immediate process
	// exit before declaring the session established. Zero means the
	// default of two seconds.
	ProbeWindow time.Duration

	// EventBuffer is the output channel capacity. Zero means 64.
	EventBuffer int
}

// CLIOpener opens backend sessions by spawning the agent CLI.
type CLIOpener struct {
	cfg    CLIConfig
	logger *slog.Logger
}

// NewCLIOpener creates a CLIOpener.
func NewCLIOpener(cfg CLIConfig, logger *slog.Logger) *CLIOpener {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIOpener{
		cfg:    cfg,
		logger: logger.With("component", "backend"),
	}
}

// Open spawns one agent CLI process for the session. When a resume token
// is supplied the CLI reattaches to that conversation; a rejected token
// surfaces as ErrResumeRejected so the caller can fall back to a fresh
// session. Cancelling ctx during the open kills the process.
func (o *CLIOpener) Open(ctx context.Context, req OpenRequest) (Conn, error) {
	args := append([]string(nil), o.cfg.Args...)
	args = append(args,
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
	)
	if o.cfg.PermissionMode != "" {
		args = append(args, "--permission-mode", o.cfg.PermissionMode)
	}
	if o.cfg.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", o.cfg.SystemPrompt)
	}
	if req.ResumeToken != "" {
		args = append(args, "--resume", req.ResumeToken)
	}

	cmd := exec.Command(o.cfg.Command, args...)
	cmd.Dir = req.WorkingDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %w", ErrUnavailable, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %w", ErrUnavailable, err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %s: %w", ErrUnavailable, o.cfg.Command, err)
	}

	buffer := o.cfg.EventBuffer
	if buffer == 0 {
		buffer = 64
	}

	c := &cliConn{
		cmd:    cmd,
		stdin:  stdin,
		stderr: &stderr,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		wait:   cmd.Wait,
		logger: o.logger.With("pid", cmd.Process.Pid),
	}
	go c.readLoop(stdout)

	if err := c.probe(ctx, o.probeWindow(), req.ResumeToken != ""); err != nil {
		_ = c.Close()
		return nil, err
	}

	o.logger.Debug("backend session opened",
		"resume", req.ResumeToken != "",
		"working_dir", req.WorkingDir,
	)
	return c, nil
}

func (o *CLIOpener) probeWindow() time.Duration {
	if o.cfg.ProbeWindow > 0 {
		return o.cfg.ProbeWindow
	}
	return 2 * time.Second
}

// cliConn is one live agent CLI subprocess.
type cliConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
	events chan Event

	// done is closed by Close to release a readLoop blocked on a send
	done chan struct{}

	// exited is closed by readLoop after the process terminates
	exited  chan struct{}
	exitErr error

	// wait reaps the subprocess; readLoop calls it exactly once
	wait func() error

	mu        sync.Mutex
	sessionID string
	closed    bool

	closeOnce sync.Once
	logger    *slog.Logger
}

// probe watches for an immediate process exit. The CLI fails fast on a bad
// binary or a rejected resume token, so an exit inside the window is
// classified; surviving the window means the session is established.
func (c *cliConn) probe(ctx context.Context, window time.Duration, resumed bool) error {
	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.exited:
		stderr := c.stderr.String()
		if resumed && looksLikeResumeRejection(stderr) {
			return fmt.Errorf("%w: %s", ErrResumeRejected, firstLine(stderr))
		}
		return fmt.Errorf("%w: process exited: %s", ErrUnavailable, c.exitDetail())
	case <-timer.C:
		return nil
	}
}

// readLoop parses stdout lines into events until the process exits.
func (c *cliConn) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	// Tool results can be large
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

scan:
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		events, err := ParseLine(line)
		if err != nil {
			c.logger.Warn("unparseable stream line", "error", err)
			continue
		}

		for _, ev := range events {
			if ev.Kind == EventInit {
				c.mu.Lock()
				c.sessionID = ev.SessionID
				c.mu.Unlock()
			}
			select {
			case c.events <- ev:
			case <-c.done:
				// Connection is closing with no consumer left. Drain
				// the pipe to EOF before reaping: Wait closes the
				// read side and must not race an in-flight read.
				_, _ = io.Copy(io.Discard, stdout)
				break scan
			}
		}
	}

	c.exitErr = c.wait()
	close(c.exited)
	close(c.events)
}

// exitDetail describes why the process exited, preferring its own stderr
// complaint over the bare exit status. Valid once exited is closed.
func (c *cliConn) exitDetail() string {
	if line := firstLine(c.stderr.String()); line != "" {
		return line
	}
	if c.exitErr != nil {
		return c.exitErr.Error()
	}
	return "no error output"
}

// SessionID returns the backend-issued session id, if observed yet.
func (c *cliConn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// userMessage is the stream-json stdin frame for one user prompt.
type userMessage struct {
	Type    string `json:"type"`
	Message struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

// Submit sends one user message into the session.
func (c *cliConn) Submit(ctx context.Context, text string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg userMessage
	msg.Type = "user"
	msg.Message.Role = "user"
	msg.Message.Content = []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{{Type: "text", Text: text}}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	data = append(data, '\n')

	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("%w: writing to agent: %w", ErrUnavailable, err)
	}
	return nil
}

// Events returns the output event stream.
func (c *cliConn) Events() <-chan Event {
	return c.events
}

// controlRequest is the stream-json stdin frame for control messages.
type controlRequest struct {
	Type    string `json:"type"`
	Request struct {
		Subtype string `json:"subtype"`
	} `json:"request"`
}

// Interrupt asks the agent to stop the current turn. Best effort: the
// session stays usable either way.
func (c *cliConn) Interrupt() error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}

	var req controlRequest
	req.Type = "control_request"
	req.Request.Subtype = "interrupt"

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding interrupt: %w", err)
	}
	data = append(data, '\n')

	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("%w: writing interrupt: %w", ErrUnavailable, err)
	}
	return nil
}

// Close terminates the subprocess. Closing stdin asks the CLI to exit; if
// it lingers past a grace period it is killed. Safe to call multiple times.
func (c *cliConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.done)
		_ = c.stdin.Close()

		select {
		case <-c.exited:
		case <-time.After(3 * time.Second):
			_ = c.cmd.Process.Kill()
			<-c.exited
		}
	})
	return nil
}

// looksLikeResumeRejection matches the CLI's complaint about an unknown
// or expired session id.
func looksLikeResumeRejection(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "no conversation found") ||
		strings.Contains(lower, "session") && strings.Contains(lower, "not found")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
