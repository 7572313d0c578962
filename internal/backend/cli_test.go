// ABOUTME: Tests for the CLI connection's read loop and exit reporting.

package backend

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoopConn(wait func() error) *cliConn {
	return &cliConn{
		stderr: &bytes.Buffer{},
		events: make(chan Event, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		wait:   wait,
		logger: slog.Default(),
	}
}

func TestCLIConn_ExitDetail(t *testing.T) {
	c := newLoopConn(nil)

	assert.Equal(t, "no error output", c.exitDetail())

	c.exitErr = errors.New("exit status 1")
	assert.Equal(t, "exit status 1", c.exitDetail(), "exit status surfaces when stderr is silent")

	c.stderr.WriteString("unknown flag: --frobnicate\nusage: ...")
	assert.Equal(t, "unknown flag: --frobnicate", c.exitDetail(), "stderr wins over the exit status")
}

func TestReadLoop_DrainsStdoutBeforeReaping(t *testing.T) {
	stdout, agent := io.Pipe()

	var reaped atomic.Bool
	c := newLoopConn(func() error {
		reaped.Store(true)
		return nil
	})

	go c.readLoop(stdout)

	// Two lines with no consumer: the first fills the event buffer, the
	// second parks the loop on the send
	line := []byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"x"}]}}` + "\n")
	_, err := agent.Write(line)
	require.NoError(t, err)
	_, err = agent.Write(line)
	require.NoError(t, err)

	close(c.done)

	// The pipe still has a writer, so the loop must be draining, not
	// calling wait against a live read
	assert.Never(t, reaped.Load, 100*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, agent.Close())
	require.Eventually(t, reaped.Load, 2*time.Second, 5*time.Millisecond)

	select {
	case <-c.exited:
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not finish after stdout closed")
	}
}
