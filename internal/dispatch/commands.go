// ABOUTME: Slash command handling: reset, cwd, set_cwd, settings, status, stop
// ABOUTME: Commands bypass the turn queue and act on the session immediately

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/2389/agent-relay/internal/conversation"
	"github.com/2389/agent-relay/internal/session"
	"github.com/2389/agent-relay/internal/settings"
)

const helpText = `Send any message to talk to the agent. Commands:
/reset — close the session and forget its history
/cwd — show the working directory
/set_cwd <path> — change the working directory (restarts the session)
/settings [kind] — show or toggle output visibility
/status — session and queue state
/stop — interrupt the current turn and clear the queue`

// handleCommand parses and executes a slash command. Unknown commands get
// a pointer to /help rather than being forwarded to the agent.
func (d *Dispatcher) handleCommand(ctx context.Context, key conversation.Key, text string, sink conversation.Sink) {
	fields := strings.Fields(text)
	name := strings.ToLower(fields[0])
	// Group chats address commands to a specific bot: /reset@relaybot
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}
	args := fields[1:]

	d.logger.Info("command", "key", key.String(), "command", name)

	switch name {
	case "/reset":
		d.cmdReset(ctx, key, sink)
	case "/cwd":
		d.cmdShowCwd(ctx, key, sink)
	case "/set_cwd":
		d.cmdSetCwd(ctx, key, args, sink)
	case "/settings":
		d.cmdSettings(ctx, key, args, sink)
	case "/status":
		d.cmdStatus(ctx, key, sink)
	case "/stop":
		d.cmdStop(key, sink)
	case "/start", "/help":
		d.notify(sink, key, helpText)
	default:
		d.notify(sink, key, fmt.Sprintf("Unknown command %s. Send /help for the command list.", name))
	}
}

// cmdReset tears down the live session and clears the persisted session id,
// so the next message starts a brand-new conversation with the agent.
func (d *Dispatcher) cmdReset(ctx context.Context, key conversation.Key, sink conversation.Sink) {
	d.registry.Destroy(key)
	if err := d.settings.ClearSessionID(ctx, key.String()); err != nil {
		d.logger.Error("clearing session id", "key", key.String(), "error", err)
		d.notify(sink, key, "Session closed, but clearing the stored history reference failed; /reset again if the old conversation resumes.")
		return
	}
	d.notify(sink, key, "Session reset. The next message starts a fresh conversation.")
}

// cmdShowCwd reports the effective working directory.
func (d *Dispatcher) cmdShowCwd(ctx context.Context, key conversation.Key, sink conversation.Sink) {
	dir := d.cfg.DefaultWorkingDir
	source := "default"

	m, err := d.settings.Get(ctx, key.String())
	if err == nil && m.WorkingDir != "" {
		dir = m.WorkingDir
		source = "set by /set_cwd"
	} else if err != nil && !errors.Is(err, settings.ErrNotFound) {
		d.logger.Error("loading settings", "key", key.String(), "error", err)
	}

	if dir == "" {
		dir = "(process working directory)"
	}
	d.notify(sink, key, fmt.Sprintf("Working directory: %s (%s)", dir, source))
}

// cmdSetCwd stores a working directory override and restarts the session so
// the next turn runs in it.
func (d *Dispatcher) cmdSetCwd(ctx context.Context, key conversation.Key, args []string, sink conversation.Sink) {
	if len(args) != 1 {
		d.notify(sink, key, "Usage: /set_cwd <absolute path>")
		return
	}
	dir := args[0]
	if !filepath.IsAbs(dir) {
		d.notify(sink, key, "The working directory must be an absolute path.")
		return
	}

	if err := d.settings.SetWorkingDir(ctx, key.String(), dir); err != nil {
		d.logger.Error("setting working dir", "key", key.String(), "error", err)
		d.notify(sink, key, "Could not save the working directory; nothing changed.")
		return
	}

	restarted := d.registry.Destroy(key)
	msg := fmt.Sprintf("Working directory set to %s.", dir)
	if restarted {
		msg += " The session was restarted; the next message resumes it there."
	}
	d.notify(sink, key, msg)
}

// cmdSettings shows or toggles hidden output kinds.
func (d *Dispatcher) cmdSettings(ctx context.Context, key conversation.Key, args []string, sink conversation.Sink) {
	m, err := d.settings.Get(ctx, key.String())
	if err != nil && !errors.Is(err, settings.ErrNotFound) {
		d.logger.Error("loading settings", "key", key.String(), "error", err)
		d.notify(sink, key, "Could not load settings.")
		return
	}
	if m == nil {
		m = &settings.Mapping{Key: key.String()}
	}

	if len(args) == 0 {
		var b strings.Builder
		b.WriteString("Output visibility — send /settings <kind> to toggle:\n")
		for _, kind := range conversation.FilterableKinds() {
			state := "shown"
			if m.IsHidden(string(kind)) {
				state = "hidden"
			}
			fmt.Fprintf(&b, "  %s: %s\n", kind, state)
		}
		d.notify(sink, key, strings.TrimRight(b.String(), "\n"))
		return
	}

	kind := strings.ToLower(args[0])
	valid := false
	for _, k := range conversation.FilterableKinds() {
		if string(k) == kind {
			valid = true
			break
		}
	}
	if !valid {
		d.notify(sink, key, fmt.Sprintf("Unknown kind %q. Toggleable kinds: %s.", kind, kindList()))
		return
	}

	var hidden []string
	removed := false
	for _, h := range m.Hidden {
		if h == kind {
			removed = true
			continue
		}
		hidden = append(hidden, h)
	}
	if !removed {
		hidden = append(hidden, kind)
	}

	if err := d.settings.SetHidden(ctx, key.String(), hidden); err != nil {
		d.logger.Error("saving settings", "key", key.String(), "error", err)
		d.notify(sink, key, "Could not save settings; nothing changed.")
		return
	}

	if removed {
		d.notify(sink, key, fmt.Sprintf("%s output is now shown.", kind))
	} else {
		d.notify(sink, key, fmt.Sprintf("%s output is now hidden.", kind))
	}
}

func kindList() string {
	kinds := conversation.FilterableKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

// cmdStatus reports the live session and queue state for this conversation.
func (d *Dispatcher) cmdStatus(ctx context.Context, key conversation.Key, sink conversation.Sink) {
	var b strings.Builder

	rec, ok := d.registry.Get(key)
	if !ok {
		b.WriteString("No active session.")
		if m, err := d.settings.Get(ctx, key.String()); err == nil && m.SessionID != "" {
			b.WriteString(" The next message resumes the stored conversation.")
		}
	} else {
		fmt.Fprintf(&b, "Session %s: %s", shortID(rec.ID), rec.State())
		if n := rec.QueueLen(); n > 0 {
			fmt.Fprintf(&b, ", %d message(s) queued", n)
		}
		fmt.Fprintf(&b, ". Last activity %s ago.", time.Since(rec.LastActivity()).Round(time.Second))
	}

	fmt.Fprintf(&b, " Active sessions: %d.", d.registry.Len())
	d.notify(sink, key, b.String())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// cmdStop interrupts the in-flight turn cooperatively and clears the
// pending queue. The session itself stays alive. A session still being
// created has its open cancelled instead.
func (d *Dispatcher) cmdStop(key conversation.Key, sink conversation.Sink) {
	rec, ok := d.registry.Get(key)
	if !ok {
		if d.registry.CancelCreation(key) {
			d.notify(sink, key, "Session creation cancelled.")
		} else {
			d.notify(sink, key, "Nothing is running.")
		}
		return
	}

	discarded := rec.ClearQueue()

	if rec.State() != session.StateBusy {
		if discarded > 0 {
			d.notify(sink, key, fmt.Sprintf("%d queued message(s) discarded.", discarded))
		} else {
			d.notify(sink, key, "Nothing is running.")
		}
		return
	}

	if err := rec.Conn().Interrupt(); err != nil {
		d.logger.Warn("interrupt failed, cancelling receiver", "key", key.String(), "error", err)
		rec.CancelTurn()
	}

	msg := "Stopping the current turn…"
	if discarded > 0 {
		msg = fmt.Sprintf("Stopping the current turn… %d queued message(s) discarded.", discarded)
	}
	d.notify(sink, key, msg)
}
