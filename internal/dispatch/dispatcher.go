// ABOUTME: Dispatcher routes inbound platform messages to sessions
// ABOUTME: Gate → dedupe → command or turn; owns the per-turn receiver loop

// Package dispatch is the engine core: it accepts inbound messages from
// platform transports, applies access and dedupe checks, and drives agent
// turns against the session registry. Exactly one receiver loop per session
// consumes backend events at a time; messages that arrive mid-turn queue in
// FIFO order on the session record.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/agent-relay/internal/access"
	"github.com/2389/agent-relay/internal/backend"
	"github.com/2389/agent-relay/internal/conversation"
	"github.com/2389/agent-relay/internal/dedupe"
	"github.com/2389/agent-relay/internal/session"
	"github.com/2389/agent-relay/internal/settings"
)

// Config holds dispatcher tunables.
type Config struct {
	// DefaultWorkingDir is reported by /cwd when no override is stored
	DefaultWorkingDir string
}

// Dispatcher wires the access gate, dedupe window, session registry, and
// settings store into one inbound message path.
type Dispatcher struct {
	cfg      Config
	gate     *access.Gate
	registry *session.Registry
	settings settings.Store
	seen     *dedupe.Window
	retry    session.RetryPolicy
	logger   *slog.Logger
}

// New creates a Dispatcher.
func New(cfg Config, gate *access.Gate, registry *session.Registry, store settings.Store, seen *dedupe.Window, retry session.RetryPolicy, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:      cfg,
		gate:     gate,
		registry: registry,
		settings: store,
		seen:     seen,
		retry:    retry,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Attach runs a transport's inbound loop, dispatching each message into the
// engine. Blocks until the transport shuts down.
func (d *Dispatcher) Attach(ctx context.Context, t conversation.Transport) error {
	sink := NewTransportSink(t, d.logger)
	return t.Run(func(key conversation.Key, messageID, text string) {
		d.HandleInbound(ctx, key, messageID, text, sink)
	})
}

// HandleInbound processes one inbound platform message end to end. It
// returns quickly: turns run on their own goroutine so one conversation's
// long turn never stalls another's.
func (d *Dispatcher) HandleInbound(ctx context.Context, key conversation.Key, messageID, text string, sink conversation.Sink) {
	log := d.logger.With("key", key.String())

	if !d.gate.Allow(key) {
		log.Warn("access denied", "user", key.UserID)
		if key.Direct {
			d.notify(sink, key, "You're not on the allow list for this relay.")
		}
		return
	}

	if messageID != "" && d.seen.Observe(key.Platform+":"+messageID) {
		log.Debug("duplicate message dropped", "message_id", messageID)
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if strings.HasPrefix(text, "/") {
		d.handleCommand(ctx, key, text, sink)
		return
	}

	d.handleMessage(ctx, key, text, sink)
}

// handleMessage routes a plain text message: start a turn if the session is
// idle, queue it if a turn is in flight.
func (d *Dispatcher) handleMessage(ctx context.Context, key conversation.Key, text string, sink conversation.Sink) {
	rec, err := d.acquire(ctx, key)
	if err != nil {
		d.logger.Error("session unavailable", "key", key.String(), "error", err)
		d.notify(sink, key, "The agent backend is unavailable right now. Please try again shortly.")
		return
	}

	// The turn outlives this handler call, so it gets its own context;
	// cancellation comes from /stop or teardown, not the inbound request.
	turnCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	started, err := rec.EnqueueOrBegin(text, cancel)
	if err != nil {
		cancel()
		if errors.Is(err, session.ErrQueueFull) {
			d.notify(sink, key, "The queue for this session is full; message discarded.")
		} else {
			d.notify(sink, key, "The session is shutting down; please resend in a moment.")
		}
		return
	}
	if !started {
		cancel()
		d.notify(sink, key, fmt.Sprintf("Queued at position %d; it will run when the current turn finishes.", rec.QueueLen()))
		return
	}

	go d.runTurn(turnCtx, cancel, key, rec, text, sink)
}

// acquire resolves the session record for a key, retrying transient open
// failures per the retry policy.
func (d *Dispatcher) acquire(ctx context.Context, key conversation.Key) (*session.Record, error) {
	for attempt := 1; ; attempt++ {
		rec, err := d.registry.GetOrCreate(ctx, key)
		if err == nil {
			return rec, nil
		}
		kind := session.Classify(err)
		if !d.retry.ShouldRetry(kind, attempt) {
			return nil, err
		}
		delay := d.retry.Backoff(attempt)
		d.logger.Warn("backend open failed, retrying",
			"key", key.String(),
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runTurn is the receiver loop for one ownership of the session: it runs
// the first turn, then drains the pending queue before releasing the
// session back to idle. It is the only goroutine reading the connection's
// event stream while it runs.
func (d *Dispatcher) runTurn(ctx context.Context, cancel context.CancelFunc, key conversation.Key, rec *session.Record, first string, sink conversation.Sink) {
	defer cancel()
	log := d.logger.With("key", key.String(), "record_id", rec.ID)

	current := first
	retried := false
	for {
		err := d.turn(ctx, key, rec, current, sink)
		switch {
		case err == nil:
			retried = false

		case ctx.Err() != nil:
			// Stopped or shutting down. A message that slipped into the
			// queue after the stop cleared it must still run; hand it to
			// a fresh receiver since this context is dead.
			freshCtx, freshCancel := context.WithCancel(context.WithoutCancel(ctx))
			next, more := rec.FinishTurn(freshCancel)
			if !more {
				freshCancel()
				return
			}
			go d.runTurn(freshCtx, freshCancel, key, rec, next, sink)
			return

		default:
			kind := session.Classify(err)
			if kind == session.KindTransient && !retried {
				retried = true
				log.Warn("stream interrupted, reopening session", "error", err)
				d.notify(sink, key, "Connection to the agent was interrupted; reconnecting…")

				next, started, ok := d.reopen(ctx, cancel, key, rec, current, sink)
				if !ok {
					return
				}
				if !started {
					// A racing message took the fresh session; our
					// text is queued behind it and its receiver will
					// run it
					return
				}
				rec = next
				log = d.logger.With("key", key.String(), "record_id", rec.ID)
				continue
			}

			log.Error("turn failed", "kind", kind.String(), "error", err)
			discarded := rec.ClearQueue()
			d.registry.Destroy(key)
			msg := "The agent session failed and has been closed."
			if discarded > 0 {
				msg = fmt.Sprintf("%s %d queued message(s) were discarded.", msg, discarded)
			}
			sink.Emit(key, conversation.OutputEvent{Kind: conversation.KindError, Text: msg})
			return
		}

		next, more := rec.FinishTurn(cancel)
		if !more {
			return
		}
		current = next
	}
}

// reopen replaces a dead record with a fresh session resumed from the
// persisted mapping, carrying the pending queue across. Returns the new
// record, whether this goroutine still owns the turn, and whether the
// reopen succeeded at all.
func (d *Dispatcher) reopen(ctx context.Context, cancel context.CancelFunc, key conversation.Key, old *session.Record, current string, sink conversation.Sink) (*session.Record, bool, bool) {
	var pending []string
	for {
		msg, ok := old.DequeueNext()
		if !ok {
			break
		}
		pending = append(pending, msg)
	}

	// Destroying the old record must not cancel this receiver's context
	old.DetachTurn()
	d.registry.Destroy(key)

	select {
	case <-ctx.Done():
		return nil, false, false
	case <-time.After(d.retry.Backoff(1)):
	}

	rec, err := d.acquire(ctx, key)
	if err != nil {
		d.logger.Error("reopen failed", "key", key.String(), "error", err)
		lost := len(pending) + 1
		sink.Emit(key, conversation.OutputEvent{
			Kind: conversation.KindError,
			Text: fmt.Sprintf("Could not reconnect to the agent; %d message(s) were discarded.", lost),
		})
		return nil, false, false
	}

	started, err := rec.EnqueueOrBegin(current, cancel)
	if err != nil {
		d.notify(sink, key, "The session is shutting down; please resend in a moment.")
		return nil, false, false
	}
	if !started {
		// Another inbound message reached the fresh session first;
		// hand the queue to its receiver and bow out. Requeueing here
		// is safe only while we own the turn, so the pending tail is
		// dropped in this rare race.
		if len(pending) > 0 {
			d.notify(sink, key, fmt.Sprintf("%d queued message(s) were dropped during the reconnect.", len(pending)))
		}
		return rec, false, true
	}

	for i, msg := range pending {
		// The record stays Busy while we own the turn, so these append
		// to the queue rather than starting turns
		if _, err := rec.EnqueueOrBegin(msg, nil); err != nil {
			d.notify(sink, key, fmt.Sprintf("%d queued message(s) were dropped during the reconnect.", len(pending)-i))
			break
		}
	}
	return rec, true, true
}

// turn submits one message and consumes events until the backend signals
// the end of the turn. Any stream failure surfaces as an error for the
// caller to classify.
func (d *Dispatcher) turn(ctx context.Context, key conversation.Key, rec *session.Record, text string, sink conversation.Sink) error {
	conn := rec.Conn()
	if err := conn.Submit(ctx, text); err != nil {
		return err
	}

	hidden := d.hiddenKinds(ctx, key)
	persisted := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-conn.Events():
			if !ok {
				return fmt.Errorf("%w: event stream ended mid-turn", backend.ErrUnavailable)
			}
			rec.Touch()

			switch ev.Kind {
			case backend.EventInit:
				if ev.SessionID != "" && !persisted {
					persisted = true
					d.persistSessionID(ctx, key, ev.SessionID)
				}

			case backend.EventThinking:
				if !hidden[conversation.KindThinking] {
					sink.Emit(key, conversation.OutputEvent{Kind: conversation.KindThinking, Text: ev.Text})
				}

			case backend.EventText:
				sink.Emit(key, conversation.OutputEvent{Kind: conversation.KindText, Text: ev.Text})

			case backend.EventToolUse:
				if !hidden[conversation.KindToolUse] && ev.ToolUse != nil {
					sink.Emit(key, conversation.OutputEvent{
						Kind:      conversation.KindToolUse,
						ToolName:  ev.ToolUse.Name,
						ToolInput: ev.ToolUse.InputJSON,
					})
				}

			case backend.EventToolResult:
				if !hidden[conversation.KindToolResult] && ev.ToolResult != nil {
					sink.Emit(key, conversation.OutputEvent{
						Kind:    conversation.KindToolResult,
						Text:    ev.ToolResult.Output,
						IsError: ev.ToolResult.IsError,
					})
				}

			case backend.EventResult:
				if ev.SessionID != "" && !persisted {
					persisted = true
					d.persistSessionID(ctx, key, ev.SessionID)
				}
				if ev.IsError {
					sink.Emit(key, conversation.OutputEvent{Kind: conversation.KindError, Text: ev.Text})
				}
				sink.Emit(key, conversation.OutputEvent{Kind: conversation.KindTurnComplete, DurationMS: ev.DurationMS})
				return nil

			case backend.EventError:
				sink.Emit(key, conversation.OutputEvent{Kind: conversation.KindError, Text: ev.Text})
				return nil
			}
		}
	}
}

// persistSessionID stores a backend-issued session id so a later restart
// can resume the conversation.
func (d *Dispatcher) persistSessionID(ctx context.Context, key conversation.Key, sessionID string) {
	if err := d.settings.SetSessionID(ctx, key.String(), sessionID); err != nil {
		d.logger.Error("persisting session id", "key", key.String(), "error", err)
	}
}

// hiddenKinds loads the visibility preferences for a key. Missing mappings
// and read errors fall back to showing everything.
func (d *Dispatcher) hiddenKinds(ctx context.Context, key conversation.Key) map[conversation.EventKind]bool {
	out := make(map[conversation.EventKind]bool)
	m, err := d.settings.Get(ctx, key.String())
	if err != nil {
		return out
	}
	for _, h := range m.Hidden {
		out[conversation.EventKind(h)] = true
	}
	return out
}

// notify emits an informational notice to the conversation.
func (d *Dispatcher) notify(sink conversation.Sink, key conversation.Key, text string) {
	sink.Emit(key, conversation.OutputEvent{Kind: conversation.KindNotice, Text: text})
}
