// ABOUTME: Top-level wiring: store, registry, dispatcher, transports, health
// ABOUTME: New builds the graph; Run blocks until shutdown and tears it down

// Package relay assembles the engine from its parts and runs it. It owns
// process lifecycle: the health HTTP listener, the idle sweeper, transport
// loops, and graceful teardown of every live session on exit.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/agent-relay/internal/access"
	"github.com/2389/agent-relay/internal/backend"
	"github.com/2389/agent-relay/internal/config"
	"github.com/2389/agent-relay/internal/console"
	"github.com/2389/agent-relay/internal/conversation"
	"github.com/2389/agent-relay/internal/dedupe"
	"github.com/2389/agent-relay/internal/dispatch"
	"github.com/2389/agent-relay/internal/session"
	"github.com/2389/agent-relay/internal/settings"
)

// Dedupe window for inbound platform message ids.
const (
	dedupeTTL     = 5 * time.Minute
	dedupeMaxSize = 100_000
)

// Relay is the assembled engine.
type Relay struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      settings.Store
	registry   *session.Registry
	dispatcher *dispatch.Dispatcher
	transports []conversation.Transport
	httpServer *http.Server
	startedAt  time.Time
}

// New wires the engine from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := settings.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening settings store: %w", err)
	}

	opener := backend.NewCLIOpener(backend.CLIConfig{
		Command:        cfg.Backend.Command,
		Args:           cfg.Backend.Args,
		PermissionMode: cfg.Backend.PermissionMode,
		SystemPrompt:   cfg.Backend.SystemPrompt,
	}, logger)

	registry := session.NewRegistry(session.Config{
		QueueLimit:        cfg.Sessions.QueueLimit,
		DefaultWorkingDir: cfg.Backend.WorkingDir,
	}, opener, store, logger)

	gate := access.NewGate(map[string]access.Policy{
		"telegram": {Allowed: cfg.Platforms.Telegram.AllowedChats},
		"slack":    {Allowed: cfg.Platforms.Slack.AllowedChats},
		"console":  {Allowed: cfg.Platforms.Console.AllowedChats},
	})

	retry := session.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}

	dispatcher := dispatch.New(
		dispatch.Config{DefaultWorkingDir: cfg.Backend.WorkingDir},
		gate,
		registry,
		store,
		dedupe.New(dedupeTTL, dedupeMaxSize),
		retry,
		logger,
	)

	r := &Relay{
		cfg:        cfg,
		logger:     logger.With("component", "relay"),
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		startedAt:  time.Now(),
	}

	if cfg.Platforms.Console.Enabled {
		r.transports = append(r.transports, console.New(logger))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", r.handleHealth)
	r.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return r, nil
}

// Run starts the health listener, the idle sweeper, and every configured
// transport, then blocks until ctx is cancelled or a component fails.
func (r *Relay) Run(ctx context.Context) error {
	errCh := make(chan error, len(r.transports)+1)

	if r.cfg.Server.HTTPAddr != "" {
		ln, err := net.Listen("tcp", r.cfg.Server.HTTPAddr)
		if err != nil {
			return fmt.Errorf("listening on HTTP address: %w", err)
		}
		go func() {
			r.logger.Info("HTTP server listening", "addr", ln.Addr().String())
			if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("HTTP server: %w", err)
			}
		}()
	}

	go r.registry.RunSweeper(ctx, r.cfg.Sessions.SweepInterval, r.cfg.Sessions.IdleTimeout)

	if len(r.transports) == 0 {
		r.logger.Warn("no transports enabled; serving health endpoint only")
	}
	for _, t := range r.transports {
		t := t
		go func() {
			r.logger.Info("transport running", "platform", t.Name())
			if err := r.dispatcher.Attach(ctx, t); err != nil {
				errCh <- fmt.Errorf("%s transport: %w", t.Name(), err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("context canceled, initiating shutdown")
	case err := <-errCh:
		r.logger.Error("component failed", "error", err)
		runErr = err
	}

	shutdownErr := r.shutdown()
	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// shutdown tears everything down with a fresh timeout; the run context is
// already cancelled by the time this is called.
func (r *Relay) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := r.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	r.registry.Shutdown()

	if err := r.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing settings store: %w", err))
	}

	r.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// handleHealth reports liveness plus a small status summary.
func (r *Relay) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := struct {
		Status         string `json:"status"`
		ActiveSessions int    `json:"active_sessions"`
		UptimeSeconds  int64  `json:"uptime_seconds"`
	}{
		Status:         "ok",
		ActiveSessions: r.registry.Len(),
		UptimeSeconds:  int64(time.Since(r.startedAt).Seconds()),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		r.logger.Error("writing health response", "error", err)
	}
}
