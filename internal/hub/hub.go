// ABOUTME: Hub orchestrates the server components and their lifecycle
// ABOUTME: Wires store, blob, events, capabilities, llm, orchestrator and HTTP

package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alphahub/hub/internal/api"
	"github.com/alphahub/hub/internal/auth"
	"github.com/alphahub/hub/internal/blob"
	"github.com/alphahub/hub/internal/capability"
	"github.com/alphahub/hub/internal/config"
	"github.com/alphahub/hub/internal/events"
	"github.com/alphahub/hub/internal/llm"
	"github.com/alphahub/hub/internal/orchestrator"
	"github.com/alphahub/hub/internal/store"
)

// Hub owns the server components: message log, blob store, event bus,
// capability registry, generation provider, orchestrator and the HTTP
// server fronting them.
type Hub struct {
	cfg        *config.Config
	store      store.Store
	blobs      *blob.Store
	bus        *events.Bus
	caps       *capability.Registry
	orch       *orchestrator.Orchestrator
	httpServer *http.Server
	logger     *slog.Logger
}

// SetupLogger installs the process-wide slog default from logging
// config and returns it.
func SetupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// New builds a Hub from configuration.
func New(cfg *config.Config) (*Hub, error) {
	logger := SetupLogger(cfg.Logging)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	blobs, err := blob.NewStore(cfg.Attachments.Dir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initializing attachment store: %w", err)
	}

	bus := events.NewBus()
	caps := capability.NewRegistry()
	provider := llm.Select(cfg.LLM, logger)

	registerCapabilities(caps, cfg)

	orch := orchestrator.New(st, bus, provider, cfg.Chat.ContextLimit, cfg.Chat.SystemPrompt, logger)
	verifier := auth.FromConfig(cfg.Auth.Token, cfg.Auth.JWTSecret)

	apiServer := api.New(st, blobs, bus, caps, orch, verifier, logger)

	h := &Hub{
		cfg:    cfg,
		store:  st,
		blobs:  blobs,
		bus:    bus,
		caps:   caps,
		orch:   orch,
		logger: logger.With("component", "hub"),
		httpServer: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           apiServer.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	return h, nil
}

// registerCapabilities fills the snapshot clients read for graceful
// degradation. The llm row is down when remote mode lacks an api key;
// the provider itself already fell back to mock in that case.
func registerCapabilities(caps *capability.Registry, cfg *config.Config) {
	caps.Set(capability.State{Name: "kernel", Status: capability.StatusUp, NotifyPolicyDefault: events.NotifyNone, Enabled: true, Mode: "server"})
	caps.Set(capability.State{Name: "storage", Status: capability.StatusUp, NotifyPolicyDefault: events.NotifyNone, Enabled: true, Mode: "sqlite"})
	caps.Set(capability.State{Name: "attachments", Status: capability.StatusUp, NotifyPolicyDefault: events.NotifyNone, Enabled: true, Mode: "fs"})
	caps.Set(capability.State{Name: "events", Status: capability.StatusUp, NotifyPolicyDefault: events.NotifyNone, Enabled: true, Mode: "inprocess"})

	llmStatus := capability.StatusUp
	if cfg.LLM.Mode == config.LLMModeRemote && cfg.LLM.APIKey == "" {
		llmStatus = capability.StatusDown
	}
	caps.Set(capability.State{Name: "llm", Status: llmStatus, NotifyPolicyDefault: events.NotifyExplicit, Enabled: cfg.LLM.Enabled, Mode: cfg.LLM.Mode})
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (h *Hub) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("hub listening", "addr", h.httpServer.Addr)
		if err := h.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		h.store.Close()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.Shutdown(shutdownCtx)
}

// Shutdown stops the HTTP server and closes the store.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.logger.Info("hub shutting down")

	var firstErr error
	if err := h.httpServer.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("http shutdown: %w", err)
	}
	if err := h.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	return firstErr
}

// Bus exposes the event bus for embedding callers that want to attach
// observers before Run.
func (h *Hub) Bus() *events.Bus {
	return h.bus
}
