// ABOUTME: Text generation capability interface and provider selection
// ABOUTME: One active implementation per deployment, chosen from config

package llm

import (
	"context"
	"log/slog"

	"github.com/alphahub/hub/internal/config"
)

// Roles for chat messages handed to a provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is the minimal role-tagged message providers consume.
// Providers map it onto their own schemas.
type Message struct {
	Role    string
	Content string
}

// Provider produces a lazy, finite, non-restartable sequence of text
// fragments for a conversation.
//
// Contract: implementations poll ctx between fragments and stop
// producing, without error, once it is done — cancellation is
// advisory, checked only at fragment boundaries, never preemptive.
// A returned error means the capability is unavailable; fragments
// already delivered through onDelta are not retracted.
type Provider interface {
	Stream(ctx context.Context, msgs []Message, onDelta func(delta string)) error
}

// Select picks the active provider from configuration, once at process
// start. Remote mode with incomplete configuration falls back to the
// mock provider — a deliberate resilience policy, logged so operators
// can tell what is actually serving.
func Select(cfg config.LLMConfig, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "llm")

	if !cfg.Enabled {
		logger.Info("llm disabled, using mock provider")
		return &MockProvider{}
	}

	if cfg.Mode == config.LLMModeRemote {
		if cfg.BaseURL == "" {
			logger.Warn("remote llm requested but base_url is empty, falling back to mock provider")
			return &MockProvider{}
		}
		logger.Info("using remote llm provider", "base_url", cfg.BaseURL, "model", cfg.Model)
		return NewRemoteProvider(RemoteConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			StreamPath: cfg.StreamPath,
			Timeout:    cfg.Timeout,
		})
	}

	logger.Info("using mock llm provider")
	return &MockProvider{}
}
