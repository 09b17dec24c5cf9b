package llm

import (
	"context"
	"log/slog"

	"modelgate/internal/domain"
	"modelgate/internal/infra/config"
)

// NewBackends builds one client per registered backend, sharing a pooled
// HTTP client. With the circuit breaker enabled each client is wrapped.
func NewBackends(reg *Registry, cfg *config.Config, logger *slog.Logger) (map[string]domain.Backend, error) {
	httpClient := NewHTTPClient(cfg.Pool)

	out := make(map[string]domain.Backend, len(reg.Backends()))
	for _, desc := range reg.Backends() {
		var b domain.Backend
		ob, err := NewOllamaBackend(desc, httpClient, logger)
		if err != nil {
			return nil, err
		}
		b = ob
		if cfg.CircuitBreaker.Enabled {
			b = NewBreakerBackend(b, cfg.CircuitBreaker, logger)
		}
		out[desc.ID] = b
		logger.Debug("backend client ready",
			"backend", desc.ID,
			"endpoint", desc.Endpoint,
			"model", desc.Model,
			"circuit_breaker", cfg.CircuitBreaker.Enabled,
		)
	}
	return out, nil
}

// NewFallback builds the configured cloud fallback, or returns nil when it is
// disabled or has no credentials and no custom base URL. Without cfg.Stream
// the provider does not expose native streaming.
func NewFallback(cfg config.FallbackConfig, logger *slog.Logger) domain.FallbackProvider {
	if !cfg.Enabled {
		return nil
	}
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		logger.Warn("fallback enabled but no api_key or base_url configured; running without fallback",
			"provider", cfg.Name)
		return nil
	}
	switch cfg.Type {
	case "openai", "":
		fb := NewOpenAIFallback(cfg, nil, logger)
		if !cfg.Stream {
			return completeOnly{fb}
		}
		return fb
	default:
		logger.Warn("unknown fallback type; running without fallback", "type", cfg.Type)
		return nil
	}
}

// completeOnly exposes a fallback's Complete but not CompleteStream.
type completeOnly struct {
	p *OpenAIFallback
}

func (c completeOnly) Name() string  { return c.p.Name() }
func (c completeOnly) Model() string { return c.p.Model() }

func (c completeOnly) Complete(ctx context.Context, prompt string, opts domain.FallbackOptions) (string, error) {
	return c.p.Complete(ctx, prompt, opts)
}
