package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"modelgate/internal/domain"
	"modelgate/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

var _ domain.Backend = (*BreakerBackend)(nil)

// BreakerBackend wraps a Backend with a circuit breaker. While the circuit is
// open, generation calls fail fast with a request failure and never reach the
// network. Probes bypass the breaker so the health monitor still sees the
// real liveness of the server.
type BreakerBackend struct {
	inner   domain.Backend
	breaker *gobreaker.CircuitBreaker[*domain.BackendResponse]
}

// NewBreakerBackend wraps inner. Zero-valued cfg fields take the defaults.
func NewBreakerBackend(inner domain.Backend, cfg config.CircuitBreakerConfig, logger *slog.Logger) *BreakerBackend {
	maxFailures := orDefault(cfg.MaxFailures, defaultCBMaxFailures)
	timeout := orDefault(cfg.Timeout, defaultCBTimeout)
	interval := orDefault(cfg.Interval, defaultCBInterval)
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[*domain.BackendResponse](gobreaker.Settings{
		Name:        "backend:" + inner.ID(),
		MaxRequests: 1, // one trial request while half-open
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// A caller hanging up says nothing about the backend.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &BreakerBackend{inner: inner, breaker: cb}
}

// ID implements domain.Backend.
func (b *BreakerBackend) ID() string { return b.inner.ID() }

// Generate implements domain.Backend.
func (b *BreakerBackend) Generate(ctx context.Context, payload domain.BackendPayload) (*domain.BackendResponse, error) {
	resp, err := b.breaker.Execute(func() (*domain.BackendResponse, error) {
		return b.inner.Generate(ctx, payload)
	})
	if err != nil {
		return nil, b.wrap(err)
	}
	return resp, nil
}

// GenerateStream implements domain.Backend. Errors raised by fn are the
// caller's and do not count against the backend.
func (b *BreakerBackend) GenerateStream(ctx context.Context, payload domain.BackendPayload, fn domain.ChunkFunc) (*domain.BackendResponse, error) {
	var fnErr error
	resp, err := b.breaker.Execute(func() (*domain.BackendResponse, error) {
		r, err := b.inner.GenerateStream(ctx, payload, func(text string) error {
			if err := fn(text); err != nil {
				fnErr = err
				return err
			}
			return nil
		})
		if fnErr != nil {
			return nil, nil
		}
		return r, err
	})
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		return nil, b.wrap(err)
	}
	return resp, nil
}

// Probe implements domain.Backend without going through the breaker.
func (b *BreakerBackend) Probe(ctx context.Context) error {
	return b.inner.Probe(ctx)
}

// State returns the current breaker state.
func (b *BreakerBackend) State() gobreaker.State {
	return b.breaker.State()
}

func (b *BreakerBackend) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: backend %s circuit open: %w", domain.ErrBackendRequestFailed, b.inner.ID(), err)
	}
	return err
}
