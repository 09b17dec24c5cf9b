package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"modelgate/internal/adapter/llm"
	"modelgate/internal/adapter/usage"
	"modelgate/internal/domain"
	"modelgate/internal/infra/config"
	"modelgate/internal/infra/logger"
	"modelgate/internal/infra/tracer"
	"modelgate/internal/usecase/dispatch"
	"modelgate/internal/usecase/health"
)

const shutdownTimeout = 10 * time.Second

// app holds the wired components shared by every subcommand.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	registry   *llm.Registry
	backends   map[string]domain.Backend
	fallback   domain.FallbackProvider
	monitor    *health.Monitor
	usage      domain.UsageStore // nil when usage accounting is disabled
	dispatcher *dispatch.Dispatcher

	closers []func(context.Context) error
}

// newApp loads the config at cfgPath and wires the dispatch pipeline.
// The caller must call Close, even when an error is returned.
func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return &app{}, fmt.Errorf("load config: %w", err)
	}
	return newAppFromConfig(ctx, cfg)
}

func newAppFromConfig(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return a, err
	}
	a.logger = log
	a.closers = append(a.closers, func(context.Context) error { return closeLog() })

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer, tracer.WithServiceVersion(version))
	if err != nil {
		return a, fmt.Errorf("tracer: %w", err)
	}
	a.closers = append(a.closers, shutdownTracer)

	a.registry, err = llm.NewRegistryFromConfig(cfg)
	if err != nil {
		return a, err
	}
	a.backends, err = llm.NewBackends(a.registry, cfg, logger.Component(log, "llm"))
	if err != nil {
		return a, err
	}
	a.fallback = llm.NewFallback(cfg.Fallback, logger.Component(log, "fallback"))
	a.monitor = health.NewMonitor(a.registry, a.backends, cfg.Health, logger.Component(log, "health"))

	deps := dispatch.Deps{
		Routes:          a.registry,
		Backends:        a.backends,
		BuildPayload:    llm.BuildPayload,
		FallbackOptions: llm.FallbackOptionsFor,
		Health:          a.monitor,
		Fallback:        a.fallback,
		RequestTimeout:  cfg.Dispatch.RequestTimeout,
		Logger:          logger.Component(log, "dispatch"),
	}
	if cfg.Usage.Enabled {
		store, err := usage.NewSQLiteStore(cfg.Usage.Path)
		if err != nil {
			return a, err
		}
		a.usage = store
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		deps.Usage = store
	}

	a.dispatcher, err = dispatch.NewDispatcher(deps)
	if err != nil {
		return a, err
	}

	log.Info("modelgate wired",
		"backends", len(a.backends),
		"agents", len(a.registry.Agents()),
		"fallback", a.fallback != nil,
		"usage", a.usage != nil,
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
