package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"modelgate/internal/adapter/gateway"
	"modelgate/internal/infra/logger"
	"modelgate/internal/usecase/scheduling"
)

func newServeCmd(cfgPath func() string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway with background health sweeps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfgPath())
			defer a.Close()
			if err != nil {
				return err
			}
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

// serve runs the gateway and the maintenance scheduler until ctx ends.
func serve(ctx context.Context, a *app) error {
	sched := scheduling.NewScheduler(logger.Component(a.logger, "scheduler"))
	if err := registerMaintenance(sched, a); err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	srv := gateway.NewServer(a.cfg.Server, gateway.HandlerDeps{
		Dispatcher: a.dispatcher,
		Health:     a.monitor,
		Usage:      a.usage,
		Jobs:       sched,
		Agents:     a.registry.Agents(),
		Version:    version,
		Logger:     logger.Component(a.logger, "gateway"),
	})
	return srv.Start(ctx)
}

// registerMaintenance adds the health sweep and usage pruning jobs.
func registerMaintenance(sched *scheduling.Scheduler, a *app) error {
	if a.cfg.Health.Background {
		err := sched.Add(scheduling.Job{
			Name:      "health-sweep",
			Schedule:  scheduling.Every(a.monitor.Interval()),
			Run:       a.monitor.Sweep,
			Immediate: true,
			Timeout:   a.monitor.Interval(),
		})
		if err != nil {
			return err
		}
	}

	if a.usage == nil || a.cfg.Usage.Retention <= 0 {
		return nil
	}
	store, retention := a.usage, a.cfg.Usage.Retention
	log := logger.Component(a.logger, "usage")
	schedule := a.cfg.Usage.PruneSchedule
	if schedule == "" {
		schedule = "@daily"
	}
	return sched.Add(scheduling.Job{
		Name:      "usage-prune",
		Schedule:  schedule,
		Immediate: true,
		Run: func(ctx context.Context) error {
			n, err := store.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				return err
			}
			if n > 0 {
				log.Info("usage rows pruned", "rows", n, "retention", retention)
			}
			return nil
		},
	})
}
