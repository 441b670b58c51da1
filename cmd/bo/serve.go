package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fixaren/backoffice/internal/httpapi"
	"github.com/fixaren/backoffice/internal/logging"
	"github.com/fixaren/backoffice/internal/metrics"
	"github.com/fixaren/backoffice/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the stale-lead sweep",
		Long: `Migrates the database, then serves the pipeline API on http.addr until
interrupted. When automation.sweep_schedule is set, stale leads are swept
on that cron schedule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, a)
		},
	}
}

func runServe(ctx context.Context, cmd *cobra.Command, a *app) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	rt, err := a.open(cmd.ErrOrStderr(), openOpts{cfg: cfg, log: log, metrics: m, migrate: true})
	if err != nil {
		return err
	}
	defer rt.Close()
	log.Infow("event sinks ready", "count", rt.events.Len())

	srv, err := httpapi.New(httpapi.Options{
		Service:   rt.svc,
		JWTSecret: rt.cfg.HTTP.JWTSecret,
		RateLimit: rt.cfg.HTTP.RateLimit,
		Burst:     rt.cfg.HTTP.Burst,
		Log:       log,
		Metrics:   m,
		Gatherer:  reg,
	})
	if err != nil {
		return fmt.Errorf("serve: %w (set http.jwt_secret or BO_JWT_SECRET)", err)
	}

	if expr := rt.cfg.Automation.SweepSchedule; expr != "" {
		sched, err := scheduler.New(rt.svc, expr, log.Named("sweep"))
		if err != nil {
			return err
		}
		go sched.Run(ctx)
	}

	return srv.Run(ctx, rt.cfg.HTTP.Addr, cmd.OutOrStdout())
}
