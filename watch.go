package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/reporoute/internal/config"
)

type watchFlags struct {
	metricsAddr string
	prewarm     bool
}

func newWatchCmd() *cobra.Command {
	var f watchFlags

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the repository registry in sync with the config file",
		Long: `Runs in the foreground, reloading the config file when it changes or on
SIGHUP and re-registering its repositories. Optionally serves Prometheus
metrics and pre-builds sessions after every reload.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().BoolVar(&f.prewarm, "prewarm", false, "build sessions for authenticated repositories after each load")

	return cmd
}

func runWatch(cmd *cobra.Command, f watchFlags) error {
	cc := cliContextFrom(cmd.Context())
	logger := cc.Logger

	a, err := newApp(cc)
	if err != nil {
		return err
	}

	ctx := shutdownContext(cmd.Context(), logger)

	var ln net.Listener
	if f.metricsAddr != "" {
		var lc net.ListenConfig

		ln, err = lc.Listen(ctx, "tcp", f.metricsAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", f.metricsAddr, err)
		}
	}

	prewarm := func() {
		if !f.prewarm {
			return
		}

		go prewarmAndLog(ctx, a, logger)
	}

	w := config.NewWatcher(config.NewHolder(cc.Cfg, cc.CfgPath), a.sync, logger)
	w.OnReload(func(_ *config.Config, report config.SyncReport) {
		logger.Info("registry updated",
			slog.Int("repositories", a.registry.Len()),
			slog.Int("added", report.Added),
			slog.Int("removed", report.Removed),
		)

		if report.Added > 0 || report.Updated > 0 {
			prewarm()
		}
	})

	onHangup(ctx, logger, func() {
		if err := w.Reload(); err != nil {
			logger.Warn("config reload failed", slog.String("error", err.Error()))
		}
	})

	cc.Statusf("Watching %s (%d repositories)\n", cc.CfgPath, a.registry.Len())
	prewarm()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })

	if ln != nil {
		g.Go(func() error { return serveMetrics(gctx, ln, a.metrics, logger) })
	}

	return g.Wait()
}

func prewarmAndLog(ctx context.Context, a *app, logger *slog.Logger) {
	results, err := a.dispatcher.Prewarm(ctx, 0)
	if err != nil {
		return
	}

	_, failed := toCheckResults(results)
	logger.Info("sessions prewarmed",
		slog.Int("repositories", len(results)),
		slog.Int("failed", failed),
	)
}
