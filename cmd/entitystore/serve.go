package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devrev/pairdb/entitystore/internal/config"
	"github.com/devrev/pairdb/entitystore/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the repair processor, health checks and the admin server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()
		return a.serve(ctx)
	},
}

func (a *app) serve(ctx context.Context) error {
	var gatherer prometheus.Gatherer
	if a.cfg.Metrics.Enabled {
		gatherer = a.registry
	}
	var refresher server.IndexRefresher
	if a.refresher != nil {
		refresher = a.refresher
	}

	admin := server.NewAdminServer(server.Config{
		Address:         a.cfg.Server.Address(),
		ReadTimeout:     a.cfg.Server.ReadTimeout,
		WriteTimeout:    a.cfg.Server.WriteTimeout,
		MetricsPath:     a.cfg.Metrics.Path,
		MetricsGatherer: gatherer,
	}, a.checker, a.processor, refresher, a.pipeline, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.processor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.checker.Start(gctx)
		return nil
	})
	g.Go(admin.Start)
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down gracefully...")
		a.checker.SetDraining(true)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := admin.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("admin server shutdown: %w", err)
		}
		return nil
	})

	a.logger.Info("Entity store serving", zap.String("admin_address", a.cfg.Server.Address()))
	return g.Wait()
}

var repairOnceCmd = &cobra.Command{
	Use:   "repair-once",
	Short: "Redeliver every overdue repair message once and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.processor.VerifyOnce(cmd.Context())
		if err != nil {
			return err
		}
		outstanding, err := a.processor.Outstanding(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "redelivered %d, outstanding %d\n", n, outstanding)
		return nil
	},
}

var refreshIndexCmd = &cobra.Command{
	Use:   "refresh-index",
	Short: "Wait until the search index reflects recent writes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if !cfg.Index.Enabled {
			return fmt.Errorf("index is disabled")
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		info, err := a.refresher.Execute(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "found=%t searches=%d elapsed=%s\n", info.Found, info.Searches, info.Elapsed)
		return nil
	},
}
