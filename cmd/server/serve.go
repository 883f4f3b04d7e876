package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/incentive-engine/api"
	"github.com/warp/incentive-engine/config"
	"github.com/warp/incentive-engine/customers"
	"github.com/warp/incentive-engine/ledger"
	"github.com/warp/incentive-engine/logging"
	"github.com/warp/incentive-engine/metrics"
	"github.com/warp/incentive-engine/store/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the unlock scanner",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	table, err := loadTable(cfg)
	if err != nil {
		return err
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	m := metrics.New()
	svc := customers.NewService(store, table, ledger.Currency(cfg.Currency), log, m)
	handler := api.NewHandler(store, svc, log, m)
	handler.Scanner.Interval = cfg.ScanInterval
	handler.Scanner.Enabled = cfg.ScanEnabled

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server starting",
			zap.String("addr", cfg.Addr),
			zap.String("db", cfg.DBPath),
			zap.String("currency", cfg.Currency),
			zap.Int("tiers", table.Len()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	if cfg.ScanEnabled {
		g.Go(func() error { return handler.Scanner.Run(ctx) })
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped", zap.Error(err))
		return err
	}
	log.Info("server stopped")
	return nil
}
