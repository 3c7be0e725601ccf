package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/hive/internal/config"
	"github.com/jkaninda/hive/internal/httpapi"
)

var listenAddr string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the command center until interrupted",
	RunE:  runServe,
}

func init() {
	runCmd.Flags().StringVar(&listenAddr, "listen", "", "override HTTP listen address (e.g. :8080)")
}

// runServe restores the saved state, starts the assignment loop and the
// dispatcher, serves the HTTP API when configured and saves the state on
// shutdown.
func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		if cfg.HTTP == nil {
			cfg.HTTP = &config.HTTPConfig{}
		}
		cfg.HTTP.ListenAddr = listenAddr
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	restored, err := restoreOrSeed(ctx, sc, "")
	if err != nil {
		return fmt.Errorf("restoring state: %w", err)
	}
	logger.Info("hive starting",
		slog.String("version", version),
		slog.String("storage", sc.Store.Driver()),
		slog.Bool("restored", restored),
		slog.Int("agents", sc.CC.Registry().Len()),
		slog.Int("tasks", sc.CC.Tree().Len()),
	)

	if err := sc.CC.Start(ctx); err != nil {
		return err
	}
	sc.Obs.Health.AddCheck("command_center", func(context.Context) error {
		if !sc.CC.Running() || !sc.CC.Orchestrator().Running() {
			return errors.New("assignment loop is not running")
		}
		return nil
	})

	errs := make(chan error, 1)
	var api *httpapi.Server
	if cfg.HTTP != nil && cfg.HTTP.ListenAddr != "" {
		api = httpapi.New(httpapi.Config{
			ListenAddr:      cfg.HTTP.ListenAddr,
			ReadTimeout:     cfg.HTTP.ReadTimeout(),
			WriteTimeout:    cfg.HTTP.WriteTimeout(),
			EnableDocs:      true,
			MetricsRegistry: sc.Obs.Metrics.Reg(),
			MetricsPath:     metricsPath(cfg),
			HealthChecker:   sc.Obs.Health,
			Metrics:         sc.Obs.Metrics,
			Tracer:          sc.Obs.TracerOrNoop(),
		}, sc.CC, logger)
		go func() {
			if err := api.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("http api: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errs:
		logger.Error("component failed", slog.String("error", runErr.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if api != nil {
		if err := api.Stop(shutdownCtx); err != nil {
			logger.Error("http api shutdown", slog.String("error", err.Error()))
		}
	}
	if err := sc.CC.Shutdown(shutdownCtx); err != nil {
		logger.Error("command center shutdown", slog.String("error", err.Error()))
	}
	if err := sc.CC.SaveState(shutdownCtx, ""); err != nil {
		logger.Error("saving state", slog.String("error", err.Error()))
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func metricsPath(cfg *config.Config) string {
	if cfg.Observability == nil {
		return ""
	}
	return cfg.Observability.Metrics.MetricsPath()
}
