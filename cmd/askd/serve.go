package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	askhttp "github.com/fyrsmithlabs/askd/internal/http"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the askd HTTP API",
		Long: `Start the HTTP API.

Endpoints:
  POST /api/v1/turn   answer one message
  GET  /health        dependency checks
  GET  /metrics       Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

// runServe blocks until ctx is cancelled, then shuts down gracefully.
func runServe(ctx context.Context) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	srv, err := askhttp.NewServer(a.orchestrator, a.tel, a.logger, &askhttp.Config{
		Host:   cfg.Server.Host,
		Port:   cfg.Server.Port,
		Checks: a.checks,
	})
	if err != nil {
		_ = a.close(context.Background())
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	a.logger.Info("askd serving",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("turn_endpoint", "/api/v1/turn"),
		zap.String("metrics_endpoint", "/metrics"))

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown requested")
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, srv.Shutdown(shutdownCtx), a.close(shutdownCtx), waitQuietly(errCh, time.Second))
}

// waitQuietly drains the Start goroutine's result after Shutdown.
func waitQuietly(errCh <-chan error, d time.Duration) error {
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-time.After(d):
	}
	return nil
}
