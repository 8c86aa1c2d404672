package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"gemprice/internal/api"
	"gemprice/internal/auth"
	"gemprice/internal/batch"
)

func serveCmd() *cobra.Command {
	var host, port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides HOST)")
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}

func runServe(ctx context.Context) error {
	slog.Info("Starting GemPrice API", "addr", cfg.Addr(), "environment", cfg.Environment, "version", version)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	deps := api.Deps{
		Recommender:    a.engine,
		Store:          a.store,
		Batch:          batch.NewProcessor(a.engine, a.store, cfg.CSVWorkers),
		Currency:       a.converter,
		RateLimit:      cfg.RateLimitRequests,
		MaxUploadBytes: cfg.CSVMaxBytes,
		Version:        version,
		Environment:    cfg.Environment,
		KeyStatus:      cfg.KeyStatus(),
		APIs:           a.apiStatus(),
	}
	if a.redis != nil {
		deps.Limiter = a.redis
	}

	handler := api.NewRouter(api.NewHandler(deps), auth.NewMiddleware(a.verifier), cfg.CORSAllowedOrigins)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Server error", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down GemPrice API", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
		return err
	}
	slog.Info("Server stopped")
	return nil
}
