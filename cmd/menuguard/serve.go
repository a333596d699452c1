package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zinacoffee/menuguard"
)

// shutdownTimeout bounds graceful shutdown of in-flight requests
const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the menu security API",
		Long: `Start the HTTP API and run the retention cleanup periodically.

The server stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts, cmd.ErrOrStderr(), func(cfg *menuguard.Config) {
				if addr != "" {
					cfg.HTTP.Addr = addr
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return a.serve(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides http.addr)")

	return cmd
}

// serve runs the HTTP server until ctx is cancelled
func (a *app) serve(ctx context.Context) error {
	handler := menuguard.NewHandler(a.server, a.logger)
	defer handler.Close()

	srv := handler.HTTPServer()

	go a.runCleanupLoop(ctx, a.server.Config.Storage.CleanupInterval)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting menuguard",
			"addr", srv.Addr,
			"environment", a.server.Config.Environment,
			"storage", a.server.Config.Storage.Backend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Server error", "error", err)
			return err
		}
	case <-ctx.Done():
		a.logger.Info("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("Error during shutdown", "error", err)
			return err
		}
	}

	a.logger.Info("Server stopped")
	return nil
}

// runCleanupLoop runs Cleanup every interval until ctx is cancelled
func (a *app) runCleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.server.Cleanup(ctx); err != nil {
				a.logger.Error("Scheduled cleanup failed", "error", err)
			}
		}
	}
}
