package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gridlens/gridlens/internal/core/engine"
	"github.com/gridlens/gridlens/internal/server"
)

var serveHome string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin HTTP server",
	Long: `Serve the read-only admin API: homes, devices, the compiled reward
report, cache statistics, and rate limiter state. Cache statistics are
also logged periodically.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer app.close()

		if err := app.client.Initialize(ctx); err != nil {
			return err
		}
		homeID, err := app.homeID(ctx, serveHome)
		if err != nil {
			return err
		}

		reporter := &engine.Reporter{Client: app.client, HomeID: homeID, Logger: app.logger}
		srv := server.New(app.cfg.Server, app.client, reporter, app.logger)

		interval := app.cfg.Server.StatsInterval
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		go engine.LogCacheStats(ctx, app.client, app.logger, interval)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
			app.logger.Info("shutting down")
			timeout := app.cfg.Server.ShutdownTimeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				app.logger.Error("shutdown", zap.Error(err))
				return err
			}
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHome, "home", "", "home ID the report endpoint compiles for (UUID)")
	rootCmd.AddCommand(serveCmd)
}
