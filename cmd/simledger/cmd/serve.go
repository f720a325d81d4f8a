package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/simledger/internal/app"
)

func newServeCmd(rt *cliState) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server, price feed and archive loop",
		Long: `serve starts the configured mode until SIGINT or SIGTERM:
  server  HTTP API and WebSocket hub only
  feed    price poller and history archive only
  full    both (default)`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := rt.load(cmd); err != nil {
				return err
			}
			if mode != "" {
				rt.cfg.Mode = mode
				if err := rt.cfg.Validate(); err != nil {
					return err
				}
			}
			logger := rt.logger
			logger.Info("simledger starting",
				slog.String("mode", rt.cfg.Mode),
				slog.String("version", app.Version),
			)

			rt.app = app.New(rt.cfg, logger)

			ctx, stop := signal.NotifyContext(ctxOf(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := rt.app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("application exited with error", slog.String("error", err.Error()))
				return err
			}
			logger.Info("simledger stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "override the configured mode (server, feed, full)")
	return cmd
}
