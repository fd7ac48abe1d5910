package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ivdimova/inbox-triage-assistant/config"
	"github.com/ivdimova/inbox-triage-assistant/server"
)

func newServeCommand() (*cobra.Command, error) {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the triage JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()
			slog.SetDefault(logger)

			metrics := server.NewMetrics()
			session, closeSession, err := buildSession(cfg, logger, metrics.Observe)
			if err != nil {
				return err
			}
			defer func() {
				_ = closeSession()
			}()

			srv := server.New(session, logger,
				server.WithDefaults(cfg.MessageCount, cfg.ClusterCount),
				server.WithMetrics(metrics),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx, cfg.Listen)
		},
	}

	if err := config.RegisterFlags(serveCmd); err != nil {
		return nil, err
	}
	config.RegisterServeFlags(serveCmd)
	return serveCmd, nil
}
