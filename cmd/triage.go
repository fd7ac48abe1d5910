package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ivdimova/inbox-triage-assistant/config"
	"github.com/ivdimova/inbox-triage-assistant/model"
	"github.com/ivdimova/inbox-triage-assistant/progress"
	"github.com/ivdimova/inbox-triage-assistant/stats"
	"github.com/ivdimova/inbox-triage-assistant/triage"
)

func newTriageCommand() (*cobra.Command, error) {
	triageCmd := &cobra.Command{
		Use:   "triage",
		Short: "Cluster recent messages and archive clusters interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.RequireCredentials(); err != nil {
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
			logger.Info("starting inbox-triage", "mailbox", cfg.Mailbox, "count", cfg.MessageCount, "clusters", cfg.ClusterCount, "mbox", cfg.MboxPath)

			listOnly, err := cmd.Flags().GetBool("list-only")
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runTriage(ctx, cfg, logger, listOnly)
		},
	}

	if err := config.RegisterFlags(triageCmd); err != nil {
		return nil, err
	}
	triageCmd.Flags().Bool("list-only", false, "Show clusters without offering to archive them")
	return triageCmd, nil
}

func runTriage(ctx context.Context, cfg config.Config, logger *slog.Logger, listOnly bool) error {
	bar := progress.New(cfg.LogLevel)
	collector := stats.NewCollector()

	session, cleanup, err := buildSession(cfg, logger, bar.Observe, collector.Record)
	if err != nil {
		return err
	}
	defer func() {
		bar.Stop()
		if err := cleanup(); err != nil {
			logger.Warn("cleanup failed", "err", err)
		}
	}()

	creds := triage.Credentials{Email: cfg.Email, Password: cfg.Password}
	clusters, err := session.Start(ctx, creds, cfg.MessageCount, cfg.ClusterCount)
	if err != nil {
		return fmt.Errorf("start triage: %w", err)
	}

	renderClusters(clusters)
	if !listOnly {
		archiveInteractively(ctx, session, clusters)
	}

	summary := collector.Snapshot()
	if cfg.LogLevel == "info" {
		progress.PrintSummary(summary)
	} else {
		logger.Info("stats summary", summary.LogAttrs()...)
	}
	pterm.Success.Println("Session completed!")
	return nil
}

func archiveInteractively(ctx context.Context, session *triage.Session, clusters []model.Cluster) {
	pterm.DefaultSection.Println("Archive Actions")

	for _, c := range clusters {
		if ctx.Err() != nil {
			return
		}
		question := fmt.Sprintf("Archive all %d emails in '%s'?", len(c.Members), c.Name)
		ok, err := pterm.DefaultInteractiveConfirm.WithDefaultValue(false).Show(question)
		if err != nil {
			pterm.Error.Printf("confirm: %v\n", err)
			return
		}
		if !ok {
			continue
		}

		res, err := session.ArchiveCluster(ctx, c.ID)
		if err != nil {
			pterm.Error.Printf("Failed to archive '%s': %v\n", c.Name, err)
			continue
		}
		pterm.Success.Printf("Archived %d emails from '%s'\n", res.ArchivedCount, res.ClusterName)
	}
}
