package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ivdimova/inbox-triage-assistant/cluster"
	"github.com/ivdimova/inbox-triage-assistant/config"
	"github.com/ivdimova/inbox-triage-assistant/filter"
	"github.com/ivdimova/inbox-triage-assistant/imap"
	"github.com/ivdimova/inbox-triage-assistant/journal"
	"github.com/ivdimova/inbox-triage-assistant/mbox"
	"github.com/ivdimova/inbox-triage-assistant/stats"
	"github.com/ivdimova/inbox-triage-assistant/triage"
)

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("inbox-triage-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}

// connector returns how the session opens its mailbox: a local mbox when
// one is configured, the IMAP server otherwise.
func connector(cfg config.Config, logger *slog.Logger) (triage.ConnectFunc, error) {
	if cfg.MboxPath != "" {
		return func(ctx context.Context, _ triage.Credentials) (triage.Mailbox, error) {
			s, err := mbox.Open(cfg.MboxPath, logger)
			if err != nil {
				return nil, err
			}
			return s, nil
		}, nil
	}

	client, err := imap.NewClient(imap.Options{
		Host:               cfg.IMAPHost,
		Port:               cfg.IMAPPort,
		UseTLS:             cfg.UseTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Mailbox:            cfg.Mailbox,
		Timeout:            cfg.Timeout,
		ArchiveLabel:       cfg.ArchiveLabel,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("imap.NewClient: %w", err)
	}

	return func(ctx context.Context, creds triage.Credentials) (triage.Mailbox, error) {
		s, err := client.Connect(ctx, creds.Email, creds.Password)
		if err != nil {
			return nil, err
		}
		return s, nil
	}, nil
}

func newEngine(cfg config.Config) *cluster.Engine {
	opts := []cluster.Option{
		cluster.WithMinClusterSize(cfg.MinClusterSize),
		cluster.WithMiscellaneous(cfg.KeepMisc),
		cluster.WithStrictTarget(cfg.StrictTarget),
	}
	if cfg.Labeler == config.LabelerAnalysis {
		opts = append(opts, cluster.WithLabeler(cluster.AnalysisLabeler{}))
	}
	return cluster.New(opts...)
}

func newFilter(cfg config.Config) (*filter.Filter, error) {
	opts := filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	}
	if !opts.Active() {
		return nil, nil
	}
	f, err := filter.New(opts)
	if err != nil {
		return nil, fmt.Errorf("create filter: %w", err)
	}
	return f, nil
}

// buildSession wires a triage session from the config. The returned
// cleanup disconnects the session and closes the journal.
func buildSession(cfg config.Config, logger *slog.Logger, observers ...stats.Observer) (*triage.Session, func() error, error) {
	connect, err := connector(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	f, err := newFilter(cfg)
	if err != nil {
		return nil, nil, err
	}

	opts := []triage.Option{triage.WithFilter(f)}
	for _, o := range observers {
		opts = append(opts, triage.WithObserver(o))
	}

	var fileJournal *journal.FileJournal
	if cfg.JournalDir != "" {
		fileJournal, err = journal.NewFileJournal(cfg.JournalDir)
		if err != nil {
			return nil, nil, fmt.Errorf("journal: %w", err)
		}
		opts = append(opts, triage.WithJournal(fileJournal))
		logger.Debug("archive journal enabled", "path", fileJournal.Path())
	}

	session := triage.New(connect, newEngine(cfg), logger, opts...)
	cleanup := func() error {
		err := session.Disconnect()
		if fileJournal != nil {
			if cerr := fileJournal.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		return err
	}
	return session, cleanup, nil
}
