package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func newCommand(t *testing.T, serve bool, args ...string) *cobra.Command {
	t.Helper()
	for _, env := range envBindings {
		t.Setenv(env, "")
	}

	cmd := &cobra.Command{Use: "test"}
	if err := RegisterFlags(cmd); err != nil {
		t.Fatalf("RegisterFlags() error = %v", err)
	}
	if serve {
		RegisterServeFlags(cmd)
	}
	if err := cmd.Flags().Parse(args); err != nil {
		t.Fatalf("Parse(%v) error = %v", args, err)
	}
	return cmd
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(newCommand(t, false))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.IMAPHost != "imap.gmail.com" || cfg.IMAPPort != 993 {
		t.Errorf("server = %s:%d", cfg.IMAPHost, cfg.IMAPPort)
	}
	if !cfg.UseTLS || cfg.Mailbox != "INBOX" || cfg.Timeout != 60*time.Second {
		t.Errorf("connection defaults = %+v", cfg)
	}
	if cfg.ClusterCount != 5 || cfg.MessageCount != 200 || cfg.MinClusterSize != 3 {
		t.Errorf("triage defaults = %d/%d/%d", cfg.ClusterCount, cfg.MessageCount, cfg.MinClusterSize)
	}
	if cfg.Labeler != LabelerDomain || cfg.ArchiveLabel != "$Archived" {
		t.Errorf("labeler = %q, archive label = %q", cfg.Labeler, cfg.ArchiveLabel)
	}
	if !strings.HasSuffix(cfg.JournalDir, filepath.Join(".inbox-triage", "journal")) {
		t.Errorf("JournalDir = %q", cfg.JournalDir)
	}
	if cfg.Listen != "" {
		t.Errorf("Listen = %q without serve flags", cfg.Listen)
	}
	if err := cfg.RequireCredentials(); err == nil {
		t.Error("RequireCredentials() should fail without login")
	}
}

func TestLoadConfigEnvironment(t *testing.T) {
	cmd := newCommand(t, true)
	t.Setenv("IMAP_SERVER", "mail.example.com")
	t.Setenv("IMAP_PORT", "1993")
	t.Setenv("GMAIL_EMAIL", "me@example.com")
	t.Setenv("GMAIL_APP_PASSWORD", "app-pass")
	t.Setenv("PORT", "8080")

	cfg, err := LoadConfig(cmd)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.IMAPHost != "mail.example.com" || cfg.IMAPPort != 1993 {
		t.Errorf("server = %s:%d", cfg.IMAPHost, cfg.IMAPPort)
	}
	if cfg.Email != "me@example.com" || cfg.Password != "app-pass" {
		t.Errorf("credentials = %q/%q", cfg.Email, cfg.Password)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if err := cfg.RequireCredentials(); err != nil {
		t.Errorf("RequireCredentials() error = %v", err)
	}
}

func TestLoadConfigFlagsBeatEnvironment(t *testing.T) {
	cmd := newCommand(t, true, "--imap-host", "flag.example.com", "--listen", "127.0.0.1:9000", "--log-level", "WARNING")
	t.Setenv("IMAP_SERVER", "env.example.com")
	t.Setenv("PORT", "8080")

	cfg, err := LoadConfig(cmd)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.IMAPHost != "flag.example.com" {
		t.Errorf("IMAPHost = %q", cfg.IMAPHost)
	}
	if cfg.Listen != "127.0.0.1:9000" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.yaml")
	if err := os.WriteFile(path, []byte("clusters: 8\nlabeler: analysis\nkeep-misc: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(newCommand(t, false, "--config", path, "--clusters", "4"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.ClusterCount != 4 {
		t.Errorf("ClusterCount = %d, flag should win", cfg.ClusterCount)
	}
	if cfg.Labeler != LabelerAnalysis || !cfg.KeepMisc {
		t.Errorf("file values not applied: %+v", cfg)
	}

	if _, err := LoadConfig(newCommand(t, false, "--config", filepath.Join(t.TempDir(), "missing.yaml"))); err == nil {
		t.Error("missing config file should fail")
	}
}

func TestMboxNeedsNoCredentials(t *testing.T) {
	cfg, err := LoadConfig(newCommand(t, false, "--mbox", "inbox.mbox"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if err := cfg.RequireCredentials(); err != nil {
		t.Errorf("RequireCredentials() error = %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "port", args: []string{"--imap-port", "70000"}, want: "--imap-port"},
		{name: "timeout", args: []string{"--timeout", "0s"}, want: "--timeout"},
		{name: "clusters", args: []string{"--clusters", "0"}, want: "--clusters"},
		{name: "count", args: []string{"--count", "-1"}, want: "--count"},
		{name: "min size", args: []string{"--min-cluster-size", "0"}, want: "--min-cluster-size"},
		{name: "labeler", args: []string{"--labeler", "kmeans"}, want: "--labeler"},
		{name: "log level", args: []string{"--log-level", "trace"}, want: "--log-level"},
		{name: "host", args: []string{"--imap-host", ""}, want: "--imap-host"},
		{name: "filters", args: []string{"--include-header", "a", "--exclude-body", "b"}, want: "mutually exclusive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(newCommand(t, false, tt.args...))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("LoadConfig() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestListenAddress(t *testing.T) {
	tests := map[string]string{
		"":               "",
		"3000":           ":3000",
		":3000":          ":3000",
		"localhost:3000": "localhost:3000",
	}
	for in, want := range tests {
		if got := listenAddress(in); got != want {
			t.Errorf("listenAddress(%q) = %q, want %q", in, got, want)
		}
	}
}
