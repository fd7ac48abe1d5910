package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	LabelerDomain   = "domain"
	LabelerAnalysis = "analysis"
)

// Config captures every option the triage and serve commands accept.
type Config struct {
	IMAPHost           string
	IMAPPort           int
	Email              string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Mailbox            string
	Timeout            time.Duration
	ArchiveLabel       string

	ClusterCount   int
	MessageCount   int
	MinClusterSize int
	Labeler        string
	StrictTarget   bool
	KeepMisc       bool

	MboxPath   string
	JournalDir string
	LogLevel   string
	LogDir     string
	Listen     string

	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// envBindings maps flag names to the environment variables that back them.
var envBindings = map[string]string{
	"imap-host": "IMAP_SERVER",
	"imap-port": "IMAP_PORT",
	"email":     "GMAIL_EMAIL",
	"password":  "GMAIL_APP_PASSWORD",
	"log-level": "LOG_LEVEL",
	"listen":    "PORT",
}

// RegisterFlags attaches the shared CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	journalDir, err := defaultJournalDir()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	flags.String("config", "", "Optional YAML file with flag values")
	flags.String("imap-host", "imap.gmail.com", "IMAP server hostname (env IMAP_SERVER)")
	flags.Int("imap-port", 993, "IMAP server port (env IMAP_PORT)")
	flags.String("email", "", "Mailbox login (env GMAIL_EMAIL)")
	flags.String("password", "", "Mailbox app password (env GMAIL_APP_PASSWORD)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("mailbox", "INBOX", "Mailbox to triage")
	flags.Duration("timeout", 60*time.Second, "Deadline for each mailbox operation")
	flags.String("archive-label", "$Archived", "Keyword added to messages before they are expunged")
	flags.Int("clusters", 5, "Requested number of clusters")
	flags.Int("count", 200, "Number of recent messages to process")
	flags.Int("min-cluster-size", 3, "Smallest sender domain group kept as a cluster")
	flags.String("labeler", LabelerDomain, "Cluster naming: domain or analysis")
	flags.Bool("strict-target", false, "Never return more clusters than requested")
	flags.Bool("keep-misc", false, "Collect messages from small domain groups into a Miscellaneous cluster")
	flags.String("mbox", "", "Triage a local mbox file instead of an IMAP mailbox")
	flags.String("journal-dir", journalDir, "Directory for the archive journal (empty disables it)")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")

	return nil
}

// RegisterServeFlags adds the HTTP listen address.
func RegisterServeFlags(cmd *cobra.Command) {
	cmd.Flags().String("listen", ":3000", "HTTP listen address (env PORT sets the port)")
}

// LoadConfig resolves flags, then environment variables (a .env file in
// the working directory is loaded first), then an optional YAML file,
// then flag defaults.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	_ = godotenv.Load()

	flags := cmd.Flags()
	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	includeHeader, err := flags.GetStringArray("include-header")
	if err != nil {
		return Config{}, err
	}
	includeBody, err := flags.GetStringArray("include-body")
	if err != nil {
		return Config{}, err
	}
	excludeHeader, err := flags.GetStringArray("exclude-header")
	if err != nil {
		return Config{}, err
	}
	excludeBody, err := flags.GetStringArray("exclude-body")
	if err != nil {
		return Config{}, err
	}

	logLevel := strings.ToLower(v.GetString("log-level"))
	if logLevel == "warning" {
		logLevel = "warn"
	}

	journalDir := v.GetString("journal-dir")
	if journalDir != "" {
		journalDir = filepath.Clean(journalDir)
	}

	cfg := Config{
		IMAPHost:           v.GetString("imap-host"),
		IMAPPort:           v.GetInt("imap-port"),
		Email:              v.GetString("email"),
		Password:           v.GetString("password"),
		UseTLS:             v.GetBool("use-tls"),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		Mailbox:            v.GetString("mailbox"),
		Timeout:            v.GetDuration("timeout"),
		ArchiveLabel:       v.GetString("archive-label"),
		ClusterCount:       v.GetInt("clusters"),
		MessageCount:       v.GetInt("count"),
		MinClusterSize:     v.GetInt("min-cluster-size"),
		Labeler:            strings.ToLower(v.GetString("labeler")),
		StrictTarget:       v.GetBool("strict-target"),
		KeepMisc:           v.GetBool("keep-misc"),
		MboxPath:           v.GetString("mbox"),
		JournalDir:         journalDir,
		LogLevel:           logLevel,
		LogDir:             v.GetString("log-dir"),
		Listen:             listenAddress(v.GetString("listen")),
		IncludeHeader:      includeHeader,
		IncludeBody:        includeBody,
		ExcludeHeader:      excludeHeader,
		ExcludeBody:        excludeBody,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// RequireCredentials reports whether the config can open a mailbox on its
// own. A local mbox needs no credentials.
func (c Config) RequireCredentials() error {
	if c.MboxPath != "" {
		return nil
	}
	if c.Email == "" {
		return errors.New("mailbox login must be provided via --email or GMAIL_EMAIL")
	}
	if c.Password == "" {
		return errors.New("app password must be provided via --password or GMAIL_APP_PASSWORD")
	}
	return nil
}

func validateConfig(cfg Config) error {
	if cfg.MboxPath == "" && cfg.IMAPHost == "" {
		return fmt.Errorf("--imap-host is required")
	}
	if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
		return fmt.Errorf("--imap-port must be between 1 and 65535")
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("--timeout must be positive")
	}
	if cfg.ClusterCount <= 0 {
		return fmt.Errorf("--clusters must be positive")
	}
	if cfg.MessageCount <= 0 {
		return fmt.Errorf("--count must be positive")
	}
	if cfg.MinClusterSize <= 0 {
		return fmt.Errorf("--min-cluster-size must be positive")
	}
	switch cfg.Labeler {
	case LabelerDomain, LabelerAnalysis:
	default:
		return fmt.Errorf("invalid --labeler: %s", cfg.Labeler)
	}

	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

// listenAddress accepts either a full address or a bare port from PORT.
func listenAddress(value string) string {
	if value == "" {
		return ""
	}
	if !strings.Contains(value, ":") {
		return ":" + value
	}
	return value
}

func defaultJournalDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".inbox-triage", "journal"), nil
}
