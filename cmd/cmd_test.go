package cmd

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ivdimova/inbox-triage-assistant/config"
	"github.com/ivdimova/inbox-triage-assistant/filter"
	"github.com/ivdimova/inbox-triage-assistant/mbox"
	"github.com/ivdimova/inbox-triage-assistant/model"
	"github.com/ivdimova/inbox-triage-assistant/triage"
)

const sampleMbox = `From a@github.com Mon Jan  2 15:04:05 2006
From: GitHub <noreply@github.com>
Subject: Build failed on main

first

From b@github.com Mon Jan  2 15:05:05 2006
From: GitHub <noreply@github.com>
Subject: Build passed on main

second

From c@github.com Mon Jan  2 15:06:05 2006
From: GitHub <notifications@github.com>
Subject: Review requested

third

From d@example.org Mon Jan  2 15:07:05 2006
From: friend@example.org
Subject: Lunch?

fourth
`

func TestClusterRows(t *testing.T) {
	members := make([]model.Message, 12)
	for i := range members {
		members[i] = model.Message{
			ID:      "id",
			Sender:  "Very Long Display Name For A Sender <x@example.com>",
			Subject: strings.Repeat("s", 45),
			Preview: "short",
		}
	}
	members[0].Date = time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)

	rows := clusterRows(model.Cluster{Members: members})
	if len(rows) != 1+maxRowsPerCluster+1 {
		t.Fatalf("rows = %d", len(rows))
	}
	if !reflect.DeepEqual(rows[0], []string{"From", "Subject", "Date", "Preview"}) {
		t.Errorf("header = %v", rows[0])
	}
	first := rows[1]
	if first[0] != "Very Long Display Name Fo" {
		t.Errorf("sender = %q", first[0])
	}
	if first[1] != strings.Repeat("s", 40)+"..." {
		t.Errorf("subject = %q", first[1])
	}
	if first[2] != "03/09" || rows[2][2] != "N/A" {
		t.Errorf("dates = %q, %q", first[2], rows[2][2])
	}
	if first[3] != "short" {
		t.Errorf("preview = %q", first[3])
	}
	if last := rows[len(rows)-1]; last[1] != "+ 2 more emails" {
		t.Errorf("overflow row = %v", last)
	}
}

func TestSenderNameAndClip(t *testing.T) {
	if got := senderName("Alice <a@example.com>"); got != "Alice" {
		t.Errorf("senderName = %q", got)
	}
	if got := senderName("a@example.com"); got != "a@example.com" {
		t.Errorf("senderName = %q", got)
	}
	if got := clip("héllo", 3, "..."); got != "hél..." {
		t.Errorf("clip = %q", got)
	}
	if got := clip("abc", 3, "..."); got != "abc" {
		t.Errorf("clip = %q", got)
	}
}

func TestBuildMboxReport(t *testing.T) {
	session, err := mbox.NewSession(strings.NewReader(sampleMbox), nil)
	if err != nil {
		t.Fatal(err)
	}
	f, err := filter.New(filter.Options{ExcludeHeader: []string{`Lunch`}})
	if err != nil {
		t.Fatal(err)
	}

	report, err := buildMboxReport(context.Background(), session, f, time.Now())
	if err != nil {
		t.Fatalf("buildMboxReport() error = %v", err)
	}
	if report.Messages != 3 || report.Filtered != 1 || report.Skipped != 0 {
		t.Fatalf("report = %+v", report)
	}
	if report.Counts["Domain"]["github.com"] != 3 {
		t.Errorf("domains = %v", report.Counts["Domain"])
	}
	if report.Counts["Keyword"]["build"] != 2 || report.Counts["Keyword"]["main"] != 2 {
		t.Errorf("keywords = %v", report.Counts["Keyword"])
	}
	if _, ok := report.Counts["Keyword"]["on"]; ok {
		t.Error("short words should not be counted")
	}

	dir := t.TempDir()
	if err := saveCSVReports(report.Counts, reportCategories, dir, 1000); err != nil {
		t.Fatalf("saveCSVReports() error = %v", err)
	}
	file, err := os.Open(filepath.Join(dir, "report_domain.csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{{"Value", "Count"}, {"github.com", "3"}}
	if !reflect.DeepEqual(records, want) {
		t.Errorf("records = %v", records)
	}
}

func TestTopPairs(t *testing.T) {
	got := topPairs(map[string]int{"b": 2, "a": 2, "c": 5, "d": 1}, 3)
	want := []countPair{{"c", 5}, {"a", 2}, {"b", 2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("topPairs() = %v, want %v", got, want)
	}
}

func TestBuildSessionFromMbox(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inbox.mbox")
	if err := os.WriteFile(path, []byte(sampleMbox), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Config{
		MboxPath:       path,
		JournalDir:     filepath.Join(dir, "journal"),
		MinClusterSize: 3,
		Labeler:        config.LabelerAnalysis,
		ClusterCount:   5,
		MessageCount:   200,
		LogLevel:       "error",
	}
	logger, cleanupLogger, err := setupLogger(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer cleanupLogger()

	session, cleanup, err := buildSession(cfg, logger)
	if err != nil {
		t.Fatalf("buildSession() error = %v", err)
	}

	clusters, err := session.Start(context.Background(), triage.Credentials{}, cfg.MessageCount, cfg.ClusterCount)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if len(clusters) != 1 || clusters[0].Name != "Code Repository Updates (3)" {
		t.Fatalf("clusters = %+v", clusters)
	}

	res, err := session.ArchiveCluster(context.Background(), clusters[0].ID)
	if err != nil || res.ArchivedCount != 3 {
		t.Fatalf("ArchiveCluster() = %+v, %v", res, err)
	}
	if err := cleanup(); err != nil {
		t.Fatalf("cleanup() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "journal", "archive.jsonl"))
	if err != nil {
		t.Fatalf("journal not written: %v", err)
	}
	if !strings.Contains(string(data), `"cluster_name":"Code Repository Updates (3)"`) {
		t.Errorf("journal = %s", data)
	}
}

func TestNewFilterInactive(t *testing.T) {
	f, err := newFilter(config.Config{})
	if err != nil || f != nil {
		t.Fatalf("newFilter() = %v, %v; want nil filter", f, err)
	}
	if _, err := newFilter(config.Config{IncludeHeader: []string{"("}}); err == nil {
		t.Fatal("invalid pattern should fail")
	}
}

func TestConnectorRejectsBadIMAPOptions(t *testing.T) {
	if _, err := connector(config.Config{IMAPHost: "", IMAPPort: 993}, nil); err == nil {
		t.Fatal("empty host should fail")
	}
}

func TestRootCommandTree(t *testing.T) {
	root, err := NewRootCommand()
	if err != nil {
		t.Fatalf("NewRootCommand() error = %v", err)
	}
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"triage", "serve", "mbox-stats"} {
		if !names[want] {
			t.Errorf("missing %s command", want)
		}
	}
}
