package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if a == b {
		t.Fatal("run ids should differ")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("run id %q is not a uuid: %v", a, err)
	}
}

func TestMemoryJournalCopies(t *testing.T) {
	m := NewMemoryJournal()
	if err := m.Record(Entry{ClusterID: 1}); err != nil {
		t.Fatal(err)
	}
	entries := m.Entries()
	entries[0].ClusterID = 99
	if m.Entries()[0].ClusterID != 1 {
		t.Fatal("Entries() must return a copy")
	}
}

func TestFileJournalRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	j, err := NewFileJournal(dir)
	if err != nil {
		t.Fatalf("NewFileJournal() error = %v", err)
	}
	first := Entry{RunID: "run-1", ClusterID: 0, ClusterName: "X (3)", IDs: []string{"1", "2", "3"}, ArchivedAt: at}
	second := Entry{RunID: "run-1", ClusterID: 1, ClusterName: "Y (3)", IDs: []string{"4"}, ArchivedAt: at, Error: "archive failed"}
	for _, e := range []Entry{first, second} {
		if err := j.Record(e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	data, err := os.ReadFile(j.Path())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("journal has %d lines, want 2", len(lines))
	}
	if strings.Contains(lines[0], `"error"`) {
		t.Errorf("successful entry should omit error: %s", lines[0])
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := j.Record(first); err == nil {
		t.Fatal("Record() after Close() should fail")
	}

	if got := j.Entries(); !reflect.DeepEqual(got, []Entry{first, second}) {
		t.Fatalf("Entries() = %+v", got)
	}

	reopened, err := NewFileJournal(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()
	if got := reopened.Entries(); len(got) != 0 {
		t.Fatalf("reopened Entries() = %+v, want only this run's entries", got)
	}
	if err := reopened.Record(first); err != nil {
		t.Fatal(err)
	}
	data, err = os.ReadFile(j.Path())
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "\n"); n != 3 {
		t.Fatalf("journal has %d lines after reopen, want 3", n)
	}
}

func TestFileJournalRejectsEmptyDir(t *testing.T) {
	if _, err := NewFileJournal("  "); err == nil {
		t.Fatal("expected error for empty directory")
	}
}

func TestFileJournalTruncatedLastLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, fileName)
	existing := `{"run_id":"r","cluster_id":0,"cluster_name":"X (3)","ids":["1"],"archived_at":"2024-05-01T12:00:00Z"}` + "\n" +
		`{"run_id":"r","cluster_id":1,"clus`
	if err := os.WriteFile(path, []byte(existing), 0o600); err != nil {
		t.Fatal(err)
	}

	j, err := NewFileJournal(dir)
	if err != nil {
		t.Fatalf("NewFileJournal() error = %v", err)
	}
	entry := Entry{RunID: "next", ClusterID: 2, ClusterName: "Y (3)", IDs: []string{"7"}}
	if err := j.Record(entry); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("journal lines = %q", lines)
	}
	if lines[1] != `{"run_id":"r","cluster_id":1,"clus` {
		t.Errorf("truncated line changed: %q", lines[1])
	}
	var got Entry
	if err := json.Unmarshal([]byte(lines[2]), &got); err != nil {
		t.Fatalf("new entry is not a line of its own: %v", err)
	}
	if got.RunID != "next" || got.ClusterID != 2 {
		t.Errorf("entry = %+v", got)
	}
}
