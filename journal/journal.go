// Package journal keeps an append-only record of archive attempts.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const fileName = "archive.jsonl"

// Entry is one archive attempt. Error is empty when the attempt succeeded.
type Entry struct {
	RunID       string    `json:"run_id"`
	ClusterID   int       `json:"cluster_id"`
	ClusterName string    `json:"cluster_name"`
	IDs         []string  `json:"ids"`
	ArchivedAt  time.Time `json:"archived_at"`
	Error       string    `json:"error,omitempty"`
}

type Journal interface {
	Record(e Entry) error
	Entries() []Entry
}

// NewRunID returns an identifier shared by every entry of one triage run.
func NewRunID() string {
	return uuid.NewString()
}

type MemoryJournal struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (m *MemoryJournal) Record(e Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func (m *MemoryJournal) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// FileJournal appends entries as JSON lines to archive.jsonl in its
// directory. The file is never read back; Entries only returns what this
// process recorded.
type FileJournal struct {
	*MemoryJournal
	path    string
	file    *os.File
	writer  *bufio.Writer
	writeMu sync.Mutex
}

func NewFileJournal(dir string) (*FileJournal, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("journal directory is empty")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	path := filepath.Join(dir, fileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal for append: %w", err)
	}
	if err := terminateLastLine(file); err != nil {
		file.Close()
		return nil, err
	}

	return &FileJournal{
		MemoryJournal: NewMemoryJournal(),
		path:          path,
		file:          file,
		writer:        bufio.NewWriter(file),
	}, nil
}

func (j *FileJournal) Path() string {
	return j.path
}

// terminateLastLine ends a line cut off by an interrupted write so the next
// entry starts on its own line.
func terminateLastLine(file *os.File) error {
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat journal: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err := file.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("read journal tail: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := file.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("terminate journal line: %w", err)
	}
	return nil
}

// Record appends the entry and flushes the line to disk.
func (j *FileJournal) Record(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}

	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	if j.file == nil {
		return fmt.Errorf("journal %s is closed", j.path)
	}
	if _, err := j.writer.Write(data); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}

	return j.MemoryJournal.Record(e)
}

// Close syncs and closes the journal file.
func (j *FileJournal) Close() error {
	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	if j.file == nil {
		return nil
	}

	var firstErr error
	if err := j.writer.Flush(); err != nil {
		firstErr = fmt.Errorf("flush journal: %w", err)
	}
	if err := j.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync journal: %w", err)
	}
	if err := j.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close journal: %w", err)
	}
	j.file = nil

	return firstErr
}
