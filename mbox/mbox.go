package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/ivdimova/inbox-triage-assistant/filter"
	"github.com/ivdimova/inbox-triage-assistant/model"
)

var errSessionClosed = fmt.Errorf("%w: mbox session is closed", model.ErrConnectionLost)

// Session serves messages from an mbox archive through the same operations
// as an IMAP session. Archiving only removes messages from the in-memory
// scope; the archive file is never rewritten.
type Session struct {
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	payloads map[int]model.RawPayload
	order    []int
	closed   bool
}

// Open reads every message of the mbox file at path.
func Open(path string, logger *slog.Logger) (*Session, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	s, err := NewSession(file, logger)
	if err != nil {
		return nil, err
	}
	s.path = path
	return s, nil
}

// NewSession reads every message from r.
func NewSession(r io.Reader, logger *slog.Logger) (*Session, error) {
	s := &Session{
		logger:   logger,
		payloads: make(map[int]model.RawPayload),
	}

	reader := mboxlib.NewReader(r)
	for idx := 1; ; idx++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return nil, fmt.Errorf("message %d read: %w", idx, err)
		}

		header, body := filter.SplitRawMessage(raw)
		s.payloads[idx] = model.RawPayload{
			ID:     strconv.Itoa(idx),
			Header: header,
			Body:   body,
		}
		s.order = append(s.order, idx)
	}

	if s.logger != nil {
		s.logger.Debug("mbox loaded", "path", s.path, "messages", len(s.order))
	}
	return s, nil
}

// ListRecent returns up to limit message positions, newest (last in file) first.
func (s *Session) ListRecent(ctx context.Context, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errSessionClosed
	}

	recent := model.Recent(s.order, limit)
	ids := make([]string, 0, len(recent))
	for _, idx := range recent {
		ids = append(ids, strconv.Itoa(idx))
	}
	return ids, nil
}

func (s *Session) FetchPayload(ctx context.Context, id string) (model.RawPayload, error) {
	if err := ctx.Err(); err != nil {
		return model.RawPayload{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.RawPayload{}, errSessionClosed
	}

	idx, err := strconv.Atoi(id)
	if err != nil {
		return model.RawPayload{}, fmt.Errorf("%w: invalid message id %q", model.ErrFetch, id)
	}
	payload, ok := s.payloads[idx]
	if !ok {
		return model.RawPayload{}, fmt.Errorf("%w: message %s not in mailbox", model.ErrFetch, id)
	}
	if payload.Empty() {
		return model.RawPayload{}, fmt.Errorf("message %s: %w", id, model.ErrEmptyPayload)
	}
	return payload, nil
}

// Archive drops the messages from the scope. Unknown ids fail the call
// after the known ids before them have been dropped.
func (s *Session) Archive(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %v", model.ErrArchive, errSessionClosed)
	}

	for _, id := range ids {
		idx, err := strconv.Atoi(id)
		if err != nil {
			return fmt.Errorf("%w: invalid message id %q", model.ErrArchive, id)
		}
		if _, ok := s.payloads[idx]; !ok {
			return fmt.Errorf("%w: message %s not in mailbox", model.ErrArchive, id)
		}
		delete(s.payloads, idx)
	}

	kept := s.order[:0]
	for _, idx := range s.order {
		if _, ok := s.payloads[idx]; ok {
			kept = append(kept, idx)
		}
	}
	s.order = kept

	if s.logger != nil {
		s.logger.Info("mbox messages archived", "path", s.path, "count", len(ids), "remaining", len(s.order))
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
