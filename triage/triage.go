// Package triage holds the per-process triage session: it pulls recent
// messages through a Mailbox, clusters them and archives clusters on demand.
package triage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/ivdimova/inbox-triage-assistant/filter"
	"github.com/ivdimova/inbox-triage-assistant/journal"
	"github.com/ivdimova/inbox-triage-assistant/model"
	"github.com/ivdimova/inbox-triage-assistant/normalize"
	"github.com/ivdimova/inbox-triage-assistant/stats"
)

const (
	DefaultMessageCount = 200
	DefaultClusterCount = 5

	// ProgressInterval is how many messages pass between fetch progress logs.
	ProgressInterval = 25
)

var ErrNotConnected = errors.New("not connected to a mailbox")

// Mailbox is the gateway a session talks to. Ids are opaque strings that
// stay valid for the life of the connection.
type Mailbox interface {
	ListRecent(ctx context.Context, limit int) ([]string, error)
	FetchPayload(ctx context.Context, id string) (model.RawPayload, error)
	Archive(ctx context.Context, ids []string) error
	Close() error
}

type Credentials struct {
	Email    string
	Password string
}

// ConnectFunc opens an authenticated mailbox. Authentication failures must
// wrap model.ErrAuthentication.
type ConnectFunc func(ctx context.Context, creds Credentials) (Mailbox, error)

type Clusterer interface {
	Cluster(messages []model.Message, targetCount int) []model.Cluster
}

type ArchiveResult struct {
	ArchivedCount int
	ClusterName   string
}

type Option func(*Session)

func WithFilter(f *filter.Filter) Option {
	return func(s *Session) {
		s.filter = f
	}
}

// WithJournal records every archive attempt. Without it nothing is recorded.
func WithJournal(j journal.Journal) Option {
	return func(s *Session) {
		s.journal = j
	}
}

func WithObserver(o stats.Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// Session owns at most one open mailbox and the clusters built from it.
// Operations are serialized.
type Session struct {
	connect   ConnectFunc
	engine    Clusterer
	logger    *slog.Logger
	filter    *filter.Filter
	journal   journal.Journal
	observers []stats.Observer
	now       func() time.Time

	mu       sync.Mutex
	mailbox  Mailbox
	clusters []model.Cluster
	total    int
	runID    string
}

func New(connect ConnectFunc, engine Clusterer, logger *slog.Logger, opts ...Option) *Session {
	s := &Session{
		connect: connect,
		engine:  engine,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start replaces any previous mailbox and cluster set with a fresh one
// built from the messageCount most recent messages. A non-positive
// messageCount fetches every message. Messages that cannot be fetched or
// decoded are skipped, but a lost connection or a batch where every
// message failed aborts the start with an error wrapping model.ErrFetch.
func (s *Session) Start(ctx context.Context, creds Credentials, messageCount, clusterCount int) ([]model.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked()

	mailbox, err := s.connect(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	messages, err := s.fetch(ctx, mailbox, messageCount)
	if err != nil {
		_ = mailbox.Close()
		return nil, err
	}

	clusters := s.engine.Cluster(messages, clusterCount)
	s.emit(stats.Event{Stage: stats.StageCluster, Type: stats.EventTypeClustered, Total: len(clusters)})

	s.mailbox = mailbox
	s.clusters = clusters
	s.total = len(messages)
	s.runID = journal.NewRunID()

	if s.logger != nil {
		s.logger.Info("triage session started", "runId", s.runID, "messages", len(messages), "clusters", len(clusters))
	}
	return cloneClusters(clusters), nil
}

func (s *Session) fetch(ctx context.Context, mailbox Mailbox, messageCount int) ([]model.Message, error) {
	ids, err := mailbox.ListRecent(ctx, messageCount)
	if err != nil {
		if !errors.Is(err, model.ErrFetch) {
			err = fmt.Errorf("%w: %w", model.ErrFetch, err)
		}
		s.emit(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeError, Err: err})
		return nil, fmt.Errorf("list messages: %w", err)
	}
	s.emit(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeListed, Total: len(ids)})

	messages := make([]model.Message, 0, len(ids))
	handled := 0
	var lastErr error
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 && i%ProgressInterval == 0 && s.logger != nil {
			s.logger.Info("fetch progress", "processed", i, "total", len(ids))
		}

		payload, err := mailbox.FetchPayload(ctx, id)
		if err != nil {
			if connectionLost(err) {
				err = fmt.Errorf("%w: batch aborted after %d of %d messages: %w", model.ErrFetch, i, len(ids), err)
				s.emit(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeError, MessageID: id, Err: err})
				return nil, err
			}
			lastErr = err
			s.skip(id, err)
			continue
		}
		if !s.filter.Allows(payload) {
			handled++
			s.emit(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeFiltered, MessageID: id})
			continue
		}
		msg, err := normalize.Normalize(payload, s.now())
		if err != nil {
			lastErr = err
			s.skip(id, err)
			continue
		}

		handled++
		messages = append(messages, msg)
		s.emit(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeFetched, MessageID: id})
	}

	if len(ids) > 0 && handled == 0 {
		err := fmt.Errorf("%w: all %d messages failed: %w", model.ErrFetch, len(ids), lastErr)
		s.emit(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeError, Err: err})
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("fetch complete", "fetched", len(messages), "total", len(ids))
	}
	return messages, nil
}

// connectionLost reports whether err means later fetches on the same
// mailbox would fail too.
func connectionLost(err error) bool {
	if errors.Is(err, model.ErrConnectionLost) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (s *Session) skip(id string, err error) {
	if s.logger != nil {
		s.logger.Warn("skipping message", "id", id, "err", err)
	}
	s.emit(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeSkipped, MessageID: id, Err: err})
}

// Clusters returns a copy of the active cluster set.
func (s *Session) Clusters() []model.Cluster {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneClusters(s.clusters)
}

// Total is the number of messages the last Start clustered.
func (s *Session) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mailbox != nil
}

// ArchiveCluster archives every member of the cluster and drops it from the
// active set. Unknown ids wrap model.ErrNotFound; gateway failures wrap
// model.ErrArchive. The set is only changed on success.
func (s *Session) ArchiveCluster(ctx context.Context, id int) (ArchiveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mailbox == nil {
		return ArchiveResult{}, ErrNotConnected
	}

	idx := slices.IndexFunc(s.clusters, func(c model.Cluster) bool { return c.ID == id })
	if idx < 0 {
		return ArchiveResult{}, fmt.Errorf("cluster %d: %w", id, model.ErrNotFound)
	}
	cluster := s.clusters[idx]
	ids := cluster.MemberIDs()

	err := s.mailbox.Archive(ctx, ids)
	if err != nil && !errors.Is(err, model.ErrArchive) {
		err = fmt.Errorf("%w: %w", model.ErrArchive, err)
	}
	s.record(cluster, ids, err)

	if err != nil {
		s.emit(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeError, Err: err, Detail: cluster.Name})
		if s.logger != nil {
			s.logger.Error("archive failed", "cluster", cluster.Name, "count", len(ids), "err", err)
		}
		return ArchiveResult{}, fmt.Errorf("cluster %d: %w", id, err)
	}

	s.clusters = slices.Delete(s.clusters, idx, idx+1)
	s.emit(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeArchived, Total: len(ids), Detail: cluster.Name})
	if s.logger != nil {
		s.logger.Info("cluster archived", "cluster", cluster.Name, "count", len(ids))
	}
	return ArchiveResult{ArchivedCount: len(ids), ClusterName: cluster.Name}, nil
}

func (s *Session) record(c model.Cluster, ids []string, archiveErr error) {
	if s.journal == nil {
		return
	}
	entry := journal.Entry{
		RunID:       s.runID,
		ClusterID:   c.ID,
		ClusterName: c.Name,
		IDs:         ids,
		ArchivedAt:  s.now(),
	}
	if archiveErr != nil {
		entry.Error = archiveErr.Error()
	}
	if err := s.journal.Record(entry); err != nil && s.logger != nil {
		s.logger.Warn("journal write failed", "cluster", c.Name, "err", err)
	}
}

// Disconnect closes the mailbox and clears the active set. It is safe to
// call when not connected.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	s.clusters = nil
	s.total = 0
	s.runID = ""
	if s.mailbox == nil {
		return nil
	}
	err := s.mailbox.Close()
	s.mailbox = nil
	if err != nil && s.logger != nil {
		s.logger.Warn("mailbox close failed", "err", err)
	}
	return err
}

func (s *Session) emit(evt stats.Event) {
	for _, o := range s.observers {
		o(evt)
	}
}

func cloneClusters(in []model.Cluster) []model.Cluster {
	if in == nil {
		return nil
	}
	out := make([]model.Cluster, len(in))
	for i, c := range in {
		c.Keywords = slices.Clone(c.Keywords)
		c.Members = slices.Clone(c.Members)
		out[i] = c
	}
	return out
}
