package stats

import (
	"log/slog"
	"sync"
	"time"
)

type Stage string

const (
	StageFetch   Stage = "fetch"
	StageCluster Stage = "cluster"
	StageArchive Stage = "archive"
)

type EventType string

const (
	EventTypeListed    EventType = "listed"
	EventTypeFetched   EventType = "fetched"
	EventTypeSkipped   EventType = "skipped"
	EventTypeFiltered  EventType = "filtered"
	EventTypeClustered EventType = "clustered"
	EventTypeArchived  EventType = "archived"
	EventTypeError     EventType = "error"
)

// Event describes one step of a triage run. Total carries a count for
// listed, clustered and archived events.
type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Total     int
	Err       error
	Detail    string
}

// Observer receives events synchronously in the order they happen.
type Observer func(Event)

type Summary struct {
	Listed    int
	Fetched   int
	Skipped   int
	Filtered  int
	Clusters  int
	Archived  int
	Errors    int
	LastError error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"listed", s.Listed,
		"fetched", s.Fetched,
		"skipped", s.Skipped,
		"filtered", s.Filtered,
		"clusters", s.Clusters,
		"archived", s.Archived,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

// Record is an Observer.
func (c *Collector) Record(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeListed:
		c.summary.Listed += evt.Total
	case EventTypeFetched:
		c.summary.Fetched++
	case EventTypeSkipped:
		c.summary.Skipped++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeClustered:
		c.summary.Clusters = evt.Total
	case EventTypeArchived:
		c.summary.Archived += evt.Total
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) Reset() {
	c.mu.Lock()
	c.summary = Summary{}
	c.mu.Unlock()
}

// Reporter logs a summary once a run finishes.
type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(logger *slog.Logger) *Reporter {
	return &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
}

func (r *Reporter) Observe(evt Event) {
	r.collector.Record(evt)
	if evt.Type == EventTypeClustered && r.logger != nil {
		attrs := append(r.collector.Snapshot().LogAttrs(), "duration", time.Since(r.started))
		r.logger.Info("stats summary", attrs...)
	}
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}
