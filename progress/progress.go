package progress

import (
	"sync"

	"github.com/pterm/pterm"

	"github.com/ivdimova/inbox-triage-assistant/stats"
)

// Bar shows fetch progress for a triage run.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	mu      sync.Mutex
	enabled bool
	done    int
	total   int
}

// New creates a progress bar that only draws when logLevel is "info".
func New(logLevel string) *Bar {
	return &Bar{enabled: logLevel == "info"}
}

// Observe is a stats.Observer. The bar starts on the listed event and
// advances for every message that was fetched, skipped or filtered.
func (b *Bar) Observe(evt stats.Event) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeListed:
		b.startLocked(evt.Total)
	case stats.EventTypeFetched, stats.EventTypeSkipped, stats.EventTypeFiltered:
		if b.pb == nil {
			return
		}
		b.done++
		b.pb.Increment()
		if evt.MessageID != "" {
			b.pb.UpdateTitle("Fetching message " + evt.MessageID)
		}
	case stats.EventTypeClustered:
		b.stopLocked()
		pterm.Success.Printf("Built %d clusters\n", evt.Total)
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

func (b *Bar) startLocked(total int) {
	b.stopLocked()
	b.done = 0
	b.total = total
	if total == 0 {
		return
	}
	pb, err := pterm.DefaultProgressbar.
		WithTotal(total).
		WithTitle("Fetching messages").
		Start()
	if err != nil {
		return
	}
	b.pb = pb
}

// Stop finalizes the bar if it is still running.
func (b *Bar) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
}

func (b *Bar) stopLocked() {
	if b.pb == nil {
		return
	}
	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	_, _ = b.pb.Stop()
	b.pb = nil
}

// PrintSummary renders a collected summary.
func PrintSummary(summary stats.Summary) {
	pterm.Println()
	pterm.DefaultSection.Println("Summary Statistics")
	pterm.Info.Printf("Listed: %d\n", summary.Listed)
	pterm.Info.Printf("Fetched: %d\n", summary.Fetched)
	pterm.Info.Printf("Skipped: %d\n", summary.Skipped)
	pterm.Info.Printf("Filtered: %d\n", summary.Filtered)
	pterm.Info.Printf("Clusters: %d\n", summary.Clusters)
	pterm.Info.Printf("Archived: %d\n", summary.Archived)
	pterm.Info.Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
}
