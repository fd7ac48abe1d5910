package cluster

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/ivdimova/inbox-triage-assistant/model"
)

// DefaultMinClusterSize is the smallest domain group kept as its own cluster.
const DefaultMinClusterSize = 3

var domainPattern = regexp.MustCompile(`@([^>\s]+)`)

// Labeler names and describes one retained domain group.
type Labeler interface {
	Label(id int, domain string, members []model.Message) model.Cluster
}

type Option func(*Engine)

// WithMinClusterSize overrides DefaultMinClusterSize. Values below 1 are ignored.
func WithMinClusterSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.minSize = n
		}
	}
}

func WithLabeler(l Labeler) Option {
	return func(e *Engine) {
		if l != nil {
			e.labeler = l
		}
	}
}

// WithMiscellaneous collects messages from undersized domain groups into a
// trailing "Miscellaneous" cluster instead of dropping them.
func WithMiscellaneous(enabled bool) Option {
	return func(e *Engine) {
		e.keepMisc = enabled
	}
}

// WithStrictTarget caps the number of clusters at the requested target by
// keeping the largest groups and merging the rest into a miscellaneous cluster.
func WithStrictTarget(enabled bool) Option {
	return func(e *Engine) {
		e.strictTarget = enabled
	}
}

// Engine partitions messages into clusters keyed by sender domain.
type Engine struct {
	minSize      int
	labeler      Labeler
	keepMisc     bool
	strictTarget bool
}

func New(opts ...Option) *Engine {
	e := &Engine{
		minSize: DefaultMinClusterSize,
		labeler: DomainLabeler{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) MinClusterSize() int {
	return e.minSize
}

// group is one domain bucket; groups keep first-seen order.
type group struct {
	domain  string
	members []model.Message
}

// Cluster groups messages by sender domain. targetCount only bounds the
// output when the engine was built with WithStrictTarget.
func (e *Engine) Cluster(messages []model.Message, targetCount int) []model.Cluster {
	if len(messages) < e.minSize {
		return []model.Cluster{allMessages(messages)}
	}

	var retained []group
	var leftovers []model.Message
	for _, g := range groupByDomain(messages) {
		if len(g.members) >= e.minSize {
			retained = append(retained, g)
			continue
		}
		leftovers = append(leftovers, g.members...)
	}

	if len(retained) == 0 {
		return []model.Cluster{allMessages(messages)}
	}

	if !e.keepMisc {
		leftovers = nil
	}
	if e.strictTarget && targetCount > 0 {
		retained, leftovers = capGroups(retained, leftovers, targetCount)
	}

	clusters := make([]model.Cluster, 0, len(retained)+1)
	for _, g := range retained {
		clusters = append(clusters, e.labeler.Label(len(clusters), g.domain, g.members))
	}
	if len(leftovers) > 0 {
		clusters = append(clusters, miscellaneous(len(clusters), leftovers))
	}
	return clusters
}

// ExtractDomain returns the text between the first '@' and the next '>' or
// whitespace, or "" when the sender has no '@'.
func ExtractDomain(sender string) string {
	m := domainPattern.FindStringSubmatch(sender)
	if m == nil {
		return ""
	}
	return m[1]
}

func groupByDomain(messages []model.Message) []group {
	index := make(map[string]int)
	var groups []group
	for _, msg := range messages {
		domain := ExtractDomain(msg.Sender)
		i, ok := index[domain]
		if !ok {
			i = len(groups)
			index[domain] = i
			groups = append(groups, group{domain: domain})
		}
		groups[i].members = append(groups[i].members, msg)
	}
	return groups
}

// capGroups keeps the target-1 largest groups (earlier groups win ties) in
// their original order and folds everything else into the leftovers.
func capGroups(retained []group, leftovers []model.Message, target int) ([]group, []model.Message) {
	limit := target
	if len(leftovers) > 0 || len(retained) > target {
		limit = target - 1
	}
	if len(retained) <= limit {
		return retained, leftovers
	}
	if limit < 1 {
		// a target of one cannot hold a domain cluster plus the remainder
		var all []model.Message
		for _, g := range retained {
			all = append(all, g.members...)
		}
		return nil, append(all, leftovers...)
	}

	order := make([]int, len(retained))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return len(retained[order[a]].members) > len(retained[order[b]].members)
	})
	keep := make(map[int]bool, limit)
	for _, i := range order[:limit] {
		keep[i] = true
	}

	var kept []group
	var merged []model.Message
	for i, g := range retained {
		if keep[i] {
			kept = append(kept, g)
			continue
		}
		merged = append(merged, g.members...)
	}
	return kept, append(merged, leftovers...)
}

func allMessages(messages []model.Message) model.Cluster {
	return model.Cluster{
		ID:          0,
		Name:        fmt.Sprintf("All Messages (%d)", len(messages)),
		Description: fmt.Sprintf("All %d recent emails", len(messages)),
		Keywords:    []string{},
		Members:     messages,
	}
}

func miscellaneous(id int, messages []model.Message) model.Cluster {
	return model.Cluster{
		ID:          id,
		Name:        fmt.Sprintf("Miscellaneous (%d)", len(messages)),
		Description: "Various emails that don't fit other categories",
		Keywords:    []string{},
		Members:     messages,
	}
}
