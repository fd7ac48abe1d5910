package cluster

import (
	"reflect"
	"testing"

	"github.com/ivdimova/inbox-triage-assistant/model"
)

func subjects(sender string, subs ...string) []model.Message {
	out := make([]model.Message, 0, len(subs))
	for _, s := range subs {
		out = append(out, model.Message{Sender: sender, Subject: s})
	}
	return out
}

func TestCleanDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "x.com", want: "X"},
		{in: "www.github.com", want: "Github"},
		{in: "mail.example.org", want: "Mail.Example.Org"},
		{in: "news.medium.com", want: "News.Medium"},
		{in: "3com.net", want: "3Com.Net"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		if got := CleanDomain(tt.in); got != tt.want {
			t.Errorf("CleanDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKeywords(t *testing.T) {
	tests := []struct {
		name     string
		subjects []string
		want     []string
	}{
		{
			name:     "frequent words",
			subjects: []string{"Invoice ready", "Your invoice is ready", "invoice overdue"},
			want:     []string{"invoice", "ready"},
		},
		{
			name:     "short words dropped",
			subjects: []string{"PR is up", "PR is merged", "PR is closed"},
			want:     []string{},
		},
		{
			name:     "singletons dropped",
			subjects: []string{"alpha", "beta", "gamma"},
			want:     []string{},
		},
		{
			// "of" and "is" rank in the top five but are filtered after ranking
			name: "filter after ranking",
			subjects: []string{
				"of of of is is is aa aa aa bb bb bb cc cc cc build build",
			},
			want: []string{},
		},
		{
			name:     "unicode words",
			subjects: []string{"Über deal", "über offer", "ÜBER"},
			want:     []string{"über"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Keywords(subjects("a@x.com", tt.subjects...))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Keywords() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestAnalysisLabeler(t *testing.T) {
	tests := []struct {
		name     string
		members  []model.Message
		wantName string
		wantDesc string
	}{
		{
			name:     "marketing domain",
			members:  subjects("deals@shop-deals.com", "a", "b", "c"),
			wantName: "Marketing & Newsletters (3)",
			wantDesc: "Promotional emails from shop-deals.com",
		},
		{
			name:     "code hosting",
			members:  subjects("GitHub <noreply@github.com>", "Build failed", "Build passed", "Review requested"),
			wantName: "Code Repository Updates (3)",
			wantDesc: "Notifications from github.com",
		},
		{
			name:     "chat",
			members:  subjects("bot@slack.com", "x", "y", "z"),
			wantName: "Team Communication (3)",
			wantDesc: "Messages from slack.com",
		},
		{
			name:     "keyword",
			members:  subjects("billing@acme.io", "Invoice 1", "Invoice 2", "Invoice 3"),
			wantName: "Invoice Related (3)",
			wantDesc: "Emails about invoice",
		},
		{
			name:     "domain fallback",
			members:  subjects("a@acme.io", "one", "two", "six"),
			wantName: "Acme.Io Messages (3)",
			wantDesc: "Emails from acme.io",
		},
		{
			name:     "mixed",
			members:  subjects("nobody", "one", "two", "six"),
			wantName: "Mixed Messages (3)",
			wantDesc: "Cluster of 3 diverse emails",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := AnalysisLabeler{}.Label(4, "", tt.members)
			if c.ID != 4 {
				t.Errorf("ID = %d", c.ID)
			}
			if c.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", c.Name, tt.wantName)
			}
			if c.Description != tt.wantDesc {
				t.Errorf("Description = %q, want %q", c.Description, tt.wantDesc)
			}
			if len(c.Members) != len(tt.members) {
				t.Errorf("Members = %d, want %d", len(c.Members), len(tt.members))
			}
		})
	}
}

func TestAnalysisLabelerCustomRules(t *testing.T) {
	l := AnalysisLabeler{Rules: []Rule{
		DomainContains([]string{"acme"}, "Acme Corp", "Mail from %s"),
	}}
	c := l.Label(0, "", subjects("a@acme.io", "a", "b", "c"))
	if c.Name != "Acme Corp (3)" || c.Description != "Mail from acme.io" {
		t.Errorf("got %q / %q", c.Name, c.Description)
	}

	c = l.Label(0, "", subjects("a@other.io", "a", "b", "c"))
	if c.Name != "Uncategorized (3)" {
		t.Errorf("unmatched rules should fall back, got %q", c.Name)
	}
}

func TestEngineWithAnalysisLabeler(t *testing.T) {
	msgs := append(
		subjects("noreply@github.com", "PR opened", "PR merged", "PR closed"),
		subjects("a@y.com", "hello")...,
	)
	for i := range msgs {
		msgs[i].ID = string(rune('a' + i))
	}

	got := New(WithLabeler(AnalysisLabeler{})).Cluster(msgs, 5)
	if len(got) != 1 {
		t.Fatalf("got %d clusters, want 1", len(got))
	}
	if got[0].Name != "Code Repository Updates (3)" {
		t.Errorf("Name = %q", got[0].Name)
	}
}

func BenchmarkCluster(b *testing.B) {
	domains := []string{"github.com", "medium.com", "slack.com", "shop.io", "bank.example"}
	msgs := make([]model.Message, 0, 500)
	for i := 0; i < 500; i++ {
		msgs = append(msgs, model.Message{
			ID:      string(rune('0' + i%10)),
			Sender:  "sender@" + domains[i%len(domains)],
			Subject: "weekly update number",
		})
	}
	engine := New(WithLabeler(AnalysisLabeler{}))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.Cluster(msgs, 5)
	}
}
