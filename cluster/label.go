package cluster

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ivdimova/inbox-triage-assistant/model"
)

const maxKeywords = 5

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// DomainLabeler names a cluster after its sender domain.
type DomainLabeler struct{}

func (DomainLabeler) Label(id int, domain string, members []model.Message) model.Cluster {
	return model.Cluster{
		ID:          id,
		Name:        fmt.Sprintf("%s (%d)", CleanDomain(domain), len(members)),
		Description: "Emails from " + domain,
		Keywords:    []string{},
		Members:     members,
	}
}

// Traits summarizes a group for rule matching.
type Traits struct {
	Keywords []string
	Domain   string
	Count    int
}

// Rule returns a name (without the count suffix) and description when it
// applies to the traits.
type Rule func(t Traits) (name, description string, ok bool)

// DefaultRules is evaluated in order; the first matching rule wins.
var DefaultRules = []Rule{
	func(t Traits) (string, string, bool) {
		if len(t.Keywords) == 0 && t.Domain == "" {
			return "Mixed Messages", fmt.Sprintf("Cluster of %d diverse emails", t.Count), true
		}
		return "", "", false
	},
	DomainContains([]string{"newsletter", "marketing", "promo", "deals"}, "Marketing & Newsletters", "Promotional emails from %s"),
	DomainContains([]string{"github", "gitlab", "bitbucket"}, "Code Repository Updates", "Notifications from %s"),
	DomainContains([]string{"slack", "teams", "discord"}, "Team Communication", "Messages from %s"),
	func(t Traits) (string, string, bool) {
		if len(t.Keywords) == 0 {
			return "", "", false
		}
		primary := titleCase(t.Keywords[0])
		return primary + " Related", "Emails about " + strings.ToLower(primary), true
	},
	func(t Traits) (string, string, bool) {
		if t.Domain == "" {
			return "", "", false
		}
		return CleanDomain(t.Domain) + " Messages", "Emails from " + t.Domain, true
	},
	func(t Traits) (string, string, bool) {
		return "Uncategorized", fmt.Sprintf("Cluster of %d emails", t.Count), true
	},
}

// DomainContains matches when the domain contains any of the needles.
// description is a format string receiving the domain.
func DomainContains(needles []string, name, description string) Rule {
	return func(t Traits) (string, string, bool) {
		if t.Domain == "" {
			return "", "", false
		}
		for _, needle := range needles {
			if strings.Contains(t.Domain, needle) {
				return name, fmt.Sprintf(description, t.Domain), true
			}
		}
		return "", "", false
	}
}

// AnalysisLabeler derives keywords from subjects and picks a category from
// an ordered rule list.
type AnalysisLabeler struct {
	Rules []Rule
}

func (a AnalysisLabeler) Label(id int, _ string, members []model.Message) model.Cluster {
	rules := a.Rules
	if len(rules) == 0 {
		rules = DefaultRules
	}

	traits := Traits{
		Keywords: Keywords(members),
		Domain:   topDomain(members),
		Count:    len(members),
	}

	name, description := "Uncategorized", fmt.Sprintf("Cluster of %d emails", traits.Count)
	for _, rule := range rules {
		if n, d, ok := rule(traits); ok {
			name, description = n, d
			break
		}
	}

	return model.Cluster{
		ID:          id,
		Name:        fmt.Sprintf("%s (%d)", name, traits.Count),
		Description: description,
		Keywords:    traits.Keywords,
		Members:     members,
	}
}

// Keywords returns up to five frequent subject words. The five most common
// words are taken first (earlier words win ties), then only those seen more
// than once and longer than two characters are kept.
func Keywords(members []model.Message) []string {
	counts := make(map[string]int)
	var order []string
	for _, m := range members {
		for _, word := range SubjectWords(m.Subject) {
			if counts[word] == 0 {
				order = append(order, word)
			}
			counts[word]++
		}
	}

	top := mostCommon(order, counts, maxKeywords)
	keywords := make([]string, 0, len(top))
	for _, word := range top {
		if counts[word] > 1 && utf8.RuneCountInString(word) > 2 {
			keywords = append(keywords, word)
		}
	}
	return keywords
}

// SubjectWords splits a subject into lower-cased words.
func SubjectWords(subject string) []string {
	return wordPattern.FindAllString(strings.ToLower(subject), -1)
}

func topDomain(members []model.Message) string {
	counts := make(map[string]int)
	var order []string
	for _, m := range members {
		domain := ExtractDomain(m.Sender)
		if _, ok := counts[domain]; !ok {
			order = append(order, domain)
		}
		counts[domain]++
	}
	top := mostCommon(order, counts, 1)
	if len(top) == 0 {
		return ""
	}
	return top[0]
}

// mostCommon returns the n keys with the highest counts, keeping first-seen
// order among equal counts.
func mostCommon(order []string, counts map[string]int, n int) []string {
	ranked := make([]string, len(order))
	copy(ranked, order)
	// insertion sort keeps ties stable and inputs are small
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && counts[ranked[j]] > counts[ranked[j-1]]; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// CleanDomain strips ".com" and "www." and title-cases the rest.
func CleanDomain(domain string) string {
	domain = strings.ReplaceAll(domain, ".com", "")
	domain = strings.ReplaceAll(domain, "www.", "")
	return titleCase(domain)
}

// titleCase upper-cases every letter that follows a non-letter and
// lower-cases the others, so "mail.example.org" becomes "Mail.Example.Org".
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}
