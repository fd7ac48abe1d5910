// Package filter narrows the fetched messages before they are clustered,
// using regular expressions over the raw header and text sections.
package filter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/ivdimova/inbox-triage-assistant/model"
)

// Options lists the patterns from the include-* and exclude-* flags. Include
// and exclude patterns cannot be combined.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

func (o Options) Active() bool {
	return len(o.IncludeHeader)+len(o.IncludeBody)+len(o.ExcludeHeader)+len(o.ExcludeBody) > 0
}

type mode int

const (
	modeAll mode = iota
	modeInclude
	modeExclude
)

// patternSet matches a payload when any header pattern matches the header
// section or any body pattern matches the text section.
type patternSet struct {
	header []*regexp.Regexp
	body   []*regexp.Regexp
}

func (ps patternSet) empty() bool {
	return len(ps.header) == 0 && len(ps.body) == 0
}

func (ps patternSet) matches(p model.RawPayload) bool {
	return matchAny(ps.header, p.Header) || matchAny(ps.body, p.Body)
}

// Filter keeps the payloads an include set matches, or drops the ones an
// exclude set matches. A nil Filter keeps everything.
type Filter struct {
	mode     mode
	patterns patternSet
}

func New(opts Options) (*Filter, error) {
	include, err := compileSet("include", opts.IncludeHeader, opts.IncludeBody)
	if err != nil {
		return nil, err
	}
	exclude, err := compileSet("exclude", opts.ExcludeHeader, opts.ExcludeBody)
	if err != nil {
		return nil, err
	}

	switch {
	case !include.empty() && !exclude.empty():
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	case !include.empty():
		return &Filter{mode: modeInclude, patterns: include}, nil
	case !exclude.empty():
		return &Filter{mode: modeExclude, patterns: exclude}, nil
	}
	return &Filter{mode: modeAll}, nil
}

// Allows reports whether the payload should be clustered.
func (f *Filter) Allows(p model.RawPayload) bool {
	if f == nil {
		return true
	}
	switch f.mode {
	case modeInclude:
		return f.patterns.matches(p)
	case modeExclude:
		return !f.patterns.matches(p)
	}
	return true
}

// SplitRawMessage cuts a raw message at the first blank line. The header
// keeps that blank line so it can be parsed on its own.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}
	for _, sep := range [][]byte{[]byte("\r\n\r\n"), []byte("\n\n")} {
		if idx := bytes.Index(raw, sep); idx >= 0 {
			end := idx + len(sep)
			return raw[:end], raw[end:]
		}
	}
	return raw, nil
}

func compileSet(kind string, header, body []string) (patternSet, error) {
	var ps patternSet
	var err error
	if ps.header, err = compilePatterns(header); err != nil {
		return patternSet{}, fmt.Errorf("compile %s-header pattern: %w", kind, err)
	}
	if ps.body, err = compilePatterns(body); err != nil {
		return patternSet{}, fmt.Errorf("compile %s-body pattern: %w", kind, err)
	}
	return ps, nil
}

// compilePatterns skips blank entries.
func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	var compiled []*regexp.Regexp
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text []byte) bool {
	for _, re := range patterns {
		if re.Match(text) {
			return true
		}
	}
	return false
}
