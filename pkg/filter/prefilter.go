package filter

import (
	"fmt"
	"strings"

	ac "github.com/petar-dambovaliev/aho-corasick"

	"github.com/PhucNguyen204/evtxgrep/pkg/evtx"
)

// separator between scanned fields; never part of a valid XML value.
const separator = "\x00"

// PrefilterStats describes a built prefilter.
type PrefilterStats struct {
	PatternCount int  `json:"pattern_count"`
	RequireAll   bool `json:"require_all"`
	IgnoreCase   bool `json:"ignore_case"`
}

func (s PrefilterStats) StrategyName() string {
	mode := "any"
	if s.RequireAll {
		mode = "all"
	}
	return fmt.Sprintf("AhoCorasick (%d patterns, %s)", s.PatternCount, mode)
}

// Prefilter rejects records that cannot satisfy the predicate by looking
// for the selector literals in the record's attribute values and texts.
// It never rejects a record the full predicate would accept.
type Prefilter struct {
	ac       ac.AhoCorasick
	patterns []string
	stats    PrefilterStats
}

// NewPrefilter builds the literal prefilter for spec, or returns nil when
// no useful (or no safe) prefilter exists.
func NewPrefilter(spec Spec) *Prefilter {
	if spec.Empty() {
		return nil
	}
	requireAll := spec.Combine == And

	seen := make(map[string]struct{}, len(spec.Selectors))
	patterns := make([]string, 0, len(spec.Selectors))
	for _, sel := range spec.Selectors {
		v := sel.Value
		if v == "" || strings.Contains(v, separator) {
			if requireAll {
				continue
			}
			// any record could satisfy this alternative
			return nil
		}
		key := v
		if spec.IgnoreCase {
			key = foldASCII(v)
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		patterns = append(patterns, v)
	}
	if len(patterns) == 0 {
		return nil
	}

	builder := ac.NewAhoCorasickBuilder(ac.Opts{
		AsciiCaseInsensitive: spec.IgnoreCase,
		MatchKind:            ac.LeftMostLongestMatch,
	})
	return &Prefilter{
		ac:       builder.Build(patterns),
		patterns: patterns,
		stats: PrefilterStats{
			PatternCount: len(patterns),
			RequireAll:   requireAll,
			IgnoreCase:   spec.IgnoreCase,
		},
	}
}

func (p *Prefilter) Stats() PrefilterStats { return p.stats }

// Patterns returns the literals the automaton was built from.
func (p *Prefilter) Patterns() []string { return append([]string(nil), p.patterns...) }

// Matches reports whether doc may satisfy the predicate.
func (p *Prefilter) Matches(doc *evtx.Document) bool {
	if p == nil || doc == nil {
		return true
	}
	return p.MatchesText(haystack(doc))
}

// MatchesText applies the prefilter to an already flattened haystack.
// Every field value must be delimited by separator on both sides.
func (p *Prefilter) MatchesText(text string) bool {
	if p == nil {
		return true
	}
	matches := p.ac.FindAll(text)
	if !p.stats.RequireAll {
		for _, m := range matches {
			if p.exact(text, m.Start(), m.End()) {
				return true
			}
		}
		return false
	}
	found := make([]bool, len(p.patterns))
	remaining := len(p.patterns)
	for _, m := range matches {
		idx := m.Pattern()
		if idx < 0 || idx >= len(found) || found[idx] {
			continue
		}
		if !p.exact(text, m.Start(), m.End()) {
			continue
		}
		found[idx] = true
		remaining--
		if remaining == 0 {
			return true
		}
	}
	return remaining == 0
}

// exact reports whether text[start:end] spans a whole field. Patterns
// never contain the separator, so a field equal to a pattern is always
// reported whole by leftmost longest matching.
func (p *Prefilter) exact(text string, start, end int) bool {
	before := start == 0 || text[start-1] == 0
	after := end == len(text) || text[end] == 0
	return before && after
}

// haystack flattens every attribute value and text of doc, each one
// wrapped in separators. Elements named DataEntryTag that carry children
// also contribute their full string value, which is what the predicate
// compares.
func haystack(doc *evtx.Document) string {
	var sb strings.Builder
	sb.WriteString(separator)
	doc.Walk(func(n *evtx.Node, _ int) bool {
		for _, a := range n.Attrs {
			sb.WriteString(a.Value)
			sb.WriteString(separator)
		}
		if n.Text != "" {
			sb.WriteString(n.Text)
			sb.WriteString(separator)
		}
		if len(n.Children) > 0 && n.Name == DataEntryTag {
			sb.WriteString(n.InnerText())
			sb.WriteString(separator)
		}
		return true
	})
	return sb.String()
}
