// Package intent decides from query text alone whether a localization-style
// escalation applies.
package intent

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// MatchKind selects how a trigger is compared against a query.
type MatchKind string

const (
	// MatchKeyword matches the trigger as a word or phrase at word boundaries.
	MatchKeyword MatchKind = "keyword"
	// MatchSubstring matches the trigger anywhere in the query.
	MatchSubstring MatchKind = "substring"
	// MatchPattern treats the trigger as a regular expression.
	MatchPattern MatchKind = "pattern"
)

// Trigger is one entry of the trigger vocabulary.
type Trigger struct {
	Kind  MatchKind `yaml:"kind" json:"kind"`
	Value string    `yaml:"value" json:"value"`
}

// DefaultKeywords returns the built-in English vocabulary for spatial intent.
func DefaultKeywords() []string {
	return []string{
		"where",
		"locate",
		"located",
		"location",
		"locations",
		"position",
		"positions",
		"detect",
		"detected",
		"detection",
		"find",
		"bounding box",
		"coordinates",
		"region",
		"point to",
		"highlight",
	}
}

// Classifier matches queries against a compiled trigger set.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	// ordered by trigger length, longest first, so reported matches favor specific phrases
	rules []rule
}

type rule struct {
	trigger Trigger
	lower   string
	re      *regexp.Regexp
}

// New compiles a classifier from triggers. Empty triggers are ignored.
func New(triggers []Trigger) (*Classifier, error) {
	c := &Classifier{}
	for _, t := range triggers {
		value := strings.TrimSpace(t.Value)
		if value == "" {
			continue
		}
		r := rule{trigger: Trigger{Kind: t.Kind, Value: value}, lower: strings.ToLower(value)}
		switch t.Kind {
		case MatchKeyword, MatchSubstring:
		case MatchPattern:
			re, err := regexp.Compile("(?i)" + value)
			if err != nil {
				return nil, fmt.Errorf("trigger pattern %q: %w", value, err)
			}
			r.re = re
		default:
			return nil, fmt.Errorf("trigger %q: unknown match kind %q", value, t.Kind)
		}
		c.rules = append(c.rules, r)
	}

	sort.SliceStable(c.rules, func(i, j int) bool {
		return len(c.rules[i].lower) > len(c.rules[j].lower)
	})
	return c, nil
}

// NewFromVocabulary builds a classifier from keyword, substring and pattern lists.
func NewFromVocabulary(keywords, substrings, patterns []string) (*Classifier, error) {
	triggers := make([]Trigger, 0, len(keywords)+len(substrings)+len(patterns))
	for _, k := range keywords {
		triggers = append(triggers, Trigger{Kind: MatchKeyword, Value: k})
	}
	for _, s := range substrings {
		triggers = append(triggers, Trigger{Kind: MatchSubstring, Value: s})
	}
	for _, p := range patterns {
		triggers = append(triggers, Trigger{Kind: MatchPattern, Value: p})
	}
	return New(triggers)
}

// Default returns a classifier over DefaultKeywords.
func Default() *Classifier {
	c, err := NewFromVocabulary(DefaultKeywords(), nil, nil)
	if err != nil {
		panic(err)
	}
	return c
}

// WantsLocalization reports whether query contains any trigger.
func (c *Classifier) WantsLocalization(query string) bool {
	if c == nil {
		return false
	}
	lower := strings.ToLower(query)
	for _, r := range c.rules {
		if r.matches(query, lower) {
			return true
		}
	}
	return false
}

// Match returns every trigger value found in query, longest first.
func (c *Classifier) Match(query string) []string {
	if c == nil {
		return nil
	}
	lower := strings.ToLower(query)
	var matched []string
	for _, r := range c.rules {
		if r.matches(query, lower) {
			matched = append(matched, r.trigger.Value)
		}
	}
	return matched
}

// Triggers returns the compiled trigger set.
func (c *Classifier) Triggers() []Trigger {
	if c == nil {
		return nil
	}
	out := make([]Trigger, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, r.trigger)
	}
	return out
}

func (r rule) matches(query, lower string) bool {
	switch r.trigger.Kind {
	case MatchKeyword:
		return containsTrigger(lower, r.lower)
	case MatchSubstring:
		return strings.Contains(lower, r.lower)
	case MatchPattern:
		return r.re.MatchString(query)
	}
	return false
}

// containsTrigger checks if the query contains the trigger phrase at word boundaries.
func containsTrigger(query, trigger string) bool {
	offset := 0
	for {
		idx := strings.Index(query[offset:], trigger)
		if idx == -1 {
			return false
		}
		start := offset + idx
		end := start + len(trigger)

		boundaryBefore := start == 0 || !isWordChar(query[start-1])
		boundaryAfter := end == len(query) || !isWordChar(query[end])
		if boundaryBefore && boundaryAfter {
			return true
		}
		offset = start + 1
	}
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}
