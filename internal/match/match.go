// Package match implements the term-matching strategies used by the filter
// stage. A matcher is compiled once per rule when the rule set is loaded and
// is then applied to message text; matching never fails at call time.
package match

import (
	"regexp"
	"strings"
)

// Strategy selects how a rule's terms are matched against text.
type Strategy int

const (
	// StrategyWordSet requires every word of a group to appear as a whole
	// word, case-insensitively. Groups are tried in order; the first
	// satisfied group wins.
	StrategyWordSet Strategy = 1

	// StrategySubstring requires every term of a group to appear as a plain
	// substring. Looser than StrategyWordSet — it catches inflected forms.
	StrategySubstring Strategy = 2

	// StrategyAnyTerm matches if any entry of a flat list appears as a whole
	// word or phrase, case-insensitively. All matching entries are collected.
	StrategyAnyTerm Strategy = 3
)

// Valid reports whether s is one of the three known strategies.
func (s Strategy) Valid() bool {
	return s == StrategyWordSet || s == StrategySubstring || s == StrategyAnyTerm
}

func (s Strategy) String() string {
	switch s {
	case StrategyWordSet:
		return "word-set"
	case StrategySubstring:
		return "substring"
	case StrategyAnyTerm:
		return "any-term"
	default:
		return "unknown"
	}
}

// Matcher evaluates one rule against a text. Implementations hold their
// compiled regexes; Match never returns an error.
type Matcher interface {
	// Match returns whether the rule is satisfied and the joined matched
	// terms ("" when not matched).
	Match(text string) (bool, string)
}

// Go's \b is ASCII-only, which silently breaks on Cyrillic terms. A "word"
// edge here is start/end of text or any rune that is not a letter, digit or
// underscore, which reproduces Unicode-aware boundary semantics.
const boundaryL = `(?:\A|[^\p{L}\p{N}_])`
const boundaryR = `(?:[^\p{L}\p{N}_]|\z)`

// wordRegexp compiles a whole-word/phrase regex for a literal term.
func wordRegexp(term string, caseInsensitive bool) (*regexp.Regexp, error) {
	pattern := boundaryL + regexp.QuoteMeta(term) + boundaryR
	if caseInsensitive {
		pattern = `(?i)` + pattern
	}
	return regexp.Compile(pattern)
}

// wordSetMatcher implements StrategyWordSet: per group, AND over whole-word
// regexes; first satisfied group wins.
type wordSetMatcher struct {
	groups [][]string
	res    [][]*regexp.Regexp
}

func (m *wordSetMatcher) Match(text string) (bool, string) {
	for gi, group := range m.res {
		all := true
		for _, re := range group {
			if !re.MatchString(text) {
				all = false
				break
			}
		}
		if all {
			return true, strings.Join(m.groups[gi], ",")
		}
	}
	return false, ""
}

// substringMatcher implements StrategySubstring: per group, AND over plain
// substring containment. No escaping — terms are used verbatim.
type substringMatcher struct {
	groups [][]string
}

func (m *substringMatcher) Match(text string) (bool, string) {
	for _, group := range m.groups {
		all := true
		for _, term := range group {
			if !strings.Contains(text, term) {
				all = false
				break
			}
		}
		if all {
			return true, strings.Join(group, ",")
		}
	}
	return false, ""
}

// List is a precompiled case-insensitive whole-word/phrase term list. It
// backs StrategyAnyTerm and is reused directly by the enrichment heuristics,
// which need the individual matches rather than a joined string.
type List struct {
	terms []string
	res   []*regexp.Regexp
}

// NewList compiles a whole-word list matcher over the given entries.
func NewList(terms []string) (*List, error) {
	res := make([]*regexp.Regexp, len(terms))
	for i, term := range terms {
		re, err := wordRegexp(term, true)
		if err != nil {
			return nil, err
		}
		res[i] = re
	}
	return &List{terms: terms, res: res}, nil
}

// FindAll returns every entry present in text, in declared entry order.
func (l *List) FindAll(text string) []string {
	var found []string
	for i, re := range l.res {
		if re.MatchString(text) {
			found = append(found, l.terms[i])
		}
	}
	return found
}

// anyTermMatcher implements StrategyAnyTerm: OR over a flat list, collecting
// every entry that matches rather than stopping at the first.
type anyTermMatcher struct {
	list *List
}

func (m *anyTermMatcher) Match(text string) (bool, string) {
	found := m.list.FindAll(text)
	if len(found) == 0 {
		return false, ""
	}
	return true, strings.Join(found, ",")
}

// NewGroupMatcher builds a matcher for StrategyWordSet or StrategySubstring
// over ordered term groups.
func NewGroupMatcher(strategy Strategy, groups [][]string) (Matcher, error) {
	switch strategy {
	case StrategyWordSet:
		res := make([][]*regexp.Regexp, len(groups))
		for gi, group := range groups {
			res[gi] = make([]*regexp.Regexp, len(group))
			for ti, term := range group {
				re, err := wordRegexp(term, true)
				if err != nil {
					return nil, err
				}
				res[gi][ti] = re
			}
		}
		return &wordSetMatcher{groups: groups, res: res}, nil
	case StrategySubstring:
		return &substringMatcher{groups: groups}, nil
	default:
		return nil, &UnsupportedStrategyError{Strategy: strategy}
	}
}

// NewListMatcher builds a matcher for StrategyAnyTerm over a flat term list.
func NewListMatcher(terms []string) (Matcher, error) {
	list, err := NewList(terms)
	if err != nil {
		return nil, err
	}
	return &anyTermMatcher{list: list}, nil
}

// UnsupportedStrategyError is returned when a matcher is constructed with a
// strategy it does not implement.
type UnsupportedStrategyError struct {
	Strategy Strategy
}

func (e *UnsupportedStrategyError) Error() string {
	return "unsupported matching strategy " + e.Strategy.String()
}
