// Package rules holds the per-theme matching rule sets: yaml loading,
// validation, matcher compilation and content fingerprinting.
//
// A theme owns an ordered list of rules. Rules with strategies 1 and 2 carry
// ordered term groups (each group is an AND-set, groups are alternatives);
// strategy 3 rules carry a flat OR-list of terms. The declared order of rules
// and of groups is significant — the filter stage stops at the first rule
// that matches.
package rules

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/railwatch/railwatch/internal/match"
)

// Rule is one (term-group, strategy) pair of a theme's rule set.
type Rule struct {
	Strategy match.Strategy `yaml:"strategy"`
	Groups   [][]string     `yaml:"groups,omitempty"` // strategies 1 and 2
	Terms    []string       `yaml:"terms,omitempty"`  // strategy 3
}

// RuleSet is a theme's ordered rule list with its compiled matchers.
type RuleSet struct {
	Theme string
	Rules []Rule

	matchers []match.Matcher
}

// ConfigError is a fatal, never-retried configuration fault: a malformed
// rule, an unknown strategy, an empty theme. It aborts a run before any
// write happens.
type ConfigError struct {
	Theme  string
	Detail string
}

func (e *ConfigError) Error() string {
	if e.Theme == "" {
		return "rule configuration: " + e.Detail
	}
	return fmt.Sprintf("rule configuration for theme %q: %s", e.Theme, e.Detail)
}

type ruleFile struct {
	Themes map[string]struct {
		Rules []Rule `yaml:"rules"`
	} `yaml:"themes"`
}

// Load reads a yaml rule file and returns the validated, compiled rule sets
// in theme-name order.
func Load(path string) ([]*RuleSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Parse(b)
}

// Parse validates and compiles rule sets from raw yaml.
func Parse(b []byte) ([]*RuleSet, error) {
	var f ruleFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parsing rule file: %w", err)
	}
	if len(f.Themes) == 0 {
		return nil, &ConfigError{Detail: "no themes defined"}
	}

	names := make([]string, 0, len(f.Themes))
	for name := range f.Themes {
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]*RuleSet, 0, len(names))
	for _, name := range names {
		rs := &RuleSet{Theme: name, Rules: f.Themes[name].Rules}
		if err := rs.compile(); err != nil {
			return nil, err
		}
		sets = append(sets, rs)
	}
	return sets, nil
}

// New builds a rule set directly from rules (used by tests and callers that
// assemble rules programmatically).
func New(theme string, ruleList []Rule) (*RuleSet, error) {
	rs := &RuleSet{Theme: theme, Rules: ruleList}
	if err := rs.compile(); err != nil {
		return nil, err
	}
	return rs, nil
}

func (rs *RuleSet) compile() error {
	if strings.TrimSpace(rs.Theme) == "" {
		return &ConfigError{Detail: "theme name is empty"}
	}
	if len(rs.Rules) == 0 {
		return &ConfigError{Theme: rs.Theme, Detail: "no rules defined"}
	}

	rs.matchers = make([]match.Matcher, len(rs.Rules))
	for i, r := range rs.Rules {
		if !r.Strategy.Valid() {
			return &ConfigError{Theme: rs.Theme, Detail: fmt.Sprintf("rule %d: unknown strategy %d", i+1, r.Strategy)}
		}

		var (
			m   match.Matcher
			err error
		)
		switch r.Strategy {
		case match.StrategyAnyTerm:
			if len(r.Terms) == 0 {
				return &ConfigError{Theme: rs.Theme, Detail: fmt.Sprintf("rule %d: strategy %s needs a terms list", i+1, r.Strategy)}
			}
			if len(r.Groups) > 0 {
				return &ConfigError{Theme: rs.Theme, Detail: fmt.Sprintf("rule %d: strategy %s takes terms, not groups", i+1, r.Strategy)}
			}
			m, err = match.NewListMatcher(r.Terms)
		default:
			if len(r.Groups) == 0 {
				return &ConfigError{Theme: rs.Theme, Detail: fmt.Sprintf("rule %d: strategy %s needs term groups", i+1, r.Strategy)}
			}
			for gi, g := range r.Groups {
				if len(g) == 0 {
					return &ConfigError{Theme: rs.Theme, Detail: fmt.Sprintf("rule %d: group %d is empty", i+1, gi+1)}
				}
			}
			m, err = match.NewGroupMatcher(r.Strategy, r.Groups)
		}
		if err != nil {
			return &ConfigError{Theme: rs.Theme, Detail: fmt.Sprintf("rule %d: %v", i+1, err)}
		}
		rs.matchers[i] = m
	}
	return nil
}

// Matchers returns the compiled matchers in rule order.
func (rs *RuleSet) Matchers() []match.Matcher {
	return rs.matchers
}

// Evaluate applies the rules in declared order and stops at the first match.
func (rs *RuleSet) Evaluate(text string) (bool, string) {
	for _, m := range rs.matchers {
		if ok, terms := m.Match(text); ok {
			return true, terms
		}
	}
	return false, ""
}
