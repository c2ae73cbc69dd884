package rules

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint returns a stable content hash over the rule set.
//
// Terms are sorted within each group after lowercasing and whitespace
// stripping, so in-group term order never affects the hash. Groups are
// concatenated in their declared order — reordering groups or rules, editing
// a term's spelling, or changing a group's membership all produce a new
// fingerprint, which invalidates previously computed filter results for the
// theme.
func (rs *RuleSet) Fingerprint() string {
	var b strings.Builder
	for _, r := range rs.Rules {
		groups := r.Groups
		if len(r.Terms) > 0 {
			groups = append(groups[:len(groups):len(groups)], r.Terms)
		}
		for _, group := range groups {
			normalized := make([]string, len(group))
			for i, term := range group {
				normalized[i] = stripWhitespace(strings.ToLower(term))
			}
			sort.Strings(normalized)
			for _, term := range normalized {
				b.WriteString(term)
			}
		}
	}
	sum := md5.Sum([]byte(stripWhitespace(b.String())))
	return hex.EncodeToString(sum[:])
}

func stripWhitespace(s string) string {
	return strings.Join(strings.Fields(s), "")
}
