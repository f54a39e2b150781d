// Package category matches namespaces to cost-category rules. Patterns
// ending in "%" match as prefix; otherwise exact. When several rules match
// one namespace the greatest category id wins, matching SQL max().
package category

import (
	"strings"

	"ocp-cost/core/types"
)

// Matcher evaluates cost-category rules against namespaces.
type Matcher struct {
	rules []types.CostCategoryRule
	cache map[string]*int
}

// NewMatcher builds a matcher; rules may be empty.
func NewMatcher(rules []types.CostCategoryRule) *Matcher {
	return &Matcher{rules: rules, cache: map[string]*int{}}
}

// Match returns the max category id among matching rules, or nil when no
// rule matches. Results are memoized per namespace: the rule set is fixed
// for a run and namespaces repeat heavily.
func (m *Matcher) Match(namespace string) *int {
	if id, ok := m.cache[namespace]; ok {
		return id
	}

	var best *int
	for _, r := range m.rules {
		if !patternMatches(r.NamespacePattern, namespace) {
			continue
		}
		if best == nil || r.CategoryID > *best {
			id := r.CategoryID
			best = &id
		}
	}
	m.cache[namespace] = best
	return best
}

func patternMatches(pattern, namespace string) bool {
	if p, ok := strings.CutSuffix(pattern, "%"); ok {
		return strings.HasPrefix(namespace, p)
	}
	return pattern == namespace
}
