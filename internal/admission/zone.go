// Package admission decides whether incoming requests are allowed under the
// configured per-client rate-limit zones.
package admission

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Zone names a rate-limit bucket configuration. Refill is continuous at Rate
// tokens per second up to Burst; a request either takes a token immediately
// or is rejected, never queued.
type Zone struct {
	Name  string
	Rate  float64
	Burst int
}

// PathRule binds a path prefix to a zone.
type PathRule struct {
	Prefix string
	Zone   Zone
}

// Matcher resolves a request path to its governing zone. Rules are evaluated
// most-specific-first, so when both a general prefix and a deeper sub-path
// match, only the deeper rule's zone applies.
type Matcher struct {
	rules  []PathRule
	exempt map[string]struct{}
}

// NewMatcher compiles the rule set. Exempt paths bypass admission entirely.
func NewMatcher(rules []PathRule, exempt []string) (*Matcher, error) {
	compiled := make([]PathRule, len(rules))
	copy(compiled, rules)
	for i, rule := range compiled {
		if rule.Prefix == "" || !strings.HasPrefix(rule.Prefix, "/") {
			return nil, fmt.Errorf("zone %q: prefix %q must start with /", rule.Zone.Name, rule.Prefix)
		}
		if rule.Zone.Rate <= 0 || rule.Zone.Burst <= 0 {
			return nil, fmt.Errorf("zone %q: rate and burst must be positive", rule.Zone.Name)
		}
		compiled[i].Prefix = strings.TrimRight(rule.Prefix, "/")
		if compiled[i].Prefix == "" {
			compiled[i].Prefix = "/"
		}
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return len(compiled[i].Prefix) > len(compiled[j].Prefix)
	})
	exemptSet := make(map[string]struct{}, len(exempt))
	for _, p := range exempt {
		exemptSet[p] = struct{}{}
	}
	return &Matcher{rules: compiled, exempt: exemptSet}, nil
}

// Match returns the winning zone for path, or false when the path is exempt
// or matches no rule.
func (m *Matcher) Match(path string) (Zone, bool) {
	if _, ok := m.exempt[path]; ok {
		return Zone{}, false
	}
	for _, rule := range m.rules {
		if matchesPrefix(path, rule.Prefix) {
			return rule.Zone, true
		}
	}
	return Zone{}, false
}

// matchesPrefix matches on whole path segments, so /api/creations governs
// /api/creations/create but not /api/creationsx.
func matchesPrefix(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// RefillInterval reports roughly how long a fully drained bucket needs for
// one token, used for Retry-After hints.
func (z Zone) RefillInterval() time.Duration {
	if z.Rate <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / z.Rate)
}
