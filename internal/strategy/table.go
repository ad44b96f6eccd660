// Package strategy implements the per-endpoint caching policies.
//
// A Table maps request path prefixes to a Rule (network-first or cache-first
// with a max age). The Engine executes a rule for a request by evaluating an
// ordered chain of Providers; the first one that yields a response wins and
// a structured 503 closes the chain. Strategies never return errors: every
// outcome is a response.
package strategy

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind selects a caching algorithm.
type Kind string

const (
	NetworkFirst Kind = "networkFirst"
	CacheFirst   Kind = "cacheFirst"
)

// Valid reports whether k is a known strategy.
func (k Kind) Valid() bool {
	return k == NetworkFirst || k == CacheFirst
}

// Rule is one entry of the strategy table.
type Rule struct {
	Prefix   string
	Strategy Kind
	MaxAge   time.Duration
}

func (r Rule) String() string {
	p := r.Prefix
	if p == "" {
		p = "(unmatched)"
	}
	return fmt.Sprintf("%s %s %s", p, r.Strategy, r.MaxAge)
}

// Table maps path prefixes to rules. It is immutable once built.
type Table struct {
	rules    []Rule // longest prefix first
	fallback Rule
	static   Rule
}

// Default policies for paths without a matching rule and for static assets.
var (
	DefaultFallback = Rule{Strategy: NetworkFirst, MaxAge: 5 * time.Minute}
	DefaultStatic   = Rule{Strategy: CacheFirst, MaxAge: 7 * 24 * time.Hour}
)

// DefaultRules is the built-in API table.
func DefaultRules() []Rule {
	return []Rule{
		{Prefix: "/api/dashboard/stats", Strategy: NetworkFirst, MaxAge: 30 * time.Minute},
		{Prefix: "/api/inventory", Strategy: NetworkFirst, MaxAge: 2 * time.Hour},
		{Prefix: "/api/sales", Strategy: NetworkFirst, MaxAge: time.Hour},
		{Prefix: "/api/notifications", Strategy: NetworkFirst, MaxAge: time.Hour},
		{Prefix: "/api/menu", Strategy: CacheFirst, MaxAge: 24 * time.Hour},
		{Prefix: "/api/users", Strategy: CacheFirst, MaxAge: 12 * time.Hour},
		{Prefix: "/api/suppliers", Strategy: CacheFirst, MaxAge: 48 * time.Hour},
	}
}

// DefaultTable returns the built-in table.
func DefaultTable() *Table {
	t, err := NewTable(DefaultRules(), DefaultFallback, DefaultStatic)
	if err != nil {
		panic(err)
	}
	return t
}

// NewTable validates rules and builds a table.
func NewTable(rules []Rule, fallback, static Rule) (*Table, error) {
	seen := make(map[string]bool, len(rules))
	sorted := make([]Rule, 0, len(rules))
	for _, r := range rules {
		r.Prefix = normalizePrefix(r.Prefix)
		if !strings.HasPrefix(r.Prefix, "/") {
			return nil, fmt.Errorf("rule %q: prefix must start with /", r.Prefix)
		}
		if err := validatePolicy(r); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Prefix, err)
		}
		if seen[r.Prefix] {
			return nil, fmt.Errorf("rule %q: duplicate prefix", r.Prefix)
		}
		seen[r.Prefix] = true
		sorted = append(sorted, r)
	}
	if err := validatePolicy(fallback); err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}
	if err := validatePolicy(static); err != nil {
		return nil, fmt.Errorf("static: %w", err)
	}
	fallback.Prefix = ""
	static.Prefix = ""

	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &Table{rules: sorted, fallback: fallback, static: static}, nil
}

func validatePolicy(r Rule) error {
	if !r.Strategy.Valid() {
		return fmt.Errorf("unknown strategy %q", r.Strategy)
	}
	if r.MaxAge <= 0 {
		return fmt.Errorf("max age must be positive, got %s", r.MaxAge)
	}
	return nil
}

// Match returns the rule with the longest prefix matching path on a segment
// boundary, or the fallback rule.
func (t *Table) Match(path string) Rule {
	for _, r := range t.rules {
		if hasPathPrefix(path, r.Prefix) {
			return r
		}
	}
	return t.fallback
}

// Static returns the policy for static assets.
func (t *Table) Static() Rule {
	return t.static
}

// Fallback returns the policy for unmatched paths.
func (t *Table) Fallback() Rule {
	return t.fallback
}

// Rules returns the configured rules, longest prefix first.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

func normalizePrefix(p string) string {
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// hasPathPrefix matches "/api/menu" against "/api/menu" and "/api/menu/3"
// but not "/api/menus".
func hasPathPrefix(path, prefix string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
