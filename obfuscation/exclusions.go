package obfuscation

import "strings"

// Exclusions is a fixed set of class names that pass through unchanged.
// Entries ending in "*" match any class with that prefix ("fa-*").
// The zero value and nil exclude nothing.
type Exclusions struct {
	exact    map[string]struct{}
	prefixes []string
}

// NewExclusions compiles patterns.
func NewExclusions(patterns []string) *Exclusions {
	e := &Exclusions{exact: make(map[string]struct{}, len(patterns))}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
		case strings.HasSuffix(p, "*"):
			e.prefixes = append(e.prefixes, strings.TrimSuffix(p, "*"))
		default:
			e.exact[p] = struct{}{}
		}
	}
	return e
}

// Match reports whether name is excluded.
func (e *Exclusions) Match(name string) bool {
	if e == nil {
		return false
	}
	if _, ok := e.exact[name]; ok {
		return true
	}
	for _, p := range e.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
