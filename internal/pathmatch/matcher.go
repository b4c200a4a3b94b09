// Package pathmatch correlates a route path from the ESI status document with
// a templated path from the OpenAPI document.
//
// The two documents are versioned independently, so path parameter names can
// differ between them for the same route (`/alliances/{alliance_id}/` in one,
// `/alliances/{id}/` in the other) and concrete paths may appear where the
// schema has a template. Matching is therefore structural, not textual.
package pathmatch

import (
	"regexp"
	"strings"
)

// Wildcard replaces every placeholder segment in a normalized path
const Wildcard = "{}"

var (
	normalizePattern   = regexp.MustCompile(`\{[^/}]+\}`)
	placeholderPattern = regexp.MustCompile(`\{[^}]+\}`)
)

// Matcher finds the best schema path for a route path. It is immutable after
// construction and safe for concurrent use.
type Matcher struct {
	paths      []string
	exact      map[string]struct{}
	normalized map[string][]string
	patterns   map[string]*regexp.Regexp
}

// New builds a Matcher over schema paths. Order matters: when several paths
// match structurally the earliest one wins.
func New(paths []string) *Matcher {
	m := &Matcher{
		paths:      make([]string, 0, len(paths)),
		exact:      make(map[string]struct{}, len(paths)),
		normalized: make(map[string][]string),
		patterns:   make(map[string]*regexp.Regexp, len(paths)),
	}

	for _, p := range paths {
		if _, dup := m.exact[p]; dup {
			continue
		}
		m.paths = append(m.paths, p)
		m.exact[p] = struct{}{}

		norm := Normalize(p)
		m.normalized[norm] = append(m.normalized[norm], p)
		m.patterns[p] = Compile(p)
	}

	return m
}

// Match returns the schema path for path. Resolution order:
//  1. exact string match
//  2. a single schema path with the same normalized form
//  3. the first same-normalized-form path whose pattern matches path
//  4. the first schema path, in document order, whose pattern matches path
func (m *Matcher) Match(path string) (string, bool) {
	if _, ok := m.exact[path]; ok {
		return path, true
	}

	candidates := m.normalized[Normalize(path)]
	if len(candidates) == 1 {
		return candidates[0], true
	}

	for _, candidate := range candidates {
		if m.patterns[candidate].MatchString(path) {
			return candidate, true
		}
	}

	for _, candidate := range m.paths {
		if m.patterns[candidate].MatchString(path) {
			return candidate, true
		}
	}

	return "", false
}

// Len returns the number of distinct schema paths
func (m *Matcher) Len() int {
	return len(m.paths)
}

// Normalize replaces every {...} placeholder in p with Wildcard
func Normalize(p string) string {
	return normalizePattern.ReplaceAllString(p, Wildcard)
}

// Compile turns a path template into an anchored pattern where each
// placeholder matches one or more non-slash characters and everything else is
// literal.
func Compile(p string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")

	last := 0
	for _, loc := range placeholderPattern.FindAllStringIndex(p, -1) {
		b.WriteString(regexp.QuoteMeta(p[last:loc[0]]))
		b.WriteString("[^/]+")
		last = loc[1]
	}
	b.WriteString(regexp.QuoteMeta(p[last:]))
	b.WriteString("$")

	return regexp.MustCompile(b.String())
}
