package ignore

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// rule is one parsed ignore pattern
type rule struct {
	pattern  string
	negate   bool
	dirOnly  bool
	hasSlash bool
}

// Matcher matches relative paths against gitignore-style patterns.
//
// Supported syntax:
//   - wildcards *, ?, [abc] (doublestar glob semantics)
//   - trailing / constrains the pattern to directory matches
//   - ! negates a prior match; the last matching rule wins
//   - # comments and blank lines are skipped
//
// Patterns without a / match any single path component; patterns with a /
// match against the full path.
type Matcher struct {
	rules []rule
}

// NewMatcher parses pattern lines into a matcher. Unparseable lines are
// kept out rather than failing the whole set.
func NewMatcher(patterns []string) *Matcher {
	m := &Matcher{}
	for _, line := range patterns {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		r := rule{}
		if strings.HasPrefix(line, "!") {
			r.negate = true
			line = strings.TrimSpace(line[1:])
			if line == "" {
				continue
			}
		}
		if strings.HasSuffix(line, "/") {
			r.dirOnly = true
			line = strings.TrimRight(line, "/")
			if line == "" {
				continue
			}
		}
		r.pattern = line
		r.hasSlash = strings.Contains(line, "/")
		m.rules = append(m.rules, r)
	}
	return m
}

// ShouldIgnore reports whether a path is excluded from listings
func (m *Matcher) ShouldIgnore(path string) bool {
	path = strings.ReplaceAll(path, "\\", "/")

	ignored := false
	for _, r := range m.rules {
		if r.matches(path) {
			ignored = !r.negate
		}
	}
	return ignored
}

// Filter returns the paths that are not ignored
func (m *Matcher) Filter(paths []string) []string {
	kept := make([]string, 0, len(paths))
	for _, p := range paths {
		if !m.ShouldIgnore(p) {
			kept = append(kept, p)
		}
	}
	return kept
}

func (r *rule) matches(path string) bool {
	segments := strings.Split(path, "/")

	if r.hasSlash {
		// Anchored pattern: match the full path, or a directory prefix of it
		if ok, _ := doublestar.Match(r.pattern, path); ok {
			// A directory-only pattern must not match the file itself
			return !r.dirOnly
		}
		if ok, _ := doublestar.Match(r.pattern+"/**", path); ok {
			return true
		}
		return false
	}

	// Unanchored pattern: match any path component. A directory-only
	// pattern may only match a non-final component.
	last := len(segments) - 1
	for i, seg := range segments {
		if ok, _ := doublestar.Match(r.pattern, seg); ok {
			if r.dirOnly && i == last {
				continue
			}
			return true
		}
	}
	return false
}
