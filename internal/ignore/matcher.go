package ignore

import (
	"path"
	"regexp"
	"strings"
)

type rule struct {
	pattern  string
	re       *regexp.Regexp
	negated  bool
	dirOnly  bool
	anchored bool
}

// Matcher applies gitignore-like rules with "last rule wins" behavior.
type Matcher struct {
	rules []rule
	// When set, slash-free patterns are tested against every path segment
	// instead of the basename only.
	anySegment bool
}

// NewMatcher builds a matcher whose slash-free patterns match any path
// segment, so "build" excludes "a/build/b.go".
func NewMatcher(lines []string) *Matcher {
	return newMatcher(lines, true)
}

// NewBasenameMatcher builds a matcher whose slash-free patterns only test
// the final path element.
func NewBasenameMatcher(lines []string) *Matcher {
	return newMatcher(lines, false)
}

func newMatcher(lines []string, anySegment bool) *Matcher {
	rules := make([]rule, 0, len(lines))
	for _, line := range lines {
		if parsed, ok := parseRule(line); ok {
			rules = append(rules, parsed)
		}
	}
	return &Matcher{rules: rules, anySegment: anySegment}
}

// ShouldIgnore returns true when relPath should be excluded.
func (m *Matcher) ShouldIgnore(relPath string, isDir bool) bool {
	if m == nil {
		return false
	}
	relPath = normalizePath(relPath)
	if relPath == "" {
		return false
	}
	ignored := false
	for _, r := range m.rules {
		if m.ruleMatches(r, relPath, isDir) {
			ignored = !r.negated
		}
	}
	return ignored
}

func parseRule(line string) (rule, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return rule{}, false
	}

	parsed := rule{}
	if strings.HasPrefix(line, "!") {
		parsed.negated = true
		line = strings.TrimPrefix(line, "!")
	}
	if strings.HasPrefix(line, "/") {
		parsed.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	if strings.HasSuffix(line, "/") {
		parsed.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}

	line = normalizePath(line)
	if line == "" {
		return rule{}, false
	}
	re, err := regexp.Compile("^" + globToRegex(line) + "$")
	if err != nil {
		return rule{}, false
	}
	parsed.pattern = line
	parsed.re = re
	return parsed, true
}

func (m *Matcher) ruleMatches(r rule, relPath string, isDir bool) bool {
	if r.dirOnly {
		if matchDirectoryPrefix(r, relPath, isDir) {
			return true
		}
		return false
	}

	if r.anchored {
		return r.re.MatchString(relPath)
	}

	if strings.Contains(r.pattern, "/") {
		parts := strings.Split(relPath, "/")
		for i := range parts {
			if r.re.MatchString(strings.Join(parts[i:], "/")) {
				return true
			}
		}
		return false
	}

	if r.re.MatchString(path.Base(relPath)) {
		return true
	}
	if !m.anySegment {
		return false
	}
	for _, segment := range strings.Split(relPath, "/") {
		if r.re.MatchString(segment) {
			return true
		}
	}
	return false
}

// matchDirectoryPrefix reports whether some directory on relPath matches a
// dir-only rule. The final element only counts when relPath is a directory.
func matchDirectoryPrefix(r rule, relPath string, isDir bool) bool {
	parts := strings.Split(relPath, "/")
	last := len(parts)
	if !isDir {
		last--
	}
	for i := 0; i < last; i++ {
		if r.anchored || strings.Contains(r.pattern, "/") {
			if r.re.MatchString(strings.Join(parts[:i+1], "/")) {
				return true
			}
			continue
		}
		if r.re.MatchString(parts[i]) {
			return true
		}
	}
	return false
}

func globToRegex(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]

		if ch == '*' {
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i++
				continue
			}
			b.WriteString("[^/]*")
			continue
		}

		if ch == '?' {
			b.WriteString("[^/]")
			continue
		}

		if strings.ContainsRune(`.+()|[]{}^$\`, rune(ch)) {
			b.WriteByte('\\')
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// normalizePath converts relPath to slash form and drops "." and ".."
// components so patterns like ".*" never match them.
func normalizePath(relPath string) string {
	relPath = strings.ReplaceAll(relPath, "\\", "/")
	parts := strings.Split(relPath, "/")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "/")
}
