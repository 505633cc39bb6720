// Package watch implements the Watch Service: a filesystem change observer
// abstracted behind a small interface, with an fsnotify backend. The
// watcher lifecycle follows the classic fsnotify recursive-add pattern;
// path exclusion uses a doublestar-style `**` glob matcher rather than
// plain substring checks (see DESIGN.md).
package watch

import (
	"path/filepath"
	"strings"
)

// DefaultExcludes covers noisy, rarely-watched directories that generate
// build-irrelevant churn.
var DefaultExcludes = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/.build/**",
	"**/build/**",
	"**/dist/**",
	"**/.poltergeist/**",
	"**/*.tmp-*",
}

// Matches reports whether rel (a project-root-relative, slash-separated
// path) satisfies any of patterns. Each pattern is a filepath.Match glob
// with "**" expanded to match across path separators.
func Matches(rel string, patterns []string) bool {
	rel = filepath.ToSlash(rel)
	for _, pat := range patterns {
		if matchOne(rel, filepath.ToSlash(pat)) {
			return true
		}
	}
	return false
}

func matchOne(rel, pattern string) bool {
	if !strings.Contains(pattern, "**") {
		ok, _ := filepath.Match(pattern, rel)
		if ok {
			return true
		}
		// Also try matching just the base name, for bare patterns like "*.log".
		ok, _ = filepath.Match(pattern, filepath.Base(rel))
		return ok
	}
	segments := strings.Split(pattern, "**")
	return matchGlobstar(rel, segments)
}

// matchGlobstar matches rel against a pattern split on "**", where each
// "**" may consume any number of path segments (including zero).
func matchGlobstar(rel string, segments []string) bool {
	cur := rel
	for i, seg := range segments {
		seg = strings.Trim(seg, "/")
		if seg == "" {
			continue
		}
		if i == len(segments)-1 {
			return globSuffixMatch(cur, seg)
		}
		idx := globPrefixIndex(cur, seg)
		if idx < 0 {
			return false
		}
		cur = cur[idx+len(seg):]
	}
	return true
}

func globPrefixIndex(s, globSeg string) int {
	parts := strings.Split(s, "/")
	acc := ""
	for _, p := range parts {
		candidate := acc
		if candidate != "" {
			candidate += "/"
		}
		candidate += p
		if ok, _ := filepath.Match(globSeg, p); ok {
			return strings.Index(s, p)
		}
		acc = candidate
	}
	return -1
}

func globSuffixMatch(s, globSeg string) bool {
	if ok, _ := filepath.Match(globSeg, filepath.Base(s)); ok {
		return true
	}
	ok, _ := filepath.Match("*"+globSeg, s)
	return ok
}
