package classifier

import (
	"fmt"
	"path"
	"strings"
)

// PatternMatcher filters relative paths with gitignore-style globs.
//
// A pattern ending in "/" matches everything under the directories it
// names, and may itself contain globs and "**" segments. A pattern
// without "/" is matched against the file's base name. Otherwise the pattern
// is matched segment by segment, where a "**" segment spans any number of
// directories.
type PatternMatcher struct {
	include []string
	exclude []string
}

// NewPatternMatcher creates a matcher. Exclude patterns take precedence.
func NewPatternMatcher(include, exclude []string) *PatternMatcher {
	return &PatternMatcher{include: include, exclude: exclude}
}

// Match reports whether relPath passes the include and exclude patterns.
// relPath must be slash separated.
func (pm *PatternMatcher) Match(relPath string) bool {
	for _, p := range pm.exclude {
		if matchPattern(p, relPath) {
			return false
		}
	}
	if len(pm.include) == 0 {
		return true
	}
	for _, p := range pm.include {
		if matchPattern(p, relPath) {
			return true
		}
	}
	return false
}

// Validate checks every pattern for syntax errors.
func (pm *PatternMatcher) Validate() error {
	for i, p := range append(append([]string{}, pm.include...), pm.exclude...) {
		for _, seg := range strings.Split(strings.TrimSuffix(p, "/"), "/") {
			if seg == "**" {
				continue
			}
			if _, err := path.Match(seg, ""); err != nil {
				return &PatternError{Pattern: p, Index: i, Err: err}
			}
		}
	}
	return nil
}

func matchPattern(pattern, relPath string) bool {
	if dir, ok := strings.CutSuffix(pattern, "/"); ok {
		return matchSegments(append(strings.Split(dir, "/"), "**"), strings.Split(relPath, "/"))
	}
	if !strings.Contains(pattern, "/") {
		ok, err := path.Match(pattern, path.Base(relPath))
		return err == nil && ok
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(relPath, "/"))
}

func matchSegments(pat, segs []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			rest := pat[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(segs); i++ {
				if matchSegments(rest, segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		ok, err := path.Match(pat[0], segs[0])
		if err != nil || !ok {
			return false
		}
		pat, segs = pat[1:], segs[1:]
	}
	return len(segs) == 0
}

// PatternError represents an invalid include or exclude pattern.
type PatternError struct {
	Pattern string
	Index   int
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid pattern at index %d '%s': %v", e.Index, e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error {
	return e.Err
}
