package search

import (
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Glob returns the paths matching pattern, sorted. Patterns use doublestar
// syntax, so "**/*.go" matches at any depth. Paths are slash-separated and
// relative to the same directory as the pattern.
func Glob(paths []string, pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}
	var out []string
	for _, p := range paths {
		if ok, _ := doublestar.Match(pattern, p); ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}
