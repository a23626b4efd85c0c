// Package search finds text in session files: regular-expression line
// search with context, glob matching over paths, and a ranked keyword index.
package search

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/deepagents/safefs/internal/worker"
)

// DefaultMaxMatches caps Grep results when Query.MaxMatches is zero.
const DefaultMaxMatches = 50

// Doc is one searchable file.
type Doc struct {
	Path    string
	Content []byte
}

// Query configures Grep.
type Query struct {
	// Pattern is an RE2 regular expression matched against each line.
	Pattern string

	// Include keeps files whose base name matches this glob; empty keeps all.
	Include string

	// CaseSensitive disables the default case folding.
	CaseSensitive bool

	// Context is the number of lines shown around each match.
	Context int

	// MaxMatches caps the result (0 = DefaultMaxMatches, < 0 = unlimited).
	MaxMatches int

	// Concurrency bounds parallel scanning (0 = NumCPU).
	Concurrency int
}

// Line is one numbered line of context.
type Line struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
	Match  bool   `json:"match,omitempty"`
}

// Match is one matching line and its surroundings.
type Match struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Text    string `json:"text"`
	Context []Line `json:"context,omitempty"`
}

// Result is the outcome of Grep.
type Result struct {
	Matches       []Match `json:"matches"`
	FilesSearched int     `json:"files_searched"`
	Truncated     bool    `json:"truncated,omitempty"`
}

// Grep scans docs line by line. Matches are ordered by path then line.
// Content that is not valid UTF-8 is treated as binary and skipped.
func Grep(ctx context.Context, docs []Doc, q Query) (Result, error) {
	expr := q.Pattern
	if !q.CaseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	if q.Include != "" && !doublestar.ValidatePattern(q.Include) {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidPattern, q.Include)
	}
	limit := q.MaxMatches
	if limit == 0 {
		limit = DefaultMaxMatches
	}

	byPath := make(map[string][]byte, len(docs))
	var paths []string
	for _, d := range docs {
		if q.Include != "" {
			if ok, _ := doublestar.Match(q.Include, path.Base(d.Path)); !ok {
				continue
			}
		}
		if !utf8.Valid(d.Content) {
			continue
		}
		byPath[d.Path] = d.Content
		paths = append(paths, d.Path)
	}
	sort.Strings(paths)

	pool := worker.NewPool[[]Match](q.Concurrency)
	results := pool.Process(ctx, paths, func(_ context.Context, p string) ([]Match, error) {
		return grepDoc(p, byPath[p], re, q.Context, limit), nil
	})
	if err := worker.FirstError(results); err != nil {
		return Result{}, err
	}

	res := Result{FilesSearched: len(paths)}
	for _, r := range results {
		for _, m := range r.Value {
			if limit > 0 && len(res.Matches) == limit {
				res.Truncated = true
				return res, nil
			}
			res.Matches = append(res.Matches, m)
		}
	}
	return res, nil
}

// grepDoc returns up to limit+1 matches so the caller can tell when the
// overall result was cut short.
func grepDoc(p string, content []byte, re *regexp.Regexp, around, limit int) []Match {
	text := strings.TrimSuffix(string(content), "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}

	var out []Match
	for i, line := range lines {
		if !re.MatchString(line) {
			continue
		}
		m := Match{Path: p, Line: i + 1, Text: line}
		if around > 0 {
			lo, hi := max(0, i-around), min(len(lines), i+around+1)
			for j := lo; j < hi; j++ {
				m.Context = append(m.Context, Line{Number: j + 1, Text: lines[j], Match: j == i})
			}
		}
		out = append(out, m)
		if limit > 0 && len(out) > limit {
			break
		}
	}
	return out
}
