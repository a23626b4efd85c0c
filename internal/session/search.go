package session

import (
	"context"
	"strings"

	"github.com/deepagents/safefs/internal/search"
)

// Grep searches file contents below dir line by line. Paths in the result
// are relative to the root.
func (s *Session) Grep(ctx context.Context, dir string, q search.Query) (search.Result, error) {
	docs, _, err := s.docsUnder(dir)
	if err != nil {
		return search.Result{}, err
	}
	return search.Grep(ctx, docs, q)
}

// Glob returns the root-relative paths of files below dir whose path
// relative to dir matches pattern.
func (s *Session) Glob(dir, pattern string) ([]string, error) {
	docs, prefix, err := s.docsUnder(dir)
	if err != nil {
		return nil, err
	}
	rel := make([]string, len(docs))
	for i, d := range docs {
		rel[i] = strings.TrimPrefix(d.Path, prefix)
	}
	matches, err := search.Glob(rel, pattern)
	if err != nil {
		return nil, err
	}
	for i, m := range matches {
		matches[i] = prefix + m
	}
	return matches, nil
}

// FindKeywords ranks files below dir by how many of the query's words they
// contain.
func (s *Session) FindKeywords(dir, query string, limit int) ([]search.Hit, error) {
	docs, _, err := s.docsUnder(dir)
	if err != nil {
		return nil, err
	}
	return search.BuildIndex(docs).Search(query, limit), nil
}

// docsUnder copies every file below dir. prefix is dir's root-relative
// path followed by a slash, or empty for the root.
func (s *Session) docsUnder(dir string) ([]search.Doc, string, error) {
	if !s.policy.AllowRead {
		return nil, "", ErrReadDisabled
	}
	r, err := s.boundary.Resolve(dir)
	if err != nil {
		return nil, "", err
	}
	prefix := ""
	if !r.IsRoot() {
		prefix = r.Rel + "/"
	}

	var docs []search.Doc
	for _, n := range s.fs.Nodes() {
		if strings.HasPrefix(n.Path, prefix) {
			docs = append(docs, search.Doc{Path: n.Path, Content: n.Content})
		}
	}
	return docs, prefix, nil
}
