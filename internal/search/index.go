package search

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Index is an in-memory inverted index mapping lowercase terms to the set
// of file paths that contain them.
type Index struct {
	terms map[string]map[string]bool
}

// Hit is one ranked result of Index.Search.
type Hit struct {
	Path  string `json:"path"`
	Score int    `json:"score"` // number of query terms matched
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{terms: make(map[string]map[string]bool)}
}

// BuildIndex indexes every text document in docs.
func BuildIndex(docs []Doc) *Index {
	idx := NewIndex()
	for _, d := range docs {
		idx.Add(d)
	}
	return idx
}

// Add indexes d, replacing any earlier entry for the same path. Binary
// content is not indexed.
func (idx *Index) Add(d Doc) {
	idx.Remove(d.Path)
	if !utf8.Valid(d.Content) {
		return
	}
	for _, term := range tokenize(string(d.Content)) {
		if idx.terms[term] == nil {
			idx.terms[term] = make(map[string]bool)
		}
		idx.terms[term][d.Path] = true
	}
}

// Remove drops every entry for path.
func (idx *Index) Remove(path string) {
	for term, docs := range idx.terms {
		delete(docs, path)
		if len(docs) == 0 {
			delete(idx.terms, term)
		}
	}
}

// Len returns the number of distinct terms.
func (idx *Index) Len() int {
	return len(idx.terms)
}

// Search finds documents matching the query and returns up to limit hits
// sorted by descending score, then path. limit <= 0 returns all.
func (idx *Index) Search(query string, limit int) []Hit {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}

	scores := make(map[string]int)
	for _, term := range queryTerms {
		for doc := range idx.terms[term] {
			scores[doc]++
		}
	}
	if len(scores) == 0 {
		return nil
	}
	return rankHits(scores, limit)
}

func rankHits(scores map[string]int, limit int) []Hit {
	hits := make([]Hit, 0, len(scores))
	for path, score := range scores {
		hits = append(hits, Hit{Path: path, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Path < hits[j].Path
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// isTokenSeparator returns true for characters that split words during tokenization.
func isTokenSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
}

// tokenize splits text into unique lowercase words of two or more bytes,
// in first-seen order.
func tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), isTokenSeparator)
	out := make([]string, 0, len(words))
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) < 2 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
