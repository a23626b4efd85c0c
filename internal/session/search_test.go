package session

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/deepagents/safefs/internal/search"
)

func seedEach(t *testing.T, s *Session, kv ...string) {
	t.Helper()
	for i := 0; i+1 < len(kv); i += 2 {
		mustAccept(t, s, mustPropose(t, s, kv[i], kv[i+1]).ID)
	}
}

func TestGrepSeesOnlyAppliedContent(t *testing.T) {
	s := newSession(t)
	seedEach(t, s, "src/a.go", "package a\n// TODO: one\n", "docs/b.md", "todo list\n")
	mustPropose(t, s, "src/pending.go", "// TODO pending\n")

	res, err := s.Grep(context.Background(), "src", search.Query{Pattern: "todo"})
	if err != nil {
		t.Fatalf("Grep: %v", err)
	}
	if len(res.Matches) != 1 || res.Matches[0].Path != "src/a.go" || res.Matches[0].Line != 2 {
		t.Errorf("matches = %+v, want only src/a.go:2", res.Matches)
	}
}

func TestGlobRelativeToDir(t *testing.T) {
	s := newSession(t)
	seedEach(t, s, "src/a.go", "a", "src/sub/b.go", "b", "main.go", "m")

	got, err := s.Glob("src", "**/*.go")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"src/a.go", "src/sub/b.go"}, got); diff != "" {
		t.Errorf("Glob (-want +got):\n%s", diff)
	}

	got, err = s.Glob(".", "*.go")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"main.go"}, got); diff != "" {
		t.Errorf("Glob root (-want +got):\n%s", diff)
	}
}

func TestFindKeywords(t *testing.T) {
	s := newSession(t)
	seedEach(t, s, "a.md", "mutex pattern", "b.md", "mutex only")

	hits, err := s.FindKeywords(".", "mutex pattern", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].Path != "a.md" {
		t.Errorf("hits = %+v, want a.md first", hits)
	}
}

func TestSearchRespectsBoundaryAndPolicy(t *testing.T) {
	s := newSession(t)
	if _, err := s.Glob("..", "*"); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Glob(..) error = %v, want ErrOutOfBounds", err)
	}

	ro := newSession(t, WithPolicy(Policy{AllowWrite: true}))
	if _, err := ro.Grep(context.Background(), ".", search.Query{Pattern: "x"}); !errors.Is(err, ErrReadDisabled) {
		t.Errorf("Grep error = %v, want ErrReadDisabled", err)
	}
}
