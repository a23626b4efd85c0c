package search

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGrep(t *testing.T) {
	corpus := docs(
		"b.go", "package b\nfunc TODO() {}\n",
		"a.go", "package a\n// todo: fix\nvar x = 1\r\n",
		"README.md", "nothing to see\n",
	)

	res, err := Grep(context.Background(), corpus, Query{Pattern: "todo"})
	if err != nil {
		t.Fatalf("Grep: %v", err)
	}
	want := []Match{
		{Path: "a.go", Line: 2, Text: "// todo: fix"},
		{Path: "b.go", Line: 2, Text: "func TODO() {}"},
	}
	if diff := cmp.Diff(want, res.Matches); diff != "" {
		t.Errorf("matches (-want +got):\n%s", diff)
	}
	if res.FilesSearched != 3 || res.Truncated {
		t.Errorf("FilesSearched = %d, Truncated = %v", res.FilesSearched, res.Truncated)
	}
}

func TestGrepCaseSensitiveAndInclude(t *testing.T) {
	corpus := docs(
		"src/a.go", "TODO upper\ntodo lower\n",
		"src/a.md", "TODO in markdown\n",
	)
	res, err := Grep(context.Background(), corpus, Query{Pattern: "TODO", CaseSensitive: true, Include: "*.go"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 1 || res.Matches[0].Line != 1 || res.FilesSearched != 1 {
		t.Errorf("result = %+v, want only line 1 of src/a.go", res)
	}
}

func TestGrepContext(t *testing.T) {
	corpus := docs("f.txt", "one\ntwo\nthree\nfour\n")
	res, err := Grep(context.Background(), corpus, Query{Pattern: "^one$", Context: 2})
	if err != nil {
		t.Fatal(err)
	}
	want := []Line{
		{Number: 1, Text: "one", Match: true},
		{Number: 2, Text: "two"},
		{Number: 3, Text: "three"},
	}
	if len(res.Matches) != 1 {
		t.Fatalf("matches = %+v", res.Matches)
	}
	if diff := cmp.Diff(want, res.Matches[0].Context); diff != "" {
		t.Errorf("context (-want +got):\n%s", diff)
	}
}

func TestGrepTruncates(t *testing.T) {
	corpus := docs("a.txt", "x\nx\nx\n", "b.txt", "x\n")
	res, err := Grep(context.Background(), corpus, Query{Pattern: "x", MaxMatches: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 2 || !res.Truncated {
		t.Errorf("got %d matches, truncated=%v; want 2, true", len(res.Matches), res.Truncated)
	}

	res, err = Grep(context.Background(), corpus, Query{Pattern: "x", MaxMatches: 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 4 || res.Truncated {
		t.Errorf("exact fit: got %d matches, truncated=%v; want 4, false", len(res.Matches), res.Truncated)
	}
}

func TestGrepSkipsBinary(t *testing.T) {
	corpus := []Doc{{Path: "img.png", Content: []byte{0x89, 'P', 'N', 'G', 0xff}}}
	res, err := Grep(context.Background(), corpus, Query{Pattern: "PNG"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 0 || res.FilesSearched != 0 {
		t.Errorf("binary file searched: %+v", res)
	}
}

func TestGrepInvalidPattern(t *testing.T) {
	for _, q := range []Query{{Pattern: "("}, {Pattern: "x", Include: "[a-"}} {
		if _, err := Grep(context.Background(), nil, q); !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("Grep(%+v) error = %v, want ErrInvalidPattern", q, err)
		}
	}
}

func TestGrepCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Grep(ctx, docs("a.txt", "x"), Query{Pattern: "x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Grep error = %v, want context.Canceled", err)
	}
}

func TestGlob(t *testing.T) {
	paths := []string{"main.go", "internal/vfs/vfs.go", "internal/vfs/vfs_test.go", "README.md"}

	tests := []struct {
		pattern string
		want    []string
	}{
		{"*.go", []string{"main.go"}},
		{"**/*.go", []string{"internal/vfs/vfs.go", "internal/vfs/vfs_test.go", "main.go"}},
		{"internal/**/*_test.go", []string{"internal/vfs/vfs_test.go"}},
		{"*.{md,txt}", []string{"README.md"}},
		{"*.rs", nil},
	}
	for _, tt := range tests {
		got, err := Glob(paths, tt.pattern)
		if err != nil {
			t.Errorf("Glob(%q) error = %v", tt.pattern, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Glob(%q) (-want +got):\n%s", tt.pattern, diff)
		}
	}

	if _, err := Glob(paths, "[a-"); !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("Glob([a-) error = %v, want ErrInvalidPattern", err)
	}
}
