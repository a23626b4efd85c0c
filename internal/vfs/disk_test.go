package vfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/deepagents/safefs/internal/sandbox"
)

func newBoundary(t *testing.T) *sandbox.Boundary {
	t.Helper()
	b, err := sandbox.New(t.TempDir())
	if err != nil {
		t.Fatalf("sandbox.New failed: %v", err)
	}
	return b
}

func TestDiskBackendMirrorsWrites(t *testing.T) {
	b := newBoundary(t)
	fs := New(WithBackend(NewDiskBackend(b)))
	m := fs.Mutator()

	if err := m.Write("nested/dir/a.txt", []byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(b.Root(), "nested", "dir", "a.txt"))
	if err != nil {
		t.Fatalf("mirrored file missing: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("mirrored content = %q, want hello", data)
	}

	if err := m.Remove("nested/dir/a.txt"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(b.Root(), "nested", "dir", "a.txt")); !os.IsNotExist(err) {
		t.Errorf("file still on disk after Remove: %v", err)
	}
}

func TestDiskBackendLeavesNoTempFiles(t *testing.T) {
	b := newBoundary(t)
	d := NewDiskBackend(b)

	if err := d.Put("a.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(b.Root())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "a.txt" {
		t.Errorf("root contents = %v, want only a.txt", entries)
	}
}

// TestDiskBackendRejectsPlantedSymlink verifies that a symlink created on
// disk after a path was validated cannot redirect the mirrored write.
func TestDiskBackendRejectsPlantedSymlink(t *testing.T) {
	b := newBoundary(t)
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(b.Root(), "evil")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	d := NewDiskBackend(b)
	if err := d.Put("evil/x.txt", []byte("x")); !errors.Is(err, sandbox.ErrOutOfBounds) {
		t.Errorf("Put through symlink error = %v, want ErrOutOfBounds", err)
	}
	if _, err := os.Stat(filepath.Join(outside, "x.txt")); !os.IsNotExist(err) {
		t.Error("write escaped the sandbox")
	}
}

func TestDiskBackendRemoveMissingIsNoop(t *testing.T) {
	d := NewDiskBackend(newBoundary(t))
	if err := d.Remove("never-existed.txt"); err != nil {
		t.Errorf("Remove(missing) = %v, want nil", err)
	}
}

func TestImport(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"main.go":             "package main",
		"pkg/lib.go":          "package pkg",
		".env":                "SECRET=1",
		".git/config":         "[core]",
		"node_modules/x/i.js": "js",
		"docs/big.bin":        "0123456789abcdef",
	}
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}

	fs := New()
	report, err := fs.Mutator().Import(context.Background(), root, ImportOptions{
		Ignore:      DefaultIgnore,
		MaxFileSize: 12,
		Concurrency: 2,
	})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	sort.Strings(report.Imported)
	if diff := cmp.Diff([]string{"main.go", "pkg/lib.go"}, report.Imported); diff != "" {
		t.Errorf("imported mismatch (-want +got):\n%s", diff)
	}
	if len(report.Skipped) != 1 || report.Skipped[0].Path != "docs/big.bin" {
		t.Errorf("skipped = %+v, want docs/big.bin", report.Skipped)
	}

	n, err := fs.Read("pkg/lib.go")
	if err != nil {
		t.Fatalf("Read imported file failed: %v", err)
	}
	if n.Checksum != Checksum([]byte("package pkg")) {
		t.Errorf("imported checksum = %s", n.Checksum)
	}
}

func TestImportIncludeHidden(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".env"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	fs := New()
	if _, err := fs.Mutator().Import(context.Background(), root, ImportOptions{IncludeHidden: true}); err != nil {
		t.Fatal(err)
	}
	if !fs.Exists(".env") {
		t.Error(".env not imported with IncludeHidden")
	}
}

// TestImportSkipsFileDirectoryClash verifies disk files that collide with
// the table's shape are reported instead of imported.
func TestImportSkipsFileDirectoryClash(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"x/y", "d", "ok.txt"} {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(rel), 0600); err != nil {
			t.Fatal(err)
		}
	}

	fs := New()
	m := fs.Mutator()
	if err := m.Write("x", []byte("file x")); err != nil {
		t.Fatal(err)
	}
	if err := m.Write("d/inner", []byte("dir d")); err != nil {
		t.Fatal(err)
	}

	report, err := m.Import(context.Background(), root, ImportOptions{})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if diff := cmp.Diff([]string{"ok.txt"}, report.Imported); diff != "" {
		t.Errorf("imported mismatch (-want +got):\n%s", diff)
	}
	skipped := make([]string, 0, len(report.Skipped))
	for _, s := range report.Skipped {
		skipped = append(skipped, s.Path)
	}
	sort.Strings(skipped)
	if diff := cmp.Diff([]string{"d", "x/y"}, skipped); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}
	if n, _ := fs.Read("x"); string(n.Content) != "file x" {
		t.Errorf("x = %q, want untouched", n.Content)
	}
}
