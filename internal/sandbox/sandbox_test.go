package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newBoundary(t *testing.T) *Boundary {
	t.Helper()
	b, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return b
}

func TestNewRejectsBadRoots(t *testing.T) {
	if _, err := New(""); !errors.Is(err, ErrEmptyRoot) {
		t.Errorf("New(\"\") error = %v, want ErrEmptyRoot", err)
	}

	file := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(file); !errors.Is(err, ErrRootNotDir) {
		t.Errorf("New(file) error = %v, want ErrRootNotDir", err)
	}

	if _, err := New(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("New(missing) succeeded, want error")
	}
}

func TestResolveInside(t *testing.T) {
	b := newBoundary(t)

	tests := []struct {
		in      string
		wantRel string
	}{
		{"a.txt", "a.txt"},
		{"./a.txt", "a.txt"},
		{"dir/../b.txt", "b.txt"},
		{"dir/sub/c.go", "dir/sub/c.go"},
		{"", "."},
		{".", "."},
		{filepath.Join(b.Root(), "abs.txt"), "abs.txt"},
	}

	for _, tt := range tests {
		r, err := b.Resolve(tt.in)
		if err != nil {
			t.Errorf("Resolve(%q) error = %v", tt.in, err)
			continue
		}
		if r.Rel != tt.wantRel {
			t.Errorf("Resolve(%q).Rel = %q, want %q", tt.in, r.Rel, tt.wantRel)
		}
		if r.Abs != filepath.Join(b.Root(), filepath.FromSlash(tt.wantRel)) {
			t.Errorf("Resolve(%q).Abs = %q", tt.in, r.Abs)
		}
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	b := newBoundary(t)
	outside := t.TempDir()

	inputs := []string{
		"../etc/passwd",
		"..",
		"a/../../x",
		"/etc/passwd",
		filepath.Join(outside, "x.txt"),
		"~/secrets",
		"bad\x00name",
	}

	for _, in := range inputs {
		_, err := b.Resolve(in)
		if !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("Resolve(%q) error = %v, want ErrOutOfBounds", in, err)
		}
		var oob *OutOfBoundsError
		if err != nil && !errors.As(err, &oob) {
			t.Errorf("Resolve(%q) error type = %T, want *OutOfBoundsError", in, err)
		}
	}
}

// TestResolveRejectsEscapingSymlink verifies that a symlink pointing outside
// the root is rejected instead of being clamped back inside.
func TestResolveRejectsEscapingSymlink(t *testing.T) {
	b := newBoundary(t)
	outside := t.TempDir()

	link := filepath.Join(b.Root(), "out")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	for _, in := range []string{"out", "out/file.txt", "out/deeper/x"} {
		if _, err := b.Resolve(in); !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("Resolve(%q) error = %v, want ErrOutOfBounds", in, err)
		}
	}
}

func TestResolveRejectsDanglingSymlink(t *testing.T) {
	b := newBoundary(t)

	link := filepath.Join(b.Root(), "dangling")
	if err := os.Symlink(filepath.Join(b.Root(), "nowhere"), link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	if _, err := b.Resolve("dangling"); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Resolve(dangling) error = %v, want ErrOutOfBounds", err)
	}
}

func TestResolveFollowsInternalSymlink(t *testing.T) {
	b := newBoundary(t)

	if err := os.MkdirAll(filepath.Join(b.Root(), "real"), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(b.Root(), "real"), filepath.Join(b.Root(), "alias")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	r, err := b.Resolve("alias/file.txt")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if r.Rel != "real/file.txt" {
		t.Errorf("Rel = %q, want %q", r.Rel, "real/file.txt")
	}
}

func TestResolveFileRejectsRoot(t *testing.T) {
	b := newBoundary(t)

	if _, err := b.ResolveFile("."); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("ResolveFile(.) error = %v, want ErrOutOfBounds", err)
	}
	if _, err := b.ResolveFile("x/.."); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("ResolveFile(x/..) error = %v, want ErrOutOfBounds", err)
	}
	if _, err := b.ResolveFile("ok.txt"); err != nil {
		t.Errorf("ResolveFile(ok.txt) error = %v", err)
	}
}

func TestSetRootAffectsSubsequentCalls(t *testing.T) {
	b := newBoundary(t)
	first := b.Root()
	second := t.TempDir()

	if err := b.SetRoot(second); err != nil {
		t.Fatalf("SetRoot failed: %v", err)
	}
	if b.Root() == first {
		t.Fatal("root unchanged after SetRoot")
	}

	if _, err := b.Resolve(filepath.Join(first, "a.txt")); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("old root path error = %v, want ErrOutOfBounds", err)
	}

	if err := b.SetRoot(""); !errors.Is(err, ErrEmptyRoot) {
		t.Errorf("SetRoot(\"\") error = %v, want ErrEmptyRoot", err)
	}
	if b.Root() == first {
		t.Error("failed SetRoot must not change the root")
	}
}
