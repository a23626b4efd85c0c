// Package sandbox confines agent-supplied paths to a single root directory.
//
// Every path is canonicalized before use: ".." segments are collapsed,
// absolute inputs must already live under the root, and each existing
// symlink along the path is evaluated. A symlink whose target leaves the
// root, or cannot be evaluated at all, is a rejection rather than a
// best-effort clamp.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Resolved is a validated path inside the sandbox.
type Resolved struct {
	// Abs is the canonical absolute path on the host.
	Abs string

	// Rel is the slash-separated path relative to the root ("." for the root itself).
	Rel string
}

// IsRoot reports whether the resolved path is the sandbox root.
func (r Resolved) IsRoot() bool {
	return r.Rel == "."
}

// Boundary resolves and validates paths against a configurable root.
type Boundary struct {
	mu   sync.RWMutex
	root string
}

// New creates a boundary rooted at root. The root must exist and be a directory;
// it is stored absolute and symlink-free.
func New(root string) (*Boundary, error) {
	canonical, err := canonicalRoot(root)
	if err != nil {
		return nil, err
	}
	return &Boundary{root: canonical}, nil
}

// Root returns the canonical root.
func (b *Boundary) Root() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.root
}

// SetRoot replaces the root for subsequent Resolve calls. Paths resolved
// earlier keep their meaning; callers serialize this against transactions.
func (b *Boundary) SetRoot(root string) error {
	canonical, err := canonicalRoot(root)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.root = canonical
	b.mu.Unlock()
	return nil
}

// Resolve validates path against the current root. The root itself is a
// valid result (for directory listings).
func (b *Boundary) Resolve(path string) (Resolved, error) {
	return resolve(b.Root(), path)
}

// ResolveFile is Resolve for write targets: the root itself is rejected.
func (b *Boundary) ResolveFile(path string) (Resolved, error) {
	r, err := b.Resolve(path)
	if err != nil {
		return Resolved{}, err
	}
	if r.IsRoot() {
		return Resolved{}, outOfBounds(path, "root is not a file")
	}
	return r, nil
}

func canonicalRoot(root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", ErrEmptyRoot
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("absolute root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", abs, err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return "", fmt.Errorf("stat root %s: %w", real, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrRootNotDir, real)
	}
	return real, nil
}

func resolve(root, path string) (Resolved, error) {
	if strings.ContainsRune(path, 0) {
		return Resolved{}, outOfBounds(path, "contains NUL byte")
	}
	if strings.HasPrefix(path, "~") {
		return Resolved{}, outOfBounds(path, "home-relative paths are not allowed")
	}

	rel, err := lexicalRel(root, path)
	if err != nil {
		return Resolved{}, err
	}

	if err := checkSymlinks(root, rel, path); err != nil {
		return Resolved{}, err
	}

	abs, err := securejoin.SecureJoin(root, rel)
	if err != nil {
		return Resolved{}, outOfBounds(path, err.Error())
	}
	if !within(root, abs) {
		return Resolved{}, outOfBounds(path, "resolves outside root")
	}

	canonRel, err := filepath.Rel(root, abs)
	if err != nil {
		return Resolved{}, outOfBounds(path, err.Error())
	}
	return Resolved{Abs: abs, Rel: filepath.ToSlash(canonRel)}, nil
}

// lexicalRel turns path into a cleaned root-relative path without touching disk.
func lexicalRel(root, path string) (string, error) {
	var rel string
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(root, filepath.Clean(path))
		if err != nil {
			return "", outOfBounds(path, "not under root")
		}
		rel = r
	} else {
		rel = filepath.Clean(filepath.FromSlash(path))
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", outOfBounds(path, "escapes root")
	}
	return rel, nil
}

// checkSymlinks walks rel one component at a time and rejects any existing
// symlink that points outside root or cannot be evaluated.
func checkSymlinks(root, rel, input string) error {
	if rel == "." {
		return nil
	}
	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, part)
		info, err := os.Lstat(current)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return outOfBounds(input, err.Error())
		}
		if info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		target, err := filepath.EvalSymlinks(current)
		if err != nil {
			return outOfBounds(input, "unresolvable symlink "+part)
		}
		if !within(root, target) {
			return outOfBounds(input, "symlink "+part+" escapes root")
		}
	}
	return nil
}

func within(root, path string) bool {
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}
