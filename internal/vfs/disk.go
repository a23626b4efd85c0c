package vfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/deepagents/safefs/internal/sandbox"
)

// DiskBackend mirrors VFS mutations onto the real sandbox directory.
// Every path is re-resolved through the boundary at write time, so a root
// change or a symlink planted after proposal creation cannot redirect a
// write outside the root.
type DiskBackend struct {
	boundary *sandbox.Boundary

	// FileMode is used for newly created files.
	FileMode fs.FileMode

	// DirMode is used for parent directories created on demand.
	DirMode fs.FileMode
}

// NewDiskBackend creates a backend that writes below the boundary's root.
func NewDiskBackend(b *sandbox.Boundary) *DiskBackend {
	return &DiskBackend{
		boundary: b,
		FileMode: 0644,
		DirMode:  0755,
	}
}

// Put writes content to rel atomically.
func (d *DiskBackend) Put(rel string, content []byte) error {
	r, err := d.boundary.ResolveFile(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.Abs), d.DirMode); err != nil {
		return fmt.Errorf("create parent: %w", err)
	}
	return atomicWrite(r.Abs, content, d.FileMode)
}

// Remove deletes rel. A file already missing on disk is not an error.
func (d *DiskBackend) Remove(rel string) error {
	r, err := d.boundary.ResolveFile(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(r.Abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	return nil
}

// atomicWrite writes to a temp file in the same directory, syncs it and
// renames it over path.
func atomicWrite(path string, content []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)

	tmpFile, err := os.CreateTemp(dir, ".safefs-tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath) //nolint:errcheck // cleanup in error path
		}
	}()

	if _, err := tmpFile.Write(content); err != nil {
		_ = tmpFile.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("write content: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("sync file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename to final: %w", err)
	}

	success = true
	return nil
}

// AtomicWriteFile exposes the temp-file-and-rename write for other layers
// that persist whole files (checkpoints).
func AtomicWriteFile(path string, content []byte, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create parent: %w", err)
	}
	return atomicWrite(path, content, mode)
}
