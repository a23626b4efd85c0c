package vfs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/deepagents/safefs/internal/worker"
)

// DefaultMaxFileSize caps the size of any single file (10 MiB).
const DefaultMaxFileSize int64 = 10 << 20

// DefaultIgnore lists directory names never imported.
var DefaultIgnore = []string{".git", "node_modules", "__pycache__", ".venv", "venv", "dist", "build", ".safefs"}

// ImportOptions configures Import.
type ImportOptions struct {
	// IncludeHidden imports dot-files and dot-directories.
	IncludeHidden bool

	// Ignore lists base names skipped wherever they appear.
	Ignore []string

	// MaxFileSize skips larger files (0 = DefaultMaxFileSize).
	MaxFileSize int64

	// Concurrency bounds parallel reads (0 = NumCPU).
	Concurrency int
}

// Skip records a file that Import left out.
type Skip struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ImportReport summarizes an Import.
type ImportReport struct {
	Imported []string `json:"imported"`
	Skipped  []Skip   `json:"skipped,omitempty"`
}

// Import loads regular files below root into the table. Symlinks are never
// followed. Imported content is already on disk, so the backend is bypassed.
// A file that would clash with an existing file or directory in the table
// is skipped.
func (m *Mutator) Import(ctx context.Context, root string, opts ImportOptions) (ImportReport, error) {
	var report ImportReport
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	var candidates []string
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		name := d.Name()

		if slices.Contains(opts.Ignore, name) || (!opts.IncludeHidden && strings.HasPrefix(name, ".")) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			report.Skipped = append(report.Skipped, Skip{Path: rel, Reason: "not a regular file"})
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxSize {
			report.Skipped = append(report.Skipped, Skip{Path: rel, Reason: ErrFileTooLarge.Error()})
			return nil
		}
		candidates = append(candidates, rel)
		return nil
	})
	if walkErr != nil {
		return report, fmt.Errorf("walk %s: %w", root, walkErr)
	}

	pool := worker.NewPool[[]byte](opts.Concurrency)
	results := pool.Process(ctx, candidates, func(_ context.Context, rel string) ([]byte, error) {
		return os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	})
	if err := worker.FirstError(results); err != nil {
		return report, fmt.Errorf("read workspace: %w", err)
	}

	fsys := m.fs
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	for _, r := range results {
		if isDirIn(fsys.nodes, r.Item) {
			report.Skipped = append(report.Skipped, Skip{Path: r.Item, Reason: ErrIsDir.Error()})
			continue
		}
		if err := checkParentsIn(fsys.nodes, r.Item); err != nil {
			report.Skipped = append(report.Skipped, Skip{Path: r.Item, Reason: err.Error()})
			continue
		}
		fsys.revision++
		fsys.nodes[r.Item] = &Node{
			Path:     r.Item,
			Content:  r.Value,
			Checksum: Checksum(r.Value),
			ModTime:  fsys.now().UTC(),
			Revision: fsys.revision,
		}
		report.Imported = append(report.Imported, r.Item)
	}
	fsys.log.WithField("files", len(report.Imported)).Info("workspace imported")
	return report, nil
}
