package vfs

import (
	"fmt"
	"iter"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// Entry describes one file or implicit directory during traversal.
type Entry struct {
	Path     string        `json:"path"`
	Name     string        `json:"name"`
	IsDir    bool          `json:"is_dir"`
	Depth    int           `json:"depth"`
	Size     int64         `json:"size,omitempty"`
	Checksum digest.Digest `json:"checksum,omitempty"`
	ModTime  time.Time     `json:"mod_time,omitempty"`
}

// fileMeta is the per-file data copied out of the table for traversal.
type fileMeta struct {
	path     string
	size     int64
	checksum digest.Digest
	modTime  time.Time
}

// List returns the immediate children of dir, directories first, then by name.
// dir "." (or "") is the root, which always exists.
func (fs *FS) List(dir string) ([]Entry, error) {
	dir = normalizeDir(dir)
	files, err := fs.snapshotUnder(dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var entries []Entry
	for _, f := range files {
		rest := strings.TrimPrefix(f.path, dirPrefix(dir))
		name, _, nested := strings.Cut(rest, "/")
		if nested {
			if seen[name] {
				continue
			}
			seen[name] = true
			entries = append(entries, Entry{Path: joinRel(dir, name), Name: name, IsDir: true, Depth: 1})
			continue
		}
		entries = append(entries, fileEntry(f, name, 1))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// Tree walks dir depth-first. maxDepth <= 0 means unlimited. The returned
// sequence is lazy and restartable: every range over it takes a fresh
// snapshot of the table, so it never observes a half-applied transaction
// and never holds the lock while yielding.
func (fs *FS) Tree(dir string, maxDepth int) (iter.Seq[Entry], error) {
	dir = normalizeDir(dir)
	if _, err := fs.snapshotUnder(dir); err != nil {
		return nil, err
	}

	return func(yield func(Entry) bool) {
		files, err := fs.snapshotUnder(dir)
		if err != nil {
			return
		}
		emitted := make(map[string]bool)
		for _, f := range files {
			rest := strings.TrimPrefix(f.path, dirPrefix(dir))
			parts := strings.Split(rest, "/")

			for i := 0; i < len(parts)-1; i++ {
				depth := i + 1
				if maxDepth > 0 && depth > maxDepth {
					break
				}
				sub := strings.Join(parts[:i+1], "/")
				if emitted[sub] {
					continue
				}
				emitted[sub] = true
				if !yield(Entry{Path: joinRel(dir, sub), Name: parts[i], IsDir: true, Depth: depth}) {
					return
				}
			}

			depth := len(parts)
			if maxDepth > 0 && depth > maxDepth {
				continue
			}
			if !yield(fileEntry(f, parts[len(parts)-1], depth)) {
				return
			}
		}
	}, nil
}

// snapshotUnder copies metadata of every file below dir, sorted so that a
// directory's contents are contiguous.
func (fs *FS) snapshotUnder(dir string) ([]fileMeta, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if dir != "." {
		if _, ok := fs.nodes[dir]; ok {
			return nil, fmt.Errorf("%w: %s", ErrNotDir, dir)
		}
	}

	prefix := dirPrefix(dir)
	var files []fileMeta
	for p, n := range fs.nodes {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		files = append(files, fileMeta{path: p, size: n.Size(), checksum: n.Checksum, modTime: n.ModTime})
	}
	if len(files) == 0 && dir != "." {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
	}

	sort.Slice(files, func(i, j int) bool {
		return treeLess(files[i].path, files[j].path)
	})
	return files, nil
}

// treeLess orders paths segment by segment so "a/b" sorts next to "a/c"
// rather than after "a.txt".
func treeLess(a, b string) bool {
	as, bs := strings.Split(a, "/"), strings.Split(b, "/")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] != bs[i] {
			return as[i] < bs[i]
		}
	}
	return len(as) < len(bs)
}

func fileEntry(f fileMeta, name string, depth int) Entry {
	return Entry{
		Path:     f.path,
		Name:     name,
		Depth:    depth,
		Size:     f.size,
		Checksum: f.checksum,
		ModTime:  f.modTime,
	}
}

func normalizeDir(dir string) string {
	if dir == "" {
		return "."
	}
	return path.Clean(dir)
}

func dirPrefix(dir string) string {
	if dir == "." {
		return ""
	}
	return dir + "/"
}

func joinRel(dir, name string) string {
	if dir == "." {
		return name
	}
	return dir + "/" + name
}
