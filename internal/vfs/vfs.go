// Package vfs holds the session's virtual filesystem: current file content,
// checksums and modification markers keyed by root-relative path.
//
// Reads are safe from any goroutine. Mutation goes through a Mutator, which
// only the transaction coordinator, the backup manager and state loading
// obtain; external callers never write directly.
package vfs

import (
	"errors"
	"fmt"
	"maps"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"
)

// Node is one file in the virtual filesystem.
type Node struct {
	Path     string        `json:"path"`
	Content  []byte        `json:"content"`
	Checksum digest.Digest `json:"checksum"`
	ModTime  time.Time     `json:"mod_time"`
	Revision uint64        `json:"revision"`
}

// Size returns the content length in bytes.
func (n Node) Size() int64 {
	return int64(len(n.Content))
}

func (n Node) clone() Node {
	n.Content = append([]byte(nil), n.Content...)
	return n
}

// Checksum fingerprints content. Every node checksum is computed with it.
func Checksum(content []byte) digest.Digest {
	return digest.FromBytes(content)
}

// Backend mirrors committed mutations somewhere durable.
type Backend interface {
	Put(rel string, content []byte) error
	Remove(rel string) error
}

// FS is the in-memory file table.
type FS struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	revision uint64
	backend  Backend
	now      func() time.Time
	log      logrus.FieldLogger
}

// Option configures an FS.
type Option func(*FS)

// WithBackend mirrors every write and removal to b.
func WithBackend(b Backend) Option {
	return func(fs *FS) {
		fs.backend = b
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(fs *FS) {
		fs.log = l
	}
}

// WithClock overrides time.Now for modification markers.
func WithClock(now func() time.Time) Option {
	return func(fs *FS) {
		fs.now = now
	}
}

// New creates an empty filesystem.
func New(opts ...Option) *FS {
	fs := &FS{
		nodes: make(map[string]*Node),
		now:   time.Now,
		log:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// SetBackend replaces the mirror backend; nil disables mirroring.
func (fs *FS) SetBackend(b Backend) {
	fs.mu.Lock()
	fs.backend = b
	fs.mu.Unlock()
}

// Read returns a copy of the node at rel.
func (fs *FS) Read(rel string) (Node, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	n, ok := fs.nodes[rel]
	if !ok {
		if fs.isDirLocked(rel) {
			return Node{}, fmt.Errorf("%w: %s", ErrIsDir, rel)
		}
		return Node{}, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	return n.clone(), nil
}

// Exists reports whether a file node exists at rel.
func (fs *FS) Exists(rel string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, ok := fs.nodes[rel]
	return ok
}

// Checksum returns the stored checksum of rel.
func (fs *FS) Checksum(rel string) (digest.Digest, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n, ok := fs.nodes[rel]
	if !ok {
		return "", false
	}
	return n.Checksum, true
}

// Checksums captures the checksums of many paths under one read lock.
// Missing paths are absent from the result.
func (fs *FS) Checksums(rels []string) map[string]digest.Digest {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make(map[string]digest.Digest, len(rels))
	for _, rel := range rels {
		if n, ok := fs.nodes[rel]; ok {
			out[rel] = n.Checksum
		}
	}
	return out
}

// ReadMany copies the nodes at rels under one read lock, so the result is a
// consistent view. Missing paths are absent from the result.
func (fs *FS) ReadMany(rels []string) map[string]Node {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make(map[string]Node, len(rels))
	for _, rel := range rels {
		if n, ok := fs.nodes[rel]; ok {
			out[rel] = n.clone()
		}
	}
	return out
}

// Len returns the number of files.
func (fs *FS) Len() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.nodes)
}

// Revision returns the latest modification marker handed out.
func (fs *FS) Revision() uint64 {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.revision
}

// Nodes returns copies of every node sorted by path.
func (fs *FS) Nodes() []Node {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]Node, 0, len(fs.nodes))
	for _, n := range fs.nodes {
		out = append(out, n.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Path < out[j].Path
	})
	return out
}

// Mutator returns the write handle. Only the transaction, backup and
// persistence layers hold one.
func (fs *FS) Mutator() *Mutator {
	return &Mutator{fs: fs}
}

// Mutator writes to an FS. Checksums and modification markers are
// recomputed on every successful write.
type Mutator struct {
	fs *FS
}

// Op is one change in a batch passed to Apply.
type Op struct {
	Path    string
	Content []byte
	Remove  bool
}

// Write stores content at rel, mirroring it first when a backend is set.
// A backend failure leaves the node untouched.
func (m *Mutator) Write(rel string, content []byte) error {
	return m.Apply([]Op{{Path: rel, Content: content}})
}

// Remove deletes the node at rel. Removing a missing node is ErrNotFound.
func (m *Mutator) Remove(rel string) error {
	return m.Apply([]Op{{Path: rel, Remove: true}})
}

// Apply commits ops as one unit under a single write lock. Each op is
// checked against the table as the earlier ops leave it, then mirrored in
// order. If the mirror fails, ops already mirrored are reverted on the
// backend and the table is not touched. Readers see all of ops or none.
func (m *Mutator) Apply(ops []Op) error {
	for _, op := range ops {
		if err := ValidatePath(op.Path); err != nil {
			return err
		}
	}
	fs := m.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()

	next := maps.Clone(fs.nodes)
	rev := fs.revision
	now := fs.now().UTC()
	for _, op := range ops {
		if op.Remove {
			if _, ok := next[op.Path]; !ok {
				return fmt.Errorf("%w: %s", ErrNotFound, op.Path)
			}
			delete(next, op.Path)
			rev++
			continue
		}
		if isDirIn(next, op.Path) {
			return fmt.Errorf("%w: %s", ErrIsDir, op.Path)
		}
		if err := checkParentsIn(next, op.Path); err != nil {
			return err
		}
		data := append([]byte(nil), op.Content...)
		rev++
		next[op.Path] = &Node{
			Path:     op.Path,
			Content:  data,
			Checksum: Checksum(data),
			ModTime:  now,
			Revision: rev,
		}
	}

	if fs.backend != nil {
		if err := fs.mirrorLocked(ops); err != nil {
			return err
		}
	}

	fs.nodes = next
	fs.revision = rev
	for _, op := range ops {
		if op.Remove {
			fs.log.WithField("path", op.Path).Debug("vfs remove")
		} else {
			fs.log.WithField("path", op.Path).Debug("vfs write")
		}
	}
	return nil
}

// mirrorLocked replays ops on the backend. On failure the ops mirrored so
// far are reverted to the current table, newest first.
func (fs *FS) mirrorLocked(ops []Op) error {
	for i, op := range ops {
		var err error
		if op.Remove {
			if err = fs.backend.Remove(op.Path); err != nil {
				err = fmt.Errorf("mirror remove %s: %w", op.Path, err)
			}
		} else {
			if err = fs.backend.Put(op.Path, op.Content); err != nil {
				err = fmt.Errorf("mirror write %s: %w", op.Path, err)
			}
		}
		if err == nil {
			continue
		}
		if uerr := fs.unmirrorLocked(ops[:i]); uerr != nil {
			fs.log.WithError(uerr).Warn("mirror left partially updated")
			return errors.Join(err, fmt.Errorf("revert mirror: %w", uerr))
		}
		return err
	}
	return nil
}

func (fs *FS) unmirrorLocked(ops []Op) error {
	var errs []error
	for i := len(ops) - 1; i >= 0; i-- {
		rel := ops[i].Path
		if n, ok := fs.nodes[rel]; ok {
			if err := fs.backend.Put(rel, n.Content); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", rel, err))
			}
			continue
		}
		if err := fs.backend.Remove(rel); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rel, err))
		}
	}
	return errors.Join(errs...)
}

// Reset replaces the whole table with nodes. The backend is not consulted:
// Reset restores in-memory state from a checkpoint that is already durable.
func (m *Mutator) Reset(nodes []Node) error {
	table := make(map[string]*Node, len(nodes))
	var maxRev uint64
	for _, n := range nodes {
		if err := ValidatePath(n.Path); err != nil {
			return err
		}
		c := n.clone()
		table[n.Path] = &c
		if n.Revision > maxRev {
			maxRev = n.Revision
		}
	}

	fs := m.fs
	fs.mu.Lock()
	fs.nodes = table
	if maxRev > fs.revision {
		fs.revision = maxRev
	}
	fs.mu.Unlock()
	return nil
}

// ValidatePath checks that rel is a clean, slash-separated, root-relative file path.
func ValidatePath(rel string) error {
	if rel == "" || rel == "." || strings.HasPrefix(rel, "/") || strings.Contains(rel, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	if path.Clean(rel) != rel {
		return fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return nil
}

// isDirLocked reports whether rel is an implicit directory (a prefix of some file).
func (fs *FS) isDirLocked(rel string) bool {
	return isDirIn(fs.nodes, rel)
}

func isDirIn(nodes map[string]*Node, rel string) bool {
	if rel == "." || rel == "" {
		return true
	}
	prefix := rel + "/"
	for p := range nodes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// checkParentsIn rejects writes below a path that is a file in nodes.
func checkParentsIn(nodes map[string]*Node, rel string) error {
	for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
		if _, ok := nodes[dir]; ok {
			return fmt.Errorf("%w: %s", ErrNotDir, dir)
		}
	}
	return nil
}
