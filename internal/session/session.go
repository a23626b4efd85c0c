// Package session is the single entry point to the safe file-mutation core.
// A Session owns one sandbox root, its virtual filesystem, every proposal
// and every backup. Reads and proposal creation run concurrently; anything
// that changes file content is serialized behind one mutation lock.
package session

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/deepagents/safefs/internal/backup"
	"github.com/deepagents/safefs/internal/persist"
	"github.com/deepagents/safefs/internal/proposal"
	"github.com/deepagents/safefs/internal/sandbox"
	"github.com/deepagents/safefs/internal/txn"
	"github.com/deepagents/safefs/internal/vfs"
)

// Edit is one entry of a multi-file proposal.
type Edit = proposal.Edit

// StateDir is the directory below the root that holds safefs's own config
// and checkpoints. Proposals may not target it.
const StateDir = ".safefs"

// DefaultReplaceMaxFiles caps ProposeReplaceAll when ReplaceOptions.MaxFiles is zero.
const DefaultReplaceMaxFiles = 100

// Policy gates what a session may do.
type Policy struct {
	AllowRead   bool  `yaml:"allow_read" json:"allow_read"`
	AllowWrite  bool  `yaml:"allow_write" json:"allow_write"`
	AutoApply   bool  `yaml:"auto_apply" json:"auto_apply"`
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`
}

// DefaultPolicy allows reads and proposals and requires explicit accepts.
func DefaultPolicy() Policy {
	return Policy{
		AllowRead:   true,
		AllowWrite:  true,
		MaxFileSize: vfs.DefaultMaxFileSize,
	}
}

// Session is the context object every operation runs against.
type Session struct {
	// mu serializes every operation that changes file content or swaps
	// whole tables.
	mu sync.Mutex

	id       uuid.UUID
	policy   Policy
	mirror   bool
	pinned   bool
	reserved []string
	log      logrus.FieldLogger
	now      func() time.Time
	boundary *sandbox.Boundary
	fs       *vfs.FS
	backups  *backup.Manager
	store    *proposal.Store
	coord    *txn.Coordinator
}

// Option configures a Session.
type Option func(*Session)

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(s *Session) {
		s.policy = p
	}
}

// WithMirror mirrors every applied write onto the real sandbox directory.
func WithMirror(enabled bool) Option {
	return func(s *Session) {
		s.mirror = enabled
	}
}

// WithPinnedRoot keeps the root given to New when a checkpoint recorded a
// different one.
func WithPinnedRoot() Option {
	return func(s *Session) {
		s.pinned = true
	}
}

// WithReserved refuses proposals targeting paths (root-relative) in addition
// to StateDir.
func WithReserved(paths ...string) Option {
	return func(s *Session) {
		s.reserved = append(s.reserved, paths...)
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// WithClock overrides time.Now for every timestamp the session records.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// New opens a session rooted at root. The root must be an existing directory.
func New(root string, opts ...Option) (*Session, error) {
	boundary, err := sandbox.New(root)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	s := &Session{
		id:       uuid.New(),
		policy:   DefaultPolicy(),
		log:      logrus.StandardLogger(),
		now:      time.Now,
		boundary: boundary,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("session", s.id.String()[:8])

	fsOpts := []vfs.Option{vfs.WithLogger(s.log), vfs.WithClock(s.now)}
	if s.mirror {
		fsOpts = append(fsOpts, vfs.WithBackend(vfs.NewDiskBackend(boundary)))
	}
	s.fs = vfs.New(fsOpts...)
	s.backups = backup.NewManager(s.fs, backup.WithLogger(s.log), backup.WithClock(s.now))
	s.store = proposal.NewStore(boundary, s.fs,
		proposal.WithLogger(s.log),
		proposal.WithClock(s.now),
		proposal.WithMaxFileSize(s.policy.MaxFileSize),
		proposal.WithReserved(append([]string{StateDir}, s.reserved...)...),
	)
	s.coord = txn.NewCoordinator(s.store, s.fs, s.backups, txn.WithLogger(s.log))

	s.log.WithFields(logrus.Fields{"root": boundary.Root(), "mirror": s.mirror}).Debug("session opened")
	return s, nil
}

// ID returns the session identifier; Load adopts the checkpoint's.
func (s *Session) ID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Root returns the canonical sandbox root.
func (s *Session) Root() string {
	return s.boundary.Root()
}

// Policy returns the active policy.
func (s *Session) Policy() Policy {
	return s.policy
}

// ProposeWrite records a pending write of content to path.
func (s *Session) ProposeWrite(path string, content []byte) (proposal.Proposal, error) {
	return s.propose(proposal.KindSingleWrite, []Edit{{Path: path, Content: content}})
}

// ProposeMultiEdit records several writes and deletions applied together.
func (s *Session) ProposeMultiEdit(edits []Edit) (proposal.Proposal, error) {
	return s.propose(proposal.KindMultiWrite, edits)
}

// ProposeDelete records a pending deletion of path.
func (s *Session) ProposeDelete(path string) (proposal.Proposal, error) {
	return s.propose(proposal.KindDelete, []Edit{{Path: path, Delete: true}})
}

// ProposeReplace records a write of path with every occurrence of old
// replaced by repl. The replacement is computed from the same content whose
// checksum becomes the proposal's base.
func (s *Session) ProposeReplace(path, old, repl string) (proposal.Proposal, error) {
	if old == "" {
		return proposal.Proposal{}, fmt.Errorf("replace in %s: %w", path, ErrNoMatch)
	}
	if !s.policy.AllowRead {
		return proposal.Proposal{}, ErrReadDisabled
	}
	return s.propose(proposal.KindSingleWrite, []Edit{{Path: path, Transform: replacer(old, repl)}})
}

// ReplaceOptions narrows ProposeReplaceAll.
type ReplaceOptions struct {
	// Extensions keeps files with one of these extensions ("go" or ".go");
	// empty keeps all.
	Extensions []string

	// MaxFiles caps how many files change (0 = DefaultReplaceMaxFiles).
	MaxFiles int
}

// ProposeReplaceAll records one multi-write proposal replacing old with
// repl in every file below dir whose path relative to dir matches pattern
// and which contains old. Files are taken in path order up to the cap.
func (s *Session) ProposeReplaceAll(dir, pattern, old, repl string, opts ReplaceOptions) (proposal.Proposal, error) {
	if old == "" {
		return proposal.Proposal{}, fmt.Errorf("replace in %s: %w", dir, ErrNoMatch)
	}
	paths, err := s.Glob(dir, pattern)
	if err != nil {
		return proposal.Proposal{}, err
	}
	limit := opts.MaxFiles
	if limit <= 0 {
		limit = DefaultReplaceMaxFiles
	}

	exts := make(map[string]bool, len(opts.Extensions))
	for _, e := range opts.Extensions {
		if e = strings.TrimPrefix(strings.TrimSpace(e), "."); e != "" {
			exts["."+e] = true
		}
	}
	current := s.fs.ReadMany(paths)
	var edits []Edit
	for _, p := range paths {
		if len(exts) > 0 && !exts[path.Ext(p)] {
			continue
		}
		if !bytes.Contains(current[p].Content, []byte(old)) {
			continue
		}
		edits = append(edits, Edit{Path: p, Transform: replacer(old, repl)})
		if len(edits) == limit {
			break
		}
	}
	if len(edits) == 0 {
		return proposal.Proposal{}, fmt.Errorf("replace in %s matching %q: %w", dir, pattern, ErrNoMatch)
	}
	return s.propose(proposal.KindMultiWrite, edits)
}

func replacer(old, repl string) func([]byte) ([]byte, error) {
	return func(current []byte) ([]byte, error) {
		if !bytes.Contains(current, []byte(old)) {
			return nil, ErrNoMatch
		}
		return bytes.ReplaceAll(current, []byte(old), []byte(repl)), nil
	}
}

func (s *Session) propose(kind proposal.Kind, edits []Edit) (proposal.Proposal, error) {
	if !s.policy.AllowWrite {
		return proposal.Proposal{}, ErrWriteDisabled
	}
	p, err := s.store.Create(kind, edits)
	if err != nil {
		return proposal.Proposal{}, err
	}
	if s.policy.AutoApply {
		return s.Accept(context.Background(), p.ID)
	}
	return p, nil
}

// Accept applies a pending proposal as one transaction. The returned
// proposal is applied, or failed alongside the error.
func (s *Session) Accept(ctx context.Context, id string) (proposal.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.Apply(ctx, id)
}

// Reject discards a pending proposal. It needs no mutation lock: a proposal
// an Accept has already claimed is no longer pending.
func (s *Session) Reject(id string) (proposal.Proposal, error) {
	return s.store.Reject(id)
}

// Proposals lists proposals ordered by id.
func (s *Session) Proposals(filter proposal.ListOptions) []proposal.Proposal {
	return s.store.List(filter)
}

// Proposal returns one proposal.
func (s *Session) Proposal(id string) (proposal.Proposal, error) {
	return s.store.Get(id)
}

// ReadFile returns the current node at path.
func (s *Session) ReadFile(path string) (vfs.Node, error) {
	if !s.policy.AllowRead {
		return vfs.Node{}, ErrReadDisabled
	}
	r, err := s.boundary.Resolve(path)
	if err != nil {
		return vfs.Node{}, err
	}
	return s.fs.Read(r.Rel)
}

// Line is one numbered line of a file.
type Line struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// ReadLines returns lines start through end of path, numbered from 1.
// start <= 0 means the first line and end <= 0 the last; both are clamped.
func (s *Session) ReadLines(path string, start, end int) ([]Line, error) {
	n, err := s.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSuffix(string(n.Content), "\n")
	if text == "" {
		return nil, nil
	}
	all := strings.Split(text, "\n")

	if start <= 0 {
		start = 1
	}
	if end <= 0 || end > len(all) {
		end = len(all)
	}
	var out []Line
	for i := start; i <= end; i++ {
		out = append(out, Line{Number: i, Text: strings.TrimSuffix(all[i-1], "\r")})
	}
	return out, nil
}

// ListOptions filters ListDir.
type ListOptions struct {
	// Pattern keeps entries whose name matches this path.Match pattern.
	Pattern string

	// All includes dot-files.
	All bool

	// Limit caps the number of entries; zero means no cap.
	Limit int
}

// ListDir returns the immediate children of dir.
func (s *Session) ListDir(dir string, opts ListOptions) ([]vfs.Entry, error) {
	if !s.policy.AllowRead {
		return nil, ErrReadDisabled
	}
	r, err := s.boundary.Resolve(dir)
	if err != nil {
		return nil, err
	}
	if opts.Pattern != "" {
		if _, err := path.Match(opts.Pattern, ""); err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}
	}
	entries, err := s.fs.List(r.Rel)
	if err != nil {
		return nil, err
	}

	out := entries[:0]
	for _, e := range entries {
		if !opts.All && strings.HasPrefix(e.Name, ".") {
			continue
		}
		if opts.Pattern != "" {
			if ok, _ := path.Match(opts.Pattern, e.Name); !ok {
				continue
			}
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// Tree walks dir depth-first. The sequence is lazy and may be ranged over
// more than once; each pass sees the files present when it starts.
func (s *Session) Tree(dir string, maxDepth int) (iter.Seq[vfs.Entry], error) {
	if !s.policy.AllowRead {
		return nil, ErrReadDisabled
	}
	r, err := s.boundary.Resolve(dir)
	if err != nil {
		return nil, err
	}
	return s.fs.Tree(r.Rel, maxDepth)
}

// RestoreFromBackup writes back the content every target of proposal id had
// before it was applied. It is recovery, not a transaction: no proposal is
// created and the original proposal keeps its status.
func (s *Session) RestoreFromBackup(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backups.RestoreByID(id)
}

// Backups lists every retained snapshot, oldest first.
func (s *Session) Backups() []backup.Snapshot {
	return s.backups.List()
}

// SetRoot moves the sandbox to root for every later call. File content
// stays keyed by relative path.
func (s *Session) SetRoot(ctx context.Context, root string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.boundary.SetRoot(root); err != nil {
		return fmt.Errorf("set root: %w", err)
	}
	s.log.WithField("root", s.boundary.Root()).Info("sandbox root changed")
	return nil
}

// Clear drops every settled proposal together with its backup and returns
// the dropped ids. Files are untouched; pending proposals are kept.
func (s *Session) Clear(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.store.Clear()
	for _, id := range ids {
		s.backups.Drop(id)
	}
	s.log.WithField("dropped", len(ids)).Info("history cleared")
	return ids, nil
}

// Import loads the files currently on disk under the root into the virtual
// filesystem, replacing nodes at the same paths.
func (s *Session) Import(ctx context.Context, opts vfs.ImportOptions) (vfs.ImportReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = s.policy.MaxFileSize
	}
	return s.fs.Mutator().Import(ctx, s.boundary.Root(), opts)
}

// Stats summarizes session contents.
type Stats struct {
	Files     int            `json:"files"`
	Bytes     int64          `json:"bytes"`
	Proposals map[string]int `json:"proposals"`
	Backups   int            `json:"backups"`
}

// Stats counts files, bytes, proposals by status and backups.
func (s *Session) Stats() Stats {
	st := Stats{Proposals: make(map[string]int)}
	for _, n := range s.fs.Nodes() {
		st.Files++
		st.Bytes += n.Size()
	}
	for _, p := range s.store.List(proposal.ListOptions{}) {
		st.Proposals[string(p.Status)]++
	}
	st.Backups = len(s.backups.List())
	return st
}

// Save writes a checkpoint of the whole session to dest. The codec follows
// the file extension.
func (s *Session) Save(ctx context.Context, dest string) error {
	s.mu.Lock()
	st := persist.State{
		SessionID:      s.id,
		Root:           s.boundary.Root(),
		SavedAt:        s.now().UTC(),
		NextProposalID: s.store.NextID(),
		Files:          s.fs.Nodes(),
		Proposals:      s.store.List(proposal.ListOptions{}),
		Backups:        s.backups.List(),
	}
	s.mu.Unlock()

	if err := persist.Save(ctx, dest, st); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"dest": dest, "files": len(st.Files)}).Info("session saved")
	return nil
}

// Load replaces the whole session with the checkpoint at src. The
// checkpoint is validated completely first; on any error the session is
// unchanged. The saved root is adopted when it still exists, unless the
// root is pinned.
func (s *Session) Load(ctx context.Context, src string) error {
	st, err := persist.Load(ctx, src)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prevNodes := s.fs.Nodes()
	if err := s.fs.Mutator().Reset(st.Files); err != nil {
		return &persist.FormatError{Source: src, Reason: err.Error()}
	}
	if err := s.store.Reset(st.Proposals, st.NextProposalID); err != nil {
		_ = s.fs.Mutator().Reset(prevNodes)
		return &persist.FormatError{Source: src, Reason: err.Error()}
	}
	s.backups.Reset(st.Backups)

	if st.SessionID != uuid.Nil {
		s.id = st.SessionID
	}
	switch {
	case st.Root == "" || st.Root == s.boundary.Root():
	case s.pinned:
		s.log.WithFields(logrus.Fields{"saved_root": st.Root, "root": s.boundary.Root()}).Warn("checkpoint was saved under another root; keeping the configured root")
	default:
		if err := s.boundary.SetRoot(st.Root); err != nil {
			s.log.WithError(err).WithField("saved_root", st.Root).Warn("keeping current root")
		}
	}
	s.log.WithFields(logrus.Fields{"src": src, "files": len(st.Files), "proposals": len(st.Proposals)}).Info("session loaded")
	return nil
}
