// Package proposal records requested file mutations and drives their
// lifecycle. The store never touches file content; it only captures the
// base checksums that the transaction coordinator verifies at apply time.
package proposal

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deepagents/safefs/internal/sandbox"
	"github.com/deepagents/safefs/internal/vfs"
)

// ListOptions filters List.
type ListOptions struct {
	// Status keeps only proposals in this status; empty keeps all.
	Status Status
}

// Store holds every proposal of a session.
type Store struct {
	boundary    *sandbox.Boundary
	fs          *vfs.FS
	log         logrus.FieldLogger
	now         func() time.Time
	maxFileSize int64
	reserved    []string

	mu        sync.RWMutex
	proposals map[string]*Proposal
	next      uint64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// WithClock overrides time.Now for proposal timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithMaxFileSize caps the content size of a single target. Zero or less
// disables the cap.
func WithMaxFileSize(n int64) Option {
	return func(s *Store) {
		s.maxFileSize = n
	}
}

// WithReserved refuses targets at or below any of paths, compared case
// insensitively after symlink resolution.
func WithReserved(paths ...string) Option {
	return func(s *Store) {
		s.reserved = append(s.reserved, paths...)
	}
}

// NewStore creates an empty store that resolves paths with b and reads
// base content from fs.
func NewStore(b *sandbox.Boundary, fs *vfs.FS, opts ...Option) *Store {
	s := &Store{
		boundary:    b,
		fs:          fs,
		log:         logrus.StandardLogger(),
		now:         time.Now,
		maxFileSize: vfs.DefaultMaxFileSize,
		proposals:   make(map[string]*Proposal),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates edits and records them as a pending proposal. Any
// failure leaves the store unchanged.
func (s *Store) Create(kind Kind, edits []Edit) (Proposal, error) {
	if err := checkKind(kind, edits); err != nil {
		return Proposal{}, err
	}

	targets := make([]Target, 0, len(edits))
	seen := make(map[string]bool, len(edits))
	for _, e := range edits {
		r, err := s.boundary.ResolveFile(e.Path)
		if err != nil {
			return Proposal{}, err
		}
		if s.isReserved(r.Rel) {
			return Proposal{}, fmt.Errorf("%w: %s", ErrReservedPath, r.Rel)
		}
		if seen[r.Rel] {
			return Proposal{}, fmt.Errorf("%w: %s", ErrDuplicateTarget, r.Rel)
		}
		seen[r.Rel] = true

		t := Target{Path: r.Rel, Tombstone: e.Delete}
		if !e.Delete {
			t.Content = append([]byte(nil), e.Content...)
		}
		targets = append(targets, t)
	}

	paths := make([]string, len(targets))
	for i, t := range targets {
		paths[i] = t.Path
	}
	base := s.fs.ReadMany(paths)

	for i := range targets {
		t := &targets[i]
		n, ok := base[t.Path]
		if t.Tombstone && !ok {
			return Proposal{}, fmt.Errorf("delete %s: %w", t.Path, ErrNotFound)
		}
		if ok {
			t.BaseChecksum = n.Checksum
		}
		if t.Tombstone {
			continue
		}
		if fn := edits[i].Transform; fn != nil {
			if !ok {
				return Proposal{}, fmt.Errorf("edit %s: %w", t.Path, ErrNotFound)
			}
			content, err := fn(append([]byte(nil), n.Content...))
			if err != nil {
				return Proposal{}, fmt.Errorf("edit %s: %w", t.Path, err)
			}
			t.Content = content
		}
		if s.maxFileSize > 0 && int64(len(t.Content)) > s.maxFileSize {
			return Proposal{}, fmt.Errorf("%w: %s is %d bytes, limit %d",
				vfs.ErrFileTooLarge, t.Path, len(t.Content), s.maxFileSize)
		}
	}
	diff := renderDiff(targets, base)

	now := s.now().UTC()
	s.mu.Lock()
	s.next++
	p := &Proposal{
		ID:        FormatID(s.next),
		Kind:      kind,
		Targets:   targets,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Diff:      diff,
	}
	s.proposals[p.ID] = p
	out := p.clone()
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"proposal": p.ID, "kind": kind, "targets": len(targets)}).Debug("proposal created")
	return out, nil
}

func (s *Store) isReserved(rel string) bool {
	for _, r := range s.reserved {
		if strings.EqualFold(rel, r) || (len(rel) > len(r) && rel[len(r)] == '/' && strings.EqualFold(rel[:len(r)], r)) {
			return true
		}
	}
	return false
}

func checkKind(kind Kind, edits []Edit) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrKindMismatch, kind)
	}
	if len(edits) == 0 {
		return ErrNoTargets
	}
	switch kind {
	case KindSingleWrite:
		if len(edits) != 1 || edits[0].Delete {
			return fmt.Errorf("%w: %s takes exactly one write", ErrKindMismatch, kind)
		}
	case KindDelete:
		if len(edits) != 1 || !edits[0].Delete {
			return fmt.Errorf("%w: %s takes exactly one deletion", ErrKindMismatch, kind)
		}
	}
	return nil
}

// Get returns a copy of the proposal with the given id.
func (s *Store) Get(id string) (Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proposals[id]
	if !ok {
		return Proposal{}, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	return p.clone(), nil
}

// List returns copies of matching proposals ordered by id.
func (s *Store) List(opts ListOptions) []Proposal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Proposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		if opts.Status != "" && p.Status != opts.Status {
			continue
		}
		out = append(out, p.clone())
	}
	sortByID(out)
	return out
}

// Reject moves a pending proposal to rejected.
func (s *Store) Reject(id string) (Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[id]
	if !ok {
		return Proposal{}, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	if p.Status != StatusPending {
		return Proposal{}, fmt.Errorf("reject %s (%s): %w", id, p.Status, ErrAlreadyTerminal)
	}
	s.transitionLocked(p, StatusRejected, "")
	return p.clone(), nil
}

// Begin claims a pending proposal for application. Once begun it can no
// longer be rejected.
func (s *Store) Begin(id string) (Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[id]
	if !ok {
		return Proposal{}, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	if p.Status != StatusPending {
		return Proposal{}, fmt.Errorf("accept %s (%s): %w", id, p.Status, ErrAlreadyTerminal)
	}
	s.transitionLocked(p, StatusAccepted, "")
	return p.clone(), nil
}

// Finish settles an accepted proposal: applied when cause is nil, failed
// with cause recorded otherwise.
func (s *Store) Finish(id string, cause error) (Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[id]
	if !ok {
		return Proposal{}, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	to, reason := StatusApplied, ""
	if cause != nil {
		to, reason = StatusFailed, cause.Error()
	}
	if !canTransition(p.Status, to) {
		return Proposal{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, to)
	}
	s.transitionLocked(p, to, reason)
	return p.clone(), nil
}

func (s *Store) transitionLocked(p *Proposal, to Status, reason string) {
	from := p.Status
	p.Status = to
	p.Error = reason
	p.UpdatedAt = s.now().UTC()

	entry := s.log.WithFields(logrus.Fields{"proposal": p.ID, "from": from, "status": to})
	if to.Terminal() {
		entry.Info("proposal settled")
		return
	}
	entry.Debug("proposal transition")
}

// Clear drops every terminal proposal and returns their ids in order.
// Pending and in-flight proposals are kept.
func (s *Store) Clear() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, p := range s.proposals {
		if p.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	for _, id := range ids {
		delete(s.proposals, id)
	}
	return ids
}

// Reset replaces every proposal, used when loading a checkpoint. next is
// the last id handed out; it is raised to cover every loaded id so ids are
// never reused.
func (s *Store) Reset(props []Proposal, next uint64) error {
	table := make(map[string]*Proposal, len(props))
	for _, p := range props {
		n, err := ParseID(p.ID)
		if err != nil {
			return err
		}
		if n > next {
			next = n
		}
		c := p.clone()
		table[p.ID] = &c
	}
	s.mu.Lock()
	s.proposals = table
	s.next = next
	s.mu.Unlock()
	return nil
}

// NextID returns the last id number handed out.
func (s *Store) NextID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.next
}

func sortByID(ps []Proposal) {
	sort.Slice(ps, func(i, j int) bool {
		return idLess(ps[i].ID, ps[j].ID)
	})
}

func sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		return idLess(ids[i], ids[j])
	})
}

func idLess(a, b string) bool {
	na, errA := ParseID(a)
	nb, errB := ParseID(b)
	if errA != nil || errB != nil {
		return a < b
	}
	return na < nb
}
