// Package backup captures and restores the prior content of transaction
// targets. Snapshots are keyed by proposal id and kept for the session.
package backup

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deepagents/safefs/internal/vfs"
)

// Entry is the prior state of one path.
type Entry struct {
	Path    string `json:"path"`
	Content []byte `json:"content,omitempty"`
	Existed bool   `json:"existed"`
}

// Snapshot is the prior state of every target of one proposal, in target order.
type Snapshot struct {
	ProposalID string    `json:"proposal_id"`
	TakenAt    time.Time `json:"taken_at"`
	Entries    []Entry   `json:"entries"`
}

func (s Snapshot) clone() Snapshot {
	entries := make([]Entry, len(s.Entries))
	for i, e := range s.Entries {
		e.Content = append([]byte(nil), e.Content...)
		entries[i] = e
	}
	s.Entries = entries
	return s
}

// Manager owns the snapshot table.
type Manager struct {
	fs  *vfs.FS
	log logrus.FieldLogger
	now func() time.Time

	mu    sync.RWMutex
	snaps map[string]Snapshot
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithClock overrides time.Now for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a backup manager over fs.
func NewManager(fs *vfs.FS, opts ...Option) *Manager {
	m := &Manager{
		fs:    fs,
		log:   logrus.StandardLogger(),
		now:   time.Now,
		snaps: make(map[string]Snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot reads the current content (or absence) of every path. It has no
// side effects; call Store to retain the result.
func (m *Manager) Snapshot(proposalID string, paths []string) Snapshot {
	snap := Snapshot{
		ProposalID: proposalID,
		TakenAt:    m.now().UTC(),
		Entries:    make([]Entry, 0, len(paths)),
	}
	for _, p := range paths {
		n, err := m.fs.Read(p)
		if err != nil {
			snap.Entries = append(snap.Entries, Entry{Path: p})
			continue
		}
		snap.Entries = append(snap.Entries, Entry{Path: p, Content: n.Content, Existed: true})
	}
	return snap
}

// Store retains snap under its proposal id.
func (m *Manager) Store(snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.snaps[snap.ProposalID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, snap.ProposalID)
	}
	m.snaps[snap.ProposalID] = snap.clone()
	return nil
}

// Get returns the snapshot for a proposal.
func (m *Manager) Get(proposalID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snaps[proposalID]
	if !ok {
		return Snapshot{}, fmt.Errorf("backup for %s: %w", proposalID, ErrNotFound)
	}
	return snap.clone(), nil
}

// Has reports whether a snapshot exists for proposalID.
func (m *Manager) Has(proposalID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.snaps[proposalID]
	return ok
}

// List returns every snapshot, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.snaps))
	for _, s := range m.snaps {
		out = append(out, s.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TakenAt.Equal(out[j].TakenAt) {
			return out[i].TakenAt.Before(out[j].TakenAt)
		}
		return out[i].ProposalID < out[j].ProposalID
	})
	return out
}

// Drop forgets the snapshot for proposalID.
func (m *Manager) Drop(proposalID string) {
	m.mu.Lock()
	delete(m.snaps, proposalID)
	m.mu.Unlock()
}

// Reset replaces the whole table, used when loading a checkpoint.
func (m *Manager) Reset(snaps []Snapshot) {
	table := make(map[string]Snapshot, len(snaps))
	for _, s := range snaps {
		table[s.ProposalID] = s.clone()
	}
	m.mu.Lock()
	m.snaps = table
	m.mu.Unlock()
}

// Restore writes every captured entry back as one batch: prior content is
// rewritten, files that did not exist are removed. It bypasses proposals.
// Entries already matching the snapshot are skipped; on failure nothing
// changes.
func (m *Manager) Restore(snap Snapshot) error {
	paths := make([]string, len(snap.Entries))
	for i, e := range snap.Entries {
		paths[i] = e.Path
	}
	current := m.fs.Checksums(paths)

	var ops []vfs.Op
	for _, e := range snap.Entries {
		sum, exists := current[e.Path]
		switch {
		case e.Existed && (!exists || sum != vfs.Checksum(e.Content)):
			ops = append(ops, vfs.Op{Path: e.Path, Content: e.Content})
		case !e.Existed && exists:
			ops = append(ops, vfs.Op{Path: e.Path, Remove: true})
		}
	}

	if err := m.fs.Mutator().Apply(ops); err != nil {
		m.log.WithField("proposal", snap.ProposalID).WithError(err).Warn("restore failed")
		return fmt.Errorf("restore %s: %w", snap.ProposalID, err)
	}
	m.log.WithFields(logrus.Fields{"proposal": snap.ProposalID, "paths": len(ops)}).Info("backup restored")
	return nil
}

// RestoreByID restores the snapshot stored for proposalID.
func (m *Manager) RestoreByID(proposalID string) error {
	snap, err := m.Get(proposalID)
	if err != nil {
		return err
	}
	return m.Restore(snap)
}
