// Package txn applies accepted proposals to the virtual filesystem as a
// single all-or-nothing transaction.
package txn

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/deepagents/safefs/internal/backup"
	"github.com/deepagents/safefs/internal/proposal"
	"github.com/deepagents/safefs/internal/vfs"
)

// Coordinator owns the apply sequence. Callers must serialize Apply with
// every other writer of fs.
type Coordinator struct {
	store   *proposal.Store
	fs      *vfs.FS
	backups *backup.Manager
	log     logrus.FieldLogger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Coordinator) {
		c.log = l
	}
}

// NewCoordinator wires a coordinator over the given components.
func NewCoordinator(store *proposal.Store, fs *vfs.FS, backups *backup.Manager, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   store,
		fs:      fs,
		backups: backups,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply runs proposal id. On success every target is written, a snapshot of
// the prior state is stored and the proposal is applied. On any failure no
// target keeps a new value and the proposal is failed.
//
// ctx is consulted only before the proposal is claimed; once writing starts
// the transaction runs to completion.
func (c *Coordinator) Apply(ctx context.Context, id string) (proposal.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return proposal.Proposal{}, err
	}

	p, err := c.store.Begin(id)
	if err != nil {
		return proposal.Proposal{}, err
	}
	log := c.log.WithField("proposal", id)

	if err := c.checkBase(p); err != nil {
		log.WithError(err).Info("proposal conflicts with current state")
		return c.fail(p.ID, err)
	}

	snap := c.backups.Snapshot(p.ID, p.Paths())
	if err := c.backups.Store(snap); err != nil {
		return c.fail(p.ID, fmt.Errorf("store backup: %w", err))
	}

	if err := c.write(p); err != nil {
		log.WithError(err).Warn("transaction rolled back")
		return c.fail(p.ID, err)
	}

	done, err := c.store.Finish(p.ID, nil)
	if err != nil {
		return proposal.Proposal{}, err
	}
	log.WithField("targets", len(p.Targets)).Info("proposal applied")
	return done, nil
}

// checkBase compares each target's recorded base with the current file.
func (c *Coordinator) checkBase(p proposal.Proposal) error {
	current := c.fs.Checksums(p.Paths())
	for _, t := range p.Targets {
		cur, exists := current[t.Path]
		if t.IsNew() {
			if exists {
				return &ConflictError{Path: t.Path, Current: cur}
			}
			continue
		}
		if !exists || cur != t.BaseChecksum {
			return &ConflictError{Path: t.Path, Base: t.BaseChecksum, Current: cur}
		}
	}
	return nil
}

// write commits every target as one VFS batch. A failed batch changes
// nothing, so the snapshot is discarded with it.
func (c *Coordinator) write(p proposal.Proposal) error {
	if !c.backups.Has(p.ID) {
		panic(fmt.Sprintf("txn: %s about to write %d targets without a snapshot", p.ID, len(p.Targets)))
	}
	ops := make([]vfs.Op, 0, len(p.Targets))
	for _, t := range p.Targets {
		ops = append(ops, vfs.Op{Path: t.Path, Content: t.Content, Remove: t.Tombstone})
	}
	if err := c.fs.Mutator().Apply(ops); err != nil {
		c.backups.Drop(p.ID)
		return fmt.Errorf("apply %s: %w", p.ID, err)
	}
	return nil
}

func (c *Coordinator) fail(id string, cause error) (proposal.Proposal, error) {
	p, err := c.store.Finish(id, cause)
	if err != nil {
		return proposal.Proposal{}, errors.Join(cause, err)
	}
	return p, cause
}
