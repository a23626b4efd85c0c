package persist

import (
	"context"
	"fmt"

	"github.com/deepagents/safefs/internal/proposal"
	"github.com/deepagents/safefs/internal/vfs"
	"github.com/deepagents/safefs/internal/worker"
)

// Validate checks every structural rule a checkpoint must satisfy. File
// checksums are re-hashed in parallel.
func Validate(ctx context.Context, st State) error {
	if err := checkVersion("", st.Version); err != nil {
		return err
	}
	if err := validateFiles(ctx, st.Files); err != nil {
		return err
	}
	status, err := validateProposals(st.Proposals)
	if err != nil {
		return err
	}
	return validateBackups(st, status)
}

func validateFiles(ctx context.Context, files []vfs.Node) error {
	byPath := make(map[string]vfs.Node, len(files))
	paths := make([]string, 0, len(files))
	for _, n := range files {
		if err := vfs.ValidatePath(n.Path); err != nil {
			return formatErr("", "file path: %v", err)
		}
		if _, dup := byPath[n.Path]; dup {
			return formatErr("", "duplicate file %s", n.Path)
		}
		if err := n.Checksum.Validate(); err != nil {
			return formatErr("", "file %s checksum: %v", n.Path, err)
		}
		byPath[n.Path] = n
		paths = append(paths, n.Path)
	}

	pool := worker.NewPool[struct{}](0)
	results := pool.Process(ctx, paths, func(_ context.Context, p string) (struct{}, error) {
		n := byPath[p]
		if n.Checksum.Algorithm().FromBytes(n.Content) != n.Checksum {
			return struct{}{}, fmt.Errorf("file %s content does not match checksum", p)
		}
		return struct{}{}, nil
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := worker.FirstError(results); err != nil {
		return formatErr("", "%v", err)
	}
	return nil
}

func validateProposals(props []proposal.Proposal) (map[string]proposal.Status, error) {
	status := make(map[string]proposal.Status, len(props))
	for _, p := range props {
		if _, err := proposal.ParseID(p.ID); err != nil {
			return nil, formatErr("", "%v", err)
		}
		if _, dup := status[p.ID]; dup {
			return nil, formatErr("", "duplicate proposal %s", p.ID)
		}
		if !p.Kind.Valid() {
			return nil, formatErr("", "proposal %s: unknown kind %q", p.ID, p.Kind)
		}
		if !p.Status.Valid() {
			return nil, formatErr("", "proposal %s: unknown status %q", p.ID, p.Status)
		}
		if p.Status == proposal.StatusAccepted {
			return nil, formatErr("", "proposal %s: in flight", p.ID)
		}
		if len(p.Targets) == 0 {
			return nil, formatErr("", "proposal %s: no targets", p.ID)
		}
		for _, t := range p.Targets {
			if err := vfs.ValidatePath(t.Path); err != nil {
				return nil, formatErr("", "proposal %s: %v", p.ID, err)
			}
			if t.BaseChecksum != "" {
				if err := t.BaseChecksum.Validate(); err != nil {
					return nil, formatErr("", "proposal %s target %s: %v", p.ID, t.Path, err)
				}
			}
		}
		status[p.ID] = p.Status
	}
	return status, nil
}

func validateBackups(st State, status map[string]proposal.Status) error {
	seen := make(map[string]bool, len(st.Backups))
	for _, b := range st.Backups {
		s, ok := status[b.ProposalID]
		if !ok {
			return formatErr("", "backup for unknown proposal %s", b.ProposalID)
		}
		if s != proposal.StatusApplied {
			return formatErr("", "backup for %s proposal %s", s, b.ProposalID)
		}
		if seen[b.ProposalID] {
			return formatErr("", "duplicate backup %s", b.ProposalID)
		}
		seen[b.ProposalID] = true
		for _, e := range b.Entries {
			if err := vfs.ValidatePath(e.Path); err != nil {
				return formatErr("", "backup %s: %v", b.ProposalID, err)
			}
		}
	}
	for id, s := range status {
		if s == proposal.StatusApplied && !seen[id] {
			return formatErr("", "applied proposal %s has no backup", id)
		}
	}
	return nil
}
