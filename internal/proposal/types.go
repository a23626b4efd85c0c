package proposal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// Kind is the shape of a proposal.
type Kind string

const (
	KindSingleWrite Kind = "single-write"
	KindMultiWrite  Kind = "multi-write"
	KindDelete      Kind = "delete"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSingleWrite, KindMultiWrite, KindDelete:
		return true
	}
	return false
}

// Status is a position in the proposal lifecycle:
//
//	pending -> rejected
//	pending -> accepted -> applied | failed
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusApplied  Status = "applied"
	StatusFailed   Status = "failed"
	StatusRejected Status = "rejected"
)

// Terminal reports whether s can never change again.
func (s Status) Terminal() bool {
	return s == StatusApplied || s == StatusFailed || s == StatusRejected
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusApplied, StatusFailed, StatusRejected:
		return true
	}
	return false
}

// validTransitions is the whole state machine.
var validTransitions = map[Status][]Status{
	StatusPending:  {StatusRejected, StatusAccepted},
	StatusAccepted: {StatusApplied, StatusFailed},
}

func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Edit is one requested change as supplied by a caller.
type Edit struct {
	Path    string
	Content []byte
	Delete  bool

	// Transform, when set, derives the new content from the file's current
	// content instead of using Content. It sees exactly the content whose
	// checksum becomes the target's base. The file must exist.
	Transform func(current []byte) ([]byte, error) `json:"-"`
}

// Target is one validated change inside a proposal.
type Target struct {
	// Path is root-relative and canonical.
	Path string `json:"path"`

	// Content is the new content; unused for tombstones.
	Content []byte `json:"content,omitempty"`

	// Tombstone marks a deletion.
	Tombstone bool `json:"tombstone,omitempty"`

	// BaseChecksum is the checksum observed at creation; empty means the
	// file did not exist.
	BaseChecksum digest.Digest `json:"base_checksum,omitempty"`
}

// IsNew reports whether the target expects the file to be absent.
func (t Target) IsNew() bool {
	return t.BaseChecksum == ""
}

// Proposal is a recorded request to mutate one or more files.
type Proposal struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Targets   []Target  `json:"targets"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Error is the failure reason once Status is failed.
	Error string `json:"error,omitempty"`

	// Diff is a unified diff preview computed at creation.
	Diff string `json:"diff,omitempty"`
}

// Paths returns target paths in order.
func (p Proposal) Paths() []string {
	out := make([]string, len(p.Targets))
	for i, t := range p.Targets {
		out[i] = t.Path
	}
	return out
}

func (p Proposal) clone() Proposal {
	targets := make([]Target, len(p.Targets))
	for i, t := range p.Targets {
		t.Content = append([]byte(nil), t.Content...)
		targets[i] = t
	}
	p.Targets = targets
	return p
}

// FormatID renders the n-th proposal id.
func FormatID(n uint64) string {
	return "p" + strconv.FormatUint(n, 10)
}

// ParseID extracts the sequence number from an id of the form p<N>.
func ParseID(id string) (uint64, error) {
	rest, ok := strings.CutPrefix(id, "p")
	if !ok || rest == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return n, nil
}
