package backup

import (
	"errors"

	"github.com/deepagents/safefs/internal/fault"
)

// Sentinel errors for the backup package.
var (
	// ErrNotFound is returned when no snapshot exists for a proposal.
	ErrNotFound = fault.ErrNotFound

	// ErrDuplicate is returned when a snapshot is stored twice for one proposal.
	ErrDuplicate = errors.New("snapshot already exists for proposal")
)
