package session

import (
	"errors"

	"github.com/deepagents/safefs/internal/fault"
	"github.com/deepagents/safefs/internal/persist"
	"github.com/deepagents/safefs/internal/proposal"
	"github.com/deepagents/safefs/internal/sandbox"
	"github.com/deepagents/safefs/internal/txn"
)

// Error taxonomy visible to callers. Every error returned by a Session
// matches at most one of these with errors.Is.
var (
	ErrOutOfBounds       = fault.ErrOutOfBounds
	ErrNotFound          = fault.ErrNotFound
	ErrConflict          = fault.ErrConflict
	ErrAlreadyTerminal   = fault.ErrAlreadyTerminal
	ErrPersistenceFormat = fault.ErrPersistenceFormat

	// ErrReadDisabled is returned by reads when the policy forbids them.
	ErrReadDisabled = errors.New("reads disabled by policy")
	// ErrWriteDisabled is returned by proposals when the policy forbids writes.
	ErrWriteDisabled = errors.New("writes disabled by policy")
	// ErrReservedPath is returned when a proposal targets StateDir or another reserved path.
	ErrReservedPath = proposal.ErrReservedPath
	// ErrNoMatch is returned by ProposeReplace when the search text is absent.
	ErrNoMatch = errors.New("search text not found")
)

// Typed errors carried by the sentinels above.
type (
	OutOfBoundsError = sandbox.OutOfBoundsError
	ConflictError    = txn.ConflictError
	FormatError      = persist.FormatError
)
