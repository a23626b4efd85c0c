// Package fault holds the error taxonomy shared by every safefs component.
// Package-level sentinels alias these values so callers can match with
// errors.Is regardless of which layer produced the error.
package fault

import "errors"

var (
	// ErrOutOfBounds is returned when a path resolves outside the sandbox root.
	ErrOutOfBounds = errors.New("path outside sandbox root")

	// ErrNotFound is returned when a file, directory, proposal or backup does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a target changed between proposal and accept.
	ErrConflict = errors.New("conflict")

	// ErrAlreadyTerminal is returned when an operation needs a pending proposal.
	ErrAlreadyTerminal = errors.New("proposal is no longer pending")

	// ErrPersistenceFormat is returned when serialized state is malformed or incompatible.
	ErrPersistenceFormat = errors.New("invalid persistence format")
)
