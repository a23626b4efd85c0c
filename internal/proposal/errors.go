package proposal

import (
	"errors"

	"github.com/deepagents/safefs/internal/fault"
)

// Sentinel errors for proposal operations.
var (
	// ErrNotFound is returned when a proposal id is unknown.
	ErrNotFound = fault.ErrNotFound
	// ErrAlreadyTerminal is returned when reject or accept targets a non-pending proposal.
	ErrAlreadyTerminal = fault.ErrAlreadyTerminal
	// ErrNoTargets is returned when a proposal has no targets.
	ErrNoTargets = errors.New("proposal has no targets")
	// ErrDuplicateTarget is returned when two targets resolve to the same path.
	ErrDuplicateTarget = errors.New("duplicate target path")
	// ErrReservedPath is returned when a target lies in a path the session keeps for itself.
	ErrReservedPath = errors.New("path is reserved")
	// ErrKindMismatch is returned when the targets do not fit the proposal kind.
	ErrKindMismatch = errors.New("targets do not match proposal kind")
	// ErrInvalidTransition is returned for status changes outside the state machine.
	ErrInvalidTransition = errors.New("invalid proposal status transition")
	// ErrInvalidID is returned when an id is not of the form p<N>.
	ErrInvalidID = errors.New("invalid proposal id")
)
