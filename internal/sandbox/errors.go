package sandbox

import (
	"errors"
	"fmt"

	"github.com/deepagents/safefs/internal/fault"
)

// Sentinel errors for the sandbox package.
var (
	// ErrOutOfBounds is returned when a path canonicalizes outside the root.
	ErrOutOfBounds = fault.ErrOutOfBounds

	// ErrEmptyRoot is returned when a boundary is created without a root.
	ErrEmptyRoot = errors.New("sandbox root is required")

	// ErrRootNotDir is returned when the root exists but is not a directory.
	ErrRootNotDir = errors.New("sandbox root is not a directory")
)

// OutOfBoundsError records which input was rejected and why.
type OutOfBoundsError struct {
	Path   string
	Reason string
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("%s: %q (%s)", ErrOutOfBounds, e.Path, e.Reason)
}

func (e *OutOfBoundsError) Unwrap() error {
	return ErrOutOfBounds
}

func outOfBounds(path, reason string) error {
	return &OutOfBoundsError{Path: path, Reason: reason}
}
