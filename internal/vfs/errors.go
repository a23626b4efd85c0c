package vfs

import (
	"errors"

	"github.com/deepagents/safefs/internal/fault"
)

// Sentinel errors for the vfs package.
var (
	// ErrNotFound is returned when a path has no node or directory.
	ErrNotFound = fault.ErrNotFound

	// ErrNotDir is returned when a directory operation targets a file.
	ErrNotDir = errors.New("not a directory")

	// ErrIsDir is returned when a file operation targets an implicit directory.
	ErrIsDir = errors.New("is a directory")

	// ErrInvalidPath is returned for paths that are not clean and root-relative.
	ErrInvalidPath = errors.New("invalid vfs path")

	// ErrFileTooLarge is returned when content exceeds the configured size cap.
	ErrFileTooLarge = errors.New("file exceeds size limit")
)
