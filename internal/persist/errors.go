package persist

import (
	"fmt"

	"github.com/deepagents/safefs/internal/fault"
)

// ErrFormat is returned when a checkpoint is malformed or from an
// unsupported version.
var ErrFormat = fault.ErrPersistenceFormat

// FormatError explains why a checkpoint was refused.
type FormatError struct {
	Source string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%s: %s", ErrFormat, e.Reason)
	}
	return fmt.Sprintf("%s %s: %s", ErrFormat, e.Source, e.Reason)
}

func (e *FormatError) Unwrap() error {
	return ErrFormat
}

func formatErr(source, format string, args ...any) error {
	return &FormatError{Source: source, Reason: fmt.Sprintf(format, args...)}
}
