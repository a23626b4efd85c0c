package txn

import (
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/deepagents/safefs/internal/fault"
)

// ErrConflict is returned when a target changed after its proposal was created.
var ErrConflict = fault.ErrConflict

// ConflictError describes the first target whose current state disagrees
// with the base recorded at proposal time. An empty digest means absent.
type ConflictError struct {
	Path    string
	Base    digest.Digest
	Current digest.Digest
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: expected %s, found %s", e.Path, describe(e.Base), describe(e.Current))
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

func describe(d digest.Digest) string {
	if d == "" {
		return "no file"
	}
	if enc := d.Encoded(); len(enc) > 12 {
		return enc[:12]
	}
	return d.String()
}
