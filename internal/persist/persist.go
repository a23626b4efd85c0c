// Package persist writes and reads session checkpoints. A checkpoint holds
// the whole virtual filesystem, every proposal and every backup; loading one
// validates it completely before handing it back.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deepagents/safefs/internal/backup"
	"github.com/deepagents/safefs/internal/proposal"
	"github.com/deepagents/safefs/internal/vfs"
)

// FormatVersion is the checkpoint version this build writes. Loading
// accepts versions 1 through FormatVersion.
const FormatVersion = 1

// State is a full session checkpoint.
type State struct {
	Version        int                 `json:"version"`
	SessionID      uuid.UUID           `json:"session_id"`
	Root           string              `json:"root"`
	SavedAt        time.Time           `json:"saved_at"`
	NextProposalID uint64              `json:"next_proposal_id"`
	Files          []vfs.Node          `json:"files"`
	Proposals      []proposal.Proposal `json:"proposals"`
	Backups        []backup.Snapshot   `json:"backups"`
}

// Codec stores a State at a path.
type Codec interface {
	Name() string
	Write(ctx context.Context, path string, st State) error
	Read(ctx context.Context, path string) (State, error)
}

// CodecFor picks the codec by file extension: .db and .sqlite use SQLite,
// anything else JSON.
func CodecFor(path string) Codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return SQLite{}
	default:
		return JSON{}
	}
}

// Save stamps st with the current version and time and writes it to path.
func Save(ctx context.Context, path string, st State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st.Version = FormatVersion
	if st.SavedAt.IsZero() {
		st.SavedAt = time.Now().UTC()
	}
	codec := CodecFor(path)
	if err := codec.Write(ctx, path, st); err != nil {
		return fmt.Errorf("save %s checkpoint: %w", codec.Name(), err)
	}
	return nil
}

// Load reads and validates the checkpoint at path. A missing file is
// reported with an error matching os.ErrNotExist.
func Load(ctx context.Context, path string) (State, error) {
	if _, err := os.Stat(path); err != nil {
		return State{}, fmt.Errorf("load checkpoint: %w", err)
	}
	st, err := CodecFor(path).Read(ctx, path)
	if err != nil {
		return State{}, err
	}
	if err := Validate(ctx, st); err != nil {
		return State{}, err
	}
	return st, nil
}

// JSON is the default single-file codec.
type JSON struct{}

// Name implements Codec.
func (JSON) Name() string { return "json" }

// Write implements Codec with an atomic replace of path.
func (JSON) Write(_ context.Context, path string, st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return vfs.AtomicWriteFile(path, append(data, '\n'), 0600)
}

// Read implements Codec.
func (JSON) Read(_ context.Context, path string) (State, error) {
	f, err := os.Open(path)
	if err != nil {
		return State{}, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()
	return Decode(f, path)
}

// Decode parses a JSON checkpoint from r. source names r in errors.
func Decode(r io.Reader, source string) (State, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return State{}, fmt.Errorf("read checkpoint: %w", err)
	}

	var header struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return State{}, formatErr(source, "parse: %v", err)
	}
	if header.Version == nil {
		return State{}, formatErr(source, "missing version")
	}
	if err := checkVersion(source, *header.Version); err != nil {
		return State{}, err
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, formatErr(source, "parse: %v", err)
	}
	return st, nil
}

func checkVersion(source string, v int) error {
	if v < 1 || v > FormatVersion {
		return formatErr(source, "unsupported version %d (supported 1..%d)", v, FormatVersion)
	}
	return nil
}
