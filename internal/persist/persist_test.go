package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"

	"github.com/deepagents/safefs/internal/backup"
	"github.com/deepagents/safefs/internal/proposal"
	"github.com/deepagents/safefs/internal/vfs"
)

var stamp = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func node(path, content string, rev uint64) vfs.Node {
	return vfs.Node{
		Path:     path,
		Content:  []byte(content),
		Checksum: vfs.Checksum([]byte(content)),
		ModTime:  stamp,
		Revision: rev,
	}
}

func sampleState() State {
	return State{
		Version:        FormatVersion,
		SessionID:      uuid.MustParse("9f1c7a52-8a8f-4d7e-9a57-0c3b1e2d4f60"),
		Root:           "/work/project",
		SavedAt:        stamp,
		NextProposalID: 3,
		Files: []vfs.Node{
			node("a.txt", "after", 2),
			node("src/main.go", "package main\n", 1),
		},
		Proposals: []proposal.Proposal{
			{
				ID:     "p1",
				Kind:   proposal.KindSingleWrite,
				Status: proposal.StatusApplied,
				Targets: []proposal.Target{
					{Path: "a.txt", Content: []byte("after"), BaseChecksum: vfs.Checksum([]byte("before"))},
				},
				CreatedAt: stamp,
				UpdatedAt: stamp,
				Diff:      "--- a/a.txt\n+++ b/a.txt\n",
			},
			{
				ID:     "p3",
				Kind:   proposal.KindDelete,
				Status: proposal.StatusPending,
				Targets: []proposal.Target{
					{Path: "src/main.go", Tombstone: true, BaseChecksum: vfs.Checksum([]byte("package main\n"))},
				},
				CreatedAt: stamp,
				UpdatedAt: stamp,
			},
		},
		Backups: []backup.Snapshot{
			{ProposalID: "p1", TakenAt: stamp, Entries: []backup.Entry{{Path: "a.txt", Content: []byte("before"), Existed: true}}},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, name := range []string{"state.json", "state.db"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			want := sampleState()

			if err := Save(context.Background(), path, want); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			got, err := Load(context.Background(), path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"state.json", "state.sqlite"} {
		if err := Save(context.Background(), filepath.Join(dir, name), sampleState()); err != nil {
			t.Fatalf("Save %s failed: %v", name, err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".safefs-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestCodecFor(t *testing.T) {
	tests := map[string]string{
		"state.json":    "json",
		"state":         "json",
		"state.db":      "sqlite",
		"state.SQLITE":  "sqlite",
		"state.sqlite3": "sqlite",
	}
	for path, want := range tests {
		if got := CodecFor(path).Name(); got != want {
			t.Errorf("CodecFor(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "none.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load error = %v, want os.ErrNotExist", err)
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", "{oops"},
		{"unversioned", `{"root": "/x", "files": []}`},
		{"future version", `{"version": 99}`},
		{"zero version", `{"version": 0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), writeFile(t, tt.doc))
			if !errors.Is(err, ErrFormat) {
				t.Errorf("Load error = %v, want ErrFormat", err)
			}
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Errorf("Load error %T is not *FormatError", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*State)
		reason string
	}{
		{"corrupt checksum", func(s *State) { s.Files[0].Content = []byte("tampered") }, "does not match"},
		{"malformed checksum", func(s *State) { s.Files[0].Checksum = "sha256:zz" }, "checksum"},
		{"escaping path", func(s *State) { s.Files[0].Path = "../etc/passwd" }, "file path"},
		{"absolute path", func(s *State) { s.Files[0].Path = "/etc/passwd" }, "file path"},
		{"duplicate file", func(s *State) { s.Files[1] = s.Files[0] }, "duplicate file"},
		{"duplicate proposal", func(s *State) { s.Proposals[1].ID = "p1" }, "duplicate proposal"},
		{"bad id", func(s *State) { s.Proposals[1].ID = "x3" }, "invalid proposal id"},
		{"unknown status", func(s *State) { s.Proposals[1].Status = "waiting" }, "unknown status"},
		{"in flight", func(s *State) { s.Proposals[1].Status = proposal.StatusAccepted }, "in flight"},
		{"orphan backup", func(s *State) { s.Backups[0].ProposalID = "p9" }, "unknown proposal"},
		{"backup of pending", func(s *State) {
			s.Backups = append(s.Backups, backup.Snapshot{ProposalID: "p3"})
		}, "pending proposal"},
		{"applied without backup", func(s *State) { s.Backups = nil }, "has no backup"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := sampleState()
			tt.mutate(&st)
			err := Validate(context.Background(), st)
			if !errors.Is(err, ErrFormat) {
				t.Fatalf("Validate error = %v, want ErrFormat", err)
			}
			if !strings.Contains(err.Error(), tt.reason) {
				t.Errorf("Validate error = %q, want mention of %q", err, tt.reason)
			}
		})
	}
}

func TestValidateAcceptsSample(t *testing.T) {
	if err := Validate(context.Background(), sampleState()); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

// TestLoadCorruptSQLite verifies a non-database file behind a .db name is a
// format error rather than a crash.
func TestLoadCorruptSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	if err := os.WriteFile(path, []byte("definitely not sqlite, just text padding it out"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(context.Background(), path); !errors.Is(err, ErrFormat) {
		t.Errorf("Load error = %v, want ErrFormat", err)
	}
}
