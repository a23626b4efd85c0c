package txn

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/deepagents/safefs/internal/backup"
	"github.com/deepagents/safefs/internal/proposal"
	"github.com/deepagents/safefs/internal/sandbox"
	"github.com/deepagents/safefs/internal/vfs"
)

var errDisk = errors.New("disk unavailable")

// flakyBackend fails any write or removal of the named path.
type flakyBackend struct {
	failOn string
}

func (b *flakyBackend) Put(rel string, _ []byte) error {
	if rel == b.failOn {
		return errDisk
	}
	return nil
}

func (b *flakyBackend) Remove(rel string) error {
	if rel == b.failOn {
		return errDisk
	}
	return nil
}

type fixture struct {
	fs      *vfs.FS
	store   *proposal.Store
	backups *backup.Manager
	coord   *Coordinator
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	b, err := sandbox.New(t.TempDir())
	if err != nil {
		t.Fatalf("sandbox.New failed: %v", err)
	}
	fs := vfs.New()
	m := fs.Mutator()
	for p, c := range files {
		if err := m.Write(p, []byte(c)); err != nil {
			t.Fatal(err)
		}
	}
	store := proposal.NewStore(b, fs)
	backups := backup.NewManager(fs)
	return &fixture{fs: fs, store: store, backups: backups, coord: NewCoordinator(store, fs, backups)}
}

func (f *fixture) propose(t *testing.T, kind proposal.Kind, edits ...proposal.Edit) string {
	t.Helper()
	p, err := f.store.Create(kind, edits)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return p.ID
}

func (f *fixture) content(t *testing.T) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, n := range f.fs.Nodes() {
		out[n.Path] = string(n.Content)
	}
	return out
}

func TestApplyWritesAllTargets(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "A", "b": "B"})
	id := f.propose(t, proposal.KindMultiWrite,
		proposal.Edit{Path: "a", Content: []byte("A2")},
		proposal.Edit{Path: "b", Delete: true},
		proposal.Edit{Path: "c", Content: []byte("C")},
	)

	p, err := f.coord.Apply(context.Background(), id)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if p.Status != proposal.StatusApplied {
		t.Errorf("Status = %q, want applied", p.Status)
	}
	if diff := cmp.Diff(map[string]string{"a": "A2", "c": "C"}, f.content(t)); diff != "" {
		t.Errorf("content mismatch (-want +got):\n%s", diff)
	}

	snap, err := f.backups.Get(id)
	if err != nil {
		t.Fatalf("snapshot missing for applied proposal: %v", err)
	}
	want := []backup.Entry{
		{Path: "a", Content: []byte("A"), Existed: true},
		{Path: "b", Content: []byte("B"), Existed: true},
		{Path: "c"},
	}
	if diff := cmp.Diff(want, snap.Entries); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyConflictOnChangedBase(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "A"})
	id := f.propose(t, proposal.KindSingleWrite, proposal.Edit{Path: "a", Content: []byte("mine")})

	if err := f.fs.Mutator().Write("a", []byte("theirs")); err != nil {
		t.Fatal(err)
	}

	p, err := f.coord.Apply(context.Background(), id)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Apply error = %v, want ErrConflict", err)
	}
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.Path != "a" {
		t.Errorf("conflict = %+v, want path a", ce)
	}
	if p.Status != proposal.StatusFailed {
		t.Errorf("Status = %q, want failed", p.Status)
	}
	if got := f.content(t)["a"]; got != "theirs" {
		t.Errorf("a = %q, want theirs", got)
	}
	if f.backups.Has(id) {
		t.Error("conflicting apply must not leave a snapshot")
	}
}

func TestApplyConflictOnCreatedFile(t *testing.T) {
	f := newFixture(t, nil)
	id := f.propose(t, proposal.KindSingleWrite, proposal.Edit{Path: "new", Content: []byte("x")})

	if err := f.fs.Mutator().Write("new", []byte("raced")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.coord.Apply(context.Background(), id); !errors.Is(err, ErrConflict) {
		t.Errorf("Apply error = %v, want ErrConflict", err)
	}
}

func TestApplyConflictOnRemovedFile(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "A"})
	id := f.propose(t, proposal.KindDelete, proposal.Edit{Path: "a", Delete: true})

	if err := f.fs.Mutator().Remove("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.coord.Apply(context.Background(), id); !errors.Is(err, ErrConflict) {
		t.Errorf("Apply error = %v, want ErrConflict", err)
	}
}

// TestApplyRollsBackOnWriteFailure verifies a mid-transaction failure
// restores earlier targets and discards the snapshot.
func TestApplyRollsBackOnWriteFailure(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "A", "c": "C"})
	id := f.propose(t, proposal.KindMultiWrite,
		proposal.Edit{Path: "a", Content: []byte("A2")},
		proposal.Edit{Path: "b", Content: []byte("B2")},
		proposal.Edit{Path: "c", Content: []byte("C2")},
	)
	before := f.content(t)

	f.fs.SetBackend(&flakyBackend{failOn: "c"})
	p, err := f.coord.Apply(context.Background(), id)
	if !errors.Is(err, errDisk) {
		t.Fatalf("Apply error = %v, want errDisk", err)
	}
	if p.Status != proposal.StatusFailed || p.Error == "" {
		t.Errorf("proposal = %q/%q, want failed with reason", p.Status, p.Error)
	}
	if diff := cmp.Diff(before, f.content(t)); diff != "" {
		t.Errorf("content changed after rollback (-want +got):\n%s", diff)
	}
	if f.backups.Has(id) {
		t.Error("failed apply must not keep a snapshot")
	}
}

func TestApplyTwice(t *testing.T) {
	f := newFixture(t, nil)
	id := f.propose(t, proposal.KindSingleWrite, proposal.Edit{Path: "a", Content: []byte("x")})

	if _, err := f.coord.Apply(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if _, err := f.coord.Apply(context.Background(), id); !errors.Is(err, proposal.ErrAlreadyTerminal) {
		t.Errorf("second Apply error = %v, want ErrAlreadyTerminal", err)
	}
}

func TestApplyUnknown(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.coord.Apply(context.Background(), "p1"); !errors.Is(err, proposal.ErrNotFound) {
		t.Errorf("Apply error = %v, want ErrNotFound", err)
	}
}

func TestApplyCanceledBeforeStart(t *testing.T) {
	f := newFixture(t, nil)
	id := f.propose(t, proposal.KindSingleWrite, proposal.Edit{Path: "a", Content: []byte("x")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.coord.Apply(ctx, id); !errors.Is(err, context.Canceled) {
		t.Fatalf("Apply error = %v, want context.Canceled", err)
	}
	p, _ := f.store.Get(id)
	if p.Status != proposal.StatusPending {
		t.Errorf("Status = %q, want pending", p.Status)
	}
}

func TestConflictErrorMessage(t *testing.T) {
	err := &ConflictError{Path: "a", Current: vfs.Checksum([]byte("x"))}
	want := "conflict on a: expected no file, found " + vfs.Checksum([]byte("x")).Encoded()[:12]
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
