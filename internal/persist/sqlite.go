package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	_ "modernc.org/sqlite"

	"github.com/deepagents/safefs/internal/backup"
	"github.com/deepagents/safefs/internal/proposal"
	"github.com/deepagents/safefs/internal/vfs"
)

const schema = `
CREATE TABLE meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE files (
	path     TEXT PRIMARY KEY,
	content  BLOB NOT NULL,
	checksum TEXT NOT NULL,
	mod_time TEXT NOT NULL,
	revision INTEGER NOT NULL
);
CREATE TABLE proposals (
	id         TEXT PRIMARY KEY,
	seq        INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	diff       TEXT NOT NULL DEFAULT '',
	targets    TEXT NOT NULL
);
CREATE TABLE backups (
	proposal_id TEXT PRIMARY KEY REFERENCES proposals(id),
	taken_at    TEXT NOT NULL,
	entries     TEXT NOT NULL
);`

const (
	metaVersion   = "version"
	metaSessionID = "session_id"
	metaRoot      = "root"
	metaSavedAt   = "saved_at"
	metaNextID    = "next_proposal_id"
)

// SQLite stores a checkpoint as a single database file. Target and backup
// entry lists are stored as JSON columns.
type SQLite struct{}

// Name implements Codec.
func (SQLite) Name() string { return "sqlite" }

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, p := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = DELETE",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = FULL",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return db, nil
}

// Write implements Codec. The database is built in a temporary file next to
// path and renamed over it once complete.
func (SQLite) Write(ctx context.Context, path string, st State) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create parent: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".safefs-db-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	db, err := openDB(tmpPath)
	if err != nil {
		return err
	}
	if err := writeState(ctx, db, st); err != nil {
		db.Close()
		return err
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func writeState(ctx context.Context, db *sql.DB, st State) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	meta := map[string]string{
		metaVersion:   strconv.Itoa(st.Version),
		metaSessionID: st.SessionID.String(),
		metaRoot:      st.Root,
		metaSavedAt:   st.SavedAt.Format(time.RFC3339Nano),
		metaNextID:    strconv.FormatUint(st.NextProposalID, 10),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("insert meta %s: %w", k, err)
		}
	}

	for _, n := range st.Files {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO files (path, content, checksum, mod_time, revision) VALUES (?, ?, ?, ?, ?)`,
			n.Path, nonNil(n.Content), n.Checksum.String(), n.ModTime.Format(time.RFC3339Nano), int64(n.Revision))
		if err != nil {
			return fmt.Errorf("insert file %s: %w", n.Path, err)
		}
	}

	for _, p := range st.Proposals {
		seq, err := proposal.ParseID(p.ID)
		if err != nil {
			return err
		}
		targets, err := json.Marshal(p.Targets)
		if err != nil {
			return fmt.Errorf("marshal targets %s: %w", p.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO proposals (id, seq, kind, status, created_at, updated_at, error, diff, targets)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, int64(seq), string(p.Kind), string(p.Status),
			p.CreatedAt.Format(time.RFC3339Nano), p.UpdatedAt.Format(time.RFC3339Nano),
			p.Error, p.Diff, string(targets))
		if err != nil {
			return fmt.Errorf("insert proposal %s: %w", p.ID, err)
		}
	}

	for _, b := range st.Backups {
		entries, err := json.Marshal(b.Entries)
		if err != nil {
			return fmt.Errorf("marshal backup %s: %w", b.ProposalID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO backups (proposal_id, taken_at, entries) VALUES (?, ?, ?)`,
			b.ProposalID, b.TakenAt.Format(time.RFC3339Nano), string(entries))
		if err != nil {
			return fmt.Errorf("insert backup %s: %w", b.ProposalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Read implements Codec. Structural problems in the database surface as
// *FormatError.
func (SQLite) Read(ctx context.Context, path string) (State, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return State{}, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	st, err := readState(ctx, db)
	if err != nil {
		var fe *FormatError
		if errors.As(err, &fe) {
			fe.Source = path
			return State{}, fe
		}
		return State{}, &FormatError{Source: path, Reason: err.Error()}
	}
	return st, nil
}

func readState(ctx context.Context, db *sql.DB) (State, error) {
	meta, err := readMeta(ctx, db)
	if err != nil {
		return State{}, err
	}
	raw, ok := meta[metaVersion]
	if !ok {
		return State{}, formatErr("", "missing version")
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return State{}, formatErr("", "version %q: %v", raw, err)
	}
	if err := checkVersion("", version); err != nil {
		return State{}, err
	}

	st := State{Version: version, Root: meta[metaRoot]}
	if v := meta[metaSessionID]; v != "" {
		if st.SessionID, err = uuid.Parse(v); err != nil {
			return State{}, formatErr("", "session id: %v", err)
		}
	}
	if v := meta[metaSavedAt]; v != "" {
		if st.SavedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return State{}, formatErr("", "saved_at: %v", err)
		}
	}
	if v := meta[metaNextID]; v != "" {
		if st.NextProposalID, err = strconv.ParseUint(v, 10, 64); err != nil {
			return State{}, formatErr("", "next_proposal_id: %v", err)
		}
	}

	if st.Files, err = readFiles(ctx, db); err != nil {
		return State{}, err
	}
	if st.Proposals, err = readProposals(ctx, db); err != nil {
		return State{}, err
	}
	if st.Backups, err = readBackups(ctx, db); err != nil {
		return State{}, err
	}
	return st, nil
}

func readMeta(ctx context.Context, db *sql.DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("query meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan meta: %w", err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func readFiles(ctx context.Context, db *sql.DB) ([]vfs.Node, error) {
	rows, err := db.QueryContext(ctx, `SELECT path, content, checksum, mod_time, revision FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var out []vfs.Node
	for rows.Next() {
		var (
			n        vfs.Node
			checksum string
			modTime  string
			rev      int64
		)
		if err := rows.Scan(&n.Path, &n.Content, &checksum, &modTime, &rev); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		n.Checksum = digest.Digest(checksum)
		n.Revision = uint64(rev)
		if n.ModTime, err = time.Parse(time.RFC3339Nano, modTime); err != nil {
			return nil, formatErr("", "file %s mod_time: %v", n.Path, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func readProposals(ctx context.Context, db *sql.DB) ([]proposal.Proposal, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, kind, status, created_at, updated_at, error, diff, targets FROM proposals ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}
	defer rows.Close()

	var out []proposal.Proposal
	for rows.Next() {
		var (
			p                proposal.Proposal
			kind, status     string
			created, updated string
			targets          string
		)
		if err := rows.Scan(&p.ID, &kind, &status, &created, &updated, &p.Error, &p.Diff, &targets); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		p.Kind, p.Status = proposal.Kind(kind), proposal.Status(status)
		if p.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, formatErr("", "proposal %s created_at: %v", p.ID, err)
		}
		if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return nil, formatErr("", "proposal %s updated_at: %v", p.ID, err)
		}
		if err := json.Unmarshal([]byte(targets), &p.Targets); err != nil {
			return nil, formatErr("", "proposal %s targets: %v", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func readBackups(ctx context.Context, db *sql.DB) ([]backup.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT proposal_id, taken_at, entries FROM backups ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query backups: %w", err)
	}
	defer rows.Close()

	var out []backup.Snapshot
	for rows.Next() {
		var (
			b                backup.Snapshot
			takenAt, entries string
		)
		if err := rows.Scan(&b.ProposalID, &takenAt, &entries); err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		if b.TakenAt, err = time.Parse(time.RFC3339Nano, takenAt); err != nil {
			return nil, formatErr("", "backup %s taken_at: %v", b.ProposalID, err)
		}
		if err := json.Unmarshal([]byte(entries), &b.Entries); err != nil {
			return nil, formatErr("", "backup %s entries: %v", b.ProposalID, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
