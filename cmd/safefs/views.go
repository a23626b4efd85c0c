package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/deepagents/safefs/internal/backup"
	"github.com/deepagents/safefs/internal/formatter"
	"github.com/deepagents/safefs/internal/proposal"
	"github.com/deepagents/safefs/internal/search"
	"github.com/deepagents/safefs/internal/session"
	"github.com/deepagents/safefs/internal/vfs"
)

// Views adapt domain values to the formatter interfaces. JSON and YAML
// encode the underlying slice or struct directly.

type proposalList []proposal.Proposal

func (l proposalList) Columns() []string {
	return []string{"ID", "KIND", "STATUS", "TARGETS", "UPDATED", "ERROR"}
}

func (l proposalList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, p := range l {
		rows = append(rows, []string{
			p.ID,
			string(p.Kind),
			string(p.Status),
			strings.Join(p.Paths(), ", "),
			humanize.Time(p.UpdatedAt),
			p.Error,
		})
	}
	return rows
}

func (l proposalList) Items() []any { return itemsOf(l) }

// proposalView is a single proposal; the table form is a summary plus diff.
type proposalView proposal.Proposal

func (v proposalView) Markdown(w io.Writer) error {
	return formatter.ProposalMarkdown(w, proposal.Proposal(v))
}

func (v proposalView) Columns() []string {
	return []string{"PATH", "ACTION", "SIZE"}
}

func (v proposalView) Rows() [][]string {
	rows := make([][]string, 0, len(v.Targets))
	for _, t := range v.Targets {
		action, size := "write", humanize.IBytes(uint64(len(t.Content)))
		switch {
		case t.Tombstone:
			action, size = "delete", "-"
		case t.IsNew():
			action = "create"
		}
		rows = append(rows, []string{t.Path, action, size})
	}
	return rows
}

// writeSummary prints the human form used by `show` and `propose`.
func (v proposalView) writeSummary(w io.Writer, withDiff bool) error {
	if _, err := fmt.Fprintf(w, "Proposal %s (%s, %s)\n", v.ID, v.Kind, v.Status); err != nil {
		return err
	}
	if v.Error != "" {
		if _, err := fmt.Fprintf(w, "Error: %s\n", v.Error); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	if err := formatter.Write(w, formatter.FormatTable, v); err != nil {
		return err
	}
	if withDiff && v.Diff != "" {
		_, err := fmt.Fprintf(w, "\n%s", v.Diff)
		return err
	}
	return nil
}

type entryList []vfs.Entry

func (l entryList) Columns() []string {
	return []string{"NAME", "TYPE", "SIZE", "MODIFIED"}
}

func (l entryList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		if e.IsDir {
			rows = append(rows, []string{e.Name + "/", "dir", "-", "-"})
			continue
		}
		rows = append(rows, []string{e.Name, "file", humanize.IBytes(uint64(e.Size)), humanize.Time(e.ModTime)})
	}
	return rows
}

func (l entryList) Items() []any { return itemsOf(l) }

// treeView renders entries indented by depth.
type treeView []vfs.Entry

func (v treeView) Columns() []string {
	return []string{"PATH", "SIZE"}
}

func (v treeView) Rows() [][]string {
	rows := make([][]string, 0, len(v))
	for _, e := range v {
		indent := strings.Repeat("  ", max(e.Depth-1, 0))
		if e.IsDir {
			rows = append(rows, []string{indent + e.Name + "/", ""})
			continue
		}
		rows = append(rows, []string{indent + e.Name, humanize.IBytes(uint64(e.Size))})
	}
	return rows
}

func (v treeView) Items() []any { return itemsOf(v) }

type lineList []session.Line

func (l lineList) Columns() []string {
	return []string{"LINE", "TEXT"}
}

func (l lineList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, ln := range l {
		rows = append(rows, []string{strconv.Itoa(ln.Number), ln.Text})
	}
	return rows
}

func (l lineList) Items() []any { return itemsOf(l) }

type backupList []backup.Snapshot

func (l backupList) Columns() []string {
	return []string{"PROPOSAL", "TAKEN", "FILES", "PRIOR BYTES"}
}

func (l backupList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, s := range l {
		var size int
		for _, e := range s.Entries {
			size += len(e.Content)
		}
		rows = append(rows, []string{
			s.ProposalID,
			s.TakenAt.Local().Format(time.DateTime),
			strconv.Itoa(len(s.Entries)),
			humanize.IBytes(uint64(size)),
		})
	}
	return rows
}

func (l backupList) Items() []any { return itemsOf(l) }

type statsView session.Stats

func (v statsView) Columns() []string {
	return []string{"METRIC", "VALUE"}
}

func (v statsView) Rows() [][]string {
	rows := [][]string{
		{"files", humanize.Comma(int64(v.Files))},
		{"bytes", humanize.IBytes(uint64(v.Bytes))},
		{"backups", strconv.Itoa(v.Backups)},
	}
	statuses := make([]string, 0, len(v.Proposals))
	for s := range v.Proposals {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		rows = append(rows, []string{"proposals." + s, strconv.Itoa(v.Proposals[s])})
	}
	return rows
}

type importView vfs.ImportReport

func (v importView) Columns() []string {
	return []string{"PATH", "RESULT"}
}

func (v importView) Rows() [][]string {
	rows := make([][]string, 0, len(v.Imported)+len(v.Skipped))
	for _, p := range v.Imported {
		rows = append(rows, []string{p, "imported"})
	}
	for _, s := range v.Skipped {
		rows = append(rows, []string{s.Path, "skipped: " + s.Reason})
	}
	return rows
}

type matchList []search.Match

func (l matchList) Columns() []string {
	return []string{"PATH", "LINE", "TEXT"}
}

func (l matchList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, m := range l {
		rows = append(rows, []string{m.Path, strconv.Itoa(m.Line), m.Text})
	}
	return rows
}

func (l matchList) Items() []any { return itemsOf(l) }

type pathList []string

func (l pathList) Columns() []string { return []string{"PATH"} }

func (l pathList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, p := range l {
		rows = append(rows, []string{p})
	}
	return rows
}

func (l pathList) Items() []any { return itemsOf(l) }

type hitList []search.Hit

func (l hitList) Columns() []string { return []string{"PATH", "SCORE"} }

func (l hitList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, h := range l {
		rows = append(rows, []string{h.Path, strconv.Itoa(h.Score)})
	}
	return rows
}

func (l hitList) Items() []any { return itemsOf(l) }

type messageView struct {
	Message string `json:"message" yaml:"message"`
	ID      string `json:"id,omitempty" yaml:"id,omitempty"`
}

func (v messageView) Columns() []string { return []string{"RESULT"} }

func (v messageView) Rows() [][]string { return [][]string{{v.Message}} }

func (v messageView) Markdown(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s\n", v.Message)
	return err
}

func itemsOf[T any](s []T) []any {
	items := make([]any, len(s))
	for i := range s {
		items[i] = s[i]
	}
	return items
}
