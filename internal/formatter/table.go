package formatter

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"unicode/utf8"
)

// Table formats columnar output using tabwriter. Write errors are sticky:
// the first one is kept and returned by Render.
type Table struct {
	w        *tabwriter.Writer
	headers  []string
	maxWidth map[int]int // column index -> max width in runes (0 = unlimited)
	rows     int
	err      error
}

// NewTable creates a table that writes to w with the given column headers.
func NewTable(w io.Writer, headers ...string) *Table {
	return &Table{
		w:        tabwriter.NewWriter(w, 0, 0, 2, ' ', 0),
		headers:  headers,
		maxWidth: make(map[int]int),
	}
}

// SetMaxWidth sets the maximum display width for a column (0-indexed).
// Longer values are cut and end in "...".
func (t *Table) SetMaxWidth(col, width int) *Table {
	t.maxWidth[col] = width
	return t
}

// AddRow appends a data row. Values beyond the header count are dropped and
// missing ones are left blank. The header is written before the first row.
func (t *Table) AddRow(values ...string) {
	if t.rows == 0 {
		t.writeLine(t.headers)
		rule := make([]string, len(t.headers))
		for i, h := range t.headers {
			rule[i] = strings.Repeat("-", utf8.RuneCountInString(h))
		}
		t.writeLine(rule)
	}
	t.rows++

	cells := make([]string, len(t.headers))
	for i := range cells {
		if i < len(values) {
			cells[i] = t.truncate(i, sanitizeCell(values[i]))
		}
	}
	t.writeLine(cells)
}

// Len returns the number of data rows added.
func (t *Table) Len() int {
	return t.rows
}

// Render flushes the underlying tabwriter. Call it after the last AddRow.
// A table with no rows renders nothing.
func (t *Table) Render() error {
	if t.err != nil {
		return t.err
	}
	return t.w.Flush()
}

func (t *Table) writeLine(cells []string) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintln(t.w, strings.Join(cells, "\t"))
}

func (t *Table) truncate(col int, s string) string {
	max, ok := t.maxWidth[col]
	if !ok || max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

// sanitizeCell keeps a value on one line and out of the column grid.
func sanitizeCell(s string) string {
	return strings.NewReplacer("\t", " ", "\r", " ", "\n", " ").Replace(s)
}
