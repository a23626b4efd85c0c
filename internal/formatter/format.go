// Package formatter renders command results as tables, JSON, JSON Lines,
// YAML or markdown.
package formatter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format names an output encoding.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatJSONL    Format = "jsonl"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// Formats lists every supported format.
var Formats = []Format{FormatTable, FormatJSON, FormatJSONL, FormatYAML, FormatMarkdown}

// ErrUnsupported is returned when a value cannot be shown in the requested format.
var ErrUnsupported = errors.New("unsupported output format")

// ParseFormat validates a format name. The empty string means table.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return FormatTable, nil
	}
	for _, f := range Formats {
		if string(f) == strings.ToLower(s) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q (want %s)", ErrUnsupported, s, formatList())
}

func formatList() string {
	names := make([]string, len(Formats))
	for i, f := range Formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// Tabular values render themselves as table rows.
type Tabular interface {
	Columns() []string
	Rows() [][]string
}

// Lister values expose the items written one per line in JSON Lines output.
type Lister interface {
	Items() []any
}

// Markdowner values render themselves as a markdown document.
type Markdowner interface {
	Markdown(w io.Writer) error
}

// Write encodes v to w in format f.
func Write(w io.Writer, f Format, v any) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)

	case FormatJSONL:
		items := []any{v}
		if l, ok := v.(Lister); ok {
			items = l.Items()
		}
		return WriteJSONL(w, items)

	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()

	case FormatMarkdown:
		m, ok := v.(Markdowner)
		if !ok {
			return fmt.Errorf("%w: %s for %T", ErrUnsupported, f, v)
		}
		return m.Markdown(w)

	case FormatTable, "":
		tv, ok := v.(Tabular)
		if !ok {
			return fmt.Errorf("%w: %s for %T", ErrUnsupported, FormatTable, v)
		}
		tbl := NewTable(w, tv.Columns()...)
		for _, row := range tv.Rows() {
			tbl.AddRow(row...)
		}
		return tbl.Render()
	}
	return fmt.Errorf("%w: %q", ErrUnsupported, f)
}
