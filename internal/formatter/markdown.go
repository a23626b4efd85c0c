package formatter

import (
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/deepagents/safefs/internal/proposal"
)

// ProposalMarkdown writes a review document for p: frontmatter, a target
// table and the diff preview.
func ProposalMarkdown(w io.Writer, p proposal.Proposal) error {
	tmpl, err := template.New("proposal").Funcs(markdownFuncs()).Parse(proposalTemplate)
	if err != nil {
		return fmt.Errorf("parse template: %w", err)
	}
	return tmpl.Execute(w, p)
}

func markdownFuncs() template.FuncMap {
	return template.FuncMap{
		"ts": func(t time.Time) string {
			return t.UTC().Format(time.RFC3339)
		},
		"action": targetAction,
		"size": func(t proposal.Target) string {
			if t.Tombstone {
				return "-"
			}
			return humanize.IBytes(uint64(len(t.Content)))
		},
		"base": func(t proposal.Target) string {
			if t.IsNew() {
				return "-"
			}
			return "`" + shortDigest(t.BaseChecksum.Encoded()) + "`"
		},
		"fence": fence,
	}
}

func targetAction(t proposal.Target) string {
	switch {
	case t.Tombstone:
		return "delete"
	case t.IsNew():
		return "create"
	default:
		return "modify"
	}
}

func shortDigest(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// fence returns a backtick run longer than any inside s.
func fence(s string) string {
	longest, run := 0, 0
	for _, r := range s {
		if r == '`' {
			run++
			if run > longest {
				longest = run
			}
			continue
		}
		run = 0
	}
	if longest < 3 {
		return "```"
	}
	return strings.Repeat("`", longest+1)
}

const proposalTemplate = `---
id: {{ .ID }}
kind: {{ .Kind }}
status: {{ .Status }}
created: {{ ts .CreatedAt }}
updated: {{ ts .UpdatedAt }}
---

# Proposal {{ .ID }}

**Kind:** {{ .Kind }}
**Status:** {{ .Status }}
{{- if .Error }}
**Error:** {{ .Error }}
{{- end }}

## Targets

| Path | Action | Size | Base |
|------|--------|------|------|
{{- range .Targets }}
| ` + "`{{ .Path }}`" + ` | {{ action . }} | {{ size . }} | {{ base . }} |
{{- end }}
{{- if .Diff }}
{{ $f := fence .Diff }}
## Diff

{{ $f }}diff
{{ .Diff }}{{ $f }}
{{- end }}
`
