package proposal

import (
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/deepagents/safefs/internal/vfs"
)

const devNull = "/dev/null"

// renderDiff builds a unified diff of every target against base.
func renderDiff(targets []Target, base map[string]vfs.Node) string {
	var sb strings.Builder
	for _, t := range targets {
		old, existed := base[t.Path]
		sb.WriteString(targetDiff(t, old.Content, existed))
	}
	return sb.String()
}

func targetDiff(t Target, old []byte, existed bool) string {
	from, to := "a/"+t.Path, "b/"+t.Path
	var next []byte
	switch {
	case t.Tombstone:
		to = devNull
	case !existed:
		from = devNull
		next = t.Content
	default:
		next = t.Content
	}

	if !utf8.Valid(old) || !utf8.Valid(next) {
		return "Binary files " + from + " and " + to + " differ\n"
	}

	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(old)),
		B:        difflib.SplitLines(string(next)),
		FromFile: from,
		ToFile:   to,
		Context:  3,
	}
	if !existed {
		ud.A = nil
	}
	if t.Tombstone {
		ud.B = nil
	}
	out, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return ""
	}
	return out
}
