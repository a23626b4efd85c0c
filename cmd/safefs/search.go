package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deepagents/safefs/internal/formatter"
	"github.com/deepagents/safefs/internal/search"
	"github.com/deepagents/safefs/internal/session"
)

var (
	grepInclude       string
	grepCaseSensitive bool
	grepContext       int
	grepMax           int

	findLimit int
)

var grepCmd = &cobra.Command{
	Use:   "grep <pattern> [dir]",
	Short: "Search file contents in the session",
	Long: `Search every text file below dir (default: the root) for lines matching
a regular expression. Matching is case-insensitive unless --case-sensitive.

Examples:
  safefs grep 'func \w+Handler'
  safefs grep todo src --include '*.go' -C 2`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 2 {
			dir = args[1]
		}
		q := search.Query{
			Pattern:       args[0],
			Include:       grepInclude,
			CaseSensitive: grepCaseSensitive,
			Context:       grepContext,
			MaxMatches:    grepMax,
		}
		return withSession(cmd, false, func(ctx context.Context, s *session.Session) error {
			res, err := s.Grep(ctx, dir, q)
			if err != nil {
				return err
			}
			if outputFormat() != formatter.FormatTable {
				return render(cmd, matchList(res.Matches))
			}
			return writeMatches(cmd, res)
		})
	},
}

var globCmd = &cobra.Command{
	Use:   "glob <pattern> [dir]",
	Short: "List files whose path matches a glob",
	Long: `List files below dir (default: the root) whose path relative to dir
matches pattern. "**" matches any number of directories.

Examples:
  safefs glob '**/*.go'
  safefs glob '*.{md,txt}' docs`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 2 {
			dir = args[1]
		}
		return withSession(cmd, false, func(_ context.Context, s *session.Session) error {
			paths, err := s.Glob(dir, args[0])
			if err != nil {
				return err
			}
			if outputFormat() == formatter.FormatTable {
				if len(paths) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No matches")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(paths, "\n"))
				return nil
			}
			return render(cmd, pathList(paths))
		})
	},
}

var findCmd = &cobra.Command{
	Use:   "find <words...>",
	Short: "Rank files by keyword matches",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(_ context.Context, s *session.Session) error {
			hits, err := s.FindKeywords(".", strings.Join(args, " "), findLimit)
			if err != nil {
				return err
			}
			if len(hits) == 0 && outputFormat() == formatter.FormatTable {
				fmt.Fprintln(cmd.OutOrStdout(), "No matches")
				return nil
			}
			return render(cmd, hitList(hits))
		})
	},
}

func init() {
	rootCmd.AddCommand(grepCmd, globCmd, findCmd)

	grepCmd.Flags().StringVar(&grepInclude, "include", "", "Only search files whose name matches this glob")
	grepCmd.Flags().BoolVar(&grepCaseSensitive, "case-sensitive", false, "Match case exactly")
	grepCmd.Flags().IntVarP(&grepContext, "context", "C", 0, "Lines of context around each match")
	grepCmd.Flags().IntVar(&grepMax, "max", search.DefaultMaxMatches, "Maximum matches (-1 = unlimited)")

	findCmd.Flags().IntVar(&findLimit, "limit", 10, "Maximum files (0 = all)")
}

// writeMatches prints grep-style output: path:line:text, with "-" for
// context lines and "--" between groups.
func writeMatches(cmd *cobra.Command, res search.Result) error {
	w := cmd.OutOrStdout()
	for i, m := range res.Matches {
		if len(m.Context) == 0 {
			fmt.Fprintf(w, "%s:%d:%s\n", m.Path, m.Line, m.Text)
			continue
		}
		if i > 0 {
			fmt.Fprintln(w, "--")
		}
		for _, ln := range m.Context {
			sep := "-"
			if ln.Match {
				sep = ":"
			}
			fmt.Fprintf(w, "%s%s%d%s%s\n", m.Path, sep, ln.Number, sep, ln.Text)
		}
	}
	if res.Truncated {
		fmt.Fprintf(w, "(stopped after %d matches; use --max to see more)\n", len(res.Matches))
	}
	return nil
}
