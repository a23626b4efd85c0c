package main

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/deepagents/safefs/internal/formatter"
	"github.com/deepagents/safefs/internal/session"
)

var (
	catStart int
	catEnd   int

	lsAll     bool
	lsPattern string
	lsLimit   int

	treeDepth int
)

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file from the session",
	Long: `Print a file as it is in the session, which may differ from disk.
With --start or --end only that line range is printed, numbered from 1.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ranged := cmd.Flags().Changed("start") || cmd.Flags().Changed("end")
		return withSession(cmd, false, func(_ context.Context, s *session.Session) error {
			if !ranged && outputFormat() == formatter.FormatTable {
				n, err := s.ReadFile(args[0])
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(n.Content)
				return err
			}
			lines, err := s.ReadLines(args[0], catStart, catEnd)
			if err != nil {
				return err
			}
			if outputFormat() == formatter.FormatTable {
				for _, ln := range lines {
					fmt.Fprintf(cmd.OutOrStdout(), "%6d\t%s\n", ln.Number, ln.Text)
				}
				return nil
			}
			return render(cmd, lineList(lines))
		})
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls [dir]",
	Short: "List a directory in the session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		opts := session.ListOptions{Pattern: lsPattern, All: lsAll, Limit: lsLimit}
		return withSession(cmd, false, func(_ context.Context, s *session.Session) error {
			entries, err := s.ListDir(dir, opts)
			if err != nil {
				return err
			}
			if len(entries) == 0 && outputFormat() == formatter.FormatTable {
				fmt.Fprintln(cmd.OutOrStdout(), "No entries")
				return nil
			}
			return render(cmd, entryList(entries))
		})
	},
}

var treeCmd = &cobra.Command{
	Use:   "tree [dir]",
	Short: "Show the session's directory tree",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		return withSession(cmd, false, func(_ context.Context, s *session.Session) error {
			seq, err := s.Tree(dir, treeDepth)
			if err != nil {
				return err
			}
			return render(cmd, treeView(slices.Collect(seq)))
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(_ context.Context, s *session.Session) error {
			if outputFormat() == formatter.FormatTable {
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s\nRoot    %s\n\n", s.ID(), s.Root())
			}
			return render(cmd, statsView(s.Stats()))
		})
	},
}

func init() {
	rootCmd.AddCommand(catCmd, lsCmd, treeCmd, statusCmd)

	catCmd.Flags().IntVar(&catStart, "start", 0, "First line to print (1-based)")
	catCmd.Flags().IntVar(&catEnd, "end", 0, "Last line to print (0 = end of file)")

	lsCmd.Flags().BoolVarP(&lsAll, "all", "a", false, "Include dot-files")
	lsCmd.Flags().StringVar(&lsPattern, "pattern", "", "Only names matching this glob")
	lsCmd.Flags().IntVar(&lsLimit, "limit", 0, "Maximum entries (0 = no limit)")

	treeCmd.Flags().IntVar(&treeDepth, "depth", 0, "Maximum depth (0 = unlimited)")
}
