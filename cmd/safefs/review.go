package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deepagents/safefs/internal/formatter"
	"github.com/deepagents/safefs/internal/proposal"
	"github.com/deepagents/safefs/internal/session"
)

var (
	proposalsStatus string
	showNoDiff      bool
)

var proposalsCmd = &cobra.Command{
	Use:     "proposals",
	Aliases: []string{"ps"},
	Short:   "List proposals",
	Long: `List proposals in id order.

Examples:
  safefs proposals
  safefs proposals --status pending
  safefs proposals -o jsonl`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := proposal.ListOptions{Status: proposal.Status(proposalsStatus)}
		if proposalsStatus != "" && !filter.Status.Valid() {
			return fmt.Errorf("unknown status %q", proposalsStatus)
		}
		return withSession(cmd, false, func(_ context.Context, s *session.Session) error {
			list := s.Proposals(filter)
			if len(list) == 0 && outputFormat() == formatter.FormatTable {
				fmt.Fprintln(cmd.OutOrStdout(), "No proposals found")
				return nil
			}
			return render(cmd, proposalList(list))
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a proposal and its diff",
	Long: `Show one proposal with its targets and diff preview.
Use -o markdown for a review document.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(_ context.Context, s *session.Session) error {
			p, err := s.Proposal(args[0])
			if err != nil {
				return err
			}
			if outputFormat() == formatter.FormatTable {
				return proposalView(p).writeSummary(cmd.OutOrStdout(), !showNoDiff)
			}
			return render(cmd, proposalView(p))
		})
	},
}

var acceptCmd = &cobra.Command{
	Use:   "accept <id>",
	Short: "Apply a pending proposal",
	Long: `Apply every target of a pending proposal, all or nothing. If any target
changed since the proposal was created the proposal fails with a conflict
and nothing is written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, true, func(ctx context.Context, s *session.Session) error {
			p, err := s.Accept(ctx, args[0])
			if err != nil {
				return err
			}
			return report(cmd, p.ID, fmt.Sprintf("Applied %s (%d file(s))", p.ID, len(p.Targets)))
		})
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Discard a pending proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, true, func(_ context.Context, s *session.Session) error {
			p, err := s.Reject(args[0])
			if err != nil {
				return err
			}
			return report(cmd, p.ID, "Rejected "+p.ID)
		})
	},
}

func init() {
	rootCmd.AddCommand(proposalsCmd, showCmd, acceptCmd, rejectCmd)
	proposalsCmd.Flags().StringVar(&proposalsStatus, "status", "", "Filter by status (pending, applied, failed, rejected)")
	showCmd.Flags().BoolVar(&showNoDiff, "no-diff", false, "Omit the diff from table output")
}

// report prints a one-line result, or a small document for structured formats.
func report(cmd *cobra.Command, id, msg string) error {
	if outputFormat() == formatter.FormatTable {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), msg)
		return err
	}
	return render(cmd, messageView{Message: msg, ID: id})
}
