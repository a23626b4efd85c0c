package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deepagents/safefs/internal/formatter"
	"github.com/deepagents/safefs/internal/session"
)

var (
	initHidden bool
	initIgnore string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Import the sandbox root into the session",
	Long: `Read every regular file under the root into the session. Files already
in the session at the same paths are replaced. Symlinks, oversized files
and ignored directories are skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cfg.ImportOptions()
		if cmd.Flags().Changed("hidden") {
			opts.IncludeHidden = initHidden
		}
		if initIgnore != "" {
			opts.Ignore = append(opts.Ignore, strings.Split(initIgnore, ",")...)
		}
		return withSession(cmd, true, func(ctx context.Context, s *session.Session) error {
			rep, err := s.Import(ctx, opts)
			if err != nil {
				return err
			}
			if outputFormat() == formatter.FormatTable {
				if verbose {
					if err := render(cmd, importView(rep)); err != nil {
						return err
					}
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Imported %d file(s) from %s, skipped %d\n",
					len(rep.Imported), s.Root(), len(rep.Skipped))
				return err
			}
			return render(cmd, rep)
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Undo an applied proposal from its backup",
	Long: `Write back what every target of an applied proposal held before it was
applied. Files the proposal created are removed. The proposal keeps its
status; no new proposal is created.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, true, func(ctx context.Context, s *session.Session) error {
			if err := s.RestoreFromBackup(ctx, args[0]); err != nil {
				return err
			}
			return report(cmd, args[0], "Restored files from backup of "+args[0])
		})
	},
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List retained backups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(_ context.Context, s *session.Session) error {
			list := s.Backups()
			if len(list) == 0 && outputFormat() == formatter.FormatTable {
				fmt.Fprintln(cmd.OutOrStdout(), "No backups")
				return nil
			}
			return render(cmd, backupList(list))
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget settled proposals and their backups",
	Long: `Drop every applied, failed and rejected proposal together with its
backup. Pending proposals and file contents are kept.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, true, func(ctx context.Context, s *session.Session) error {
			ids, err := s.Clear(ctx)
			if err != nil {
				return err
			}
			return report(cmd, strings.Join(ids, ","), fmt.Sprintf("Cleared %d proposal(s)", len(ids)))
		})
	},
}

var saveCmd = &cobra.Command{
	Use:   "save <dest>",
	Short: "Write a checkpoint of the session",
	Long: `Write the whole session (files, proposals and backups) to dest.
A .db, .sqlite or .sqlite3 extension writes SQLite; anything else writes JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(ctx context.Context, s *session.Session) error {
			if err := s.Save(ctx, args[0]); err != nil {
				return err
			}
			return report(cmd, s.ID().String(), "Saved session to "+args[0])
		})
	},
}

var loadCmd = &cobra.Command{
	Use:   "load <src>",
	Short: "Replace the session with a checkpoint",
	Long: `Replace the whole session with the checkpoint at src. The checkpoint is
validated first; a corrupt file leaves the session untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, true, func(ctx context.Context, s *session.Session) error {
			if err := s.Load(ctx, args[0]); err != nil {
				return err
			}
			return report(cmd, s.ID().String(), "Loaded session from "+args[0])
		})
	},
}

var rootSetCmd = &cobra.Command{
	Use:   "set-root <dir>",
	Short: "Move the sandbox to another directory",
	Long: `Rebind the session to a new root directory. File contents are kept and
stay keyed by their relative paths. The checkpoint moves with the root.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, true, func(ctx context.Context, s *session.Session) error {
			if err := s.SetRoot(ctx, args[0]); err != nil {
				return err
			}
			return report(cmd, "", "Root is now "+s.Root())
		})
	},
}

func init() {
	rootCmd.AddCommand(initCmd, restoreCmd, backupsCmd, clearCmd, saveCmd, loadCmd, rootSetCmd)

	initCmd.Flags().BoolVar(&initHidden, "hidden", false, "Import dot-files and dot-directories")
	initCmd.Flags().StringVar(&initIgnore, "ignore", "", "Extra comma-separated directory names to skip")
}
