package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/deepagents/safefs/internal/formatter"
	"github.com/deepagents/safefs/internal/proposal"
	"github.com/deepagents/safefs/internal/session"
)

var (
	proposeContent  string
	proposeFrom     string
	proposeManifest string
	replaceOld      string
	replaceNew      string
	replaceGlob     string
	replaceDir      string
	replaceExt      string
	replaceMaxFiles int
)

var proposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Stage a change for review",
	Long: `Create a pending proposal. Nothing in the session changes until the
proposal is accepted.

Examples:
  safefs propose write notes.txt --content "hello"
  echo hello | safefs propose write notes.txt
  safefs propose multi --manifest edits.yaml
  safefs propose delete old.txt
  safefs propose replace main.go --old foo --new bar
  safefs propose replace --glob '**/*.go' --old foo --new bar`,
}

var proposeWriteCmd = &cobra.Command{
	Use:   "write <path>",
	Short: "Propose creating or overwriting one file",
	Long: `Propose new content for one file. Content comes from --content, from
--from (a local file outside the session), or from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readContent(cmd)
		if err != nil {
			return err
		}
		return propose(cmd, func(s *session.Session) (proposal.Proposal, error) {
			return s.ProposeWrite(args[0], content)
		})
	},
}

var proposeMultiCmd = &cobra.Command{
	Use:   "multi",
	Short: "Propose an all-or-nothing edit across several files",
	Long: `Propose several writes and deletes applied together. The manifest is a
YAML (or JSON) list read from --manifest or stdin:

  - path: a.txt
    content: |
      new contents
  - path: old.txt
    delete: true`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		edits, err := readManifest(cmd)
		if err != nil {
			return err
		}
		return propose(cmd, func(s *session.Session) (proposal.Proposal, error) {
			return s.ProposeMultiEdit(edits)
		})
	},
}

var proposeDeleteCmd = &cobra.Command{
	Use:   "delete <path>",
	Short: "Propose deleting one file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return propose(cmd, func(s *session.Session) (proposal.Proposal, error) {
			return s.ProposeDelete(args[0])
		})
	},
}

var proposeReplaceCmd = &cobra.Command{
	Use:   "replace [path]",
	Short: "Propose replacing every occurrence of a string",
	Long: `Propose replacing every occurrence of --old with --new in one file, or
with --glob in every file below --dir whose relative path matches. The
multi-file form creates one all-or-nothing proposal over the files that
contain --old. Use --dry-run to preview the diff without recording it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("old") {
			return fmt.Errorf("--old is required")
		}
		if replaceGlob == "" {
			if len(args) != 1 {
				return fmt.Errorf("give a path or --glob")
			}
			return propose(cmd, func(s *session.Session) (proposal.Proposal, error) {
				return s.ProposeReplace(args[0], replaceOld, replaceNew)
			})
		}
		if len(args) != 0 {
			return fmt.Errorf("give a path or --glob, not both")
		}
		opts := session.ReplaceOptions{MaxFiles: replaceMaxFiles}
		if replaceExt != "" {
			opts.Extensions = strings.Split(replaceExt, ",")
		}
		return propose(cmd, func(s *session.Session) (proposal.Proposal, error) {
			return s.ProposeReplaceAll(replaceDir, replaceGlob, replaceOld, replaceNew, opts)
		})
	},
}

func init() {
	rootCmd.AddCommand(proposeCmd)
	proposeCmd.AddCommand(proposeWriteCmd, proposeMultiCmd, proposeDeleteCmd, proposeReplaceCmd)

	proposeWriteCmd.Flags().StringVar(&proposeContent, "content", "", "New file content")
	proposeWriteCmd.Flags().StringVar(&proposeFrom, "from", "", "Read new content from this local file")
	proposeMultiCmd.Flags().StringVar(&proposeManifest, "manifest", "", "Edit manifest file (default: stdin)")
	proposeReplaceCmd.Flags().StringVar(&replaceOld, "old", "", "Text to find")
	proposeReplaceCmd.Flags().StringVar(&replaceNew, "new", "", "Replacement text")
	proposeReplaceCmd.Flags().StringVar(&replaceGlob, "glob", "", "Replace in every file matching this glob")
	proposeReplaceCmd.Flags().StringVar(&replaceDir, "dir", ".", "Directory the glob is relative to")
	proposeReplaceCmd.Flags().StringVar(&replaceExt, "ext", "", "Comma-separated extensions to keep (e.g. go,md)")
	proposeReplaceCmd.Flags().IntVar(&replaceMaxFiles, "max-files", session.DefaultReplaceMaxFiles, "Maximum files to change")
}

// propose runs create inside a saved session and prints the new proposal.
// With auto_apply the returned proposal is already applied.
func propose(cmd *cobra.Command, create func(*session.Session) (proposal.Proposal, error)) error {
	return withSession(cmd, true, func(_ context.Context, s *session.Session) error {
		p, err := create(s)
		if err != nil {
			return err
		}
		if outputFormat() == formatter.FormatTable {
			return proposalView(p).writeSummary(cmd.OutOrStdout(), true)
		}
		return render(cmd, proposalView(p))
	})
}

func readContent(cmd *cobra.Command) ([]byte, error) {
	switch {
	case cmd.Flags().Changed("content") && proposeFrom != "":
		return nil, fmt.Errorf("--content and --from are mutually exclusive")
	case cmd.Flags().Changed("content"):
		return []byte(proposeContent), nil
	case proposeFrom != "":
		data, err := os.ReadFile(proposeFrom)
		if err != nil {
			return nil, fmt.Errorf("read --from: %w", err)
		}
		return data, nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return data, nil
}

// manifestEdit is one entry of a `propose multi` manifest.
type manifestEdit struct {
	Path    string `yaml:"path"`
	Content string `yaml:"content"`
	Delete  bool   `yaml:"delete"`
}

func readManifest(cmd *cobra.Command) ([]session.Edit, error) {
	var (
		data []byte
		err  error
	)
	if proposeManifest != "" {
		data, err = os.ReadFile(proposeManifest)
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var entries []manifestEdit
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	edits := make([]session.Edit, 0, len(entries))
	for i, e := range entries {
		if e.Path == "" {
			return nil, fmt.Errorf("manifest entry %d: missing path", i+1)
		}
		edit := session.Edit{Path: e.Path, Delete: e.Delete}
		if !e.Delete {
			edit.Content = []byte(e.Content)
		}
		edits = append(edits, edit)
	}
	return edits, nil
}
