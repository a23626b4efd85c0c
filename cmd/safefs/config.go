package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/deepagents/safefs/internal/config"
	"github.com/deepagents/safefs/internal/formatter"
)

var configShow bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `View safefs configuration.

Configuration priority (highest to lowest):
  1. Command-line flags
  2. Environment variables (SAFEFS_*)
  3. Project config (.safefs/config.yaml, or $SAFEFS_CONFIG)
  4. Home config (~/.safefs/config.yaml)
  5. Defaults

Environment variables:
  SAFEFS_CONFIG         - Explicit project config file path
  SAFEFS_ROOT           - Sandbox root directory
  SAFEFS_STATE_FILE     - Session checkpoint file (.json, or .db for SQLite)
  SAFEFS_OUTPUT         - Default output format (table, json, jsonl, yaml, markdown)
  SAFEFS_VERBOSE        - Enable verbose output (true/1)
  SAFEFS_LOG_LEVEL      - Log level (trace, debug, info, warn, error)
  SAFEFS_LOG_FORMAT     - Log format (text, json)
  SAFEFS_MIRROR         - Write applied changes through to disk (true/1)
  SAFEFS_IMPORT_HIDDEN  - Import dot-files on init (true/1)
  SAFEFS_ALLOW_READ     - Permit reads (default true)
  SAFEFS_ALLOW_WRITE    - Permit proposals (default true)
  SAFEFS_AUTO_APPLY     - Apply proposals as soon as they are created
  SAFEFS_MAX_FILE_SIZE  - Per-file size limit (e.g. 10MiB)

Examples:
  safefs config --show           # Show resolved configuration
  safefs config --show -o json   # Output as JSON`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().BoolVar(&configShow, "show", false, "Show resolved configuration with sources")
}

func runConfig(cmd *cobra.Command, args []string) error {
	if !configShow {
		return cmd.Help()
	}

	flags := config.Flags{Root: rootDir, StateFile: stateFile, Output: output, Verbose: verbose}
	if cmd.Flags().Changed("mirror") {
		flags.Mirror = &mirror
	}
	resolved := config.Resolve(flags)

	if f := outputFormat(); f != formatter.FormatTable {
		return formatter.Write(cmd.OutOrStdout(), f, resolved)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "safefs Configuration")
	fmt.Fprintln(w, "====================")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Config files:")
	home, _ := os.UserHomeDir()
	printConfigFile(w, "Home:   ", filepath.Join(home, ".safefs", "config.yaml"))
	project := os.Getenv("SAFEFS_CONFIG")
	if project == "" {
		cwd, _ := os.Getwd()
		project = filepath.Join(cwd, ".safefs", "config.yaml")
	}
	printConfigFile(w, "Project:", project)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Resolved values:")
	tbl := formatter.NewTable(w, "KEY", "VALUE", "SOURCE")
	for _, row := range []struct {
		key string
		v   config.ResolvedValue
	}{
		{"root", resolved.Root},
		{"state_file", resolved.StateFile},
		{"output", resolved.Output},
		{"verbose", resolved.Verbose},
		{"mirror", resolved.Mirror},
		{"policy.allow_read", resolved.AllowRead},
		{"policy.allow_write", resolved.AllowWrite},
		{"policy.auto_apply", resolved.AutoApply},
		{"policy.max_file_size", resolved.MaxFileSize},
	} {
		tbl.AddRow(row.key, fmt.Sprint(row.v.Value), string(row.v.Source))
	}
	if err := tbl.Render(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment variables (if set):")
	anySet := false
	for _, env := range config.EnvVars {
		if v := os.Getenv(env); v != "" {
			fmt.Fprintf(w, "  %s=%s\n", env, v)
			anySet = true
		}
	}
	if !anySet {
		fmt.Fprintln(w, "  (none set)")
	}
	return nil
}

func printConfigFile(w io.Writer, label, path string) {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  ✓ %s %s\n", label, path)
		return
	}
	fmt.Fprintf(w, "  ✗ %s %s (not found)\n", label, path)
}
