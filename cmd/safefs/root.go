package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/deepagents/safefs/internal/config"
	"github.com/deepagents/safefs/internal/formatter"
	"github.com/deepagents/safefs/internal/session"
)

var (
	// Global flags
	dryRun    bool
	verbose   bool
	debugMode bool
	output    string
	cfgFile   string
	rootDir   string
	stateFile string
	logLevel  string
	logFormat string
	mirror    bool

	// cfg is the merged configuration, loaded before every command.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "safefs",
	Short: "Sandboxed, reviewable file edits",
	Long: `safefs keeps an in-memory copy of a directory and only changes it
through proposals that are reviewed, then accepted or rejected.

Every accepted proposal is applied all-or-nothing and leaves a backup
that can restore the previous contents. The session is checkpointed to
.safefs/state.json (or a SQLite .db file) between commands.

Core Commands:
  init         Import the sandbox root into the session
  propose      Stage a write, multi-file edit, delete or replace
  proposals    List proposals
  show         Show a proposal and its diff
  accept       Apply a pending proposal
  reject       Discard a pending proposal
  restore      Undo an applied proposal from its backup
  cat, ls      Read the virtual filesystem`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&dryRun, "dry-run", false, "Run the command but do not save the session")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	pf.BoolVar(&debugMode, "debug", false, "Debug mode (same as --log-level=debug)")
	pf.StringVarP(&output, "output", "o", "", "Output format (table, json, jsonl, yaml, markdown)")
	pf.StringVar(&cfgFile, "config", "", "Config file (default: .safefs/config.yaml)")
	pf.StringVar(&rootDir, "root", "", "Sandbox root directory (default: current directory)")
	pf.StringVar(&stateFile, "state", "", "Session checkpoint file, relative to the root")
	pf.StringVar(&logLevel, "log-level", "", "Set the logging level [trace, debug, info, warn, error]")
	pf.StringVar(&logFormat, "log-format", "", "Set the logging format [text, json]")
	pf.BoolVar(&mirror, "mirror", false, "Write applied changes through to the real directory")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	if path := strings.TrimSpace(cfgFile); path != "" {
		if err := os.Setenv("SAFEFS_CONFIG", path); err != nil {
			return err
		}
	}

	overrides := &config.Config{
		Root:      rootDir,
		StateFile: stateFile,
		Output:    output,
		Verbose:   verbose || debugMode,
		LogLevel:  logLevel,
		LogFormat: logFormat,
		Mirror:    mirror,
	}
	loaded, err := config.Load(overrides)
	if err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded
	return configureLogging(cmd, cfg)
}

// configureLogging applies level and format to the standard logrus logger.
// An explicit --log-level wins over --debug and --verbose.
func configureLogging(cmd *cobra.Command, c *config.Config) error {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	if c.Verbose && !cmd.Flags().Changed("log-level") {
		lvl = logrus.DebugLevel
	}
	logrus.SetLevel(lvl)

	switch c.LogFormat {
	case "json":
		logrus.SetFormatter(new(logrus.JSONFormatter))
	case "text":
		fd := os.Stderr.Fd()
		logrus.SetFormatter(&logrus.TextFormatter{
			DisableColors: !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd),
			FullTimestamp: true,
		})
	default:
		return fmt.Errorf("unsupported log-format: %q", c.LogFormat)
	}
	return nil
}

// outputFormat returns the configured output format.
func outputFormat() formatter.Format {
	f, err := formatter.ParseFormat(cfg.Output)
	if err != nil {
		return formatter.FormatTable
	}
	return f
}

// render writes v to the command's stdout in the configured format.
func render(cmd *cobra.Command, v any) error {
	return formatter.Write(cmd.OutOrStdout(), outputFormat(), v)
}

// openSession builds a session for the configured root and restores the
// checkpoint when one exists.
func openSession(ctx context.Context) (*session.Session, error) {
	policy, err := cfg.SessionPolicy()
	if err != nil {
		return nil, err
	}
	root := cfg.Root
	if root == "" {
		root = "."
	}
	opts := []session.Option{
		session.WithPolicy(policy),
		session.WithMirror(cfg.Mirror),
		session.WithPinnedRoot(),
		session.WithLogger(logrus.StandardLogger()),
	}
	if rel, ok := stateRel(root); ok {
		opts = append(opts, session.WithReserved(rel))
	}
	s, err := session.New(root, opts...)
	if err != nil {
		return nil, err
	}

	statePath := cfg.StatePath(s.Root())
	if err := s.Load(ctx, statePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("restore session: %w", err)
	}
	return s, nil
}

// stateRel returns the checkpoint's path relative to root when the
// checkpoint lies inside it.
func stateRel(root string) (string, bool) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	rel, err := filepath.Rel(abs, cfg.StatePath(abs))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// commit checkpoints the session unless --dry-run is set.
func commit(ctx context.Context, s *session.Session) error {
	statePath := cfg.StatePath(s.Root())
	if dryRun {
		logrus.WithField("state", statePath).Info("dry-run: session not saved")
		return nil
	}
	return s.Save(ctx, statePath)
}

// withSession opens the session, runs fn and, when mutate is set, saves the
// result. The session is saved even when fn fails so that a proposal which
// failed to apply is recorded as failed.
func withSession(cmd *cobra.Command, mutate bool, fn func(ctx context.Context, s *session.Session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	err = fn(ctx, s)
	if !mutate {
		return err
	}
	return errors.Join(err, commit(ctx, s))
}
