// Package config provides configuration management for safefs.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (SAFEFS_*)
// 3. Project config (.safefs/config.yaml in cwd)
// 4. Home config (~/.safefs/config.yaml)
// 5. Defaults
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/deepagents/safefs/internal/formatter"
	"github.com/deepagents/safefs/internal/session"
	"github.com/deepagents/safefs/internal/vfs"
)

// Config holds all safefs configuration.
type Config struct {
	// Root is the sandbox root (default: current directory).
	Root string `yaml:"root" json:"root"`

	// StateFile is where the session checkpoint lives, relative to Root
	// unless absolute. A .db or .sqlite extension selects SQLite.
	StateFile string `yaml:"state_file" json:"state_file"`

	// Output controls the default output format (table, json, jsonl, yaml, markdown).
	Output string `yaml:"output" json:"output"`

	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// LogLevel and LogFormat configure logrus.
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	// Mirror writes applied changes through to the real directory.
	Mirror bool `yaml:"mirror" json:"mirror"`

	Policy PolicyConfig `yaml:"policy" json:"policy"`
	Import ImportConfig `yaml:"import" json:"import"`
}

// PolicyConfig mirrors session.Policy. Booleans are pointers so a layer can
// turn a default-on permission off.
type PolicyConfig struct {
	AllowRead  *bool `yaml:"allow_read,omitempty" json:"allow_read,omitempty"`
	AllowWrite *bool `yaml:"allow_write,omitempty" json:"allow_write,omitempty"`
	AutoApply  *bool `yaml:"auto_apply,omitempty" json:"auto_apply,omitempty"`

	// MaxFileSize accepts humanized sizes such as "10MiB" or "512 kB".
	MaxFileSize string `yaml:"max_file_size,omitempty" json:"max_file_size,omitempty"`
}

// ImportConfig controls `safefs init`.
type ImportConfig struct {
	IncludeHidden bool     `yaml:"include_hidden" json:"include_hidden"`
	Ignore        []string `yaml:"ignore" json:"ignore"`
	Concurrency   int      `yaml:"concurrency" json:"concurrency"`
}

// Default config values (used in resolution and validation).
const (
	defaultOutput      = "table"
	defaultStateFile   = ".safefs/state.json"
	defaultLogLevel    = "info"
	defaultLogFormat   = "text"
	defaultMaxFileSize = "10MiB"
)

// Default returns the default configuration.
func Default() *Config {
	on, off := true, false
	return &Config{
		Output:    defaultOutput,
		StateFile: defaultStateFile,
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
		Policy: PolicyConfig{
			AllowRead:   &on,
			AllowWrite:  &on,
			AutoApply:   &off,
			MaxFileSize: defaultMaxFileSize,
		},
		Import: ImportConfig{
			Ignore: append([]string(nil), vfs.DefaultIgnore...),
		},
	}
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults
// Missing config files are skipped; malformed ones are errors.
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	for _, path := range []string{homeConfigPath(), projectConfigPath()} {
		layer, err := loadFromPath(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if layer != nil {
			cfg = merge(cfg, layer)
		}
	}

	cfg, err := applyEnv(cfg)
	if err != nil {
		return nil, err
	}

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}
	return cfg, nil
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".safefs", "config.yaml")
}

// projectConfigPath returns the project config path.
func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("SAFEFS_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".safefs", "config.yaml")
}

// loadFromPath loads config from a YAML file.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) (*Config, error) {
	if v := os.Getenv("SAFEFS_ROOT"); v != "" {
		cfg.Root = v
	}
	if v := os.Getenv("SAFEFS_STATE_FILE"); v != "" {
		cfg.StateFile = v
	}
	if v := os.Getenv("SAFEFS_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if v := os.Getenv("SAFEFS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SAFEFS_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v, ok := getEnvBool("SAFEFS_VERBOSE"); ok && v {
		cfg.Verbose = true
	}
	if v, ok := getEnvBool("SAFEFS_MIRROR"); ok {
		cfg.Mirror = v
	}
	if v, ok := getEnvBool("SAFEFS_IMPORT_HIDDEN"); ok {
		cfg.Import.IncludeHidden = v
	}

	for key, dst := range map[string]**bool{
		"SAFEFS_ALLOW_READ":  &cfg.Policy.AllowRead,
		"SAFEFS_ALLOW_WRITE": &cfg.Policy.AllowWrite,
		"SAFEFS_AUTO_APPLY":  &cfg.Policy.AutoApply,
	} {
		if v, ok := getEnvBool(key); ok {
			*dst = &v
		}
	}
	if v := os.Getenv("SAFEFS_MAX_FILE_SIZE"); v != "" {
		if _, err := humanize.ParseBytes(v); err != nil {
			return nil, fmt.Errorf("SAFEFS_MAX_FILE_SIZE: %w", err)
		}
		cfg.Policy.MaxFileSize = v
	}
	return cfg, nil
}

// mergeStr overwrites dst with src when src is non-empty.
func mergeStr(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// mergeBool overwrites dst when src was set.
func mergeBool(dst **bool, src *bool) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// merge merges src into dst, with src values taking precedence.
// Plain booleans are OR-ed through the chain; policy booleans are pointers.
func merge(dst, src *Config) *Config {
	mergeStr(&dst.Root, src.Root)
	mergeStr(&dst.StateFile, src.StateFile)
	mergeStr(&dst.Output, src.Output)
	mergeStr(&dst.LogLevel, src.LogLevel)
	mergeStr(&dst.LogFormat, src.LogFormat)
	if src.Verbose {
		dst.Verbose = true
	}
	if src.Mirror {
		dst.Mirror = true
	}

	mergeBool(&dst.Policy.AllowRead, src.Policy.AllowRead)
	mergeBool(&dst.Policy.AllowWrite, src.Policy.AllowWrite)
	mergeBool(&dst.Policy.AutoApply, src.Policy.AutoApply)
	mergeStr(&dst.Policy.MaxFileSize, src.Policy.MaxFileSize)

	if src.Import.IncludeHidden {
		dst.Import.IncludeHidden = true
	}
	if len(src.Import.Ignore) > 0 {
		dst.Import.Ignore = append([]string(nil), src.Import.Ignore...)
	}
	if src.Import.Concurrency != 0 {
		dst.Import.Concurrency = src.Import.Concurrency
	}
	return dst
}

// SessionPolicy converts the policy section into a session.Policy.
func (c *Config) SessionPolicy() (session.Policy, error) {
	p := session.DefaultPolicy()
	if c.Policy.AllowRead != nil {
		p.AllowRead = *c.Policy.AllowRead
	}
	if c.Policy.AllowWrite != nil {
		p.AllowWrite = *c.Policy.AllowWrite
	}
	if c.Policy.AutoApply != nil {
		p.AutoApply = *c.Policy.AutoApply
	}
	if c.Policy.MaxFileSize != "" {
		n, err := humanize.ParseBytes(c.Policy.MaxFileSize)
		if err != nil {
			return session.Policy{}, fmt.Errorf("policy.max_file_size: %w", err)
		}
		p.MaxFileSize = int64(n)
	}
	return p, nil
}

// ImportOptions converts the import section for Session.Import.
func (c *Config) ImportOptions() vfs.ImportOptions {
	return vfs.ImportOptions{
		IncludeHidden: c.Import.IncludeHidden,
		Ignore:        append([]string(nil), c.Import.Ignore...),
		Concurrency:   c.Import.Concurrency,
	}
}

// StatePath returns the checkpoint path, anchored at root when relative.
func (c *Config) StatePath(root string) string {
	if c.StateFile == "" || filepath.IsAbs(c.StateFile) {
		return c.StateFile
	}
	return filepath.Join(root, c.StateFile)
}

// Validate checks enumerated values.
func (c *Config) Validate() error {
	if _, err := formatter.ParseFormat(c.Output); err != nil {
		return fmt.Errorf("invalid output: %w", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", c.LogFormat)
	}
	if _, err := c.SessionPolicy(); err != nil {
		return err
	}
	return nil
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceHome    Source = "~/.safefs/config.yaml"
	SourceProject Source = ".safefs/config.yaml"
	SourceEnv     Source = "environment"
	SourceFlag    Source = "flag"
)

// EnvVars lists every environment variable read by Load.
var EnvVars = []string{
	"SAFEFS_CONFIG",
	"SAFEFS_ROOT",
	"SAFEFS_STATE_FILE",
	"SAFEFS_OUTPUT",
	"SAFEFS_VERBOSE",
	"SAFEFS_LOG_LEVEL",
	"SAFEFS_LOG_FORMAT",
	"SAFEFS_MIRROR",
	"SAFEFS_IMPORT_HIDDEN",
	"SAFEFS_ALLOW_READ",
	"SAFEFS_ALLOW_WRITE",
	"SAFEFS_AUTO_APPLY",
	"SAFEFS_MAX_FILE_SIZE",
}

// getEnvString returns the value and whether the env var was set.
func getEnvString(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

// getEnvBool parses a boolean env var and reports whether it was set to a
// recognizable value.
func getEnvBool(key string) (bool, bool) {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return false, false
	}
	return v, true
}

// resolveStringField resolves a string through the precedence chain.
func resolveStringField(home, project, env, flag, def string) ResolvedValue {
	result := ResolvedValue{Value: def, Source: SourceDefault}
	if home != "" {
		result = ResolvedValue{Value: home, Source: SourceHome}
	}
	if project != "" {
		result = ResolvedValue{Value: project, Source: SourceProject}
	}
	if env != "" {
		result = ResolvedValue{Value: env, Source: SourceEnv}
	}
	if flag != "" {
		result = ResolvedValue{Value: flag, Source: SourceFlag}
	}
	return result
}

// resolveBoolField resolves a pointer boolean through the chain.
func resolveBoolField(home, project, env, flag *bool, def bool) ResolvedValue {
	result := ResolvedValue{Value: def, Source: SourceDefault}
	for _, layer := range []struct {
		v   *bool
		src Source
	}{{home, SourceHome}, {project, SourceProject}, {env, SourceEnv}, {flag, SourceFlag}} {
		if layer.v != nil {
			result = ResolvedValue{Value: *layer.v, Source: layer.src}
		}
	}
	return result
}

// ResolvedConfig shows config values with their sources.
type ResolvedConfig struct {
	Root        ResolvedValue `json:"root" yaml:"root"`
	StateFile   ResolvedValue `json:"state_file" yaml:"state_file"`
	Output      ResolvedValue `json:"output" yaml:"output"`
	Verbose     ResolvedValue `json:"verbose" yaml:"verbose"`
	Mirror      ResolvedValue `json:"mirror" yaml:"mirror"`
	AllowRead   ResolvedValue `json:"allow_read" yaml:"allow_read"`
	AllowWrite  ResolvedValue `json:"allow_write" yaml:"allow_write"`
	AutoApply   ResolvedValue `json:"auto_apply" yaml:"auto_apply"`
	MaxFileSize ResolvedValue `json:"max_file_size" yaml:"max_file_size"`
}

// ResolvedValue is one setting and the layer it came from.
type ResolvedValue struct {
	Value  interface{} `json:"value" yaml:"value"`
	Source Source      `json:"source" yaml:"source"`
}

// Flags carries command-line values into Resolve. Empty strings and nil
// pointers mean "not given".
type Flags struct {
	Root      string
	StateFile string
	Output    string
	Verbose   bool
	Mirror    *bool
}

// Resolve returns configuration with source tracking.
// Uses precedence chain: flags > env > project > home > defaults.
func Resolve(flags Flags) *ResolvedConfig {
	home, _ := loadFromPath(homeConfigPath())
	project, _ := loadFromPath(projectConfigPath())
	if home == nil {
		home = &Config{}
	}
	if project == nil {
		project = &Config{}
	}

	envRoot, _ := getEnvString("SAFEFS_ROOT")
	envState, _ := getEnvString("SAFEFS_STATE_FILE")
	envOutput, _ := getEnvString("SAFEFS_OUTPUT")
	envMaxSize, _ := getEnvString("SAFEFS_MAX_FILE_SIZE")

	envBool := func(key string) *bool {
		if v, ok := getEnvBool(key); ok {
			return &v
		}
		return nil
	}
	trueIf := func(b bool) *bool {
		if b {
			return &b
		}
		return nil
	}

	envVerbose, _ := getEnvBool("SAFEFS_VERBOSE")

	rc := &ResolvedConfig{
		Root:        resolveStringField(home.Root, project.Root, envRoot, flags.Root, "."),
		StateFile:   resolveStringField(home.StateFile, project.StateFile, envState, flags.StateFile, defaultStateFile),
		Output:      resolveStringField(home.Output, project.Output, envOutput, flags.Output, defaultOutput),
		MaxFileSize: resolveStringField(home.Policy.MaxFileSize, project.Policy.MaxFileSize, envMaxSize, "", defaultMaxFileSize),
		Verbose:     resolveBoolField(trueIf(home.Verbose), trueIf(project.Verbose), trueIf(envVerbose), trueIf(flags.Verbose), false),
		Mirror:      resolveBoolField(trueIf(home.Mirror), trueIf(project.Mirror), envBool("SAFEFS_MIRROR"), flags.Mirror, false),
		AllowRead:   resolveBoolField(home.Policy.AllowRead, project.Policy.AllowRead, envBool("SAFEFS_ALLOW_READ"), nil, true),
		AllowWrite:  resolveBoolField(home.Policy.AllowWrite, project.Policy.AllowWrite, envBool("SAFEFS_ALLOW_WRITE"), nil, true),
		AutoApply:   resolveBoolField(home.Policy.AutoApply, project.Policy.AutoApply, envBool("SAFEFS_AUTO_APPLY"), nil, false),
	}
	return rc
}
