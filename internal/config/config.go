// internal/config/config.go
//
// This package finds and loads jh_config (YAML or TOML). The file's directory
// anchors every relative path it mentions, so jh behaves the same no matter
// which subdirectory it is invoked from.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath names the environment variable that pins the config file.
	EnvConfigPath = "JHCFG"

	defaultLogDir    = "log"
	defaultJobLogDir = "log/jobs"
	defaultShell     = "/bin/sh"
	defaultSbatchCmd = "sbatch"
)

// FileNames are searched, in order, in the working directory and its parents.
var FileNames = []string{"jh_config.yaml", "jh_config.yml", "jh_config.toml"}

// ReservedCommands cannot be redefined in the commands section.
var ReservedCommands = []string{"shell", "job_combo"}

const defaultConfigYAML = `# jh configuration
version: 1

# Directory for cmd.log, jh.log, the ledger and run results.
log_dir: log

slurm:
  # Slurm writes job output and jh saves submitted scripts here.
  log_dir: log/jobs
  shell: /bin/sh
  sbatch_cmd: sbatch
  # Extra attempts when sbatch cannot be executed.
  retries: 0

# Commands turn a job's config into a run script. The entry point receives
# the config as --config <base64 zlib json>; decode it with 'jh decode-config'.
# "shell" and "job_combo" are built in.
commands:
  add_one: python cli.py add_one

repo_watcher:
  watched_repos: []
  force_commit_repos: []

engine:
  # Parallel sbatch calls. 1 submits strictly in dependency order.
  concurrency: 1

cli:
  # Record every jh invocation in cmd.log.
  logging_cmd: true
`

// SlurmConfig configures the Slurm adapter.
type SlurmConfig struct {
	LogDir    string `yaml:"log_dir" toml:"log_dir"`
	Shell     string `yaml:"shell" toml:"shell"`
	SbatchCmd string `yaml:"sbatch_cmd" toml:"sbatch_cmd"`
	Retries   int    `yaml:"retries" toml:"retries"`
}

// RepoWatcherConfig lists repositories captured with every real run.
type RepoWatcherConfig struct {
	WatchedRepos     []string `yaml:"watched_repos" toml:"watched_repos"`
	ForceCommitRepos []string `yaml:"force_commit_repos" toml:"force_commit_repos"`
}

// EngineConfig tunes the submission engine.
type EngineConfig struct {
	Concurrency int    `yaml:"concurrency" toml:"concurrency"`
	Ledger      string `yaml:"ledger,omitempty" toml:"ledger"`
}

// CLIConfig controls command-line behaviour.
type CLIConfig struct {
	LoggingCmd bool `yaml:"logging_cmd" toml:"logging_cmd"`
}

// Config models jh_config.
type Config struct {
	Version     int               `yaml:"version" toml:"version"`
	LogDir      string            `yaml:"log_dir" toml:"log_dir"`
	Slurm       SlurmConfig       `yaml:"slurm" toml:"slurm"`
	Commands    map[string]string `yaml:"commands" toml:"commands"`
	RepoWatcher RepoWatcherConfig `yaml:"repo_watcher" toml:"repo_watcher"`
	Engine      EngineConfig      `yaml:"engine" toml:"engine"`
	CLI         CLIConfig         `yaml:"cli" toml:"cli"`

	// Path is the file the config came from; empty for built-in defaults.
	Path string `yaml:"-" toml:"-"`
	// BaseDir anchors relative paths.
	BaseDir string `yaml:"-" toml:"-"`
}

// Default returns the built-in configuration anchored at baseDir.
func Default(baseDir string) *Config {
	cfg := &Config{BaseDir: baseDir, CLI: CLIConfig{LoggingCmd: true}}
	cfg.applyDefaults()
	cfg.normalize()
	return cfg
}

// Discover locates the config: $JHCFG wins, then the first jh_config file in
// startDir or any parent. Without a file the defaults apply, anchored at
// startDir.
func Discover(startDir string) (*Config, error) {
	if explicit := strings.TrimSpace(os.Getenv(EnvConfigPath)); explicit != "" {
		return Load(explicit)
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", startDir, err)
	}
	for {
		for _, name := range FileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return Load(candidate)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: stat %s: %w", candidate, err)
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	abs, _ := filepath.Abs(startDir)
	return Default(abs), nil
}

// Load reads a config file. The format follows the extension.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := &Config{CLI: CLIConfig{LoggingCmd: true}}
	switch strings.ToLower(filepath.Ext(abs)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported file %s", path)
	}
	cfg.Path = abs
	cfg.BaseDir = filepath.Dir(abs)
	cfg.applyDefaults()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// WriteDefault writes the scaffold to path unless a file already exists there.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("config: ensure dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return false, fmt.Errorf("config: write %s: %w", path, err)
	}
	return true, nil
}

// EnsureDirs creates the log directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.LogDir, c.Slurm.LogDir, c.RunsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: ensure %s: %w", dir, err)
		}
	}
	return nil
}

// LedgerPath returns where the submission ledger lives.
func (c *Config) LedgerPath() string {
	if c.Engine.Ledger != "" {
		return c.Engine.Ledger
	}
	return filepath.Join(c.LogDir, "ledger.json")
}

// CmdLogPath returns the path of cmd.log.
func (c *Config) CmdLogPath() string {
	return filepath.Join(c.LogDir, "cmd.log")
}

// RunsDir holds one result file per real run.
func (c *Config) RunsDir() string {
	return filepath.Join(c.LogDir, "runs")
}

// CommandNames returns the configured command names, sorted.
func (c *Config) CommandNames() []string {
	names := make([]string, 0, len(c.Commands))
	for name := range c.Commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if strings.TrimSpace(c.LogDir) == "" {
		c.LogDir = defaultLogDir
	}
	if strings.TrimSpace(c.Slurm.LogDir) == "" {
		c.Slurm.LogDir = defaultJobLogDir
	}
	if strings.TrimSpace(c.Slurm.Shell) == "" {
		c.Slurm.Shell = defaultShell
	}
	if strings.TrimSpace(c.Slurm.SbatchCmd) == "" {
		c.Slurm.SbatchCmd = defaultSbatchCmd
	}
	if c.Engine.Concurrency <= 0 {
		c.Engine.Concurrency = 1
	}
	if c.Commands == nil {
		c.Commands = map[string]string{}
	}
}

func (c *Config) normalize() {
	c.LogDir = resolvePath(c.BaseDir, c.LogDir)
	c.Slurm.LogDir = resolvePath(c.BaseDir, c.Slurm.LogDir)
	c.Slurm.Shell = strings.TrimSpace(c.Slurm.Shell)
	c.Slurm.SbatchCmd = strings.TrimSpace(c.Slurm.SbatchCmd)
	c.Engine.Ledger = resolvePath(c.BaseDir, c.Engine.Ledger)
	for i, repo := range c.RepoWatcher.WatchedRepos {
		c.RepoWatcher.WatchedRepos[i] = resolvePath(c.BaseDir, repo)
	}
	for i, repo := range c.RepoWatcher.ForceCommitRepos {
		c.RepoWatcher.ForceCommitRepos[i] = resolvePath(c.BaseDir, repo)
	}
	for name, entry := range c.Commands {
		c.Commands[name] = strings.TrimSpace(entry)
	}
}

func (c *Config) validate() error {
	if c.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if c.Slurm.Retries < 0 {
		return fmt.Errorf("slurm.retries must be >= 0")
	}
	for name, entry := range c.Commands {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("commands: empty command name")
		}
		if contains(ReservedCommands, name) {
			return fmt.Errorf("commands[%s]: name is reserved", name)
		}
		if entry == "" {
			return fmt.Errorf("commands[%s]: entry point is required", name)
		}
	}
	return nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) || base == "" {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}
