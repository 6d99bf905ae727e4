package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDiscoverDefaultsWhenMissing(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	dir := t.TempDir()
	cfg, err := Discover(dir)
	if err != nil {
		t.Fatalf("discover returned error: %v", err)
	}
	if cfg.Path != "" {
		t.Fatalf("expected built-in defaults, got path %s", cfg.Path)
	}
	if cfg.LogDir != filepath.Join(dir, "log") {
		t.Fatalf("log dir = %s", cfg.LogDir)
	}
	if cfg.Slurm.SbatchCmd != "sbatch" || cfg.Slurm.Shell != "/bin/sh" {
		t.Fatalf("unexpected slurm defaults: %+v", cfg.Slurm)
	}
	if cfg.Engine.Concurrency != 1 {
		t.Fatalf("concurrency = %d", cfg.Engine.Concurrency)
	}
	if cfg.LedgerPath() != filepath.Join(dir, "log", "ledger.json") {
		t.Fatalf("ledger path = %s", cfg.LedgerPath())
	}
}

func TestDiscoverWalksUpToParent(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	root := t.TempDir()
	configYAML := strings.TrimSpace(`
log_dir: output/logs
slurm:
  log_dir: output/jobs
  sbatch_cmd: python tests/fake_slurm.py client
  retries: 2
commands:
  add_one: python cli.py add_one
repo_watcher:
  watched_repos: [.]
  force_commit_repos: [/abs/repo]
engine:
  concurrency: 4
`)
	if err := os.WriteFile(filepath.Join(root, "jh_config.yaml"), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg, err := Discover(nested)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if cfg.BaseDir != root {
		t.Fatalf("base dir = %s, want %s", cfg.BaseDir, root)
	}
	if cfg.LogDir != filepath.Join(root, "output", "logs") {
		t.Fatalf("log dir not resolved: %s", cfg.LogDir)
	}
	if cfg.Slurm.LogDir != filepath.Join(root, "output", "jobs") {
		t.Fatalf("job log dir not resolved: %s", cfg.Slurm.LogDir)
	}
	if cfg.Slurm.Retries != 2 || cfg.Engine.Concurrency != 4 {
		t.Fatalf("unexpected values: %+v %+v", cfg.Slurm, cfg.Engine)
	}
	if cfg.RepoWatcher.WatchedRepos[0] != root || cfg.RepoWatcher.ForceCommitRepos[0] != "/abs/repo" {
		t.Fatalf("repos = %+v", cfg.RepoWatcher)
	}
	if got := cfg.CommandNames(); len(got) != 1 || got[0] != "add_one" {
		t.Fatalf("commands = %v", got)
	}
	if !cfg.CLI.LoggingCmd {
		t.Fatalf("logging_cmd should default to true")
	}
}

func TestDiscoverHonoursEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	configTOML := `
log_dir = "toml-logs"

[slurm]
shell = "/bin/bash"

[commands]
train = "python train.py"

[cli]
logging_cmd = false
`
	if err := os.WriteFile(path, []byte(configTOML), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, path)
	cfg, err := Discover(t.TempDir())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if cfg.Path != path {
		t.Fatalf("path = %s", cfg.Path)
	}
	if cfg.LogDir != filepath.Join(dir, "toml-logs") || cfg.Slurm.Shell != "/bin/bash" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Commands["train"] != "python train.py" {
		t.Fatalf("commands = %+v", cfg.Commands)
	}
	if cfg.CLI.LoggingCmd {
		t.Fatalf("logging_cmd should be false")
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"reserved": "commands:\n  shell: echo\n",
		"empty":    "commands:\n  train: \"\"\n",
		"retries":  "slurm:\n  retries: -1\n",
	}
	for name, payload := range cases {
		path := filepath.Join(t.TempDir(), "jh_config.yaml")
		if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestWriteDefaultScaffoldLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jh_config.yaml")
	created, err := WriteDefault(path)
	if err != nil || !created {
		t.Fatalf("write default: %v %v", created, err)
	}
	created, err = WriteDefault(path)
	if err != nil || created {
		t.Fatalf("second write should be a no-op: %v %v", created, err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("scaffold does not load: %v", err)
	}
	if cfg.Commands["add_one"] == "" {
		t.Fatalf("scaffold command missing")
	}
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	if _, err := os.Stat(cfg.RunsDir()); err != nil {
		t.Fatalf("runs dir missing: %v", err)
	}
}
