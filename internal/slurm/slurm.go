// Package slurm submits jobs through sbatch. It renders the batch script from
// the job's command and preamble, pipes it to the configured sbatch command
// and parses the job id Slurm prints back.
package slurm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mattn/go-shellwords"
	"go.uber.org/zap"

	"github.com/kingrea/jobhelper/internal/command"
	"github.com/kingrea/jobhelper/internal/engine"
	"github.com/kingrea/jobhelper/internal/logbook"
	"github.com/kingrea/jobhelper/internal/project"
)

const (
	defaultShell         = "/bin/sh"
	defaultSbatch        = "sbatch"
	defaultRetryInterval = time.Second
)

var submittedPattern = regexp.MustCompile(`Submitted batch job (\d+)`)

// Options configures the adapter.
type Options struct {
	Shell     string
	SbatchCmd string
	// JobLogDir receives Slurm output files and saved scripts.
	JobLogDir string
	// Retries is the number of extra sbatch attempts after a failed exec.
	Retries       int
	RetryInterval time.Duration
	Registry      *command.Registry
	Jobs          command.JobLookup
	Logbook       *logbook.Logbook
	Logger        *zap.Logger
}

// Adapter implements engine.Adapter for Slurm.
type Adapter struct {
	opts Options
	argv []string
}

var _ engine.Adapter = (*Adapter)(nil)

// New validates options and parses the sbatch command line.
func New(opts Options) (*Adapter, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("slurm: command registry is required")
	}
	if strings.TrimSpace(opts.Shell) == "" {
		opts.Shell = defaultShell
	}
	if strings.TrimSpace(opts.SbatchCmd) == "" {
		opts.SbatchCmd = defaultSbatch
	}
	if opts.Retries < 0 {
		return nil, fmt.Errorf("slurm: retries must be >= 0")
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	argv, err := shellwords.Parse(opts.SbatchCmd)
	if err != nil {
		return nil, fmt.Errorf("slurm: parse sbatch command %q: %w", opts.SbatchCmd, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("slurm: sbatch command is empty")
	}
	return &Adapter{opts: opts, argv: argv}, nil
}

// Render builds the batch script for a request without submitting it.
func (a *Adapter) Render(req engine.SubmitRequest) (string, error) {
	run, err := a.opts.Registry.Script(a.opts.Jobs, req.Command, req.Config)
	if err != nil {
		return "", fmt.Errorf("slurm: job %s: %w", req.Job, err)
	}
	lines := []string{"#!" + a.opts.Shell}
	for _, d := range a.directives(req) {
		lines = append(lines, fmt.Sprintf("#SBATCH --%-19s %s", d.key, d.value))
	}
	lines = append(lines, run)
	return strings.Join(lines, "\n"), nil
}

// Submit renders the script, hands it to sbatch and returns the Slurm job id.
func (a *Adapter) Submit(ctx context.Context, req engine.SubmitRequest) (engine.Handle, error) {
	script, err := a.Render(req)
	if err != nil {
		return "", err
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.opts.RetryInterval
	bo := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(a.opts.Retries)), ctx)

	var id string
	op := func() error {
		got, err := a.sbatch(ctx, script)
		if err != nil {
			return err
		}
		id = got
		return nil
	}
	notify := func(err error, wait time.Duration) {
		a.opts.Logger.Warn("sbatch failed, retrying",
			zap.String("job", req.Job), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return "", err
	}

	path, err := a.saveScript(id, script)
	if err != nil {
		a.opts.Logger.Warn("could not save submitted script", zap.String("job", req.Job), zap.Error(err))
	}
	if err := a.opts.Logbook.Submit(req.Job, id, path); err != nil {
		a.opts.Logger.Warn("could not write cmd.log", zap.Error(err))
	}
	a.opts.Logger.Info("submitted", zap.String("job", req.Job), zap.String("handle", id))
	return engine.Handle(id), nil
}

func (a *Adapter) sbatch(ctx context.Context, script string) (string, error) {
	cmd := exec.CommandContext(ctx, a.argv[0], a.argv[1:]...)
	cmd.Stdin = strings.NewReader(script + "\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return "", backoff.Permanent(fmt.Errorf("sbatch: %w", err))
		}
		return "", fmt.Errorf("sbatch: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	match := submittedPattern.FindStringSubmatch(stdout.String())
	if match == nil {
		return "", backoff.Permanent(fmt.Errorf("sbatch: unexpected output %q", strings.TrimSpace(stdout.String())))
	}
	return match[1], nil
}

func (a *Adapter) saveScript(id, script string) (string, error) {
	if a.opts.JobLogDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(a.opts.JobLogDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(a.opts.JobLogDir, id+"_slurm.sh")
	if err := os.WriteFile(path, []byte(script+"\n"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type directive struct {
	key   string
	value string
}

// directives orders the #SBATCH lines: output, the preamble by key, the
// dependency clause and finally the job name. The job name is always the
// job's own name; a job-name or dependency preamble entry is dropped.
func (a *Adapter) directives(req engine.SubmitRequest) []directive {
	var out []directive
	set := func(key, value string) {
		for i := range out {
			if out[i].key == key {
				out[i].value = value
				return
			}
		}
		out = append(out, directive{key: key, value: value})
	}
	if a.opts.JobLogDir != "" {
		set("output", filepath.Join(a.opts.JobLogDir, "%j.out"))
	}
	keys := make([]string, 0, len(req.Preamble))
	for key := range req.Preamble {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := req.Preamble[key]
		name := strings.ReplaceAll(key, "_", "-")
		if value == nil {
			continue
		}
		if name == "dependency" || name == "job-name" {
			// Set from the graph below.
			a.opts.Logger.Debug("preamble directive dropped",
				zap.String("job", req.Job),
				zap.String("key", key),
				zap.String("value", fmt.Sprint(value)),
			)
			continue
		}
		set(name, fmt.Sprint(value))
	}
	if clause := DependencyClause(req.Dependencies); clause != "" {
		set("dependency", clause)
	}
	set("job-name", req.Job)
	return out
}

// DependencyClause renders resolved dependencies as an sbatch --dependency
// value, e.g. "afterany:12,afterok:10:11". Kinds without handles are omitted.
func DependencyClause(deps []engine.ResolvedDependency) string {
	var parts []string
	for _, kind := range project.DependencyKinds {
		seen := map[engine.Handle]struct{}{}
		var handles []string
		for _, dep := range deps {
			if dep.Kind != kind || dep.Handle == "" {
				continue
			}
			if _, ok := seen[dep.Handle]; ok {
				continue
			}
			seen[dep.Handle] = struct{}{}
			handles = append(handles, string(dep.Handle))
		}
		if len(handles) > 0 {
			parts = append(parts, string(kind)+":"+strings.Join(handles, ":"))
		}
	}
	return strings.Join(parts, ",")
}
