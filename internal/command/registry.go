package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kingrea/jobhelper/internal/project"
)

// Builtin command names. Configured commands may not reuse them.
const (
	Shell    = "shell"
	JobCombo = "job_combo"
)

// maxDepth bounds job_combo nesting so a combo that includes itself fails
// instead of recursing forever.
const maxDepth = 8

// ErrUnknownCommand is returned when a job names a command nobody registered.
var ErrUnknownCommand = errors.New("command: unknown command")

// JobLookup resolves sibling jobs of the project being rendered.
type JobLookup interface {
	Job(name string) (project.JobDescriptor, bool)
}

// Builder turns a job config into the lines its batch script runs.
type Builder func(b *Build, cfg map[string]any) (string, error)

// Build carries the state of one script rendering.
type Build struct {
	Jobs     JobLookup
	registry *Registry
	depth    int
}

// Script renders a nested command within the current rendering.
func (b *Build) Script(command string, cfg map[string]any) (string, error) {
	if b.depth >= maxDepth {
		return "", fmt.Errorf("command: %s nested deeper than %d levels", command, maxDepth)
	}
	return b.registry.render(b.Jobs, command, cfg, b.depth+1)
}

// Registry maps command names to builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry returns a registry holding only the builtins.
func NewRegistry() *Registry {
	r := &Registry{builders: map[string]Builder{}}
	r.builders[Shell] = shellBuilder
	r.builders[JobCombo] = comboBuilder
	return r
}

// FromConfig registers one entry-point command per configured name.
func FromConfig(commands map[string]string) (*Registry, error) {
	r := NewRegistry()
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.Register(name, Entry(commands[name])); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register installs a builder. Returns an error if the name already exists
// or is reserved.
func (r *Registry) Register(name string, builder Builder) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("command: name is required")
	}
	if builder == nil {
		return fmt.Errorf("command: builder is required for %s", name)
	}
	if name == Shell || name == JobCombo {
		return fmt.Errorf("command: %s is reserved", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.builders[name]; exists {
		return fmt.Errorf("command: %s already registered", name)
	}
	r.builders[name] = builder
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(name string, builder Builder) {
	if err := r.Register(name, builder); err != nil {
		panic(err)
	}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// Names returns a sorted list of registered command names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Script renders the run command of a job.
func (r *Registry) Script(jobs JobLookup, command string, cfg map[string]any) (string, error) {
	return r.render(jobs, command, cfg, 0)
}

func (r *Registry) render(jobs JobLookup, command string, cfg map[string]any, depth int) (string, error) {
	r.mu.RLock()
	builder, ok := r.builders[command]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownCommand, command)
	}
	return builder(&Build{Jobs: jobs, registry: r, depth: depth}, cfg)
}

// Entry returns a builder that invokes entry with the job config packed into
// a --config argument.
func Entry(entry string) Builder {
	return func(_ *Build, cfg map[string]any) (string, error) {
		packed, err := EncodeConfig(cfg)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(entry) + " --config " + packed, nil
	}
}

func shellBuilder(_ *Build, cfg map[string]any) (string, error) {
	sh, ok := cfg["sh"].(string)
	if !ok || strings.TrimSpace(sh) == "" {
		return "", fmt.Errorf("command: shell requires a non-empty string field sh")
	}
	return sh, nil
}

func comboBuilder(b *Build, cfg map[string]any) (string, error) {
	items, ok := asList(cfg["jobs"])
	if !ok {
		return "", fmt.Errorf("command: job_combo requires a list field jobs")
	}
	lines := make([]string, 0, len(items))
	for i, item := range items {
		line, err := comboItem(b, item)
		if err != nil {
			return "", fmt.Errorf("command: job_combo item %d: %w", i, err)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func comboItem(b *Build, item any) (string, error) {
	switch v := item.(type) {
	case string:
		if b.Jobs == nil {
			return "", fmt.Errorf("job %s referenced without a project", v)
		}
		job, ok := b.Jobs.Job(v)
		if !ok {
			return "", fmt.Errorf("unknown job %s", v)
		}
		return b.Script(job.Command, job.Config)
	case map[string]any:
		if sh, ok := v["sh"]; ok {
			return shellBuilder(b, map[string]any{"sh": sh})
		}
		name, _ := v["command"].(string)
		if name == "" {
			return "", fmt.Errorf("inline job needs a command")
		}
		var cfg map[string]any
		if raw, ok := v["config"]; ok && raw != nil {
			cfg, ok = raw.(map[string]any)
			if !ok {
				return "", fmt.Errorf("inline job %s: config must be a mapping", name)
			}
		}
		return b.Script(name, cfg)
	default:
		return "", fmt.Errorf("unsupported item %T", item)
	}
}

func asList(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	default:
		return nil, false
	}
}
