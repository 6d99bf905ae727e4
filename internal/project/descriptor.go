package project

import (
	"fmt"
	"strings"
)

// StartJob is the sentinel dependency meaning "no upstream job". It is always
// considered complete and never becomes a graph node.
const StartJob = "START"

// DependencyKind mirrors the Slurm dependency types a job may declare.
type DependencyKind string

const (
	DependencyAfterOK    DependencyKind = "afterok"
	DependencyAfter      DependencyKind = "after"
	DependencyAfterAny   DependencyKind = "afterany"
	DependencyAfterNotOK DependencyKind = "afternotok"
)

// DependencyKinds lists the supported kinds in rendering order.
var DependencyKinds = []DependencyKind{
	DependencyAfter,
	DependencyAfterAny,
	DependencyAfterNotOK,
	DependencyAfterOK,
}

// ParseDependencyKind validates a kind name. An empty string means afterok.
func ParseDependencyKind(value string) (DependencyKind, error) {
	kind := DependencyKind(strings.ToLower(strings.TrimSpace(value)))
	if kind == "" {
		return DependencyAfterOK, nil
	}
	for _, known := range DependencyKinds {
		if kind == known {
			return kind, nil
		}
	}
	return "", fmt.Errorf("project: unknown dependency kind %q", value)
}

// Dependency is one upstream edge of a job. A job's dependencies are ordered
// as ParseDependencies emits them.
type Dependency struct {
	Name string         `json:"name" yaml:"name"`
	Kind DependencyKind `json:"kind" yaml:"kind"`
}

// JobDescriptor is the static description of one schedulable job.
type JobDescriptor struct {
	Name         string         `json:"name" yaml:"name"`
	Command      string         `json:"command" yaml:"command"`
	Config       map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Dependencies []Dependency   `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Preamble     map[string]any `json:"preamble,omitempty" yaml:"preamble,omitempty"`
}

// Clone returns a deep copy of the descriptor.
func (d JobDescriptor) Clone() JobDescriptor {
	clone := JobDescriptor{
		Name:    d.Name,
		Command: d.Command,
		Config:  CloneMap(d.Config),
	}
	if len(d.Dependencies) > 0 {
		clone.Dependencies = make([]Dependency, len(d.Dependencies))
		copy(clone.Dependencies, d.Dependencies)
	}
	clone.Preamble = CloneMap(d.Preamble)
	return clone
}

// DependencyNames returns the upstream job names in declaration order without
// repeats.
func (d JobDescriptor) DependencyNames() []string {
	if len(d.Dependencies) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(d.Dependencies))
	names := make([]string, 0, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		if _, ok := seen[dep.Name]; ok {
			continue
		}
		seen[dep.Name] = struct{}{}
		names = append(names, dep.Name)
	}
	return names
}

// Validate checks the fields that do not depend on other jobs.
func (d JobDescriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("project: job name is required")
	}
	if d.Name == StartJob {
		return fmt.Errorf("project: %s is reserved and cannot name a job", StartJob)
	}
	if strings.TrimSpace(d.Command) == "" {
		return fmt.Errorf("project: job %s: command is required", d.Name)
	}
	return nil
}

// Project is an ordered collection of job descriptors loaded from one file.
type Project struct {
	Name string          `json:"name"`
	Path string          `json:"path,omitempty"`
	Jobs []JobDescriptor `json:"jobs"`

	// Notes lists settings the loader accepted but ignored.
	Notes []string `json:"-"`
}

// Job looks up a descriptor by name. When names repeat the first one wins.
func (p *Project) Job(name string) (JobDescriptor, bool) {
	if p == nil {
		return JobDescriptor{}, false
	}
	for _, job := range p.Jobs {
		if job.Name == name {
			return job, true
		}
	}
	return JobDescriptor{}, false
}

// Names returns job names in declaration order.
func (p *Project) Names() []string {
	if p == nil {
		return nil
	}
	names := make([]string, 0, len(p.Jobs))
	for _, job := range p.Jobs {
		names = append(names, job.Name)
	}
	return names
}

// CloneMap deep-copies nested maps and slices decoded from project files.
func CloneMap(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for key, value := range values {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return CloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	default:
		return v
	}
}
