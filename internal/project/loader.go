package project

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format identifies a project document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatForPath picks a decoder from the file extension. JSON is a YAML subset
// and goes through the YAML decoder.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("project: unsupported file extension %q", filepath.Ext(path))
	}
}

type rawJob struct {
	Name        string         `yaml:"name" toml:"name"`
	Command     string         `yaml:"command" toml:"command"`
	Config      map[string]any `yaml:"config" toml:"config"`
	JobPreamble map[string]any `yaml:"job_preamble" toml:"job_preamble"`
	SlurmConfig map[string]any `yaml:"slurm_config" toml:"slurm_config"`
}

// Parse decodes a project document. Job declaration order is preserved for
// every format because it drives the topological tie-break.
func Parse(data []byte, format Format) (*Project, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("project: document is empty")
	}
	switch format {
	case FormatYAML:
		return parseYAML(data)
	case FormatTOML:
		return parseTOML(data)
	default:
		return nil, fmt.Errorf("project: unsupported format %q", format)
	}
}

// LoadReader reads a project document from r.
func LoadReader(r io.Reader, format Format) (*Project, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("project: read document: %w", err)
	}
	return Parse(content, format)
}

// LoadFile loads a project document from disk.
func LoadFile(path string) (*Project, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("project: read %s: %w", path, err)
	}
	proj, err := Parse(content, format)
	if err != nil {
		return nil, fmt.Errorf("project: %s: %w", path, err)
	}
	proj.Path = path
	if proj.Name == "" {
		proj.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return proj, nil
}

func parseYAML(data []byte) (*Project, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("document has no content")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("top level must be a mapping")
	}
	proj := &Project{}
	var jobsNode *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		switch root.Content[i].Value {
		case "name":
			proj.Name = strings.TrimSpace(root.Content[i+1].Value)
		case "jobs":
			jobsNode = root.Content[i+1]
		}
	}
	if jobsNode == nil {
		return nil, fmt.Errorf("jobs section is required")
	}
	switch jobsNode.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(jobsNode.Content); i += 2 {
			name := jobsNode.Content[i].Value
			var raw rawJob
			if err := jobsNode.Content[i+1].Decode(&raw); err != nil {
				return nil, fmt.Errorf("job %s: %w", name, err)
			}
			raw.Name = name
			desc, notes, err := raw.descriptor()
			if err != nil {
				return nil, err
			}
			proj.Jobs = append(proj.Jobs, desc)
			proj.Notes = append(proj.Notes, notes...)
		}
	case yaml.SequenceNode:
		for idx, item := range jobsNode.Content {
			var raw rawJob
			if err := item.Decode(&raw); err != nil {
				return nil, fmt.Errorf("jobs[%d]: %w", idx, err)
			}
			desc, notes, err := raw.descriptor()
			if err != nil {
				return nil, fmt.Errorf("jobs[%d]: %w", idx, err)
			}
			proj.Jobs = append(proj.Jobs, desc)
			proj.Notes = append(proj.Notes, notes...)
		}
	default:
		return nil, fmt.Errorf("jobs must be a mapping or a list")
	}
	if len(proj.Jobs) == 0 {
		return nil, fmt.Errorf("at least one job is required")
	}
	return proj, nil
}

func parseTOML(data []byte) (*Project, error) {
	var doc struct {
		Name string            `toml:"name"`
		Jobs map[string]rawJob `toml:"jobs"`
	}
	meta, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	proj := &Project{Name: strings.TrimSpace(doc.Name)}
	for _, key := range meta.Keys() {
		if len(key) != 2 || key[0] != "jobs" {
			continue
		}
		raw, ok := doc.Jobs[key[1]]
		if !ok {
			continue
		}
		raw.Name = key[1]
		desc, notes, err := raw.descriptor()
		if err != nil {
			return nil, err
		}
		proj.Jobs = append(proj.Jobs, desc)
		proj.Notes = append(proj.Notes, notes...)
	}
	if len(proj.Jobs) == 0 {
		return nil, fmt.Errorf("at least one job is required")
	}
	return proj, nil
}

// descriptor converts a decoded job. The returned notes name settings that
// were accepted but have no effect.
func (raw rawJob) descriptor() (JobDescriptor, []string, error) {
	if raw.JobPreamble != nil && raw.SlurmConfig != nil {
		return JobDescriptor{}, nil, fmt.Errorf("job %s: job_preamble and slurm_config are aliases, set only one", raw.Name)
	}
	preamble := CloneMap(raw.JobPreamble)
	if preamble == nil {
		preamble = CloneMap(raw.SlurmConfig)
	}
	var depValue any
	if preamble != nil {
		depValue = preamble["dependency"]
		delete(preamble, "dependency")
		if len(preamble) == 0 {
			preamble = nil
		}
	}
	deps, err := ParseDependencies(depValue)
	if err != nil {
		return JobDescriptor{}, nil, fmt.Errorf("job %s: %w", raw.Name, err)
	}
	var notes []string
	if m, ok := depValue.(map[string]any); ok {
		if _, ok := m[singletonKey]; ok {
			notes = append(notes, fmt.Sprintf("job %s: dependency.%s is not supported and was ignored", raw.Name, singletonKey))
		}
	}
	desc := JobDescriptor{
		Name:         strings.TrimSpace(raw.Name),
		Command:      strings.TrimSpace(raw.Command),
		Config:       raw.Config,
		Dependencies: deps,
		Preamble:     preamble,
	}
	if err := desc.Validate(); err != nil {
		return JobDescriptor{}, nil, err
	}
	return desc, notes, nil
}

// singletonKey is accepted in dependency mappings for compatibility with older
// projects. It has no effect.
const singletonKey = "singleton"

// ParseDependencies accepts a single name, a list of names (afterok) or a map
// from dependency kind to names. START entries are dropped and repeated
// (name, kind) pairs collapse to one.
//
// List entries keep their order. A mapping is emitted kind by kind in
// DependencyKinds order, names within a kind in list order; mapping key order
// is not kept. The singleton key is skipped.
func ParseDependencies(value any) ([]Dependency, error) {
	var deps []Dependency
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string, []any, []string:
		names, err := dependencyNames(v)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			deps = append(deps, Dependency{Name: name, Kind: DependencyAfterOK})
		}
	case map[string]any:
		for key := range v {
			if key == singletonKey {
				continue
			}
			if _, err := ParseDependencyKind(key); err != nil {
				return nil, err
			}
		}
		for _, kind := range DependencyKinds {
			raw, ok := v[string(kind)]
			if !ok {
				continue
			}
			names, err := dependencyNames(raw)
			if err != nil {
				return nil, fmt.Errorf("dependency %s: %w", kind, err)
			}
			for _, name := range names {
				deps = append(deps, Dependency{Name: name, Kind: kind})
			}
		}
	default:
		return nil, fmt.Errorf("dependency must be a list or a mapping, got %T", value)
	}
	return normalizeDependencies(deps), nil
}

func dependencyNames(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{strings.TrimSpace(v)}, nil
	case []string:
		out := make([]string, 0, len(v))
		for _, name := range v {
			out = append(out, strings.TrimSpace(name))
		}
		return out, nil
	case []any:
		out := make([]string, 0, len(v))
		for idx, item := range v {
			name, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("entry %d must be a job name, got %T", idx, item)
			}
			out = append(out, strings.TrimSpace(name))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list of job names, got %T", value)
	}
}

func normalizeDependencies(deps []Dependency) []Dependency {
	if len(deps) == 0 {
		return nil
	}
	seen := make(map[Dependency]struct{}, len(deps))
	out := make([]Dependency, 0, len(deps))
	for _, dep := range deps {
		if dep.Name == "" || dep.Name == StartJob {
			continue
		}
		if _, ok := seen[dep]; ok {
			continue
		}
		seen[dep] = struct{}{}
		out = append(out, dep)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
