package project

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseYAMLPreservesDeclarationOrder(t *testing.T) {
	const payload = `
name: demo
jobs:
  zeta:
    command: shell
    config: {sh: "echo zeta"}
    job_preamble:
      dependency: [START]
  alpha:
    command: shell
    config: {sh: "echo alpha"}
    job_preamble:
      partition: gpu
      dependency: [zeta]
  mid:
    command: add_one
    config: {x: 1}
    slurm_config:
      dependency:
        afterany: [zeta]
        afterok: [alpha, alpha]
`
	proj, err := Parse([]byte(payload), FormatYAML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if proj.Name != "demo" {
		t.Fatalf("name = %q", proj.Name)
	}
	got := strings.Join(proj.Names(), ",")
	if got != "zeta,alpha,mid" {
		t.Fatalf("order = %s", got)
	}
	zeta, _ := proj.Job("zeta")
	if len(zeta.Dependencies) != 0 {
		t.Fatalf("START should be dropped, got %+v", zeta.Dependencies)
	}
	if zeta.Preamble != nil {
		t.Fatalf("empty preamble should be nil, got %+v", zeta.Preamble)
	}
	alpha, _ := proj.Job("alpha")
	if alpha.Preamble["partition"] != "gpu" {
		t.Fatalf("preamble lost partition: %+v", alpha.Preamble)
	}
	if _, ok := alpha.Preamble["dependency"]; ok {
		t.Fatalf("dependency key must be lifted out of the preamble")
	}
	mid, _ := proj.Job("mid")
	want := []Dependency{
		{Name: "zeta", Kind: DependencyAfterAny},
		{Name: "alpha", Kind: DependencyAfterOK},
	}
	if len(mid.Dependencies) != len(want) {
		t.Fatalf("mid deps = %+v", mid.Dependencies)
	}
	for i := range want {
		if mid.Dependencies[i] != want[i] {
			t.Fatalf("mid dep %d = %+v, want %+v", i, mid.Dependencies[i], want[i])
		}
	}
}

func TestParseJSONThroughYAMLDecoder(t *testing.T) {
	const payload = `{"jobs": {"b": {"command": "shell", "config": {"sh": "true"}}, "a": {"command": "shell", "config": {"sh": "true"}, "job_preamble": {"dependency": ["b"]}}}}`
	proj, err := Parse([]byte(payload), FormatYAML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := strings.Join(proj.Names(), ","); got != "b,a" {
		t.Fatalf("order = %s", got)
	}
}

func TestParseTOMLPreservesDeclarationOrder(t *testing.T) {
	const payload = `
[jobs.second]
command = "shell"
config = { sh = "echo 2" }

[jobs.first]
command = "shell"
config = { sh = "echo 1" }
job_preamble = { dependency = ["second"], time = "01:00:00" }
`
	proj, err := Parse([]byte(payload), FormatTOML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := strings.Join(proj.Names(), ","); got != "second,first" {
		t.Fatalf("order = %s", got)
	}
	first, _ := proj.Job("first")
	if len(first.Dependencies) != 1 || first.Dependencies[0].Name != "second" {
		t.Fatalf("deps = %+v", first.Dependencies)
	}
	if first.Preamble["time"] != "01:00:00" {
		t.Fatalf("preamble = %+v", first.Preamble)
	}
}

func TestParseDependencyMappingOrderAndSingletonNote(t *testing.T) {
	const payload = `
jobs:
  a:
    command: shell
  b:
    command: shell
  c:
    command: shell
    job_preamble:
      dependency:
        afterok: [b, a]
        singleton: true
        after: [a]
`
	proj, err := Parse([]byte(payload), FormatYAML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c, _ := proj.Job("c")
	want := []Dependency{
		{Name: "a", Kind: DependencyAfter},
		{Name: "b", Kind: DependencyAfterOK},
		{Name: "a", Kind: DependencyAfterOK},
	}
	if len(c.Dependencies) != len(want) {
		t.Fatalf("c deps = %+v", c.Dependencies)
	}
	for i := range want {
		if c.Dependencies[i] != want[i] {
			t.Fatalf("c dep %d = %+v, want %+v", i, c.Dependencies[i], want[i])
		}
	}
	if len(proj.Notes) != 1 || !strings.Contains(proj.Notes[0], "job c: dependency.singleton") {
		t.Fatalf("notes = %q", proj.Notes)
	}

	plain, err := Parse([]byte("jobs:\n  a:\n    command: shell\n    job_preamble: {dependency: [START]}\n"), FormatYAML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(plain.Notes) != 0 {
		t.Fatalf("unexpected notes %q", plain.Notes)
	}
}

func TestParseListFormKeepsDuplicateNames(t *testing.T) {
	const payload = `
jobs:
  - name: a
    command: shell
  - name: a
    command: shell
`
	proj, err := Parse([]byte(payload), FormatYAML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(proj.Jobs) != 2 {
		t.Fatalf("expected both entries so the graph can report the duplicate, got %d", len(proj.Jobs))
	}
}

func TestParseRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"empty":        "  ",
		"no jobs":      "name: x\n",
		"no command":   "jobs:\n  a:\n    config: {}\n",
		"bad kind":     "jobs:\n  a:\n    command: shell\n    job_preamble:\n      dependency: {afterwards: [b]}\n",
		"start job":    "jobs:\n  START:\n    command: shell\n",
		"both aliases": "jobs:\n  a:\n    command: shell\n    job_preamble: {}\n    slurm_config: {}\n",
	}
	for name, payload := range cases {
		if _, err := Parse([]byte(payload), FormatYAML); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadFileDefaultsNameFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(path, []byte("jobs:\n  a:\n    command: shell\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	proj, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if proj.Name != "pipeline" || proj.Path != path {
		t.Fatalf("unexpected project identity: %+v", proj)
	}
	if _, err := LoadFile(filepath.Join(dir, "pipeline.ini")); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
}

func TestDescriptorCloneIsDeep(t *testing.T) {
	desc := JobDescriptor{
		Name:     "a",
		Command:  "shell",
		Config:   map[string]any{"nested": map[string]any{"k": "v"}},
		Preamble: map[string]any{"list": []any{"x"}},
	}
	clone := desc.Clone()
	clone.Config["nested"].(map[string]any)["k"] = "changed"
	clone.Preamble["list"].([]any)[0] = "y"
	if desc.Config["nested"].(map[string]any)["k"] != "v" {
		t.Fatalf("config aliased")
	}
	if desc.Preamble["list"].([]any)[0] != "x" {
		t.Fatalf("preamble aliased")
	}
}
