package slurm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kingrea/jobhelper/internal/command"
	"github.com/kingrea/jobhelper/internal/engine"
	"github.com/kingrea/jobhelper/internal/logbook"
	"github.com/kingrea/jobhelper/internal/project"
)

const fakeSbatch = `#!/bin/sh
dir="$1"
fails="$2"
cat > "$dir/stdin.sh"
n=$(cat "$dir/count" 2>/dev/null || echo 0)
n=$((n+1))
echo "$n" > "$dir/count"
if [ "$n" -le "$fails" ]; then
  echo "sbatch: error: controller busy" >&2
  exit 1
fi
if [ "$fails" = "garbage" ]; then
  echo "nothing useful"
  exit 0
fi
echo "Submitted batch job $((4200+n))"
`

// fakeSbatchCmd writes a stand-in for sbatch that fails the first `fails`
// calls and then reports job ids 4200+n.
func fakeSbatchCmd(t *testing.T, fails string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "sbatch.sh")
	require.NoError(t, os.WriteFile(script, []byte(fakeSbatch), 0o755))
	return fmt.Sprintf("/bin/sh %s %s %s", script, dir, fails), dir
}

func newAdapter(t *testing.T, sbatch string, retries int) (*Adapter, string) {
	t.Helper()
	registry, err := command.FromConfig(map[string]string{"add_one": "python cli.py add_one"})
	require.NoError(t, err)
	logDir := t.TempDir()
	book, err := logbook.New(filepath.Join(logDir, "cmd.log"))
	require.NoError(t, err)
	a, err := New(Options{
		Shell:         "/bin/bash",
		SbatchCmd:     sbatch,
		JobLogDir:     filepath.Join(logDir, "jobs"),
		Retries:       retries,
		RetryInterval: time.Millisecond,
		Registry:      registry,
		Logbook:       book,
	})
	require.NoError(t, err)
	return a, logDir
}

func TestRenderScript(t *testing.T) {
	a, logDir := newAdapter(t, "sbatch", 0)
	core, logs := observer.New(zap.DebugLevel)
	a.opts.Logger = zap.New(core)
	script, err := a.Render(engine.SubmitRequest{
		Job:     "train",
		Command: command.Shell,
		Config:  map[string]any{"sh": "python train.py"},
		Preamble: map[string]any{
			"time":          "01:00:00",
			"cpus_per_task": 4,
			"job-name":      "ignored",
			"dependency":    "afterok:1",
		},
		Dependencies: []engine.ResolvedDependency{
			{Name: "prep", Kind: project.DependencyAfterOK, Handle: "11"},
			{Name: "fetch", Kind: project.DependencyAfterAny, Handle: "12"},
		},
	})
	require.NoError(t, err)
	want := strings.Join([]string{
		"#!/bin/bash",
		"#SBATCH --output              " + filepath.Join(logDir, "jobs", "%j.out"),
		"#SBATCH --cpus-per-task       4",
		"#SBATCH --time                01:00:00",
		"#SBATCH --dependency          afterany:12,afterok:11",
		"#SBATCH --job-name            train",
		"python train.py",
	}, "\n")
	assert.Equal(t, want, script)

	dropped := logs.FilterMessage("preamble directive dropped").All()
	require.Len(t, dropped, 2)
	fields := map[string]string{}
	for _, entry := range dropped {
		ctx := entry.ContextMap()
		assert.Equal(t, "train", ctx["job"])
		fields[ctx["key"].(string)] = ctx["value"].(string)
	}
	assert.Equal(t, map[string]string{"job-name": "ignored", "dependency": "afterok:1"}, fields)
}

func TestRenderPreambleOverridesOutput(t *testing.T) {
	a, _ := newAdapter(t, "sbatch", 0)
	script, err := a.Render(engine.SubmitRequest{
		Job:      "a",
		Command:  command.Shell,
		Config:   map[string]any{"sh": "true"},
		Preamble: map[string]any{"output": "/tmp/a.out"},
	})
	require.NoError(t, err)
	lines := strings.Split(script, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "#SBATCH --output              /tmp/a.out", lines[1])
	assert.NotContains(t, script, "--dependency")
}

func TestRenderUnknownCommand(t *testing.T) {
	a, _ := newAdapter(t, "sbatch", 0)
	_, err := a.Render(engine.SubmitRequest{Job: "a", Command: "missing"})
	assert.ErrorIs(t, err, command.ErrUnknownCommand)
}

func TestDependencyClause(t *testing.T) {
	clause := DependencyClause([]engine.ResolvedDependency{
		{Name: "a", Kind: project.DependencyAfterOK, Handle: "1"},
		{Name: "b", Kind: project.DependencyAfterOK, Handle: "2"},
		{Name: "a2", Kind: project.DependencyAfterOK, Handle: "1"},
		{Name: "c", Kind: project.DependencyAfter, Handle: "3"},
		{Name: "d", Kind: project.DependencyAfterNotOK, Handle: ""},
	})
	assert.Equal(t, "after:3,afterok:1:2", clause)
	assert.Empty(t, DependencyClause(nil))
}

func TestSubmitParsesJobIDAndSavesScript(t *testing.T) {
	sbatch, fakeDir := fakeSbatchCmd(t, "0")
	a, logDir := newAdapter(t, sbatch, 0)
	handle, err := a.Submit(context.Background(), engine.SubmitRequest{
		Job:     "train",
		Command: "add_one",
		Config:  map[string]any{"num": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, engine.Handle("4201"), handle)

	received, err := os.ReadFile(filepath.Join(fakeDir, "stdin.sh"))
	require.NoError(t, err)
	assert.Contains(t, string(received), "python cli.py add_one --config ")

	saved, err := os.ReadFile(filepath.Join(logDir, "jobs", "4201_slurm.sh"))
	require.NoError(t, err)
	assert.Equal(t, string(received), string(saved))

	cmdLog, err := os.ReadFile(filepath.Join(logDir, "cmd.log"))
	require.NoError(t, err)
	assert.Contains(t, string(cmdLog), "I-SUBMIT>> train -> 4201")
}

func TestSubmitRetriesFailedExec(t *testing.T) {
	sbatch, _ := fakeSbatchCmd(t, "2")
	a, _ := newAdapter(t, sbatch, 2)
	handle, err := a.Submit(context.Background(), engine.SubmitRequest{
		Job: "a", Command: command.Shell, Config: map[string]any{"sh": "true"},
	})
	require.NoError(t, err)
	assert.Equal(t, engine.Handle("4203"), handle)
}

func TestSubmitGivesUpAfterRetries(t *testing.T) {
	sbatch, _ := fakeSbatchCmd(t, "5")
	a, _ := newAdapter(t, sbatch, 1)
	_, err := a.Submit(context.Background(), engine.SubmitRequest{
		Job: "a", Command: command.Shell, Config: map[string]any{"sh": "true"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "controller busy")
}

func TestSubmitRejectsUnexpectedOutput(t *testing.T) {
	sbatch, fakeDir := fakeSbatchCmd(t, "garbage")
	a, _ := newAdapter(t, sbatch, 3)
	_, err := a.Submit(context.Background(), engine.SubmitRequest{
		Job: "a", Command: command.Shell, Config: map[string]any{"sh": "true"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected output")

	count, err := os.ReadFile(filepath.Join(fakeDir, "count"))
	require.NoError(t, err)
	assert.Equal(t, "1", strings.TrimSpace(string(count)), "parse failures are not retried")
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{Registry: command.NewRegistry(), SbatchCmd: `sbatch "unterminated`})
	assert.Error(t, err)

	_, err = New(Options{Registry: command.NewRegistry(), Retries: -1})
	assert.Error(t, err)
}
