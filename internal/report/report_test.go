package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/jobhelper/internal/engine"
	"github.com/kingrea/jobhelper/internal/project"
)

func TestPrintReport(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := engine.Report{
		RunID:    "20240101T000000-abcd1234",
		Started:  start,
		Finished: start.Add(1500 * time.Millisecond),
		Outcomes: []engine.Outcome{
			{Job: "prep", Status: engine.StatusSubmitted, Handle: "11", Resumed: true},
			{Job: "train", Status: engine.StatusFailed, Reason: "sbatch: exit status 1"},
			{Job: "evaluate", Status: engine.StatusSkipped, Reason: "upstream failure: train"},
		},
	}
	var out bytes.Buffer
	require.NoError(t, NewPrinter(&out, true).Print(r))
	want := strings.Join([]string{
		"run 20240101T000000-abcd1234",
		"  submitted prep      11 (from ledger)",
		"  failed    train     sbatch: exit status 1",
		"  skipped   evaluate  upstream failure: train",
		"3 jobs: 1 submitted, 1 failed, and 1 skipped in 1.5s",
		"",
	}, "\n")
	assert.Equal(t, want, out.String())
	assert.Equal(t, ExitFailed, ExitCode(r))
}

func TestPrintDryRun(t *testing.T) {
	r := engine.Report{
		RunID:  "x",
		DryRun: true,
		Outcomes: []engine.Outcome{
			{Job: "a", Status: engine.StatusPlanned},
			{Job: "b", Status: engine.StatusPlanned, Dependencies: []engine.ResolvedDependency{
				{Name: "a", Kind: project.DependencyAfterOK, Handle: "a"},
			}},
		},
	}
	var out bytes.Buffer
	require.NoError(t, NewPrinter(&out, true).Print(r))
	assert.Contains(t, out.String(), "run x (dry run)\n")
	assert.Contains(t, out.String(), "  planned   a\n")
	assert.Contains(t, out.String(), "  planned   b  after afterok:a\n")
	assert.Contains(t, out.String(), "2 jobs: 2 planned\n")
	assert.Equal(t, ExitOK, ExitCode(r))
}

func TestSkippedAloneIsNotFailure(t *testing.T) {
	r := engine.Report{Outcomes: []engine.Outcome{{Job: "a", Status: engine.StatusSkipped}}}
	assert.Equal(t, ExitOK, ExitCode(r))
}
