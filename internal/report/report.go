// Package report prints run outcomes for the terminal and maps them to exit
// codes.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize/english"
	"github.com/fatih/color"

	"github.com/kingrea/jobhelper/internal/engine"
)

// Exit codes of jh run.
const (
	ExitOK     = 0
	ExitFailed = 1
	ExitUsage  = 2
)

// ExitCode is ExitFailed when any job failed and ExitOK otherwise. Skipped
// jobs alone do not fail a run.
func ExitCode(r engine.Report) int {
	if r.Failed() {
		return ExitFailed
	}
	return ExitOK
}

var summaryOrder = []engine.Status{
	engine.StatusSubmitted,
	engine.StatusPlanned,
	engine.StatusFailed,
	engine.StatusSkipped,
	engine.StatusPending,
}

// Printer renders reports.
type Printer struct {
	out    io.Writer
	colors map[engine.Status]*color.Color
	dim    *color.Color
}

// NewPrinter writes to out. With noColor set, no escape codes are emitted
// even on a terminal.
func NewPrinter(out io.Writer, noColor bool) *Printer {
	p := &Printer{
		out: out,
		colors: map[engine.Status]*color.Color{
			engine.StatusSubmitted: color.New(color.FgGreen),
			engine.StatusPlanned:   color.New(color.FgCyan),
			engine.StatusFailed:    color.New(color.FgRed, color.Bold),
			engine.StatusSkipped:   color.New(color.FgYellow),
			engine.StatusPending:   color.New(color.FgHiBlack),
		},
		dim: color.New(color.Faint),
	}
	if noColor {
		for _, c := range p.colors {
			c.DisableColor()
		}
		p.dim.DisableColor()
	}
	return p
}

// Print writes one line per job in submission order followed by a summary.
func (p *Printer) Print(r engine.Report) error {
	header := "run " + r.RunID
	if r.DryRun {
		header += " (dry run)"
	}
	if _, err := fmt.Fprintln(p.out, header); err != nil {
		return err
	}
	width := 0
	for _, o := range r.Outcomes {
		if len(o.Job) > width {
			width = len(o.Job)
		}
	}
	for _, o := range r.Outcomes {
		status := p.paint(o.Status, fmt.Sprintf("%-9s", o.Status))
		line := fmt.Sprintf("  %s %-*s  %s", status, width, o.Job, detail(o))
		if _, err := fmt.Fprintln(p.out, strings.TrimRight(line, " ")); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(p.out, p.summary(r))
	return err
}

func (p *Printer) paint(status engine.Status, text string) string {
	if c, ok := p.colors[status]; ok {
		return c.Sprint(text)
	}
	return text
}

func detail(o engine.Outcome) string {
	switch o.Status {
	case engine.StatusSubmitted:
		if o.Resumed {
			return string(o.Handle) + " (from ledger)"
		}
		return string(o.Handle)
	case engine.StatusPlanned:
		if len(o.Dependencies) == 0 {
			return ""
		}
		names := make([]string, len(o.Dependencies))
		for i, dep := range o.Dependencies {
			names[i] = string(dep.Kind) + ":" + string(dep.Handle)
		}
		return "after " + strings.Join(names, ",")
	default:
		return o.Reason
	}
}

func (p *Printer) summary(r engine.Report) string {
	counts := r.Counts()
	var parts []string
	for _, status := range summaryOrder {
		if n := counts[status]; n > 0 {
			parts = append(parts, p.paint(status, fmt.Sprintf("%d %s", n, status)))
		}
	}
	line := english.Plural(len(r.Outcomes), "job", "")
	if len(parts) > 0 {
		line += ": " + english.OxfordWordSeries(parts, "and")
	}
	if !r.Started.IsZero() && !r.Finished.IsZero() {
		line += p.dim.Sprintf(" in %s", r.Finished.Sub(r.Started).Round(time.Millisecond))
	}
	return line
}
