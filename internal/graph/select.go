package graph

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/kingrea/jobhelper/internal/project"
)

// Selection narrows a run to a subset of jobs.
type Selection struct {
	// Patterns are glob patterns matched against job names. START selects
	// every job.
	Patterns []string
	// Following adds every transitive dependent of the matched jobs.
	Following bool
}

// SplitPatterns splits a "a;b*" style rerun list.
func SplitPatterns(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ';' || r == ','
	})
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Select resolves the selection to job names in submission order. An empty
// pattern list selects every job.
func (g *Graph) Select(sel Selection) ([]string, error) {
	if len(sel.Patterns) == 0 {
		return g.Order(), nil
	}
	matched := map[string]bool{}
	for _, pattern := range sel.Patterns {
		if pattern == project.StartJob {
			return g.Order(), nil
		}
		matcher, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("graph: invalid pattern %q: %w", pattern, err)
		}
		hits := 0
		for _, job := range g.jobs {
			if matcher.Match(job.Name) {
				matched[job.Name] = true
				hits++
			}
		}
		if hits == 0 {
			return nil, fmt.Errorf("graph: pattern %q matches no job", pattern)
		}
	}
	if sel.Following {
		seeds := make([]string, 0, len(matched))
		for name := range matched {
			seeds = append(seeds, name)
		}
		for _, name := range g.Descendants(seeds...) {
			matched[name] = true
		}
	}
	out := make([]string, 0, len(matched))
	for _, name := range g.Order() {
		if matched[name] {
			out = append(out, name)
		}
	}
	return out, nil
}
