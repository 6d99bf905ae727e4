package graph

import (
	"container/heap"
	"fmt"

	"go.uber.org/multierr"

	"github.com/kingrea/jobhelper/internal/project"
)

// Graph is the validated, immutable dependency graph of a project. Jobs live in
// an arena in declaration order and edges are stored as arena indices.
type Graph struct {
	jobs  []project.JobDescriptor
	index map[string]int
	preds [][]int
	succs [][]int
	order []int
}

// Build validates the descriptors and constructs the graph. Duplicate names and
// unknown references are all reported together; cycle detection only runs once
// every reference resolves.
func Build(descriptors []project.JobDescriptor) (*Graph, error) {
	g := &Graph{
		jobs:  make([]project.JobDescriptor, 0, len(descriptors)),
		index: make(map[string]int, len(descriptors)),
	}
	var errs error
	reported := map[string]bool{}
	for _, desc := range descriptors {
		if _, exists := g.index[desc.Name]; exists {
			if !reported[desc.Name] {
				reported[desc.Name] = true
				errs = multierr.Append(errs, &ValidationError{Kind: KindDuplicateJobName, Job: desc.Name})
			}
			continue
		}
		g.index[desc.Name] = len(g.jobs)
		g.jobs = append(g.jobs, desc.Clone())
	}
	for _, job := range g.jobs {
		for _, dep := range job.DependencyNames() {
			if _, ok := g.index[dep]; !ok {
				errs = multierr.Append(errs, &ValidationError{Kind: KindUnknownDependency, Job: job.Name, Dependency: dep})
			}
		}
	}
	if errs != nil {
		return nil, errs
	}

	g.preds = make([][]int, len(g.jobs))
	g.succs = make([][]int, len(g.jobs))
	for idx, job := range g.jobs {
		for _, dep := range job.DependencyNames() {
			depIdx := g.index[dep]
			g.preds[idx] = append(g.preds[idx], depIdx)
			g.succs[depIdx] = append(g.succs[depIdx], idx)
		}
	}
	order, ok := g.topological()
	if !ok {
		return nil, &ValidationError{Kind: KindCycleDetected, Job: g.jobs[g.cycleStart(order)].Name, Cycle: g.findCycle(order)}
	}
	g.order = order
	return g, nil
}

// topological runs Kahn's algorithm, always emitting the earliest-declared job
// among those whose dependencies are already emitted.
func (g *Graph) topological() ([]int, bool) {
	indegree := make([]int, len(g.jobs))
	for idx := range g.jobs {
		indegree[idx] = len(g.preds[idx])
	}
	ready := &indexHeap{}
	for idx, deg := range indegree {
		if deg == 0 {
			heap.Push(ready, idx)
		}
	}
	order := make([]int, 0, len(g.jobs))
	for ready.Len() > 0 {
		idx := heap.Pop(ready).(int)
		order = append(order, idx)
		for _, succ := range g.succs[idx] {
			indegree[succ]--
			if indegree[succ] == 0 {
				heap.Push(ready, succ)
			}
		}
	}
	return order, len(order) == len(g.jobs)
}

func (g *Graph) cycleStart(emitted []int) int {
	done := make([]bool, len(g.jobs))
	for _, idx := range emitted {
		done[idx] = true
	}
	for idx := range g.jobs {
		if !done[idx] {
			return idx
		}
	}
	return 0
}

// findCycle walks dependency edges among the jobs Kahn could not emit and
// returns the first cycle it closes.
func (g *Graph) findCycle(emitted []int) []string {
	const (
		white = iota
		grey
		black
	)
	color := make([]int, len(g.jobs))
	for _, idx := range emitted {
		color[idx] = black
	}
	var stack []int
	var cycle []string
	var visit func(int) bool
	visit = func(idx int) bool {
		color[idx] = grey
		stack = append(stack, idx)
		for _, dep := range g.preds[idx] {
			switch color[dep] {
			case grey:
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				for _, s := range stack[start:] {
					cycle = append(cycle, g.jobs[s].Name)
				}
				cycle = append(cycle, g.jobs[dep].Name)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[idx] = black
		return false
	}
	for idx := range g.jobs {
		if color[idx] == white && visit(idx) {
			return cycle
		}
	}
	return nil
}

// Len returns the number of jobs.
func (g *Graph) Len() int {
	return len(g.jobs)
}

// Names returns job names in declaration order.
func (g *Graph) Names() []string {
	names := make([]string, len(g.jobs))
	for i, job := range g.jobs {
		names[i] = job.Name
	}
	return names
}

// Order returns job names in submission order.
func (g *Graph) Order() []string {
	names := make([]string, len(g.order))
	for i, idx := range g.order {
		names[i] = g.jobs[idx].Name
	}
	return names
}

// Job returns a copy of the named descriptor.
func (g *Graph) Job(name string) (project.JobDescriptor, bool) {
	idx, ok := g.index[name]
	if !ok {
		return project.JobDescriptor{}, false
	}
	return g.jobs[idx].Clone(), true
}

// Has reports whether name is a job in the graph.
func (g *Graph) Has(name string) bool {
	_, ok := g.index[name]
	return ok
}

// Dependencies returns the declared edges of a job, kinds included.
func (g *Graph) Dependencies(name string) []project.Dependency {
	idx, ok := g.index[name]
	if !ok || len(g.jobs[idx].Dependencies) == 0 {
		return nil
	}
	out := make([]project.Dependency, len(g.jobs[idx].Dependencies))
	copy(out, g.jobs[idx].Dependencies)
	return out
}

// DependencyNames returns the distinct upstream job names of a job.
func (g *Graph) DependencyNames(name string) []string {
	idx, ok := g.index[name]
	if !ok {
		return nil
	}
	return g.names(g.preds[idx])
}

// Dependents returns the jobs that directly depend on name, in declaration
// order.
func (g *Graph) Dependents(name string) []string {
	idx, ok := g.index[name]
	if !ok {
		return nil
	}
	return g.names(g.succs[idx])
}

// Descendants returns every job that transitively depends on any of the given
// jobs, excluding the given jobs themselves unless they are reachable from
// another seed. The result follows submission order.
func (g *Graph) Descendants(names ...string) []string {
	reached := make([]bool, len(g.jobs))
	var queue []int
	for _, name := range names {
		if idx, ok := g.index[name]; ok {
			queue = append(queue, idx)
		}
	}
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		for _, succ := range g.succs[idx] {
			if !reached[succ] {
				reached[succ] = true
				queue = append(queue, succ)
			}
		}
	}
	var out []string
	for _, idx := range g.order {
		if reached[idx] {
			out = append(out, g.jobs[idx].Name)
		}
	}
	return out
}

func (g *Graph) names(indices []int) []string {
	if len(indices) == 0 {
		return nil
	}
	out := make([]string, len(indices))
	for i, idx := range indices {
		out[i] = g.jobs[idx].Name
	}
	return out
}

func (g *Graph) String() string {
	return fmt.Sprintf("graph(%d jobs)", len(g.jobs))
}

type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
