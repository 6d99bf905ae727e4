// Package graph validates job descriptors and exposes the resulting dependency
// graph: a deterministic submission order, dependency and dependent lookups,
// and glob-based selection of jobs to re-run.
package graph
