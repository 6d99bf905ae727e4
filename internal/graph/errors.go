package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies graph validation failures.
type ErrorKind string

const (
	KindUnknownDependency ErrorKind = "UnknownDependency"
	KindCycleDetected     ErrorKind = "CycleDetected"
	KindDuplicateJobName  ErrorKind = "DuplicateJobName"
)

var (
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrCycleDetected     = errors.New("cycle detected")
	ErrDuplicateJobName  = errors.New("duplicate job name")
)

// ValidationError reports one problem found while building a graph.
type ValidationError struct {
	Kind ErrorKind
	// Job is the job that declared the problem (or the repeated name).
	Job string
	// Dependency is the missing name for UnknownDependency.
	Dependency string
	// Cycle lists the jobs on the cycle, first job repeated at the end.
	Cycle []string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case KindUnknownDependency:
		return fmt.Sprintf("graph: job %s depends on unknown job %s", e.Job, e.Dependency)
	case KindCycleDetected:
		return fmt.Sprintf("graph: dependency cycle %s", strings.Join(e.Cycle, " -> "))
	case KindDuplicateJobName:
		return fmt.Sprintf("graph: job %s is declared more than once", e.Job)
	default:
		return fmt.Sprintf("graph: invalid job %s", e.Job)
	}
}

// Unwrap maps the error onto its sentinel so callers can use errors.Is.
func (e *ValidationError) Unwrap() error {
	switch e.Kind {
	case KindUnknownDependency:
		return ErrUnknownDependency
	case KindCycleDetected:
		return ErrCycleDetected
	case KindDuplicateJobName:
		return ErrDuplicateJobName
	default:
		return nil
	}
}
