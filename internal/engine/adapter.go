package engine

import (
	"context"

	"github.com/kingrea/jobhelper/internal/project"
)

// Handle is the opaque identifier a batch scheduler returns for a submission.
type Handle string

// ResolvedDependency is one upstream edge with the handle the scheduler
// assigned to it. In a dry run without a recorded handle the upstream job name
// stands in for the handle.
type ResolvedDependency struct {
	Name   string
	Kind   project.DependencyKind
	Handle Handle
}

// SubmitRequest is everything an adapter needs to submit one job.
type SubmitRequest struct {
	Job      string
	Command  string
	Config   map[string]any
	Preamble map[string]any
	// Dependencies replaces any dependency directive of the preamble.
	Dependencies []ResolvedDependency
	RunID        string
}

// Adapter submits a job to a batch scheduler. A returned error is treated as
// the job's failure reason.
type Adapter interface {
	Submit(ctx context.Context, req SubmitRequest) (Handle, error)
}

// AdapterFunc lets a plain function act as an Adapter.
type AdapterFunc func(ctx context.Context, req SubmitRequest) (Handle, error)

// Submit implements Adapter.
func (f AdapterFunc) Submit(ctx context.Context, req SubmitRequest) (Handle, error) {
	return f(ctx, req)
}
