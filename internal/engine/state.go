package engine

import (
	"time"
)

// Status is a job's state as seen by one run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	// StatusPlanned is the dry-run stand-in for StatusSubmitted.
	StatusPlanned Status = "planned"

	statusInFlight Status = "in-flight"
)

// Outcome is the final state of one job in a run.
type Outcome struct {
	Job       string   `json:"job"`
	Status    Status   `json:"status"`
	Handle    Handle   `json:"handle,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	BlockedBy []string `json:"blocked_by,omitempty"`
	// Resumed marks jobs satisfied by a previous run's ledger entry.
	Resumed      bool                 `json:"resumed,omitempty"`
	Dependencies []ResolvedDependency `json:"dependencies,omitempty"`
}

// Report summarizes a run.
type Report struct {
	RunID    string    `json:"run_id"`
	DryRun   bool      `json:"dry_run"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	// Order is the submission order of the jobs in scope.
	Order    []string  `json:"order"`
	Outcomes []Outcome `json:"outcomes"`
}

// Failed reports whether any job ended Failed.
func (r Report) Failed() bool {
	for _, outcome := range r.Outcomes {
		if outcome.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Outcome returns the outcome for job.
func (r Report) Outcome(job string) (Outcome, bool) {
	for _, outcome := range r.Outcomes {
		if outcome.Job == job {
			return outcome, true
		}
	}
	return Outcome{}, false
}

// Counts tallies outcomes by status.
func (r Report) Counts() map[Status]int {
	counts := make(map[Status]int, 5)
	for _, outcome := range r.Outcomes {
		counts[outcome.Status]++
	}
	return counts
}

// Handles maps each submitted job to its handle.
func (r Report) Handles() map[string]Handle {
	out := map[string]Handle{}
	for _, outcome := range r.Outcomes {
		if outcome.Status == StatusSubmitted {
			out[outcome.Job] = outcome.Handle
		}
	}
	return out
}

// jobState is the dispatcher's private bookkeeping for one job.
type jobState struct {
	status    Status
	handle    Handle
	reason    string
	blockedBy []string
	resumed   bool
	deps      []ResolvedDependency
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
