package scheduler

import (
	"fmt"
	"strings"
)

// DepState is what the engine currently knows about one dependency.
type DepState string

const (
	// DepWaiting means the dependency has not reached a terminal state yet.
	DepWaiting DepState = "waiting"
	// DepSatisfied means the dependency holds a scheduler handle, from this
	// run or a previous one.
	DepSatisfied DepState = "satisfied"
	DepFailed    DepState = "failed"
	DepSkipped   DepState = "skipped"
	// DepUnavailable means the dependency is outside the run and has never
	// been submitted.
	DepUnavailable DepState = "unavailable"
)

// Verdict is the readiness decision for a job.
type Verdict string

const (
	VerdictWait  Verdict = "wait"
	VerdictReady Verdict = "ready"
	VerdictSkip  Verdict = "skip"
)

// SkipReasonCode enumerates why a job will not be submitted.
type SkipReasonCode string

const (
	SkipReasonUpstreamFailure      SkipReasonCode = "upstream-failure"
	SkipReasonUpstreamNotSubmitted SkipReasonCode = "upstream-not-submitted"
)

// SkipReason explains a skip verdict.
type SkipReason struct {
	Reason SkipReasonCode
	Detail string
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Verdict   Verdict
	Skip      SkipReason
	BlockedBy []string
}

// Lookup reports the state of a dependency by job name.
type Lookup func(name string) DepState

// Evaluate classifies a job from the states of its dependencies. Any failed,
// skipped or unavailable dependency blocks the job for good; otherwise the job
// waits until every dependency is satisfied.
func Evaluate(deps []string, lookup Lookup) Decision {
	var failed, unavailable []string
	waiting := false
	for _, dep := range deps {
		switch lookup(dep) {
		case DepSatisfied:
		case DepFailed, DepSkipped:
			failed = append(failed, dep)
		case DepUnavailable:
			unavailable = append(unavailable, dep)
		default:
			waiting = true
		}
	}
	if len(failed) > 0 {
		blocked := append(failed, unavailable...)
		return Decision{
			Verdict:   VerdictSkip,
			Skip:      SkipReason{Reason: SkipReasonUpstreamFailure, Detail: detail("upstream failure", blocked)},
			BlockedBy: blocked,
		}
	}
	if len(unavailable) > 0 {
		return Decision{
			Verdict:   VerdictSkip,
			Skip:      SkipReason{Reason: SkipReasonUpstreamNotSubmitted, Detail: detail("upstream not submitted", unavailable)},
			BlockedBy: unavailable,
		}
	}
	if waiting {
		return Decision{Verdict: VerdictWait}
	}
	return Decision{Verdict: VerdictReady}
}

func detail(prefix string, names []string) string {
	return fmt.Sprintf("%s: %s", prefix, strings.Join(names, ", "))
}
