package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/jobhelper/internal/graph"
	"github.com/kingrea/jobhelper/internal/ledger"
	"github.com/kingrea/jobhelper/internal/project"
	"github.com/kingrea/jobhelper/internal/scheduler"
)

// Engine walks a dependency graph and submits each job through an adapter,
// recording every outcome in the ledger.
type Engine struct {
	adapter     Adapter
	ledger      *ledger.Ledger
	clock       func() time.Time
	logger      *zap.Logger
	concurrency int
	onPlan      func(SubmitRequest)
	runID       func(time.Time) string
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithConcurrency caps how many adapter calls may be in flight. Values below
// one mean strictly sequential submission in topological order.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n < 1 {
			n = 1
		}
		e.concurrency = n
	}
}

// WithPlanHook receives every request a dry run would have submitted.
func WithPlanHook(hook func(SubmitRequest)) Option {
	return func(e *Engine) {
		e.onPlan = hook
	}
}

// WithRunID overrides run identifier generation.
func WithRunID(fn func(time.Time) string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.runID = fn
		}
	}
}

// New wires an engine to a scheduler adapter and a ledger.
func New(adapter Adapter, l *ledger.Ledger, opts ...Option) (*Engine, error) {
	if adapter == nil {
		return nil, fmt.Errorf("engine: scheduler adapter is required")
	}
	if l == nil {
		return nil, fmt.Errorf("engine: ledger is required")
	}
	engine := &Engine{
		adapter:     adapter,
		ledger:      l,
		clock:       time.Now,
		logger:      zap.NewNop(),
		concurrency: 1,
		runID:       generateRunID,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// Request scopes a run.
type Request struct {
	// Targets restricts the run to these jobs. Empty means every job.
	Targets []string
	// Force resubmits targets even when the ledger already holds a handle.
	Force bool
	// DryRun walks the graph without calling the adapter or touching the
	// ledger.
	DryRun bool
}

type submitResult struct {
	job    string
	handle Handle
	err    error
}

type run struct {
	engine   *Engine
	graph    *graph.Graph
	req      Request
	runID    string
	order    []string
	states   map[string]*jobState
	group    errgroup.Group
	results  chan submitResult
	inflight int
	fatal    error
}

// Run submits the jobs of g in dependency order. The returned report is
// complete even when an error is returned: a cancelled context leaves
// unattempted jobs pending and unrecorded, and a ledger write failure stops
// the run after in-flight submissions return.
func (e *Engine) Run(ctx context.Context, g *graph.Graph, req Request) (Report, error) {
	if g == nil {
		return Report{}, fmt.Errorf("engine: graph is required")
	}
	started := e.now()
	r := &run{
		engine: e,
		graph:  g,
		req:    req,
		runID:  e.runID(started),
		states: map[string]*jobState{},
	}
	if err := r.init(); err != nil {
		return Report{}, err
	}
	r.results = make(chan submitResult, len(r.order))
	e.logger.Info("run started",
		zap.String("run_id", r.runID),
		zap.Int("jobs", len(r.order)),
		zap.Bool("dry_run", req.DryRun),
		zap.Int("concurrency", e.concurrency),
	)

	for {
		if r.fatal == nil && ctx.Err() == nil {
			r.dispatch(ctx)
		}
		if r.inflight == 0 {
			break
		}
		res := <-r.results
		r.inflight--
		r.complete(res)
	}
	_ = r.group.Wait()

	report := r.report(started, e.now())
	if r.fatal != nil {
		e.logger.Error("run aborted", zap.String("run_id", r.runID), zap.Error(r.fatal))
		return report, r.fatal
	}
	if err := ctx.Err(); err != nil {
		e.logger.Warn("run cancelled", zap.String("run_id", r.runID), zap.Error(err))
		return report, err
	}
	e.logger.Info("run finished", zap.String("run_id", r.runID), zap.Bool("failed", report.Failed()))
	return report, nil
}

func (r *run) init() error {
	inScope := map[string]bool{}
	for _, name := range r.req.Targets {
		if !r.graph.Has(name) {
			return fmt.Errorf("engine: unknown target job %s", name)
		}
		inScope[name] = true
	}
	for _, name := range r.graph.Order() {
		if len(inScope) > 0 && !inScope[name] {
			continue
		}
		r.order = append(r.order, name)
		state := &jobState{status: StatusPending}
		if rec, ok := r.engine.ledger.Get(name); ok && rec.Status == ledger.StatusSubmitted && !r.req.Force {
			state.status = StatusSubmitted
			state.handle = Handle(rec.Handle)
			state.resumed = true
		}
		r.states[name] = state
	}
	return nil
}

// dispatch scans pending jobs in submission order, skipping the blocked ones
// and launching ready ones until the in-flight limit is reached.
func (r *run) dispatch(ctx context.Context) {
	for progressed := true; progressed; {
		progressed = false
		for _, name := range r.order {
			state := r.states[name]
			if state.status != StatusPending {
				continue
			}
			if r.fatal != nil || ctx.Err() != nil {
				return
			}
			decision := scheduler.Evaluate(r.graph.DependencyNames(name), r.lookup)
			switch decision.Verdict {
			case scheduler.VerdictSkip:
				r.skip(name, decision)
				progressed = true
			case scheduler.VerdictReady:
				if r.inflight >= r.engine.concurrency {
					return
				}
				r.launch(ctx, name)
				progressed = true
			}
		}
	}
}

func (r *run) lookup(name string) scheduler.DepState {
	if state, ok := r.states[name]; ok {
		switch state.status {
		case StatusSubmitted, StatusPlanned:
			return scheduler.DepSatisfied
		case StatusFailed:
			return scheduler.DepFailed
		case StatusSkipped:
			return scheduler.DepSkipped
		default:
			return scheduler.DepWaiting
		}
	}
	if rec, ok := r.engine.ledger.Get(name); ok && rec.Status == ledger.StatusSubmitted {
		return scheduler.DepSatisfied
	}
	return scheduler.DepUnavailable
}

func (r *run) handleFor(name string) Handle {
	if state, ok := r.states[name]; ok {
		if state.handle != "" {
			return state.handle
		}
		if state.status == StatusPlanned {
			return Handle(name)
		}
		return ""
	}
	if rec, ok := r.engine.ledger.Get(name); ok && rec.Status == ledger.StatusSubmitted {
		return Handle(rec.Handle)
	}
	return ""
}

func (r *run) request(name string) SubmitRequest {
	desc, _ := r.graph.Job(name)
	req := SubmitRequest{
		Job:      desc.Name,
		Command:  desc.Command,
		Config:   desc.Config,
		Preamble: project.CloneMap(desc.Preamble),
		RunID:    r.runID,
	}
	for _, dep := range desc.Dependencies {
		req.Dependencies = append(req.Dependencies, ResolvedDependency{
			Name:   dep.Name,
			Kind:   dep.Kind,
			Handle: r.handleFor(dep.Name),
		})
	}
	return req
}

func (r *run) skip(name string, decision scheduler.Decision) {
	state := r.states[name]
	state.status = StatusSkipped
	state.reason = decision.Skip.Detail
	state.blockedBy = cloneStrings(decision.BlockedBy)
	r.engine.logger.Info("job skipped",
		zap.String("job", name),
		zap.String("reason", string(decision.Skip.Reason)),
		zap.Strings("blocked_by", decision.BlockedBy),
	)
	if r.req.DryRun {
		return
	}
	r.record(ledger.Record{
		Job:       name,
		Status:    ledger.StatusSkipped,
		Reason:    state.reason,
		BlockedBy: state.blockedBy,
		RunID:     r.runID,
	})
}

func (r *run) launch(ctx context.Context, name string) {
	state := r.states[name]
	req := r.request(name)
	state.deps = req.Dependencies
	if r.req.DryRun {
		state.status = StatusPlanned
		r.engine.logger.Info("job planned", zap.String("job", name))
		if r.engine.onPlan != nil {
			r.engine.onPlan(req)
		}
		return
	}
	if !r.record(ledger.Record{Job: name, Status: ledger.StatusPending, RunID: r.runID}) {
		return
	}
	state.status = statusInFlight
	r.inflight++
	adapter := r.engine.adapter
	results := r.results
	r.group.Go(func() error {
		handle, err := adapter.Submit(ctx, req)
		results <- submitResult{job: name, handle: handle, err: err}
		return nil
	})
}

func (r *run) complete(res submitResult) {
	state := r.states[res.job]
	err := res.err
	if err == nil && res.handle == "" {
		err = errors.New("scheduler returned an empty handle")
	}
	if err != nil {
		state.status = StatusFailed
		state.reason = err.Error()
		r.engine.logger.Warn("job failed", zap.String("job", res.job), zap.Error(err))
		r.record(ledger.Record{Job: res.job, Status: ledger.StatusFailed, Reason: state.reason, RunID: r.runID})
		return
	}
	state.status = StatusSubmitted
	state.handle = res.handle
	r.engine.logger.Info("job submitted", zap.String("job", res.job), zap.String("handle", string(res.handle)))
	r.record(ledger.Record{Job: res.job, Status: ledger.StatusSubmitted, Handle: string(res.handle), RunID: r.runID})
}

// record writes through to the ledger. The first failure becomes fatal and
// stops further dispatching.
func (r *run) record(rec ledger.Record) bool {
	if err := r.engine.ledger.Record(rec); err != nil {
		if r.fatal == nil {
			r.fatal = fmt.Errorf("engine: record %s: %w", rec.Job, err)
		}
		return false
	}
	return true
}

func (r *run) report(started, finished time.Time) Report {
	report := Report{
		RunID:    r.runID,
		DryRun:   r.req.DryRun,
		Started:  started,
		Finished: finished,
		Order:    cloneStrings(r.order),
	}
	for _, name := range r.order {
		state := r.states[name]
		status := state.status
		if status == statusInFlight {
			status = StatusPending
		}
		report.Outcomes = append(report.Outcomes, Outcome{
			Job:          name,
			Status:       status,
			Handle:       state.handle,
			Reason:       state.reason,
			BlockedBy:    cloneStrings(state.blockedBy),
			Resumed:      state.resumed,
			Dependencies: state.deps,
		})
	}
	return report
}

func generateRunID(now time.Time) string {
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405"), uuid.NewString()[:8])
}

func (e *Engine) now() time.Time {
	if e.clock == nil {
		return time.Now()
	}
	return e.clock()
}
