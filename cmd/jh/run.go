package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kingrea/jobhelper/internal/command"
	"github.com/kingrea/jobhelper/internal/engine"
	"github.com/kingrea/jobhelper/internal/graph"
	"github.com/kingrea/jobhelper/internal/ledger"
	"github.com/kingrea/jobhelper/internal/project"
	"github.com/kingrea/jobhelper/internal/report"
	"github.com/kingrea/jobhelper/internal/repostate"
	"github.com/kingrea/jobhelper/internal/slurm"
)

type runOptions struct {
	submit      bool
	rerun       string
	noFollowing bool
	ledger      string
	concurrency int
}

func newRunCmd(c *cli) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run PROJECT",
		Short: "Submit a project's jobs in dependency order",
		Long: `Submit the jobs of a project file (YAML, JSON or TOML) in dependency order.

Without --submit this is a dry run: every batch script is printed and nothing
is submitted or recorded. Jobs already submitted according to the ledger are
reused, not resubmitted, unless they are selected with --rerun.

Exit status is 0 when no job failed, 1 when at least one job failed and 2
when the project or the command line is invalid.

Examples:
  jh run project.yaml                      # dry run
  jh run project.yaml --submit             # submit everything not yet submitted
  jh run project.yaml --submit --rerun 'train*'  # resubmit train* and what follows`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.submit, "submit", false, "call sbatch instead of printing the scripts")
	cmd.Flags().StringVar(&opts.rerun, "rerun", "", "jobs to (re)submit, as glob patterns separated by ';' (START means all)")
	cmd.Flags().BoolVar(&opts.noFollowing, "no-following", false, "do not add the dependents of --rerun jobs")
	cmd.Flags().StringVar(&opts.ledger, "ledger", "", "ledger file (default <log_dir>/ledger.json)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "parallel sbatch calls (default engine.concurrency)")
	return cmd
}

// loadGraph reads a project, validates its graph and resolves the selection.
func (c *cli) loadGraph(path, rerun string, following bool) (*project.Project, *graph.Graph, []string, error) {
	p, err := project.LoadFile(path)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, note := range p.Notes {
		c.logger.Debug("project setting ignored", zap.String("project", path), zap.String("note", note))
	}
	g, err := graph.Build(p.Jobs)
	if err != nil {
		return nil, nil, nil, err
	}
	selected, err := g.Select(graph.Selection{Patterns: graph.SplitPatterns(rerun), Following: following})
	if err != nil {
		return nil, nil, nil, err
	}
	return p, g, selected, nil
}

func (c *cli) run(cmd *cobra.Command, path string, opts *runOptions) error {
	ctx := cmd.Context()
	p, g, selected, err := c.loadGraph(path, opts.rerun, !opts.noFollowing)
	if err != nil {
		return err
	}
	registry, err := command.FromConfig(c.cfg.Commands)
	if err != nil {
		return err
	}
	if err := checkCommands(g, registry); err != nil {
		return err
	}

	dryRun := !opts.submit
	var repos []repostate.State
	if !dryRun {
		if err := c.cfg.EnsureDirs(); err != nil {
			return err
		}
		repos, err = c.captureRepos()
		if err != nil {
			return err
		}
	}

	adapter, err := slurm.New(slurm.Options{
		Shell:     c.cfg.Slurm.Shell,
		SbatchCmd: c.cfg.Slurm.SbatchCmd,
		JobLogDir: c.cfg.Slurm.LogDir,
		Retries:   c.cfg.Slurm.Retries,
		Registry:  registry,
		Jobs:      p,
		Logbook:   c.book,
		Logger:    c.logger.Named("slurm"),
	})
	if err != nil {
		return err
	}
	concurrency := opts.concurrency
	if concurrency <= 0 {
		concurrency = c.cfg.Engine.Concurrency
	}
	l := ledger.Load(c.ledgerPath(opts.ledger), ledger.WithLogger(c.logger.Named("ledger")))
	eng, err := engine.New(adapter, l,
		engine.WithLogger(c.logger.Named("engine")),
		engine.WithConcurrency(concurrency),
		engine.WithPlanHook(func(req engine.SubmitRequest) {
			printPlan(c.stdout, adapter, req, c.logger)
		}),
	)
	if err != nil {
		return err
	}

	explicit := opts.rerun != "" && opts.rerun != project.StartJob
	rep, runErr := eng.Run(ctx, g, engine.Request{
		Targets: selected,
		Force:   explicit,
		DryRun:  dryRun,
	})
	if err := report.NewPrinter(c.stdout, c.noColor).Print(rep); err != nil {
		return err
	}
	if len(rep.Outcomes) == 0 {
		c.logger.Warn("no jobs to run")
	}
	if !dryRun && len(rep.Outcomes) > 0 {
		store := engine.NewRunStore(c.cfg.RunsDir())
		saved, err := store.Save(engine.NewRunRecord(rep, p.Name, p.Path, repos))
		if err != nil {
			c.logger.Warn("could not save run result", zap.Error(err))
		} else {
			fmt.Fprintf(c.stdout, "run result: %s\n", saved)
		}
	}
	if runErr != nil {
		return &exitError{code: report.ExitFailed, err: runErr}
	}
	if code := report.ExitCode(rep); code != report.ExitOK {
		return &exitError{code: code}
	}
	return nil
}

// checkCommands fails before any submission when a job names a command that
// is not registered.
func checkCommands(g *graph.Graph, registry *command.Registry) error {
	var err error
	for _, name := range g.Names() {
		job, _ := g.Job(name)
		if !registry.Has(job.Command) {
			err = multierr.Append(err, fmt.Errorf("job %s: %w %q", name, command.ErrUnknownCommand, job.Command))
		}
	}
	return err
}

func (c *cli) captureRepos() ([]repostate.State, error) {
	watcher := repostate.NewWatcher(c.cfg.RepoWatcher.WatchedRepos, c.cfg.RepoWatcher.ForceCommitRepos, c.logger.Named("repo"))
	states, err := watcher.Capture()
	if err != nil {
		if errors.Is(err, repostate.ErrUncommitted) {
			return nil, fmt.Errorf("%w; commit or stash before submitting", err)
		}
		return nil, err
	}
	// Force-commit repositories come first.
	for _, state := range states[:len(c.cfg.RepoWatcher.ForceCommitRepos)] {
		if err := c.book.Git(state.Path, state.Commit); err != nil {
			c.logger.Warn("could not write cmd.log", zap.Error(err))
		}
	}
	return states, nil
}

func printPlan(out io.Writer, adapter *slurm.Adapter, req engine.SubmitRequest, logger *zap.Logger) {
	script, err := adapter.Render(req)
	if err != nil {
		logger.Warn("cannot render script", zap.String("job", req.Job), zap.Error(err))
		return
	}
	fmt.Fprintf(out, "# ---- %s\n%s\n\n", req.Job, script)
}
