package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/jobhelper/internal/config"
	"github.com/kingrea/jobhelper/internal/logbook"
	"github.com/kingrea/jobhelper/internal/logging"
)

// skipSetup marks commands that run without loading jh_config.
const skipSetup = "jh/skip-setup"

// cli holds what every subcommand shares once the root has loaded the
// configuration.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	argv   []string

	configPath string
	logLevel   string
	noColor    bool

	cfg      *config.Config
	logger   *zap.Logger
	book     *logbook.Logbook
	closeLog func() error
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "jh",
		Short: "jh - submit dependency graphs of jobs to Slurm",
		Long: `jh reads a project file describing jobs and their dependencies and submits
them to Slurm in dependency order. Runs are dry by default; pass --submit to
call sbatch. Every submission is recorded in a ledger so a failed or
interrupted run can be resumed without resubmitting finished jobs.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to jh_config.yaml or jh_config.toml (default: $JHCFG or search upwards)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "info", "console log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&c.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newRunCmd(c),
		newFlowCmd(c),
		newViewCmd(c),
		newLedgerCmd(c),
		newInitCmd(c),
		newDecodeConfigCmd(c),
		newToolsCmd(c),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	c.logger = zap.NewNop()
	if cmd.Annotations[skipSetup] == "true" {
		return nil
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	c.cfg = cfg
	logger, closeLog, err := logging.New(logging.Options{Dir: cfg.LogDir, Level: c.logLevel, Console: c.stderr})
	if err != nil {
		return err
	}
	c.logger = logger
	c.closeLog = closeLog
	book, err := logbook.New(cfg.CmdLogPath())
	if err != nil {
		return fmt.Errorf("open cmd.log: %w", err)
	}
	c.book = book
	if cfg.CLI.LoggingCmd {
		if err := book.Command(append([]string{"jh"}, c.argv...)); err != nil {
			c.logger.Warn("could not write cmd.log", zap.Error(err))
		}
	}
	c.logger.Debug("config loaded", zap.String("path", cfg.Path), zap.String("log_dir", cfg.LogDir))
	return nil
}

func (c *cli) loadConfig() (*config.Config, error) {
	if c.configPath != "" {
		return config.Load(c.configPath)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	return config.Discover(cwd)
}

func (c *cli) close() {
	if c.closeLog != nil {
		_ = c.closeLog()
	}
}

func (c *cli) ledgerPath(flag string) string {
	if flag != "" {
		return flag
	}
	return c.cfg.LedgerPath()
}

func (c *cli) now() time.Time {
	return time.Now()
}
