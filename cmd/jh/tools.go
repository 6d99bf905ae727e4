package main

import (
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/jobhelper/internal/joblog"
	"github.com/kingrea/jobhelper/internal/logbook"
)

func newToolsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Helpers for cmd.log and the job log directory",
	}
	cmd.AddCommand(newLogShCmd(c), newLogMessageCmd(c), newCompressLogCmd(c))
	return cmd
}

func newLogShCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "log-sh COMMAND [ARG...]",
		Short: "Run a shell command and record it in cmd.log if it succeeds",
		Example: `  jh tools log-sh 'rsync -a results/ archive/'
  jh tools log-sh -- ls -la`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line := args[0]
			if len(args) > 1 {
				line = logbook.JoinArgs(args)
			}
			sh := exec.CommandContext(cmd.Context(), c.cfg.Slurm.Shell, "-c", line)
			sh.Stdin = c.stdin
			sh.Stdout = c.stdout
			sh.Stderr = c.stderr
			if err := sh.Run(); err != nil {
				var exitErr *exec.ExitError
				if errors.As(err, &exitErr) {
					return &exitError{code: exitErr.ExitCode()}
				}
				return err
			}
			return c.book.Shell(line)
		},
	}
}

func newLogMessageCmd(c *cli) *cobra.Command {
	var level string
	cmd := &cobra.Command{
		Use:   "log-message MESSAGE",
		Short: "Add a note to cmd.log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := logbook.ParseLevel(level)
			if err != nil {
				return err
			}
			return c.book.Message(lvl, args[0])
		},
	}
	cmd.Flags().StringVar(&level, "level", "info", "info, warning or error")
	return cmd
}

func newCompressLogCmd(c *cli) *cobra.Command {
	var hours float64
	cmd := &cobra.Command{
		Use:   "compress-log",
		Short: "Archive old *.out and *.sh files of the job log directory",
		Long: `Move every *.out and *.sh file in slurm.log_dir that has not been modified
for --hours into <YYYYmmdd_HHMMSS>.tar.gz in the same directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if hours < 0 {
				return fmt.Errorf("--hours must be >= 0")
			}
			olderThan := time.Duration(hours * float64(time.Hour))
			res, err := joblog.Compress(c.cfg.Slurm.LogDir, olderThan, c.now())
			if errors.Is(err, joblog.ErrNothingToCompress) {
				c.logger.Warn("no files to compress", zap.String("dir", c.cfg.Slurm.LogDir))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "compressed %d files (%s) into %s\n",
				len(res.Files), humanize.Bytes(uint64(res.Bytes)), res.Archive)
			return nil
		},
	}
	cmd.Flags().Float64Var(&hours, "hours", 24, "only archive files older than this many hours")
	return cmd
}
