package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kingrea/jobhelper/internal/config"
	"github.com/kingrea/jobhelper/internal/repostate"
)

const exampleProject = `# Example jh project. Try: jh run project.yaml
name: example
jobs:
  prepare:
    command: shell
    config:
      sh: echo preparing
  add_one:
    command: add_one
    config:
      num: 1
    job_preamble:
      time: "00:10:00"
      dependency: [prepare]
  report:
    command: job_combo
    config:
      jobs:
        - sh: echo "add_one finished"
        - prepare
    job_preamble:
      dependency:
        afterany: [add_one]
`

func newInitCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:         "init [DIR]",
		Short:       "Write a starter jh_config.yaml and project.yaml",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{skipSetup: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			abs, err := filepath.Abs(dir)
			if err != nil {
				return err
			}
			if _, err := repostate.Inspect(abs); errors.Is(err, repostate.ErrNotRepository) {
				fmt.Fprintln(c.stdout, "This is not a git repository. Using git lets jh record the code each run used.")
			}
			created, err := config.WriteDefault(filepath.Join(abs, config.FileNames[0]))
			if err != nil {
				return err
			}
			report := func(name string, created bool) {
				if created {
					fmt.Fprintf(c.stdout, "wrote %s\n", name)
				} else {
					fmt.Fprintf(c.stdout, "kept existing %s\n", name)
				}
			}
			report(config.FileNames[0], created)
			created, err = writeIfMissing(filepath.Join(abs, "project.yaml"), exampleProject)
			if err != nil {
				return err
			}
			report("project.yaml", created)
			fmt.Fprintln(c.stdout, `Try:
    jh run project.yaml
    jh flow project.yaml
    jh run project.yaml --submit`)
			return nil
		},
	}
}

func writeIfMissing(path, content string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
