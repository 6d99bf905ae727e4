package main

import (
	"github.com/spf13/cobra"

	"github.com/kingrea/jobhelper/internal/flowchart"
	"github.com/kingrea/jobhelper/internal/ledger"
)

func newFlowCmd(c *cli) *cobra.Command {
	var (
		rerun       string
		noFollowing bool
		output      string
		ledgerPath  string
	)
	cmd := &cobra.Command{
		Use:   "flow PROJECT",
		Short: "Draw the job graph as a mermaid flowchart",
		Long: `Draw the dependency graph of a project as a mermaid flowchart.

Jobs outside the --rerun selection are drawn dashed; failed and submitted jobs
are coloured from the ledger. The output is printed (-), saved as mermaid
source (.mmd) or rendered to .png/.svg through kroki.io.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, g, selected, err := c.loadGraph(args[0], rerun, !noFollowing)
			if err != nil {
				return err
			}
			l := ledger.Load(c.ledgerPath(ledgerPath), ledger.WithLogger(c.logger.Named("ledger")))
			chart := flowchart.Render(g, flowchart.Classify(g, selected, l))
			return flowchart.Exporter{Stdout: c.stdout}.Export(cmd.Context(), chart, output)
		},
	}
	cmd.Flags().StringVar(&rerun, "rerun", "", "jobs to highlight, as glob patterns separated by ';'")
	cmd.Flags().BoolVar(&noFollowing, "no-following", false, "do not add the dependents of --rerun jobs")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "destination: -, FILE.mmd, FILE.png or FILE.svg")
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "ledger file (default <log_dir>/ledger.json)")
	return cmd
}
