package main

import (
	"github.com/spf13/cobra"

	"github.com/kingrea/jobhelper/internal/tui"
)

func newViewCmd(c *cli) *cobra.Command {
	var (
		ledgerPath string
		follow     bool
	)
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Browse the submission ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := tui.NewApp(c.ledgerPath(ledgerPath),
				tui.WithLogbook(c.book),
				tui.WithFollow(follow),
			)
			return tui.Run(cmd.Context(), app)
		},
	}
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "ledger file (default <log_dir>/ledger.json)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "reload whenever the ledger changes")
	return cmd
}
