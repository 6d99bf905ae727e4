package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kingrea/jobhelper/internal/ledger"
)

func newLedgerCmd(c *cli) *cobra.Command {
	var ledgerPath string
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or reset the submission ledger",
	}
	cmd.PersistentFlags().StringVar(&ledgerPath, "ledger", "", "ledger file (default <log_dir>/ledger.json)")
	cmd.AddCommand(newLedgerShowCmd(c, &ledgerPath), newLedgerResetCmd(c, &ledgerPath))
	return cmd
}

func newLedgerShowCmd(c *cli, ledgerPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print every ledger record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := ledger.Open(c.ledgerPath(*ledgerPath))
			if err != nil {
				return err
			}
			records := l.Snapshot()
			if asJSON {
				return printRecordsJSON(c, records)
			}
			if len(records) == 0 {
				fmt.Fprintf(c.stdout, "ledger %s is empty\n", l.Path())
				return nil
			}
			table := tablewriter.NewWriter(c.stdout)
			table.SetHeader([]string{"Job", "Status", "Handle", "Reason", "Run", "Updated"})
			table.SetAutoWrapText(false)
			now := c.now()
			for _, rec := range records {
				table.Append([]string{
					rec.Job,
					string(rec.Status),
					rec.Handle,
					rec.Reason,
					rec.RunID,
					humanize.RelTime(rec.UpdatedAt, now, "ago", "from now"),
				})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}

type jsonRecord struct {
	Job string `json:"job"`
	ledger.Record
}

func printRecordsJSON(c *cli, records []ledger.Record) error {
	out := make([]jsonRecord, len(records))
	for i, rec := range records {
		out[i] = jsonRecord{Job: rec.Job, Record: rec}
	}
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newLedgerResetCmd(c *cli, ledgerPath *string) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "reset [JOB...]",
		Short: "Forget jobs so the next run submits them again",
		Long: `Forget the named jobs, or every job with --all. The next run treats them as
never submitted. A corrupt ledger can always be reset with --all.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return fmt.Errorf("name the jobs to reset or pass --all")
			}
			l := ledger.Load(c.ledgerPath(*ledgerPath), ledger.WithLogger(c.logger.Named("ledger")))
			if err := l.Reset(args...); err != nil {
				return err
			}
			if all {
				fmt.Fprintf(c.stdout, "ledger %s cleared\n", l.Path())
			} else {
				fmt.Fprintf(c.stdout, "reset %s\n", strings.Join(args, ", "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "forget every job")
	return cmd
}
