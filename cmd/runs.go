package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/keystone-build/reconcile-cli/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List reconciliation run history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ledger"); err != nil {
			return err
		}

		lg, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer lg.Close() //nolint:errcheck
		if err := lg.Migrate(ctx); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := lg.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "list runs")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRuns(os.Stdout, runs)
		return nil
	},
}

// formatRuns writes a tabular run history to w.
func formatRuns(out io.Writer, runs []model.ReconcileRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tREVISIONS\tCOMMITTED\tPENDING\tREJECTED\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t---------\t---------\t-------\t--------\t-------\t--------")

	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s -> %s\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.BeforeRevision,
			r.AfterRevision,
			r.Committed,
			r.Pending,
			r.Rejected,
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.Duration.Round(time.Millisecond),
		)
	}
	_ = w.Flush()
}

func init() {
	runsCmd.Flags().Int("limit", 50, "max number of runs to display")
	rootCmd.AddCommand(runsCmd)
}
