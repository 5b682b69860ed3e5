package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/keystone-build/reconcile-cli/internal/model"
)

var summaryJSON bool

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the budget ledger summary",
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

		summary, err := lg.GetSummary(ctx)
		if err != nil {
			return eris.Wrap(err, "ledger summary")
		}

		if summaryJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		}

		formatSummary(os.Stdout, summary)
		return nil
	},
}

// formatSummary writes the ledger summary to w.
func formatSummary(out io.Writer, s *model.LedgerSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LINE\tDESCRIPTION\tALLOCATED\tSPENT\tREMAINING\tPENDING")
	_, _ = fmt.Fprintln(w, "----\t-----------\t---------\t-----\t---------\t-------")
	for _, li := range s.LineItems {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			li.Code,
			li.Description,
			li.Allocated.StringFixed(2),
			li.Spent.StringFixed(2),
			li.Remaining.StringFixed(2),
			li.PendingCount,
		)
	}
	_ = w.Flush()

	fmt.Fprintf(out, "\nTotal allocated: %s\n", s.Allocated.StringFixed(2))
	fmt.Fprintf(out, "Total spent:     %s\n", s.Spent.StringFixed(2))
	fmt.Fprintf(out, "Total remaining: %s\n", s.Remaining.StringFixed(2))
	fmt.Fprintf(out, "Pending:         %d change(s) totaling %s\n", s.PendingCount, s.PendingTotal.StringFixed(2))
}

func init() {
	summaryCmd.Flags().BoolVar(&summaryJSON, "json", false, "emit the summary as JSON")
	rootCmd.AddCommand(summaryCmd)
}
