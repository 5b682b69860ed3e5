package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/keystone-build/reconcile-cli/internal/model"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List budget changes awaiting approval",
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

		pending, err := lg.GetPending(ctx)
		if err != nil {
			return eris.Wrap(err, "list pending")
		}

		if len(pending) == 0 {
			fmt.Fprintln(os.Stderr, "No pending changes.")
			return nil
		}

		formatPending(os.Stdout, pending)
		return nil
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <pending-id>",
	Short: "Approve a pending change and apply it to the ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ledger"); err != nil {
			return err
		}

		lg, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer lg.Close() //nolint:errcheck

		approvedBy, _ := cmd.Flags().GetString("by")
		if err := lg.ApprovePending(ctx, args[0], approvedBy); err != nil {
			return eris.Wrapf(err, "approve %s", args[0])
		}

		fmt.Printf("approved %s\n", args[0])
		return nil
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <pending-id>",
	Short: "Reject a pending change without touching the ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ledger"); err != nil {
			return err
		}

		lg, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer lg.Close() //nolint:errcheck

		rejectedBy, _ := cmd.Flags().GetString("by")
		reason, _ := cmd.Flags().GetString("reason")
		if err := lg.RejectPending(ctx, args[0], rejectedBy, reason); err != nil {
			return eris.Wrapf(err, "reject %s", args[0])
		}

		fmt.Printf("rejected %s\n", args[0])
		return nil
	},
}

// formatPending writes a tabular pending queue to w.
func formatPending(out io.Writer, pending []model.PendingChange) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tLINE\tENTITY\tDELTA\tCONFIDENCE\tCREATED\tRATIONALE")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t-----\t----------\t-------\t---------")

	for _, p := range pending {
		rationale := p.Rationale
		if len(rationale) > 48 {
			rationale = rationale[:45] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%s\t%s\n",
			truncateID(p.ID),
			p.LineCode,
			p.EntityID,
			p.Delta.StringFixed(2),
			p.Confidence.Combined,
			p.CreatedAt.Format("2006-01-02 15:04"),
			rationale,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	approveCmd.Flags().String("by", "cli", "approver identity recorded on the change")
	rejectCmd.Flags().String("by", "cli", "reviewer identity recorded on the change")
	rejectCmd.Flags().String("reason", "", "rejection reason recorded on the change")

	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
}
