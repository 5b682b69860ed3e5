package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keystone-build/reconcile-cli/internal/blueprint"
	"github.com/keystone-build/reconcile-cli/internal/reconcile"
)

var (
	reconcileJSON  bool
	reconcilePrime bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <before.json> <after.json>",
	Short: "Reconcile two blueprint snapshots against the budget ledger",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("reconcile"); err != nil {
			return err
		}

		before, err := blueprint.LoadSnapshot(args[0])
		if err != nil {
			return eris.Wrapf(err, "load before snapshot %s", args[0])
		}
		after, err := blueprint.LoadSnapshot(args[1])
		if err != nil {
			return eris.Wrapf(err, "load after snapshot %s", args[1])
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if reconcilePrime {
			if err := env.Gateway.Prime(ctx); err != nil {
				zap.L().Warn("cache prime failed, continuing uncached", zap.Error(err))
			}
		}

		report, err := env.Pipeline.Run(ctx, before, after)
		if err != nil {
			return err
		}

		if reconcileJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		fmt.Printf("Run %s (%s -> %s)\n", report.RunID, report.BeforeRevision, report.AfterRevision)
		for _, o := range report.Outcomes {
			fmt.Println("  " + reconcile.Describe(o))
		}
		fmt.Printf("committed=%d pending=%d rejected=%d in %s\n",
			report.Committed, report.Pending, report.Rejected, report.Duration.Round(1e6))
		return nil
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff <before.json> <after.json>",
	Short: "Show the asset diff between two snapshots without dispatching",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		before, err := blueprint.LoadSnapshot(args[0])
		if err != nil {
			return eris.Wrapf(err, "load before snapshot %s", args[0])
		}
		after, err := blueprint.LoadSnapshot(args[1])
		if err != nil {
			return eris.Wrapf(err, "load after snapshot %s", args[1])
		}

		report, err := blueprint.Diff(before, after)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileJSON, "json", false, "emit the full batch report as JSON")
	reconcileCmd.Flags().BoolVar(&reconcilePrime, "prime", false, "warm the prompt cache before evaluating changes")
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(diffCmd)
}
