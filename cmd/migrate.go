package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/keystone-build/reconcile-cli/internal/ledger"
	"github.com/keystone-build/reconcile-cli/internal/model"
)

var migrateSeed bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the state store and ledger schemas",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		states, err := initStateStore(ctx)
		if err != nil {
			return err
		}
		defer states.Close() //nolint:errcheck
		if err := states.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate state store")
		}

		lg, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer lg.Close() //nolint:errcheck
		if err := lg.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate ledger")
		}

		if migrateSeed {
			if err := seedLedger(ctx, lg); err != nil {
				return eris.Wrap(err, "seed ledger")
			}
			fmt.Println("schemas migrated and demo line items seeded")
			return nil
		}

		fmt.Println("schemas migrated")
		return nil
	},
}

// seedLedger loads the demo concrete and steel line items.
func seedLedger(ctx context.Context, lg ledger.Ledger) error {
	items := []model.LedgerLineItem{
		{
			Code:        "B47",
			Description: "Cast-in-Place Concrete",
			Allocated:   decimal.NewFromInt(50000),
			Spent:       decimal.NewFromInt(30000),
		},
		{
			Code:        "B48",
			Description: "Structural Steel Framing",
			Allocated:   decimal.NewFromInt(75000),
			Spent:       decimal.NewFromInt(45000),
		},
	}
	for _, li := range items {
		if err := lg.UpsertLineItem(ctx, li); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateSeed, "seed", false, "seed demo budget line items")
	rootCmd.AddCommand(migrateCmd)
}
