// Package resolve computes per-entity deltas between newly observed blueprint
// values and the persisted state store.
package resolve

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/keystone-build/reconcile-cli/internal/ledger"
	"github.com/keystone-build/reconcile-cli/internal/model"
	"github.com/keystone-build/reconcile-cli/internal/statestore"
)

// Resolver resolves detected changes against the state store and attaches
// ledger line-item context. Stateless; safe for concurrent use.
type Resolver struct {
	states statestore.Store
	ledger ledger.Ledger
}

// New creates a Resolver over the given collaborators.
func New(states statestore.Store, lg ledger.Ledger) *Resolver {
	return &Resolver{states: states, ledger: lg}
}

// ResolveDelta fetches the entity's last-known persisted attributes and
// computes the quantity and cost delta against the newly observed values.
// A missing entity is the new-entity case, not an error: blueprints
// legitimately introduce assets unknown to the ledger. Store connectivity
// failures surface as statestore.ErrUnavailable and are never folded into
// the new-entity case.
func (r *Resolver) ResolveDelta(ctx context.Context, entityID string, newQuantity float64, newMaterial string) (*model.DeltaResult, error) {
	rec, err := r.states.GetEntity(ctx, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: entity %s", entityID)
	}

	if rec == nil {
		zap.L().Info("resolve: entity not in state store, treating as new",
			zap.String("entity", entityID),
		)
		return &model.DeltaResult{
			EntityID:    entityID,
			Exists:      false,
			NewQuantity: newQuantity,
			NewMaterial: newMaterial,
		}, nil
	}

	state := rec.State
	quantityDelta := newQuantity - state.Quantity
	costImpact := decimal.NewFromFloat(quantityDelta).Mul(state.CostPerUnit)
	newTotal := decimal.NewFromFloat(newQuantity).Mul(state.CostPerUnit)

	delta := &model.DeltaResult{
		EntityID:         entityID,
		Exists:           true,
		CurrentQuantity:  state.Quantity,
		NewQuantity:      newQuantity,
		QuantityDelta:    quantityDelta,
		CurrentMaterial:  state.Material,
		NewMaterial:      newMaterial,
		MaterialChanged:  newMaterial != "" && newMaterial != state.Material,
		CostPerUnit:      state.CostPerUnit,
		CostImpact:       costImpact,
		CurrentTotalCost: state.TotalCost,
		NewTotalCost:     newTotal,
		Vendor:           rec.Vendor,
	}

	if state.LineCode != "" {
		li, err := r.ledger.GetLineItem(ctx, state.LineCode)
		if err != nil {
			return nil, eris.Wrapf(err, "resolve: line item %s for entity %s", state.LineCode, entityID)
		}
		delta.LineItem = li
	}

	zap.L().Info("resolve: delta calculated",
		zap.String("entity", entityID),
		zap.Float64("quantity_delta", quantityDelta),
		zap.String("cost_impact", costImpact.StringFixed(2)),
	)
	return delta, nil
}

// CommitState refreshes the persisted view of an entity after a committed
// quantity change, recomputing its total cost.
func (r *Resolver) CommitState(ctx context.Context, state model.EntityState) error {
	state.TotalCost = decimal.NewFromFloat(state.Quantity).Mul(state.CostPerUnit)
	if err := r.states.UpsertEntity(ctx, state); err != nil {
		return eris.Wrapf(err, "resolve: commit state %s", state.ID)
	}
	return nil
}
