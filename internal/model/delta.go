package model

import "github.com/shopspring/decimal"

// DeltaResult is the resolution of one detected change against the persisted
// state store. Computed fresh per reconciliation run, never cached.
type DeltaResult struct {
	EntityID string `json:"entity_id"`

	// Exists is false for the new-entity case: the blueprint introduced an
	// asset the state store has never seen. That is a legitimate result, not
	// an error.
	Exists bool `json:"exists"`

	CurrentQuantity float64 `json:"current_quantity,omitempty"`
	NewQuantity     float64 `json:"new_quantity"`
	QuantityDelta   float64 `json:"quantity_delta,omitempty"`

	CurrentMaterial string `json:"current_material,omitempty"`
	NewMaterial     string `json:"new_material,omitempty"`
	MaterialChanged bool   `json:"material_changed,omitempty"`

	CostPerUnit      decimal.Decimal `json:"cost_per_unit"`
	CostImpact       decimal.Decimal `json:"cost_impact"`
	CurrentTotalCost decimal.Decimal `json:"current_total_cost"`
	NewTotalCost     decimal.Decimal `json:"new_total_cost"`

	LineItem *LedgerLineItem `json:"line_item,omitempty"`
	Vendor   *Vendor         `json:"vendor,omitempty"`
}
