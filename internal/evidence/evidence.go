// Package evidence assembles the structured fact bundle handed to the
// reasoning service for each detected change.
package evidence

import (
	"github.com/shopspring/decimal"

	"github.com/keystone-build/reconcile-cli/internal/model"
)

// Kind discriminates the three evidence variants.
type Kind string

const (
	KindChangedAsset Kind = "changed_asset"
	KindNewAsset     Kind = "new_asset"
	KindRemovedAsset Kind = "removed_asset"
)

// DataQuality is the parser's quality signal, carried forward untouched.
// Confidence is nil when no extraction backend scored the record.
type DataQuality struct {
	Confidence *float64
	Source     string
}

// TrustLabel derives the informal trustworthiness wording shown to the
// reasoning service. The numeric score itself is never altered.
func (q DataQuality) TrustLabel() string {
	if q.Confidence == nil {
		return "unscored"
	}
	switch c := *q.Confidence; {
	case c >= 0.9:
		return "high"
	case c >= 0.8:
		return "moderate"
	default:
		return "low"
	}
}

// Policy carries the business-rule parameters the reasoning service weighs.
type Policy struct {
	ApprovalThreshold decimal.Decimal
	MaxContingency    decimal.Decimal
	MinConfidence     float64
}

// ProjectContext optionally enriches evidence with project-level facts.
type ProjectContext struct {
	ProjectName string
	FloorName   string
	Revision    string
	Date        string
}

// Package is the sealed evidence contract. Each variant carries all of its
// required fields; there is no loose bag of optionals.
type Package interface {
	Kind() Kind
	EntityID() string
	Quality() DataQuality
	PolicyParams() Policy

	// Render produces the reasoning prompt for this variant.
	Render() (string, error)
}

// ChangedAsset is the evidence for a quantity/material modification of an
// entity the state store already knows.
type ChangedAsset struct {
	Delta       model.DeltaResult
	DataQuality DataQuality
	Policy      Policy
	Project     *ProjectContext
}

func (e ChangedAsset) Kind() Kind           { return KindChangedAsset }
func (e ChangedAsset) EntityID() string     { return e.Delta.EntityID }
func (e ChangedAsset) Quality() DataQuality { return e.DataQuality }
func (e ChangedAsset) PolicyParams() Policy { return e.Policy }

// NewAsset is the evidence for an asset the state store has never seen.
type NewAsset struct {
	Asset       model.Asset
	DataQuality DataQuality
	Policy      Policy
	Project     *ProjectContext
}

func (e NewAsset) Kind() Kind           { return KindNewAsset }
func (e NewAsset) EntityID() string     { return e.Asset.ID }
func (e NewAsset) Quality() DataQuality { return e.DataQuality }
func (e NewAsset) PolicyParams() Policy { return e.Policy }

// RemovedAsset is the evidence for an asset present before but absent from
// the new snapshot.
type RemovedAsset struct {
	Asset       model.Asset
	State       *model.EntityState
	LineItem    *model.LedgerLineItem
	DataQuality DataQuality
	Policy      Policy
	Project     *ProjectContext
}

func (e RemovedAsset) Kind() Kind           { return KindRemovedAsset }
func (e RemovedAsset) EntityID() string     { return e.Asset.ID }
func (e RemovedAsset) Quality() DataQuality { return e.DataQuality }
func (e RemovedAsset) PolicyParams() Policy { return e.Policy }

// Assembler builds evidence packages from resolved deltas. Pure: depends only
// on its inputs and the policy it was constructed with.
type Assembler struct {
	policy Policy
}

// NewAssembler creates an Assembler with the given policy parameters.
func NewAssembler(policy Policy) *Assembler {
	return &Assembler{policy: policy}
}

// Assemble routes a resolved delta to the changed-asset or new-asset shape.
// The extraction confidence in dq reaches the gate bit-for-bit.
func (a *Assembler) Assemble(delta model.DeltaResult, dq DataQuality, project *ProjectContext) Package {
	if !delta.Exists {
		return NewAsset{
			Asset: model.Asset{
				ID:       delta.EntityID,
				Material: delta.NewMaterial,
				Quantity: delta.NewQuantity,
			},
			DataQuality: dq,
			Policy:      a.policy,
			Project:     project,
		}
	}
	return ChangedAsset{
		Delta:       delta,
		DataQuality: dq,
		Policy:      a.policy,
		Project:     project,
	}
}

// AssembleAdded builds new-asset evidence directly from a parsed asset,
// keeping category/unit/location that a bare delta does not carry.
func (a *Assembler) AssembleAdded(asset model.Asset, dq DataQuality, project *ProjectContext) Package {
	return NewAsset{
		Asset:       asset,
		DataQuality: dq,
		Policy:      a.policy,
		Project:     project,
	}
}

// AssembleRemoved builds removed-asset evidence with whatever persisted state
// and line-item context is available.
func (a *Assembler) AssembleRemoved(asset model.Asset, state *model.EntityState, li *model.LedgerLineItem, dq DataQuality, project *ProjectContext) Package {
	return RemovedAsset{
		Asset:       asset,
		State:       state,
		LineItem:    li,
		DataQuality: dq,
		Policy:      a.policy,
		Project:     project,
	}
}
