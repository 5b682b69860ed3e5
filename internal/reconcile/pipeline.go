// Package reconcile orchestrates a full reconciliation run: diff two
// blueprint snapshots, resolve each change against persisted state, assemble
// evidence, obtain a recommendation, and dispatch it against the ledger.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/keystone-build/reconcile-cli/internal/blueprint"
	"github.com/keystone-build/reconcile-cli/internal/dispatch"
	"github.com/keystone-build/reconcile-cli/internal/evidence"
	"github.com/keystone-build/reconcile-cli/internal/ledger"
	"github.com/keystone-build/reconcile-cli/internal/model"
	"github.com/keystone-build/reconcile-cli/internal/reasoner"
	"github.com/keystone-build/reconcile-cli/internal/resolve"
	"github.com/keystone-build/reconcile-cli/internal/statestore"
)

// Config controls one pipeline instance.
type Config struct {
	// MaxConcurrentChanges bounds how many changes are evaluated in
	// parallel. Values below 1 mean sequential.
	MaxConcurrentChanges int

	// Project is optional framing included in every evidence package.
	Project *evidence.ProjectContext
}

// Pipeline wires the reconciliation stages together.
type Pipeline struct {
	states     statestore.Store
	ledger     ledger.Ledger
	resolver   *resolve.Resolver
	assembler  *evidence.Assembler
	gateway    reasoner.Gateway
	dispatcher *dispatch.Dispatcher
	cfg        Config
}

// New builds a pipeline over the given collaborators.
func New(
	states statestore.Store,
	lg ledger.Ledger,
	assembler *evidence.Assembler,
	gateway reasoner.Gateway,
	dispatcher *dispatch.Dispatcher,
	cfg Config,
) *Pipeline {
	if cfg.MaxConcurrentChanges < 1 {
		cfg.MaxConcurrentChanges = 1
	}
	return &Pipeline{
		states:     states,
		ledger:     lg,
		resolver:   resolve.New(states, lg),
		assembler:  assembler,
		gateway:    gateway,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// change is one unit of work extracted from the diff report.
type change struct {
	kind   model.ChangeKind
	before *model.Asset
	after  *model.Asset
}

// Run reconciles two snapshots end to end and returns the batch report.
// Individual change failures are isolated into Rejected outcomes; the run
// itself fails only on an invalid snapshot or a pipeline bug.
func (p *Pipeline) Run(ctx context.Context, before, after *model.Snapshot) (*model.BatchReport, error) {
	started := time.Now()

	diff, err := blueprint.Diff(before, after)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: diff snapshots")
	}

	changes := collectChanges(diff, before, after)

	report := &model.BatchReport{
		RunID:          uuid.NewString(),
		BeforeRevision: before.Revision,
		AfterRevision:  after.Revision,
		StartedAt:      started,
		Outcomes:       make([]model.DispatchOutcome, len(changes)),
	}

	zap.L().Info("reconciliation run started",
		zap.String("run_id", report.RunID),
		zap.String("before_revision", before.Revision),
		zap.String("after_revision", after.Revision),
		zap.Int("changes", len(changes)),
		zap.Int("concurrency", p.cfg.MaxConcurrentChanges),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrentChanges)

	for i, ch := range changes {
		g.Go(func() error {
			out, err := p.processOne(gctx, ch)
			if err != nil {
				// Unknown action kinds and other pipeline bugs abort the
				// whole run; everything else was already isolated.
				return err
			}
			report.Outcomes[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Duration = time.Since(started)
	report.Tally()

	run := model.ReconcileRun{
		ID:             report.RunID,
		BeforeRevision: report.BeforeRevision,
		AfterRevision:  report.AfterRevision,
		Committed:      report.Committed,
		Pending:        report.Pending,
		Rejected:       report.Rejected,
		Duration:       report.Duration,
		CreatedAt:      started,
	}
	if err := p.ledger.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		zap.L().Warn("failed to record run history", zap.Error(err))
	}

	zap.L().Info("reconciliation run finished",
		zap.String("run_id", report.RunID),
		zap.Int("committed", report.Committed),
		zap.Int("pending", report.Pending),
		zap.Int("rejected", report.Rejected),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// processOne runs a single change through resolve, assemble, evaluate, and
// dispatch. Failures in any stage except dispatch itself are folded into a
// Rejected outcome so that sibling changes keep flowing.
func (p *Pipeline) processOne(ctx context.Context, ch change) (model.DispatchOutcome, error) {
	switch ch.kind {
	case model.ChangeModified:
		return p.processModified(ctx, ch)
	case model.ChangeAdded:
		return p.processAdded(ctx, ch)
	case model.ChangeRemoved:
		return p.processRemoved(ctx, ch)
	default:
		return model.DispatchOutcome{}, eris.Errorf("reconcile: unknown change kind %q", ch.kind)
	}
}

func (p *Pipeline) processModified(ctx context.Context, ch change) (model.DispatchOutcome, error) {
	asset := ch.after

	delta, err := p.resolver.ResolveDelta(ctx, asset.ID, asset.Quantity, asset.Material)
	if err != nil {
		return rejected(asset.ID, ch.kind, "resolving delta failed", err), nil
	}

	pkg := p.assembler.Assemble(*delta, quality(asset), p.cfg.Project)
	rec, err := p.gateway.Evaluate(ctx, pkg)
	if err != nil {
		return rejected(asset.ID, ch.kind, "evaluation failed", err), nil
	}

	ev := dispatch.Evaluated{
		EntityID:   asset.ID,
		Kind:       ch.kind,
		CostImpact: delta.CostImpact,
		Extraction: quality(asset).Confidence,
		Rec:        rec,
	}
	if delta.LineItem != nil {
		ev.LineCode = delta.LineItem.Code
	}

	out, err := p.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		return out, err
	}

	if out.Status == model.OutcomeCommitted {
		p.refreshState(ctx, delta, asset)
	}
	return out, nil
}

func (p *Pipeline) processAdded(ctx context.Context, ch change) (model.DispatchOutcome, error) {
	asset := ch.after

	pkg := p.assembler.AssembleAdded(*asset, quality(asset), p.cfg.Project)
	rec, err := p.gateway.Evaluate(ctx, pkg)
	if err != nil {
		return rejected(asset.ID, ch.kind, "evaluation failed", err), nil
	}

	// A brand-new entity has no priced state yet, so there is no cost
	// impact to commit; the recommendation decides where it gets queued.
	out, err := p.dispatcher.Dispatch(ctx, dispatch.Evaluated{
		EntityID:   asset.ID,
		Kind:       ch.kind,
		CostImpact: decimal.Zero,
		Extraction: quality(asset).Confidence,
		Rec:        rec,
	})
	return out, err
}

func (p *Pipeline) processRemoved(ctx context.Context, ch change) (model.DispatchOutcome, error) {
	asset := ch.before

	rec, err := p.states.GetEntity(ctx, asset.ID)
	if err != nil {
		return rejected(asset.ID, ch.kind, "loading entity state failed", err), nil
	}

	var state *model.EntityState
	var li *model.LedgerLineItem
	impact := decimal.Zero
	lineCode := ""
	if rec != nil {
		state = &rec.State
		// Removal releases whatever the entity was costing.
		impact = rec.State.TotalCost.Neg()
		lineCode = rec.State.LineCode
		if lineCode != "" {
			if li, err = p.ledger.GetLineItem(ctx, lineCode); err != nil {
				return rejected(asset.ID, ch.kind, "loading line item failed", err), nil
			}
		}
	}

	pkg := p.assembler.AssembleRemoved(*asset, state, li, quality(asset), p.cfg.Project)
	recommendation, err := p.gateway.Evaluate(ctx, pkg)
	if err != nil {
		return rejected(asset.ID, ch.kind, "evaluation failed", err), nil
	}

	return p.dispatcher.Dispatch(ctx, dispatch.Evaluated{
		EntityID:   asset.ID,
		Kind:       ch.kind,
		CostImpact: impact,
		LineCode:   lineCode,
		Extraction: quality(asset).Confidence,
		Rec:        recommendation,
	})
}

// refreshState persists the newly observed attributes after a committed
// change. Best effort: the ledger write already succeeded, so a stale state
// row is logged rather than turned into a failure.
func (p *Pipeline) refreshState(ctx context.Context, delta *model.DeltaResult, asset *model.Asset) {
	state := model.EntityState{
		ID:          asset.ID,
		Quantity:    asset.Quantity,
		Material:    asset.Material,
		CostPerUnit: delta.CostPerUnit,
	}
	if delta.LineItem != nil {
		state.LineCode = delta.LineItem.Code
	}
	if delta.Vendor != nil {
		state.VendorID = delta.Vendor.ID
	}

	if err := p.resolver.CommitState(context.WithoutCancel(ctx), state); err != nil {
		zap.L().Warn("state refresh after commit failed",
			zap.String("entity_id", asset.ID),
			zap.Error(err),
		)
	}
}

func collectChanges(diff *model.DiffReport, before, after *model.Snapshot) []change {
	byIDBefore := make(map[string]*model.Asset, len(before.Assets))
	for i := range before.Assets {
		byIDBefore[before.Assets[i].ID] = &before.Assets[i]
	}
	byIDAfter := make(map[string]*model.Asset, len(after.Assets))
	for i := range after.Assets {
		byIDAfter[after.Assets[i].ID] = &after.Assets[i]
	}

	changes := make([]change, 0, diff.Total())
	for _, m := range diff.Modified {
		changes = append(changes, change{
			kind:   model.ChangeModified,
			before: byIDBefore[m.AssetID],
			after:  byIDAfter[m.AssetID],
		})
	}
	for _, a := range diff.Added {
		changes = append(changes, change{kind: model.ChangeAdded, after: byIDAfter[a.ID]})
	}
	for _, r := range diff.Removed {
		changes = append(changes, change{kind: model.ChangeRemoved, before: byIDBefore[r.ID]})
	}
	return changes
}

func quality(asset *model.Asset) evidence.DataQuality {
	conf := asset.ExtractionConfidence
	return evidence.DataQuality{
		Confidence: &conf,
		Source:     asset.ParserSource,
	}
}

func rejected(entityID string, kind model.ChangeKind, msg string, err error) model.DispatchOutcome {
	zap.L().Error("change isolated",
		zap.String("entity_id", entityID),
		zap.String("change_kind", string(kind)),
		zap.String("stage", msg),
		zap.Error(err),
	)
	return model.DispatchOutcome{
		EntityID:   entityID,
		ChangeKind: kind,
		Status:     model.OutcomeRejected,
		State:      model.StateRejected,
		Message:    msg,
		Error:      err.Error(),
	}
}

// Describe renders a one-line human summary of an outcome for CLI output.
func Describe(o model.DispatchOutcome) string {
	switch o.Status {
	case model.OutcomeCommitted:
		return fmt.Sprintf("%-12s %-9s committed  %s", o.EntityID, o.ChangeKind, o.Message)
	case model.OutcomePending:
		return fmt.Sprintf("%-12s %-9s pending    %s", o.EntityID, o.ChangeKind, o.Message)
	default:
		return fmt.Sprintf("%-12s %-9s rejected   %s: %s", o.EntityID, o.ChangeKind, o.Message, o.Error)
	}
}
