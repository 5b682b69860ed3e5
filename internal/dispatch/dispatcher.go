package dispatch

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/keystone-build/reconcile-cli/internal/ledger"
	"github.com/keystone-build/reconcile-cli/internal/model"
)

// Evaluated is one change that has passed through the reasoning gateway and
// is ready for dispatch.
type Evaluated struct {
	EntityID   string
	Kind       model.ChangeKind
	CostImpact decimal.Decimal

	// LineCode is the budget line resolved from the entity's state, if any.
	// The recommendation's suggested code takes precedence when present.
	LineCode string

	// Extraction is the parser's confidence for this entity, nil when the
	// change never went through extraction.
	Extraction *float64

	Rec *model.Recommendation
}

// Dispatcher routes evaluated changes into the budget ledger.
type Dispatcher struct {
	ledger ledger.Ledger
	gate   Gate
}

// NewDispatcher builds a dispatcher over the given ledger.
func NewDispatcher(l ledger.Ledger, gate Gate) *Dispatcher {
	return &Dispatcher{ledger: l, gate: gate}
}

// Dispatch resolves one evaluated change to its terminal outcome. Every
// change gets exactly one outcome; ledger failures surface as a Rejected
// outcome rather than an error. The only error return is an unknown action
// kind, which indicates a bug upstream and aborts the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Evaluated) (model.DispatchOutcome, error) {
	breakdown := Breakdown(ev.Rec.Confidence, ev.Extraction)

	code := ev.Rec.SuggestedLineCode
	if code == "" {
		code = ev.LineCode
	}

	out := model.DispatchOutcome{
		EntityID:   ev.EntityID,
		ChangeKind: ev.Kind,
		State:      model.StateEvaluated,
		Confidence: breakdown,
		CostImpact: ev.CostImpact,
		LineCode:   code,
	}

	switch ev.Rec.Action {
	case model.ActionCommitUpdate:
		if d.gate.ShouldAutoCommit(ev.Rec, breakdown.Combined) && code != "" {
			return d.commit(ctx, ev, code, out), nil
		}
		return d.enqueue(ctx, ev, code, out), nil

	case model.ActionFlagForReview:
		return d.enqueue(ctx, ev, code, out), nil

	default:
		return out, eris.Errorf("dispatch: unknown action kind %q for %s", ev.Rec.Action, ev.EntityID)
	}
}

// commit applies the cost impact to the ledger. The write runs detached from
// the caller's cancellation: once a commit is decided it either completes or
// fails on its own terms, never half-applied because a deadline fired.
func (d *Dispatcher) commit(ctx context.Context, ev Evaluated, code string, out model.DispatchOutcome) model.DispatchOutcome {
	out.State = model.StateAutoCommit

	writeCtx := context.WithoutCancel(ctx)
	if err := d.ledger.UpdateSpent(writeCtx, code, ev.CostImpact); err != nil {
		zap.L().Error("auto-commit write failed",
			zap.String("entity_id", ev.EntityID),
			zap.String("line_code", code),
			zap.Error(err),
		)
		out.State = model.StateRejected
		out.Status = model.OutcomeRejected
		out.Message = fmt.Sprintf("auto-commit to %s failed", code)
		out.Error = err.Error()
		return out
	}

	zap.L().Info("change auto-committed",
		zap.String("entity_id", ev.EntityID),
		zap.String("line_code", code),
		zap.String("cost_impact", ev.CostImpact.StringFixed(2)),
		zap.Float64("combined_confidence", out.Confidence.Combined),
	)
	out.State = model.StateCommitted
	out.Status = model.OutcomeCommitted
	out.Message = fmt.Sprintf("committed %s to %s", ev.CostImpact.StringFixed(2), code)
	return out
}

// enqueue routes the change to the pending-approval queue.
func (d *Dispatcher) enqueue(ctx context.Context, ev Evaluated, code string, out model.DispatchOutcome) model.DispatchOutcome {
	out.State = model.StatePendingApproval

	change := model.PendingChange{
		LineCode:   code,
		EntityID:   ev.EntityID,
		Delta:      ev.CostImpact,
		Status:     model.PendingStatusWaiting,
		Rationale:  ev.Rec.Rationale,
		Confidence: out.Confidence,
	}

	writeCtx := context.WithoutCancel(ctx)
	id, err := d.ledger.AppendPending(writeCtx, change)
	if err != nil {
		zap.L().Error("pending enqueue failed",
			zap.String("entity_id", ev.EntityID),
			zap.Error(err),
		)
		out.State = model.StateRejected
		out.Status = model.OutcomeRejected
		out.Message = "failed to queue for approval"
		out.Error = err.Error()
		return out
	}

	zap.L().Info("change queued for approval",
		zap.String("entity_id", ev.EntityID),
		zap.String("pending_id", id),
		zap.Bool("requires_human", ev.Rec.HumanRequired),
		zap.Float64("combined_confidence", out.Confidence.Combined),
	)
	out.Status = model.OutcomePending
	out.Message = fmt.Sprintf("queued for approval as %s", id)
	return out
}
