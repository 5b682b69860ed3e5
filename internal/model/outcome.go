package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChangeState is the per-change state machine position.
//
//	Detected → Evaluated → {AutoCommit, PendingApproval} → {Committed, Rejected}
//
// Committed and Rejected are terminal: no automatic transition leaves them.
// A later manual approval or rejection is a distinct, separately-logged
// transition against the ledger's pending queue, not a reopening.
type ChangeState string

const (
	StateDetected        ChangeState = "detected"
	StateEvaluated       ChangeState = "evaluated"
	StateAutoCommit      ChangeState = "auto_commit"
	StatePendingApproval ChangeState = "pending_approval"
	StateCommitted       ChangeState = "committed"
	StateRejected        ChangeState = "rejected"
)

// OutcomeStatus is the final per-change result category.
type OutcomeStatus string

const (
	OutcomeCommitted OutcomeStatus = "committed"
	OutcomePending   OutcomeStatus = "pending_approval"
	OutcomeRejected  OutcomeStatus = "rejected"
)

// ConfidenceBreakdown carries both component scores alongside the conservative
// combination, so a reviewer can see which signal vetoed an auto-commit.
type ConfidenceBreakdown struct {
	Reasoning  float64  `json:"reasoning"`
	Extraction *float64 `json:"extraction,omitempty"`
	Combined   float64  `json:"combined"`
}

// DispatchOutcome is the terminal per-change result. Once written it is not
// silently overwritten.
type DispatchOutcome struct {
	EntityID   string              `json:"entity_id"`
	ChangeKind ChangeKind          `json:"change_kind"`
	Status     OutcomeStatus       `json:"status"`
	State      ChangeState         `json:"state"`
	Confidence ConfidenceBreakdown `json:"confidence"`
	CostImpact decimal.Decimal     `json:"cost_impact"`
	LineCode   string              `json:"line_code,omitempty"`
	Message    string              `json:"message"`
	Error      string              `json:"error,omitempty"`
}

// BatchReport aggregates the outcomes of one reconciliation run.
type BatchReport struct {
	RunID          string            `json:"run_id"`
	BeforeRevision string            `json:"before_revision"`
	AfterRevision  string            `json:"after_revision"`
	StartedAt      time.Time         `json:"started_at"`
	Duration       time.Duration     `json:"duration"`
	Committed      int               `json:"committed"`
	Pending        int               `json:"pending"`
	Rejected       int               `json:"rejected"`
	Outcomes       []DispatchOutcome `json:"outcomes"`
}

// Tally recomputes the counters from the outcome list.
func (r *BatchReport) Tally() {
	r.Committed, r.Pending, r.Rejected = 0, 0, 0
	for _, o := range r.Outcomes {
		switch o.Status {
		case OutcomeCommitted:
			r.Committed++
		case OutcomePending:
			r.Pending++
		case OutcomeRejected:
			r.Rejected++
		}
	}
}
