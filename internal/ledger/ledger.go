package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/keystone-build/reconcile-cli/internal/model"
)

// ErrWriteFailed marks a failed ledger mutation. A dispatch whose commit hits
// this becomes Rejected; it is never treated as success.
var ErrWriteFailed = errors.New("ledger write failed")

// ErrLineNotFound marks an update against an unknown line-item code.
var ErrLineNotFound = errors.New("ledger line item not found")

// ErrPendingNotFound marks an approval/rejection against an unknown or
// already-resolved pending change.
var ErrPendingNotFound = errors.New("pending change not found")

// Ledger is the capability set of the budget store. UpdateSpent and
// AppendPending are atomic per line item: concurrent dispatches against the
// same line code must not lose updates.
type Ledger interface {
	GetLineItem(ctx context.Context, code string) (*model.LedgerLineItem, error)
	UpsertLineItem(ctx context.Context, li model.LedgerLineItem) error

	// UpdateSpent applies delta to the line's spent total in one atomic
	// read-modify-write executed by the store.
	UpdateSpent(ctx context.Context, code string, delta decimal.Decimal) error

	// AppendPending enqueues a change awaiting approval and returns its id.
	AppendPending(ctx context.Context, change model.PendingChange) (string, error)

	GetPending(ctx context.Context) ([]model.PendingChange, error)
	GetSummary(ctx context.Context) (*model.LedgerSummary, error)

	// ApprovePending atomically applies the pending delta to spent and marks
	// the queue entry approved. A distinct, explicitly-logged transition: it
	// does not reopen the original dispatch outcome.
	ApprovePending(ctx context.Context, pendingID, approvedBy string) error

	// RejectPending marks the queue entry rejected without touching spent.
	RejectPending(ctx context.Context, pendingID, rejectedBy, reason string) error

	// Run history.
	RecordRun(ctx context.Context, run model.ReconcileRun) error
	ListRuns(ctx context.Context, limit int) ([]model.ReconcileRun, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Money is stored as integer cents so per-statement arithmetic stays exact
// and atomic across both backends.

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}
