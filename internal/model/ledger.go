package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PendingStatus tracks a queued change through manual review.
type PendingStatus string

const (
	PendingStatusWaiting  PendingStatus = "pending_approval"
	PendingStatusApproved PendingStatus = "approved"
	PendingStatusRejected PendingStatus = "rejected"
)

// PendingChange is a budget change awaiting human approval on a line item.
type PendingChange struct {
	ID       string          `json:"id"`
	LineCode string          `json:"line_code"`
	EntityID string          `json:"entity_id"`
	Delta    decimal.Decimal `json:"delta"`
	Status   PendingStatus   `json:"status"`

	Rationale  string              `json:"rationale,omitempty"`
	Confidence ConfidenceBreakdown `json:"confidence"`

	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// LedgerLineItem is one budget line. Owned exclusively by the ledger store;
// callers issue read/update/append requests and never persist a local copy.
type LedgerLineItem struct {
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Allocated   decimal.Decimal `json:"allocated"`
	Spent       decimal.Decimal `json:"spent"`
	Contingency decimal.Decimal `json:"contingency"`
	Pending     []PendingChange `json:"pending_changes,omitempty"`
}

// Remaining is allocated minus spent.
func (li LedgerLineItem) Remaining() decimal.Decimal {
	return li.Allocated.Sub(li.Spent)
}

// LedgerSummary aggregates the ledger across line items.
type LedgerSummary struct {
	ProjectID    string            `json:"project_id"`
	Allocated    decimal.Decimal   `json:"total_allocated"`
	Spent        decimal.Decimal   `json:"total_spent"`
	Remaining    decimal.Decimal   `json:"total_remaining"`
	PendingCount int               `json:"pending_approval_count"`
	PendingTotal decimal.Decimal   `json:"total_pending"`
	LineItems    []LineItemSummary `json:"line_items"`
}

// LineItemSummary is the per-line view inside a LedgerSummary.
type LineItemSummary struct {
	Code         string          `json:"code"`
	Description  string          `json:"description"`
	Allocated    decimal.Decimal `json:"allocated"`
	Spent        decimal.Decimal `json:"spent"`
	Remaining    decimal.Decimal `json:"remaining"`
	PendingCount int             `json:"pending_count"`
}

// ReconcileRun is the persisted record of one batch reconciliation.
type ReconcileRun struct {
	ID             string        `json:"id"`
	BeforeRevision string        `json:"before_revision"`
	AfterRevision  string        `json:"after_revision"`
	Committed      int           `json:"committed"`
	Pending        int           `json:"pending"`
	Rejected       int           `json:"rejected"`
	Duration       time.Duration `json:"duration"`
	CreatedAt      time.Time     `json:"created_at"`
}
