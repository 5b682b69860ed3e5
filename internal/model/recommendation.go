package model

// ActionKind is the action the reasoning service recommends for a change.
type ActionKind string

const (
	ActionCommitUpdate  ActionKind = "update_budget"
	ActionFlagForReview ActionKind = "flag_for_approval"
)

// Valid reports whether the kind is a member of the action schema enum.
func (k ActionKind) Valid() bool {
	return k == ActionCommitUpdate || k == ActionFlagForReview
}

// Recommendation is the structured output of the reasoning service for one
// evidence package. It is untrusted external input: the gateway validates
// enum membership, numeric range, and required fields before it reaches the
// dispatcher.
type Recommendation struct {
	Action        ActionKind `json:"action_type"`
	HumanRequired bool       `json:"requires_human"`

	// Confidence is the reasoning-quality score in [0,1]. Distinct from the
	// parser's extraction confidence; the two are combined at the gate.
	Confidence float64 `json:"confidence_score"`

	Rationale string `json:"reasoning"`

	// SuggestedLineCode optionally names a ledger line for new assets.
	SuggestedLineCode string `json:"recommended_budget_code,omitempty"`
}
