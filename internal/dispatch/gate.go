// Package dispatch applies the confidence gate to evaluated changes and
// routes each one to exactly one terminal outcome.
package dispatch

import "github.com/keystone-build/reconcile-cli/internal/model"

// Combined merges the reasoning score with the parser's extraction score by
// taking the minimum. The weaker signal always wins; a change is never more
// trustworthy than its worst input. When no extraction score exists the
// reasoning score stands alone.
func Combined(reasoning float64, extraction *float64) float64 {
	if extraction == nil {
		return reasoning
	}
	if *extraction < reasoning {
		return *extraction
	}
	return reasoning
}

// Breakdown builds the full confidence record for an evaluated change.
func Breakdown(reasoning float64, extraction *float64) model.ConfidenceBreakdown {
	return model.ConfidenceBreakdown{
		Reasoning:  reasoning,
		Extraction: extraction,
		Combined:   Combined(reasoning, extraction),
	}
}

// Gate is the auto-commit policy.
type Gate struct {
	// MinConfidence is the combined-score floor for committing without a
	// human in the loop.
	MinConfidence float64
}

// ShouldAutoCommit reports whether a recommendation clears the gate. All
// three conditions must hold: the model recommends a commit, no human was
// requested, and the combined confidence meets the floor. HumanRequired is
// an absolute veto regardless of score.
func (g Gate) ShouldAutoCommit(rec *model.Recommendation, combined float64) bool {
	return rec.Action == model.ActionCommitUpdate &&
		!rec.HumanRequired &&
		combined >= g.MinConfidence
}
