package reasoner

import "github.com/keystone-build/reconcile-cli/pkg/anthropic"

// ToolName is the tool the model must call to deliver its recommendation.
const ToolName = "recommend_action"

// RecommendActionTool returns the tool definition the model is forced to
// call. The input schema is the contract: responses that do not satisfy it
// are rejected rather than coerced.
func RecommendActionTool() anthropic.Tool {
	return anthropic.Tool{
		Name:        ToolName,
		Description: "Recommend how to handle a detected blueprint change against the project budget",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action_type": map[string]any{
					"type":        "string",
					"enum":        []string{"update_budget", "flag_for_approval"},
					"description": "Whether to commit the cost impact to the budget or route the change to a human",
				},
				"requires_human": map[string]any{
					"type":        "boolean",
					"description": "True when a human must review this change regardless of confidence",
				},
				"confidence_score": map[string]any{
					"type":        "number",
					"minimum":     0,
					"maximum":     1,
					"description": "Confidence in this recommendation, from 0 to 1",
				},
				"reasoning": map[string]any{
					"type":        "string",
					"description": "Short explanation of the recommendation",
				},
				"recommended_budget_code": map[string]any{
					"type":        "string",
					"description": "Budget line code to apply the change to, when one can be determined",
				},
			},
			"required": []string{"action_type", "requires_human", "confidence_score", "reasoning"},
		},
	}
}
