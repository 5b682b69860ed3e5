package reasoner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/keystone-build/reconcile-cli/internal/evidence"
	"github.com/keystone-build/reconcile-cli/internal/model"
	"github.com/keystone-build/reconcile-cli/internal/resilience"
	"github.com/keystone-build/reconcile-cli/pkg/anthropic"
)

func toolResponse(input string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		ID:         "msg_1",
		StopReason: "tool_use",
		Content: []anthropic.ContentBlock{
			{Type: "tool_use", Name: ToolName, Input: json.RawMessage(input)},
		},
	}
}

func TestParseRecommendation_Valid(t *testing.T) {
	resp := toolResponse(`{
		"action_type": "update_budget",
		"requires_human": false,
		"confidence_score": 0.92,
		"reasoning": "Quantity increase is within contingency.",
		"recommended_budget_code": "B47"
	}`)

	rec, err := ParseRecommendation(resp)
	require.NoError(t, err)
	assert.Equal(t, model.ActionCommitUpdate, rec.Action)
	assert.False(t, rec.HumanRequired)
	assert.Equal(t, 0.92, rec.Confidence)
	assert.Equal(t, "Quantity increase is within contingency.", rec.Rationale)
	assert.Equal(t, "B47", rec.SuggestedLineCode)
}

func TestParseRecommendation_FlagForApproval(t *testing.T) {
	resp := toolResponse(`{
		"action_type": "flag_for_approval",
		"requires_human": true,
		"confidence_score": 0.4,
		"reasoning": "Material change alters structural scope."
	}`)

	rec, err := ParseRecommendation(resp)
	require.NoError(t, err)
	assert.Equal(t, model.ActionFlagForReview, rec.Action)
	assert.True(t, rec.HumanRequired)
	assert.Empty(t, rec.SuggestedLineCode)
}

func TestParseRecommendation_NoToolBlock(t *testing.T) {
	resp := &anthropic.MessageResponse{
		StopReason: "end_turn",
		Content:    []anthropic.ContentBlock{{Type: "text", Text: "I think this is fine."}},
	}

	_, err := ParseRecommendation(resp)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoRecommendation)
}

func TestParseRecommendation_WrongTool(t *testing.T) {
	resp := &anthropic.MessageResponse{
		StopReason: "tool_use",
		Content: []anthropic.ContentBlock{
			{Type: "tool_use", Name: "some_other_tool", Input: json.RawMessage(`{}`)},
		},
	}

	_, err := ParseRecommendation(resp)
	assert.ErrorIs(t, err, ErrMalformedRecommendation)
}

func TestParseRecommendation_MissingRequiredFields(t *testing.T) {
	cases := map[string]string{
		"action_type":      `{"requires_human":false,"confidence_score":0.9,"reasoning":"x"}`,
		"requires_human":   `{"action_type":"update_budget","confidence_score":0.9,"reasoning":"x"}`,
		"confidence_score": `{"action_type":"update_budget","requires_human":false,"reasoning":"x"}`,
		"reasoning":        `{"action_type":"update_budget","requires_human":false,"confidence_score":0.9}`,
		"empty reasoning":  `{"action_type":"update_budget","requires_human":false,"confidence_score":0.9,"reasoning":""}`,
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRecommendation(toolResponse(input))
			assert.ErrorIs(t, err, ErrMalformedRecommendation)
		})
	}
}

func TestParseRecommendation_UnknownAction(t *testing.T) {
	_, err := ParseRecommendation(toolResponse(
		`{"action_type":"delete_budget","requires_human":false,"confidence_score":0.9,"reasoning":"x"}`,
	))
	assert.ErrorIs(t, err, ErrMalformedRecommendation)
}

func TestParseRecommendation_ConfidenceOutOfRange(t *testing.T) {
	for _, input := range []string{
		`{"action_type":"update_budget","requires_human":false,"confidence_score":1.2,"reasoning":"x"}`,
		`{"action_type":"update_budget","requires_human":false,"confidence_score":-0.1,"reasoning":"x"}`,
	} {
		_, err := ParseRecommendation(toolResponse(input))
		assert.ErrorIs(t, err, ErrMalformedRecommendation)
	}
}

func TestParseRecommendation_InvalidJSON(t *testing.T) {
	_, err := ParseRecommendation(toolResponse(`{not json`))
	assert.ErrorIs(t, err, ErrMalformedRecommendation)
}

func changedAssetPackage() evidence.Package {
	asm := evidence.NewAssembler(evidence.Policy{
		ApprovalThreshold: decimal.NewFromInt(5000),
		MaxContingency:    decimal.NewFromFloat(0.10),
		MinConfidence:     0.85,
	})
	conf := 0.95
	return asm.Assemble(model.DeltaResult{
		EntityID:        "Wall_A",
		Exists:          true,
		CurrentQuantity: 400,
		NewQuantity:     500,
		QuantityDelta:   100,
		CurrentMaterial: "CMU Block",
		NewMaterial:     "CMU Block",
		CostPerUnit:     decimal.NewFromInt(20),
		CostImpact:      decimal.NewFromInt(2000),
	}, evidence.DataQuality{Confidence: &conf, Source: "vision_parser"}, nil)
}

func TestEvaluate_Success(t *testing.T) {
	mc := new(anthropic.MockClient)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.ForceTool == ToolName && len(req.Tools) == 1 && len(req.System) == 1
	})).Return(toolResponse(`{
		"action_type": "update_budget",
		"requires_human": false,
		"confidence_score": 0.92,
		"reasoning": "Within contingency."
	}`), nil)

	gw := NewAnthropicGateway(mc, Config{Model: "claude-sonnet-4-5-20250929"}, nil)

	rec, err := gw.Evaluate(context.Background(), changedAssetPackage())
	require.NoError(t, err)
	assert.Equal(t, model.ActionCommitUpdate, rec.Action)
	mc.AssertExpectations(t)
}

func TestEvaluate_NonTransientErrorNotRetried(t *testing.T) {
	mc := new(anthropic.MockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("invalid api key")).Once()

	gw := NewAnthropicGateway(mc, Config{
		Retry: resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond},
	}, nil)

	_, err := gw.Evaluate(context.Background(), changedAssetPackage())
	require.Error(t, err)
	mc.AssertExpectations(t)
}

func TestEvaluate_TransientErrorRetried(t *testing.T) {
	mc := new(anthropic.MockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("overloaded"), 529)).Once()
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(toolResponse(`{
			"action_type": "flag_for_approval",
			"requires_human": true,
			"confidence_score": 0.7,
			"reasoning": "Needs review."
		}`), nil).Once()

	gw := NewAnthropicGateway(mc, Config{
		Retry: resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond},
	}, nil)

	rec, err := gw.Evaluate(context.Background(), changedAssetPackage())
	require.NoError(t, err)
	assert.Equal(t, model.ActionFlagForReview, rec.Action)
	mc.AssertExpectations(t)
}

func TestEvaluate_MalformedNotRetried(t *testing.T) {
	mc := new(anthropic.MockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(toolResponse(`{"action_type":"update_budget"}`), nil).Once()

	gw := NewAnthropicGateway(mc, Config{
		Retry: resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond},
	}, nil)

	_, err := gw.Evaluate(context.Background(), changedAssetPackage())
	assert.ErrorIs(t, err, ErrMalformedRecommendation)
	mc.AssertExpectations(t)
}

func TestEvaluate_CircuitOpenFailsFast(t *testing.T) {
	mc := new(anthropic.MockClient)
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
	})
	// Trip the breaker before the gateway call.
	_ = breaker.Execute(context.Background(), func(context.Context) error {
		return errors.New("fail")
	})

	gw := NewAnthropicGateway(mc, Config{}, breaker)

	_, err := gw.Evaluate(context.Background(), changedAssetPackage())
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	mc.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}
