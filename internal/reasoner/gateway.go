// Package reasoner sends assembled evidence to the model and turns the
// forced tool call into a validated recommendation.
package reasoner

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/keystone-build/reconcile-cli/internal/evidence"
	"github.com/keystone-build/reconcile-cli/internal/model"
	"github.com/keystone-build/reconcile-cli/internal/resilience"
	"github.com/keystone-build/reconcile-cli/pkg/anthropic"
)

var (
	// ErrNoRecommendation means the model produced no usable tool call.
	ErrNoRecommendation = errors.New("no recommendation returned")

	// ErrMalformedRecommendation means the tool call violated the schema.
	// Malformed output is never coerced into a recommendation.
	ErrMalformedRecommendation = errors.New("malformed recommendation")
)

// Gateway evaluates one evidence package and returns the model's
// recommendation.
type Gateway interface {
	Evaluate(ctx context.Context, pkg evidence.Package) (*model.Recommendation, error)
}

// Config controls the Anthropic-backed gateway.
type Config struct {
	Model       string
	MaxTokens   int64
	CallTimeout time.Duration

	// RequestsPerSecond throttles outbound calls. Zero disables the limiter.
	RequestsPerSecond float64

	Retry resilience.RetryConfig
}

// AnthropicGateway implements Gateway against the Anthropic messages API
// with per-call timeouts, transient-only retries, and a circuit breaker.
type AnthropicGateway struct {
	client  anthropic.Client
	cfg     Config
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// NewAnthropicGateway builds a gateway around the given client.
func NewAnthropicGateway(client anthropic.Client, cfg Config, breaker *resilience.CircuitBreaker) *AnthropicGateway {
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5-20250929"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	cfg.Retry.ShouldRetry = isRetryable

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &AnthropicGateway{
		client:  client,
		cfg:     cfg,
		limiter: limiter,
		breaker: breaker,
	}
}

// Prime warms the prompt cache with the shared system framing so that the
// per-change evaluations that follow read it from cache.
func (g *AnthropicGateway) Prime(ctx context.Context) error {
	req := anthropic.MessageRequest{
		Model:     g.cfg.Model,
		MaxTokens: 16,
		System:    anthropic.BuildCachedSystemBlocks(evidence.SystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: "Acknowledge receipt of the analyst framing."},
		},
	}

	resp, err := anthropic.PrimerRequest(ctx, g.client, req)
	if err != nil {
		return eris.Wrap(err, "reasoner: prime cache")
	}
	resp.Usage.LogCost(g.cfg.Model, "prime")
	return nil
}

// Evaluate renders the evidence, forces the recommend_action tool, and
// validates the model's tool input. The returned error carries
// ErrNoRecommendation or ErrMalformedRecommendation in its chain when the
// model response itself is at fault.
func (g *AnthropicGateway) Evaluate(ctx context.Context, pkg evidence.Package) (*model.Recommendation, error) {
	prompt, err := pkg.Render()
	if err != nil {
		return nil, eris.Wrapf(err, "reasoner: render evidence for %s", pkg.EntityID())
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "reasoner: rate limit wait")
		}
	}

	req := anthropic.MessageRequest{
		Model:     g.cfg.Model,
		MaxTokens: g.cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(evidence.SystemPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
		Tools:     []anthropic.Tool{RecommendActionTool()},
		ForceTool: ToolName,
	}

	resp, err := g.callWithResilience(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(err, "reasoner: evaluate %s", pkg.EntityID())
	}
	resp.Usage.LogCost(g.cfg.Model, "evaluate")

	rec, err := ParseRecommendation(resp)
	if err != nil {
		return nil, eris.Wrapf(err, "reasoner: evaluate %s", pkg.EntityID())
	}

	zap.L().Debug("recommendation received",
		zap.String("entity_id", pkg.EntityID()),
		zap.String("action", string(rec.Action)),
		zap.Bool("requires_human", rec.HumanRequired),
		zap.Float64("confidence", rec.Confidence),
	)
	return rec, nil
}

func (g *AnthropicGateway) callWithResilience(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	retryCfg := g.cfg.Retry
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "create_message")

	return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()

		if g.breaker != nil {
			return resilience.ExecuteVal(callCtx, g.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
				return g.client.CreateMessage(ctx, req)
			})
		}
		return g.client.CreateMessage(callCtx, req)
	})
}

// toolInput mirrors the recommend_action schema. Pointer fields distinguish
// an absent required field from a zero value.
type toolInput struct {
	ActionType            *string  `json:"action_type"`
	RequiresHuman         *bool    `json:"requires_human"`
	ConfidenceScore       *float64 `json:"confidence_score"`
	Reasoning             *string  `json:"reasoning"`
	RecommendedBudgetCode string   `json:"recommended_budget_code"`
}

// ParseRecommendation extracts and validates the recommend_action tool call
// from a model response.
func ParseRecommendation(resp *anthropic.MessageResponse) (*model.Recommendation, error) {
	block := resp.ToolUse()
	if block == nil {
		return nil, eris.Wrapf(ErrNoRecommendation, "stop_reason %q with no tool_use block", resp.StopReason)
	}
	if block.Name != ToolName {
		return nil, eris.Wrapf(ErrMalformedRecommendation, "unexpected tool %q", block.Name)
	}

	var in toolInput
	if err := json.Unmarshal(block.Input, &in); err != nil {
		return nil, eris.Wrap(errors.Join(ErrMalformedRecommendation, err), "decode tool input")
	}

	switch {
	case in.ActionType == nil:
		return nil, eris.Wrap(ErrMalformedRecommendation, "missing action_type")
	case in.RequiresHuman == nil:
		return nil, eris.Wrap(ErrMalformedRecommendation, "missing requires_human")
	case in.ConfidenceScore == nil:
		return nil, eris.Wrap(ErrMalformedRecommendation, "missing confidence_score")
	case in.Reasoning == nil || *in.Reasoning == "":
		return nil, eris.Wrap(ErrMalformedRecommendation, "missing reasoning")
	}

	action := model.ActionKind(*in.ActionType)
	if !action.Valid() {
		return nil, eris.Wrapf(ErrMalformedRecommendation, "unknown action_type %q", *in.ActionType)
	}
	if *in.ConfidenceScore < 0 || *in.ConfidenceScore > 1 {
		return nil, eris.Wrapf(ErrMalformedRecommendation, "confidence_score %v out of range", *in.ConfidenceScore)
	}

	return &model.Recommendation{
		Action:            action,
		HumanRequired:     *in.RequiresHuman,
		Confidence:        *in.ConfidenceScore,
		Rationale:         *in.Reasoning,
		SuggestedLineCode: in.RecommendedBudgetCode,
	}, nil
}

// isRetryable treats Anthropic API errors as retryable only for transient
// HTTP statuses; everything else falls back to the generic transport check.
func isRetryable(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		// 529 is the API's overloaded signal.
		return apiErr.StatusCode == 529 || resilience.IsTransientHTTPStatus(apiErr.StatusCode)
	}
	return resilience.IsTransient(err)
}
