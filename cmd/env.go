package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/keystone-build/reconcile-cli/internal/dispatch"
	"github.com/keystone-build/reconcile-cli/internal/evidence"
	"github.com/keystone-build/reconcile-cli/internal/ledger"
	"github.com/keystone-build/reconcile-cli/internal/reasoner"
	"github.com/keystone-build/reconcile-cli/internal/reconcile"
	"github.com/keystone-build/reconcile-cli/internal/resilience"
	"github.com/keystone-build/reconcile-cli/internal/statestore"
	"github.com/keystone-build/reconcile-cli/pkg/anthropic"
)

// initStateStore opens the configured entity state store.
func initStateStore(ctx context.Context) (statestore.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return statestore.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "sqlite":
		return statestore.NewSQLite(cfg.Store.SQLitePath)
	default:
		return nil, eris.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}

// initLedger opens the configured budget ledger.
func initLedger(ctx context.Context) (ledger.Ledger, error) {
	switch cfg.Ledger.Driver {
	case "postgres":
		return ledger.NewPostgres(ctx, cfg.Ledger.DatabaseURL)
	case "sqlite":
		return ledger.NewSQLite(cfg.Ledger.SQLitePath)
	default:
		return nil, eris.Errorf("unknown ledger driver: %s", cfg.Ledger.Driver)
	}
}

// pipelineEnv bundles everything a reconciliation run needs.
type pipelineEnv struct {
	States   statestore.Store
	Ledger   ledger.Ledger
	Gateway  *reasoner.AnthropicGateway
	Pipeline *reconcile.Pipeline
}

// Close releases both stores.
func (e *pipelineEnv) Close() {
	if err := e.Ledger.Close(); err != nil {
		zap.L().Warn("close ledger", zap.Error(err))
	}
	if err := e.States.Close(); err != nil {
		zap.L().Warn("close state store", zap.Error(err))
	}
}

// initPipeline wires stores, policy, the model gateway, and the dispatcher
// into a ready pipeline.
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	states, err := initStateStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := states.Migrate(ctx); err != nil {
		return nil, eris.Wrap(err, "migrate state store")
	}

	lg, err := initLedger(ctx)
	if err != nil {
		return nil, err
	}
	if err := lg.Migrate(ctx); err != nil {
		return nil, eris.Wrap(err, "migrate ledger")
	}

	approval, contingency, err := cfg.Policy.Thresholds()
	if err != nil {
		return nil, err
	}
	policy := evidence.Policy{
		ApprovalThreshold: approval,
		MaxContingency:    contingency,
		MinConfidence:     cfg.Policy.MinConfidence,
	}

	breaker := resilience.NewCircuitBreaker(resilience.FromCircuitConfig(
		cfg.Circuit.FailureThreshold,
		cfg.Circuit.ResetTimeoutSecs,
	))

	gateway := reasoner.NewAnthropicGateway(
		anthropic.NewClient(cfg.Anthropic.Key),
		reasoner.Config{
			Model:             cfg.Anthropic.Model,
			MaxTokens:         cfg.Anthropic.MaxTokens,
			CallTimeout:       time.Duration(cfg.Anthropic.TimeoutSecs) * time.Second,
			RequestsPerSecond: cfg.Anthropic.RequestsPerSecond,
			Retry: resilience.FromRetryConfig(
				cfg.Retry.MaxAttempts,
				cfg.Retry.InitialBackoffMs,
				cfg.Retry.MaxBackoffMs,
				cfg.Retry.Multiplier,
				cfg.Retry.JitterFraction,
			),
		},
		breaker,
	)

	var project *evidence.ProjectContext
	if cfg.Project.Name != "" {
		project = &evidence.ProjectContext{
			ProjectName: cfg.Project.Name,
			FloorName:   cfg.Project.Floor,
		}
	}

	dispatcher := dispatch.NewDispatcher(lg, dispatch.Gate{MinConfidence: cfg.Policy.MinConfidence})

	p := reconcile.New(states, lg, evidence.NewAssembler(policy), gateway, dispatcher, reconcile.Config{
		MaxConcurrentChanges: cfg.Batch.MaxConcurrentChanges,
		Project:              project,
	})

	return &pipelineEnv{
		States:   states,
		Ledger:   lg,
		Gateway:  gateway,
		Pipeline: p,
	}, nil
}
