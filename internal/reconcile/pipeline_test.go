package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/keystone-build/reconcile-cli/internal/dispatch"
	"github.com/keystone-build/reconcile-cli/internal/evidence"
	"github.com/keystone-build/reconcile-cli/internal/ledger"
	"github.com/keystone-build/reconcile-cli/internal/model"
	"github.com/keystone-build/reconcile-cli/internal/statestore"
)

// mockGateway implements reasoner.Gateway.
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Evaluate(ctx context.Context, pkg evidence.Package) (*model.Recommendation, error) {
	args := m.Called(ctx, pkg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Recommendation), args.Error(1)
}

func testPolicy() evidence.Policy {
	return evidence.Policy{
		ApprovalThreshold: decimal.NewFromInt(5000),
		MaxContingency:    decimal.NewFromFloat(0.10),
		MinConfidence:     0.85,
	}
}

func newTestStores(t *testing.T) (*statestore.SQLiteStore, *ledger.SQLiteLedger) {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	st, err := statestore.NewSQLite(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	lg, err := ledger.NewSQLite(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { lg.Close() }) //nolint:errcheck
	require.NoError(t, lg.Migrate(ctx))

	require.NoError(t, lg.UpsertLineItem(ctx, model.LedgerLineItem{
		Code:        "B47",
		Description: "Cast-in-Place Concrete",
		Allocated:   decimal.NewFromInt(50000),
		Spent:       decimal.NewFromInt(30000),
	}))
	require.NoError(t, st.UpsertEntity(ctx, model.EntityState{
		ID:          "Wall_A",
		Category:    "wall",
		Material:    "CMU Block",
		Quantity:    400,
		Unit:        "sq ft",
		CostPerUnit: decimal.NewFromInt(20),
		TotalCost:   decimal.NewFromInt(8000),
		LineCode:    "B47",
	}))

	return st, lg
}

func newTestPipeline(t *testing.T, gw *mockGateway) (*Pipeline, *ledger.SQLiteLedger) {
	t.Helper()
	st, lg := newTestStores(t)
	gate := dispatch.Gate{MinConfidence: 0.85}
	p := New(st, lg, evidence.NewAssembler(testPolicy()), gw, dispatch.NewDispatcher(lg, gate), Config{
		MaxConcurrentChanges: 2,
	})
	return p, lg
}

func snapshot(rev string, assets ...model.Asset) *model.Snapshot {
	return &model.Snapshot{
		ID:       "bp-001",
		Revision: rev,
		Assets:   assets,
	}
}

func wall(quantity, conf float64) model.Asset {
	return model.Asset{
		ID:                   "Wall_A",
		Category:             "wall",
		Material:             "CMU Block",
		Quantity:             quantity,
		Unit:                 "sq ft",
		ExtractionConfidence: conf,
		ParserSource:         "vision_parser",
	}
}

func TestRun_AutoCommitUpdatesLedger(t *testing.T) {
	gw := new(mockGateway)
	gw.On("Evaluate", mock.Anything, mock.Anything).Return(&model.Recommendation{
		Action:     model.ActionCommitUpdate,
		Confidence: 0.92,
		Rationale:  "Within contingency.",
	}, nil).Once()

	p, lg := newTestPipeline(t, gw)

	// Wall_A grows 400 -> 500 at 20/unit: cost impact 2000.00
	report, err := p.Run(context.Background(), snapshot("r1", wall(400, 0.92)), snapshot("r2", wall(500, 0.92)))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Committed)
	assert.Equal(t, 0, report.Pending)
	assert.Equal(t, 0, report.Rejected)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, "2000", report.Outcomes[0].CostImpact.String())

	li, err := lg.GetLineItem(context.Background(), "B47")
	require.NoError(t, err)
	assert.Equal(t, "32000.00", li.Spent.StringFixed(2))

	gw.AssertExpectations(t)
}

func TestRun_LowCombinedConfidenceQueues(t *testing.T) {
	gw := new(mockGateway)
	gw.On("Evaluate", mock.Anything, mock.Anything).Return(&model.Recommendation{
		Action:     model.ActionCommitUpdate,
		Confidence: 0.95,
		Rationale:  "Routine increase.",
	}, nil).Once()

	p, lg := newTestPipeline(t, gw)

	// Extraction confidence 0.65 drags the combined score below the 0.85 gate.
	report, err := p.Run(context.Background(), snapshot("r1", wall(400, 0.65)), snapshot("r2", wall(500, 0.65)))
	require.NoError(t, err)

	assert.Equal(t, 0, report.Committed)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, 0.65, report.Outcomes[0].Confidence.Combined)

	// Spent untouched, one queued change.
	li, err := lg.GetLineItem(context.Background(), "B47")
	require.NoError(t, err)
	assert.Equal(t, "30000.00", li.Spent.StringFixed(2))

	pending, err := lg.GetPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Wall_A", pending[0].EntityID)
}

func TestRun_AddedAssetEvaluated(t *testing.T) {
	gw := new(mockGateway)
	gw.On("Evaluate", mock.Anything, mock.MatchedBy(func(pkg evidence.Package) bool {
		return pkg.Kind() == evidence.KindNewAsset && pkg.EntityID() == "HVAC_1"
	})).Return(&model.Recommendation{
		Action:        model.ActionFlagForReview,
		HumanRequired: true,
		Confidence:    0.8,
		Rationale:     "New mechanical scope.",
	}, nil).Once()

	hvac := model.Asset{ID: "HVAC_1", Category: "hvac", Quantity: 1, ExtractionConfidence: 0.88}

	p, _ := newTestPipeline(t, gw)
	report, err := p.Run(context.Background(), snapshot("r1"), snapshot("r2", hvac))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, model.ChangeAdded, report.Outcomes[0].ChangeKind)
	gw.AssertExpectations(t)
}

func TestRun_RemovedAssetCreditsBudget(t *testing.T) {
	gw := new(mockGateway)
	gw.On("Evaluate", mock.Anything, mock.MatchedBy(func(pkg evidence.Package) bool {
		return pkg.Kind() == evidence.KindRemovedAsset
	})).Return(&model.Recommendation{
		Action:     model.ActionCommitUpdate,
		Confidence: 0.95,
		Rationale:  "Scope removed from drawings.",
	}, nil).Once()

	p, lg := newTestPipeline(t, gw)
	report, err := p.Run(context.Background(), snapshot("r1", wall(400, 0.95)), snapshot("r2"))
	require.NoError(t, err)

	require.Equal(t, 1, report.Committed)
	assert.Equal(t, "-8000", report.Outcomes[0].CostImpact.String())

	li, err := lg.GetLineItem(context.Background(), "B47")
	require.NoError(t, err)
	assert.Equal(t, "22000.00", li.Spent.StringFixed(2))
}

func TestRun_EvaluationFailureIsolated(t *testing.T) {
	gw := new(mockGateway)
	gw.On("Evaluate", mock.Anything, mock.MatchedBy(func(pkg evidence.Package) bool {
		return pkg.EntityID() == "Wall_A"
	})).Return(nil, errors.New("api down")).Once()
	gw.On("Evaluate", mock.Anything, mock.MatchedBy(func(pkg evidence.Package) bool {
		return pkg.EntityID() == "HVAC_1"
	})).Return(&model.Recommendation{
		Action:        model.ActionFlagForReview,
		HumanRequired: true,
		Confidence:    0.9,
		Rationale:     "Review new scope.",
	}, nil).Once()

	hvac := model.Asset{ID: "HVAC_1", Category: "hvac", Quantity: 1, ExtractionConfidence: 0.9}

	p, _ := newTestPipeline(t, gw)
	report, err := p.Run(context.Background(),
		snapshot("r1", wall(400, 0.9)),
		snapshot("r2", wall(500, 0.9), hvac),
	)
	require.NoError(t, err)

	// One change failed, the other still completed.
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, 1, report.Pending)
	gw.AssertExpectations(t)
}

func TestRun_NoChanges(t *testing.T) {
	gw := new(mockGateway)

	p, lg := newTestPipeline(t, gw)
	report, err := p.Run(context.Background(), snapshot("r1", wall(400, 0.9)), snapshot("r2", wall(400, 0.9)))
	require.NoError(t, err)

	assert.Zero(t, report.Committed+report.Pending+report.Rejected)
	gw.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything)

	// The run still lands in history.
	runs, err := lg.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.RunID, runs[0].ID)
}

func TestRun_InvalidSnapshotFailsWholeRun(t *testing.T) {
	gw := new(mockGateway)
	p, _ := newTestPipeline(t, gw)

	dup := snapshot("r2", wall(400, 0.9), wall(500, 0.9))
	_, err := p.Run(context.Background(), snapshot("r1"), dup)
	require.Error(t, err)
	gw.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything)
}

func TestRun_CommittedChangeRefreshesState(t *testing.T) {
	gw := new(mockGateway)
	gw.On("Evaluate", mock.Anything, mock.Anything).Return(&model.Recommendation{
		Action:     model.ActionCommitUpdate,
		Confidence: 0.92,
		Rationale:  "OK.",
	}, nil).Once()

	st, lg := newTestStores(t)
	gate := dispatch.Gate{MinConfidence: 0.85}
	p := New(st, lg, evidence.NewAssembler(testPolicy()), gw, dispatch.NewDispatcher(lg, gate), Config{})

	_, err := p.Run(context.Background(), snapshot("r1", wall(400, 0.92)), snapshot("r2", wall(500, 0.92)))
	require.NoError(t, err)

	rec, err := st.GetEntity(context.Background(), "Wall_A")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 500.0, rec.State.Quantity)
	assert.Equal(t, "10000", rec.State.TotalCost.String())
}
