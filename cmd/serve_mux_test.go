package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-build/reconcile-cli/internal/ledger"
	"github.com/keystone-build/reconcile-cli/internal/model"
)

// newServeEnv builds a pipelineEnv with a real SQLite ledger and no pipeline.
// The webhook goroutine skips the run when the pipeline is nil.
func newServeEnv(t *testing.T) *pipelineEnv {
	t.Helper()
	lg, err := ledger.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { lg.Close() })
	require.NoError(t, lg.Migrate(context.Background()))

	return &pipelineEnv{Ledger: lg}
}

func writeSnapshotFixture(t *testing.T, name, revision string) string {
	t.Helper()
	body := map[string]any{
		"blueprint_id": "bp-001",
		"revision":     revision,
		"assets": []map[string]any{
			{"id": "Wall_A", "type": "wall", "material": "CMU Block", "quantity": 400, "unit": "sq ft"},
		},
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func TestBuildMux_HealthEndpoint(t *testing.T) {
	mux := buildMux(context.Background(), newServeEnv(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBuildMux_SummaryEndpoint(t *testing.T) {
	env := newServeEnv(t)
	require.NoError(t, env.Ledger.UpsertLineItem(context.Background(), model.LedgerLineItem{
		Code:        "B47",
		Description: "Cast-in-Place Concrete",
		Allocated:   decimal.NewFromInt(50000),
		Spent:       decimal.NewFromInt(30000),
	}))
	mux := buildMux(context.Background(), env)

	req := httptest.NewRequest(http.MethodGet, "/summary", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var summary model.LedgerSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	require.Len(t, summary.LineItems, 1)
	assert.Equal(t, "B47", summary.LineItems[0].Code)
}

func TestBuildMux_PendingEndpoint(t *testing.T) {
	env := newServeEnv(t)
	ctx := context.Background()
	require.NoError(t, env.Ledger.UpsertLineItem(ctx, model.LedgerLineItem{
		Code:        "B47",
		Description: "Cast-in-Place Concrete",
		Allocated:   decimal.NewFromInt(50000),
	}))
	_, err := env.Ledger.AppendPending(ctx, model.PendingChange{
		LineCode: "B47",
		EntityID: "Wall_A",
		Delta:    decimal.NewFromInt(2000),
	})
	require.NoError(t, err)
	mux := buildMux(ctx, env)

	req := httptest.NewRequest(http.MethodGet, "/pending", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var pending []model.PendingChange
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, "Wall_A", pending[0].EntityID)
}

func TestBuildMux_WebhookReconcile_Valid(t *testing.T) {
	mux := buildMux(context.Background(), newServeEnv(t))

	payload := map[string]string{
		"before_path": writeSnapshotFixture(t, "before.json", "r1"),
		"after_path":  writeSnapshotFixture(t, "after.json", "r2"),
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/webhook/reconcile", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
	assert.Equal(t, "r1", resp["before"])
	assert.Equal(t, "r2", resp["after"])

	// Give the goroutine time to hit the nil-pipeline check.
	time.Sleep(10 * time.Millisecond)
}

func TestBuildMux_WebhookReconcile_MissingPaths(t *testing.T) {
	mux := buildMux(context.Background(), newServeEnv(t))

	req := httptest.NewRequest(http.MethodPost, "/webhook/reconcile", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "before_path and after_path are required")
}

func TestBuildMux_WebhookReconcile_InvalidJSON(t *testing.T) {
	mux := buildMux(context.Background(), newServeEnv(t))

	req := httptest.NewRequest(http.MethodPost, "/webhook/reconcile", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")
}

func TestBuildMux_WebhookReconcile_BadSnapshot(t *testing.T) {
	mux := buildMux(context.Background(), newServeEnv(t))

	badPath := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(badPath, []byte(`{"revision":"r1","assets":[]}`), 0o644))

	payload := map[string]string{
		"before_path": badPath,
		"after_path":  writeSnapshotFixture(t, "after.json", "r2"),
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/webhook/reconcile", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "before snapshot invalid")
}
