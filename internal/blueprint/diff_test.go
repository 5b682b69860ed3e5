package blueprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-build/reconcile-cli/internal/model"
)

func snap(rev string, assets ...model.Asset) *model.Snapshot {
	return &model.Snapshot{ID: "bp-001", Revision: rev, Assets: assets}
}

func asset(id string, quantity float64) model.Asset {
	return model.Asset{
		ID:       id,
		Category: "wall",
		Material: "CMU Block",
		Quantity: quantity,
		Unit:     "sq ft",
	}
}

func TestDiff_QuantityChange(t *testing.T) {
	before := snap("r1", asset("Wall_A", 400))
	after := snap("r2", asset("Wall_A", 500))

	report, err := Diff(before, after)
	require.NoError(t, err)

	assert.Empty(t, report.Added)
	assert.Empty(t, report.Removed)
	require.Len(t, report.Modified, 1)

	m := report.Modified[0]
	assert.Equal(t, "Wall_A", m.AssetID)
	require.NotNil(t, m.Diffs.Quantity)
	assert.Equal(t, 400.0, m.Diffs.Quantity.Before)
	assert.Equal(t, 500.0, m.Diffs.Quantity.After)
	assert.Equal(t, 100.0, m.Diffs.Quantity.Delta)
	assert.Nil(t, m.Diffs.Material)
}

func TestDiff_AddedAndRemoved(t *testing.T) {
	before := snap("r1", asset("Wall_A", 400), asset("Door_1", 2))
	after := snap("r2", asset("Wall_A", 400), asset("HVAC_1", 1))

	report, err := Diff(before, after)
	require.NoError(t, err)

	require.Len(t, report.Added, 1)
	assert.Equal(t, "HVAC_1", report.Added[0].ID)
	require.Len(t, report.Removed, 1)
	assert.Equal(t, "Door_1", report.Removed[0].ID)
	assert.Empty(t, report.Modified)
	assert.Equal(t, 1, report.Summary.AddedCount)
	assert.Equal(t, 1, report.Summary.RemovedCount)
}

func TestDiff_MaterialChange(t *testing.T) {
	a := asset("Wall_A", 400)
	b := a
	b.Material = "Poured Concrete"

	report, err := Diff(snap("r1", a), snap("r2", b))
	require.NoError(t, err)

	require.Len(t, report.Modified, 1)
	require.NotNil(t, report.Modified[0].Diffs.Material)
	assert.Equal(t, "CMU Block", report.Modified[0].Diffs.Material.Before)
	assert.Equal(t, "Poured Concrete", report.Modified[0].Diffs.Material.After)
	assert.Nil(t, report.Modified[0].Diffs.Quantity)
}

func TestDiff_DimensionsChange(t *testing.T) {
	a := asset("Wall_A", 400)
	a.Dimensions = &model.Dimensions{Length: 40, Height: 10}
	b := asset("Wall_A", 400)
	b.Dimensions = &model.Dimensions{Length: 50, Height: 10}

	report, err := Diff(snap("r1", a), snap("r2", b))
	require.NoError(t, err)

	require.Len(t, report.Modified, 1)
	assert.NotNil(t, report.Modified[0].Diffs.Dimensions)
}

func TestDiff_NoChanges(t *testing.T) {
	before := snap("r1", asset("Wall_A", 400), asset("Door_1", 2))
	after := snap("r2", asset("Wall_A", 400), asset("Door_1", 2))

	report, err := Diff(before, after)
	require.NoError(t, err)
	assert.Zero(t, report.Total())
}

func TestDiff_Idempotent(t *testing.T) {
	before := snap("r1", asset("Wall_A", 400), asset("Door_1", 2))
	after := snap("r2", asset("Wall_A", 500), asset("HVAC_1", 1))

	first, err := Diff(before, after)
	require.NoError(t, err)
	second, err := Diff(before, after)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestDiff_OrderIndependent(t *testing.T) {
	a1, a2, a3 := asset("Wall_A", 500), asset("Door_1", 2), asset("HVAC_1", 1)

	before := snap("r1", asset("Wall_A", 400), asset("Door_1", 2))
	shuffledBefore := snap("r1", asset("Door_1", 2), asset("Wall_A", 400))
	after := snap("r2", a1, a2, a3)
	shuffledAfter := snap("r2", a3, a1, a2)

	plain, err := Diff(before, after)
	require.NoError(t, err)
	shuffled, err := Diff(shuffledBefore, shuffledAfter)
	require.NoError(t, err)

	assert.Equal(t, plain, shuffled)
}

func TestDiff_DeterministicOrdering(t *testing.T) {
	before := snap("r1")
	after := snap("r2", asset("Zebra", 1), asset("Alpha", 1), asset("Mid", 1))

	report, err := Diff(before, after)
	require.NoError(t, err)

	require.Len(t, report.Added, 3)
	assert.Equal(t, "Alpha", report.Added[0].ID)
	assert.Equal(t, "Mid", report.Added[1].ID)
	assert.Equal(t, "Zebra", report.Added[2].ID)
}

func TestDiff_DuplicateIDRejected(t *testing.T) {
	bad := snap("r2", asset("Wall_A", 400), asset("Wall_A", 500))

	_, err := Diff(snap("r1"), bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}

func TestDiff_ExtractionConfidenceNotADiff(t *testing.T) {
	a := asset("Wall_A", 400)
	a.ExtractionConfidence = 0.9
	b := asset("Wall_A", 400)
	b.ExtractionConfidence = 0.5

	report, err := Diff(snap("r1", a), snap("r2", b))
	require.NoError(t, err)
	assert.Empty(t, report.Modified)
}
