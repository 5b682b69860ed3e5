package blueprint

import (
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/keystone-build/reconcile-cli/internal/model"
)

// Diff compares two snapshots and reports added, removed, and modified
// assets. Pure: no I/O, deterministic, order-independent with respect to each
// snapshot's internal asset ordering. Quantity is compared by exact numeric
// equality and dimensions by exact structural equality; materiality decisions
// belong to the confidence gate downstream.
func Diff(before, after *model.Snapshot) (*model.DiffReport, error) {
	beforeByID, err := indexAssets(before)
	if err != nil {
		return nil, err
	}
	afterByID, err := indexAssets(after)
	if err != nil {
		return nil, err
	}

	report := &model.DiffReport{}

	for id, a := range afterByID {
		if _, ok := beforeByID[id]; !ok {
			report.Added = append(report.Added, a)
		}
	}
	for id, b := range beforeByID {
		if _, ok := afterByID[id]; !ok {
			report.Removed = append(report.Removed, b)
		}
	}
	for id, a := range afterByID {
		b, ok := beforeByID[id]
		if !ok {
			continue
		}
		diffs := compareAssets(b, a)
		if diffs.Empty() {
			continue
		}
		report.Modified = append(report.Modified, model.ModifiedChange{
			AssetID: id,
			Before:  b,
			After:   a,
			Diffs:   diffs,
		})
	}

	sort.Slice(report.Added, func(i, j int) bool { return report.Added[i].ID < report.Added[j].ID })
	sort.Slice(report.Removed, func(i, j int) bool { return report.Removed[i].ID < report.Removed[j].ID })
	sort.Slice(report.Modified, func(i, j int) bool { return report.Modified[i].AssetID < report.Modified[j].AssetID })

	report.Summary = model.DiffSummary{
		AddedCount:    len(report.Added),
		RemovedCount:  len(report.Removed),
		ModifiedCount: len(report.Modified),
	}

	zap.L().Info("blueprint: diff complete",
		zap.String("before", before.Revision),
		zap.String("after", after.Revision),
		zap.Int("added", report.Summary.AddedCount),
		zap.Int("removed", report.Summary.RemovedCount),
		zap.Int("modified", report.Summary.ModifiedCount),
	)
	return report, nil
}

func indexAssets(snap *model.Snapshot) (map[string]model.Asset, error) {
	byID := make(map[string]model.Asset, len(snap.Assets))
	for _, a := range snap.Assets {
		if _, dup := byID[a.ID]; dup {
			return nil, eris.Wrap(ErrInvalidSnapshot,
				fmt.Sprintf("snapshot %s: duplicate asset id %q", snap.ID, a.ID))
		}
		byID[a.ID] = a
	}
	return byID, nil
}

func compareAssets(before, after model.Asset) model.FieldDiffs {
	var diffs model.FieldDiffs

	if before.Quantity != after.Quantity {
		diffs.Quantity = &model.QuantityDiff{
			Before: before.Quantity,
			After:  after.Quantity,
			Delta:  after.Quantity - before.Quantity,
		}
	}
	if before.Material != after.Material {
		diffs.Material = &model.StringDiff{Before: before.Material, After: after.Material}
	}
	if before.Category != after.Category {
		diffs.Category = &model.StringDiff{Before: before.Category, After: after.Category}
	}
	if !before.Dimensions.Equal(after.Dimensions) {
		diffs.Dimensions = &model.DimensionsDiff{Before: before.Dimensions, After: after.Dimensions}
	}

	return diffs
}
