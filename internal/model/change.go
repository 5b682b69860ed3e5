package model

// ChangeKind discriminates the three change record variants.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeModified ChangeKind = "modified"
)

// QuantityDiff records a quantity change with its signed delta.
type QuantityDiff struct {
	Before float64 `json:"before"`
	After  float64 `json:"after"`
	Delta  float64 `json:"delta"`
}

// StringDiff records a material or category change.
type StringDiff struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// DimensionsDiff records a structural dimensions change.
type DimensionsDiff struct {
	Before *Dimensions `json:"before,omitempty"`
	After  *Dimensions `json:"after,omitempty"`
}

// FieldDiffs holds the per-field diffs of a modified asset. Each entry is
// present only if the field actually changed.
type FieldDiffs struct {
	Quantity   *QuantityDiff   `json:"quantity,omitempty"`
	Material   *StringDiff     `json:"material,omitempty"`
	Category   *StringDiff     `json:"category,omitempty"`
	Dimensions *DimensionsDiff `json:"dimensions,omitempty"`
}

// Empty reports whether no tracked field changed.
func (f FieldDiffs) Empty() bool {
	return f.Quantity == nil && f.Material == nil && f.Category == nil && f.Dimensions == nil
}

// ModifiedChange describes an asset present in both snapshots whose tracked
// fields differ.
type ModifiedChange struct {
	AssetID string     `json:"asset_id"`
	Before  Asset      `json:"before"`
	After   Asset      `json:"after"`
	Diffs   FieldDiffs `json:"changes"`
}

// DiffSummary counts the change records in a diff.
type DiffSummary struct {
	AddedCount    int `json:"added_count"`
	RemovedCount  int `json:"removed_count"`
	ModifiedCount int `json:"modified_count"`
}

// DiffReport is the result of comparing two snapshots. Derived, never
// persisted independently of its source snapshots. Change lists are sorted by
// asset identifier so repeated diffs of the same snapshots are identical.
type DiffReport struct {
	Added    []Asset          `json:"added"`
	Removed  []Asset          `json:"removed"`
	Modified []ModifiedChange `json:"modified"`
	Summary  DiffSummary      `json:"summary"`
}

// Total returns the number of change records in the report.
func (r *DiffReport) Total() int {
	return len(r.Added) + len(r.Removed) + len(r.Modified)
}
