package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset is a single physical asset extracted from a blueprint by the parsing
// collaborator. Immutable once created.
type Asset struct {
	ID         string      `json:"id"`
	Category   string      `json:"category"`
	Material   string      `json:"material"`
	Quantity   float64     `json:"quantity"`
	Unit       string      `json:"unit"`
	Location   string      `json:"location"`
	Dimensions *Dimensions `json:"dimensions,omitempty"`

	// ExtractionConfidence is the parser's per-record confidence in [0,1].
	// 1.0 means fully trusted (e.g. hand-entered mock data).
	ExtractionConfidence float64 `json:"extraction_confidence"`

	// ParserSource names the extraction backend that produced this record.
	ParserSource string `json:"parser_source,omitempty"`
}

// Dimensions holds optional physical dimensions. Absence of the whole struct
// is distinct from zero values: a nil *Dimensions never equals &Dimensions{}.
type Dimensions struct {
	Length float64 `json:"length,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

// Equal reports exact structural equality, including presence.
func (d *Dimensions) Equal(other *Dimensions) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.Length == other.Length && d.Width == other.Width && d.Height == other.Height
}

// Snapshot is a complete, timestamped collection of assets at one point in
// time. Asset identifiers are unique within a snapshot; violating that is a
// hard error raised at load/diff time.
type Snapshot struct {
	ID        string    `json:"blueprint_id"`
	ProjectID string    `json:"project_id"`
	Revision  string    `json:"revision"`
	Date      time.Time `json:"date"`
	Assets    []Asset   `json:"assets"`
}

// Vendor is the supplier linked to a budget line item in the state store.
type Vendor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EntityState is the last-known persisted state of one asset.
type EntityState struct {
	ID          string          `json:"id"`
	Category    string          `json:"category"`
	Material    string          `json:"material"`
	Quantity    float64         `json:"quantity"`
	Unit        string          `json:"unit"`
	CostPerUnit decimal.Decimal `json:"cost_per_unit"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	LineCode    string          `json:"line_code"`
	VendorID    string          `json:"vendor_id,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
