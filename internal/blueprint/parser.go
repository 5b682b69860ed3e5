package blueprint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/keystone-build/reconcile-cli/internal/model"
)

// ErrInvalidSnapshot marks a malformed snapshot: duplicated asset identifier,
// negative quantity, or an out-of-range confidence score. Fatal to the diff
// run that consumes the snapshot.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// snapshotFile is the wire layout produced by the parsing collaborator.
type snapshotFile struct {
	BlueprintID string      `json:"blueprint_id"`
	ProjectID   string      `json:"project_id"`
	Revision    string      `json:"revision"`
	Date        string      `json:"date"`
	Source      string      `json:"source,omitempty"`
	Confidence  *float64    `json:"overall_confidence,omitempty"`
	Assets      []assetFile `json:"assets"`
}

type assetFile struct {
	ID         string            `json:"id"`
	Category   string            `json:"type"`
	Material   string            `json:"material"`
	Quantity   float64           `json:"quantity"`
	Unit       string            `json:"unit"`
	Floor      string            `json:"floor"`
	Dimensions *model.Dimensions `json:"dimensions,omitempty"`
	Confidence *float64          `json:"extraction_confidence,omitempty"`
}

// LoadSnapshot reads one structured snapshot produced by the parsing
// collaborator and validates it. Per-asset extraction confidence defaults to
// the document-level score when present, else 1.0 (fully trusted).
func LoadSnapshot(path string) (*model.Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "blueprint: read %s", path)
	}

	var file snapshotFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, eris.Wrapf(err, "blueprint: parse %s", path)
	}

	snap, err := fromFile(file)
	if err != nil {
		return nil, err
	}

	zap.L().Info("blueprint: snapshot loaded",
		zap.String("blueprint_id", snap.ID),
		zap.String("revision", snap.Revision),
		zap.Int("assets", len(snap.Assets)),
	)
	return snap, nil
}

func fromFile(file snapshotFile) (*model.Snapshot, error) {
	if file.BlueprintID == "" {
		return nil, eris.Wrap(ErrInvalidSnapshot, "missing blueprint_id")
	}

	date, err := time.Parse("2006-01-02", file.Date)
	if err != nil && file.Date != "" {
		return nil, eris.Wrapf(ErrInvalidSnapshot, "bad date %q", file.Date)
	}

	defaultConfidence := 1.0
	source := file.Source
	if file.Confidence != nil {
		defaultConfidence = *file.Confidence
	}

	snap := &model.Snapshot{
		ID:        file.BlueprintID,
		ProjectID: file.ProjectID,
		Revision:  file.Revision,
		Date:      date,
		Assets:    make([]model.Asset, 0, len(file.Assets)),
	}

	seen := make(map[string]struct{}, len(file.Assets))
	for _, a := range file.Assets {
		if a.ID == "" {
			return nil, eris.Wrap(ErrInvalidSnapshot, "asset with empty id")
		}
		if _, dup := seen[a.ID]; dup {
			return nil, eris.Wrap(ErrInvalidSnapshot, fmt.Sprintf("duplicate asset id %q", a.ID))
		}
		seen[a.ID] = struct{}{}

		if a.Quantity < 0 {
			return nil, eris.Wrap(ErrInvalidSnapshot, fmt.Sprintf("asset %q: negative quantity", a.ID))
		}

		confidence := defaultConfidence
		if a.Confidence != nil {
			confidence = *a.Confidence
		}
		if confidence < 0 || confidence > 1 {
			return nil, eris.Wrap(ErrInvalidSnapshot, fmt.Sprintf("asset %q: confidence %v out of range", a.ID, confidence))
		}

		snap.Assets = append(snap.Assets, model.Asset{
			ID:                   a.ID,
			Category:             a.Category,
			Material:             a.Material,
			Quantity:             a.Quantity,
			Unit:                 a.Unit,
			Location:             a.Floor,
			Dimensions:           a.Dimensions,
			ExtractionConfidence: confidence,
			ParserSource:         source,
		})
	}

	return snap, nil
}
