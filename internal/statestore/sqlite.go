package statestore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/keystone-build/reconcile-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, unavailable(err, "open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, unavailable(err, "exec "+pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS vendors (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entities (
	id            TEXT PRIMARY KEY,
	category      TEXT NOT NULL,
	material      TEXT NOT NULL,
	quantity      REAL NOT NULL,
	unit          TEXT NOT NULL,
	cost_per_unit TEXT NOT NULL DEFAULT '0',
	total_cost    TEXT NOT NULL DEFAULT '0',
	line_code     TEXT NOT NULL DEFAULT '',
	vendor_id     TEXT REFERENCES vendors(id),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_entities_line_code ON entities(line_code);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "statestore: sqlite migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*EntityRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT e.id, e.category, e.material, e.quantity, e.unit,
		        e.cost_per_unit, e.total_cost, e.line_code, e.updated_at,
		        v.id, v.name
		 FROM entities e
		 LEFT JOIN vendors v ON v.id = e.vendor_id
		 WHERE e.id = ?`,
		id,
	)

	var (
		rec         EntityRecord
		costPerUnit string
		totalCost   string
		vendorID    sql.NullString
		vendorName  sql.NullString
	)
	err := row.Scan(
		&rec.State.ID, &rec.State.Category, &rec.State.Material,
		&rec.State.Quantity, &rec.State.Unit,
		&costPerUnit, &totalCost, &rec.State.LineCode, &rec.State.UpdatedAt,
		&vendorID, &vendorName,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err, "get entity "+id)
	}

	if rec.State.CostPerUnit, err = decimal.NewFromString(costPerUnit); err != nil {
		return nil, eris.Wrapf(err, "statestore: entity %s: bad cost_per_unit", id)
	}
	if rec.State.TotalCost, err = decimal.NewFromString(totalCost); err != nil {
		return nil, eris.Wrapf(err, "statestore: entity %s: bad total_cost", id)
	}
	if vendorID.Valid {
		rec.State.VendorID = vendorID.String
		rec.Vendor = &model.Vendor{ID: vendorID.String, Name: vendorName.String}
	}
	return &rec, nil
}

func (s *SQLiteStore) UpsertEntity(ctx context.Context, state model.EntityState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (id, category, material, quantity, unit, cost_per_unit, total_cost, line_code, vendor_id, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)
		 ON CONFLICT(id) DO UPDATE SET
		   category = excluded.category,
		   material = excluded.material,
		   quantity = excluded.quantity,
		   unit = excluded.unit,
		   cost_per_unit = excluded.cost_per_unit,
		   total_cost = excluded.total_cost,
		   line_code = excluded.line_code,
		   vendor_id = excluded.vendor_id,
		   updated_at = excluded.updated_at`,
		state.ID, state.Category, state.Material, state.Quantity, state.Unit,
		state.CostPerUnit.String(), state.TotalCost.String(), state.LineCode,
		state.VendorID, time.Now().UTC(),
	)
	if err != nil {
		return unavailable(err, "upsert entity "+state.ID)
	}
	return nil
}

// UpsertVendor is used by migrations and test fixtures to seed vendor rows.
func (s *SQLiteStore) UpsertVendor(ctx context.Context, v model.Vendor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vendors (id, name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		v.ID, v.Name,
	)
	if err != nil {
		return unavailable(err, "upsert vendor "+v.ID)
	}
	return nil
}

func unavailable(err error, op string) error {
	return eris.Wrap(errors.Join(ErrUnavailable, err), "statestore: "+op)
}
