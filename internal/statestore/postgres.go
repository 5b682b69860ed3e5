package statestore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/keystone-build/reconcile-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses, extracted so tests can
// substitute a pgxmock pool.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "statestore: postgres parse config")
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, unavailable(err, "postgres create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable(err, "postgres ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS vendors (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entities (
	id            TEXT PRIMARY KEY,
	category      TEXT NOT NULL,
	material      TEXT NOT NULL,
	quantity      DOUBLE PRECISION NOT NULL,
	unit          TEXT NOT NULL,
	cost_per_unit NUMERIC(18,4) NOT NULL DEFAULT 0,
	total_cost    NUMERIC(18,4) NOT NULL DEFAULT 0,
	line_code     TEXT NOT NULL DEFAULT '',
	vendor_id     TEXT REFERENCES vendors(id),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entities_line_code ON entities(line_code);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "statestore: postgres migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*EntityRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT e.id, e.category, e.material, e.quantity, e.unit,
		        e.cost_per_unit::text, e.total_cost::text, e.line_code, e.updated_at,
		        v.id, v.name
		 FROM entities e
		 LEFT JOIN vendors v ON v.id = e.vendor_id
		 WHERE e.id = $1`,
		id,
	)

	var (
		rec         EntityRecord
		costPerUnit string
		totalCost   string
		vendorID    *string
		vendorName  *string
	)
	err := row.Scan(
		&rec.State.ID, &rec.State.Category, &rec.State.Material,
		&rec.State.Quantity, &rec.State.Unit,
		&costPerUnit, &totalCost, &rec.State.LineCode, &rec.State.UpdatedAt,
		&vendorID, &vendorName,
	)
	if errors.Is(err, pgx.ErrNoRows) {
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
	if vendorID != nil {
		rec.State.VendorID = *vendorID
		rec.Vendor = &model.Vendor{ID: *vendorID}
		if vendorName != nil {
			rec.Vendor.Name = *vendorName
		}
	}
	return &rec, nil
}

func (s *PostgresStore) UpsertEntity(ctx context.Context, state model.EntityState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO entities (id, category, material, quantity, unit, cost_per_unit, total_cost, line_code, vendor_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
		 ON CONFLICT (id) DO UPDATE SET
		   category = EXCLUDED.category,
		   material = EXCLUDED.material,
		   quantity = EXCLUDED.quantity,
		   unit = EXCLUDED.unit,
		   cost_per_unit = EXCLUDED.cost_per_unit,
		   total_cost = EXCLUDED.total_cost,
		   line_code = EXCLUDED.line_code,
		   vendor_id = EXCLUDED.vendor_id,
		   updated_at = EXCLUDED.updated_at`,
		state.ID, state.Category, state.Material, state.Quantity, state.Unit,
		state.CostPerUnit.String(), state.TotalCost.String(), state.LineCode,
		state.VendorID, time.Now().UTC(),
	)
	if err != nil {
		return unavailable(err, "upsert entity "+state.ID)
	}
	return nil
}
