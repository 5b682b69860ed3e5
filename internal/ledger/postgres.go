package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/keystone-build/reconcile-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the ledger uses, extracted so tests can
// substitute a pgxmock pool.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresLedger implements Ledger using pgxpool. Monetary columns hold
// integer cents, matching the SQLite adapter.
type PostgresLedger struct {
	pool Pool
}

// NewPostgres creates a PostgresLedger with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresLedger, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: postgres parse config")
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: postgres create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "ledger: postgres ping")
	}
	return &PostgresLedger{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS line_items (
	code        TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	allocated   BIGINT NOT NULL DEFAULT 0,
	spent       BIGINT NOT NULL DEFAULT 0,
	contingency BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pending_changes (
	id              TEXT PRIMARY KEY,
	line_code       TEXT NOT NULL REFERENCES line_items(code),
	entity_id       TEXT NOT NULL,
	delta           BIGINT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending_approval',
	rationale       TEXT,
	reasoning_conf  DOUBLE PRECISION NOT NULL DEFAULT 0,
	extraction_conf DOUBLE PRECISION,
	combined_conf   DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at     TIMESTAMPTZ,
	resolved_by     TEXT,
	reason          TEXT
);

CREATE TABLE IF NOT EXISTS reconcile_runs (
	id          TEXT PRIMARY KEY,
	before_rev  TEXT NOT NULL,
	after_rev   TEXT NOT NULL,
	committed   INTEGER NOT NULL,
	pending     INTEGER NOT NULL,
	rejected    INTEGER NOT NULL,
	duration_ms BIGINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_pending_line_code ON pending_changes(line_code);
CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_changes(status);
`

func (l *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "ledger: postgres migrate")
}

func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}

func (l *PostgresLedger) GetLineItem(ctx context.Context, code string) (*model.LedgerLineItem, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT code, description, allocated, spent, contingency FROM line_items WHERE code = $1`,
		code,
	)

	var li model.LedgerLineItem
	var allocated, spent, contingency int64
	err := row.Scan(&li.Code, &li.Description, &allocated, &spent, &contingency)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: get line item %s", code)
	}
	li.Allocated = fromCents(allocated)
	li.Spent = fromCents(spent)
	li.Contingency = fromCents(contingency)

	rows, err := l.pool.Query(ctx,
		`SELECT id, line_code, entity_id, delta, status, rationale,
		        reasoning_conf, extraction_conf, combined_conf,
		        created_at, resolved_at, resolved_by, reason
		 FROM pending_changes
		 WHERE line_code = $1 AND status = $2
		 ORDER BY created_at, id`,
		code, string(model.PendingStatusWaiting),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: list pending for %s", code)
	}
	defer rows.Close()

	for rows.Next() {
		pc, err := scanPendingPgx(rows)
		if err != nil {
			return nil, err
		}
		li.Pending = append(li.Pending, *pc)
	}
	return &li, eris.Wrap(rows.Err(), "ledger: iterate pending")
}

func (l *PostgresLedger) UpsertLineItem(ctx context.Context, li model.LedgerLineItem) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO line_items (code, description, allocated, spent, contingency)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (code) DO UPDATE SET
		   description = EXCLUDED.description,
		   allocated = EXCLUDED.allocated,
		   spent = EXCLUDED.spent,
		   contingency = EXCLUDED.contingency`,
		li.Code, li.Description, toCents(li.Allocated), toCents(li.Spent), toCents(li.Contingency),
	)
	if err != nil {
		return eris.Wrap(errors.Join(ErrWriteFailed, err), "ledger: upsert line item "+li.Code)
	}
	return nil
}

func (l *PostgresLedger) UpdateSpent(ctx context.Context, code string, delta decimal.Decimal) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE line_items SET spent = spent + $1 WHERE code = $2`,
		toCents(delta), code,
	)
	if err != nil {
		return eris.Wrap(errors.Join(ErrWriteFailed, err), "ledger: update spent "+code)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrap(errors.Join(ErrWriteFailed, ErrLineNotFound), "ledger: update spent "+code)
	}
	return nil
}

func (l *PostgresLedger) AppendPending(ctx context.Context, change model.PendingChange) (string, error) {
	id := change.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO pending_changes
		   (id, line_code, entity_id, delta, status, rationale, reasoning_conf, extraction_conf, combined_conf, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, change.LineCode, change.EntityID, toCents(change.Delta),
		string(model.PendingStatusWaiting), change.Rationale,
		change.Confidence.Reasoning, change.Confidence.Extraction, change.Confidence.Combined,
		time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(errors.Join(ErrWriteFailed, err), "ledger: append pending "+change.LineCode)
	}
	return id, nil
}

func (l *PostgresLedger) GetPending(ctx context.Context) ([]model.PendingChange, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, line_code, entity_id, delta, status, rationale,
		        reasoning_conf, extraction_conf, combined_conf,
		        created_at, resolved_at, resolved_by, reason
		 FROM pending_changes
		 WHERE status = $1
		 ORDER BY created_at, id`,
		string(model.PendingStatusWaiting),
	)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: get pending")
	}
	defer rows.Close()

	var pending []model.PendingChange
	for rows.Next() {
		pc, err := scanPendingPgx(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, *pc)
	}
	return pending, eris.Wrap(rows.Err(), "ledger: iterate pending")
}

func (l *PostgresLedger) GetSummary(ctx context.Context) (*model.LedgerSummary, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT li.code, li.description, li.allocated, li.spent,
		        (SELECT COUNT(*) FROM pending_changes pc WHERE pc.line_code = li.code AND pc.status = $1) AS pending_count,
		        (SELECT COALESCE(SUM(pc.delta), 0) FROM pending_changes pc WHERE pc.line_code = li.code AND pc.status = $1) AS pending_total
		 FROM line_items li
		 ORDER BY li.code`,
		string(model.PendingStatusWaiting),
	)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: get summary")
	}
	defer rows.Close()

	summary := &model.LedgerSummary{}
	for rows.Next() {
		var item model.LineItemSummary
		var allocated, spent, pendingCents, pendingCount int64
		if err := rows.Scan(&item.Code, &item.Description, &allocated, &spent, &pendingCount, &pendingCents); err != nil {
			return nil, eris.Wrap(err, "ledger: scan summary row")
		}
		item.PendingCount = int(pendingCount)
		item.Allocated = fromCents(allocated)
		item.Spent = fromCents(spent)
		item.Remaining = item.Allocated.Sub(item.Spent)

		summary.Allocated = summary.Allocated.Add(item.Allocated)
		summary.Spent = summary.Spent.Add(item.Spent)
		summary.PendingCount += item.PendingCount
		summary.PendingTotal = summary.PendingTotal.Add(fromCents(pendingCents))
		summary.LineItems = append(summary.LineItems, item)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "ledger: iterate summary")
	}
	summary.Remaining = summary.Allocated.Sub(summary.Spent)
	return summary, nil
}

func (l *PostgresLedger) ApprovePending(ctx context.Context, pendingID, approvedBy string) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(errors.Join(ErrWriteFailed, err), "ledger: approve begin")
	}
	defer tx.Rollback(ctx)

	var lineCode string
	var deltaCents int64
	err = tx.QueryRow(ctx,
		`SELECT line_code, delta FROM pending_changes WHERE id = $1 AND status = $2 FOR UPDATE`,
		pendingID, string(model.PendingStatusWaiting),
	).Scan(&lineCode, &deltaCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrap(ErrPendingNotFound, "ledger: approve "+pendingID)
	}
	if err != nil {
		return eris.Wrap(errors.Join(ErrWriteFailed, err), "ledger: approve lookup "+pendingID)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE line_items SET spent = spent + $1 WHERE code = $2`,
		deltaCents, lineCode,
	); err != nil {
		return eris.Wrap(errors.Join(ErrWriteFailed, err), "ledger: approve apply "+pendingID)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE pending_changes SET status = $1, resolved_at = $2, resolved_by = $3 WHERE id = $4`,
		string(model.PendingStatusApproved), time.Now().UTC(), approvedBy, pendingID,
	); err != nil {
		return eris.Wrap(errors.Join(ErrWriteFailed, err), "ledger: approve mark "+pendingID)
	}

	return eris.Wrap(tx.Commit(ctx), "ledger: approve commit")
}

func (l *PostgresLedger) RejectPending(ctx context.Context, pendingID, rejectedBy, reason string) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE pending_changes SET status = $1, resolved_at = $2, resolved_by = $3, reason = $4
		 WHERE id = $5 AND status = $6`,
		string(model.PendingStatusRejected), time.Now().UTC(), rejectedBy, reason,
		pendingID, string(model.PendingStatusWaiting),
	)
	if err != nil {
		return eris.Wrap(errors.Join(ErrWriteFailed, err), "ledger: reject "+pendingID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrap(ErrPendingNotFound, "ledger: reject "+pendingID)
	}
	return nil
}

func (l *PostgresLedger) RecordRun(ctx context.Context, run model.ReconcileRun) error {
	id := run.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO reconcile_runs (id, before_rev, after_rev, committed, pending, rejected, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, run.BeforeRevision, run.AfterRevision,
		run.Committed, run.Pending, run.Rejected,
		run.Duration.Milliseconds(), time.Now().UTC(),
	)
	return eris.Wrap(err, "ledger: record run")
}

func (l *PostgresLedger) ListRuns(ctx context.Context, limit int) ([]model.ReconcileRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, before_rev, after_rev, committed, pending, rejected, duration_ms, created_at
		 FROM reconcile_runs ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list runs")
	}
	defer rows.Close()

	var runs []model.ReconcileRun
	for rows.Next() {
		var r model.ReconcileRun
		var durationMS int64
		if err := rows.Scan(&r.ID, &r.BeforeRevision, &r.AfterRevision,
			&r.Committed, &r.Pending, &r.Rejected, &durationMS, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "ledger: scan run")
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "ledger: iterate runs")
}

func scanPendingPgx(rows pgx.Rows) (*model.PendingChange, error) {
	var (
		pc             model.PendingChange
		deltaCents     int64
		status         string
		rationale      *string
		extractionConf *float64
		resolvedAt     *time.Time
		resolvedBy     *string
		reason         *string
	)
	err := rows.Scan(
		&pc.ID, &pc.LineCode, &pc.EntityID, &deltaCents, &status, &rationale,
		&pc.Confidence.Reasoning, &extractionConf, &pc.Confidence.Combined,
		&pc.CreatedAt, &resolvedAt, &resolvedBy, &reason,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: scan pending change")
	}
	pc.Delta = fromCents(deltaCents)
	pc.Status = model.PendingStatus(status)
	if rationale != nil {
		pc.Rationale = *rationale
	}
	pc.Confidence.Extraction = extractionConf
	pc.ResolvedAt = resolvedAt
	if resolvedBy != nil {
		pc.ResolvedBy = *resolvedBy
	}
	if reason != nil {
		pc.Reason = *reason
	}
	return &pc, nil
}
