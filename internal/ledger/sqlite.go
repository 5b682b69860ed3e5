package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/keystone-build/reconcile-cli/internal/model"
)

// SQLiteLedger implements Ledger using modernc.org/sqlite. Monetary columns
// hold integer cents; single-statement updates give per-line atomicity.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLite opens a SQLite ledger at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "ledger: sqlite exec %s", pragma)
		}
	}
	return &SQLiteLedger{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS line_items (
	code        TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	allocated   INTEGER NOT NULL DEFAULT 0,
	spent       INTEGER NOT NULL DEFAULT 0,
	contingency INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pending_changes (
	id              TEXT PRIMARY KEY,
	line_code       TEXT NOT NULL REFERENCES line_items(code),
	entity_id       TEXT NOT NULL,
	delta           INTEGER NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending_approval',
	rationale       TEXT,
	reasoning_conf  REAL NOT NULL DEFAULT 0,
	extraction_conf REAL,
	combined_conf   REAL NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	resolved_at     DATETIME,
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
	duration_ms INTEGER NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_pending_line_code ON pending_changes(line_code);
CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_changes(status);
`

func (l *SQLiteLedger) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "ledger: sqlite migrate")
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func (l *SQLiteLedger) GetLineItem(ctx context.Context, code string) (*model.LedgerLineItem, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT code, description, allocated, spent, contingency FROM line_items WHERE code = ?`,
		code,
	)

	var li model.LedgerLineItem
	var allocated, spent, contingency int64
	err := row.Scan(&li.Code, &li.Description, &allocated, &spent, &contingency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: get line item %s", code)
	}
	li.Allocated = fromCents(allocated)
	li.Spent = fromCents(spent)
	li.Contingency = fromCents(contingency)

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, line_code, entity_id, delta, status, rationale,
		        reasoning_conf, extraction_conf, combined_conf,
		        created_at, resolved_at, resolved_by, reason
		 FROM pending_changes
		 WHERE line_code = ? AND status = ?
		 ORDER BY created_at, id`,
		code, string(model.PendingStatusWaiting),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: list pending for %s", code)
	}
	defer rows.Close()

	for rows.Next() {
		pc, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		li.Pending = append(li.Pending, *pc)
	}
	return &li, eris.Wrap(rows.Err(), "ledger: iterate pending")
}

func (l *SQLiteLedger) UpsertLineItem(ctx context.Context, li model.LedgerLineItem) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO line_items (code, description, allocated, spent, contingency)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(code) DO UPDATE SET
		   description = excluded.description,
		   allocated = excluded.allocated,
		   spent = excluded.spent,
		   contingency = excluded.contingency`,
		li.Code, li.Description, toCents(li.Allocated), toCents(li.Spent), toCents(li.Contingency),
	)
	if err != nil {
		return eris.Wrap(errors.Join(ErrWriteFailed, err), "ledger: upsert line item "+li.Code)
	}
	return nil
}

func (l *SQLiteLedger) UpdateSpent(ctx context.Context, code string, delta decimal.Decimal) error {
	// Single UPDATE: the read-modify-write of spent happens inside the store,
	// so concurrent dispatches against the same line cannot lose updates.
	res, err := l.db.ExecContext(ctx,
		`UPDATE line_items SET spent = spent + ? WHERE code = ?`,
		toCents(delta), code,
	)
	if err != nil {
		return eris.Wrap(errors.Join(ErrWriteFailed, err), "ledger: update spent "+code)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(errors.Join(ErrWriteFailed, err), "ledger: update spent rows affected")
	}
	if n == 0 {
		return eris.Wrap(errors.Join(ErrWriteFailed, ErrLineNotFound), "ledger: update spent "+code)
	}
	return nil
}

func (l *SQLiteLedger) AppendPending(ctx context.Context, change model.PendingChange) (string, error) {
	id := change.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO pending_changes
		   (id, line_code, entity_id, delta, status, rationale, reasoning_conf, extraction_conf, combined_conf, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

func (l *SQLiteLedger) GetPending(ctx context.Context) ([]model.PendingChange, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, line_code, entity_id, delta, status, rationale,
		        reasoning_conf, extraction_conf, combined_conf,
		        created_at, resolved_at, resolved_by, reason
		 FROM pending_changes
		 WHERE status = ?
		 ORDER BY created_at, id`,
		string(model.PendingStatusWaiting),
	)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: get pending")
	}
	defer rows.Close()

	var pending []model.PendingChange
	for rows.Next() {
		pc, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, *pc)
	}
	return pending, eris.Wrap(rows.Err(), "ledger: iterate pending")
}

func (l *SQLiteLedger) GetSummary(ctx context.Context) (*model.LedgerSummary, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT li.code, li.description, li.allocated, li.spent,
		        (SELECT COUNT(*) FROM pending_changes pc WHERE pc.line_code = li.code AND pc.status = ?) AS pending_count,
		        (SELECT COALESCE(SUM(pc.delta), 0) FROM pending_changes pc WHERE pc.line_code = li.code AND pc.status = ?) AS pending_total
		 FROM line_items li
		 ORDER BY li.code`,
		string(model.PendingStatusWaiting), string(model.PendingStatusWaiting),
	)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: get summary")
	}
	defer rows.Close()

	summary := &model.LedgerSummary{}
	for rows.Next() {
		var item model.LineItemSummary
		var allocated, spent, pendingCents int64
		if err := rows.Scan(&item.Code, &item.Description, &allocated, &spent, &item.PendingCount, &pendingCents); err != nil {
			return nil, eris.Wrap(err, "ledger: scan summary row")
		}
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

func (l *SQLiteLedger) ApprovePending(ctx context.Context, pendingID, approvedBy string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(errors.Join(ErrWriteFailed, err), "ledger: approve begin")
	}
	defer tx.Rollback()

	var lineCode string
	var deltaCents int64
	err = tx.QueryRowContext(ctx,
		`SELECT line_code, delta FROM pending_changes WHERE id = ? AND status = ?`,
		pendingID, string(model.PendingStatusWaiting),
	).Scan(&lineCode, &deltaCents)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrap(ErrPendingNotFound, "ledger: approve "+pendingID)
	}
	if err != nil {
		return eris.Wrap(errors.Join(ErrWriteFailed, err), "ledger: approve lookup "+pendingID)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE line_items SET spent = spent + ? WHERE code = ?`,
		deltaCents, lineCode,
	); err != nil {
		return eris.Wrap(errors.Join(ErrWriteFailed, err), "ledger: approve apply "+pendingID)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE pending_changes SET status = ?, resolved_at = ?, resolved_by = ? WHERE id = ?`,
		string(model.PendingStatusApproved), time.Now().UTC(), approvedBy, pendingID,
	); err != nil {
		return eris.Wrap(errors.Join(ErrWriteFailed, err), "ledger: approve mark "+pendingID)
	}

	return eris.Wrap(tx.Commit(), "ledger: approve commit")
}

func (l *SQLiteLedger) RejectPending(ctx context.Context, pendingID, rejectedBy, reason string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE pending_changes SET status = ?, resolved_at = ?, resolved_by = ?, reason = ?
		 WHERE id = ? AND status = ?`,
		string(model.PendingStatusRejected), time.Now().UTC(), rejectedBy, reason,
		pendingID, string(model.PendingStatusWaiting),
	)
	if err != nil {
		return eris.Wrap(errors.Join(ErrWriteFailed, err), "ledger: reject "+pendingID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(errors.Join(ErrWriteFailed, err), "ledger: reject rows affected")
	}
	if n == 0 {
		return eris.Wrap(ErrPendingNotFound, "ledger: reject "+pendingID)
	}
	return nil
}

func (l *SQLiteLedger) RecordRun(ctx context.Context, run model.ReconcileRun) error {
	id := run.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO reconcile_runs (id, before_rev, after_rev, committed, pending, rejected, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, run.BeforeRevision, run.AfterRevision,
		run.Committed, run.Pending, run.Rejected,
		run.Duration.Milliseconds(), time.Now().UTC(),
	)
	return eris.Wrap(err, "ledger: record run")
}

func (l *SQLiteLedger) ListRuns(ctx context.Context, limit int) ([]model.ReconcileRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, before_rev, after_rev, committed, pending, rejected, duration_ms, created_at
		 FROM reconcile_runs ORDER BY created_at DESC LIMIT ?`,
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

type scannable interface {
	Scan(dest ...any) error
}

func scanPending(row scannable) (*model.PendingChange, error) {
	var (
		pc             model.PendingChange
		deltaCents     int64
		status         string
		rationale      sql.NullString
		extractionConf sql.NullFloat64
		resolvedAt     sql.NullTime
		resolvedBy     sql.NullString
		reason         sql.NullString
	)
	err := row.Scan(
		&pc.ID, &pc.LineCode, &pc.EntityID, &deltaCents, &status, &rationale,
		&pc.Confidence.Reasoning, &extractionConf, &pc.Confidence.Combined,
		&pc.CreatedAt, &resolvedAt, &resolvedBy, &reason,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: scan pending change")
	}
	pc.Delta = fromCents(deltaCents)
	pc.Status = model.PendingStatus(status)
	pc.Rationale = rationale.String
	if extractionConf.Valid {
		v := extractionConf.Float64
		pc.Confidence.Extraction = &v
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		pc.ResolvedAt = &t
	}
	pc.ResolvedBy = resolvedBy.String
	pc.Reason = reason.String
	return &pc, nil
}
