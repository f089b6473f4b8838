/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements feeding.Store, inventory.Store, and feeding.TxStore using SQLite.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on the movements table
  - No UPDATE or DELETE statements on the corrections table
  Amendments happen through compensating movements and in-place execution
  updates, all of which keep the audit chain intact.

KEY TABLES:
  plans, schedule_rules:  Feeding plan templates and their day-range rules
  assignments:            Plan-to-lot bindings with start date anchors
  executions:             Feeding events (status column, never deleted)
  corrections:            Immutable field-change audit (append-only)
  bounds:                 Per-species quantity validation bounds
  batches:                Inventory ingresses with remaining quantities
  movements:              Immutable stock ledger (append-only)
  stock:                  Cached consolidated quantity per product

INDEXES:
  - idx_rules_plan: Overlap validation and day resolution (hot path)
  - idx_executions_key (UNIQUE): Idempotency deduplication
  - idx_batches_product / idx_batches_expiry: Depletion planning and projections
  - idx_movements_reversal: Idempotent reversal checks

CONCURRENCY:
  WithTx serializes writers behind a mutex and a single *sql.Tx; both store
  views inside a transaction share that Tx, so an execution record write and
  its inventory deduction commit or roll back together. SQLite runs in WAL
  mode: readers don't block, one writer at a time.

USAGE:
  store, err := sqlite.New("./data/feedlot.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := feeding.NewExecutionLedger(store, inventory.NewEngine(store))

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - feeding/store.go: Interface definitions and the transactional boundary
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/feedlot-engine/feeding"
	"github.com/warp/feedlot-engine/inventory"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
	queries
}

// dbtx is the subset of *sql.DB and *sql.Tx the queries run against.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, queries: queries{db: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx executes fn within a transaction spanning both store views.
// If fn returns an error, the transaction is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(feeding.Stores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	q := &queries{db: tx}
	if err := fn(feeding.Stores{Feeding: q, Inventory: q}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		species TEXT NOT NULL,
		stage TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS schedule_rules (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL REFERENCES plans(id),
		day_start INTEGER NOT NULL,
		day_end INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		qty_per_animal TEXT NOT NULL,
		qty_unit TEXT NOT NULL,
		frequency TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		CHECK (day_start >= 0 AND day_start <= day_end)
	);
	CREATE INDEX IF NOT EXISTS idx_rules_plan ON schedule_rules(plan_id, active);

	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL REFERENCES plans(id),
		lot_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		animal_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assignments_lot ON assignments(lot_id);

	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		assignment_id TEXT NOT NULL REFERENCES assignments(id),
		rule_id TEXT,
		product_id TEXT NOT NULL,
		exec_date TEXT NOT NULL,
		day_number INTEGER NOT NULL,
		quantity TEXT NOT NULL,
		quantity_unit TEXT NOT NULL,
		status TEXT NOT NULL,
		status_reason TEXT NOT NULL DEFAULT '',
		observations TEXT NOT NULL DEFAULT '',
		actor_id TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		warnings TEXT NOT NULL DEFAULT '[]',
		allocations TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		executed_at TEXT,
		updated_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_key
		ON executions(idempotency_key) WHERE idempotency_key IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_executions_assignment
		ON executions(assignment_id, exec_date);

	-- Corrections (append-only audit)
	CREATE TABLE IF NOT EXISTS corrections (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL REFERENCES executions(id),
		field TEXT NOT NULL,
		old_value TEXT NOT NULL,
		new_value TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		actor_id TEXT NOT NULL,
		request_meta TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_corrections_execution
		ON corrections(execution_id, created_at);

	CREATE TABLE IF NOT EXISTS bounds (
		species TEXT NOT NULL,
		stage TEXT NOT NULL DEFAULT '',
		min_qty TEXT NOT NULL,
		max_qty TEXT NOT NULL,
		ref_qty TEXT NOT NULL,
		qty_unit TEXT NOT NULL,
		warn_low TEXT NOT NULL,
		warn_high TEXT NOT NULL,
		PRIMARY KEY (species, stage)
	);

	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		batch_code TEXT NOT NULL DEFAULT '',
		received_at TEXT NOT NULL,
		expires_at TEXT,
		control_unit TEXT NOT NULL,
		unit_content TEXT NOT NULL,
		remaining TEXT NOT NULL,
		remaining_unit TEXT NOT NULL,
		unit_cost TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_batches_product ON batches(product_id, active);
	CREATE INDEX IF NOT EXISTS idx_batches_expiry ON batches(expires_at)
		WHERE expires_at IS NOT NULL;

	-- Movements (append-only ledger)
	CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		quantity_unit TEXT NOT NULL,
		unit_cost TEXT NOT NULL,
		batch_id TEXT NOT NULL DEFAULT '',
		lot_id TEXT NOT NULL DEFAULT '',
		execution_id TEXT NOT NULL DEFAULT '',
		reversal_of TEXT NOT NULL DEFAULT '',
		actor_id TEXT NOT NULL DEFAULT '',
		observations TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_movements_product ON movements(product_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_movements_reversal ON movements(reversal_of)
		WHERE reversal_of != '';

	CREATE TABLE IF NOT EXISTS stock (
		product_id TEXT PRIMARY KEY,
		quantity TEXT NOT NULL,
		quantity_unit TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// =============================================================================
// FEEDING STORE - Plans & rules
// =============================================================================

func (q *queries) SavePlan(ctx context.Context, p feeding.Plan) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO plans (id, name, species, stage, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			species = excluded.species,
			stage = excluded.stage,
			active = excluded.active`,
		string(p.ID), p.Name, p.Species, p.Stage, boolInt(p.Active), formatTime(p.CreatedAt))
	return err
}

func (q *queries) GetPlan(ctx context.Context, id feeding.PlanID) (*feeding.Plan, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, name, species, stage, active, created_at FROM plans WHERE id = ?`,
		string(id))

	var p feeding.Plan
	var active int
	var createdAt string
	err := row.Scan(&p.ID, &p.Name, &p.Species, &p.Stage, &active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Active = active != 0
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func (q *queries) ListPlans(ctx context.Context) ([]feeding.Plan, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, species, stage, active, created_at FROM plans ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []feeding.Plan
	for rows.Next() {
		var p feeding.Plan
		var active int
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.Species, &p.Stage, &active, &createdAt); err != nil {
			return nil, err
		}
		p.Active = active != 0
		p.CreatedAt = parseTime(createdAt)
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (q *queries) SaveRule(ctx context.Context, r feeding.ScheduleRule) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO schedule_rules
			(id, plan_id, day_start, day_end, product_id, qty_per_animal, qty_unit, frequency, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			day_start = excluded.day_start,
			day_end = excluded.day_end,
			product_id = excluded.product_id,
			qty_per_animal = excluded.qty_per_animal,
			qty_unit = excluded.qty_unit,
			frequency = excluded.frequency,
			active = excluded.active`,
		string(r.ID), string(r.PlanID), r.DayStart, r.DayEnd, string(r.ProductID),
		r.QuantityPerAnimal.Value.String(), string(r.QuantityPerAnimal.Unit),
		string(r.Frequency), boolInt(r.Active), formatTime(r.CreatedAt))
	return err
}

func (q *queries) GetRule(ctx context.Context, id feeding.RuleID) (*feeding.ScheduleRule, error) {
	rules, err := q.queryRules(ctx, `
		SELECT id, plan_id, day_start, day_end, product_id, qty_per_animal, qty_unit, frequency, active, created_at
		FROM schedule_rules WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}
	return &rules[0], nil
}

func (q *queries) ActiveRules(ctx context.Context, planID feeding.PlanID) ([]feeding.ScheduleRule, error) {
	return q.queryRules(ctx, `
		SELECT id, plan_id, day_start, day_end, product_id, qty_per_animal, qty_unit, frequency, active, created_at
		FROM schedule_rules WHERE plan_id = ? AND active = 1
		ORDER BY day_start`, string(planID))
}

func (q *queries) queryRules(ctx context.Context, query string, args ...any) ([]feeding.ScheduleRule, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []feeding.ScheduleRule
	for rows.Next() {
		var r feeding.ScheduleRule
		var qty, unit, createdAt string
		var active int
		if err := rows.Scan(&r.ID, &r.PlanID, &r.DayStart, &r.DayEnd, &r.ProductID,
			&qty, &unit, &r.Frequency, &active, &createdAt); err != nil {
			return nil, err
		}
		r.QuantityPerAnimal = amountFrom(qty, unit)
		r.Active = active != 0
		r.CreatedAt = parseTime(createdAt)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// =============================================================================
// FEEDING STORE - Assignments
// =============================================================================

func (q *queries) SaveAssignment(ctx context.Context, a feeding.Assignment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO assignments (id, plan_id, lot_id, start_date, animal_count, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			animal_count = excluded.animal_count,
			status = excluded.status`,
		string(a.ID), string(a.PlanID), string(a.LotID), formatTime(a.StartDate),
		a.AnimalCount, string(a.Status), formatTime(a.CreatedAt))
	return err
}

func (q *queries) GetAssignment(ctx context.Context, id feeding.AssignmentID) (*feeding.Assignment, error) {
	assignments, err := q.queryAssignments(ctx, `
		SELECT id, plan_id, lot_id, start_date, animal_count, status, created_at
		FROM assignments WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, nil
	}
	return &assignments[0], nil
}

func (q *queries) AssignmentsByLot(ctx context.Context, lotID feeding.LotID) ([]feeding.Assignment, error) {
	return q.queryAssignments(ctx, `
		SELECT id, plan_id, lot_id, start_date, animal_count, status, created_at
		FROM assignments WHERE lot_id = ? ORDER BY created_at, id`, string(lotID))
}

func (q *queries) queryAssignments(ctx context.Context, query string, args ...any) ([]feeding.Assignment, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []feeding.Assignment
	for rows.Next() {
		var a feeding.Assignment
		var startDate, createdAt string
		if err := rows.Scan(&a.ID, &a.PlanID, &a.LotID, &startDate, &a.AnimalCount,
			&a.Status, &createdAt); err != nil {
			return nil, err
		}
		a.StartDate = parseTime(startDate)
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// FEEDING STORE - Executions
// =============================================================================

func (q *queries) SaveExecution(ctx context.Context, rec feeding.ExecutionRecord) error {
	warnings, err := json.Marshal(rec.Warnings)
	if err != nil {
		return err
	}
	allocations, err := json.Marshal(rec.Allocations)
	if err != nil {
		return err
	}

	var ruleID sql.NullString
	if rec.RuleID != nil {
		ruleID = sql.NullString{String: string(*rec.RuleID), Valid: true}
	}
	var key sql.NullString
	if rec.IdempotencyKey != "" {
		key = sql.NullString{String: rec.IdempotencyKey, Valid: true}
	}
	var executedAt sql.NullString
	if rec.ExecutedAt != nil {
		executedAt = sql.NullString{String: formatTime(*rec.ExecutedAt), Valid: true}
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO executions
			(id, assignment_id, rule_id, product_id, exec_date, day_number,
			 quantity, quantity_unit, status, status_reason, observations,
			 actor_id, idempotency_key, warnings, allocations,
			 created_at, executed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			quantity = excluded.quantity,
			quantity_unit = excluded.quantity_unit,
			status = excluded.status,
			status_reason = excluded.status_reason,
			observations = excluded.observations,
			actor_id = excluded.actor_id,
			warnings = excluded.warnings,
			allocations = excluded.allocations,
			executed_at = excluded.executed_at,
			updated_at = excluded.updated_at`,
		string(rec.ID), string(rec.AssignmentID), ruleID, string(rec.ProductID),
		formatTime(rec.Date), rec.DayNumber,
		rec.QuantityApplied.Value.String(), string(rec.QuantityApplied.Unit),
		string(rec.Status), rec.StatusReason, rec.Observations,
		string(rec.ActorID), key, string(warnings), string(allocations),
		formatTime(rec.CreatedAt), executedAt, formatTime(rec.UpdatedAt))
	return err
}

const executionColumns = `
	id, assignment_id, rule_id, product_id, exec_date, day_number,
	quantity, quantity_unit, status, status_reason, observations,
	actor_id, idempotency_key, warnings, allocations,
	created_at, executed_at, updated_at`

func (q *queries) GetExecution(ctx context.Context, id feeding.ExecutionID) (*feeding.ExecutionRecord, error) {
	recs, err := q.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func (q *queries) GetExecutionByKey(ctx context.Context, key string) (*feeding.ExecutionRecord, error) {
	recs, err := q.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE idempotency_key = ?`, key)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func (q *queries) ExecutionsByAssignment(ctx context.Context, id feeding.AssignmentID) ([]feeding.ExecutionRecord, error) {
	return q.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE assignment_id = ? ORDER BY exec_date, id`,
		string(id))
}

func (q *queries) queryExecutions(ctx context.Context, query string, args ...any) ([]feeding.ExecutionRecord, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []feeding.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanExecution(rows *sql.Rows) (feeding.ExecutionRecord, error) {
	var rec feeding.ExecutionRecord
	var ruleID, key, executedAt sql.NullString
	var qty, unit, warnings, allocations, execDate, createdAt, updatedAt string

	err := rows.Scan(&rec.ID, &rec.AssignmentID, &ruleID, &rec.ProductID,
		&execDate, &rec.DayNumber, &qty, &unit, &rec.Status, &rec.StatusReason,
		&rec.Observations, &rec.ActorID, &key, &warnings, &allocations,
		&createdAt, &executedAt, &updatedAt)
	if err != nil {
		return rec, err
	}

	if ruleID.Valid {
		r := feeding.RuleID(ruleID.String)
		rec.RuleID = &r
	}
	if key.Valid {
		rec.IdempotencyKey = key.String
	}
	if executedAt.Valid {
		t := parseTime(executedAt.String)
		rec.ExecutedAt = &t
	}
	rec.QuantityApplied = amountFrom(qty, unit)
	rec.Date = parseTime(execDate)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(warnings), &rec.Warnings); err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(allocations), &rec.Allocations); err != nil {
		return rec, err
	}
	return rec, nil
}

// =============================================================================
// FEEDING STORE - Corrections (append-only) & bounds
// =============================================================================

func (q *queries) AppendCorrections(ctx context.Context, entries []feeding.CorrectionEntry) error {
	for _, e := range entries {
		meta, err := json.Marshal(e.RequestMeta)
		if err != nil {
			return err
		}
		_, err = q.db.ExecContext(ctx, `
			INSERT INTO corrections
				(id, execution_id, field, old_value, new_value, reason, actor_id, request_meta, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(e.ID), string(e.ExecutionID), e.Field, e.OldValue, e.NewValue,
			e.Reason, string(e.ActorID), string(meta), formatTime(e.CreatedAt))
		if err != nil {
			return err
		}
	}
	return nil
}

func (q *queries) Corrections(ctx context.Context, id feeding.ExecutionID) ([]feeding.CorrectionEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, execution_id, field, old_value, new_value, reason, actor_id, request_meta, created_at
		FROM corrections WHERE execution_id = ? ORDER BY created_at, id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []feeding.CorrectionEntry
	for rows.Next() {
		var e feeding.CorrectionEntry
		var meta, createdAt string
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.Field, &e.OldValue, &e.NewValue,
			&e.Reason, &e.ActorID, &meta, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &e.RequestMeta); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *queries) SaveBounds(ctx context.Context, b feeding.Bounds) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO bounds (species, stage, min_qty, max_qty, ref_qty, qty_unit, warn_low, warn_high)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(species, stage) DO UPDATE SET
			min_qty = excluded.min_qty,
			max_qty = excluded.max_qty,
			ref_qty = excluded.ref_qty,
			qty_unit = excluded.qty_unit,
			warn_low = excluded.warn_low,
			warn_high = excluded.warn_high`,
		b.Species, b.Stage, b.MinPerAnimal.Value.String(), b.MaxPerAnimal.Value.String(),
		b.ReferencePerAnimal.Value.String(), string(b.MinPerAnimal.Unit),
		b.WarnLowFactor.String(), b.WarnHighFactor.String())
	return err
}

func (q *queries) GetBounds(ctx context.Context, species, stage string) (*feeding.Bounds, error) {
	b, err := q.getBounds(ctx, species, stage)
	if err != nil || b != nil {
		return b, err
	}
	// Fall back to the species-wide row when no stage-specific bounds exist
	if stage != "" {
		return q.getBounds(ctx, species, "")
	}
	return nil, nil
}

func (q *queries) getBounds(ctx context.Context, species, stage string) (*feeding.Bounds, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT species, stage, min_qty, max_qty, ref_qty, qty_unit, warn_low, warn_high
		FROM bounds WHERE species = ? AND stage = ?`, species, stage)

	var b feeding.Bounds
	var minQty, maxQty, refQty, unit, warnLow, warnHigh string
	err := row.Scan(&b.Species, &b.Stage, &minQty, &maxQty, &refQty, &unit, &warnLow, &warnHigh)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.MinPerAnimal = amountFrom(minQty, unit)
	b.MaxPerAnimal = amountFrom(maxQty, unit)
	b.ReferencePerAnimal = amountFrom(refQty, unit)
	b.WarnLowFactor = inventory.MustParseDecimal(warnLow)
	b.WarnHighFactor = inventory.MustParseDecimal(warnHigh)
	return &b, nil
}

// =============================================================================
// INVENTORY STORE - Batches
// =============================================================================

func (q *queries) SaveBatch(ctx context.Context, b inventory.Batch) error {
	var expiresAt sql.NullString
	if b.ExpiresAt != nil {
		expiresAt = sql.NullString{String: formatTime(*b.ExpiresAt), Valid: true}
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO batches
			(id, product_id, batch_code, received_at, expires_at, control_unit,
			 unit_content, remaining, remaining_unit, unit_cost, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			remaining = excluded.remaining,
			remaining_unit = excluded.remaining_unit,
			active = excluded.active`,
		string(b.ID), string(b.ProductID), b.BatchCode, formatTime(b.ReceivedAt),
		expiresAt, string(b.ControlUnit), b.UnitContent.String(),
		b.Remaining.Value.String(), string(b.Remaining.Unit),
		b.UnitCost.String(), boolInt(b.Active), formatTime(b.CreatedAt))
	return err
}

const batchColumns = `
	id, product_id, batch_code, received_at, expires_at, control_unit,
	unit_content, remaining, remaining_unit, unit_cost, active, created_at`

func (q *queries) GetBatch(ctx context.Context, id inventory.BatchID) (*inventory.Batch, error) {
	batches, err := q.queryBatches(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, nil
	}
	return &batches[0], nil
}

func (q *queries) ActiveBatches(ctx context.Context, productID inventory.ProductID) ([]inventory.Batch, error) {
	return q.queryBatches(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE product_id = ? AND active = 1 ORDER BY received_at, id`,
		string(productID))
}

func (q *queries) BatchesExpiringBefore(ctx context.Context, productID *inventory.ProductID, cutoff time.Time) ([]inventory.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches
		WHERE active = 1 AND expires_at IS NOT NULL AND expires_at <= ?
		AND CAST(remaining AS REAL) > 0`
	args := []any{formatTime(cutoff)}
	if productID != nil {
		query += ` AND product_id = ?`
		args = append(args, string(*productID))
	}
	query += ` ORDER BY expires_at, received_at, id`
	return q.queryBatches(ctx, query, args...)
}

func (q *queries) queryBatches(ctx context.Context, query string, args ...any) ([]inventory.Batch, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.Batch
	for rows.Next() {
		var b inventory.Batch
		var expiresAt sql.NullString
		var receivedAt, unitContent, remaining, unit, unitCost, createdAt string
		var active int
		if err := rows.Scan(&b.ID, &b.ProductID, &b.BatchCode, &receivedAt, &expiresAt,
			&b.ControlUnit, &unitContent, &remaining, &unit, &unitCost, &active,
			&createdAt); err != nil {
			return nil, err
		}
		b.ReceivedAt = parseTime(receivedAt)
		if expiresAt.Valid {
			t := parseTime(expiresAt.String)
			b.ExpiresAt = &t
		}
		b.UnitContent = inventory.MustParseDecimal(unitContent)
		b.Remaining = amountFrom(remaining, unit)
		b.UnitCost = inventory.MustParseDecimal(unitCost)
		b.Active = active != 0
		b.CreatedAt = parseTime(createdAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

// =============================================================================
// INVENTORY STORE - Movements (append-only) & stock
// =============================================================================

func (q *queries) AppendMovement(ctx context.Context, m inventory.Movement) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO movements
			(id, product_id, type, quantity, quantity_unit, unit_cost, batch_id,
			 lot_id, execution_id, reversal_of, actor_id, observations, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(m.ID), string(m.ProductID), string(m.Type),
		m.Quantity.Value.String(), string(m.Quantity.Unit), m.UnitCost.String(),
		string(m.BatchID), m.LotID, m.ExecutionID, string(m.ReversalOf),
		string(m.ActorID), m.Observations, formatTime(m.CreatedAt))
	return err
}

func (q *queries) Movements(ctx context.Context, productID inventory.ProductID) ([]inventory.Movement, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, product_id, type, quantity, quantity_unit, unit_cost, batch_id,
		       lot_id, execution_id, reversal_of, actor_id, observations, created_at
		FROM movements WHERE product_id = ? ORDER BY created_at, id`, string(productID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.Movement
	for rows.Next() {
		var m inventory.Movement
		var qty, unit, unitCost, createdAt string
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &qty, &unit, &unitCost,
			&m.BatchID, &m.LotID, &m.ExecutionID, &m.ReversalOf, &m.ActorID,
			&m.Observations, &createdAt); err != nil {
			return nil, err
		}
		m.Quantity = amountFrom(qty, unit)
		m.UnitCost = inventory.MustParseDecimal(unitCost)
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (q *queries) HasReversal(ctx context.Context, of inventory.MovementID) (bool, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM movements WHERE reversal_of = ?`, string(of)).Scan(&count)
	return count > 0, err
}

func (q *queries) SumMovements(ctx context.Context, types []inventory.MovementType) (map[inventory.ProductID]decimal.Decimal, error) {
	sums := make(map[inventory.ProductID]decimal.Decimal)
	if len(types) == 0 {
		return sums, nil
	}

	placeholders := ""
	args := make([]any, len(types))
	for i, t := range types {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = string(t)
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT product_id, quantity FROM movements WHERE type IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var productID inventory.ProductID
		var qty string
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		sums[productID] = sums[productID].Add(inventory.MustParseDecimal(qty))
	}
	return sums, rows.Err()
}

func (q *queries) GetStock(ctx context.Context, productID inventory.ProductID) (*inventory.Stock, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT product_id, quantity, quantity_unit, updated_at FROM stock WHERE product_id = ?`,
		string(productID))

	var st inventory.Stock
	var qty, unit, updatedAt string
	err := row.Scan(&st.ProductID, &qty, &unit, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.Quantity = amountFrom(qty, unit)
	st.UpdatedAt = parseTime(updatedAt)
	return &st, nil
}

func (q *queries) PutStock(ctx context.Context, st inventory.Stock) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO stock (product_id, quantity, quantity_unit, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(product_id) DO UPDATE SET
			quantity = excluded.quantity,
			quantity_unit = excluded.quantity_unit,
			updated_at = excluded.updated_at`,
		string(st.ProductID), st.Quantity.Value.String(), string(st.Quantity.Unit),
		formatTime(st.UpdatedAt))
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func amountFrom(value, unit string) inventory.Amount {
	return inventory.Amount{Value: inventory.MustParseDecimal(value), Unit: inventory.Unit(unit)}
}
