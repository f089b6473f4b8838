/*
store.go - Persistence interfaces for the feeding domain

PURPOSE:
  Defines the interface between feeding domain logic and the database, plus
  the transactional boundary that lets an execution's record write and its
  inventory deduction commit or roll back together.

MUTATION CONTRACT:
  - Executions: insert, then in-place update for status transitions and
    corrections. Never deleted.
  - Corrections: APPEND-ONLY. No update, no delete, ever.
  - Plans/rules/assignments: deactivation is status-based, never physical.

TRANSACTIONS:
  TxStore.WithTx hands the callback a Stores view whose feeding and inventory
  halves share one underlying transaction. RegisterExecution, ExecutePending,
  and Correct run entirely inside WithTx; a failure in either half rolls back
  both.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite store (single *sql.Tx backs both views)
  - store/memory: In-memory store with snapshot/rollback transactions

SEE ALSO:
  - ledger.go: Execution state machine built on this boundary
  - inventory/store.go: The inventory half of the Stores view
*/
package feeding

import (
	"context"

	"github.com/warp/feedlot-engine/inventory"
)

// Store handles persistence for plans, rules, assignments, executions,
// corrections, and validation bounds.
type Store interface {
	// Plans
	SavePlan(ctx context.Context, p Plan) error
	GetPlan(ctx context.Context, id PlanID) (*Plan, error)
	ListPlans(ctx context.Context) ([]Plan, error)

	// Schedule rules
	SaveRule(ctx context.Context, r ScheduleRule) error
	GetRule(ctx context.Context, id RuleID) (*ScheduleRule, error)

	// ActiveRules returns the active rules of a plan ordered by DayStart.
	ActiveRules(ctx context.Context, planID PlanID) ([]ScheduleRule, error)

	// Assignments
	SaveAssignment(ctx context.Context, a Assignment) error
	GetAssignment(ctx context.Context, id AssignmentID) (*Assignment, error)
	AssignmentsByLot(ctx context.Context, lotID LotID) ([]Assignment, error)

	// Executions
	SaveExecution(ctx context.Context, rec ExecutionRecord) error
	GetExecution(ctx context.Context, id ExecutionID) (*ExecutionRecord, error)

	// GetExecutionByKey returns the execution created under a caller-supplied
	// idempotency key, or nil when the key is unseen.
	GetExecutionByKey(ctx context.Context, idempotencyKey string) (*ExecutionRecord, error)

	// ExecutionsByAssignment returns an assignment's executions ordered by date.
	ExecutionsByAssignment(ctx context.Context, id AssignmentID) ([]ExecutionRecord, error)

	// Corrections (append-only)
	AppendCorrections(ctx context.Context, entries []CorrectionEntry) error
	Corrections(ctx context.Context, id ExecutionID) ([]CorrectionEntry, error)

	// Validation bounds
	SaveBounds(ctx context.Context, b Bounds) error

	// GetBounds returns the bounds for a species and stage, falling back to
	// the species' stage-less bounds; nil when none are configured.
	GetBounds(ctx context.Context, species, stage string) (*Bounds, error)
}

// Stores bundles the feeding and inventory halves of one transaction.
type Stores struct {
	Feeding   Store
	Inventory inventory.Store
}

// TxStore executes a function within one atomic unit spanning both domains.
// If fn returns an error, every write made through the Stores view is rolled
// back; otherwise all are committed together.
type TxStore interface {
	WithTx(ctx context.Context, fn func(Stores) error) error
}
