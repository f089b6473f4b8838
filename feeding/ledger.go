/*
ledger.go - Execution state machine over the feeding/inventory transaction

PURPOSE:
  Records every feeding event and drives its status transitions:

      PENDING ──> EXECUTED   (feeding performed, stock deducted)
      PENDING ──> OMITTED    (feeding skipped, no stock movement)

  EXECUTED records stay EXECUTED; the correction workflow amends their
  recorded values without changing status (see correction.go).

ATOMICITY:
  RegisterExecution and ExecutePending run the record write and the FEFO
  deduction inside ONE TxStore transaction. If the deduction fails
  (insufficient stock), no execution record is left behind; if the record
  write fails, no stock is consumed.

IDEMPOTENCY:
  Retried client requests would otherwise create duplicate records and
  double-deduct stock. Callers supply an idempotency key; a key that was
  already used returns the original record unchanged, inside the same
  transaction that would have created a duplicate.

UNSCHEDULED ENTRIES:
  Lots can be fed outside a formal plan. When no rule resolves for the day,
  registration is still allowed as a manual entry, provided the caller names
  the product explicitly. Ambiguous days (more than one rule) require the
  caller to pick a rule id.

BOUNDS:
  Out-of-bounds quantities are flagged in the returned record's Warnings,
  never rejected: heuristic bounds must not block data capture.

SEE ALSO:
  - schedule.go: Day resolution feeding this ledger
  - correction.go: Post-hoc amendment of EXECUTED records
  - inventory/fefo.go: The deduction engine invoked in-transaction
*/
package feeding

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/feedlot-engine/inventory"
)

// =============================================================================
// EXECUTION LEDGER
// =============================================================================

// ExecutionLedger records feeding events and drives their status machine.
type ExecutionLedger struct {
	Tx     TxStore
	Engine *inventory.Engine

	Clock func() time.Time
	NewID func() string
}

func NewExecutionLedger(tx TxStore, engine *inventory.Engine) *ExecutionLedger {
	return &ExecutionLedger{Tx: tx, Engine: engine, Clock: time.Now, NewID: uuid.NewString}
}

// RegisterInput describes a feeding execution to record.
type RegisterInput struct {
	AssignmentID AssignmentID
	Date         time.Time
	Quantity     inventory.Amount // total quantity applied to the lot

	// RuleID picks one rule when the day resolves ambiguously. Optional
	// otherwise.
	RuleID RuleID

	// ProductID names the product for manual entries on unscheduled days.
	// Ignored when a rule resolves.
	ProductID inventory.ProductID

	Observations   string
	Actor          ActorID
	IdempotencyKey string
}

// RegisterExecution records a feeding as EXECUTED and deducts the applied
// quantity from inventory in FEFO order, atomically. A reused idempotency
// key returns the originally created record.
func (l *ExecutionLedger) RegisterExecution(ctx context.Context, in RegisterInput) (*ExecutionRecord, error) {
	var out *ExecutionRecord
	err := l.Tx.WithTx(ctx, func(s Stores) error {
		if in.IdempotencyKey != "" {
			existing, err := s.Feeding.GetExecutionByKey(ctx, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				out = existing
				return nil
			}
		}

		assignment, rec, err := l.buildRecord(ctx, s, in)
		if err != nil {
			return err
		}

		now := l.Clock()
		rec.Status = StatusExecuted
		rec.ExecutedAt = &now

		allocations, err := l.Engine.WithStore(s.Inventory).Consume(ctx, rec.ProductID, in.Quantity, inventory.ConsumptionRef{
			LotID:       string(assignment.LotID),
			ExecutionID: string(rec.ID),
			Actor:       inventory.ActorID(in.Actor),
		})
		if err != nil {
			return err
		}
		rec.Allocations = allocations

		if err := s.Feeding.SaveExecution(ctx, *rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterPending records a due feeding as PENDING without touching
// inventory. The record is executed or omitted later.
func (l *ExecutionLedger) RegisterPending(ctx context.Context, in RegisterInput) (*ExecutionRecord, error) {
	var out *ExecutionRecord
	err := l.Tx.WithTx(ctx, func(s Stores) error {
		if in.IdempotencyKey != "" {
			existing, err := s.Feeding.GetExecutionByKey(ctx, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				out = existing
				return nil
			}
		}

		_, rec, err := l.buildRecord(ctx, s, in)
		if err != nil {
			return err
		}
		rec.Status = StatusPending

		if err := s.Feeding.SaveExecution(ctx, *rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExecutePending transitions a PENDING record to EXECUTED, deducting stock
// atomically. quantity overrides the pending quantity when positive.
func (l *ExecutionLedger) ExecutePending(ctx context.Context, id ExecutionID, quantity inventory.Amount, actor ActorID, observations string) (*ExecutionRecord, error) {
	var out *ExecutionRecord
	err := l.Tx.WithTx(ctx, func(s Stores) error {
		rec, err := s.Feeding.GetExecution(ctx, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrExecutionNotFound
		}
		if rec.Status != StatusPending {
			return fmt.Errorf("%w: %s is %s", ErrInvalidStatus, id, rec.Status)
		}

		applied := rec.QuantityApplied
		if quantity.IsPositive() {
			applied = quantity
		}
		if !applied.IsPositive() {
			return fmt.Errorf("%w: execute pending %s", ErrInvalidQuantity, id)
		}

		assignment, err := s.Feeding.GetAssignment(ctx, rec.AssignmentID)
		if err != nil {
			return err
		}
		if assignment == nil {
			return ErrAssignmentNotFound
		}

		allocations, err := l.Engine.WithStore(s.Inventory).Consume(ctx, rec.ProductID, applied, inventory.ConsumptionRef{
			LotID:       string(assignment.LotID),
			ExecutionID: string(rec.ID),
			Actor:       inventory.ActorID(actor),
		})
		if err != nil {
			return err
		}

		now := l.Clock()
		rec.Status = StatusExecuted
		rec.QuantityApplied = applied
		rec.Allocations = allocations
		rec.ExecutedAt = &now
		rec.UpdatedAt = now
		rec.ActorID = actor
		if observations != "" {
			rec.Observations = observations
		}

		if err := s.Feeding.SaveExecution(ctx, *rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkOmitted transitions a PENDING record to OMITTED. No inventory movement.
func (l *ExecutionLedger) MarkOmitted(ctx context.Context, id ExecutionID, reason string, actor ActorID) (*ExecutionRecord, error) {
	var out *ExecutionRecord
	err := l.Tx.WithTx(ctx, func(s Stores) error {
		rec, err := s.Feeding.GetExecution(ctx, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrExecutionNotFound
		}
		if rec.Status != StatusPending {
			return fmt.Errorf("%w: %s is %s", ErrInvalidStatus, id, rec.Status)
		}

		rec.Status = StatusOmitted
		rec.StatusReason = reason
		rec.ActorID = actor
		rec.UpdatedAt = l.Clock()

		if err := s.Feeding.SaveExecution(ctx, *rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// RECORD ASSEMBLY
// =============================================================================

// buildRecord resolves the day and rule, validates quantity and bounds, and
// assembles the unsaved record. Runs inside the caller's transaction.
func (l *ExecutionLedger) buildRecord(ctx context.Context, s Stores, in RegisterInput) (*Assignment, *ExecutionRecord, error) {
	assignment, err := s.Feeding.GetAssignment(ctx, in.AssignmentID)
	if err != nil {
		return nil, nil, err
	}
	if assignment == nil {
		return nil, nil, ErrAssignmentNotFound
	}
	if assignment.Status != AssignmentActive {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrAssignmentInactive, assignment.ID, assignment.Status)
	}
	if !in.Quantity.IsPositive() {
		return nil, nil, fmt.Errorf("%w: applied quantity", ErrInvalidQuantity)
	}

	resolver := &DayResolver{Store: s.Feeding}
	res, err := resolver.resolveFor(ctx, *assignment, in.Date)
	if err != nil {
		return nil, nil, err
	}

	var ruleID *RuleID
	productID := in.ProductID
	switch len(res.Rules) {
	case 0:
		// Manual/unscheduled entry: allowed, but the product must be named.
		if productID == "" {
			return nil, nil, fmt.Errorf("%w: day %d, product required for manual entry", ErrNoRuleResolved, res.DayNumber)
		}
	case 1:
		r := res.Rules[0]
		ruleID = &r.ID
		productID = r.ProductID
	default:
		picked := pickRule(res.Rules, in.RuleID)
		if picked == nil {
			ids := make([]RuleID, len(res.Rules))
			for i, r := range res.Rules {
				ids[i] = r.ID
			}
			return nil, nil, &AmbiguousScheduleError{
				AssignmentID: assignment.ID,
				DayNumber:    res.DayNumber,
				RuleIDs:      ids,
			}
		}
		ruleID = &picked.ID
		productID = picked.ProductID
	}

	warnings, err := l.checkBounds(ctx, s.Feeding, *assignment, in.Quantity)
	if err != nil {
		return nil, nil, err
	}

	now := l.Clock()
	rec := &ExecutionRecord{
		ID:              ExecutionID(l.NewID()),
		AssignmentID:    assignment.ID,
		RuleID:          ruleID,
		ProductID:       productID,
		Date:            res.Date,
		DayNumber:       res.DayNumber,
		QuantityApplied: in.Quantity,
		Observations:    in.Observations,
		ActorID:         in.Actor,
		IdempotencyKey:  in.IdempotencyKey,
		Warnings:        warnings,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return assignment, rec, nil
}

func pickRule(rules []ScheduleRule, id RuleID) *ScheduleRule {
	if id == "" {
		return nil
	}
	for i := range rules {
		if rules[i].ID == id {
			return &rules[i]
		}
	}
	return nil
}

// checkBounds flags the per-animal quantity against the configured bounds.
// Bounds resolve by the plan's species and stage; the store falls back to the
// species-level row when no stage-specific bounds exist. Warnings never block
// registration.
func (l *ExecutionLedger) checkBounds(ctx context.Context, s Store, assignment Assignment, total inventory.Amount) ([]string, error) {
	if assignment.AnimalCount <= 0 {
		return nil, nil
	}
	plan, err := s.GetPlan(ctx, assignment.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, nil
	}
	bounds, err := s.GetBounds(ctx, plan.Species, plan.Stage)
	if err != nil {
		return nil, err
	}
	if bounds == nil {
		return nil, nil
	}
	perAnimal := total.Div(intDecimal(assignment.AnimalCount))
	return bounds.Check(perAnimal), nil
}

// =============================================================================
// QUERIES
// =============================================================================

// History returns an assignment's executions ordered by date.
func (l *ExecutionLedger) History(ctx context.Context, id AssignmentID) ([]ExecutionRecord, error) {
	var out []ExecutionRecord
	err := l.Tx.WithTx(ctx, func(s Stores) error {
		assignment, err := s.Feeding.GetAssignment(ctx, id)
		if err != nil {
			return err
		}
		if assignment == nil {
			return ErrAssignmentNotFound
		}
		out, err = s.Feeding.ExecutionsByAssignment(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
