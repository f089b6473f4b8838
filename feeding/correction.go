/*
correction.go - Bounded, audited post-hoc amendment of executions

PURPOSE:
  An EXECUTED feeding record can be amended after the fact, but only inside
  a server-enforced window, only on whitelisted fields, and only with a full
  before/after audit trail. The record keeps its EXECUTED status; the audit
  entries are append-only and immutable.

CORRECTION WINDOW:
  The policy is pluggable but ALWAYS enforced here, never trusted from the
  caller. The default WindowPolicy admits corrections within N days of
  execution; elevated actors bypass the window.

QUANTITY CORRECTIONS:
  Changing quantity_applied reverses the prior consumption with compensating
  ADJUSTMENT movements (strict batch-exact FEFO reversal is out of scope)
  and then runs a fresh FEFO consumption for the new quantity. Net effect on
  stock is as if the new quantity had been fed originally.

ATOMICITY:
  Re-validation, inventory reversal+reconsumption, audit append, and the
  record update happen in ONE transaction. Audit written without the record
  changing, or vice versa, would be a correctness violation.

SEE ALSO:
  - ledger.go: Creates the records amended here
  - inventory/fefo.go: Reverse and Consume used for quantity changes
*/
package feeding

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/feedlot-engine/inventory"
)

// =============================================================================
// CORRECTION POLICY
// =============================================================================

// CorrectionPolicy decides whether an actor may amend an execution record.
// Enforced server-side on every correction.
type CorrectionPolicy interface {
	CanCorrect(rec ExecutionRecord, actor ActorID, now time.Time) error
}

// WindowPolicy admits corrections within Window of the execution timestamp.
// Elevated actors bypass the window.
type WindowPolicy struct {
	Window   time.Duration
	Elevated map[ActorID]bool
}

func (p WindowPolicy) CanCorrect(rec ExecutionRecord, actor ActorID, now time.Time) error {
	if p.Elevated[actor] {
		return nil
	}
	executedAt := rec.CreatedAt
	if rec.ExecutedAt != nil {
		executedAt = *rec.ExecutedAt
	}
	if now.Sub(executedAt) > p.Window {
		return &CorrectionForbiddenError{
			ExecutionID: rec.ID,
			ActorID:     actor,
			Reason:      fmt.Sprintf("correction window of %s expired", p.Window),
		}
	}
	return nil
}

// =============================================================================
// CORRECTION AUDIT
// =============================================================================

// CorrectionAudit amends EXECUTED records under the correction policy,
// writing one immutable CorrectionEntry per changed field.
type CorrectionAudit struct {
	Tx     TxStore
	Engine *inventory.Engine
	Policy CorrectionPolicy

	Clock func() time.Time
	NewID func() string
}

func NewCorrectionAudit(tx TxStore, engine *inventory.Engine, policy CorrectionPolicy) *CorrectionAudit {
	return &CorrectionAudit{Tx: tx, Engine: engine, Policy: policy, Clock: time.Now, NewID: uuid.NewString}
}

// FieldChange is one requested amendment: the field name and its new value,
// both as strings so the audit trail stores exactly what was requested.
type FieldChange struct {
	Field    string
	NewValue string
}

// CanCorrect reports whether the actor may currently amend the execution.
// Read-only; the same policy runs again inside Correct.
func (c *CorrectionAudit) CanCorrect(ctx context.Context, id ExecutionID, actor ActorID) error {
	var rec *ExecutionRecord
	err := c.Tx.WithTx(ctx, func(s Stores) error {
		var err error
		rec, err = s.Feeding.GetExecution(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrExecutionNotFound
	}
	if rec.Status != StatusExecuted {
		return fmt.Errorf("%w: only EXECUTED records can be corrected, %s is %s", ErrInvalidStatus, id, rec.Status)
	}
	return c.Policy.CanCorrect(*rec, actor, c.Clock())
}

// Correct applies the field changes to an EXECUTED record atomically:
// policy gate, per-field re-validation, inventory reversal+reconsumption for
// quantity changes, audit append, record update. The record keeps its
// EXECUTED status.
func (c *CorrectionAudit) Correct(ctx context.Context, id ExecutionID, changes []FieldChange, reason string, actor ActorID, requestMeta map[string]string) (*ExecutionRecord, error) {
	if len(changes) == 0 {
		return nil, fmt.Errorf("%w: no field changes", ErrInvalidInput)
	}

	var out *ExecutionRecord
	err := c.Tx.WithTx(ctx, func(s Stores) error {
		rec, err := s.Feeding.GetExecution(ctx, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrExecutionNotFound
		}
		if rec.Status != StatusExecuted {
			return fmt.Errorf("%w: only EXECUTED records can be corrected, %s is %s", ErrInvalidStatus, id, rec.Status)
		}

		now := c.Clock()
		if err := c.Policy.CanCorrect(*rec, actor, now); err != nil {
			return err
		}

		var entries []CorrectionEntry
		for _, change := range changes {
			entry := CorrectionEntry{
				ID:          CorrectionID(c.NewID()),
				ExecutionID: rec.ID,
				Field:       change.Field,
				NewValue:    change.NewValue,
				Reason:      reason,
				ActorID:     actor,
				RequestMeta: requestMeta,
				CreatedAt:   now,
			}

			switch change.Field {
			case FieldQuantityApplied:
				entry.OldValue = rec.QuantityApplied.Value.String()
				if err := c.applyQuantityChange(ctx, s, rec, change.NewValue, actor); err != nil {
					return err
				}
			case FieldObservations:
				entry.OldValue = rec.Observations
				rec.Observations = change.NewValue
			default:
				return fmt.Errorf("%w: %s", ErrUncorrectableField, change.Field)
			}
			entries = append(entries, entry)
		}

		rec.UpdatedAt = now
		if err := s.Feeding.AppendCorrections(ctx, entries); err != nil {
			return err
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

// applyQuantityChange re-validates the new quantity, reverses the prior
// consumption, and consumes the new quantity in FEFO order. Mutates rec.
func (c *CorrectionAudit) applyQuantityChange(ctx context.Context, s Stores, rec *ExecutionRecord, newValue string, actor ActorID) error {
	value, err := decimal.NewFromString(newValue)
	if err != nil {
		return fmt.Errorf("%w: %q is not a quantity", ErrInvalidInput, newValue)
	}
	quantity := inventory.Amount{Value: value, Unit: rec.QuantityApplied.Unit}
	if !quantity.IsPositive() {
		return fmt.Errorf("%w: corrected quantity", ErrInvalidQuantity)
	}

	warnings, err := c.revalidateBounds(ctx, s.Feeding, *rec, quantity)
	if err != nil {
		return err
	}

	engine := c.Engine.WithStore(s.Inventory)
	if err := engine.Reverse(ctx, rec.Allocations, inventory.ReversalRef{
		ExecutionID:  string(rec.ID),
		Actor:        inventory.ActorID(actor),
		Observations: "quantity correction reversal",
	}); err != nil {
		return err
	}

	assignment, err := s.Feeding.GetAssignment(ctx, rec.AssignmentID)
	if err != nil {
		return err
	}
	lotID := ""
	if assignment != nil {
		lotID = string(assignment.LotID)
	}

	allocations, err := engine.Consume(ctx, rec.ProductID, quantity, inventory.ConsumptionRef{
		LotID:       lotID,
		ExecutionID: string(rec.ID),
		Actor:       inventory.ActorID(actor),
	})
	if err != nil {
		return err
	}

	rec.QuantityApplied = quantity
	rec.Allocations = allocations
	rec.Warnings = warnings
	return nil
}

// revalidateBounds runs the same bounds check used at creation against the
// corrected quantity.
func (c *CorrectionAudit) revalidateBounds(ctx context.Context, s Store, rec ExecutionRecord, quantity inventory.Amount) ([]string, error) {
	assignment, err := s.GetAssignment(ctx, rec.AssignmentID)
	if err != nil {
		return nil, err
	}
	if assignment == nil || assignment.AnimalCount <= 0 {
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
	return bounds.Check(quantity.Div(intDecimal(assignment.AnimalCount))), nil
}

// CorrectionHistory returns the append-only audit chain of an execution.
func (c *CorrectionAudit) CorrectionHistory(ctx context.Context, id ExecutionID) ([]CorrectionEntry, error) {
	var out []CorrectionEntry
	err := c.Tx.WithTx(ctx, func(s Stores) error {
		rec, err := s.Feeding.GetExecution(ctx, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrExecutionNotFound
		}
		out, err = s.Feeding.Corrections(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
