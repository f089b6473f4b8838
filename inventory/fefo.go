/*
fefo.go - First-Expired-First-Out consumption engine

PURPOSE:
  Deducts consumption from batch-tracked stock in ascending expiration order
  so expiring stock is used before newer stock, and records every batch
  decrement as an immutable LOT_CONSUMPTION movement.

TWO-PHASE ALLOCATION:
  Consume never mutates anything before feasibility is proven:
  1. PLAN:  load consumable batches, sort FEFO, greedily allocate. If the
            total available is short, fail with InsufficientStockError and
            touch nothing.
  2. APPLY: decrement batches, append one movement per decrement, and adjust
            the consolidated stock row by the total in the same transaction.

ORDERING POLICY:
  Batches are sorted ascending by expiration date. Batches WITHOUT an
  expiration date sort after all dated batches (business decision recorded
  in DESIGN.md). Ties break on received date, then batch id, so the order
  is deterministic.

REVERSAL:
  Reverse re-credits each allocation's batch and records a compensating
  ADJUSTMENT movement referencing the original movement id. An allocation
  whose movement already has a reversal is skipped, making double reversal
  a no-op rather than a double credit.

SEE ALSO:
  - store.go: Persistence interface
  - consolidated.go: Stock view reconciled against batches
  - feeding/ledger.go: Calls Consume inside the execution transaction
*/
package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine performs FEFO consumption, batch ingress, and reversal against a
// Store. Run mutating calls inside a transactional store view so the
// read-plan-apply sequence cannot interleave with a concurrent writer.
type Engine struct {
	Store Store

	// Clock and NewID are overridable for tests.
	Clock func() time.Time
	NewID func() string
}

func NewEngine(store Store) *Engine {
	return &Engine{Store: store, Clock: time.Now, NewID: uuid.NewString}
}

// WithStore returns a copy of the engine bound to another store, typically a
// transaction-scoped view handed out by feeding.TxStore.
func (e *Engine) WithStore(store Store) *Engine {
	return &Engine{Store: store, Clock: e.Clock, NewID: e.NewID}
}

// ConsumptionRef ties a consumption's movements back to the feeding event
// that triggered it.
type ConsumptionRef struct {
	LotID        string
	ExecutionID  string
	Actor        ActorID
	Observations string
}

// =============================================================================
// CONSUME - Two-phase FEFO deduction
// =============================================================================

// Consume deducts quantity from the product's batches in FEFO order.
// Returns one Allocation per batch decrement. If the eligible batches cannot
// cover the full quantity, nothing is mutated and InsufficientStockError is
// returned.
func (e *Engine) Consume(ctx context.Context, productID ProductID, quantity Amount, ref ConsumptionRef) ([]Allocation, error) {
	if !quantity.IsPositive() {
		return nil, &InvalidQuantityError{ProductID: productID, Quantity: quantity}
	}

	batches, err := e.Store.ActiveBatches(ctx, productID)
	if err != nil {
		return nil, err
	}

	// Phase 1: plan.
	plan, available := planAllocation(batches, quantity)
	if plan == nil {
		return nil, &InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: available,
			Shortfall: quantity.Sub(available),
		}
	}

	// Phase 2: apply.
	now := e.Clock()
	allocations := make([]Allocation, 0, len(plan))
	for _, take := range plan {
		b := take.batch
		b.Remaining = b.Remaining.Sub(take.amount)
		if err := e.Store.SaveBatch(ctx, b); err != nil {
			return nil, err
		}

		m := Movement{
			ID:           MovementID(e.NewID()),
			ProductID:    productID,
			Type:         MovementLotConsumption,
			Quantity:     take.amount,
			UnitCost:     b.UnitCost,
			BatchID:      b.ID,
			LotID:        ref.LotID,
			ExecutionID:  ref.ExecutionID,
			ActorID:      ref.Actor,
			Observations: ref.Observations,
			CreatedAt:    now,
		}
		if err := e.Store.AppendMovement(ctx, m); err != nil {
			return nil, err
		}

		allocations = append(allocations, Allocation{
			BatchID:    b.ID,
			ProductID:  productID,
			Quantity:   take.amount,
			MovementID: m.ID,
		})
	}

	if err := e.adjustStock(ctx, productID, quantity.Neg(), now); err != nil {
		return nil, err
	}
	return allocations, nil
}

type plannedTake struct {
	batch  Batch
	amount Amount
}

// planAllocation greedily allocates quantity across batches in FEFO order.
// Returns (nil, available) when the batches cannot cover the request.
func planAllocation(batches []Batch, quantity Amount) ([]plannedTake, Amount) {
	eligible := make([]Batch, 0, len(batches))
	for _, b := range batches {
		if b.Consumable() {
			eligible = append(eligible, b)
		}
	}
	SortFEFO(eligible)

	available := quantity.Zero()
	for _, b := range eligible {
		available = available.Add(b.Remaining)
	}
	if available.LessThan(quantity) {
		return nil, available
	}

	var plan []plannedTake
	remaining := quantity
	for _, b := range eligible {
		if !remaining.IsPositive() {
			break
		}
		take := remaining.Min(b.Remaining)
		plan = append(plan, plannedTake{batch: b, amount: take})
		remaining = remaining.Sub(take)
	}
	return plan, available
}

// SortFEFO orders batches ascending by expiration date. Batches without an
// expiration date sort last; ties break on received date, then id.
func SortFEFO(batches []Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt == nil:
			// fall through to tie-break
		case a.ExpiresAt == nil:
			return false
		case b.ExpiresAt == nil:
			return true
		case !a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.ID < b.ID
	})
}

// =============================================================================
// REGISTER ENTRY - Batch ingress
// =============================================================================

// EntryInput describes a new inventory ingress. Units is the number of
// control units received; UnitContent converts one control unit to the base
// unit (e.g., 25 kg sacks: ControlUnit "unit", UnitContent 25, base kg).
type EntryInput struct {
	ProductID    ProductID
	BatchCode    string
	ReceivedAt   time.Time  // zero = now
	ExpiresAt    *time.Time // nil = no expiration date
	ControlUnit  Unit
	UnitContent  decimal.Decimal // base units per control unit; zero = 1
	Units        decimal.Decimal // control units received
	BaseUnit     Unit
	UnitCost     decimal.Decimal
	Actor        ActorID
	Observations string
}

// RegisterEntry creates a new batch, records the IN movement, and increments
// consolidated stock, all against the engine's store.
func (e *Engine) RegisterEntry(ctx context.Context, in EntryInput) (*Batch, error) {
	content := in.UnitContent
	if content.IsZero() {
		content = decimal.NewFromInt(1)
	}
	quantity := Amount{Value: in.Units.Mul(content), Unit: in.BaseUnit}
	if !quantity.IsPositive() {
		return nil, &InvalidQuantityError{ProductID: in.ProductID, Quantity: quantity}
	}

	now := e.Clock()
	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}

	batch := Batch{
		ID:          BatchID(e.NewID()),
		ProductID:   in.ProductID,
		BatchCode:   in.BatchCode,
		ReceivedAt:  receivedAt,
		ExpiresAt:   in.ExpiresAt,
		ControlUnit: in.ControlUnit,
		UnitContent: content,
		Remaining:   quantity,
		UnitCost:    in.UnitCost,
		Active:      true,
		CreatedAt:   now,
	}
	if err := e.Store.SaveBatch(ctx, batch); err != nil {
		return nil, err
	}

	m := Movement{
		ID:           MovementID(e.NewID()),
		ProductID:    in.ProductID,
		Type:         MovementIn,
		Quantity:     quantity,
		UnitCost:     in.UnitCost,
		BatchID:      batch.ID,
		ActorID:      in.Actor,
		Observations: in.Observations,
		CreatedAt:    now,
	}
	if err := e.Store.AppendMovement(ctx, m); err != nil {
		return nil, err
	}

	if err := e.adjustStock(ctx, in.ProductID, quantity, now); err != nil {
		return nil, err
	}
	return &batch, nil
}

// =============================================================================
// REVERSE - Compensating re-credit for corrections
// =============================================================================

// ReversalRef ties compensating movements back to the correction that
// triggered them.
type ReversalRef struct {
	ExecutionID  string
	Actor        ActorID
	Observations string
}

// Reverse re-credits each allocation's batch and records a compensating
// ADJUSTMENT movement referencing the original movement. Allocations whose
// movement is already reversed are skipped, so calling Reverse twice with
// the same allocations credits stock exactly once.
func (e *Engine) Reverse(ctx context.Context, allocations []Allocation, ref ReversalRef) error {
	now := e.Clock()
	for _, alloc := range allocations {
		reversed, err := e.Store.HasReversal(ctx, alloc.MovementID)
		if err != nil {
			return err
		}
		if reversed {
			continue
		}

		batch, err := e.Store.GetBatch(ctx, alloc.BatchID)
		if err != nil {
			return err
		}
		if batch == nil {
			return ErrBatchNotFound
		}

		batch.Remaining = batch.Remaining.Add(alloc.Quantity)
		if err := e.Store.SaveBatch(ctx, *batch); err != nil {
			return err
		}

		m := Movement{
			ID:           MovementID(e.NewID()),
			ProductID:    alloc.ProductID,
			Type:         MovementAdjustment,
			Quantity:     alloc.Quantity,
			UnitCost:     batch.UnitCost,
			BatchID:      alloc.BatchID,
			ExecutionID:  ref.ExecutionID,
			ReversalOf:   alloc.MovementID,
			ActorID:      ref.Actor,
			Observations: ref.Observations,
			CreatedAt:    now,
		}
		if err := e.Store.AppendMovement(ctx, m); err != nil {
			return err
		}

		if err := e.adjustStock(ctx, alloc.ProductID, alloc.Quantity, now); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// STOCK MAINTENANCE
// =============================================================================

// adjustStock applies a signed delta to the cached consolidated stock row.
// Runs inside the caller's transaction so the cache never drifts from the
// batch mutations committed alongside it.
func (e *Engine) adjustStock(ctx context.Context, productID ProductID, delta Amount, now time.Time) error {
	current, err := e.Store.GetStock(ctx, productID)
	if err != nil {
		return err
	}
	next := Stock{ProductID: productID, Quantity: delta, UpdatedAt: now}
	if current != nil {
		next.Quantity = current.Quantity.Add(delta)
		next.Quantity.Unit = firstUnit(current.Quantity.Unit, delta.Unit)
	}
	return e.Store.PutStock(ctx, next)
}

func firstUnit(units ...Unit) Unit {
	for _, u := range units {
		if u != "" {
			return u
		}
	}
	return ""
}
