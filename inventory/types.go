/*
Package inventory provides batch-tracked stock bookkeeping with
First-Expired-First-Out consumption.

PURPOSE:
  This package owns the inventory side of the feeding system: individual
  ingress batches with their own remaining quantity and expiration date,
  an append-only movement ledger, and a per-product consolidated stock
  figure that is always reconcilable against the batches.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (e.g., 15 kg, 200 g)
  - Batch: One inventory ingress record with remaining quantity and expiry
  - Movement: An immutable ledger entry recording one stock change
  - Allocation: One batch decrement produced by a FEFO consumption

DESIGN PRINCIPLES:
  1. Immutability: Movements are never modified, only compensated
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing product/batch IDs
  4. Auditability: Every movement carries actor, references, and timestamp

USAGE:
  qty := inventory.NewAmount(15, inventory.UnitKilogram)
  allocs, err := engine.Consume(ctx, "prod-corn", qty, inventory.ConsumptionRef{
      LotID: "lot-7", Actor: "user-3",
  })

SEE ALSO:
  - fefo.go: Two-phase FEFO allocation engine
  - consolidated.go: Consolidated stock view and expiry projections
  - store.go: Persistence interfaces
*/
package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit (always mass/volume based for this system)
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitKilogram Unit = "kg"
	UnitGram     Unit = "g"
	UnitLiter    Unit = "l"
	UnitPiece    Unit = "unit"
)

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.Unit} }
func (a Amount) Div(s decimal.Decimal) Amount { return Amount{Value: a.Value.Div(s), Unit: a.Unit} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}
func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type BatchID string
type MovementID string
type ActorID string

// =============================================================================
// BATCH - One inventory ingress with its own remaining quantity
// =============================================================================

// Batch is one inventory ingress record. The control unit describes how the
// stock arrived (e.g., 25 kg sacks); UnitContent converts one control unit to
// the base unit so Remaining is always tracked in the base unit.
//
// INVARIANT: Remaining is never negative. A batch with Remaining == 0 is
// depleted but kept; Active == false means soft-deleted.
type Batch struct {
	ID          BatchID
	ProductID   ProductID
	BatchCode   string
	ReceivedAt  time.Time
	ExpiresAt   *time.Time // nil = no expiration date
	ControlUnit Unit
	UnitContent decimal.Decimal // base units per control unit
	Remaining   Amount          // base unit
	UnitCost    decimal.Decimal
	Active      bool
	CreatedAt   time.Time
}

// Depleted reports whether the batch has no remaining quantity.
func (b Batch) Depleted() bool { return !b.Remaining.IsPositive() }

// Expired reports whether the batch's expiration date has passed at now.
// Batches without an expiration date never expire.
func (b Batch) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && b.ExpiresAt.Before(now)
}

// Consumable reports whether the batch is eligible for FEFO allocation.
func (b Batch) Consumable() bool { return b.Active && !b.Depleted() }

// =============================================================================
// MOVEMENT - Atomic change to product stock (append-only)
// =============================================================================

type MovementType string

const (
	MovementIn             MovementType = "IN"              // Batch ingress
	MovementOut            MovementType = "OUT"             // Manual outflow
	MovementLotConsumption MovementType = "LOT_CONSUMPTION" // Feeding execution deduction
	MovementAdjustment     MovementType = "ADJUSTMENT"      // Correction / reversal
)

// Movement is one immutable ledger row. Quantity is always positive; the
// movement type carries the direction (IN/ADJUSTMENT credit, OUT/LOT_CONSUMPTION debit).
type Movement struct {
	ID           MovementID
	ProductID    ProductID
	Type         MovementType
	Quantity     Amount
	UnitCost     decimal.Decimal
	BatchID      BatchID    // batch affected, empty for batch-less movements
	LotID        string     // feeding lot that triggered the movement, if any
	ExecutionID  string     // feeding execution reference, if any
	ReversalOf   MovementID // original movement compensated by this one, if any
	ActorID      ActorID
	Observations string
	CreatedAt    time.Time
}

// Signed returns the movement's effect on consolidated stock.
func (m Movement) Signed() Amount {
	switch m.Type {
	case MovementOut, MovementLotConsumption:
		return m.Quantity.Neg()
	default:
		return m.Quantity
	}
}

// =============================================================================
// ALLOCATION - One batch decrement produced by a consumption
// =============================================================================

type Allocation struct {
	BatchID    BatchID
	ProductID  ProductID
	Quantity   Amount
	MovementID MovementID // LOT_CONSUMPTION movement recorded for this take
}

// AllocatedTotal sums the quantity taken across allocations.
func AllocatedTotal(allocs []Allocation) Amount {
	if len(allocs) == 0 {
		return Amount{Value: decimal.Zero}
	}
	total := allocs[0].Quantity.Zero()
	for _, a := range allocs {
		total = total.Add(a.Quantity)
	}
	return total
}

// =============================================================================
// CONSOLIDATED STOCK - Cached per-product aggregate
// =============================================================================

// Stock is the cached consolidated quantity for a product. It must always
// reconcile with the sum of the product's active batches' remaining
// quantities; View.GetStock repairs any drift on read.
type Stock struct {
	ProductID ProductID
	Quantity  Amount
	UpdatedAt time.Time
}
