/*
store.go - Persistence interface for batches, movements, and stock

PURPOSE:
  Defines the interface between the inventory domain logic and the database.
  Movements are append-only; batches are mutated only through Remaining and
  Active; the stock row is a reconcilable cache.

APPEND-ONLY CONTRACT:
  The movement ledger has no Update or Delete. Corrections are recorded as
  compensating ADJUSTMENT movements referencing the original movement id.

CONCURRENCY:
  Consume and Reverse read batch remaining quantities and write them back.
  Implementations must let callers wrap the whole read-plan-apply sequence in
  one transaction (see feeding.TxStore); two concurrent consumptions of the
  same product must serialize.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite store
  - store/memory: In-memory store for testing

SEE ALSO:
  - fefo.go: Engine built on this interface
  - feeding/store.go: Cross-domain transactional boundary
*/
package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store handles persistence for batches, movements, and consolidated stock.
// Movements are APPEND-ONLY: no update, no delete, ever.
type Store interface {
	// SaveBatch inserts a batch or updates its Remaining/Active fields.
	SaveBatch(ctx context.Context, b Batch) error

	// GetBatch returns a batch by id, or nil when missing.
	GetBatch(ctx context.Context, id BatchID) (*Batch, error)

	// ActiveBatches returns all active batches for a product, including
	// depleted ones, ordered by received date.
	ActiveBatches(ctx context.Context, productID ProductID) ([]Batch, error)

	// BatchesExpiringBefore returns active batches with remaining quantity
	// whose expiration date is on or before cutoff. A nil productID spans
	// all products. Batches without an expiration date are never returned.
	BatchesExpiringBefore(ctx context.Context, productID *ProductID, cutoff time.Time) ([]Batch, error)

	// AppendMovement persists one immutable ledger row.
	AppendMovement(ctx context.Context, m Movement) error

	// Movements returns the chronological movement log for a product.
	Movements(ctx context.Context, productID ProductID) ([]Movement, error)

	// HasReversal reports whether a compensating movement referencing the
	// given movement id already exists. Used for idempotent reversal.
	HasReversal(ctx context.Context, of MovementID) (bool, error)

	// SumMovements aggregates movement quantities per product for the given
	// movement types.
	SumMovements(ctx context.Context, types []MovementType) (map[ProductID]decimal.Decimal, error)

	// GetStock returns the cached consolidated stock row, or nil when the
	// product has never had stock.
	GetStock(ctx context.Context, productID ProductID) (*Stock, error)

	// PutStock upserts the cached consolidated stock row.
	PutStock(ctx context.Context, s Stock) error
}
