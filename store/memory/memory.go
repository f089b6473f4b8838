// Package memory provides an in-memory implementation of the feeding and
// inventory store interfaces (for testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/feedlot-engine/feeding"
	"github.com/warp/feedlot-engine/inventory"
)

// =============================================================================
// MEMORY STORE - Combined in-memory implementation
// =============================================================================

// Memory implements feeding.Store, inventory.Store, and feeding.TxStore.
// Transactions are simulated with a snapshot + rollback on error, so a
// failed WithTx leaves no partial writes behind.
type Memory struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	plans         map[feeding.PlanID]feeding.Plan
	rules         map[feeding.RuleID]feeding.ScheduleRule
	assignments   map[feeding.AssignmentID]feeding.Assignment
	executions    map[feeding.ExecutionID]feeding.ExecutionRecord
	executionKeys map[string]feeding.ExecutionID
	corrections   map[feeding.ExecutionID][]feeding.CorrectionEntry
	bounds        map[string]feeding.Bounds

	batches   map[inventory.BatchID]inventory.Batch
	movements map[inventory.ProductID][]inventory.Movement
	reversals map[inventory.MovementID]bool
	stock     map[inventory.ProductID]inventory.Stock
}

func New() *Memory {
	return &Memory{st: newState()}
}

func newState() *state {
	return &state{
		plans:         make(map[feeding.PlanID]feeding.Plan),
		rules:         make(map[feeding.RuleID]feeding.ScheduleRule),
		assignments:   make(map[feeding.AssignmentID]feeding.Assignment),
		executions:    make(map[feeding.ExecutionID]feeding.ExecutionRecord),
		executionKeys: make(map[string]feeding.ExecutionID),
		corrections:   make(map[feeding.ExecutionID][]feeding.CorrectionEntry),
		bounds:        make(map[string]feeding.Bounds),
		batches:       make(map[inventory.BatchID]inventory.Batch),
		movements:     make(map[inventory.ProductID][]inventory.Movement),
		reversals:     make(map[inventory.MovementID]bool),
		stock:         make(map[inventory.ProductID]inventory.Stock),
	}
}

// WithTx executes fn within a transaction. Snapshot the state, run fn against
// an unlocked view, restore on error.
func (m *Memory) WithTx(ctx context.Context, fn func(feeding.Stores) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(feeding.Stores{Feeding: m.st, Inventory: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.plans {
		c.plans[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = v
	}
	for k, v := range s.assignments {
		c.assignments[k] = v
	}
	for k, v := range s.executions {
		c.executions[k] = v
	}
	for k, v := range s.executionKeys {
		c.executionKeys[k] = v
	}
	for k, v := range s.corrections {
		c.corrections[k] = append([]feeding.CorrectionEntry{}, v...)
	}
	for k, v := range s.bounds {
		c.bounds[k] = v
	}
	for k, v := range s.batches {
		c.batches[k] = v
	}
	for k, v := range s.movements {
		c.movements[k] = append([]inventory.Movement{}, v...)
	}
	for k, v := range s.reversals {
		c.reversals[k] = v
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	return c
}

// =============================================================================
// FEEDING STORE - Locked wrappers
// =============================================================================

func (m *Memory) SavePlan(ctx context.Context, p feeding.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SavePlan(ctx, p)
}

func (m *Memory) GetPlan(ctx context.Context, id feeding.PlanID) (*feeding.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetPlan(ctx, id)
}

func (m *Memory) ListPlans(ctx context.Context) ([]feeding.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListPlans(ctx)
}

func (m *Memory) SaveRule(ctx context.Context, r feeding.ScheduleRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveRule(ctx, r)
}

func (m *Memory) GetRule(ctx context.Context, id feeding.RuleID) (*feeding.ScheduleRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetRule(ctx, id)
}

func (m *Memory) ActiveRules(ctx context.Context, planID feeding.PlanID) ([]feeding.ScheduleRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ActiveRules(ctx, planID)
}

func (m *Memory) SaveAssignment(ctx context.Context, a feeding.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveAssignment(ctx, a)
}

func (m *Memory) GetAssignment(ctx context.Context, id feeding.AssignmentID) (*feeding.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetAssignment(ctx, id)
}

func (m *Memory) AssignmentsByLot(ctx context.Context, lotID feeding.LotID) ([]feeding.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.AssignmentsByLot(ctx, lotID)
}

func (m *Memory) SaveExecution(ctx context.Context, rec feeding.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveExecution(ctx, rec)
}

func (m *Memory) GetExecution(ctx context.Context, id feeding.ExecutionID) (*feeding.ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetExecution(ctx, id)
}

func (m *Memory) GetExecutionByKey(ctx context.Context, key string) (*feeding.ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetExecutionByKey(ctx, key)
}

func (m *Memory) ExecutionsByAssignment(ctx context.Context, id feeding.AssignmentID) ([]feeding.ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ExecutionsByAssignment(ctx, id)
}

func (m *Memory) AppendCorrections(ctx context.Context, entries []feeding.CorrectionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendCorrections(ctx, entries)
}

func (m *Memory) Corrections(ctx context.Context, id feeding.ExecutionID) ([]feeding.CorrectionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.Corrections(ctx, id)
}

func (m *Memory) SaveBounds(ctx context.Context, b feeding.Bounds) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveBounds(ctx, b)
}

func (m *Memory) GetBounds(ctx context.Context, species, stage string) (*feeding.Bounds, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetBounds(ctx, species, stage)
}

// =============================================================================
// INVENTORY STORE - Locked wrappers
// =============================================================================

func (m *Memory) SaveBatch(ctx context.Context, b inventory.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveBatch(ctx, b)
}

func (m *Memory) GetBatch(ctx context.Context, id inventory.BatchID) (*inventory.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetBatch(ctx, id)
}

func (m *Memory) ActiveBatches(ctx context.Context, productID inventory.ProductID) ([]inventory.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ActiveBatches(ctx, productID)
}

func (m *Memory) BatchesExpiringBefore(ctx context.Context, productID *inventory.ProductID, cutoff time.Time) ([]inventory.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.BatchesExpiringBefore(ctx, productID, cutoff)
}

func (m *Memory) AppendMovement(ctx context.Context, mv inventory.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendMovement(ctx, mv)
}

func (m *Memory) Movements(ctx context.Context, productID inventory.ProductID) ([]inventory.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.Movements(ctx, productID)
}

func (m *Memory) HasReversal(ctx context.Context, of inventory.MovementID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.HasReversal(ctx, of)
}

func (m *Memory) SumMovements(ctx context.Context, types []inventory.MovementType) (map[inventory.ProductID]decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.SumMovements(ctx, types)
}

func (m *Memory) GetStock(ctx context.Context, productID inventory.ProductID) (*inventory.Stock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetStock(ctx, productID)
}

func (m *Memory) PutStock(ctx context.Context, s inventory.Stock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.PutStock(ctx, s)
}

// =============================================================================
// STATE - Unlocked implementations (transaction view)
// =============================================================================

func (s *state) SavePlan(_ context.Context, p feeding.Plan) error {
	s.plans[p.ID] = p
	return nil
}

func (s *state) GetPlan(_ context.Context, id feeding.PlanID) (*feeding.Plan, error) {
	if p, ok := s.plans[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (s *state) ListPlans(_ context.Context) ([]feeding.Plan, error) {
	plans := make([]feeding.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].ID < plans[j].ID })
	return plans, nil
}

func (s *state) SaveRule(_ context.Context, r feeding.ScheduleRule) error {
	s.rules[r.ID] = r
	return nil
}

func (s *state) GetRule(_ context.Context, id feeding.RuleID) (*feeding.ScheduleRule, error) {
	if r, ok := s.rules[id]; ok {
		return &r, nil
	}
	return nil, nil
}

func (s *state) ActiveRules(_ context.Context, planID feeding.PlanID) ([]feeding.ScheduleRule, error) {
	var rules []feeding.ScheduleRule
	for _, r := range s.rules {
		if r.PlanID == planID && r.Active {
			rules = append(rules, r)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].DayStart < rules[j].DayStart })
	return rules, nil
}

func (s *state) SaveAssignment(_ context.Context, a feeding.Assignment) error {
	s.assignments[a.ID] = a
	return nil
}

func (s *state) GetAssignment(_ context.Context, id feeding.AssignmentID) (*feeding.Assignment, error) {
	if a, ok := s.assignments[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (s *state) AssignmentsByLot(_ context.Context, lotID feeding.LotID) ([]feeding.Assignment, error) {
	var out []feeding.Assignment
	for _, a := range s.assignments {
		if a.LotID == lotID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *state) SaveExecution(_ context.Context, rec feeding.ExecutionRecord) error {
	s.executions[rec.ID] = rec
	if rec.IdempotencyKey != "" {
		s.executionKeys[rec.IdempotencyKey] = rec.ID
	}
	return nil
}

func (s *state) GetExecution(_ context.Context, id feeding.ExecutionID) (*feeding.ExecutionRecord, error) {
	if rec, ok := s.executions[id]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (s *state) GetExecutionByKey(_ context.Context, key string) (*feeding.ExecutionRecord, error) {
	id, ok := s.executionKeys[key]
	if !ok {
		return nil, nil
	}
	rec := s.executions[id]
	return &rec, nil
}

func (s *state) ExecutionsByAssignment(_ context.Context, id feeding.AssignmentID) ([]feeding.ExecutionRecord, error) {
	var out []feeding.ExecutionRecord
	for _, rec := range s.executions {
		if rec.AssignmentID == id {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) AppendCorrections(_ context.Context, entries []feeding.CorrectionEntry) error {
	for _, e := range entries {
		s.corrections[e.ExecutionID] = append(s.corrections[e.ExecutionID], e)
	}
	return nil
}

func (s *state) Corrections(_ context.Context, id feeding.ExecutionID) ([]feeding.CorrectionEntry, error) {
	out := make([]feeding.CorrectionEntry, len(s.corrections[id]))
	copy(out, s.corrections[id])
	return out, nil
}

func boundsKey(species, stage string) string { return species + "|" + stage }

func (s *state) SaveBounds(_ context.Context, b feeding.Bounds) error {
	s.bounds[boundsKey(b.Species, b.Stage)] = b
	return nil
}

func (s *state) GetBounds(_ context.Context, species, stage string) (*feeding.Bounds, error) {
	if b, ok := s.bounds[boundsKey(species, stage)]; ok {
		return &b, nil
	}
	// Fall back to stage-less bounds for the species.
	if stage != "" {
		if b, ok := s.bounds[boundsKey(species, "")]; ok {
			return &b, nil
		}
	}
	return nil, nil
}

func (s *state) SaveBatch(_ context.Context, b inventory.Batch) error {
	s.batches[b.ID] = b
	return nil
}

func (s *state) GetBatch(_ context.Context, id inventory.BatchID) (*inventory.Batch, error) {
	if b, ok := s.batches[id]; ok {
		return &b, nil
	}
	return nil, nil
}

func (s *state) ActiveBatches(_ context.Context, productID inventory.ProductID) ([]inventory.Batch, error) {
	var out []inventory.Batch
	for _, b := range s.batches {
		if b.ProductID == productID && b.Active {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) BatchesExpiringBefore(_ context.Context, productID *inventory.ProductID, cutoff time.Time) ([]inventory.Batch, error) {
	var out []inventory.Batch
	for _, b := range s.batches {
		if !b.Active || b.Depleted() || b.ExpiresAt == nil {
			continue
		}
		if productID != nil && b.ProductID != *productID {
			continue
		}
		if b.ExpiresAt.After(cutoff) {
			continue
		}
		out = append(out, b)
	}
	inventory.SortFEFO(out)
	return out, nil
}

func (s *state) AppendMovement(_ context.Context, m inventory.Movement) error {
	s.movements[m.ProductID] = append(s.movements[m.ProductID], m)
	if m.ReversalOf != "" {
		s.reversals[m.ReversalOf] = true
	}
	return nil
}

func (s *state) Movements(_ context.Context, productID inventory.ProductID) ([]inventory.Movement, error) {
	out := make([]inventory.Movement, len(s.movements[productID]))
	copy(out, s.movements[productID])
	return out, nil
}

func (s *state) HasReversal(_ context.Context, of inventory.MovementID) (bool, error) {
	return s.reversals[of], nil
}

func (s *state) SumMovements(_ context.Context, types []inventory.MovementType) (map[inventory.ProductID]decimal.Decimal, error) {
	wanted := make(map[inventory.MovementType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	sums := make(map[inventory.ProductID]decimal.Decimal)
	for productID, movements := range s.movements {
		for _, m := range movements {
			if wanted[m.Type] {
				sums[productID] = sums[productID].Add(m.Quantity.Value)
			}
		}
	}
	return sums, nil
}

func (s *state) GetStock(_ context.Context, productID inventory.ProductID) (*inventory.Stock, error) {
	if st, ok := s.stock[productID]; ok {
		return &st, nil
	}
	return nil, nil
}

func (s *state) PutStock(_ context.Context, st inventory.Stock) error {
	s.stock[st.ProductID] = st
	return nil
}
