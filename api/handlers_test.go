/*
handlers_test.go - HTTP-level tests over the full router

Requests run through the real chi router against an in-memory store, so
routing, validation, domain wiring, and error mapping are all exercised
the way a client sees them.
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/feedlot-engine/api"
	"github.com/warp/feedlot-engine/feeding"
	"github.com/warp/feedlot-engine/inventory"
	"github.com/warp/feedlot-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	router http.Handler
	store  *memory.Memory
}

func newTestServer() *testServer {
	st := memory.New()
	engine := inventory.NewEngine(st)

	handler := api.NewHandler(api.Services{
		Store:    st,
		Tx:       st,
		Plans:    feeding.NewPlanService(st),
		Resolver: &feeding.DayResolver{Store: st},
		Ledger:   feeding.NewExecutionLedger(st, engine),
		Audit:    feeding.NewCorrectionAudit(st, engine, feeding.WindowPolicy{Window: 7 * 24 * time.Hour}),
		Engine:   engine,
		View:     inventory.NewView(st),
	}, zap.NewNop())

	return &testServer{router: api.NewRouter(handler), store: st}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func decodeInto(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), dst))
}

// createPlan posts a bovine plan with one rule over days [0,30]
// (feed-grower, 2 kg per animal) and returns the plan id.
func (ts *testServer) createPlan(t *testing.T) string {
	t.Helper()
	rr := ts.do(t, http.MethodPost, "/api/plans", map[string]any{
		"name":    "Engorde Bovino",
		"species": "bovine",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var plan api.PlanDTO
	decodeInto(t, rr, &plan)

	rr = ts.do(t, http.MethodPost, "/api/plans/"+plan.ID+"/rules", map[string]any{
		"day_start":           0,
		"day_end":             30,
		"product_id":          "feed-grower",
		"quantity_per_animal": "2",
		"unit":                "kg",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	return plan.ID
}

// createAssignment binds the plan to lot-7 with 50 animals from 2026-03-01.
func (ts *testServer) createAssignment(t *testing.T, planID string) string {
	t.Helper()
	rr := ts.do(t, http.MethodPost, "/api/assignments", map[string]any{
		"plan_id":      planID,
		"lot_id":       "lot-7",
		"start_date":   "2026-03-01",
		"animal_count": 50,
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var a api.AssignmentDTO
	decodeInto(t, rr, &a)
	return a.ID
}

// seedEntry registers an ingress of the given kilograms without expiry.
func (ts *testServer) seedEntry(t *testing.T, product, units string) {
	t.Helper()
	rr := ts.do(t, http.MethodPost, "/api/inventory/entries", map[string]any{
		"product_id": product,
		"units":      units,
		"base_unit":  "kg",
		"actor_id":   "tester",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
}

// =============================================================================
// PLAN & RULE ENDPOINT TESTS
// =============================================================================

func TestPlanLifecycle(t *testing.T) {
	ts := newTestServer()
	planID := ts.createPlan(t)

	rr := ts.do(t, http.MethodGet, "/api/plans", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var plans []api.PlanDTO
	decodeInto(t, rr, &plans)
	require.Len(t, plans, 1)
	assert.True(t, plans[0].Active)

	rr = ts.do(t, http.MethodGet, "/api/plans/"+planID+"/rules", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var rules []api.RuleDTO
	decodeInto(t, rr, &rules)
	require.Len(t, rules, 1)
	assert.Equal(t, "2", rules[0].QuantityPerAnimal)
	assert.Equal(t, "kg", rules[0].Unit)

	rr = ts.do(t, http.MethodDelete, "/api/plans/"+planID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = ts.do(t, http.MethodGet, "/api/plans/"+planID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var plan api.PlanDTO
	decodeInto(t, rr, &plan)
	assert.False(t, plan.Active)
}

func TestCreateRule_OverlapIsConflict(t *testing.T) {
	// GIVEN: A plan with a rule over days [0,30]
	// WHEN: Posting a rule starting on day 30
	// THEN: 409, both rules would prescribe day 30

	ts := newTestServer()
	planID := ts.createPlan(t)

	rr := ts.do(t, http.MethodPost, "/api/plans/"+planID+"/rules", map[string]any{
		"day_start":           30,
		"day_end":             60,
		"product_id":          "feed-finisher",
		"quantity_per_animal": "3",
		"unit":                "kg",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCreatePlan_ValidationFailure(t *testing.T) {
	ts := newTestServer()
	rr := ts.do(t, http.MethodPost, "/api/plans", map[string]any{"name": "No Species"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var resp api.ErrorResponse
	decodeInto(t, rr, &resp)
	assert.Equal(t, "Validation failed", resp.Error)
}

func TestGetPlan_NotFound(t *testing.T) {
	ts := newTestServer()
	rr := ts.do(t, http.MethodGet, "/api/plans/no-such-plan", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// =============================================================================
// DUE RESOLUTION ENDPOINT TESTS
// =============================================================================

func TestGetDue_ExpandsPerAnimalQuantity(t *testing.T) {
	// GIVEN: 2 kg per animal on days [0,30], a 50-animal lot started 2026-03-01
	// WHEN: Asking what is due on 2026-03-05
	// THEN: Day 4, 100 kg total

	ts := newTestServer()
	planID := ts.createPlan(t)
	assignmentID := ts.createAssignment(t, planID)

	rr := ts.do(t, http.MethodGet, "/api/assignments/"+assignmentID+"/due?date=2026-03-05", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var due []api.DueFeedingDTO
	decodeInto(t, rr, &due)
	require.Len(t, due, 1)
	assert.Equal(t, 4, due[0].DayNumber)
	assert.Equal(t, "feed-grower", due[0].ProductID)
	assert.Equal(t, "2", due[0].PerAnimal)
	assert.Equal(t, "100", due[0].TotalDue)
	assert.Equal(t, "kg", due[0].Unit)
}

func TestGetDue_DateBeforeStartIsBadRequest(t *testing.T) {
	ts := newTestServer()
	planID := ts.createPlan(t)
	assignmentID := ts.createAssignment(t, planID)

	rr := ts.do(t, http.MethodGet, "/api/assignments/"+assignmentID+"/due?date=2026-02-20", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// =============================================================================
// EXECUTION ENDPOINT TESTS
// =============================================================================

func TestRegisterExecution_DeductsStock(t *testing.T) {
	ts := newTestServer()
	planID := ts.createPlan(t)
	assignmentID := ts.createAssignment(t, planID)
	ts.seedEntry(t, "feed-grower", "100")

	rr := ts.do(t, http.MethodPost, "/api/assignments/"+assignmentID+"/executions", map[string]any{
		"date":     "2026-03-05",
		"quantity": "20",
		"unit":     "kg",
		"actor_id": "worker-1",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var rec api.ExecutionDTO
	decodeInto(t, rr, &rec)
	assert.Equal(t, "EXECUTED", rec.Status)
	assert.Equal(t, "20", rec.QuantityApplied)
	require.NotNil(t, rec.RuleID)
	require.Len(t, rec.Allocations, 1)
	assert.Equal(t, "20", rec.Allocations[0].Quantity)

	rr = ts.do(t, http.MethodGet, "/api/inventory/products/feed-grower/stock", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stock api.StockDTO
	decodeInto(t, rr, &stock)
	assert.Equal(t, "80", stock.Quantity)
}

func TestRegisterExecution_InsufficientStockIsConflict(t *testing.T) {
	ts := newTestServer()
	planID := ts.createPlan(t)
	assignmentID := ts.createAssignment(t, planID)
	ts.seedEntry(t, "feed-grower", "10")

	rr := ts.do(t, http.MethodPost, "/api/assignments/"+assignmentID+"/executions", map[string]any{
		"date":     "2026-03-05",
		"quantity": "20",
		"unit":     "kg",
		"actor_id": "worker-1",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	// Nothing was recorded.
	rr = ts.do(t, http.MethodGet, "/api/assignments/"+assignmentID+"/executions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var history []api.ExecutionDTO
	decodeInto(t, rr, &history)
	assert.Empty(t, history)
}

func TestPendingExecuteOmitFlow(t *testing.T) {
	// GIVEN: Two PENDING records captured without touching stock
	// WHEN: Executing one and omitting the other
	// THEN: Only the executed one deducts inventory

	ts := newTestServer()
	planID := ts.createPlan(t)
	assignmentID := ts.createAssignment(t, planID)
	ts.seedEntry(t, "feed-grower", "100")

	register := func(date string) api.ExecutionDTO {
		rr := ts.do(t, http.MethodPost, "/api/assignments/"+assignmentID+"/executions", map[string]any{
			"date":     date,
			"quantity": "20",
			"unit":     "kg",
			"actor_id": "scheduler",
			"pending":  true,
		})
		require.Equal(t, http.StatusCreated, rr.Code)
		var rec api.ExecutionDTO
		decodeInto(t, rr, &rec)
		require.Equal(t, "PENDING", rec.Status)
		return rec
	}
	first := register("2026-03-05")
	second := register("2026-03-06")

	rr := ts.do(t, http.MethodPost, "/api/executions/"+first.ID+"/execute", map[string]any{
		"quantity": "25",
		"unit":     "kg",
		"actor_id": "worker-1",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var executed api.ExecutionDTO
	decodeInto(t, rr, &executed)
	assert.Equal(t, "EXECUTED", executed.Status)
	assert.Equal(t, "25", executed.QuantityApplied)
	assert.NotNil(t, executed.ExecutedAt)

	rr = ts.do(t, http.MethodPost, "/api/executions/"+second.ID+"/omit", map[string]any{
		"reason":   "lot under veterinary hold",
		"actor_id": "vet-1",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var omitted api.ExecutionDTO
	decodeInto(t, rr, &omitted)
	assert.Equal(t, "OMITTED", omitted.Status)
	assert.Equal(t, "lot under veterinary hold", omitted.StatusReason)

	rr = ts.do(t, http.MethodGet, "/api/inventory/products/feed-grower/stock", nil)
	var stock api.StockDTO
	decodeInto(t, rr, &stock)
	assert.Equal(t, "75", stock.Quantity)

	// Omitted records cannot be executed afterwards.
	rr = ts.do(t, http.MethodPost, "/api/executions/"+second.ID+"/execute", map[string]any{
		"actor_id": "worker-1",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestExecutePending_UnknownExecutionIsNotFound(t *testing.T) {
	ts := newTestServer()
	rr := ts.do(t, http.MethodPost, "/api/executions/no-such-id/execute", map[string]any{
		"actor_id": "worker-1",
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// =============================================================================
// CORRECTION ENDPOINT TESTS
// =============================================================================

func TestCorrectExecution_QuantityAndAuditTrail(t *testing.T) {
	ts := newTestServer()
	planID := ts.createPlan(t)
	assignmentID := ts.createAssignment(t, planID)
	ts.seedEntry(t, "feed-grower", "100")

	rr := ts.do(t, http.MethodPost, "/api/assignments/"+assignmentID+"/executions", map[string]any{
		"date":     "2026-03-05",
		"quantity": "20",
		"unit":     "kg",
		"actor_id": "worker-1",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var rec api.ExecutionDTO
	decodeInto(t, rr, &rec)

	rr = ts.do(t, http.MethodPost, "/api/executions/"+rec.ID+"/corrections", map[string]any{
		"changes": []map[string]string{
			{"field": "quantity_applied", "new_value": "35"},
		},
		"reason":   "scale misread",
		"actor_id": "supervisor-1",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var corrected api.ExecutionDTO
	decodeInto(t, rr, &corrected)
	assert.Equal(t, "EXECUTED", corrected.Status)
	assert.Equal(t, "35", corrected.QuantityApplied)

	rr = ts.do(t, http.MethodGet, "/api/executions/"+rec.ID+"/corrections", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var entries []api.CorrectionDTO
	decodeInto(t, rr, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "quantity_applied", entries[0].Field)
	assert.Equal(t, "20", entries[0].OldValue)
	assert.Equal(t, "35", entries[0].NewValue)
	// The handler stamps request details into the audit meta.
	assert.Contains(t, entries[0].Meta, "remote_addr")

	rr = ts.do(t, http.MethodGet, "/api/inventory/products/feed-grower/stock", nil)
	var stock api.StockDTO
	decodeInto(t, rr, &stock)
	assert.Equal(t, "65", stock.Quantity)
}

func TestCorrectExecution_UncorrectableFieldIsBadRequest(t *testing.T) {
	ts := newTestServer()
	planID := ts.createPlan(t)
	assignmentID := ts.createAssignment(t, planID)
	ts.seedEntry(t, "feed-grower", "100")

	rr := ts.do(t, http.MethodPost, "/api/assignments/"+assignmentID+"/executions", map[string]any{
		"date":     "2026-03-05",
		"quantity": "20",
		"unit":     "kg",
		"actor_id": "worker-1",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var rec api.ExecutionDTO
	decodeInto(t, rr, &rec)

	rr = ts.do(t, http.MethodPost, "/api/executions/"+rec.ID+"/corrections", map[string]any{
		"changes": []map[string]string{
			{"field": "date", "new_value": "2026-03-06"},
		},
		"reason":   "wrong day",
		"actor_id": "supervisor-1",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// =============================================================================
// INVENTORY ENDPOINT TESTS
// =============================================================================

func TestRegisterEntry_ControlUnitsAndBatchListing(t *testing.T) {
	// GIVEN: 4 sacks of 25 kg each
	// WHEN: Registering the ingress
	// THEN: The batch holds 100 kg and stock reflects it

	ts := newTestServer()
	rr := ts.do(t, http.MethodPost, "/api/inventory/entries", map[string]any{
		"product_id":   "corn",
		"batch_code":   "LOT-2026-091",
		"control_unit": "unit",
		"unit_content": "25",
		"units":        "4",
		"base_unit":    "kg",
		"unit_cost":    "0.42",
		"actor_id":     "tester",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var batch api.BatchDTO
	decodeInto(t, rr, &batch)
	assert.Equal(t, "100", batch.Remaining)
	assert.Equal(t, "kg", batch.Unit)
	assert.Equal(t, "LOT-2026-091", batch.BatchCode)

	rr = ts.do(t, http.MethodGet, "/api/inventory/products/corn/batches", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var batches []api.BatchDTO
	decodeInto(t, rr, &batches)
	require.Len(t, batches, 1)

	rr = ts.do(t, http.MethodGet, "/api/inventory/products/corn/movements", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var movements []api.MovementDTO
	decodeInto(t, rr, &movements)
	require.Len(t, movements, 1)
	assert.Equal(t, "IN", movements[0].Type)
	assert.Equal(t, "100", movements[0].Quantity)
}

func TestRegisterEntry_MalformedUnitsIsBadRequest(t *testing.T) {
	ts := newTestServer()
	rr := ts.do(t, http.MethodPost, "/api/inventory/entries", map[string]any{
		"product_id": "corn",
		"units":      "four",
		"base_unit":  "kg",
		"actor_id":   "tester",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// movementFailStore fails every movement append, standing in for a write
// error midway through an ingress.
type movementFailStore struct {
	inventory.Store
}

func (movementFailStore) AppendMovement(context.Context, inventory.Movement) error {
	return errors.New("movement write failed")
}

// failingTx hands transactions an inventory view whose movement writes fail.
type failingTx struct {
	*memory.Memory
}

func (f failingTx) WithTx(ctx context.Context, fn func(feeding.Stores) error) error {
	return f.Memory.WithTx(ctx, func(s feeding.Stores) error {
		s.Inventory = movementFailStore{Store: s.Inventory}
		return fn(s)
	})
}

func TestRegisterEntry_MidEntryFailureLeavesNoBatch(t *testing.T) {
	// GIVEN: A store whose movement writes fail after the batch insert
	// WHEN: Registering an ingress
	// THEN: The whole entry rolls back, no batch without its IN movement

	st := memory.New()
	engine := inventory.NewEngine(st)
	handler := api.NewHandler(api.Services{
		Store:    st,
		Tx:       failingTx{Memory: st},
		Plans:    feeding.NewPlanService(st),
		Resolver: &feeding.DayResolver{Store: st},
		Ledger:   feeding.NewExecutionLedger(st, engine),
		Audit:    feeding.NewCorrectionAudit(st, engine, feeding.WindowPolicy{Window: 7 * 24 * time.Hour}),
		Engine:   engine,
		View:     inventory.NewView(st),
	}, zap.NewNop())
	ts := &testServer{router: api.NewRouter(handler), store: st}

	rr := ts.do(t, http.MethodPost, "/api/inventory/entries", map[string]any{
		"product_id": "corn",
		"units":      "50",
		"base_unit":  "kg",
		"actor_id":   "tester",
	})
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	ctx := context.Background()
	batches, err := st.ActiveBatches(ctx, "corn")
	require.NoError(t, err)
	assert.Empty(t, batches)

	movements, err := st.Movements(ctx, "corn")
	require.NoError(t, err)
	assert.Empty(t, movements)

	stock, err := st.GetStock(ctx, "corn")
	require.NoError(t, err)
	assert.Nil(t, stock)
}

func TestListExpiring_WindowFilter(t *testing.T) {
	// GIVEN: One batch expiring in 10 days, one in a year
	// WHEN: Asking for the default 30-day window
	// THEN: Only the near batch is reported

	ts := newTestServer()
	near := time.Now().AddDate(0, 0, 10).Format("2006-01-02")
	far := time.Now().AddDate(1, 0, 0).Format("2006-01-02")

	entry := func(code, expires string) {
		rr := ts.do(t, http.MethodPost, "/api/inventory/entries", map[string]any{
			"product_id": "corn",
			"batch_code": code,
			"units":      "50",
			"base_unit":  "kg",
			"expires_at": expires,
			"actor_id":   "tester",
		})
		require.Equal(t, http.StatusCreated, rr.Code)
	}
	entry("NEAR", near)
	entry("FAR", far)

	rr := ts.do(t, http.MethodGet, "/api/inventory/expiring", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var expiring []api.BatchDTO
	decodeInto(t, rr, &expiring)
	require.Len(t, expiring, 1)
	assert.Equal(t, "NEAR", expiring[0].BatchCode)

	rr = ts.do(t, http.MethodGet, "/api/inventory/expiring?days=400", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeInto(t, rr, &expiring)
	assert.Len(t, expiring, 2)
}

func TestGetStock_UnknownProductIsZero(t *testing.T) {
	ts := newTestServer()
	rr := ts.do(t, http.MethodGet, "/api/inventory/products/unknown/stock", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stock api.StockDTO
	decodeInto(t, rr, &stock)
	assert.Equal(t, "0", stock.Quantity)
}
