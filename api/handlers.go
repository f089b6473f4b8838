/*
handlers.go - HTTP API handlers for the feeding operations system

PURPOSE:
  Exposes the feeding and inventory engines via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Plans:
    GET    /api/plans                    List all plans
    POST   /api/plans                    Create plan
    GET    /api/plans/{id}               Get plan details
    DELETE /api/plans/{id}               Deactivate plan (soft)
    GET    /api/plans/{id}/rules         List active rules
    POST   /api/plans/{id}/rules         Add schedule rule
    PUT    /api/rules/{id}/range         Move a rule's day-range

  Assignments:
    POST   /api/assignments              Assign plan to lot
    GET    /api/assignments/{id}         Get assignment
    POST   /api/assignments/{id}/close   Finish/cancel assignment
    GET    /api/assignments/{id}/due     What must be fed on a date
    GET    /api/assignments/{id}/executions  Execution history
    POST   /api/assignments/{id}/executions  Register feeding
    GET    /api/lots/{id}/assignments    Assignments for a lot

  Executions:
    GET    /api/executions/{id}              Get execution record
    POST   /api/executions/{id}/execute      PENDING -> EXECUTED
    POST   /api/executions/{id}/omit         PENDING -> OMITTED
    GET    /api/executions/{id}/corrections  Audit history
    POST   /api/executions/{id}/corrections  Amend an EXECUTED record

  Inventory:
    POST   /api/inventory/entries                     Register ingress
    GET    /api/inventory/products/{id}/stock         Consolidated stock
    GET    /api/inventory/products/{id}/batches       Active batches
    GET    /api/inventory/products/{id}/movements     Movement log
    GET    /api/inventory/expiring                    Expiry projection

ERROR HANDLING:
  Domain errors map to HTTP status via the feeding/inventory helpers:
  - 400: Validation errors, invalid input, ambiguous resolution
  - 403: Correction refused by policy
  - 404: Resource not found
  - 409: Schedule range conflict, insufficient stock
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. Actor identity arrives in
  request bodies and is trusted.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/feedlot-engine/feeding"
	"github.com/warp/feedlot-engine/inventory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    feeding.Store
	Tx       feeding.TxStore
	Plans    *feeding.PlanService
	Resolver *feeding.DayResolver
	Ledger   *feeding.ExecutionLedger
	Audit    *feeding.CorrectionAudit
	Engine   *inventory.Engine
	View     *inventory.View

	validate *validator.Validate
	logger   *zap.Logger
}

// Services bundles the domain dependencies of the HTTP layer.
type Services struct {
	Store    feeding.Store
	Tx       feeding.TxStore
	Plans    *feeding.PlanService
	Resolver *feeding.DayResolver
	Ledger   *feeding.ExecutionLedger
	Audit    *feeding.CorrectionAudit
	Engine   *inventory.Engine
	View     *inventory.View
}

// NewHandler creates a new handler with the given services.
func NewHandler(svc Services, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:    svc.Store,
		Tx:       svc.Tx,
		Plans:    svc.Plans,
		Resolver: svc.Resolver,
		Ledger:   svc.Ledger,
		Audit:    svc.Audit,
		Engine:   svc.Engine,
		View:     svc.View,
		validate: validator.New(),
		logger:   logger,
	}
}

// decode parses and validates a JSON request body.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// =============================================================================
// PLAN HANDLERS
// =============================================================================

// ListPlans returns all feeding plans.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Store.ListPlans(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list plans", err)
		return
	}

	dtos := make([]PlanDTO, len(plans))
	for i, p := range plans {
		dtos[i] = toPlanDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePlan creates a new feeding plan.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if !h.decode(w, r, &req) {
		return
	}

	plan, err := h.Plans.CreatePlan(r.Context(), req.Name, req.Species, req.Stage)
	if err != nil {
		h.writeDomainError(w, "Failed to create plan", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlanDTO(*plan))
}

// GetPlan returns a single plan.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	id := feeding.PlanID(chi.URLParam(r, "id"))

	plan, err := h.Store.GetPlan(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get plan", err)
		return
	}
	if plan == nil {
		writeError(w, http.StatusNotFound, "Plan not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(*plan))
}

// DeactivatePlan soft-deactivates a plan and its rules.
func (h *Handler) DeactivatePlan(w http.ResponseWriter, r *http.Request) {
	id := feeding.PlanID(chi.URLParam(r, "id"))

	if err := h.Plans.DeactivatePlan(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to deactivate plan", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRules returns a plan's active rules ordered by day start.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	id := feeding.PlanID(chi.URLParam(r, "id"))

	rules, err := h.Store.ActiveRules(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}

	dtos := make([]RuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = toRuleDTO(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRule adds a schedule rule to a plan. Overlapping day-ranges are
// rejected with 409.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	planID := feeding.PlanID(chi.URLParam(r, "id"))

	var req CreateRuleRequest
	if !h.decode(w, r, &req) {
		return
	}

	qty, err := parseAmount(req.QuantityPerAnimal, req.Unit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid quantity_per_animal", err)
		return
	}

	rule, err := h.Plans.AddRule(r.Context(), planID, feeding.RuleInput{
		DayStart:          req.DayStart,
		DayEnd:            req.DayEnd,
		ProductID:         inventory.ProductID(req.ProductID),
		QuantityPerAnimal: qty,
		Frequency:         feeding.Frequency(req.Frequency),
	})
	if err != nil {
		h.writeDomainError(w, "Failed to add rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRuleDTO(*rule))
}

// UpdateRuleRange moves a rule's day-range, revalidating overlaps against
// the plan's other rules.
func (h *Handler) UpdateRuleRange(w http.ResponseWriter, r *http.Request) {
	ruleID := feeding.RuleID(chi.URLParam(r, "id"))

	var req UpdateRuleRangeRequest
	if !h.decode(w, r, &req) {
		return
	}

	rule, err := h.Plans.UpdateRuleRange(r.Context(), ruleID, req.DayStart, req.DayEnd)
	if err != nil {
		h.writeDomainError(w, "Failed to update rule range", err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleDTO(*rule))
}

// =============================================================================
// ASSIGNMENT HANDLERS
// =============================================================================

// CreateAssignment binds a plan to a lot from a start date.
func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req CreateAssignmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	startDate, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}

	a, err := h.Plans.Assign(r.Context(), feeding.PlanID(req.PlanID),
		feeding.LotID(req.LotID), startDate, req.AnimalCount)
	if err != nil {
		h.writeDomainError(w, "Failed to create assignment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssignmentDTO(*a))
}

// GetAssignment returns a single assignment.
func (h *Handler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	id := feeding.AssignmentID(chi.URLParam(r, "id"))

	a, err := h.Store.GetAssignment(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get assignment", err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "Assignment not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentDTO(*a))
}

// CloseAssignment finishes or cancels an active assignment.
func (h *Handler) CloseAssignment(w http.ResponseWriter, r *http.Request) {
	id := feeding.AssignmentID(chi.URLParam(r, "id"))

	var req CloseAssignmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.Plans.CloseAssignment(r.Context(), id, feeding.AssignmentStatus(req.Status))
	if err != nil {
		h.writeDomainError(w, "Failed to close assignment", err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentDTO(*a))
}

// ListLotAssignments returns the assignments of a lot.
func (h *Handler) ListLotAssignments(w http.ResponseWriter, r *http.Request) {
	lotID := feeding.LotID(chi.URLParam(r, "id"))

	assignments, err := h.Store.AssignmentsByLot(r.Context(), lotID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list assignments", err)
		return
	}

	dtos := make([]AssignmentDTO, len(assignments))
	for i, a := range assignments {
		dtos[i] = toAssignmentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetDue returns what must be fed to the assignment's lot on a date.
// Defaults to today; an ambiguous day yields one entry per matching rule.
func (h *Handler) GetDue(w http.ResponseWriter, r *http.Request) {
	id := feeding.AssignmentID(chi.URLParam(r, "id"))

	date := time.Now()
	if s := r.URL.Query().Get("date"); s != "" {
		var err error
		date, err = time.Parse(dateLayout, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
	}

	due, err := h.Resolver.Due(r.Context(), id, date)
	if err != nil {
		h.writeDomainError(w, "Failed to resolve due feedings", err)
		return
	}

	dtos := make([]DueFeedingDTO, len(due))
	for i, d := range due {
		dtos[i] = toDueDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EXECUTION HANDLERS
// =============================================================================

// ListExecutions returns an assignment's execution history ordered by date.
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	id := feeding.AssignmentID(chi.URLParam(r, "id"))

	recs, err := h.Ledger.History(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to list executions", err)
		return
	}

	dtos := make([]ExecutionDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toExecutionDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RegisterExecution records a feeding against an assignment. With pending=true
// the record is created without touching inventory; otherwise the quantity is
// deducted in expiry order atomically with the record write.
func (h *Handler) RegisterExecution(w http.ResponseWriter, r *http.Request) {
	id := feeding.AssignmentID(chi.URLParam(r, "id"))

	var req RegisterExecutionRequest
	if !h.decode(w, r, &req) {
		return
	}

	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	qty, err := parseAmount(req.Quantity, req.Unit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid quantity", err)
		return
	}

	in := feeding.RegisterInput{
		AssignmentID:   id,
		Date:           date,
		Quantity:       qty,
		RuleID:         feeding.RuleID(req.RuleID),
		ProductID:      inventory.ProductID(req.ProductID),
		Observations:   req.Observations,
		Actor:          feeding.ActorID(req.ActorID),
		IdempotencyKey: req.IdempotencyKey,
	}

	var rec *feeding.ExecutionRecord
	if req.Pending {
		rec, err = h.Ledger.RegisterPending(r.Context(), in)
	} else {
		rec, err = h.Ledger.RegisterExecution(r.Context(), in)
	}
	if err != nil {
		h.writeDomainError(w, "Failed to register execution", err)
		return
	}
	writeJSON(w, http.StatusCreated, toExecutionDTO(*rec))
}

// GetExecution returns a single execution record.
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := feeding.ExecutionID(chi.URLParam(r, "id"))

	rec, err := h.Store.GetExecution(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get execution", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Execution not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toExecutionDTO(*rec))
}

// ExecutePending transitions a PENDING record to EXECUTED, deducting
// inventory. An empty quantity keeps the planned one.
func (h *Handler) ExecutePending(w http.ResponseWriter, r *http.Request) {
	id := feeding.ExecutionID(chi.URLParam(r, "id"))

	var req ExecutePendingRequest
	if !h.decode(w, r, &req) {
		return
	}

	var qty inventory.Amount
	if req.Quantity != "" {
		var err error
		qty, err = parseAmount(req.Quantity, req.Unit)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid quantity", err)
			return
		}
	}

	rec, err := h.Ledger.ExecutePending(r.Context(), id, qty,
		feeding.ActorID(req.ActorID), req.Observations)
	if err != nil {
		h.writeDomainError(w, "Failed to execute pending record", err)
		return
	}
	writeJSON(w, http.StatusOK, toExecutionDTO(*rec))
}

// OmitExecution transitions a PENDING record to OMITTED with a reason.
// Inventory is untouched.
func (h *Handler) OmitExecution(w http.ResponseWriter, r *http.Request) {
	id := feeding.ExecutionID(chi.URLParam(r, "id"))

	var req OmitExecutionRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.Ledger.MarkOmitted(r.Context(), id, req.Reason, feeding.ActorID(req.ActorID))
	if err != nil {
		h.writeDomainError(w, "Failed to omit execution", err)
		return
	}
	writeJSON(w, http.StatusOK, toExecutionDTO(*rec))
}

// =============================================================================
// CORRECTION HANDLERS
// =============================================================================

// CorrectExecution amends an EXECUTED record. A quantity change reverses the
// prior inventory deduction and consumes the new quantity atomically.
func (h *Handler) CorrectExecution(w http.ResponseWriter, r *http.Request) {
	id := feeding.ExecutionID(chi.URLParam(r, "id"))

	var req CorrectExecutionRequest
	if !h.decode(w, r, &req) {
		return
	}

	changes := make([]feeding.FieldChange, len(req.Changes))
	for i, c := range req.Changes {
		changes[i] = feeding.FieldChange{Field: c.Field, NewValue: c.NewValue}
	}

	meta := req.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	meta["remote_addr"] = r.RemoteAddr
	if ua := r.UserAgent(); ua != "" {
		meta["user_agent"] = ua
	}

	rec, err := h.Audit.Correct(r.Context(), id, changes, req.Reason,
		feeding.ActorID(req.ActorID), meta)
	if err != nil {
		h.writeDomainError(w, "Failed to correct execution", err)
		return
	}
	writeJSON(w, http.StatusOK, toExecutionDTO(*rec))
}

// ListCorrections returns the audit history of an execution.
func (h *Handler) ListCorrections(w http.ResponseWriter, r *http.Request) {
	id := feeding.ExecutionID(chi.URLParam(r, "id"))

	entries, err := h.Audit.CorrectionHistory(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to list corrections", err)
		return
	}

	dtos := make([]CorrectionDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toCorrectionDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

// RegisterEntry records an inventory ingress: a new batch, its IN movement,
// and the stock increment.
func (h *Handler) RegisterEntry(w http.ResponseWriter, r *http.Request) {
	var req RegisterEntryRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := inventory.EntryInput{
		ProductID:    inventory.ProductID(req.ProductID),
		BatchCode:    req.BatchCode,
		ControlUnit:  inventory.Unit(req.ControlUnit),
		BaseUnit:     inventory.Unit(req.BaseUnit),
		Actor:        inventory.ActorID(req.ActorID),
		Observations: req.Observations,
	}

	var err error
	if in.Units, err = parseDecimal(req.Units); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid units", err)
		return
	}
	if req.UnitContent != "" {
		if in.UnitContent, err = parseDecimal(req.UnitContent); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid unit_content", err)
			return
		}
	}
	if req.UnitCost != "" {
		if in.UnitCost, err = parseDecimal(req.UnitCost); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid unit_cost", err)
			return
		}
	}
	if req.ReceivedAt != "" {
		if in.ReceivedAt, err = time.Parse(dateLayout, req.ReceivedAt); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid received_at format (use YYYY-MM-DD)", err)
			return
		}
	}
	if req.ExpiresAt != nil {
		t, err := time.Parse(dateLayout, *req.ExpiresAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid expires_at format (use YYYY-MM-DD)", err)
			return
		}
		in.ExpiresAt = &t
	}

	// Batch, IN movement, and stock adjustment commit or roll back together.
	var batch *inventory.Batch
	err = h.Tx.WithTx(r.Context(), func(s feeding.Stores) error {
		batch, err = h.Engine.WithStore(s.Inventory).RegisterEntry(r.Context(), in)
		return err
	})
	if err != nil {
		h.writeDomainError(w, "Failed to register entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBatchDTO(*batch))
}

// GetStock returns the consolidated quantity for a product, derived from
// active batches.
func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	productID := inventory.ProductID(chi.URLParam(r, "id"))

	qty, err := h.View.GetStock(r.Context(), productID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get stock", err)
		return
	}
	writeJSON(w, http.StatusOK, StockDTO{
		ProductID: string(productID),
		Quantity:  qty.Value.String(),
		Unit:      string(qty.Unit),
	})
}

// ListBatches returns the active batches of a product in expiry order.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	productID := inventory.ProductID(chi.URLParam(r, "id"))

	batches, err := h.View.Store.ActiveBatches(r.Context(), productID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list batches", err)
		return
	}
	inventory.SortFEFO(batches)

	dtos := make([]BatchDTO, len(batches))
	for i, b := range batches {
		dtos[i] = toBatchDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListMovements returns the chronological movement log for a product.
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	productID := inventory.ProductID(chi.URLParam(r, "id"))

	movements, err := h.View.Movements(r.Context(), productID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list movements", err)
		return
	}

	dtos := make([]MovementDTO, len(movements))
	for i, m := range movements {
		dtos[i] = toMovementDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListExpiring returns batches expiring within ?days (default 30), optionally
// scoped to ?product_id. ?expired=true returns already-expired batches instead.
func (h *Handler) ListExpiring(w http.ResponseWriter, r *http.Request) {
	var productID *inventory.ProductID
	if s := r.URL.Query().Get("product_id"); s != "" {
		p := inventory.ProductID(s)
		productID = &p
	}

	var batches []inventory.Batch
	var err error
	if r.URL.Query().Get("expired") == "true" {
		batches, err = h.View.GetExpired(r.Context(), productID)
	} else {
		days := 30
		if s := r.URL.Query().Get("days"); s != "" {
			days, err = strconv.Atoi(s)
			if err != nil || days < 0 {
				writeError(w, http.StatusBadRequest, "Invalid days parameter", err)
				return
			}
		}
		batches, err = h.View.GetExpiring(r.Context(), productID, days)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to project expiry", err)
		return
	}

	dtos := make([]BatchDTO, len(batches))
	for i, b := range batches {
		dtos[i] = toBatchDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case feeding.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, inventory.ErrInsufficientStock):
		writeError(w, http.StatusConflict, message, err)
	case feeding.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case feeding.IsForbidden(err):
		writeError(w, http.StatusForbidden, message, err)
	case feeding.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
