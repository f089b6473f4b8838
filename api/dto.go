/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry validate struct tags; handlers run them through a
  shared validator instance before touching domain logic. Quantities travel
  as decimal strings to avoid float drift on the wire.

SEE ALSO:
  - handlers.go: Uses these types
  - server.go: Router setup
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/feedlot-engine/feeding"
	"github.com/warp/feedlot-engine/inventory"
)

const dateLayout = "2006-01-02"

// =============================================================================
// PLAN TYPES
// =============================================================================

// PlanDTO represents a feeding plan in API responses.
type PlanDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Species   string `json:"species"`
	Stage     string `json:"stage,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreatePlanRequest is the request to create a feeding plan.
type CreatePlanRequest struct {
	Name    string `json:"name" validate:"required"`
	Species string `json:"species" validate:"required"`
	Stage   string `json:"stage"`
}

// RuleDTO represents a schedule rule in API responses.
type RuleDTO struct {
	ID                string `json:"id"`
	PlanID            string `json:"plan_id"`
	DayStart          int    `json:"day_start"`
	DayEnd            int    `json:"day_end"`
	ProductID         string `json:"product_id"`
	QuantityPerAnimal string `json:"quantity_per_animal"`
	Unit              string `json:"unit"`
	Frequency         string `json:"frequency"`
	Active            bool   `json:"active"`
}

// CreateRuleRequest is the request to add a schedule rule to a plan.
type CreateRuleRequest struct {
	DayStart          int    `json:"day_start" validate:"min=0"`
	DayEnd            int    `json:"day_end" validate:"min=0"`
	ProductID         string `json:"product_id" validate:"required"`
	QuantityPerAnimal string `json:"quantity_per_animal" validate:"required"`
	Unit              string `json:"unit" validate:"required"`
	Frequency         string `json:"frequency" validate:"omitempty,oneof=daily weekly"`
}

// UpdateRuleRangeRequest moves a rule's day-range.
type UpdateRuleRangeRequest struct {
	DayStart int `json:"day_start" validate:"min=0"`
	DayEnd   int `json:"day_end" validate:"min=0"`
}

// =============================================================================
// ASSIGNMENT TYPES
// =============================================================================

// AssignmentDTO represents a plan-to-lot assignment.
type AssignmentDTO struct {
	ID          string `json:"id"`
	PlanID      string `json:"plan_id"`
	LotID       string `json:"lot_id"`
	StartDate   string `json:"start_date"`
	AnimalCount int    `json:"animal_count"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// CreateAssignmentRequest binds a plan to a lot.
type CreateAssignmentRequest struct {
	PlanID      string `json:"plan_id" validate:"required"`
	LotID       string `json:"lot_id" validate:"required"`
	StartDate   string `json:"start_date" validate:"required"`
	AnimalCount int    `json:"animal_count" validate:"min=0"`
}

// CloseAssignmentRequest finishes or cancels an assignment.
type CloseAssignmentRequest struct {
	Status string `json:"status" validate:"required,oneof=finished cancelled"`
}

// DueFeedingDTO is one line of "what must be fed today".
type DueFeedingDTO struct {
	AssignmentID string `json:"assignment_id"`
	LotID        string `json:"lot_id"`
	RuleID       string `json:"rule_id"`
	Date         string `json:"date"`
	DayNumber    int    `json:"day_number"`
	ProductID    string `json:"product_id"`
	PerAnimal    string `json:"per_animal"`
	AnimalCount  int    `json:"animal_count"`
	TotalDue     string `json:"total_due"`
	Unit         string `json:"unit"`
	Frequency    string `json:"frequency"`
}

// =============================================================================
// EXECUTION TYPES
// =============================================================================

// ExecutionDTO represents a feeding execution record.
type ExecutionDTO struct {
	ID              string          `json:"id"`
	AssignmentID    string          `json:"assignment_id"`
	RuleID          *string         `json:"rule_id,omitempty"`
	ProductID       string          `json:"product_id"`
	Date            string          `json:"date"`
	DayNumber       int             `json:"day_number"`
	QuantityApplied string          `json:"quantity_applied"`
	Unit            string          `json:"unit"`
	Status          string          `json:"status"`
	StatusReason    string          `json:"status_reason,omitempty"`
	Observations    string          `json:"observations,omitempty"`
	ActorID         string          `json:"actor_id,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
	Allocations     []AllocationDTO `json:"allocations,omitempty"`
	CreatedAt       string          `json:"created_at,omitempty"`
	ExecutedAt      *string         `json:"executed_at,omitempty"`
}

// AllocationDTO is one batch deduction within an execution.
type AllocationDTO struct {
	BatchID  string `json:"batch_id"`
	Quantity string `json:"quantity"`
	Unit     string `json:"unit"`
}

// RegisterExecutionRequest records a feeding against an assignment.
type RegisterExecutionRequest struct {
	Date           string `json:"date" validate:"required"`
	Quantity       string `json:"quantity" validate:"required"`
	Unit           string `json:"unit" validate:"required"`
	RuleID         string `json:"rule_id,omitempty"`
	ProductID      string `json:"product_id,omitempty"`
	Observations   string `json:"observations,omitempty"`
	ActorID        string `json:"actor_id" validate:"required"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Pending skips the inventory deduction; the record waits for an
	// explicit execute or omit.
	Pending bool `json:"pending,omitempty"`
}

// ExecutePendingRequest transitions a PENDING record to EXECUTED.
type ExecutePendingRequest struct {
	Quantity     string `json:"quantity,omitempty"`
	Unit         string `json:"unit,omitempty"`
	ActorID      string `json:"actor_id" validate:"required"`
	Observations string `json:"observations,omitempty"`
}

// OmitExecutionRequest transitions a PENDING record to OMITTED.
type OmitExecutionRequest struct {
	Reason  string `json:"reason" validate:"required"`
	ActorID string `json:"actor_id" validate:"required"`
}

// =============================================================================
// CORRECTION TYPES
// =============================================================================

// FieldChangeDTO is one field amendment within a correction.
type FieldChangeDTO struct {
	Field    string `json:"field" validate:"required"`
	NewValue string `json:"new_value" validate:"required"`
}

// CorrectExecutionRequest amends an EXECUTED record.
type CorrectExecutionRequest struct {
	Changes []FieldChangeDTO  `json:"changes" validate:"required,min=1,dive"`
	Reason  string            `json:"reason" validate:"required"`
	ActorID string            `json:"actor_id" validate:"required"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// CorrectionDTO is one immutable audit entry.
type CorrectionDTO struct {
	ID          string            `json:"id"`
	ExecutionID string            `json:"execution_id"`
	Field       string            `json:"field"`
	OldValue    string            `json:"old_value"`
	NewValue    string            `json:"new_value"`
	Reason      string            `json:"reason,omitempty"`
	ActorID     string            `json:"actor_id"`
	Meta        map[string]string `json:"meta,omitempty"`
	CreatedAt   string            `json:"created_at"`
}

// =============================================================================
// INVENTORY TYPES
// =============================================================================

// BatchDTO represents an inventory batch.
type BatchDTO struct {
	ID          string  `json:"id"`
	ProductID   string  `json:"product_id"`
	BatchCode   string  `json:"batch_code,omitempty"`
	ReceivedAt  string  `json:"received_at"`
	ExpiresAt   *string `json:"expires_at,omitempty"`
	ControlUnit string  `json:"control_unit"`
	UnitContent string  `json:"unit_content"`
	Remaining   string  `json:"remaining"`
	Unit        string  `json:"unit"`
	UnitCost    string  `json:"unit_cost"`
	Active      bool    `json:"active"`
}

// RegisterEntryRequest records an inventory ingress.
type RegisterEntryRequest struct {
	ProductID    string  `json:"product_id" validate:"required"`
	BatchCode    string  `json:"batch_code,omitempty"`
	ReceivedAt   string  `json:"received_at,omitempty"`
	ExpiresAt    *string `json:"expires_at,omitempty"`
	ControlUnit  string  `json:"control_unit,omitempty"`
	UnitContent  string  `json:"unit_content,omitempty"`
	Units        string  `json:"units" validate:"required"`
	BaseUnit     string  `json:"base_unit" validate:"required"`
	UnitCost     string  `json:"unit_cost,omitempty"`
	ActorID      string  `json:"actor_id" validate:"required"`
	Observations string  `json:"observations,omitempty"`
}

// StockDTO is the consolidated quantity for a product.
type StockDTO struct {
	ProductID string `json:"product_id"`
	Quantity  string `json:"quantity"`
	Unit      string `json:"unit"`
}

// MovementDTO is one immutable ledger row.
type MovementDTO struct {
	ID           string `json:"id"`
	ProductID    string `json:"product_id"`
	Type         string `json:"type"`
	Quantity     string `json:"quantity"`
	Unit         string `json:"unit"`
	BatchID      string `json:"batch_id,omitempty"`
	LotID        string `json:"lot_id,omitempty"`
	ExecutionID  string `json:"execution_id,omitempty"`
	ReversalOf   string `json:"reversal_of,omitempty"`
	ActorID      string `json:"actor_id,omitempty"`
	Observations string `json:"observations,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toPlanDTO(p feeding.Plan) PlanDTO {
	return PlanDTO{
		ID:        string(p.ID),
		Name:      p.Name,
		Species:   p.Species,
		Stage:     p.Stage,
		Active:    p.Active,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
}

func toRuleDTO(r feeding.ScheduleRule) RuleDTO {
	return RuleDTO{
		ID:                string(r.ID),
		PlanID:            string(r.PlanID),
		DayStart:          r.DayStart,
		DayEnd:            r.DayEnd,
		ProductID:         string(r.ProductID),
		QuantityPerAnimal: r.QuantityPerAnimal.Value.String(),
		Unit:              string(r.QuantityPerAnimal.Unit),
		Frequency:         string(r.Frequency),
		Active:            r.Active,
	}
}

func toAssignmentDTO(a feeding.Assignment) AssignmentDTO {
	return AssignmentDTO{
		ID:          string(a.ID),
		PlanID:      string(a.PlanID),
		LotID:       string(a.LotID),
		StartDate:   a.StartDate.Format(dateLayout),
		AnimalCount: a.AnimalCount,
		Status:      string(a.Status),
		CreatedAt:   a.CreatedAt.Format(time.RFC3339),
	}
}

func toDueDTO(d feeding.DueFeeding) DueFeedingDTO {
	return DueFeedingDTO{
		AssignmentID: string(d.AssignmentID),
		LotID:        string(d.LotID),
		RuleID:       string(d.RuleID),
		Date:         d.Date.Format(dateLayout),
		DayNumber:    d.DayNumber,
		ProductID:    string(d.ProductID),
		PerAnimal:    d.PerAnimal.Value.String(),
		AnimalCount:  d.AnimalCount,
		TotalDue:     d.TotalDue.Value.String(),
		Unit:         string(d.TotalDue.Unit),
		Frequency:    string(d.Frequency),
	}
}

func toExecutionDTO(rec feeding.ExecutionRecord) ExecutionDTO {
	dto := ExecutionDTO{
		ID:              string(rec.ID),
		AssignmentID:    string(rec.AssignmentID),
		ProductID:       string(rec.ProductID),
		Date:            rec.Date.Format(dateLayout),
		DayNumber:       rec.DayNumber,
		QuantityApplied: rec.QuantityApplied.Value.String(),
		Unit:            string(rec.QuantityApplied.Unit),
		Status:          string(rec.Status),
		StatusReason:    rec.StatusReason,
		Observations:    rec.Observations,
		ActorID:         string(rec.ActorID),
		Warnings:        rec.Warnings,
		CreatedAt:       rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.RuleID != nil {
		dto.RuleID = strPtr(string(*rec.RuleID))
	}
	if rec.ExecutedAt != nil {
		dto.ExecutedAt = strPtr(rec.ExecutedAt.Format(time.RFC3339))
	}
	for _, a := range rec.Allocations {
		dto.Allocations = append(dto.Allocations, AllocationDTO{
			BatchID:  string(a.BatchID),
			Quantity: a.Quantity.Value.String(),
			Unit:     string(a.Quantity.Unit),
		})
	}
	return dto
}

func toCorrectionDTO(e feeding.CorrectionEntry) CorrectionDTO {
	return CorrectionDTO{
		ID:          string(e.ID),
		ExecutionID: string(e.ExecutionID),
		Field:       e.Field,
		OldValue:    e.OldValue,
		NewValue:    e.NewValue,
		Reason:      e.Reason,
		ActorID:     string(e.ActorID),
		Meta:        e.RequestMeta,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
}

func toBatchDTO(b inventory.Batch) BatchDTO {
	dto := BatchDTO{
		ID:          string(b.ID),
		ProductID:   string(b.ProductID),
		BatchCode:   b.BatchCode,
		ReceivedAt:  b.ReceivedAt.Format(time.RFC3339),
		ControlUnit: string(b.ControlUnit),
		UnitContent: b.UnitContent.String(),
		Remaining:   b.Remaining.Value.String(),
		Unit:        string(b.Remaining.Unit),
		UnitCost:    b.UnitCost.String(),
		Active:      b.Active,
	}
	if b.ExpiresAt != nil {
		dto.ExpiresAt = strPtr(b.ExpiresAt.Format(dateLayout))
	}
	return dto
}

func toMovementDTO(m inventory.Movement) MovementDTO {
	return MovementDTO{
		ID:           string(m.ID),
		ProductID:    string(m.ProductID),
		Type:         string(m.Type),
		Quantity:     m.Quantity.Value.String(),
		Unit:         string(m.Quantity.Unit),
		BatchID:      string(m.BatchID),
		LotID:        m.LotID,
		ExecutionID:  m.ExecutionID,
		ReversalOf:   string(m.ReversalOf),
		ActorID:      string(m.ActorID),
		Observations: m.Observations,
		CreatedAt:    m.CreatedAt.Format(time.RFC3339),
	}
}

func parseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

func parseAmount(value, unit string) (inventory.Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return inventory.Amount{}, err
	}
	return inventory.Amount{Value: d, Unit: inventory.Unit(unit)}, nil
}

func strPtr(s string) *string {
	return &s
}
