package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/ticketflow/internal/domain"
	"github.com/spec-kit/ticketflow/internal/lifecycle"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Kind    domain.TicketKind     `json:"kind"`
	Details []CreateDetailRequest `json:"details"`
}

// CreateDetailRequest is one requested line item. Quantity accepts a JSON
// number or string.
type CreateDetailRequest struct {
	VariantID    string          `json:"variant_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	ExpectedDate *time.Time      `json:"expected_date"`
}

// TransitionRequest asks for a detail status change.
type TransitionRequest struct {
	Status          domain.Status  `json:"status"`
	Note            string         `json:"note"`
	ExpectedStatus  *domain.Status `json:"expected_status"`
	ExpectedVersion *int64         `json:"expected_version"`
}

// CancelRequest carries the mandatory reason.
type CancelRequest struct {
	Reason          string         `json:"reason"`
	ExpectedStatus  *domain.Status `json:"expected_status"`
	ExpectedVersion *int64         `json:"expected_version"`
}

// AllocateRequest optionally pins the detail state the caller saw.
type AllocateRequest struct {
	ExpectedStatus  *domain.Status `json:"expected_status"`
	ExpectedVersion *int64         `json:"expected_version"`
}

// TicketListQuery captures query filters.
type TicketListQuery struct {
	Kind     *domain.TicketKind
	Statuses []domain.Status
	Page     int
	PageSize int
}

// TicketSummary response.
type TicketSummary struct {
	ID          string            `json:"id"`
	ExternalKey string            `json:"external_key"`
	Kind        domain.TicketKind `json:"kind"`
	Status      domain.Status     `json:"status"`
	DetailCount int               `json:"detail_count"`
	CreatedBy   string            `json:"created_by"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// TicketResponse provides full ticket info.
type TicketResponse struct {
	ID          string              `json:"id"`
	ExternalKey string              `json:"external_key"`
	Kind        domain.TicketKind   `json:"kind"`
	Status      domain.Status       `json:"status"`
	CreatedBy   string              `json:"created_by"`
	UpdatedBy   string              `json:"updated_by"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	Details     []DetailResponse    `json:"details"`
	StatusLog   []StatusLogResponse `json:"status_log"`
}

// DetailResponse is a line item with its allowed next statuses.
type DetailResponse struct {
	ID                string              `json:"id"`
	TicketID          string              `json:"ticket_id"`
	Kind              domain.TicketKind   `json:"kind"`
	VariantID         string              `json:"variant_id"`
	Quantity          decimal.Decimal     `json:"quantity"`
	ExpectedDate      *time.Time          `json:"expected_date"`
	Status            domain.Status       `json:"status"`
	Version           int64               `json:"version"`
	AllocatedQuantity decimal.Decimal     `json:"allocated_quantity"`
	CompletedAt       *time.Time          `json:"completed_at"`
	AllowedNext       []domain.Status     `json:"allowed_next"`
	Stock             *StockResponse      `json:"stock,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
	StatusLog         []StatusLogResponse `json:"status_log"`
}

// StockResponse holds the derived sale stock figures.
type StockResponse struct {
	Current   decimal.Decimal `json:"current"`
	Allocated decimal.Decimal `json:"allocated"`
	Incoming  decimal.Decimal `json:"incoming"`
	Available decimal.Decimal `json:"available"`
}

// StatusLogResponse is one audit entry.
type StatusLogResponse struct {
	ID             string         `json:"id"`
	OwnerType      string         `json:"owner_type"`
	OwnerID        string         `json:"owner_id"`
	PreviousStatus *domain.Status `json:"previous_status"`
	NewStatus      domain.Status  `json:"new_status"`
	Note           *string        `json:"note"`
	ActorID        string         `json:"actor_id"`
	ActorRole      string         `json:"actor_role"`
	CreatedAt      time.Time      `json:"created_at"`
}

// RuleResponse is one exported transition table row.
type RuleResponse struct {
	CurrentStatus      domain.Status   `json:"current_status"`
	AllowedTransitions []domain.Status `json:"allowed_transitions"`
	Cancellable        bool            `json:"cancellable"`
}

// NextStatusFunc resolves the allowed next statuses of a detail.
type NextStatusFunc func(kind domain.TicketKind, current domain.Status) []domain.Status

// ToTicketSummary maps a ticket for list responses.
func ToTicketSummary(t domain.Ticket) TicketSummary {
	return TicketSummary{
		ID:          t.ID,
		ExternalKey: t.ExternalKey,
		Kind:        t.Kind,
		Status:      t.Status,
		DetailCount: len(t.Details),
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// ToTicketResponse maps a ticket with its details and log.
func ToTicketResponse(t *domain.Ticket, next NextStatusFunc) TicketResponse {
	details := make([]DetailResponse, 0, len(t.Details))
	for i := range t.Details {
		details = append(details, ToDetailResponse(&t.Details[i], next))
	}
	return TicketResponse{
		ID:          t.ID,
		ExternalKey: t.ExternalKey,
		Kind:        t.Kind,
		Status:      t.Status,
		CreatedBy:   t.CreatedBy,
		UpdatedBy:   t.UpdatedBy,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		Details:     details,
		StatusLog:   toStatusLog(t.StatusLog),
	}
}

// ToDetailResponse maps a detail.
func ToDetailResponse(d *domain.Detail, next NextStatusFunc) DetailResponse {
	resp := DetailResponse{
		ID:                d.ID,
		TicketID:          d.TicketID,
		Kind:              d.Kind,
		VariantID:         d.VariantID,
		Quantity:          d.Quantity,
		ExpectedDate:      d.ExpectedDate,
		Status:            d.Status,
		Version:           d.Version,
		AllocatedQuantity: d.AllocatedQuantity,
		CompletedAt:       d.CompletedAt,
		AllowedNext:       []domain.Status{},
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
		StatusLog:         toStatusLog(d.StatusLog),
	}
	if next != nil {
		if allowed := next(d.Kind, d.Status); allowed != nil {
			resp.AllowedNext = allowed
		}
	}
	if d.Stock != nil {
		resp.Stock = &StockResponse{
			Current:   d.Stock.Current,
			Allocated: d.Stock.Allocated,
			Incoming:  d.Stock.Incoming,
			Available: d.Stock.Available,
		}
	}
	return resp
}

// ToRuleResponses maps the exported transition table.
func ToRuleResponses(rules []lifecycle.Rule) []RuleResponse {
	out := make([]RuleResponse, 0, len(rules))
	for _, r := range rules {
		out = append(out, RuleResponse{
			CurrentStatus:      r.CurrentStatus,
			AllowedTransitions: r.AllowedTransitions,
			Cancellable:        r.Cancellable,
		})
	}
	return out
}

func toStatusLog(entries []domain.StatusLogEntry) []StatusLogResponse {
	out := make([]StatusLogResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, StatusLogResponse{
			ID:             e.ID,
			OwnerType:      string(e.OwnerType),
			OwnerID:        e.OwnerID,
			PreviousStatus: e.PreviousStatus,
			NewStatus:      e.NewStatus,
			Note:           e.Note,
			ActorID:        e.ActorID,
			ActorRole:      e.ActorRole,
			CreatedAt:      e.CreatedAt,
		})
	}
	return out
}
