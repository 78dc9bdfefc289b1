package events

import (
	"time"

	"github.com/spec-kit/ticketflow/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventDetailStatusChanged EventType = "detail_status_changed"
	EventStockAllocated      EventType = "stock_allocated"
	EventStockReleased       EventType = "stock_released"
)

// AllEventTypes lists every event the engine publishes.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketStatusChanged,
	EventDetailStatusChanged,
	EventStockAllocated,
	EventStockReleased,
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	ID   string           `json:"id"`
	Role domain.ActorRole `json:"role"`
}

// Event represents a domain event emitted by services after commit.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Kind      domain.TicketKind `json:"kind"`
	TicketID  string            `json:"ticket_id"`
	DetailID  string            `json:"detail_id,omitempty"`
	Actor     Actor             `json:"actor"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   any               `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	ExternalKey string        `json:"external_key"`
	Status      domain.Status `json:"status"`
	DetailCount int           `json:"detail_count"`
}

// StatusChangedPayload is shared by ticket and detail status events.
type StatusChangedPayload struct {
	OldStatus domain.Status `json:"old_status"`
	NewStatus domain.Status `json:"new_status"`
	Note      string        `json:"note,omitempty"`
}

// StockPayload describes an allocation ledger movement.
type StockPayload struct {
	VariantID string `json:"variant_id"`
	Quantity  string `json:"quantity"`
	Allocated string `json:"allocated"`
}

// ActorFrom converts a domain actor.
func ActorFrom(actor domain.Actor) Actor {
	return Actor{ID: actor.ID, Role: actor.Role}
}
