package domain

import "time"

// LogOwnerType tells whether a log entry belongs to a detail or a ticket.
type LogOwnerType string

const (
	LogOwnerDetail LogOwnerType = "DETAIL"
	LogOwnerTicket LogOwnerType = "TICKET"
)

// StatusLogEntry is an immutable audit record of one status change.
type StatusLogEntry struct {
	ID             string
	OwnerType      LogOwnerType
	OwnerID        string
	TicketID       string
	PreviousStatus *Status
	NewStatus      Status
	Note           *string
	ActorID        string
	ActorRole      string
	CreatedAt      time.Time
	// Seq breaks timestamp ties in insertion order.
	Seq int64
}
