package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TicketKind enumerates the order-like workflows sharing one lifecycle engine.
type TicketKind string

const (
	TicketKindProduction TicketKind = "PRODUCTION"
	TicketKindPurchasing TicketKind = "PURCHASING"
	TicketKindSale       TicketKind = "SALE"
)

// Status is a lifecycle value drawn from a kind's status enumeration. Roll-up
// labels such as PARTIAL_CLOSED share the type.
type Status string

// Ticket is the parent aggregate owning its details exclusively.
type Ticket struct {
	ID          string
	ExternalKey string
	Kind        TicketKind
	// Status caches the roll-up of the details' statuses; readers recompute it.
	Status    Status
	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
	Details   []Detail
	StatusLog []StatusLogEntry
}

// Detail is a line item with its own lifecycle.
type Detail struct {
	ID                string
	TicketID          string
	Kind              TicketKind
	VariantID         string
	Quantity          decimal.Decimal
	ExpectedDate      *time.Time
	Status            Status
	Version           int64
	AllocatedQuantity decimal.Decimal
	CompletedAt       *time.Time
	CreatedBy         string
	UpdatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	// Stock is only populated for sale details on read.
	Stock     *StockFigures
	StatusLog []StatusLogEntry
}

// HoldsAllocation reports whether the detail currently reserves stock.
func (d *Detail) HoldsAllocation() bool {
	return d.AllocatedQuantity.IsPositive()
}

// StockLevel is the catalog's view of a variant joined with the allocation ledger.
type StockLevel struct {
	VariantID string
	Current   decimal.Decimal
	Incoming  decimal.Decimal
	Allocated decimal.Decimal
}

// Available returns current minus allocated, clamped at zero.
func (s StockLevel) Available() decimal.Decimal {
	available := s.Current.Sub(s.Allocated)
	if available.IsNegative() {
		return decimal.Zero
	}
	return available
}

// Figures derives the read-side stock fields for a sale detail.
func (s StockLevel) Figures() *StockFigures {
	return &StockFigures{
		Current:   s.Current,
		Allocated: s.Allocated,
		Incoming:  s.Incoming,
		Available: s.Available(),
	}
}

// StockFigures are the derived stock fields shown on sale details.
type StockFigures struct {
	Current   decimal.Decimal
	Allocated decimal.Decimal
	Incoming  decimal.Decimal
	Available decimal.Decimal
}
