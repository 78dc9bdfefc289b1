package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/ticketflow/internal/domain"
)

// TicketFilter captures listing parameters.
type TicketFilter struct {
	Kind     *domain.TicketKind
	Statuses []domain.Status
	Limit    int
	Offset   int
}

func (f TicketFilter) normalized() TicketFilter {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Tx is the unit of work handed to Store.WithTx. Reads ending in ForUpdate
// hold the row until the transaction ends.
type Tx interface {
	CreateTicket(ctx context.Context, ticket *domain.Ticket) error
	GetTicketForUpdate(ctx context.Context, ticketID string) (*domain.Ticket, error)
	UpdateTicketStatus(ctx context.Context, ticket *domain.Ticket) error
	GetDetailForUpdate(ctx context.Context, ticketID, detailID string) (*domain.Detail, error)
	ListDetailsForUpdate(ctx context.Context, ticketID string) ([]domain.Detail, error)
	UpdateDetail(ctx context.Context, detail *domain.Detail) error
	AppendStatusLog(ctx context.Context, entry *domain.StatusLogEntry) error
	GetStockForUpdate(ctx context.Context, variantID string) (*domain.StockLevel, error)
	AdjustAllocated(ctx context.Context, variantID string, delta decimal.Decimal) error
}

// Store persists tickets, details, status logs and the allocation ledger.
type Store interface {
	// WithTx runs fn atomically; any returned error discards every write.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error)
	GetDetail(ctx context.Context, ticketID, detailID string) (*domain.Detail, error)
	ListTickets(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	GetStock(ctx context.Context, variantID string) (*domain.StockLevel, error)
	Ping(ctx context.Context) error
	Close() error
}
