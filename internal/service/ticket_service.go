package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketflow/internal/domain"
	"github.com/spec-kit/ticketflow/internal/events"
	"github.com/spec-kit/ticketflow/internal/lifecycle"
	"github.com/spec-kit/ticketflow/internal/repository"
	apperrors "github.com/spec-kit/ticketflow/pkg/util/errorutil"
)

const createdNote = "created"

// TicketService coordinates ticket creation and reads.
type TicketService struct {
	engine
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Kind    domain.TicketKind
	Details []DetailCreateInput
}

// DetailCreateInput describes one requested line item.
type DetailCreateInput struct {
	VariantID    string
	Quantity     decimal.Decimal
	ExpectedDate *time.Time
}

// TicketListFilter describes listing filters.
type TicketListFilter struct {
	Kind     *domain.TicketKind
	Statuses []domain.Status
	Limit    int
	Offset   int
}

// NewTicketService constructs the service.
func NewTicketService(deps Dependencies) *TicketService {
	return &TicketService{engine: newEngine(deps)}
}

// CreateTicket creates a ticket with every detail in the kind's initial status.
func (s *TicketService) CreateTicket(ctx context.Context, input TicketCreateInput, actor domain.Actor) (*domain.Ticket, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	desc, ok := s.rules.Descriptor(input.Kind)
	if !ok {
		return nil, apperrors.NewValidationError("unknown ticket kind", map[string]any{"kind": input.Kind, "kinds": s.rules.Kinds()})
	}
	if len(input.Details) == 0 {
		return nil, apperrors.NewValidationError("at least one detail is required", nil)
	}
	for i, d := range input.Details {
		if strings.TrimSpace(d.VariantID) == "" {
			return nil, apperrors.NewValidationError("variant_id is required", map[string]any{"detail": i})
		}
		if !d.Quantity.IsPositive() {
			return nil, apperrors.NewValidationError("quantity must be positive", map[string]any{"detail": i})
		}
		if desc.SupportsAllocation() {
			if _, err := s.store.GetStock(ctx, d.VariantID); err != nil {
				if errors.Is(err, apperrors.ErrNotFound) {
					return nil, apperrors.NewValidationError("unknown variant", map[string]any{"detail": i, "variant_id": d.VariantID})
				}
				return nil, err
			}
		}
	}

	now := s.now()
	ticket := &domain.Ticket{
		ExternalKey: generateTicketKey(input.Kind),
		Kind:        input.Kind,
		Status:      desc.Initial,
		CreatedBy:   actor.ID,
		UpdatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, d := range input.Details {
		ticket.Details = append(ticket.Details, domain.Detail{
			Kind:              input.Kind,
			VariantID:         strings.TrimSpace(d.VariantID),
			Quantity:          d.Quantity,
			ExpectedDate:      d.ExpectedDate,
			Status:            desc.Initial,
			AllocatedQuantity: decimal.Zero,
			CreatedBy:         actor.ID,
			UpdatedBy:         actor.ID,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}

	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.CreateTicket(ctx, ticket); err != nil {
			return err
		}
		note := createdNote
		return tx.AppendStatusLog(ctx, &domain.StatusLogEntry{
			OwnerType: domain.LogOwnerTicket,
			OwnerID:   ticket.ID,
			TicketID:  ticket.ID,
			NewStatus: desc.Initial,
			Note:      &note,
			ActorID:   actor.ID,
			ActorRole: string(actor.Role),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("kind", string(ticket.Kind)),
		zap.Int("details", len(ticket.Details)))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		Kind:     ticket.Kind,
		TicketID: ticket.ID,
		Actor:    events.ActorFrom(actor),
		Payload: events.TicketCreatedPayload{
			ExternalKey: ticket.ExternalKey,
			Status:      ticket.Status,
			DetailCount: len(ticket.Details),
		},
	})
	return s.loadTicket(ctx, ticket.ID)
}

// GetTicket returns a ticket with details, logs and a freshly derived roll-up.
func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	return s.loadTicket(ctx, ticketID)
}

// GetDetail returns one detail with its own log.
func (s *TicketService) GetDetail(ctx context.Context, ticketID, detailID string) (*domain.Detail, error) {
	return s.loadDetail(ctx, ticketID, detailID)
}

// ListTickets returns ticket headers, newest change first. Statuses match the
// stored roll-up.
func (s *TicketService) ListTickets(ctx context.Context, filter TicketListFilter) ([]domain.Ticket, error) {
	if filter.Kind != nil {
		if _, ok := s.rules.Descriptor(*filter.Kind); !ok {
			return nil, apperrors.NewValidationError("unknown ticket kind", map[string]any{"kind": *filter.Kind})
		}
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}
	return s.store.ListTickets(ctx, repository.TicketFilter{
		Kind:     filter.Kind,
		Statuses: filter.Statuses,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	})
}

// TransitionRules exports the kind's rule table. Unknown kinds yield no rules.
func (s *TicketService) TransitionRules(kind domain.TicketKind) []lifecycle.Rule {
	return s.rules.Rules(kind)
}

// AllowedNextStatuses is the ordered next-status lookup for presentation layers.
func (s *TicketService) AllowedNextStatuses(kind domain.TicketKind, current domain.Status) []domain.Status {
	return s.rules.AllowedNextStatuses(kind, current)
}

// Kinds lists the configured ticket kinds.
func (s *TicketService) Kinds() []domain.TicketKind {
	return s.rules.Kinds()
}

func generateTicketKey(kind domain.TicketKind) string {
	prefix := strings.ToUpper(string(kind))
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8]))
}
