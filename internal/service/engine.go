package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketflow/internal/domain"
	"github.com/spec-kit/ticketflow/internal/events"
	"github.com/spec-kit/ticketflow/internal/lifecycle"
	"github.com/spec-kit/ticketflow/internal/observability"
	"github.com/spec-kit/ticketflow/internal/repository"
	apperrors "github.com/spec-kit/ticketflow/pkg/util/errorutil"
)

// Dependencies bundles what every lifecycle service needs.
type Dependencies struct {
	Store      repository.Store
	Rules      *lifecycle.Table
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

// engine is the shared plumbing embedded by the services.
type engine struct {
	store      repository.Store
	rules      *lifecycle.Table
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func newEngine(deps Dependencies) engine {
	e := engine{
		store:      deps.Store,
		rules:      deps.Rules,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		now:        deps.Now,
	}
	if e.rules == nil {
		e.rules = lifecycle.MustDefaultTable()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e
}

func (e *engine) descriptor(kind domain.TicketKind) (*lifecycle.Descriptor, error) {
	desc, ok := e.rules.Descriptor(kind)
	if !ok {
		return nil, apperrors.NewInvalidState("ticket kind is not configured", map[string]any{"kind": kind})
	}
	return desc, nil
}

// loadDetail reads a detail with its log and, for allocating kinds, the
// derived stock figures.
func (e *engine) loadDetail(ctx context.Context, ticketID, detailID string) (*domain.Detail, error) {
	detail, err := e.store.GetDetail(ctx, ticketID, detailID)
	if err != nil {
		return nil, err
	}
	if err := e.attachStock(ctx, detail); err != nil {
		return nil, err
	}
	return detail, nil
}

func (e *engine) attachStock(ctx context.Context, detail *domain.Detail) error {
	desc, ok := e.rules.Descriptor(detail.Kind)
	if !ok || !desc.SupportsAllocation() {
		return nil
	}
	level, err := e.store.GetStock(ctx, detail.VariantID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	detail.Stock = level.Figures()
	return nil
}

// loadTicket reads a ticket with its details and logs, recomputing the
// roll-up from the details rather than trusting the stored value.
func (e *engine) loadTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	desc, err := e.descriptor(ticket.Kind)
	if err != nil {
		return nil, err
	}
	ticket.Status = lifecycle.RollUp(desc, detailStatuses(ticket.Details))
	for i := range ticket.Details {
		if err := e.attachStock(ctx, &ticket.Details[i]); err != nil {
			return nil, err
		}
	}
	return ticket, nil
}

func (e *engine) publishEvent(ctx context.Context, event events.Event) {
	if e.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	if err := e.dispatcher.Publish(ctx, event); err != nil {
		e.logger.Warn("event handlers failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func requireActor(actor domain.Actor) error {
	if strings.TrimSpace(actor.ID) == "" {
		return apperrors.NewUnauthorized("actor identity required")
	}
	return nil
}

func detailStatuses(details []domain.Detail) []domain.Status {
	out := make([]domain.Status, len(details))
	for i := range details {
		out[i] = details[i].Status
	}
	return out
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
