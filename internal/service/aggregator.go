package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketflow/internal/domain"
	"github.com/spec-kit/ticketflow/internal/events"
	"github.com/spec-kit/ticketflow/internal/lifecycle"
	"github.com/spec-kit/ticketflow/internal/repository"
)

// Aggregator keeps a ticket's cached roll-up status in line with its details.
// It runs in its own transaction after the detail write has committed, so it
// always sees a fully committed detail set and may safely be repeated.
type Aggregator struct {
	engine
}

// NewAggregator constructs the aggregator.
func NewAggregator(deps Dependencies) *Aggregator {
	return &Aggregator{engine: newEngine(deps)}
}

// Recompute derives the roll-up from the ticket's current details and stores
// it when it differs. Kinds with log_rollup also get a ticket-level log entry
// for each change.
func (a *Aggregator) Recompute(ctx context.Context, ticketID string, actor domain.Actor) (domain.Status, error) {
	var (
		previous domain.Status
		rolled   domain.Status
		kind     domain.TicketKind
		changed  bool
	)
	err := a.store.WithTx(ctx, func(tx repository.Tx) error {
		ticket, err := tx.GetTicketForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		desc, err := a.descriptor(ticket.Kind)
		if err != nil {
			return err
		}
		details, err := tx.ListDetailsForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		kind = ticket.Kind
		previous = ticket.Status
		rolled = lifecycle.RollUp(desc, detailStatuses(details))
		if rolled == previous {
			return nil
		}
		changed = true
		return a.storeRollUp(ctx, tx, desc, ticket, rolled, nil, actor)
	})
	if err != nil {
		a.metrics.RecordRollUp("failed")
		return "", err
	}
	if !changed {
		a.metrics.RecordRollUp("unchanged")
		return rolled, nil
	}
	a.metrics.RecordRollUp("changed")
	a.logger.Info("ticket roll-up changed",
		zap.String("ticket_id", ticketID),
		zap.String("from", string(previous)),
		zap.String("to", string(rolled)))
	a.publishEvent(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		Kind:     kind,
		TicketID: ticketID,
		Actor:    events.ActorFrom(actor),
		Payload:  events.StatusChangedPayload{OldStatus: previous, NewStatus: rolled},
	})
	return rolled, nil
}

// RecomputeAfterWrite runs Recompute for a detail change that has already
// committed. A failure is logged, not returned: reads derive the roll-up
// from details and the next change retries.
func (a *Aggregator) RecomputeAfterWrite(ctx context.Context, ticketID string, actor domain.Actor) {
	if _, err := a.Recompute(ctx, ticketID, actor); err != nil {
		a.logger.Warn("roll-up recompute failed",
			zap.String("ticket_id", ticketID),
			zap.Error(err))
	}
}

// storeRollUp writes a new cached status. The ticket-level entry is written
// when the kind logs roll-ups or when note is given.
func (e *engine) storeRollUp(ctx context.Context, tx repository.Tx, desc *lifecycle.Descriptor, ticket *domain.Ticket, status domain.Status, note *string, actor domain.Actor) error {
	previous := ticket.Status
	now := e.now()
	ticket.Status = status
	ticket.UpdatedBy = actor.ID
	ticket.UpdatedAt = now
	if err := tx.UpdateTicketStatus(ctx, ticket); err != nil {
		return err
	}
	if !desc.LogRollUp && note == nil {
		return nil
	}
	return tx.AppendStatusLog(ctx, &domain.StatusLogEntry{
		OwnerType:      domain.LogOwnerTicket,
		OwnerID:        ticket.ID,
		TicketID:       ticket.ID,
		PreviousStatus: &previous,
		NewStatus:      status,
		Note:           note,
		ActorID:        actor.ID,
		ActorRole:      string(actor.Role),
		CreatedAt:      now,
	})
}
