package service

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketflow/internal/domain"
	"github.com/spec-kit/ticketflow/internal/events"
	"github.com/spec-kit/ticketflow/internal/lifecycle"
	"github.com/spec-kit/ticketflow/internal/repository"
	apperrors "github.com/spec-kit/ticketflow/pkg/util/errorutil"
)

// Expectation is the caller's view of a detail. Set fields must still match
// when the write commits or the operation fails with a conflict.
type Expectation struct {
	Status  *domain.Status
	Version *int64
}

// TransitionInput describes a requested detail status change.
type TransitionInput struct {
	Status domain.Status
	Note   string
	Expect Expectation
}

// CancelInput describes a detail cancellation.
type CancelInput struct {
	Reason string
	Expect Expectation
}

// LifecycleService runs the detail status machine.
type LifecycleService struct {
	engine
	aggregator *Aggregator
}

// NewLifecycleService constructs the service.
func NewLifecycleService(deps Dependencies, aggregator *Aggregator) *LifecycleService {
	return &LifecycleService{engine: newEngine(deps), aggregator: aggregator}
}

// transitionRecord remembers a committed change for post-commit side effects.
type transitionRecord struct {
	detailID string
	kind     domain.TicketKind
	from     domain.Status
	to       domain.Status
	note     string
}

// releaseRecord remembers a committed allocation release.
type releaseRecord struct {
	detailID  string
	variantID string
	quantity  decimal.Decimal
	allocated decimal.Decimal
}

// RequestTransition moves a detail to a status allowed by its kind's rules.
// Cancellation and allocation have their own operations.
func (s *LifecycleService) RequestTransition(ctx context.Context, ticketID, detailID string, input TransitionInput, actor domain.Actor) (*domain.Detail, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	target := domain.Status(strings.TrimSpace(string(input.Status)))
	if target == "" {
		return nil, apperrors.NewValidationError("status is required", nil)
	}

	var record transitionRecord
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		detail, err := tx.GetDetailForUpdate(ctx, ticketID, detailID)
		if err != nil {
			return err
		}
		desc, err := s.descriptor(detail.Kind)
		if err != nil {
			return err
		}
		if err := checkExpectation(detail, input.Expect); err != nil {
			return err
		}
		allowed := desc.AllowedNext(detail.Status)
		details := map[string]any{
			"current":   detail.Status,
			"requested": target,
			"allowed":   allowed,
		}
		switch {
		case target == desc.Cancelled:
			return apperrors.NewInvalidTransition("cancellation requires a reason; use the cancel operation", details)
		case desc.SupportsAllocation() && target == desc.Allocation:
			return apperrors.NewInvalidTransition("status "+string(target)+" is entered by allocating stock", details)
		case !desc.CanTransition(detail.Status, target):
			return apperrors.NewInvalidTransition("transition not allowed from "+string(detail.Status), details)
		}
		record, err = s.applyTransition(ctx, tx, desc, detail, target, stringPtr(strings.TrimSpace(input.Note)), actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, ticketID, record, actor)
	s.aggregator.RecomputeAfterWrite(ctx, ticketID, actor)
	return s.loadDetail(ctx, ticketID, detailID)
}

// CancelDetail cancels one detail, releasing any stock it holds.
func (s *LifecycleService) CancelDetail(ctx context.Context, ticketID, detailID string, input CancelInput, actor domain.Actor) (*domain.Detail, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, apperrors.NewMissingReason()
	}

	var (
		record  transitionRecord
		release *releaseRecord
	)
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		detail, err := tx.GetDetailForUpdate(ctx, ticketID, detailID)
		if err != nil {
			return err
		}
		desc, err := s.descriptor(detail.Kind)
		if err != nil {
			return err
		}
		if err := checkExpectation(detail, input.Expect); err != nil {
			return err
		}
		if desc.IsTerminal(detail.Status) {
			return apperrors.NewAlreadyTerminal(map[string]any{"detail_id": detail.ID, "status": detail.Status})
		}
		if release, err = s.release(ctx, tx, detail); err != nil {
			return err
		}
		record, err = s.applyTransition(ctx, tx, desc, detail, desc.Cancelled, &reason, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, ticketID, record, actor)
	s.afterRelease(ctx, ticketID, record.kind, release, actor)
	s.aggregator.RecomputeAfterWrite(ctx, ticketID, actor)
	return s.loadDetail(ctx, ticketID, detailID)
}

// CancelTicket cancels every non-terminal detail of a ticket and writes one
// ticket-level entry carrying the reason, all in one transaction.
func (s *LifecycleService) CancelTicket(ctx context.Context, ticketID, reason string, actor domain.Actor) (*domain.Ticket, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.NewMissingReason()
	}

	var (
		records  []transitionRecord
		releases []*releaseRecord
		previous domain.Status
		rolled   domain.Status
		kind     domain.TicketKind
	)
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		ticket, err := tx.GetTicketForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		desc, err := s.descriptor(ticket.Kind)
		if err != nil {
			return err
		}
		details, err := tx.ListDetailsForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		live := make([]*domain.Detail, 0, len(details))
		for i := range details {
			if !desc.IsTerminal(details[i].Status) {
				live = append(live, &details[i])
			}
		}
		if len(live) == 0 {
			return apperrors.NewAlreadyTerminal(map[string]any{"ticket_id": ticketID})
		}

		// Lock stock rows in variant order so concurrent cancels cannot deadlock.
		holders := make([]*domain.Detail, 0, len(live))
		for _, d := range live {
			if d.HoldsAllocation() {
				holders = append(holders, d)
			}
		}
		sort.SliceStable(holders, func(i, j int) bool { return holders[i].VariantID < holders[j].VariantID })
		for _, d := range holders {
			rel, err := s.release(ctx, tx, d)
			if err != nil {
				return err
			}
			releases = append(releases, rel)
		}

		for _, d := range live {
			record, err := s.applyTransition(ctx, tx, desc, d, desc.Cancelled, &reason, actor)
			if err != nil {
				return err
			}
			records = append(records, record)
		}

		kind = ticket.Kind
		previous = ticket.Status
		rolled = lifecycle.RollUp(desc, detailStatuses(details))
		return s.storeRollUp(ctx, tx, desc, ticket, rolled, &reason, actor)
	})
	if err != nil {
		return nil, err
	}

	for _, record := range records {
		s.afterTransition(ctx, ticketID, record, actor)
	}
	for _, rel := range releases {
		s.afterRelease(ctx, ticketID, kind, rel, actor)
	}
	s.logger.Info("ticket cancelled",
		zap.String("ticket_id", ticketID),
		zap.Int("details_cancelled", len(records)),
		zap.String("roll_up", string(rolled)))
	if rolled != previous {
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketStatusChanged,
			Kind:     kind,
			TicketID: ticketID,
			Actor:    events.ActorFrom(actor),
			Payload:  events.StatusChangedPayload{OldStatus: previous, NewStatus: rolled, Note: reason},
		})
	}
	return s.loadTicket(ctx, ticketID)
}

// applyTransition writes the new status and its log entry. Callers have
// already validated the edge.
func (e *engine) applyTransition(ctx context.Context, tx repository.Tx, desc *lifecycle.Descriptor, detail *domain.Detail, to domain.Status, note *string, actor domain.Actor) (transitionRecord, error) {
	from := detail.Status
	now := e.now()
	detail.Status = to
	detail.Version++
	detail.UpdatedBy = actor.ID
	detail.UpdatedAt = now
	if desc.IsCompletion(to) && detail.CompletedAt == nil {
		completed := now
		detail.CompletedAt = &completed
	}
	if err := tx.UpdateDetail(ctx, detail); err != nil {
		return transitionRecord{}, err
	}
	entry := &domain.StatusLogEntry{
		OwnerType:      domain.LogOwnerDetail,
		OwnerID:        detail.ID,
		TicketID:       detail.TicketID,
		PreviousStatus: &from,
		NewStatus:      to,
		Note:           note,
		ActorID:        actor.ID,
		ActorRole:      string(actor.Role),
		CreatedAt:      now,
	}
	if err := tx.AppendStatusLog(ctx, entry); err != nil {
		return transitionRecord{}, err
	}
	return transitionRecord{detailID: detail.ID, kind: detail.Kind, from: from, to: to, note: derefString(note)}, nil
}

// release returns whatever the detail holds to the variant's pool. It is a
// no-op for details holding nothing.
func (e *engine) release(ctx context.Context, tx repository.Tx, detail *domain.Detail) (*releaseRecord, error) {
	if !detail.HoldsAllocation() {
		return nil, nil
	}
	if _, err := tx.GetStockForUpdate(ctx, detail.VariantID); err != nil {
		return nil, err
	}
	held := detail.AllocatedQuantity
	if err := tx.AdjustAllocated(ctx, detail.VariantID, held.Neg()); err != nil {
		return nil, err
	}
	level, err := tx.GetStockForUpdate(ctx, detail.VariantID)
	if err != nil {
		return nil, err
	}
	detail.AllocatedQuantity = decimal.Zero
	return &releaseRecord{detailID: detail.ID, variantID: detail.VariantID, quantity: held, allocated: level.Allocated}, nil
}

func (e *engine) afterTransition(ctx context.Context, ticketID string, record transitionRecord, actor domain.Actor) {
	e.metrics.RecordTransition(string(record.kind), string(record.from), string(record.to))
	e.logger.Info("detail transitioned",
		zap.String("ticket_id", ticketID),
		zap.String("detail_id", record.detailID),
		zap.String("from", string(record.from)),
		zap.String("to", string(record.to)),
		zap.String("actor_id", actor.ID))
	e.publishEvent(ctx, events.Event{
		Type:     events.EventDetailStatusChanged,
		Kind:     record.kind,
		TicketID: ticketID,
		DetailID: record.detailID,
		Actor:    events.ActorFrom(actor),
		Payload:  events.StatusChangedPayload{OldStatus: record.from, NewStatus: record.to, Note: record.note},
	})
}

func (e *engine) afterRelease(ctx context.Context, ticketID string, kind domain.TicketKind, rel *releaseRecord, actor domain.Actor) {
	if rel == nil {
		return
	}
	e.publishEvent(ctx, events.Event{
		Type:     events.EventStockReleased,
		Kind:     kind,
		TicketID: ticketID,
		DetailID: rel.detailID,
		Actor:    events.ActorFrom(actor),
		Payload: events.StockPayload{
			VariantID: rel.variantID,
			Quantity:  rel.quantity.String(),
			Allocated: rel.allocated.String(),
		},
	})
}

func checkExpectation(detail *domain.Detail, expect Expectation) error {
	if expect.Status != nil && *expect.Status != detail.Status {
		return apperrors.NewConflict("detail status changed", map[string]any{
			"expected_status": *expect.Status,
			"actual_status":   detail.Status,
		})
	}
	if expect.Version != nil && *expect.Version != detail.Version {
		return apperrors.NewConflict("detail version changed", map[string]any{
			"expected_version": *expect.Version,
			"actual_version":   detail.Version,
		})
	}
	return nil
}
