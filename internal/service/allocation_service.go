package service

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketflow/internal/domain"
	"github.com/spec-kit/ticketflow/internal/events"
	"github.com/spec-kit/ticketflow/internal/repository"
	apperrors "github.com/spec-kit/ticketflow/pkg/util/errorutil"
)

// AllocationService reserves stock for details of kinds that allocate.
type AllocationService struct {
	engine
	aggregator *Aggregator
}

// NewAllocationService constructs the service.
func NewAllocationService(deps Dependencies, aggregator *Aggregator) *AllocationService {
	return &AllocationService{engine: newEngine(deps), aggregator: aggregator}
}

// Allocate reserves the detail's full quantity and moves it to the kind's
// allocation status in the same transaction as the ledger increment.
func (s *AllocationService) Allocate(ctx context.Context, ticketID, detailID string, expect Expectation, actor domain.Actor) (*domain.Detail, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var (
		record    transitionRecord
		variantID string
		quantity  decimal.Decimal
		allocated decimal.Decimal
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
		if !desc.SupportsAllocation() {
			return apperrors.NewInvalidState("ticket kind does not allocate stock", map[string]any{"kind": detail.Kind})
		}
		if err := checkExpectation(detail, expect); err != nil {
			return err
		}
		if detail.Status != desc.Initial || !desc.CanTransition(detail.Status, desc.Allocation) {
			return apperrors.NewInvalidState("detail must be in status "+string(desc.Initial)+" to allocate", map[string]any{
				"detail_id": detail.ID,
				"status":    detail.Status,
			})
		}

		level, err := tx.GetStockForUpdate(ctx, detail.VariantID)
		if err != nil {
			return err
		}
		available := level.Available()
		if available.LessThan(detail.Quantity) {
			return apperrors.NewInsufficientStock(map[string]any{
				"variant_id": detail.VariantID,
				"available":  available.String(),
				"requested":  detail.Quantity.String(),
			})
		}
		if err := tx.AdjustAllocated(ctx, detail.VariantID, detail.Quantity); err != nil {
			return err
		}
		detail.AllocatedQuantity = detail.Quantity

		variantID = detail.VariantID
		quantity = detail.Quantity
		allocated = level.Allocated.Add(detail.Quantity)
		note := "allocated " + detail.Quantity.String()
		record, err = s.applyTransition(ctx, tx, desc, detail, desc.Allocation, &note, actor)
		return err
	})
	if err != nil {
		s.metrics.RecordAllocation(outcomeOf(err))
		return nil, err
	}

	s.metrics.RecordAllocation("allocated")
	s.logger.Info("stock allocated",
		zap.String("ticket_id", ticketID),
		zap.String("detail_id", detailID),
		zap.String("variant_id", variantID),
		zap.String("quantity", quantity.String()))
	s.afterTransition(ctx, ticketID, record, actor)
	s.publishEvent(ctx, events.Event{
		Type:     events.EventStockAllocated,
		Kind:     record.kind,
		TicketID: ticketID,
		DetailID: detailID,
		Actor:    events.ActorFrom(actor),
		Payload: events.StockPayload{
			VariantID: variantID,
			Quantity:  quantity.String(),
			Allocated: allocated.String(),
		},
	})
	s.aggregator.RecomputeAfterWrite(ctx, ticketID, actor)
	return s.loadDetail(ctx, ticketID, detailID)
}

func outcomeOf(err error) string {
	if domainErr := apperrors.ToDomainError(err); domainErr != nil {
		return domainErr.Code
	}
	return apperrors.CodeInternal
}
