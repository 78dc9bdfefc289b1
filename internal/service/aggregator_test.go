package service

import (
	"context"
	"testing"

	"github.com/spec-kit/ticketflow/internal/domain"
	"github.com/spec-kit/ticketflow/internal/events"
)

func TestRecomputeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, domain.TicketKindPurchasing, 1, 1)
	f.walk(t, ticket.ID, ticket.Details[0].ID, "APPROVAL")

	first, err := f.aggregator.Recompute(ctx, ticket.ID, operator)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	changes := f.eventCount(events.EventTicketStatusChanged)
	second, err := f.aggregator.Recompute(ctx, ticket.ID, operator)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if first != second || first != "PARTIAL_APPROVAL" {
		t.Fatalf("recompute not stable: %s then %s", first, second)
	}
	if f.eventCount(events.EventTicketStatusChanged) != changes {
		t.Fatal("unchanged recompute published an event")
	}
}

func TestSaleRollUpChangesAreLogged(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "v1", 10)
	ctx := context.Background()
	sale := f.create(t, domain.TicketKindSale, 1, 1)
	production := f.create(t, domain.TicketKindProduction, 1, 1)

	if _, err := f.allocation.Allocate(ctx, sale.ID, sale.Details[0].ID, Expectation{}, operator); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	f.walk(t, production.ID, production.Details[0].ID, "IN_PROGRESS")

	gotSale, _ := f.tickets.GetTicket(ctx, sale.ID)
	if len(gotSale.StatusLog) != 2 {
		t.Fatalf("expected created + roll-up entries for sale, got %d", len(gotSale.StatusLog))
	}
	rollUp := gotSale.StatusLog[1]
	if rollUp.PreviousStatus == nil || *rollUp.PreviousStatus != "NEW" || rollUp.NewStatus != "PARTIAL_ALLOCATED" {
		t.Fatalf("unexpected roll-up entry %+v", rollUp)
	}

	gotProduction, _ := f.tickets.GetTicket(ctx, production.ID)
	if len(gotProduction.StatusLog) != 1 {
		t.Fatalf("production roll-ups are not logged, got %d entries", len(gotProduction.StatusLog))
	}
	if gotProduction.Status != "PARTIAL_IN_PROGRESS" {
		t.Fatalf("unexpected production roll-up %s", gotProduction.Status)
	}
}
