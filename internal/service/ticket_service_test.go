package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/ticketflow/internal/domain"
	"github.com/spec-kit/ticketflow/internal/events"
	apperrors "github.com/spec-kit/ticketflow/pkg/util/errorutil"
)

func TestCreateTicket(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "v1", 3)
	ticket := f.create(t, domain.TicketKindSale, 1, 2)

	if !strings.HasPrefix(ticket.ExternalKey, "SAL-") {
		t.Fatalf("unexpected external key %s", ticket.ExternalKey)
	}
	if ticket.Status != "NEW" || ticket.CreatedBy != operator.ID {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
	for _, d := range ticket.Details {
		if d.Status != "NEW" || d.Version != 0 || len(d.StatusLog) != 0 {
			t.Fatalf("detail not in initial state: %+v", d)
		}
		if d.Stock == nil || !d.Stock.Available.Equal(decimal.NewFromInt(3)) {
			t.Fatalf("expected stock figures, got %+v", d.Stock)
		}
	}
	if len(ticket.StatusLog) != 1 {
		t.Fatalf("expected creation entry, got %d", len(ticket.StatusLog))
	}
	entry := ticket.StatusLog[0]
	if entry.PreviousStatus != nil || entry.NewStatus != "NEW" || entry.Note == nil || *entry.Note != createdNote {
		t.Fatalf("unexpected creation entry %+v", entry)
	}
	if f.eventCount(events.EventTicketCreated) != 1 {
		t.Fatal("expected ticket_created event")
	}
}

func TestCreateTicketValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	one := decimal.NewFromInt(1)

	cases := []struct {
		name  string
		input TicketCreateInput
	}{
		{"unknown kind", TicketCreateInput{Kind: "REPAIR", Details: []DetailCreateInput{{VariantID: "v1", Quantity: one}}}},
		{"no details", TicketCreateInput{Kind: domain.TicketKindProduction}},
		{"zero quantity", TicketCreateInput{Kind: domain.TicketKindProduction, Details: []DetailCreateInput{{VariantID: "v1", Quantity: decimal.Zero}}}},
		{"missing variant", TicketCreateInput{Kind: domain.TicketKindProduction, Details: []DetailCreateInput{{Quantity: one}}}},
		{"sale variant not in catalog", TicketCreateInput{Kind: domain.TicketKindSale, Details: []DetailCreateInput{{VariantID: "nope", Quantity: one}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.tickets.CreateTicket(ctx, tc.input, operator)
			if !apperrors.HasCode(err, apperrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestGetTicketDerivesRollUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, domain.TicketKindProduction, 1, 1, 1)
	for _, d := range ticket.Details[:2] {
		f.walk(t, ticket.ID, d.ID, "IN_PROGRESS", "COMPLETE", "READY", "CLOSED")
	}
	f.walk(t, ticket.ID, ticket.Details[2].ID, "IN_PROGRESS")

	got, err := f.tickets.GetTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "PARTIAL_CLOSED" {
		t.Fatalf("expected PARTIAL_CLOSED, got %s", got.Status)
	}
	stored, _ := f.store.GetTicket(ctx, ticket.ID)
	if stored.Status != got.Status {
		t.Fatalf("cached roll-up %s differs from derived %s", stored.Status, got.Status)
	}
	assertLegalHistory(t, f.rules, got)

	if _, err := f.tickets.GetTicket(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListTickets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, domain.TicketKindProduction, 1)
	f.create(t, domain.TicketKindPurchasing, 1)
	f.create(t, domain.TicketKindPurchasing, 1)

	kind := domain.TicketKindPurchasing
	got, err := f.tickets.ListTickets(ctx, TicketListFilter{Kind: &kind})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 purchasing tickets, got %d", len(got))
	}
	bad := domain.TicketKind("REPAIR")
	if _, err := f.tickets.ListTickets(ctx, TicketListFilter{Kind: &bad}); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTransitionRulesExport(t *testing.T) {
	f := newFixture(t)
	rules := f.tickets.TransitionRules(domain.TicketKindPurchasing)
	if len(rules) == 0 || rules[0].CurrentStatus != "NEW" || rules[0].AllowedTransitions[0] != "APPROVAL" {
		t.Fatalf("unexpected rules %+v", rules)
	}
	if got := f.tickets.TransitionRules("REPAIR"); len(got) != 0 {
		t.Fatalf("unknown kind should export no rules, got %d", len(got))
	}
	if next := f.tickets.AllowedNextStatuses(domain.TicketKindSale, "DONE"); len(next) != 0 {
		t.Fatalf("terminal status should have no next statuses, got %v", next)
	}
}
