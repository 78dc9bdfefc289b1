package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/ticketflow/internal/domain"
	"github.com/spec-kit/ticketflow/internal/events"
	"github.com/spec-kit/ticketflow/internal/lifecycle"
	"github.com/spec-kit/ticketflow/internal/repository"
)

var operator = domain.Actor{ID: "op-1", Role: domain.ActorRoleOperator}

type stepClock struct {
	base time.Time
	n    atomic.Int64
}

func (c *stepClock) Now() time.Time {
	return c.base.Add(time.Duration(c.n.Add(1)) * time.Millisecond)
}

type fixture struct {
	store      *repository.MemoryStore
	rules      *lifecycle.Table
	tickets    *TicketService
	lifecycle  *LifecycleService
	allocation *AllocationService
	aggregator *Aggregator

	mu     sync.Mutex
	events []events.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &stepClock{base: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	dispatcher := events.NewInMemoryDispatcher()
	f := &fixture{store: repository.NewMemoryStore(), rules: lifecycle.MustDefaultTable()}
	for _, eventType := range events.AllEventTypes {
		dispatcher.Subscribe(eventType, func(_ context.Context, e events.Event) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.events = append(f.events, e)
			return nil
		})
	}
	deps := Dependencies{
		Store:      f.store,
		Rules:      f.rules,
		Dispatcher: dispatcher,
		Now:        clock.Now,
	}
	f.aggregator = NewAggregator(deps)
	f.tickets = NewTicketService(deps)
	f.lifecycle = NewLifecycleService(deps, f.aggregator)
	f.allocation = NewAllocationService(deps, f.aggregator)
	return f
}

func (f *fixture) seed(t *testing.T, variantID string, current int64) {
	t.Helper()
	if err := f.store.UpsertVariantStock(context.Background(), variantID, decimal.NewFromInt(current), decimal.NewFromInt(1)); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

func (f *fixture) create(t *testing.T, kind domain.TicketKind, quantities ...int64) *domain.Ticket {
	t.Helper()
	input := TicketCreateInput{Kind: kind}
	for _, q := range quantities {
		input.Details = append(input.Details, DetailCreateInput{VariantID: "v1", Quantity: decimal.NewFromInt(q)})
	}
	ticket, err := f.tickets.CreateTicket(context.Background(), input, operator)
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}

func (f *fixture) walk(t *testing.T, ticketID, detailID string, path ...domain.Status) *domain.Detail {
	t.Helper()
	var detail *domain.Detail
	for _, status := range path {
		var err error
		detail, err = f.lifecycle.RequestTransition(context.Background(), ticketID, detailID, TransitionInput{Status: status}, operator)
		if err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}
	return detail
}

func (f *fixture) eventCount(eventType events.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (f *fixture) allocated(t *testing.T, variantID string) decimal.Decimal {
	t.Helper()
	level, err := f.store.GetStock(context.Background(), variantID)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	return level.Allocated
}

// assertLegalHistory replays every detail log of the ticket against the rules.
func assertLegalHistory(t *testing.T, rules *lifecycle.Table, ticket *domain.Ticket) {
	t.Helper()
	desc, _ := rules.Descriptor(ticket.Kind)
	for _, d := range ticket.Details {
		current := desc.Initial
		for i, entry := range d.StatusLog {
			if entry.PreviousStatus == nil || *entry.PreviousStatus != current {
				t.Fatalf("detail %s entry %d: previous %v, want %s", d.ID, i, entry.PreviousStatus, current)
			}
			if entry.NewStatus != desc.Cancelled && !desc.CanTransition(current, entry.NewStatus) {
				t.Fatalf("detail %s entry %d: illegal edge %s -> %s", d.ID, i, current, entry.NewStatus)
			}
			current = entry.NewStatus
		}
		if current != d.Status {
			t.Fatalf("detail %s: log ends at %s but status is %s", d.ID, current, d.Status)
		}
		if int64(len(d.StatusLog)) != d.Version {
			t.Fatalf("detail %s: %d log entries for %d changes", d.ID, len(d.StatusLog), d.Version)
		}
	}
}

func statusPtr(s domain.Status) *domain.Status { return &s }

func int64Ptr(v int64) *int64 { return &v }
