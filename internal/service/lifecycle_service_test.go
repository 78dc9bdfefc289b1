package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/spec-kit/ticketflow/internal/domain"
	"github.com/spec-kit/ticketflow/internal/events"
	apperrors "github.com/spec-kit/ticketflow/pkg/util/errorutil"
)

func TestRequestTransitionProductionScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, domain.TicketKindProduction, 4, 6)
	first, second := ticket.Details[0], ticket.Details[1]

	detail, err := f.lifecycle.RequestTransition(ctx, ticket.ID, first.ID, TransitionInput{Status: "IN_PROGRESS", Note: "started"}, operator)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if detail.Status != "IN_PROGRESS" || detail.Version != 1 {
		t.Fatalf("unexpected detail %s v%d", detail.Status, detail.Version)
	}
	if len(detail.StatusLog) != 1 {
		t.Fatalf("expected one log entry, got %d", len(detail.StatusLog))
	}
	entry := detail.StatusLog[0]
	if entry.PreviousStatus == nil || *entry.PreviousStatus != "NEW" || entry.NewStatus != "IN_PROGRESS" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Note == nil || *entry.Note != "started" || entry.ActorID != operator.ID || entry.ActorRole != string(operator.Role) {
		t.Fatalf("entry missing note or actor: %+v", entry)
	}

	_, err = f.lifecycle.RequestTransition(ctx, ticket.ID, second.ID, TransitionInput{Status: "CLOSED"}, operator)
	if !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	domainErr := apperrors.ToDomainError(err)
	allowed, _ := domainErr.Details["allowed"].([]domain.Status)
	if len(allowed) != 1 || allowed[0] != "IN_PROGRESS" {
		t.Fatalf("expected allowed alternatives in details, got %v", domainErr.Details)
	}
	untouched, _ := f.tickets.GetDetail(ctx, ticket.ID, second.ID)
	if untouched.Status != "NEW" || len(untouched.StatusLog) != 0 {
		t.Fatalf("rejected transition mutated detail: %+v", untouched)
	}
}

func TestRequestTransitionStampsCompletion(t *testing.T) {
	f := newFixture(t)
	ticket := f.create(t, domain.TicketKindProduction, 1)
	d := ticket.Details[0]

	detail := f.walk(t, ticket.ID, d.ID, "IN_PROGRESS")
	if detail.CompletedAt != nil {
		t.Fatal("completion stamped too early")
	}
	detail = f.walk(t, ticket.ID, d.ID, "COMPLETE")
	if detail.CompletedAt == nil {
		t.Fatal("expected completion date on COMPLETE")
	}
	stamped := *detail.CompletedAt
	detail = f.walk(t, ticket.ID, d.ID, "READY", "CLOSED")
	if !detail.CompletedAt.Equal(stamped) {
		t.Fatal("completion date overwritten by later transitions")
	}
}

func TestRequestTransitionRejectsSpecialTargets(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "v1", 100)
	ctx := context.Background()
	sale := f.create(t, domain.TicketKindSale, 1)
	production := f.create(t, domain.TicketKindProduction, 1)

	cases := []struct {
		name     string
		ticketID string
		detailID string
		status   domain.Status
	}{
		{"cancel needs its own operation", production.ID, production.Details[0].ID, "CANCELLED"},
		{"allocation needs its own operation", sale.ID, sale.Details[0].ID, "ALLOCATED"},
		{"unknown status", production.ID, production.Details[0].ID, "ON_HOLD"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.lifecycle.RequestTransition(ctx, tc.ticketID, tc.detailID, TransitionInput{Status: tc.status}, operator)
			if !errors.Is(err, apperrors.ErrInvalidTransition) {
				t.Fatalf("expected invalid transition, got %v", err)
			}
		})
	}

	if _, err := f.lifecycle.RequestTransition(ctx, production.ID, production.Details[0].ID, TransitionInput{}, operator); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error for empty status, got %v", err)
	}
	if _, err := f.lifecycle.RequestTransition(ctx, production.ID, "missing", TransitionInput{Status: "IN_PROGRESS"}, operator); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.lifecycle.RequestTransition(ctx, production.ID, production.Details[0].ID, TransitionInput{Status: "IN_PROGRESS"}, domain.Actor{}); !apperrors.HasCode(err, apperrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized without actor, got %v", err)
	}
}

func TestRequestTransitionFromTerminalFails(t *testing.T) {
	f := newFixture(t)
	ticket := f.create(t, domain.TicketKindPurchasing, 1)
	d := ticket.Details[0]
	f.walk(t, ticket.ID, d.ID, "APPROVAL", "SUCCESSFUL", "SHIPPING", "READY", "CLOSED")

	_, err := f.lifecycle.RequestTransition(context.Background(), ticket.ID, d.ID, TransitionInput{Status: "READY"}, operator)
	if !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from CLOSED, got %v", err)
	}
}

func TestRequestTransitionOptimisticConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, domain.TicketKindProduction, 1)
	d := ticket.Details[0]

	_, err := f.lifecycle.RequestTransition(ctx, ticket.ID, d.ID, TransitionInput{
		Status: "IN_PROGRESS",
		Expect: Expectation{Status: statusPtr("NEW"), Version: int64Ptr(0)},
	}, operator)
	if err != nil {
		t.Fatalf("first transition: %v", err)
	}

	_, err = f.lifecycle.RequestTransition(ctx, ticket.ID, d.ID, TransitionInput{
		Status: "COMPLETE",
		Expect: Expectation{Status: statusPtr("NEW")},
	}, operator)
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict on stale status, got %v", err)
	}
	_, err = f.lifecycle.RequestTransition(ctx, ticket.ID, d.ID, TransitionInput{
		Status: "COMPLETE",
		Expect: Expectation{Version: int64Ptr(0)},
	}, operator)
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict on stale version, got %v", err)
	}

	detail, _ := f.tickets.GetDetail(ctx, ticket.ID, d.ID)
	if detail.Status != "IN_PROGRESS" || len(detail.StatusLog) != 1 {
		t.Fatalf("conflicting requests mutated detail: %s with %d entries", detail.Status, len(detail.StatusLog))
	}
}

func TestConcurrentTransitionsSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, domain.TicketKindProduction, 1)
	d := ticket.Details[0]

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.lifecycle.RequestTransition(ctx, ticket.ID, d.ID, TransitionInput{
				Status: "IN_PROGRESS",
				Expect: Expectation{Status: statusPtr("NEW")},
			}, operator)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperrors.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != workers-1 {
		t.Fatalf("expected one winner, got %d successes and %d conflicts", successes, conflicts)
	}
	detail, _ := f.tickets.GetDetail(ctx, ticket.ID, d.ID)
	if len(detail.StatusLog) != 1 || detail.Version != 1 {
		t.Fatalf("expected a single committed change, got %d entries v%d", len(detail.StatusLog), detail.Version)
	}
}

func TestCancelDetailScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, domain.TicketKindProduction, 1, 1)
	d := ticket.Details[0]

	for _, reason := range []string{"", "   "} {
		if _, err := f.lifecycle.CancelDetail(ctx, ticket.ID, d.ID, CancelInput{Reason: reason}, operator); !errors.Is(err, apperrors.ErrMissingReason) {
			t.Fatalf("expected missing reason for %q, got %v", reason, err)
		}
	}
	detail, _ := f.tickets.GetDetail(ctx, ticket.ID, d.ID)
	if detail.Status != "NEW" || len(detail.StatusLog) != 0 {
		t.Fatalf("missing reason mutated detail: %+v", detail)
	}

	detail, err := f.lifecycle.CancelDetail(ctx, ticket.ID, d.ID, CancelInput{Reason: "customer withdrew"}, operator)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if detail.Status != "CANCELLED" || len(detail.StatusLog) != 1 {
		t.Fatalf("unexpected detail after cancel: %s with %d entries", detail.Status, len(detail.StatusLog))
	}
	if note := detail.StatusLog[0].Note; note == nil || *note != "customer withdrew" {
		t.Fatalf("reason not recorded as note: %v", note)
	}

	if _, err := f.lifecycle.CancelDetail(ctx, ticket.ID, d.ID, CancelInput{Reason: "again"}, operator); !errors.Is(err, apperrors.ErrAlreadyTerminal) {
		t.Fatalf("expected already terminal, got %v", err)
	}

	got, err := f.tickets.GetTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if got.Status != "PARTIAL_CANCELLED" {
		t.Fatalf("expected PARTIAL_CANCELLED roll-up, got %s", got.Status)
	}
}

func TestCancelDetailFromClosedIsTerminal(t *testing.T) {
	f := newFixture(t)
	ticket := f.create(t, domain.TicketKindProduction, 1)
	d := ticket.Details[0]
	f.walk(t, ticket.ID, d.ID, "IN_PROGRESS", "COMPLETE", "READY", "CLOSED")

	_, err := f.lifecycle.CancelDetail(context.Background(), ticket.ID, d.ID, CancelInput{Reason: "late"}, operator)
	if !errors.Is(err, apperrors.ErrAlreadyTerminal) {
		t.Fatalf("expected already terminal, got %v", err)
	}
}

func TestCancelDetailReleasesAllocation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "v1", 10)
	ctx := context.Background()
	ticket := f.create(t, domain.TicketKindSale, 4)
	d := ticket.Details[0]
	before := f.allocated(t, "v1")

	if _, err := f.allocation.Allocate(ctx, ticket.ID, d.ID, Expectation{}, operator); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if got := f.allocated(t, "v1"); !got.Equal(before.Add(d.Quantity)) {
		t.Fatalf("allocation not recorded: %s", got)
	}
	detail, err := f.lifecycle.CancelDetail(ctx, ticket.ID, d.ID, CancelInput{Reason: "out of budget"}, operator)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !detail.AllocatedQuantity.IsZero() {
		t.Fatalf("detail still holds %s", detail.AllocatedQuantity)
	}
	if got := f.allocated(t, "v1"); !got.Equal(before) {
		t.Fatalf("allocation not returned: %s, want %s", got, before)
	}
	if f.eventCount(events.EventStockReleased) != 1 {
		t.Fatalf("expected one stock_released event")
	}
}

func TestCancelTicketRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "v1", 100)
	ctx := context.Background()
	ticket := f.create(t, domain.TicketKindSale, 2, 3, 5)
	done, allocated, fresh := ticket.Details[0], ticket.Details[1], ticket.Details[2]

	if _, err := f.allocation.Allocate(ctx, ticket.ID, done.ID, Expectation{}, operator); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	f.walk(t, ticket.ID, done.ID, "PACKED", "SHIPPED", "DONE")
	if _, err := f.allocation.Allocate(ctx, ticket.ID, allocated.ID, Expectation{}, operator); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if _, err := f.lifecycle.CancelTicket(ctx, ticket.ID, "", operator); !errors.Is(err, apperrors.ErrMissingReason) {
		t.Fatalf("expected missing reason, got %v", err)
	}

	got, err := f.lifecycle.CancelTicket(ctx, ticket.ID, "order withdrawn", operator)
	if err != nil {
		t.Fatalf("cancel ticket: %v", err)
	}
	if got.Status != "PARTIAL_CANCELLED" {
		t.Fatalf("expected PARTIAL_CANCELLED, got %s", got.Status)
	}
	byID := map[string]domain.Detail{}
	for _, d := range got.Details {
		byID[d.ID] = d
	}
	if byID[done.ID].Status != "DONE" {
		t.Fatalf("terminal detail was touched: %s", byID[done.ID].Status)
	}
	for _, id := range []string{allocated.ID, fresh.ID} {
		d := byID[id]
		if d.Status != "CANCELLED" {
			t.Fatalf("detail %s not cancelled: %s", id, d.Status)
		}
		last := d.StatusLog[len(d.StatusLog)-1]
		if last.NewStatus != "CANCELLED" || last.Note == nil || *last.Note != "order withdrawn" {
			t.Fatalf("detail %s missing cancellation entry: %+v", id, last)
		}
	}
	if len(byID[fresh.ID].StatusLog) != 1 {
		t.Fatalf("fresh detail should have exactly one entry, got %d", len(byID[fresh.ID].StatusLog))
	}
	// only the shipped detail keeps its reservation
	if a := f.allocated(t, "v1"); !a.Equal(done.Quantity) {
		t.Fatalf("expected allocated %s after cancel, got %s", done.Quantity, a)
	}

	last := got.StatusLog[len(got.StatusLog)-1]
	if last.NewStatus != "PARTIAL_CANCELLED" || last.Note == nil || *last.Note != "order withdrawn" {
		t.Fatalf("expected ticket-level cancellation entry, got %+v", last)
	}
	assertLegalHistory(t, f.rules, got)

	if _, err := f.lifecycle.CancelTicket(ctx, ticket.ID, "twice", operator); !errors.Is(err, apperrors.ErrAlreadyTerminal) {
		t.Fatalf("expected already terminal on second cancel, got %v", err)
	}
}

func TestCancelTicketAllDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, domain.TicketKindProduction, 1, 2)
	f.walk(t, ticket.ID, ticket.Details[0].ID, "IN_PROGRESS")

	got, err := f.lifecycle.CancelTicket(ctx, ticket.ID, "line stopped", operator)
	if err != nil {
		t.Fatalf("cancel ticket: %v", err)
	}
	if got.Status != "CANCELLED" {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
	stored, _ := f.store.GetTicket(ctx, ticket.ID)
	if stored.Status != "CANCELLED" {
		t.Fatalf("cached status not updated: %s", stored.Status)
	}
	// created + forced cancellation entry; production does not log roll-ups
	if len(got.StatusLog) != 2 {
		t.Fatalf("expected 2 ticket-level entries, got %d", len(got.StatusLog))
	}
	assertLegalHistory(t, f.rules, got)
}
