package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/ticketflow/internal/domain"
	apperrors "github.com/spec-kit/ticketflow/pkg/util/errorutil"
)

func newTestTicket(now time.Time, variants ...string) *domain.Ticket {
	ticket := &domain.Ticket{
		ExternalKey: "SO-0001",
		Kind:        domain.TicketKindSale,
		Status:      "NEW",
		CreatedBy:   "u1",
		UpdatedBy:   "u1",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, v := range variants {
		ticket.Details = append(ticket.Details, domain.Detail{
			VariantID: v,
			Quantity:  decimal.NewFromInt(5),
			Status:    "NEW",
			CreatedBy: "u1",
			UpdatedBy: "u1",
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return ticket
}

func seedStock(t *testing.T, store *MemoryStore, variantID string, current int64) {
	t.Helper()
	if err := store.UpsertVariantStock(context.Background(), variantID, decimal.NewFromInt(current), decimal.Zero); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

func createTicket(t *testing.T, store Store, ticket *domain.Ticket) {
	t.Helper()
	err := store.WithTx(context.Background(), func(tx Tx) error {
		return tx.CreateTicket(context.Background(), ticket)
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ticket := newTestTicket(now, "v1", "v2")
	createTicket(t, store, ticket)

	if ticket.ID == "" || ticket.Details[0].ID == "" {
		t.Fatalf("expected ids to be assigned, got %+v", ticket)
	}
	got, err := store.GetTicket(context.Background(), ticket.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if len(got.Details) != 2 || got.Details[0].VariantID != "v1" || got.Details[1].VariantID != "v2" {
		t.Fatalf("details not kept in order: %+v", got.Details)
	}
	if got.Details[0].Kind != domain.TicketKindSale || got.Details[0].TicketID != ticket.ID {
		t.Fatalf("detail not linked to ticket: %+v", got.Details[0])
	}
	if len(got.StatusLog) != 0 {
		t.Fatalf("expected empty log, got %d entries", len(got.StatusLog))
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.GetTicket(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	ticket := newTestTicket(time.Now(), "v1")
	createTicket(t, store, ticket)
	if _, err := store.GetDetail(ctx, "other-ticket", ticket.Details[0].ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("detail under wrong ticket should be not found, got %v", err)
	}
	if _, err := store.GetStock(ctx, "v-unknown"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected unknown variant, got %v", err)
	}
}

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	store := NewMemoryStore()
	seedStock(t, store, "v1", 10)
	ticket := newTestTicket(time.Now(), "v1")
	createTicket(t, store, ticket)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx Tx) error {
		d, err := tx.GetDetailForUpdate(ctx, ticket.ID, ticket.Details[0].ID)
		if err != nil {
			return err
		}
		d.Status = "ALLOCATED"
		d.AllocatedQuantity = d.Quantity
		if err := tx.UpdateDetail(ctx, d); err != nil {
			return err
		}
		if err := tx.AdjustAllocated(ctx, "v1", d.Quantity); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	detail, err := store.GetDetail(ctx, ticket.ID, ticket.Details[0].ID)
	if err != nil {
		t.Fatalf("get detail: %v", err)
	}
	if detail.Status != "NEW" || !detail.AllocatedQuantity.IsZero() {
		t.Fatalf("write leaked out of failed tx: %+v", detail)
	}
	stock, _ := store.GetStock(ctx, "v1")
	if !stock.Allocated.IsZero() {
		t.Fatalf("allocation leaked out of failed tx: %s", stock.Allocated)
	}
}

func TestMemoryStoreAdjustAllocatedRejectsNegative(t *testing.T) {
	store := NewMemoryStore()
	seedStock(t, store, "v1", 10)
	ctx := context.Background()
	err := store.WithTx(ctx, func(tx Tx) error {
		return tx.AdjustAllocated(ctx, "v1", decimal.NewFromInt(-1))
	})
	if err == nil {
		t.Fatal("expected negative allocation to fail")
	}
}

func TestMemoryStoreLogOrdering(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ticket := newTestTicket(now, "v1")
	createTicket(t, store, ticket)
	ctx := context.Background()
	detailID := ticket.Details[0].ID

	prev := domain.Status("NEW")
	err := store.WithTx(ctx, func(tx Tx) error {
		// same timestamp twice, then an earlier one
		for _, entry := range []domain.StatusLogEntry{
			{OwnerType: domain.LogOwnerDetail, OwnerID: detailID, TicketID: ticket.ID, PreviousStatus: &prev, NewStatus: "A", CreatedAt: now},
			{OwnerType: domain.LogOwnerDetail, OwnerID: detailID, TicketID: ticket.ID, NewStatus: "B", CreatedAt: now},
			{OwnerType: domain.LogOwnerDetail, OwnerID: detailID, TicketID: ticket.ID, NewStatus: "C", CreatedAt: now.Add(-time.Minute)},
		} {
			entry := entry
			if err := tx.AppendStatusLog(ctx, &entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	detail, err := store.GetDetail(ctx, ticket.ID, detailID)
	if err != nil {
		t.Fatalf("get detail: %v", err)
	}
	var got []domain.Status
	for _, entry := range detail.StatusLog {
		got = append(got, entry.NewStatus)
	}
	want := []domain.Status{"C", "A", "B"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMemoryStoreListTickets(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, kind := range []domain.TicketKind{domain.TicketKindSale, domain.TicketKindProduction, domain.TicketKindSale} {
		ticket := newTestTicket(base.Add(time.Duration(i)*time.Minute), "v1")
		ticket.Kind = kind
		createTicket(t, store, ticket)
	}
	ctx := context.Background()

	all, err := store.ListTickets(ctx, TicketFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 tickets, got %d", len(all))
	}
	if !all[0].UpdatedAt.After(all[2].UpdatedAt) {
		t.Fatalf("expected newest first")
	}

	sale := domain.TicketKindSale
	sales, _ := store.ListTickets(ctx, TicketFilter{Kind: &sale})
	if len(sales) != 2 {
		t.Fatalf("expected 2 sale tickets, got %d", len(sales))
	}
	page, _ := store.ListTickets(ctx, TicketFilter{Limit: 1, Offset: 5})
	if len(page) != 0 {
		t.Fatalf("expected empty page, got %d", len(page))
	}
	none, _ := store.ListTickets(ctx, TicketFilter{Statuses: []domain.Status{"CLOSED"}})
	if len(none) != 0 {
		t.Fatalf("expected no closed tickets, got %d", len(none))
	}
}
