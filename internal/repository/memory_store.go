package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/spec-kit/ticketflow/internal/domain"
	apperrors "github.com/spec-kit/ticketflow/pkg/util/errorutil"
)

// MemorySnapshot is the serialisable state of a MemoryStore.
type MemorySnapshot struct {
	Tickets map[string]TicketRecord      `json:"tickets"`
	Details map[string]domain.Detail     `json:"details"`
	Logs    []domain.StatusLogEntry      `json:"logs"`
	Stock   map[string]domain.StockLevel `json:"stock"`
	Seq     int64                        `json:"seq"`
}

// TicketRecord is a stored ticket plus the ordered ids of its details.
type TicketRecord struct {
	Ticket    domain.Ticket `json:"ticket"`
	DetailIDs []string      `json:"detail_ids"`
}

func newSnapshot() MemorySnapshot {
	return MemorySnapshot{
		Tickets: map[string]TicketRecord{},
		Details: map[string]domain.Detail{},
		Stock:   map[string]domain.StockLevel{},
	}
}

func (s MemorySnapshot) clone() MemorySnapshot {
	out := MemorySnapshot{
		Tickets: make(map[string]TicketRecord, len(s.Tickets)),
		Details: make(map[string]domain.Detail, len(s.Details)),
		Logs:    append([]domain.StatusLogEntry(nil), s.Logs...),
		Stock:   make(map[string]domain.StockLevel, len(s.Stock)),
		Seq:     s.Seq,
	}
	for id, rec := range s.Tickets {
		rec.DetailIDs = append([]string(nil), rec.DetailIDs...)
		out.Tickets[id] = rec
	}
	for id, d := range s.Details {
		out.Details[id] = d
	}
	for id, lvl := range s.Stock {
		out.Stock[id] = lvl
	}
	return out
}

// MemoryStore keeps all state in process. Transactions run against a private
// copy that replaces the live state only when fn succeeds, so a single writer
// lock gives per-detail serialisation and all-or-nothing commits.
//
// Every transaction copies the whole state, status log included, so write
// cost grows with history. Use it for development and tests; production
// deployments run on PostgresStore.
type MemoryStore struct {
	mu    sync.RWMutex
	state MemorySnapshot
	// onCommit runs under the writer lock before the new state is published;
	// an error aborts the commit.
	onCommit func(MemorySnapshot) error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newSnapshot()}
}

// ExportState returns a deep copy of the current state.
func (m *MemoryStore) ExportState() MemorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.clone()
}

// ImportState replaces the current state.
func (m *MemoryStore) ImportState(snapshot MemorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snapshot.Tickets == nil {
		snapshot.Tickets = map[string]TicketRecord{}
	}
	if snapshot.Details == nil {
		snapshot.Details = map[string]domain.Detail{}
	}
	if snapshot.Stock == nil {
		snapshot.Stock = map[string]domain.StockLevel{}
	}
	m.state = snapshot.clone()
}

// UpsertVariantStock records the catalog's current and incoming figures for a
// variant, keeping its allocation total. The write goes through the commit hook.
func (m *MemoryStore) UpsertVariantStock(ctx context.Context, variantID string, current, incoming decimal.Decimal) error {
	return m.WithTx(ctx, func(tx Tx) error {
		mtx := tx.(*memoryTx)
		lvl := mtx.state.Stock[variantID]
		lvl.VariantID = variantID
		lvl.Current = current
		lvl.Incoming = incoming
		mtx.state.Stock[variantID] = lvl
		return nil
	})
}

// WithTx runs fn against a copy of the state and publishes it on success.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{state: m.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if m.onCommit != nil {
		if err := m.onCommit(tx.state); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	m.state = tx.state
	return nil
}

func (m *MemoryStore) GetTicket(_ context.Context, ticketID string) (*domain.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.state.Tickets[ticketID]
	if !ok {
		return nil, ticketNotFound(ticketID)
	}
	ticket := rec.Ticket
	ticket.Details = make([]domain.Detail, 0, len(rec.DetailIDs))
	for _, id := range rec.DetailIDs {
		d := m.state.Details[id]
		d.StatusLog = m.state.logsFor(domain.LogOwnerDetail, id)
		ticket.Details = append(ticket.Details, d)
	}
	ticket.StatusLog = m.state.logsFor(domain.LogOwnerTicket, ticketID)
	return &ticket, nil
}

func (m *MemoryStore) GetDetail(_ context.Context, ticketID, detailID string) (*domain.Detail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, err := m.state.detail(ticketID, detailID)
	if err != nil {
		return nil, err
	}
	d.StatusLog = m.state.logsFor(domain.LogOwnerDetail, detailID)
	return &d, nil
}

func (m *MemoryStore) ListTickets(_ context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	filter = filter.normalized()
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[domain.Status]struct{}, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses[s] = struct{}{}
	}
	var matched []domain.Ticket
	for _, rec := range m.state.Tickets {
		if filter.Kind != nil && rec.Ticket.Kind != *filter.Kind {
			continue
		}
		if len(statuses) > 0 {
			if _, ok := statuses[rec.Ticket.Status]; !ok {
				continue
			}
		}
		matched = append(matched, rec.Ticket)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	if filter.Offset >= len(matched) {
		return []domain.Ticket{}, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], nil
}

func (m *MemoryStore) GetStock(_ context.Context, variantID string) (*domain.StockLevel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lvl, ok := m.state.Stock[variantID]
	if !ok {
		return nil, variantNotFound(variantID)
	}
	return &lvl, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (s *MemorySnapshot) logsFor(owner domain.LogOwnerType, ownerID string) []domain.StatusLogEntry {
	out := []domain.StatusLogEntry{}
	for _, entry := range s.Logs {
		if entry.OwnerType == owner && entry.OwnerID == ownerID {
			out = append(out, entry)
		}
	}
	sortLog(out)
	return out
}

func (s *MemorySnapshot) detail(ticketID, detailID string) (domain.Detail, error) {
	d, ok := s.Details[detailID]
	if !ok || d.TicketID != ticketID {
		return domain.Detail{}, detailNotFound(ticketID, detailID)
	}
	return d, nil
}

type memoryTx struct {
	state MemorySnapshot
}

func (tx *memoryTx) CreateTicket(_ context.Context, ticket *domain.Ticket) error {
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	if _, exists := tx.state.Tickets[ticket.ID]; exists {
		return apperrors.NewConflict("ticket already exists", map[string]any{"ticket_id": ticket.ID})
	}
	rec := TicketRecord{Ticket: *ticket}
	rec.Ticket.Details = nil
	rec.Ticket.StatusLog = nil
	for i := range ticket.Details {
		d := &ticket.Details[i]
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		d.TicketID = ticket.ID
		d.Kind = ticket.Kind
		stored := *d
		stored.StatusLog = nil
		stored.Stock = nil
		tx.state.Details[d.ID] = stored
		rec.DetailIDs = append(rec.DetailIDs, d.ID)
	}
	tx.state.Tickets[ticket.ID] = rec
	return nil
}

func (tx *memoryTx) GetTicketForUpdate(_ context.Context, ticketID string) (*domain.Ticket, error) {
	rec, ok := tx.state.Tickets[ticketID]
	if !ok {
		return nil, ticketNotFound(ticketID)
	}
	ticket := rec.Ticket
	return &ticket, nil
}

func (tx *memoryTx) UpdateTicketStatus(_ context.Context, ticket *domain.Ticket) error {
	rec, ok := tx.state.Tickets[ticket.ID]
	if !ok {
		return ticketNotFound(ticket.ID)
	}
	rec.Ticket.Status = ticket.Status
	rec.Ticket.UpdatedBy = ticket.UpdatedBy
	rec.Ticket.UpdatedAt = ticket.UpdatedAt
	tx.state.Tickets[ticket.ID] = rec
	return nil
}

func (tx *memoryTx) GetDetailForUpdate(_ context.Context, ticketID, detailID string) (*domain.Detail, error) {
	d, err := tx.state.detail(ticketID, detailID)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (tx *memoryTx) ListDetailsForUpdate(_ context.Context, ticketID string) ([]domain.Detail, error) {
	rec, ok := tx.state.Tickets[ticketID]
	if !ok {
		return nil, ticketNotFound(ticketID)
	}
	out := make([]domain.Detail, 0, len(rec.DetailIDs))
	for _, id := range rec.DetailIDs {
		out = append(out, tx.state.Details[id])
	}
	return out, nil
}

func (tx *memoryTx) UpdateDetail(_ context.Context, detail *domain.Detail) error {
	if _, err := tx.state.detail(detail.TicketID, detail.ID); err != nil {
		return err
	}
	stored := *detail
	stored.StatusLog = nil
	stored.Stock = nil
	tx.state.Details[detail.ID] = stored
	return nil
}

func (tx *memoryTx) AppendStatusLog(_ context.Context, entry *domain.StatusLogEntry) error {
	tx.state.Seq++
	entry.ID = uuid.NewString()
	entry.Seq = tx.state.Seq
	tx.state.Logs = append(tx.state.Logs, *entry)
	return nil
}

func (tx *memoryTx) GetStockForUpdate(_ context.Context, variantID string) (*domain.StockLevel, error) {
	lvl, ok := tx.state.Stock[variantID]
	if !ok {
		return nil, variantNotFound(variantID)
	}
	return &lvl, nil
}

func (tx *memoryTx) AdjustAllocated(_ context.Context, variantID string, delta decimal.Decimal) error {
	lvl, ok := tx.state.Stock[variantID]
	if !ok {
		return variantNotFound(variantID)
	}
	next := lvl.Allocated.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("allocation for %s would become negative (%s)", variantID, next)
	}
	lvl.Allocated = next
	tx.state.Stock[variantID] = lvl
	return nil
}

func sortLog(entries []domain.StatusLogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].Seq < entries[j].Seq
	})
}

func ticketNotFound(ticketID string) error {
	return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
}

func detailNotFound(ticketID, detailID string) error {
	return apperrors.NewNotFound("detail", map[string]any{"ticket_id": ticketID, "detail_id": detailID})
}

func variantNotFound(variantID string) error {
	return apperrors.NewNotFound("variant stock", map[string]any{"variant_id": variantID})
}
