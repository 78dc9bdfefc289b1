package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/spec-kit/ticketflow/internal/domain"
)

const statusLogColumns = `id, owner_type, owner_id, ticket_id, previous_status, new_status, note, actor_id, actor_role, created_at, seq`

func (tx *postgresTx) AppendStatusLog(ctx context.Context, entry *domain.StatusLogEntry) error {
	const query = `
        INSERT INTO status_log (owner_type, owner_id, ticket_id, previous_status, new_status, note, actor_id, actor_role, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING id, seq`
	return tx.q.QueryRow(ctx, query,
		entry.OwnerType,
		entry.OwnerID,
		entry.TicketID,
		entry.PreviousStatus,
		entry.NewStatus,
		entry.Note,
		entry.ActorID,
		entry.ActorRole,
		entry.CreatedAt,
	).Scan(&entry.ID, &entry.Seq)
}

func listTicketLogs(ctx context.Context, q querier, ticketID string) ([]domain.StatusLogEntry, error) {
	return queryStatusLog(ctx, q,
		`SELECT `+statusLogColumns+` FROM status_log WHERE ticket_id=$1 ORDER BY created_at, seq`, ticketID)
}

func listOwnerLogs(ctx context.Context, q querier, owner domain.LogOwnerType, ownerID string) ([]domain.StatusLogEntry, error) {
	return queryStatusLog(ctx, q,
		`SELECT `+statusLogColumns+` FROM status_log WHERE owner_type=$1 AND owner_id=$2 ORDER BY created_at, seq`, owner, ownerID)
}

func queryStatusLog(ctx context.Context, q querier, query string, args ...any) ([]domain.StatusLogEntry, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.StatusLogEntry{}
	for rows.Next() {
		var entry domain.StatusLogEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.OwnerType,
			&entry.OwnerID,
			&entry.TicketID,
			&entry.PreviousStatus,
			&entry.NewStatus,
			&entry.Note,
			&entry.ActorID,
			&entry.ActorRole,
			&entry.CreatedAt,
			&entry.Seq,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

const stockQuery = `
    SELECT v.variant_id, v.current_stock::text, v.incoming_stock::text, COALESCE(a.allocated, 0)::text
    FROM variant_stock v LEFT JOIN stock_allocations a ON a.variant_id = v.variant_id
    WHERE v.variant_id=$1`

func (s *PostgresStore) GetStock(ctx context.Context, variantID string) (*domain.StockLevel, error) {
	return fetchStock(ctx, s.pool, stockQuery, variantID)
}

// GetStockForUpdate holds the variant's catalog row shared and its allocation
// row exclusively, so concurrent allocations of one variant queue up.
func (tx *postgresTx) GetStockForUpdate(ctx context.Context, variantID string) (*domain.StockLevel, error) {
	var id string
	err := tx.q.QueryRow(ctx, `SELECT variant_id FROM variant_stock WHERE variant_id=$1 FOR SHARE`, variantID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, variantNotFound(variantID)
	}
	if err != nil {
		return nil, err
	}
	if _, err := tx.q.Exec(ctx,
		`INSERT INTO stock_allocations (variant_id, allocated) VALUES ($1, 0) ON CONFLICT (variant_id) DO NOTHING`, variantID); err != nil {
		return nil, err
	}
	if _, err := tx.q.Exec(ctx, `SELECT 1 FROM stock_allocations WHERE variant_id=$1 FOR UPDATE`, variantID); err != nil {
		return nil, err
	}
	return fetchStock(ctx, tx.q, stockQuery, variantID)
}

func (tx *postgresTx) AdjustAllocated(ctx context.Context, variantID string, delta decimal.Decimal) error {
	cmd, err := tx.q.Exec(ctx, `
        INSERT INTO stock_allocations (variant_id, allocated) VALUES ($1, $2::numeric)
        ON CONFLICT (variant_id) DO UPDATE SET allocated = stock_allocations.allocated + EXCLUDED.allocated`,
		variantID, delta.String())
	if err != nil {
		return fmt.Errorf("adjust allocation for %s: %w", variantID, err)
	}
	if cmd.RowsAffected() == 0 {
		return variantNotFound(variantID)
	}
	return nil
}

// UpsertVariantStock writes catalog figures for a variant. Used for seeding.
func (s *PostgresStore) UpsertVariantStock(ctx context.Context, variantID string, current, incoming decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO variant_stock (variant_id, current_stock, incoming_stock, updated_at)
        VALUES ($1, $2::numeric, $3::numeric, NOW())
        ON CONFLICT (variant_id) DO UPDATE SET current_stock = EXCLUDED.current_stock,
            incoming_stock = EXCLUDED.incoming_stock, updated_at = NOW()`,
		variantID, current.String(), incoming.String())
	return err
}

func fetchStock(ctx context.Context, q querier, query, variantID string) (*domain.StockLevel, error) {
	var (
		lvl                          domain.StockLevel
		current, incoming, allocated string
	)
	err := q.QueryRow(ctx, query, variantID).Scan(&lvl.VariantID, &current, &incoming, &allocated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, variantNotFound(variantID)
	}
	if err != nil {
		return nil, err
	}
	if lvl.Current, err = decimal.NewFromString(current); err != nil {
		return nil, fmt.Errorf("parse current stock: %w", err)
	}
	if lvl.Incoming, err = decimal.NewFromString(incoming); err != nil {
		return nil, fmt.Errorf("parse incoming stock: %w", err)
	}
	if lvl.Allocated, err = decimal.NewFromString(allocated); err != nil {
		return nil, fmt.Errorf("parse allocated stock: %w", err)
	}
	return &lvl, nil
}
