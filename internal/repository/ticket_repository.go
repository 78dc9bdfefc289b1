package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/spec-kit/ticketflow/internal/domain"
	apperrors "github.com/spec-kit/ticketflow/pkg/util/errorutil"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on a pgx pool. Row locks taken with
// SELECT ... FOR UPDATE serialise writers on the same detail and variant.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore builds the store. The pool is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const ticketColumns = `id, external_key, kind, status, created_by, updated_by, created_at, updated_at`

const detailColumns = `d.id, d.ticket_id, t.kind, d.variant_id, d.quantity::text, d.expected_date, d.status,
       d.version, d.allocated_quantity::text, d.completed_at, d.created_by, d.updated_by, d.created_at, d.updated_at`

const detailFrom = `ticket_details d JOIN tickets t ON t.id = d.ticket_id`

// WithTx runs fn inside a database transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = pgTx.Rollback(ctx)
		}
	}()
	if err := fn(&postgresTx{q: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func (s *PostgresStore) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := fetchTicket(ctx, s.pool, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1`, ticketID)
	if err != nil {
		return nil, err
	}
	details, err := listDetails(ctx, s.pool, `SELECT `+detailColumns+` FROM `+detailFrom+` WHERE d.ticket_id=$1 ORDER BY d.position`, ticketID)
	if err != nil {
		return nil, err
	}
	logs, err := listTicketLogs(ctx, s.pool, ticketID)
	if err != nil {
		return nil, err
	}
	byOwner := make(map[string][]domain.StatusLogEntry)
	ticket.StatusLog = []domain.StatusLogEntry{}
	for _, entry := range logs {
		if entry.OwnerType == domain.LogOwnerTicket {
			ticket.StatusLog = append(ticket.StatusLog, entry)
			continue
		}
		byOwner[entry.OwnerID] = append(byOwner[entry.OwnerID], entry)
	}
	for i := range details {
		details[i].StatusLog = byOwner[details[i].ID]
		if details[i].StatusLog == nil {
			details[i].StatusLog = []domain.StatusLogEntry{}
		}
	}
	ticket.Details = details
	return ticket, nil
}

func (s *PostgresStore) GetDetail(ctx context.Context, ticketID, detailID string) (*domain.Detail, error) {
	detail, err := fetchDetail(ctx, s.pool, `SELECT `+detailColumns+` FROM `+detailFrom+` WHERE d.id=$1 AND d.ticket_id=$2`, ticketID, detailID)
	if err != nil {
		return nil, err
	}
	logs, err := listOwnerLogs(ctx, s.pool, domain.LogOwnerDetail, detailID)
	if err != nil {
		return nil, err
	}
	detail.StatusLog = logs
	return detail, nil
}

func (s *PostgresStore) ListTickets(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	filter = filter.normalized()
	clauses := []string{"1=1"}
	args := []any{}

	if filter.Kind != nil {
		args = append(args, *filter.Kind)
		clauses = append(clauses, fmt.Sprintf("kind=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY updated_at DESC, id LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

// Ping verifies connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres pool not configured")
	}
	return s.pool.Ping(ctx)
}

// Close is a no-op; persistence.Postgres owns the pool.
func (s *PostgresStore) Close() error { return nil }

type postgresTx struct {
	q querier
}

func (tx *postgresTx) CreateTicket(ctx context.Context, ticket *domain.Ticket) error {
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	const insertTicket = `
        INSERT INTO tickets (id, external_key, kind, status, created_by, updated_by, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	if _, err := tx.q.Exec(ctx, insertTicket,
		ticket.ID,
		ticket.ExternalKey,
		ticket.Kind,
		ticket.Status,
		ticket.CreatedBy,
		ticket.UpdatedBy,
		ticket.CreatedAt,
		ticket.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflict("ticket already exists", map[string]any{"external_key": ticket.ExternalKey})
		}
		return err
	}

	const insertDetail = `
        INSERT INTO ticket_details (ticket_id, position, variant_id, quantity, expected_date, status, version,
            allocated_quantity, created_by, updated_by, created_at, updated_at)
        VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,$8::numeric,$9,$10,$11,$12)
        RETURNING id`
	for i := range ticket.Details {
		d := &ticket.Details[i]
		d.TicketID = ticket.ID
		d.Kind = ticket.Kind
		if err := tx.q.QueryRow(ctx, insertDetail,
			d.TicketID,
			i,
			d.VariantID,
			d.Quantity.String(),
			d.ExpectedDate,
			d.Status,
			d.Version,
			d.AllocatedQuantity.String(),
			d.CreatedBy,
			d.UpdatedBy,
			d.CreatedAt,
			d.UpdatedAt,
		).Scan(&d.ID); err != nil {
			return err
		}
	}
	return nil
}

func (tx *postgresTx) GetTicketForUpdate(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	return fetchTicket(ctx, tx.q, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1 FOR UPDATE`, ticketID)
}

func (tx *postgresTx) UpdateTicketStatus(ctx context.Context, ticket *domain.Ticket) error {
	cmd, err := tx.q.Exec(ctx, `UPDATE tickets SET status=$1, updated_by=$2, updated_at=$3 WHERE id=$4`,
		ticket.Status, ticket.UpdatedBy, ticket.UpdatedAt, ticket.ID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ticketNotFound(ticket.ID)
	}
	return nil
}

func (tx *postgresTx) GetDetailForUpdate(ctx context.Context, ticketID, detailID string) (*domain.Detail, error) {
	return fetchDetail(ctx, tx.q, `SELECT `+detailColumns+` FROM `+detailFrom+` WHERE d.id=$1 AND d.ticket_id=$2 FOR UPDATE OF d`, ticketID, detailID)
}

func (tx *postgresTx) ListDetailsForUpdate(ctx context.Context, ticketID string) ([]domain.Detail, error) {
	return listDetails(ctx, tx.q, `SELECT `+detailColumns+` FROM `+detailFrom+` WHERE d.ticket_id=$1 ORDER BY d.position FOR UPDATE OF d`, ticketID)
}

func (tx *postgresTx) UpdateDetail(ctx context.Context, detail *domain.Detail) error {
	const query = `
        UPDATE ticket_details SET status=$1, version=$2, allocated_quantity=$3::numeric, completed_at=$4,
            updated_by=$5, updated_at=$6
        WHERE id=$7 AND ticket_id=$8`
	cmd, err := tx.q.Exec(ctx, query,
		detail.Status,
		detail.Version,
		detail.AllocatedQuantity.String(),
		detail.CompletedAt,
		detail.UpdatedBy,
		detail.UpdatedAt,
		detail.ID,
		detail.TicketID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return detailNotFound(detail.TicketID, detail.ID)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func fetchTicket(ctx context.Context, q querier, query, ticketID string) (*domain.Ticket, error) {
	ticket, err := scanTicket(q.QueryRow(ctx, query, ticketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ticketNotFound(ticketID)
	}
	return ticket, err
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.ExternalKey,
		&ticket.Kind,
		&ticket.Status,
		&ticket.CreatedBy,
		&ticket.UpdatedBy,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func fetchDetail(ctx context.Context, q querier, query, ticketID, detailID string) (*domain.Detail, error) {
	detail, err := scanDetail(q.QueryRow(ctx, query, detailID, ticketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, detailNotFound(ticketID, detailID)
	}
	return detail, err
}

func listDetails(ctx context.Context, q querier, query, ticketID string) ([]domain.Detail, error) {
	rows, err := q.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.Detail{}
	for rows.Next() {
		detail, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *detail)
	}
	return result, rows.Err()
}

func scanDetail(row pgx.Row) (*domain.Detail, error) {
	var (
		detail    domain.Detail
		quantity  string
		allocated string
	)
	if err := row.Scan(
		&detail.ID,
		&detail.TicketID,
		&detail.Kind,
		&detail.VariantID,
		&quantity,
		&detail.ExpectedDate,
		&detail.Status,
		&detail.Version,
		&allocated,
		&detail.CompletedAt,
		&detail.CreatedBy,
		&detail.UpdatedBy,
		&detail.CreatedAt,
		&detail.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if detail.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("parse quantity: %w", err)
	}
	if detail.AllocatedQuantity, err = decimal.NewFromString(allocated); err != nil {
		return nil, fmt.Errorf("parse allocated quantity: %w", err)
	}
	return &detail, nil
}
