package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/mpokorn/EventGo-backend/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every query
// method works inside and outside an explicit transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// postgresStore implements Store on PostgreSQL. Row claiming uses
// SELECT … FOR UPDATE SKIP LOCKED so concurrent claimants never block each
// other; a locked row is simply treated as unavailable.
type postgresStore struct {
	pool   *pgxpool.Pool
	q      querier
	logger *logrus.Logger
}

// NewPostgresStore constructs the PostgreSQL-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, logger *logrus.Logger) Store {
	return &postgresStore{pool: pool, q: pool, logger: logger}
}

// WithinTx begins a transaction and runs fn against a tx-bound copy of the
// store. When the store is already tx-bound, fn joins the open transaction.
func (s *postgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, st Store) error) error {
	if _, inTx := s.q.(pgx.Tx); inTx {
		return fn(ctx, s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txStore := &postgresStore{pool: s.pool, q: tx, logger: s.logger}
	if err := fn(ctx, txStore); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.WithError(rbErr).Warn("transaction rollback failed")
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ─── Events ───────────────────────────────────────────────────────────────

const eventColumns = `id, name, organizer_id, starts_at, ends_at, total, sold, created_at`

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	err := row.Scan(&e.ID, &e.Name, &e.OrganizerID, &e.StartsAt, &e.EndsAt, &e.Total, &e.Sold, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	return &e, nil
}

func (s *postgresStore) Event(ctx context.Context, id string) (*model.Event, error) {
	return scanEvent(s.q.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
}

func (s *postgresStore) EventForUpdate(ctx context.Context, id string) (*model.Event, error) {
	return scanEvent(s.q.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id))
}

func (s *postgresStore) RecomputeEventCounters(ctx context.Context, eventID string) error {
	_, err := s.q.Exec(ctx,
		`UPDATE events SET
			total = COALESCE((SELECT SUM(total) FROM ticket_types WHERE event_id = $1), 0),
			sold  = COALESCE((SELECT SUM(sold)  FROM ticket_types WHERE event_id = $1), 0)
		 WHERE id = $1`,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("recompute event counters: %w", err)
	}
	return nil
}

// ─── Ticket types ─────────────────────────────────────────────────────────

func (s *postgresStore) TicketType(ctx context.Context, id string) (*model.TicketType, error) {
	var t model.TicketType
	err := s.q.QueryRow(ctx,
		`SELECT id, event_id, name, price, total, sold FROM ticket_types WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.EventID, &t.Name, &t.Price, &t.Total, &t.Sold)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get ticket type: %w", err)
	}
	return &t, nil
}

func (s *postgresStore) AdjustTicketTypeSold(ctx context.Context, id string, delta int) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE ticket_types SET sold = sold + $2 WHERE id = $1`,
		id, delta,
	)
	if err != nil {
		return fmt.Errorf("adjust ticket type sold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) RecountTicketTypeSold(ctx context.Context, id string) (int, error) {
	var sold int
	err := s.q.QueryRow(ctx,
		`UPDATE ticket_types SET sold = (
			SELECT COUNT(*) FROM tickets
			WHERE ticket_type_id = $1 AND status IN ('active', 'pending_return')
		 ) WHERE id = $1
		 RETURNING sold`,
		id,
	).Scan(&sold)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("recount ticket type sold: %w", err)
	}
	return sold, nil
}

// ─── Tickets ──────────────────────────────────────────────────────────────

const ticketColumns = `id, user_id, event_id, ticket_type_id, transaction_id, status, created_at, updated_at`

func scanTicket(row pgx.Row) (*model.Ticket, error) {
	var t model.Ticket
	err := row.Scan(&t.ID, &t.UserID, &t.EventID, &t.TicketTypeID, &t.TransactionID, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan ticket: %w", err)
	}
	return &t, nil
}

// scanOptionalTicket is for claim queries where an empty result means "no
// candidate", not an error.
func scanOptionalTicket(row pgx.Row) (*model.Ticket, error) {
	t, err := scanTicket(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return t, err
}

func (s *postgresStore) Ticket(ctx context.Context, id string) (*model.Ticket, error) {
	return scanTicket(s.q.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
}

func (s *postgresStore) TicketForUpdate(ctx context.Context, id string) (*model.Ticket, error) {
	return scanTicket(s.q.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = $1 FOR UPDATE`, id))
}

func (s *postgresStore) ReservedTicketByTransaction(ctx context.Context, transactionID string) (*model.Ticket, error) {
	return scanOptionalTicket(s.q.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets
		 WHERE transaction_id = $1 AND status = 'reserved'
		 FOR UPDATE SKIP LOCKED`,
		transactionID,
	))
}

func (s *postgresStore) UnmatchedPendingReturnForUpdate(ctx context.Context, eventID string) (*model.Ticket, error) {
	return scanOptionalTicket(s.q.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets
		 WHERE event_id = $1 AND status = 'pending_return'
		   AND (SELECT COUNT(*) FROM tickets WHERE event_id = $1 AND status = 'pending_return')
		     > (SELECT COUNT(*) FROM tickets WHERE event_id = $1 AND status = 'reserved')
		 ORDER BY updated_at ASC
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
		eventID,
	))
}

func (s *postgresStore) OldestPendingReturnForUpdate(ctx context.Context, eventID, ticketTypeID string) (*model.Ticket, error) {
	return scanOptionalTicket(s.q.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets
		 WHERE event_id = $1 AND ticket_type_id = $2 AND status = 'pending_return'
		 ORDER BY updated_at ASC
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
		eventID, ticketTypeID,
	))
}

func (s *postgresStore) ExpiredReservationTicketIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.q.Query(ctx,
		`SELECT t.id
		 FROM tickets t
		 JOIN transactions tr ON tr.id = t.transaction_id
		 JOIN waitlist_entries w ON w.event_id = t.event_id AND w.user_id = t.user_id
		 WHERE t.status = 'reserved'
		   AND tr.status = 'pending'
		   AND w.expires_at IS NOT NULL
		   AND w.expires_at < $1
		 ORDER BY w.expires_at ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired reservation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *postgresStore) ExpiredReservedTicketForUpdate(ctx context.Context, ticketID string, now time.Time) (*model.Ticket, error) {
	// Re-checks eligibility under the row lock: a ticket accepted or
	// already swept between the candidate listing and this claim no
	// longer matches and is skipped.
	return scanOptionalTicket(s.q.QueryRow(ctx,
		`SELECT `+prefixedTicketColumns+`
		 FROM tickets t
		 JOIN transactions tr ON tr.id = t.transaction_id
		 JOIN waitlist_entries w ON w.event_id = t.event_id AND w.user_id = t.user_id
		 WHERE t.id = $1
		   AND t.status = 'reserved'
		   AND tr.status = 'pending'
		   AND w.expires_at IS NOT NULL
		   AND w.expires_at < $2
		 FOR UPDATE OF t SKIP LOCKED`,
		ticketID, now,
	))
}

const prefixedTicketColumns = `t.id, t.user_id, t.event_id, t.ticket_type_id, t.transaction_id, t.status, t.created_at, t.updated_at`

func (s *postgresStore) CreateTicket(ctx context.Context, t *model.Ticket) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO tickets (id, user_id, event_id, ticket_type_id, transaction_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.UserID, t.EventID, t.TicketTypeID, t.TransactionID, t.Status, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (s *postgresStore) UpdateTicketStatus(ctx context.Context, id string, status model.TicketStatus) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE tickets SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("update ticket status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) DeleteTicket(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM tickets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ─── Transactions ─────────────────────────────────────────────────────────

func (s *postgresStore) Transaction(ctx context.Context, id string) (*model.Transaction, error) {
	var t model.Transaction
	err := s.q.QueryRow(ctx,
		`SELECT id, user_id, event_id, ticket_type_id, amount, payment_method, status, created_at, updated_at
		 FROM transactions WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.UserID, &t.EventID, &t.TicketTypeID, &t.Amount, &t.PaymentMethod, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return &t, nil
}

func (s *postgresStore) CreateTransaction(ctx context.Context, t *model.Transaction) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO transactions (id, user_id, event_id, ticket_type_id, amount, payment_method, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.UserID, t.EventID, t.TicketTypeID, t.Amount, t.PaymentMethod, t.Status, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *postgresStore) UpdateTransactionStatus(ctx context.Context, id string, status model.TransactionStatus) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE transactions SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ─── Waitlist entries ─────────────────────────────────────────────────────

const entryColumns = `id, user_id, event_id, joined_at, offered_at, expires_at`

func scanEntry(row pgx.Row) (*model.WaitlistEntry, error) {
	var e model.WaitlistEntry
	err := row.Scan(&e.ID, &e.UserID, &e.EventID, &e.JoinedAt, &e.OfferedAt, &e.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan waitlist entry: %w", err)
	}
	return &e, nil
}

func (s *postgresStore) WaitlistEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	return scanEntry(s.q.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM waitlist_entries WHERE id = $1`, id))
}

func (s *postgresStore) WaitlistEntryByUser(ctx context.Context, eventID, userID string) (*model.WaitlistEntry, error) {
	return scanEntry(s.q.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM waitlist_entries WHERE event_id = $1 AND user_id = $2`,
		eventID, userID,
	))
}

func (s *postgresStore) WaitlistPosition(ctx context.Context, eventID, userID string) (int, error) {
	var pos int
	err := s.q.QueryRow(ctx,
		`SELECT pos FROM (
			SELECT user_id, ROW_NUMBER() OVER (ORDER BY joined_at ASC) AS pos
			FROM waitlist_entries
			WHERE event_id = $1
		 ) ranked WHERE user_id = $2`,
		eventID, userID,
	).Scan(&pos)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("waitlist position: %w", err)
	}
	return pos, nil
}

func (s *postgresStore) NextUnclaimedEntry(ctx context.Context, eventID string) (*model.WaitlistEntry, error) {
	e, err := scanEntry(s.q.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM waitlist_entries
		 WHERE event_id = $1 AND offered_at IS NULL
		 ORDER BY joined_at ASC
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
		eventID,
	))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return e, err
}

func (s *postgresStore) CreateWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO waitlist_entries (id, user_id, event_id, joined_at, offered_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.UserID, e.EventID, e.JoinedAt, e.OfferedAt, e.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert waitlist entry: %w", err)
	}
	return nil
}

func (s *postgresStore) MarkEntryOffered(ctx context.Context, id string, offeredAt, expiresAt time.Time) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE waitlist_entries SET offered_at = $2, expires_at = $3 WHERE id = $1`,
		id, offeredAt, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("mark entry offered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) DeleteWaitlistEntry(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM waitlist_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete waitlist entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
