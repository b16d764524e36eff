// Package repository defines the storage interface consumed by the
// waitlist core and its PostgreSQL and in-memory implementations.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mpokorn/EventGo-backend/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidState is returned when an operation targets an entity in the
// wrong status, e.g. refunding a non-active ticket.
var ErrInvalidState = errors.New("entity is in the wrong state for this operation")

// ErrForbidden is returned when the caller lacks ownership of the ticket
// or event it is acting on.
var ErrForbidden = errors.New("caller does not own this resource")

// ErrDuplicateEntry is returned when a user joins a waitlist they are
// already on.
var ErrDuplicateEntry = errors.New("already on the waitlist for this event")

// ErrNotSoldOut is returned when a waitlist join or self-service return is
// attempted while the event still has capacity.
var ErrNotSoldOut = errors.New("event still has available capacity")

// ErrEventEnded is returned when a waitlist join is attempted for an event
// that is already over.
var ErrEventEnded = errors.New("event has already ended")

// ErrReservationExpired is returned when an offer is accepted after its
// reservation window has lapsed. Distinct from ErrNotFound: the offer
// existed but is no longer claimable.
var ErrReservationExpired = errors.New("reservation window has expired")

// Store is the narrow persistence interface the waitlist core runs
// against. All read-modify-write sequences happen inside WithinTx; the
// claim methods are try-lock-or-skip primitives, so a row currently held
// by a concurrent claimant is reported as absent rather than waited on.
//
// Single-entity getters return ErrNotFound for missing rows. The claim
// and oldest-candidate methods return (nil, nil) when no eligible row
// exists; "no candidate" is a normal outcome there, not an error.
type Store interface {
	// WithinTx runs fn inside one atomic unit against a transaction-bound
	// Store. fn returning an error rolls the unit back. Nested calls join
	// the enclosing transaction.
	WithinTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error

	// Events.
	Event(ctx context.Context, id string) (*model.Event, error)
	// EventForUpdate locks the event row for the remainder of the
	// enclosing transaction, serialising capacity checks.
	EventForUpdate(ctx context.Context, id string) (*model.Event, error)
	// RecomputeEventCounters rewrites the event's total/sold as sums over
	// its ticket types. Every counter-mutating transaction calls this
	// instead of applying an independent delta to the aggregate.
	RecomputeEventCounters(ctx context.Context, eventID string) error

	// Ticket types.
	TicketType(ctx context.Context, id string) (*model.TicketType, error)
	AdjustTicketTypeSold(ctx context.Context, id string, delta int) error
	// RecountTicketTypeSold recomputes sold from live ticket rows (active
	// and pending_return count; reserved and refunded do not) and returns
	// the corrected value.
	RecountTicketTypeSold(ctx context.Context, id string) (int, error)

	// Tickets.
	Ticket(ctx context.Context, id string) (*model.Ticket, error)
	TicketForUpdate(ctx context.Context, id string) (*model.Ticket, error)
	// ReservedTicketByTransaction claims the reserved ticket linked to the
	// given offer transaction, skipping it if another claimant holds the
	// row.
	ReservedTicketByTransaction(ctx context.Context, transactionID string) (*model.Ticket, error)
	// UnmatchedPendingReturnForUpdate claims the longest-waiting
	// pending_return ticket for the event, any type, but only while the
	// event holds more returns than outstanding reserved offers. A return
	// already spoken for by a live reservation is not free inventory, and
	// a row held by a concurrent claimant is skipped.
	UnmatchedPendingReturnForUpdate(ctx context.Context, eventID string) (*model.Ticket, error)
	// OldestPendingReturnForUpdate claims the longest-waiting
	// pending_return ticket of the given event and type.
	OldestPendingReturnForUpdate(ctx context.Context, eventID, ticketTypeID string) (*model.Ticket, error)
	// ExpiredReservationTicketIDs lists reserved tickets whose offer
	// transaction is still pending and whose waitlist entry lapsed before
	// now. Read-only; each id is re-checked under a claim before use.
	ExpiredReservationTicketIDs(ctx context.Context, now time.Time) ([]string, error)
	// ExpiredReservedTicketForUpdate re-checks and claims one candidate
	// from ExpiredReservationTicketIDs, skipping rows that are locked or
	// no longer eligible.
	ExpiredReservedTicketForUpdate(ctx context.Context, ticketID string, now time.Time) (*model.Ticket, error)
	CreateTicket(ctx context.Context, t *model.Ticket) error
	UpdateTicketStatus(ctx context.Context, id string, status model.TicketStatus) error
	DeleteTicket(ctx context.Context, id string) error

	// Transactions.
	Transaction(ctx context.Context, id string) (*model.Transaction, error)
	CreateTransaction(ctx context.Context, t *model.Transaction) error
	UpdateTransactionStatus(ctx context.Context, id string, status model.TransactionStatus) error

	// Waitlist entries.
	WaitlistEntry(ctx context.Context, id string) (*model.WaitlistEntry, error)
	WaitlistEntryByUser(ctx context.Context, eventID, userID string) (*model.WaitlistEntry, error)
	// WaitlistPosition is the 1-based rank by join time across the whole
	// event. Returns ErrNotFound when the user is not on the list.
	WaitlistPosition(ctx context.Context, eventID, userID string) (int, error)
	// NextUnclaimedEntry claims the earliest-joined entry with no offer
	// stamped, skipping entries locked by concurrent claimants.
	NextUnclaimedEntry(ctx context.Context, eventID string) (*model.WaitlistEntry, error)
	CreateWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error
	MarkEntryOffered(ctx context.Context, id string, offeredAt, expiresAt time.Time) error
	DeleteWaitlistEntry(ctx context.Context, id string) error
}
