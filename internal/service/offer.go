// Package service implements the waitlist promotion state machine: the
// offer engine, the refund coordinator, the accept/decline handler, the
// expiration sweeper, and the queue operations around them.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mpokorn/EventGo-backend/internal/model"
	"github.com/mpokorn/EventGo-backend/internal/repository"
)

// OfferEngine converts a freed ticket slot into a time-bounded offer to
// the next eligible waitlisted user. It is the single entry point for all
// cascade call sites: self-service return, organizer refund, decline, and
// the expiration sweep.
type OfferEngine struct {
	store    repository.Store
	logger   *logrus.Logger
	notifier Notifier
	now      func() time.Time
}

// NewOfferEngine constructs the engine.
func NewOfferEngine(store repository.Store, logger *logrus.Logger, notifier Notifier) *OfferEngine {
	return &OfferEngine{store: store, logger: logger, notifier: notifier, now: time.Now}
}

// Assignment is the outcome of a promotion attempt.
type Assignment struct {
	Assigned      bool       `json:"assigned"`
	UserID        string     `json:"user_id,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
	TicketID      string     `json:"ticket_id,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// AssignNext claims the earliest unclaimed waitlist entry for the event
// and materialises a provisional offer against the given ticket type. The
// queue is event-wide: any freed slot, whatever its type, goes to the
// front of the single queue. Returns Assigned=false, with no state
// changes, when the queue has no unclaimed entry. Sold counters are not
// touched; promotion only affects counters once the user accepts.
func (e *OfferEngine) AssignNext(ctx context.Context, eventID, ticketTypeID string) (*Assignment, error) {
	var out Assignment
	err := e.store.WithinTx(ctx, func(ctx context.Context, s repository.Store) error {
		entry, err := s.NextUnclaimedEntry(ctx, eventID)
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		return e.offerToEntry(ctx, s, entry, ticketTypeID, &out)
	})
	if err != nil {
		return nil, err
	}
	if out.Assigned {
		e.notifier.OfferCreated(ctx, out.UserID, eventID, out.TransactionID, *out.ExpiresAt)
		e.logger.WithFields(logrus.Fields{
			"event_id":       eventID,
			"ticket_type_id": ticketTypeID,
			"user_id":        out.UserID,
			"transaction_id": out.TransactionID,
		}).Info("waitlist offer created")
	}
	return &out, nil
}

// AssignEntry offers directly to a specific unclaimed entry, bypassing
// queue order. Used by the join fast path. The backing pending_return
// ticket is claimed under the same transaction that stamps the offer, so
// a concurrent fast-path joiner racing for the same freed unit sees no
// unmatched return and returns Assigned=false.
func (e *OfferEngine) AssignEntry(ctx context.Context, entryID string) (*Assignment, error) {
	var out Assignment
	var eventID string
	err := e.store.WithinTx(ctx, func(ctx context.Context, s repository.Store) error {
		entry, err := s.WaitlistEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if entry.Claimed() {
			return repository.ErrInvalidState
		}
		eventID = entry.EventID

		pr, err := s.UnmatchedPendingReturnForUpdate(ctx, entry.EventID)
		if err != nil {
			return err
		}
		if pr == nil {
			return nil
		}
		return e.offerToEntry(ctx, s, entry, pr.TicketTypeID, &out)
	})
	if err != nil {
		return nil, err
	}
	if out.Assigned {
		e.notifier.OfferCreated(ctx, out.UserID, eventID, out.TransactionID, *out.ExpiresAt)
	}
	return &out, nil
}

// offerToEntry stamps the claim and creates the pending transaction plus
// reserved ticket inside the caller's transaction.
func (e *OfferEngine) offerToEntry(ctx context.Context, s repository.Store, entry *model.WaitlistEntry, ticketTypeID string, out *Assignment) error {
	now := e.now().UTC()
	expires := now.Add(model.ReservationWindow)

	// A failed price lookup defaults the offer to zero instead of
	// aborting the promotion.
	price := 0.0
	if tt, err := s.TicketType(ctx, ticketTypeID); err == nil {
		price = tt.Price
	} else {
		e.logger.WithError(err).WithField("ticket_type_id", ticketTypeID).
			Warn("price lookup failed, offering at zero")
	}

	if err := s.MarkEntryOffered(ctx, entry.ID, now, expires); err != nil {
		return err
	}

	trx := &model.Transaction{
		ID:            uuid.New().String(),
		UserID:        entry.UserID,
		EventID:       entry.EventID,
		TicketTypeID:  ticketTypeID,
		Amount:        price,
		PaymentMethod: model.PaymentWaitlist,
		Status:        model.TransactionPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.CreateTransaction(ctx, trx); err != nil {
		return err
	}

	ticket := &model.Ticket{
		ID:            uuid.New().String(),
		UserID:        entry.UserID,
		EventID:       entry.EventID,
		TicketTypeID:  ticketTypeID,
		TransactionID: trx.ID,
		Status:        model.TicketReserved,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.CreateTicket(ctx, ticket); err != nil {
		return err
	}

	out.Assigned = true
	out.UserID = entry.UserID
	out.TransactionID = trx.ID
	out.TicketID = ticket.ID
	out.ExpiresAt = &expires
	return nil
}
