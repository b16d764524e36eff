package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/mpokorn/EventGo-backend/internal/repository"
)

// Ledger answers capacity questions and repairs counter drift. The
// event-level total/sold are derived sums over the event's ticket types;
// mutating transactions recompute them from children rather than applying
// independent deltas, so drift can only enter through tickets created or
// removed outside this service, and Recount repairs that.
type Ledger struct {
	store  repository.Store
	logger *logrus.Logger
}

// NewLedger constructs a Ledger.
func NewLedger(store repository.Store, logger *logrus.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// IsEventSoldOut reports whether the event has no remaining capacity
// across all of its ticket types.
func (l *Ledger) IsEventSoldOut(ctx context.Context, eventID string) (bool, error) {
	e, err := l.store.Event(ctx, eventID)
	if err != nil {
		return false, err
	}
	return e.SoldOut(), nil
}

// IsTicketTypeSoldOut reports whether a single ticket type has no
// remaining capacity.
func (l *Ledger) IsTicketTypeSoldOut(ctx context.Context, ticketTypeID string) (bool, error) {
	tt, err := l.store.TicketType(ctx, ticketTypeID)
	if err != nil {
		return false, err
	}
	return tt.SoldOut(), nil
}

// RecountResult reports a repaired sold counter.
type RecountResult struct {
	TicketTypeID string `json:"ticket_type_id"`
	Sold         int    `json:"sold"`
}

// Recount recomputes the ticket type's sold count from its live ticket
// rows and propagates the corrected value to the parent event's aggregate
// counters within the same unit of work.
func (l *Ledger) Recount(ctx context.Context, ticketTypeID string) (*RecountResult, error) {
	var out RecountResult
	err := l.store.WithinTx(ctx, func(ctx context.Context, s repository.Store) error {
		tt, err := s.TicketType(ctx, ticketTypeID)
		if err != nil {
			return err
		}
		sold, err := s.RecountTicketTypeSold(ctx, ticketTypeID)
		if err != nil {
			return err
		}
		if err := s.RecomputeEventCounters(ctx, tt.EventID); err != nil {
			return err
		}
		out = RecountResult{TicketTypeID: ticketTypeID, Sold: sold}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.WithFields(logrus.Fields{
		"ticket_type_id": ticketTypeID,
		"sold":           out.Sold,
	}).Info("ticket type sold count recounted")
	return &out, nil
}
