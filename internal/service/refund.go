package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mpokorn/EventGo-backend/internal/model"
	"github.com/mpokorn/EventGo-backend/internal/repository"
)

// RefundService orchestrates the two refund paths. The primary state
// change and its counters commit in one unit; the offer cascade runs as a
// separate, independently-atomic follow-up, so a cascade failure can
// never leave a refund half-applied.
type RefundService struct {
	store  repository.Store
	logger *logrus.Logger
	engine *OfferEngine
	now    func() time.Time
}

// NewRefundService constructs a RefundService.
func NewRefundService(store repository.Store, logger *logrus.Logger, engine *OfferEngine) *RefundService {
	return &RefundService{store: store, logger: logger, engine: engine, now: time.Now}
}

// GetOwnedTicket returns a ticket to its owner, pending_return state
// included.
func (r *RefundService) GetOwnedTicket(ctx context.Context, ticketID, callerID string) (*model.Ticket, error) {
	t, err := r.store.Ticket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.UserID != callerID {
		return nil, repository.ErrForbidden
	}
	return t, nil
}

// SelfReturnResult is the outcome of a self-service return.
type SelfReturnResult struct {
	Ticket           *model.Ticket `json:"ticket"`
	WaitlistAssigned bool          `json:"waitlist_assigned"`
}

// SelfReturn puts an owner's active ticket up for transfer. Only permitted
// while the event is sold out; the owner keeps access (pending_return)
// until a waitlist user completes the takeover. Counters are untouched:
// the unit is still occupied until the transfer finishes.
func (r *RefundService) SelfReturn(ctx context.Context, ticketID, callerID string) (*SelfReturnResult, error) {
	var ticket *model.Ticket
	err := r.store.WithinTx(ctx, func(ctx context.Context, s repository.Store) error {
		t, err := s.TicketForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.UserID != callerID {
			return repository.ErrForbidden
		}
		if t.Status != model.TicketActive {
			return repository.ErrInvalidState
		}
		event, err := s.Event(ctx, t.EventID)
		if err != nil {
			return err
		}
		if !event.SoldOut() {
			return repository.ErrNotSoldOut
		}
		if err := s.UpdateTicketStatus(ctx, t.ID, model.TicketPendingReturn); err != nil {
			return err
		}
		t.Status = model.TicketPendingReturn
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	assigned := false
	if asg, aerr := r.engine.AssignNext(ctx, ticket.EventID, ticket.TicketTypeID); aerr != nil {
		r.logger.WithError(aerr).WithField("ticket_id", ticket.ID).
			Error("offer cascade after self-service return failed")
	} else {
		assigned = asg.Assigned
	}

	r.logger.WithFields(logrus.Fields{
		"ticket_id":         ticket.ID,
		"event_id":          ticket.EventID,
		"waitlist_assigned": assigned,
	}).Info("ticket returned for transfer")
	return &SelfReturnResult{Ticket: ticket, WaitlistAssigned: assigned}, nil
}

// OrganizerRefundResult is the outcome of an organizer-initiated refund.
type OrganizerRefundResult struct {
	TicketID         string `json:"ticket_id"`
	EventID          string `json:"event_id"`
	TicketsAvailable int    `json:"tickets_available"`
	WaitlistAssigned bool   `json:"waitlist_assigned"`
}

// OrganizerRefund refunds an active ticket immediately: the ticket and its
// original transaction become refunded and the sold counters drop by one.
// The waitlist is only cascaded when the event was sold out immediately
// before this refund; otherwise the freed unit is open capacity that
// ordinary purchase already covers.
func (r *RefundService) OrganizerRefund(ctx context.Context, ticketID, callerID string) (*OrganizerRefundResult, error) {
	var (
		ticket     *model.Ticket
		wasSoldOut bool
		available  int
	)
	err := r.store.WithinTx(ctx, func(ctx context.Context, s repository.Store) error {
		t, err := s.TicketForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		event, err := s.EventForUpdate(ctx, t.EventID)
		if err != nil {
			return err
		}
		if event.OrganizerID != callerID {
			return repository.ErrForbidden
		}
		if t.Status != model.TicketActive {
			return repository.ErrInvalidState
		}
		wasSoldOut = event.SoldOut()

		if err := s.UpdateTicketStatus(ctx, t.ID, model.TicketRefunded); err != nil {
			return err
		}
		if err := s.AdjustTicketTypeSold(ctx, t.TicketTypeID, -1); err != nil {
			return err
		}
		if err := s.RecomputeEventCounters(ctx, t.EventID); err != nil {
			return err
		}
		if err := s.UpdateTransactionStatus(ctx, t.TransactionID, model.TransactionRefunded); err != nil {
			return err
		}

		updated, err := s.Event(ctx, t.EventID)
		if err != nil {
			return err
		}
		available = updated.Remaining()
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	assigned := false
	if wasSoldOut {
		if asg, aerr := r.engine.AssignNext(ctx, ticket.EventID, ticket.TicketTypeID); aerr != nil {
			r.logger.WithError(aerr).WithField("ticket_id", ticket.ID).
				Error("offer cascade after organizer refund failed")
		} else {
			assigned = asg.Assigned
		}
	}

	r.logger.WithFields(logrus.Fields{
		"ticket_id":         ticket.ID,
		"event_id":          ticket.EventID,
		"was_sold_out":      wasSoldOut,
		"waitlist_assigned": assigned,
	}).Info("ticket refunded by organizer")
	return &OrganizerRefundResult{
		TicketID:         ticket.ID,
		EventID:          ticket.EventID,
		TicketsAvailable: available,
		WaitlistAssigned: assigned,
	}, nil
}
