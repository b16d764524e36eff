package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mpokorn/EventGo-backend/internal/model"
	"github.com/mpokorn/EventGo-backend/internal/repository"
)

// AcceptanceService finalises or cancels an outstanding waitlist offer.
// Both paths claim the reserved ticket row with a skip-locked read, so a
// request racing the expiration sweep never double-processes the row:
// whichever claimant wins, the loser sees the row as unavailable.
type AcceptanceService struct {
	store    repository.Store
	logger   *logrus.Logger
	engine   *OfferEngine
	notifier Notifier
	now      func() time.Time
}

// NewAcceptanceService constructs an AcceptanceService.
func NewAcceptanceService(store repository.Store, logger *logrus.Logger, engine *OfferEngine, notifier Notifier) *AcceptanceService {
	return &AcceptanceService{store: store, logger: logger, engine: engine, notifier: notifier, now: time.Now}
}

// AcceptResult reports the completed transfer and, when a prior owner was
// displaced, their refund breakdown. RefundAmount and PlatformFee are
// zero when no pending_return ticket existed for the slot.
type AcceptResult struct {
	Ticket           *model.Ticket `json:"ticket"`
	RefundedTicketID string        `json:"refunded_ticket_id,omitempty"`
	RefundAmount     float64       `json:"refund_amount"`
	PlatformFee      float64       `json:"platform_fee"`
}

// Accept finalises a pending waitlist offer. The reservation window is
// re-checked at the moment of acceptance: an attempt arriving after
// expiry performs the same rollback the sweeper would, cascades the offer
// to the next candidate, and fails with ErrReservationExpired.
func (a *AcceptanceService) Accept(ctx context.Context, transactionID string) (*AcceptResult, error) {
	now := a.now().UTC()
	var (
		res       AcceptResult
		expired   bool
		holder    string
		eventID   string
		typeID    string
		displaced *model.Ticket
	)

	err := a.store.WithinTx(ctx, func(ctx context.Context, s repository.Store) error {
		trx, err := s.Transaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if trx.Status != model.TransactionPending || trx.PaymentMethod != model.PaymentWaitlist {
			return repository.ErrInvalidState
		}
		ticket, err := s.ReservedTicketByTransaction(ctx, trx.ID)
		if err != nil {
			return err
		}
		if ticket == nil {
			// Gone, or currently claimed by a concurrent sweep pass.
			return repository.ErrNotFound
		}
		eventID, typeID, holder = ticket.EventID, ticket.TicketTypeID, ticket.UserID

		entry, err := s.WaitlistEntryByUser(ctx, ticket.EventID, ticket.UserID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if entry != nil && entry.Claimed() && entry.OfferExpired(now) {
			// Sweeper-equivalent rollback, committed by this same unit.
			if err := s.UpdateTransactionStatus(ctx, trx.ID, model.TransactionExpired); err != nil {
				return err
			}
			if err := s.DeleteTicket(ctx, ticket.ID); err != nil {
				return err
			}
			if err := s.DeleteWaitlistEntry(ctx, entry.ID); err != nil {
				return err
			}
			expired = true
			return nil
		}

		pr, err := s.OldestPendingReturnForUpdate(ctx, ticket.EventID, ticket.TicketTypeID)
		if err != nil {
			return err
		}

		if err := s.UpdateTransactionStatus(ctx, trx.ID, model.TransactionCompleted); err != nil {
			return err
		}
		if err := s.UpdateTicketStatus(ctx, ticket.ID, model.TicketActive); err != nil {
			return err
		}

		if pr != nil {
			// One unit released, one claimed; counters stay put. The
			// displaced owner gets 98% back, the platform keeps 2%.
			price := 0.0
			if orig, err := s.Transaction(ctx, pr.TransactionID); err == nil {
				price = orig.Amount
			} else {
				a.logger.WithError(err).WithField("ticket_id", pr.ID).
					Warn("original transaction lookup failed, refunding zero")
			}
			refund, fee := model.RefundBreakdown(price)

			if err := s.UpdateTicketStatus(ctx, pr.ID, model.TicketRefunded); err != nil {
				return err
			}
			comp := &model.Transaction{
				ID:            uuid.New().String(),
				UserID:        pr.UserID,
				EventID:       pr.EventID,
				TicketTypeID:  pr.TicketTypeID,
				Amount:        -refund,
				PaymentMethod: model.PaymentWaitlistReturn,
				Status:        model.TransactionRefunded,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := s.CreateTransaction(ctx, comp); err != nil {
				return err
			}
			res.RefundedTicketID = pr.ID
			res.RefundAmount = refund
			res.PlatformFee = fee
			displaced = pr
		}

		if entry != nil {
			if err := s.DeleteWaitlistEntry(ctx, entry.ID); err != nil {
				return err
			}
		}
		ticket.Status = model.TicketActive
		res.Ticket = ticket
		return nil
	})
	if err != nil {
		return nil, err
	}

	if expired {
		a.notifier.OfferExpired(ctx, holder, eventID)
		if _, cerr := a.engine.AssignNext(ctx, eventID, typeID); cerr != nil {
			a.logger.WithError(cerr).WithField("event_id", eventID).
				Error("offer cascade after expired accept failed")
		}
		return nil, repository.ErrReservationExpired
	}

	if displaced != nil {
		a.notifier.TransferCompleted(ctx, displaced.UserID, displaced.ID, res.RefundAmount)
	}
	a.logger.WithFields(logrus.Fields{
		"transaction_id": transactionID,
		"ticket_id":      res.Ticket.ID,
		"refund_amount":  res.RefundAmount,
		"platform_fee":   res.PlatformFee,
	}).Info("waitlist offer accepted")
	return &res, nil
}

// DeclineResult reports whether the declined slot was re-offered.
type DeclineResult struct {
	AssignedToNext bool `json:"assigned_to_next"`
}

// Decline cancels a pending offer: the transaction is cancelled, the
// reserved ticket and the decliner's entry are deleted, and the slot
// cascades to the next candidate. The decliner may rejoin manually; there
// is no automatic re-join.
func (a *AcceptanceService) Decline(ctx context.Context, transactionID string) (*DeclineResult, error) {
	var eventID, typeID string
	err := a.store.WithinTx(ctx, func(ctx context.Context, s repository.Store) error {
		trx, err := s.Transaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if trx.Status != model.TransactionPending || trx.PaymentMethod != model.PaymentWaitlist {
			return repository.ErrInvalidState
		}
		ticket, err := s.ReservedTicketByTransaction(ctx, trx.ID)
		if err != nil {
			return err
		}
		if ticket == nil {
			return repository.ErrNotFound
		}
		eventID, typeID = ticket.EventID, ticket.TicketTypeID

		if err := s.UpdateTransactionStatus(ctx, trx.ID, model.TransactionCancelled); err != nil {
			return err
		}
		if err := s.DeleteTicket(ctx, ticket.ID); err != nil {
			return err
		}
		entry, err := s.WaitlistEntryByUser(ctx, ticket.EventID, ticket.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}
		return s.DeleteWaitlistEntry(ctx, entry.ID)
	})
	if err != nil {
		return nil, err
	}

	assigned := false
	if asg, cerr := a.engine.AssignNext(ctx, eventID, typeID); cerr != nil {
		a.logger.WithError(cerr).WithField("event_id", eventID).
			Error("offer cascade after decline failed")
	} else {
		assigned = asg.Assigned
	}
	return &DeclineResult{AssignedToNext: assigned}, nil
}
