package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mpokorn/EventGo-backend/internal/model"
	"github.com/mpokorn/EventGo-backend/internal/repository"
)

// Sweeper reclaims reservations whose 30-minute window lapsed without a
// decision. The window is enforced lazily: nothing fires per reservation;
// this sweep and the accept handler's own re-check are the only
// enforcement points. Run is synchronous and safe to invoke on demand;
// the worker package schedules it periodically.
type Sweeper struct {
	store    repository.Store
	logger   *logrus.Logger
	engine   *OfferEngine
	notifier Notifier
	now      func() time.Time
}

// NewSweeper constructs a Sweeper.
func NewSweeper(store repository.Store, logger *logrus.Logger, engine *OfferEngine, notifier Notifier) *Sweeper {
	return &Sweeper{store: store, logger: logger, engine: engine, notifier: notifier, now: time.Now}
}

// SweepResult reports how many lapsed reservations a pass reclaimed.
type SweepResult struct {
	CleanedCount int `json:"cleaned_count"`
}

// Run performs one sweep pass. Candidates are listed without locks, then
// each is re-checked and claimed in its own transaction with a skip-locked
// read, so concurrent passes and racing accept/decline requests never
// process the same row twice and one bad row never poisons the batch.
func (s *Sweeper) Run(ctx context.Context) (*SweepResult, error) {
	now := s.now().UTC()
	ids, err := s.store.ExpiredReservationTicketIDs(ctx, now)
	if err != nil {
		return nil, err
	}

	cleaned := 0
	for _, id := range ids {
		ok, err := s.expireOne(ctx, id, now)
		if err != nil {
			s.logger.WithError(err).WithField("ticket_id", id).
				Error("sweep: failed to reclaim expired reservation")
			continue
		}
		if ok {
			cleaned++
		}
	}
	if cleaned > 0 {
		s.logger.WithField("cleaned", cleaned).Info("expiration sweep reclaimed reservations")
	}
	return &SweepResult{CleanedCount: cleaned}, nil
}

// expireOne rolls back a single lapsed reservation in its own atomic
// unit, then cascades the freed slot to the next candidate. Returns false
// when the row was already taken by a concurrent claimant or no longer
// eligible.
func (s *Sweeper) expireOne(ctx context.Context, ticketID string, now time.Time) (bool, error) {
	var holder, eventID, typeID string
	claimed := false

	err := s.store.WithinTx(ctx, func(ctx context.Context, st repository.Store) error {
		t, err := st.ExpiredReservedTicketForUpdate(ctx, ticketID, now)
		if err != nil {
			return err
		}
		if t == nil {
			return nil
		}
		entry, err := st.WaitlistEntryByUser(ctx, t.EventID, t.UserID)
		if err != nil {
			return err
		}
		if err := st.UpdateTransactionStatus(ctx, t.TransactionID, model.TransactionExpired); err != nil {
			return err
		}
		if err := st.DeleteTicket(ctx, t.ID); err != nil {
			return err
		}
		if err := st.DeleteWaitlistEntry(ctx, entry.ID); err != nil {
			return err
		}
		holder, eventID, typeID = t.UserID, t.EventID, t.TicketTypeID
		claimed = true
		return nil
	})
	if err != nil || !claimed {
		return false, err
	}

	s.notifier.OfferExpired(ctx, holder, eventID)
	// Cascade is a separate atomic follow-up; its failure leaves the
	// reclaim committed and is retried by later passes via new returns.
	if _, cerr := s.engine.AssignNext(ctx, eventID, typeID); cerr != nil {
		s.logger.WithError(cerr).WithField("event_id", eventID).
			Error("sweep: offer cascade failed")
	}
	return true, nil
}
