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

// WaitlistService implements the queue operations: join, leave, and
// position. There is a single undifferentiated queue per event; ranking
// is never scoped to a ticket type even though offers are.
type WaitlistService struct {
	store  repository.Store
	logger *logrus.Logger
	engine *OfferEngine
	now    func() time.Time
}

// NewWaitlistService constructs a WaitlistService.
func NewWaitlistService(store repository.Store, logger *logrus.Logger, engine *OfferEngine) *WaitlistService {
	return &WaitlistService{store: store, logger: logger, engine: engine, now: time.Now}
}

// JoinResult is the outcome of a join. Either Entry/Position are set, or
// OfferedImmediately is true and TransactionID carries the pending offer.
type JoinResult struct {
	Entry              *model.WaitlistEntry `json:"entry,omitempty"`
	Position           int                  `json:"position,omitempty"`
	OfferedImmediately bool                 `json:"offered_immediately"`
	TransactionID      string               `json:"transaction_id,omitempty"`
}

// Join adds the user to the event's waitlist. Joining is only valid while
// the event is sold out and not yet over, and at most one live entry may
// exist per (user, event). When an unreserved pending_return ticket
// already exists for the event, the joiner is given an immediate offer
// on their fresh entry instead of waiting their turn.
func (w *WaitlistService) Join(ctx context.Context, userID, eventID string) (*JoinResult, error) {
	now := w.now().UTC()
	var entry *model.WaitlistEntry

	err := w.store.WithinTx(ctx, func(ctx context.Context, s repository.Store) error {
		event, err := s.EventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if event.Ended(now) {
			return repository.ErrEventEnded
		}
		if !event.SoldOut() {
			return repository.ErrNotSoldOut
		}
		if _, err := s.WaitlistEntryByUser(ctx, eventID, userID); err == nil {
			return repository.ErrDuplicateEntry
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		entry = &model.WaitlistEntry{
			ID:       uuid.New().String(),
			UserID:   userID,
			EventID:  eventID,
			JoinedAt: now,
		}
		return s.CreateWaitlistEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	// Fast path: an unmatched pending_return ticket means inventory is
	// already available, so the joiner is offered it right away. The
	// engine claims the return under lock; when a concurrent joiner beat
	// us to it the joiner simply keeps their queue position.
	asg, aerr := w.engine.AssignEntry(ctx, entry.ID)
	if aerr != nil {
		w.logger.WithError(aerr).WithField("event_id", eventID).
			Warn("immediate offer on join failed, user keeps queue position")
	} else if asg.Assigned {
		return &JoinResult{OfferedImmediately: true, TransactionID: asg.TransactionID}, nil
	}

	pos, err := w.store.WaitlistPosition(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	return &JoinResult{Entry: entry, Position: pos}, nil
}

// Leave removes an entry by id and returns the deleted entry. An entry
// holding a live offer cannot be abandoned: deleting it would orphan the
// reserved ticket outside the sweeper's reach, so the holder must decline
// the offer instead.
func (w *WaitlistService) Leave(ctx context.Context, entryID string) (*model.WaitlistEntry, error) {
	var deleted *model.WaitlistEntry
	err := w.store.WithinTx(ctx, func(ctx context.Context, s repository.Store) error {
		e, err := s.WaitlistEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if e.Claimed() {
			return repository.ErrInvalidState
		}
		if err := s.DeleteWaitlistEntry(ctx, e.ID); err != nil {
			return err
		}
		deleted = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// LeaveByUser removes the (event, user) entry and returns it. Claimed
// entries are rejected the same way Leave rejects them.
func (w *WaitlistService) LeaveByUser(ctx context.Context, eventID, userID string) (*model.WaitlistEntry, error) {
	var deleted *model.WaitlistEntry
	err := w.store.WithinTx(ctx, func(ctx context.Context, s repository.Store) error {
		e, err := s.WaitlistEntryByUser(ctx, eventID, userID)
		if err != nil {
			return err
		}
		if e.Claimed() {
			return repository.ErrInvalidState
		}
		if err := s.DeleteWaitlistEntry(ctx, e.ID); err != nil {
			return err
		}
		deleted = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// Position returns the user's 1-based rank by join time across the whole
// event, or ErrNotFound when the user is not on the list.
func (w *WaitlistService) Position(ctx context.Context, eventID, userID string) (int, error) {
	return w.store.WaitlistPosition(ctx, eventID, userID)
}
