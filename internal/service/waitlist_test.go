package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mpokorn/EventGo-backend/internal/model"
	"github.com/mpokorn/EventGo-backend/internal/repository"
)

func TestJoinRequiresSoldOutEvent(t *testing.T) {
	e := newEnv(t)
	e.store.SeedEvent(model.Event{
		ID:          eventID,
		OrganizerID: organizerID,
		StartsAt:    baseTime.Add(72 * time.Hour),
		Total:       10,
		Sold:        3,
	})

	_, err := e.waitlist.Join(context.Background(), "alice", eventID)
	require.ErrorIs(t, err, repository.ErrNotSoldOut)
}

func TestJoinRejectsEndedEvent(t *testing.T) {
	e := newEnv(t)
	ended := baseTime.Add(-2 * time.Hour)
	e.store.SeedEvent(model.Event{
		ID:          eventID,
		OrganizerID: organizerID,
		StartsAt:    baseTime.Add(-4 * time.Hour),
		EndsAt:      &ended,
		Total:       1,
		Sold:        1,
	})

	_, err := e.waitlist.Join(context.Background(), "alice", eventID)
	require.ErrorIs(t, err, repository.ErrEventEnded)
}

// An event with no recorded end time is over once it starts.
func TestJoinRejectsStartedEventWithoutEnd(t *testing.T) {
	e := newEnv(t)
	e.store.SeedEvent(model.Event{
		ID:          eventID,
		OrganizerID: organizerID,
		StartsAt:    baseTime.Add(-time.Hour),
		Total:       1,
		Sold:        1,
	})

	_, err := e.waitlist.Join(context.Background(), "alice", eventID)
	require.ErrorIs(t, err, repository.ErrEventEnded)
}

func TestJoinRejectsDuplicate(t *testing.T) {
	e := newEnv(t)
	e.seedSoldOutEvent(t, 1, 50)

	_, err := e.waitlist.Join(context.Background(), "alice", eventID)
	require.NoError(t, err)
	_, err = e.waitlist.Join(context.Background(), "alice", eventID)
	require.ErrorIs(t, err, repository.ErrDuplicateEntry)
}

func TestJoinUnknownEvent(t *testing.T) {
	e := newEnv(t)
	_, err := e.waitlist.Join(context.Background(), "alice", eventID)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPositionIsEventWideFIFO(t *testing.T) {
	e := newEnv(t)
	e.seedSoldOutEvent(t, 1, 50)
	ctx := context.Background()

	first := e.joinAt(t, "alice", time.Minute)
	second := e.joinAt(t, "bob", 2*time.Minute)
	third := e.joinAt(t, "carol", 3*time.Minute)

	require.Equal(t, 1, first.Position)
	require.Equal(t, 2, second.Position)
	require.Equal(t, 3, third.Position)

	pos, err := e.waitlist.Position(ctx, eventID, "bob")
	require.NoError(t, err)
	require.Equal(t, 2, pos)

	_, err = e.waitlist.Position(ctx, eventID, "nobody")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestLeaveByEntryIDAndByUser(t *testing.T) {
	e := newEnv(t)
	e.seedSoldOutEvent(t, 1, 50)
	ctx := context.Background()

	res := e.joinAt(t, "alice", time.Minute)
	e.joinAt(t, "bob", 2*time.Minute)

	deleted, err := e.waitlist.Leave(ctx, res.Entry.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", deleted.UserID)
	_, err = e.waitlist.Position(ctx, eventID, "alice")
	require.ErrorIs(t, err, repository.ErrNotFound)

	deleted, err = e.waitlist.LeaveByUser(ctx, eventID, "bob")
	require.NoError(t, err)
	require.Equal(t, "bob", deleted.UserID)

	_, err = e.waitlist.Leave(ctx, res.Entry.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

// Bob's leaving promotes everyone behind him by one rank.
func TestLeaveShiftsRanks(t *testing.T) {
	e := newEnv(t)
	e.seedSoldOutEvent(t, 1, 50)
	ctx := context.Background()

	e.joinAt(t, "alice", time.Minute)
	e.joinAt(t, "bob", 2*time.Minute)
	e.joinAt(t, "carol", 3*time.Minute)

	_, err := e.waitlist.LeaveByUser(ctx, eventID, "bob")
	require.NoError(t, err)

	pos, err := e.waitlist.Position(ctx, eventID, "carol")
	require.NoError(t, err)
	require.Equal(t, 2, pos)
}

// A pending_return ticket with an empty queue means inventory is already
// available: the joiner gets an immediate offer instead of a rank.
func TestJoinImmediateOfferWhenReturnedTicketAvailable(t *testing.T) {
	e := newEnv(t)
	tickets := e.seedSoldOutEvent(t, 1, 50)
	ctx := context.Background()

	// Owner returns with nobody waiting; the slot sits as pending_return.
	ret, err := e.refunds.SelfReturn(ctx, tickets[0], holderID(0))
	require.NoError(t, err)
	require.False(t, ret.WaitlistAssigned)

	res, err := e.waitlist.Join(ctx, "alice", eventID)
	require.NoError(t, err)
	require.True(t, res.OfferedImmediately)
	require.NotEmpty(t, res.TransactionID)

	trx, err := e.store.Transaction(ctx, res.TransactionID)
	require.NoError(t, err)
	require.Equal(t, "alice", trx.UserID)
	require.Equal(t, model.TransactionPending, trx.Status)
	require.Equal(t, model.PaymentWaitlist, trx.PaymentMethod)

	// The joiner's entry exists and is claimed, not re-offerable.
	entry, err := e.store.WaitlistEntryByUser(ctx, eventID, "alice")
	require.NoError(t, err)
	require.True(t, entry.Claimed())
}

// Concurrent joiners racing for a single returned ticket: exactly one may
// be promoted, the rest queue. Two reserved tickets against one return
// would oversell the slot.
func TestConcurrentJoinFastPathSingleOffer(t *testing.T) {
	e := newEnv(t)
	tickets := e.seedSoldOutEvent(t, 1, 50)
	ctx := context.Background()

	_, err := e.refunds.SelfReturn(ctx, tickets[0], holderID(0))
	require.NoError(t, err)

	const joiners = 8
	var wg sync.WaitGroup
	results := make([]*JoinResult, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.waitlist.Join(ctx, waiterID(i), eventID)
			require.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	offered := 0
	for _, res := range results {
		if res.OfferedImmediately {
			offered++
		}
	}
	require.Equal(t, 1, offered, "exactly one joiner gets the returned unit")

	var reserved int
	for _, tk := range e.store.AllTickets() {
		if tk.Status == model.TicketReserved {
			reserved++
		}
	}
	require.Equal(t, 1, reserved, "one reserved ticket against one pending_return")
}

// An entry holding a live offer cannot be abandoned via leave; deleting
// it would orphan the reserved ticket beyond the sweeper's reach. The
// holder declines instead.
func TestLeaveRejectedWhileOfferOutstanding(t *testing.T) {
	e := newEnv(t)
	tickets := e.seedSoldOutEvent(t, 1, 50)
	ctx := context.Background()

	res := e.joinAt(t, "alice", time.Minute)
	_, err := e.refunds.SelfReturn(ctx, tickets[0], holderID(0))
	require.NoError(t, err)
	offer := e.pendingOfferFor(t, "alice")
	require.NotNil(t, offer)

	_, err = e.waitlist.Leave(ctx, res.Entry.ID)
	require.ErrorIs(t, err, repository.ErrInvalidState)
	_, err = e.waitlist.LeaveByUser(ctx, eventID, "alice")
	require.ErrorIs(t, err, repository.ErrInvalidState)

	// The offer is intact and still declinable.
	entry, err := e.store.WaitlistEntryByUser(ctx, eventID, "alice")
	require.NoError(t, err)
	require.True(t, entry.Claimed())
	_, err = e.accept.Decline(ctx, offer.ID)
	require.NoError(t, err)

	// Decline removed the entry and the reserved ticket; nothing is left
	// for the sweeper to orphan.
	_, err = e.waitlist.Position(ctx, eventID, "alice")
	require.ErrorIs(t, err, repository.ErrNotFound)
	for _, tk := range e.store.AllTickets() {
		require.NotEqual(t, model.TicketReserved, tk.Status)
	}
}
