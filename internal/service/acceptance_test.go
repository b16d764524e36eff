package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mpokorn/EventGo-backend/internal/model"
	"github.com/mpokorn/EventGo-backend/internal/repository"
)

// Full round trip: join → return → offer → accept. The displaced owner
// gets 98% back, the accepting user's ticket goes active, the entry
// disappears, and counters never move.
func TestAcceptCompletesTransferWithRefundBreakdown(t *testing.T) {
	e := newEnv(t)
	tickets := e.seedSoldOutEvent(t, 1, 50)
	ctx := context.Background()

	e.joinAt(t, "alice", time.Minute)
	ret, err := e.refunds.SelfReturn(ctx, tickets[0], holderID(0))
	require.NoError(t, err)
	require.True(t, ret.WaitlistAssigned)

	offer := e.pendingOfferFor(t, "alice")
	require.NotNil(t, offer)

	res, err := e.accept.Accept(ctx, offer.ID)
	require.NoError(t, err)
	require.Equal(t, model.TicketActive, res.Ticket.Status)
	require.Equal(t, "alice", res.Ticket.UserID)
	require.Equal(t, tickets[0], res.RefundedTicketID)
	require.Equal(t, 49.0, res.RefundAmount)
	require.Equal(t, 1.0, res.PlatformFee)

	// Offer transaction completed; displaced ticket refunded.
	trx, err := e.store.Transaction(ctx, offer.ID)
	require.NoError(t, err)
	require.Equal(t, model.TransactionCompleted, trx.Status)
	old, err := e.store.Ticket(ctx, tickets[0])
	require.NoError(t, err)
	require.Equal(t, model.TicketRefunded, old.Status)

	// The compensating transaction records the negative refund for the
	// displaced owner.
	var comp *model.Transaction
	for _, tr := range e.store.AllTransactions() {
		if tr.PaymentMethod == model.PaymentWaitlistReturn {
			cp := tr
			comp = &cp
		}
	}
	require.NotNil(t, comp)
	require.Equal(t, holderID(0), comp.UserID)
	require.Equal(t, -49.0, comp.Amount)
	require.Equal(t, model.TransactionRefunded, comp.Status)

	// One unit released, one claimed: counters unchanged.
	e.requireAggregateInvariant(t)
	tt, err := e.store.TicketType(ctx, typeID)
	require.NoError(t, err)
	require.Equal(t, 1, tt.Sold)

	// The entry is gone; position lookups now miss.
	_, err = e.waitlist.Position(ctx, eventID, "alice")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAcceptWithoutPendingReturnHasZeroRefund(t *testing.T) {
	e := newEnv(t)
	tickets := e.seedSoldOutEvent(t, 2, 50)
	ctx := context.Background()

	e.joinAt(t, "alice", time.Minute)
	// Organizer refund frees the slot outright; no pending_return exists.
	_, err := e.refunds.OrganizerRefund(ctx, tickets[0], organizerID)
	require.NoError(t, err)

	offer := e.pendingOfferFor(t, "alice")
	require.NotNil(t, offer)

	res, err := e.accept.Accept(ctx, offer.ID)
	require.NoError(t, err)
	require.Empty(t, res.RefundedTicketID)
	require.Equal(t, 0.0, res.RefundAmount)
	require.Equal(t, 0.0, res.PlatformFee)
}

// Acceptance one second before the window closes succeeds; one second
// after, it fails with the distinct expired signal and the slot cascades
// to the next entry.
func TestAcceptReservationWindowBoundary(t *testing.T) {
	t.Run("just inside the window", func(t *testing.T) {
		e := newEnv(t)
		tickets := e.seedSoldOutEvent(t, 1, 50)
		ctx := context.Background()

		e.joinAt(t, "alice", time.Minute)
		_, err := e.refunds.SelfReturn(ctx, tickets[0], holderID(0))
		require.NoError(t, err)
		offer := e.pendingOfferFor(t, "alice")

		e.setNow(baseTime.Add(model.ReservationWindow - time.Second))
		res, err := e.accept.Accept(ctx, offer.ID)
		require.NoError(t, err)
		require.Equal(t, model.TicketActive, res.Ticket.Status)
	})

	t.Run("just past the window", func(t *testing.T) {
		e := newEnv(t)
		tickets := e.seedSoldOutEvent(t, 1, 50)
		ctx := context.Background()

		e.joinAt(t, "alice", time.Minute)
		e.joinAt(t, "bob", 2*time.Minute)
		_, err := e.refunds.SelfReturn(ctx, tickets[0], holderID(0))
		require.NoError(t, err)
		offer := e.pendingOfferFor(t, "alice")
		require.Equal(t, "alice", offer.UserID)

		e.setNow(baseTime.Add(model.ReservationWindow + time.Second))
		_, err = e.accept.Accept(ctx, offer.ID)
		require.ErrorIs(t, err, repository.ErrReservationExpired)

		// The late accept performed the sweeper-equivalent rollback.
		trx, err := e.store.Transaction(ctx, offer.ID)
		require.NoError(t, err)
		require.Equal(t, model.TransactionExpired, trx.Status)
		_, err = e.waitlist.Position(ctx, eventID, "alice")
		require.ErrorIs(t, err, repository.ErrNotFound)

		// And cascaded the offer to bob.
		require.NotNil(t, e.pendingOfferFor(t, "bob"))
	})
}

func TestAcceptInvalidTargets(t *testing.T) {
	e := newEnv(t)
	tickets := e.seedSoldOutEvent(t, 1, 50)
	ctx := context.Background()

	_, err := e.accept.Accept(ctx, "55555555-5555-4555-8555-555555555555")
	require.ErrorIs(t, err, repository.ErrNotFound)

	// A purchase transaction is not a waitlist offer.
	tk, err := e.store.Ticket(ctx, tickets[0])
	require.NoError(t, err)
	_, err = e.accept.Accept(ctx, tk.TransactionID)
	require.ErrorIs(t, err, repository.ErrInvalidState)
}

// Decline skips the decliner entirely: their entry is deleted, not left
// claimed, and the slot re-offers to the second in line.
func TestDeclineCascadesToNextInLine(t *testing.T) {
	e := newEnv(t)
	tickets := e.seedSoldOutEvent(t, 1, 50)
	ctx := context.Background()

	e.joinAt(t, "alice", time.Minute)
	e.joinAt(t, "bob", 2*time.Minute)
	_, err := e.refunds.SelfReturn(ctx, tickets[0], holderID(0))
	require.NoError(t, err)

	offer := e.pendingOfferFor(t, "alice")
	require.NotNil(t, offer)

	res, err := e.accept.Decline(ctx, offer.ID)
	require.NoError(t, err)
	require.True(t, res.AssignedToNext)

	// Decliner's transaction cancelled, reserved ticket gone, entry gone.
	trx, err := e.store.Transaction(ctx, offer.ID)
	require.NoError(t, err)
	require.Equal(t, model.TransactionCancelled, trx.Status)
	_, err = e.waitlist.Position(ctx, eventID, "alice")
	require.ErrorIs(t, err, repository.ErrNotFound)
	for _, tk := range e.store.AllTickets() {
		if tk.UserID == "alice" {
			t.Fatalf("decliner's reserved ticket should be deleted")
		}
	}

	// Bob now holds the pending offer.
	require.NotNil(t, e.pendingOfferFor(t, "bob"))
}

func TestDeclineThenRejoinGoesToBack(t *testing.T) {
	e := newEnv(t)
	tickets := e.seedSoldOutEvent(t, 1, 50)
	ctx := context.Background()

	e.joinAt(t, "alice", time.Minute)
	e.joinAt(t, "bob", 2*time.Minute)
	_, err := e.refunds.SelfReturn(ctx, tickets[0], holderID(0))
	require.NoError(t, err)

	offer := e.pendingOfferFor(t, "alice")
	_, err = e.accept.Decline(ctx, offer.ID)
	require.NoError(t, err)

	// No automatic re-join; alice rejoins manually behind bob.
	e.setNow(baseTime.Add(10 * time.Minute))
	res, err := e.waitlist.Join(ctx, "alice", eventID)
	require.NoError(t, err)
	require.Equal(t, 2, res.Position)
}
