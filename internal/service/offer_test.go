package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mpokorn/EventGo-backend/internal/model"
)

func TestAssignNextEmptyQueue(t *testing.T) {
	e := newEnv(t)
	e.seedSoldOutEvent(t, 2, 50)

	asg, err := e.engine.AssignNext(context.Background(), eventID, typeID)
	require.NoError(t, err)
	require.False(t, asg.Assigned)

	// No provisional state was materialised.
	for _, trx := range e.store.AllTransactions() {
		require.NotEqual(t, model.PaymentWaitlist, trx.PaymentMethod)
	}
}

func TestAssignNextClaimsFrontOfQueue(t *testing.T) {
	e := newEnv(t)
	e.seedSoldOutEvent(t, 2, 50)
	ctx := context.Background()

	e.joinAt(t, "first", time.Minute)
	e.joinAt(t, "second", 2*time.Minute)

	asg, err := e.engine.AssignNext(ctx, eventID, typeID)
	require.NoError(t, err)
	require.True(t, asg.Assigned)
	require.Equal(t, "first", asg.UserID)

	// The offer transaction is pending, waitlist-method, at list price.
	trx, err := e.store.Transaction(ctx, asg.TransactionID)
	require.NoError(t, err)
	require.Equal(t, model.TransactionPending, trx.Status)
	require.Equal(t, model.PaymentWaitlist, trx.PaymentMethod)
	require.Equal(t, 50.0, trx.Amount)

	// The provisional ticket is reserved for the claimed user.
	tk, err := e.store.Ticket(ctx, asg.TicketID)
	require.NoError(t, err)
	require.Equal(t, model.TicketReserved, tk.Status)
	require.Equal(t, "first", tk.UserID)

	// The entry is stamped with a 30-minute window.
	entry, err := e.store.WaitlistEntryByUser(ctx, eventID, "first")
	require.NoError(t, err)
	require.True(t, entry.Claimed())
	require.Equal(t, baseTime.Add(model.ReservationWindow), entry.ExpiresAt.UTC())

	// Promotion never touches sold counters.
	e.requireAggregateInvariant(t)
	tt, err := e.store.TicketType(ctx, typeID)
	require.NoError(t, err)
	require.Equal(t, 2, tt.Sold)

	// A second call claims the next entry, not the same one.
	asg2, err := e.engine.AssignNext(ctx, eventID, typeID)
	require.NoError(t, err)
	require.True(t, asg2.Assigned)
	require.Equal(t, "second", asg2.UserID)
}

func TestAssignNextPriceLookupFailureOffersAtZero(t *testing.T) {
	e := newEnv(t)
	e.seedSoldOutEvent(t, 1, 50)
	ctx := context.Background()

	e.joinAt(t, "first", time.Minute)

	asg, err := e.engine.AssignNext(ctx, eventID, "33333333-3333-4333-8333-333333333333")
	require.NoError(t, err)
	require.True(t, asg.Assigned)

	trx, err := e.store.Transaction(ctx, asg.TransactionID)
	require.NoError(t, err)
	require.Equal(t, 0.0, trx.Amount)
}

// Concurrent promotions against a queue shallower than the number of
// callers must claim exactly the queue's entries, each at most once.
func TestConcurrentAssignNextNoDuplicateClaims(t *testing.T) {
	e := newEnv(t)
	e.seedSoldOutEvent(t, 1, 50)
	ctx := context.Background()

	const depth = 5
	const callers = 20
	for i := 0; i < depth; i++ {
		e.joinAt(t, waiterID(i), time.Duration(i+1)*time.Minute)
	}

	var wg sync.WaitGroup
	results := make([]*Assignment, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			asg, err := e.engine.AssignNext(ctx, eventID, typeID)
			require.NoError(t, err)
			results[i] = asg
		}(i)
	}
	wg.Wait()

	claimed := map[string]bool{}
	for _, asg := range results {
		if !asg.Assigned {
			continue
		}
		require.False(t, claimed[asg.UserID], "user %s claimed twice", asg.UserID)
		claimed[asg.UserID] = true
	}
	require.Len(t, claimed, depth, "exactly the queue's entries are claimed")
	for i := 0; i < depth; i++ {
		require.True(t, claimed[waiterID(i)])
	}
}

func waiterID(i int) string {
	return holderID(i) + "-waiter"
}
