package service

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/mpokorn/EventGo-backend/internal/model"
	"github.com/mpokorn/EventGo-backend/internal/repository"
)

// baseTime is the fixed "now" every test starts from.
var baseTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	store    *repository.MemoryStore
	engine   *OfferEngine
	waitlist *WaitlistService
	refunds  *RefundService
	accept   *AcceptanceService
	sweeper  *Sweeper
	ledger   *Ledger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := repository.NewMemoryStore()
	notifier := NoopNotifier{}
	engine := NewOfferEngine(store, logger, notifier)
	e := &env{
		store:    store,
		engine:   engine,
		waitlist: NewWaitlistService(store, logger, engine),
		refunds:  NewRefundService(store, logger, engine),
		accept:   NewAcceptanceService(store, logger, engine, notifier),
		sweeper:  NewSweeper(store, logger, engine, notifier),
		ledger:   NewLedger(store, logger),
	}
	e.setNow(baseTime)
	return e
}

// setNow pins every service clock to the given instant.
func (e *env) setNow(now time.Time) {
	fn := func() time.Time { return now }
	e.engine.now = fn
	e.waitlist.now = fn
	e.refunds.now = fn
	e.accept.now = fn
	e.sweeper.now = fn
}

// fixture ids used across tests.
const (
	eventID     = "11111111-1111-4111-8111-111111111111"
	typeID      = "22222222-2222-4222-8222-222222222222"
	organizerID = "organizer-1"
)

// seedSoldOutEvent creates an event with one ticket type of the given
// capacity, fully sold, every unit owned by a distinct user
// ("holder-0", "holder-1", …) with a completed purchase transaction at
// the given price. Returns the seeded ticket ids in holder order.
func (e *env) seedSoldOutEvent(t *testing.T, capacity int, price float64) []string {
	t.Helper()
	starts := baseTime.Add(72 * time.Hour)
	e.store.SeedEvent(model.Event{
		ID:          eventID,
		Name:        "Main Hall Show",
		OrganizerID: organizerID,
		StartsAt:    starts,
		Total:       capacity,
		Sold:        capacity,
		CreatedAt:   baseTime.Add(-24 * time.Hour),
	})
	e.store.SeedTicketType(model.TicketType{
		ID:      typeID,
		EventID: eventID,
		Name:    "General Admission",
		Price:   price,
		Total:   capacity,
		Sold:    capacity,
	})

	ids := make([]string, 0, capacity)
	for i := 0; i < capacity; i++ {
		trxID := uuid.New().String()
		tkID := uuid.New().String()
		holder := holderID(i)
		e.store.SeedTransaction(model.Transaction{
			ID:            trxID,
			UserID:        holder,
			EventID:       eventID,
			TicketTypeID:  typeID,
			Amount:        price,
			PaymentMethod: "card",
			Status:        model.TransactionCompleted,
			CreatedAt:     baseTime.Add(-time.Hour),
			UpdatedAt:     baseTime.Add(-time.Hour),
		})
		e.store.SeedTicket(model.Ticket{
			ID:            tkID,
			UserID:        holder,
			EventID:       eventID,
			TicketTypeID:  typeID,
			TransactionID: trxID,
			Status:        model.TicketActive,
			CreatedAt:     baseTime.Add(-time.Hour),
			UpdatedAt:     baseTime.Add(-time.Hour),
		})
		ids = append(ids, tkID)
	}
	return ids
}

func holderID(i int) string {
	return fmt.Sprintf("holder-%d", i)
}

// joinAt joins userID at a distinct instant so queue order is stable.
func (e *env) joinAt(t *testing.T, userID string, offset time.Duration) *JoinResult {
	t.Helper()
	e.setNow(baseTime.Add(offset))
	res, err := e.waitlist.Join(context.Background(), userID, eventID)
	require.NoError(t, err)
	e.setNow(baseTime)
	return res
}

// requireAggregateInvariant asserts sum(ticket_type.sold) == event.sold
// and likewise for total.
func (e *env) requireAggregateInvariant(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	ev, err := e.store.Event(ctx, eventID)
	require.NoError(t, err)
	tt, err := e.store.TicketType(ctx, typeID)
	require.NoError(t, err)
	require.Equal(t, tt.Sold, ev.Sold, "event sold must equal sum of ticket type sold")
	require.Equal(t, tt.Total, ev.Total, "event total must equal sum of ticket type total")
}

// pendingOfferFor returns the pending waitlist transaction for a user.
func (e *env) pendingOfferFor(t *testing.T, userID string) *model.Transaction {
	t.Helper()
	for _, trx := range e.store.AllTransactions() {
		if trx.UserID == userID && trx.PaymentMethod == model.PaymentWaitlist &&
			trx.Status == model.TransactionPending {
			cp := trx
			return &cp
		}
	}
	return nil
}
