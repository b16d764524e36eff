package service

import (
	"context"
	"time"
)

// Notifier pushes offer-lifecycle events to the user-facing realtime
// layer. Delivery is best-effort; implementations log failures and never
// block the state change that triggered them.
type Notifier interface {
	// OfferCreated fires when a waitlisted user is promoted to a
	// time-bounded reservation.
	OfferCreated(ctx context.Context, userID, eventID, transactionID string, expiresAt time.Time)
	// OfferExpired fires when a reservation lapses, by sweep or by a late
	// accept attempt.
	OfferExpired(ctx context.Context, userID, eventID string)
	// TransferCompleted fires to the displaced prior owner once their
	// returned ticket has been taken over and their refund recorded.
	TransferCompleted(ctx context.Context, userID, ticketID string, refundAmount float64)
}

// NoopNotifier discards all notifications. Used in tests and when no
// realtime backend is configured.
type NoopNotifier struct{}

func (NoopNotifier) OfferCreated(context.Context, string, string, string, time.Time) {}
func (NoopNotifier) OfferExpired(context.Context, string, string)                    {}
func (NoopNotifier) TransferCompleted(context.Context, string, string, float64)      {}
