// Package model defines the core domain types for the waitlist and
// ticket-reassignment engine.
package model

import (
	"math"
	"time"
)

// TicketStatus is the lifecycle state of a single admission unit.
type TicketStatus string

const (
	// TicketActive is a fully paid ticket, valid for entry.
	TicketActive TicketStatus = "active"
	// TicketReserved is provisionally held for a promoted waitlist user,
	// not yet confirmed.
	TicketReserved TicketStatus = "reserved"
	// TicketPendingReturn is held by its current owner but already offered
	// onward; the owner retains access until the transfer completes.
	TicketPendingReturn TicketStatus = "pending_return"
	// TicketRefunded is terminal; the ticket is no longer valid.
	TicketRefunded TicketStatus = "refunded"
)

// TransactionStatus is the lifecycle state of a monetary record.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionCancelled TransactionStatus = "cancelled"
	TransactionExpired   TransactionStatus = "expired"
	TransactionRefunded  TransactionStatus = "refunded"
)

// Payment-method labels are opaque to this service. The two below mark
// system-generated records.
const (
	// PaymentWaitlist marks a transaction created by a waitlist promotion.
	PaymentWaitlist = "waitlist"
	// PaymentWaitlistReturn marks the compensating refund issued to a
	// displaced prior owner.
	PaymentWaitlistReturn = "waitlist_return"
)

// ReservationWindow is how long a promoted waitlist user has to accept
// their offer before it lapses.
const ReservationWindow = 30 * time.Minute

// PlatformFeeRate is the fraction of the original price retained when a
// returned ticket is transferred to a waitlist user.
const PlatformFeeRate = 0.02

// Event is a bookable event with aggregate capacity counters. Total and
// Sold are derived sums over the event's ticket types, recomputed inside
// every mutating transaction.
type Event struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	OrganizerID string     `json:"organizer_id"`
	StartsAt    time.Time  `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	Total       int        `json:"total"`
	Sold        int        `json:"sold"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Remaining returns the number of unsold units across all ticket types.
func (e *Event) Remaining() int {
	return e.Total - e.Sold
}

// SoldOut reports whether the event has no remaining capacity.
func (e *Event) SoldOut() bool {
	return e.Sold >= e.Total
}

// Ended reports whether the event is over at the given instant. Events
// without a recorded end time are considered over once they start.
func (e *Event) Ended(now time.Time) bool {
	if e.EndsAt != nil {
		return now.After(*e.EndsAt)
	}
	return now.After(e.StartsAt)
}

// TicketType is a purchasable category within an event.
type TicketType struct {
	ID      string  `json:"id"`
	EventID string  `json:"event_id"`
	Name    string  `json:"name"`
	Price   float64 `json:"price"`
	Total   int     `json:"total"`
	Sold    int     `json:"sold"`
}

// SoldOut reports whether this ticket type has no remaining capacity.
func (t *TicketType) SoldOut() bool {
	return t.Sold >= t.Total
}

// Ticket represents one admission unit.
type Ticket struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	EventID       string       `json:"event_id"`
	TicketTypeID  string       `json:"ticket_type_id"`
	TransactionID string       `json:"transaction_id"`
	Status        TicketStatus `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Transaction is a monetary record linked to the ticket it produced or to
// a pending waitlist offer.
type Transaction struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	EventID       string            `json:"event_id"`
	TicketTypeID  string            `json:"ticket_type_id"`
	Amount        float64           `json:"amount"`
	PaymentMethod string            `json:"payment_method"`
	Status        TransactionStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// WaitlistEntry is a (user, event) pair awaiting a ticket, ordered
// per-event by join time. A non-nil OfferedAt means the entry is claimed
// and must not be offered again.
type WaitlistEntry struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	EventID   string     `json:"event_id"`
	JoinedAt  time.Time  `json:"joined_at"`
	OfferedAt *time.Time `json:"offered_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Claimed reports whether the entry holds an outstanding offer.
func (w *WaitlistEntry) Claimed() bool {
	return w.OfferedAt != nil
}

// OfferExpired reports whether the entry's reservation window has lapsed.
func (w *WaitlistEntry) OfferExpired(now time.Time) bool {
	return w.ExpiresAt != nil && now.After(*w.ExpiresAt)
}

// Round2 rounds a monetary amount to two decimal places. Refund math is
// done on the exact product first; rounding happens only at this boundary.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// RefundBreakdown splits an original price into the amount returned to the
// displaced owner and the retained platform fee.
func RefundBreakdown(price float64) (refund, fee float64) {
	refund = Round2((1 - PlatformFeeRate) * price)
	fee = Round2(price - refund)
	return refund, fee
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
