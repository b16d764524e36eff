// Package notify publishes offer-lifecycle events to Redis pub/sub for an
// upstream realtime layer to push to users.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisNotifier implements service.Notifier over Redis pub/sub. Each user
// has their own channel; messages are JSON envelopes with a type tag.
type RedisNotifier struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewRedisNotifier constructs a RedisNotifier.
func NewRedisNotifier(client *redis.Client, logger *logrus.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, logger: logger}
}

type message struct {
	Type          string     `json:"type"`
	EventID       string     `json:"event_id,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
	TicketID      string     `json:"ticket_id,omitempty"`
	RefundAmount  float64    `json:"refund_amount,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

func userChannel(userID string) string {
	return fmt.Sprintf("notifications:user:%s", userID)
}

// publish is best-effort: a failed publish is logged, never surfaced.
func (n *RedisNotifier) publish(ctx context.Context, userID string, m message) {
	payload, err := json.Marshal(m)
	if err != nil {
		n.logger.WithError(err).Error("notify: marshal message")
		return
	}
	if err := n.client.Publish(ctx, userChannel(userID), payload).Err(); err != nil {
		n.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"type":    m.Type,
		}).Warn("notify: publish failed")
	}
}

// OfferCreated tells a promoted user they have a reservation to accept.
func (n *RedisNotifier) OfferCreated(ctx context.Context, userID, eventID, transactionID string, expiresAt time.Time) {
	n.publish(ctx, userID, message{
		Type:          "waitlist_offer",
		EventID:       eventID,
		TransactionID: transactionID,
		ExpiresAt:     &expiresAt,
	})
}

// OfferExpired tells a user their reservation window lapsed.
func (n *RedisNotifier) OfferExpired(ctx context.Context, userID, eventID string) {
	n.publish(ctx, userID, message{
		Type:    "offer_expired",
		EventID: eventID,
	})
}

// TransferCompleted tells a displaced prior owner their refund was issued.
func (n *RedisNotifier) TransferCompleted(ctx context.Context, userID, ticketID string, refundAmount float64) {
	n.publish(ctx, userID, message{
		Type:         "ticket_transferred",
		TicketID:     ticketID,
		RefundAmount: refundAmount,
	})
}
