// Package event defines the inbound payment events the engine consumes.
package event

import (
	"time"

	"github.com/google/uuid"
)

// PaymentCompleted is emitted by the payment provider when a checkout
// settles. Deliveries are at-least-once; TransactionID is the idempotency
// key, so replays of the same event are harmless.
type PaymentCompleted struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	ListingID     uuid.UUID `json:"listing_id"`
	BuyerID       uuid.UUID `json:"buyer_id"`
	Quantity      int64     `json:"quantity"`
	Amount        int64     `json:"amount"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// IdempotencyKey identifies the delivery for dedup purposes.
func (e PaymentCompleted) IdempotencyKey() string {
	return e.TransactionID.String()
}

// PaymentRefunded is emitted when the provider reverses a settled payment.
type PaymentRefunded struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Reason        string    `json:"reason"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func (e PaymentRefunded) IdempotencyKey() string {
	return e.TransactionID.String()
}
