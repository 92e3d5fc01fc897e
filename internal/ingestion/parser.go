package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"RaffleCore/internal/event"

	"github.com/google/uuid"
)

// Subjects carrying payment provider events.
const (
	SubjectPaymentCompleted = "raffle.payments.completed"
	SubjectPaymentRefunded  = "raffle.payments.refunded"
)

// ParseRawEvent converts a RawEvent into a typed payment event based on its
// subject. The returned value is either event.PaymentCompleted or
// event.PaymentRefunded.
func ParseRawEvent(raw RawEvent) (interface{}, error) {
	switch {
	case strings.HasPrefix(raw.Subject, SubjectPaymentCompleted):
		return parsePaymentCompleted(raw.Data)
	case strings.HasPrefix(raw.Subject, SubjectPaymentRefunded):
		return parsePaymentRefunded(raw.Data)
	default:
		return nil, fmt.Errorf("unknown subject: %s", raw.Subject)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match the payment provider's webhooks.

type paymentCompletedJSON struct {
	TransactionID string `json:"transaction_id"`
	ListingID     string `json:"listing_id"`
	BuyerID       string `json:"buyer_id"`
	Quantity      int64  `json:"quantity"`
	Amount        int64  `json:"amount"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parsePaymentCompleted(data []byte) (event.PaymentCompleted, error) {
	var j paymentCompletedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return event.PaymentCompleted{}, fmt.Errorf("parse PaymentCompleted: %w", err)
	}

	txnID, err := uuid.Parse(j.TransactionID)
	if err != nil {
		return event.PaymentCompleted{}, fmt.Errorf("parse transaction_id: %w", err)
	}
	listingID, err := uuid.Parse(j.ListingID)
	if err != nil {
		return event.PaymentCompleted{}, fmt.Errorf("parse listing_id: %w", err)
	}
	buyerID, err := uuid.Parse(j.BuyerID)
	if err != nil {
		return event.PaymentCompleted{}, fmt.Errorf("parse buyer_id: %w", err)
	}
	if j.Quantity <= 0 {
		return event.PaymentCompleted{}, fmt.Errorf("quantity must be positive, got %d", j.Quantity)
	}

	return event.PaymentCompleted{
		TransactionID: txnID,
		ListingID:     listingID,
		BuyerID:       buyerID,
		Quantity:      j.Quantity,
		Amount:        j.Amount,
		OccurredAt:    time.UnixMicro(j.TimestampUs),
	}, nil
}

type paymentRefundedJSON struct {
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason,omitempty"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parsePaymentRefunded(data []byte) (event.PaymentRefunded, error) {
	var j paymentRefundedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return event.PaymentRefunded{}, fmt.Errorf("parse PaymentRefunded: %w", err)
	}
	txnID, err := uuid.Parse(j.TransactionID)
	if err != nil {
		return event.PaymentRefunded{}, fmt.Errorf("parse transaction_id: %w", err)
	}
	return event.PaymentRefunded{
		TransactionID: txnID,
		Reason:        j.Reason,
		OccurredAt:    time.UnixMicro(j.TimestampUs),
	}, nil
}
