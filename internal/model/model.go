// Package model holds the raffle domain entities shared by the engine,
// store, scheduler, and query layers.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TriggerMode selects which condition fires an automatic draw.
type TriggerMode int32

const (
	TriggerByCount TriggerMode = iota
	TriggerByDeadline
	TriggerEither
)

func (m TriggerMode) String() string {
	switch m {
	case TriggerByCount:
		return "by_count"
	case TriggerByDeadline:
		return "by_deadline"
	case TriggerEither:
		return "either"
	default:
		return "unknown"
	}
}

// ParseTriggerMode converts the wire/DB representation back to a TriggerMode.
func ParseTriggerMode(s string) (TriggerMode, error) {
	switch s {
	case "by_count":
		return TriggerByCount, nil
	case "by_deadline":
		return TriggerByDeadline, nil
	case "either":
		return TriggerEither, nil
	default:
		return 0, fmt.Errorf("unknown trigger mode: %q", s)
	}
}

// RequiresThreshold reports whether the mode needs a count threshold.
func (m TriggerMode) RequiresThreshold() bool {
	switch m {
	case TriggerByCount, TriggerEither:
		return true
	case TriggerByDeadline:
		return false
	default:
		return false
	}
}

// RequiresDeadline reports whether the mode needs a deadline timestamp.
func (m TriggerMode) RequiresDeadline() bool {
	switch m {
	case TriggerByDeadline, TriggerEither:
		return true
	case TriggerByCount:
		return false
	default:
		return false
	}
}

// ListingState is the lifecycle state of a listing.
// ACTIVE is the only non-terminal state; DRAWN and CANCELLED are absorbing.
type ListingState int32

const (
	ListingActive ListingState = iota
	ListingDrawn
	ListingCancelled
)

func (s ListingState) String() string {
	switch s {
	case ListingActive:
		return "active"
	case ListingDrawn:
		return "drawn"
	case ListingCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseListingState converts the wire/DB representation back to a ListingState.
func ParseListingState(s string) (ListingState, error) {
	switch s {
	case "active":
		return ListingActive, nil
	case "drawn":
		return ListingDrawn, nil
	case "cancelled":
		return ListingCancelled, nil
	default:
		return 0, fmt.Errorf("unknown listing state: %q", s)
	}
}

// Terminal reports whether no further transitions are allowed.
func (s ListingState) Terminal() bool {
	return s == ListingDrawn || s == ListingCancelled
}

// Listing is one raffled item and its sale/draw parameters.
type Listing struct {
	ID          uuid.UUID
	SellerID    uuid.UUID
	Title       string
	Description string

	// TicketPrice is in the smallest currency unit (cents).
	TicketPrice int64
	Capacity    int64
	TicketsSold int64

	Mode TriggerMode
	// Threshold is the auto-draw ticket count; 0 means unset.
	Threshold int64
	Deadline  *time.Time

	State    ListingState
	WinnerID *uuid.UUID
	DrawnAt  *time.Time

	// Version supports optimistic concurrency in the store.
	Version   int64
	CreatedAt time.Time
}

// Validate checks the creation-time invariants of a listing.
func (l *Listing) Validate() error {
	if l.Title == "" {
		return fmt.Errorf("listing title is required")
	}
	if l.TicketPrice <= 0 {
		return fmt.Errorf("ticket price must be positive, got %d", l.TicketPrice)
	}
	if l.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", l.Capacity)
	}
	if l.TicketsSold < 0 || l.TicketsSold > l.Capacity {
		return fmt.Errorf("tickets sold %d out of range [0, %d]", l.TicketsSold, l.Capacity)
	}
	if l.Mode.RequiresThreshold() {
		if l.Threshold <= 0 {
			return fmt.Errorf("trigger mode %s requires a count threshold", l.Mode)
		}
		if l.Threshold > l.Capacity {
			return fmt.Errorf("threshold %d exceeds capacity %d", l.Threshold, l.Capacity)
		}
	}
	if l.Mode.RequiresDeadline() && l.Deadline == nil {
		return fmt.Errorf("trigger mode %s requires a deadline", l.Mode)
	}
	if l.WinnerID != nil && l.State != ListingDrawn {
		return fmt.Errorf("winner set on %s listing", l.State)
	}
	return nil
}

// Remaining returns how many tickets can still be sold.
func (l *Listing) Remaining() int64 {
	return l.Capacity - l.TicketsSold
}

// Ticket is one purchase event: Quantity independent entries for BuyerID.
// Immutable once created.
type Ticket struct {
	ID            uuid.UUID
	ListingID     uuid.UUID
	BuyerID       uuid.UUID
	Quantity      int64
	TransactionID uuid.UUID
	PurchasedAt   time.Time
}

// TransactionStatus is the payment lifecycle state.
type TransactionStatus int32

const (
	TransactionPending TransactionStatus = iota
	TransactionCompleted
	TransactionRefunded
)

func (s TransactionStatus) String() string {
	switch s {
	case TransactionPending:
		return "pending"
	case TransactionCompleted:
		return "completed"
	case TransactionRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// ParseTransactionStatus converts the wire/DB representation back.
func ParseTransactionStatus(s string) (TransactionStatus, error) {
	switch s {
	case "pending":
		return TransactionPending, nil
	case "completed":
		return TransactionCompleted, nil
	case "refunded":
		return TransactionRefunded, nil
	default:
		return 0, fmt.Errorf("unknown transaction status: %q", s)
	}
}

// Transaction is a payment attempt/outcome. A Ticket exists for a
// transaction only once it reaches COMPLETED, and exactly one per
// completed transaction.
type Transaction struct {
	ID        uuid.UUID
	BuyerID   uuid.UUID
	ListingID uuid.UUID
	Quantity  int64
	// Amount is TicketPrice * Quantity at checkout time, in cents.
	Amount    int64
	Status    TransactionStatus
	CreatedAt time.Time
}
