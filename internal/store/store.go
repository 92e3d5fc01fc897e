// Package store is the ledger store: durable listings, tickets, and payment
// transactions, with the single-writer-per-listing guarantees the lifecycle
// engine relies on.
package store

import (
	"context"
	"errors"
	"time"

	"RaffleCore/internal/model"

	"github.com/google/uuid"
)

var (
	ErrListingNotFound     = errors.New("listing not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrListingNotActive    = errors.New("listing is not active")
	ErrCapacityExceeded    = errors.New("ticket capacity exceeded")
	ErrThresholdExceeded   = errors.New("draw threshold exceeded")
	ErrTransactionSettled  = errors.New("transaction already settled")

	// ErrConflict signals an optimistic-concurrency loss. Callers re-read
	// and retry a bounded number of times.
	ErrConflict = errors.New("concurrent modification")
)

// Store is the persistence contract for the raffle engine.
//
// Mutations on a single listing are serialized by the implementation:
// PurchaseTickets runs the check-and-increment in one listing-row critical
// section, and the Mark* transitions are conditional on both ACTIVE state
// and the caller's version snapshot.
type Store interface {
	CreateListing(ctx context.Context, l *model.Listing) error
	GetListing(ctx context.Context, id uuid.UUID) (*model.Listing, error)
	ListActiveListings(ctx context.Context) ([]*model.Listing, error)

	// SetDeadline updates an ACTIVE listing's deadline under a version check.
	SetDeadline(ctx context.Context, id uuid.UUID, deadline time.Time, version int64) error

	// PurchaseTickets atomically appends the ticket record and increments
	// tickets_sold. Fails with ErrListingNotActive, ErrCapacityExceeded, or
	// ErrThresholdExceeded without writing anything. Returns the listing as
	// of after the increment.
	PurchaseTickets(ctx context.Context, t *model.Ticket) (*model.Listing, error)
	ListTickets(ctx context.Context, listingID uuid.UUID) ([]*model.Ticket, error)
	CountBuyerTickets(ctx context.Context, listingID, buyerID uuid.UUID) (int64, error)

	// MarkDrawn transitions ACTIVE -> DRAWN, recording winner and draw time.
	// Zero rows matched maps to ErrListingNotFound, ErrListingNotActive
	// (already terminal), or ErrConflict (version moved).
	MarkDrawn(ctx context.Context, id, winnerID uuid.UUID, drawnAt time.Time, version int64) error
	// MarkCancelled transitions ACTIVE -> CANCELLED with the same contract.
	MarkCancelled(ctx context.Context, id uuid.UUID, version int64) error

	CreateTransaction(ctx context.Context, txn *model.Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error)
	// CompleteTransaction advances PENDING -> COMPLETED. A transaction that
	// was already COMPLETED returns (true, nil) so duplicate webhook
	// deliveries are reported as success without re-processing. A REFUNDED
	// transaction returns ErrTransactionSettled.
	CompleteTransaction(ctx context.Context, id uuid.UUID) (alreadyCompleted bool, err error)
	// RefundTransaction marks a PENDING or COMPLETED transaction REFUNDED.
	RefundTransaction(ctx context.Context, id uuid.UUID) error
}

// checkPurchaseRules applies the shared business rules for a ticket purchase
// against a listing snapshot. Both implementations call this inside their
// per-listing critical section.
func checkPurchaseRules(l *model.Listing, quantity int64) error {
	if l.State != model.ListingActive {
		return ErrListingNotActive
	}
	if l.TicketsSold+quantity > l.Capacity {
		return ErrCapacityExceeded
	}
	if l.Mode.RequiresThreshold() && l.Threshold > 0 && l.TicketsSold+quantity > l.Threshold {
		return ErrThresholdExceeded
	}
	return nil
}
