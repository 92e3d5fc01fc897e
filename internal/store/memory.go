package store

import (
	"context"
	"sync"
	"time"

	"RaffleCore/internal/model"

	"github.com/google/uuid"
)

// Memory is an in-process Store for tests and local development. One mutex
// guards everything; the per-listing atomicity the interface promises follows
// trivially.
type Memory struct {
	mu           sync.Mutex
	listings     map[uuid.UUID]*model.Listing
	tickets      map[uuid.UUID][]*model.Ticket
	transactions map[uuid.UUID]*model.Transaction
}

func NewMemory() *Memory {
	return &Memory{
		listings:     make(map[uuid.UUID]*model.Listing),
		tickets:      make(map[uuid.UUID][]*model.Ticket),
		transactions: make(map[uuid.UUID]*model.Transaction),
	}
}

func copyListing(l *model.Listing) *model.Listing {
	out := *l
	if l.Deadline != nil {
		d := *l.Deadline
		out.Deadline = &d
	}
	if l.WinnerID != nil {
		w := *l.WinnerID
		out.WinnerID = &w
	}
	if l.DrawnAt != nil {
		t := *l.DrawnAt
		out.DrawnAt = &t
	}
	return &out
}

func (m *Memory) CreateListing(_ context.Context, l *model.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[l.ID] = copyListing(l)
	return nil
}

func (m *Memory) GetListing(_ context.Context, id uuid.UUID) (*model.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	return copyListing(l), nil
}

func (m *Memory) ListActiveListings(_ context.Context) ([]*model.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Listing
	for _, l := range m.listings {
		if l.State == model.ListingActive {
			out = append(out, copyListing(l))
		}
	}
	return out, nil
}

func (m *Memory) SetDeadline(_ context.Context, id uuid.UUID, deadline time.Time, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return ErrListingNotFound
	}
	if l.State != model.ListingActive {
		return ErrListingNotActive
	}
	if l.Version != version {
		return ErrConflict
	}
	d := deadline
	l.Deadline = &d
	l.Version++
	return nil
}

func (m *Memory) PurchaseTickets(_ context.Context, t *model.Ticket) (*model.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[t.ListingID]
	if !ok {
		return nil, ErrListingNotFound
	}
	if err := checkPurchaseRules(l, t.Quantity); err != nil {
		return nil, err
	}
	tc := *t
	m.tickets[t.ListingID] = append(m.tickets[t.ListingID], &tc)
	l.TicketsSold += t.Quantity
	l.Version++
	return copyListing(l), nil
}

func (m *Memory) ListTickets(_ context.Context, listingID uuid.UUID) ([]*model.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Ticket, 0, len(m.tickets[listingID]))
	for _, t := range m.tickets[listingID] {
		tc := *t
		out = append(out, &tc)
	}
	return out, nil
}

func (m *Memory) CountBuyerTickets(_ context.Context, listingID, buyerID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.tickets[listingID] {
		if t.BuyerID == buyerID {
			n += t.Quantity
		}
	}
	return n, nil
}

func (m *Memory) MarkDrawn(_ context.Context, id, winnerID uuid.UUID, drawnAt time.Time, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return ErrListingNotFound
	}
	if l.State != model.ListingActive {
		return ErrListingNotActive
	}
	if l.Version != version {
		return ErrConflict
	}
	w := winnerID
	at := drawnAt
	l.State = model.ListingDrawn
	l.WinnerID = &w
	l.DrawnAt = &at
	l.Version++
	return nil
}

func (m *Memory) MarkCancelled(_ context.Context, id uuid.UUID, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return ErrListingNotFound
	}
	if l.State != model.ListingActive {
		return ErrListingNotActive
	}
	if l.Version != version {
		return ErrConflict
	}
	l.State = model.ListingCancelled
	l.Version++
	return nil
}

func (m *Memory) CreateTransaction(_ context.Context, txn *model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc := *txn
	m.transactions[txn.ID] = &tc
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id uuid.UUID) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	tc := *txn
	return &tc, nil
}

func (m *Memory) CompleteTransaction(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactions[id]
	if !ok {
		return false, ErrTransactionNotFound
	}
	switch txn.Status {
	case model.TransactionCompleted:
		return true, nil
	case model.TransactionRefunded:
		return false, ErrTransactionSettled
	}
	txn.Status = model.TransactionCompleted
	return false, nil
}

func (m *Memory) RefundTransaction(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactions[id]
	if !ok {
		return ErrTransactionNotFound
	}
	if txn.Status == model.TransactionRefunded {
		return ErrTransactionSettled
	}
	txn.Status = model.TransactionRefunded
	return nil
}
