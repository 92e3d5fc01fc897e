package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"RaffleCore/internal/model"
	"RaffleCore/internal/store"

	"github.com/google/uuid"
)

func newActiveListing(capacity, threshold int64) *model.Listing {
	deadline := time.Now().Add(time.Hour)
	return &model.Listing{
		ID:          uuid.New(),
		SellerID:    uuid.New(),
		Title:       "Signed vinyl",
		TicketPrice: 250,
		Capacity:    capacity,
		Mode:        model.TriggerEither,
		Threshold:   threshold,
		Deadline:    &deadline,
		State:       model.ListingActive,
		CreatedAt:   time.Now(),
	}
}

func mustCreate(t *testing.T, s store.Store, l *model.Listing) {
	t.Helper()
	if err := s.CreateListing(context.Background(), l); err != nil {
		t.Fatalf("create listing: %v", err)
	}
}

func ticket(listingID uuid.UUID, qty int64) *model.Ticket {
	return &model.Ticket{
		ID:            uuid.New(),
		ListingID:     listingID,
		BuyerID:       uuid.New(),
		Quantity:      qty,
		TransactionID: uuid.New(),
		PurchasedAt:   time.Now(),
	}
}

func TestPurchase_IncrementsSoldAndVersion(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	l := newActiveListing(10, 5)
	mustCreate(t, s, l)

	got, err := s.PurchaseTickets(ctx, ticket(l.ID, 3))
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if got.TicketsSold != 3 {
		t.Errorf("tickets sold: got %d, want 3", got.TicketsSold)
	}
	if got.Version != l.Version+1 {
		t.Errorf("version: got %d, want %d", got.Version, l.Version+1)
	}
}

func TestPurchase_RejectsOverCapacity(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	l := newActiveListing(5, 0)
	l.Mode = model.TriggerByDeadline
	mustCreate(t, s, l)

	if _, err := s.PurchaseTickets(ctx, ticket(l.ID, 6)); !errors.Is(err, store.ErrCapacityExceeded) {
		t.Errorf("got %v, want ErrCapacityExceeded", err)
	}
	// Nothing was written.
	got, _ := s.GetListing(ctx, l.ID)
	if got.TicketsSold != 0 {
		t.Errorf("failed purchase wrote tickets_sold=%d", got.TicketsSold)
	}
	tickets, _ := s.ListTickets(ctx, l.ID)
	if len(tickets) != 0 {
		t.Errorf("failed purchase left %d ticket rows", len(tickets))
	}
}

func TestPurchase_RejectsOverThreshold(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	l := newActiveListing(100, 5)
	l.Mode = model.TriggerByCount
	l.Deadline = nil
	mustCreate(t, s, l)

	if _, err := s.PurchaseTickets(ctx, ticket(l.ID, 4)); err != nil {
		t.Fatalf("purchase within threshold: %v", err)
	}
	if _, err := s.PurchaseTickets(ctx, ticket(l.ID, 2)); !errors.Is(err, store.ErrThresholdExceeded) {
		t.Errorf("got %v, want ErrThresholdExceeded", err)
	}
}

func TestPurchase_RejectsTerminalListing(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	l := newActiveListing(10, 5)
	mustCreate(t, s, l)
	if err := s.MarkCancelled(ctx, l.ID, l.Version); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := s.PurchaseTickets(ctx, ticket(l.ID, 1)); !errors.Is(err, store.ErrListingNotActive) {
		t.Errorf("got %v, want ErrListingNotActive", err)
	}
}

func TestPurchase_ConcurrentNeverOversells(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	l := newActiveListing(10, 0)
	l.Mode = model.TriggerByDeadline
	mustCreate(t, s, l)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.PurchaseTickets(ctx, ticket(l.ID, 1))
		}()
	}
	wg.Wait()

	got, _ := s.GetListing(ctx, l.ID)
	if got.TicketsSold != 10 {
		t.Errorf("tickets sold: got %d, want exactly 10", got.TicketsSold)
	}
}

func TestMarkDrawn_Transitions(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	l := newActiveListing(10, 5)
	mustCreate(t, s, l)

	winner := uuid.New()
	at := time.Now()
	if err := s.MarkDrawn(ctx, l.ID, winner, at, l.Version); err != nil {
		t.Fatalf("mark drawn: %v", err)
	}

	got, _ := s.GetListing(ctx, l.ID)
	if got.State != model.ListingDrawn {
		t.Errorf("state: got %s, want drawn", got.State)
	}
	if got.WinnerID == nil || *got.WinnerID != winner {
		t.Errorf("winner not recorded")
	}
	if got.DrawnAt == nil {
		t.Errorf("drawn_at not recorded")
	}

	// Terminal state refuses further transitions.
	if err := s.MarkCancelled(ctx, l.ID, got.Version); !errors.Is(err, store.ErrListingNotActive) {
		t.Errorf("cancel after draw: got %v, want ErrListingNotActive", err)
	}
	if err := s.MarkDrawn(ctx, l.ID, uuid.New(), time.Now(), got.Version); !errors.Is(err, store.ErrListingNotActive) {
		t.Errorf("second draw: got %v, want ErrListingNotActive", err)
	}
}

func TestMarkDrawn_StaleVersionConflicts(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	l := newActiveListing(10, 5)
	mustCreate(t, s, l)

	// A purchase bumps the version behind the caller's back.
	if _, err := s.PurchaseTickets(ctx, ticket(l.ID, 1)); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	if err := s.MarkDrawn(ctx, l.ID, uuid.New(), time.Now(), l.Version); !errors.Is(err, store.ErrConflict) {
		t.Errorf("got %v, want ErrConflict", err)
	}
}

func TestSetDeadline_VersionChecked(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	l := newActiveListing(10, 5)
	mustCreate(t, s, l)

	later := time.Now().Add(48 * time.Hour)
	if err := s.SetDeadline(ctx, l.ID, later, l.Version); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	got, _ := s.GetListing(ctx, l.ID)
	if got.Deadline == nil || !got.Deadline.Equal(later) {
		t.Errorf("deadline not updated")
	}
	if err := s.SetDeadline(ctx, l.ID, later, l.Version); !errors.Is(err, store.ErrConflict) {
		t.Errorf("stale version: got %v, want ErrConflict", err)
	}
}

func TestCompleteTransaction_Idempotent(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	txn := &model.Transaction{
		ID:        uuid.New(),
		BuyerID:   uuid.New(),
		ListingID: uuid.New(),
		Quantity:  2,
		Amount:    500,
		Status:    model.TransactionPending,
		CreatedAt: time.Now(),
	}
	if err := s.CreateTransaction(ctx, txn); err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	already, err := s.CompleteTransaction(ctx, txn.ID)
	if err != nil || already {
		t.Fatalf("first completion: already=%v err=%v", already, err)
	}
	already, err = s.CompleteTransaction(ctx, txn.ID)
	if err != nil {
		t.Fatalf("second completion: %v", err)
	}
	if !already {
		t.Error("duplicate completion should report already=true")
	}
}

func TestRefundTransaction(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	txn := &model.Transaction{
		ID:        uuid.New(),
		Status:    model.TransactionPending,
		CreatedAt: time.Now(),
	}
	if err := s.CreateTransaction(ctx, txn); err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	if err := s.RefundTransaction(ctx, txn.ID); err != nil {
		t.Fatalf("refund: %v", err)
	}
	// Refunded transactions cannot complete.
	if _, err := s.CompleteTransaction(ctx, txn.ID); !errors.Is(err, store.ErrTransactionSettled) {
		t.Errorf("complete after refund: got %v, want ErrTransactionSettled", err)
	}
	if err := s.RefundTransaction(ctx, txn.ID); !errors.Is(err, store.ErrTransactionSettled) {
		t.Errorf("double refund: got %v, want ErrTransactionSettled", err)
	}
}

func TestCountBuyerTickets(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	l := newActiveListing(100, 0)
	l.Mode = model.TriggerByDeadline
	mustCreate(t, s, l)

	buyer := uuid.New()
	for _, qty := range []int64{2, 3} {
		tk := ticket(l.ID, qty)
		tk.BuyerID = buyer
		if _, err := s.PurchaseTickets(ctx, tk); err != nil {
			t.Fatalf("purchase: %v", err)
		}
	}
	if _, err := s.PurchaseTickets(ctx, ticket(l.ID, 4)); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	n, err := s.CountBuyerTickets(ctx, l.ID, buyer)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 5 {
		t.Errorf("buyer tickets: got %d, want 5", n)
	}
}
