package query_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"RaffleCore/internal/model"
	"RaffleCore/internal/observability"
	"RaffleCore/internal/query"
	"RaffleCore/internal/store"

	"github.com/google/uuid"
)

var testMetrics = observability.NewMetrics()

func seedListing(t *testing.T, st *store.Memory) *model.Listing {
	t.Helper()
	deadline := time.Now().Add(time.Hour)
	l := &model.Listing{
		ID:          uuid.New(),
		SellerID:    uuid.New(),
		Title:       "Concert tickets",
		TicketPrice: 1500,
		Capacity:    50,
		Mode:        model.TriggerEither,
		Threshold:   40,
		Deadline:    &deadline,
		State:       model.ListingActive,
		CreatedAt:   time.Now(),
	}
	if err := st.CreateListing(context.Background(), l); err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	return l
}

func buyTickets(t *testing.T, st *store.Memory, listingID, buyerID uuid.UUID, qty int64) {
	t.Helper()
	_, err := st.PurchaseTickets(context.Background(), &model.Ticket{
		ID:            uuid.New(),
		ListingID:     listingID,
		BuyerID:       buyerID,
		Quantity:      qty,
		TransactionID: uuid.New(),
		PurchasedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("buy tickets: %v", err)
	}
}

func TestGetListing_View(t *testing.T) {
	st := store.NewMemory()
	svc := query.NewService(st, testMetrics)
	l := seedListing(t, st)
	buyTickets(t, st, l.ID, uuid.New(), 10)

	view, err := svc.GetListing(context.Background(), l.ID)
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if view.TicketsSold != 10 || view.Remaining != 40 {
		t.Errorf("sold/remaining: got %d/%d, want 10/40", view.TicketsSold, view.Remaining)
	}
	if view.State != "active" || view.Mode != "either" {
		t.Errorf("state/mode strings: got %s/%s", view.State, view.Mode)
	}
}

func TestGetListing_NotFound(t *testing.T) {
	svc := query.NewService(store.NewMemory(), testMetrics)
	if _, err := svc.GetListing(context.Background(), uuid.New()); !errors.Is(err, store.ErrListingNotFound) {
		t.Errorf("got %v, want ErrListingNotFound", err)
	}
}

func TestGetOdds(t *testing.T) {
	st := store.NewMemory()
	svc := query.NewService(st, testMetrics)
	l := seedListing(t, st)

	buyer := uuid.New()
	buyTickets(t, st, l.ID, buyer, 3)
	buyTickets(t, st, l.ID, uuid.New(), 9)

	odds, err := svc.GetOdds(context.Background(), l.ID, buyer)
	if err != nil {
		t.Fatalf("get odds: %v", err)
	}
	if odds.BuyerTickets != 3 || odds.TicketsSold != 12 {
		t.Errorf("tickets: got %d/%d, want 3/12", odds.BuyerTickets, odds.TicketsSold)
	}
	if math.Abs(odds.Odds-0.25) > 1e-9 {
		t.Errorf("odds: got %f, want 0.25", odds.Odds)
	}
}

func TestGetOdds_NoSales(t *testing.T) {
	st := store.NewMemory()
	svc := query.NewService(st, testMetrics)
	l := seedListing(t, st)

	odds, err := svc.GetOdds(context.Background(), l.ID, uuid.New())
	if err != nil {
		t.Fatalf("get odds: %v", err)
	}
	if odds.Odds != 0 {
		t.Errorf("odds with no sales: got %f, want 0", odds.Odds)
	}
}

func TestListActive_ExcludesTerminal(t *testing.T) {
	st := store.NewMemory()
	svc := query.NewService(st, testMetrics)
	active := seedListing(t, st)
	closed := seedListing(t, st)
	if err := st.MarkCancelled(context.Background(), closed.ID, closed.Version); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	views, err := svc.ListActive(context.Background())
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(views) != 1 || views[0].ID != active.ID {
		t.Errorf("got %d listings, want only the active one", len(views))
	}
}
