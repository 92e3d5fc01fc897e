package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"RaffleCore/internal/engine"
	"RaffleCore/internal/notify"
	"RaffleCore/internal/observability"
	"RaffleCore/internal/query"
	"RaffleCore/internal/server"
	"RaffleCore/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var testMetrics = observability.NewMetrics()

type noopSched struct{}

func (noopSched) Schedule(context.Context, uuid.UUID, time.Time) error { return nil }
func (noopSched) Cancel(context.Context, uuid.UUID) error              { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	log := observability.NewLoggerWithLevel("server-test", zerolog.Disabled)
	notifyCh := make(chan notify.Event, 64)
	eng := engine.New(st, noopSched{}, nil, notifyCh, testMetrics, log)
	qs := query.NewService(st, testMetrics)
	health := observability.NewHealthChecker()
	health.SetReady(true)

	srv := httptest.NewServer(server.New(eng, qs, health, log).Router())
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func createListing(t *testing.T, srv *httptest.Server, mode string, capacity, threshold int64, deadline *time.Time) uuid.UUID {
	t.Helper()
	body := map[string]interface{}{
		"seller_id":    uuid.NewString(),
		"title":        "Standing desk",
		"ticket_price": 200,
		"capacity":     capacity,
		"trigger_mode": mode,
		"threshold":    threshold,
	}
	if deadline != nil {
		body["deadline"] = deadline.Format(time.RFC3339)
	}
	resp := postJSON(t, srv.URL+"/listings", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create listing: status %d", resp.StatusCode)
	}
	var view struct {
		ID uuid.UUID `json:"id"`
	}
	decode(t, resp, &view)
	return view.ID
}

func checkout(t *testing.T, srv *httptest.Server, listingID uuid.UUID, qty int64) uuid.UUID {
	t.Helper()
	resp := postJSON(t, fmt.Sprintf("%s/listings/%s/checkout", srv.URL, listingID), map[string]interface{}{
		"buyer_id": uuid.NewString(),
		"quantity": qty,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("checkout: status %d", resp.StatusCode)
	}
	var out struct {
		TransactionID uuid.UUID `json:"transaction_id"`
	}
	decode(t, resp, &out)
	return out.TransactionID
}

func settleWebhook(t *testing.T, srv *httptest.Server, txnID uuid.UUID) *http.Response {
	t.Helper()
	return postJSON(t, srv.URL+"/payments/webhook", map[string]string{
		"transaction_id": txnID.String(),
		"status":         "completed",
	})
}

func TestListingLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	deadline := time.Now().Add(24 * time.Hour)
	listingID := createListing(t, srv, "either", 10, 3, &deadline)

	// Sell up to the threshold; the draw fires automatically.
	for i := 0; i < 3; i++ {
		txnID := checkout(t, srv, listingID, 1)
		resp := settleWebhook(t, srv, txnID)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("webhook %d: status %d", i, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp, err := http.Get(fmt.Sprintf("%s/listings/%s", srv.URL, listingID))
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	var view struct {
		State    string     `json:"state"`
		WinnerID *uuid.UUID `json:"winner_id"`
	}
	decode(t, resp, &view)
	if view.State != "drawn" {
		t.Errorf("state: got %s, want drawn", view.State)
	}
	if view.WinnerID == nil {
		t.Errorf("no winner recorded")
	}
}

func TestWebhook_DuplicateDeliveryReturns200(t *testing.T) {
	srv, st := newTestServer(t)
	listingID := createListing(t, srv, "by_count", 100, 50, nil)
	txnID := checkout(t, srv, listingID, 2)

	for i := 0; i < 3; i++ {
		resp := settleWebhook(t, srv, txnID)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("delivery %d: status %d", i, resp.StatusCode)
		}
		resp.Body.Close()
	}

	l, _ := st.GetListing(context.Background(), listingID)
	if l.TicketsSold != 2 {
		t.Errorf("tickets sold: got %d, want 2", l.TicketsSold)
	}
}

func TestWebhook_UnknownTransaction404(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := settleWebhook(t, srv, uuid.New())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestCheckout_SoldOutConflict(t *testing.T) {
	srv, _ := newTestServer(t)
	deadline := time.Now().Add(24 * time.Hour)
	listingID := createListing(t, srv, "by_deadline", 2, 0, &deadline)

	txnID := checkout(t, srv, listingID, 2)
	resp := settleWebhook(t, srv, txnID)
	resp.Body.Close()

	resp = postJSON(t, fmt.Sprintf("%s/listings/%s/checkout", srv.URL, listingID), map[string]interface{}{
		"buyer_id": uuid.NewString(),
		"quantity": 1,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status: got %d, want 409", resp.StatusCode)
	}
}

func TestManualDrawAndCancelConflicts(t *testing.T) {
	srv, _ := newTestServer(t)
	deadline := time.Now().Add(24 * time.Hour)
	listingID := createListing(t, srv, "by_deadline", 10, 0, &deadline)

	txnID := checkout(t, srv, listingID, 1)
	resp := settleWebhook(t, srv, txnID)
	resp.Body.Close()

	resp = postJSON(t, fmt.Sprintf("%s/listings/%s/draw", srv.URL, listingID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("draw: status %d", resp.StatusCode)
	}
	var view struct {
		State string `json:"state"`
	}
	decode(t, resp, &view)
	if view.State != "drawn" {
		t.Fatalf("state: got %s, want drawn", view.State)
	}

	// Cancelling a drawn listing conflicts.
	resp = postJSON(t, fmt.Sprintf("%s/listings/%s/cancel", srv.URL, listingID), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("cancel after draw: got %d, want 409", resp.StatusCode)
	}
}

func TestCreateListing_ValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name string
		body map[string]interface{}
	}{
		{"zero capacity", map[string]interface{}{
			"seller_id": uuid.NewString(), "title": "x", "ticket_price": 100,
			"capacity": 0, "trigger_mode": "by_count", "threshold": 5,
		}},
		{"unknown mode", map[string]interface{}{
			"seller_id": uuid.NewString(), "title": "x", "ticket_price": 100,
			"capacity": 10, "trigger_mode": "weekly",
		}},
		{"count mode without threshold", map[string]interface{}{
			"seller_id": uuid.NewString(), "title": "x", "ticket_price": 100,
			"capacity": 10, "trigger_mode": "by_count",
		}},
		{"past deadline", map[string]interface{}{
			"seller_id": uuid.NewString(), "title": "x", "ticket_price": 100,
			"capacity": 10, "trigger_mode": "by_deadline",
			"deadline": time.Now().Add(-time.Hour).Format(time.RFC3339),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/listings", tc.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestOddsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	listingID := createListing(t, srv, "by_count", 100, 50, nil)

	buyer := uuid.New()
	resp := postJSON(t, fmt.Sprintf("%s/listings/%s/checkout", srv.URL, listingID), map[string]interface{}{
		"buyer_id": buyer.String(), "quantity": 5,
	})
	var out struct {
		TransactionID uuid.UUID `json:"transaction_id"`
	}
	decode(t, resp, &out)
	resp = settleWebhook(t, srv, out.TransactionID)
	resp.Body.Close()

	txnID := checkout(t, srv, listingID, 15)
	resp = settleWebhook(t, srv, txnID)
	resp.Body.Close()

	resp, err := http.Get(fmt.Sprintf("%s/listings/%s/odds?buyer_id=%s", srv.URL, listingID, buyer))
	if err != nil {
		t.Fatalf("get odds: %v", err)
	}
	var odds struct {
		BuyerTickets int64   `json:"buyer_tickets"`
		TicketsSold  int64   `json:"tickets_sold"`
		Odds         float64 `json:"odds"`
	}
	decode(t, resp, &odds)
	if odds.BuyerTickets != 5 || odds.TicketsSold != 20 {
		t.Errorf("tickets: got %d/%d, want 5/20", odds.BuyerTickets, odds.TicketsSold)
	}
	if odds.Odds != 0.25 {
		t.Errorf("odds: got %f, want 0.25", odds.Odds)
	}
}
