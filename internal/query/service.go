// Package query serves the read side: listing views, ticket lists, and
// per-buyer odds. It never mutates state.
package query

import (
	"context"
	"time"

	"RaffleCore/internal/observability"
	"RaffleCore/internal/store"

	"github.com/google/uuid"
)

type Service struct {
	store   store.Store
	metrics *observability.Metrics
}

func NewService(st store.Store, metrics *observability.Metrics) *Service {
	return &Service{store: st, metrics: metrics}
}

func (s *Service) observe(endpoint string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (s *Service) GetListing(ctx context.Context, id uuid.UUID) (*ListingView, error) {
	start := time.Now()
	l, err := s.store.GetListing(ctx, id)
	s.observe("get_listing", start, err)
	if err != nil {
		return nil, err
	}
	return viewFromListing(l), nil
}

func (s *Service) ListActive(ctx context.Context) ([]*ListingView, error) {
	start := time.Now()
	listings, err := s.store.ListActiveListings(ctx)
	s.observe("list_active", start, err)
	if err != nil {
		return nil, err
	}
	out := make([]*ListingView, 0, len(listings))
	for _, l := range listings {
		out = append(out, viewFromListing(l))
	}
	return out, nil
}

// GetOdds returns the buyer's chance of winning as of now: their ticket
// count over the total sold. A listing with no sales has odds 0.
func (s *Service) GetOdds(ctx context.Context, listingID, buyerID uuid.UUID) (*OddsResponse, error) {
	start := time.Now()
	resp, err := s.getOdds(ctx, listingID, buyerID)
	s.observe("get_odds", start, err)
	return resp, err
}

func (s *Service) getOdds(ctx context.Context, listingID, buyerID uuid.UUID) (*OddsResponse, error) {
	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	n, err := s.store.CountBuyerTickets(ctx, listingID, buyerID)
	if err != nil {
		return nil, err
	}
	resp := &OddsResponse{
		ListingID:    listingID,
		BuyerID:      buyerID,
		BuyerTickets: n,
		TicketsSold:  l.TicketsSold,
	}
	if l.TicketsSold > 0 {
		resp.Odds = float64(n) / float64(l.TicketsSold)
	}
	return resp, nil
}

func (s *Service) ListTickets(ctx context.Context, listingID uuid.UUID) ([]*TicketView, error) {
	start := time.Now()
	tickets, err := s.store.ListTickets(ctx, listingID)
	s.observe("list_tickets", start, err)
	if err != nil {
		return nil, err
	}
	out := make([]*TicketView, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, &TicketView{
			ID:          t.ID,
			ListingID:   t.ListingID,
			BuyerID:     t.BuyerID,
			Quantity:    t.Quantity,
			PurchasedAt: t.PurchasedAt,
		})
	}
	return out, nil
}
