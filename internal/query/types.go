package query

import (
	"time"

	"github.com/google/uuid"

	"RaffleCore/internal/model"
)

// ListingView is the read-side shape of a listing.
type ListingView struct {
	ID          uuid.UUID  `json:"id"`
	SellerID    uuid.UUID  `json:"seller_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	TicketPrice int64      `json:"ticket_price"`
	Capacity    int64      `json:"capacity"`
	TicketsSold int64      `json:"tickets_sold"`
	Remaining   int64      `json:"remaining"`
	Mode        string     `json:"trigger_mode"`
	Threshold   int64      `json:"threshold,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	State       string     `json:"state"`
	WinnerID    *uuid.UUID `json:"winner_id,omitempty"`
	DrawnAt     *time.Time `json:"drawn_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func viewFromListing(l *model.Listing) *ListingView {
	return &ListingView{
		ID:          l.ID,
		SellerID:    l.SellerID,
		Title:       l.Title,
		Description: l.Description,
		TicketPrice: l.TicketPrice,
		Capacity:    l.Capacity,
		TicketsSold: l.TicketsSold,
		Remaining:   l.Remaining(),
		Mode:        l.Mode.String(),
		Threshold:   l.Threshold,
		Deadline:    l.Deadline,
		State:       l.State.String(),
		WinnerID:    l.WinnerID,
		DrawnAt:     l.DrawnAt,
		CreatedAt:   l.CreatedAt,
	}
}

// OddsResponse reports a buyer's stake in a listing.
type OddsResponse struct {
	ListingID    uuid.UUID `json:"listing_id"`
	BuyerID      uuid.UUID `json:"buyer_id"`
	BuyerTickets int64     `json:"buyer_tickets"`
	TicketsSold  int64     `json:"tickets_sold"`
	// Odds is buyer_tickets / tickets_sold; 0 when nothing is sold.
	Odds float64 `json:"odds"`
}

// TicketView is one purchase record.
type TicketView struct {
	ID          uuid.UUID `json:"id"`
	ListingID   uuid.UUID `json:"listing_id"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	Quantity    int64     `json:"quantity"`
	PurchasedAt time.Time `json:"purchased_at"`
}
