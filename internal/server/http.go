// Package server exposes the raffle API over HTTP/JSON.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"RaffleCore/internal/engine"
	"RaffleCore/internal/event"
	"RaffleCore/internal/model"
	"RaffleCore/internal/observability"
	"RaffleCore/internal/query"
	"RaffleCore/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Server struct {
	engine *engine.Engine
	query  *query.Service
	health *observability.HealthChecker
	log    zerolog.Logger
}

func New(eng *engine.Engine, qs *query.Service, health *observability.HealthChecker, log zerolog.Logger) *Server {
	return &Server{engine: eng, query: qs, health: health, log: log}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/listings", func(r chi.Router) {
		r.Post("/", s.createListing)
		r.Get("/", s.listActive)
		r.Route("/{listingID}", func(r chi.Router) {
			r.Get("/", s.getListing)
			r.Get("/odds", s.getOdds)
			r.Get("/tickets", s.listTickets)
			r.Post("/checkout", s.createCheckout)
			r.Post("/draw", s.drawListing)
			r.Post("/cancel", s.cancelListing)
			r.Patch("/deadline", s.updateDeadline)
		})
	})

	r.Post("/payments/webhook", s.paymentWebhook)

	return r
}

// ListenAndServe runs the API server until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("http server listening")
	return srv.ListenAndServe()
}

// --- Handlers ---

type createListingRequest struct {
	SellerID    string  `json:"seller_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	TicketPrice int64   `json:"ticket_price"`
	Capacity    int64   `json:"capacity"`
	TriggerMode string  `json:"trigger_mode"`
	Threshold   int64   `json:"threshold"`
	Deadline    *string `json:"deadline"`
}

func (s *Server) createListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	sellerID, err := uuid.Parse(req.SellerID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid seller_id")
		return
	}
	mode, err := model.ParseTriggerMode(req.TriggerMode)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l := &model.Listing{
		SellerID:    sellerID,
		Title:       req.Title,
		Description: req.Description,
		TicketPrice: req.TicketPrice,
		Capacity:    req.Capacity,
		Mode:        mode,
		Threshold:   req.Threshold,
	}
	if req.Deadline != nil {
		d, err := time.Parse(time.RFC3339, *req.Deadline)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid deadline: "+err.Error())
			return
		}
		l.Deadline = &d
	}

	if err := s.engine.CreateListing(r.Context(), l); err != nil {
		s.writeDomainError(w, err)
		return
	}
	view, err := s.query.GetListing(r.Context(), l.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, view)
}

func (s *Server) listActive(w http.ResponseWriter, r *http.Request) {
	views, err := s.query.ListActive(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"listings": views})
}

func (s *Server) getListing(w http.ResponseWriter, r *http.Request) {
	id, ok := s.listingID(w, r)
	if !ok {
		return
	}
	view, err := s.query.GetListing(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) getOdds(w http.ResponseWriter, r *http.Request) {
	id, ok := s.listingID(w, r)
	if !ok {
		return
	}
	buyerID, err := uuid.Parse(r.URL.Query().Get("buyer_id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid buyer_id")
		return
	}
	odds, err := s.query.GetOdds(r.Context(), id, buyerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, odds)
}

func (s *Server) listTickets(w http.ResponseWriter, r *http.Request) {
	id, ok := s.listingID(w, r)
	if !ok {
		return
	}
	tickets, err := s.query.ListTickets(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"tickets": tickets})
}

type checkoutRequest struct {
	BuyerID  string `json:"buyer_id"`
	Quantity int64  `json:"quantity"`
}

func (s *Server) createCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := s.listingID(w, r)
	if !ok {
		return
	}
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	buyerID, err := uuid.Parse(req.BuyerID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid buyer_id")
		return
	}

	txn, err := s.engine.CreateCheckout(r.Context(), id, buyerID, req.Quantity)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"transaction_id": txn.ID,
		"amount":         txn.Amount,
		"status":         txn.Status.String(),
	})
}

func (s *Server) drawListing(w http.ResponseWriter, r *http.Request) {
	id, ok := s.listingID(w, r)
	if !ok {
		return
	}
	l, err := s.engine.Draw(r.Context(), id, engine.TriggerManual)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	view, err := s.query.GetListing(r.Context(), l.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) cancelListing(w http.ResponseWriter, r *http.Request) {
	id, ok := s.listingID(w, r)
	if !ok {
		return
	}
	if _, err := s.engine.Cancel(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	view, err := s.query.GetListing(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

type updateDeadlineRequest struct {
	Deadline string `json:"deadline"`
}

func (s *Server) updateDeadline(w http.ResponseWriter, r *http.Request) {
	id, ok := s.listingID(w, r)
	if !ok {
		return
	}
	var req updateDeadlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	deadline, err := time.Parse(time.RFC3339, req.Deadline)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid deadline: "+err.Error())
		return
	}

	if _, err := s.engine.UpdateDeadline(r.Context(), id, deadline); err != nil {
		s.writeDomainError(w, err)
		return
	}
	view, err := s.query.GetListing(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

type webhookRequest struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
}

// paymentWebhook is the synchronous provider callback. Replayed completions
// return 200 so the provider stops retrying.
func (s *Server) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	txnID, err := uuid.Parse(req.TransactionID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid transaction_id")
		return
	}

	switch req.Status {
	case "completed":
		err = s.engine.CompletePayment(r.Context(), txnID)
	case "refunded":
		err = s.engine.HandlePaymentRefunded(r.Context(), paymentRefundedEvent(txnID, req.Reason))
	default:
		s.writeError(w, http.StatusBadRequest, "unknown status: "+req.Status)
		return
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

// --- Helpers ---

func paymentRefundedEvent(txnID uuid.UUID, reason string) event.PaymentRefunded {
	return event.PaymentRefunded{
		TransactionID: txnID,
		Reason:        reason,
		OccurredAt:    time.Now(),
	}
}

func (s *Server) listingID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "listingID"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid listing id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps engine/store sentinels onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrListingNotFound),
		errors.Is(err, store.ErrTransactionNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrListingNotActive),
		errors.Is(err, store.ErrCapacityExceeded),
		errors.Is(err, store.ErrThresholdExceeded),
		errors.Is(err, store.ErrTransactionSettled),
		errors.Is(err, store.ErrConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrInvalidListing),
		errors.Is(err, engine.ErrInvalidQuantity),
		errors.Is(err, engine.ErrDeadlineInPast),
		errors.Is(err, engine.ErrDeadlineNotSupported):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error().Err(err).Msg("internal error")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
