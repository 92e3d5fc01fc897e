// Package engine implements the raffle listing lifecycle: purchases,
// trigger evaluation, winner draws, and cancellation.
//
// Listings move ACTIVE -> DRAWN or ACTIVE -> CANCELLED exactly once. The
// engine serializes all mutations of one listing behind a keyed mutex and
// backs that with the store's version checks, so a draw happens at most
// once even across replicas.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RaffleCore/internal/draw"
	"RaffleCore/internal/event"
	"RaffleCore/internal/model"
	"RaffleCore/internal/notify"
	"RaffleCore/internal/observability"
	"RaffleCore/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidListing       = errors.New("invalid listing")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrDeadlineInPast       = errors.New("deadline must be in the future")
	ErrDeadlineNotSupported = errors.New("listing trigger mode has no deadline")
)

// Trigger records what initiated a draw.
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerCount    Trigger = "count"
	TriggerDeadline Trigger = "deadline"
)

// maxRetries bounds optimistic-concurrency retries on state transitions.
// Within one process the keyed mutex makes conflicts impossible; retries
// cover concurrent replicas sharing the database.
const maxRetries = 3

// DrawScheduler is the deadline-timer surface the engine drives.
type DrawScheduler interface {
	Schedule(ctx context.Context, listingID uuid.UUID, at time.Time) error
	Cancel(ctx context.Context, listingID uuid.UUID) error
}

// Engine coordinates the store, scheduler, and notification pipeline.
type Engine struct {
	store    store.Store
	sched    DrawScheduler
	cache    *store.TxnCache
	notifyCh chan<- notify.Event
	metrics  *observability.Metrics
	log      zerolog.Logger

	locks *keyedMutex
	now   func() time.Time
}

func New(st store.Store, sched DrawScheduler, cache *store.TxnCache, notifyCh chan<- notify.Event, metrics *observability.Metrics, log zerolog.Logger) *Engine {
	return &Engine{
		store:    st,
		sched:    sched,
		cache:    cache,
		notifyCh: notifyCh,
		metrics:  metrics,
		log:      log,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

// CreateListing validates and persists a new ACTIVE listing, arming its
// deadline timer when the trigger mode has one.
func (e *Engine) CreateListing(ctx context.Context, l *model.Listing) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.State = model.ListingActive
	l.TicketsSold = 0
	l.Version = 0
	if l.CreatedAt.IsZero() {
		l.CreatedAt = e.now()
	}
	if err := l.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidListing, err)
	}
	if l.Deadline != nil && !l.Deadline.After(e.now()) {
		return ErrDeadlineInPast
	}

	if err := e.store.CreateListing(ctx, l); err != nil {
		return err
	}
	if l.Mode.RequiresDeadline() {
		if err := e.sched.Schedule(ctx, l.ID, *l.Deadline); err != nil {
			return fmt.Errorf("schedule deadline draw: %w", err)
		}
	}

	e.log.Info().
		Str("listing_id", l.ID.String()).
		Str("mode", l.Mode.String()).
		Int64("capacity", l.Capacity).
		Msg("listing created")
	return nil
}

// CreateCheckout opens a PENDING payment transaction for a ticket purchase.
// The capacity check here is advisory; the authoritative check happens when
// the payment completes.
func (e *Engine) CreateCheckout(ctx context.Context, listingID, buyerID uuid.UUID, quantity int64) (*model.Transaction, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	l, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.State != model.ListingActive {
		return nil, store.ErrListingNotActive
	}
	if l.Remaining() < quantity {
		return nil, store.ErrCapacityExceeded
	}

	txn := &model.Transaction{
		ID:        uuid.New(),
		BuyerID:   buyerID,
		ListingID: listingID,
		Quantity:  quantity,
		Amount:    l.TicketPrice * quantity,
		Status:    model.TransactionPending,
		CreatedAt: e.now(),
	}
	if err := e.store.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	e.cache.Put(ctx, txn)
	return txn, nil
}

// HandlePaymentCompleted is the idempotent payment-settlement path. The
// first delivery completes the transaction, records the tickets, and
// evaluates the count trigger. Replays of the same transaction are absorbed
// and reported as success. A settled payment the listing cannot honor
// (sold out, closed) is refunded.
func (e *Engine) HandlePaymentCompleted(ctx context.Context, ev event.PaymentCompleted) error {
	unlock := e.locks.lock(ev.ListingID)
	defer unlock()

	txn, err := e.lookupTransaction(ctx, ev.TransactionID)
	if err != nil {
		e.metrics.PaymentEvents.WithLabelValues("unknown_transaction").Inc()
		return err
	}

	already, err := e.store.CompleteTransaction(ctx, ev.TransactionID)
	if err != nil {
		e.metrics.PaymentEvents.WithLabelValues("error").Inc()
		return err
	}
	e.cache.Invalidate(ctx, ev.TransactionID)
	if already {
		e.metrics.PaymentDuplicates.Inc()
		e.metrics.PaymentEvents.WithLabelValues("duplicate").Inc()
		e.log.Debug().
			Str("transaction_id", ev.TransactionID.String()).
			Msg("duplicate payment completion absorbed")
		return nil
	}

	ticket := &model.Ticket{
		ID:            uuid.New(),
		ListingID:     txn.ListingID,
		BuyerID:       txn.BuyerID,
		Quantity:      txn.Quantity,
		TransactionID: txn.ID,
		PurchasedAt:   e.now(),
	}
	if err := e.recordPurchaseLocked(ctx, ticket); err != nil {
		reason := rejectReason(err)
		e.metrics.PaymentEvents.WithLabelValues("refunded").Inc()
		e.metrics.PaymentRefunds.WithLabelValues(reason).Inc()
		if rerr := e.store.RefundTransaction(ctx, txn.ID); rerr != nil {
			e.log.Error().
				Err(rerr).
				Str("transaction_id", txn.ID.String()).
				Msg("refund after rejected purchase failed")
		}
		e.cache.Invalidate(ctx, txn.ID)
		e.log.Warn().
			Err(err).
			Str("transaction_id", txn.ID.String()).
			Str("listing_id", txn.ListingID.String()).
			Msg("settled payment refunded")
		return err
	}

	e.metrics.PaymentEvents.WithLabelValues("applied").Inc()
	return nil
}

// CompletePayment settles a transaction identified only by ID, for webhook
// callers that do not echo the checkout details back.
func (e *Engine) CompletePayment(ctx context.Context, txnID uuid.UUID) error {
	txn, err := e.lookupTransaction(ctx, txnID)
	if err != nil {
		return err
	}
	return e.HandlePaymentCompleted(ctx, event.PaymentCompleted{
		TransactionID: txn.ID,
		ListingID:     txn.ListingID,
		BuyerID:       txn.BuyerID,
		Quantity:      txn.Quantity,
		Amount:        txn.Amount,
		OccurredAt:    e.now(),
	})
}

// HandlePaymentRefunded marks the transaction refunded. Tickets already
// issued for it stay in the population; disputes after a draw are resolved
// out of band.
func (e *Engine) HandlePaymentRefunded(ctx context.Context, ev event.PaymentRefunded) error {
	err := e.store.RefundTransaction(ctx, ev.TransactionID)
	if errors.Is(err, store.ErrTransactionSettled) {
		// Replayed refund.
		return nil
	}
	if err != nil {
		return err
	}
	e.cache.Invalidate(ctx, ev.TransactionID)
	e.metrics.PaymentRefunds.WithLabelValues("provider").Inc()
	return nil
}

// RecordTicketPurchase appends tickets for a completed payment and runs the
// count trigger. Exposed for callers that settle payments out of band.
func (e *Engine) RecordTicketPurchase(ctx context.Context, t *model.Ticket) error {
	unlock := e.locks.lock(t.ListingID)
	defer unlock()
	return e.recordPurchaseLocked(ctx, t)
}

func (e *Engine) recordPurchaseLocked(ctx context.Context, t *model.Ticket) error {
	if t.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	start := e.now()
	l, err := e.store.PurchaseTickets(ctx, t)
	if err != nil {
		e.metrics.PurchasesRejected.WithLabelValues(rejectReason(err)).Inc()
		return err
	}
	e.metrics.PurchasesApplied.Inc()
	e.metrics.TicketsSold.Add(float64(t.Quantity))
	e.metrics.PurchaseDuration.Observe(e.now().Sub(start).Seconds())

	e.log.Info().
		Str("listing_id", l.ID.String()).
		Str("buyer_id", t.BuyerID.String()).
		Int64("quantity", t.Quantity).
		Int64("tickets_sold", l.TicketsSold).
		Msg("purchase recorded")

	if e.countTriggerMet(l) {
		if _, err := e.drawLocked(ctx, l.ID, TriggerCount); err != nil {
			// The purchase itself committed; the draw will be retried by
			// a later purchase or a manual draw.
			e.log.Error().
				Err(err).
				Str("listing_id", l.ID.String()).
				Msg("count-triggered draw failed")
		}
	}
	return nil
}

// countTriggerMet reports whether the listing's sold count satisfies an
// automatic count draw.
func (e *Engine) countTriggerMet(l *model.Listing) bool {
	switch l.Mode {
	case model.TriggerByCount, model.TriggerEither:
		return l.Threshold > 0 && l.TicketsSold >= l.Threshold
	case model.TriggerByDeadline:
		return false
	default:
		return false
	}
}

// deadlineTriggerMet reports whether the listing is due for a deadline draw.
func (e *Engine) deadlineTriggerMet(l *model.Listing, now time.Time) bool {
	switch l.Mode {
	case model.TriggerByDeadline, model.TriggerEither:
		return l.Deadline != nil && !now.Before(*l.Deadline)
	case model.TriggerByCount:
		return false
	default:
		return false
	}
}

// Draw runs a winner selection for the listing. Drawing a listing that is
// already terminal returns the recorded outcome with no error; the first
// transition wins and everything after it is a read.
func (e *Engine) Draw(ctx context.Context, listingID uuid.UUID, trigger Trigger) (*model.Listing, error) {
	unlock := e.locks.lock(listingID)
	defer unlock()
	return e.drawLocked(ctx, listingID, trigger)
}

func (e *Engine) drawLocked(ctx context.Context, listingID uuid.UUID, trigger Trigger) (*model.Listing, error) {
	start := e.now()
	for attempt := 0; attempt < maxRetries; attempt++ {
		l, err := e.store.GetListing(ctx, listingID)
		if err != nil {
			return nil, err
		}
		if l.State.Terminal() {
			return l, nil
		}

		tickets, err := e.store.ListTickets(ctx, listingID)
		if err != nil {
			return nil, err
		}
		entries := make([]draw.Entry, 0, len(tickets))
		for _, t := range tickets {
			entries = append(entries, draw.Entry{BuyerID: t.BuyerID, Quantity: t.Quantity})
		}

		winnerID, hasWinner, err := draw.Select(entries)
		if err != nil {
			return nil, err
		}

		drawnAt := e.now()
		if hasWinner {
			err = e.store.MarkDrawn(ctx, listingID, winnerID, drawnAt, l.Version)
		} else {
			// No tickets sold: the listing closes with no winner.
			err = e.store.MarkCancelled(ctx, listingID, l.Version)
		}

		switch {
		case err == nil:
		case errors.Is(err, store.ErrConflict):
			e.metrics.DrawConflicts.Inc()
			continue
		case errors.Is(err, store.ErrListingNotActive):
			// Another replica won the transition; its outcome stands.
			return e.store.GetListing(ctx, listingID)
		default:
			return nil, err
		}

		if cerr := e.sched.Cancel(ctx, listingID); cerr != nil {
			e.log.Warn().
				Err(cerr).
				Str("listing_id", listingID.String()).
				Msg("failed to disarm deadline after draw")
		}

		if hasWinner {
			l.State = model.ListingDrawn
			l.WinnerID = &winnerID
			l.DrawnAt = &drawnAt
		} else {
			l.State = model.ListingCancelled
		}
		l.Version++

		e.metrics.DrawsTotal.WithLabelValues(l.State.String(), string(trigger)).Inc()
		e.metrics.DrawDuration.Observe(e.now().Sub(start).Seconds())
		e.metrics.DrawPopulation.Observe(float64(l.TicketsSold))
		e.emitDrawNotifications(l)

		logEv := e.log.Info().
			Str("listing_id", listingID.String()).
			Str("trigger", string(trigger)).
			Str("outcome", l.State.String())
		if hasWinner {
			logEv = logEv.Str("winner_id", winnerID.String())
		}
		logEv.Msg("listing drawn")
		return l, nil
	}
	return nil, store.ErrConflict
}

// Cancel withdraws an ACTIVE listing. Terminal listings cannot be cancelled.
func (e *Engine) Cancel(ctx context.Context, listingID uuid.UUID) (*model.Listing, error) {
	unlock := e.locks.lock(listingID)
	defer unlock()

	for attempt := 0; attempt < maxRetries; attempt++ {
		l, err := e.store.GetListing(ctx, listingID)
		if err != nil {
			return nil, err
		}
		if l.State.Terminal() {
			return nil, store.ErrListingNotActive
		}

		err = e.store.MarkCancelled(ctx, listingID, l.Version)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if cerr := e.sched.Cancel(ctx, listingID); cerr != nil {
			e.log.Warn().
				Err(cerr).
				Str("listing_id", listingID.String()).
				Msg("failed to disarm deadline after cancel")
		}

		l.State = model.ListingCancelled
		l.Version++
		e.postNotification(notify.Event{
			Kind:      notify.KindListingCancelled,
			ListingID: l.ID,
			UserID:    l.SellerID,
			Title:     l.Title,
			At:        e.now(),
		})
		e.log.Info().Str("listing_id", listingID.String()).Msg("listing cancelled")
		return l, nil
	}
	return nil, store.ErrConflict
}

// UpdateDeadline moves an ACTIVE listing's deadline and re-arms its timer.
func (e *Engine) UpdateDeadline(ctx context.Context, listingID uuid.UUID, deadline time.Time) (*model.Listing, error) {
	unlock := e.locks.lock(listingID)
	defer unlock()

	if !deadline.After(e.now()) {
		return nil, ErrDeadlineInPast
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		l, err := e.store.GetListing(ctx, listingID)
		if err != nil {
			return nil, err
		}
		if l.State.Terminal() {
			return nil, store.ErrListingNotActive
		}
		if !l.Mode.RequiresDeadline() {
			return nil, ErrDeadlineNotSupported
		}

		err = e.store.SetDeadline(ctx, listingID, deadline, l.Version)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if err := e.sched.Schedule(ctx, listingID, deadline); err != nil {
			return nil, fmt.Errorf("reschedule deadline draw: %w", err)
		}

		d := deadline
		l.Deadline = &d
		l.Version++
		return l, nil
	}
	return nil, store.ErrConflict
}

// DeadlineFire is the scheduler callback. It is safe to invoke repeatedly:
// terminal and missing listings are no-ops that retire the schedule entry.
func (e *Engine) DeadlineFire(ctx context.Context, listingID uuid.UUID) error {
	unlock := e.locks.lock(listingID)
	defer unlock()

	l, err := e.store.GetListing(ctx, listingID)
	if errors.Is(err, store.ErrListingNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if l.State.Terminal() {
		return nil
	}
	if !e.deadlineTriggerMet(l, e.now()) {
		// Deadline was moved after this fire was armed.
		return fmt.Errorf("listing %s deadline not due", listingID)
	}

	_, err = e.drawLocked(ctx, listingID, TriggerDeadline)
	return err
}

func (e *Engine) lookupTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	if txn, err := e.cache.Get(ctx, id); err == nil && txn != nil {
		return txn, nil
	}
	return e.store.GetTransaction(ctx, id)
}

func (e *Engine) emitDrawNotifications(l *model.Listing) {
	at := e.now()
	if l.State == model.ListingDrawn && l.WinnerID != nil {
		e.postNotification(notify.Event{
			Kind:      notify.KindWinner,
			ListingID: l.ID,
			UserID:    *l.WinnerID,
			WinnerID:  l.WinnerID,
			Title:     l.Title,
			At:        at,
		})
		e.postNotification(notify.Event{
			Kind:      notify.KindSellerDrawn,
			ListingID: l.ID,
			UserID:    l.SellerID,
			WinnerID:  l.WinnerID,
			Title:     l.Title,
			At:        at,
		})
		return
	}
	e.postNotification(notify.Event{
		Kind:      notify.KindListingCancelled,
		ListingID: l.ID,
		UserID:    l.SellerID,
		Title:     l.Title,
		At:        at,
	})
}

// postNotification never blocks: a full channel drops the event and bumps a
// counter. Notifications are best effort; the state transition already
// committed.
func (e *Engine) postNotification(ev notify.Event) {
	select {
	case e.notifyCh <- ev:
		e.metrics.NotificationsSent.WithLabelValues(string(ev.Kind)).Inc()
	default:
		e.metrics.NotificationDrops.Inc()
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, store.ErrListingNotActive):
		return "not_active"
	case errors.Is(err, store.ErrCapacityExceeded):
		return "capacity"
	case errors.Is(err, store.ErrThresholdExceeded):
		return "threshold"
	case errors.Is(err, store.ErrListingNotFound):
		return "not_found"
	default:
		return "other"
	}
}
