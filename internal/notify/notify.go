// Package notify delivers raffle outcome notifications. Delivery is
// fire-and-forget: the engine posts events to a bounded channel after the
// state change commits, and a worker drains the channel into a Sink. A full
// channel or failing sink never blocks or fails a draw.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kind distinguishes the notification templates.
type Kind string

const (
	KindWinner           Kind = "winner_selected"
	KindSellerDrawn      Kind = "listing_drawn"
	KindListingCancelled Kind = "listing_cancelled"
)

// Event is one notification to be delivered to a user.
type Event struct {
	Kind      Kind       `json:"kind"`
	ListingID uuid.UUID  `json:"listing_id"`
	UserID    uuid.UUID  `json:"user_id"`
	WinnerID  *uuid.UUID `json:"winner_id,omitempty"`
	Title     string     `json:"title"`
	At        time.Time  `json:"at"`
}

// Sink is the delivery backend.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// Worker drains the engine's notification channel into a sink. Failures are
// logged and dropped; notifications are best effort.
type Worker struct {
	ch   <-chan Event
	sink Sink
	log  zerolog.Logger
}

func NewWorker(ch <-chan Event, sink Sink, log zerolog.Logger) *Worker {
	return &Worker{ch: ch, sink: sink, log: log}
}

// Run blocks until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.ch:
			if !ok {
				return nil
			}
			if err := w.sink.Deliver(ctx, ev); err != nil {
				w.log.Warn().
					Err(err).
					Str("kind", string(ev.Kind)).
					Str("listing_id", ev.ListingID.String()).
					Msg("notification delivery failed")
			}
		}
	}
}

// LogSink writes notifications to the log. Used in development and as the
// fallback when no broker is configured.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Deliver(_ context.Context, ev Event) error {
	s.log.Info().
		Str("kind", string(ev.Kind)).
		Str("listing_id", ev.ListingID.String()).
		Str("user_id", ev.UserID.String()).
		Msg("notification")
	return nil
}
