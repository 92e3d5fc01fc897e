package ingestion

import (
	"context"
	"errors"

	"RaffleCore/internal/event"
	"RaffleCore/internal/store"

	"github.com/rs/zerolog"
)

// PaymentHandler is the engine surface the processor drives.
type PaymentHandler interface {
	HandlePaymentCompleted(ctx context.Context, ev event.PaymentCompleted) error
	HandlePaymentRefunded(ctx context.Context, ev event.PaymentRefunded) error
}

// Processor drains the subscriber channel into the engine.
//
// Ack policy: business rejections (sold out, closed listing) are final and
// acked; redelivering them cannot change the outcome. Malformed payloads are
// acked and logged, not retried. Everything else naks for redelivery.
type Processor struct {
	ch      <-chan RawEvent
	handler PaymentHandler
	log     zerolog.Logger
}

func NewProcessor(ch <-chan RawEvent, handler PaymentHandler, log zerolog.Logger) *Processor {
	return &Processor{ch: ch, handler: handler, log: log}
}

// Run blocks until ctx is cancelled or the channel closes.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-p.ch:
			if !ok {
				return nil
			}
			p.handle(ctx, raw)
		}
	}
}

func (p *Processor) handle(ctx context.Context, raw RawEvent) {
	parsed, err := ParseRawEvent(raw)
	if err != nil {
		p.log.Error().
			Err(err).
			Str("subject", raw.Subject).
			Msg("unparseable payment event dropped")
		raw.AckFunc()
		return
	}

	switch ev := parsed.(type) {
	case event.PaymentCompleted:
		err = p.handler.HandlePaymentCompleted(ctx, ev)
	case event.PaymentRefunded:
		err = p.handler.HandlePaymentRefunded(ctx, ev)
	}

	if err == nil || isFinalRejection(err) {
		raw.AckFunc()
		return
	}
	p.log.Warn().
		Err(err).
		Str("subject", raw.Subject).
		Msg("payment event failed, nak for redelivery")
	raw.NakFunc()
}

func isFinalRejection(err error) bool {
	return errors.Is(err, store.ErrCapacityExceeded) ||
		errors.Is(err, store.ErrThresholdExceeded) ||
		errors.Is(err, store.ErrListingNotActive) ||
		errors.Is(err, store.ErrListingNotFound) ||
		errors.Is(err, store.ErrTransactionSettled)
}
