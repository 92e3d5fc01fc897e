package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// NATSSink publishes notifications to JetStream for downstream delivery
// services (email, push). Subjects follow raffle.notify.{kind}.
type NATSSink struct {
	js jetstream.JetStream
}

func NewNATSSink(js jetstream.JetStream) *NATSSink {
	return &NATSSink{js: js}
}

func (s *NATSSink) Deliver(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	subject := fmt.Sprintf("raffle.notify.%s", ev.Kind)
	if _, err := s.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// EnsureNotifyStream creates the outbound notification stream.
func EnsureNotifyStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "RAFFLE_NOTIFY",
		Subjects:  []string{"raffle.notify.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create notify stream: %w", err)
	}
	return nil
}
