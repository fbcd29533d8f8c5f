package transport

import (
	"context"
	"fmt"

	"github.com/vadim/neo-inbox/internal/realtime/event"
)

// Publisher publishes raw payloads
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Feed publishes typed change events in their wire shape
type Feed struct {
	pub Publisher
}

// NewFeed creates a change feed over pub
func NewFeed(pub Publisher) *Feed {
	return &Feed{pub: pub}
}

// Publish encodes ev and publishes it on topic
func (f *Feed) Publish(ctx context.Context, topic string, ev event.Event) error {
	payload, err := event.Encode(ev)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", ev.Type(), err)
	}
	return f.pub.Publish(ctx, topic, payload)
}
