package transport

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vadim/neo-inbox/internal/apperr"
)

// Redis is a transport over Redis pub/sub. A receive error ends the stream
// instead of resubscribing silently, so the owner sees the gap.
type Redis struct {
	client *redis.Client
	buffer int
}

// NewRedis creates a Redis pub/sub transport
func NewRedis(client *redis.Client, buffer int) *Redis {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Redis{client: client, buffer: buffer}
}

// Subscribe opens a stream on topic once Redis confirms the subscription.
// ctx bounds the handshake only; the stream lives until Close or failure.
func (r *Redis) Subscribe(ctx context.Context, topic string) (Stream, error) {
	ps := r.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, apperr.Unavailable("subscribing to "+topic, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s := newStream(r.buffer, func() {
		cancel()
		_ = ps.Close()
	})

	go func() {
		for {
			msg, err := ps.ReceiveMessage(loopCtx)
			if err != nil {
				s.finish(fmt.Errorf("%w: %w", ErrDisconnected, err))
				return
			}
			select {
			case s.msgs <- []byte(msg.Payload):
			case <-s.done:
				return
			default:
				// full buffer: drop, the owner reconciles periodically
			}
		}
	}()

	return s, nil
}

// Publish sends payload to topic
func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.client.Publish(ctx, topic, payload).Err(); err != nil {
		return apperr.Unavailable("publishing to "+topic, err)
	}
	return nil
}
