// Package transport carries change-feed payloads between writers and live
// sessions over a best-effort publish/subscribe channel keyed by topic.
//
// Delivery is unordered and unreplayable. A Stream ends on any transport
// error; subscribers must resubscribe and reconcile.
package transport

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed ends a stream closed by its owner
	ErrClosed = errors.New("stream closed")
	// ErrDisconnected ends a stream dropped by the transport
	ErrDisconnected = errors.New("stream disconnected")
)

// Stream is a live subscription to one topic
type Stream interface {
	// Messages delivers raw payloads; it is never closed, select on Done
	Messages() <-chan []byte
	// Done is closed when the stream ends
	Done() <-chan struct{}
	// Err reports why the stream ended
	Err() error
	Close() error
}

// Transport subscribes to and publishes on topics
type Transport interface {
	Subscribe(ctx context.Context, topic string) (Stream, error)
	Publish(ctx context.Context, topic string, payload []byte) error
}

type stream struct {
	msgs chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	err     error
	cleanup func()
}

func newStream(buffer int, cleanup func()) *stream {
	return &stream{
		msgs:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		cleanup: cleanup,
	}
}

func (s *stream) Messages() <-chan []byte { return s.msgs }

func (s *stream) Done() <-chan struct{} { return s.done }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) Close() error {
	s.finish(ErrClosed)
	return nil
}

// finish ends the stream once with err
func (s *stream) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
		if s.cleanup != nil {
			s.cleanup()
		}
	})
}

// offer delivers payload without blocking; it reports false when dropped
func (s *stream) offer(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.msgs <- payload:
		return true
	default:
		return false
	}
}
