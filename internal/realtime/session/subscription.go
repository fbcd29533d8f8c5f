package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vadim/neo-inbox/internal/realtime/event"
	"github.com/vadim/neo-inbox/internal/realtime/transport"
)

// State is the connection state of a subscription
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Reconnect configures reconnect backoff
type Reconnect struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

func (r Reconnect) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.Initial > 0 {
		b.InitialInterval = r.Initial
	}
	if r.Max > 0 {
		b.MaxInterval = r.Max
	}
	b.MaxElapsedTime = 0

	var bo backoff.BackOff = b
	if r.MaxAttempts > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(r.MaxAttempts))
	}
	return backoff.WithContext(bo, ctx)
}

// SubscriptionHooks receive a subscription's events and transitions
type SubscriptionHooks struct {
	// OnEvent handles each decoded event
	OnEvent func(ctx context.Context, ev event.Event)
	// OnConnected runs on every transition into StateConnected
	OnConnected func(topic string)
	// OnState observes every transition
	OnState func(topic string, state State)
}

// Subscription owns one topic's stream: it connects, consumes, reconnects
// with backoff and ends in StateDisconnected after Close or when attempts
// run out
type Subscription struct {
	topic     string
	transport transport.Transport
	reconnect Reconnect
	hooks     SubscriptionHooks
	logger    *slog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSubscription creates a subscription in StateDisconnected
func NewSubscription(topic string, tr transport.Transport, reconnect Reconnect, hooks SubscriptionHooks, logger *slog.Logger) *Subscription {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscription{
		topic:     topic,
		transport: tr,
		reconnect: reconnect,
		hooks:     hooks,
		logger:    logger.With("topic", topic),
		state:     StateDisconnected,
	}
}

// Topic returns the subscribed topic
func (s *Subscription) Topic() string { return s.topic }

// State returns the current state
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins connecting in the background. It is a no-op when running.
func (s *Subscription) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Close tears the subscription down and waits for it to stop
func (s *Subscription) Close() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed once the subscription reaches its terminal state
func (s *Subscription) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Subscription) setState(state State) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()

	if changed && s.hooks.OnState != nil {
		s.hooks.OnState(s.topic, state)
	}
}

func (s *Subscription) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.setState(StateDisconnected)

	s.setState(StateConnecting)
	for {
		stream, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("giving up on subscription", "error", err)
			}
			return
		}

		s.setState(StateConnected)
		if s.hooks.OnConnected != nil {
			s.hooks.OnConnected(s.topic)
		}

		err = s.consume(ctx, stream)
		_ = stream.Close()
		if ctx.Err() != nil {
			return
		}

		s.logger.Info("subscription lost, reconnecting", "error", err)
		s.setState(StateReconnecting)
	}
}

func (s *Subscription) connect(ctx context.Context) (transport.Stream, error) {
	var stream transport.Stream
	op := func() error {
		st, err := s.transport.Subscribe(ctx, s.topic)
		if err != nil {
			return err
		}
		stream = st
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Debug("subscribe failed", "error", err, "retry_in", wait)
	}

	if err := backoff.RetryNotify(op, s.reconnect.backOff(ctx), notify); err != nil {
		return nil, err
	}
	return stream, nil
}

func (s *Subscription) consume(ctx context.Context, stream transport.Stream) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stream.Done():
			// drain what arrived before the failure
			for {
				select {
				case payload := <-stream.Messages():
					s.dispatch(ctx, payload)
				default:
					return stream.Err()
				}
			}
		case payload := <-stream.Messages():
			s.dispatch(ctx, payload)
		}
	}
}

func (s *Subscription) dispatch(ctx context.Context, payload []byte) {
	ev, err := event.Decode(payload)
	if err != nil {
		s.logger.Warn("dropping malformed event", "error", err)
		return
	}
	if s.hooks.OnEvent != nil {
		s.hooks.OnEvent(ctx, ev)
	}
}
