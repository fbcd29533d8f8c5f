package transport

import (
	"context"
	"sync"

	"github.com/vadim/neo-inbox/internal/apperr"
)

const defaultBuffer = 64

// Hub is an in-process transport for single-node deployments and tests.
// Slow subscribers lose payloads once their buffer is full.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*stream]struct{}
	failing map[string]error
	buffer  int
	dropped int
}

// NewHub creates an in-process hub with a per-subscriber buffer
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:    make(map[string]map[*stream]struct{}),
		failing: make(map[string]error),
		buffer:  buffer,
	}
}

// Subscribe opens a stream on topic
func (h *Hub) Subscribe(ctx context.Context, topic string) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable("subscribing to "+topic, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.failing[topic]; err != nil {
		return nil, apperr.Unavailable("subscribing to "+topic, err)
	}

	var s *stream
	s = newStream(h.buffer, func() { h.remove(topic, s) })
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[*stream]struct{})
	}
	h.subs[topic][s] = struct{}{}
	return s, nil
}

func (h *Hub) remove(topic string, s *stream) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subs[topic]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, topic)
		}
	}
}

// Publish offers payload to every current subscriber of topic
func (h *Hub) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return apperr.Unavailable("publishing to "+topic, err)
	}

	h.mu.RLock()
	targets := make([]*stream, 0, len(h.subs[topic]))
	for s := range h.subs[topic] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if !s.offer(payload) {
			h.mu.Lock()
			h.dropped++
			h.mu.Unlock()
		}
	}
	return nil
}

// Disconnect ends every stream on topic as a transport failure would
func (h *Hub) Disconnect(topic string) {
	h.mu.RLock()
	targets := make([]*stream, 0, len(h.subs[topic]))
	for s := range h.subs[topic] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.finish(ErrDisconnected)
	}
}

// FailSubscribe makes subscriptions to topic fail with err until cleared with nil
func (h *Hub) FailSubscribe(topic string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err == nil {
		delete(h.failing, topic)
		return
	}
	h.failing[topic] = err
}

// Subscribers returns the number of live streams on topic
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Dropped returns how many payloads were discarded for full buffers
func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
