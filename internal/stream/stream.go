package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultBuffer = 16

// Hub fans out events to all active subscribers (SSE clients, in-process
// anomaly detectors). Slow subscribers miss events instead of blocking the
// publisher.
type Hub[T any] struct {
	mu      sync.RWMutex
	subs    map[int]chan T
	next    int
	buffer  int
	dropped atomic.Uint64
}

// New initialises an empty hub. A non-positive buffer selects the default.
func New[T any](buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub[T]{subs: make(map[int]chan T), buffer: buffer}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (h *Hub[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, h.buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish fans the event out to all subscribers.
func (h *Hub[T]) Publish(evt T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers reports the number of active subscribers.
func (h *Hub[T]) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (h *Hub[T]) Dropped() uint64 {
	return h.dropped.Load()
}
