// Package events fans approval lifecycle events out to in-process
// subscribers: the streaming HTTP handler, attached display surfaces, and
// tests. It implements approvals.Broadcaster.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/promptdeck/agentgate/pkg/approvals"
)

const defaultBuffer = 64

// Bus is a topic-filtered fan-out with per-subscriber buffers. Publishing
// never blocks: a subscriber that stops draining loses events rather than
// stalling the approvals service. Surfaces resynchronize with a list call
// after reconnecting, so dropped events cost a redraw, not correctness.
type Bus struct {
	logger *slog.Logger
	buffer int

	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber
}

type subscriber struct {
	topics map[approvals.Topic]bool
	ch     chan approvals.Event
}

// NewBus builds a bus with the default per-subscriber buffer.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		buffer: defaultBuffer,
		subs:   make(map[int]*subscriber),
	}
}

// WithBuffer overrides the per-subscriber buffer size.
func (b *Bus) WithBuffer(n int) *Bus {
	if n > 0 {
		b.buffer = n
	}
	return b
}

// Publish implements approvals.Broadcaster.
func (b *Bus) Publish(_ context.Context, ev approvals.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, sub := range b.subs {
		if len(sub.topics) > 0 && !sub.topics[ev.Topic] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("event dropped for slow subscriber",
				"subscriber", id, "topic", ev.Topic)
		}
	}
}

// Subscribe registers for the given topics (all topics when none are
// named) and returns the event channel plus a cancel function. Cancel
// closes the channel after removing the subscription.
func (b *Bus) Subscribe(topics ...approvals.Topic) (<-chan approvals.Event, func()) {
	sub := &subscriber{
		topics: make(map[approvals.Topic]bool, len(topics)),
		ch:     make(chan approvals.Event, b.buffer),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// SubscriberCount reports active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
