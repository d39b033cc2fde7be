package events

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// subscriberBuffer bounds each subscriber's channel. A subscriber that
// falls this far behind starts losing events rather than stalling the
// pipeline.
const subscriberBuffer = 64

type memorySub struct {
	tenantID string
	ch       chan Event
}

// MemoryBus is the in-process fan-out.
type MemoryBus struct {
	logger *logrus.Logger

	mu     sync.RWMutex
	subs   map[int]*memorySub
	nextID int
	closed bool
}

func NewMemoryBus(logger *logrus.Logger) *MemoryBus {
	return &MemoryBus{
		logger: logger,
		subs:   make(map[int]*memorySub),
	}
}

func (b *MemoryBus) Publish(_ context.Context, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if sub.tenantID != "" && sub.tenantID != event.TenantID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Full buffer: shed the oldest event so a slow subscriber
			// keeps seeing the freshest state.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- event:
			default:
			}
			b.logger.WithFields(logrus.Fields{
				"type":      event.Type,
				"tenant_id": event.TenantID,
			}).Debug("Dropped oldest event for slow subscriber")
		}
	}
}

func (b *MemoryBus) Subscribe(tenantID string) (<-chan Event, func()) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	sub := &memorySub{tenantID: tenantID, ch: make(chan Event, subscriberBuffer)}
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			_, present := b.subs[id]
			delete(b.subs, id)
			b.mu.Unlock()
			// Close() may have removed and closed the channel already.
			if present {
				close(sub.ch)
			}
		})
	}
	return sub.ch, cancel
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	return nil
}
