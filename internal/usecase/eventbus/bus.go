// Package eventbus carries conversation events to in-process observers.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"npc-voice/internal/domain"
)

// DefaultMailboxSize is the number of undelivered events a subscriber may
// hold before new events to it are dropped.
const DefaultMailboxSize = 256

type delivery struct {
	ctx   context.Context
	event domain.Event
}

// subscription delivers to its handler from a single goroutine so that a
// subscriber sees the events of a conversation in publish order.
type subscription struct {
	id      uint64
	handler domain.EventHandler
	mailbox chan delivery
}

// Bus is an in-process, goroutine-safe event bus. Publish never blocks the
// conversation pipeline: a subscriber that falls behind loses events.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]*subscription
	allSubs []*subscription
	nextID  atomic.Uint64
	dropped atomic.Uint64
	size    int
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithMailboxSize overrides DefaultMailboxSize.
func WithMailboxSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.size = n
		}
	}
}

// New creates an event bus.
func New(logger *slog.Logger, opts ...Option) *Bus {
	b := &Bus{
		typed:  make(map[domain.EventType][]*subscription),
		size:   DefaultMailboxSize,
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish queues event for matching typed subscribers and all-event
// subscribers.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.typed[event.Type] {
		b.enqueue(ctx, event, sub)
	}
	for _, sub := range b.allSubs {
		b.enqueue(ctx, event, sub)
	}
}

func (b *Bus) enqueue(ctx context.Context, event domain.Event, sub *subscription) {
	select {
	case sub.mailbox <- delivery{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event dropped, subscriber is behind",
			"event", string(event.Type),
			"conversation_id", event.ConversationID,
			"subscription", sub.id,
		)
	}
}

// Dropped returns how many deliveries were discarded because a mailbox was
// full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

func (b *Bus) start(handler domain.EventHandler) *subscription {
	sub := &subscription{
		id:      b.nextID.Add(1),
		handler: handler,
		mailbox: make(chan delivery, b.size),
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for d := range sub.mailbox {
			b.deliver(d, sub)
		}
	}()
	return sub
}

func (b *Bus) deliver(d delivery, sub *subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"panic", r,
			)
		}
	}()
	sub.handler(d.ctx, d.event)
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	sub := b.start(handler)
	b.typed[eventType] = append(b.typed[eventType], sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.typed[eventType] = b.remove(b.typed[eventType], sub)
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	sub := b.start(handler)
	b.allSubs = append(b.allSubs, sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.allSubs = b.remove(b.allSubs, sub)
	}
}

// remove drops sub from subs and closes its mailbox. Callers hold mu.
func (b *Bus) remove(subs []*subscription, sub *subscription) []*subscription {
	for i, s := range subs {
		if s == sub {
			close(sub.mailbox)
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Close prevents new publishes and waits until every queued event has
// been handled. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, subs := range b.typed {
		for _, s := range subs {
			close(s.mailbox)
		}
	}
	for _, s := range b.allSubs {
		close(s.mailbox)
	}
	b.typed = nil
	b.allSubs = nil
	b.mu.Unlock()
	b.wg.Wait()
}
