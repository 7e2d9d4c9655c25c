// Package queue holds the sentence handoff between a reply producer and the
// game-facing poller.
package queue

import (
	"context"
	"sync"

	"npc-voice/internal/domain"
)

// DefaultCapacity bounds the queue when no capacity is given.
const DefaultCapacity = 64

// SentenceQueue is a bounded FIFO of sentences with a more-to-come flag.
// Put blocks while the queue is full; Get blocks while it is empty and the
// producer has not finished.
type SentenceQueue struct {
	mu         sync.Mutex
	items      []domain.Sentence
	capacity   int
	moreToCome bool
	// changed is closed and replaced on every state change.
	changed chan struct{}
}

// New creates a queue holding at most capacity sentences.
func New(capacity int) *SentenceQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SentenceQueue{capacity: capacity, changed: make(chan struct{})}
}

func (q *SentenceQueue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Put appends s, waiting for room. It fails only when ctx is done.
func (q *SentenceQueue) Put(ctx context.Context, s domain.Sentence) error {
	for {
		q.mu.Lock()
		if len(q.items) < q.capacity {
			q.items = append(q.items, s)
			q.broadcastLocked()
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Get removes the oldest sentence. It returns ok=false with a nil error when
// the queue is empty and nothing more is coming. A ctx deadline is reported
// as domain.ErrTimeout.
func (q *SentenceQueue) Get(ctx context.Context) (domain.Sentence, bool, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			s := q.popLocked()
			q.mu.Unlock()
			return s, true, nil
		}
		if !q.moreToCome {
			q.mu.Unlock()
			return domain.Sentence{}, false, nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Sentence{}, false, domain.WrapOp("SentenceQueue.Get", domain.ErrTimeout)
		case <-wait:
		}
	}
}

func (q *SentenceQueue) popLocked() domain.Sentence {
	s := q.items[0]
	q.items[0] = domain.Sentence{}
	q.items = q.items[1:]
	q.broadcastLocked()
	return s
}

// SetMoreToCome marks whether the producer may still put sentences.
func (q *SentenceQueue) SetMoreToCome(more bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.moreToCome = more
	q.broadcastLocked()
}

// MoreToCome reports the producer flag.
func (q *SentenceQueue) MoreToCome() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.moreToCome
}

// Clear drops every queued sentence and resets the producer flag.
func (q *SentenceQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.moreToCome = false
	q.broadcastLocked()
}

// Len returns the number of queued sentences.
func (q *SentenceQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
