package event

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the capacity used when NewQueue is given a
// non-positive size.
const DefaultQueueSize = 1024

// Queue is a bounded, ordered Sink backed by a buffered channel.
//
// Producers call Put; a single consumer ranges over Events. Put blocks
// while the queue is full. Queue is safe for concurrent use.
type Queue struct {
	ch   chan Envelope
	done chan struct{}

	// mu guards closing ch against in-flight sends.
	mu     sync.RWMutex
	closed bool

	closeOnce sync.Once

	accepted atomic.Uint64
}

var _ Sink = (*Queue)(nil)

// NewQueue creates a queue holding at most size pending envelopes.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		ch:   make(chan Envelope, size),
		done: make(chan struct{}),
	}
}

// Put enqueues env, blocking while the queue is full.
// Returns ctx.Err() if ctx is cancelled first and ErrQueueClosed if the
// queue is (or becomes) closed.
func (q *Queue) Put(ctx context.Context, env Envelope) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- env:
		q.accepted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	}
}

// Events returns the delivery channel. It is closed by Close after all
// envelopes accepted so far have been buffered.
func (q *Queue) Events() <-chan Envelope {
	return q.ch
}

// Close stops accepting envelopes. Pending envelopes remain readable
// from Events. Close is idempotent.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		// Release blocked producers before taking the write lock.
		close(q.done)

		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
}

// Len returns the number of pending envelopes.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Accepted returns the total number of envelopes accepted by Put.
func (q *Queue) Accepted() uint64 {
	return q.accepted.Load()
}
