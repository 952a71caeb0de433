// Package memory provides an in-process redelivering queue for local runs
// and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/poucher/metadata-worker/internal/enrich"
)

var (
	// ErrClosed is returned once the queue has been closed.
	ErrClosed = errors.New("queue closed")
	// ErrFull is returned when Enqueue would exceed capacity.
	ErrFull = errors.New("queue full")
)

// Queue is a bounded in-memory queue. Messages settled with a non-ack
// outcome are redelivered with their attempt incremented; failed messages
// are moved to the dead-letter list.
type Queue struct {
	mu       sync.Mutex
	pending  []enrich.Message
	dead     []enrich.Message
	capacity int
	backoff  time.Duration
	closed   bool
	notify   chan struct{}
	done     chan struct{}
}

// Option customizes a Queue.
type Option func(*Queue)

// WithRetryBackoff holds redeliveries back by enrich.RetryDelay(base, attempt).
func WithRetryBackoff(base time.Duration) Option {
	return func(q *Queue) {
		q.backoff = base
	}
}

// NewQueue constructs a new queue with the provided capacity.
// A capacity of zero or less means unbounded.
func NewQueue(capacity int, opts ...Option) *Queue {
	q := &Queue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds a first delivery of msg.
func (q *Queue) Enqueue(_ context.Context, msg enrich.Message) error {
	msg.Attempt = 1
	return q.push(msg, true)
}

func (q *Queue) push(msg enrich.Message, enforceCapacity bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if enforceCapacity && q.capacity > 0 && len(q.pending) >= q.capacity {
		return ErrFull
	}
	q.pending = append(q.pending, msg)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue pops the next message, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (enrich.Message, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			msg := q.pending[0]
			q.pending = q.pending[1:]
			more := len(q.pending) > 0
			q.mu.Unlock()
			if more {
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return msg, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return enrich.Message{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return enrich.Message{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.done:
		case <-q.notify:
		}
	}
}

// Settle acknowledges or redelivers msg according to outcome.
func (q *Queue) Settle(_ context.Context, msg enrich.Message, outcome enrich.Outcome) error {
	switch {
	case outcome.Acknowledge():
		return nil
	case outcome == enrich.OutcomeFailed:
		q.mu.Lock()
		q.dead = append(q.dead, msg)
		q.mu.Unlock()
		return nil
	default:
		delay := enrich.RetryDelay(q.backoff, msg.Attempt)
		msg.Attempt = enrich.ClampAttempt(msg.Attempt) + 1
		if delay <= 0 {
			return q.push(msg, false)
		}
		// Redeliveries still waiting when the queue closes are dropped.
		time.AfterFunc(delay, func() { _ = q.push(msg, false) })
		return nil
	}
}

// Len reports the number of messages waiting for delivery.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DeadLetters returns a copy of the messages that were marked failed.
func (q *Queue) DeadLetters() []enrich.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]enrich.Message, len(q.dead))
	copy(out, q.dead)
	return out
}

// Close rejects further messages. Dequeue drains what is pending and then
// returns ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
