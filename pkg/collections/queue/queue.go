// Package queue provides a concurrency-safe FIFO queue backed by a growable
// ring buffer.
package queue

import (
	"sync"

	"github.com/eapache/queue"
)

// Queue is a FIFO queue safe for concurrent use. The zero value is not
// usable; create one with New.
type Queue[T any] struct {
	mu   sync.Mutex
	ring *queue.Queue
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{ring: queue.New()}
}

// Enqueue appends item at the tail.
func (q *Queue[T]) Enqueue(item T) {
	q.mu.Lock()
	q.ring.Add(item)
	q.mu.Unlock()
}

// TryDequeue removes the head item.
func (q *Queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ring.Length() == 0 {
		var zero T
		return zero, false
	}
	return q.ring.Remove().(T), true
}

// TryPeek returns the head item without removing it.
func (q *Queue[T]) TryPeek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ring.Length() == 0 {
		var zero T
		return zero, false
	}
	return q.ring.Peek().(T), true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.Length()
}
