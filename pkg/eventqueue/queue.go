// Package eventqueue provides an unbounded FIFO whose pushes never block,
// delivered to a single consumer over a channel.
package eventqueue

import "sync"

type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
	stop   chan struct{}
	out    chan T
}

func New[T any]() *Queue[T] {
	q := &Queue[T]{
		stop: make(chan struct{}),
		out:  make(chan T),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.pump()
	return q
}

// Push appends v. It reports false once the queue is closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, v)
	q.cond.Signal()
	return true
}

// C returns the delivery channel. It is closed after Close.
func (q *Queue[T]) C() <-chan T {
	return q.out
}

// Len returns the number of undelivered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close drops undelivered items and closes the delivery channel. Safe to call twice.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.stop)
	q.cond.Broadcast()
}

func (q *Queue[T]) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		v := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- v:
		case <-q.stop:
			return
		}
	}
}
