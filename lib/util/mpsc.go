// Package util
//
// This file provides an unbounded lock-free Multi-Producer Single-Consumer (MPSC) queue.
//
// Features and Guarantees:
//
//   - Lock-Free pushes: producers append with atomic operations and never block
//   - Unbounded Size: the queue grows as needed, limited only by available memory
//   - Single Consumer: values are delivered on the Recv() channel to one reader
//   - Producer Order: values pushed by one goroutine are delivered in push order.
//     Across concurrent producers the order is decided by whichever CAS lands first.
//   - Drain on Close: values pushed before Close are still delivered, then Recv() is closed
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is an unbounded multi-producer single-consumer queue backed by
// a linked list with a sentinel head
type LockFreeMPSC[T any] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	out      chan *T
	consumer sync.WaitGroup
	closed   atomic.Bool

	// pushing counts producers between their closed check and their append
	pushing atomic.Int64

	// mu guards the sleep/wake handshake with the consumer
	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates a new queue and starts its consumer goroutine
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	sentinel := &node[T]{}

	q := &LockFreeMPSC[T]{
		out: make(chan *T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push adds a value to the queue.
// Returns false if the value is nil or the queue is closed. A value accepted
// while Close runs concurrently is still delivered.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil {
		return false
	}
	q.pushing.Add(1)
	if q.closed.Load() {
		q.pushing.Add(-1)
		q.wake()
		return false
	}

	newNode := &node[T]{value: value}
	var backoff uint8 = 0

	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// a failed CAS means another producer already advanced the tail
				q.tail.CompareAndSwap(tailNode, newNode)
				q.pushing.Add(-1)
				q.wake()
				return true
			}
		} else {
			// help a producer that appended but has not moved the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin briefly under low contention, then yield
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// wake signals the consumer while holding mu, so a signal can never fall
// between the consumer's emptiness check and its Wait
func (q *LockFreeMPSC[T]) wake() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// consume moves values from the linked list to the output channel
func (q *LockFreeMPSC[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		hasItems := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hasItems = true

			value := next.value
			q.head.Store(next)
			q.out <- value
			next.value = nil
		}

		if hasItems {
			continue
		}

		// closed is read before pushing: a producer counted after that read
		// sees closed and backs out, so nothing can land after the last check
		if q.finished() && q.head.Load().next.Load() == nil {
			return
		}

		q.mu.Lock()
		if q.head.Load().next.Load() == nil && !q.finished() {
			q.cond.Wait()
		}
		q.mu.Unlock()
	}
}

// finished reports that the queue is closed and no push is in flight
func (q *LockFreeMPSC[T]) finished() bool {
	return q.closed.Load() && q.pushing.Load() == 0
}

// Recv returns the channel values are delivered on. It is closed once the
// queue is closed and drained.
func (q *LockFreeMPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close prevents further pushes. Values already queued are still delivered.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)
	q.wake()
}

// Wait blocks until the consumer goroutine has delivered every value and exited.
// The Recv channel must be read concurrently, otherwise Wait never returns.
func (q *LockFreeMPSC[T]) Wait() {
	q.consumer.Wait()
}

// IsClosed returns true if the queue is closed
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns an approximate count of queued values. O(n), for debugging only.
func (q *LockFreeMPSC[T]) Len() int {
	count := 0
	current := q.head.Load()
	for {
		next := current.next.Load()
		if next == nil {
			break
		}
		count++
		current = next
	}
	return count
}
