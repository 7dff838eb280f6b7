package fifoqueue

import (
	"fmt"
	mathbits "math/bits"
	"sync"

	"github.com/ef-ds/deque"
)

// FifoQueue is a concurrency safe FIFO queue with a maximum capacity. Elements
// pushed beyond the capacity are dropped. The length observer is called with
// the new length after every change and must not block.
type FifoQueue struct {
	mu             sync.Mutex
	queue          deque.Deque
	maxCapacity    int
	lengthObserver QueueLengthObserver
}

// ConstructorOption configures a FifoQueue.
type ConstructorOption func(*FifoQueue) error

// QueueLengthObserver is notified of the queue length.
type QueueLengthObserver func(int)

// WithCapacity sets the maximum number of elements. The default is the
// largest int.
func WithCapacity(capacity int) ConstructorOption {
	return func(queue *FifoQueue) error {
		if capacity < 1 {
			return fmt.Errorf("capacity for Fifo queue must be positive")
		}
		queue.maxCapacity = capacity
		return nil
	}
}

// WithLengthObserver sets the length observer.
func WithLengthObserver(callback QueueLengthObserver) ConstructorOption {
	return func(queue *FifoQueue) error {
		if callback == nil {
			return fmt.Errorf("nil is not a valid QueueLengthObserver")
		}
		queue.lengthObserver = callback
		return nil
	}
}

func NewFifoQueue(options ...ConstructorOption) (*FifoQueue, error) {
	queue := &FifoQueue{
		maxCapacity:    1<<(mathbits.UintSize-1) - 1,
		lengthObserver: func(int) {},
	}
	for _, opt := range options {
		if err := opt(queue); err != nil {
			return nil, fmt.Errorf("failed to apply constructor option to fifoqueue queue: %w", err)
		}
	}
	return queue, nil
}

// Push appends element to the tail of the queue. It returns false if the
// queue is full.
func (q *FifoQueue) Push(element interface{}) bool {
	q.mu.Lock()
	if q.queue.Len() >= q.maxCapacity {
		q.mu.Unlock()
		return false
	}
	q.queue.PushBack(element)
	length := q.queue.Len()
	q.mu.Unlock()

	q.lengthObserver(length)
	return true
}

// Front returns the head of the queue without removing it.
func (q *FifoQueue) Front() (interface{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queue.Front()
}

// Pop removes and returns the head of the queue.
func (q *FifoQueue) Pop() (interface{}, bool) {
	q.mu.Lock()
	element, ok := q.queue.PopFront()
	length := q.queue.Len()
	q.mu.Unlock()

	if ok {
		q.lengthObserver(length)
	}
	return element, ok
}

// Len returns the current length of the queue.
func (q *FifoQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queue.Len()
}
