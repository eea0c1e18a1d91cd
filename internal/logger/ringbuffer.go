package logger

import "sync"

// RingBuffer is a thread-safe circular buffer for storing log entries.
type RingBuffer[T any] struct {
	buffer []T
	head   int
	count  int
	mu     sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the specified capacity.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer[T]{buffer: make([]T, capacity)}
}

// Push adds an item to the buffer, overwriting the oldest if full.
func (r *RingBuffer[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := len(r.buffer)
	r.buffer[(r.head+r.count)%size] = item
	if r.count < size {
		r.count++
		return
	}
	r.head = (r.head + 1) % size
}

// GetAll returns all items in order from oldest to newest.
func (r *RingBuffer[T]) GetAll() []T {
	return r.Last(-1)
}

// Last returns up to n of the newest items, oldest first. A negative n
// returns everything.
func (r *RingBuffer[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n < 0 || n > r.count {
		n = r.count
	}
	skip := r.count - n
	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = r.buffer[(r.head+skip+i)%len(r.buffer)]
	}
	return result
}

// Len returns the current number of items in the buffer.
func (r *RingBuffer[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
