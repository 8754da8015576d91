package router

import "sync"

// History is a thread-safe fixed-capacity ring. When full, Push
// overwrites the oldest item.
type History[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // oldest item
	count    int
	capacity int

	// Stats
	totalReceived int64
	dropped       int64
}

// NewHistory creates a ring holding at most capacity items.
func NewHistory[T any](capacity int) *History[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &History[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends item, evicting the oldest item when full.
func (h *History[T]) Push(item T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalReceived++
	if h.count == h.capacity {
		h.buf[h.head] = item
		h.head = (h.head + 1) % h.capacity
		h.dropped++
		return
	}

	h.buf[(h.head+h.count)%h.capacity] = item
	h.count++
}

// Snapshot returns the items oldest first.
func (h *History[T]) Snapshot() []T {
	h.mu.Lock()
	defer h.mu.Unlock()

	result := make([]T, h.count)
	if h.head+h.count <= h.capacity {
		// Contiguous: [head...head+count)
		copy(result, h.buf[h.head:h.head+h.count])
	} else {
		// Wrapped: [head...end) + [0...rest)
		n := copy(result, h.buf[h.head:])
		copy(result[n:], h.buf[:h.count-n])
	}
	return result
}

// Clear empties the ring. Counters are kept.
func (h *History[T]) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	var zero T
	for i := range h.buf {
		h.buf[i] = zero // Clear reference for GC
	}
	h.head = 0
	h.count = 0
}

// Len returns the current number of items.
func (h *History[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Cap returns the ring capacity.
func (h *History[T]) Cap() int {
	return h.capacity
}

// Stats returns ring statistics.
func (h *History[T]) Stats() BufferStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return BufferStats{
		Count:         h.count,
		Capacity:      h.capacity,
		TotalReceived: h.totalReceived,
		Dropped:       h.dropped,
	}
}

// BufferStats contains ring statistics.
type BufferStats struct {
	Count         int
	Capacity      int
	TotalReceived int64
	Dropped       int64
}
