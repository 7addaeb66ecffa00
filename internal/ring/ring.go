// Package ring provides a fixed-capacity circular buffer that drops the
// oldest element once full. It is not safe for concurrent use; owners
// guard it with their own lock.
package ring

// Buffer is a generic FIFO ring buffer.
type Buffer[T any] struct {
	entries  []T
	capacity int
	head     int // index of the oldest entry once the buffer is full
}

// New creates a Buffer holding at most capacity entries.
// A non-positive capacity is treated as 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer[T]{
		entries:  make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Push appends v, overwriting the oldest entry when the buffer is full.
// It returns the evicted entry and true if one was dropped.
func (b *Buffer[T]) Push(v T) (T, bool) {
	var evicted T
	if len(b.entries) < b.capacity {
		b.entries = append(b.entries, v)
		return evicted, false
	}
	evicted = b.entries[b.head]
	b.entries[b.head] = v
	b.head = (b.head + 1) % b.capacity
	return evicted, true
}

// Len returns the number of entries currently held.
func (b *Buffer[T]) Len() int { return len(b.entries) }

// Cap returns the maximum number of entries.
func (b *Buffer[T]) Cap() int { return b.capacity }

// Each calls fn for every entry, oldest first, until fn returns false.
func (b *Buffer[T]) Each(fn func(T) bool) {
	n := len(b.entries)
	for i := 0; i < n; i++ {
		if !fn(b.entries[(b.head+i)%n]) {
			return
		}
	}
}

// Items returns a copy of the entries, oldest first.
func (b *Buffer[T]) Items() []T {
	out := make([]T, 0, len(b.entries))
	b.Each(func(v T) bool {
		out = append(out, v)
		return true
	})
	return out
}

// Clear drops every entry and keeps the capacity.
func (b *Buffer[T]) Clear() {
	var zero T
	for i := range b.entries {
		b.entries[i] = zero
	}
	b.entries = b.entries[:0]
	b.head = 0
}
