// Package ringbuffer provides a fixed-capacity circular buffer that never
// blocks and never grows. When full, each Append silently replaces the oldest
// element.
package ringbuffer

import (
	"errors"
	"fmt"
)

// Errors returned by RingBuffer methods.
var (
	ErrOutOfRange    = errors.New("index out of range")
	ErrNotContiguous = errors.New("ring buffer contents wrap around the end of storage")
	ErrCapacity      = errors.New("ring buffer capacity must be at least 1")
)

// RingBuffer holds up to Cap() values of type T. Logical index i lives at
// physical position (begin+i) % Cap(). It is not safe for concurrent use.
type RingBuffer[T any] struct {
	data  []T
	begin int
	size  int
}

// New creates and returns an empty RingBuffer of the given capacity.
func New[T any](capacity int) (*RingBuffer[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("ringbuffer.New(%d): %w", capacity, ErrCapacity)
	}
	return &RingBuffer[T]{data: make([]T, capacity)}, nil
}

// Len returns the number of values stored.
func (rb *RingBuffer[T]) Len() int {
	return rb.size
}

// Cap returns the fixed capacity.
func (rb *RingBuffer[T]) Cap() int {
	return len(rb.data)
}

// Full reports whether the next Append will overwrite.
func (rb *RingBuffer[T]) Full() bool {
	return rb.size == len(rb.data)
}

// Append stores v after the newest value. It returns true when the buffer was
// already full and the oldest value was discarded to make room.
func (rb *RingBuffer[T]) Append(v T) (overwrote bool) {
	n := len(rb.data)
	end := rb.begin + rb.size
	if end >= n {
		end -= n
	}
	rb.data[end] = v
	if rb.size == n {
		rb.begin++
		if rb.begin == n {
			rb.begin = 0
		}
		return true
	}
	rb.size++
	return false
}

// physical maps a logical index in [-Len, Len) to a storage index.
func (rb *RingBuffer[T]) physical(i int) (int, error) {
	if i < -rb.size || i >= rb.size {
		return 0, fmt.Errorf("ring index %d with length %d: %w", i, rb.size, ErrOutOfRange)
	}
	if i < 0 {
		i += rb.size
	}
	return (rb.begin + i) % len(rb.data), nil
}

// Get returns the value at logical index i. Negative i counts back from the
// newest value, so Get(-1) is the most recent Append.
func (rb *RingBuffer[T]) Get(i int) (T, error) {
	p, err := rb.physical(i)
	if err != nil {
		var zero T
		return zero, err
	}
	return rb.data[p], nil
}

// Set replaces the value at logical index i, with the same indexing as Get.
func (rb *RingBuffer[T]) Set(i int, v T) error {
	p, err := rb.physical(i)
	if err != nil {
		return err
	}
	rb.data[p] = v
	return nil
}

// IsContiguous reports whether the stored values occupy one unbroken run of
// the underlying storage, so that View can succeed.
func (rb *RingBuffer[T]) IsContiguous() bool {
	return rb.begin+rb.size <= len(rb.data)
}

// View returns the stored values, oldest first, as a slice sharing storage with
// the buffer. It is valid only until the next Append, Set, Clear or Drain.
func (rb *RingBuffer[T]) View() ([]T, error) {
	if !rb.IsContiguous() {
		return nil, ErrNotContiguous
	}
	return rb.data[rb.begin : rb.begin+rb.size : rb.begin+rb.size], nil
}

// Slice returns a copy of the stored values, oldest first.
func (rb *RingBuffer[T]) Slice() []T {
	out := make([]T, rb.size)
	if rb.IsContiguous() {
		copy(out, rb.data[rb.begin:rb.begin+rb.size])
		return out
	}
	k := copy(out, rb.data[rb.begin:])
	copy(out[k:], rb.data[:rb.size-k])
	return out
}

// Clear empties the buffer, keeping its capacity. Stored values are zeroed so
// they can be garbage collected.
func (rb *RingBuffer[T]) Clear() {
	clear(rb.data)
	rb.begin = 0
	rb.size = 0
}

// Drain empties the buffer and returns its former contents, oldest first, in
// a new slice. It is equivalent to swapping in a fresh empty buffer of the
// same capacity, but allocates only for the values actually stored.
func (rb *RingBuffer[T]) Drain() []T {
	out := rb.Slice()
	if rb.IsContiguous() {
		clear(rb.data[rb.begin : rb.begin+rb.size])
	} else {
		clear(rb.data[rb.begin:])
		clear(rb.data[:rb.begin+rb.size-len(rb.data)])
	}
	rb.begin = 0
	rb.size = 0
	return out
}
