/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package container

const (
	minSize      = 8 // Must be a power of 2
	growthFactor = 2
	shrinkFactor = 4
)

// RingBuffer is a FIFO queue backed by a circular buffer that grows and shrinks as needed.
// It is not goroutine-safe.
type RingBuffer[T any] struct {
	buf  []T
	len  int
	head int // read index
	tail int // write index
}

func NewRingBuffer[T any]() *RingBuffer[T] {
	return &RingBuffer[T]{
		buf: make([]T, minSize),
	}
}

// Appends an item at the tail of the buffer, growing the buffer if it is full.
func (rb *RingBuffer[T]) Push(v T) {
	if rb.len == len(rb.buf) {
		rb.resize(rb.len * growthFactor)
	}

	rb.buf[rb.tail] = v
	rb.tail = rb.next(rb.tail)
	rb.len++
}

// Removes and returns the oldest item in the buffer.
// The second value is false if the buffer was empty and a zero-value item was returned instead.
func (rb *RingBuffer[T]) Pop() (T, bool) {
	var zero T
	if rb.len == 0 {
		return zero, false
	}

	v := rb.buf[rb.head]
	rb.buf[rb.head] = zero
	rb.head = rb.next(rb.head)
	rb.len--

	if rb.len <= len(rb.buf)/shrinkFactor && rb.len*growthFactor >= minSize {
		rb.resize(rb.len * growthFactor)
	}

	return v, true
}

// Returns the oldest item without removing it.
func (rb *RingBuffer[T]) Peek() (T, bool) {
	var zero T
	if rb.len == 0 {
		return zero, false
	}
	return rb.buf[rb.head], true
}

// Removes every item for which the predicate returns true, preserving the order of the rest.
// Returns the number of items removed.
func (rb *RingBuffer[T]) RemoveFunc(shouldRemove func(T) bool) int {
	kept := make([]T, 0, rb.len)
	for i := 0; i < rb.len; i++ {
		v := rb.buf[(rb.head+i)%len(rb.buf)]
		if !shouldRemove(v) {
			kept = append(kept, v)
		}
	}

	removed := rb.len - len(kept)
	if removed == 0 {
		return 0
	}

	rb.Clear()
	for _, v := range kept {
		rb.Push(v)
	}
	return removed
}

// Discards all items and releases the backing storage.
func (rb *RingBuffer[T]) Clear() {
	rb.buf = make([]T, minSize)
	rb.len = 0
	rb.head = 0
	rb.tail = 0
}

func (rb *RingBuffer[T]) Len() int {
	return rb.len
}

func (rb *RingBuffer[T]) Empty() bool {
	return rb.len == 0
}

func (rb *RingBuffer[T]) next(i int) int {
	return (i + 1) % len(rb.buf)
}

func (rb *RingBuffer[T]) resize(newSize int) {
	if newSize < minSize {
		newSize = minSize
	}
	newBuf := make([]T, newSize)
	if rb.len > 0 {
		if rb.tail > rb.head {
			copy(newBuf, rb.buf[rb.head:rb.tail])
		} else {
			n := copy(newBuf, rb.buf[rb.head:])
			copy(newBuf[n:], rb.buf[:rb.tail])
		}
	}
	rb.head = 0
	rb.tail = rb.len % newSize
	rb.buf = newBuf
}
