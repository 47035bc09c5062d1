// Package unboundedchan hands values from producers that must never block to
// a consumer that may be slow, such as a network socket or a database.
package unboundedchan

import (
	"sync"
	"sync/atomic"
)

// UnboundedChannel is a FIFO queue of unlimited length whose output is a channel.
// Use pointers or small values for T; every queued value is held in memory.
type UnboundedChannel[T any] struct {
	in     chan T
	out    chan T
	queue  []T
	queued atomic.Int64

	closeLock sync.Mutex
	closed    bool
}

// NewUnboundedChannel creates an UnboundedChannel and starts its forwarding goroutine,
// which runs until Close is called and every queued value has been received.
func NewUnboundedChannel[T any]() *UnboundedChannel[T] {
	uc := &UnboundedChannel[T]{
		in:  make(chan T),
		out: make(chan T),
	}
	go uc.run()
	return uc
}

func (uc *UnboundedChannel[T]) run() {
	defer close(uc.out)
	for {
		if len(uc.queue) == 0 {
			val, ok := <-uc.in
			if !ok {
				return
			}
			uc.queue = append(uc.queue, val)
			continue
		}
		select {
		case uc.out <- uc.queue[0]:
			var zero T
			uc.queue[0] = zero
			uc.queue = uc.queue[1:]
			uc.queued.Add(-1)
		case val, ok := <-uc.in:
			if !ok {
				for _, item := range uc.queue {
					uc.out <- item
					uc.queued.Add(-1)
				}
				return
			}
			uc.queue = append(uc.queue, val)
		}
	}
}

// Send queues v. It returns false, dropping v, if the channel is closed.
func (uc *UnboundedChannel[T]) Send(v T) bool {
	uc.closeLock.Lock()
	defer uc.closeLock.Unlock()
	if uc.closed {
		return false
	}
	uc.queued.Add(1)
	uc.in <- v
	return true
}

// Close stops accepting values. Values already queued are still delivered on
// Out, which is closed after the last one. Close may be called more than once.
func (uc *UnboundedChannel[T]) Close() {
	uc.closeLock.Lock()
	defer uc.closeLock.Unlock()
	if !uc.closed {
		uc.closed = true
		close(uc.in)
	}
}

// Len returns the number of values sent but not yet received.
func (uc *UnboundedChannel[T]) Len() int {
	return int(uc.queued.Load())
}

// Out returns the output channel for receiving data
func (uc *UnboundedChannel[T]) Out() <-chan T {
	return uc.out
}
