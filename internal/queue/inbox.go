// Package queue provides the multi-producer, single-consumer FIFO that sits
// between connection receive loops and the dispatch loop.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// OverflowPolicy decides what Push does when a bounded inbox is full.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest pushed item to make room. Injected items
	// are never evicted.
	DropOldest OverflowPolicy = iota
	// Reject fails the push with ErrFull.
	Reject
	// Block waits up to the configured timeout for room, then fails with ErrFull.
	Block
)

// DefaultBlockTimeout applies to the Block policy when no timeout is set.
const DefaultBlockTimeout = time.Second

var (
	ErrClosed = errors.New("inbox closed")
	ErrFull   = errors.New("inbox full")
)

// ParseOverflowPolicy maps a config string to a policy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop-oldest", "drop_oldest":
		return DropOldest, nil
	case "reject":
		return Reject, nil
	case "block":
		return Block, nil
	default:
		return DropOldest, fmt.Errorf("unknown overflow policy %q", s)
	}
}

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case Reject:
		return "reject"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Options configures an Inbox. The zero value is an unbounded queue.
//
// An unbounded inbox never blocks producers, so a stalled consumer lets memory
// grow without limit. Set Capacity to trade that for one of the overflow
// policies.
type Options struct {
	// Capacity bounds the number of pushed items. Injected items do not count.
	Capacity int
	Policy   OverflowPolicy
	// BlockTimeout bounds how long a Block push waits for room. Zero means
	// DefaultBlockTimeout.
	BlockTimeout time.Duration
}

type entry[T any] struct {
	v      T
	pinned bool
}

// Inbox is a FIFO safe for many concurrent producers and one consumer.
type Inbox[T any] struct {
	mu      sync.Mutex
	items   []entry[T]
	pushed  int // unpinned entries in items
	closed  bool
	dropped uint64
	opts    Options

	// ready and space are 1-buffered wakeups; a send never blocks and a
	// pending token is enough for the waiter to recheck state.
	ready chan struct{}
	space chan struct{}
	done  chan struct{}
}

// New creates an inbox with the given options.
func New[T any](opts Options) *Inbox[T] {
	if opts.Capacity < 0 {
		opts.Capacity = 0
	}
	if opts.Policy == Block && opts.BlockTimeout <= 0 {
		opts.BlockTimeout = DefaultBlockTimeout
	}
	return &Inbox[T]{
		opts:  opts,
		ready: make(chan struct{}, 1),
		space: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends v to the tail of the queue.
func (q *Inbox[T]) Push(v T) error {
	var deadline <-chan time.Time

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}

		if q.opts.Capacity == 0 || q.pushed < q.opts.Capacity {
			q.items = append(q.items, entry[T]{v: v})
			q.pushed++
			room := q.opts.Capacity > 0 && q.pushed < q.opts.Capacity
			q.mu.Unlock()
			signal(q.ready)
			if room {
				// pass the wakeup on to the next blocked producer
				signal(q.space)
			}
			return nil
		}

		switch q.opts.Policy {
		case DropOldest:
			q.evictOldest()
			q.items = append(q.items, entry[T]{v: v})
			q.dropped++
			q.mu.Unlock()
			signal(q.ready)
			return nil
		case Reject:
			q.mu.Unlock()
			return ErrFull
		}
		q.mu.Unlock()

		if deadline == nil {
			timer := time.NewTimer(q.opts.BlockTimeout)
			defer timer.Stop()
			deadline = timer.C
		}

		select {
		case <-q.space:
		case <-q.done:
			return ErrClosed
		case <-deadline:
			return ErrFull
		}
	}
}

// Inject appends v regardless of Capacity and never waits. It is meant for
// control notices that must neither be evicted by nor block behind chat traffic.
func (q *Inbox[T]) Inject(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, entry[T]{v: v, pinned: true})
	q.mu.Unlock()
	signal(q.ready)
	return nil
}

// evictOldest removes the first unpinned entry. q.mu must be held and at
// least one unpinned entry must be queued.
func (q *Inbox[T]) evictOldest() {
	for i, e := range q.items {
		if e.pinned {
			continue
		}
		copy(q.items[i:], q.items[i+1:])
		q.items[len(q.items)-1] = entry[T]{}
		q.items = q.items[:len(q.items)-1]
		q.pushed--
		return
	}
}

func (q *Inbox[T]) take() T {
	e := q.items[0]
	q.items[0] = entry[T]{}
	q.items = q.items[1:]
	if !e.pinned {
		q.pushed--
	}
	return e.v
}

// Pop removes and returns the head of the queue, blocking until an item is
// available, the inbox is closed and drained, or ctx is done.
func (q *Inbox[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.take()
			more := len(q.items) > 0
			q.mu.Unlock()
			signal(q.space)
			if more {
				signal(q.ready)
			}
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Drain removes and returns everything currently queued without blocking.
func (q *Inbox[T]) Drain() []T {
	q.mu.Lock()
	entries := q.items
	q.items = nil
	q.pushed = 0
	q.mu.Unlock()
	if len(entries) == 0 {
		return nil
	}
	signal(q.space)

	items := make([]T, len(entries))
	for i, e := range entries {
		items[i] = e.v
	}
	return items
}

// Close stops accepting pushes. Items already queued can still be popped.
func (q *Inbox[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Len returns the number of queued items.
func (q *Inbox[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many items DropOldest has evicted.
func (q *Inbox[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
