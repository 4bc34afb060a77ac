// Package broadcast implements one-to-many fan-out with a bounded replay
// buffer. Every subscriber sees every entry published while it is attached,
// in publish order, preceded by whatever is still in the buffer when it
// attaches.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Next once the subscription or its topic is closed.
var ErrClosed = errors.New("broadcast: closed")

// Topic is an append-only ring of the last N entries plus a wake-up channel
// that is closed and replaced on every publish.
type Topic[T any] struct {
	mu          sync.Mutex
	ring        []T
	next        uint64
	notify      chan struct{}
	subscribers int
	lastActive  time.Time
	closed      bool
	onLag       func(missed uint64)
}

// NewTopic creates a topic that keeps the last capacity entries for replay.
func NewTopic[T any](capacity int) *Topic[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Topic[T]{
		ring:       make([]T, capacity),
		notify:     make(chan struct{}),
		lastActive: time.Now(),
	}
}

// oldest is the sequence number of the oldest buffered entry. Caller holds mu.
func (t *Topic[T]) oldest() uint64 {
	capacity := uint64(len(t.ring))
	if t.next > capacity {
		return t.next - capacity
	}
	return 0
}

// Publish appends v and wakes all waiting subscribers. Publishing to a
// closed topic is a no-op.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.ring[t.next%uint64(len(t.ring))] = v
	t.next++
	t.lastActive = time.Now()
	close(t.notify)
	t.notify = make(chan struct{})
}

// Subscribe attaches a new reader positioned at the oldest buffered entry.
// Snapshot and attach happen under one lock, so nothing is missed or
// repeated at the seam.
func (t *Topic[T]) Subscribe() *Subscription[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &Subscription[T]{
		topic:  t,
		cursor: t.oldest(),
		done:   make(chan struct{}),
	}
	if t.closed {
		s.closeOnce.Do(func() { close(s.done) })
		return s
	}
	t.subscribers++
	t.lastActive = time.Now()
	return s
}

// Snapshot returns the buffered entries, oldest first.
func (t *Topic[T]) Snapshot() []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]T, 0, t.next-t.oldest())
	for seq := t.oldest(); seq < t.next; seq++ {
		out = append(out, t.ring[seq%uint64(len(t.ring))])
	}
	return out
}

// Subscribers is the number of attached subscriptions.
func (t *Topic[T]) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscribers
}

// Close detaches every subscriber; their Next returns ErrClosed.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.notify)
}

func (t *Topic[T]) idleSince(now time.Time) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subscribers > 0 {
		return 0, false
	}
	return now.Sub(t.lastActive), true
}

func (t *Topic[T]) release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subscribers > 0 {
		t.subscribers--
	}
	t.lastActive = time.Now()
}

// Subscription is one reader of a Topic. It is not safe for concurrent
// calls to Next.
type Subscription[T any] struct {
	topic     *Topic[T]
	cursor    uint64
	missed    uint64
	done      chan struct{}
	closeOnce sync.Once
}

// Next blocks until an entry is available, ctx is done, or the subscription
// is closed. A reader that fell behind the replay buffer skips to the
// oldest buffered entry.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	var zero T
	t := s.topic
	for {
		select {
		case <-s.done:
			return zero, ErrClosed
		default:
		}

		t.mu.Lock()
		if s.cursor < t.next {
			if oldest := t.oldest(); s.cursor < oldest {
				lag := oldest - s.cursor
				s.missed += lag
				s.cursor = oldest
				if t.onLag != nil {
					t.onLag(lag)
				}
			}
			v := t.ring[s.cursor%uint64(len(t.ring))]
			s.cursor++
			t.mu.Unlock()
			return v, nil
		}
		if t.closed {
			t.mu.Unlock()
			return zero, ErrClosed
		}
		wait := t.notify
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-s.done:
			return zero, ErrClosed
		case <-wait:
		}
	}
}

// Missed is the number of entries skipped because the reader lagged.
func (s *Subscription[T]) Missed() uint64 {
	s.topic.mu.Lock()
	defer s.topic.mu.Unlock()
	return s.missed
}

// Close detaches the subscription from its topic. Safe to call repeatedly.
func (s *Subscription[T]) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.topic.release()
	})
}
