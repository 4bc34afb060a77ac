package broadcast

import (
	"sync"
	"time"
)

// Registry keeps one Topic per key, created on first publish or subscribe.
type Registry[K comparable, T any] struct {
	mu       sync.RWMutex
	topics   map[K]*Topic[T]
	capacity int
	onLag    func(key K, missed uint64)
}

// Option configures a Registry.
type Option[K comparable, T any] func(*Registry[K, T])

// WithLagHook is called whenever a subscriber skips entries it fell behind on.
func WithLagHook[K comparable, T any](fn func(key K, missed uint64)) Option[K, T] {
	return func(r *Registry[K, T]) { r.onLag = fn }
}

// NewRegistry creates a registry whose topics replay the last capacity entries.
func NewRegistry[K comparable, T any](capacity int, opts ...Option[K, T]) *Registry[K, T] {
	r := &Registry[K, T]{
		topics:   make(map[K]*Topic[T]),
		capacity: capacity,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish appends v to the topic of key.
func (r *Registry[K, T]) Publish(key K, v T) {
	r.mu.RLock()
	t, ok := r.topics[key]
	if ok {
		t.Publish(v)
		r.mu.RUnlock()
		return
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.topicLocked(key).Publish(v)
}

// Subscribe attaches a new subscription to the topic of key.
func (r *Registry[K, T]) Subscribe(key K) *Subscription[T] {
	r.mu.RLock()
	t, ok := r.topics[key]
	if ok {
		s := t.Subscribe()
		r.mu.RUnlock()
		return s
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.topicLocked(key).Subscribe()
}

// Snapshot returns the buffered entries of key, oldest first.
func (r *Registry[K, T]) Snapshot(key K) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.topics[key]; ok {
		return t.Snapshot()
	}
	return nil
}

// Subscribers counts live subscriptions across all topics.
func (r *Registry[K, T]) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, t := range r.topics {
		n += t.Subscribers()
	}
	return n
}

// Len is the number of topics.
func (r *Registry[K, T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

// EvictIdle closes and drops topics without subscribers whose last activity
// is older than ttl. It returns the number of topics removed.
func (r *Registry[K, T]) EvictIdle(ttl time.Duration, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, t := range r.topics {
		idle, ok := t.idleSince(now)
		if !ok || idle < ttl {
			continue
		}
		t.Close()
		delete(r.topics, key)
		removed++
	}
	return removed
}

// Close closes every topic.
func (r *Registry[K, T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, t := range r.topics {
		t.Close()
		delete(r.topics, key)
	}
}

func (r *Registry[K, T]) topicLocked(key K) *Topic[T] {
	if t, ok := r.topics[key]; ok {
		return t
	}
	t := NewTopic[T](r.capacity)
	if r.onLag != nil {
		hook := r.onLag
		t.onLag = func(missed uint64) { hook(key, missed) }
	}
	r.topics[key] = t
	return t
}
