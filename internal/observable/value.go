// Package observable holds state that one writer updates and many readers
// watch: a snapshot read plus change notification with latest-wins delivery.
package observable

import (
	"sync"
)

// Value is a single-writer cell. Readers either take a snapshot with Get or
// subscribe to changes. A slow subscriber never blocks Set; it just misses
// intermediate values and sees the newest one.
type Value[T any] struct {
	mu      sync.RWMutex
	current T
	subs    map[*subscription[T]]struct{}
	closed  bool
}

type subscription[T any] struct {
	ch chan T
}

// New creates a cell holding initial.
func New[T any](initial T) *Value[T] {
	return &Value[T]{
		current: initial,
		subs:    make(map[*subscription[T]]struct{}),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Set replaces the value and notifies subscribers. Set after Close is a no-op.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	v.current = x

	for sub := range v.subs {
		offer(sub.ch, x)
	}
}

// offer puts x into a one-slot channel, replacing an unread value.
// Only called with the write lock held, so no other sender competes.
func offer[T any](ch chan T, x T) {
	select {
	case ch <- x:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- x
}

// Subscribe returns a channel that immediately carries the current value and
// then every later value (intermediate values may be skipped). The returned
// function unsubscribes and closes the channel; it is safe to call twice.
// On a closed Value the channel is returned already closed.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)
	sub := &subscription[T]{ch: ch}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	ch <- v.current
	v.subs[sub] = struct{}{}
	v.mu.Unlock()

	return ch, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if _, ok := v.subs[sub]; ok {
			delete(v.subs, sub)
			close(ch)
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (v *Value[T]) SubscriberCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.subs)
}

// Close ends every subscription. The last value stays readable via Get.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	v.closed = true
	for sub := range v.subs {
		close(sub.ch)
		delete(v.subs, sub)
	}
}
