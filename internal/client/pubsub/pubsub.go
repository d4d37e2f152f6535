// Package pubsub provides the subscription registries used by the chat client.
//
// Each subscriber has its own FIFO mailbox. Publish enqueues under the
// registry lock and delivers outside it, so callbacks may subscribe,
// unsubscribe or publish again without deadlocking, and every subscriber
// observes values in publish order.
package pubsub

import "sync"

// Registry fans values out to subscribers.
type Registry[T any] struct {
	mu      sync.Mutex
	subs    []*subscriber[T]
	replay  bool
	last    T
	lastSeq uint64
}

type subscriber[T any] struct {
	fn       func(T)
	queue    []T
	draining bool
	closed   bool
}

// New returns a registry that does not replay to late subscribers.
func New[T any]() *Registry[T] {
	return &Registry[T]{}
}

// NewReplay returns a registry that immediately hands every new subscriber
// the most recently published value, starting with initial.
func NewReplay[T any](initial T) *Registry[T] {
	return &Registry[T]{replay: true, last: initial}
}

// Subscribe registers fn and returns a function that removes it. The returned
// function is safe to call more than once.
func (r *Registry[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	s := &subscriber[T]{fn: fn}

	r.mu.Lock()
	r.subs = append(r.subs, s)
	if r.replay {
		s.queue = append(s.queue, r.last)
	}
	r.mu.Unlock()

	r.drain(s)

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(s) })
	}
}

// Publish delivers v to every current subscriber.
func (r *Registry[T]) Publish(v T) {
	r.mu.Lock()
	r.lastSeq++
	subs := r.enqueueLocked(v)
	r.mu.Unlock()

	for _, s := range subs {
		r.drain(s)
	}
}

// PublishSeq delivers v only if seq is newer than every sequence published so
// far. Producers stamp seq while holding their own lock and publish after
// releasing it, so a slow publisher cannot overwrite a newer value. It
// reports whether v was delivered.
func (r *Registry[T]) PublishSeq(seq uint64, v T) bool {
	r.mu.Lock()
	if seq <= r.lastSeq {
		r.mu.Unlock()
		return false
	}
	r.lastSeq = seq
	subs := r.enqueueLocked(v)
	r.mu.Unlock()

	for _, s := range subs {
		r.drain(s)
	}
	return true
}

// Last returns the most recently published value.
func (r *Registry[T]) Last() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Len returns the number of subscribers.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *Registry[T]) enqueueLocked(v T) []*subscriber[T] {
	r.last = v
	subs := make([]*subscriber[T], len(r.subs))
	copy(subs, r.subs)
	for _, s := range subs {
		s.queue = append(s.queue, v)
	}
	return subs
}

// drain delivers queued values to s. Only one goroutine drains a given
// subscriber at a time; others leave their values for it.
func (r *Registry[T]) drain(s *subscriber[T]) {
	r.mu.Lock()
	if s.draining {
		r.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 && !s.closed {
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]

		r.mu.Unlock()
		s.fn(v)
		r.mu.Lock()
	}
	s.draining = false
	r.mu.Unlock()
}

func (r *Registry[T]) remove(s *subscriber[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.closed = true
	s.queue = nil
	for i, sub := range r.subs {
		if sub == s {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return
		}
	}
}
