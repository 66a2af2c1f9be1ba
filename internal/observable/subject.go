// Package observable provides a multi-subscriber value stream that replays the latest
// value to new subscribers.
package observable

import (
	"context"
	"sync"
)

// Subject broadcasts values to subscribers. Each subscriber channel holds at most one
// pending value; a slow reader sees the newest value, never a stale backlog.
type Subject[T any] struct {
	mu     sync.Mutex
	last   T
	has    bool
	nextID int
	subs   map[int]chan T
	closed bool
}

// NewSubject returns a Subject without an initial value.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{subs: map[int]chan T{}}
}

// Next stores v as the latest value and delivers it to every subscriber.
func (s *Subject[T]) Next(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.last, s.has = v, true
	for _, ch := range s.subs {
		offer(ch, v)
	}
}

// Value returns the latest value and whether one was ever emitted.
func (s *Subject[T]) Value() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.has
}

// Subscribe returns a channel receiving the current value (if any) immediately and
// every later value. The channel is closed when ctx ends or the subject is closed.
func (s *Subject[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	if s.has {
		ch <- s.last
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
		s.mu.Unlock()
	}()
	return ch
}

// Subscribers returns the number of live subscriptions.
func (s *Subject[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close closes all subscriber channels. Later Next calls are ignored.
func (s *Subject[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// offer replaces any undelivered value with v. Must be called with the lock held.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- v
}
