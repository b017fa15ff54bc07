// Package events provides typed topics for cross-component notifications:
// ambient color, selection and transform changes. Publishing never blocks;
// a subscriber whose buffer is full misses the event.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/heimdex/heimdex-studio/internal/timeline"
)

// Topic is a typed broadcast channel. The zero value is not usable; use
// NewTopic.
type Topic[T any] struct {
	mu     sync.RWMutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscription receives events until Close. Its lifetime belongs to the
// subscriber.
type Subscription[T any] struct {
	topic   *Topic[T]
	ch      chan T
	dropped atomic.Int64
	once    sync.Once
}

// Subscribe registers a subscriber with the given channel buffer.
func (t *Topic[T]) Subscribe(buffer int) *Subscription[T] {
	s := &Subscription[T]{topic: t, ch: make(chan T, max(buffer, 1))}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		close(s.ch)
		return s
	}
	t.subs[s] = struct{}{}
	return s
}

// Publish delivers v to every subscriber with room and returns how many
// received it.
func (t *Topic[T]) Publish(v T) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for s := range t.subs {
		select {
		case s.ch <- v:
			n++
		default:
			s.dropped.Add(1)
		}
	}
	return n
}

// Subscribers is the number of open subscriptions.
func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Close closes every subscription channel.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for s := range t.subs {
		s.once.Do(func() { close(s.ch) })
		delete(t.subs, s)
	}
}

func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Dropped counts events missed because the buffer was full.
func (s *Subscription[T]) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription[T]) Close() {
	s.topic.mu.Lock()
	defer s.topic.mu.Unlock()
	if _, ok := s.topic.subs[s]; !ok {
		return
	}
	delete(s.topic.subs, s)
	s.once.Do(func() { close(s.ch) })
}

// TransformChange is published after a direct manipulation edit.
type TransformChange struct {
	ClipID    string
	Transform timeline.Transform
}

// Bus groups the topics a live session publishes.
type Bus struct {
	Ambient   *Topic[string]
	Selection *Topic[string]
	Transform *Topic[TransformChange]
}

func NewBus() *Bus {
	return &Bus{
		Ambient:   NewTopic[string](),
		Selection: NewTopic[string](),
		Transform: NewTopic[TransformChange](),
	}
}

func (b *Bus) Close() {
	b.Ambient.Close()
	b.Selection.Close()
	b.Transform.Close()
}
