// Package notify delivers events to subscribers over bounded channels.
//
// Publishing never blocks: a subscriber whose buffer is full misses the event and the miss is
// counted. Subscriber code therefore always runs on its own goroutine, never on the publisher's.
package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultBuffer is the channel capacity used when Subscribe is called with a non-positive size.
const DefaultBuffer = 64

// Bus fans out values of type T to its subscribers.
type Bus[T any] struct {
	subs   *xsync.MapOf[uint64, *Subscription[T]]
	nextID atomic.Uint64
	closed atomic.Bool
}

// NewBus creates an empty Bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: xsync.NewMapOf[uint64, *Subscription[T]]()}
}

// Publish offers v to every subscriber without blocking.
func (b *Bus[T]) Publish(v T) {
	if b.closed.Load() {
		return
	}
	b.subs.Range(func(_ uint64, s *Subscription[T]) bool {
		s.offer(v)
		return true
	})
}

// Subscribe registers a subscriber with the given buffer size.
func (b *Bus[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription[T]{
		id:  b.nextID.Add(1),
		ch:  make(chan T, buffer),
		bus: b,
	}
	if b.closed.Load() {
		s.closed = true
		close(s.ch)
		return s
	}
	b.subs.Store(s.id, s)

	return s
}

// Subscribers returns the number of active subscriptions.
func (b *Bus[T]) Subscribers() int {
	return b.subs.Size()
}

// Close closes every subscription. Later publishes are ignored.
func (b *Bus[T]) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.subs.Range(func(_ uint64, s *Subscription[T]) bool {
		s.Close()
		return true
	})
}

// Subscription is a receiving end of a Bus.
type Subscription[T any] struct {
	id      uint64
	ch      chan T
	bus     *Bus[T]
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// C returns the delivery channel. It is closed by Close.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Dropped returns the number of events missed because the buffer was full.
func (s *Subscription[T]) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription and closes its channel. It is idempotent.
func (s *Subscription[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.bus.subs.Delete(s.id)
}

func (s *Subscription[T]) offer(v T) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- v:
	default:
		s.dropped.Add(1)
	}
}

// Handle calls fn for every delivered value on a new goroutine until ctx is done or the
// subscription is closed. The returned channel is closed when the goroutine exits.
func (s *Subscription[T]) Handle(ctx context.Context, fn func(T)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-s.ch:
				if !ok {
					return
				}
				fn(v)
			}
		}
	}()

	return done
}
