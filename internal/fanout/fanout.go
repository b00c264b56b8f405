// Package fanout distributes values to several subscribers without ever
// blocking the publisher. A subscriber that cannot keep up loses values
// instead of slowing the others.
package fanout

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

// Internal errors - mapped to public errors in the root package
var (
	ErrClosed             = errors.New("sci-capture: frame bus is closed")
	ErrSubscriberExists   = errors.New("sci-capture: subscriber already exists")
	ErrSubscriberNotFound = errors.New("sci-capture: subscriber not found")
	ErrNilChannel         = errors.New("sci-capture: nil subscriber channel")
)

// Policy defines what happens when a subscriber is still busy with earlier values
type Policy int

const (
	// DropNew discards the incoming value when the subscriber's channel is full
	DropNew Policy = iota
	// DropOld keeps only the most recent value
	DropOld
)

// String returns the policy name
func (p Policy) String() string {
	switch p {
	case DropNew:
		return "drop-new"
	case DropOld:
		return "drop-old"
	default:
		return "unknown"
	}
}

// SubscriberStats tracks distribution for one subscriber
type SubscriberStats struct {
	ID      string
	Policy  Policy
	Sent    uint64
	Dropped uint64
}

type subscriber[T any] struct {
	id      string
	policy  Policy
	ch      chan<- T
	latest  *Latest[T]
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus fans values out to subscribers. Safe for concurrent use.
type Bus[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber[T]
	published   atomic.Uint64
	closed      bool
}

// New creates an empty bus
func New[T any]() *Bus[T] {
	return &Bus[T]{subscribers: make(map[string]*subscriber[T])}
}

// Subscribe registers ch under id with the DropNew policy. The bus never
// closes ch; the caller owns it.
func (b *Bus[T]) Subscribe(id string, ch chan<- T) error {
	if ch == nil {
		return ErrNilChannel
	}
	return b.add(&subscriber[T]{id: id, policy: DropNew, ch: ch})
}

// SubscribeLatest registers id with the DropOld policy and returns its holder.
func (b *Bus[T]) SubscribeLatest(id string) (*Latest[T], error) {
	l := newLatest[T]()
	if err := b.add(&subscriber[T]{id: id, policy: DropOld, latest: l}); err != nil {
		return nil, err
	}
	return l, nil
}

func (b *Bus[T]) add(s *subscriber[T]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if _, exists := b.subscribers[s.id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[s.id] = s
	return nil
}

// Publish hands v to every subscriber without blocking. It returns the number
// of subscribers that dropped a value.
func (b *Bus[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}
	b.published.Add(1)

	dropped := 0
	for _, s := range b.subscribers {
		switch s.policy {
		case DropNew:
			select {
			case s.ch <- v:
				s.sent.Add(1)
			default:
				s.dropped.Add(1)
				dropped++
			}
		case DropOld:
			if s.latest.set(v) {
				// the previous value was never received
				s.dropped.Add(1)
				dropped++
			}
			s.sent.Add(1)
		}
	}
	return dropped
}

// Unsubscribe removes id. A DropOld holder is closed.
func (b *Bus[T]) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	if s.latest != nil {
		s.latest.Close()
	}
	delete(b.subscribers, id)
	return nil
}

// Closed reports whether Close was called
func (b *Bus[T]) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Published returns the number of Publish calls on an open bus
func (b *Bus[T]) Published() uint64 { return b.published.Load() }

// Stats returns the counters of one subscriber
func (b *Bus[T]) Stats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, exists := b.subscribers[id]
	if !exists {
		return SubscriberStats{}, ErrSubscriberNotFound
	}
	return s.stats(), nil
}

// AllStats returns the counters of every subscriber, ordered by id
func (b *Bus[T]) AllStats() []SubscriberStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]SubscriberStats, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		out = append(out, s.stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *subscriber[T]) stats() SubscriberStats {
	return SubscriberStats{
		ID:      s.id,
		Policy:  s.policy,
		Sent:    s.sent.Load(),
		Dropped: s.dropped.Load(),
	}
}

// Close removes every subscriber and closes DropOld holders. Idempotent.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subscribers {
		if s.latest != nil {
			s.latest.Close()
		}
	}
	b.subscribers = nil
}

// Latest holds the most recent value of a DropOld subscriber.
type Latest[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	value  T
	fresh  bool
	closed bool
}

func newLatest[T any]() *Latest[T] {
	l := &Latest[T]{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// set stores v and reports whether it replaced a value nobody received.
func (l *Latest[T]) set(v T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	replaced := l.fresh
	l.value = v
	l.fresh = true
	l.cond.Broadcast()
	return replaced
}

// Receive blocks until a value newer than the last received one arrives. It
// returns false once the holder is closed.
func (l *Latest[T]) Receive() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for !l.fresh && !l.closed {
		l.cond.Wait()
	}
	if !l.fresh {
		var zero T
		return zero, false
	}
	l.fresh = false
	return l.value, true
}

// TryReceive returns the pending value without blocking
func (l *Latest[T]) TryReceive() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.fresh {
		var zero T
		return zero, false
	}
	l.fresh = false
	return l.value, true
}

// Close wakes blocked receivers. A pending value can still be received.
func (l *Latest[T]) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	l.cond.Broadcast()
}
