// Package seqbuf is a bounded FIFO of frame copies between the acquisition
// engine and a consumer.
package seqbuf

import (
	"sync"
	"sync/atomic"
)

// Buffer is a fixed-capacity circular queue. Insert never blocks; Receive
// blocks until an entry arrives or the acquisition finishes.
type Buffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	slots    []Entry
	head     int
	count    int
	policy   OverflowPolicy
	finished bool
	closed   bool

	inserted  uint64
	received  uint64
	overflows uint64
	dropped   uint64
	clears    uint64
}

// New creates a buffer with capacity slots (minimum 1).
func New(capacity int, policy OverflowPolicy) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	b := &Buffer{
		slots:  make([]Entry, capacity),
		policy: policy,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Insert copies e into the next free slot, reusing the slot's storage.
func (b *Buffer) Insert(e Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	if b.count == len(b.slots) {
		switch b.policy {
		case Overwrite:
			b.head = (b.head + 1) % len(b.slots)
			b.count--
			atomic.AddUint64(&b.dropped, 1)
		default:
			atomic.AddUint64(&b.overflows, 1)
			return ErrOverflow
		}
	}

	slot := &b.slots[(b.head+b.count)%len(b.slots)]
	slot.Data = append(slot.Data[:0], e.Data...)
	slot.Metadata = append(slot.Metadata[:0], e.Metadata...)
	slot.Width = e.Width
	slot.Height = e.Height
	slot.BytesPerPixel = e.BytesPerPixel
	slot.Sequence = e.Sequence

	b.count++
	b.finished = false
	atomic.AddUint64(&b.inserted, 1)
	b.cond.Broadcast()
	return nil
}

// take removes the head entry; the caller holds mu and count > 0.
func (b *Buffer) take() Entry {
	slot := &b.slots[b.head]
	e := *slot
	// Ownership moves to the receiver
	slot.Data = nil
	slot.Metadata = nil

	b.head = (b.head + 1) % len(b.slots)
	b.count--
	atomic.AddUint64(&b.received, 1)
	return e
}

// TryReceive returns the oldest entry without blocking
func (b *Buffer) TryReceive() (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return Entry{}, false
	}
	return b.take(), true
}

// Receive blocks until an entry is available. It returns false once the buffer
// is empty and either finished or closed.
func (b *Buffer) Receive() (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.finished && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		return Entry{}, false
	}
	return b.take(), true
}

// Clear drops every buffered entry.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.slots {
		b.slots[i].Data = b.slots[i].Data[:0]
		b.slots[i].Metadata = b.slots[i].Metadata[:0]
	}
	b.head = 0
	b.count = 0
	atomic.AddUint64(&b.clears, 1)
}

// Finish marks the end of an acquisition and wakes blocked receivers. The next
// Insert re-opens the stream.
func (b *Buffer) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.finished = true
	b.cond.Broadcast()
}

// Finished reports whether the last acquisition ended.
func (b *Buffer) Finished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished
}

// Close rejects further inserts and wakes blocked receivers.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.cond.Broadcast()
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns a snapshot of the counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Inserted:  atomic.LoadUint64(&b.inserted),
		Received:  atomic.LoadUint64(&b.received),
		Overflows: atomic.LoadUint64(&b.overflows),
		Dropped:   atomic.LoadUint64(&b.dropped),
		Clears:    atomic.LoadUint64(&b.clears),
		Len:       b.count,
		Capacity:  len(b.slots),
	}
}
