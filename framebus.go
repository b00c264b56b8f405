package scicapture

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/sci-capture/internal/fanout"
)

// DropPolicy defines what a FrameBus does for a subscriber that is still busy
type DropPolicy = fanout.Policy

const (
	// DropNew discards the incoming frame when the subscriber's channel is full
	DropNew = fanout.DropNew
	// DropOld keeps only the most recent frame
	DropOld = fanout.DropOld
)

// SubscriberStats tracks frame distribution for one FrameBus subscriber
type SubscriberStats = fanout.SubscriberStats

// LatestFrame is the receiving end of a DropOld subscription
type LatestFrame = fanout.Latest[Frame]

// FrameBus errors
var (
	ErrBusClosed          = fanout.ErrClosed
	ErrSubscriberExists   = fanout.ErrSubscriberExists
	ErrSubscriberNotFound = fanout.ErrSubscriberNotFound
	ErrNilChannel         = fanout.ErrNilChannel
)

// FrameBus is a Sink that copies every frame once and fans it out to several
// consumers. It never overflows: a subscriber that cannot keep up loses
// frames while the others continue. Subscribers share the copy and must not
// modify Frame.Data.
type FrameBus struct {
	bus *fanout.Bus[Frame]

	episodes atomic.Uint64
	dropped  atomic.Uint64

	mu      sync.Mutex
	lastErr error
	onEnd   []func(error)
}

var _ Sink = (*FrameBus)(nil)

// NewFrameBus creates a bus with no subscribers
func NewFrameBus() *FrameBus {
	return &FrameBus{bus: fanout.New[Frame]()}
}

// Subscribe registers ch under id with the DropNew policy. The bus never
// closes ch.
func (b *FrameBus) Subscribe(id string, ch chan<- Frame) error {
	return b.bus.Subscribe(id, ch)
}

// SubscribeLatest registers id with the DropOld policy
func (b *FrameBus) SubscribeLatest(id string) (*LatestFrame, error) {
	return b.bus.SubscribeLatest(id)
}

// Unsubscribe removes a subscriber
func (b *FrameBus) Unsubscribe(id string) error { return b.bus.Unsubscribe(id) }

// OnFinished registers fn to run with the error of every finished acquisition.
func (b *FrameBus) OnFinished(fn func(err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onEnd = append(b.onEnd, fn)
}

// InsertImage copies f and publishes it. It only fails once the bus is closed.
func (b *FrameBus) InsertImage(f Frame) error {
	if b.bus.Closed() {
		return ErrBusClosed
	}

	f.Data = append([]byte(nil), f.Data...)
	if n := b.bus.Publish(f); n > 0 {
		b.dropped.Add(uint64(n))
		slog.Debug("sci-capture: frame bus drop", "seq", f.Seq, "subscribers", n)
	}
	return nil
}

// ClearBuffer is a no-op: the bus holds no backlog of its own.
func (b *FrameBus) ClearBuffer() error { return nil }

// AcquisitionFinished records err and runs the OnFinished callbacks.
func (b *FrameBus) AcquisitionFinished(err error) {
	b.episodes.Add(1)

	b.mu.Lock()
	b.lastErr = err
	callbacks := slices.Clone(b.onEnd)
	b.mu.Unlock()

	for _, fn := range callbacks {
		fn(err)
	}
}

// Err returns the error the last acquisition ended with
func (b *FrameBus) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// FrameBusStats summarizes a FrameBus
type FrameBusStats struct {
	// Published counts frames handed to the subscribers
	Published uint64
	// Dropped counts per-subscriber drops across all subscribers
	Dropped uint64
	// Episodes counts finished acquisitions
	Episodes    uint64
	Subscribers []SubscriberStats
}

// Stats returns the bus counters
func (b *FrameBus) Stats() FrameBusStats {
	return FrameBusStats{
		Published:   b.bus.Published(),
		Dropped:     b.dropped.Load(),
		Episodes:    b.episodes.Load(),
		Subscribers: b.bus.AllStats(),
	}
}

// Close removes every subscriber. Idempotent.
func (b *FrameBus) Close() { b.bus.Close() }
