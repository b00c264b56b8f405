package metadata

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/e7canasta/sci-capture/internal/sdk"
)

// Geometry describes the delivered payload.
type Geometry struct {
	Width         int
	Height        int
	BytesPerPixel int
	BitDepth      int
	Color         bool
}

// Builder stamps frames of one episode. Build runs on the delivery goroutine;
// ActualInterval and IntervalStats may be read from any goroutine.
type Builder struct {
	sessionID string
	camera    string
	now       func() time.Time

	start        time.Time
	intervalBits atomic.Uint64
	window       *Window
}

// NewBuilder creates a builder for camera within session.
func NewBuilder(sessionID, camera string) *Builder {
	return &Builder{
		sessionID: sessionID,
		camera:    camera,
		now:       time.Now,
		window:    NewWindow(DefaultWindowSize),
	}
}

// SessionID returns the session identifier stamped on every record.
func (b *Builder) SessionID() string { return b.sessionID }

// Reset begins a new episode at start. The interval readout is seeded with
// expected until the first frame arrives.
func (b *Builder) Reset(start time.Time, expected time.Duration) {
	b.start = start
	b.window.Reset()
	b.storeInterval(float64(expected) / float64(time.Millisecond))
}

// Start returns the episode start time.
func (b *Builder) Start() time.Time { return b.start }

// Build stamps frame seq (1-based within the episode) and refreshes the actual interval.
func (b *Builder) Build(seq uint64, info sdk.FrameInfo, g Geometry) Record {
	now := b.now()
	elapsed := now.Sub(b.start)
	elapsedMS := float64(elapsed) / float64(time.Millisecond)

	if seq > 0 {
		b.storeInterval(elapsedMS / float64(seq))
	}
	b.window.Add(now)

	return Record{
		SessionID:     b.sessionID,
		Camera:        b.camera,
		StartTime:     b.start,
		ElapsedMS:     elapsedMS,
		ImageNumber:   seq,
		FrameNr:       info.FrameNr,
		ReadoutTimeNs: info.ReadoutTimeNs,
		TimeStamp:     info.TimeStamp,
		TimeStampBOF:  info.TimeStampBOF,
		Width:         g.Width,
		Height:        g.Height,
		BytesPerPixel: g.BytesPerPixel,
		BitDepth:      g.BitDepth,
		Color:         g.Color,
	}
}

// ActualIntervalMS is elapsed/seq of the most recent frame, in milliseconds.
func (b *Builder) ActualIntervalMS() float64 {
	return math.Float64frombits(b.intervalBits.Load())
}

// IntervalStats summarizes the recent inter-frame intervals.
func (b *Builder) IntervalStats() IntervalStats {
	return b.window.Stats()
}

func (b *Builder) storeInterval(ms float64) {
	b.intervalBits.Store(math.Float64bits(ms))
}
