// Package ringbuf manages the contiguous buffer the hardware fills during
// continuous acquisition.
package ringbuf

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

const (
	// MinDepth is the smallest number of frames the ring may hold.
	MinDepth = 3
	// MaxDepth is the largest number of frames the ring may hold.
	MaxDepth = 32
	// DefaultDepth is used when no depth is configured.
	DefaultDepth = 8
)

var (
	// ErrDepthOutOfRange is returned for depths outside [MinDepth, MaxDepth].
	ErrDepthOutOfRange = errors.New("sci-capture: frame buffer depth out of range")
	// ErrPinned is returned when a resize is attempted while the hardware owns the buffer.
	ErrPinned = errors.New("sci-capture: ring buffer in use by a running capture")
	// ErrFrameSize is returned for non-positive frame sizes.
	ErrFrameSize = errors.New("sci-capture: invalid frame byte size")
)

// ValidateDepth checks depth is within bounds.
func ValidateDepth(depth int) error {
	if depth < MinDepth || depth > MaxDepth {
		return fmt.Errorf("%w: %d (must be %d-%d)", ErrDepthOutOfRange, depth, MinDepth, MaxDepth)
	}
	return nil
}

// Buffer is a single allocation of frameBytes*depth bytes. It is owned by the
// capture session and is not safe for concurrent use, except for Unpin and
// Pinned, which the delivery worker calls when an episode ends.
type Buffer struct {
	frameBytes int
	depth      int
	data       []byte
	pinned     atomic.Bool
}

// Resize (re)allocates the buffer when the frame size or depth changed.
// It reports whether a new allocation was made.
func (b *Buffer) Resize(frameBytes, depth int) (bool, error) {
	if b.pinned.Load() {
		return false, ErrPinned
	}
	if frameBytes <= 0 {
		return false, fmt.Errorf("%w: %d", ErrFrameSize, frameBytes)
	}
	if err := ValidateDepth(depth); err != nil {
		return false, err
	}
	if b.data != nil && frameBytes == b.frameBytes && depth == b.depth {
		return false, nil
	}

	b.frameBytes = frameBytes
	b.depth = depth
	b.data = make([]byte, frameBytes*depth)

	slog.Debug("ringbuf: allocated",
		"frame_bytes", frameBytes,
		"depth", depth,
		"total_bytes", len(b.data),
	)
	return true, nil
}

// Pin marks the buffer as owned by the hardware; Resize fails until Unpin.
func (b *Buffer) Pin() { b.pinned.Store(true) }

// Unpin releases the buffer after a capture stops.
func (b *Buffer) Unpin() { b.pinned.Store(false) }

// Pinned reports whether a capture currently owns the buffer.
func (b *Buffer) Pinned() bool { return b.pinned.Load() }

// Free drops the allocation.
func (b *Buffer) Free() {
	b.data = nil
	b.frameBytes = 0
	b.depth = 0
	b.pinned.Store(false)
}

// Bytes returns the whole allocation.
func (b *Buffer) Bytes() []byte { return b.data }

// FrameBytes is the size of one slot.
func (b *Buffer) FrameBytes() int { return b.frameBytes }

// Depth is the number of slots.
func (b *Buffer) Depth() int { return b.depth }

// TotalBytes is FrameBytes*Depth.
func (b *Buffer) TotalBytes() int { return len(b.data) }

// Slot returns a view of slot i modulo depth.
func (b *Buffer) Slot(i int) []byte {
	if b.depth == 0 {
		return nil
	}
	i %= b.depth
	if i < 0 {
		i += b.depth
	}
	off := i * b.frameBytes
	return b.data[off : off+b.frameBytes : off+b.frameBytes]
}
