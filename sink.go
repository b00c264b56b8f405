package scicapture

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/e7canasta/sci-capture/internal/seqbuf"
)

// Sink receives the frames of a continuous sequence.
//
// Implementations must guarantee:
//   - InsertImage copies what it keeps; Frame.Data is reused after it returns
//   - InsertImage returns an error wrapping ErrSinkOverflow when full
//   - All methods are safe to call from the delivery goroutine while other
//     goroutines consume
type Sink interface {
	// InsertImage stores one frame.
	InsertImage(f Frame) error
	// ClearBuffer drops every stored frame so delivery can resume after an overflow.
	ClearBuffer() error
	// AcquisitionFinished is called once per sequence with the error that ended
	// it, or nil when it completed or was stopped.
	AcquisitionFinished(err error)
}

// SequenceBuffer is a bounded in-memory Sink. Frames are copied on insert and
// handed to consumers through Pop.
type SequenceBuffer struct {
	buf *seqbuf.Buffer

	mu      sync.Mutex
	lastErr error
}

var _ Sink = (*SequenceBuffer)(nil)

// NewSequenceBuffer creates a sink holding up to capacity frames.
func NewSequenceBuffer(capacity int) *SequenceBuffer {
	return &SequenceBuffer{buf: seqbuf.New(capacity, seqbuf.Reject)}
}

// InsertImage copies f. It returns ErrSinkOverflow when every slot is taken.
func (s *SequenceBuffer) InsertImage(f Frame) error {
	md, err := f.Metadata.Encode()
	if err != nil {
		return fmt.Errorf("sci-capture: encode metadata: %w", err)
	}
	return s.buf.Insert(seqbuf.Entry{
		Data:          f.Data,
		Width:         f.Width,
		Height:        f.Height,
		BytesPerPixel: f.BytesPerPixel,
		Sequence:      f.Seq,
		Metadata:      md,
	})
}

// ClearBuffer drops every buffered frame
func (s *SequenceBuffer) ClearBuffer() error {
	s.buf.Clear()
	return nil
}

// AcquisitionFinished wakes consumers blocked in Pop.
func (s *SequenceBuffer) AcquisitionFinished(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		slog.Warn("sci-capture: sequence buffer saw acquisition error", "error", err)
	}
	s.buf.Finish()
}

// Pop blocks until a frame is available. It returns false once the acquisition
// finished and every frame was consumed, or after Close. The returned frame
// owns its data.
func (s *SequenceBuffer) Pop() (Frame, bool) {
	e, ok := s.buf.Receive()
	if !ok {
		return Frame{}, false
	}
	return s.toFrame(e), true
}

// TryPop returns the oldest frame without blocking
func (s *SequenceBuffer) TryPop() (Frame, bool) {
	e, ok := s.buf.TryReceive()
	if !ok {
		return Frame{}, false
	}
	return s.toFrame(e), true
}

func (s *SequenceBuffer) toFrame(e seqbuf.Entry) Frame {
	f := Frame{
		Seq:           e.Sequence,
		Width:         e.Width,
		Height:        e.Height,
		BytesPerPixel: e.BytesPerPixel,
		Data:          e.Data,
	}
	md, err := DecodeMetadata(e.Metadata)
	if err != nil {
		slog.Warn("sci-capture: undecodable frame metadata", "seq", e.Sequence, "error", err)
		return f
	}
	f.Metadata = md
	return f
}

// Len returns the number of buffered frames
func (s *SequenceBuffer) Len() int { return s.buf.Len() }

// Done reports whether the last acquisition finished and every frame was consumed
func (s *SequenceBuffer) Done() bool {
	return s.buf.Finished() && s.buf.Len() == 0
}

// Err returns the error the last acquisition ended with
func (s *SequenceBuffer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// SequenceBufferStats tracks buffer activity
type SequenceBufferStats = seqbuf.Stats

// Stats returns the buffer counters
func (s *SequenceBuffer) Stats() SequenceBufferStats { return s.buf.Stats() }

// Close rejects further inserts and wakes blocked consumers. Idempotent.
func (s *SequenceBuffer) Close() { s.buf.Close() }
