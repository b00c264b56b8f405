package scicapture

import "context"

// Acquirer defines the contract of a camera acquisition session
//
// Implementations must guarantee:
//   - Snap blocks for at most the computed frame timeout
//   - StartSequence returns immediately; frames arrive on the Sink
//   - StopSequence and Close are idempotent
//   - Stats is thread-safe and never blocks
type Acquirer interface {
	// Snap exposes and reads out one frame into the image buffer.
	Snap(ctx context.Context) error

	// Image returns the last snapped frame.
	Image() []byte

	// PrepareSequence arms continuous acquisition ahead of StartSequence.
	PrepareSequence() error

	// StartSequence starts delivering frames to the sink. frames <= 0 runs until
	// StopSequence.
	StartSequence(frames int, stopOnOverflow bool) error

	// StopSequence stops a running sequence and waits for the hardware to be released.
	StopSequence() error

	// Wait blocks until the current or last sequence ends.
	Wait(ctx context.Context) error

	// IsCapturing reports whether a sequence is running.
	IsCapturing() bool

	// Property reads a named parameter.
	Property(name string) (string, error)

	// SetProperty writes a named parameter.
	SetProperty(name, value string) error

	// Stats returns current session statistics.
	Stats() Stats

	// Close releases the hardware.
	Close() error
}

// Compile-time check that Camera implements Acquirer
var _ Acquirer = (*Camera)(nil)
