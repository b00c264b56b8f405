package acquire

import (
	"context"
	"time"

	"github.com/e7canasta/sci-capture/internal/sdk"
)

// Method selects how completed frames are detected.
type Method int

const (
	// Polling checks the hardware status from a dedicated worker.
	Polling Method = iota
	// Callback reacts to the hardware's completion notification.
	Callback
)

// String returns the method name as shown on the property surface
func (m Method) String() string {
	switch m {
	case Polling:
		return "Polling"
	case Callback:
		return "Callback"
	default:
		return "unknown"
	}
}

// ParseMethod is the inverse of String.
func ParseMethod(s string) (Method, bool) {
	switch s {
	case "Polling", "polling":
		return Polling, true
	case "Callback", "callback":
		return Callback, true
	default:
		return Polling, false
	}
}

// Device is the subset of the SDK contract the strategies use.
type Device interface {
	CheckStatus() (sdk.Status, error)
	CheckContinuousStatus() (sdk.Status, error)
	Abort(mode sdk.AbortMode) error
	RegisterFrameCallback(fn func()) error
	DeregisterFrameCallback() error
}

// Run describes one continuous delivery episode.
type Run struct {
	// Frames ends the episode after this many frames; <= 0 means until halted.
	Frames int
	// Timeout bounds the wait for each frame.
	Timeout time.Duration
	// Handler processes one completed frame; an error ends the episode.
	Handler func() error
	// Finish is called once when the episode ends, with the number of frames
	// delivered and the error that ended it, if any. The polling worker calls it
	// on exit, including after Halt; the callback strategy does not call it
	// after Halt.
	Finish func(delivered uint64, err error)
}

// Strategy is one of the two frame delivery implementations.
type Strategy interface {
	Method() Method
	// Begin starts a continuous episode and returns immediately.
	Begin(run Run) error
	// Halt ends the current episode and returns once no handler is running.
	// The polling strategy waits for its worker to exit; the callback strategy
	// disarms and waits for in-flight callbacks.
	Halt()
	// PrepareSingle resets single-shot completion tracking before the hardware
	// is started.
	PrepareSingle()
	// AwaitSingle blocks until the single-shot frame completes. On timeout or
	// readout failure the hardware is aborted.
	AwaitSingle(ctx context.Context, timeout time.Duration) error
	// Delivered is the number of frames handled in the current or last episode.
	Delivered() uint64
}
