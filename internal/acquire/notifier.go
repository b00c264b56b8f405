package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/sci-capture/internal/sdk"
)

// Notifier runs the frame handler from the hardware's completion callback.
// The callback executes on the hardware's own goroutine; it never blocks on a wait.
type Notifier struct {
	dev  Device
	tick time.Duration

	mu       sync.Mutex
	run      *Run
	attached bool
	// inflight counts handlers running for the armed run; Halt drains it.
	inflight sync.WaitGroup

	completed atomic.Uint64
	delivered atomic.Uint64
}

var _ Strategy = (*Notifier)(nil)

// NewNotifier creates a callback strategy. Call Attach to register with the hardware.
func NewNotifier(dev Device, tick time.Duration) *Notifier {
	if tick <= 0 {
		tick = PollInterval
	}
	return &Notifier{dev: dev, tick: tick}
}

// Method returns Callback
func (n *Notifier) Method() Method { return Callback }

// Delivered returns the frames handled in the current or last episode
func (n *Notifier) Delivered() uint64 { return n.delivered.Load() }

// Attach registers the completion callback with the hardware.
func (n *Notifier) Attach() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.attached {
		return nil
	}
	if err := n.dev.RegisterFrameCallback(n.onFrameReady); err != nil {
		return fmt.Errorf("sci-capture: register frame callback: %w", err)
	}
	n.attached = true
	return nil
}

// Detach deregisters the completion callback.
func (n *Notifier) Detach() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.attached {
		return nil
	}
	n.attached = false
	n.run = nil
	if err := n.dev.DeregisterFrameCallback(); err != nil {
		return fmt.Errorf("sci-capture: deregister frame callback: %w", err)
	}
	return nil
}

// Begin arms the handler for the next callbacks.
func (n *Notifier) Begin(run Run) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.run != nil {
		return ErrAlreadyRunning
	}
	n.delivered.Store(0)
	n.completed.Store(0)
	n.run = &run
	return nil
}

// Halt disarms the handler and waits for handlers already running to return.
// It must not be called from a handler.
func (n *Notifier) Halt() {
	n.mu.Lock()
	n.run = nil
	n.mu.Unlock()

	n.inflight.Wait()
}

// onFrameReady is the hardware callback.
func (n *Notifier) onFrameReady() {
	n.completed.Add(1)

	n.mu.Lock()
	run := n.run
	if run != nil {
		n.inflight.Add(1)
	}
	n.mu.Unlock()

	// Single-shot completion or a late notification after Halt
	if run == nil {
		return
	}
	defer n.inflight.Done()

	if err := run.Handler(); err != nil {
		slog.Warn("acquire: frame handler failed in callback", "error", err)
		n.finish(run, err)
		return
	}

	if d := n.delivered.Add(1); run.Frames > 0 && d >= uint64(run.Frames) {
		n.finish(run, nil)
	}
}

// finish ends run once, unless it was halted or replaced meanwhile. It runs on
// the callback goroutine and never waits for in-flight handlers.
func (n *Notifier) finish(run *Run, err error) {
	n.mu.Lock()
	if n.run != run {
		n.mu.Unlock()
		return
	}
	n.run = nil
	n.mu.Unlock()

	if run.Finish != nil {
		run.Finish(n.delivered.Load(), err)
	}
}

// PrepareSingle resets the completion counter before a single-shot start.
func (n *Notifier) PrepareSingle() {
	n.completed.Store(0)
}

// AwaitSingle waits for the completion counter to reach one frame.
func (n *Notifier) AwaitSingle(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(n.tick)
	defer ticker.Stop()

	for n.completed.Load() < 1 {
		if !time.Now().Before(deadline) {
			n.abort()
			return fmt.Errorf("%w after %v waiting for callback", ErrTimeout, timeout)
		}
		select {
		case <-ctx.Done():
			n.abort()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (n *Notifier) abort() {
	if err := n.dev.Abort(sdk.AbortHalt); err != nil {
		slog.Warn("acquire: abort after callback wait", "error", err)
	}
}
