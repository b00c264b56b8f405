// Package acquire delivers completed frames from the hardware, either by polling
// its status on a dedicated worker or by reacting to its completion callback.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/e7canasta/sci-capture/internal/sdk"
)

const (
	// PollInterval is the sleep between two status checks.
	PollInterval = time.Millisecond
	// WaitMargin is added to every computed wait timeout.
	WaitMargin = 50 * time.Millisecond
)

var (
	// ErrTimeout is returned when a frame does not complete within the computed bound.
	ErrTimeout = errors.New("sci-capture: readout timed out")
	// ErrReadoutFailed is returned when the hardware reports a failed readout.
	ErrReadoutFailed = errors.New("sci-capture: readout failed")
	// ErrAlreadyRunning is returned by Begin while a delivery is in progress.
	ErrAlreadyRunning = errors.New("sci-capture: delivery already running")
)

// StatusFunc reads the hardware readout status.
type StatusFunc func() (sdk.Status, error)

// Timeout bounds one frame: trigger timeout, estimated readout of width*height
// pixels, twice the exposure, and WaitMargin.
func Timeout(trigger time.Duration, pixelTimeNs, width, height int, exposure time.Duration) time.Duration {
	readout := time.Duration(pixelTimeNs) * time.Duration(width) * time.Duration(height)
	return trigger + readout + 2*exposure + WaitMargin
}

// SingleWaiting reports whether a single-shot readout is still in flight.
func SingleWaiting(s sdk.Status) bool {
	return s == sdk.StatusExposureInProgress || s == sdk.StatusReadoutInProgress
}

// ContinuousWaiting reports whether the next continuous frame is still pending.
func ContinuousWaiting(s sdk.Status) bool {
	return s == sdk.StatusExposureInProgress ||
		s == sdk.StatusReadoutInProgress ||
		s == sdk.StatusReadoutNotActive
}

// WaitForCompletion polls status every tick while waiting(status) holds. It fails
// with ErrReadoutFailed, ErrTimeout, the status error, or ctx's error.
func WaitForCompletion(ctx context.Context, status StatusFunc, waiting func(sdk.Status) bool, timeout, tick time.Duration) error {
	if tick <= 0 {
		tick = PollInterval
	}
	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		s, err := status()
		if err != nil {
			return fmt.Errorf("sci-capture: check status: %w", err)
		}
		if s == sdk.StatusReadoutFailed {
			return ErrReadoutFailed
		}
		if !waiting(s) {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w after %v (last status %s)", ErrTimeout, timeout, s)
		}
		timer.Reset(tick)
	}
}
