package acquire

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/sci-capture/internal/sdk"
)

// Poller detects completed frames by polling the hardware status on a worker goroutine.
type Poller struct {
	dev  Device
	tick time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	delivered atomic.Uint64
}

var _ Strategy = (*Poller)(nil)

// NewPoller creates a polling strategy. tick <= 0 uses PollInterval.
func NewPoller(dev Device, tick time.Duration) *Poller {
	if tick <= 0 {
		tick = PollInterval
	}
	return &Poller{dev: dev, tick: tick}
}

// Method returns Polling
func (p *Poller) Method() Method { return Polling }

// Delivered returns the frames handled in the current or last episode
func (p *Poller) Delivered() uint64 { return p.delivered.Load() }

// Begin launches the worker.
func (p *Poller) Begin(run Run) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		select {
		case <-p.done:
		default:
			return ErrAlreadyRunning
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.delivered.Store(0)

	go p.loop(ctx, run, p.done)
	return nil
}

// loop waits for each frame, hands it to the handler and stops on count,
// error or cancellation.
func (p *Poller) loop(ctx context.Context, run Run, done chan struct{}) {
	defer close(done)

	var err error
	for {
		if run.Frames > 0 && p.delivered.Load() >= uint64(run.Frames) {
			break
		}

		err = WaitForCompletion(ctx, p.dev.CheckContinuousStatus, ContinuousWaiting, run.Timeout, p.tick)
		if err != nil {
			break
		}
		if err = run.Handler(); err != nil {
			break
		}
		p.delivered.Add(1)
	}

	halted := errors.Is(err, context.Canceled)
	if halted {
		err = nil
	}

	slog.Debug("acquire: polling worker exited",
		"delivered", p.delivered.Load(),
		"halted", halted,
		"error", err,
	)

	if run.Finish != nil {
		run.Finish(p.delivered.Load(), err)
	}
}

// Halt cancels the worker and waits for it to exit. Run.Finish still runs on
// the worker so the hardware is released exactly once.
func (p *Poller) Halt() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// PrepareSingle is a no-op: single-shot completion is read from the hardware status.
func (p *Poller) PrepareSingle() {}

// AwaitSingle polls the single-shot status until completion.
func (p *Poller) AwaitSingle(ctx context.Context, timeout time.Duration) error {
	err := WaitForCompletion(ctx, p.dev.CheckStatus, SingleWaiting, timeout, p.tick)
	if err != nil {
		if abortErr := p.dev.Abort(sdk.AbortHalt); abortErr != nil {
			slog.Warn("acquire: abort after failed wait", "error", abortErr)
		}
	}
	return err
}
