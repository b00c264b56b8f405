package acquire

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/e7canasta/sci-capture/internal/sdk"
)

// scriptDevice replays a status script; the last status repeats forever.
type scriptDevice struct {
	mu       sync.Mutex
	script   []sdk.Status
	pos      int
	aborts   atomic.Int32
	callback func()
}

func (d *scriptDevice) next() (sdk.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.script[d.pos]
	if d.pos < len(d.script)-1 {
		d.pos++
	}
	return s, nil
}

func (d *scriptDevice) CheckStatus() (sdk.Status, error)           { return d.next() }
func (d *scriptDevice) CheckContinuousStatus() (sdk.Status, error) { return d.next() }

func (d *scriptDevice) Abort(sdk.AbortMode) error {
	d.aborts.Add(1)
	return nil
}

func (d *scriptDevice) RegisterFrameCallback(fn func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = fn
	return nil
}

func (d *scriptDevice) DeregisterFrameCallback() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = nil
	return nil
}

func (d *scriptDevice) fire() {
	d.mu.Lock()
	cb := d.callback
	d.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func TestTimeout(t *testing.T) {
	got := Timeout(2*time.Second, 100, 100, 100, 10*time.Millisecond)
	want := 2*time.Second + time.Millisecond + 20*time.Millisecond + WaitMargin
	if got != want {
		t.Errorf("Timeout = %v, want %v", got, want)
	}
}

func TestWaitForCompletion(t *testing.T) {
	testCases := []struct {
		name    string
		script  []sdk.Status
		waiting func(sdk.Status) bool
		timeout time.Duration
		wantErr error
	}{
		{
			name:    "single_completes",
			script:  []sdk.Status{sdk.StatusExposureInProgress, sdk.StatusExposureInProgress, sdk.StatusReadoutInProgress, sdk.StatusReadoutComplete},
			waiting: SingleWaiting,
			timeout: time.Second,
		},
		{
			name:    "continuous_skips_not_active",
			script:  []sdk.Status{sdk.StatusReadoutNotActive, sdk.StatusExposureInProgress, sdk.StatusReadoutComplete},
			waiting: ContinuousWaiting,
			timeout: time.Second,
		},
		{
			name:    "readout_failed",
			script:  []sdk.Status{sdk.StatusExposureInProgress, sdk.StatusReadoutFailed},
			waiting: SingleWaiting,
			timeout: time.Second,
			wantErr: ErrReadoutFailed,
		},
		{
			name:    "timeout",
			script:  []sdk.Status{sdk.StatusExposureInProgress},
			waiting: SingleWaiting,
			timeout: 5 * time.Millisecond,
			wantErr: ErrTimeout,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := &scriptDevice{script: tc.script}
			err := WaitForCompletion(context.Background(), d.CheckStatus, tc.waiting, tc.timeout, time.Millisecond)
			if tc.wantErr == nil && err != nil {
				t.Fatalf("WaitForCompletion failed: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("WaitForCompletion error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestWaitForCompletion_Cancelled(t *testing.T) {
	d := &scriptDevice{script: []sdk.Status{sdk.StatusExposureInProgress}}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(5*time.Millisecond, cancel)

	err := WaitForCompletion(ctx, d.CheckStatus, SingleWaiting, time.Minute, time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

type finishResult struct {
	delivered uint64
	err       error
}

func TestPoller_DeliversRequestedFrames(t *testing.T) {
	d := &scriptDevice{script: []sdk.Status{sdk.StatusReadoutComplete}}
	p := NewPoller(d, time.Millisecond)

	var handled atomic.Int32
	finished := make(chan finishResult, 1)
	err := p.Begin(Run{
		Frames:  5,
		Timeout: time.Second,
		Handler: func() error { handled.Add(1); return nil },
		Finish:  func(n uint64, err error) { finished <- finishResult{n, err} },
	})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	select {
	case r := <-finished:
		if r.delivered != 5 || r.err != nil {
			t.Errorf("Finish(%d, %v), want (5, nil)", r.delivered, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for worker")
	}
	if handled.Load() != 5 {
		t.Errorf("handler called %d times, want 5", handled.Load())
	}

	// Worker exited, a new episode may begin
	if err := p.Begin(Run{Frames: 1, Timeout: time.Second, Handler: func() error { return nil }}); err != nil {
		t.Errorf("second Begin failed: %v", err)
	}
	p.Halt()
}

func TestPoller_Halt(t *testing.T) {
	d := &scriptDevice{script: []sdk.Status{sdk.StatusExposureInProgress}}
	p := NewPoller(d, time.Millisecond)

	finished := make(chan finishResult, 1)
	p.Begin(Run{
		Timeout: time.Minute,
		Handler: func() error { return nil },
		Finish:  func(n uint64, err error) { finished <- finishResult{n, err} },
	})

	if err := p.Begin(Run{Handler: func() error { return nil }}); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Begin while running = %v, want ErrAlreadyRunning", err)
	}

	done := make(chan struct{})
	go func() {
		p.Halt()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Halt did not return")
	}

	select {
	case r := <-finished:
		if r.err != nil {
			t.Errorf("Finish after Halt carried error %v", r.err)
		}
	default:
		t.Error("Finish not called before Halt returned")
	}

	// Idempotent
	p.Halt()
}

func TestPoller_HandlerErrorEndsEpisode(t *testing.T) {
	d := &scriptDevice{script: []sdk.Status{sdk.StatusReadoutComplete}}
	p := NewPoller(d, time.Millisecond)

	boom := errors.New("sink full")
	finished := make(chan finishResult, 1)
	p.Begin(Run{
		Frames:  10,
		Timeout: time.Second,
		Handler: func() error { return boom },
		Finish:  func(n uint64, err error) { finished <- finishResult{n, err} },
	})

	select {
	case r := <-finished:
		if !errors.Is(r.err, boom) || r.delivered != 0 {
			t.Errorf("Finish(%d, %v), want (0, %v)", r.delivered, r.err, boom)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for worker")
	}
}

func TestPoller_AwaitSingle(t *testing.T) {
	t.Run("completes", func(t *testing.T) {
		d := &scriptDevice{script: []sdk.Status{sdk.StatusExposureInProgress, sdk.StatusReadoutComplete}}
		p := NewPoller(d, time.Millisecond)
		if err := p.AwaitSingle(context.Background(), time.Second); err != nil {
			t.Fatalf("AwaitSingle failed: %v", err)
		}
		if d.aborts.Load() != 0 {
			t.Error("successful wait aborted the hardware")
		}
	})

	t.Run("timeout_aborts", func(t *testing.T) {
		d := &scriptDevice{script: []sdk.Status{sdk.StatusReadoutInProgress}}
		p := NewPoller(d, time.Millisecond)
		if err := p.AwaitSingle(context.Background(), 5*time.Millisecond); !errors.Is(err, ErrTimeout) {
			t.Fatalf("AwaitSingle = %v, want ErrTimeout", err)
		}
		if d.aborts.Load() != 1 {
			t.Errorf("aborts = %d, want 1", d.aborts.Load())
		}
	})
}

func TestNotifier_AutoFinish(t *testing.T) {
	d := &scriptDevice{script: []sdk.Status{sdk.StatusReadoutComplete}}
	n := NewNotifier(d, time.Millisecond)
	if err := n.Attach(); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	var handled, finishes atomic.Int32
	n.Begin(Run{
		Frames:  3,
		Handler: func() error { handled.Add(1); return nil },
		Finish:  func(uint64, error) { finishes.Add(1) },
	})

	for i := 0; i < 5; i++ {
		d.fire()
	}

	if handled.Load() != 3 {
		t.Errorf("handler called %d times, want 3", handled.Load())
	}
	if finishes.Load() != 1 {
		t.Errorf("Finish called %d times, want 1", finishes.Load())
	}
	if n.Delivered() != 3 {
		t.Errorf("Delivered = %d, want 3", n.Delivered())
	}

	if err := n.Detach(); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}
	if d.callback != nil {
		t.Error("callback still registered after Detach")
	}
}

func TestNotifier_HaltIgnoresLateCallbacks(t *testing.T) {
	d := &scriptDevice{script: []sdk.Status{sdk.StatusReadoutComplete}}
	n := NewNotifier(d, time.Millisecond)
	n.Attach()

	var handled, finishes atomic.Int32
	n.Begin(Run{
		Handler: func() error { handled.Add(1); return nil },
		Finish:  func(uint64, error) { finishes.Add(1) },
	})
	d.fire()
	n.Halt()
	d.fire()

	if handled.Load() != 1 {
		t.Errorf("handler called %d times, want 1", handled.Load())
	}
	if finishes.Load() != 0 {
		t.Error("Finish called after Halt")
	}
}

func TestNotifier_HaltWaitsForRunningHandler(t *testing.T) {
	d := &scriptDevice{script: []sdk.Status{sdk.StatusReadoutComplete}}
	n := NewNotifier(d, time.Millisecond)
	n.Attach()

	entered := make(chan struct{})
	release := make(chan struct{})
	var returned atomic.Bool
	n.Begin(Run{
		Handler: func() error {
			close(entered)
			<-release
			returned.Store(true)
			return nil
		},
	})
	go d.fire()
	<-entered

	halted := make(chan struct{})
	go func() {
		n.Halt()
		close(halted)
	}()

	select {
	case <-halted:
		t.Fatal("Halt returned while a handler was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-halted:
	case <-time.After(time.Second):
		t.Fatal("Halt did not return after the handler finished")
	}
	if !returned.Load() {
		t.Error("Halt returned before the handler")
	}

	// a new episode can start once Halt is back
	if err := n.Begin(Run{Handler: func() error { return nil }}); err != nil {
		t.Errorf("Begin after Halt = %v", err)
	}
}

func TestNotifier_HandlerError(t *testing.T) {
	d := &scriptDevice{script: []sdk.Status{sdk.StatusReadoutComplete}}
	n := NewNotifier(d, time.Millisecond)
	n.Attach()

	boom := errors.New("overflow")
	var got error
	n.Begin(Run{
		Frames:  10,
		Handler: func() error { return boom },
		Finish:  func(_ uint64, err error) { got = err },
	})
	d.fire()

	if !errors.Is(got, boom) {
		t.Errorf("Finish error = %v, want %v", got, boom)
	}
}

func TestNotifier_AwaitSingle(t *testing.T) {
	t.Run("callback_arrives", func(t *testing.T) {
		d := &scriptDevice{script: []sdk.Status{sdk.StatusReadoutComplete}}
		n := NewNotifier(d, time.Millisecond)
		n.Attach()
		n.PrepareSingle()

		time.AfterFunc(3*time.Millisecond, d.fire)
		if err := n.AwaitSingle(context.Background(), time.Second); err != nil {
			t.Fatalf("AwaitSingle failed: %v", err)
		}
	})

	t.Run("timeout_aborts", func(t *testing.T) {
		d := &scriptDevice{script: []sdk.Status{sdk.StatusReadoutComplete}}
		n := NewNotifier(d, time.Millisecond)
		n.Attach()
		n.PrepareSingle()

		if err := n.AwaitSingle(context.Background(), 5*time.Millisecond); !errors.Is(err, ErrTimeout) {
			t.Fatalf("AwaitSingle = %v, want ErrTimeout", err)
		}
		if d.aborts.Load() != 1 {
			t.Errorf("aborts = %d, want 1", d.aborts.Load())
		}
	})
}

func TestParseMethod(t *testing.T) {
	for _, m := range []Method{Polling, Callback} {
		got, ok := ParseMethod(m.String())
		if !ok || got != m {
			t.Errorf("ParseMethod(%q) = %v, %v", m.String(), got, ok)
		}
	}
	if _, ok := ParseMethod("interrupt"); ok {
		t.Error("ParseMethod accepted an unknown method")
	}
}
