// Package params resolves the interlocking readout parameters (port, speed, gain,
// exposure, trigger mode) and tracks which capture configurations they invalidate.
package params

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/e7canasta/sci-capture/internal/catalog"
	"github.com/e7canasta/sci-capture/internal/sdk"
)

const (
	// discreteGainSpan is the widest gain range still offered as a list of choices.
	discreteGainSpan = 10
	// microsecondThreshold is the exposure (ms) below which microsecond timing is used.
	microsecondThreshold = 60
)

var (
	// ErrInvalidPort is returned for ports the catalog does not know.
	ErrInvalidPort = errors.New("sci-capture: invalid port")
	// ErrInvalidSpeed is returned for speed labels not available on the current port.
	ErrInvalidSpeed = errors.New("sci-capture: invalid readout speed")
	// ErrGainOutOfRange is returned for gains outside the current speed's limits.
	ErrGainOutOfRange = errors.New("sci-capture: gain out of range")
	// ErrInvalidExposure is returned for negative or non-finite exposures.
	ErrInvalidExposure = errors.New("sci-capture: invalid exposure")
	// ErrInvalidTriggerMode is returned for unknown trigger modes.
	ErrInvalidTriggerMode = errors.New("sci-capture: invalid trigger mode")
)

// Hardware is the subset of the SDK contract the resolver drives.
type Hardware interface {
	SetPort(port int) error
	SetSpeed(index int) error
	SetGain(gain int) error
	Gain() (int, error)
	ReadNoise() (float64, error)
}

// Stopper synchronously stops a running capture. It must be a no-op when idle.
type Stopper func() error

// GainLimits are the gain bounds allowed by the current speed.
type GainLimits struct {
	Min      int
	Max      int
	Discrete bool
	Choices  []int
}

// Contains reports whether g is an allowed gain.
func (l GainLimits) Contains(g int) bool {
	return g >= l.Min && g <= l.Max
}

// LimitsFor derives gain limits from a catalog entry: wide ranges are numeric,
// narrow ones are an explicit list.
func LimitsFor(e catalog.Entry) GainLimits {
	l := GainLimits{Min: e.GainMin, Max: e.GainMax}
	if e.GainMax-e.GainMin > discreteGainSpan {
		return l
	}
	l.Discrete = true
	for g := e.GainMin; g <= e.GainMax; g++ {
		l.Choices = append(l.Choices, g)
	}
	return l
}

// State is the current parameter set.
type State struct {
	Port        int
	Speed       int
	Gain        int
	Exposure    float64 // milliseconds
	TriggerMode int
}

// Resolver owns State. It is not safe for concurrent use; the armed flags are,
// since the delivery worker clears them on exit.
type Resolver struct {
	hw           Hardware
	cat          *catalog.Catalog
	stop         Stopper
	triggerModes int

	state     State
	entry     catalog.Entry
	limits    GainLimits
	readNoise float64

	singleArmed     atomic.Bool
	continuousArmed atomic.Bool
}

// New starts the resolver on port 0, speed 0 and applies that speed's gain limits.
func New(hw Hardware, cat *catalog.Catalog, triggerModes int, exposureMS float64, stop Stopper) (*Resolver, error) {
	if stop == nil {
		stop = func() error { return nil }
	}
	r := &Resolver{
		hw:           hw,
		cat:          cat,
		stop:         stop,
		triggerModes: triggerModes,
		state:        State{Exposure: exposureMS},
	}

	first, ok := cat.First(0)
	if !ok {
		return nil, fmt.Errorf("%w: 0", ErrInvalidPort)
	}
	if err := r.applySpeed(first); err != nil {
		return nil, err
	}
	return r, nil
}

// State returns a copy of the current parameters.
func (r *Resolver) State() State { return r.state }

// Entry returns the catalog entry for the current port and speed.
func (r *Resolver) Entry() catalog.Entry { return r.entry }

// GainLimits returns the limits of the current speed.
func (r *Resolver) GainLimits() GainLimits { return r.limits }

// ReadNoise returns the read noise of the current speed.
func (r *Resolver) ReadNoise() float64 { return r.readNoise }

// SetPort stops any running capture, switches port and resets speed to the
// port's first catalog entry.
func (r *Resolver) SetPort(port int) error {
	first, ok := r.cat.First(port)
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if err := r.stop(); err != nil {
		return err
	}
	if err := r.hw.SetPort(port); err != nil {
		return fmt.Errorf("sci-capture: set port %d: %w", port, err)
	}
	r.state.Port = port
	r.InvalidateAll()

	slog.Info("sci-capture: port changed", "port", port, "speed", first.Label)
	return r.applySpeed(first)
}

// SetSpeed stops any running capture and selects the speed labelled label on
// the current port.
func (r *Resolver) SetSpeed(label string) error {
	e, ok := r.cat.Lookup(r.state.Port, label)
	if !ok {
		return fmt.Errorf("%w: %q on port %d", ErrInvalidSpeed, label, r.state.Port)
	}
	if err := r.stop(); err != nil {
		return err
	}
	r.InvalidateAll()
	return r.applySpeed(e)
}

// applySpeed sets the hardware speed and refreshes everything derived from it.
func (r *Resolver) applySpeed(e catalog.Entry) error {
	if err := r.hw.SetSpeed(e.Speed); err != nil {
		return fmt.Errorf("sci-capture: set speed %q: %w", e.Label, err)
	}
	r.state.Speed = e.Speed
	r.entry = e
	r.limits = LimitsFor(e)

	if err := r.hw.SetGain(r.limits.Min); err != nil {
		return fmt.Errorf("sci-capture: reset gain to %d: %w", r.limits.Min, err)
	}
	r.state.Gain = r.limits.Min

	noise, err := r.hw.ReadNoise()
	if err != nil {
		slog.Warn("sci-capture: read noise unavailable", "speed", e.Label, "error", err)
		noise = 0
	}
	r.readNoise = noise

	slog.Debug("sci-capture: speed applied",
		"port", e.Port,
		"speed", e.Label,
		"gain_min", r.limits.Min,
		"gain_max", r.limits.Max,
		"bit_depth", e.BitDepth,
		"read_noise", noise,
	)
	return nil
}

// SetGain stops any running capture and applies gain.
func (r *Resolver) SetGain(gain int) error {
	if !r.limits.Contains(gain) {
		return fmt.Errorf("%w: %d (must be %d-%d)", ErrGainOutOfRange, gain, r.limits.Min, r.limits.Max)
	}
	if err := r.stop(); err != nil {
		return err
	}
	if err := r.hw.SetGain(gain); err != nil {
		return fmt.Errorf("sci-capture: set gain %d: %w", gain, err)
	}
	actual, err := r.hw.Gain()
	if err != nil {
		actual = gain
	}
	r.state.Gain = actual
	r.singleArmed.Store(false)
	return nil
}

// SetExposure records a new exposure. It never stops a running capture; a changed
// value invalidates both prepared configurations. It reports whether the value changed.
func (r *Resolver) SetExposure(ms float64) (bool, error) {
	if ms < 0 || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return false, fmt.Errorf("%w: %v", ErrInvalidExposure, ms)
	}
	if ms == r.state.Exposure {
		return false, nil
	}
	r.state.Exposure = ms
	r.InvalidateAll()
	return true, nil
}

// SetTriggerMode stops any running capture and selects mode.
func (r *Resolver) SetTriggerMode(mode int) error {
	if mode < 0 || mode >= r.triggerModes {
		return fmt.Errorf("%w: %d", ErrInvalidTriggerMode, mode)
	}
	if err := r.stop(); err != nil {
		return err
	}
	r.state.TriggerMode = mode
	r.InvalidateAll()
	return nil
}

// Reconfigure stops any running capture, runs apply, and invalidates both
// prepared configurations. Used for geometry and buffer changes.
func (r *Resolver) Reconfigure(apply func() error) error {
	if err := r.stop(); err != nil {
		return err
	}
	if err := apply(); err != nil {
		return err
	}
	r.InvalidateAll()
	return nil
}

// ExposureSetting returns the exposure in the unit the hardware should be set up
// with: microseconds for short exposures when supported, else milliseconds.
func (r *Resolver) ExposureSetting(supportsMicroseconds bool) (uint32, sdk.TimingResolution) {
	return ExposureSetting(r.state.Exposure, supportsMicroseconds)
}

// ExposureSetting converts ms to a hardware exposure value and resolution.
func ExposureSetting(ms float64, supportsMicroseconds bool) (uint32, sdk.TimingResolution) {
	if ms < microsecondThreshold && supportsMicroseconds {
		return uint32(math.Round(ms * 1000)), sdk.Microseconds
	}
	return uint32(math.Round(ms)), sdk.Milliseconds
}

// InvalidateAll forces both capture modes to be re-armed.
func (r *Resolver) InvalidateAll() {
	r.singleArmed.Store(false)
	r.continuousArmed.Store(false)
}

// SingleArmed reports whether single-shot mode is configured for the current parameters.
func (r *Resolver) SingleArmed() bool { return r.singleArmed.Load() }

// SetSingleArmed records the single-shot configuration state.
func (r *Resolver) SetSingleArmed(v bool) { r.singleArmed.Store(v) }

// ContinuousArmed reports whether continuous mode is configured for the current parameters.
func (r *Resolver) ContinuousArmed() bool { return r.continuousArmed.Load() }

// SetContinuousArmed records the continuous configuration state.
func (r *Resolver) SetContinuousArmed(v bool) { r.continuousArmed.Store(v) }
