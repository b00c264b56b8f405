package scicapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/sci-capture/internal/acquire"
	"github.com/e7canasta/sci-capture/internal/catalog"
	"github.com/e7canasta/sci-capture/internal/debayer"
	"github.com/e7canasta/sci-capture/internal/metadata"
	"github.com/e7canasta/sci-capture/internal/params"
	"github.com/e7canasta/sci-capture/internal/ringbuf"
	"github.com/e7canasta/sci-capture/internal/roi"
	"github.com/e7canasta/sci-capture/internal/sdk"
)

const (
	defaultExposureMS     = 10
	defaultTriggerTimeout = 2 * time.Second
	rawBytesPerPixel      = 2
)

// Camera is one open acquisition session.
//
// Every hardware call goes through one lock held for that call only. Session
// state is guarded by mu; the delivery goroutines never take mu, they read a
// snapshot of the episode and the atomic mode flags.
type Camera struct {
	cfg      Config
	dev      *sdk.Guard
	info     Info
	name     string
	cat      *catalog.Catalog
	res      *params.Resolver
	props    *params.Table
	builder  *metadata.Builder
	poller   *acquire.Poller
	notifier *acquire.Notifier

	mu             sync.Mutex
	closed         bool
	region         roi.Region
	triggerTimeout time.Duration
	depth          int
	strategy       acquire.Strategy
	color          bool
	pattern        debayer.Pattern
	converter      debayer.Converter
	sink           Sink
	image          []byte
	colorBuf       []byte
	ring           ringbuf.Buffer
	episode        *episode

	hwParams            map[string]*hwParam
	hwOrder             []string
	multGain            *hwParam
	actualGain          bool
	triggerFirstMissing bool

	running  atomic.Bool
	snapping atomic.Bool
	seq      atomic.Uint64

	episodes   atomic.Uint64
	delivered  atomic.Uint64
	snaps      atomic.Uint64
	recoveries atomic.Uint64
	errCounts  [ErrCategoryUnknown + 1]atomic.Uint64

	errMu   sync.Mutex
	lastErr error
}

// episode is the immutable view of one continuous sequence shared with the
// delivery goroutine.
type episode struct {
	frames         int
	stopOnOverflow bool
	method         acquire.Method
	sink           Sink
	width          int
	height         int
	rawBytes       int
	geometry       metadata.Geometry
	converter      debayer.Converter
	colorBuf       []byte

	done    chan struct{}
	endOnce sync.Once
	err     error
}

// end publishes the outcome to Wait. Only the first call counts.
func (ep *episode) end(err error) {
	ep.endOnce.Do(func() {
		ep.err = err
		close(ep.done)
	})
}

// Open claims dev, reads its static facts and builds the capability catalog.
//
// Returns an error if:
//   - cfg is invalid
//   - the device cannot be opened (ErrCameraNotFound)
//   - the sensor size cannot be read
//   - the catalog cannot be built (ErrCatalogBuild)
func Open(dev Device, cfg Config) (*Camera, error) {
	if dev == nil {
		return nil, fmt.Errorf("sci-capture: device is required")
	}
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}

	guard := sdk.NewGuard(dev)
	if err := guard.Open(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCameraNotFound, err)
	}

	c := &Camera{
		cfg:            cfg,
		dev:            guard,
		triggerTimeout: cfg.TriggerTimeout,
		depth:          cfg.FrameBufferDepth,
		color:          cfg.Color,
		pattern:        cfg.Pattern,
		converter:      debayer.New(cfg.Pattern),
		sink:           cfg.Sink,
	}
	if err := c.init(); err != nil {
		if closeErr := guard.Close(); closeErr != nil {
			slog.Warn("sci-capture: close after failed open", "error", closeErr)
		}
		return nil, err
	}

	slog.Info("sci-capture: camera opened",
		"camera", c.name,
		"serial", c.info.SerialNumber,
		"sensor", fmt.Sprintf("%dx%d", c.info.SensorWidth, c.info.SensorHeight),
		"ports", c.info.Ports,
		"speed", c.res.Entry().Label,
		"method", c.strategy.Method(),
		"session", c.builder.SessionID(),
	)
	return c, nil
}

func applyDefaults(cfg *Config) error {
	if cfg.ExposureMS < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidExposure, cfg.ExposureMS)
	}
	if cfg.ExposureMS == 0 {
		cfg.ExposureMS = defaultExposureMS
	}
	if cfg.TriggerTimeout < 0 {
		return fmt.Errorf("sci-capture: trigger timeout must be >= 0, got %v", cfg.TriggerTimeout)
	}
	if cfg.TriggerTimeout == 0 {
		cfg.TriggerTimeout = defaultTriggerTimeout
	}
	if cfg.FrameBufferDepth == 0 {
		cfg.FrameBufferDepth = ringbuf.DefaultDepth
	}
	if err := ringbuf.ValidateDepth(cfg.FrameBufferDepth); err != nil {
		return err
	}
	if cfg.Method != Polling && cfg.Method != Callback {
		return fmt.Errorf("sci-capture: unknown acquisition method %d", cfg.Method)
	}
	if _, err := debayer.ParsePattern(cfg.Pattern.String()); err != nil {
		return err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = acquire.PollInterval
	}
	return nil
}

func (c *Camera) init() error {
	if err := c.readInfo(); err != nil {
		return err
	}

	cat, err := catalog.Build(c.dev)
	if err != nil {
		return err
	}
	c.cat = cat

	res, err := params.New(c.dev, cat, len(c.info.TriggerModes), c.cfg.ExposureMS, c.stopLocked)
	if err != nil {
		return fmt.Errorf("sci-capture: initial readout parameters: %w", err)
	}
	c.res = res

	region, err := roi.Full(c.info.SensorWidth, c.info.SensorHeight, 1, 1)
	if err != nil {
		return fmt.Errorf("sci-capture: full-frame region: %w", err)
	}
	c.region = region
	c.resizeBuffersLocked()

	c.poller = acquire.NewPoller(c.dev, c.cfg.PollInterval)
	c.notifier = acquire.NewNotifier(c.dev, c.cfg.PollInterval)
	c.strategy = c.poller
	if c.cfg.Method == Callback {
		if err := c.notifier.Attach(); err != nil {
			return err
		}
		c.strategy = c.notifier
	}

	c.builder = metadata.NewBuilder(metadata.NewSessionID(), c.name)
	c.discoverParams()
	c.props = c.buildProperties()
	return nil
}

// readInfo reads the static facts. Only the sensor size is required.
func (c *Camera) readInfo() error {
	w, h, err := c.dev.SensorSize()
	if err != nil {
		return fmt.Errorf("sci-capture: read sensor size: %w", err)
	}
	c.info.SensorWidth, c.info.SensorHeight = w, h

	optional := func(name string, read func() (string, error)) string {
		v, err := read()
		if err != nil {
			slog.Warn("sci-capture: static fact unavailable", "fact", name, "error", err)
		}
		return v
	}
	c.info.ChipName = optional("chip_name", c.dev.ChipName)
	c.info.SerialNumber = optional("serial_number", c.dev.SerialNumber)
	c.info.FirmwareVersion = optional("firmware_version", c.dev.FirmwareVersion)

	if fw, err := c.dev.FullWellCapacity(); err != nil {
		slog.Warn("sci-capture: static fact unavailable", "fact", "full_well_capacity", "error", err)
	} else {
		c.info.FullWellCapacity = fw
	}
	if n, err := c.dev.PortCount(); err == nil {
		c.info.Ports = n
	}
	c.info.FrameTransfer = c.dev.FrameTransferCapable()
	c.info.Microseconds = c.dev.SupportsMicroseconds()
	c.info.TriggerModes = c.dev.TriggerModes()
	if len(c.info.TriggerModes) == 0 {
		c.info.TriggerModes = []string{"Timed"}
	}

	c.name = c.cfg.Name
	if c.name == "" {
		c.name = c.info.ChipName
	}
	if c.name == "" {
		c.name = "camera"
	}
	return nil
}

// Close stops any capture and releases the device. Idempotent.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	if err := c.stopLocked(); err != nil {
		slog.Warn("sci-capture: stop on close", "error", err)
	}
	if err := c.notifier.Detach(); err != nil {
		slog.Warn("sci-capture: detach callback on close", "error", err)
	}
	if err := c.dev.FinishSequence(); err != nil {
		slog.Warn("sci-capture: finish sequence on close", "error", err)
	}
	c.res.InvalidateAll()
	c.ring.Free()
	c.closed = true

	slog.Info("sci-capture: camera closed", "camera", c.name)
	if err := c.dev.Close(); err != nil {
		return fmt.Errorf("sci-capture: close device: %w", err)
	}
	return nil
}

// Info returns the static facts read at open
func (c *Camera) Info() Info {
	info := c.info
	info.TriggerModes = append([]string(nil), c.info.TriggerModes...)
	return info
}

// --- readout parameters ---

// Ports returns the number of output ports
func (c *Camera) Ports() int { return c.cat.Ports() }

// Port returns the current output port
func (c *Camera) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res.State().Port
}

// SetPort stops any running sequence, selects port and resets the speed to the
// port's first entry.
func (c *Camera) SetPort(port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	return c.record(c.res.SetPort(port))
}

// Speeds returns the speed labels of the current port
func (c *Camera) Speeds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cat.Labels(c.res.State().Port)
}

// Speed returns the current speed label
func (c *Camera) Speed() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res.Entry().Label
}

// SetSpeed stops any running sequence and selects the speed labelled label.
func (c *Camera) SetSpeed(label string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	return c.record(c.res.SetSpeed(label))
}

// Gain returns the current gain
func (c *Camera) Gain() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res.State().Gain
}

// GainLimits returns the gain bounds of the current speed
func (c *Camera) GainLimits() GainLimits {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res.GainLimits()
}

// SetGain stops any running sequence and applies gain.
func (c *Camera) SetGain(gain int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	return c.record(c.res.SetGain(gain))
}

// BitDepth returns the bit depth of the current speed
func (c *Camera) BitDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res.Entry().BitDepth
}

// ReadNoise returns the read noise of the current speed
func (c *Camera) ReadNoise() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res.ReadNoise()
}

// Exposure returns the exposure in milliseconds
func (c *Camera) Exposure() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res.State().Exposure
}

// SetExposure records a new exposure in milliseconds. A running sequence keeps
// running; a changed value takes effect at the next arm.
func (c *Camera) SetExposure(ms float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	changed, err := c.res.SetExposure(ms)
	if err != nil {
		return c.record(err)
	}
	if changed {
		slog.Debug("sci-capture: exposure changed", "exposure_ms", ms, "running", c.running.Load())
	}
	return nil
}

// TriggerModes returns the trigger modes the hardware offers
func (c *Camera) TriggerModes() []string {
	return append([]string(nil), c.info.TriggerModes...)
}

// TriggerMode returns the current trigger mode
func (c *Camera) TriggerMode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info.TriggerModes[c.res.State().TriggerMode]
}

// SetTriggerMode stops any running sequence and selects the named mode.
func (c *Camera) SetTriggerMode(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	for i, m := range c.info.TriggerModes {
		if m == name {
			return c.record(c.res.SetTriggerMode(i))
		}
	}
	return c.record(fmt.Errorf("%w: %q", ErrInvalidTriggerMode, name))
}

// TriggerTimeout returns the time added to every frame wait
func (c *Camera) TriggerTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggerTimeout
}

// SetTriggerTimeout sets the time added to every frame wait. It applies from the
// next wait and never stops a running sequence.
func (c *Camera) SetTriggerTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: trigger timeout %v", ErrCannotSetProperty, d)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.triggerTimeout = d
	return nil
}

// --- geometry ---

// Binning returns the bin factors
func (c *Camera) Binning() (binX, binY int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.region.BinX, c.region.BinY
}

// SetBinning sets both bin factors to bin (1, 2, 4 or 8) and clears the region.
func (c *Camera) SetBinning(bin int) error {
	switch bin {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("%w: symmetric binning must be 1, 2, 4 or 8, got %d", ErrInvalidBin, bin)
	}
	return c.SetBinningXY(bin, bin)
}

// SetBinningXY sets independent bin factors and clears the region.
func (c *Camera) SetBinningXY(binX, binY int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	r, err := roi.Full(c.info.SensorWidth, c.info.SensorHeight, binX, binY)
	if err != nil {
		return c.record(err)
	}
	return c.record(c.res.Reconfigure(func() error { return c.setRegionLocked(r) }))
}

// ROI returns the current region
func (c *Camera) ROI() Region {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.region
}

// SetROI selects a sensor rectangle in unbinned pixels. The current bin
// factors are kept; the output is floor(width/binX) x floor(height/binY).
func (c *Camera) SetROI(x, y, width, height int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	r, err := roi.Compute(x, y, width, height, c.region.BinX, c.region.BinY)
	if err != nil {
		return c.record(err)
	}
	if err := r.Within(c.info.SensorWidth, c.info.SensorHeight); err != nil {
		return c.record(err)
	}
	return c.record(c.res.Reconfigure(func() error { return c.setRegionLocked(r) }))
}

// ClearROI restores the full sensor at the current bin factors.
func (c *Camera) ClearROI() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	r, err := roi.Full(c.info.SensorWidth, c.info.SensorHeight, c.region.BinX, c.region.BinY)
	if err != nil {
		return c.record(err)
	}
	return c.record(c.res.Reconfigure(func() error { return c.setRegionLocked(r) }))
}

func (c *Camera) setRegionLocked(r roi.Region) error {
	c.region = r
	c.resizeBuffersLocked()
	slog.Debug("sci-capture: region set",
		"region", r.String(),
		"output", fmt.Sprintf("%dx%d", r.OutputWidth(), r.OutputHeight()),
	)
	return nil
}

// resizeBuffersLocked sizes the single-shot and color buffers for the region.
func (c *Camera) resizeBuffersLocked() {
	pixels := c.region.OutputWidth() * c.region.OutputHeight()
	if n := pixels * rawBytesPerPixel; len(c.image) != n {
		c.image = make([]byte, n)
	}
	if !c.color {
		c.colorBuf = nil
		return
	}
	if n := pixels * debayer.BytesPerPixel; len(c.colorBuf) != n {
		c.colorBuf = make([]byte, n)
	}
}

// --- delivery settings ---

// FrameBufferDepth returns the ring buffer depth in frames
func (c *Camera) FrameBufferDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.depth
}

// SetFrameBufferDepth stops any running sequence and sets the ring depth.
func (c *Camera) SetFrameBufferDepth(depth int) error {
	if err := ringbuf.ValidateDepth(depth); err != nil {
		return c.record(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	return c.record(c.res.Reconfigure(func() error {
		c.depth = depth
		return nil
	}))
}

// RingBufferBytes returns the size of the current ring allocation
func (c *Camera) RingBufferBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ring.TotalBytes()
}

// AcquisitionMethod returns the frame delivery strategy
func (c *Camera) AcquisitionMethod() Method {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strategy.Method()
}

// SetAcquisitionMethod stops any running sequence and switches strategy.
func (c *Camera) SetAcquisitionMethod(m Method) error {
	if m != Polling && m != Callback {
		return fmt.Errorf("%w: acquisition method %d", ErrCannotSetProperty, m)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.strategy.Method() == m {
		return nil
	}
	return c.record(c.res.Reconfigure(func() error {
		if m == Callback {
			if err := c.notifier.Attach(); err != nil {
				return err
			}
			c.strategy = c.notifier
		} else {
			if err := c.notifier.Detach(); err != nil {
				return err
			}
			c.strategy = c.poller
		}
		slog.Info("sci-capture: acquisition method changed", "method", m)
		return nil
	}))
}

// ColorMode reports whether color reconstruction is enabled
func (c *Camera) ColorMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.color
}

// SetColorMode stops any running sequence and toggles color reconstruction.
func (c *Camera) SetColorMode(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	return c.record(c.res.Reconfigure(func() error {
		c.color = on
		c.resizeBuffersLocked()
		return nil
	}))
}

// BayerPattern returns the color filter layout
func (c *Camera) BayerPattern() BayerPattern {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pattern
}

// SetBayerPattern stops any running sequence and selects the color filter layout.
func (c *Camera) SetBayerPattern(p BayerPattern) error {
	if _, err := debayer.ParsePattern(p.String()); err != nil {
		return fmt.Errorf("%w: %w", ErrCannotSetProperty, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	return c.record(c.res.Reconfigure(func() error {
		c.pattern = p
		c.converter = debayer.New(p)
		return nil
	}))
}

// SetSink attaches the consumer of continuous sequences.
func (c *Camera) SetSink(s Sink) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return ErrBusyAcquiring
	}
	c.sink = s
	return nil
}

// --- post-processing and temperature ---

// PostProcessing reads a post-processing feature value
func (c *Camera) PostProcessing(key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrClosed
	}
	v, err := c.dev.Param(key)
	if err != nil {
		return "", fmt.Errorf("sci-capture: read post-processing %q: %w", key, err)
	}
	return v, nil
}

// SetPostProcessing stops any running sequence, writes a post-processing
// feature and returns the value the hardware applied.
func (c *Camera) SetPostProcessing(key, value string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrClosed
	}
	var applied string
	err := c.res.Reconfigure(func() error {
		if err := c.dev.SetParam(key, value); err != nil {
			return fmt.Errorf("sci-capture: set post-processing %q: %w", key, err)
		}
		v, err := c.dev.Param(key)
		if err != nil {
			return fmt.Errorf("sci-capture: read back post-processing %q: %w", key, err)
		}
		applied = v
		return nil
	})
	if err != nil {
		return "", c.record(err)
	}
	if applied != value {
		slog.Warn("sci-capture: post-processing value adjusted by hardware",
			"key", key,
			"requested", value,
			"applied", applied,
		)
	}
	return applied, nil
}

// Temperature returns the sensor temperature in degrees Celsius
func (c *Camera) Temperature() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}
	v, err := c.dev.Temperature()
	if err != nil {
		return 0, fmt.Errorf("sci-capture: read temperature: %w", err)
	}
	return float64(v) / 100, nil
}

// TemperatureSetpoint returns the cooling target in degrees Celsius
func (c *Camera) TemperatureSetpoint() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}
	v, err := c.dev.TemperatureSetpoint()
	if err != nil {
		return 0, fmt.Errorf("sci-capture: read temperature setpoint: %w", err)
	}
	return float64(v) / 100, nil
}

// SetTemperatureSetpoint stops any running sequence and sets the cooling
// target in degrees Celsius.
func (c *Camera) SetTemperatureSetpoint(celsius float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := c.stopLocked(); err != nil {
		return c.record(err)
	}
	if err := c.dev.SetTemperatureSetpoint(int(math.Round(celsius * 100))); err != nil {
		return c.record(fmt.Errorf("sci-capture: set temperature setpoint: %w", err))
	}
	return nil
}

// --- image ---

// ImageWidth returns the output width in pixels
func (c *Camera) ImageWidth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.region.OutputWidth()
}

// ImageHeight returns the output height in pixels
func (c *Camera) ImageHeight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.region.OutputHeight()
}

// BytesPerPixel is 2 for raw output and 4 with color reconstruction
func (c *Camera) BytesPerPixel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesPerPixelLocked()
}

func (c *Camera) bytesPerPixelLocked() int {
	if c.color {
		return debayer.BytesPerPixel
	}
	return rawBytesPerPixel
}

// ImageBufferSize returns width*height*BytesPerPixel
func (c *Camera) ImageBufferSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.region.OutputWidth() * c.region.OutputHeight() * c.bytesPerPixelLocked()
}

// Image returns the last snapped frame. The buffer is reused by the next Snap.
func (c *Camera) Image() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.color {
		return c.colorBuf
	}
	return c.image
}

// --- capture ---

// Mode returns the current capture state
func (c *Camera) Mode() SessionMode {
	switch {
	case c.running.Load():
		return ModeContinuousRunning
	case c.res.ContinuousArmed():
		return ModeContinuousArmed
	case c.res.SingleArmed():
		return ModeSingleShotArmed
	default:
		return ModeIdle
	}
}

// IsCapturing reports whether a continuous sequence is running
func (c *Camera) IsCapturing() bool { return c.running.Load() }

// exposureDuration converts the current exposure; the caller holds mu.
func (c *Camera) exposureDuration() time.Duration {
	return time.Duration(c.res.State().Exposure * float64(time.Millisecond))
}

// frameTimeoutLocked bounds one frame wait for the current parameters.
func (c *Camera) frameTimeoutLocked() time.Duration {
	return acquire.Timeout(
		c.triggerTimeout,
		c.res.Entry().PixelTimeNs,
		c.region.OutputWidth(),
		c.region.OutputHeight(),
		c.exposureDuration(),
	)
}

func (c *Camera) setupConfigLocked(frames int) sdk.SetupConfig {
	exposure, resolution := c.res.ExposureSetting(c.info.Microseconds)
	return sdk.SetupConfig{
		Region:      c.region.Descriptor(),
		TriggerMode: c.res.State().TriggerMode,
		Exposure:    exposure,
		Resolution:  resolution,
		Frames:      frames,
	}
}

// armSingleLocked configures the hardware for one frame into the image buffer.
func (c *Camera) armSingleLocked() error {
	if c.res.ContinuousArmed() {
		if err := c.dev.FinishSequence(); err != nil {
			slog.Warn("sci-capture: release continuous setup", "error", err)
		}
		c.res.SetContinuousArmed(false)
	}

	cfg := c.setupConfigLocked(1)
	frameBytes, err := c.dev.SetupSequence(cfg)
	if err != nil {
		return fmt.Errorf("sci-capture: setup single frame: %w", err)
	}
	if frameBytes != len(c.image) {
		return fmt.Errorf("%w: hardware reports %d bytes, image buffer holds %d",
			ErrBufferSizeMismatch, frameBytes, len(c.image))
	}

	c.res.SetSingleArmed(true)
	slog.Debug("sci-capture: single-shot armed",
		"frame_bytes", frameBytes,
		"exposure", cfg.Exposure,
		"resolution", cfg.Resolution.String(),
	)
	return nil
}

// armContinuousLocked configures the hardware for circular acquisition and
// sizes the ring buffer.
func (c *Camera) armContinuousLocked() error {
	if c.res.SingleArmed() {
		if err := c.dev.FinishSequence(); err != nil {
			slog.Warn("sci-capture: release single-shot setup", "error", err)
		}
		c.res.SetSingleArmed(false)
	}

	cfg := c.setupConfigLocked(0)
	frameBytes, err := c.dev.SetupContinuous(cfg)
	if err != nil {
		return fmt.Errorf("sci-capture: setup continuous: %w", err)
	}
	if frameBytes != len(c.image) {
		return fmt.Errorf("%w: hardware reports %d bytes per frame, expected %d",
			ErrBufferSizeMismatch, frameBytes, len(c.image))
	}
	if _, err := c.ring.Resize(frameBytes, c.depth); err != nil {
		return err
	}

	c.res.SetContinuousArmed(true)
	slog.Debug("sci-capture: continuous armed",
		"frame_bytes", frameBytes,
		"depth", c.depth,
		"ring_bytes", c.ring.TotalBytes(),
		"resolution", cfg.Resolution.String(),
	)
	return nil
}

// Snap exposes one frame into the image buffer and blocks until it is read
// out, the computed timeout expires or ctx is done. It fails with
// ErrBusyAcquiring during a sequence or another Snap.
func (c *Camera) Snap(ctx context.Context) error {
	if !c.snapping.CompareAndSwap(false, true) {
		return ErrBusyAcquiring
	}
	defer c.snapping.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.running.Load() {
		return ErrBusyAcquiring
	}

	if !c.res.SingleArmed() {
		if err := c.armSingleLocked(); err != nil {
			return c.record(err)
		}
	}

	timeout := c.frameTimeoutLocked()
	c.strategy.PrepareSingle()
	if err := c.dev.StartSequence(c.image); err != nil {
		c.res.SetSingleArmed(false)
		return c.record(fmt.Errorf("sci-capture: start single frame: %w", err))
	}

	if err := c.strategy.AwaitSingle(ctx, timeout); err != nil {
		c.res.SetSingleArmed(false)
		slog.Warn("sci-capture: snap failed", "timeout", timeout, "error", err)
		return c.record(fmt.Errorf("sci-capture: snap: %w", err))
	}

	if c.color {
		w, h := c.region.OutputWidth(), c.region.OutputHeight()
		if err := c.converter.Convert(c.colorBuf, c.image, w, h, c.res.Entry().BitDepth); err != nil {
			return c.record(fmt.Errorf("sci-capture: color reconstruction: %w", err))
		}
	}

	c.snaps.Add(1)
	return nil
}

// PrepareSequence arms continuous acquisition ahead of StartSequence.
func (c *Camera) PrepareSequence() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.running.Load() || c.snapping.Load() {
		return ErrBusyAcquiring
	}
	if c.res.ContinuousArmed() {
		return nil
	}
	return c.record(c.armContinuousLocked())
}

// StartSequence begins delivering frames to the sink and returns immediately.
// frames <= 0 runs until StopSequence. With stopOnOverflow false, a full sink
// is cleared and the frame redelivered once before the sequence fails.
func (c *Camera) StartSequence(frames int, stopOnOverflow bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.running.Load() || c.snapping.Load() {
		return ErrBusyAcquiring
	}
	if c.sink == nil {
		return ErrNoSink
	}

	if !c.res.ContinuousArmed() {
		if err := c.armContinuousLocked(); err != nil {
			return c.record(err)
		}
	}

	ep := c.newEpisodeLocked(frames, stopOnOverflow)
	c.episode = ep
	c.seq.Store(0)
	c.builder.Reset(time.Now(), c.exposureDuration())

	c.ring.Pin()
	c.running.Store(true)

	run := acquire.Run{
		Frames:  frames,
		Timeout: c.frameTimeoutLocked(),
		Handler: func() error { return c.handleFrame(ep) },
		Finish:  func(delivered uint64, err error) { c.finishEpisode(ep, delivered, err) },
	}
	if err := c.strategy.Begin(run); err != nil {
		c.running.Store(false)
		c.ring.Unpin()
		return c.record(fmt.Errorf("sci-capture: begin delivery: %w", err))
	}

	if err := c.dev.StartContinuous(c.ring.Bytes()); err != nil {
		c.recoverFailedStartLocked()
		return c.record(fmt.Errorf("sci-capture: start continuous: %w", err))
	}

	c.episodes.Add(1)
	slog.Info("sci-capture: sequence started",
		"camera", c.name,
		"frames", frames,
		"stop_on_overflow", stopOnOverflow,
		"method", ep.method,
		"region", c.region.String(),
		"ring_bytes", c.ring.TotalBytes(),
		"timeout", run.Timeout,
	)
	return nil
}

// recoverFailedStartLocked unwinds a sequence whose hardware start failed and
// re-arms single-shot sizing so Snap keeps working.
func (c *Camera) recoverFailedStartLocked() {
	c.running.Store(false)
	c.strategy.Halt()
	c.ring.Unpin()
	c.episode.end(nil)
	c.episode = nil

	if err := c.dev.FinishSequence(); err != nil {
		slog.Warn("sci-capture: release continuous setup", "error", err)
	}
	c.res.SetContinuousArmed(false)
	if err := c.armSingleLocked(); err != nil {
		slog.Warn("sci-capture: re-arm single shot after failed start", "error", err)
	}
}

func (c *Camera) newEpisodeLocked(frames int, stopOnOverflow bool) *episode {
	w, h := c.region.OutputWidth(), c.region.OutputHeight()
	ep := &episode{
		frames:         frames,
		stopOnOverflow: stopOnOverflow,
		method:         c.strategy.Method(),
		sink:           c.sink,
		width:          w,
		height:         h,
		rawBytes:       w * h * rawBytesPerPixel,
		geometry: metadata.Geometry{
			Width:         w,
			Height:        h,
			BytesPerPixel: c.bytesPerPixelLocked(),
			BitDepth:      c.res.Entry().BitDepth,
			Color:         c.color,
		},
		done: make(chan struct{}),
	}
	if c.color {
		ep.converter = c.converter
		ep.colorBuf = c.colorBuf
	}
	return ep
}

// handleFrame runs on the delivery goroutine for every completed frame.
func (c *Camera) handleFrame(ep *episode) error {
	data, info, err := c.dev.LatestFrame()
	if err != nil {
		if abortErr := c.dev.Abort(sdk.AbortClear); abortErr != nil {
			slog.Warn("sci-capture: abort after failed fetch", "error", abortErr)
		}
		return fmt.Errorf("%w: %w", ErrFrameFetch, err)
	}
	if len(data) < ep.rawBytes {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFrameFetch, len(data), ep.rawBytes)
	}

	seq := c.seq.Add(1)
	if c.snapping.Load() {
		return nil
	}

	f := Frame{
		Seq:           seq,
		Width:         ep.width,
		Height:        ep.height,
		BytesPerPixel: ep.geometry.BytesPerPixel,
		Data:          data[:ep.rawBytes],
		Metadata:      c.builder.Build(seq, info, ep.geometry),
	}

	if ep.converter != nil {
		if err := ep.converter.Convert(ep.colorBuf, f.Data, ep.width, ep.height, ep.geometry.BitDepth); err != nil {
			return fmt.Errorf("sci-capture: color reconstruction: %w", err)
		}
		f.Data = ep.colorBuf
	}

	if err := c.deliver(ep, f); err != nil {
		return err
	}
	c.delivered.Add(1)
	return nil
}

// deliver applies the overflow policy: with stopOnOverflow false a full sink is
// cleared and the same frame inserted exactly once more.
func (c *Camera) deliver(ep *episode, f Frame) error {
	err := ep.sink.InsertImage(f)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrSinkOverflow) || ep.stopOnOverflow {
		return fmt.Errorf("sci-capture: deliver frame %d: %w", f.Seq, err)
	}

	slog.Warn("sci-capture: sink overflow, clearing buffer", "seq", f.Seq)
	if clearErr := ep.sink.ClearBuffer(); clearErr != nil {
		return fmt.Errorf("sci-capture: clear sink after overflow: %w", clearErr)
	}
	c.recoveries.Add(1)

	if err := ep.sink.InsertImage(f); err != nil {
		return fmt.Errorf("sci-capture: redeliver frame %d: %w", f.Seq, err)
	}
	return nil
}

// finishEpisode releases the hardware once per episode. It runs on the delivery
// goroutine or under mu from stopLocked, and never takes mu itself.
func (c *Camera) finishEpisode(ep *episode, delivered uint64, err error) {
	if !c.running.CompareAndSwap(true, false) {
		return
	}

	mode := sdk.AbortHalt
	if ep.method == Callback {
		mode = sdk.AbortClear
	}
	if stopErr := c.dev.StopContinuous(mode); stopErr != nil {
		slog.Error("sci-capture: stop continuous", "error", stopErr)
	}
	if finErr := c.dev.FinishSequence(); finErr != nil {
		slog.Error("sci-capture: finish sequence", "error", finErr)
	}
	c.res.SetContinuousArmed(false)
	c.ring.Unpin()

	if err != nil {
		c.record(err)
		slog.Error("sci-capture: sequence failed",
			"camera", c.name,
			"delivered", delivered,
			"category", Classify(err).String(),
			"error", err,
		)
	} else {
		slog.Info("sci-capture: sequence finished",
			"camera", c.name,
			"delivered", delivered,
			"actual_interval_ms", c.builder.ActualIntervalMS(),
		)
	}

	ep.sink.AcquisitionFinished(err)
	ep.end(err)
}

// stopLocked ends a running sequence synchronously. No-op when idle.
func (c *Camera) stopLocked() error {
	ep := c.episode
	if ep == nil || !c.running.Load() {
		return nil
	}

	// Halt returns once no handler is running. The polling worker finishes the
	// episode itself before that; the callback strategy leaves it to us.
	c.strategy.Halt()
	c.finishEpisode(ep, c.strategy.Delivered(), nil)

	slog.Info("sci-capture: sequence stopped", "camera", c.name, "delivered", c.strategy.Delivered())
	return nil
}

// StopSequence stops a running sequence and waits until the hardware is
// released. Idempotent.
func (c *Camera) StopSequence() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

// Wait blocks until the current or last sequence ends and returns the error
// that ended it.
func (c *Camera) Wait(ctx context.Context) error {
	c.mu.Lock()
	ep := c.episode
	c.mu.Unlock()

	if ep == nil {
		return nil
	}
	select {
	case <-ep.done:
		return ep.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- stats ---

// record counts err by category and remembers it. It returns err unchanged.
func (c *Camera) record(err error) error {
	if err == nil {
		return nil
	}
	c.errCounts[Classify(err)].Add(1)

	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
	return err
}

// Stats returns current session statistics. Safe to call from any goroutine.
func (c *Camera) Stats() Stats {
	s := Stats{
		Mode:               c.Mode(),
		Episodes:           c.episodes.Load(),
		FramesDelivered:    c.delivered.Load(),
		Snaps:              c.snaps.Load(),
		OverflowRecoveries: c.recoveries.Load(),
		ActualIntervalMS:   c.builder.ActualIntervalMS(),
		Interval:           c.builder.IntervalStats(),
		Errors:             make(map[ErrorCategory]uint64, len(c.errCounts)),
	}
	for i := range c.errCounts {
		if n := c.errCounts[i].Load(); n > 0 {
			s.Errors[ErrorCategory(i)] = n
		}
	}

	c.errMu.Lock()
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	c.errMu.Unlock()
	return s
}
