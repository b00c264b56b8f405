// Package simcam is a simulated camera implementing the SDK contract. It times
// exposure and readout from the configured speed table, fills a circular
// buffer during continuous acquisition and fires the completion callback from
// its own goroutine, as real hardware does.
package simcam

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/sci-capture/internal/sdk"
)

// Native error codes reported by the simulator.
const (
	CodeNotOpen        = 1
	CodeBadParam       = 2
	CodeNotConfigured  = 3
	CodeBufferTooSmall = 4
	CodeNoFrame        = 5
	CodeInjected       = 99
	CodeOpenFailed     = 183
)

// Speed is one readout speed of a port.
type Speed struct {
	PixelTimeNs int
	GainMin     int
	GainMax     int
	BitDepth    int
	ReadNoise   float64
}

// Port is one output channel.
type Port struct {
	Speeds []Speed
}

// Param is a simulated generic parameter. Value is the enum index for
// enumerated parameters.
type Param struct {
	ReadOnly bool
	Enum     []string
	Min, Max int64
	// Step quantizes written integers, as hardware with a coarser unit does.
	Step  int64
	Value int64
}

// Faults injects hardware failures.
type Faults struct {
	Open            bool
	PixelTime       bool
	BitDepth        bool
	ReadoutFailed   bool
	StallReadout    bool
	LatestFrame     bool
	StartContinuous bool
	// FrameSizeSkew is added to the frame size reported by setup calls.
	FrameSizeSkew int
}

// Config describes the simulated camera.
type Config struct {
	ChipName             string
	SerialNumber         string
	FirmwareVersion      string
	SensorWidth          int
	SensorHeight         int
	FullWellCapacity     int
	FrameTransfer        bool
	SupportsMicroseconds bool
	TriggerModes         []string
	Ports                []Port
	// TemperatureC is the initial sensor temperature in degrees Celsius.
	TemperatureC float64
	// PostProcessing lists the supported feature keys and their initial values.
	PostProcessing map[string]string
	// Params lists the supported generic parameters.
	Params map[sdk.ParamID]Param
	Faults Faults
}

// DefaultConfig is a small two-port sensor.
func DefaultConfig() Config {
	return Config{
		ChipName:             "SIM-1024",
		FirmwareVersion:      "1.0",
		SensorWidth:          256,
		SensorHeight:         192,
		FullWellCapacity:     30000,
		FrameTransfer:        true,
		SupportsMicroseconds: true,
		TriggerModes:         []string{"Timed", "Strobed", "Bulb", "Trigger-First"},
		Ports: []Port{
			{Speeds: []Speed{
				{PixelTimeNs: 100, GainMin: 1, GainMax: 3, BitDepth: 12, ReadNoise: 1.2},
				{PixelTimeNs: 200, GainMin: 1, GainMax: 2, BitDepth: 16, ReadNoise: 0.9},
			}},
			{Speeds: []Speed{
				{PixelTimeNs: 50, GainMin: 0, GainMax: 1000, BitDepth: 14, ReadNoise: 3.5},
			}},
		},
		TemperatureC:   20,
		PostProcessing: map[string]string{"DENOISE": "0", "DEFECT-CORRECTION": "1"},
		Params:         DefaultParams(),
	}
}

// DefaultParams is a generic parameter set without preamp-off control.
func DefaultParams() map[sdk.ParamID]Param {
	return map[sdk.ParamID]Param{
		sdk.ParamADCOffset:   {Min: 0, Max: 4095, Value: 100},
		sdk.ParamClearCycles: {Min: 0, Max: 16, Value: 2},
		sdk.ParamPMode:       {Enum: []string{"Normal", "Frame Transfer"}},
		sdk.ParamClearMode: {
			Enum:  []string{"Never", "Pre-Exposure", "Pre-Sequence", "Post-Sequence"},
			Value: 1,
		},
		sdk.ParamPreampDelay: {Min: 0, Max: 1000, Step: 10},
		sdk.ParamPreMask:     {Min: 0, Max: 4},
		sdk.ParamPrescan:     {Min: 0, Max: 64},
		sdk.ParamPostscan:    {Min: 0, Max: 64},
		sdk.ParamShutterOpenMode: {
			Enum:  []string{"Never", "Pre-Exposure", "Pre-Sequence", "Pre-Trigger", "No Change"},
			Value: 1,
		},
		sdk.ParamShutterOpenDelay:  {Min: 0, Max: 10000},
		sdk.ParamShutterCloseDelay: {Min: 0, Max: 10000},
		sdk.ParamGainMultFactor:    {Min: 0, Max: 255, Value: 1},
		sdk.ParamActualGain:        {ReadOnly: true, Min: 0, Max: 100, Value: 2},
	}
}

// setup is a configured acquisition.
type setup struct {
	width, height int
	frameBytes    int
	bitDepth      int
	duration      time.Duration
	continuous    bool
}

// Device is the simulator. It is safe for concurrent use.
type Device struct {
	cfg Config

	mu       sync.Mutex
	opened   bool
	port     int
	speed    int
	gain     int
	temp     int // hundredths
	setpoint int
	params   map[string]string
	hw       map[sdk.ParamID]Param
	callback func()

	setup      *setup
	generation uint64
	status     sdk.Status
	started    time.Time
	running    bool
	stop       chan struct{}
	latest     []byte
	pending    bool
	frameNr    int32
	lastInfo   sdk.FrameInfo
}

var _ sdk.Device = (*Device)(nil)

// New creates a simulated camera.
func New(cfg Config) *Device {
	if cfg.SerialNumber == "" {
		cfg.SerialNumber = "SIM-" + uuid.NewString()[:8]
	}
	if len(cfg.TriggerModes) == 0 {
		cfg.TriggerModes = []string{"Timed"}
	}
	params := make(map[string]string, len(cfg.PostProcessing))
	for k, v := range cfg.PostProcessing {
		params[k] = v
	}
	hw := make(map[sdk.ParamID]Param, len(cfg.Params))
	for id, p := range cfg.Params {
		hw[id] = p
	}
	temp := int(cfg.TemperatureC * 100)
	return &Device{
		cfg:      cfg,
		params:   params,
		hw:       hw,
		temp:     temp,
		setpoint: temp,
	}
}

func nativeErr(op string, code int, format string, args ...any) error {
	return &sdk.Error{Op: op, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Open claims the simulated handle
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg.Faults.Open {
		return nativeErr("open", CodeOpenFailed, "camera not available")
	}
	d.opened = true
	return nil
}

// Close releases the handle and stops any acquisition
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.haltLocked()
	d.callback = nil
	d.opened = false
	return nil
}

func (d *Device) ChipName() (string, error)        { return d.cfg.ChipName, nil }
func (d *Device) SerialNumber() (string, error)    { return d.cfg.SerialNumber, nil }
func (d *Device) FirmwareVersion() (string, error) { return d.cfg.FirmwareVersion, nil }
func (d *Device) FullWellCapacity() (int, error)   { return d.cfg.FullWellCapacity, nil }
func (d *Device) FrameTransferCapable() bool       { return d.cfg.FrameTransfer }
func (d *Device) SupportsMicroseconds() bool       { return d.cfg.SupportsMicroseconds }

func (d *Device) TriggerModes() []string {
	return append([]string(nil), d.cfg.TriggerModes...)
}

func (d *Device) SensorSize() (int, int, error) {
	if d.cfg.SensorWidth <= 0 || d.cfg.SensorHeight <= 0 {
		return 0, 0, nativeErr("sensor-size", CodeBadParam, "sensor size unavailable")
	}
	return d.cfg.SensorWidth, d.cfg.SensorHeight, nil
}

func (d *Device) PortCount() (int, error) { return len(d.cfg.Ports), nil }

func (d *Device) SetPort(port int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if port < 0 || port >= len(d.cfg.Ports) {
		return nativeErr("set-port", CodeBadParam, "port %d out of range", port)
	}
	d.port = port
	d.speed = 0
	return nil
}

func (d *Device) SpeedCount() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cfg.Ports[d.port].Speeds), nil
}

func (d *Device) SetSpeed(index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if index < 0 || index >= len(d.cfg.Ports[d.port].Speeds) {
		return nativeErr("set-speed", CodeBadParam, "speed %d out of range on port %d", index, d.port)
	}
	d.speed = index
	return nil
}

func (d *Device) current() Speed { return d.cfg.Ports[d.port].Speeds[d.speed] }

func (d *Device) PixelTime() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg.Faults.PixelTime {
		return 0, nativeErr("pixel-time", CodeInjected, "parameter not available")
	}
	return d.current().PixelTimeNs, nil
}

func (d *Device) GainRange() (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.current()
	return s.GainMin, s.GainMax, nil
}

func (d *Device) Gain() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gain, nil
}

func (d *Device) SetGain(gain int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.current()
	if gain < s.GainMin || gain > s.GainMax {
		return nativeErr("set-gain", CodeBadParam, "gain %d outside [%d,%d]", gain, s.GainMin, s.GainMax)
	}
	d.gain = gain
	return nil
}

func (d *Device) BitDepth() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg.Faults.BitDepth {
		return 0, nativeErr("bit-depth", CodeInjected, "parameter not available")
	}
	return d.current().BitDepth, nil
}

func (d *Device) ReadNoise() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current().ReadNoise, nil
}

// Temperature moves halfway to the setpoint on every read.
func (d *Device) Temperature() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.temp += (d.setpoint - d.temp) / 2
	return d.temp, nil
}

func (d *Device) TemperatureSetpoint() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setpoint, nil
}

func (d *Device) SetTemperatureSetpoint(v int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setpoint = v
	return nil
}

func (d *Device) Param(key string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, ok := d.params[key]
	if !ok {
		return "", nativeErr("get-param", CodeBadParam, "unknown parameter %q", key)
	}
	return v, nil
}

func (d *Device) SetParam(key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.params[key]; !ok {
		return nativeErr("set-param", CodeBadParam, "unknown parameter %q", key)
	}
	d.params[key] = value
	return nil
}

func (d *Device) ParamAttributes(id sdk.ParamID) (sdk.ParamAttr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.hw[id]
	if !ok {
		return sdk.ParamAttr{}, nil
	}
	attr := sdk.ParamAttr{Available: true, ReadOnly: p.ReadOnly, Min: p.Min, Max: p.Max}
	if p.Enum != nil {
		attr.Enum = slices.Clone(p.Enum)
		attr.Min, attr.Max = 0, int64(len(p.Enum)-1)
	}
	return attr, nil
}

// lookupParam returns id when it exists with the wanted kind; the caller holds mu.
func (d *Device) lookupParam(op string, id sdk.ParamID, enum bool) (Param, error) {
	p, ok := d.hw[id]
	if !ok {
		return Param{}, nativeErr(op, CodeBadParam, "parameter %d not available", id)
	}
	if (p.Enum != nil) != enum {
		return Param{}, nativeErr(op, CodeBadParam, "parameter %d has a different type", id)
	}
	return p, nil
}

func (d *Device) EnumParam(id sdk.ParamID) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := d.lookupParam("get-enum-param", id, true)
	if err != nil {
		return "", err
	}
	return p.Enum[p.Value], nil
}

func (d *Device) SetEnumParam(id sdk.ParamID, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := d.lookupParam("set-enum-param", id, true)
	if err != nil {
		return err
	}
	if p.ReadOnly {
		return nativeErr("set-enum-param", CodeBadParam, "parameter %d is read-only", id)
	}
	i := slices.Index(p.Enum, value)
	if i < 0 {
		return nativeErr("set-enum-param", CodeBadParam, "%q is not a value of parameter %d", value, id)
	}
	p.Value = int64(i)
	d.hw[id] = p
	return nil
}

func (d *Device) IntParam(id sdk.ParamID) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := d.lookupParam("get-param", id, false)
	if err != nil {
		return 0, err
	}
	return p.Value, nil
}

func (d *Device) SetIntParam(id sdk.ParamID, value int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := d.lookupParam("set-param", id, false)
	if err != nil {
		return err
	}
	if p.ReadOnly {
		return nativeErr("set-param", CodeBadParam, "parameter %d is read-only", id)
	}
	if value < p.Min || value > p.Max {
		return nativeErr("set-param", CodeBadParam, "%d outside [%d,%d] for parameter %d", value, p.Min, p.Max, id)
	}
	if p.Step > 1 {
		value -= value % p.Step
	}
	p.Value = value
	d.hw[id] = p
	return nil
}

// configure validates a setup request; the caller holds mu.
func (d *Device) configure(op string, cfg sdk.SetupConfig, continuous bool) (int, error) {
	if !d.opened {
		return 0, nativeErr(op, CodeNotOpen, "camera not open")
	}
	r := cfg.Region
	if r.SBin < 1 || r.PBin < 1 || r.S1 < 0 || r.P1 < 0 ||
		r.S2 < r.S1 || r.P2 < r.P1 ||
		r.S2 >= d.cfg.SensorWidth || r.P2 >= d.cfg.SensorHeight {
		return 0, nativeErr(op, CodeBadParam, "invalid region %+v", r)
	}
	if cfg.TriggerMode < 0 || cfg.TriggerMode >= len(d.cfg.TriggerModes) {
		return 0, nativeErr(op, CodeBadParam, "invalid trigger mode %d", cfg.TriggerMode)
	}

	width := (r.S2 - r.S1 + 1) / r.SBin
	height := (r.P2 - r.P1 + 1) / r.PBin

	exposure := time.Duration(cfg.Exposure) * time.Millisecond
	if cfg.Resolution == sdk.Microseconds {
		exposure = time.Duration(cfg.Exposure) * time.Microsecond
	}
	s := d.current()
	readout := time.Duration(s.PixelTimeNs) * time.Duration(width*height)

	d.setup = &setup{
		width:      width,
		height:     height,
		frameBytes: width*height*2 + d.cfg.Faults.FrameSizeSkew,
		bitDepth:   s.BitDepth,
		duration:   exposure + readout,
		continuous: continuous,
	}
	return d.setup.frameBytes, nil
}

func (d *Device) SetupSequence(cfg sdk.SetupConfig) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configure("setup-sequence", cfg, false)
}

func (d *Device) SetupContinuous(cfg sdk.SetupConfig) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configure("setup-continuous", cfg, true)
}

// StartSequence exposes one frame into buf.
func (d *Device) StartSequence(buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.setup
	if st == nil || st.continuous {
		return nativeErr("start-sequence", CodeNotConfigured, "sequence not configured")
	}
	if len(buf) < st.width*st.height*2 {
		return nativeErr("start-sequence", CodeBufferTooSmall, "buffer %d bytes", len(buf))
	}

	d.generation++
	gen := d.generation
	d.status = sdk.StatusExposureInProgress
	d.started = time.Now()

	if d.cfg.Faults.StallReadout {
		return nil
	}

	time.AfterFunc(st.duration, func() {
		d.mu.Lock()
		if d.generation != gen {
			d.mu.Unlock()
			return
		}
		if d.cfg.Faults.ReadoutFailed {
			d.status = sdk.StatusReadoutFailed
			d.mu.Unlock()
			return
		}
		d.frameNr++
		render(buf, st.width, st.height, st.bitDepth, d.frameNr)
		d.lastInfo = d.frameInfo(st)
		d.status = sdk.StatusReadoutComplete
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
	return nil
}

// CheckStatus reports single-shot progress.
func (d *Device) CheckStatus() (sdk.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status == sdk.StatusExposureInProgress && d.setup != nil &&
		time.Since(d.started) >= d.setup.duration/2 {
		return sdk.StatusReadoutInProgress, nil
	}
	return d.status, nil
}

// StartContinuous fills buf, treated as a ring of frame-sized slots.
func (d *Device) StartContinuous(buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.setup
	if st == nil || !st.continuous {
		return nativeErr("start-continuous", CodeNotConfigured, "continuous not configured")
	}
	if d.cfg.Faults.StartContinuous {
		return nativeErr("start-continuous", CodeInjected, "start refused")
	}
	frameBytes := st.width * st.height * 2
	if len(buf) < frameBytes {
		return nativeErr("start-continuous", CodeBufferTooSmall, "buffer %d bytes", len(buf))
	}

	d.haltLocked()
	d.generation++
	d.running = true
	d.latest = nil
	d.pending = false
	d.status = sdk.StatusExposureInProgress
	d.stop = make(chan struct{})

	period := st.duration
	if period < 100*time.Microsecond {
		period = 100 * time.Microsecond
	}
	go d.generate(d.generation, d.stop, buf, st, period)

	slog.Debug("simcam: continuous started",
		"width", st.width,
		"height", st.height,
		"slots", len(buf)/frameBytes,
		"period", period,
	)
	return nil
}

// generate produces one frame per period until stopped.
func (d *Device) generate(gen uint64, stop <-chan struct{}, ring []byte, st *setup, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	frameBytes := st.width * st.height * 2
	slots := len(ring) / frameBytes
	var index int

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		d.mu.Lock()
		if d.generation != gen || !d.running {
			d.mu.Unlock()
			return
		}
		if d.cfg.Faults.ReadoutFailed {
			d.status = sdk.StatusReadoutFailed
			d.mu.Unlock()
			continue
		}
		off := (index % slots) * frameBytes
		slot := ring[off : off+frameBytes : off+frameBytes]
		d.frameNr++
		render(slot, st.width, st.height, st.bitDepth, d.frameNr)
		d.latest = slot
		d.pending = true
		d.lastInfo = d.frameInfo(st)
		index++
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	}
}

func (d *Device) frameInfo(st *setup) sdk.FrameInfo {
	now := time.Now().UnixMicro()
	return sdk.FrameInfo{
		FrameNr:       d.frameNr,
		TimeStampBOF:  now - st.duration.Microseconds(),
		TimeStamp:     now,
		ReadoutTimeNs: int64(d.current().PixelTimeNs) * int64(st.width*st.height),
	}
}

// CheckContinuousStatus reports whether a new frame is ready.
func (d *Device) CheckContinuousStatus() (sdk.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.status == sdk.StatusReadoutFailed:
		return sdk.StatusReadoutFailed, nil
	case !d.running:
		return sdk.StatusReadoutNotActive, nil
	case d.pending:
		return sdk.StatusReadoutComplete, nil
	default:
		return sdk.StatusExposureInProgress, nil
	}
}

// LatestFrame returns a view of the newest ring slot.
func (d *Device) LatestFrame() ([]byte, sdk.FrameInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg.Faults.LatestFrame {
		return nil, sdk.FrameInfo{}, nativeErr("latest-frame", CodeInjected, "frame lost")
	}
	if d.latest == nil {
		return nil, sdk.FrameInfo{}, nativeErr("latest-frame", CodeNoFrame, "no frame available")
	}
	d.pending = false
	return d.latest, d.lastInfo, nil
}

// haltLocked stops any acquisition without waiting for the generator.
func (d *Device) haltLocked() {
	d.generation++
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
	d.running = false
	d.pending = false
	d.status = sdk.StatusReadoutNotActive
}

func (d *Device) Abort(sdk.AbortMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.haltLocked()
	return nil
}

func (d *Device) StopContinuous(sdk.AbortMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.haltLocked()
	return nil
}

func (d *Device) FinishSequence() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setup = nil
	d.latest = nil
	return nil
}

func (d *Device) RegisterFrameCallback(fn func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = fn
	return nil
}

func (d *Device) DeregisterFrameCallback() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = nil
	return nil
}

// render writes a diagonal ramp shifted by frameNr, masked to bitDepth.
func render(buf []byte, width, height, bitDepth int, frameNr int32) {
	mask := uint32(1)<<uint(bitDepth) - 1
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := (uint32(x+y) + uint32(frameNr)*7) & mask
			binary.LittleEndian.PutUint16(buf[(y*width+x)*2:], uint16(v))
		}
	}
}
