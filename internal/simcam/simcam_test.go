package simcam

import (
	"encoding/binary"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/e7canasta/sci-capture/internal/sdk"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.SensorWidth = 16
	cfg.SensorHeight = 8
	return cfg
}

func fullRegion(cfg Config) sdk.Region {
	return sdk.Region{S1: 0, S2: cfg.SensorWidth - 1, SBin: 1, P1: 0, P2: cfg.SensorHeight - 1, PBin: 1}
}

func openDevice(t *testing.T, cfg Config) *Device {
	t.Helper()
	d := New(cfg)
	if err := d.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func waitStatus(t *testing.T, check func() (sdk.Status, error), want sdk.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s, err := check()
		if err != nil {
			t.Fatalf("status check failed: %v", err)
		}
		if s == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("status never reached %s", want)
}

func TestNew_AssignsSerial(t *testing.T) {
	d := New(DefaultConfig())
	serial, _ := d.SerialNumber()
	if len(serial) != len("SIM-")+8 {
		t.Errorf("SerialNumber = %q", serial)
	}
}

func TestOpen_Fault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Faults.Open = true
	err := New(cfg).Open()

	var nerr *sdk.Error
	if !errors.As(err, &nerr) || nerr.Code != CodeOpenFailed {
		t.Fatalf("Open error = %v, want native code %d", err, CodeOpenFailed)
	}
}

func TestReadoutParameters(t *testing.T) {
	d := openDevice(t, DefaultConfig())

	if n, _ := d.PortCount(); n != 2 {
		t.Fatalf("PortCount = %d, want 2", n)
	}
	if err := d.SetPort(2); err == nil {
		t.Error("SetPort(2) accepted an out-of-range port")
	}

	if err := d.SetPort(1); err != nil {
		t.Fatalf("SetPort(1) failed: %v", err)
	}
	if n, _ := d.SpeedCount(); n != 1 {
		t.Errorf("SpeedCount on port 1 = %d, want 1", n)
	}
	if pt, _ := d.PixelTime(); pt != 50 {
		t.Errorf("PixelTime = %d, want 50", pt)
	}
	if err := d.SetGain(1001); err == nil {
		t.Error("SetGain accepted a value above the range")
	}
	if err := d.SetGain(500); err != nil {
		t.Fatalf("SetGain(500) failed: %v", err)
	}
	if g, _ := d.Gain(); g != 500 {
		t.Errorf("Gain = %d, want 500", g)
	}
}

func TestTemperatureApproachesSetpoint(t *testing.T) {
	d := openDevice(t, DefaultConfig())
	d.SetTemperatureSetpoint(-1000)

	prev, _ := d.Temperature()
	for i := 0; i < 20; i++ {
		cur, _ := d.Temperature()
		if cur > prev {
			t.Fatalf("temperature rose from %d to %d while cooling", prev, cur)
		}
		prev = cur
	}
	if prev > -990 {
		t.Errorf("temperature %d did not approach setpoint", prev)
	}
}

func TestParams(t *testing.T) {
	d := openDevice(t, DefaultConfig())

	if err := d.SetParam("DENOISE", "3"); err != nil {
		t.Fatalf("SetParam failed: %v", err)
	}
	if v, _ := d.Param("DENOISE"); v != "3" {
		t.Errorf("Param = %q, want 3", v)
	}
	if err := d.SetParam("SHARPEN", "1"); err == nil {
		t.Error("SetParam accepted an unknown key")
	}
}

func TestGenericParams(t *testing.T) {
	d := openDevice(t, DefaultConfig())

	attr, err := d.ParamAttributes(sdk.ParamClearMode)
	if err != nil || !attr.Available || len(attr.Enum) != 4 || attr.Max != 3 {
		t.Fatalf("ParamAttributes(ClearMode) = %+v, %v", attr, err)
	}
	if attr, _ := d.ParamAttributes(sdk.ParamPreampOffControl); attr.Available {
		t.Error("preamp-off control reported available")
	}

	if err := d.SetEnumParam(sdk.ParamClearMode, "Pre-Sequence"); err != nil {
		t.Fatalf("SetEnumParam failed: %v", err)
	}
	if v, _ := d.EnumParam(sdk.ParamClearMode); v != "Pre-Sequence" {
		t.Errorf("EnumParam = %q", v)
	}

	testCases := []struct {
		name string
		call func() error
	}{
		{"unknown_enum_value", func() error { return d.SetEnumParam(sdk.ParamClearMode, "Always") }},
		{"int_on_enum", func() error { _, err := d.IntParam(sdk.ParamClearMode); return err }},
		{"enum_on_int", func() error { _, err := d.EnumParam(sdk.ParamClearCycles); return err }},
		{"out_of_range", func() error { return d.SetIntParam(sdk.ParamClearCycles, 17) }},
		{"read_only", func() error { return d.SetIntParam(sdk.ParamActualGain, 3) }},
		{"unavailable", func() error { return d.SetIntParam(sdk.ParamPreampOffControl, 1) }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var native *sdk.Error
			if err := tc.call(); !errors.As(err, &native) || native.Code != CodeBadParam {
				t.Errorf("error = %v, want native code %d", err, CodeBadParam)
			}
		})
	}

	// preamp delay is quantized to 10
	if err := d.SetIntParam(sdk.ParamPreampDelay, 37); err != nil {
		t.Fatal(err)
	}
	if v, _ := d.IntParam(sdk.ParamPreampDelay); v != 30 {
		t.Errorf("PreampDelay = %d, want 30", v)
	}
}

func TestSetup_FrameSize(t *testing.T) {
	cfg := smallConfig()
	d := openDevice(t, cfg)

	region := sdk.Region{S1: 0, S2: 7, SBin: 2, P1: 0, P2: 3, PBin: 2}
	n, err := d.SetupSequence(sdk.SetupConfig{Region: region, Exposure: 1})
	if err != nil {
		t.Fatalf("SetupSequence failed: %v", err)
	}
	if want := 4 * 2 * 2; n != want {
		t.Errorf("frame bytes = %d, want %d", n, want)
	}

	bad := region
	bad.S2 = cfg.SensorWidth
	if _, err := d.SetupSequence(sdk.SetupConfig{Region: bad}); err == nil {
		t.Error("SetupSequence accepted a region outside the sensor")
	}
}

func TestSetup_RequiresOpen(t *testing.T) {
	cfg := smallConfig()
	d := New(cfg)
	if _, err := d.SetupSequence(sdk.SetupConfig{Region: fullRegion(cfg)}); err == nil {
		t.Error("SetupSequence succeeded on a closed device")
	}
}

func TestSequence_CompletesAndFills(t *testing.T) {
	cfg := smallConfig()
	d := openDevice(t, cfg)

	n, err := d.SetupSequence(sdk.SetupConfig{Region: fullRegion(cfg), Exposure: 2})
	if err != nil {
		t.Fatalf("SetupSequence failed: %v", err)
	}
	buf := make([]byte, n)

	var callbacks atomic.Int32
	d.RegisterFrameCallback(func() { callbacks.Add(1) })

	if err := d.StartSequence(buf); err != nil {
		t.Fatalf("StartSequence failed: %v", err)
	}
	waitStatus(t, d.CheckStatus, sdk.StatusReadoutComplete)

	// Pixel (3,2) of frame 1 holds 3+2+7
	if v := binary.LittleEndian.Uint16(buf[(2*cfg.SensorWidth+3)*2:]); v != 12 {
		t.Errorf("pixel value = %d, want 12", v)
	}
	if callbacks.Load() != 1 {
		t.Errorf("callbacks = %d, want 1", callbacks.Load())
	}
}

func TestSequence_Faults(t *testing.T) {
	t.Run("readout_failed", func(t *testing.T) {
		cfg := smallConfig()
		cfg.Faults.ReadoutFailed = true
		d := openDevice(t, cfg)
		n, _ := d.SetupSequence(sdk.SetupConfig{Region: fullRegion(cfg), Exposure: 1})
		d.StartSequence(make([]byte, n))
		waitStatus(t, d.CheckStatus, sdk.StatusReadoutFailed)
	})

	t.Run("stall", func(t *testing.T) {
		cfg := smallConfig()
		cfg.Faults.StallReadout = true
		d := openDevice(t, cfg)
		n, _ := d.SetupSequence(sdk.SetupConfig{Region: fullRegion(cfg), Exposure: 1})
		d.StartSequence(make([]byte, n))
		time.Sleep(10 * time.Millisecond)
		if s, _ := d.CheckStatus(); s == sdk.StatusReadoutComplete {
			t.Error("stalled readout completed")
		}
	})

	t.Run("size_skew", func(t *testing.T) {
		cfg := smallConfig()
		cfg.Faults.FrameSizeSkew = 2
		d := openDevice(t, cfg)
		n, _ := d.SetupSequence(sdk.SetupConfig{Region: fullRegion(cfg)})
		if want := cfg.SensorWidth*cfg.SensorHeight*2 + 2; n != want {
			t.Errorf("frame bytes = %d, want %d", n, want)
		}
	})
}

func TestContinuous_RingAndStop(t *testing.T) {
	cfg := smallConfig()
	d := openDevice(t, cfg)

	n, err := d.SetupContinuous(sdk.SetupConfig{Region: fullRegion(cfg), Exposure: 1})
	if err != nil {
		t.Fatalf("SetupContinuous failed: %v", err)
	}
	ring := make([]byte, n*3)

	if s, _ := d.CheckContinuousStatus(); s != sdk.StatusReadoutNotActive {
		t.Errorf("status before start = %s", s)
	}
	if err := d.StartContinuous(ring); err != nil {
		t.Fatalf("StartContinuous failed: %v", err)
	}

	var last int32
	for i := 0; i < 4; i++ {
		waitStatus(t, d.CheckContinuousStatus, sdk.StatusReadoutComplete)
		frame, info, err := d.LatestFrame()
		if err != nil {
			t.Fatalf("LatestFrame failed: %v", err)
		}
		if len(frame) != n {
			t.Fatalf("frame length = %d, want %d", len(frame), n)
		}
		if info.FrameNr <= last {
			t.Errorf("frame number %d not increasing after %d", info.FrameNr, last)
		}
		last = info.FrameNr
	}

	if err := d.StopContinuous(sdk.AbortHalt); err != nil {
		t.Fatalf("StopContinuous failed: %v", err)
	}
	if s, _ := d.CheckContinuousStatus(); s != sdk.StatusReadoutNotActive {
		t.Errorf("status after stop = %s", s)
	}
}

func TestContinuous_Faults(t *testing.T) {
	cfg := smallConfig()
	cfg.Faults.StartContinuous = true
	d := openDevice(t, cfg)

	if err := d.StartContinuous(make([]byte, 64)); err == nil {
		t.Error("StartContinuous succeeded without setup")
	}
	n, _ := d.SetupContinuous(sdk.SetupConfig{Region: fullRegion(cfg)})
	if err := d.StartContinuous(make([]byte, n)); err == nil {
		t.Error("StartContinuous ignored the injected fault")
	}

	cfg = smallConfig()
	cfg.Faults.LatestFrame = true
	d = openDevice(t, cfg)
	if _, _, err := d.LatestFrame(); err == nil {
		t.Error("LatestFrame ignored the injected fault")
	}
}
