package scicapture

import (
	"errors"
	"testing"
	"time"
)

func TestProperty_Get(t *testing.T) {
	cam := openSimulated(t, nil, Config{ExposureMS: 2.5})

	testCases := []struct {
		name string
		want string
	}{
		{PropPort, "0"},
		{PropSpeed, "10MHz 12bit"},
		{PropGain, "1"},
		{PropExposure, "2.5"},
		{PropBinning, "1"},
		{PropROI, "32x24+0+0 bin1x1"},
		{PropTriggerMode, "Timed"},
		{PropTriggerTimeout, "2"},
		{PropFrameBufferDepth, "8"},
		{PropAcquisitionMethod, "Polling"},
		{PropColor, "OFF"},
		{PropBayerPattern, "RGGB"},
		{PropBitDepth, "12"},
		{PropReadNoise, "1.2"},
		{PropChipName, "SIM-1024"},
		{PropTemperature, "20"},
		{PropPixelType, "12bit"},
		{PropOffset, "100"},
		{PropClearCycles, "2"},
		{PropPMode, "Frame Transfer"},
		{PropClearMode, "Pre-Exposure"},
		{PropShutterMode, "Pre-Exposure"},
		{PropMultiplierGain, "1"},
		{PropActualGain, "2"},
		{PropOutputTriggerFirstMissing, "0"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := cam.Property(tc.name)
			if err != nil {
				t.Fatalf("Property(%q) failed: %v", tc.name, err)
			}
			if got != tc.want {
				t.Errorf("Property(%q) = %q, want %q", tc.name, got, tc.want)
			}
		})
	}

	if _, err := cam.Property("Shutter"); !errors.Is(err, ErrUnknownProperty) {
		t.Errorf("Property(Shutter) = %v, want ErrUnknownProperty", err)
	}
}

func TestSetProperty(t *testing.T) {
	cam := openSimulated(t, nil, Config{PostProcessing: []string{"DENOISE"}})

	set := func(name, value string) {
		t.Helper()
		if err := cam.SetProperty(name, value); err != nil {
			t.Fatalf("SetProperty(%q, %q) failed: %v", name, value, err)
		}
	}

	set(PropSpeed, "5MHz 16bit")
	if got, _ := cam.Property(PropBitDepth); got != "16" {
		t.Errorf("BitDepth after speed change = %q", got)
	}
	set(PropGain, "2")
	if cam.Gain() != 2 {
		t.Errorf("Gain = %d", cam.Gain())
	}
	set(PropExposure, "4")
	if cam.Exposure() != 4 {
		t.Errorf("Exposure = %v", cam.Exposure())
	}
	set(PropTriggerTimeout, "0.5")
	if cam.TriggerTimeout() != 500*time.Millisecond {
		t.Errorf("TriggerTimeout = %v", cam.TriggerTimeout())
	}
	set(PropBinning, "2")
	if cam.ImageWidth() != 16 {
		t.Errorf("ImageWidth after binning = %d", cam.ImageWidth())
	}
	set(PropColor, "ON")
	if cam.BytesPerPixel() != 4 {
		t.Errorf("BytesPerPixel with color = %d", cam.BytesPerPixel())
	}
	set(PropBayerPattern, "BGGR")
	if cam.BayerPattern() != BGGR {
		t.Errorf("BayerPattern = %s", cam.BayerPattern())
	}
	set(PropAcquisitionMethod, "Callback")
	if cam.AcquisitionMethod() != Callback {
		t.Errorf("AcquisitionMethod = %s", cam.AcquisitionMethod())
	}
	set(PostProcessingPrefix+"DENOISE", "3")
	if got, _ := cam.Property(PostProcessingPrefix + "DENOISE"); got != "3" {
		t.Errorf("PP:DENOISE = %q", got)
	}
	set(PropTemperatureSetpoint, "-15")
	if got, _ := cam.Property(PropTemperatureSetpoint); got != "-15" {
		t.Errorf("setpoint = %q", got)
	}
}

func TestSetProperty_Rejected(t *testing.T) {
	cam := openSimulated(t, nil, Config{})

	testCases := []struct {
		name    string
		prop    string
		value   string
		wantErr error
	}{
		{"unknown", "Shutter", "open", ErrUnknownProperty},
		{"read_only", PropROI, "1x1+0+0", ErrCannotSetProperty},
		{"read_only_chip", PropChipName, "x", ErrCannotSetProperty},
		{"binning_choice", PropBinning, "3", ErrCannotSetProperty},
		{"speed_choice", PropSpeed, "20MHz 14bit", ErrCannotSetProperty},
		{"gain_limits", PropGain, "4", ErrCannotSetProperty},
		{"gain_not_numeric", PropGain, "high", ErrCannotSetProperty},
		{"depth_limits", PropFrameBufferDepth, "64", ErrCannotSetProperty},
		{"trigger_choice", PropTriggerMode, "Edge", ErrCannotSetProperty},
		{"method_choice", PropAcquisitionMethod, "Interrupt", ErrCannotSetProperty},
		{"color_choice", PropColor, "MAYBE", ErrCannotSetProperty},
		{"clear_mode_choice", PropClearMode, "Always", ErrCannotSetProperty},
		{"mask_lines_choice", PropMaskLines, "7", ErrCannotSetProperty},
		{"offset_limits", PropOffset, "5000", ErrCannotSetProperty},
		{"multiplier_gain_limits", PropMultiplierGain, "0", ErrCannotSetProperty},
		{"actual_gain_read_only", PropActualGain, "4", ErrCannotSetProperty},
		{"pixel_type_read_only", PropPixelType, "8bit", ErrCannotSetProperty},
		{"output_trigger_choice", PropOutputTriggerFirstMissing, "yes", ErrCannotSetProperty},
		{"preamp_off_limit_unsupported", PropPreampOffLimit, "10", ErrUnknownProperty},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := cam.SetProperty(tc.prop, tc.value)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("SetProperty(%q, %q) = %v, want %v", tc.prop, tc.value, err, tc.wantErr)
			}
		})
	}

	if n := cam.Stats().Errors[ErrCategoryConfiguration]; n != uint64(len(testCases)) {
		t.Errorf("configuration errors counted = %d, want %d", n, len(testCases))
	}
}

func TestProperties_Describe(t *testing.T) {
	cam := openSimulated(t, nil, Config{PostProcessing: []string{"DENOISE", "DEFECT-CORRECTION"}})

	byName := make(map[string]PropertyInfo)
	for _, p := range cam.Properties() {
		byName[p.Name] = p
	}

	gain, ok := byName[PropGain]
	if !ok {
		t.Fatal("Gain not listed")
	}
	if !gain.Bounded || gain.Min != 1 || gain.Max != 3 || len(gain.Choices) != 3 {
		t.Errorf("Gain = %+v", gain)
	}
	if roi := byName[PropROI]; !roi.ReadOnly || roi.Kind != "text" {
		t.Errorf("ROI = %+v", roi)
	}
	if speed := byName[PropSpeed]; speed.Kind != "enumerated" || len(speed.Choices) != 2 {
		t.Errorf("ReadoutRate = %+v", speed)
	}
	if pp := byName[PostProcessingPrefix+"DEFECT-CORRECTION"]; pp.Value != "1" {
		t.Errorf("PP:DEFECT-CORRECTION = %+v", pp)
	}
	if _, ok := byName[PropActualInterval]; !ok {
		t.Error("ActualInterval-ms not listed")
	}
}

func TestHardwareParams_Describe(t *testing.T) {
	cam := openSimulated(t, nil, Config{})

	byName := make(map[string]PropertyInfo)
	for _, p := range cam.Properties() {
		byName[p.Name] = p
	}

	testCases := []struct {
		name     string
		kind     string
		readOnly bool
		bounded  bool
		min, max float64
		choices  int
	}{
		{PropOffset, "numeric", false, true, 0, 4095, 0},
		{PropClearCycles, "numeric", false, true, 0, 16, 0},
		{PropMaskLines, "enumerated", false, false, 0, 0, 5},
		{PropPMode, "enumerated", false, false, 0, 0, 2},
		{PropShutterMode, "enumerated", false, false, 0, 0, 5},
		{PropMultiplierGain, "numeric", false, true, 1, 255, 0},
		{PropActualGain, "numeric", true, false, 0, 0, 0},
		{PropPixelType, "text", true, false, 0, 0, 0},
		{PropOutputTriggerFirstMissing, "enumerated", false, false, 0, 0, 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, ok := byName[tc.name]
			if !ok {
				t.Fatalf("%s not listed", tc.name)
			}
			if p.Kind != tc.kind || p.ReadOnly != tc.readOnly || p.Bounded != tc.bounded {
				t.Errorf("%s = %+v", tc.name, p)
			}
			if tc.bounded && (p.Min != tc.min || p.Max != tc.max) {
				t.Errorf("%s limits = [%v, %v], want [%v, %v]", tc.name, p.Min, p.Max, tc.min, tc.max)
			}
			if len(p.Choices) != tc.choices {
				t.Errorf("%s choices = %v, want %d", tc.name, p.Choices, tc.choices)
			}
		})
	}

	if _, ok := byName[PropPreampOffLimit]; ok {
		t.Error("unsupported PreampOffLimit listed")
	}
	if got := len(cam.HardwareParams()); got != 11 {
		t.Errorf("HardwareParams() = %d entries, want 11", got)
	}
}

func TestSetHardwareParam(t *testing.T) {
	cam := openSimulated(t, nil, Config{})

	testCases := []struct {
		name  string
		value string
		want  string
	}{
		{PropOffset, "250", "250"},
		{PropClearCycles, "0", "0"},
		{PropClearMode, "Pre-Sequence", "Pre-Sequence"},
		{PropMaskLines, "3", "3"},
		{PropPMode, "Normal", "Normal"},
		// the hardware rounds to its step, the property reports what it applied
		{PropPreampDelay, "37", "30"},
		{PropMultiplierGain, "200", "200"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := cam.SetProperty(tc.name, tc.value); err != nil {
				t.Fatalf("SetProperty(%q, %q) failed: %v", tc.name, tc.value, err)
			}
			got, err := cam.Property(tc.name)
			if err != nil {
				t.Fatalf("Property(%q) failed: %v", tc.name, err)
			}
			if got != tc.want {
				t.Errorf("Property(%q) = %q, want %q", tc.name, got, tc.want)
			}
		})
	}

	if g, ok := cam.MultiplierGain(); !ok || g != 200 {
		t.Errorf("MultiplierGain() = %d, %v", g, ok)
	}
	if err := cam.SetMultiplierGain(0); !errors.Is(err, ErrCannotSetProperty) {
		t.Errorf("SetMultiplierGain(0) = %v, want ErrCannotSetProperty", err)
	}
	if _, err := cam.SetHardwareParam("Shutter", "1"); !errors.Is(err, ErrUnknownProperty) {
		t.Errorf("SetHardwareParam(Shutter) = %v, want ErrUnknownProperty", err)
	}

	if err := cam.SetOutputTriggerFirstMissing(true); err != nil {
		t.Fatalf("SetOutputTriggerFirstMissing failed: %v", err)
	}
	if got, _ := cam.Property(PropOutputTriggerFirstMissing); got != "1" {
		t.Errorf("OutputTriggerFirstMissing = %q, want 1", got)
	}

	if err := cam.SetProperty(PropSpeed, "5MHz 16bit"); err != nil {
		t.Fatalf("SetProperty(speed) failed: %v", err)
	}
	if got := cam.PixelType(); got != "16bit" {
		t.Errorf("PixelType after speed change = %q, want 16bit", got)
	}
}

func TestSetHardwareParam_StopsSequence(t *testing.T) {
	testCases := []struct {
		name string
		set  func(*Camera) error
	}{
		{"universal", func(c *Camera) error { return c.SetProperty(PropClearCycles, "4") }},
		{"multiplier_gain", func(c *Camera) error { return c.SetMultiplierGain(8) }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sink := &scriptedSink{}
			cam := openSimulated(t, nil, Config{Sink: sink})

			if err := cam.StartSequence(0, true); err != nil {
				t.Fatalf("StartSequence failed: %v", err)
			}
			defer cam.StopSequence()

			if err := tc.set(cam); err != nil {
				t.Fatalf("set failed: %v", err)
			}
			if cam.IsCapturing() {
				t.Error("sequence still running after a hardware parameter change")
			}
			if cam.res.ContinuousArmed() || cam.res.SingleArmed() {
				t.Error("hardware parameter change left a configuration armed")
			}
		})
	}
}

func TestHardwareParams_Discovery(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*SimulatorConfig)
		multGain  bool
		actual    bool
		wantPMode string
	}{
		{"defaults", nil, true, true, "Frame Transfer"},
		{"interline_chip", func(c *SimulatorConfig) { c.ChipName = "ICX285AL" }, false, true, "Frame Transfer"},
		{"interline_chip_dashed", func(c *SimulatorConfig) { c.ChipName = "Sony ICX-285" }, false, true, "Frame Transfer"},
		{"full_frame", func(c *SimulatorConfig) { c.FrameTransfer = false }, true, true, "Normal"},
		{"no_generic_params", func(c *SimulatorConfig) { c.Params = nil }, false, false, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cam := openSimulated(t, tc.mutate, Config{})

			if _, ok := cam.MultiplierGain(); ok != tc.multGain {
				t.Errorf("MultiplierGain available = %v, want %v", ok, tc.multGain)
			}
			if _, err := cam.ActualGain(); (err == nil) != tc.actual {
				t.Errorf("ActualGain() error = %v, want available %v", err, tc.actual)
			}
			got, err := cam.HardwareParam(PropPMode)
			if tc.wantPMode == "" {
				if !errors.Is(err, ErrUnknownProperty) {
					t.Errorf("HardwareParam(PMode) = %q, %v, want ErrUnknownProperty", got, err)
				}
				return
			}
			if got != tc.wantPMode {
				t.Errorf("PMode = %q, want %q", got, tc.wantPMode)
			}
		})
	}
}
