package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
instance_id: lab-cam-1
camera:
  port: 1
  speed: "20MHz 14bit"
  exposure_ms: 25
  binning: 2
  roi: {x: 4, y: 4, width: 32, height: 16}
  method: callback
  color: true
  bayer_pattern: GRBG
  post_processing:
    DENOISE: "2"
sequence:
  frames: 100
  stop_on_overflow: false
`

func TestParse_Sample(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Camera.Port != 1 || cfg.Camera.Speed != "20MHz 14bit" {
		t.Errorf("camera readout = %d/%q", cfg.Camera.Port, cfg.Camera.Speed)
	}
	if cfg.Camera.ROI == nil || cfg.Camera.ROI.Width != 32 {
		t.Errorf("roi = %+v", cfg.Camera.ROI)
	}
	if cfg.Camera.PostProcessing["DENOISE"] != "2" {
		t.Errorf("post_processing = %v", cfg.Camera.PostProcessing)
	}
	if *cfg.Sequence.StopOnOverflow {
		t.Error("stop_on_overflow = true, want false")
	}
}

func TestValidate_Defaults(t *testing.T) {
	cfg := Config{InstanceID: "cam"}
	if err := Validate(&cfg); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	checks := []struct {
		name string
		ok   bool
	}{
		{"shutdown_timeout_s", cfg.ShutdownTimeoutS == 5},
		{"exposure_ms", cfg.Camera.ExposureMS == 10},
		{"trigger_timeout_s", cfg.Camera.TriggerTimeoutS == 2},
		{"binning", cfg.Camera.Binning == 1},
		{"frame_buffer_depth", cfg.Camera.FrameBufferDepth == 8},
		{"method", cfg.Camera.Method == "Polling"},
		{"bayer_pattern", cfg.Camera.BayerPattern == "RGGB"},
		{"stop_on_overflow", cfg.Sequence.StopOnOverflow != nil && *cfg.Sequence.StopOnOverflow},
		{"sink.capacity", cfg.Sink.Capacity == 16},
		{"simulator.sensor", cfg.Simulator.SensorWidth == 256 && cfg.Simulator.SensorHeight == 192},
	}
	for _, c := range checks {
		if !c.ok {
			t.Errorf("default for %s not applied", c.name)
		}
	}
}

func TestValidate_Rejects(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing_instance", func(c *Config) { c.InstanceID = "" }, "instance_id is required"},
		{"bad_instance", func(c *Config) { c.InstanceID = "Lab Cam" }, "instance_id must match"},
		{"binning", func(c *Config) { c.Camera.Binning = 3 }, "binning must be one of"},
		{"depth_low", func(c *Config) { c.Camera.FrameBufferDepth = 2 }, "frame_buffer_depth"},
		{"depth_high", func(c *Config) { c.Camera.FrameBufferDepth = 33 }, "frame_buffer_depth"},
		{"method", func(c *Config) { c.Camera.Method = "interrupt" }, "method must be"},
		{"pattern", func(c *Config) { c.Camera.BayerPattern = "RGBG" }, "bayer_pattern"},
		{"roi", func(c *Config) { c.Camera.ROI = &ROIConfig{Width: 0, Height: 4} }, "roi must have"},
		{"exposure", func(c *Config) { c.Camera.ExposureMS = -1 }, "exposure_ms"},
		{"frames", func(c *Config) { c.Sequence.Frames = -1 }, "sequence.frames"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{InstanceID: "cam"}
			tc.mutate(&cfg)
			err := Validate(&cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Validate error = %v, want it to contain %q", err, tc.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sci-capture.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load succeeded on a missing file")
	}
	if _, err := Parse([]byte("camera: [")); err == nil {
		t.Error("Parse accepted malformed YAML")
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "sci-capture.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.InstanceID != "lab-cam-1" || cfg.Sequence.Frames != 200 {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.Camera.TemperatureTarget == nil || *cfg.Camera.TemperatureTarget != -20 {
		t.Errorf("temperature_setpoint_c = %v", cfg.Camera.TemperatureTarget)
	}
}
