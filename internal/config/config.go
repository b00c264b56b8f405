// Package config loads the YAML configuration of the sci-capture binary.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete binary configuration
type Config struct {
	InstanceID       string          `yaml:"instance_id"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s"` // graceful shutdown timeout in seconds (default: 5)
	Camera           CameraConfig    `yaml:"camera"`
	Sequence         SequenceConfig  `yaml:"sequence"`
	Sink             SinkConfig      `yaml:"sink"`
	Simulator        SimulatorConfig `yaml:"simulator"`
}

// CameraConfig holds the acquisition parameters applied after open
type CameraConfig struct {
	Port              int               `yaml:"port"`
	Speed             string            `yaml:"speed"` // readout speed label, empty = first of the port
	Gain              int               `yaml:"gain"`  // 0 = keep the speed's minimum
	ExposureMS        float64           `yaml:"exposure_ms"`
	TriggerMode       string            `yaml:"trigger_mode"`
	TriggerTimeoutS   float64           `yaml:"trigger_timeout_s"`
	Binning           int               `yaml:"binning"` // symmetric: 1, 2, 4 or 8
	ROI               *ROIConfig        `yaml:"roi,omitempty"`
	FrameBufferDepth  int               `yaml:"frame_buffer_depth"`
	Method            string            `yaml:"method"` // polling, callback
	Color             bool              `yaml:"color"`
	BayerPattern      string            `yaml:"bayer_pattern"`
	PostProcessing    map[string]string `yaml:"post_processing,omitempty"`
	TemperatureTarget *float64          `yaml:"temperature_setpoint_c,omitempty"`
}

// ROIConfig is a region in unbinned sensor pixels
type ROIConfig struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// SequenceConfig drives the demo run
type SequenceConfig struct {
	Snaps          int   `yaml:"snaps"`            // single-shot frames taken before the sequence
	Frames         int   `yaml:"frames"`           // 0 = until interrupted
	StopOnOverflow *bool `yaml:"stop_on_overflow"` // default: true
}

// SinkConfig sizes the sequence buffer
type SinkConfig struct {
	Capacity int `yaml:"capacity"`
}

// SimulatorConfig shapes the simulated camera
type SimulatorConfig struct {
	ChipName     string  `yaml:"chip_name"`
	SensorWidth  int     `yaml:"sensor_width"`
	SensorHeight int     `yaml:"sensor_height"`
	TemperatureC float64 `yaml:"temperature_c"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse unmarshals and validates a YAML document
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
