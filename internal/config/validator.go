package config

import (
	"fmt"
	"regexp"

	"github.com/e7canasta/sci-capture/internal/acquire"
	"github.com/e7canasta/sci-capture/internal/debayer"
	"github.com/e7canasta/sci-capture/internal/ringbuf"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if err := validateCamera(&cfg.Camera); err != nil {
		return fmt.Errorf("camera: %w", err)
	}

	if cfg.Sequence.Snaps < 0 {
		return fmt.Errorf("sequence.snaps must be >= 0")
	}
	if cfg.Sequence.Frames < 0 {
		return fmt.Errorf("sequence.frames must be >= 0")
	}
	if cfg.Sequence.StopOnOverflow == nil {
		stop := true
		cfg.Sequence.StopOnOverflow = &stop
	}

	if cfg.Sink.Capacity <= 0 {
		cfg.Sink.Capacity = 16
	}

	if cfg.Simulator.ChipName == "" {
		cfg.Simulator.ChipName = "SIM-1024"
	}
	if cfg.Simulator.SensorWidth <= 0 {
		cfg.Simulator.SensorWidth = 256
	}
	if cfg.Simulator.SensorHeight <= 0 {
		cfg.Simulator.SensorHeight = 192
	}

	return nil
}

func validateCamera(c *CameraConfig) error {
	if c.Port < 0 {
		return fmt.Errorf("port must be >= 0")
	}
	if c.Gain < 0 {
		return fmt.Errorf("gain must be >= 0")
	}

	if c.ExposureMS < 0 {
		return fmt.Errorf("exposure_ms must be >= 0")
	}
	if c.ExposureMS == 0 {
		c.ExposureMS = 10
	}
	if c.TriggerTimeoutS < 0 {
		return fmt.Errorf("trigger_timeout_s must be >= 0")
	}
	if c.TriggerTimeoutS == 0 {
		c.TriggerTimeoutS = 2
	}

	switch c.Binning {
	case 0:
		c.Binning = 1
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("binning must be one of 1, 2, 4, 8, got %d", c.Binning)
	}

	if c.ROI != nil && (c.ROI.Width <= 0 || c.ROI.Height <= 0 || c.ROI.X < 0 || c.ROI.Y < 0) {
		return fmt.Errorf("roi must have non-negative origin and positive size, got %+v", *c.ROI)
	}

	if c.FrameBufferDepth == 0 {
		c.FrameBufferDepth = ringbuf.DefaultDepth
	}
	if err := ringbuf.ValidateDepth(c.FrameBufferDepth); err != nil {
		return fmt.Errorf("frame_buffer_depth: %w", err)
	}

	if c.Method == "" {
		c.Method = acquire.Polling.String()
	}
	if _, ok := acquire.ParseMethod(c.Method); !ok {
		return fmt.Errorf("method must be polling or callback, got %q", c.Method)
	}

	if c.BayerPattern == "" {
		c.BayerPattern = debayer.RGGB.String()
	}
	if _, err := debayer.ParsePattern(c.BayerPattern); err != nil {
		return fmt.Errorf("bayer_pattern: %w", err)
	}

	return nil
}
