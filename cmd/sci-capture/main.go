package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	scicapture "github.com/e7canasta/sci-capture"
	"github.com/e7canasta/sci-capture/internal/config"
)

const (
	version           = "v0.1.0"
	defaultConfigPath = "configs/sci-capture.yaml"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	outputDir := flag.String("output", "", "Directory to save frames as PNG (optional)")
	statsInterval := flag.Int("stats-interval", 5, "Seconds between stats reports (0 = off)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("sci-capture %s\n", version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "config", *configPath, "error", err)
		os.Exit(1)
	}

	slog.Info("starting sci-capture",
		"instance_id", cfg.InstanceID,
		"config", *configPath,
		"debug", *debug,
	)

	if *outputDir != "" {
		if err := os.MkdirAll(*outputDir, 0o755); err != nil {
			slog.Error("failed to create output directory", "error", err)
			os.Exit(1)
		}
	}

	cam, err := openCamera(cfg)
	if err != nil {
		slog.Error("failed to open camera", "error", err, "category", scicapture.Classify(err).String())
		os.Exit(1)
	}

	if err := run(cam, cfg, *outputDir, time.Duration(*statsInterval)*time.Second); err != nil {
		slog.Error("capture failed", "error", err, "category", scicapture.Classify(err).String())
		cam.Close()
		os.Exit(1)
	}

	if err := cam.Close(); err != nil {
		slog.Error("close failed", "error", err)
		os.Exit(1)
	}
	slog.Info("sci-capture stopped successfully")
}

// openCamera builds the simulated device from the configuration and applies
// the camera settings.
func openCamera(cfg *config.Config) (*scicapture.Camera, error) {
	sim := scicapture.DefaultSimulatorConfig()
	sim.ChipName = cfg.Simulator.ChipName
	sim.SensorWidth = cfg.Simulator.SensorWidth
	sim.SensorHeight = cfg.Simulator.SensorHeight
	if cfg.Simulator.TemperatureC != 0 {
		sim.TemperatureC = cfg.Simulator.TemperatureC
	}

	method, _ := scicapture.ParseMethod(cfg.Camera.Method)
	pattern, err := scicapture.ParseBayerPattern(cfg.Camera.BayerPattern)
	if err != nil {
		return nil, err
	}
	ppKeys := make([]string, 0, len(cfg.Camera.PostProcessing))
	for key := range cfg.Camera.PostProcessing {
		ppKeys = append(ppKeys, key)
	}

	cam, err := scicapture.Open(scicapture.NewSimulatedDevice(sim), scicapture.Config{
		Name:             cfg.InstanceID,
		ExposureMS:       cfg.Camera.ExposureMS,
		TriggerTimeout:   time.Duration(cfg.Camera.TriggerTimeoutS * float64(time.Second)),
		FrameBufferDepth: cfg.Camera.FrameBufferDepth,
		Method:           method,
		Color:            cfg.Camera.Color,
		Pattern:          pattern,
		PostProcessing:   ppKeys,
	})
	if err != nil {
		return nil, err
	}

	if err := applySettings(cam, cfg.Camera); err != nil {
		cam.Close()
		return nil, err
	}
	return cam, nil
}

func applySettings(cam *scicapture.Camera, c config.CameraConfig) error {
	if err := cam.SetPort(c.Port); err != nil {
		return err
	}
	if c.Speed != "" {
		if err := cam.SetSpeed(c.Speed); err != nil {
			return err
		}
	}
	if c.Gain > 0 {
		if err := cam.SetGain(c.Gain); err != nil {
			return err
		}
	}
	if c.TriggerMode != "" {
		if err := cam.SetTriggerMode(c.TriggerMode); err != nil {
			return err
		}
	}
	if err := cam.SetBinning(c.Binning); err != nil {
		return err
	}
	if c.ROI != nil {
		if err := cam.SetROI(c.ROI.X, c.ROI.Y, c.ROI.Width, c.ROI.Height); err != nil {
			return err
		}
	}
	for key, value := range c.PostProcessing {
		if _, err := cam.SetPostProcessing(key, value); err != nil {
			return err
		}
	}
	if c.TemperatureTarget != nil {
		if err := cam.SetTemperatureSetpoint(*c.TemperatureTarget); err != nil {
			return err
		}
	}

	slog.Info("camera configured",
		"port", cam.Port(),
		"speed", cam.Speed(),
		"gain", cam.Gain(),
		"exposure_ms", cam.Exposure(),
		"roi", cam.ROI().String(),
		"image", fmt.Sprintf("%dx%dx%d", cam.ImageWidth(), cam.ImageHeight(), cam.BytesPerPixel()),
		"method", cam.AcquisitionMethod(),
	)
	return nil
}

// run takes the configured snaps, then streams a sequence into a
// SequenceBuffer until it completes or a signal arrives.
func run(cam *scicapture.Camera, cfg *config.Config, outputDir string, statsInterval time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	for i := 0; i < cfg.Sequence.Snaps; i++ {
		if err := cam.Snap(ctx); err != nil {
			return fmt.Errorf("snap %d: %w", i+1, err)
		}
		slog.Info("snap complete", "snap", i+1, "bytes", len(cam.Image()))
		if outputDir != "" {
			name := fmt.Sprintf("snap_%03d.png", i+1)
			if err := savePNG(outputDir, name, cam.Image(), cam.ImageWidth(), cam.ImageHeight(), cam.BytesPerPixel()); err != nil {
				slog.Error("failed to save snap", "error", err)
			}
		}
	}

	sink := scicapture.NewSequenceBuffer(cfg.Sink.Capacity)
	if err := cam.SetSink(sink); err != nil {
		return err
	}
	if err := cam.StartSequence(cfg.Sequence.Frames, *cfg.Sequence.StopOnOverflow); err != nil {
		return err
	}

	var consumed, saveFailures atomic.Uint64
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for {
			f, ok := sink.Pop()
			if !ok {
				return
			}
			consumed.Add(1)
			slog.Debug("frame",
				"seq", f.Seq,
				"frame_nr", f.Metadata.FrameNr,
				"elapsed_ms", f.Metadata.ElapsedMS,
				"bytes", len(f.Data),
			)
			if outputDir != "" {
				name := fmt.Sprintf("frame_%06d.png", f.Seq)
				if err := savePNG(outputDir, name, f.Data, f.Width, f.Height, f.BytesPerPixel); err != nil {
					slog.Error("failed to save frame", "seq", f.Seq, "error", err)
					saveFailures.Add(1)
				}
			}
		}
	}()

	var ticks <-chan time.Time
	if statsInterval > 0 {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	start := time.Now()
	seqDone := make(chan error, 1)
	go func() { seqDone <- cam.Wait(ctx) }()

	var seqErr error
loop:
	for {
		select {
		case sig := <-sigChan:
			slog.Info("received shutdown signal", "signal", sig)
			if err := cam.StopSequence(); err != nil {
				slog.Error("stop sequence failed", "error", err)
			}
		case seqErr = <-seqDone:
			break loop
		case <-ticks:
			printStats(cam.Stats(), sink.Stats(), time.Since(start))
		}
	}

	shutdownTimeout := time.Duration(cfg.ShutdownTimeoutS) * time.Second
	slog.Info("draining sequence buffer", "timeout", shutdownTimeout)
	select {
	case <-consumerDone:
	case <-time.After(shutdownTimeout):
		slog.Warn("consumer did not drain in time", "pending", sink.Len())
		sink.Close()
	}

	printStats(cam.Stats(), sink.Stats(), time.Since(start))
	slog.Info("sequence complete",
		"consumed", consumed.Load(),
		"save_failures", saveFailures.Load(),
		"uptime", time.Since(start).Round(time.Millisecond),
	)

	if seqErr != nil && !errors.Is(seqErr, context.Canceled) {
		return seqErr
	}
	return nil
}

func printStats(s scicapture.Stats, b scicapture.SequenceBufferStats, uptime time.Duration) {
	fmt.Printf("\n")
	fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
	fmt.Printf("│ Capture Statistics (Uptime: %s)\n", uptime.Round(time.Second))
	fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
	fmt.Printf("│ Mode:               %s\n", s.Mode)
	fmt.Printf("│ Frames Delivered:   %6d frames\n", s.FramesDelivered)
	fmt.Printf("│ Snaps:              %6d\n", s.Snaps)
	fmt.Printf("│ Actual Interval:    %6.2f ms\n", s.ActualIntervalMS)
	fmt.Printf("│ Interval Mean/Max:  %s / %s\n", s.Interval.Mean, s.Interval.Max)
	fmt.Printf("│ Frame Rate:         %6.2f Hz (stable: %v)\n", s.Interval.RateHz, s.Interval.Stable)
	fmt.Printf("│ Buffer:             %6d / %d frames\n", b.Len, b.Capacity)
	fmt.Printf("│ Overflows:          %6d (recovered %d)\n", b.Overflows, s.OverflowRecoveries)
	if len(s.Errors) > 0 {
		fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
		for category, n := range s.Errors {
			fmt.Printf("│ %-14s errors: %6d\n", category, n)
		}
		fmt.Printf("│ Last Error:         %s\n", s.LastError)
	}
	fmt.Printf("╰─────────────────────────────────────────────────────────╯\n")
}
