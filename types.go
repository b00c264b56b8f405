package scicapture

import (
	"time"

	"github.com/e7canasta/sci-capture/internal/acquire"
	"github.com/e7canasta/sci-capture/internal/debayer"
	"github.com/e7canasta/sci-capture/internal/metadata"
	"github.com/e7canasta/sci-capture/internal/params"
	"github.com/e7canasta/sci-capture/internal/roi"
)

// Frame is one delivered image with its metadata
type Frame struct {
	// Seq is the 1-based sequence number within the episode
	Seq uint64
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// BytesPerPixel is 2 for raw frames and 4 for color (BGRA) frames
	BytesPerPixel int
	// Data is a view of the ring buffer slot or the color buffer. It is only
	// valid during InsertImage; sinks keeping it must copy.
	Data []byte
	// Metadata describes the frame and its episode
	Metadata Metadata
}

// Metadata is the per-frame record
type Metadata = metadata.Record

// DecodeMetadata decodes a record encoded with Metadata.Encode
func DecodeMetadata(b []byte) (Metadata, error) { return metadata.Decode(b) }

// IntervalStats summarizes recent inter-frame intervals
type IntervalStats = metadata.IntervalStats

// Region is the sensor area being read out, in unbinned sensor pixels
type Region = roi.Region

// GainLimits are the gain bounds of the current readout speed
type GainLimits = params.GainLimits

// Method selects how completed frames are detected
type Method = acquire.Method

const (
	// Polling checks the hardware status from a dedicated worker
	Polling = acquire.Polling
	// Callback reacts to the hardware's completion notification
	Callback = acquire.Callback
)

// ParseMethod is the inverse of Method.String
func ParseMethod(s string) (Method, bool) { return acquire.ParseMethod(s) }

// BayerPattern is the color filter layout used for color reconstruction
type BayerPattern = debayer.Pattern

const (
	RGGB = debayer.RGGB
	BGGR = debayer.BGGR
	GRBG = debayer.GRBG
	GBRG = debayer.GBRG
)

// ParseBayerPattern accepts the four pattern names, case-insensitively
func ParseBayerPattern(s string) (BayerPattern, error) { return debayer.ParsePattern(s) }

// SessionMode is the capture state of a Camera
type SessionMode int

const (
	// ModeIdle has no capture configured
	ModeIdle SessionMode = iota
	// ModeSingleShotArmed is configured for Snap
	ModeSingleShotArmed
	// ModeContinuousArmed is configured for StartSequence
	ModeContinuousArmed
	// ModeContinuousRunning is delivering frames to the sink
	ModeContinuousRunning
)

// String returns the mode name
func (m SessionMode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeSingleShotArmed:
		return "single-shot-armed"
	case ModeContinuousArmed:
		return "continuous-armed"
	case ModeContinuousRunning:
		return "continuous-running"
	default:
		return "unknown"
	}
}

// Config contains the session settings applied at Open
type Config struct {
	// Name labels the camera in metadata and logs (default: the chip name)
	Name string
	// ExposureMS is the initial exposure in milliseconds (default: 10)
	ExposureMS float64
	// TriggerTimeout is added to every frame wait (default: 2s)
	TriggerTimeout time.Duration
	// FrameBufferDepth is the ring buffer depth in frames, 3-32 (default: 8)
	FrameBufferDepth int
	// Method is the frame delivery strategy (default: Polling)
	Method Method
	// Color enables color reconstruction of the raw mosaic
	Color bool
	// Pattern is the sensor's Bayer layout (default: RGGB)
	Pattern BayerPattern
	// PostProcessing lists the feature keys exposed as "PP:<key>" properties
	PostProcessing []string
	// Sink receives continuous frames; it may be set later with SetSink
	Sink Sink
	// PollInterval is the status polling granularity (default: 1ms)
	PollInterval time.Duration
}

// Info holds the static facts read once at open
type Info struct {
	ChipName         string
	SerialNumber     string
	FirmwareVersion  string
	SensorWidth      int
	SensorHeight     int
	FullWellCapacity int
	FrameTransfer    bool
	Microseconds     bool
	Ports            int
	TriggerModes     []string
}

// Stats contains current session statistics
type Stats struct {
	// Mode is the current capture state
	Mode SessionMode
	// Episodes is the number of continuous sequences started
	Episodes uint64
	// FramesDelivered counts frames accepted by the sink across all episodes
	FramesDelivered uint64
	// Snaps counts completed single-shot frames
	Snaps uint64
	// OverflowRecoveries counts sink clears followed by a redelivery
	OverflowRecoveries uint64
	// ActualIntervalMS is elapsed/seq of the latest frame
	ActualIntervalMS float64
	// Interval summarizes recent inter-frame intervals
	Interval IntervalStats
	// Errors counts failures per category
	Errors map[ErrorCategory]uint64
	// LastError is the most recent failure, empty if none
	LastError string
}
