// Package sdk defines the function contract of the vendor camera SDK consumed by
// the acquisition engine, plus the guard that serializes every native call.
package sdk

import "fmt"

// Status is the readout state reported by the hardware while a capture is active.
type Status int

const (
	// StatusReadoutNotActive means no frame is currently being read out.
	StatusReadoutNotActive Status = iota
	// StatusExposureInProgress means the sensor is integrating.
	StatusExposureInProgress
	// StatusReadoutInProgress means the sensor is being read out.
	StatusReadoutInProgress
	// StatusReadoutComplete means a frame has been fully transferred.
	StatusReadoutComplete
	// StatusReadoutFailed means the transfer was lost.
	StatusReadoutFailed
)

// String returns a human-readable status name
func (s Status) String() string {
	switch s {
	case StatusReadoutNotActive:
		return "readout-not-active"
	case StatusExposureInProgress:
		return "exposure-in-progress"
	case StatusReadoutInProgress:
		return "readout-in-progress"
	case StatusReadoutComplete:
		return "readout-complete"
	case StatusReadoutFailed:
		return "readout-failed"
	default:
		return "unknown"
	}
}

// AbortMode selects how an in-flight acquisition is cancelled.
type AbortMode int

const (
	// AbortClear stops the acquisition and clears the sensor.
	AbortClear AbortMode = iota
	// AbortHalt stops the acquisition immediately.
	AbortHalt
)

// TimingResolution is the unit in which exposure values are passed to setup calls.
type TimingResolution int

const (
	// Milliseconds exposure resolution.
	Milliseconds TimingResolution = iota
	// Microseconds exposure resolution.
	Microseconds
)

// String returns the resolution unit
func (r TimingResolution) String() string {
	if r == Microseconds {
		return "us"
	}
	return "ms"
}

// Region is the hardware region descriptor. Coordinates are inclusive sensor
// pixels; S is the serial (x) axis, P the parallel (y) axis.
type Region struct {
	S1, S2, SBin int
	P1, P2, PBin int
}

// FrameInfo is the per-frame record the hardware attaches to a completed readout.
type FrameInfo struct {
	FrameNr       int32
	TimeStampBOF  int64 // beginning of frame, hardware ticks
	TimeStamp     int64 // end of frame, hardware ticks
	ReadoutTimeNs int64
}

// SetupConfig is passed to the single-shot and continuous setup calls.
type SetupConfig struct {
	Region      Region
	TriggerMode int
	Exposure    uint32
	Resolution  TimingResolution
	// Frames is the number of frames per sequence; ignored by continuous setup.
	Frames int
}

// ParamID identifies a generic hardware parameter.
type ParamID int

const (
	ParamADCOffset ParamID = iota + 1
	ParamClearCycles
	ParamPMode
	ParamClearMode
	ParamPreampDelay
	ParamPreampOffControl
	ParamPreMask
	ParamPrescan
	ParamPostscan
	ParamShutterOpenMode
	ParamShutterOpenDelay
	ParamShutterCloseDelay
	ParamGainMultFactor
	ParamActualGain
)

// ParamAttr is what the hardware reports about a generic parameter.
type ParamAttr struct {
	Available bool
	ReadOnly  bool
	// Enum holds the value names of an enumerated parameter; nil for integers.
	Enum     []string
	Min, Max int64
}

// Error is a native SDK failure carrying the vendor's code and message.
type Error struct {
	Op      string
	Code    int
	Message string
}

// Error implements error
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("hardware error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: hardware error %d: %s", e.Op, e.Code, e.Message)
}

// Device is the vendor SDK contract for one open camera handle.
//
// Implementations are not required to be safe for concurrent use; wrap them
// with NewGuard before sharing between goroutines.
type Device interface {
	Open() error
	Close() error

	// Static facts
	ChipName() (string, error)
	SerialNumber() (string, error)
	FirmwareVersion() (string, error)
	SensorSize() (width, height int, err error)
	FullWellCapacity() (int, error)
	FrameTransferCapable() bool
	SupportsMicroseconds() bool
	TriggerModes() []string

	// Readout parameters
	PortCount() (int, error)
	SetPort(port int) error
	SpeedCount() (int, error)
	SetSpeed(index int) error
	PixelTime() (int, error)
	GainRange() (min, max int, err error)
	Gain() (int, error)
	SetGain(gain int) error
	BitDepth() (int, error)
	ReadNoise() (float64, error)

	// Temperature in hundredths of a degree Celsius
	Temperature() (int, error)
	TemperatureSetpoint() (int, error)
	SetTemperatureSetpoint(v int) error

	// Post-processing features, opaque key/value
	Param(key string) (string, error)
	SetParam(key, value string) error

	// Generic parameters. An unsupported id reports Available false.
	ParamAttributes(id ParamID) (ParamAttr, error)
	EnumParam(id ParamID) (string, error)
	SetEnumParam(id ParamID, value string) error
	IntParam(id ParamID) (int64, error)
	SetIntParam(id ParamID, value int64) error

	// Acquisition
	SetupSequence(cfg SetupConfig) (frameBytes int, err error)
	SetupContinuous(cfg SetupConfig) (frameBytes int, err error)
	StartSequence(buf []byte) error
	StartContinuous(buf []byte) error
	CheckStatus() (Status, error)
	CheckContinuousStatus() (Status, error)
	LatestFrame() ([]byte, FrameInfo, error)
	Abort(mode AbortMode) error
	StopContinuous(mode AbortMode) error
	FinishSequence() error
	RegisterFrameCallback(fn func()) error
	DeregisterFrameCallback() error
}
