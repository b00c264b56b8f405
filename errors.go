package scicapture

import (
	"context"
	"errors"

	"github.com/e7canasta/sci-capture/internal/acquire"
	"github.com/e7canasta/sci-capture/internal/catalog"
	"github.com/e7canasta/sci-capture/internal/params"
	"github.com/e7canasta/sci-capture/internal/ringbuf"
	"github.com/e7canasta/sci-capture/internal/roi"
	"github.com/e7canasta/sci-capture/internal/sdk"
	"github.com/e7canasta/sci-capture/internal/seqbuf"
)

// Public API errors
var (
	ErrCameraNotFound     = errors.New("sci-capture: camera not found")
	ErrBusyAcquiring      = errors.New("sci-capture: busy acquiring")
	ErrBufferSizeMismatch = errors.New("sci-capture: hardware frame size does not match image buffer")
	ErrFrameFetch         = errors.New("sci-capture: frame fetch failed")
	ErrNoSink             = errors.New("sci-capture: no sink attached")
	ErrClosed             = errors.New("sci-capture: camera closed")
)

// Re-exported errors of the internal components
var (
	ErrRegionTooSmall      = roi.ErrTooSmall
	ErrRegionOutsideSensor = roi.ErrOutsideSensor
	ErrInvalidBin          = roi.ErrInvalidBin
	ErrCannotSetProperty   = params.ErrCannotSet
	ErrUnknownProperty     = params.ErrUnknownProperty
	ErrInvalidPort         = params.ErrInvalidPort
	ErrInvalidSpeed        = params.ErrInvalidSpeed
	ErrGainOutOfRange      = params.ErrGainOutOfRange
	ErrInvalidExposure     = params.ErrInvalidExposure
	ErrInvalidTriggerMode  = params.ErrInvalidTriggerMode
	ErrCatalogBuild        = catalog.ErrBuild
	ErrInvalidFrameDepth   = ringbuf.ErrDepthOutOfRange
	ErrReadoutTimeout      = acquire.ErrTimeout
	ErrReadoutFailed       = acquire.ErrReadoutFailed

	// ErrSinkOverflow is what a Sink returns from InsertImage when it is full.
	ErrSinkOverflow = seqbuf.ErrOverflow
)

// HardwareError carries the native SDK error code and message.
type HardwareError = sdk.Error

// ErrorCategory classifies failures for telemetry
type ErrorCategory int

const (
	// ErrCategoryConfiguration is an invalid request rejected before or by the hardware
	ErrCategoryConfiguration ErrorCategory = iota
	// ErrCategoryHardware is a failed native call or a structural desync
	ErrCategoryHardware
	// ErrCategoryTiming is a wait timeout or a reported readout failure
	ErrCategoryTiming
	// ErrCategoryOverflow is a full sink
	ErrCategoryOverflow
	// ErrCategoryUnknown is anything else
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryConfiguration:
		return "configuration"
	case ErrCategoryHardware:
		return "hardware"
	case ErrCategoryTiming:
		return "timing"
	case ErrCategoryOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

var configurationErrors = []error{
	ErrRegionTooSmall,
	ErrRegionOutsideSensor,
	ErrInvalidBin,
	ErrCannotSetProperty,
	ErrUnknownProperty,
	ErrInvalidPort,
	ErrInvalidSpeed,
	ErrGainOutOfRange,
	ErrInvalidExposure,
	ErrInvalidTriggerMode,
	ErrInvalidFrameDepth,
	ErrBusyAcquiring,
	ErrNoSink,
	ErrClosed,
	ErrBusClosed,
}

// Classify maps err to its category. Checks run from the most specific to the
// least: a timeout that wraps a native error is still a timing failure.
func Classify(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryUnknown
	}

	if errors.Is(err, ErrSinkOverflow) {
		return ErrCategoryOverflow
	}

	if errors.Is(err, ErrReadoutTimeout) || errors.Is(err, ErrReadoutFailed) ||
		errors.Is(err, context.DeadlineExceeded) {
		return ErrCategoryTiming
	}

	for _, target := range configurationErrors {
		if errors.Is(err, target) {
			return ErrCategoryConfiguration
		}
	}

	var hw *HardwareError
	if errors.As(err, &hw) ||
		errors.Is(err, ErrFrameFetch) ||
		errors.Is(err, ErrBufferSizeMismatch) ||
		errors.Is(err, ErrCatalogBuild) ||
		errors.Is(err, ErrCameraNotFound) {
		return ErrCategoryHardware
	}

	return ErrCategoryUnknown
}
