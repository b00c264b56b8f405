package scicapture

import (
	"github.com/e7canasta/sci-capture/internal/sdk"
	"github.com/e7canasta/sci-capture/internal/simcam"
)

// Device is the vendor SDK contract for one camera handle. It does not need to
// be safe for concurrent use: Open serializes every call behind one lock.
type Device = sdk.Device

// Simulator types
type (
	SimulatorConfig = simcam.Config
	SimulatorPort   = simcam.Port
	SimulatorSpeed  = simcam.Speed
	SimulatorFaults = simcam.Faults
	SimulatorParam  = simcam.Param
	// ParamID identifies a generic hardware parameter
	ParamID = sdk.ParamID
)

// DefaultSimulatorParams is the simulator's generic parameter set
func DefaultSimulatorParams() map[ParamID]SimulatorParam { return simcam.DefaultParams() }

// DefaultSimulatorConfig is a small two-port sensor
func DefaultSimulatorConfig() SimulatorConfig { return simcam.DefaultConfig() }

// NewSimulatedDevice returns a simulated camera
func NewSimulatedDevice(cfg SimulatorConfig) Device { return simcam.New(cfg) }
