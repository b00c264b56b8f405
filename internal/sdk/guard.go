package sdk

import "sync"

// Guard serializes every call into a Device behind one mutex. The lock is held
// only for the duration of a single native call, never across a wait.
type Guard struct {
	mu  sync.Mutex
	dev Device
}

// NewGuard wraps dev. The returned Guard satisfies Device.
func NewGuard(dev Device) *Guard {
	return &Guard{dev: dev}
}

var _ Device = (*Guard)(nil)

// Unwrap returns the guarded device
func (g *Guard) Unwrap() Device { return g.dev }

func (g *Guard) Open() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.Open()
}

func (g *Guard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.Close()
}

func (g *Guard) ChipName() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.ChipName()
}

func (g *Guard) SerialNumber() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.SerialNumber()
}

func (g *Guard) FirmwareVersion() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.FirmwareVersion()
}

func (g *Guard) SensorSize() (int, int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.SensorSize()
}

func (g *Guard) FullWellCapacity() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.FullWellCapacity()
}

func (g *Guard) FrameTransferCapable() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.FrameTransferCapable()
}

func (g *Guard) SupportsMicroseconds() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.SupportsMicroseconds()
}

func (g *Guard) TriggerModes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.TriggerModes()
}

func (g *Guard) PortCount() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.PortCount()
}

func (g *Guard) SetPort(port int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.SetPort(port)
}

func (g *Guard) SpeedCount() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.SpeedCount()
}

func (g *Guard) SetSpeed(index int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.SetSpeed(index)
}

func (g *Guard) PixelTime() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.PixelTime()
}

func (g *Guard) GainRange() (int, int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.GainRange()
}

func (g *Guard) Gain() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.Gain()
}

func (g *Guard) SetGain(gain int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.SetGain(gain)
}

func (g *Guard) BitDepth() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.BitDepth()
}

func (g *Guard) ReadNoise() (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.ReadNoise()
}

func (g *Guard) Temperature() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.Temperature()
}

func (g *Guard) TemperatureSetpoint() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.TemperatureSetpoint()
}

func (g *Guard) SetTemperatureSetpoint(v int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.SetTemperatureSetpoint(v)
}

func (g *Guard) Param(key string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.Param(key)
}

func (g *Guard) SetParam(key, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.SetParam(key, value)
}

func (g *Guard) ParamAttributes(id ParamID) (ParamAttr, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.ParamAttributes(id)
}

func (g *Guard) EnumParam(id ParamID) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.EnumParam(id)
}

func (g *Guard) SetEnumParam(id ParamID, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.SetEnumParam(id, value)
}

func (g *Guard) IntParam(id ParamID) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.IntParam(id)
}

func (g *Guard) SetIntParam(id ParamID, value int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.SetIntParam(id, value)
}

func (g *Guard) SetupSequence(cfg SetupConfig) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.SetupSequence(cfg)
}

func (g *Guard) SetupContinuous(cfg SetupConfig) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.SetupContinuous(cfg)
}

func (g *Guard) StartSequence(buf []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.StartSequence(buf)
}

func (g *Guard) StartContinuous(buf []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.StartContinuous(buf)
}

func (g *Guard) CheckStatus() (Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.CheckStatus()
}

func (g *Guard) CheckContinuousStatus() (Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.CheckContinuousStatus()
}

func (g *Guard) LatestFrame() ([]byte, FrameInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.LatestFrame()
}

func (g *Guard) Abort(mode AbortMode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.Abort(mode)
}

func (g *Guard) StopContinuous(mode AbortMode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.StopContinuous(mode)
}

func (g *Guard) FinishSequence() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.FinishSequence()
}

func (g *Guard) RegisterFrameCallback(fn func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.RegisterFrameCallback(fn)
}

func (g *Guard) DeregisterFrameCallback() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.DeregisterFrameCallback()
}
