package scicapture

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/e7canasta/sci-capture/internal/debayer"
	"github.com/e7canasta/sci-capture/internal/params"
	"github.com/e7canasta/sci-capture/internal/ringbuf"
)

// Property names
const (
	PropPort                = "Port"
	PropSpeed               = "ReadoutRate"
	PropGain                = "Gain"
	PropExposure            = "Exposure"
	PropBinning             = "Binning"
	PropBinningX            = "BinningX"
	PropBinningY            = "BinningY"
	PropROI                 = "ROI"
	PropTriggerMode         = "TriggerMode"
	PropTriggerTimeout      = "TriggerTimeout"
	PropFrameBufferDepth    = "FrameBufferDepth"
	PropAcquisitionMethod   = "AcquisitionMethod"
	PropColor               = "Color"
	PropBayerPattern        = "BayerPattern"
	PropActualInterval      = "ActualInterval-ms"
	PropReadNoise           = "ReadNoise"
	PropBitDepth            = "BitDepth"
	PropChipName            = "ChipName"
	PropSerialNumber        = "SerialNumber"
	PropFirmwareVersion     = "FirmwareVersion"
	PropFullWellCapacity    = "FullWellCapacity"
	PropFrameTransfer       = "FrameTransfer"
	PropTemperature         = "CCDTemperature"
	PropTemperatureSetpoint = "CCDTemperatureSetpoint"
	PropPixelType           = "PixelType"

	PropMultiplierGain            = "MultiplierGain"
	PropActualGain                = "Actual Gain e/ADU"
	PropOutputTriggerFirstMissing = "OutputTriggerFirstMissing"

	// Generic hardware parameters, listed only when the camera supports them
	PropOffset            = "Offset"
	PropClearCycles       = "ClearCycles"
	PropPMode             = "PMode"
	PropClearMode         = "ClearMode"
	PropPreampDelay       = "PreampDelay"
	PropPreampOffLimit    = "PreampOffLimit"
	PropMaskLines         = "MaskLines"
	PropPrescanPixels     = "PrescanPixels"
	PropPostscanPixels    = "PostscanPixels"
	PropShutterMode       = "ShutterMode"
	PropShutterOpenDelay  = "ShutterOpenDelay"
	PropShutterCloseDelay = "ShutterCloseDelay"

	// PostProcessingPrefix prefixes the post-processing feature properties
	PostProcessingPrefix = "PP:"
)

const (
	valueOn  = "ON"
	valueOff = "OFF"
)

// PropertyInfo describes one entry of the property surface
type PropertyInfo struct {
	Name     string
	Kind     string // enumerated, numeric, text
	ReadOnly bool
	Value    string
	// Choices lists allowed values for enumerated properties and discrete gains
	Choices []string
	// Bounded is true when Min and Max apply
	Bounded  bool
	Min, Max float64
}

// Properties lists every property with its current value
func (c *Camera) Properties() []PropertyInfo {
	names := c.props.Names()
	out := make([]PropertyInfo, 0, len(names))
	for _, name := range names {
		d, _ := c.props.Lookup(name)
		p := PropertyInfo{
			Name:     d.Name,
			Kind:     d.Kind.String(),
			ReadOnly: d.ReadOnly,
			Value:    d.Get(),
		}
		if d.Choices != nil {
			p.Choices = d.Choices()
		}
		if d.Limits != nil {
			p.Bounded = true
			p.Min, p.Max = d.Limits()
		}
		out = append(out, p)
	}
	return out
}

// Property reads a property by name
func (c *Camera) Property(name string) (string, error) {
	return c.props.Get(name)
}

// SetProperty validates value against the property's domain and applies it.
// Rejected values fail with ErrCannotSetProperty, unknown names with
// ErrUnknownProperty.
func (c *Camera) SetProperty(name, value string) error {
	if err := c.props.Set(name, value); err != nil {
		return c.record(err)
	}
	return nil
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func parseInt(value string) (int, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	return int(math.Round(v)), nil
}

func onOff(b bool) string {
	if b {
		return valueOn
	}
	return valueOff
}

// buildProperties creates the descriptor table. Getters and setters go through
// the public methods, so the table itself needs no locking.
func (c *Camera) buildProperties() *params.Table {
	t := params.NewTable(
		params.Descriptor{
			Name: PropPort,
			Kind: params.Enumerated,
			Get:  func() string { return strconv.Itoa(c.Port()) },
			Set: func(v string) error {
				p, err := strconv.Atoi(v)
				if err != nil {
					return err
				}
				return c.SetPort(p)
			},
			Choices: func() []string {
				out := make([]string, c.Ports())
				for i := range out {
					out[i] = strconv.Itoa(i)
				}
				return out
			},
		},
		params.Descriptor{
			Name:    PropSpeed,
			Kind:    params.Enumerated,
			Get:     c.Speed,
			Set:     c.SetSpeed,
			Choices: c.Speeds,
		},
		params.Descriptor{
			Name: PropGain,
			Kind: params.Numeric,
			Get:  func() string { return strconv.Itoa(c.Gain()) },
			Set: func(v string) error {
				g, err := parseInt(v)
				if err != nil {
					return err
				}
				return c.SetGain(g)
			},
			Choices: func() []string {
				l := c.GainLimits()
				if !l.Discrete {
					return nil
				}
				out := make([]string, len(l.Choices))
				for i, g := range l.Choices {
					out[i] = strconv.Itoa(g)
				}
				return out
			},
			Limits: func() (float64, float64) {
				l := c.GainLimits()
				return float64(l.Min), float64(l.Max)
			},
		},
		params.Descriptor{
			Name: PropExposure,
			Kind: params.Numeric,
			Get:  func() string { return formatFloat(c.Exposure()) },
			Set: func(v string) error {
				ms, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return err
				}
				return c.SetExposure(ms)
			},
		},
		params.Descriptor{
			Name: PropBinning,
			Kind: params.Enumerated,
			Get: func() string {
				x, _ := c.Binning()
				return strconv.Itoa(x)
			},
			Set: func(v string) error {
				b, err := strconv.Atoi(v)
				if err != nil {
					return err
				}
				return c.SetBinning(b)
			},
			Choices: func() []string { return []string{"1", "2", "4", "8"} },
		},
		params.Descriptor{
			Name: PropBinningX,
			Kind: params.Numeric,
			Get: func() string {
				x, _ := c.Binning()
				return strconv.Itoa(x)
			},
			Set: func(v string) error {
				b, err := parseInt(v)
				if err != nil {
					return err
				}
				_, y := c.Binning()
				return c.SetBinningXY(b, y)
			},
			Limits: func() (float64, float64) { return 1, float64(c.info.SensorWidth) },
		},
		params.Descriptor{
			Name: PropBinningY,
			Kind: params.Numeric,
			Get: func() string {
				_, y := c.Binning()
				return strconv.Itoa(y)
			},
			Set: func(v string) error {
				b, err := parseInt(v)
				if err != nil {
					return err
				}
				x, _ := c.Binning()
				return c.SetBinningXY(x, b)
			},
			Limits: func() (float64, float64) { return 1, float64(c.info.SensorHeight) },
		},
		params.Descriptor{
			Name:     PropROI,
			Kind:     params.Text,
			ReadOnly: true,
			Get:      func() string { return c.ROI().String() },
		},
		params.Descriptor{
			Name:    PropTriggerMode,
			Kind:    params.Enumerated,
			Get:     c.TriggerMode,
			Set:     c.SetTriggerMode,
			Choices: c.TriggerModes,
		},
		params.Descriptor{
			Name: PropTriggerTimeout,
			Kind: params.Numeric,
			Get:  func() string { return formatFloat(c.TriggerTimeout().Seconds()) },
			Set: func(v string) error {
				s, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return err
				}
				return c.SetTriggerTimeout(time.Duration(s * float64(time.Second)))
			},
			Limits: func() (float64, float64) { return 0, 3600 },
		},
		params.Descriptor{
			Name: PropFrameBufferDepth,
			Kind: params.Numeric,
			Get:  func() string { return strconv.Itoa(c.FrameBufferDepth()) },
			Set: func(v string) error {
				d, err := parseInt(v)
				if err != nil {
					return err
				}
				return c.SetFrameBufferDepth(d)
			},
			Limits: func() (float64, float64) { return ringbuf.MinDepth, ringbuf.MaxDepth },
		},
		params.Descriptor{
			Name: PropAcquisitionMethod,
			Kind: params.Enumerated,
			Get:  func() string { return c.AcquisitionMethod().String() },
			Set: func(v string) error {
				m, ok := ParseMethod(v)
				if !ok {
					return fmt.Errorf("unknown method %q", v)
				}
				return c.SetAcquisitionMethod(m)
			},
			Choices: func() []string { return []string{Polling.String(), Callback.String()} },
		},
		params.Descriptor{
			Name: PropColor,
			Kind: params.Enumerated,
			Get:  func() string { return onOff(c.ColorMode()) },
			Set:  func(v string) error { return c.SetColorMode(v == valueOn) },
			Choices: func() []string {
				return []string{valueOn, valueOff}
			},
		},
		params.Descriptor{
			Name: PropBayerPattern,
			Kind: params.Enumerated,
			Get:  func() string { return c.BayerPattern().String() },
			Set: func(v string) error {
				p, err := debayer.ParsePattern(v)
				if err != nil {
					return err
				}
				return c.SetBayerPattern(p)
			},
			Choices: func() []string {
				return []string{RGGB.String(), BGGR.String(), GRBG.String(), GBRG.String()}
			},
		},
		params.Descriptor{
			Name:     PropActualInterval,
			Kind:     params.Numeric,
			ReadOnly: true,
			Get:      func() string { return formatFloat(c.builder.ActualIntervalMS()) },
		},
		params.Descriptor{
			Name:     PropReadNoise,
			Kind:     params.Numeric,
			ReadOnly: true,
			Get:      func() string { return formatFloat(c.ReadNoise()) },
		},
		params.Descriptor{
			Name:     PropBitDepth,
			Kind:     params.Numeric,
			ReadOnly: true,
			Get:      func() string { return strconv.Itoa(c.BitDepth()) },
		},
		params.Descriptor{
			Name:     PropChipName,
			Kind:     params.Text,
			ReadOnly: true,
			Get:      func() string { return c.info.ChipName },
		},
		params.Descriptor{
			Name:     PropSerialNumber,
			Kind:     params.Text,
			ReadOnly: true,
			Get:      func() string { return c.info.SerialNumber },
		},
		params.Descriptor{
			Name:     PropFirmwareVersion,
			Kind:     params.Text,
			ReadOnly: true,
			Get:      func() string { return c.info.FirmwareVersion },
		},
		params.Descriptor{
			Name:     PropFullWellCapacity,
			Kind:     params.Numeric,
			ReadOnly: true,
			Get:      func() string { return strconv.Itoa(c.info.FullWellCapacity) },
		},
		params.Descriptor{
			Name:     PropFrameTransfer,
			Kind:     params.Enumerated,
			ReadOnly: true,
			Get:      func() string { return onOff(c.info.FrameTransfer) },
		},
		params.Descriptor{
			Name:     PropTemperature,
			Kind:     params.Numeric,
			ReadOnly: true,
			Get: func() string {
				v, err := c.Temperature()
				if err != nil {
					slog.Warn("sci-capture: temperature unavailable", "error", err)
					return ""
				}
				return formatFloat(v)
			},
		},
		params.Descriptor{
			Name: PropTemperatureSetpoint,
			Kind: params.Numeric,
			Get: func() string {
				v, err := c.TemperatureSetpoint()
				if err != nil {
					slog.Warn("sci-capture: temperature setpoint unavailable", "error", err)
					return ""
				}
				return formatFloat(v)
			},
			Set: func(v string) error {
				celsius, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return err
				}
				return c.SetTemperatureSetpoint(celsius)
			},
		},
		params.Descriptor{
			Name:     PropPixelType,
			Kind:     params.Text,
			ReadOnly: true,
			Get:      c.PixelType,
		},
		params.Descriptor{
			Name: PropOutputTriggerFirstMissing,
			Kind: params.Enumerated,
			Get: func() string {
				if c.OutputTriggerFirstMissing() {
					return "1"
				}
				return "0"
			},
			Set:     func(v string) error { return c.SetOutputTriggerFirstMissing(v == "1") },
			Choices: func() []string { return []string{"0", "1"} },
		},
	)

	for _, d := range c.hardwareParamDescriptors() {
		t.Add(d)
	}

	for _, key := range c.cfg.PostProcessing {
		key := key
		t.Add(params.Descriptor{
			Name: PostProcessingPrefix + key,
			Kind: params.Text,
			Get: func() string {
				v, err := c.PostProcessing(key)
				if err != nil {
					slog.Warn("sci-capture: post-processing unavailable", "key", key, "error", err)
					return ""
				}
				return v
			},
			Set: func(v string) error {
				_, err := c.SetPostProcessing(key, v)
				return err
			},
		})
	}
	return t
}
