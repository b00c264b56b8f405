package scicapture

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/e7canasta/sci-capture/internal/params"
	"github.com/e7canasta/sci-capture/internal/sdk"
)

// pmodeFrameTransfer is the parallel clocking mode enabled on frame-transfer sensors
const pmodeFrameTransfer = "Frame Transfer"

// hwParam is a generic hardware parameter found at open. value caches the last
// read-back so getters never touch the hardware.
type hwParam struct {
	name  string
	id    sdk.ParamID
	attr  sdk.ParamAttr
	value string
}

func (p *hwParam) enumerated() bool { return p.attr.Enum != nil }

// discoverParams queries the universal parameters, multiplier gain and actual
// gain. Unsupported or unreadable parameters are skipped.
func (c *Camera) discoverParams() {
	c.hwParams = make(map[string]*hwParam)

	for _, u := range params.Universal {
		p, ok := c.lookupHardwareParam(u.Name, u.ID)
		if !ok {
			continue
		}
		c.hwParams[u.Name] = p
		c.hwOrder = append(c.hwOrder, u.Name)
	}

	// Interline chips report visual gain under the multiplier id
	if !strings.Contains(c.info.ChipName, "ICX-285") && !strings.Contains(c.info.ChipName, "ICX285") {
		if p, ok := c.lookupHardwareParam(PropMultiplierGain, sdk.ParamGainMultFactor); ok && !p.enumerated() {
			// the hardware reports 0 as minimum, the usable range starts at 1
			p.attr.Min = max(p.attr.Min, 1)
			c.multGain = p
		}
	}

	if attr, err := c.dev.ParamAttributes(sdk.ParamActualGain); err == nil && attr.Available {
		c.actualGain = true
	}

	if c.info.FrameTransfer {
		c.enableFrameTransfer()
	}

	slog.Debug("sci-capture: hardware parameters discovered",
		"universal", len(c.hwOrder),
		"multiplier_gain", c.multGain != nil,
		"actual_gain", c.actualGain,
	)
}

func (c *Camera) lookupHardwareParam(name string, id sdk.ParamID) (*hwParam, bool) {
	attr, err := c.dev.ParamAttributes(id)
	if err != nil {
		slog.Warn("sci-capture: hardware parameter unavailable", "param", name, "error", err)
		return nil, false
	}
	if !attr.Available {
		return nil, false
	}
	p := &hwParam{name: name, id: id, attr: attr}
	if err := c.readParamLocked(p); err != nil {
		slog.Warn("sci-capture: hardware parameter unreadable", "param", name, "error", err)
		return nil, false
	}
	return p, true
}

// enableFrameTransfer selects frame-transfer clocking when the sensor offers it.
// Failure is logged and the camera keeps its current mode.
func (c *Camera) enableFrameTransfer() {
	p, ok := c.hwParams["PMode"]
	if !ok || p.attr.ReadOnly || !slices.Contains(p.attr.Enum, pmodeFrameTransfer) {
		return
	}
	if err := c.writeParamLocked(p, pmodeFrameTransfer); err != nil {
		slog.Warn("sci-capture: enable frame transfer", "error", err)
		return
	}
	slog.Info("sci-capture: frame transfer mode enabled", "camera", c.name)
}

// readParamLocked refreshes p.value from the hardware.
func (c *Camera) readParamLocked(p *hwParam) error {
	if p.enumerated() {
		v, err := c.dev.EnumParam(p.id)
		if err != nil {
			return fmt.Errorf("sci-capture: read %s: %w", p.name, err)
		}
		p.value = v
		return nil
	}
	v, err := c.dev.IntParam(p.id)
	if err != nil {
		return fmt.Errorf("sci-capture: read %s: %w", p.name, err)
	}
	p.value = strconv.FormatInt(v, 10)
	return nil
}

// writeParamLocked validates value, writes it and reads back what the hardware
// applied.
func (c *Camera) writeParamLocked(p *hwParam, value string) error {
	if p.attr.ReadOnly {
		return fmt.Errorf("%w: %s is read-only", ErrCannotSetProperty, p.name)
	}

	if p.enumerated() {
		if !slices.Contains(p.attr.Enum, value) {
			return fmt.Errorf("%w: %q is not a value of %s", ErrCannotSetProperty, value, p.name)
		}
		if err := c.dev.SetEnumParam(p.id, value); err != nil {
			return fmt.Errorf("sci-capture: set %s: %w", p.name, err)
		}
	} else {
		v, err := parseInt(value)
		if err != nil {
			return fmt.Errorf("%w: %q is not an integer for %s", ErrCannotSetProperty, value, p.name)
		}
		if int64(v) < p.attr.Min || int64(v) > p.attr.Max {
			return fmt.Errorf("%w: %d outside [%d, %d] for %s", ErrCannotSetProperty, v, p.attr.Min, p.attr.Max, p.name)
		}
		if err := c.dev.SetIntParam(p.id, int64(v)); err != nil {
			return fmt.Errorf("sci-capture: set %s: %w", p.name, err)
		}
	}
	return c.readParamLocked(p)
}

// HardwareParams lists the generic hardware parameters the camera supports
func (c *Camera) HardwareParams() []string { return slices.Clone(c.hwOrder) }

// HardwareParam returns the last value read back from a generic hardware
// parameter. It does not call the hardware, so it is safe while capturing.
func (c *Camera) HardwareParam(name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.hwParams[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProperty, name)
	}
	return p.value, nil
}

// SetHardwareParam stops any running sequence, writes a generic hardware
// parameter and returns the value the hardware applied.
func (c *Camera) SetHardwareParam(name, value string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrClosed
	}
	p, ok := c.hwParams[name]
	if !ok {
		return "", c.record(fmt.Errorf("%w: %q", ErrUnknownProperty, name))
	}
	return c.applyParamLocked(p, value)
}

func (c *Camera) applyParamLocked(p *hwParam, value string) (string, error) {
	if err := c.res.Reconfigure(func() error { return c.writeParamLocked(p, value) }); err != nil {
		return "", c.record(err)
	}
	if p.value != value {
		slog.Debug("sci-capture: hardware parameter adjusted",
			"param", p.name,
			"requested", value,
			"applied", p.value,
		)
	}
	return p.value, nil
}

// MultiplierGain returns the electron-multiplying gain; ok is false when the
// camera has none.
func (c *Camera) MultiplierGain() (gain int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.multGain == nil {
		return 0, false
	}
	g, _ := strconv.Atoi(c.multGain.value)
	return g, true
}

// MultiplierGainLimits returns the allowed multiplier gain range
func (c *Camera) MultiplierGainLimits() (lo, hi int, ok bool) {
	if c.multGain == nil {
		return 0, 0, false
	}
	return int(c.multGain.attr.Min), int(c.multGain.attr.Max), true
}

// SetMultiplierGain stops any running sequence and applies gain.
func (c *Camera) SetMultiplierGain(gain int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.multGain == nil {
		return c.record(fmt.Errorf("%w: camera has no multiplier gain", ErrCannotSetProperty))
	}
	_, err := c.applyParamLocked(c.multGain, strconv.Itoa(gain))
	return err
}

// ActualGain returns the conversion gain in e/ADU for the current port, speed
// and gain.
func (c *Camera) ActualGain() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}
	if !c.actualGain {
		return 0, fmt.Errorf("sci-capture: actual gain not reported by this camera")
	}
	v, err := c.dev.IntParam(sdk.ParamActualGain)
	if err != nil {
		return 0, fmt.Errorf("sci-capture: read actual gain: %w", err)
	}
	return float64(v), nil
}

// PixelType names the sample size of the current speed, e.g. "16bit"
func (c *Camera) PixelType() string {
	return strconv.Itoa(c.BitDepth()) + "bit"
}

// OutputTriggerFirstMissing reports the output trigger setting
func (c *Camera) OutputTriggerFirstMissing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggerFirstMissing
}

// SetOutputTriggerFirstMissing records the output trigger setting. It never
// stops a running sequence.
func (c *Camera) SetOutputTriggerFirstMissing(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.triggerFirstMissing = on
	return nil
}

// hardwareParamDescriptors builds the property entries of the generic
// parameters found at open.
func (c *Camera) hardwareParamDescriptors() []params.Descriptor {
	var out []params.Descriptor
	for _, name := range c.hwOrder {
		name := name
		p := c.hwParams[name]
		d := params.Descriptor{
			Name:     name,
			ReadOnly: p.attr.ReadOnly,
			Get: func() string {
				v, _ := c.HardwareParam(name)
				return v
			},
			Set: func(v string) error {
				_, err := c.SetHardwareParam(name, v)
				return err
			},
		}
		switch {
		case p.enumerated():
			d.Kind = params.Enumerated
			enum := slices.Clone(p.attr.Enum)
			d.Choices = func() []string { return enum }
		case p.attr.ReadOnly:
			d.Kind = params.Numeric
		default:
			kind, choices := params.IntegerDomain(p.attr.Min, p.attr.Max)
			d.Kind = kind
			if kind == params.Enumerated {
				d.Choices = func() []string { return choices }
			} else {
				lo, hi := float64(p.attr.Min), float64(p.attr.Max)
				d.Limits = func() (float64, float64) { return lo, hi }
			}
		}
		out = append(out, d)
	}

	if c.multGain != nil {
		lo, hi := float64(c.multGain.attr.Min), float64(c.multGain.attr.Max)
		out = append(out, params.Descriptor{
			Name: PropMultiplierGain,
			Kind: params.Numeric,
			Get: func() string {
				g, _ := c.MultiplierGain()
				return strconv.Itoa(g)
			},
			Set: func(v string) error {
				g, err := parseInt(v)
				if err != nil {
					return err
				}
				return c.SetMultiplierGain(g)
			},
			Limits: func() (float64, float64) { return lo, hi },
		})
	}

	if c.actualGain {
		out = append(out, params.Descriptor{
			Name:     PropActualGain,
			Kind:     params.Numeric,
			ReadOnly: true,
			Get: func() string {
				v, err := c.ActualGain()
				if err != nil {
					slog.Warn("sci-capture: actual gain unavailable", "error", err)
					return ""
				}
				return formatFloat(v)
			},
		})
	}
	return out
}
