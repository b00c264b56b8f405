// Package catalog enumerates the readout speeds exposed by each hardware port.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// FallbackPixelTimeNs is substituted when the hardware cannot report a pixel time.
const FallbackPixelTimeNs = 1000

// ErrBuild is returned when the catalog cannot be built.
var ErrBuild = errors.New("sci-capture: capability catalog build failed")

// Hardware is the subset of the SDK contract the catalog reads.
type Hardware interface {
	PortCount() (int, error)
	SetPort(port int) error
	SpeedCount() (int, error)
	SetSpeed(index int) error
	PixelTime() (int, error)
	GainRange() (min, max int, err error)
	BitDepth() (int, error)
}

// Entry describes one (port, speed) pair. Entries are immutable once built.
type Entry struct {
	Port        int
	Speed       int
	PixelTimeNs int
	GainMin     int
	GainMax     int
	BitDepth    int
	Label       string
}

// Catalog holds the speed table partitioned by port, plus a reverse index by label.
type Catalog struct {
	ports   [][]Entry
	byLabel map[string]Entry
}

// Label formats the readout rate and bit depth, e.g. "10MHz 12bit".
func Label(pixelTimeNs, bitDepth int) string {
	mhz := 1000.0 / float64(pixelTimeNs)
	return strconv.FormatFloat(mhz, 'g', 6, 64) + "MHz " + strconv.Itoa(bitDepth) + "bit"
}

// Build walks every port and speed, setting the hardware to each pair in turn.
// The hardware is left on port 0, speed 0.
func Build(hw Hardware) (*Catalog, error) {
	nPorts, err := hw.PortCount()
	if err != nil {
		return nil, fmt.Errorf("%w: port count: %w", ErrBuild, err)
	}
	if nPorts <= 0 {
		return nil, fmt.Errorf("%w: hardware reports no ports", ErrBuild)
	}

	c := &Catalog{
		ports:   make([][]Entry, nPorts),
		byLabel: make(map[string]Entry),
	}

	for port := 0; port < nPorts; port++ {
		if err := hw.SetPort(port); err != nil {
			return nil, fmt.Errorf("%w: set port %d: %w", ErrBuild, port, err)
		}

		nSpeeds, err := hw.SpeedCount()
		if err != nil {
			return nil, fmt.Errorf("%w: speed count on port %d: %w", ErrBuild, port, err)
		}
		if nSpeeds <= 0 {
			return nil, fmt.Errorf("%w: port %d reports no speeds", ErrBuild, port)
		}

		entries := make([]Entry, 0, nSpeeds)
		for speed := 0; speed < nSpeeds; speed++ {
			entry, err := readEntry(hw, port, speed)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
			c.byLabel[entry.Label] = entry
		}
		c.ports[port] = entries
	}

	// Leave the hardware on the first entry
	if err := hw.SetPort(0); err != nil {
		return nil, fmt.Errorf("%w: reset port: %w", ErrBuild, err)
	}
	if err := hw.SetSpeed(0); err != nil {
		return nil, fmt.Errorf("%w: reset speed: %w", ErrBuild, err)
	}

	slog.Debug("catalog: built",
		"ports", nPorts,
		"entries", len(c.byLabel),
	)

	return c, nil
}

func readEntry(hw Hardware, port, speed int) (Entry, error) {
	if err := hw.SetSpeed(speed); err != nil {
		return Entry{}, fmt.Errorf("%w: set speed %d on port %d: %w", ErrBuild, speed, port, err)
	}

	pixelTime, err := hw.PixelTime()
	if err != nil || pixelTime <= 0 {
		slog.Warn("catalog: pixel time unavailable, using fallback",
			"port", port,
			"speed", speed,
			"fallback_ns", FallbackPixelTimeNs,
			"error", err,
		)
		pixelTime = FallbackPixelTimeNs
	}

	gainMin, gainMax, err := hw.GainRange()
	if err != nil {
		slog.Warn("catalog: gain range unavailable, assuming 1",
			"port", port,
			"speed", speed,
			"error", err,
		)
		gainMin, gainMax = 1, 1
	}

	bitDepth, err := hw.BitDepth()
	if err != nil {
		return Entry{}, fmt.Errorf("%w: bit depth for port %d speed %d: %w", ErrBuild, port, speed, err)
	}

	return Entry{
		Port:        port,
		Speed:       speed,
		PixelTimeNs: pixelTime,
		GainMin:     gainMin,
		GainMax:     gainMax,
		BitDepth:    bitDepth,
		Label:       Label(pixelTime, bitDepth),
	}, nil
}

// Ports returns the number of hardware ports.
func (c *Catalog) Ports() int {
	return len(c.ports)
}

// Speeds returns a copy of the partition for port.
func (c *Catalog) Speeds(port int) []Entry {
	if port < 0 || port >= len(c.ports) {
		return nil
	}
	out := make([]Entry, len(c.ports[port]))
	copy(out, c.ports[port])
	return out
}

// Labels returns the speed labels available on port, in speed-index order.
func (c *Catalog) Labels(port int) []string {
	if port < 0 || port >= len(c.ports) {
		return nil
	}
	labels := make([]string, len(c.ports[port]))
	for i, e := range c.ports[port] {
		labels[i] = e.Label
	}
	return labels
}

// First returns the first speed entry of port.
func (c *Catalog) First(port int) (Entry, bool) {
	if port < 0 || port >= len(c.ports) || len(c.ports[port]) == 0 {
		return Entry{}, false
	}
	return c.ports[port][0], true
}

// Entry returns the entry for (port, speed).
func (c *Catalog) Entry(port, speed int) (Entry, bool) {
	if port < 0 || port >= len(c.ports) || speed < 0 || speed >= len(c.ports[port]) {
		return Entry{}, false
	}
	return c.ports[port][speed], true
}

// Lookup resolves a label back to its entry. Labels are only unique within a
// port, so the caller narrows by port.
func (c *Catalog) Lookup(port int, label string) (Entry, bool) {
	if port < 0 || port >= len(c.ports) {
		return Entry{}, false
	}
	for _, e := range c.ports[port] {
		if e.Label == label {
			return e, true
		}
	}
	return Entry{}, false
}

// Find resolves a label without narrowing by port.
func (c *Catalog) Find(label string) (Entry, bool) {
	e, ok := c.byLabel[label]
	return e, ok
}
