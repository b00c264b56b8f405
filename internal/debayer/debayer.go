// Package debayer reconstructs color images from raw mosaic-filtered sensor data.
//
// Input is little-endian 16-bit samples, one per pixel. Output is 8-bit BGRA,
// four bytes per pixel.
package debayer

import (
	"errors"
	"fmt"
	"strings"
)

// BytesPerPixel is the size of one output pixel.
const BytesPerPixel = 4

// ErrSize is returned when the buffers do not match the image dimensions.
var ErrSize = errors.New("sci-capture: debayer buffer size mismatch")

// Pattern is the color filter layout of the top-left 2x2 cell.
type Pattern int

const (
	RGGB Pattern = iota
	BGGR
	GRBG
	GBRG
)

var patternNames = [...]string{"RGGB", "BGGR", "GRBG", "GBRG"}

// String returns the pattern name
func (p Pattern) String() string {
	if p < 0 || int(p) >= len(patternNames) {
		return "unknown"
	}
	return patternNames[p]
}

// ParsePattern accepts the four pattern names, case-insensitively.
func ParsePattern(s string) (Pattern, error) {
	for i, name := range patternNames {
		if strings.EqualFold(s, name) {
			return Pattern(i), nil
		}
	}
	return RGGB, fmt.Errorf("sci-capture: unknown bayer pattern %q", s)
}

const (
	red = iota
	green
	blue
)

// colorAt returns the filter color over pixel (x, y).
func (p Pattern) colorAt(x, y int) int {
	c := patternNames[p][(y&1)*2+(x&1)]
	switch c {
	case 'R':
		return red
	case 'B':
		return blue
	default:
		return green
	}
}

// Converter turns one raw frame into a BGRA frame.
type Converter interface {
	Convert(dst, src []byte, width, height, bitDepth int) error
	Name() string
}

func checkSizes(dst, src []byte, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrSize, width, height)
	}
	if len(src) < width*height*2 {
		return fmt.Errorf("%w: source %d bytes for %dx%d", ErrSize, len(src), width, height)
	}
	if len(dst) < width*height*BytesPerPixel {
		return fmt.Errorf("%w: destination %d bytes for %dx%d", ErrSize, len(dst), width, height)
	}
	return nil
}

// shiftFor is the right shift bringing bitDepth samples down to 8 bits.
func shiftFor(bitDepth int) uint {
	if bitDepth <= 8 {
		return 0
	}
	if bitDepth > 16 {
		bitDepth = 16
	}
	return uint(bitDepth - 8)
}
