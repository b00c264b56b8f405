//go:build opencv

package debayer

import (
	"encoding/binary"
	"fmt"

	"gocv.io/x/gocv"
)

// OpenCV demosaics with OpenCV's edge-aware Bayer conversion.
type OpenCV struct {
	Pattern Pattern
	scratch []byte
}

// New returns the OpenCV converter for pattern.
func New(p Pattern) Converter {
	return &OpenCV{Pattern: p}
}

// Name identifies the backend
func (c *OpenCV) Name() string { return "opencv" }

// code maps the sensor layout to OpenCV's naming, which is keyed on the
// second row's second and third pixels.
func (c *OpenCV) code() gocv.ColorConversionCode {
	switch c.Pattern {
	case BGGR:
		return gocv.ColorBayerRGToBGR
	case GRBG:
		return gocv.ColorBayerGBToBGR
	case GBRG:
		return gocv.ColorBayerGRToBGR
	default:
		return gocv.ColorBayerBGToBGR
	}
}

// Convert writes width*height BGRA pixels into dst.
func (c *OpenCV) Convert(dst, src []byte, width, height, bitDepth int) error {
	if err := checkSizes(dst, src, width, height); err != nil {
		return err
	}

	n := width * height
	if cap(c.scratch) < n {
		c.scratch = make([]byte, n)
	}
	mono := c.scratch[:n]
	shift := shiftFor(bitDepth)
	for i := range mono {
		v := binary.LittleEndian.Uint16(src[i*2:]) >> shift
		if v > 0xff {
			v = 0xff
		}
		mono[i] = byte(v)
	}

	raw, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC1, mono)
	if err != nil {
		return fmt.Errorf("sci-capture: wrap raw frame: %w", err)
	}
	defer raw.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(raw, &bgr, c.code())

	bgra := gocv.NewMat()
	defer bgra.Close()
	gocv.CvtColor(bgr, &bgra, gocv.ColorBGRToBGRA)

	copy(dst, bgra.ToBytes())
	return nil
}
