package debayer

import "encoding/binary"

// Bilinear interpolates each missing channel from the same-colored pixels of
// the surrounding 3x3 neighborhood.
type Bilinear struct {
	Pattern Pattern
}

var _ Converter = Bilinear{}

// Name identifies the backend
func (b Bilinear) Name() string { return "bilinear" }

// Convert writes width*height BGRA pixels into dst.
func (b Bilinear) Convert(dst, src []byte, width, height, bitDepth int) error {
	if err := checkSizes(dst, src, width, height); err != nil {
		return err
	}
	shift := shiftFor(bitDepth)

	sample := func(x, y int) uint32 {
		i := (y*width + x) * 2
		return uint32(binary.LittleEndian.Uint16(src[i:])) >> shift
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var sum, n [3]uint32
			for dy := -1; dy <= 1; dy++ {
				yy := y + dy
				if yy < 0 || yy >= height {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					xx := x + dx
					if xx < 0 || xx >= width {
						continue
					}
					c := b.Pattern.colorAt(xx, yy)
					sum[c] += sample(xx, yy)
					n[c]++
				}
			}

			// The pixel's own color is taken as measured
			own := b.Pattern.colorAt(x, y)
			sum[own], n[own] = sample(x, y), 1

			o := (y*width + x) * BytesPerPixel
			dst[o+0] = average(sum[blue], n[blue])
			dst[o+1] = average(sum[green], n[green])
			dst[o+2] = average(sum[red], n[red])
			dst[o+3] = 0xff
		}
	}
	return nil
}

func average(sum, n uint32) byte {
	if n == 0 {
		return 0
	}
	v := sum / n
	if v > 0xff {
		v = 0xff
	}
	return byte(v)
}
