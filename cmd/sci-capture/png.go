package main

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
)

// savePNG writes a raw 16-bit little-endian frame as Gray16, or a BGRA color
// frame as RGBA.
func savePNG(dir, name string, data []byte, width, height, bytesPerPixel int) error {
	if len(data) < width*height*bytesPerPixel {
		return fmt.Errorf("frame holds %d bytes, want %d", len(data), width*height*bytesPerPixel)
	}

	var img image.Image
	switch bytesPerPixel {
	case 2:
		gray := image.NewGray16(image.Rect(0, 0, width, height))
		for i := 0; i < width*height; i++ {
			// Gray16 is big-endian
			gray.Pix[i*2] = data[i*2+1]
			gray.Pix[i*2+1] = data[i*2]
		}
		img = gray
	case 4:
		rgba := image.NewRGBA(image.Rect(0, 0, width, height))
		for i := 0; i < width*height; i++ {
			rgba.Pix[i*4+0] = data[i*4+2] // R
			rgba.Pix[i*4+1] = data[i*4+1] // G
			rgba.Pix[i*4+2] = data[i*4+0] // B
			rgba.Pix[i*4+3] = data[i*4+3] // A
		}
		img = rgba
	default:
		return fmt.Errorf("unsupported bytes per pixel: %d", bytesPerPixel)
	}

	file, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("failed to encode PNG: %w", err)
	}
	return nil
}
