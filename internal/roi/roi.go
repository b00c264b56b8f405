// Package roi converts requested sensor rectangles into hardware region descriptors.
package roi

import (
	"errors"
	"fmt"

	"github.com/e7canasta/sci-capture/internal/sdk"
)

// MinArea is the smallest number of sensor pixels the hardware can address.
const MinArea = 4

var (
	// ErrTooSmall is returned for regions below MinArea or with an empty binned output.
	ErrTooSmall = errors.New("sci-capture: region too small")
	// ErrInvalidBin is returned for bin factors below 1.
	ErrInvalidBin = errors.New("sci-capture: bin factor must be >= 1")
	// ErrOutsideSensor is returned for regions extending past the sensor edge.
	ErrOutsideSensor = errors.New("sci-capture: region outside sensor")
)

// Region is a sensor rectangle in unbinned pixels plus its bin factors.
type Region struct {
	X, Y          int
	Width, Height int
	BinX, BinY    int
}

// Compute validates the rectangle and returns the matching Region.
func Compute(x, y, width, height, binX, binY int) (Region, error) {
	if binX < 1 || binY < 1 {
		return Region{}, fmt.Errorf("%w: got %dx%d", ErrInvalidBin, binX, binY)
	}
	if x < 0 || y < 0 || width < 0 || height < 0 || width*height < MinArea {
		return Region{}, fmt.Errorf("%w: %dx%d at (%d,%d)", ErrTooSmall, width, height, x, y)
	}
	if width/binX == 0 || height/binY == 0 {
		return Region{}, fmt.Errorf("%w: %dx%d binned %dx%d is empty", ErrTooSmall, width, height, binX, binY)
	}

	return Region{X: x, Y: y, Width: width, Height: height, BinX: binX, BinY: binY}, nil
}

// Full is the whole sensor at the given bin factors.
func Full(sensorWidth, sensorHeight, binX, binY int) (Region, error) {
	return Compute(0, 0, sensorWidth, sensorHeight, binX, binY)
}

// OutputWidth is the binned image width.
func (r Region) OutputWidth() int {
	if r.BinX < 1 {
		return 0
	}
	return r.Width / r.BinX
}

// OutputHeight is the binned image height.
func (r Region) OutputHeight() int {
	if r.BinY < 1 {
		return 0
	}
	return r.Height / r.BinY
}

// Pixels is the number of output pixels.
func (r Region) Pixels() int {
	return r.OutputWidth() * r.OutputHeight()
}

// Descriptor returns the hardware region. The extent is trimmed to a whole number
// of bins so the readout matches the output dimensions.
func (r Region) Descriptor() sdk.Region {
	return sdk.Region{
		S1:   r.X,
		S2:   r.X + r.OutputWidth()*r.BinX - 1,
		SBin: r.BinX,
		P1:   r.Y,
		P2:   r.Y + r.OutputHeight()*r.BinY - 1,
		PBin: r.BinY,
	}
}

// Within checks the region lies inside a sensorWidth x sensorHeight sensor.
func (r Region) Within(sensorWidth, sensorHeight int) error {
	if r.X+r.Width > sensorWidth || r.Y+r.Height > sensorHeight {
		return fmt.Errorf("%w: %s on %dx%d", ErrOutsideSensor, r, sensorWidth, sensorHeight)
	}
	return nil
}

// String renders the region as "WxH+X+Y binXxbinY"
func (r Region) String() string {
	return fmt.Sprintf("%dx%d+%d+%d bin%dx%d", r.Width, r.Height, r.X, r.Y, r.BinX, r.BinY)
}
