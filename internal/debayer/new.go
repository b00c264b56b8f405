//go:build !opencv

package debayer

// New returns the default converter for pattern.
func New(p Pattern) Converter {
	return Bilinear{Pattern: p}
}
