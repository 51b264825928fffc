package hardware

import "context"

// Detection is one sample of an object camera. X and Y are nil when no
// object was found.
type Detection struct {
	X *float64
	Y *float64

	// Filename is the captured image, empty when none was saved.
	Filename string
}

// Found reports whether the detection carries coordinates.
func (d Detection) Found() bool {
	return d.X != nil && d.Y != nil
}

// Detector samples an object camera.
type Detector interface {
	Detect(ctx context.Context) (Detection, error)
}
