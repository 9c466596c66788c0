package rectify

import "errors"

var (
	// ErrInvalidCoordinateShape is returned when a quadrilateral is missing a
	// corner or carries a non-finite coordinate.
	ErrInvalidCoordinateShape = errors.New("invalid coordinate shape")

	// ErrRenderTargetUnavailable is returned when the rotated canvas cannot be allocated.
	ErrRenderTargetUnavailable = errors.New("render target unavailable")

	// ErrDegenerateCropRegion is returned when the crop box has no area.
	ErrDegenerateCropRegion = errors.New("degenerate crop region")
)
