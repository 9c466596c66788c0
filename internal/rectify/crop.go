package rectify

import (
	"fmt"
	"image"
	"math"

	"github.com/jackzampolin/straighten/internal/raster"
)

// BoundingBox returns the axis-aligned box around points, grown by
// padding*srcWidth horizontally and padding*srcHeight vertically, then
// clamped to a bufWidth x bufHeight buffer.
//
// srcWidth and srcHeight are the dimensions of the original page, not the
// rotated buffer. Points that collapse to a line or a single point, and
// boxes that clamp to nothing, fail with ErrDegenerateCropRegion.
func BoundingBox(points []Point, srcWidth, srcHeight, bufWidth, bufHeight int, padding float64) (image.Rectangle, error) {
	if len(points) == 0 {
		return image.Rectangle{}, fmt.Errorf("%w: no points", ErrDegenerateCropRegion)
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	// Checked before padding: coincident or collinear corners must fail even
	// though padding alone would give them a non-empty box.
	if maxX-minX <= 0 || maxY-minY <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: points span %.2fx%.2f", ErrDegenerateCropRegion, maxX-minX, maxY-minY)
	}

	padX := padding * float64(srcWidth)
	padY := padding * float64(srcHeight)

	box := image.Rect(
		clampInt(int(math.Floor(minX-padX)), 0, bufWidth),
		clampInt(int(math.Floor(minY-padY)), 0, bufHeight),
		clampInt(int(math.Ceil(maxX+padX)), 0, bufWidth),
		clampInt(int(math.Ceil(maxY+padY)), 0, bufHeight),
	)
	if box.Dx() <= 0 || box.Dy() <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: clamped box %v", ErrDegenerateCropRegion, box)
	}
	return box, nil
}

// ExtractBoundingBox crops the padded bounding box of points out of img.
func ExtractBoundingBox(img *raster.Image, points []Point, srcWidth, srcHeight int, padding float64) (*raster.Image, error) {
	box, err := BoundingBox(points, srcWidth, srcHeight, img.Width(), img.Height(), padding)
	if err != nil {
		return nil, err
	}
	out, err := img.Crop(box)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerateCropRegion, err)
	}
	return out, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
