package export

import (
	"math"

	"github.com/jackzampolin/straighten/internal/pages"
	"github.com/jackzampolin/straighten/internal/raster"
	"github.com/jackzampolin/straighten/internal/rectify"
)

// ApplyRotation turns img clockwise by degrees. Quarter turns are exact;
// other angles go through the canvas rotator and gain white corners.
func ApplyRotation(img *raster.Image, degrees float64) (*raster.Image, error) {
	d := pages.NormalizeDegrees(degrees)
	if d == 0 {
		return img, nil
	}
	if q := d / 90; q == math.Trunc(q) {
		return img.Rotate90(int(q)), nil
	}
	return rectify.RotateCanvas(img, -d*math.Pi/180)
}
