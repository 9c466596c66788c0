package rectify

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/jackzampolin/straighten/internal/raster"
)

// MaxCanvasSide caps the rotated canvas edge length in pixels.
const MaxCanvasSide = 32767

// CanvasSide returns the edge of the square canvas that holds a width x height
// raster at any rotation about its center: the ceiling of its diagonal.
func CanvasSide(width, height int) int {
	return int(math.Ceil(math.Hypot(float64(width), float64(height))))
}

// Frame describes the rotation of a SrcWidth x SrcHeight raster by -Angle
// about its center onto a Side x Side canvas.
//
// RotateCanvas and Remap both derive their transform from Frame so the pixel
// rotation and the point rotation cannot drift apart.
type Frame struct {
	SrcWidth  int
	SrcHeight int
	Side      int
	Angle     float64
}

// NewFrame returns the frame for correcting a skew of angle radians.
func NewFrame(srcWidth, srcHeight int, angle float64) Frame {
	return Frame{
		SrcWidth:  srcWidth,
		SrcHeight: srcHeight,
		Side:      CanvasSide(srcWidth, srcHeight),
		Angle:     angle,
	}
}

// Remap maps p from source coordinates into canvas coordinates: translate
// relative to the source center, rotate by -Angle, translate to the canvas center.
func (f Frame) Remap(p Point) Point {
	x, y := rotateVector(p.X-f.srcCenterX(), p.Y-f.srcCenterY(), -f.Angle)
	return Point{X: x + f.canvasCenter(), Y: y + f.canvasCenter()}
}

// Unmap is the inverse of Remap.
func (f Frame) Unmap(p Point) Point {
	x, y := rotateVector(p.X-f.canvasCenter(), p.Y-f.canvasCenter(), f.Angle)
	return Point{X: x + f.srcCenterX(), Y: y + f.srcCenterY()}
}

// Affine returns the source-to-canvas transform in the layout used by
// golang.org/x/image/draw: x' = m[0]x + m[1]y + m[2], y' = m[3]x + m[4]y + m[5].
func (f Frame) Affine() f64.Aff3 {
	cos, sin := math.Cos(-f.Angle), math.Sin(-f.Angle)
	sx, sy, c := f.srcCenterX(), f.srcCenterY(), f.canvasCenter()
	return f64.Aff3{
		cos, -sin, c - cos*sx + sin*sy,
		sin, cos, c - sin*sx - cos*sy,
	}
}

func (f Frame) srcCenterX() float64   { return float64(f.SrcWidth) / 2 }
func (f Frame) srcCenterY() float64   { return float64(f.SrcHeight) / 2 }
func (f Frame) canvasCenter() float64 { return float64(f.Side) / 2 }

// rotateVector applies the standard 2D rotation by phi. With y pointing down
// a positive phi turns clockwise on screen.
func rotateVector(x, y, phi float64) (float64, float64) {
	cos, sin := math.Cos(phi), math.Sin(phi)
	return x*cos - y*sin, x*sin + y*cos
}

// RemapPoint maps p from a srcWidth x srcHeight raster into the canvas that
// RotateCanvas produces for the same angle.
func RemapPoint(p Point, srcWidth, srcHeight int, angle float64) Point {
	return NewFrame(srcWidth, srcHeight, angle).Remap(p)
}

// RotateCanvas returns src rotated by -angle about its center on a white
// square canvas large enough that no source pixel is clipped.
func RotateCanvas(src *raster.Image, angle float64) (*raster.Image, error) {
	if src.Empty() {
		return nil, fmt.Errorf("%w: source raster is empty", ErrRenderTargetUnavailable)
	}
	frame := NewFrame(src.Width(), src.Height(), angle)
	if frame.Side <= 0 || frame.Side > MaxCanvasSide {
		return nil, fmt.Errorf("%w: canvas side %d outside (0, %d]", ErrRenderTargetUnavailable, frame.Side, MaxCanvasSide)
	}

	dst := image.NewRGBA(image.Rect(0, 0, frame.Side, frame.Side))
	draw.Draw(dst, dst.Rect, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.BiLinear.Transform(dst, frame.Affine(), src.Image(), src.Bounds(), draw.Over, nil)

	return raster.Wrap(dst), nil
}
