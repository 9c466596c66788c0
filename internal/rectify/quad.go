// Package rectify straightens and crops a tilted document page.
//
// Given four approximate corner points of a document inside a page raster,
// the page is rotated so the bottom edge becomes horizontal and then cropped
// to the padded bounding box of the rotated corners. Only rotation and an
// axis-aligned crop are applied; there is no perspective correction.
package rectify

import (
	"fmt"
	"math"
)

// Point is a 2D coordinate. Whether it is a ratio in [0,1] or an absolute
// pixel position is tracked by the caller.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Quad is a detected document boundary. It is treated as a tilted rectangle;
// convexity and right angles are not assumed.
type Quad struct {
	TopLeft     Point `json:"top_left"`
	TopRight    Point `json:"top_right"`
	BottomLeft  Point `json:"bottom_left"`
	BottomRight Point `json:"bottom_right"`
}

// Points returns the corners in TopLeft, TopRight, BottomRight, BottomLeft order.
func (q Quad) Points() []Point {
	return []Point{q.TopLeft, q.TopRight, q.BottomRight, q.BottomLeft}
}

// Map applies fn to every corner.
func (q Quad) Map(fn func(Point) Point) Quad {
	return Quad{
		TopLeft:     fn(q.TopLeft),
		TopRight:    fn(q.TopRight),
		BottomLeft:  fn(q.BottomLeft),
		BottomRight: fn(q.BottomRight),
	}
}

// Validate rejects NaN and infinite coordinates.
func (q Quad) Validate() error {
	names := []string{"top_left", "top_right", "bottom_right", "bottom_left"}
	for i, p := range q.Points() {
		if !finite(p.X) || !finite(p.Y) {
			return fmt.Errorf("%w: %s is (%v, %v)", ErrInvalidCoordinateShape, names[i], p.X, p.Y)
		}
	}
	return nil
}

// IsNormalized reports whether all eight components lie in [0,1].
//
// A quad whose absolute pixel coordinates are all <= 1 is indistinguishable
// from a ratio quad and is classified as ratio. Images are always larger than
// 1x1 in practice, so this heuristic is kept as-is.
func (q Quad) IsNormalized() bool {
	for _, p := range q.Points() {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			return false
		}
	}
	return true
}

// ResolveCoordinates returns q in absolute pixel space for a width x height
// raster. Ratio quads are scaled; anything else is returned unchanged.
func ResolveCoordinates(q Quad, width, height int) Quad {
	if !q.IsNormalized() {
		return q
	}
	w, h := float64(width), float64(height)
	return q.Map(func(p Point) Point {
		return Point{X: p.X * w, Y: p.Y * h}
	})
}

// CornerSet is a quadrilateral whose corners may be absent, as decoded from
// an API request or a detector response.
type CornerSet struct {
	TopLeft     *Point `json:"top_left"`
	TopRight    *Point `json:"top_right"`
	BottomLeft  *Point `json:"bottom_left"`
	BottomRight *Point `json:"bottom_right"`
}

// Quad converts the set into a Quad, failing with ErrInvalidCoordinateShape
// when a corner is missing or malformed.
func (c CornerSet) Quad() (Quad, error) {
	corners := []struct {
		name string
		p    *Point
	}{
		{"top_left", c.TopLeft},
		{"top_right", c.TopRight},
		{"bottom_left", c.BottomLeft},
		{"bottom_right", c.BottomRight},
	}
	for _, corner := range corners {
		if corner.p == nil {
			return Quad{}, fmt.Errorf("%w: missing %s", ErrInvalidCoordinateShape, corner.name)
		}
	}
	q := Quad{
		TopLeft:     *c.TopLeft,
		TopRight:    *c.TopRight,
		BottomLeft:  *c.BottomLeft,
		BottomRight: *c.BottomRight,
	}
	if err := q.Validate(); err != nil {
		return Quad{}, err
	}
	return q, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
