package rectify

import "math"

// SkewAngle returns the angle in radians of the bottomLeft -> bottomRight
// edge relative to horizontal. Coincident points yield 0 (no correction).
func SkewAngle(bottomLeft, bottomRight Point) float64 {
	return math.Atan2(bottomRight.Y-bottomLeft.Y, bottomRight.X-bottomLeft.X)
}
