package rectify

import (
	"image"
	"log/slog"
	"math"

	"github.com/jackzampolin/straighten/internal/raster"
)

// DefaultPaddingRatio is the crop margin as a fraction of the source page size.
const DefaultPaddingRatio = 0.02

// Plan is the geometry of one rectification, computed without touching pixels.
type Plan struct {
	Angle        float64         `json:"angle"`
	AngleDegrees float64         `json:"angle_degrees"`
	CanvasSide   int             `json:"canvas_side"`
	Corners      Quad            `json:"corners"`
	Rotated      Quad            `json:"rotated"`
	Crop         image.Rectangle `json:"crop"`
}

// NewPlan resolves q against a width x height page and computes the skew
// angle, the remapped corners and the clamped crop box.
func NewPlan(width, height int, q Quad, padding float64) (*Plan, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	corners := ResolveCoordinates(q, width, height)
	angle := SkewAngle(corners.BottomLeft, corners.BottomRight)
	frame := NewFrame(width, height, angle)
	rotated := corners.Map(frame.Remap)

	crop, err := BoundingBox(rotated.Points(), width, height, frame.Side, frame.Side, padding)
	if err != nil {
		return nil, err
	}
	return &Plan{
		Angle:        angle,
		AngleDegrees: angle * 180 / math.Pi,
		CanvasSide:   frame.Side,
		Corners:      corners,
		Rotated:      rotated,
		Crop:         crop,
	}, nil
}

// Pipeline turns a page raster and a detected quadrilateral into a
// straightened, cropped raster.
type Pipeline struct {
	PaddingRatio float64
	Logger       *slog.Logger
}

// NewPipeline creates a pipeline. A non-positive padding uses DefaultPaddingRatio.
func NewPipeline(padding float64, logger *slog.Logger) *Pipeline {
	if padding <= 0 {
		padding = DefaultPaddingRatio
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{PaddingRatio: padding, Logger: logger}
}

// Rectify resolves the corners, measures the skew, rotates the whole page,
// remaps the corners into the rotated frame and crops their padded bounding box.
// Errors from any stage are returned unchanged; src is never modified.
func (p *Pipeline) Rectify(src *raster.Image, q Quad) (*raster.Image, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	w, h := src.Width(), src.Height()

	corners := ResolveCoordinates(q, w, h)
	angle := SkewAngle(corners.BottomLeft, corners.BottomRight)

	rotated, err := RotateCanvas(src, angle)
	if err != nil {
		return nil, err
	}

	frame := NewFrame(w, h, angle)
	remapped := corners.Map(frame.Remap)

	out, err := ExtractBoundingBox(rotated, remapped.Points(), w, h, p.PaddingRatio)
	if err != nil {
		return nil, err
	}

	p.Logger.Debug("page rectified",
		"src", [2]int{w, h},
		"angle_deg", angle*180/math.Pi,
		"canvas", frame.Side,
		"out", [2]int{out.Width(), out.Height()},
	)
	return out, nil
}
