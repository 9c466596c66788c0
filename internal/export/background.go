package export

import (
	"context"
	"fmt"
	"image"

	"github.com/jackzampolin/straighten/internal/raster"
)

// Background extractor backends.
const (
	OpenCVName   = "opencv"
	WhitenerName = "whitener"
)

// DefaultWhitenThreshold is the Whitener cutoff when none is configured.
const DefaultWhitenThreshold = 215

// ForegroundExtractor removes the background around page content.
type ForegroundExtractor interface {
	Extract(ctx context.Context, img *raster.Image) (*raster.Image, error)
}

// NewForegroundExtractor creates the extractor named by backend. A zero
// threshold lets the OpenCV backend pick one per page with Otsu's method.
func NewForegroundExtractor(backend string, threshold uint8) (ForegroundExtractor, error) {
	switch backend {
	case "", OpenCVName:
		return &CVExtractor{Threshold: threshold, Blur: 5}, nil
	case WhitenerName:
		return NewWhitener(threshold), nil
	default:
		return nil, fmt.Errorf("unknown background backend: %s", backend)
	}
}

// Whitener pushes paper-colored pixels to pure white, leaving ink untouched.
// Pixels at or above Threshold luminance become white; pixels within Soft
// levels below it are lightened proportionally.
type Whitener struct {
	Threshold uint8
	Soft      uint8
}

// NewWhitener creates a whitener with the given cutoff. Zero uses
// DefaultWhitenThreshold.
func NewWhitener(threshold uint8) *Whitener {
	if threshold == 0 {
		threshold = DefaultWhitenThreshold
	}
	return &Whitener{Threshold: threshold, Soft: 24}
}

// Extract returns a whitened copy of img.
func (w *Whitener) Extract(ctx context.Context, img *raster.Image) (*raster.Image, error) {
	if img.Empty() {
		return nil, raster.ErrEmptyImage
	}
	dst := cloneRGBA(img)

	threshold := int(w.Threshold)
	if threshold == 0 {
		threshold = DefaultWhitenThreshold
	}
	soft := int(w.Soft)
	low := threshold - soft

	for y := 0; y < dst.Rect.Dy(); y++ {
		if y%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row := dst.Pix[y*dst.Stride : y*dst.Stride+dst.Rect.Dx()*4]
		for i := 0; i < len(row); i += 4 {
			l := luminance(row[i], row[i+1], row[i+2])
			switch {
			case l >= threshold:
				row[i], row[i+1], row[i+2], row[i+3] = 255, 255, 255, 255
			case soft > 0 && l > low:
				// Blend toward white by how far into the soft band l sits.
				t := l - low
				for c := 0; c < 3; c++ {
					v := int(row[i+c])
					row[i+c] = uint8(v + (255-v)*t/soft)
				}
			}
		}
	}
	return raster.Wrap(dst), nil
}

func cloneRGBA(img *raster.Image) *image.RGBA {
	src := img.Image().(*image.RGBA)
	dst := image.NewRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}

// luminance is the Rec. 601 luma in 0..255.
func luminance(r, g, b uint8) int {
	return (299*int(r) + 587*int(g) + 114*int(b)) / 1000
}

var _ ForegroundExtractor = (*Whitener)(nil)
