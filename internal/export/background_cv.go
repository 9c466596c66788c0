package export

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/jackzampolin/straighten/internal/raster"
)

// CVExtractor whitens the background with an OpenCV binary threshold over
// the grayscale page. A zero Threshold uses Otsu's method to split ink from
// paper per page.
type CVExtractor struct {
	Threshold uint8
	// Blur is the Gaussian kernel applied before thresholding. Even sizes
	// round up; zero disables it.
	Blur int
}

// Extract returns a copy of img with every background pixel set to white.
func (e *CVExtractor) Extract(ctx context.Context, img *raster.Image) (*raster.Image, error) {
	if img.Empty() {
		return nil, raster.ErrEmptyImage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mask, err := e.backgroundMask(img)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dst := cloneRGBA(img)
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		mrow := mask.Pix[y*mask.Stride : y*mask.Stride+w]
		for x, m := range mrow {
			if m != 0 {
				i := x * 4
				row[i], row[i+1], row[i+2], row[i+3] = 255, 255, 255, 255
			}
		}
	}
	return raster.Wrap(dst), nil
}

// backgroundMask returns a mask the size of img that is 255 over paper and
// 0 over ink.
func (e *CVExtractor) backgroundMask(img *raster.Image) (*image.Gray, error) {
	src, err := gocv.ImageToMatRGBA(img.Image())
	if err != nil {
		return nil, fmt.Errorf("failed to load page into OpenCV: %w", err)
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRAToGray)

	if e.Blur > 0 {
		k := e.Blur | 1
		blurred := gocv.NewMat()
		defer blurred.Close()
		gocv.GaussianBlur(gray, &blurred, image.Pt(k, k), 0, 0, gocv.BorderDefault)
		gray, blurred = blurred, gray
	}

	binary := gocv.NewMat()
	defer binary.Close()
	if e.Threshold == 0 {
		gocv.Threshold(gray, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
	} else {
		// Threshold keeps values strictly above thresh.
		gocv.Threshold(gray, &binary, float32(e.Threshold)-1, 255, gocv.ThresholdBinary)
	}

	out, err := binary.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to read background mask: %w", err)
	}
	mask, ok := out.(*image.Gray)
	if !ok {
		return nil, fmt.Errorf("unexpected background mask type %T", out)
	}
	return mask, nil
}

var _ ForegroundExtractor = (*CVExtractor)(nil)
