// Package raster holds the page buffer passed between processing stages.
//
// An Image is never mutated after it is created. Every stage that changes
// pixels allocates a new Image, so the previous value stays valid as an
// undo target and can be shared between goroutines without locking.
package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/draw"
)

// ErrEmptyImage is returned when an operation needs at least one pixel.
var ErrEmptyImage = errors.New("empty image")

// Image is an immutable RGBA pixel buffer whose bounds start at (0,0).
type Image struct {
	rgba *image.RGBA
}

// Wrap takes ownership of rgba. The caller must not write to it afterwards.
// Bounds not anchored at the origin are copied so that every Image starts at (0,0).
func Wrap(rgba *image.RGBA) *Image {
	if rgba.Rect.Min != (image.Point{}) {
		return FromImage(rgba)
	}
	return &Image{rgba: rgba}
}

// FromImage copies any image.Image into a new Image.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, src, b.Min, draw.Src)
	return &Image{rgba: dst}
}

// Filled returns a width x height image with every pixel set to c.
func Filled(width, height int, c color.Color) *Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Rect, image.NewUniform(c), image.Point{}, draw.Src)
	return &Image{rgba: dst}
}

// Decode reads a PNG or JPEG stream.
func Decode(r io.Reader) (*Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return Wrap(rgba), nil
	}
	return FromImage(img), nil
}

// DecodeBytes is Decode over an in-memory buffer.
func DecodeBytes(data []byte) (*Image, error) {
	return Decode(bytes.NewReader(data))
}

// Width returns the width in pixels.
func (im *Image) Width() int { return im.rgba.Rect.Dx() }

// Height returns the height in pixels.
func (im *Image) Height() int { return im.rgba.Rect.Dy() }

// Bounds returns the pixel rectangle, always anchored at (0,0).
func (im *Image) Bounds() image.Rectangle { return im.rgba.Rect }

// Empty reports whether the image has no pixels.
func (im *Image) Empty() bool { return im == nil || im.rgba.Rect.Empty() }

// Image returns a read-only view for use with image/draw APIs.
func (im *Image) Image() image.Image { return im.rgba }

// At returns the color of the pixel at (x, y).
func (im *Image) At(x, y int) color.RGBA { return im.rgba.RGBAAt(x, y) }

// EncodePNG writes the image as PNG.
func (im *Image) EncodePNG(w io.Writer) error {
	return png.Encode(w, im.rgba)
}

// PNG returns the PNG encoding of the image.
func (im *Image) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := im.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// JPEG returns the JPEG encoding of the image at the given quality.
func (im *Image) JPEG(quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, im.rgba, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Equal reports whether both images have identical dimensions and pixels.
func (im *Image) Equal(other *Image) bool {
	if im == other {
		return true
	}
	if im == nil || other == nil {
		return false
	}
	if im.rgba.Rect != other.rgba.Rect {
		return false
	}
	return bytes.Equal(im.rgba.Pix, other.rgba.Pix)
}

// Crop copies r (clipped to the image bounds) into a new Image.
func (im *Image) Crop(r image.Rectangle) (*Image, error) {
	r = r.Intersect(im.rgba.Rect)
	if r.Empty() {
		return nil, fmt.Errorf("%w: crop %v outside %v", ErrEmptyImage, r, im.rgba.Rect)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Rect, im.rgba, r.Min, draw.Src)
	return &Image{rgba: dst}, nil
}
