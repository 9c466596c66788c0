package raster

import "image"

// Rotate90 returns a copy rotated clockwise by quarterTurns * 90 degrees.
// Negative values rotate counter-clockwise. No pixels are resampled.
func (im *Image) Rotate90(quarterTurns int) *Image {
	turns := ((quarterTurns % 4) + 4) % 4
	w, h := im.Width(), im.Height()

	var dst *image.RGBA
	switch turns {
	case 0:
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
		copy(dst.Pix, im.rgba.Pix)
		return &Image{rgba: dst}
	case 1, 3:
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	default:
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := im.rgba.RGBAAt(x, y)
			switch turns {
			case 1:
				dst.SetRGBA(h-1-y, x, c)
			case 2:
				dst.SetRGBA(w-1-x, h-1-y, c)
			case 3:
				dst.SetRGBA(y, w-1-x, c)
			}
		}
	}
	return &Image{rgba: dst}
}
