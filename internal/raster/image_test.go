package raster

import (
	"errors"
	"image"
	"image/color"
	"testing"
)

// gradient builds a w x h image where every pixel is unique.
func gradient(w, h int) *Image {
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			rgba.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: uint8(x + y), A: 255})
		}
	}
	return Wrap(rgba)
}

func TestWrap_NonZeroOrigin(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(5, 5, 15, 25))
	img := Wrap(rgba)
	if img.Bounds().Min != (image.Point{}) {
		t.Errorf("expected origin (0,0), got %v", img.Bounds().Min)
	}
	if img.Width() != 10 || img.Height() != 20 {
		t.Errorf("expected 10x20, got %dx%d", img.Width(), img.Height())
	}
}

func TestPNGRoundTrip(t *testing.T) {
	src := gradient(13, 7)
	data, err := src.PNG()
	if err != nil {
		t.Fatalf("PNG() error = %v", err)
	}
	got, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("DecodeBytes() error = %v", err)
	}
	if !got.Equal(src) {
		t.Error("decoded image differs from source")
	}
}

func TestEqual(t *testing.T) {
	a := gradient(4, 4)
	b := gradient(4, 4)
	if !a.Equal(b) {
		t.Error("expected identical gradients to be equal")
	}
	if a.Equal(gradient(4, 5)) {
		t.Error("expected different sizes to differ")
	}
	if a.Equal(nil) {
		t.Error("expected nil to differ")
	}
}

func TestCrop(t *testing.T) {
	src := gradient(10, 10)

	t.Run("inside", func(t *testing.T) {
		got, err := src.Crop(image.Rect(2, 3, 6, 8))
		if err != nil {
			t.Fatalf("Crop() error = %v", err)
		}
		if got.Width() != 4 || got.Height() != 5 {
			t.Fatalf("expected 4x5, got %dx%d", got.Width(), got.Height())
		}
		if got.At(0, 0) != src.At(2, 3) {
			t.Errorf("crop origin pixel mismatch")
		}
	})

	t.Run("clipped to bounds", func(t *testing.T) {
		got, err := src.Crop(image.Rect(-5, -5, 3, 3))
		if err != nil {
			t.Fatalf("Crop() error = %v", err)
		}
		if got.Width() != 3 || got.Height() != 3 {
			t.Errorf("expected 3x3, got %dx%d", got.Width(), got.Height())
		}
	})

	t.Run("outside", func(t *testing.T) {
		_, err := src.Crop(image.Rect(20, 20, 30, 30))
		if !errors.Is(err, ErrEmptyImage) {
			t.Errorf("expected ErrEmptyImage, got %v", err)
		}
	})
}

func TestRotate90(t *testing.T) {
	src := gradient(3, 2)

	tests := []struct {
		turns int
		w, h  int
		x, y  int // where src (0,0) lands
	}{
		{turns: 1, w: 2, h: 3, x: 1, y: 0},
		{turns: 2, w: 3, h: 2, x: 2, y: 1},
		{turns: 3, w: 2, h: 3, x: 0, y: 2},
		{turns: -1, w: 2, h: 3, x: 0, y: 2},
		{turns: 4, w: 3, h: 2, x: 0, y: 0},
	}

	for _, tt := range tests {
		got := src.Rotate90(tt.turns)
		if got.Width() != tt.w || got.Height() != tt.h {
			t.Errorf("turns=%d: expected %dx%d, got %dx%d", tt.turns, tt.w, tt.h, got.Width(), got.Height())
			continue
		}
		if got.At(tt.x, tt.y) != src.At(0, 0) {
			t.Errorf("turns=%d: origin pixel not at (%d,%d)", tt.turns, tt.x, tt.y)
		}
	}

	if !src.Rotate90(1).Rotate90(3).Equal(src) {
		t.Error("quarter turn followed by three quarter turns should be identity")
	}
}
