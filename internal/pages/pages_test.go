package pages

import (
	"errors"
	"image/color"
	"testing"

	"github.com/jackzampolin/straighten/internal/raster"
	"github.com/jackzampolin/straighten/internal/rectify"
)

func testImages(n int) []*raster.Image {
	out := make([]*raster.Image, n)
	for i := range out {
		out[i] = raster.Filled(20+i, 10, color.RGBA{R: uint8(i * 10), A: 255})
	}
	return out
}

func TestNormalizeDegrees(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{90, 90},
		{360, 0},
		{450, 90},
		{-90, 270},
		{-720, 0},
		{725.5, 5.5},
	}
	for _, tt := range tests {
		if got := NormalizeDegrees(tt.in); got != tt.want {
			t.Errorf("NormalizeDegrees(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRecord_History(t *testing.T) {
	imgs := testImages(3)
	r := NewRecord(1, imgs[0])

	if err := r.Undo(); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo, got %v", err)
	}

	r.Replace(imgs[1])
	r.Rotate(-90)
	r.Replace(imgs[2])
	if r.HistoryLen() != 3 {
		t.Fatalf("expected 3 history entries, got %d", r.HistoryLen())
	}
	if r.Rotation != 270 {
		t.Errorf("expected rotation 270, got %v", r.Rotation)
	}

	steps := []struct {
		img      *raster.Image
		rotation float64
	}{
		{imgs[1], 270},
		{imgs[1], 0},
		{imgs[0], 0},
	}
	for i, want := range steps {
		if err := r.Undo(); err != nil {
			t.Fatalf("undo %d: %v", i, err)
		}
		if r.Image != want.img || r.Rotation != want.rotation {
			t.Errorf("undo %d: got image %p rotation %v", i, r.Image, r.Rotation)
		}
	}
}

func TestRecord_UndoRectification(t *testing.T) {
	src := raster.Filled(200, 150, color.White)
	original := raster.Filled(200, 150, color.White)
	r := NewRecord(1, src)

	out, err := rectify.NewPipeline(0, nil).Rectify(src, rectify.Quad{
		TopLeft:     rectify.Point{X: 0.1, Y: 0.1},
		TopRight:    rectify.Point{X: 0.9, Y: 0.12},
		BottomLeft:  rectify.Point{X: 0.1, Y: 0.8},
		BottomRight: rectify.Point{X: 0.9, Y: 0.85},
	})
	if err != nil {
		t.Fatalf("Rectify() error = %v", err)
	}
	r.Replace(out)
	if r.Image.Equal(original) {
		t.Fatal("rectification did not change the page")
	}

	if err := r.Undo(); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}
	if !r.Image.Equal(original) {
		t.Error("undo did not restore identical pixels")
	}
	if r.Rotation != 0 {
		t.Errorf("expected zero rotation after undo, got %v", r.Rotation)
	}
}

func TestArena_Update(t *testing.T) {
	a := NewArena(testImages(2))

	snap, err := a.Update(2, func(r *Record) error {
		r.Rotate(90)
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if snap.Index != 2 || snap.Rotation != 90 || snap.HistoryLen != 1 {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	if _, err := a.Update(3, func(*Record) error { return nil }); !errors.Is(err, ErrPageNotFound) {
		t.Errorf("expected ErrPageNotFound, got %v", err)
	}

	boom := errors.New("boom")
	if _, err := a.Update(1, func(*Record) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("expected callback error, got %v", err)
	}
}

func TestArena_Lease(t *testing.T) {
	imgs := testImages(4)
	a := NewArena(imgs)

	lease, err := a.Lease([]int{3, 1, 3})
	if err != nil {
		t.Fatalf("Lease() error = %v", err)
	}
	if got := lease.Indices(); len(got) != 2 || got[0] != 3 || got[1] != 1 {
		t.Fatalf("unexpected lease indices %v", got)
	}
	if !a.Busy() {
		t.Error("expected arena to be busy")
	}

	t.Run("overlapping lease rejected", func(t *testing.T) {
		if _, err := a.Lease([]int{1, 2}); !errors.Is(err, ErrLeased) {
			t.Errorf("expected ErrLeased, got %v", err)
		}
		// The failed lease must not hold page 2.
		if _, err := a.Update(2, func(*Record) error { return nil }); err != nil {
			t.Errorf("page 2 should be free: %v", err)
		}
	})

	t.Run("update of leased page rejected", func(t *testing.T) {
		if _, err := a.Update(3, func(*Record) error { return nil }); !errors.Is(err, ErrLeased) {
			t.Errorf("expected ErrLeased, got %v", err)
		}
	})

	t.Run("replace outside lease rejected", func(t *testing.T) {
		if err := lease.Replace(4, imgs[0]); !errors.Is(err, ErrPageNotFound) {
			t.Errorf("expected ErrPageNotFound, got %v", err)
		}
	})

	if err := lease.Replace(3, imgs[0]); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if err := lease.Fail(1, errors.New("no corners")); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	final := lease.Release()
	if final[0].Index != 3 || final[0].Image != imgs[0] || final[0].HistoryLen != 1 {
		t.Errorf("unexpected page 3 snapshot %+v", final[0])
	}
	if final[1].Index != 1 || final[1].Image != imgs[0] || final[1].HistoryLen != 0 || final[1].LastError != "no corners" {
		t.Errorf("unexpected page 1 snapshot %+v", final[1])
	}
	if a.Busy() {
		t.Error("expected arena to be free after release")
	}
	if err := lease.Replace(3, imgs[1]); !errors.Is(err, ErrLeased) {
		t.Errorf("expected ErrLeased after release, got %v", err)
	}
	lease.Release()

	all, err := a.Lease(nil)
	if err != nil {
		t.Fatalf("Lease(nil) error = %v", err)
	}
	if len(all.Indices()) != 4 {
		t.Errorf("expected all 4 pages leased, got %v", all.Indices())
	}
	all.Release()
}
