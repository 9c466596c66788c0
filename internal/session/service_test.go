package session

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/straighten/internal/batch"
	"github.com/jackzampolin/straighten/internal/pages"
	"github.com/jackzampolin/straighten/internal/providers"
	"github.com/jackzampolin/straighten/internal/raster"
	"github.com/jackzampolin/straighten/internal/rectify"
)

func newTestService(t *testing.T, detector providers.CornerDetector) *Service {
	t.Helper()
	return NewService(Config{
		Detectors: providers.NewHolder(detector, nil, nil),
		ExportDir: t.TempDir(),
	})
}

func testImages(n int) []*raster.Image {
	imgs := make([]*raster.Image, n)
	for i := range imgs {
		imgs[i] = raster.Filled(200, 150, color.RGBA{R: 230, G: 225, B: 215, A: 255})
	}
	return imgs
}

func waitForBatch(t *testing.T, sess *Session) batch.Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := sess.BatchStatus()
		if err != nil {
			t.Fatalf("BatchStatus() error = %v", err)
		}
		if st.Finished {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("batch did not finish")
	return batch.Status{}
}

func TestService_Sessions(t *testing.T) {
	svc := newTestService(t, nil)

	a := svc.CreateFromImages("first", testImages(2))
	b := svc.CreateFromImages("second", testImages(1))

	list := svc.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].ID != a.ID || list[1].ID != b.ID {
		t.Errorf("sessions not listed oldest first")
	}
	if list[0].TotalPages != 2 {
		t.Errorf("expected 2 pages, got %d", list[0].TotalPages)
	}

	if _, err := svc.Page(a.ID, 3); !errors.Is(err, pages.ErrPageNotFound) {
		t.Errorf("expected ErrPageNotFound, got %v", err)
	}
	if err := svc.Delete(a.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := svc.Get(a.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if err := svc.Delete(a.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound on second delete, got %v", err)
	}
}

func TestService_RectifyPage_ManualCorners(t *testing.T) {
	svc := newTestService(t, nil)
	sess := svc.CreateFromImages("doc", testImages(1))

	corners := &rectify.CornerSet{
		TopLeft:     &rectify.Point{X: 10, Y: 10},
		TopRight:    &rectify.Point{X: 110, Y: 10},
		BottomLeft:  &rectify.Point{X: 10, Y: 90},
		BottomRight: &rectify.Point{X: 110, Y: 90},
	}
	res, err := svc.RectifyPage(context.Background(), sess.ID, 1, corners)
	if err != nil {
		t.Fatalf("RectifyPage() error = %v", err)
	}
	if res.Detection != nil {
		t.Error("manual corners should not call the detector")
	}
	if res.Page.HistoryLen != 1 {
		t.Errorf("expected one history entry, got %d", res.Page.HistoryLen)
	}
	if res.Plan.Crop.Dx() != res.Page.Width() || res.Plan.Crop.Dy() != res.Page.Height() {
		t.Errorf("plan crop %v does not match output %dx%d", res.Plan.Crop, res.Page.Width(), res.Page.Height())
	}
	if sess.Pages.Busy() {
		t.Error("lease not released")
	}
}

func TestService_RectifyPage_Detector(t *testing.T) {
	mock := providers.NewMockDetector()
	svc := newTestService(t, mock)
	sess := svc.CreateFromImages("doc", testImages(1))

	res, err := svc.RectifyPage(context.Background(), sess.ID, 1, nil)
	if err != nil {
		t.Fatalf("RectifyPage() error = %v", err)
	}
	if res.Detection == nil || res.Detection.Provider != providers.MockDetectorName {
		t.Errorf("expected detection result from mock, got %+v", res.Detection)
	}
	if mock.Requests() != 1 {
		t.Errorf("expected 1 detector request, got %d", mock.Requests())
	}
}

func TestService_RectifyPage_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("no detector", func(t *testing.T) {
		svc := newTestService(t, nil)
		sess := svc.CreateFromImages("doc", testImages(1))
		if _, err := svc.RectifyPage(ctx, sess.ID, 1, nil); !errors.Is(err, ErrNoDetector) {
			t.Errorf("expected ErrNoDetector, got %v", err)
		}
	})

	t.Run("detector error leaves page untouched", func(t *testing.T) {
		mock := providers.NewMockDetector()
		mock.Err = providers.ErrNoResultParsed
		svc := newTestService(t, mock)
		sess := svc.CreateFromImages("doc", testImages(1))
		before, _ := svc.Page(sess.ID, 1)

		if _, err := svc.RectifyPage(ctx, sess.ID, 1, nil); !errors.Is(err, providers.ErrNoResultParsed) {
			t.Fatalf("expected ErrNoResultParsed, got %v", err)
		}
		after, _ := svc.Page(sess.ID, 1)
		if !after.Image.Equal(before.Image) || after.HistoryLen != 0 {
			t.Error("failed rectification modified the page")
		}
		if after.LastError == "" {
			t.Error("expected LastError to be recorded")
		}
	})

	t.Run("missing corner", func(t *testing.T) {
		svc := newTestService(t, nil)
		sess := svc.CreateFromImages("doc", testImages(1))
		corners := &rectify.CornerSet{TopLeft: &rectify.Point{X: 1, Y: 1}}
		if _, err := svc.RectifyPage(ctx, sess.ID, 1, corners); !errors.Is(err, rectify.ErrInvalidCoordinateShape) {
			t.Errorf("expected ErrInvalidCoordinateShape, got %v", err)
		}
	})
}

func TestService_RotateUndo(t *testing.T) {
	svc := newTestService(t, nil)
	sess := svc.CreateFromImages("doc", testImages(1))

	snap, err := svc.Rotate(sess.ID, 1, -90)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if snap.Rotation != 270 {
		t.Errorf("expected rotation 270, got %v", snap.Rotation)
	}
	snap, err = svc.Undo(sess.ID, 1)
	if err != nil {
		t.Fatalf("Undo() error = %v", err)
	}
	if snap.Rotation != 0 {
		t.Errorf("expected rotation 0 after undo, got %v", snap.Rotation)
	}
	if _, err := svc.Undo(sess.ID, 1); !errors.Is(err, pages.ErrNothingToUndo) {
		t.Errorf("expected ErrNothingToUndo, got %v", err)
	}
}

func TestService_RemoveBackground(t *testing.T) {
	svc := newTestService(t, nil)
	sess := svc.CreateFromImages("doc", testImages(1))

	snap, err := svc.RemoveBackground(context.Background(), sess.ID, 1)
	if err != nil {
		t.Fatalf("RemoveBackground() error = %v", err)
	}
	if snap.HistoryLen != 1 {
		t.Errorf("expected one history entry, got %d", snap.HistoryLen)
	}
}

func TestService_Batch(t *testing.T) {
	mock := providers.NewMockDetector()
	mock.FailOn = map[int]error{3: providers.ErrUpstreamDetectionFailed}
	svc := newTestService(t, mock)
	sess := svc.CreateFromImages("doc", testImages(5))

	if _, err := sess.BatchStatus(); !errors.Is(err, ErrNoBatch) {
		t.Errorf("expected ErrNoBatch before any run, got %v", err)
	}

	st, err := svc.StartBatch(context.Background(), sess.ID, BatchOptions{BatchSize: 2})
	if err != nil {
		t.Fatalf("StartBatch() error = %v", err)
	}
	if st.Total != 5 || st.Batches != 3 {
		t.Errorf("expected 5 pages in 3 batches, got %d in %d", st.Total, st.Batches)
	}

	st = waitForBatch(t, sess)
	if st.Succeeded != 4 || len(st.Failures) != 1 || st.Failures[0].Page != 3 {
		t.Errorf("unexpected final status: %+v", st)
	}

	for _, snap := range sess.Pages.Snapshots() {
		want := 1
		if snap.Index == 3 {
			want = 0
		}
		if snap.HistoryLen != want {
			t.Errorf("page %d: expected history %d, got %d", snap.Index, want, snap.HistoryLen)
		}
	}
}

func TestService_BatchExclusive(t *testing.T) {
	mock := providers.NewMockDetector()
	mock.Latency = 200 * time.Millisecond
	svc := newTestService(t, mock)
	sess := svc.CreateFromImages("doc", testImages(2))

	if _, err := svc.StartBatch(context.Background(), sess.ID, BatchOptions{}); err != nil {
		t.Fatalf("StartBatch() error = %v", err)
	}
	if _, err := svc.StartBatch(context.Background(), sess.ID, BatchOptions{}); !errors.Is(err, ErrBatchRunning) {
		t.Errorf("expected ErrBatchRunning, got %v", err)
	}
	if _, err := svc.Rotate(sess.ID, 1, 90); !errors.Is(err, ErrBatchRunning) {
		t.Errorf("expected ErrBatchRunning for edit during batch, got %v", err)
	}
	if !sess.Info().BatchBusy {
		t.Error("expected session to report a running batch")
	}
	waitForBatch(t, sess)
}

func TestService_RunBatch(t *testing.T) {
	svc := newTestService(t, providers.NewMockDetector())
	sess := svc.CreateFromImages("doc", testImages(4))

	var progress []int
	summary, err := svc.RunBatch(context.Background(), sess.ID, BatchOptions{BatchSize: 3, Pages: []int{1, 2, 4}}, func(u batch.Update) {
		progress = append(progress, u.Completed)
	})
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if summary == nil || summary.Succeeded != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(progress) != 1 || progress[0] != 3 {
		t.Errorf("expected a single progress emission, got %v", progress)
	}
	untouched, _ := svc.Page(sess.ID, 3)
	if untouched.HistoryLen != 0 {
		t.Error("unselected page was modified")
	}
}

func TestService_Export(t *testing.T) {
	svc := newTestService(t, nil)
	sess := svc.CreateFromImages("book", testImages(2))

	if _, err := sess.ExportPath(); !errors.Is(err, ErrNotExported) {
		t.Errorf("expected ErrNotExported, got %v", err)
	}
	if _, err := svc.Rotate(sess.ID, 2, 90); err != nil {
		t.Fatal(err)
	}

	path, err := svc.Export(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("export file missing: %v", err)
	}
	got, err := sess.ExportPath()
	if err != nil || got != path {
		t.Errorf("ExportPath() = %q, %v; want %q", got, err, path)
	}
	if sess.Info().ExportPath != path {
		t.Error("info does not report export path")
	}
}

func TestService_ExportStaysInExportDir(t *testing.T) {
	tests := []struct {
		title string
		want  string // file name; empty means the session ID
	}{
		{"Field Notes", "Field Notes.pdf"},
		{"../../escaped", "escaped.pdf"},
		{"nested/dir/name", "name.pdf"},
		{"/etc/passwd", "passwd.pdf"},
		{"..", ""},
		{"  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			dir := t.TempDir()
			svc := NewService(Config{ExportDir: dir})
			sess := svc.CreateFromImages(tt.title, testImages(1))

			path, err := svc.Export(context.Background(), sess.ID)
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			want := tt.want
			if want == "" {
				want = sess.ID + ".pdf"
			}
			if path != filepath.Join(dir, sess.ID, want) {
				t.Errorf("Export() path = %q, want %q", path, filepath.Join(dir, sess.ID, want))
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil || strings.HasPrefix(rel, "..") {
				t.Errorf("export escaped %s: %s", dir, rel)
			}
			if _, err := os.Stat(path); err != nil {
				t.Errorf("export file missing: %v", err)
			}
		})
	}
}

func TestService_Settings(t *testing.T) {
	svc := newTestService(t, nil)
	svc.UpdateSettings(Settings{BatchSize: 5})
	st := svc.Settings()
	if st.BatchSize != 5 || st.PaddingRatio != rectify.DefaultPaddingRatio {
		t.Errorf("unexpected settings: %+v", st)
	}

	svc.SetCredentials("sk-new")
	if key, ok := svc.Detectors().Credentials().Get(); !ok || key != "sk-new" {
		t.Errorf("credentials not stored: %q %v", key, ok)
	}
}
