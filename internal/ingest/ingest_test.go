package ingest

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/jackzampolin/straighten/internal/raster"
)

// testPDF builds an n-page PDF from solid PNG images.
func testPDF(t *testing.T, n int) []byte {
	t.Helper()
	readers := make([]io.Reader, n)
	for i := range readers {
		png, err := raster.Filled(60, 80, color.RGBA{B: uint8(40 * i), A: 255}).PNG()
		if err != nil {
			t.Fatal(err)
		}
		readers[i] = bytes.NewReader(png)
	}
	var buf bytes.Buffer
	if err := api.ImportImages(nil, &buf, readers, pdfcpu.DefaultImportConfig(), model.NewDefaultConfiguration()); err != nil {
		t.Fatalf("ImportImages() error = %v", err)
	}
	return buf.Bytes()
}

func TestSortPDFsByNumber(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "already sorted",
			input:    []string{"scan-1.pdf", "scan-2.pdf", "scan-3.pdf"},
			expected: []string{"scan-1.pdf", "scan-2.pdf", "scan-3.pdf"},
		},
		{
			name:     "mixed with double digits",
			input:    []string{"scan-10.pdf", "scan-2.pdf", "scan-1.pdf"},
			expected: []string{"scan-1.pdf", "scan-2.pdf", "scan-10.pdf"},
		},
		{
			name:     "numbered and unnumbered",
			input:    []string{"scan-2.pdf", "scan.pdf", "scan-1.pdf"},
			expected: []string{"scan.pdf", "scan-1.pdf", "scan-2.pdf"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SortPDFsByNumber(tt.input)
			if len(result) != len(tt.expected) {
				t.Fatalf("length mismatch: got %d, want %d", len(result), len(tt.expected))
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("index %d: got %q, want %q", i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/path/to/receipts.pdf", "receipts"},
		{"/path/to/contract-1.pdf", "contract"},
		{"simple.PDF", "simple"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := DeriveTitle(tt.input); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCheckFilename(t *testing.T) {
	for _, name := range []string{"a.pdf", "B.PDF", "/tmp/x.Pdf"} {
		if err := CheckFilename(name); err != nil {
			t.Errorf("CheckFilename(%q) error = %v", name, err)
		}
	}
	for _, name := range []string{"a.png", "pdf", "a.pdf.zip"} {
		if err := CheckFilename(name); !errors.Is(err, ErrNotPDF) {
			t.Errorf("CheckFilename(%q) expected ErrNotPDF, got %v", name, err)
		}
	}
}

func TestNew(t *testing.T) {
	for _, backend := range []string{"", PdftoppmName, FitzName} {
		r, err := New(Config{Backend: backend})
		if err != nil {
			t.Fatalf("New(%q) error = %v", backend, err)
		}
		if backend != "" && r.Name() != backend {
			t.Errorf("New(%q) returned %s", backend, r.Name())
		}
	}
	if _, err := New(Config{Backend: "ghostscript"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestPageCount(t *testing.T) {
	n, err := PageCount(testPDF(t, 3))
	if err != nil {
		t.Fatalf("PageCount() error = %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 pages, got %d", n)
	}
	if _, err := PageCount([]byte("not a pdf")); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestPdftoppmRasterize(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping pdftoppm test in short mode")
	}
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		t.Skip("pdftoppm not installed")
	}

	r, _ := New(Config{Backend: PdftoppmName, Workers: 2})
	var calls []int
	pages, err := r.Rasterize(context.Background(), testPDF(t, 3), 72, func(cur, total int) {
		if total != 3 {
			t.Errorf("unexpected total %d", total)
		}
		calls = append(calls, cur)
	})
	if err != nil {
		t.Fatalf("Rasterize() error = %v", err)
	}
	if len(pages) != 3 || len(calls) != 3 || calls[2] != 3 {
		t.Fatalf("unexpected result: %d pages, progress %v", len(pages), calls)
	}
	for i, p := range pages {
		if p.Number != i+1 || p.Width == 0 || p.Height == 0 || p.Width != p.Image.Width() {
			t.Errorf("unexpected page %d: %+v", i, p)
		}
	}
}

func TestRasterizeFiles(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping pdftoppm test in short mode")
	}
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		t.Skip("pdftoppm not installed")
	}

	dir := t.TempDir()
	for name, n := range map[string]int{"doc-2.pdf": 1, "doc-1.pdf": 2} {
		if err := os.WriteFile(filepath.Join(dir, name), testPDF(t, n), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	r, _ := New(Config{Backend: PdftoppmName})
	pages, err := RasterizeFiles(context.Background(), r,
		[]string{filepath.Join(dir, "doc-2.pdf"), filepath.Join(dir, "doc-1.pdf")}, 72, nil)
	if err != nil {
		t.Fatalf("RasterizeFiles() error = %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}
	for i, p := range pages {
		if p.Number != i+1 {
			t.Errorf("page %d numbered %d", i+1, p.Number)
		}
	}
}

func TestFitzRasterize(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping MuPDF test in short mode")
	}

	r, _ := New(Config{Backend: FitzName})
	var last int
	pages, err := r.Rasterize(context.Background(), testPDF(t, 2), 72, func(cur, total int) { last = cur })
	if err != nil {
		t.Fatalf("Rasterize() error = %v", err)
	}
	if len(pages) != 2 || last != 2 {
		t.Fatalf("expected 2 pages with progress, got %d pages, last progress %d", len(pages), last)
	}
	if _, err := r.Rasterize(context.Background(), []byte("garbage"), 72, nil); err == nil {
		t.Error("expected error for invalid document")
	}
}
