// Package ingest rasterizes PDF documents into page images.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/jackzampolin/straighten/internal/raster"
)

// DefaultDPI is the rasterization resolution.
const DefaultDPI = 150

var (
	// ErrNotPDF is returned for uploads that are not PDF files.
	ErrNotPDF = errors.New("only PDF files are supported")

	// ErrNoPages is returned when a document renders to nothing.
	ErrNoPages = errors.New("document has no pages")
)

// Page is one rendered page. Number is 1-based.
type Page struct {
	Number int
	Image  *raster.Image
	Width  int
	Height int
}

// ProgressFunc is called as pages finish rendering.
type ProgressFunc func(current, total int)

// Rasterizer renders every page of a PDF at dpi, returning pages in order.
type Rasterizer interface {
	Name() string
	Rasterize(ctx context.Context, pdf []byte, dpi int, progress ProgressFunc) ([]Page, error)
}

// Config selects a rasterizer backend.
type Config struct {
	Backend string // "pdftoppm" (default) or "fitz"
	Workers int    // Concurrent pdftoppm processes (default: NumCPU)
	Logger  *slog.Logger
}

// New creates the rasterizer named by cfg.Backend.
func New(cfg Config) (Rasterizer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	switch cfg.Backend {
	case "", PdftoppmName:
		return &Pdftoppm{workers: cfg.Workers, logger: cfg.Logger}, nil
	case FitzName:
		return &Fitz{logger: cfg.Logger}, nil
	default:
		return nil, fmt.Errorf("unknown rasterizer backend: %s", cfg.Backend)
	}
}

// CheckFilename rejects anything without a .pdf extension.
func CheckFilename(name string) error {
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return fmt.Errorf("%w: %s", ErrNotPDF, filepath.Base(name))
	}
	return nil
}

// PageCount returns the number of pages in pdf.
func PageCount(pdf []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(pdf), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return n, nil
}

// RasterizeFiles renders several PDFs as one document. Paths are ordered by
// numeric suffix (book-1.pdf, book-2.pdf, ...) and pages renumbered from 1.
func RasterizeFiles(ctx context.Context, r Rasterizer, paths []string, dpi int, progress ProgressFunc) ([]Page, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no PDF paths provided")
	}
	var out []Page
	for _, p := range SortPDFsByNumber(paths) {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("PDF not found: %s", p)
		}
		offset := len(out)
		pages, err := r.Rasterize(ctx, data, dpi, func(cur, total int) {
			if progress != nil {
				progress(offset+cur, offset+total)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to rasterize %s: %w", filepath.Base(p), err)
		}
		for _, pg := range pages {
			pg.Number += offset
			out = append(out, pg)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoPages
	}
	return out, nil
}

// Images returns the rasters of pages in order.
func Images(pages []Page) []*raster.Image {
	out := make([]*raster.Image, len(pages))
	for i, p := range pages {
		out[i] = p.Image
	}
	return out
}

// SortPDFsByNumber sorts PDF paths by their numeric suffix.
// e.g., ["book-2.pdf", "book-1.pdf", "book-10.pdf"] -> ["book-1.pdf", "book-2.pdf", "book-10.pdf"]
func SortPDFsByNumber(paths []string) []string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)

	re := regexp.MustCompile(`-(\d+)\.pdf$`)

	sort.SliceStable(sorted, func(i, j int) bool {
		mi := re.FindStringSubmatch(sorted[i])
		mj := re.FindStringSubmatch(sorted[j])

		if len(mi) > 1 && len(mj) > 1 {
			ni, _ := strconv.Atoi(mi[1])
			nj, _ := strconv.Atoi(mj[1])
			return ni < nj
		}

		// Files without numbers come first
		if len(mi) > 1 {
			return false
		}
		if len(mj) > 1 {
			return true
		}
		return sorted[i] < sorted[j]
	})

	return sorted
}

// DeriveTitle extracts a document title from a PDF filename.
// e.g., "my-scan-1.pdf" -> "my-scan"
func DeriveTitle(pdfPath string) string {
	base := filepath.Base(pdfPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return regexp.MustCompile(`-\d+$`).ReplaceAllString(name, "")
}
