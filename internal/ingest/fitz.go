package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/jackzampolin/straighten/internal/raster"
)

const FitzName = "fitz"

// Fitz renders pages in-process with MuPDF. A MuPDF document is not safe for
// concurrent use, so pages render one at a time.
type Fitz struct {
	mu     sync.Mutex
	logger *slog.Logger
}

// Name returns the backend identifier.
func (f *Fitz) Name() string { return FitzName }

// Rasterize renders every page at dpi.
func (f *Fitz) Rasterize(ctx context.Context, pdf []byte, dpi int, progress ProgressFunc) ([]Page, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("failed reading document: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, ErrNoPages
	}

	pages := make([]Page, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rgba, err := doc.ImageDPI(i, float64(dpi))
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", i+1, err)
		}
		img := raster.Wrap(rgba)
		pages = append(pages, Page{
			Number: i + 1,
			Image:  img,
			Width:  img.Width(),
			Height: img.Height(),
		})
		if progress != nil {
			progress(i+1, pageCount)
		}
	}

	f.logger.Debug("rasterized PDF", "backend", FitzName, "pages", pageCount, "dpi", dpi)
	return pages, nil
}
