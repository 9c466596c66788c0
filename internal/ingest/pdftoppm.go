package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/jackzampolin/straighten/internal/raster"
)

const PdftoppmName = "pdftoppm"

// Pdftoppm renders pages with poppler-utils, one process per page.
type Pdftoppm struct {
	workers int
	logger  *slog.Logger
}

// Name returns the backend identifier.
func (p *Pdftoppm) Name() string { return PdftoppmName }

// Rasterize renders every page concurrently, bounded by the worker count.
func (p *Pdftoppm) Rasterize(ctx context.Context, pdf []byte, dpi int, progress ProgressFunc) ([]Page, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	pageCount, err := PageCount(pdf)
	if err != nil {
		return nil, err
	}
	if pageCount == 0 {
		return nil, ErrNoPages
	}

	tmpDir, err := os.MkdirTemp("", "straighten-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "source.pdf")
	if err := os.WriteFile(pdfPath, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}

	type result struct {
		pageNum int
		img     *raster.Image
		err     error
	}

	results := make(chan result, pageCount)
	sem := make(chan struct{}, p.workers)

	go func() {
		for page := 1; page <= pageCount; page++ {
			sem <- struct{}{} // acquire
			go func(pageNum int) {
				defer func() { <-sem }() // release
				img, err := renderPage(ctx, pdfPath, tmpDir, pageNum, dpi)
				results <- result{pageNum: pageNum, img: img, err: err}
			}(page)
		}
	}()

	pages := make([]Page, pageCount)
	var firstErr error
	for i := 0; i < pageCount; i++ {
		r := <-results
		if r.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to render page %d: %w", r.pageNum, r.err)
			}
			continue
		}
		pages[r.pageNum-1] = Page{
			Number: r.pageNum,
			Image:  r.img,
			Width:  r.img.Width(),
			Height: r.img.Height(),
		}
		if progress != nil {
			progress(i+1, pageCount)
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	p.logger.Debug("rasterized PDF", "backend", PdftoppmName, "pages", pageCount, "dpi", dpi)
	return pages, nil
}

// renderPage renders a single page to PNG and decodes it.
func renderPage(ctx context.Context, pdfPath, tmpDir string, pageNum, dpi int) (*raster.Image, error) {
	outputPrefix := filepath.Join(tmpDir, fmt.Sprintf("page_%04d", pageNum))
	pageStr := strconv.Itoa(pageNum)

	// -singlefile writes <prefix>.png without a page number suffix
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", strconv.Itoa(dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	img, err := raster.DecodeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode rendered page: %w", err)
	}
	return img, nil
}
