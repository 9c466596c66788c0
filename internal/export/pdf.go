// Package export assembles page rasters into an output PDF and applies the
// finishing transforms (rotation offset, background whitening) on the way.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/jackzampolin/straighten/internal/pages"
	"github.com/jackzampolin/straighten/internal/raster"
)

// DefaultJPEGQuality is used when an Assembler has no quality set.
const DefaultJPEGQuality = 90

// ErrNothingToExport is returned for an empty page list.
var ErrNothingToExport = errors.New("no pages to export")

// Assembler writes an ordered list of rasters as one PDF, one image per page.
type Assembler struct {
	// JPEGQuality in 1..100 encodes pages as JPEG; a negative value uses
	// lossless PNG.
	JPEGQuality int
	Logger      *slog.Logger
}

// NewAssembler creates an assembler.
func NewAssembler(quality int, logger *slog.Logger) *Assembler {
	if quality == 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{JPEGQuality: quality, Logger: logger}
}

// Assemble writes images to w as a PDF in order.
func (a *Assembler) Assemble(w io.Writer, images []*raster.Image) error {
	if len(images) == 0 {
		return ErrNothingToExport
	}
	readers := make([]io.Reader, len(images))
	for i, img := range images {
		data, err := a.encode(img)
		if err != nil {
			return fmt.Errorf("failed to encode page %d: %w", i+1, err)
		}
		readers[i] = bytes.NewReader(data)
	}

	if err := api.ImportImages(nil, w, readers, pdfcpu.DefaultImportConfig(), model.NewDefaultConfiguration()); err != nil {
		return fmt.Errorf("failed to assemble PDF: %w", err)
	}
	a.Logger.Debug("assembled PDF", "pages", len(images))
	return nil
}

// AssembleFile writes the PDF to path, replacing it atomically.
func (a *Assembler) AssembleFile(path string, images []*raster.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*.pdf")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := a.Assemble(tmp, images); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write PDF: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move PDF into place: %w", err)
	}
	return nil
}

func (a *Assembler) encode(img *raster.Image) ([]byte, error) {
	if img.Empty() {
		return nil, raster.ErrEmptyImage
	}
	if a.JPEGQuality < 0 {
		return img.PNG()
	}
	return img.JPEG(a.JPEGQuality)
}

// PageImages returns the raster of every page with its rotation offset applied.
func PageImages(snaps []pages.Snapshot) ([]*raster.Image, error) {
	out := make([]*raster.Image, len(snaps))
	for i, s := range snaps {
		img, err := ApplyRotation(s.Image, s.Rotation)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", s.Index, err)
		}
		out[i] = img
	}
	return out, nil
}
