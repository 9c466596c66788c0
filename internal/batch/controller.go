// Package batch runs the rectification pipeline over many pages with a fixed
// concurrency cap, isolating per-page failures.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackzampolin/straighten/internal/pages"
	"github.com/jackzampolin/straighten/internal/raster"
)

// DefaultBatchSize is the number of pages processed concurrently.
const DefaultBatchSize = 3

// RectifyFunc produces the new raster for one page. It may block on network
// or decode work and must not modify the page it is given.
type RectifyFunc func(ctx context.Context, page pages.Snapshot) (*raster.Image, error)

// Config configures a Controller.
type Config struct {
	BatchSize int
	Logger    *slog.Logger
}

// Controller partitions pages into consecutive batches of BatchSize, runs
// each batch concurrently and waits for the whole batch before starting the
// next one.
type Controller struct {
	batchSize int
	logger    *slog.Logger
}

// NewController creates a controller. A non-positive batch size uses DefaultBatchSize.
func NewController(cfg Config) *Controller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{batchSize: cfg.BatchSize, logger: cfg.Logger}
}

// BatchSize returns the concurrency cap.
func (c *Controller) BatchSize() int { return c.batchSize }

// PageFailure records a page whose rectification did not apply.
type PageFailure struct {
	Page  int    `json:"page"`
	Error string `json:"error"`
	Err   error  `json:"-"`
}

// Update is sent once per completed batch. The last value on the channel
// has Summary set and carries no batch.
type Update struct {
	Batch     int           `json:"batch"`
	Batches   int           `json:"batches"`
	Completed int           `json:"completed"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Failures  []PageFailure `json:"failures,omitempty"`
	Summary   *Summary      `json:"summary,omitempty"`
}

// Final reports whether u is the terminal update.
func (u Update) Final() bool { return u.Summary != nil }

// Summary is the outcome of a run.
type Summary struct {
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failures  []PageFailure    `json:"failures,omitempty"`
	Pages     []pages.Snapshot `json:"pages"`
}

// Batches returns how many batches n pages need.
func (c *Controller) Batches(n int) int {
	return (n + c.batchSize - 1) / c.batchSize
}

// Run processes every page held by lease and releases the lease when done.
// A page that fails keeps its raster and history; its error is recorded and
// the run continues. The run is not cancelled mid-way: ctx is handed to fn
// so fn can enforce its own deadlines.
//
// The returned channel is buffered for every update, so a slow reader never
// stalls the run. It is closed after the terminal update.
func (c *Controller) Run(ctx context.Context, lease *pages.Lease, fn RectifyFunc) <-chan Update {
	snaps := lease.Snapshots()
	total := len(snaps)
	batches := c.Batches(total)
	updates := make(chan Update, batches+1)

	go func() {
		defer close(updates)

		var (
			succeeded int
			failures  []PageFailure
		)
		for b := 0; b < batches; b++ {
			start := b * c.batchSize
			end := min(start+c.batchSize, total)
			chunk := snaps[start:end]

			results := make([]error, len(chunk))
			var wg sync.WaitGroup
			for i, snap := range chunk {
				wg.Add(1)
				go func(i int, snap pages.Snapshot) {
					defer wg.Done()
					results[i] = c.runPage(ctx, lease, snap, fn)
				}(i, snap)
			}
			wg.Wait()

			var batchFailures []PageFailure
			for i, err := range results {
				if err == nil {
					succeeded++
					continue
				}
				pf := PageFailure{Page: chunk[i].Index, Error: err.Error(), Err: err}
				batchFailures = append(batchFailures, pf)
			}
			failures = append(failures, batchFailures...)

			c.logger.Info("batch complete",
				"batch", b+1,
				"batches", batches,
				"completed", end,
				"total", total,
				"failed", len(batchFailures),
			)
			updates <- Update{
				Batch:     b + 1,
				Batches:   batches,
				Completed: end,
				Total:     total,
				Succeeded: succeeded,
				Failed:    len(failures),
				Failures:  batchFailures,
			}
		}

		final := lease.Release()
		updates <- Update{
			Batches:   batches,
			Completed: total,
			Total:     total,
			Succeeded: succeeded,
			Failed:    len(failures),
			Summary: &Summary{
				Total:     total,
				Succeeded: succeeded,
				Failures:  failures,
				Pages:     final,
			},
		}
	}()

	return updates
}

// runPage rectifies one page and applies the result through the lease.
func (c *Controller) runPage(ctx context.Context, lease *pages.Lease, snap pages.Snapshot, fn RectifyFunc) (err error) {
	logger := c.logger.With("page", snap.Index)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			logger.Warn("page rectification failed", "error", err)
			if ferr := lease.Fail(snap.Index, err); ferr != nil {
				logger.Error("failed to record page failure", "error", ferr)
			}
		}
	}()

	img, err := fn(ctx, snap)
	if err != nil {
		return err
	}
	if img.Empty() {
		return errors.New("rectification produced no image")
	}
	if err := lease.Replace(snap.Index, img); err != nil {
		return err
	}
	logger.Debug("page rectified", "width", img.Width(), "height", img.Height())
	return nil
}

// Drain reads updates until the channel closes, calling onProgress for each
// batch update, and returns the summary.
func Drain(updates <-chan Update, onProgress func(Update)) *Summary {
	var summary *Summary
	for u := range updates {
		if u.Final() {
			summary = u.Summary
			continue
		}
		if onProgress != nil {
			onProgress(u)
		}
	}
	return summary
}
