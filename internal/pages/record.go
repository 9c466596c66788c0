// Package pages holds the per-page state of a working document: the current
// raster, the rotation offset and the undo history.
package pages

import (
	"errors"
	"math"

	"github.com/jackzampolin/straighten/internal/raster"
)

var (
	// ErrPageNotFound is returned for an index outside the arena.
	ErrPageNotFound = errors.New("page not found")

	// ErrNothingToUndo is returned when a page has no history.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrLeased is returned when a page is held by another writer.
	ErrLeased = errors.New("page is busy")
)

// State is one entry of a page's history.
type State struct {
	Image    *raster.Image
	Rotation float64
}

// Record is one page. Index is 1-based and never changes.
//
// Every destructive edit pushes the previous State before it takes effect,
// so Undo restores exactly what was there.
type Record struct {
	Index     int
	Image     *raster.Image
	Rotation  float64
	LastError string

	history []State
}

// NewRecord creates a record with an empty history.
func NewRecord(index int, img *raster.Image) *Record {
	return &Record{Index: index, Image: img}
}

func (r *Record) push() {
	r.history = append(r.history, State{Image: r.Image, Rotation: r.Rotation})
}

// Replace sets a new raster, keeping the old one in history.
func (r *Record) Replace(img *raster.Image) {
	r.push()
	r.Image = img
	r.LastError = ""
}

// Rotate adds degrees to the rotation offset, keeping the old state in history.
func (r *Record) Rotate(degrees float64) {
	r.push()
	r.Rotation = NormalizeDegrees(r.Rotation + degrees)
	r.LastError = ""
}

// Undo pops the most recent history entry.
func (r *Record) Undo() error {
	n := len(r.history)
	if n == 0 {
		return ErrNothingToUndo
	}
	prev := r.history[n-1]
	r.history[n-1] = State{}
	r.history = r.history[:n-1]
	r.Image = prev.Image
	r.Rotation = prev.Rotation
	r.LastError = ""
	return nil
}

// HistoryLen is the number of undo steps available.
func (r *Record) HistoryLen() int { return len(r.history) }

// Snapshot returns a read-only view of the record.
func (r *Record) Snapshot() Snapshot {
	return Snapshot{
		Index:      r.Index,
		Image:      r.Image,
		Rotation:   r.Rotation,
		HistoryLen: len(r.history),
		LastError:  r.LastError,
	}
}

// Snapshot is a point-in-time copy of a record. The raster is shared, which
// is safe because rasters are never mutated.
type Snapshot struct {
	Index      int           `json:"page"`
	Image      *raster.Image `json:"-"`
	Rotation   float64       `json:"rotation"`
	HistoryLen int           `json:"history"`
	LastError  string        `json:"last_error,omitempty"`
}

// Width of the current raster.
func (s Snapshot) Width() int { return s.Image.Width() }

// Height of the current raster.
func (s Snapshot) Height() int { return s.Image.Height() }

// NormalizeDegrees maps any angle into [0, 360).
func NormalizeDegrees(d float64) float64 {
	m := math.Mod(d, 360)
	if m < 0 {
		m += 360
	}
	if m >= 360 {
		m = 0
	}
	return m
}
