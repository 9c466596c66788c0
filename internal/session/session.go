// Package session keeps working documents in memory and runs every page
// operation against them: rasterization, corner detection, rectification,
// batch runs, manual edits and export.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/jackzampolin/straighten/internal/batch"
	"github.com/jackzampolin/straighten/internal/pages"
)

var (
	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrBatchRunning is returned when a batch or edit already holds the pages.
	ErrBatchRunning = errors.New("a batch is already running")

	// ErrNoBatch is returned when status is requested before any batch ran.
	ErrNoBatch = errors.New("no batch has been started")

	// ErrNoDetector is returned when detection is needed but none is configured.
	ErrNoDetector = errors.New("no corner detector configured")

	// ErrNotExported is returned when the export file does not exist yet.
	ErrNotExported = errors.New("session has not been exported")

	// ErrInvalidTitle is returned when a title cannot name an export file.
	ErrInvalidTitle = errors.New("invalid session title")
)

// Session is one working document.
type Session struct {
	ID        string
	Title     string
	CreatedAt time.Time
	Pages     *pages.Arena

	mu         sync.Mutex
	tracker    *batch.Tracker
	exportPath string
}

// Info summarizes a session.
type Info struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	TotalPages int       `json:"total_pages"`
	CreatedAt  time.Time `json:"created_at"`
	BatchBusy  bool      `json:"batch_running"`
	ExportPath string    `json:"export_path,omitempty"`
}

// Info returns a summary of s.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:         s.ID,
		Title:      s.Title,
		TotalPages: s.Pages.Len(),
		CreatedAt:  s.CreatedAt,
		BatchBusy:  s.tracker != nil && s.tracker.Status().Running,
		ExportPath: s.exportPath,
	}
}

// BatchStatus returns the status of the latest batch.
func (s *Session) BatchStatus() (batch.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracker == nil {
		return batch.Status{}, ErrNoBatch
	}
	return s.tracker.Status(), nil
}

func (s *Session) setTracker(t *batch.Tracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker = t
}

func (s *Session) setExportPath(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exportPath = p
}

// ExportPath returns where the last export was written.
func (s *Session) ExportPath() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exportPath == "" {
		return "", ErrNotExported
	}
	return s.exportPath, nil
}
