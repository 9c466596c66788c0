package batch

import (
	"sync"
	"time"
)

// Status is a polled view of a run.
type Status struct {
	Running    bool          `json:"running"`
	Finished   bool          `json:"finished"`
	Batch      int           `json:"batch"`
	Batches    int           `json:"batches"`
	Completed  int           `json:"completed"`
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Failures   []PageFailure `json:"failures,omitempty"`
	StartedAt  time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
}

// Tracker folds a run's updates into a Status that can be read at any time.
type Tracker struct {
	mu     sync.RWMutex
	status Status
}

// NewTracker returns a tracker for a run of total pages in batches batches.
func NewTracker(total, batches int) *Tracker {
	return &Tracker{status: Status{
		Running:   true,
		Total:     total,
		Batches:   batches,
		StartedAt: time.Now().UTC(),
	}}
}

// Observe records one update.
func (t *Tracker) Observe(u Update) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Completed = u.Completed
	t.status.Succeeded = u.Succeeded
	if u.Final() {
		t.status.Running = false
		t.status.Finished = true
		t.status.Failures = u.Summary.Failures
		t.status.FinishedAt = time.Now().UTC()
		return
	}
	t.status.Batch = u.Batch
	t.status.Failures = append(t.status.Failures, u.Failures...)
}

// Follow observes every update until the channel closes and returns the summary.
func (t *Tracker) Follow(updates <-chan Update) *Summary {
	var summary *Summary
	for u := range updates {
		t.Observe(u)
		if u.Final() {
			summary = u.Summary
		}
	}
	return summary
}

// Status returns a copy of the current status.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.status
	s.Failures = append([]PageFailure(nil), t.status.Failures...)
	return s
}
