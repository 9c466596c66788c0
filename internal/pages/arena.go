package pages

import (
	"fmt"
	"sync"

	"github.com/jackzampolin/straighten/internal/raster"
)

// Arena owns the records of one document, addressed by 1-based index.
// Writers either take a Lease over a set of pages or apply a short Update.
type Arena struct {
	mu      sync.Mutex
	records []*Record
	leased  map[int]bool
}

// NewArena creates one record per raster, numbered from 1 in order.
func NewArena(images []*raster.Image) *Arena {
	a := &Arena{
		records: make([]*Record, len(images)),
		leased:  make(map[int]bool),
	}
	for i, img := range images {
		a.records[i] = NewRecord(i+1, img)
	}
	return a
}

// Len returns the number of pages.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

func (a *Arena) record(index int) (*Record, error) {
	if index < 1 || index > len(a.records) {
		return nil, fmt.Errorf("%w: %d", ErrPageNotFound, index)
	}
	return a.records[index-1], nil
}

// Snapshot returns the current state of one page.
func (a *Arena) Snapshot(index int) (Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, err := a.record(index)
	if err != nil {
		return Snapshot{}, err
	}
	return r.Snapshot(), nil
}

// Snapshots returns the state of every page in index order.
func (a *Arena) Snapshots() []Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Snapshot, len(a.records))
	for i, r := range a.records {
		out[i] = r.Snapshot()
	}
	return out
}

// Busy reports whether any page is leased.
func (a *Arena) Busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.leased) > 0
}

// Update applies fn to one page under the arena lock. It fails with
// ErrLeased while the page is held by a lease. fn must not block.
func (a *Arena) Update(index int, fn func(*Record) error) (Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, err := a.record(index)
	if err != nil {
		return Snapshot{}, err
	}
	if a.leased[index] {
		return Snapshot{}, fmt.Errorf("%w: page %d", ErrLeased, index)
	}
	if err := fn(r); err != nil {
		return Snapshot{}, err
	}
	return r.Snapshot(), nil
}

// Lease grants exclusive write access to the given pages until Release.
// An empty list leases every page. Duplicates are ignored; order is kept.
func (a *Arena) Lease(indices []int) (*Lease, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(indices) == 0 {
		indices = make([]int, len(a.records))
		for i := range a.records {
			indices[i] = i + 1
		}
	}

	seen := make(map[int]bool, len(indices))
	held := make([]int, 0, len(indices))
	for _, idx := range indices {
		if seen[idx] {
			continue
		}
		seen[idx] = true
		if _, err := a.record(idx); err != nil {
			return nil, err
		}
		if a.leased[idx] {
			return nil, fmt.Errorf("%w: page %d", ErrLeased, idx)
		}
		held = append(held, idx)
	}
	for _, idx := range held {
		a.leased[idx] = true
	}
	return &Lease{arena: a, indices: held, held: seen}, nil
}

// Lease is scoped write access to a subset of an arena's pages.
type Lease struct {
	arena    *Arena
	indices  []int
	held     map[int]bool
	released bool
}

// Indices returns the leased pages in lease order.
func (l *Lease) Indices() []int {
	out := make([]int, len(l.indices))
	copy(out, l.indices)
	return out
}

// Snapshots returns the current state of the leased pages in lease order.
func (l *Lease) Snapshots() []Snapshot {
	l.arena.mu.Lock()
	defer l.arena.mu.Unlock()
	out := make([]Snapshot, len(l.indices))
	for i, idx := range l.indices {
		out[i] = l.arena.records[idx-1].Snapshot()
	}
	return out
}

func (l *Lease) apply(index int, fn func(*Record)) error {
	l.arena.mu.Lock()
	defer l.arena.mu.Unlock()
	if l.released {
		return fmt.Errorf("%w: lease released", ErrLeased)
	}
	if !l.held[index] {
		return fmt.Errorf("%w: page %d not in lease", ErrPageNotFound, index)
	}
	fn(l.arena.records[index-1])
	return nil
}

// Replace sets a leased page's raster, pushing the previous state.
func (l *Lease) Replace(index int, img *raster.Image) error {
	return l.apply(index, func(r *Record) { r.Replace(img) })
}

// Fail records err against a leased page without touching its raster or history.
func (l *Lease) Fail(index int, err error) error {
	return l.apply(index, func(r *Record) { r.LastError = err.Error() })
}

// Release returns the pages to the arena and reports their final state.
// Calling it more than once is harmless.
func (l *Lease) Release() []Snapshot {
	l.arena.mu.Lock()
	defer l.arena.mu.Unlock()
	out := make([]Snapshot, len(l.indices))
	for i, idx := range l.indices {
		out[i] = l.arena.records[idx-1].Snapshot()
		if !l.released {
			delete(l.arena.leased, idx)
		}
	}
	l.released = true
	return out
}
