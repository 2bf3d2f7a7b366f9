// Package timeline is the ordered, exportable projection of the clip library.
// Entries are copies: later edits to the library do not show up here.
package timeline

import (
	"fmt"
	"slices"
	"sync"

	"github.com/kikiluvv/velocityclip/internal/clips"
)

// Entry is one clip in export order
type Entry struct {
	clips.Clip `yaml:",inline"`
}

// Source lists what a timeline can be seeded from
type Source interface {
	All() []*clips.Clip
}

// Timeline is safe for concurrent use
type Timeline struct {
	mu      sync.RWMutex
	entries []Entry
}

// New returns an empty timeline
func New() *Timeline {
	return &Timeline{}
}

// SeedFromLibrary replaces the timeline with a positional copy of lib,
// discarding any manual order.
func (t *Timeline) SeedFromLibrary(lib Source) []Entry {
	all := lib.All()
	entries := make([]Entry, len(all))
	for i, c := range all {
		entries[i] = Entry{Clip: *c}
	}

	t.mu.Lock()
	t.entries = entries
	t.mu.Unlock()

	return slices.Clone(entries)
}

// Set replaces the entries, keeping the given order
func (t *Timeline) Set(entries []Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = slices.Clone(entries)
}

// Reorder moves the entry at from so it ends up at index to. Everything else
// keeps its relative order.
func (t *Timeline) Reorder(from, to int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.entries)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("reorder %d -> %d out of range for %d entries", from, to, n)
	}
	if from == to {
		return nil
	}

	e := t.entries[from]
	t.entries = slices.Delete(t.entries, from, from+1)
	t.entries = slices.Insert(t.entries, to, e)
	return nil
}

// Remove drops the entry with id, reporting whether it existed
func (t *Timeline) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := slices.IndexFunc(t.entries, func(e Entry) bool { return e.ID == id })
	if i < 0 {
		return false
	}
	t.entries = slices.Delete(t.entries, i, i+1)
	return true
}

// Entries returns a copy in export order
func (t *Timeline) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.entries)
}

// Len is the number of entries
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Ready gates export: an empty timeline cannot be exported
func (t *Timeline) Ready() bool {
	return t.Len() > 0
}

// TotalDuration sums the positive entry durations
func (t *Timeline) TotalDuration() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total float64
	for _, e := range t.entries {
		if d := e.Duration(); d > 0 {
			total += d
		}
	}
	return total
}

// Clear empties the timeline
func (t *Timeline) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}
