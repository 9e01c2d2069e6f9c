// Package series implements bounded per-expression history storage.
// A History holds the last N committed values of one expression and
// answers lookback reads by relative offset in O(1).
package series

import (
	"barlab/internal/domain"
)

// DefaultCapacity is the retention bound applied when neither the
// script nor calibration requested a specific capacity.
const DefaultCapacity = 5000

// IndexMode selects how committed entries relate to TimePoint indices.
type IndexMode int

const (
	// ConsecutiveIndexed is used for global-scope expressions: the scope
	// runs once per pass, so entries cover consecutive TimePoint indices
	// and offset k resolves to the value committed k finalized points ago.
	ConsecutiveIndexed IndexMode = iota

	// AppendOnlyIndexed is used for local-scope expressions: the scope may
	// skip points entirely, so offset k resolves to the k-th most recent
	// buffer entry regardless of how many TimePoints separate them.
	AppendOnlyIndexed
)

// Entry is one committed sample.
type Entry struct {
	TimePointIndex int64
	Value          domain.Value
}

// History is a fixed-capacity ring of committed samples owned by
// exactly one expression. Oldest entries are evicted first once
// capacity is reached.
type History struct {
	mode     IndexMode
	capacity int
	buf      []Entry
	head     int // next write position
	size     int
}

// New creates an empty history with the given mode and capacity.
// A non-positive capacity falls back to DefaultCapacity.
func New(mode IndexMode, capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{
		mode:     mode,
		capacity: capacity,
		buf:      make([]Entry, capacity),
	}
}

// Mode returns the indexing mode.
func (h *History) Mode() IndexMode {
	return h.mode
}

// Cap returns the retention bound.
func (h *History) Cap() int {
	return h.capacity
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	return h.size
}

// Append commits one sample, evicting the oldest entry when full.
func (h *History) Append(timePointIndex int64, v domain.Value) {
	h.buf[h.head] = Entry{TimePointIndex: timePointIndex, Value: v}
	h.head = (h.head + 1) % h.capacity
	if h.size < h.capacity {
		h.size++
	}
}

// Back returns the entry `back` positions behind the most recent one
// (back 0 is the latest commit). The second return is false when fewer
// than back+1 entries are retained.
func (h *History) Back(back int) (Entry, bool) {
	if back < 0 || back >= h.size {
		return Entry{}, false
	}
	pos := (h.head - 1 - back + 2*h.capacity) % h.capacity
	return h.buf[pos], true
}

// Last returns the most recent entry, if any.
func (h *History) Last() (Entry, bool) {
	return h.Back(0)
}

// Gapped reports whether retained entries cover non-consecutive
// TimePoint indices. Always false for an empty or single-entry buffer.
func (h *History) Gapped() bool {
	if h.size < 2 {
		return false
	}
	newest, _ := h.Back(0)
	oldest, _ := h.Back(h.size - 1)
	return newest.TimePointIndex-oldest.TimePointIndex != int64(h.size-1)
}

// Entries returns a copy of the retained entries, oldest first.
func (h *History) Entries() []Entry {
	out := make([]Entry, 0, h.size)
	for back := h.size - 1; back >= 0; back-- {
		e, _ := h.Back(back)
		out = append(out, e)
	}
	return out
}
