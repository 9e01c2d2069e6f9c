// Package commitlog owns all history buffers for one execution run and
// the keyed cache that mediates reuse across runs with identical
// configurations.
package commitlog

import (
	"sort"

	"barlab/internal/domain"
	"barlab/internal/series"
)

// Staged is one expression sample held back until the commit step.
type Staged struct {
	ExprID domain.ExprID
	Value  domain.Value
}

// CommitLog maps expression identity to its history buffer for one
// execution run. It is explicitly owned, passed by reference, and never
// shared across runs except read-only through the Cache after sealing.
//
// No locking: exactly one pass runs at a time per run, and writes occur
// solely at commit time. A sealed log is immutable.
type CommitLog struct {
	graphID   string
	buffers   map[domain.ExprID]*series.History
	maxOffset map[domain.ExprID]int
	committed int64 // number of finalized TimePoints committed
	lastIndex int64 // index of the last committed TimePoint
	sealed    bool
}

// New creates an empty commit log for one run of the given graph.
func New(graphID string) *CommitLog {
	return &CommitLog{
		graphID:   graphID,
		buffers:   make(map[domain.ExprID]*series.History),
		maxOffset: make(map[domain.ExprID]int),
		lastIndex: -1,
	}
}

// GraphID returns the graph this log was produced by.
func (l *CommitLog) GraphID() string {
	return l.graphID
}

// Ensure returns the buffer for id, allocating one with the given mode
// and capacity on first use.
func (l *CommitLog) Ensure(id domain.ExprID, mode series.IndexMode, capacity int) *series.History {
	if h, ok := l.buffers[id]; ok {
		return h
	}
	h := series.New(mode, capacity)
	l.buffers[id] = h
	return h
}

// Buffer returns the buffer for id, nil if none was allocated.
func (l *CommitLog) Buffer(id domain.ExprID) *series.History {
	return l.buffers[id]
}

// CommitBatch appends one finalized pass's staged samples. All samples
// land together: the caller evaluates the entire pass into staged
// storage first, so an evaluation error means nothing reaches here and
// the commit is atomic per TimePoint.
func (l *CommitLog) CommitBatch(timePointIndex int64, staged []Staged) {
	if l.sealed {
		panic("commitlog: commit to sealed log")
	}
	for _, s := range staged {
		if h, ok := l.buffers[s.ExprID]; ok {
			h.Append(timePointIndex, s.Value)
		}
	}
	l.committed++
	l.lastIndex = timePointIndex
}

// NoteOffset records a lookback offset requested against id, feeding
// buffer calibration.
func (l *CommitLog) NoteOffset(id domain.ExprID, k int) {
	if k > l.maxOffset[id] {
		l.maxOffset[id] = k
	}
}

// MaxOffset returns the largest lookback offset observed for id.
func (l *CommitLog) MaxOffset(id domain.ExprID) int {
	return l.maxOffset[id]
}

// CommittedPoints returns how many finalized TimePoints have committed.
func (l *CommitLog) CommittedPoints() int64 {
	return l.committed
}

// LastIndex returns the index of the last committed TimePoint, -1 when
// nothing has committed.
func (l *CommitLog) LastIndex() int64 {
	return l.lastIndex
}

// Seal marks the log immutable so cached readers may attach.
func (l *CommitLog) Seal() {
	l.sealed = true
}

// Sealed reports whether the log is immutable.
func (l *CommitLog) Sealed() bool {
	return l.sealed
}

// Rows flattens all committed samples into storage rows, ordered by
// expression then TimePoint index, for persistence and verification.
func (l *CommitLog) Rows(runKey string) []domain.SeriesRow {
	ids := make([]domain.ExprID, 0, len(l.buffers))
	for id := range l.buffers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var rows []domain.SeriesRow
	for _, id := range ids {
		for _, e := range l.buffers[id].Entries() {
			rows = append(rows, domain.SeriesRow{
				RunKey:         runKey,
				ExprID:         string(id),
				TimePointIndex: e.TimePointIndex,
				Value:          e.Value.Float,
				IsNA:           e.Value.IsNA(),
			})
		}
	}
	return rows
}
