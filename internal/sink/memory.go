package sink

import (
	"context"
	"sync"

	"barlab/internal/domain"
)

// Memory retains output in memory: the latest provisional batch per
// open TimePoint (earlier batches are overwritten, matching the
// replace-not-accumulate contract) and every committed batch in order.
type Memory struct {
	mu sync.RWMutex

	provisional map[int64]ProvisionalBatch
	commits     []CommitBatch
}

// ProvisionalBatch is the most recent uncommitted output for one index.
type ProvisionalBatch struct {
	Index     int64
	UpdateSeq int
	Points    []domain.ProvisionalPoint
	Effects   []domain.Effect
}

// CommitBatch is the committed output for one finalized index.
type CommitBatch struct {
	Index   int64
	Points  []domain.CommittedPoint
	Effects []domain.Effect
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{provisional: make(map[int64]ProvisionalBatch)}
}

var _ Sink = (*Memory)(nil)

// OnProvisional replaces any previously retained batch for index.
func (m *Memory) OnProvisional(_ context.Context, index int64, updateSeq int, points []domain.ProvisionalPoint, effects []domain.Effect) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.provisional[index] = ProvisionalBatch{
		Index:     index,
		UpdateSeq: updateSeq,
		Points:    append([]domain.ProvisionalPoint(nil), points...),
		Effects:   append([]domain.Effect(nil), effects...),
	}
	return nil
}

// OnCommit appends the committed batch and drops the provisional state
// for that index.
func (m *Memory) OnCommit(_ context.Context, index int64, points []domain.CommittedPoint, effects []domain.Effect) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.provisional, index)
	m.commits = append(m.commits, CommitBatch{
		Index:   index,
		Points:  append([]domain.CommittedPoint(nil), points...),
		Effects: append([]domain.Effect(nil), effects...),
	})
	return nil
}

// Commits returns all committed batches in commit order.
func (m *Memory) Commits() []CommitBatch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]CommitBatch(nil), m.commits...)
}

// Provisional returns the latest uncommitted batch for index, if any.
func (m *Memory) Provisional(index int64) (ProvisionalBatch, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.provisional[index]
	return b, ok
}
