package feed

import (
	"context"
	"fmt"
	"sync"

	"barlab/internal/domain"
)

// Memory is a scripted in-memory feed: a finalized historical prefix
// plus an optional sequence of live deliveries, replayed in order.
// Used by tests and fixture replays.
type Memory struct {
	mu         sync.Mutex
	historical []*domain.TimePoint
	live       []*domain.TimePoint
}

var _ Feed = (*Memory)(nil)

// NewMemory creates a feed over the given finalized historical points.
func NewMemory(historical []*domain.TimePoint) *Memory {
	return &Memory{historical: historical}
}

// Push appends a live delivery (provisional revision or finalization)
// to be streamed by Updates.
func (m *Memory) Push(tp *domain.TimePoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live = append(m.live, tp)
}

// Historical returns the finalized prefix.
func (m *Memory) Historical(_ context.Context) ([]*domain.TimePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, tp := range m.historical {
		if !tp.IsFinalized {
			return nil, fmt.Errorf("historical point %d at index %d is not finalized", i, tp.Index)
		}
	}
	return append([]*domain.TimePoint(nil), m.historical...), nil
}

// Updates streams the scripted live deliveries, then closes.
func (m *Memory) Updates(ctx context.Context) (<-chan *domain.TimePoint, error) {
	m.mu.Lock()
	live := append([]*domain.TimePoint(nil), m.live...)
	m.mu.Unlock()

	ch := make(chan *domain.TimePoint)
	go func() {
		defer close(ch)
		for _, tp := range live {
			select {
			case ch <- tp:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// FinalizedPoints builds n finalized points from bars, indexed 0..n-1.
// Fixture helper for tests and replay commands.
func FinalizedPoints(bars []domain.Bar) []*domain.TimePoint {
	points := make([]*domain.TimePoint, 0, len(bars))
	for i, b := range bars {
		points = append(points, &domain.TimePoint{
			Index:       int64(i),
			IsFinalized: true,
			Bar:         b,
		})
	}
	return points
}
