package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"barlab/internal/domain"
	"barlab/internal/storage"
)

// SeriesStore is an in-memory implementation of storage.SeriesStore.
type SeriesStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SeriesRow // keyed by (run_key, expr_id, time_point_index)
}

// NewSeriesStore creates a new in-memory series store.
func NewSeriesStore() *SeriesStore {
	return &SeriesStore{data: make(map[string]*domain.SeriesRow)}
}

var _ storage.SeriesStore = (*SeriesStore)(nil)

func seriesKey(runKey, exprID string, index int64) string {
	return fmt.Sprintf("%s|%s|%d", runKey, exprID, index)
}

// InsertBulk adds multiple rows atomically. Fails entire batch on any
// duplicate (run_key, expr_id, time_point_index).
func (s *SeriesStore) InsertBulk(_ context.Context, rows []*domain.SeriesRow) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if r == nil || r.RunKey == "" || r.ExprID == "" {
			return storage.ErrInvalidInput
		}
		key := seriesKey(r.RunKey, r.ExprID, r.TimePointIndex)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, r := range rows {
		rowCopy := *r
		s.data[seriesKey(r.RunKey, r.ExprID, r.TimePointIndex)] = &rowCopy
	}
	return nil
}

// GetByRunKey retrieves all rows for a run, ordered by expression then
// index ASC.
func (s *SeriesStore) GetByRunKey(_ context.Context, runKey string) ([]*domain.SeriesRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SeriesRow
	for _, r := range s.data {
		if r.RunKey == runKey {
			rowCopy := *r
			result = append(result, &rowCopy)
		}
	}
	sortSeriesRows(result)
	return result, nil
}

// GetByExpr retrieves one expression's rows for a run, ordered by
// index ASC.
func (s *SeriesStore) GetByExpr(_ context.Context, runKey, exprID string) ([]*domain.SeriesRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SeriesRow
	for _, r := range s.data {
		if r.RunKey == runKey && r.ExprID == exprID {
			rowCopy := *r
			result = append(result, &rowCopy)
		}
	}
	sortSeriesRows(result)
	return result, nil
}

func sortSeriesRows(rows []*domain.SeriesRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ExprID != rows[j].ExprID {
			return rows[i].ExprID < rows[j].ExprID
		}
		return rows[i].TimePointIndex < rows[j].TimePointIndex
	})
}
