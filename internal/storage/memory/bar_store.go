// Package memory provides in-memory storage implementations, used by
// tests and single-process replays.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"barlab/internal/domain"
	"barlab/internal/storage"
)

// BarStore is an in-memory implementation of storage.BarStore.
type BarStore struct {
	mu   sync.RWMutex
	data map[string]*storedBar // keyed by (symbol, timeframe, index)
}

type storedBar struct {
	symbol    string
	timeframe string
	point     domain.TimePoint
}

// NewBarStore creates a new in-memory bar store.
func NewBarStore() *BarStore {
	return &BarStore{data: make(map[string]*storedBar)}
}

var _ storage.BarStore = (*BarStore)(nil)

func barKey(symbol, timeframe string, index int64) string {
	return fmt.Sprintf("%s|%s|%d", symbol, timeframe, index)
}

// InsertBulk adds multiple bars atomically. Fails entire batch on any
// duplicate (symbol, timeframe, index).
func (s *BarStore) InsertBulk(_ context.Context, symbol, timeframe string, points []*domain.TimePoint) error {
	if len(points) == 0 {
		return nil
	}
	if symbol == "" || timeframe == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(points))
	for _, tp := range points {
		if tp == nil || !tp.IsFinalized {
			return storage.ErrInvalidInput
		}
		key := barKey(symbol, timeframe, tp.Index)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, tp := range points {
		s.data[barKey(symbol, timeframe, tp.Index)] = &storedBar{
			symbol:    symbol,
			timeframe: timeframe,
			point:     *tp,
		}
	}
	return nil
}

// GetAll retrieves every bar for a series, ordered by index ASC.
func (s *BarStore) GetAll(ctx context.Context, symbol, timeframe string) ([]*domain.TimePoint, error) {
	return s.GetRange(ctx, symbol, timeframe, 0, int64(^uint64(0)>>1))
}

// GetRange retrieves bars with index within [from, to] (inclusive),
// ordered by index ASC.
func (s *BarStore) GetRange(_ context.Context, symbol, timeframe string, from, to int64) ([]*domain.TimePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TimePoint
	for _, b := range s.data {
		if b.symbol == symbol && b.timeframe == timeframe && b.point.Index >= from && b.point.Index <= to {
			cp := b.point
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Index < result[j].Index
	})
	return result, nil
}
