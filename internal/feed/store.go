package feed

import (
	"context"

	"barlab/internal/domain"
	"barlab/internal/storage"
)

// Store is a feed over persisted bar history. It has no live tail:
// Updates returns a closed channel, which suits pure replays.
type Store struct {
	bars      storage.BarStore
	symbol    string
	timeframe string
}

var _ Feed = (*Store)(nil)

// NewStore creates a feed reading one series from a bar store.
func NewStore(bars storage.BarStore, symbol, timeframe string) *Store {
	return &Store{bars: bars, symbol: symbol, timeframe: timeframe}
}

// Historical returns every stored bar for the series, ordered by index.
func (s *Store) Historical(ctx context.Context) ([]*domain.TimePoint, error) {
	return s.bars.GetAll(ctx, s.symbol, s.timeframe)
}

// Updates returns an already closed channel: stored history never grows
// during a replay.
func (s *Store) Updates(_ context.Context) (<-chan *domain.TimePoint, error) {
	ch := make(chan *domain.TimePoint)
	close(ch)
	return ch, nil
}
