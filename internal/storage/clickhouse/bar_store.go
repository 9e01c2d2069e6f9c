package clickhouse

import (
	"context"
	"fmt"
	"math"

	"barlab/internal/domain"
	"barlab/internal/storage"
)

// BarStore implements storage.BarStore using ClickHouse.
type BarStore struct {
	conn *Conn
}

// NewBarStore creates a new BarStore.
func NewBarStore(conn *Conn) *BarStore {
	return &BarStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

// InsertBulk adds multiple bars. Fails entire batch on any duplicate
// (symbol, timeframe, bar_index). MergeTree does not enforce
// uniqueness, so duplicates are checked explicitly before the batch.
func (s *BarStore) InsertBulk(ctx context.Context, symbol, timeframe string, points []*domain.TimePoint) error {
	if len(points) == 0 {
		return nil
	}
	if symbol == "" || timeframe == "" {
		return storage.ErrInvalidInput
	}

	seen := make(map[int64]struct{}, len(points))
	for _, tp := range points {
		if tp == nil || !tp.IsFinalized {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[tp.Index]; exists {
			return storage.ErrDuplicateKey
		}
		seen[tp.Index] = struct{}{}
	}

	for _, tp := range points {
		exists, err := s.exists(ctx, symbol, timeframe, tp.Index)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO bars (
			symbol, timeframe, bar_index, timestamp_ms, open, high, low, close, volume
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, tp := range points {
		err = batch.Append(
			symbol, timeframe, uint64(tp.Index), uint64(tp.Bar.TimestampMs),
			tp.Bar.Open, tp.Bar.High, tp.Bar.Low, tp.Bar.Close, tp.Bar.Volume,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetAll retrieves every bar for a series, ordered by index ASC.
func (s *BarStore) GetAll(ctx context.Context, symbol, timeframe string) ([]*domain.TimePoint, error) {
	return s.GetRange(ctx, symbol, timeframe, 0, math.MaxInt64)
}

// GetRange retrieves bars with index within [from, to] (inclusive),
// ordered by index ASC.
func (s *BarStore) GetRange(ctx context.Context, symbol, timeframe string, from, to int64) ([]*domain.TimePoint, error) {
	query := `
		SELECT bar_index, timestamp_ms, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND timeframe = ? AND bar_index >= ? AND bar_index <= ?
		ORDER BY bar_index ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, timeframe, uint64(from), uint64(to))
	if err != nil {
		return nil, fmt.Errorf("query bars by range: %w", err)
	}
	defer rows.Close()

	var points []*domain.TimePoint
	for rows.Next() {
		tp := domain.TimePoint{IsFinalized: true}
		tp.Bar.Symbol = symbol
		var index, timestampMs uint64

		err := rows.Scan(
			&index, &timestampMs,
			&tp.Bar.Open, &tp.Bar.High, &tp.Bar.Low, &tp.Bar.Close, &tp.Bar.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan bar row: %w", err)
		}
		tp.Index = int64(index)
		tp.Bar.TimestampMs = int64(timestampMs)
		points = append(points, &tp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bar rows: %w", err)
	}
	return points, nil
}

// exists checks if a bar with the given key exists.
func (s *BarStore) exists(ctx context.Context, symbol, timeframe string, index int64) (bool, error) {
	query := `
		SELECT count(*) FROM bars
		WHERE symbol = ? AND timeframe = ? AND bar_index = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, symbol, timeframe, uint64(index)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
