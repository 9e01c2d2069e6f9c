package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"barlab/internal/domain"
	"barlab/internal/storage"
)

// BarStore implements storage.BarStore using PostgreSQL.
type BarStore struct {
	pool *Pool
}

// NewBarStore creates a new BarStore.
func NewBarStore(pool *Pool) *BarStore {
	return &BarStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

// InsertBulk adds multiple bars atomically. Fails entire batch on any
// duplicate (symbol, timeframe, bar_index).
func (s *BarStore) InsertBulk(ctx context.Context, symbol, timeframe string, points []*domain.TimePoint) error {
	if len(points) == 0 {
		return nil
	}
	if symbol == "" || timeframe == "" {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO bars (
			symbol, timeframe, bar_index, timestamp_ms, open, high, low, close, volume
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	for _, tp := range points {
		if tp == nil || !tp.IsFinalized {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, query,
			symbol,
			timeframe,
			tp.Index,
			tp.Bar.TimestampMs,
			tp.Bar.Open,
			tp.Bar.High,
			tp.Bar.Low,
			tp.Bar.Close,
			tp.Bar.Volume,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert bar in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetAll retrieves every bar for a series, ordered by index ASC.
func (s *BarStore) GetAll(ctx context.Context, symbol, timeframe string) ([]*domain.TimePoint, error) {
	query := `
		SELECT bar_index, timestamp_ms, open, high, low, close, volume
		FROM bars
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY bar_index ASC
	`

	rows, err := s.pool.Query(ctx, query, symbol, timeframe)
	if err != nil {
		return nil, fmt.Errorf("get bars: %w", err)
	}
	defer rows.Close()

	return scanBars(rows, symbol)
}

// GetRange retrieves bars with index within [from, to] (inclusive),
// ordered by index ASC.
func (s *BarStore) GetRange(ctx context.Context, symbol, timeframe string, from, to int64) ([]*domain.TimePoint, error) {
	query := `
		SELECT bar_index, timestamp_ms, open, high, low, close, volume
		FROM bars
		WHERE symbol = $1 AND timeframe = $2 AND bar_index >= $3 AND bar_index <= $4
		ORDER BY bar_index ASC
	`

	rows, err := s.pool.Query(ctx, query, symbol, timeframe, from, to)
	if err != nil {
		return nil, fmt.Errorf("get bars by range: %w", err)
	}
	defer rows.Close()

	return scanBars(rows, symbol)
}

// scanBars scans rows into finalized time points.
func scanBars(rows pgx.Rows, symbol string) ([]*domain.TimePoint, error) {
	var points []*domain.TimePoint

	for rows.Next() {
		tp := domain.TimePoint{IsFinalized: true}
		tp.Bar.Symbol = symbol

		err := rows.Scan(
			&tp.Index,
			&tp.Bar.TimestampMs,
			&tp.Bar.Open,
			&tp.Bar.High,
			&tp.Bar.Low,
			&tp.Bar.Close,
			&tp.Bar.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan bar row: %w", err)
		}
		points = append(points, &tp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bar rows: %w", err)
	}
	return points, nil
}
