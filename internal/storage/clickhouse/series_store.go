package clickhouse

import (
	"context"
	"fmt"

	"barlab/internal/domain"
	"barlab/internal/storage"
)

// SeriesStore implements storage.SeriesStore using ClickHouse.
type SeriesStore struct {
	conn *Conn
}

// NewSeriesStore creates a new SeriesStore.
func NewSeriesStore(conn *Conn) *SeriesStore {
	return &SeriesStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SeriesStore = (*SeriesStore)(nil)

// InsertBulk adds multiple rows. Fails entire batch on any duplicate
// (run_key, expr_id, time_point_index). Uniqueness is checked
// explicitly; MergeTree does not enforce it.
func (s *SeriesStore) InsertBulk(ctx context.Context, seriesRows []*domain.SeriesRow) error {
	if len(seriesRows) == 0 {
		return nil
	}

	type key struct {
		runKey string
		exprID string
		index  int64
	}
	seen := make(map[key]struct{}, len(seriesRows))
	for _, r := range seriesRows {
		if r == nil || r.RunKey == "" || r.ExprID == "" {
			return storage.ErrInvalidInput
		}
		k := key{r.RunKey, r.ExprID, r.TimePointIndex}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, r := range seriesRows {
		exists, err := s.exists(ctx, r.RunKey, r.ExprID, r.TimePointIndex)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO committed_series (
			run_key, expr_id, time_point_index, value, is_na
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range seriesRows {
		var na uint8
		if r.IsNA {
			na = 1
		}
		err = batch.Append(r.RunKey, r.ExprID, uint64(r.TimePointIndex), r.Value, na)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByRunKey retrieves all rows for a run, ordered by expression then
// index ASC.
func (s *SeriesStore) GetByRunKey(ctx context.Context, runKey string) ([]*domain.SeriesRow, error) {
	query := `
		SELECT run_key, expr_id, time_point_index, value, is_na
		FROM committed_series
		WHERE run_key = ?
		ORDER BY expr_id ASC, time_point_index ASC
	`

	rows, err := s.conn.Query(ctx, query, runKey)
	if err != nil {
		return nil, fmt.Errorf("query series by run key: %w", err)
	}
	defer rows.Close()

	return scanSeriesRows(rows)
}

// GetByExpr retrieves one expression's rows for a run, ordered by
// index ASC.
func (s *SeriesStore) GetByExpr(ctx context.Context, runKey, exprID string) ([]*domain.SeriesRow, error) {
	query := `
		SELECT run_key, expr_id, time_point_index, value, is_na
		FROM committed_series
		WHERE run_key = ? AND expr_id = ?
		ORDER BY time_point_index ASC
	`

	rows, err := s.conn.Query(ctx, query, runKey, exprID)
	if err != nil {
		return nil, fmt.Errorf("query series by expr: %w", err)
	}
	defer rows.Close()

	return scanSeriesRows(rows)
}

// exists checks if a row with the given key exists.
func (s *SeriesStore) exists(ctx context.Context, runKey, exprID string, index int64) (bool, error) {
	query := `
		SELECT count(*) FROM committed_series
		WHERE run_key = ? AND expr_id = ? AND time_point_index = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, runKey, exprID, uint64(index)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanSeriesRows scans multiple rows.
func scanSeriesRows(rows chRows) ([]*domain.SeriesRow, error) {
	var result []*domain.SeriesRow

	for rows.Next() {
		var r domain.SeriesRow
		var index uint64
		var na uint8

		if err := rows.Scan(&r.RunKey, &r.ExprID, &index, &r.Value, &na); err != nil {
			return nil, fmt.Errorf("scan series row: %w", err)
		}
		r.TimePointIndex = int64(index)
		r.IsNA = na != 0
		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate series rows: %w", err)
	}
	return result, nil
}
