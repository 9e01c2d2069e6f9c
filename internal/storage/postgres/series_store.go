package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"barlab/internal/domain"
	"barlab/internal/storage"
)

// SeriesStore implements storage.SeriesStore using PostgreSQL.
type SeriesStore struct {
	pool *Pool
}

// NewSeriesStore creates a new SeriesStore.
func NewSeriesStore(pool *Pool) *SeriesStore {
	return &SeriesStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SeriesStore = (*SeriesStore)(nil)

// InsertBulk adds multiple rows atomically. Fails entire batch on any
// duplicate (run_key, expr_id, time_point_index).
func (s *SeriesStore) InsertBulk(ctx context.Context, seriesRows []*domain.SeriesRow) error {
	if len(seriesRows) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO committed_series (
			run_key, expr_id, time_point_index, value, is_na
		) VALUES ($1, $2, $3, $4, $5)
	`

	for _, r := range seriesRows {
		if r == nil || r.RunKey == "" || r.ExprID == "" {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, query,
			r.RunKey,
			r.ExprID,
			r.TimePointIndex,
			r.Value,
			r.IsNA,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert series row in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByRunKey retrieves all rows for a run, ordered by expression then
// index ASC.
func (s *SeriesStore) GetByRunKey(ctx context.Context, runKey string) ([]*domain.SeriesRow, error) {
	query := `
		SELECT run_key, expr_id, time_point_index, value, is_na
		FROM committed_series
		WHERE run_key = $1
		ORDER BY expr_id ASC, time_point_index ASC
	`

	rows, err := s.pool.Query(ctx, query, runKey)
	if err != nil {
		return nil, fmt.Errorf("get series by run key: %w", err)
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
		WHERE run_key = $1 AND expr_id = $2
		ORDER BY time_point_index ASC
	`

	rows, err := s.pool.Query(ctx, query, runKey, exprID)
	if err != nil {
		return nil, fmt.Errorf("get series by expr: %w", err)
	}
	defer rows.Close()

	return scanSeriesRows(rows)
}

// scanSeriesRows scans multiple rows into a slice of SeriesRow.
func scanSeriesRows(rows pgx.Rows) ([]*domain.SeriesRow, error) {
	var result []*domain.SeriesRow

	for rows.Next() {
		var r domain.SeriesRow

		err := rows.Scan(
			&r.RunKey,
			&r.ExprID,
			&r.TimePointIndex,
			&r.Value,
			&r.IsNA,
		)
		if err != nil {
			return nil, fmt.Errorf("scan series row: %w", err)
		}
		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate series rows: %w", err)
	}
	return result, nil
}
