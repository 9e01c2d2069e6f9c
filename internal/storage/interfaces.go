// Package storage defines the persistence contracts for bar history,
// committed series output, and run metadata. Implementations live in
// the memory, postgres, and clickhouse subpackages.
package storage

import (
	"context"

	"barlab/internal/domain"
)

// BarStore provides access to bars storage, the historical replay
// input. Bars are keyed by (symbol, timeframe, index) and append-only:
// a stored bar is by definition finalized.
type BarStore interface {
	// InsertBulk adds multiple bars atomically. Fails entire batch on
	// any duplicate (symbol, timeframe, index).
	InsertBulk(ctx context.Context, symbol, timeframe string, points []*domain.TimePoint) error

	// GetAll retrieves every bar for a series, ordered by index ASC.
	GetAll(ctx context.Context, symbol, timeframe string) ([]*domain.TimePoint, error)

	// GetRange retrieves bars with index within [from, to] (inclusive),
	// ordered by index ASC.
	GetRange(ctx context.Context, symbol, timeframe string, from, to int64) ([]*domain.TimePoint, error)
}

// SeriesStore provides access to committed_series storage, one row per
// committed (run, expression, time point) sample. Provisional values
// never reach this store.
type SeriesStore interface {
	// InsertBulk adds multiple rows atomically. Fails entire batch on
	// any duplicate (run_key, expr_id, time_point_index).
	InsertBulk(ctx context.Context, rows []*domain.SeriesRow) error

	// GetByRunKey retrieves all rows for a run, ordered by expression
	// then index ASC.
	GetByRunKey(ctx context.Context, runKey string) ([]*domain.SeriesRow, error)

	// GetByExpr retrieves one expression's rows for a run, ordered by
	// index ASC.
	GetByExpr(ctx context.Context, runKey, exprID string) ([]*domain.SeriesRow, error)
}

// RunStore provides access to runs storage.
type RunStore interface {
	// Insert adds a new run record. Returns ErrDuplicateKey if run_id
	// exists.
	Insert(ctx context.Context, r *domain.RunRecord) error

	// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*domain.RunRecord, error)

	// GetByRunKey retrieves every execution of one configuration,
	// ordered by start time ASC.
	GetByRunKey(ctx context.Context, runKey string) ([]*domain.RunRecord, error)

	// GetAll retrieves all run records.
	GetAll(ctx context.Context) ([]*domain.RunRecord, error)
}
