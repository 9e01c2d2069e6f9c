package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"barlab/internal/domain"
	"barlab/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

// Insert adds a new run record. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(ctx context.Context, r *domain.RunRecord) error {
	if r == nil || r.RunID == "" || r.RunKey == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO runs (
			run_id, run_key, symbol, timeframe, graph_id, attached, restarts,
			committed_points, started_ms, finished_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.pool.Exec(ctx, query,
		r.RunID,
		r.RunKey,
		r.Symbol,
		r.Timeframe,
		r.GraphID,
		r.Attached,
		r.Restarts,
		r.CommittedPoints,
		r.StartedMs,
		r.FinishedMs,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(ctx context.Context, runID string) (*domain.RunRecord, error) {
	query := selectRuns + ` WHERE run_id = $1`

	var r domain.RunRecord
	err := s.pool.QueryRow(ctx, query, runID).Scan(runFields(&r)...)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run by id: %w", err)
	}
	return &r, nil
}

// GetByRunKey retrieves every execution of one configuration, ordered
// by start time ASC.
func (s *RunStore) GetByRunKey(ctx context.Context, runKey string) ([]*domain.RunRecord, error) {
	query := selectRuns + ` WHERE run_key = $1 ORDER BY started_ms ASC, run_id ASC`

	rows, err := s.pool.Query(ctx, query, runKey)
	if err != nil {
		return nil, fmt.Errorf("get runs by run key: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// GetAll retrieves all run records.
func (s *RunStore) GetAll(ctx context.Context) ([]*domain.RunRecord, error) {
	query := selectRuns + ` ORDER BY started_ms ASC, run_id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

const selectRuns = `
	SELECT run_id, run_key, symbol, timeframe, graph_id, attached, restarts,
	       committed_points, started_ms, finished_ms
	FROM runs
`

func runFields(r *domain.RunRecord) []any {
	return []any{
		&r.RunID,
		&r.RunKey,
		&r.Symbol,
		&r.Timeframe,
		&r.GraphID,
		&r.Attached,
		&r.Restarts,
		&r.CommittedPoints,
		&r.StartedMs,
		&r.FinishedMs,
	}
}

// scanRuns scans multiple rows into a slice of RunRecord.
func scanRuns(rows pgx.Rows) ([]*domain.RunRecord, error) {
	var records []*domain.RunRecord

	for rows.Next() {
		var r domain.RunRecord
		if err := rows.Scan(runFields(&r)...); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return records, nil
}
