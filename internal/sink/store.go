package sink

import (
	"context"
	"errors"
	"fmt"

	"barlab/internal/domain"
	"barlab/internal/storage"
)

// Store persists committed output as series rows under one run key.
// Provisional output is dropped: only finalized data is durable.
type Store struct {
	series storage.SeriesStore
	runKey string
}

var _ Sink = (*Store)(nil)

// NewStore creates a sink writing committed batches to a series store.
func NewStore(series storage.SeriesStore, runKey string) *Store {
	return &Store{series: series, runKey: runKey}
}

// OnProvisional drops the batch.
func (s *Store) OnProvisional(context.Context, int64, int, []domain.ProvisionalPoint, []domain.Effect) error {
	return nil
}

// OnCommit writes one row per committed point in a single batch.
func (s *Store) OnCommit(ctx context.Context, index int64, points []domain.CommittedPoint, _ []domain.Effect) error {
	if len(points) == 0 {
		return nil
	}

	rows := make([]*domain.SeriesRow, 0, len(points))
	for _, p := range points {
		rows = append(rows, &domain.SeriesRow{
			RunKey:         s.runKey,
			ExprID:         string(p.ExprID),
			TimePointIndex: p.TimePointIndex,
			Value:          p.Value.Float,
			IsNA:           p.Value.IsNA(),
		})
	}

	err := s.series.InsertBulk(ctx, rows)
	if errors.Is(err, storage.ErrDuplicateKey) {
		// A replay restart re-delivers earlier commits. Evaluation is
		// deterministic, so the rows already stored are identical.
		return nil
	}
	if err != nil {
		return fmt.Errorf("persist committed series at time point %d: %w", index, err)
	}
	return nil
}
