// Package sink defines where evaluator output goes: committed samples
// once per finalized TimePoint, and provisional samples that downstream
// consumers must treat as replaceable.
package sink

import (
	"context"

	"barlab/internal/domain"
)

// Sink consumes evaluator output for one run.
type Sink interface {
	// OnProvisional delivers an uncommitted pass's values and effects.
	// A later call for the same TimePoint index replaces this one.
	OnProvisional(ctx context.Context, index int64, updateSeq int, points []domain.ProvisionalPoint, effects []domain.Effect) error

	// OnCommit delivers the single committed result for a finalized
	// TimePoint. Called exactly once per finalized index.
	OnCommit(ctx context.Context, index int64, points []domain.CommittedPoint, effects []domain.Effect) error
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) OnProvisional(context.Context, int64, int, []domain.ProvisionalPoint, []domain.Effect) error {
	return nil
}

func (Discard) OnCommit(context.Context, int64, []domain.CommittedPoint, []domain.Effect) error {
	return nil
}

// Multi fans output out to several sinks in order, stopping on the
// first error.
type Multi []Sink

func (m Multi) OnProvisional(ctx context.Context, index int64, updateSeq int, points []domain.ProvisionalPoint, effects []domain.Effect) error {
	for _, s := range m {
		if err := s.OnProvisional(ctx, index, updateSeq, points, effects); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) OnCommit(ctx context.Context, index int64, points []domain.CommittedPoint, effects []domain.Effect) error {
	for _, s := range m {
		if err := s.OnCommit(ctx, index, points, effects); err != nil {
			return err
		}
	}
	return nil
}
