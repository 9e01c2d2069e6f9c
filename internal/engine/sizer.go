package engine

import (
	"context"
	"errors"
	"fmt"

	"barlab/internal/commitlog"
	"barlab/internal/domain"
	"barlab/internal/script"
)

const (
	// DefaultCalibrationPrefix is how many finalized points the sizer
	// replays before production evaluation proceeds.
	DefaultCalibrationPrefix = 244

	// MaxCalibrationRetries bounds how often calibration itself may
	// widen a buffer and start over.
	MaxCalibrationRetries = 3

	// MinCapacity is the floor applied to calibrated capacities.
	MinCapacity = 1
)

// BufferSizer determines the minimum buffer capacity per expression by
// replaying a bounded prefix of finalized points and recording the
// deepest lookback each expression actually issues.
type BufferSizer struct {
	graph   *script.Graph
	retries int
	onRetry func() // optional hook, used for metrics
}

// NewBufferSizer creates a sizer for the graph.
func NewBufferSizer(graph *script.Graph) *BufferSizer {
	return &BufferSizer{graph: graph, retries: MaxCalibrationRetries}
}

// Calibrate replays prefix and returns the capacity plan:
// max(observed max offset + 1, MinCapacity) per auto-sized expression,
// the script's own hint for expressions that requested a capacity.
// A lookback deeper than the calibration bound widens that buffer and
// restarts the calibration replay, a bounded number of times.
func (s *BufferSizer) Calibrate(ctx context.Context, prefix []*domain.TimePoint) (map[domain.ExprID]int, error) {
	widened := make(map[domain.ExprID]int)

	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 && s.onRetry != nil {
			s.onRetry()
		}

		log := commitlog.New(s.graph.ID())
		ev := New(Options{
			Graph:        s.graph,
			Log:          log,
			CapacityPlan: widened,
		})

		ce, err := s.replay(ctx, ev, prefix)
		if err != nil {
			return nil, err
		}
		if ce != nil {
			widened[ce.ExprID] = ce.Offset + 1
			continue
		}

		plan := make(map[domain.ExprID]int, len(s.graph.Exprs()))
		for _, e := range s.graph.Exprs() {
			if e.CapacityHint > 0 {
				plan[e.ID] = e.CapacityHint
				continue
			}
			c := log.MaxOffset(e.ID) + 1
			if c < MinCapacity {
				c = MinCapacity
			}
			if w := widened[e.ID]; w > c {
				c = w
			}
			plan[e.ID] = c
		}
		return plan, nil
	}

	return nil, fmt.Errorf("calibration: %w", ErrCapacityExhausted)
}

// replay runs the calibration evaluator over the prefix. A capacity
// overflow is returned for the caller to widen and retry; any other
// error aborts calibration.
func (s *BufferSizer) replay(ctx context.Context, ev *Evaluator, prefix []*domain.TimePoint) (*CapacityError, error) {
	for _, tp := range prefix {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !tp.IsFinalized {
			return nil, fmt.Errorf("calibration prefix contains provisional point at index %d", tp.Index)
		}
		if _, err := ev.Evaluate(ctx, tp); err != nil {
			var ce *CapacityError
			if errors.As(err, &ce) {
				return ce, nil
			}
			return nil, err
		}
	}
	return nil, nil
}

// CalibrationPrefix slices the first n finalized points of historical,
// falling back to DefaultCalibrationPrefix for n <= 0.
func CalibrationPrefix(historical []*domain.TimePoint, n int) []*domain.TimePoint {
	if n <= 0 {
		n = DefaultCalibrationPrefix
	}
	if n > len(historical) {
		n = len(historical)
	}
	return historical[:n]
}
