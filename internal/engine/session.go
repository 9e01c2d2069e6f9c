package engine

import (
	"context"
	"errors"
	"fmt"

	"barlab/internal/commitlog"
	"barlab/internal/domain"
	"barlab/internal/feed"
)

// Session is a run that has replayed its historical prefix and stays
// open for realtime deliveries: provisional revisions roll back and
// re-evaluate, finalizations commit. A Session is single-threaded like
// any run; callers feed it points strictly in order.
type Session struct {
	runner *Runner
	handle *RunHandle
	state  *replayState

	// finalized retains every committed point so a capacity overflow on
	// a live point can still restart the whole replay.
	finalized []*domain.TimePoint
	closed    bool
}

// Open replays the historical prefix for cfg and returns a live
// session. Unlike Run, nothing is cached until Close: the originating
// run must complete before other consumers may attach.
func (r *Runner) Open(ctx context.Context, cfg domain.RunConfig, f feed.Feed) (*Session, error) {
	historical, err := f.Historical(ctx)
	if err != nil {
		return nil, fmt.Errorf("load historical points: %w", err)
	}

	st, err := r.replay(ctx, cfg, historical)
	if err != nil {
		return nil, err
	}

	handle := r.newHandle(cfg)
	handle.Log = st.clog
	handle.Restarts = st.restarts

	return &Session{
		runner:    r,
		handle:    handle,
		state:     st,
		finalized: append([]*domain.TimePoint(nil), historical...),
	}, nil
}

// Handle returns the run handle. Its Log keeps growing until Close.
func (s *Session) Handle() *RunHandle {
	return s.handle
}

// ProcessPoint evaluates one live delivery. A capacity overflow widens
// the plan and replays all finalized points before re-evaluating tp,
// bounded by the runner's restart budget for the whole session.
func (s *Session) ProcessPoint(ctx context.Context, tp *domain.TimePoint) (*ExecutionResult, error) {
	if s.closed {
		return nil, errors.New("session is closed")
	}

	for {
		res, err := s.state.ev.Evaluate(ctx, tp)
		if err == nil {
			if s.runner.metrics != nil {
				s.observe(tp)
			}
			if tp.IsFinalized {
				s.finalized = append(s.finalized, tp)
				s.handle.Log = s.state.clog
			}
			return res, nil
		}

		var ce *CapacityError
		if !errors.As(err, &ce) {
			return nil, err
		}
		if s.handle.Restarts >= s.runner.maxRestarts {
			return nil, fmt.Errorf("%w: %v", ErrCapacityExhausted, ce)
		}

		s.state.plan[ce.ExprID] = ce.Offset + 1
		s.handle.Restarts++
		if s.runner.metrics != nil {
			s.runner.metrics.ReplayRestarts.Inc()
		}
		s.runner.logger.Printf("session %s: replay restart %d, widening %q to %d",
			s.handle.Short, s.handle.Restarts, ce.ExprID, ce.Offset+1)

		st, rerr := s.runner.replayWithPlan(ctx, s.state.plan, s.finalized)
		if rerr != nil {
			return nil, rerr
		}
		s.state = st
		s.handle.Log = st.clog
	}
}

// Drive consumes the feed's live updates until the feed ends or ctx is
// cancelled. Cancellation between passes is clean: commits are atomic
// per finalized point.
func (s *Session) Drive(ctx context.Context, f feed.Feed) error {
	ch, err := f.Updates(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to feed updates: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tp, ok := <-ch:
			if !ok {
				return nil
			}
			if _, err := s.ProcessPoint(ctx, tp); err != nil {
				return err
			}
		}
	}
}

// Close seals the session's commit log and caches it for attachment by
// later runs with the same configuration.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.runner.cache != nil {
		s.runner.cache.Store(s.handle.Key, s.state.clog)
	}
}

func (s *Session) observe(tp *domain.TimePoint) {
	m := s.runner.metrics
	m.HighestIndexSeen.Set(float64(tp.Index))
	if tp.IsFinalized {
		m.PassesEvaluated.WithLabelValues("finalizing").Inc()
		m.PointsCommitted.Inc()
		m.PointsReceived.WithLabelValues("finalized").Inc()
		m.OpenProvisionalAt.Set(-1)
	} else {
		m.PassesEvaluated.WithLabelValues("provisional").Inc()
		m.ProvisionalPasses.Inc()
		m.Rollbacks.Inc()
		m.PointsReceived.WithLabelValues("provisional").Inc()
		m.OpenProvisionalAt.Set(float64(tp.Index))
	}
}

// replayWithPlan rebuilds a run from an explicit capacity plan without
// recalibrating, used for mid-session restarts.
func (r *Runner) replayWithPlan(ctx context.Context, plan map[domain.ExprID]int, points []*domain.TimePoint) (*replayState, error) {
	clog := commitlog.New(r.graph.ID())
	ev := New(Options{
		Graph:        r.graph,
		Log:          clog,
		Sink:         r.out,
		OnDiagnostic: r.observeDiagnostics(),
		CapacityPlan: plan,
	})
	if err := r.evaluateAll(ctx, ev, points); err != nil {
		return nil, err
	}
	return &replayState{clog: clog, ev: ev, plan: plan}, nil
}
