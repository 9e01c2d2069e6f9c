package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"barlab/internal/commitlog"
	"barlab/internal/confighash"
	"barlab/internal/domain"
	"barlab/internal/feed"
	"barlab/internal/observability"
	"barlab/internal/script"
	"barlab/internal/sink"
)

// MaxReplayRestarts bounds how often a production replay may widen a
// buffer and start over after calibration underestimated a depth.
const MaxReplayRestarts = 3

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Graph *script.Graph

	// Cache mediates commit log reuse across identically configured
	// runs; nil disables caching.
	Cache *commitlog.Cache

	// Sink receives pass output; nil discards it.
	Sink sink.Sink

	// Metrics is optional.
	Metrics *observability.Metrics

	// Logger is optional; defaults to the standard logger.
	Logger *log.Logger

	// OnDiagnostic receives warn-and-proceed conditions.
	OnDiagnostic DiagnosticFunc

	// MaxRestarts overrides MaxReplayRestarts when > 0.
	MaxRestarts int
}

// RunHandle identifies one execution run and owns its commit log.
type RunHandle struct {
	ID       uuid.UUID        // instance identity, unique per StartRun
	Key      string           // configuration hash, the cache key
	Short    string           // compact digest for log lines
	Config   domain.RunConfig // the configuration this run computes
	Log      *commitlog.CommitLog
	Attached bool // true when reusing a cached commit log
	Restarts int  // full-replay restarts taken
}

// Runner drives complete runs: calibration, historical replay with
// bounded capacity restarts, cache attachment, and live sessions.
type Runner struct {
	graph       *script.Graph
	cache       *commitlog.Cache
	out         sink.Sink
	metrics     *observability.Metrics
	logger      *log.Logger
	diag        DiagnosticFunc
	maxRestarts int
}

// NewRunner creates a Runner.
func NewRunner(opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	maxRestarts := opts.MaxRestarts
	if maxRestarts <= 0 {
		maxRestarts = MaxReplayRestarts
	}
	return &Runner{
		graph:       opts.Graph,
		cache:       opts.Cache,
		out:         opts.Sink,
		metrics:     opts.Metrics,
		logger:      logger,
		diag:        opts.OnDiagnostic,
		maxRestarts: maxRestarts,
	}
}

// Run executes a full historical replay for cfg against f, reusing a
// cached commit log when one exists for a byte-identical configuration.
// A capacity overflow past calibration widens the buffer and restarts
// the whole replay; after the restart bound the run halts with
// ErrCapacityExhausted. A restart re-delivers committed output to the
// sink from the start.
func (r *Runner) Run(ctx context.Context, cfg domain.RunConfig, f feed.Feed) (*RunHandle, error) {
	handle := r.newHandle(cfg)

	if r.cache != nil {
		if cached, ok := r.cache.Lookup(handle.Key); ok {
			if r.metrics != nil {
				r.metrics.CacheHits.Inc()
			}
			r.logger.Printf("run %s: attached to cached commit log (%d points)", handle.Short, cached.CommittedPoints())
			handle.Log = cached
			handle.Attached = true
			return handle, nil
		}
		if r.metrics != nil {
			r.metrics.CacheMisses.Inc()
		}
	}

	historical, err := f.Historical(ctx)
	if err != nil {
		return nil, fmt.Errorf("load historical points: %w", err)
	}

	st, err := r.replay(ctx, cfg, historical)
	if err != nil {
		return nil, err
	}
	handle.Log = st.clog
	handle.Restarts = st.restarts

	if r.cache != nil {
		r.cache.Store(handle.Key, st.clog)
	}
	return handle, nil
}

// replayState is one successfully replayed history: the live evaluator,
// its commit log, and the capacity plan in force.
type replayState struct {
	clog     *commitlog.CommitLog
	ev       *Evaluator
	plan     map[domain.ExprID]int
	restarts int
}

// replay calibrates and then evaluates every historical point, with
// bounded widen-and-restart on capacity overflow.
func (r *Runner) replay(ctx context.Context, cfg domain.RunConfig, historical []*domain.TimePoint) (*replayState, error) {
	sizer := NewBufferSizer(r.graph)
	if r.metrics != nil {
		sizer.onRetry = r.metrics.CalibrationRestarts.Inc
	}
	plan, err := sizer.Calibrate(ctx, CalibrationPrefix(historical, cfg.CalibrationPrefix))
	if err != nil {
		return nil, fmt.Errorf("calibrate buffers: %w", err)
	}
	r.reportCapacities(plan)

	for attempt := 0; ; attempt++ {
		clog := commitlog.New(r.graph.ID())
		ev := New(Options{
			Graph:        r.graph,
			Log:          clog,
			Sink:         r.out,
			OnDiagnostic: r.observeDiagnostics(),
			CapacityPlan: plan,
		})

		err := r.evaluateAll(ctx, ev, historical)
		if err == nil {
			return &replayState{clog: clog, ev: ev, plan: plan, restarts: attempt}, nil
		}

		var ce *CapacityError
		if !errors.As(err, &ce) {
			return nil, err
		}
		if attempt >= r.maxRestarts {
			return nil, fmt.Errorf("%w: %v", ErrCapacityExhausted, ce)
		}

		plan[ce.ExprID] = ce.Offset + 1
		r.reportCapacities(plan)
		if r.metrics != nil {
			r.metrics.ReplayRestarts.Inc()
		}
		r.logger.Printf("replay restart %d: widening %q to %d after overflow at time point %d",
			attempt+1, ce.ExprID, ce.Offset+1, ce.TimePointIndex)
	}
}

// evaluateAll runs the evaluator over every point in order, honoring
// cancellation between passes. Commits are atomic per point, so
// cancelling here never leaves a partially committed buffer.
func (r *Runner) evaluateAll(ctx context.Context, ev *Evaluator, points []*domain.TimePoint) error {
	for _, tp := range points {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.evaluateOne(ctx, ev, tp); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) evaluateOne(ctx context.Context, ev *Evaluator, tp *domain.TimePoint) error {
	start := time.Now()
	_, err := ev.Evaluate(ctx, tp)
	if err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.PassLatency.Observe(time.Since(start).Seconds())
		r.metrics.HighestIndexSeen.Set(float64(tp.Index))
		if tp.IsFinalized {
			r.metrics.PassesEvaluated.WithLabelValues("finalizing").Inc()
			r.metrics.PointsCommitted.Inc()
		} else {
			r.metrics.PassesEvaluated.WithLabelValues("provisional").Inc()
			r.metrics.ProvisionalPasses.Inc()
			r.metrics.Rollbacks.Inc()
		}
	}
	return nil
}

func (r *Runner) newHandle(cfg domain.RunConfig) *RunHandle {
	return &RunHandle{
		ID:     uuid.New(),
		Key:    confighash.Key(cfg),
		Short:  confighash.Short(cfg),
		Config: cfg,
	}
}

func (r *Runner) reportCapacities(plan map[domain.ExprID]int) {
	if r.metrics == nil {
		return
	}
	for id, c := range plan {
		r.metrics.BufferCapacity.WithLabelValues(string(id)).Set(float64(c))
	}
}

func (r *Runner) observeDiagnostics() DiagnosticFunc {
	return func(d Diagnostic) {
		if r.metrics != nil {
			r.metrics.Diagnostics.WithLabelValues(string(d.Kind)).Inc()
		}
		if r.diag != nil {
			r.diag(d)
		}
	}
}
