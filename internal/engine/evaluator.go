// Package engine executes a precompiled expression graph once per
// TimePoint, commits finalized results into bounded history buffers,
// and rolls uncommitted state back between provisional passes.
package engine

import (
	"context"
	"errors"
	"fmt"

	"barlab/internal/commitlog"
	"barlab/internal/domain"
	"barlab/internal/script"
	"barlab/internal/series"
	"barlab/internal/sink"
)

// Options configures an Evaluator.
type Options struct {
	Graph *script.Graph
	Log   *commitlog.CommitLog

	// Sink receives pass output; nil discards it.
	Sink sink.Sink

	// OnDiagnostic receives warn-and-proceed conditions; nil drops them.
	OnDiagnostic DiagnosticFunc

	// CapacityPlan overrides per-expression buffer capacities, normally
	// produced by calibration. Unlisted expressions use their script
	// hint, then DefaultCapacity.
	CapacityPlan map[domain.ExprID]int
}

// ExecutionResult is the outcome of one Evaluator pass.
type ExecutionResult struct {
	TimePointIndex int64
	UpdateSeq      int
	Committed      bool
	Points         []domain.CommittedPoint   // set when Committed
	Provisional    []domain.ProvisionalPoint // set when not Committed
	Effects        []domain.Effect
}

// Evaluator walks the expression graph for one TimePoint at a time.
// Not safe for concurrent use: one run evaluates strictly sequentially.
type Evaluator struct {
	graph    *script.Graph
	log      *commitlog.CommitLog
	out      sink.Sink
	diag     DiagnosticFunc
	plan     map[domain.ExprID]int
	rollback *RollbackController

	frame         *passFrame
	lastIndex     int64
	lastFinalized bool
}

// New creates an Evaluator over the given graph and commit log.
func New(opts Options) *Evaluator {
	out := opts.Sink
	if out == nil {
		out = sink.Discard{}
	}
	return &Evaluator{
		graph:     opts.Graph,
		log:       opts.Log,
		out:       out,
		diag:      opts.OnDiagnostic,
		plan:      opts.CapacityPlan,
		rollback:  NewRollbackController(opts.Graph),
		lastIndex: -1,
	}
}

// Rollback exposes the controller, mainly for the runner and tests.
func (ev *Evaluator) Rollback() *RollbackController {
	return ev.rollback
}

// Evaluate runs one pass over tp. For a finalized point the pass's
// results commit atomically as the last step; for a provisional point
// nothing is appended anywhere and the output is delivered tagged
// uncommitted. Every pass, including the first over a fresh point,
// starts from the last committed snapshot.
func (ev *Evaluator) Evaluate(ctx context.Context, tp *domain.TimePoint) (*ExecutionResult, error) {
	if tp.Index < ev.lastIndex {
		return nil, fmt.Errorf("%w: got index %d after %d", ErrOutOfOrderPoint, tp.Index, ev.lastIndex)
	}
	if tp.Index == ev.lastIndex && ev.lastFinalized {
		return nil, fmt.Errorf("%w: index %d", ErrFinalizedRevision, tp.Index)
	}

	ev.frame = ev.rollback.BeginPass(tp)
	defer func() { ev.frame = nil }()

	if err := ev.runScope(ev.graph.Global()); err != nil {
		// Nothing was committed: all pass output is still in the frame.
		return nil, err
	}

	var res *ExecutionResult
	var err error
	if tp.IsFinalized {
		res, err = ev.commit(ctx, tp)
	} else {
		res, err = ev.expose(ctx, tp)
	}
	if err != nil {
		// A failed sink delivery halts the run without marking the point
		// finalized.
		return nil, err
	}

	ev.lastIndex = tp.Index
	ev.lastFinalized = tp.IsFinalized
	return res, nil
}

// commit is the single commit step of a finalizing pass: buffers are
// allocated as needed and every staged sample lands together.
func (ev *Evaluator) commit(ctx context.Context, tp *domain.TimePoint) (*ExecutionResult, error) {
	for _, s := range ev.frame.staged {
		ev.ensureBuffer(s.ExprID)
	}
	ev.log.CommitBatch(tp.Index, ev.frame.staged)
	ev.rollback.CommitPass(ev.frame)

	points := make([]domain.CommittedPoint, 0, len(ev.frame.staged))
	for _, s := range ev.frame.staged {
		points = append(points, domain.CommittedPoint{
			ExprID:         s.ExprID,
			TimePointIndex: tp.Index,
			Value:          s.Value,
		})
	}

	res := &ExecutionResult{
		TimePointIndex: tp.Index,
		UpdateSeq:      tp.UpdateSeq,
		Committed:      true,
		Points:         points,
		Effects:        ev.frame.effects,
	}
	if err := ev.out.OnCommit(ctx, tp.Index, points, ev.frame.effects); err != nil {
		return nil, fmt.Errorf("sink commit at time point %d: %w", tp.Index, err)
	}
	return res, nil
}

// expose delivers a provisional pass's transient values without
// touching any buffer.
func (ev *Evaluator) expose(ctx context.Context, tp *domain.TimePoint) (*ExecutionResult, error) {
	points := make([]domain.ProvisionalPoint, 0, len(ev.frame.staged))
	for _, s := range ev.frame.staged {
		points = append(points, domain.ProvisionalPoint{
			ExprID:         s.ExprID,
			TimePointIndex: tp.Index,
			UpdateSeq:      tp.UpdateSeq,
			Value:          s.Value,
		})
	}

	res := &ExecutionResult{
		TimePointIndex: tp.Index,
		UpdateSeq:      tp.UpdateSeq,
		Provisional:    points,
		Effects:        ev.frame.effects,
	}
	if err := ev.out.OnProvisional(ctx, tp.Index, tp.UpdateSeq, points, ev.frame.effects); err != nil {
		return nil, fmt.Errorf("sink provisional at time point %d: %w", tp.Index, err)
	}
	return res, nil
}

// runScope executes one scope body in declaration order. Local scopes
// run as many times as their gate decides for this pass.
func (ev *Evaluator) runScope(s *script.Scope) error {
	for _, it := range s.Items() {
		switch v := it.(type) {
		case *script.Expr:
			val, err := v.Eval(&exprCtx{ev: ev})
			if err != nil {
				var ce *CapacityError
				if errors.As(err, &ce) {
					return err
				}
				return &EvalError{ExprID: v.ID, TimePointIndex: ev.frame.tp.Index, Err: err}
			}
			ev.frame.produced[v.ID] = append(ev.frame.produced[v.ID], val)
			if !v.Transient {
				ev.frame.staged = append(ev.frame.staged, commitlog.Staged{ExprID: v.ID, Value: val})
			}
		case *script.Scope:
			n, err := v.Gate()(&exprCtx{ev: ev})
			if err != nil {
				return fmt.Errorf("scope gate at time point %d: %w", ev.frame.tp.Index, err)
			}
			for i := 0; i < n; i++ {
				if err := ev.runScope(v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// lookback resolves a relative read against committed history plus the
// current frame. Offset 0 is the value produced earlier in this pass.
func (ev *Evaluator) lookback(id domain.ExprID, k int) (domain.Value, error) {
	if k < 0 {
		return domain.NA(), fmt.Errorf("%w: %d for expression %q", ErrNegativeOffset, k, id)
	}
	ev.log.NoteOffset(id, k)

	if k == 0 {
		if vals := ev.frame.produced[id]; len(vals) > 0 {
			return vals[len(vals)-1], nil
		}
		return domain.NA(), nil
	}

	eff := ev.effectiveCapacity(id)
	if k > eff {
		if expr, ok := ev.graph.Expr(id); ok && expr.CapacityHint > 0 {
			// The script asked for this bound itself: the data is simply
			// gone, which is not an engine failure.
			ev.raise(Diagnostic{Kind: DiagRequestedCapacityExceeded, ExprID: id, TimePointIndex: ev.frame.tp.Index, Offset: k})
			return domain.NA(), nil
		}
		return domain.NA(), &CapacityError{
			ExprID:         id,
			TimePointIndex: ev.frame.tp.Index,
			Offset:         k,
			Capacity:       eff,
		}
	}

	h := ev.log.Buffer(id)
	if h == nil {
		return domain.NA(), nil
	}
	if h.Mode() == series.AppendOnlyIndexed && h.Gapped() {
		ev.raise(Diagnostic{Kind: DiagInconsistentScopeLookback, ExprID: id, TimePointIndex: ev.frame.tp.Index, Offset: k})
	}

	e, ok := h.Back(k - 1)
	if !ok {
		return domain.NA(), nil
	}
	return e.Value, nil
}

// effectiveCapacity resolves the capacity in force for an expression:
// calibration plan, then script hint, then the default bound.
func (ev *Evaluator) effectiveCapacity(id domain.ExprID) int {
	if c, ok := ev.plan[id]; ok {
		return c
	}
	if expr, ok := ev.graph.Expr(id); ok && expr.CapacityHint > 0 {
		return expr.CapacityHint
	}
	return series.DefaultCapacity
}

func (ev *Evaluator) ensureBuffer(id domain.ExprID) {
	mode := series.ConsecutiveIndexed
	if expr, ok := ev.graph.Expr(id); ok && expr.Scope().Kind() == script.LocalScope {
		mode = series.AppendOnlyIndexed
	}
	ev.log.Ensure(id, mode, ev.effectiveCapacity(id))
}

func (ev *Evaluator) raise(d Diagnostic) {
	if ev.diag != nil {
		ev.diag(d)
	}
}

// exprCtx adapts the evaluator to the script.PassContext contract for
// one expression or gate invocation.
type exprCtx struct {
	ev *Evaluator
}

var _ script.PassContext = (*exprCtx)(nil)

func (c *exprCtx) Bar() domain.Bar {
	return c.ev.frame.tp.Bar
}

func (c *exprCtx) Index() int64 {
	return c.ev.frame.tp.Index
}

func (c *exprCtx) IsFinalized() bool {
	return c.ev.frame.tp.IsFinalized
}

func (c *exprCtx) UpdateSeq() int {
	return c.ev.frame.tp.UpdateSeq
}

func (c *exprCtx) Lookback(id domain.ExprID, k int) (domain.Value, error) {
	return c.ev.lookback(id, k)
}

func (c *exprCtx) Var(name string) domain.Value {
	return c.ev.rollback.ReadVar(c.ev.frame, name)
}

func (c *exprCtx) SetVar(name string, v domain.Value) {
	c.ev.rollback.WriteVar(c.ev.frame, name, v)
}

func (c *exprCtx) Emit(tag string, v domain.Value) {
	c.ev.frame.effects = append(c.ev.frame.effects, domain.Effect{Tag: tag, Value: v})
}
