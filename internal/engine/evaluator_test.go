package engine

import (
	"context"
	"errors"
	"testing"

	"barlab/internal/commitlog"
	"barlab/internal/domain"
	"barlab/internal/script"
	"barlab/internal/sink"
)

func bar(close float64) domain.Bar {
	return domain.Bar{Open: close, High: close, Low: close, Close: close, Volume: 1, Symbol: "TEST"}
}

func finalized(index int64, close float64) *domain.TimePoint {
	return &domain.TimePoint{Index: index, IsFinalized: true, Bar: bar(close)}
}

func provisional(index int64, seq int, close float64) *domain.TimePoint {
	return &domain.TimePoint{Index: index, UpdateSeq: seq, Bar: bar(close)}
}

// closeGraph is the smallest useful graph: one global expression
// tracking the bar close.
func closeGraph(t *testing.T) *script.Graph {
	t.Helper()
	b := script.NewBuilder("close-only")
	b.Global().Expr("close", func(ctx script.PassContext) (domain.Value, error) {
		return domain.Num(ctx.Bar().Close), nil
	})
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return g
}

func newEvaluator(g *script.Graph, out sink.Sink, diag DiagnosticFunc) (*Evaluator, *commitlog.CommitLog) {
	clog := commitlog.New(g.ID())
	ev := New(Options{Graph: g, Log: clog, Sink: out, OnDiagnostic: diag})
	return ev, clog
}

func TestEvaluator_GlobalScopeConsecutiveness(t *testing.T) {
	g := closeGraph(t)
	ev, clog := newEvaluator(g, nil, nil)
	ctx := context.Background()

	for i := int64(0); i < 10; i++ {
		if _, err := ev.Evaluate(ctx, finalized(i, float64(i))); err != nil {
			t.Fatalf("Evaluate(%d) failed: %v", i, err)
		}
	}

	h := clog.Buffer("close")
	if h == nil {
		t.Fatal("no buffer allocated for close")
	}
	if h.Len() != 10 {
		t.Fatalf("buffer len = %d, want 10", h.Len())
	}
	for back := 0; back < 10; back++ {
		e, ok := h.Back(back)
		if !ok {
			t.Fatalf("Back(%d) missing", back)
		}
		if want := int64(9 - back); e.TimePointIndex != want {
			t.Errorf("Back(%d).TimePointIndex = %d, want %d (no gaps)", back, e.TimePointIndex, want)
		}
	}
	if h.Gapped() {
		t.Error("global-scope buffer must never report gaps")
	}
}

func TestEvaluator_LookbackAndRequestedCapacity(t *testing.T) {
	// Capacity 5, 10 finalized points. Offset 1 at
	// point 9 reads the commit from point 8; offset 6 exceeds the
	// requested capacity and reads as unavailable.
	b := script.NewBuilder("bounded")
	root := b.Global()
	root.Expr("e", func(ctx script.PassContext) (domain.Value, error) {
		return domain.Num(ctx.Bar().Close), nil
	}, script.WithCapacity(5))
	root.Expr("probe1", func(ctx script.PassContext) (domain.Value, error) {
		return ctx.Lookback("e", 1)
	})
	root.Expr("probe6", func(ctx script.PassContext) (domain.Value, error) {
		return ctx.Lookback("e", 6)
	})
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	var diags []Diagnostic
	ev, clog := newEvaluator(g, nil, func(d Diagnostic) { diags = append(diags, d) })
	ctx := context.Background()

	var last *ExecutionResult
	for i := int64(0); i < 10; i++ {
		last, err = ev.Evaluate(ctx, finalized(i, float64(i)*10))
		if err != nil {
			t.Fatalf("Evaluate(%d) failed: %v", i, err)
		}
	}

	h := clog.Buffer("e")
	if h.Len() != 5 {
		t.Fatalf("e buffer len = %d, want 5", h.Len())
	}
	oldest, _ := h.Back(4)
	if oldest.TimePointIndex != 5 {
		t.Errorf("oldest retained index = %d, want 5", oldest.TimePointIndex)
	}

	got := committedValue(t, last, "probe1")
	if got.IsNA() || got.Float != 80 {
		t.Errorf("e[1] at point 9 = %+v, want committed value from point 8 (80)", got)
	}

	if got := committedValue(t, last, "probe6"); !got.IsNA() {
		t.Errorf("e[6] at point 9 = %+v, want unavailable past requested capacity", got)
	}

	found := false
	for _, d := range diags {
		if d.Kind == DiagRequestedCapacityExceeded && d.ExprID == "e" && d.Offset == 6 {
			found = true
		}
	}
	if !found {
		t.Error("expected a requested-capacity-exceeded diagnostic for e at offset 6")
	}
}

func TestEvaluator_ProvisionalReplaceNotAccumulate(t *testing.T) {
	// Point 10 arrives with update sequences 1..3,
	// then finalizes on pass 4. Exactly one entry commits, carrying the
	// final pass's value.
	g := closeGraph(t)
	out := sink.NewMemory()
	ev, clog := newEvaluator(g, out, nil)
	ctx := context.Background()

	for i := int64(0); i < 10; i++ {
		if _, err := ev.Evaluate(ctx, finalized(i, 1)); err != nil {
			t.Fatalf("Evaluate(%d) failed: %v", i, err)
		}
	}

	for seq := 1; seq <= 3; seq++ {
		if _, err := ev.Evaluate(ctx, provisional(10, seq, float64(100+seq))); err != nil {
			t.Fatalf("provisional pass %d failed: %v", seq, err)
		}
		batch, ok := out.Provisional(10)
		if !ok || batch.UpdateSeq != seq {
			t.Fatalf("sink should hold the latest provisional batch, got (%+v, %t)", batch, ok)
		}
	}

	if clog.Buffer("close").Len() != 10 {
		t.Fatalf("provisional passes must not touch buffers: len = %d, want 10", clog.Buffer("close").Len())
	}

	final := &domain.TimePoint{Index: 10, IsFinalized: true, UpdateSeq: 4, Bar: bar(999)}
	if _, err := ev.Evaluate(ctx, final); err != nil {
		t.Fatalf("finalizing pass failed: %v", err)
	}

	h := clog.Buffer("close")
	if h.Len() != 11 {
		t.Fatalf("buffer len = %d, want 11 (exactly one entry for point 10)", h.Len())
	}
	e, _ := h.Back(0)
	if e.TimePointIndex != 10 || e.Value.Float != 999 {
		t.Errorf("committed entry = %+v, want the finalizing pass's value 999", e)
	}
	if _, open := out.Provisional(10); open {
		t.Error("provisional state for point 10 should be dropped on commit")
	}
}

func TestEvaluator_LocalScopeLookback(t *testing.T) {
	// A conditional true only at points {2,4,6}. The
	// lookback f[1] issued at point 6 reads the previous buffer entry
	// (point 4), not point 5.
	b := script.NewBuilder("conditional")
	root := b.Global()
	cond := root.Local(func(ctx script.PassContext) (int, error) {
		if ctx.Index() == 2 || ctx.Index() == 4 || ctx.Index() == 6 {
			return 1, nil
		}
		return 0, nil
	})
	cond.Expr("f", func(ctx script.PassContext) (domain.Value, error) {
		return domain.Num(ctx.Bar().Close), nil
	})
	cond.Expr("fprev", func(ctx script.PassContext) (domain.Value, error) {
		return ctx.Lookback("f", 1)
	})
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	var diags []Diagnostic
	ev, clog := newEvaluator(g, nil, func(d Diagnostic) { diags = append(diags, d) })
	ctx := context.Background()

	var last *ExecutionResult
	for i := int64(0); i <= 6; i++ {
		last, err = ev.Evaluate(ctx, finalized(i, float64(i)*100))
		if err != nil {
			t.Fatalf("Evaluate(%d) failed: %v", i, err)
		}
	}

	h := clog.Buffer("f")
	if h.Len() != 3 {
		t.Fatalf("f buffer len = %d, want 3 entries for points {2,4,6}", h.Len())
	}

	got := committedValue(t, last, "fprev")
	if got.IsNA() || got.Float != 400 {
		t.Errorf("f[1] at point 6 = %+v, want the point-4 entry (400), not point 5", got)
	}

	found := false
	for _, d := range diags {
		if d.Kind == DiagInconsistentScopeLookback && d.ExprID == "f" {
			found = true
		}
	}
	if !found {
		t.Error("expected an inconsistent-scope-lookback diagnostic for f")
	}
}

func TestEvaluator_CommitAtomicity(t *testing.T) {
	// Either every expression commits for a point or none does.
	fail := false
	b := script.NewBuilder("atomic")
	root := b.Global()
	root.Expr("a", func(ctx script.PassContext) (domain.Value, error) {
		return domain.Num(1), nil
	})
	root.Expr("b", func(ctx script.PassContext) (domain.Value, error) {
		if fail {
			return domain.NA(), errors.New("boom")
		}
		return domain.Num(2), nil
	})
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	ev, clog := newEvaluator(g, nil, nil)
	ctx := context.Background()

	for i := int64(0); i < 3; i++ {
		if _, err := ev.Evaluate(ctx, finalized(i, 1)); err != nil {
			t.Fatalf("Evaluate(%d) failed: %v", i, err)
		}
	}

	fail = true
	_, err = ev.Evaluate(ctx, finalized(3, 1))
	if err == nil {
		t.Fatal("expected evaluation error")
	}
	var ee *EvalError
	if !errors.As(err, &ee) || ee.ExprID != "b" || ee.TimePointIndex != 3 {
		t.Errorf("error = %v, want EvalError for b at point 3", err)
	}

	// "a" evaluated before "b" failed, yet nothing committed for point 3.
	if got := clog.Buffer("a").Len(); got != 3 {
		t.Errorf("a buffer len = %d, want 3 (no partial commit)", got)
	}
	if got := clog.CommittedPoints(); got != 3 {
		t.Errorf("CommittedPoints = %d, want 3", got)
	}
}

func TestEvaluator_IntrabarPersistence(t *testing.T) {
	// A per-bar counter reverts on every rollback; a persistent counter
	// sees every pass.
	b := script.NewBuilder("vars")
	b.Persistent("all_passes")
	root := b.Global()
	root.Expr("counts", func(ctx script.PassContext) (domain.Value, error) {
		perBar := ctx.Var("per_bar")
		if perBar.IsNA() {
			perBar = domain.Num(0)
		}
		ctx.SetVar("per_bar", domain.Num(perBar.Float+1))

		all := ctx.Var("all_passes")
		if all.IsNA() {
			all = domain.Num(0)
		}
		ctx.SetVar("all_passes", domain.Num(all.Float+1))

		return ctx.Var("per_bar"), nil
	})
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	ev, _ := newEvaluator(g, nil, nil)
	ctx := context.Background()

	if _, err := ev.Evaluate(ctx, finalized(0, 1)); err != nil {
		t.Fatalf("Evaluate(0) failed: %v", err)
	}

	// Three provisional passes then a finalizing one over point 1.
	for seq := 1; seq <= 3; seq++ {
		if _, err := ev.Evaluate(ctx, provisional(1, seq, 1)); err != nil {
			t.Fatalf("provisional pass failed: %v", err)
		}
	}
	res, err := ev.Evaluate(ctx, &domain.TimePoint{Index: 1, IsFinalized: true, UpdateSeq: 4, Bar: bar(1)})
	if err != nil {
		t.Fatalf("finalizing pass failed: %v", err)
	}

	// per_bar was re-seeded from the committed snapshot before every
	// pass: committed value after point 0 was 1, so each pass over
	// point 1 computes 2.
	if got := committedValue(t, res, "counts"); got.Float != 2 {
		t.Errorf("per-bar counter = %g, want 2 (rolled back each pass)", got.Float)
	}

	// The persistent counter saw all 5 passes.
	if got := ev.Rollback().persistentVars["all_passes"]; got.Float != 5 {
		t.Errorf("persistent counter = %g, want 5 (escapes rollback)", got.Float)
	}
}

func TestEvaluator_SideEffectsReplaced(t *testing.T) {
	b := script.NewBuilder("effects")
	b.Global().Expr("alert", func(ctx script.PassContext) (domain.Value, error) {
		ctx.Emit("alert", domain.Num(float64(ctx.UpdateSeq())))
		return domain.NA(), nil
	}, script.AsTransient())
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	out := sink.NewMemory()
	ev, clog := newEvaluator(g, out, nil)
	ctx := context.Background()

	for seq := 1; seq <= 2; seq++ {
		if _, err := ev.Evaluate(ctx, provisional(0, seq, 1)); err != nil {
			t.Fatalf("provisional pass failed: %v", err)
		}
	}
	batch, _ := out.Provisional(0)
	if len(batch.Effects) != 1 || batch.Effects[0].Value.Float != 2 {
		t.Errorf("effects = %+v, want only the latest pass's single effect", batch.Effects)
	}

	if _, err := ev.Evaluate(ctx, &domain.TimePoint{Index: 0, IsFinalized: true, UpdateSeq: 3, Bar: bar(1)}); err != nil {
		t.Fatalf("finalizing pass failed: %v", err)
	}
	commits := out.Commits()
	if len(commits) != 1 || len(commits[0].Effects) != 1 || commits[0].Effects[0].Value.Float != 3 {
		t.Errorf("committed effects = %+v, want only the finalizing pass's effect", commits)
	}

	// Transient sites never reach history.
	if clog.Buffer("alert") != nil {
		t.Error("transient expression must not own a buffer")
	}
}

func TestEvaluator_OrderingErrors(t *testing.T) {
	g := closeGraph(t)
	ev, _ := newEvaluator(g, nil, nil)
	ctx := context.Background()

	if _, err := ev.Evaluate(ctx, finalized(5, 1)); err != nil {
		t.Fatalf("Evaluate(5) failed: %v", err)
	}

	if _, err := ev.Evaluate(ctx, finalized(4, 1)); !errors.Is(err, ErrOutOfOrderPoint) {
		t.Errorf("out-of-order delivery error = %v, want ErrOutOfOrderPoint", err)
	}
	if _, err := ev.Evaluate(ctx, provisional(5, 1, 1)); !errors.Is(err, ErrFinalizedRevision) {
		t.Errorf("revision of finalized point error = %v, want ErrFinalizedRevision", err)
	}
}

// commitFailSink fails the first committed delivery, then recovers.
type commitFailSink struct {
	failed bool
}

func (s *commitFailSink) OnProvisional(context.Context, int64, int, []domain.ProvisionalPoint, []domain.Effect) error {
	return nil
}

func (s *commitFailSink) OnCommit(context.Context, int64, []domain.CommittedPoint, []domain.Effect) error {
	if !s.failed {
		s.failed = true
		return errors.New("sink unavailable")
	}
	return nil
}

func TestEvaluator_SinkFailureLeavesPointOpen(t *testing.T) {
	g := closeGraph(t)
	ev, _ := newEvaluator(g, &commitFailSink{}, nil)
	ctx := context.Background()

	if _, err := ev.Evaluate(ctx, finalized(0, 10)); err == nil {
		t.Fatal("Evaluate succeeded despite sink failure")
	}

	// The failed delivery must not mark index 0 finalized; only a
	// delivered commit closes the point.
	if _, err := ev.Evaluate(ctx, finalized(0, 10)); err != nil {
		t.Fatalf("retry after sink failure failed: %v", err)
	}
	if _, err := ev.Evaluate(ctx, finalized(0, 10)); !errors.Is(err, ErrFinalizedRevision) {
		t.Errorf("re-finalize error = %v, want ErrFinalizedRevision", err)
	}
}

// committedValue extracts one expression's value from a commit result.
func committedValue(t *testing.T, res *ExecutionResult, id domain.ExprID) domain.Value {
	t.Helper()
	if !res.Committed {
		t.Fatalf("result for point %d is not committed", res.TimePointIndex)
	}
	for _, p := range res.Points {
		if p.ExprID == id {
			return p.Value
		}
	}
	t.Fatalf("no committed value for %q", id)
	return domain.Value{}
}
