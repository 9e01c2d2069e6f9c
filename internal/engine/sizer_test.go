package engine

import (
	"context"
	"testing"

	"barlab/internal/domain"
	"barlab/internal/script"
)

// depthGraph builds a source expression plus a reader that looks back
// depth points once enough history exists.
func depthGraph(t *testing.T, depth int) *script.Graph {
	t.Helper()
	b := script.NewBuilder("depth")
	root := b.Global()
	root.Expr("src", func(ctx script.PassContext) (domain.Value, error) {
		return domain.Num(ctx.Bar().Close), nil
	})
	root.Expr("reader", func(ctx script.PassContext) (domain.Value, error) {
		if ctx.Index() < int64(depth) {
			return domain.NA(), nil
		}
		return ctx.Lookback("src", depth)
	})
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return g
}

func points(n int) []*domain.TimePoint {
	out := make([]*domain.TimePoint, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, finalized(int64(i), float64(i)))
	}
	return out
}

func TestBufferSizer_ObservedDepth(t *testing.T) {
	g := depthGraph(t, 37)
	plan, err := NewBufferSizer(g).Calibrate(context.Background(), points(100))
	if err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}

	if got := plan["src"]; got != 38 {
		t.Errorf("plan[src] = %d, want observed max offset + 1 = 38", got)
	}
	// Nothing reads reader, so it gets the floor.
	if got := plan["reader"]; got != MinCapacity {
		t.Errorf("plan[reader] = %d, want MinCapacity %d", got, MinCapacity)
	}
}

func TestBufferSizer_HintedCapacityWins(t *testing.T) {
	b := script.NewBuilder("hinted")
	root := b.Global()
	root.Expr("src", func(ctx script.PassContext) (domain.Value, error) {
		return domain.Num(ctx.Bar().Close), nil
	}, script.WithCapacity(20))
	root.Expr("reader", func(ctx script.PassContext) (domain.Value, error) {
		return ctx.Lookback("src", 3)
	})
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	plan, err := NewBufferSizer(g).Calibrate(context.Background(), points(10))
	if err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}
	if got := plan["src"]; got != 20 {
		t.Errorf("plan[src] = %d, want the script's own hint 20", got)
	}
}

func TestBufferSizer_WidensPastDefaultBound(t *testing.T) {
	// An offset past the default bound overflows during the calibration
	// replay itself; the sizer widens and retries.
	const deep = 6001
	g := depthGraph(t, deep)
	retries := 0
	sizer := NewBufferSizer(g)
	sizer.onRetry = func() { retries++ }

	plan, err := sizer.Calibrate(context.Background(), points(deep+5))
	if err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}
	if got := plan["src"]; got != deep+1 {
		t.Errorf("plan[src] = %d, want %d", got, deep+1)
	}
	if retries != 1 {
		t.Errorf("calibration retries = %d, want 1", retries)
	}
}

func TestCalibrationPrefix(t *testing.T) {
	all := points(300)
	if got := len(CalibrationPrefix(all, 0)); got != DefaultCalibrationPrefix {
		t.Errorf("default prefix = %d, want %d", got, DefaultCalibrationPrefix)
	}
	if got := len(CalibrationPrefix(all, 50)); got != 50 {
		t.Errorf("explicit prefix = %d, want 50", got)
	}
	if got := len(CalibrationPrefix(points(10), 50)); got != 10 {
		t.Errorf("short history prefix = %d, want 10", got)
	}
}
