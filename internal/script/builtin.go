package script

import (
	"fmt"

	"barlab/internal/domain"
)

// Builtin graphs selectable from run configurations. Scripts compiled
// from a textual language would register themselves the same way.
func init() {
	RegisterGraph("close-only", buildCloseOnly)
	RegisterGraph("sma-cross", buildSMACross)
}

// buildCloseOnly tracks the bar close. The smallest useful graph,
// mostly for fixture replays and smoke runs.
func buildCloseOnly(map[string]float64) (*Graph, error) {
	b := NewBuilder("close-only")
	b.Global().Expr("close", func(ctx PassContext) (domain.Value, error) {
		return domain.Num(ctx.Bar().Close), nil
	})
	return b.Build()
}

// buildSMACross computes fast and slow moving averages of the close and
// flags crossovers. Params: fast (default 9), slow (default 21).
func buildSMACross(params map[string]float64) (*Graph, error) {
	fast := intParam(params, "fast", 9)
	slow := intParam(params, "slow", 21)
	if fast <= 0 || slow <= 0 {
		return nil, fmt.Errorf("sma-cross: fast and slow must be positive, got %d/%d", fast, slow)
	}
	if fast >= slow {
		return nil, fmt.Errorf("sma-cross: fast %d must be below slow %d", fast, slow)
	}

	b := NewBuilder("sma-cross")
	b.Persistent("crosses")
	root := b.Global()
	root.Expr("close", func(ctx PassContext) (domain.Value, error) {
		return domain.Num(ctx.Bar().Close), nil
	})
	root.Expr("sma_fast", smaOf("close", fast))
	root.Expr("sma_slow", smaOf("close", slow))
	root.Expr("cross", crossOf("sma_fast", "sma_slow"))
	return b.Build()
}

// smaOf averages the last n values of src, the current pass included.
// NA until src has n samples.
func smaOf(src domain.ExprID, n int) EvalFunc {
	return func(ctx PassContext) (domain.Value, error) {
		var sum float64
		for k := 0; k < n; k++ {
			v, err := ctx.Lookback(src, k)
			if err != nil {
				return domain.NA(), err
			}
			if v.IsNA() {
				return domain.NA(), nil
			}
			sum += v.Float
		}
		return domain.Num(sum / float64(n)), nil
	}
}

// crossOf signals +1 when fast crosses above slow, -1 when it crosses
// below, 0 otherwise. Each cross also emits an effect tagged with the
// direction and bumps the persistent crosses counter.
func crossOf(fast, slow domain.ExprID) EvalFunc {
	return func(ctx PassContext) (domain.Value, error) {
		f0, err := ctx.Lookback(fast, 0)
		if err != nil {
			return domain.NA(), err
		}
		s0, err := ctx.Lookback(slow, 0)
		if err != nil {
			return domain.NA(), err
		}
		f1, err := ctx.Lookback(fast, 1)
		if err != nil {
			return domain.NA(), err
		}
		s1, err := ctx.Lookback(slow, 1)
		if err != nil {
			return domain.NA(), err
		}
		if f0.IsNA() || s0.IsNA() || f1.IsNA() || s1.IsNA() {
			return domain.NA(), nil
		}

		var dir float64
		switch {
		case f1.Float <= s1.Float && f0.Float > s0.Float:
			dir = 1
			ctx.Emit("cross_up", domain.Num(ctx.Bar().Close))
		case f1.Float >= s1.Float && f0.Float < s0.Float:
			dir = -1
			ctx.Emit("cross_down", domain.Num(ctx.Bar().Close))
		}
		if dir != 0 {
			count := ctx.Var("crosses")
			if count.IsNA() {
				count = domain.Num(0)
			}
			ctx.SetVar("crosses", domain.Num(count.Float+1))
		}
		return domain.Num(dir), nil
	}
}

// intParam reads an integer parameter with a default.
func intParam(params map[string]float64, name string, def int) int {
	if v, ok := params[name]; ok {
		return int(v)
	}
	return def
}
