package domain

// ExprID identifies an evaluation site lexically: the same source
// location denotes the same ExprID across all TimePoints.
type ExprID string

// Value is a single computed sample. A zero Value is the "unavailable"
// sentinel produced by lookback reads past the start of a series.
type Value struct {
	Float float64
	Valid bool
}

// NA returns the unavailable sentinel.
func NA() Value {
	return Value{}
}

// Num wraps a float64 as a valid value.
func Num(f float64) Value {
	return Value{Float: f, Valid: true}
}

// IsNA reports whether the value is the unavailable sentinel.
func (v Value) IsNA() bool {
	return !v.Valid
}

// Equal compares two values; two sentinels compare equal.
func (v Value) Equal(o Value) bool {
	if !v.Valid && !o.Valid {
		return true
	}
	return v.Valid == o.Valid && v.Float == o.Float
}
