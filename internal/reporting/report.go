// Package reporting summarizes stored runs: execution history for a
// configuration and per-expression statistics over its committed
// series.
package reporting

import "time"

// Report describes everything recorded for one run configuration.
type Report struct {
	GeneratedAt time.Time
	RunKey      string

	// Executions of this configuration, ordered by start time.
	Executions []ExecutionRow

	// ExprStats summarizes each expression's committed series, sorted
	// by expression ID.
	ExprStats []ExprStatRow
}

// ExecutionRow is one execution of the configuration.
type ExecutionRow struct {
	RunID           string
	Attached        bool // reused a cached commit log instead of computing
	Restarts        int
	CommittedPoints int64
	StartedMs       int64
	FinishedMs      int64
}

// ExprStatRow summarizes one expression's committed history.
type ExprStatRow struct {
	ExprID     string
	Samples    int   // committed entries, NA included
	NACount    int   // entries with no value
	FirstIndex int64 // earliest committed time point
	LastIndex  int64 // latest committed time point

	// Min, Max, Mean cover non-NA values only; zero when every entry
	// is NA.
	Min  float64
	Max  float64
	Mean float64
}
