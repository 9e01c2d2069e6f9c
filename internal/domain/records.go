package domain

// CommittedPoint is one (expression, value) pair appended to history
// when a finalized TimePoint commits.
type CommittedPoint struct {
	ExprID         ExprID
	TimePointIndex int64
	Value          Value
}

// ProvisionalPoint is one (expression, value) pair produced by an
// uncommitted pass. A downstream consumer must be prepared to see it
// replaced by the next pass over the same TimePoint.
type ProvisionalPoint struct {
	ExprID         ExprID
	TimePointIndex int64
	UpdateSeq      int
	Value          Value
}

// Effect is one external output produced by a side-effecting site
// during a pass. Effects of an uncommitted pass are replaced, never
// accumulated, by the next pass over the same TimePoint.
type Effect struct {
	Tag   string
	Value Value
}

// RunRecord is the storage representation of one completed run.
// Corresponds to the runs table.
type RunRecord struct {
	RunID           string // unique per execution
	RunKey          string // configuration hash, shared by equivalent runs
	Symbol          string
	Timeframe       string
	GraphID         string
	Attached        bool // true when the run reused a cached commit log
	Restarts        int
	CommittedPoints int64
	StartedMs       int64
	FinishedMs      int64
}

// SeriesRow is the storage representation of one committed sample.
// Corresponds to the committed_series table.
type SeriesRow struct {
	RunKey         string // configuration hash of the owning run
	ExprID         string
	TimePointIndex int64
	Value          float64
	IsNA           bool
}
