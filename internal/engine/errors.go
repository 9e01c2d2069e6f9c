package engine

import (
	"errors"
	"fmt"

	"barlab/internal/domain"
)

// Run-halting errors.
var (
	// ErrCapacityExhausted is returned after the bounded number of
	// widen-and-restart attempts still cannot satisfy a lookback depth.
	ErrCapacityExhausted = errors.New("history capacity exhausted after restart attempts")

	// ErrOutOfOrderPoint is returned when the feed violates its
	// monotonically non-decreasing index guarantee.
	ErrOutOfOrderPoint = errors.New("time points delivered out of order")

	// ErrFinalizedRevision is returned when a revision arrives for an
	// index that already finalized. Finalized points are immutable.
	ErrFinalizedRevision = errors.New("revision of an already finalized time point")

	// ErrNegativeOffset is returned for a lookback at a negative offset.
	ErrNegativeOffset = errors.New("negative lookback offset")
)

// CapacityError reports a lookback read whose offset exceeds the sized
// capacity of an auto-sized buffer. Outside calibration the runner may
// widen capacities and restart the replay a bounded number of times
// before the run halts with this error.
type CapacityError struct {
	ExprID         domain.ExprID
	TimePointIndex int64
	Offset         int
	Capacity       int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("lookback offset %d exceeds capacity %d for expression %q at time point %d",
		e.Offset, e.Capacity, e.ExprID, e.TimePointIndex)
}

// EvalError wraps an evaluation function failure with the failing
// expression identity and TimePoint index, per the error channel
// contract for halted runs.
type EvalError struct {
	ExprID         domain.ExprID
	TimePointIndex int64
	Err            error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluate expression %q at time point %d: %v", e.ExprID, e.TimePointIndex, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// DiagnosticKind classifies non-fatal conditions.
type DiagnosticKind string

const (
	// DiagInconsistentScopeLookback fires when a local-scope expression
	// looks back over a buffer with non-consecutive entries. The read
	// proceeds; the result may still be intentional.
	DiagInconsistentScopeLookback DiagnosticKind = "inconsistent_scope_lookback"

	// DiagRequestedCapacityExceeded fires when a read exceeds a capacity
	// the script explicitly requested; the read yields the unavailable
	// sentinel instead of halting the run.
	DiagRequestedCapacityExceeded DiagnosticKind = "requested_capacity_exceeded"
)

// Diagnostic is a warn-and-proceed condition raised during a pass.
type Diagnostic struct {
	Kind           DiagnosticKind
	ExprID         domain.ExprID
	TimePointIndex int64
	Offset         int
}

// DiagnosticFunc receives diagnostics as they are raised.
type DiagnosticFunc func(Diagnostic)
