package engine

import (
	"barlab/internal/commitlog"
	"barlab/internal/domain"
	"barlab/internal/script"
)

// passFrame is the scratch overlay one pass evaluates into. Everything
// a pass produces lives here until the commit step; discarding the
// frame is the rollback. Heap objects created during an uncommitted
// pass are only reachable through the frame, so dropping it releases
// them unless a persistent variable still refers to them.
type passFrame struct {
	tp       *domain.TimePoint
	produced map[domain.ExprID][]domain.Value // per scope invocation, in order
	staged   []commitlog.Staged               // non-transient samples, evaluation order
	effects  []domain.Effect
	vars     map[string]domain.Value // per-bar variables, seeded from the committed snapshot
}

// RollbackController guarantees every pass starts from exactly the
// state last committed for the previous finalized TimePoint. It owns
// the committed variable snapshot and the intrabar-persistent store,
// the two variable classes with different rollback behavior.
type RollbackController struct {
	graph *script.Graph

	committedVars  map[string]domain.Value // as of the last commit; reverted-to state
	persistentVars map[string]domain.Value // escape rollback entirely
}

// NewRollbackController creates a controller with empty snapshots.
func NewRollbackController(graph *script.Graph) *RollbackController {
	return &RollbackController{
		graph:          graph,
		committedVars:  make(map[string]domain.Value),
		persistentVars: make(map[string]domain.Value),
	}
}

// BeginPass discards any previous uncommitted frame for the point and
// returns a fresh overlay over the last committed snapshot. Calling it
// repeatedly without evaluating in between yields identical frames:
// the frame is derived from committed state only.
func (rc *RollbackController) BeginPass(tp *domain.TimePoint) *passFrame {
	vars := make(map[string]domain.Value, len(rc.committedVars))
	for k, v := range rc.committedVars {
		vars[k] = v
	}
	return &passFrame{
		tp:       tp,
		produced: make(map[domain.ExprID][]domain.Value),
		vars:     vars,
	}
}

// CommitPass promotes the frame's per-bar variables into the committed
// snapshot. Called only for the finalizing pass of a TimePoint.
func (rc *RollbackController) CommitPass(f *passFrame) {
	rc.committedVars = f.vars
}

// ReadVar resolves a variable against the frame, routing names declared
// intrabar-persistent to the persistent store.
func (rc *RollbackController) ReadVar(f *passFrame, name string) domain.Value {
	if rc.graph.IsPersistentVar(name) {
		return rc.persistentVars[name]
	}
	return f.vars[name]
}

// WriteVar records a variable write, routing persistent names past the
// overlay so they survive rollback.
func (rc *RollbackController) WriteVar(f *passFrame, name string, v domain.Value) {
	if rc.graph.IsPersistentVar(name) {
		rc.persistentVars[name] = v
		return
	}
	f.vars[name] = v
}
