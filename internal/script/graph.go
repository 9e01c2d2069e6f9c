// Package script defines the precompiled expression graph the engine
// executes: a static scope tree whose leaves are evaluation sites with
// lexical identity. Parsing and compiling a textual language into this
// form is an external concern.
package script

import (
	"barlab/internal/domain"
)

// ScopeKind distinguishes the root scope from nested ones.
type ScopeKind int

const (
	// GlobalScope executes exactly once per evaluator pass.
	GlobalScope ScopeKind = iota
	// LocalScope executes zero, one, or many times per pass, as decided
	// by its gate.
	LocalScope
)

// PassContext is the view an evaluation function gets of the pass
// currently executing. All reads resolve against committed history
// plus the current pass's transient state; nothing an eval func does
// through this interface writes to history directly.
type PassContext interface {
	// Bar returns the current TimePoint's market payload.
	Bar() domain.Bar
	// Index returns the current TimePoint index.
	Index() int64
	// IsFinalized reports whether this pass will commit.
	IsFinalized() bool
	// UpdateSeq returns the provisional revision number of this pass.
	UpdateSeq() int

	// Lookback reads expression id at relative offset k. Offset 0 reads
	// the value produced earlier in the same pass; offsets >= 1 read
	// committed history. Reads past the start of a series return the
	// unavailable sentinel; reads past an auto-sized buffer's capacity
	// fail the run outside calibration.
	Lookback(id domain.ExprID, k int) (domain.Value, error)

	// Var reads a mutable run variable. Unset variables read as NA.
	Var(name string) domain.Value
	// SetVar writes a mutable run variable. Writes to variables not
	// declared persistent are discarded on rollback.
	SetVar(name string, v domain.Value)

	// Emit records an external output for this pass. Outputs from an
	// uncommitted pass are replaced, not accumulated, by the next pass
	// over the same TimePoint.
	Emit(tag string, v domain.Value)
}

// EvalFunc computes one expression's value for the current pass.
type EvalFunc func(ctx PassContext) (domain.Value, error)

// GateFunc decides how many times a local scope executes during the
// current pass: 0 or 1 for a conditional branch, 0..n for a loop body.
type GateFunc func(ctx PassContext) (int, error)

// Expr is one evaluation site. Identity is lexical: one Expr value per
// source location, shared across all TimePoints.
type Expr struct {
	ID           domain.ExprID
	Eval         EvalFunc
	CapacityHint int  // requested history capacity; 0 means auto-size
	Transient    bool // side-effect-only site, excluded from history

	scope *Scope
}

// Scope returns the scope owning this expression.
func (e *Expr) Scope() *Scope {
	return e.scope
}

// Item is an ordered element of a scope body: either an *Expr or a
// nested *Scope.
type Item interface {
	scopeItem()
}

func (*Expr) scopeItem()  {}
func (*Scope) scopeItem() {}

// Scope is a node in the static scope tree.
type Scope struct {
	kind   ScopeKind
	parent *Scope
	gate   GateFunc // nil for the global scope
	items  []Item
}

// Kind returns the scope kind.
func (s *Scope) Kind() ScopeKind {
	return s.kind
}

// Parent returns the lexically enclosing scope, nil for the root.
func (s *Scope) Parent() *Scope {
	return s.parent
}

// Gate returns the controlling gate of a local scope.
func (s *Scope) Gate() GateFunc {
	return s.gate
}

// Items returns the ordered scope body.
func (s *Scope) Items() []Item {
	return s.items
}

// Graph is a validated, immutable expression graph.
type Graph struct {
	id             string
	global         *Scope
	exprs          []*Expr // graph order (depth-first, declaration order)
	byID           map[domain.ExprID]*Expr
	persistentVars map[string]struct{}
}

// ID returns the graph identity used in run configurations.
func (g *Graph) ID() string {
	return g.id
}

// Global returns the root scope.
func (g *Graph) Global() *Scope {
	return g.global
}

// Exprs returns all expressions in graph order.
func (g *Graph) Exprs() []*Expr {
	return g.exprs
}

// Expr looks up an expression by lexical identity.
func (g *Graph) Expr(id domain.ExprID) (*Expr, bool) {
	e, ok := g.byID[id]
	return e, ok
}

// IsPersistentVar reports whether a variable was declared
// intrabar-persistent and therefore escapes rollback.
func (g *Graph) IsPersistentVar(name string) bool {
	_, ok := g.persistentVars[name]
	return ok
}
