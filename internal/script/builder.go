package script

import (
	"errors"
	"fmt"

	"barlab/internal/domain"
)

// Graph construction errors.
var (
	// ErrDuplicateExpr is returned when two sites claim the same lexical identity.
	ErrDuplicateExpr = errors.New("duplicate expression identity")

	// ErrNilEval is returned when an expression has no evaluation function.
	ErrNilEval = errors.New("expression has nil evaluation function")

	// ErrNilGate is returned when a local scope has no controlling gate.
	ErrNilGate = errors.New("local scope has nil gate")

	// ErrNegativeCapacity is returned for a negative capacity hint.
	ErrNegativeCapacity = errors.New("negative capacity hint")
)

// Builder assembles an expression graph. Zero value is not usable;
// create with NewBuilder.
type Builder struct {
	id             string
	global         *Scope
	persistentVars map[string]struct{}
	seen           map[domain.ExprID]struct{}
	errs           []error
}

// NewBuilder starts a graph with the given identity and an empty
// global scope.
func NewBuilder(id string) *Builder {
	return &Builder{
		id:             id,
		global:         &Scope{kind: GlobalScope},
		persistentVars: make(map[string]struct{}),
		seen:           make(map[domain.ExprID]struct{}),
	}
}

// Global returns a ScopeBuilder for the root scope.
func (b *Builder) Global() *ScopeBuilder {
	return &ScopeBuilder{b: b, scope: b.global}
}

// Persistent declares an intrabar-persistent variable: its writes
// survive rollback across provisional passes and across TimePoints.
func (b *Builder) Persistent(name string) *Builder {
	b.persistentVars[name] = struct{}{}
	return b
}

// Build validates and freezes the graph.
func (b *Builder) Build() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	g := &Graph{
		id:             b.id,
		global:         b.global,
		byID:           make(map[domain.ExprID]*Expr),
		persistentVars: b.persistentVars,
	}
	collect(b.global, g)
	return g, nil
}

// collect walks the scope tree depth-first in declaration order.
func collect(s *Scope, g *Graph) {
	for _, it := range s.items {
		switch v := it.(type) {
		case *Expr:
			g.exprs = append(g.exprs, v)
			g.byID[v.ID] = v
		case *Scope:
			collect(v, g)
		}
	}
}

// ScopeBuilder appends items to one scope.
type ScopeBuilder struct {
	b     *Builder
	scope *Scope
}

// Expr adds an evaluation site to the scope body.
func (sb *ScopeBuilder) Expr(id domain.ExprID, eval EvalFunc, opts ...ExprOption) *ScopeBuilder {
	if _, dup := sb.b.seen[id]; dup {
		sb.b.errs = append(sb.b.errs, fmt.Errorf("%w: %q", ErrDuplicateExpr, id))
		return sb
	}
	if eval == nil {
		sb.b.errs = append(sb.b.errs, fmt.Errorf("%w: %q", ErrNilEval, id))
		return sb
	}
	sb.b.seen[id] = struct{}{}

	e := &Expr{ID: id, Eval: eval, scope: sb.scope}
	for _, opt := range opts {
		opt(e)
	}
	if e.CapacityHint < 0 {
		sb.b.errs = append(sb.b.errs, fmt.Errorf("%w: %q", ErrNegativeCapacity, id))
		return sb
	}
	sb.scope.items = append(sb.scope.items, e)
	return sb
}

// Local opens a nested scope controlled by gate and returns its builder.
func (sb *ScopeBuilder) Local(gate GateFunc) *ScopeBuilder {
	if gate == nil {
		sb.b.errs = append(sb.b.errs, ErrNilGate)
	}
	child := &Scope{kind: LocalScope, parent: sb.scope, gate: gate}
	sb.scope.items = append(sb.scope.items, child)
	return &ScopeBuilder{b: sb.b, scope: child}
}

// ExprOption configures an expression at construction time.
type ExprOption func(*Expr)

// WithCapacity requests a specific history capacity for the site.
// Reads beyond a requested capacity yield the unavailable sentinel
// rather than failing the run.
func WithCapacity(n int) ExprOption {
	return func(e *Expr) {
		e.CapacityHint = n
	}
}

// AsTransient marks a side-effect-only site whose value is never
// appended to history.
func AsTransient() ExprOption {
	return func(e *Expr) {
		e.Transient = true
	}
}
