// Package script defines the boundary between the pipeline core and
// compiled scripts. The core never parses script source text: operators
// consume only the executable forms declared here. Two backends are
// provided, a small expression language and rego policies; tests and
// embedders can supply their own via the Func adapters.
package script

import (
	"context"

	"github.com/scrabsha/tremor-runtime/pkg/event"
)

// Scope is the evaluation context handed to a compiled script: the
// event payload plus its metadata side channel. Scripts may mutate Meta;
// the payload is replaced, never mutated in place.
type Scope struct {
	Value any
	Meta  event.Meta
}

// ScopeOf builds a scope over an event.
func ScopeOf(ev *event.Event) *Scope {
	return &Scope{Value: ev.Data, Meta: ev.Meta}
}

// Predicate is a compiled boolean script (a `where` or `having` clause).
type Predicate interface {
	Test(ctx context.Context, sc *Scope) (bool, error)
}

// Expr is a compiled value-producing script (a projection or group-by
// key expression).
type Expr interface {
	Eval(ctx context.Context, sc *Scope) (any, error)
}

// Transform is a compiled script that produces the replacement payload
// for an event and may mutate the scope's metadata as a side effect.
type Transform interface {
	Apply(ctx context.Context, sc *Scope) (any, error)
}

// PredicateFunc adapts a function to the Predicate interface.
type PredicateFunc func(ctx context.Context, sc *Scope) (bool, error)

func (f PredicateFunc) Test(ctx context.Context, sc *Scope) (bool, error) {
	return f(ctx, sc)
}

// ExprFunc adapts a function to the Expr interface.
type ExprFunc func(ctx context.Context, sc *Scope) (any, error)

func (f ExprFunc) Eval(ctx context.Context, sc *Scope) (any, error) {
	return f(ctx, sc)
}

// TransformFunc adapts a function to the Transform interface.
type TransformFunc func(ctx context.Context, sc *Scope) (any, error)

func (f TransformFunc) Apply(ctx context.Context, sc *Scope) (any, error) {
	return f(ctx, sc)
}
