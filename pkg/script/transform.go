package script

import (
	"context"
)

// MetaSet is a transform that evaluates an expression and stores the
// result in the metadata side channel, leaving the payload untouched.
type MetaSet struct {
	Namespace string
	Key       string
	Expr      Expr
}

func (t *MetaSet) Apply(ctx context.Context, sc *Scope) (any, error) {
	v, err := t.Expr.Eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	sc.Meta.Set(t.Namespace, t.Key, v)
	return sc.Value, nil
}

// Chain applies transforms in order, threading each result into the
// next scope. It fails on the first error.
type Chain []Transform

func (c Chain) Apply(ctx context.Context, sc *Scope) (any, error) {
	value := sc.Value
	for _, t := range c {
		next, err := t.Apply(ctx, &Scope{Value: value, Meta: sc.Meta})
		if err != nil {
			return nil, err
		}
		value = next
	}
	return value, nil
}
