package script

import (
	"context"
	"fmt"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"
)

// RegoPredicate is a predicate backed by a prepared rego query. The
// module is compiled once at graph-build time; evaluation is sandboxed
// by OPA and sees the event under `input.event` and its metadata under
// `input.meta`.
type RegoPredicate struct {
	query rego.PreparedEvalQuery
	path  string
}

// CompileRego compiles a rego module and prepares the given query
// (for example `data.filters.allow`) for evaluation.
func CompileRego(ctx context.Context, module, query string) (*RegoPredicate, error) {
	if module == "" {
		return nil, fmt.Errorf("rego predicate requires a module")
	}
	if query == "" {
		return nil, fmt.Errorf("rego predicate requires a query")
	}

	prepared, err := rego.New(
		rego.Query(query),
		rego.Module("predicate.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego module: %w", err)
	}

	return &RegoPredicate{query: prepared, path: query}, nil
}

// Test evaluates the prepared query against the scope. An undefined
// result counts as false; a defined non-boolean result is a type error.
func (p *RegoPredicate) Test(ctx context.Context, sc *Scope) (bool, error) {
	input := map[string]any{
		"event": sc.Value,
		"meta":  sc.Meta,
	}

	results, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("evaluate %s: %w", p.path, err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}

	decision, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s does not evaluate to a boolean", ErrTypeMismatch, p.path)
	}
	return decision, nil
}
