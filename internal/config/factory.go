package config

import (
	"context"
	"fmt"
	"time"

	"github.com/scrabsha/tremor-runtime/pkg/op"
	"github.com/scrabsha/tremor-runtime/pkg/pipeline"
	"github.com/scrabsha/tremor-runtime/pkg/script"
)

// operatorKinds enumerates the kinds a deployment file may declare.
var operatorKinds = map[string]struct{}{
	"passthrough": {},
	"script":      {},
	"batch":       {},
	"select":      {},
}

// BuildOperators instantiates the operators a pipeline spec declares, in
// declaration order, compiling every embedded script along the way. The
// context bounds script compilation only points, not operator runtime.
func BuildOperators(ctx context.Context, spec *pipeline.Spec) ([]op.Operator, error) {
	operators := make([]op.Operator, 0, len(spec.Operators))
	for _, decl := range spec.Operators {
		operator, err := buildOperator(ctx, decl)
		if err != nil {
			return nil, fmt.Errorf("operator %q: %w", decl.ID, err)
		}
		operators = append(operators, operator)
	}
	return operators, nil
}

func buildOperator(ctx context.Context, decl pipeline.OperatorSpec) (op.Operator, error) {
	switch decl.Kind {
	case "passthrough":
		return op.NewPassthrough(decl.ID), nil
	case "script":
		return buildScript(decl)
	case "batch":
		return buildBatch(decl)
	case "select":
		return buildSelect(ctx, decl)
	default:
		return nil, fmt.Errorf("unknown kind %q", decl.Kind)
	}
}

func buildScript(decl pipeline.OperatorSpec) (op.Operator, error) {
	var chain script.Chain

	if src, ok, err := cfgString(decl.Config, "expr"); err != nil {
		return nil, err
	} else if ok {
		compiled, err := script.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("compiling expr: %w", err)
		}
		chain = append(chain, compiled)
	}

	if raw, present := decl.Config["set_meta"]; present {
		entries, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("set_meta must be a list")
		}
		for i, entry := range entries {
			fields, ok := entry.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("set_meta[%d] must be a mapping", i)
			}
			ns, _, err := cfgString(fields, "namespace")
			if err != nil {
				return nil, err
			}
			key, _, err := cfgString(fields, "key")
			if err != nil {
				return nil, err
			}
			src, hasExpr, err := cfgString(fields, "expr")
			if err != nil {
				return nil, err
			}
			if ns == "" || key == "" || !hasExpr {
				return nil, fmt.Errorf("set_meta[%d] needs namespace, key, and expr", i)
			}
			compiled, err := script.Compile(src)
			if err != nil {
				return nil, fmt.Errorf("compiling set_meta[%d]: %w", i, err)
			}
			chain = append(chain, &script.MetaSet{Namespace: ns, Key: key, Expr: compiled})
		}
	}

	if len(chain) == 0 {
		return nil, fmt.Errorf("script needs an expr or set_meta entries")
	}
	return op.NewScript(decl.ID, chain), nil
}

func buildBatch(decl pipeline.OperatorSpec) (op.Operator, error) {
	count, _, err := cfgInt(decl.Config, "count")
	if err != nil {
		return nil, err
	}
	timeout, _, err := cfgDuration(decl.Config, "timeout")
	if err != nil {
		return nil, err
	}
	return op.NewBatch(decl.ID, op.BatchConfig{
		Count:     count,
		TimeoutNs: timeout.Nanoseconds(),
	})
}

func buildSelect(ctx context.Context, decl pipeline.OperatorSpec) (op.Operator, error) {
	var cfg op.SelectConfig

	if src, ok, err := cfgString(decl.Config, "where"); err != nil {
		return nil, err
	} else if ok {
		compiled, err := script.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("compiling where: %w", err)
		}
		cfg.Where = compiled
	}

	if raw, present := decl.Config["where_rego"]; present {
		if cfg.Where != nil {
			return nil, fmt.Errorf("where and where_rego are mutually exclusive")
		}
		fields, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("where_rego must be a mapping")
		}
		module, _, err := cfgString(fields, "module")
		if err != nil {
			return nil, err
		}
		query, _, err := cfgString(fields, "query")
		if err != nil {
			return nil, err
		}
		if module == "" || query == "" {
			return nil, fmt.Errorf("where_rego needs module and query")
		}
		pred, err := script.CompileRego(ctx, module, query)
		if err != nil {
			return nil, fmt.Errorf("compiling where_rego: %w", err)
		}
		cfg.Where = pred
	}

	if src, ok, err := cfgString(decl.Config, "group_by"); err != nil {
		return nil, err
	} else if ok {
		compiled, err := script.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("compiling group_by: %w", err)
		}
		cfg.GroupBy = compiled
	}

	if src, ok, err := cfgString(decl.Config, "project"); err != nil {
		return nil, err
	} else if ok {
		compiled, err := script.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("compiling project: %w", err)
		}
		cfg.Project = compiled
	}

	if src, ok, err := cfgString(decl.Config, "having"); err != nil {
		return nil, err
	} else if ok {
		compiled, err := script.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("compiling having: %w", err)
		}
		cfg.Having = compiled
	}

	if raw, present := decl.Config["window"]; present {
		fields, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("window must be a mapping")
		}
		size, _, err := cfgInt(fields, "size")
		if err != nil {
			return nil, err
		}
		interval, _, err := cfgDuration(fields, "interval")
		if err != nil {
			return nil, err
		}
		idle, _, err := cfgDuration(fields, "idle")
		if err != nil {
			return nil, err
		}
		sliding := false
		if v, present := fields["sliding"]; present {
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("window sliding must be a boolean")
			}
			sliding = b
		}
		cfg.Window = &op.WindowConfig{
			Size:       size,
			IntervalNs: interval.Nanoseconds(),
			Sliding:    sliding,
			IdleNs:     idle.Nanoseconds(),
		}
	}

	return op.NewSelect(decl.ID, cfg)
}

func cfgString(m map[string]any, key string) (string, bool, error) {
	raw, present := m[key]
	if !present {
		return "", false, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", false, fmt.Errorf("%s must be a string", key)
	}
	return s, true, nil
}

func cfgInt(m map[string]any, key string) (int, bool, error) {
	raw, present := m[key]
	if !present {
		return 0, false, nil
	}
	n, ok := raw.(int)
	if !ok {
		return 0, false, fmt.Errorf("%s must be an integer", key)
	}
	return n, true, nil
}

func cfgDuration(m map[string]any, key string) (time.Duration, bool, error) {
	raw, present := m[key]
	if !present {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, false, fmt.Errorf("%s: invalid duration %q: %w", key, v, err)
		}
		return d, true, nil
	case int:
		return time.Duration(v), true, nil
	default:
		return 0, false, fmt.Errorf("%s must be a duration string", key)
	}
}
