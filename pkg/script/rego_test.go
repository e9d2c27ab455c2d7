package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrabsha/tremor-runtime/pkg/event"
)

const levelPolicy = `package pipeline

default allow = false

allow if {
	input.event.level != "debug"
}
`

func TestRegoPredicate(t *testing.T) {
	ctx := context.Background()
	pred, err := CompileRego(ctx, levelPolicy, "data.pipeline.allow")
	require.NoError(t, err)

	sc := scope(map[string]any{"level": "error"})
	got, err := pred.Test(ctx, sc)
	require.NoError(t, err)
	assert.True(t, got)

	sc = scope(map[string]any{"level": "debug"})
	got, err = pred.Test(ctx, sc)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestRegoPredicateReadsMeta(t *testing.T) {
	ctx := context.Background()
	module := `package pipeline

default allow = false

allow if {
	input.meta.routing.priority == "high"
}
`
	pred, err := CompileRego(ctx, module, "data.pipeline.allow")
	require.NoError(t, err)

	sc := &Scope{Value: "payload", Meta: make(event.Meta)}
	sc.Meta.Set("routing", "priority", "high")
	got, err := pred.Test(ctx, sc)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestRegoUndefinedIsFalse(t *testing.T) {
	ctx := context.Background()
	module := `package pipeline

allow if {
	input.event.level == "error"
}
`
	pred, err := CompileRego(ctx, module, "data.pipeline.allow")
	require.NoError(t, err)

	got, err := pred.Test(ctx, scope(map[string]any{"level": "info"}))
	require.NoError(t, err)
	assert.False(t, got)
}

func TestRegoRejectsBadModule(t *testing.T) {
	ctx := context.Background()
	_, err := CompileRego(ctx, "package broken\n\nallow {", "data.broken.allow")
	assert.Error(t, err)
}

func TestRegoNonBooleanResult(t *testing.T) {
	ctx := context.Background()
	module := `package pipeline

verdict := "maybe"
`
	pred, err := CompileRego(ctx, module, "data.pipeline.verdict")
	require.NoError(t, err)

	_, err = pred.Test(ctx, scope(nil))
	assert.ErrorIs(t, err, ErrTypeMismatch)
}
