package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrabsha/tremor-runtime/pkg/event"
)

func TestMetaSetLeavesPayloadUntouched(t *testing.T) {
	ctx := context.Background()
	sc := scope(map[string]any{"host": "node-3"})

	ms := &MetaSet{Namespace: "routing", Key: "host", Expr: MustCompile("event.host")}
	got, err := ms.Apply(ctx, sc)
	require.NoError(t, err)

	assert.Equal(t, sc.Value, got)
	v, ok := sc.Meta.Get("routing", "host")
	require.True(t, ok)
	assert.Equal(t, "node-3", v)
}

func TestChainThreadsValues(t *testing.T) {
	ctx := context.Background()
	sc := scope(map[string]any{"n": 1})

	chain := Chain{
		&MetaSet{Namespace: "audit", Key: "seen", Expr: MustCompile("true")},
		MustCompile("event.n + 1"),
	}
	got, err := chain.Apply(ctx, sc)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)

	v, ok := sc.Meta.Get("audit", "seen")
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestChainStopsOnError(t *testing.T) {
	ctx := context.Background()
	chain := Chain{
		MustCompile("event.missing"),
		&MetaSet{Namespace: "never", Key: "runs", Expr: MustCompile("true")},
	}
	sc := scope(map[string]any{})
	_, err := chain.Apply(ctx, sc)
	require.Error(t, err)
	_, ok := sc.Meta.Get("never", "runs")
	assert.False(t, ok)
}

func TestScopeOf(t *testing.T) {
	ev := event.New(event.ID{Source: "test", Seq: 1}, map[string]any{"k": "v"}, "test")
	sc := ScopeOf(ev)
	assert.Equal(t, ev.Data, sc.Value)
	ev.Meta.Set("ns", "key", 1)
	_, ok := sc.Meta.Get("ns", "key")
	assert.True(t, ok)
}
