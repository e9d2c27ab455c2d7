package op

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrabsha/tremor-runtime/pkg/event"
	"github.com/scrabsha/tremor-runtime/pkg/script"
)

func TestScriptReplacesPayload(t *testing.T) {
	ctx := context.Background()
	s := NewScript("s", script.MustCompile("event.n + 1"))

	emits, err := s.OnEvent(ctx, PortIn, testEvent(1, map[string]any{"n": 1}, 1))
	require.NoError(t, err)
	require.Len(t, emits, 1)
	assert.Equal(t, PortOut, emits[0].Port)
	assert.Equal(t, 2.0, emits[0].Event.Data)
}

func TestScriptSetsMeta(t *testing.T) {
	ctx := context.Background()
	s := NewScript("s", script.Chain{
		&script.MetaSet{Namespace: "routing", Key: "class", Expr: script.MustCompile("'bulk'")},
	})

	ev := testEvent(1, map[string]any{"n": 1}, 1)
	emits, err := s.OnEvent(ctx, PortIn, ev)
	require.NoError(t, err)
	require.Len(t, emits, 1)

	v, ok := emits[0].Event.Meta.Get("routing", "class")
	require.True(t, ok)
	assert.Equal(t, "bulk", v)
	assert.Equal(t, ev.Data, emits[0].Event.Data)
}

func TestScriptErrorGoesToErrPort(t *testing.T) {
	ctx := context.Background()
	s := NewScript("s", script.MustCompile("event.missing"))

	original := map[string]any{"present": true}
	emits, err := s.OnEvent(ctx, PortIn, testEvent(1, original, 1))
	require.NoError(t, err, "evaluation failure must not fault the pipeline")
	require.Len(t, emits, 1)
	assert.Equal(t, PortErr, emits[0].Port)

	payload := emits[0].Event.Data.(map[string]any)
	assert.Equal(t, original, payload["event"])
	assert.NotEmpty(t, payload["error"])
}

func TestPassthroughForwardsUnchanged(t *testing.T) {
	ctx := context.Background()
	p := NewPassthrough("p")

	ev := testEvent(1, "payload", 1)
	emits, err := p.OnEvent(ctx, PortIn, ev)
	require.NoError(t, err)
	require.Len(t, emits, 1)
	assert.Same(t, ev, emits[0].Event)

	sig, err := p.OnSignal(ctx, event.Signal{Kind: event.SignalTick, TickNs: 5})
	require.NoError(t, err)
	assert.Empty(t, sig)
}
