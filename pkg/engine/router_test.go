package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/scrabsha/tremor-runtime/pkg/event"
	"github.com/scrabsha/tremor-runtime/pkg/op"
	"github.com/scrabsha/tremor-runtime/pkg/pipeline"
	"github.com/scrabsha/tremor-runtime/pkg/script"
)

func mustConn(from, to string) pipeline.Connection {
	f, err := pipeline.ParsePortAddr(from)
	if err != nil {
		panic(err)
	}
	t, err := pipeline.ParsePortAddr(to)
	if err != nil {
		panic(err)
	}
	return pipeline.Connection{From: f, To: t}
}

func mustGraph(t *testing.T, spec *pipeline.Spec, operators []op.Operator) *pipeline.Graph {
	t.Helper()
	g, err := pipeline.Build(spec, operators)
	require.NoError(t, err)
	return g
}

func inEvent(seq uint64, data any, ingestNs int64) *event.Event {
	return &event.Event{
		ID:       event.ID{Source: "in", Seq: seq},
		Data:     data,
		Meta:     make(event.Meta),
		IngestNs: ingestNs,
		Origin:   "in",
	}
}

// faultyOp returns a hard error from OnEvent.
type faultyOp struct {
	id string
}

func (f *faultyOp) ID() string { return f.id }

func (f *faultyOp) Kind() string { return "faulty" }

func (f *faultyOp) InPorts() []string { return []string{op.PortIn} }

func (f *faultyOp) OutPorts() []string { return []string{op.PortOut} }

func (f *faultyOp) OnEvent(context.Context, string, *event.Event) ([]op.Emit, error) {
	return nil, errors.New("broken invariant")
}

func (f *faultyOp) OnSignal(context.Context, event.Signal) ([]op.Emit, error) {
	return nil, nil
}

func (f *faultyOp) OnContraflow(context.Context, *event.Insight) []op.Emit {
	return nil
}

func TestRouteEventThroughChain(t *testing.T) {
	ctx := context.Background()

	sel, err := op.NewSelect("filter", op.SelectConfig{
		Where: script.MustCompile(`event != "exit"`),
	})
	require.NoError(t, err)
	batch, err := op.NewBatch("group", op.BatchConfig{Count: 1})
	require.NoError(t, err)
	tag := op.NewScript("tag", script.Chain{
		&script.MetaSet{Namespace: "audit", Key: "stage", Expr: script.MustCompile("'tagged'")},
	})

	spec := &pipeline.Spec{
		ID:      "chain",
		Inputs:  []string{"in"},
		Outputs: []string{"out"},
		Operators: []pipeline.OperatorSpec{
			{ID: "filter", Kind: "select"},
			{ID: "group", Kind: "batch"},
			{ID: "tag", Kind: "script"},
		},
		Connections: []pipeline.Connection{
			mustConn("in", "filter/in"),
			mustConn("filter/out", "group/in"),
			mustConn("group/out", "tag/in"),
			mustConn("tag/out", "out"),
		},
	}
	router := NewRouter(mustGraph(t, spec, []op.Operator{sel, batch, tag}), zerolog.Nop())

	var delivered []Delivery
	for seq, payload := range []string{"a", "exit", "b"} {
		out, err := router.RouteEvent(ctx, "in", inEvent(uint64(seq+1), payload, int64(seq+1)))
		require.NoError(t, err)
		delivered = append(delivered, out...)
	}

	require.Len(t, delivered, 2, `"exit" must be filtered out`)
	for i, want := range []string{"a", "b"} {
		d := delivered[i]
		assert.Equal(t, "out", d.Port)
		require.True(t, d.Event.IsBatch)
		members := d.Event.SubEvents()
		require.Len(t, members, 1)
		assert.Equal(t, want, members[0].Data)

		stage, ok := d.Event.Meta.Get("audit", "stage")
		require.True(t, ok)
		assert.Equal(t, "tagged", stage)
	}
}

func TestRouteEventUnknownInputPort(t *testing.T) {
	spec := &pipeline.Spec{
		ID:      "p",
		Inputs:  []string{"in"},
		Outputs: []string{"out"},
		Operators: []pipeline.OperatorSpec{
			{ID: "id", Kind: "passthrough"},
		},
		Connections: []pipeline.Connection{
			mustConn("in", "id/in"),
			mustConn("id/out", "out"),
		},
	}
	router := NewRouter(mustGraph(t, spec, []op.Operator{op.NewPassthrough("id")}), zerolog.Nop())

	_, err := router.RouteEvent(context.Background(), "bogus", inEvent(1, "x", 1))
	assert.Error(t, err)
}

func TestRouteFanOutClonesAreIndependent(t *testing.T) {
	ctx := context.Background()

	upper := op.NewScript("upper", script.MustCompile(`event.word + "-upper"`))
	lower := op.NewScript("lower", script.MustCompile(`event.word + "-lower"`))

	spec := &pipeline.Spec{
		ID:      "fan",
		Inputs:  []string{"in"},
		Outputs: []string{"out"},
		Operators: []pipeline.OperatorSpec{
			{ID: "upper", Kind: "script"},
			{ID: "lower", Kind: "script"},
		},
		Connections: []pipeline.Connection{
			mustConn("in", "upper/in"),
			mustConn("in", "lower/in"),
			mustConn("upper/out", "out"),
			mustConn("lower/out", "out"),
		},
	}
	router := NewRouter(mustGraph(t, spec, []op.Operator{upper, lower}), zerolog.Nop())

	out, err := router.RouteEvent(ctx, "in", inEvent(1, map[string]any{"word": "w"}, 1))
	require.NoError(t, err)
	require.Len(t, out, 2)

	// Branch order follows connection declaration order, and the first
	// branch's mutation must not leak into the second.
	assert.Equal(t, "w-upper", out[0].Event.Data)
	assert.Equal(t, "w-lower", out[1].Event.Data)
}

func TestRouteDropsUnconnectedErrPort(t *testing.T) {
	ctx := context.Background()
	s := op.NewScript("s", script.MustCompile("event.missing"))

	spec := &pipeline.Spec{
		ID:      "p",
		Inputs:  []string{"in"},
		Outputs: []string{"out"},
		Operators: []pipeline.OperatorSpec{
			{ID: "s", Kind: "script"},
		},
		Connections: []pipeline.Connection{
			mustConn("in", "s/in"),
			mustConn("s/out", "out"),
		},
	}
	router := NewRouter(mustGraph(t, spec, []op.Operator{s}), zerolog.Nop())

	out, err := router.RouteEvent(ctx, "in", inEvent(1, map[string]any{}, 1))
	require.NoError(t, err)
	assert.Empty(t, out, "err-port event silently dropped when unconnected")
}

func TestRouteConnectedErrPort(t *testing.T) {
	ctx := context.Background()
	s := op.NewScript("s", script.MustCompile("event.missing"))

	spec := &pipeline.Spec{
		ID:      "p",
		Inputs:  []string{"in"},
		Outputs: []string{"out", "errors"},
		Operators: []pipeline.OperatorSpec{
			{ID: "s", Kind: "script"},
		},
		Connections: []pipeline.Connection{
			mustConn("in", "s/in"),
			mustConn("s/out", "out"),
			mustConn("s/err", "errors"),
		},
	}
	router := NewRouter(mustGraph(t, spec, []op.Operator{s}), zerolog.Nop())

	out, err := router.RouteEvent(ctx, "in", inEvent(1, map[string]any{}, 1))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "errors", out[0].Port)
}

func TestRouteEventFault(t *testing.T) {
	spec := &pipeline.Spec{
		ID:      "p",
		Inputs:  []string{"in"},
		Outputs: []string{"out"},
		Operators: []pipeline.OperatorSpec{
			{ID: "f", Kind: "faulty"},
		},
		Connections: []pipeline.Connection{
			mustConn("in", "f/in"),
			mustConn("f/out", "out"),
		},
	}
	router := NewRouter(mustGraph(t, spec, []op.Operator{&faultyOp{id: "f"}}), zerolog.Nop())

	_, err := router.RouteEvent(context.Background(), "in", inEvent(1, "x", 1))
	var fault *PipelineFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "f", fault.Node)
}

func TestRouteInsightFlushTravelsForward(t *testing.T) {
	ctx := context.Background()
	batch, err := op.NewBatch("b", op.BatchConfig{Count: 100})
	require.NoError(t, err)

	spec := &pipeline.Spec{
		ID:      "p",
		Inputs:  []string{"in"},
		Outputs: []string{"out"},
		Operators: []pipeline.OperatorSpec{
			{ID: "b", Kind: "batch"},
		},
		Connections: []pipeline.Connection{
			mustConn("in", "b/in"),
			mustConn("b/out", "out"),
		},
	}
	router := NewRouter(mustGraph(t, spec, []op.Operator{batch}), zerolog.Nop())

	_, err = router.RouteEvent(ctx, "in", inEvent(1, "buffered", 1))
	require.NoError(t, err)

	out, err := router.RouteInsight(ctx, &event.Insight{Kind: event.InsightCircuitOpen, TimeNs: 9})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "out", out[0].Port)
	assert.Len(t, out[0].Event.SubEvents(), 1)
}

// Two routers built from the same declaration must produce exactly the
// same delivery sequence for the same admissions.
func TestRoutingIsDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payloads := rapid.SliceOfN(rapid.SampledFrom([]string{"a", "b", "exit", "c"}), 1, 30).Draw(t, "payloads")
		batchSize := rapid.IntRange(1, 4).Draw(t, "batchSize")

		run := func() []string {
			sel, err := op.NewSelect("filter", op.SelectConfig{
				Where: script.MustCompile(`event != "exit"`),
			})
			if err != nil {
				t.Fatal(err)
			}
			batch, err := op.NewBatch("group", op.BatchConfig{Count: batchSize})
			if err != nil {
				t.Fatal(err)
			}

			spec := &pipeline.Spec{
				ID:      "p",
				Inputs:  []string{"in"},
				Outputs: []string{"out"},
				Operators: []pipeline.OperatorSpec{
					{ID: "filter", Kind: "select"},
					{ID: "group", Kind: "batch"},
				},
				Connections: []pipeline.Connection{
					mustConn("in", "filter/in"),
					mustConn("filter/out", "group/in"),
					mustConn("group/out", "out"),
				},
			}
			g, err := pipeline.Build(spec, []op.Operator{sel, batch})
			if err != nil {
				t.Fatal(err)
			}
			router := NewRouter(g, zerolog.Nop())

			var trace []string
			for i, payload := range payloads {
				out, err := router.RouteEvent(context.Background(), "in", inEvent(uint64(i+1), payload, int64(i+1)))
				if err != nil {
					t.Fatal(err)
				}
				for _, d := range out {
					trace = append(trace, fmt.Sprintf("%s %s %v", d.Port, d.Event.ID, batchPayloads(d.Event)))
				}
			}
			return trace
		}

		first := run()
		second := run()
		if len(first) != len(second) {
			t.Fatalf("runs diverged in length: %d vs %d", len(first), len(second))
		}
		for i := range first {
			if first[i] != second[i] {
				t.Fatalf("runs diverged at %d: %q vs %q", i, first[i], second[i])
			}
		}
	})
}

func batchPayloads(ev *event.Event) []any {
	subs := ev.SubEvents()
	out := make([]any, len(subs))
	for i, sub := range subs {
		out[i] = sub.Data
	}
	return out
}
