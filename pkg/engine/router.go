// Package engine drives events, signals, and contraflow messages
// through a compiled topology and hosts the per-pipeline execution
// task. Routing within one pipeline is strictly sequential, which is
// what makes its output ordering deterministic.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/scrabsha/tremor-runtime/pkg/event"
	"github.com/scrabsha/tremor-runtime/pkg/op"
	"github.com/scrabsha/tremor-runtime/pkg/pipeline"
	"github.com/scrabsha/tremor-runtime/pkg/telemetry"
)

// Delivery is an event that reached a declared graph output port and is
// ready to be handed to the sink bound there.
type Delivery struct {
	Port  string
	Event *event.Event
}

// PipelineFault is an unrecoverable operator fault: not a value-level
// evaluation error but a broken invariant. It is fatal to the pipeline
// instance and is never retried.
type PipelineFault struct {
	Node string
	Err  error
}

func (f *PipelineFault) Error() string {
	return fmt.Sprintf("pipeline fault in operator %q: %v", f.Node, f.Err)
}

func (f *PipelineFault) Unwrap() error {
	return f.Err
}

// Router delivers one unit of work through the compiled topology,
// synchronously and depth-first in connection declaration order.
type Router struct {
	graph  *pipeline.Graph
	log    zerolog.Logger
	tracer trace.Tracer
}

// NewRouter creates a router over the compiled graph.
func NewRouter(graph *pipeline.Graph, logger zerolog.Logger) *Router {
	return &Router{
		graph:  graph,
		log:    logger,
		tracer: otel.Tracer("tremor.pipeline"),
	}
}

// RouteEvent drives an event from the named graph input port to
// whatever graph outputs it reaches. Sibling fan-out branches are
// visited in connection declaration order, each on an independent
// logical copy of the event, so repeated runs with the same admissions
// produce identical delivery sequences.
func (r *Router) RouteEvent(ctx context.Context, port string, ev *event.Event) ([]Delivery, error) {
	targets, ok := r.graph.Entries(port)
	if !ok {
		return nil, fmt.Errorf("graph %q has no input port %q", r.graph.ID(), port)
	}

	ctx, span := r.tracer.Start(ctx, "pipeline.route", trace.WithAttributes(
		attribute.String("pipeline.id", r.graph.ID()),
		attribute.String("event.id", ev.ID.String()),
		attribute.String("graph.port", port),
	))
	defer span.End()

	var out []Delivery
	if err := r.fanOut(ctx, targets, ev, &out); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}
	return out, nil
}

// RouteSignal invokes every operator's signal handler in topological
// order and routes anything they emit forward from that node.
func (r *Router) RouteSignal(ctx context.Context, sig event.Signal) ([]Delivery, error) {
	var out []Delivery
	for _, idx := range r.graph.Order() {
		operator := r.graph.Operator(idx)
		emits, err := operator.OnSignal(ctx, sig)
		if err != nil {
			return out, &PipelineFault{Node: r.graph.NodeID(idx), Err: err}
		}
		if err := r.routeEmits(ctx, idx, emits, &out); err != nil {
			return out, err
		}
	}
	return out, nil
}

// RouteInsight walks the reversed topology, letting each operator
// observe the contraflow message. Forced flushes triggered by the
// message travel forward again from the flushing node.
func (r *Router) RouteInsight(ctx context.Context, ins *event.Insight) ([]Delivery, error) {
	var out []Delivery
	for _, idx := range r.graph.ReverseOrder() {
		emits := r.graph.Operator(idx).OnContraflow(ctx, ins)
		if err := r.routeEmits(ctx, idx, emits, &out); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (r *Router) routeNode(ctx context.Context, idx int, inPort string, ev *event.Event, out *[]Delivery) error {
	operator := r.graph.Operator(idx)

	start := time.Now()
	emits, err := operator.OnEvent(ctx, inPort, ev)
	if err != nil {
		return &PipelineFault{Node: r.graph.NodeID(idx), Err: err}
	}

	errored := false
	for _, em := range emits {
		if em.Port == op.PortErr {
			errored = true
			break
		}
	}
	telemetry.RecordOperatorMetrics(ctx, telemetry.OperatorMetrics{
		PipelineID: r.graph.ID(),
		OperatorID: operator.ID(),
		Kind:       operator.Kind(),
		Port:       inPort,
		Emitted:    len(emits),
		Errored:    errored,
		Duration:   time.Since(start),
	})

	return r.routeEmits(ctx, idx, emits, out)
}

func (r *Router) routeEmits(ctx context.Context, idx int, emits []op.Emit, out *[]Delivery) error {
	for _, em := range emits {
		targets := r.graph.Targets(idx, em.Port)
		if len(targets) == 0 {
			// Unconnected output port: the event is silently dropped.
			// For err ports this is the documented isolation behaviour.
			r.log.Trace().
				Str("operator", r.graph.NodeID(idx)).
				Str("port", em.Port).
				Stringer("event", em.Event.ID).
				Msg("dropping event on unconnected port")
			continue
		}
		if err := r.fanOut(ctx, targets, em.Event, out); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) fanOut(ctx context.Context, targets []pipeline.Target, ev *event.Event, out *[]Delivery) error {
	// Copies are snapshotted before any branch runs: depth-first
	// recursion into branch n must not see mutations made by branch
	// n-1.
	copies := make([]*event.Event, len(targets))
	copies[0] = ev
	for i := 1; i < len(targets); i++ {
		copies[i] = ev.Clone()
	}

	for i, t := range targets {
		if t.IsOutput() {
			*out = append(*out, Delivery{Port: t.Port, Event: copies[i]})
			continue
		}
		if err := r.routeNode(ctx, t.Node, t.Port, copies[i], out); err != nil {
			return err
		}
	}
	return nil
}
