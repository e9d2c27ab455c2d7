package engine

import (
	"context"

	"github.com/scrabsha/tremor-runtime/pkg/event"
)

// Source feeds events into a pipeline and receives insights back. Tag
// must match the Source field of the event IDs it mints so that acks and
// fails can be routed to it.
type Source interface {
	Tag() string
	OnInsight(ins *event.Insight)
}

// Sink receives events delivered on a pipeline output port. A non-nil
// error marks the delivery as failed and triggers contraflow.
type Sink interface {
	Deliver(ctx context.Context, ev *event.Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev *event.Event) error

func (f SinkFunc) Deliver(ctx context.Context, ev *event.Event) error { return f(ctx, ev) }

// dispatchInsight routes an insight to the sources that should see it.
// Circuit state changes are broadcast to every source. Acks and fails are
// addressed: only sources whose tag appears among the insight's origin
// IDs are notified. An ack or fail without origins falls back to a
// broadcast, since there is nothing to address by.
func dispatchInsight(sources map[string]Source, ins *event.Insight) {
	if ins == nil {
		return
	}
	switch ins.Kind {
	case event.InsightCircuitOpen, event.InsightCircuitClose:
		for _, src := range sources {
			src.OnInsight(ins)
		}
	case event.InsightAck, event.InsightFail:
		if len(ins.Origins) == 0 {
			for _, src := range sources {
				src.OnInsight(ins)
			}
			return
		}
		seen := make(map[string]bool, len(ins.Origins))
		for _, id := range ins.Origins {
			if seen[id.Source] {
				continue
			}
			seen[id.Source] = true
			if src, ok := sources[id.Source]; ok {
				src.OnInsight(ins)
			}
		}
	}
}
