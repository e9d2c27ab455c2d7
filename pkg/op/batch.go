package op

import (
	"context"
	"fmt"

	"github.com/scrabsha/tremor-runtime/pkg/event"
)

// BatchConfig bounds the accumulator: Count events or TimeoutNs elapsed
// since the first buffered event, whichever triggers first. At least
// one bound must be set.
type BatchConfig struct {
	Count     int
	TimeoutNs int64
}

// Batch accumulates events in arrival order and emits one container
// event wrapping them. Incoming containers are expanded into their
// sub-events before buffering, so recombination follows this operator's
// bounds rather than the upstream's.
type Batch struct {
	id  string
	cfg BatchConfig
	gen *event.IDGen

	buf     []*event.Event
	firstNs int64
}

func NewBatch(id string, cfg BatchConfig) (*Batch, error) {
	if cfg.Count <= 0 && cfg.TimeoutNs <= 0 {
		return nil, fmt.Errorf("batch %q: needs a count or a timeout", id)
	}
	return &Batch{id: id, cfg: cfg, gen: event.NewIDGen("operator/" + id)}, nil
}

func (o *Batch) ID() string { return o.id }
func (o *Batch) Kind() string { return "batch" }
func (o *Batch) InPorts() []string { return []string{PortIn} }
func (o *Batch) OutPorts() []string { return []string{PortOut} }

func (o *Batch) OnEvent(_ context.Context, _ string, ev *event.Event) ([]Emit, error) {
	if len(o.buf) == 0 {
		o.firstNs = ev.IngestNs
	}
	o.buf = append(o.buf, ev.SubEvents()...)

	if o.cfg.Count > 0 && len(o.buf) >= o.cfg.Count {
		return o.flush(ev.IngestNs), nil
	}
	return nil, nil
}

func (o *Batch) OnSignal(_ context.Context, sig event.Signal) ([]Emit, error) {
	if sig.Kind != event.SignalTick || len(o.buf) == 0 {
		return nil, nil
	}
	if o.cfg.TimeoutNs > 0 && sig.TickNs-o.firstNs >= o.cfg.TimeoutNs {
		return o.flush(sig.TickNs), nil
	}
	return nil, nil
}

// OnContraflow reacts to overload: an open circuit forces an early
// flush so buffered state stops accumulating while upstream sources
// throttle.
func (o *Batch) OnContraflow(_ context.Context, ins *event.Insight) []Emit {
	if ins.Kind != event.InsightCircuitOpen || len(o.buf) == 0 {
		return nil
	}
	return o.flush(ins.TimeNs)
}

func (o *Batch) flush(nowNs int64) []Emit {
	buffered := o.buf
	o.buf = nil
	o.firstNs = 0

	origins := event.MergeOrigins(buffered...)
	container := &event.Event{
		ID:            o.gen.Next(),
		Data:          buffered,
		Meta:          make(event.Meta),
		IngestNs:      nowNs,
		Origin:        "operator/" + o.id,
		IsBatch:       true,
		Transactional: len(origins) > 0,
		Origins:       origins,
	}
	return []Emit{{Port: PortOut, Event: container}}
}
