package op

import (
	"context"
	"fmt"

	"github.com/scrabsha/tremor-runtime/pkg/event"
	"github.com/scrabsha/tremor-runtime/pkg/script"
	"github.com/scrabsha/tremor-runtime/pkg/telemetry"
)

// MetaWindow is the metadata namespace window emissions are annotated
// with.
const MetaWindow = "window"

// SelectConfig captures a select/window operator at build time. All
// script fields hold externally compiled forms; every one of them is
// optional.
type SelectConfig struct {
	// Where admits or drops events before buffering.
	Where script.Predicate
	// GroupBy keys window instances; distinct key values never share an
	// instance.
	GroupBy script.Expr
	// Project computes the emitted payload. Without a window it runs
	// per event; with one it runs over the buffered value sequence.
	Project script.Expr
	// Having filters window emissions after projection.
	Having script.Predicate
	// Window, when set, buffers admitted events per group key.
	Window *WindowConfig
}

// Select evaluates a predicate to admit events, optionally buffers them
// into per-key window instances, and emits projected results. Scripted
// evaluation failures go to the err port; they never abort the graph.
type Select struct {
	id  string
	cfg SelectConfig
	gen *event.IDGen

	// keys preserves window creation order so tick and flush emissions
	// are deterministic; map iteration order is not.
	windows map[string]*windowInstance
	keys    []string
}

func NewSelect(id string, cfg SelectConfig) (*Select, error) {
	if cfg.Window != nil {
		if err := cfg.Window.validate(); err != nil {
			return nil, fmt.Errorf("select %q: %w", id, err)
		}
	}
	if cfg.GroupBy != nil && cfg.Window == nil {
		return nil, fmt.Errorf("select %q: group_by requires a window", id)
	}
	return &Select{
		id:      id,
		cfg:     cfg,
		gen:     event.NewIDGen("operator/" + id),
		windows: make(map[string]*windowInstance),
	}, nil
}

func (o *Select) ID() string { return o.id }
func (o *Select) Kind() string { return "select" }
func (o *Select) InPorts() []string { return []string{PortIn} }
func (o *Select) OutPorts() []string { return []string{PortOut, PortErr} }

// ActiveWindows reports the number of live window instances, one per
// currently active group key.
func (o *Select) ActiveWindows() int {
	return len(o.windows)
}

func (o *Select) OnEvent(ctx context.Context, _ string, ev *event.Event) ([]Emit, error) {
	var out []Emit

	// Batch containers are expanded here: each sub-event is admitted
	// independently, in arrival order.
	for _, sub := range ev.SubEvents() {
		if ev.IsBatch {
			sub = sub.Clone()
		}
		emits, err := o.onSingle(ctx, sub)
		if err != nil {
			return nil, err
		}
		out = append(out, emits...)
	}
	return out, nil
}

func (o *Select) onSingle(ctx context.Context, ev *event.Event) ([]Emit, error) {
	sc := script.ScopeOf(ev)

	if o.cfg.Where != nil {
		admit, err := o.cfg.Where.Test(ctx, sc)
		if err != nil {
			return []Emit{{Port: PortErr, Event: errorEvent(ev, err)}}, nil
		}
		if !admit {
			return nil, nil
		}
	}

	if o.cfg.Window == nil {
		if o.cfg.Project != nil {
			value, err := o.cfg.Project.Eval(ctx, sc)
			if err != nil {
				return []Emit{{Port: PortErr, Event: errorEvent(ev, err)}}, nil
			}
			ev.Data = value
		}
		return []Emit{{Port: PortOut, Event: ev}}, nil
	}

	key := ""
	if o.cfg.GroupBy != nil {
		v, err := o.cfg.GroupBy.Eval(ctx, sc)
		if err != nil {
			return []Emit{{Port: PortErr, Event: errorEvent(ev, err)}}, nil
		}
		key = fmt.Sprintf("%v", v)
	}

	w, ok := o.windows[key]
	if !ok {
		w = newWindowInstance(key)
		o.windows[key] = w
		o.keys = append(o.keys, key)
	}

	buffers, retired := w.admit(*o.cfg.Window, ev)
	if retired {
		o.retire(key)
	}
	return o.emitBuffers(ctx, buffers, key, ev.IngestNs), nil
}

func (o *Select) OnSignal(ctx context.Context, sig event.Signal) ([]Emit, error) {
	if sig.Kind != event.SignalTick || o.cfg.Window == nil {
		return nil, nil
	}

	var out []Emit
	for _, key := range append([]string(nil), o.keys...) {
		w, ok := o.windows[key]
		if !ok {
			continue
		}
		buffers, retired := w.tick(*o.cfg.Window, sig.TickNs)
		if retired {
			o.retire(key)
		}
		out = append(out, o.emitBuffers(ctx, buffers, key, sig.TickNs)...)
	}
	return out, nil
}

// OnContraflow force-flushes buffered windows when the circuit opens,
// trading early partial emissions for reduced memory pressure.
func (o *Select) OnContraflow(ctx context.Context, ins *event.Insight) []Emit {
	if ins.Kind != event.InsightCircuitOpen || o.cfg.Window == nil {
		return nil
	}

	var out []Emit
	for _, key := range append([]string(nil), o.keys...) {
		w, ok := o.windows[key]
		if !ok {
			continue
		}
		out = append(out, o.emitBuffers(ctx, w.flush(), key, ins.TimeNs)...)
		o.retire(key)
	}
	return out
}

func (o *Select) retire(key string) {
	delete(o.windows, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

func (o *Select) emitBuffers(ctx context.Context, buffers [][]*event.Event, key string, nowNs int64) []Emit {
	var out []Emit
	for _, buffered := range buffers {
		if emit, ok := o.emitWindow(ctx, buffered, key, nowNs); ok {
			out = append(out, emit)
		}
	}
	return out
}

func (o *Select) emitWindow(ctx context.Context, buffered []*event.Event, key string, nowNs int64) (Emit, bool) {
	values := make([]any, len(buffered))
	for i, ev := range buffered {
		values[i] = ev.Data
	}

	meta := make(event.Meta)
	meta.Set(MetaWindow, "group", key)
	meta.Set(MetaWindow, "count", len(buffered))
	sc := &script.Scope{Value: []any(values), Meta: meta}

	var projected any = values
	if o.cfg.Project != nil {
		v, err := o.cfg.Project.Eval(ctx, sc)
		if err != nil {
			return Emit{Port: PortErr, Event: o.windowError(sc, err, nowNs)}, true
		}
		projected = v
	}

	if o.cfg.Having != nil {
		keep, err := o.cfg.Having.Test(ctx, &script.Scope{Value: projected, Meta: meta})
		if err != nil {
			return Emit{Port: PortErr, Event: o.windowError(sc, err, nowNs)}, true
		}
		if !keep {
			return Emit{}, false
		}
	}

	telemetry.RecordWindowEmission(ctx, o.id, len(buffered))

	origins := event.MergeOrigins(buffered...)
	return Emit{Port: PortOut, Event: &event.Event{
		ID:            o.gen.Next(),
		Data:          projected,
		Meta:          meta,
		IngestNs:      nowNs,
		Origin:        "operator/" + o.id,
		Transactional: len(origins) > 0,
		Origins:       origins,
	}}, true
}

func (o *Select) windowError(sc *script.Scope, cause error, nowNs int64) *event.Event {
	return &event.Event{
		ID:       o.gen.Next(),
		Data:     map[string]any{"error": cause.Error(), "event": sc.Value},
		Meta:     sc.Meta,
		IngestNs: nowNs,
		Origin:   "operator/" + o.id,
	}
}
