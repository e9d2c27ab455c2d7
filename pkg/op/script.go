package op

import (
	"context"

	"github.com/scrabsha/tremor-runtime/pkg/event"
	"github.com/scrabsha/tremor-runtime/pkg/script"
)

// Script applies a compiled transform to each event: the transform
// produces the replacement payload and may mutate the metadata side
// channel. Runtime evaluation errors are redirected to the err port
// rather than aborting the pipeline.
type Script struct {
	id        string
	transform script.Transform
}

func NewScript(id string, transform script.Transform) *Script {
	return &Script{id: id, transform: transform}
}

func (o *Script) ID() string { return o.id }
func (o *Script) Kind() string { return "script" }
func (o *Script) InPorts() []string { return []string{PortIn} }
func (o *Script) OutPorts() []string { return []string{PortOut, PortErr} }

func (o *Script) OnEvent(ctx context.Context, _ string, ev *event.Event) ([]Emit, error) {
	sc := script.ScopeOf(ev)
	value, err := o.transform.Apply(ctx, sc)
	if err != nil {
		return []Emit{{Port: PortErr, Event: errorEvent(ev, err)}}, nil
	}
	ev.Data = value
	return []Emit{{Port: PortOut, Event: ev}}, nil
}

func (o *Script) OnSignal(context.Context, event.Signal) ([]Emit, error) {
	return nil, nil
}

func (o *Script) OnContraflow(context.Context, *event.Insight) []Emit {
	return nil
}
