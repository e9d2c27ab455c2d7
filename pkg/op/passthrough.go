package op

import (
	"context"

	"github.com/scrabsha/tremor-runtime/pkg/event"
)

// Passthrough is the identity operator, used for wiring and test
// scaffolding.
type Passthrough struct {
	id string
}

func NewPassthrough(id string) *Passthrough {
	return &Passthrough{id: id}
}

func (o *Passthrough) ID() string { return o.id }
func (o *Passthrough) Kind() string { return "passthrough" }
func (o *Passthrough) InPorts() []string { return []string{PortIn} }
func (o *Passthrough) OutPorts() []string { return []string{PortOut} }

func (o *Passthrough) OnEvent(_ context.Context, _ string, ev *event.Event) ([]Emit, error) {
	return []Emit{{Port: PortOut, Event: ev}}, nil
}

func (o *Passthrough) OnSignal(context.Context, event.Signal) ([]Emit, error) {
	return nil, nil
}

func (o *Passthrough) OnContraflow(context.Context, *event.Insight) []Emit {
	return nil
}
