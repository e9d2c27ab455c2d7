// Package op implements the operator kinds a pipeline graph is built
// from. Every operator owns its mutable state exclusively; the router
// guarantees calls are never concurrent within one pipeline.
package op

import (
	"context"

	"github.com/scrabsha/tremor-runtime/pkg/event"
)

// Conventional port names. Operators declare at least one input and one
// output; "err" carries operator-local failure events and is silently
// dropped when unconnected.
const (
	PortIn  = "in"
	PortOut = "out"
	PortErr = "err"
)

// Emit is one event produced on a named output port.
type Emit struct {
	Port  string
	Event *event.Event
}

// Operator is the capability set shared by all vertex kinds.
//
// OnEvent must not block and is pure with respect to the given event
// except for the operator's own state. A non-nil error is an invariant
// fault, fatal to the pipeline instance; value-level evaluation
// failures are reported as events on the err port instead.
type Operator interface {
	ID() string
	Kind() string
	InPorts() []string
	OutPorts() []string

	OnEvent(ctx context.Context, port string, ev *event.Event) ([]Emit, error)

	// OnSignal handles the periodic tick, driving time-based eviction
	// and emission even absent new events.
	OnSignal(ctx context.Context, sig event.Signal) ([]Emit, error)

	// OnContraflow observes a backward-travelling message. A buffering
	// operator may react to overload by force-flushing its state; the
	// returned emits are routed forward by the engine.
	OnContraflow(ctx context.Context, ins *event.Insight) []Emit
}

// errorEvent wraps a value-level evaluation failure for the err port.
// The failing event's payload rides along so whatever is connected can
// inspect it.
func errorEvent(src *event.Event, cause error) *event.Event {
	out := src.Clone()
	out.Data = map[string]any{
		"error": cause.Error(),
		"event": src.Data,
	}
	return out
}
