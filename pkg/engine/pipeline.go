package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrabsha/tremor-runtime/internal/governance"
	"github.com/scrabsha/tremor-runtime/pkg/event"
	"github.com/scrabsha/tremor-runtime/pkg/pipeline"
	"github.com/scrabsha/tremor-runtime/pkg/telemetry"
)

const (
	defaultTickInterval = 100 * time.Millisecond
	defaultInboxSize    = 64
)

// Options configures a pipeline instance.
type Options struct {
	// TickInterval controls how often the pipeline distributes a tick
	// signal to its operators.
	TickInterval time.Duration
	// InboxSize bounds the admission queue. A full inbox blocks Admit,
	// which is the backpressure mechanism: there is no load shedding.
	InboxSize int
	// Logger receives pipeline lifecycle and drop diagnostics.
	Logger zerolog.Logger
	// Metrics, when set, records throughput and congestion state.
	Metrics *telemetry.PipelineMetrics
	// Breaker configures the delivery-failure detector.
	Breaker governance.Config
}

type admission struct {
	port string
	ev   *event.Event
}

// Pipeline is one running instance of a compiled graph. All operator
// state is owned by the single goroutine inside Run; Admit and Notify
// are the only concurrency-safe entry points.
type Pipeline struct {
	graph   *pipeline.Graph
	router  *Router
	opts    Options
	log     zerolog.Logger
	metrics *telemetry.PipelineMetrics
	breaker *governance.CircuitBreaker

	inbox    chan admission
	insights chan *event.Insight
	gateOpen atomic.Bool

	mu      sync.Mutex
	running bool
	sinks   map[string]Sink
	sources map[string]Source

	done chan struct{}
}

// NewPipeline creates a stopped pipeline instance over the graph. Bind
// sources and sinks, then call Run.
func NewPipeline(graph *pipeline.Graph, opts Options) *Pipeline {
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = defaultInboxSize
	}
	logger := opts.Logger.With().Str("pipeline", graph.ID()).Logger()
	return &Pipeline{
		graph:    graph,
		router:   NewRouter(graph, logger),
		opts:     opts,
		log:      logger,
		metrics:  opts.Metrics,
		breaker:  governance.New(opts.Breaker),
		inbox:    make(chan admission, opts.InboxSize),
		insights: make(chan *event.Insight, opts.InboxSize),
		sinks:    make(map[string]Sink),
		sources:  make(map[string]Source),
		done:     make(chan struct{}),
	}
}

// BindSink attaches a sink to a declared graph output port. Output
// ports left unbound drop their deliveries.
func (p *Pipeline) BindSink(port string, sink Sink) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("pipeline %q is already running", p.graph.ID())
	}
	declared := false
	for _, out := range p.graph.Outputs() {
		if out == port {
			declared = true
			break
		}
	}
	if !declared {
		return fmt.Errorf("graph %q has no output port %q", p.graph.ID(), port)
	}
	p.sinks[port] = sink
	return nil
}

// BindSource registers a source for contraflow notification. Admission
// itself goes through Admit; registration only determines who hears
// acks, fails, and circuit state changes.
func (p *Pipeline) BindSource(src Source) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("pipeline %q is already running", p.graph.ID())
	}
	if _, dup := p.sources[src.Tag()]; dup {
		return fmt.Errorf("source tag %q is already bound", src.Tag())
	}
	p.sources[src.Tag()] = src
	return nil
}

// Admit offers an event at a graph input port. It blocks while the
// inbox is full and fails fast with ErrCircuitOpen while the admission
// gate is open. Admission order between concurrent callers is not
// defined; order within one caller is preserved.
func (p *Pipeline) Admit(ctx context.Context, port string, ev *event.Event) error {
	if _, ok := p.graph.Entries(port); !ok {
		return fmt.Errorf("graph %q has no input port %q", p.graph.ID(), port)
	}
	if p.gateOpen.Load() {
		p.metrics.Rejected(p.graph.ID(), port)
		return governance.ErrCircuitOpen
	}
	select {
	case p.inbox <- admission{port: port, ev: ev}:
		p.metrics.Admitted(p.graph.ID(), port)
		return nil
	case <-p.done:
		return fmt.Errorf("pipeline %q is stopped", p.graph.ID())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify injects an insight from outside, typically a downstream
// system's circuit-breaker signal relayed by a sink connector.
func (p *Pipeline) Notify(ins *event.Insight) {
	select {
	case p.insights <- ins:
	case <-p.done:
	}
}

// Gate reports whether the admission gate is currently open
// (rejecting).
func (p *Pipeline) Gate() bool {
	return p.gateOpen.Load()
}

// Breaker exposes the delivery-failure detector for diagnostics.
func (p *Pipeline) Breaker() *governance.CircuitBreaker {
	return p.breaker
}

// Run executes the pipeline until the context is cancelled or an
// operator faults. On teardown, events buffered inside window and batch
// operators are discarded, not flushed. Returns nil on clean shutdown
// and the fault otherwise.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("pipeline %q is already running", p.graph.ID())
	}
	p.running = true
	p.mu.Unlock()
	defer close(p.done)

	ticker := time.NewTicker(p.opts.TickInterval)
	defer ticker.Stop()

	p.log.Info().
		Int("operators", p.graph.NumNodes()).
		Int("inbox", p.opts.InboxSize).
		Dur("tick", p.opts.TickInterval).
		Msg("pipeline started")

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("pipeline stopped")
			return nil

		case ins := <-p.insights:
			if err := p.handleInsight(ctx, ins); err != nil {
				return p.fault(err)
			}

		case adm := <-p.inbox:
			p.metrics.SetInboxDepth(p.graph.ID(), len(p.inbox))
			deliveries, err := p.router.RouteEvent(ctx, adm.port, adm.ev)
			if derr := p.deliver(ctx, deliveries); derr != nil {
				return p.fault(derr)
			}
			if err != nil {
				return p.fault(err)
			}

		case now := <-ticker.C:
			sig := event.Signal{Kind: event.SignalTick, TickNs: now.UnixNano()}
			deliveries, err := p.router.RouteSignal(ctx, sig)
			if derr := p.deliver(ctx, deliveries); derr != nil {
				return p.fault(derr)
			}
			if err != nil {
				return p.fault(err)
			}
			// Recovery path: the gate opened on delivery failures, but
			// the detector has since timed out into half-open. Close the
			// gate so probe traffic can flow again.
			if p.gateOpen.Load() && p.breaker.State() != governance.StateOpen {
				ins := &event.Insight{Kind: event.InsightCircuitClose, TimeNs: now.UnixNano()}
				if err := p.handleInsight(ctx, ins); err != nil {
					return p.fault(err)
				}
			}
		}
	}
}

func (p *Pipeline) fault(err error) error {
	p.log.Error().Err(err).Msg("pipeline fault, stopping")
	return err
}

// handleInsight applies an insight to the gate, walks it through the
// graph in reverse topological order, delivers any forced flushes, and
// finally notifies the bound sources.
func (p *Pipeline) handleInsight(ctx context.Context, ins *event.Insight) error {
	switch ins.Kind {
	case event.InsightCircuitOpen:
		p.gateOpen.Store(true)
		p.metrics.SetBreakerOpen(p.graph.ID(), true)
		p.log.Warn().Msg("circuit opened, rejecting admissions")
	case event.InsightCircuitClose:
		p.gateOpen.Store(false)
		p.metrics.SetBreakerOpen(p.graph.ID(), false)
		p.log.Info().Msg("circuit closed, resuming admissions")
	case event.InsightAck:
		p.metrics.Acked(p.graph.ID())
	case event.InsightFail:
		p.metrics.Failed(p.graph.ID())
	}

	deliveries, err := p.router.RouteInsight(ctx, ins)
	if derr := p.deliver(ctx, deliveries); derr != nil {
		return derr
	}
	if err != nil {
		return err
	}

	dispatchInsight(p.sources, ins)
	return nil
}

// deliver hands each delivery to the sink bound on its port, feeds the
// outcome to the breaker, and emits the resulting contraflow.
func (p *Pipeline) deliver(ctx context.Context, deliveries []Delivery) error {
	for _, d := range deliveries {
		sink, ok := p.sinks[d.Port]
		if !ok {
			p.log.Trace().
				Str("port", d.Port).
				Stringer("event", d.Event.ID).
				Msg("dropping delivery on unbound output port")
			continue
		}

		err := sink.Deliver(ctx, d.Event)
		state := p.breaker.Record(err)
		nowNs := time.Now().UnixNano()

		if err == nil {
			p.metrics.Delivered(p.graph.ID(), d.Port)
			if d.Event.Transactional {
				if herr := p.handleInsight(ctx, event.Ack(d.Event, nowNs)); herr != nil {
					return herr
				}
			}
			continue
		}

		p.log.Warn().Err(err).
			Str("port", d.Port).
			Stringer("event", d.Event.ID).
			Msg("sink delivery failed")
		if d.Event.Transactional {
			if herr := p.handleInsight(ctx, event.Fail(d.Event, nowNs)); herr != nil {
				return herr
			}
		}
		if state == governance.StateOpen && !p.gateOpen.Load() {
			open := &event.Insight{Kind: event.InsightCircuitOpen, TimeNs: nowNs}
			if herr := p.handleInsight(ctx, open); herr != nil {
				return herr
			}
		}
	}
	return nil
}
