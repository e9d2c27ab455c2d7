// Package connectors provides the source and sink implementations that
// bind pipelines to the outside world: in-process channels for
// embedding and tests, and line-oriented stdio for the CLI runner.
package connectors

import (
	"context"
	"sync/atomic"

	"github.com/scrabsha/tremor-runtime/pkg/event"
)

// ChanSource mints events for programmatic admission and tracks the
// contraflow it receives back. It pauses itself while the pipeline's
// circuit is open so callers can poll Paused before producing.
type ChanSource struct {
	tag string
	gen *event.IDGen

	paused atomic.Bool
	acked  atomic.Uint64
	failed atomic.Uint64

	insights chan *event.Insight
}

// NewChanSource creates a source with the given tag. An empty tag gets
// a generated one.
func NewChanSource(tag string) *ChanSource {
	gen := event.NewIDGen(tag)
	return &ChanSource{
		tag:      gen.Source(),
		gen:      gen,
		insights: make(chan *event.Insight, 64),
	}
}

func (s *ChanSource) Tag() string { return s.tag }

// NewEvent mints a plain event carrying the payload.
func (s *ChanSource) NewEvent(data any) *event.Event {
	return event.New(s.gen.Next(), data, s.tag)
}

// NewTransactionalEvent mints an event that participates in the
// ack/fail protocol.
func (s *ChanSource) NewTransactionalEvent(data any) *event.Event {
	return event.New(s.gen.Next(), data, s.tag).WithTransaction()
}

// OnInsight records the contraflow outcome and forwards the insight to
// the Insights channel. Forwarding never blocks; if the channel is full
// the insight is counted but not queued.
func (s *ChanSource) OnInsight(ins *event.Insight) {
	switch ins.Kind {
	case event.InsightCircuitOpen:
		s.paused.Store(true)
	case event.InsightCircuitClose:
		s.paused.Store(false)
	case event.InsightAck:
		s.acked.Add(1)
	case event.InsightFail:
		s.failed.Add(1)
	}
	select {
	case s.insights <- ins:
	default:
	}
}

// Paused reports whether the pipeline has asked this source to stop
// producing.
func (s *ChanSource) Paused() bool { return s.paused.Load() }

// Acked returns the number of ack insights received.
func (s *ChanSource) Acked() uint64 { return s.acked.Load() }

// Failed returns the number of fail insights received.
func (s *ChanSource) Failed() uint64 { return s.failed.Load() }

// Insights exposes the raw contraflow stream for callers that need more
// than the counters.
func (s *ChanSource) Insights() <-chan *event.Insight { return s.insights }

// ChanSink forwards deliveries to a channel.
type ChanSink struct {
	ch chan *event.Event
}

// NewChanSink creates a sink buffering up to size deliveries.
func NewChanSink(size int) *ChanSink {
	return &ChanSink{ch: make(chan *event.Event, size)}
}

// Deliver queues the event, blocking while the buffer is full.
func (s *ChanSink) Deliver(ctx context.Context, ev *event.Event) error {
	select {
	case s.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the delivery channel.
func (s *ChanSink) Events() <-chan *event.Event { return s.ch }
