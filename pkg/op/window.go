package op

import (
	"fmt"

	"github.com/scrabsha/tremor-runtime/pkg/event"
)

// WindowConfig describes the bounds of a window. Size is the count
// bound, IntervalNs the time bound; at least one must be set. When both
// are set, whichever boundary is crossed first triggers emission, and a
// simultaneous crossing emits once.
type WindowConfig struct {
	Size       int
	IntervalNs int64
	Sliding    bool
	// IdleNs retires a sliding instance that has seen no events for
	// this long, bounding memory to the set of active group keys.
	IdleNs int64
}

func (c WindowConfig) validate() error {
	if c.Size <= 0 && c.IntervalNs <= 0 {
		return fmt.Errorf("window needs a count or a time bound")
	}
	return nil
}

// windowInstance is the ephemeral buffered state for one group key.
// Instances are created lazily on the first event for a key and retired
// on emission (tumbling) or after an idle period (sliding).
type windowInstance struct {
	key     string
	events  []*event.Event
	startNs int64
	lastNs  int64
	warmed  bool
}

func newWindowInstance(key string) *windowInstance {
	return &windowInstance{key: key}
}

// admit buffers an arriving event and returns the emissions it
// triggers. retired reports that the instance must be discarded.
func (w *windowInstance) admit(cfg WindowConfig, ev *event.Event) (emits [][]*event.Event, retired bool) {
	w.lastNs = ev.IngestNs

	if cfg.Sliding {
		return w.admitSliding(cfg, ev), false
	}
	return w.admitTumbling(cfg, ev)
}

func (w *windowInstance) admitTumbling(cfg WindowConfig, ev *event.Event) (emits [][]*event.Event, retired bool) {
	// An event past the time boundary closes the previous window before
	// being buffered; the instance restarts from this event.
	if cfg.IntervalNs > 0 && len(w.events) > 0 && ev.IngestNs >= w.startNs+cfg.IntervalNs {
		emits = append(emits, w.take())
	}

	if len(w.events) == 0 {
		w.startNs = ev.IngestNs
	}
	w.events = append(w.events, ev)

	if cfg.Size > 0 && len(w.events) >= cfg.Size {
		emits = append(emits, w.take())
		return emits, true
	}
	return emits, false
}

func (w *windowInstance) admitSliding(cfg WindowConfig, ev *event.Event) [][]*event.Event {
	if cfg.IntervalNs > 0 {
		w.evictOlderThan(ev.IngestNs - cfg.IntervalNs)
	}
	w.events = append(w.events, ev)

	if cfg.Size > 0 {
		if overflow := len(w.events) - cfg.Size; overflow > 0 {
			w.events = append([]*event.Event(nil), w.events[overflow:]...)
		}
		if len(w.events) == cfg.Size {
			w.warmed = true
		}
		if !w.warmed {
			return nil
		}
	}
	return [][]*event.Event{w.snapshot()}
}

// tick drives time-based emission and idle retirement absent new
// events. The tick's timestamp is the only notion of "now" used here.
func (w *windowInstance) tick(cfg WindowConfig, tickNs int64) (emits [][]*event.Event, retired bool) {
	if cfg.Sliding {
		if cfg.IntervalNs > 0 {
			w.evictOlderThan(tickNs - cfg.IntervalNs)
		}
		if cfg.IdleNs > 0 && tickNs-w.lastNs >= cfg.IdleNs {
			return nil, true
		}
		return nil, false
	}

	if cfg.IntervalNs > 0 && len(w.events) > 0 && tickNs >= w.startNs+cfg.IntervalNs {
		return [][]*event.Event{w.take()}, true
	}
	return nil, false
}

// flush emits whatever is buffered, used when contraflow reports
// overload downstream.
func (w *windowInstance) flush() [][]*event.Event {
	if len(w.events) == 0 {
		return nil
	}
	return [][]*event.Event{w.take()}
}

func (w *windowInstance) take() []*event.Event {
	out := w.events
	w.events = nil
	w.startNs = 0
	return out
}

func (w *windowInstance) snapshot() []*event.Event {
	return append([]*event.Event(nil), w.events...)
}

func (w *windowInstance) evictOlderThan(cutoffNs int64) {
	kept := w.events[:0]
	for _, ev := range w.events {
		if ev.IngestNs > cutoffNs {
			kept = append(kept, ev)
		}
	}
	w.events = kept
}
