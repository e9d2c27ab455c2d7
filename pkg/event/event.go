// Package event defines the envelope carried through a pipeline graph:
// the payload, its namespaced metadata side channel, and the identity
// information used to correlate acknowledgments back to event origins.
package event

import (
	"fmt"
	"time"
)

// Meta is the metadata side channel attached to an event, keyed by
// namespace. Operators read and write their own namespace without
// touching the payload.
type Meta map[string]map[string]any

// Get returns the value stored under namespace/key, if present.
func (m Meta) Get(namespace, key string) (any, bool) {
	ns, ok := m[namespace]
	if !ok {
		return nil, false
	}
	v, ok := ns[key]
	return v, ok
}

// Set stores a value under namespace/key, allocating the namespace map
// lazily.
func (m Meta) Set(namespace, key string, value any) {
	ns, ok := m[namespace]
	if !ok {
		ns = make(map[string]any)
		m[namespace] = ns
	}
	ns[key] = value
}

// Clone returns a copy of the metadata whose namespace maps are
// independent of the receiver's.
func (m Meta) Clone() Meta {
	if m == nil {
		return nil
	}
	out := make(Meta, len(m))
	for namespace, ns := range m {
		copied := make(map[string]any, len(ns))
		for k, v := range ns {
			copied[k] = CloneValue(v)
		}
		out[namespace] = copied
	}
	return out
}

// Event is one unit of data flowing through a pipeline graph.
//
// The ID is assigned when the event enters a graph and is never reused
// within a pipeline's lifetime. Operators that produce derived events
// mint fresh IDs but must carry the Origins list forward so that
// acknowledgments can be routed to every contributing origin.
type Event struct {
	ID            ID
	Data          any
	Meta          Meta
	IngestNs      int64
	Origin        string
	IsBatch       bool
	Transactional bool

	// Origins lists the ids of the source events that contributed to
	// this event. A freshly admitted transactional event lists only its
	// own ID; a merge (window, batch) unions the lists of everything it
	// consumed.
	Origins []ID
}

// New constructs an event entering a graph: the ingest timestamp is
// stamped once here and is immutable afterwards.
func New(id ID, data any, origin string) *Event {
	return &Event{
		ID:       id,
		Data:     data,
		Meta:     make(Meta),
		IngestNs: time.Now().UnixNano(),
		Origin:   origin,
	}
}

// WithTransaction marks the event as participating in the ack/fail
// contraflow protocol and seeds its origin list with its own ID.
func (e *Event) WithTransaction() *Event {
	e.Transactional = true
	e.Origins = []ID{e.ID}
	return e
}

// Clone produces an independent logical copy for fan-out: mutating the
// copy's payload or metadata never affects the original.
func (e *Event) Clone() *Event {
	out := *e
	out.Data = CloneValue(e.Data)
	out.Meta = e.Meta.Clone()
	if e.Origins != nil {
		out.Origins = append([]ID(nil), e.Origins...)
	}
	return &out
}

// SubEvents expands a batch container into its constituent events in
// arrival order. For a plain event it returns a single-element slice
// holding the event itself, so batch-aware operators can treat both
// shapes uniformly.
func (e *Event) SubEvents() []*Event {
	if !e.IsBatch {
		return []*Event{e}
	}
	subs, ok := e.Data.([]*Event)
	if !ok {
		return []*Event{e}
	}
	return subs
}

// MergeOrigins unions the origin lists of the given events in first-seen
// order, deduplicating by ID. Non-transactional inputs contribute
// nothing.
func MergeOrigins(events ...*Event) []ID {
	var out []ID
	seen := make(map[ID]struct{})
	for _, ev := range events {
		for _, id := range ev.Origins {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// CloneValue deep-copies the dynamically typed payload shapes the engine
// deals in: nested maps, arrays, and scalars. Unknown concrete types are
// returned as-is; operators owning such values must not share them
// across fan-out branches.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = CloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	case []*Event:
		out := make([]*Event, len(val))
		for i, item := range val {
			out[i] = item.Clone()
		}
		return out
	default:
		return val
	}
}

func (e *Event) String() string {
	return fmt.Sprintf("event %s from %s", e.ID, e.Origin)
}
