package event

// SignalKind classifies the content-less control messages that travel
// the graph forward, alongside normal dataflow.
type SignalKind int

const (
	// SignalTick is the periodic signal driving time-based window and
	// batch eviction even on an idle event stream.
	SignalTick SignalKind = iota + 1
)

// Signal is a periodic control message routed through every operator in
// topological order. TickNs carries the logical "now" so operators never
// consult the wall clock themselves.
type Signal struct {
	Kind   SignalKind
	TickNs int64
}

// InsightKind classifies backward-flowing contraflow messages.
type InsightKind int

const (
	// InsightCircuitOpen asks every upstream source to stop or throttle
	// admission of new events.
	InsightCircuitOpen InsightKind = iota + 1
	// InsightCircuitClose resumes normal admission.
	InsightCircuitClose
	// InsightAck reports that an event was fully and successfully
	// processed downstream.
	InsightAck
	// InsightFail reports that downstream processing of an event failed;
	// the origin decides whether to retry or drop.
	InsightFail
)

func (k InsightKind) String() string {
	switch k {
	case InsightCircuitOpen:
		return "circuit-open"
	case InsightCircuitClose:
		return "circuit-close"
	case InsightAck:
		return "ack"
	case InsightFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Insight is a contraflow message traversing the reversed topology.
//
// Circuit-breaker insights carry no addressing and are broadcast to all
// sources. Ack/fail insights carry the acknowledged event's origin list;
// only the sources that contributed to that event are notified.
type Insight struct {
	Kind    InsightKind
	ID      ID
	Origins []ID
	TimeNs  int64
}

// Ack builds an acknowledgment insight for the given event.
func Ack(ev *Event, nowNs int64) *Insight {
	return &Insight{Kind: InsightAck, ID: ev.ID, Origins: append([]ID(nil), ev.Origins...), TimeNs: nowNs}
}

// Fail builds a delivery-failure insight for the given event.
func Fail(ev *Event, nowNs int64) *Insight {
	return &Insight{Kind: InsightFail, ID: ev.ID, Origins: append([]ID(nil), ev.Origins...), TimeNs: nowNs}
}
