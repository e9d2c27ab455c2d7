package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineMetrics holds the Prometheus collectors describing pipeline
// throughput and congestion state.
type PipelineMetrics struct {
	eventsAdmitted  *prometheus.CounterVec
	eventsDelivered *prometheus.CounterVec
	eventsRejected  *prometheus.CounterVec
	acks            *prometheus.CounterVec
	fails           *prometheus.CounterVec
	breakerOpen     *prometheus.GaugeVec
	inboxDepth      *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewPipelineMetrics creates the collectors on a fresh registry.
func NewPipelineMetrics() *PipelineMetrics {
	registry := prometheus.NewRegistry()

	m := &PipelineMetrics{
		eventsAdmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_events_admitted_total",
				Help: "Events admitted at a graph input port",
			},
			[]string{"pipeline", "port"},
		),
		eventsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_events_delivered_total",
				Help: "Events handed to the sink bound to a graph output port",
			},
			[]string{"pipeline", "port"},
		),
		eventsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_events_rejected_total",
				Help: "Admissions refused while the circuit breaker was open",
			},
			[]string{"pipeline", "port"},
		),
		acks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_acks_total",
				Help: "Ack insights routed back to contributing origins",
			},
			[]string{"pipeline"},
		),
		fails: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_fails_total",
				Help: "Fail insights routed back to contributing origins",
			},
			[]string{"pipeline"},
		),
		breakerOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipeline_circuit_open",
				Help: "1 while the pipeline's admission gate is open (rejecting)",
			},
			[]string{"pipeline"},
		),
		inboxDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipeline_inbox_depth",
				Help: "Events waiting in the pipeline's bounded inbox",
			},
			[]string{"pipeline"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.eventsAdmitted,
		m.eventsDelivered,
		m.eventsRejected,
		m.acks,
		m.fails,
		m.breakerOpen,
		m.inboxDepth,
	)
	return m
}

// Handler returns an HTTP handler serving the registry in Prometheus
// exposition format.
func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) Admitted(pipeline, port string) {
	if m == nil {
		return
	}
	m.eventsAdmitted.WithLabelValues(pipeline, port).Inc()
}

func (m *PipelineMetrics) Delivered(pipeline, port string) {
	if m == nil {
		return
	}
	m.eventsDelivered.WithLabelValues(pipeline, port).Inc()
}

func (m *PipelineMetrics) Rejected(pipeline, port string) {
	if m == nil {
		return
	}
	m.eventsRejected.WithLabelValues(pipeline, port).Inc()
}

func (m *PipelineMetrics) Acked(pipeline string) {
	if m == nil {
		return
	}
	m.acks.WithLabelValues(pipeline).Inc()
}

func (m *PipelineMetrics) Failed(pipeline string) {
	if m == nil {
		return
	}
	m.fails.WithLabelValues(pipeline).Inc()
}

func (m *PipelineMetrics) SetBreakerOpen(pipeline string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1.0
	}
	m.breakerOpen.WithLabelValues(pipeline).Set(v)
}

func (m *PipelineMetrics) SetInboxDepth(pipeline string, depth int) {
	if m == nil {
		return
	}
	m.inboxDepth.WithLabelValues(pipeline).Set(float64(depth))
}
