package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce       sync.Once
	metricsInitErr    error
	operatorCounter   metric.Int64Counter
	operatorErrors    metric.Int64Counter
	windowEmissions   metric.Int64Counter
	operatorLatencyMs metric.Float64Histogram
)

// OperatorMetrics captures the fields recorded for one operator
// invocation.
type OperatorMetrics struct {
	PipelineID string
	OperatorID string
	Kind       string
	Port       string
	Emitted    int
	Errored    bool
	Duration   time.Duration
}

// RecordOperatorMetrics emits counters and a latency histogram
// describing one operator execution.
func RecordOperatorMetrics(ctx context.Context, m OperatorMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("pipeline.id", m.PipelineID),
		attribute.String("operator.id", m.OperatorID),
		attribute.String("operator.kind", m.Kind),
		attribute.String("operator.port", m.Port),
	}

	operatorCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if m.Errored {
		operatorErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.Duration > 0 {
		operatorLatencyMs.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

// RecordWindowEmission counts one window emission for the given
// operator.
func RecordWindowEmission(ctx context.Context, operatorID string, size int) {
	if err := ensureMetrics(); err != nil {
		return
	}
	windowEmissions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operator.id", operatorID),
		attribute.Int("window.size", size),
	))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("tremor.pipeline")

		operatorCounter, metricsInitErr = meter.Int64Counter(
			"pipeline_operator_executions_total",
			metric.WithDescription("Operator invocations by pipeline, operator, and input port"),
		)
		if metricsInitErr != nil {
			return
		}
		operatorErrors, metricsInitErr = meter.Int64Counter(
			"pipeline_operator_errors_total",
			metric.WithDescription("Operator invocations that produced err-port events"),
		)
		if metricsInitErr != nil {
			return
		}
		windowEmissions, metricsInitErr = meter.Int64Counter(
			"pipeline_window_emissions_total",
			metric.WithDescription("Window instance emissions"),
		)
		if metricsInitErr != nil {
			return
		}
		operatorLatencyMs, metricsInitErr = meter.Float64Histogram(
			"pipeline_operator_duration_ms",
			metric.WithDescription("Operator execution latency in milliseconds"),
		)
	})
	return metricsInitErr
}
