package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CallMeta identifies an outbound call for telemetry purposes.
type CallMeta struct {
	Component string // owning component: pool, batch, cache, queue, degrade
	Operation string // logical operation, e.g. "orders.get" or "request"
	Service   string // degradation service name (optional)
}

// SpanName returns the deterministic span name for this call.
// Format: stateset.<component>.<operation>
func (m CallMeta) SpanName() string {
	if m.Operation != "" {
		return "stateset." + m.Component + "." + m.Operation
	}
	return "stateset." + m.Component
}

// Metrics records execution metrics for outbound calls.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly; recording is fire-and-forget.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordCall records one call with its duration and error status.
	RecordCall(ctx context.Context, meta CallMeta, duration time.Duration, err error)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter        metric.Meter
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewMetrics creates a Metrics instance recording through the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	totalCount, err := meter.Int64Counter(
		"stateset.call.total",
		metric.WithDescription("Total number of outbound API calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"stateset.call.errors",
		metric.WithDescription("Total number of failed outbound API calls"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"stateset.call.duration_ms",
		metric.WithDescription("Outbound API call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:        meter,
		totalCount:   totalCount,
		errorCount:   errorCount,
		durationHist: durationHist,
	}, nil
}

// RecordCall records metrics for one outbound call.
func (m *metricsImpl) RecordCall(ctx context.Context, meta CallMeta, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("component", meta.Component),
	}
	if meta.Operation != "" {
		attrs = append(attrs, attribute.String("operation", meta.Operation))
	}
	if meta.Service != "" {
		attrs = append(attrs, attribute.String("service", meta.Service))
	}

	opt := metric.WithAttributes(attrs...)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordCall(ctx context.Context, meta CallMeta, duration time.Duration, err error) {
}

// NopMetrics returns a Metrics that discards everything. Components use
// it when no meter is configured.
func NopMetrics() Metrics {
	return &noopMetrics{}
}
