// Package observe provides the OpenTelemetry metrics, tracing and HTTP
// middleware used across opbridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped
// through a Prometheus exporter bridge set up by [InitProvider]. Tests
// should use [NewMetrics] with their own [metric.MeterProvider] so
// instruments do not leak between tests.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/opbridge/opbridge"

// Tool call outcomes used as the "status" attribute.
const (
	StatusOK          = "ok"
	StatusError       = "error"
	StatusRateLimited = "rate_limited"
	StatusUnknown     = "unknown_tool"
)

// Metrics holds the metric instruments for the application. All fields
// are safe for concurrent use.
type Metrics struct {
	// TurnDuration tracks how long one inbound message takes from
	// dequeue to final reply.
	TurnDuration metric.Float64Histogram

	// ToolExecutionDuration tracks executor latency. Attributes: tool.
	ToolExecutionDuration metric.Float64Histogram

	// AssistantDuration tracks assistant service round trips. Attributes:
	// op ("add_message", "submit_tool_outputs", ...).
	AssistantDuration metric.Float64Histogram

	// Turns counts processed turns. Attributes: status.
	Turns metric.Int64Counter

	// ToolCalls counts tool invocations. Attributes: tool, status.
	ToolCalls metric.Int64Counter

	// AssistantErrors counts failed assistant service calls. Attributes: op.
	AssistantErrors metric.Int64Counter

	// QueueDepth tracks jobs waiting for the worker.
	QueueDepth metric.Int64UpDownCounter

	// HTTPRequestDuration tracks front door latency. Attributes: method,
	// path, status.
	HTTPRequestDuration metric.Float64Histogram
}

// Assistant runs are slow; tool calls are usually sub-second.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates every instrument on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("opbridge.turn.duration",
		metric.WithDescription("Latency of one dispatched message."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("opbridge.tool_execution.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AssistantDuration, err = m.Float64Histogram("opbridge.assistant.duration",
		metric.WithDescription("Latency of assistant service calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("opbridge.turns",
		metric.WithDescription("Total dispatched messages by status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("opbridge.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.AssistantErrors, err = m.Int64Counter("opbridge.assistant.errors",
		metric.WithDescription("Total assistant service errors by operation."),
	); err != nil {
		return nil, err
	}

	if met.QueueDepth, err = m.Int64UpDownCounter("opbridge.queue.depth",
		metric.WithDescription("Jobs waiting for the dispatch worker."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("opbridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, created on
// first call from [otel.GetMeterProvider]. Call [InitProvider] first so
// the instruments land on the Prometheus-backed provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordToolCall increments the tool call counter.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordToolDuration records how long one executor ran.
func (m *Metrics) RecordToolDuration(ctx context.Context, tool string, seconds float64) {
	m.ToolExecutionDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("tool", tool)))
}

// RecordTurn increments the turn counter and records its duration.
func (m *Metrics) RecordTurn(ctx context.Context, status string, seconds float64) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.TurnDuration.Record(ctx, seconds)
}

// RecordAssistantCall records an assistant service round trip. A non-nil
// err also increments the error counter.
func (m *Metrics) RecordAssistantCall(ctx context.Context, op string, seconds float64, err error) {
	attrs := metric.WithAttributes(attribute.String("op", op))
	m.AssistantDuration.Record(ctx, seconds, attrs)
	if err != nil {
		m.AssistantErrors.Add(ctx, 1, attrs)
	}
}
