package stream

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// streamMetrics holds the OpenTelemetry instruments for one stream.
// A nil *streamMetrics disables recording.
type streamMetrics struct {
	attrs          metric.MeasurementOption
	emitted        metric.Int64Counter
	delivered      metric.Int64Counter
	dropped        metric.Int64Counter
	retries        metric.Int64Counter
	pipelineErrors metric.Int64Counter
}

func newStreamMetrics(name string) *streamMetrics {
	meter := otel.Meter("stream")

	emitted, _ := meter.Int64Counter("stream.emitted",
		metric.WithDescription("Total number of values accepted by the source observer"),
		metric.WithUnit("{value}"))
	delivered, _ := meter.Int64Counter("stream.delivered",
		metric.WithDescription("Total number of values dispatched to the output observer"),
		metric.WithUnit("{value}"))
	dropped, _ := meter.Int64Counter("stream.dropped",
		metric.WithDescription("Number of values dropped by the pause buffer"),
		metric.WithUnit("{value}"))
	retries, _ := meter.Int64Counter("stream.pipeline.retries",
		metric.WithDescription("Number of middleware retry attempts"),
		metric.WithUnit("{attempt}"))
	pipelineErrors, _ := meter.Int64Counter("stream.pipeline.errors",
		metric.WithDescription("Number of values that failed the middleware pipeline"),
		metric.WithUnit("{value}"))

	return &streamMetrics{
		attrs:          metric.WithAttributes(attribute.String("stream", name)),
		emitted:        emitted,
		delivered:      delivered,
		dropped:        dropped,
		retries:        retries,
		pipelineErrors: pipelineErrors,
	}
}

func (m *streamMetrics) Emitted(ctx context.Context) {
	if m == nil {
		return
	}
	m.emitted.Add(ctx, 1, m.attrs)
}

func (m *streamMetrics) Delivered(ctx context.Context) {
	if m == nil {
		return
	}
	m.delivered.Add(ctx, 1, m.attrs)
}

func (m *streamMetrics) Dropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.dropped.Add(ctx, 1, m.attrs)
}

func (m *streamMetrics) Retried(ctx context.Context) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, m.attrs)
}

func (m *streamMetrics) PipelineError(ctx context.Context) {
	if m == nil {
		return
	}
	m.pipelineErrors.Add(ctx, 1, m.attrs)
}
