package containerobjects

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName scopes the tracer and meter of this package.
const instrumentationName = "github.com/artpar/containerobjects"

// lifecycleMetrics holds the instruments for lifecycle operations.
type lifecycleMetrics struct {
	createDuration   metric.Float64Histogram
	destroyDuration  metric.Float64Histogram
	restartDuration  metric.Float64Histogram
	stageTransitions metric.Int64Counter
	tracer           trace.Tracer
}

// newLifecycleMetrics creates and registers all lifecycle metrics.
func newLifecycleMetrics(meter metric.Meter, tracer trace.Tracer) (*lifecycleMetrics, error) {
	createDuration, err := meter.Float64Histogram(
		"containerobjects_create_duration_seconds",
		metric.WithDescription("Time to create a container object"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	destroyDuration, err := meter.Float64Histogram(
		"containerobjects_destroy_duration_seconds",
		metric.WithDescription("Time to destroy a container object"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	restartDuration, err := meter.Float64Histogram(
		"containerobjects_restart_duration_seconds",
		metric.WithDescription("Time to restart a container object"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	stageTransitions, err := meter.Int64Counter(
		"containerobjects_stage_transitions_total",
		metric.WithDescription("Lifecycle stages entered by container objects"),
	)
	if err != nil {
		return nil, err
	}

	return &lifecycleMetrics{
		createDuration:   createDuration,
		destroyDuration:  destroyDuration,
		restartDuration:  restartDuration,
		stageTransitions: stageTransitions,
		tracer:           tracer,
	}, nil
}

// startSpan starts a span for a lifecycle operation on an object.
func (m *lifecycleMetrics) startSpan(ctx context.Context, op, object string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("object", object)))
}

// recordDuration records operation duration with the object name.
func (m *lifecycleMetrics) recordDuration(ctx context.Context, histogram metric.Float64Histogram, start time.Time, object string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	histogram.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("object", object),
		attribute.String("status", status),
	))
}

// recordStage records an object entering a stage.
func (m *lifecycleMetrics) recordStage(ctx context.Context, object string, stage Stage) {
	m.stageTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("object", object),
		attribute.String("stage", stage.String()),
	))
}
