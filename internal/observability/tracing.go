// Package observability wires OpenTelemetry tracing for the run/task
// lifecycle: span names and attribute keys namespaced by service, with
// trace/span status set from the operation's error.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	traceScope = "foreman"

	traceSpanRunCreate      = "foreman.run.create"
	traceSpanRunUpdate      = "foreman.run.update"
	traceSpanTaskCreate     = "foreman.task.create"
	traceSpanTaskUpdate     = "foreman.task.update"
	traceSpanWorkerDeque    = "foreman.worker.dequeue"
	traceSpanWorkerDispatch = "foreman.worker.dispatch"

	traceAttrOrgID  = "foreman.org_id"
	traceAttrRunID  = "foreman.run_id"
	traceAttrTaskID = "foreman.task_id"
	traceAttrStatus = "foreman.status"
)

// TracerProviderConfig controls the OTLP exporter endpoint.
type TracerProviderConfig struct {
	ServiceName string
	Endpoint    string // host:port; empty leaves the exporter on its default endpoint (OTEL_EXPORTER_OTLP_* env vars, else localhost:4318)
}

// NewTracerProvider builds an SDK tracer provider exporting spans over
// OTLP/HTTP, and registers it as the global provider.
func NewTracerProvider(ctx context.Context, cfg TracerProviderConfig) (*sdktrace.TracerProvider, error) {
	var opts []otlptracehttp.Option
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("build otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

func tracer() trace.Tracer { return otel.Tracer(traceScope) }

// StartRunSpan opens a span for a run lifecycle operation.
func StartRunSpan(ctx context.Context, spanName, orgID, runID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, spanName, trace.WithAttributes(
		attribute.String(traceAttrOrgID, orgID),
		attribute.String(traceAttrRunID, runID),
	))
}

// StartTaskSpan opens a span for a task lifecycle operation.
func StartTaskSpan(ctx context.Context, spanName, orgID, runID, taskID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, spanName, trace.WithAttributes(
		attribute.String(traceAttrOrgID, orgID),
		attribute.String(traceAttrRunID, runID),
		attribute.String(traceAttrTaskID, taskID),
	))
}

// MarkSpanResult records err (if any) on span and sets its final status.
func MarkSpanResult(span trace.Span, status string, err error) {
	if span == nil {
		return
	}
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.String(traceAttrStatus, status))
}

// Span name constants exposed for callers building their own spans with the
// same naming convention.
const (
	SpanRunCreate      = traceSpanRunCreate
	SpanRunUpdate      = traceSpanRunUpdate
	SpanTaskCreate     = traceSpanTaskCreate
	SpanTaskUpdate     = traceSpanTaskUpdate
	SpanWorkerDequeue  = traceSpanWorkerDeque
	SpanWorkerDispatch = traceSpanWorkerDispatch
)
