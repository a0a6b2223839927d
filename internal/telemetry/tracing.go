/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the broker and
// agent binaries. Spans cover the broker's HTTP surface and background
// tasks, and the agent's reconciliation loop — enough to follow one
// deployment object or work order across the broker/agent boundary by
// trace ID. Custom span attributes use the `brokkr.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "brokkr"

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initializes the OTel trace provider with an OTLP gRPC
// exporter. If endpoint is empty, tracing is disabled (a no-op provider is
// installed). Returns a shutdown function that must be called on exit.
func InitTraceProvider(ctx context.Context, endpoint, serviceName, version string, sampleRatio float64) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // TLS configurable via env (OTEL_EXPORTER_OTLP_INSECURE)
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartHTTPSpan wraps an inbound broker API request.
func StartHTTPSpan(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "brokkr.http.request",
		trace.WithAttributes(
			attribute.String("brokkr.http.method", method),
			attribute.String("brokkr.http.route", route),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartDeploymentSpan traces one agent-side apply of a deployment object.
func StartDeploymentSpan(ctx context.Context, stackID, deploymentObjectID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "brokkr.agent.apply_deployment_object",
		trace.WithAttributes(
			attribute.String("brokkr.stack_id", stackID),
			attribute.String("brokkr.deployment_object_id", deploymentObjectID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndDeploymentSpan records the outcome of an apply.
func EndDeploymentSpan(span trace.Span, success bool, errDetail string) {
	span.SetAttributes(attribute.Bool("brokkr.success", success))
	if !success {
		span.SetAttributes(attribute.String("brokkr.error_detail", errDetail))
	}
	span.End()
}

// StartWorkOrderSpan traces one agent-side claim-and-run of a work order.
func StartWorkOrderSpan(ctx context.Context, workOrderID, workType string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "brokkr.agent.run_work_order",
		trace.WithAttributes(
			attribute.String("brokkr.work_order_id", workOrderID),
			attribute.String("brokkr.work_type", workType),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndWorkOrderSpan records the outcome of a work order run.
func EndWorkOrderSpan(span trace.Span, success bool, resultMessage string) {
	span.SetAttributes(
		attribute.Bool("brokkr.success", success),
		attribute.String("brokkr.result_message", resultMessage),
	)
	span.End()
}

// StartWebhookDeliverySpan traces one delivery attempt, broker- or
// agent-initiated.
func StartWebhookDeliverySpan(ctx context.Context, deliveryID, eventType string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "brokkr.webhook.deliver",
		trace.WithAttributes(
			attribute.String("brokkr.delivery_id", deliveryID),
			attribute.String("brokkr.event_type", eventType),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndWebhookDeliverySpan records the delivery's HTTP outcome.
func EndWebhookDeliverySpan(span trace.Span, statusCode int, success bool) {
	span.SetAttributes(
		attribute.Int("brokkr.http.status_code", statusCode),
		attribute.Bool("brokkr.success", success),
	)
	span.End()
}
