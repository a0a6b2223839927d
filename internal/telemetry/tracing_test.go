/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTestTracer installs an in-memory span exporter for test assertions.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestInitTraceProviderNoopWhenEmpty(t *testing.T) {
	shutdown, err := InitTraceProvider(context.Background(), "", "brokkr", "test", 0.1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestStartHTTPSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartHTTPSpan(ctx, "POST", "/api/v1/stacks")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "brokkr.http.request" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "brokkr.http.request")
	}

	attrs := spans[0].Attributes
	foundMethod, foundRoute := false, false
	for _, a := range attrs {
		if string(a.Key) == "brokkr.http.method" && a.Value.AsString() == "POST" {
			foundMethod = true
		}
		if string(a.Key) == "brokkr.http.route" && a.Value.AsString() == "/api/v1/stacks" {
			foundRoute = true
		}
	}
	if !foundMethod {
		t.Error("missing brokkr.http.method attribute")
	}
	if !foundRoute {
		t.Error("missing brokkr.http.route attribute")
	}
}

func TestDeploymentSpanRecordsFailureDetail(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartDeploymentSpan(ctx, "stack-1", "do-1")
	EndDeploymentSpan(span, false, "apply failed: namespace not found")

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "brokkr.agent.apply_deployment_object" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "brokkr.agent.apply_deployment_object")
	}

	attrs := spans[0].Attributes
	foundSuccess, foundDetail := false, false
	for _, a := range attrs {
		if string(a.Key) == "brokkr.success" && !a.Value.AsBool() {
			foundSuccess = true
		}
		if string(a.Key) == "brokkr.error_detail" && a.Value.AsString() == "apply failed: namespace not found" {
			foundDetail = true
		}
	}
	if !foundSuccess {
		t.Error("missing brokkr.success=false attribute")
	}
	if !foundDetail {
		t.Error("missing brokkr.error_detail attribute")
	}
}

func TestDeploymentSpanOmitsErrorDetailOnSuccess(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartDeploymentSpan(ctx, "stack-1", "do-1")
	EndDeploymentSpan(span, true, "")

	spans := exporter.GetSpans()
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "brokkr.error_detail" {
			t.Error("brokkr.error_detail should not be set on success")
		}
	}
}

func TestWorkOrderSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartWorkOrderSpan(ctx, "wo-1", "build")
	EndWorkOrderSpan(span, true, "build completed")

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "brokkr.agent.run_work_order" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "brokkr.agent.run_work_order")
	}
}

func TestWebhookDeliverySpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartWebhookDeliverySpan(ctx, "del-1", "stack.deployed")
	EndWebhookDeliverySpan(span, 200, true)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}

	attrs := spans[0].Attributes
	foundStatus := false
	for _, a := range attrs {
		if string(a.Key) == "brokkr.http.status_code" && a.Value.AsInt64() == 200 {
			foundStatus = true
		}
	}
	if !foundStatus {
		t.Error("missing brokkr.http.status_code attribute")
	}
}

func TestNestedSpans(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	ctx, httpSpan := StartHTTPSpan(ctx, "POST", "/api/v1/work-orders")
	_, woSpan := StartWorkOrderSpan(ctx, "wo-1", "build")
	woSpan.End()
	httpSpan.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}

	// Work order span ends first.
	childStub := spans[0]
	parentStub := spans[1]

	if childStub.Parent.TraceID() != parentStub.SpanContext.TraceID() {
		t.Error("child span should share trace ID with parent span")
	}
	if !childStub.Parent.SpanID().IsValid() {
		t.Error("child span should have a valid parent span ID")
	}
}
