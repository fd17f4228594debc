package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Options{Service: "docpipe"})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
}

func TestNewProviderCarriesServiceResource(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := NewProvider(Options{Service: "docpipe", Version: "test"}, sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	_, span := provider.Tracer("test").Start(context.Background(), "pipeline.run")
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Name() != "pipeline.run" {
		t.Fatalf("expected one recorded span, got %d", len(spans))
	}
	var service string
	for _, kv := range spans[0].Resource().Attributes() {
		if kv.Key == attribute.Key("service.name") {
			service = kv.Value.AsString()
		}
	}
	if service != "docpipe" {
		t.Fatalf("expected service.name docpipe, got %q", service)
	}
}
