package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitUsesConfiguredEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")

	var seen string
	restore := setExporterFactoryForTest(func(_ context.Context, endpoint string) (sdktrace.SpanExporter, error) {
		seen = endpoint
		return &stderrSpanExporter{out: &bytes.Buffer{}}, nil
	})
	defer restore()

	shutdown, err := Init(context.Background())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer shutdown()

	if seen != "http://collector:4318" {
		t.Fatalf("endpoint = %q, want http://collector:4318", seen)
	}
}

func TestInitFallsBackToConsoleExporter(t *testing.T) {
	restore := setExporterFactoryForTest(func(context.Context, string) (sdktrace.SpanExporter, error) {
		return nil, errors.New("collector unreachable")
	})
	defer restore()

	shutdown, err := Init(context.Background())
	if err != nil {
		t.Fatalf("init should fall back, got error: %v", err)
	}
	shutdown()
	shutdown()
}

func TestTracerIsNeverNil(t *testing.T) {
	if Tracer() == nil {
		t.Fatal("tracer must not be nil")
	}
}

func setExporterFactoryForTest(factory func(context.Context, string) (sdktrace.SpanExporter, error)) func() {
	previous := exporterFactory
	exporterFactory = factory
	return func() {
		exporterFactory = previous
	}
}
