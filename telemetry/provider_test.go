package telemetry_test

import (
	"context"
	"testing"

	"github.com/c360studio/seminvoke/config"
	"github.com/c360studio/seminvoke/telemetry"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	tp, shutdown, err := telemetry.Setup(context.Background(), config.TelemetryConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp == nil {
		t.Fatal("expected a tracer provider")
	}
	if _, ok := tp.(*sdktrace.TracerProvider); ok {
		t.Error("expected the global no-op provider, got an SDK provider")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TelemetryConfig
	}{
		// Non-routable addresses so no actual export happens.
		{name: "url", cfg: config.TelemetryConfig{OTLPEndpoint: "http://192.0.2.1:4318", ServiceName: "test-service"}},
		{name: "host port", cfg: config.TelemetryConfig{OTLPEndpoint: "192.0.2.1:4318", Insecure: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp, shutdown, err := telemetry.Setup(context.Background(), tt.cfg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, ok := tp.(*sdktrace.TracerProvider); !ok {
				t.Errorf("expected SDK tracer provider, got %T", tp)
			}
			// Shutdown should flush cleanly even though the endpoint is unreachable.
			if err := shutdown(context.Background()); err != nil {
				t.Fatalf("shutdown error: %v", err)
			}
		})
	}
}

func TestSetup_NoopShutdownIgnoresCancelledContext(t *testing.T) {
	_, shutdown, err := telemetry.Setup(context.Background(), config.TelemetryConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown should not error: %v", err)
	}
}
