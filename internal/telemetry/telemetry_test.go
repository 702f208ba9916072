package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"sheratan/internal/api"
	"sheratan/internal/config"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.Telemetry{}, "dev")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupRequiresServiceName(t *testing.T) {
	if _, err := Setup(context.Background(), config.Telemetry{Enabled: true}, "dev"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEndpoint(t *testing.T) {
	cases := []struct {
		raw      string
		insecure bool
		host     string
		plain    bool
	}{
		{"", false, "127.0.0.1:4318", true},
		{"https://otel.example.com:4318", false, "otel.example.com:4318", false},
		{"collector:4318", true, "collector:4318", true},
	}
	for _, tc := range cases {
		host, plain, err := endpoint(tc.raw, tc.insecure)
		if err != nil {
			t.Fatalf("endpoint(%q): %v", tc.raw, err)
		}
		if host != tc.host || plain != tc.plain {
			t.Fatalf("endpoint(%q) = %s,%v want %s,%v", tc.raw, host, plain, tc.host, tc.plain)
		}
	}
}

func TestProviderRecordsBackendCalls(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp, err := NewProvider(exp, "sheratan-dash", "v0")
	if err != nil {
		t.Fatalf("provider: %v", err)
	}

	c := api.NewWithBase("http://127.0.0.1:1/api")
	c.Tracer = tp.Tracer(InstrumentationName)
	if _, err := c.GetMission(context.Background(), "m1"); err == nil {
		t.Fatalf("expected unreachable backend")
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "sheratan.api."+api.OpGetMission {
		t.Fatalf("unexpected spans %+v", spans)
	}
	found := false
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == attribute.Key("service.name") && kv.Value.AsString() == "sheratan-dash" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected service.name resource attribute")
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
