package addrlease

import (
	"context"
	"testing"
)

func TestResolveOTLPTarget(t *testing.T) {
	cases := []struct {
		raw  string
		want otlpTarget
	}{
		{"collector", otlpTarget{protocol: "grpc", endpoint: "collector:4317", insecure: true}},
		{"collector:5000", otlpTarget{protocol: "grpc", endpoint: "collector:5000", insecure: true}},
		{"grpc://collector", otlpTarget{protocol: "grpc", endpoint: "collector:4317", insecure: true}},
		{"grpcs://collector:443", otlpTarget{protocol: "grpc", endpoint: "collector:443"}},
		{"http://collector/v1/traces/", otlpTarget{protocol: "http", endpoint: "collector:4318", path: "/v1/traces", insecure: true}},
		{"https://collector", otlpTarget{protocol: "http", endpoint: "collector:4318"}},
	}
	for _, tc := range cases {
		got, err := resolveOTLPTarget(tc.raw)
		if err != nil {
			t.Fatalf("%s: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %+v, got %+v", tc.raw, tc.want, got)
		}
	}
}

func TestResolveOTLPTargetErrors(t *testing.T) {
	for _, raw := range []string{"", "   ", "udp://collector", "grpc://"} {
		if _, err := resolveOTLPTarget(raw); err == nil {
			t.Fatalf("%q: expected error", raw)
		}
	}
}

func TestSetupTelemetryDisabled(t *testing.T) {
	bundle, err := setupTelemetry(context.Background(), telemetryOptions{}, nil)
	if err != nil || bundle != nil {
		t.Fatalf("expected nil bundle, got %v, %v", bundle, err)
	}
	if err := bundle.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil bundle shutdown: %v", err)
	}
	if _, err := setupTelemetry(context.Background(), telemetryOptions{EnableProfilingMetrics: true}, nil); err == nil {
		t.Fatal("expected profiling without metrics listener to fail")
	}
}

func TestSetupTelemetryPprofListener(t *testing.T) {
	bundle, err := setupTelemetry(context.Background(), telemetryOptions{PprofListen: "127.0.0.1:0"}, nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if bundle.pprof.addr() == nil {
		t.Fatal("expected pprof listener address")
	}
	if err := bundle.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
