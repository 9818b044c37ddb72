package allocator_test

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"pkt.systems/addrlease/internal/allocator"
	"pkt.systems/addrlease/internal/clock"
)

func collectEntries(t *testing.T, reader *sdkmetric.ManualReader) (int64, bool) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "addrlease.lease.entries" {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			if !ok {
				t.Fatalf("unexpected entries data type %T", m.Data)
			}
			if len(gauge.DataPoints) == 0 {
				return 0, false
			}
			return gauge.DataPoints[0].Value, true
		}
	}
	return 0, false
}

func TestEntriesGaugeTracksTableUntilClose(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	a := allocator.New(allocator.Options{
		Clock:         clock.NewManual(time.Unix(0, 0)),
		MeterProvider: provider,
	})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := a.Allocate(ctx); err != nil {
			t.Fatalf("allocate: %v", err)
		}
	}
	if got, ok := collectEntries(t, reader); !ok || got != 2 {
		t.Fatalf("expected entries gauge 2, got %d (reported=%v)", got, ok)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if got, ok := collectEntries(t, reader); ok {
		t.Fatalf("expected no entries observation after close, got %d", got)
	}

	if _, err := a.Allocate(ctx); err != nil {
		t.Fatalf("allocate after close: %v", err)
	}
	if a.Len() != 3 {
		t.Fatalf("expected 3 entries after close, got %d", a.Len())
	}
}
