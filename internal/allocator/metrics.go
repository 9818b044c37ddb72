package allocator

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

const meterName = "pkt.systems/addrlease/allocator"

type opMetrics struct {
	count    metric.Int64Counter
	duration metric.Int64Histogram
}

type allocatorMetrics struct {
	ops          map[string]opMetrics
	reclaimed    metric.Int64Counter
	scanned      metric.Int64Histogram
	active       metric.Int64ObservableGauge
	entries      atomic.Int64
	registration metric.Registration
}

func newAllocatorMetrics(provider metric.MeterProvider, logger pslog.Logger) *allocatorMetrics {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)
	m := &allocatorMetrics{ops: make(map[string]opMetrics)}
	var err error

	for _, op := range []string{opAllocate, opRenew, opRelease, opStatus, opSweep} {
		var om opMetrics
		name := "addrlease.lease." + op
		om.count, err = meter.Int64Counter(name,
			metric.WithDescription("Lease "+op+" operations"),
		)
		logMetricInitError(logger, name, err)
		om.duration, err = meter.Int64Histogram(name+".duration_us",
			metric.WithDescription("Lease "+op+" duration"),
			metric.WithUnit("us"),
		)
		logMetricInitError(logger, name+".duration_us", err)
		m.ops[op] = om
	}

	m.reclaimed, err = meter.Int64Counter("addrlease.lease.reclaimed",
		metric.WithDescription("Expired leases removed from the lease table"),
	)
	logMetricInitError(logger, "addrlease.lease.reclaimed", err)

	m.scanned, err = meter.Int64Histogram("addrlease.allocate.scanned",
		metric.WithDescription("Candidate addresses examined per allocation"),
	)
	logMetricInitError(logger, "addrlease.allocate.scanned", err)

	m.active, err = meter.Int64ObservableGauge("addrlease.lease.entries",
		metric.WithDescription("Entries in the lease table, including expired ones not yet reclaimed"),
	)
	logMetricInitError(logger, "addrlease.lease.entries", err)

	if m.active != nil {
		m.registration, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(m.active, m.entries.Load())
			return nil
		}, m.active)
		if err != nil && logger != nil {
			logger.Warn("telemetry.metric.callback_failed", "name", "addrlease.lease.entries", "error", err)
		}
	}
	return m
}

// close detaches the entries gauge callback from the meter.
func (m *allocatorMetrics) close() error {
	if m == nil || m.registration == nil {
		return nil
	}
	return m.registration.Unregister()
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	var f Failure
	if errors.As(err, &f) {
		return f.Code
	}
	return "error"
}

func (m *allocatorMetrics) recordOp(ctx context.Context, op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	om, ok := m.ops[op]
	if !ok {
		return
	}
	attrs := metric.WithAttributes(attribute.String("addrlease.result", resultLabel(err)))
	if om.count != nil {
		om.count.Add(ctx, 1, attrs)
	}
	if om.duration != nil {
		om.duration.Record(ctx, duration.Microseconds(), attrs)
	}
}

func (m *allocatorMetrics) recordReclaim(ctx context.Context, path string, n int) {
	if m == nil || m.reclaimed == nil || n <= 0 {
		return
	}
	m.reclaimed.Add(ctx, int64(n), metric.WithAttributes(attribute.String("addrlease.reclaim.path", path)))
}

func (m *allocatorMetrics) recordScan(ctx context.Context, scanned uint64) {
	if m == nil || m.scanned == nil {
		return
	}
	m.scanned.Record(ctx, int64(scanned))
}

func (m *allocatorMetrics) setEntries(n int) {
	if m == nil {
		return
	}
	m.entries.Store(int64(n))
}
