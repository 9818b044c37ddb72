// Package allocator implements the lease table behind addrlease: it hands out
// IPv4 addresses in ascending order from a scan cursor, tracks each lease's
// expiry, and supports renew, release, and status lookups.
//
// Expired leases are reclaimed lazily. Allocate overwrites an expired entry it
// lands on, Status releases an expired entry it observes, and Sweep removes
// all of them at once. Release (and a reclaiming Status) resets the scan
// cursor to 0.0.0.0, so the next allocation restarts from the bottom of the
// address space. Sweep leaves the cursor alone.
//
// Every operation runs under one mutex guarding both the table and the
// cursor, so an Allocator may be shared between goroutines.
package allocator

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/pslog"

	"pkt.systems/addrlease/internal/address"
	"pkt.systems/addrlease/internal/clock"
	"pkt.systems/addrlease/internal/correlation"
	"pkt.systems/addrlease/internal/svcfields"
)

// DefaultLeaseDuration is applied when Options.LeaseDuration is not positive.
const DefaultLeaseDuration = 60 * time.Second

// fullCycle is the number of candidates in the IPv4 space.
const fullCycle = uint64(1) << 32

const (
	opAllocate = "allocate"
	opRenew    = "renew"
	opRelease  = "release"
	opStatus   = "status"
	opSweep    = "sweep"
)

// State is the per-address lease state reported by Status.
type State string

const (
	// StateAvailable means the address has no unexpired lease.
	StateAvailable State = "AVAILABLE"
	// StateAssigned means the address holds an unexpired lease.
	StateAssigned State = "ASSIGNED"
)

// Report is the result of Status.
type Report struct {
	Address address.Address
	State   State
	// Remaining is the time left on an assigned lease, floored to whole
	// seconds and never negative. Zero when available.
	Remaining time.Duration
	// ExpiresAt is the absolute expiry of an assigned lease.
	ExpiresAt time.Time
}

// RemainingSeconds returns Remaining in whole seconds.
func (r Report) RemainingSeconds() int64 {
	return int64(r.Remaining / time.Second)
}

// Options configures an Allocator.
type Options struct {
	// LeaseDuration is the fixed lifetime of every lease.
	LeaseDuration time.Duration
	// ScanLimit caps the candidates one Allocate call examines. Zero scans
	// the full address space once.
	ScanLimit uint64
	Clock     clock.Clock
	Logger    pslog.Logger
	// MeterProvider receives the allocator metrics. Nil uses the global
	// provider.
	MeterProvider metric.MeterProvider
}

// Allocator owns the lease table and scan cursor.
type Allocator struct {
	mu        sync.Mutex
	leases    map[address.Address]time.Time
	cursor    address.Address
	duration  time.Duration
	scanLimit uint64
	clock     clock.Clock
	logger    pslog.Logger
	metrics   *allocatorMetrics
	tracer    trace.Tracer
}

// New returns an empty allocator with its cursor at 0.0.0.0.
func New(opts Options) *Allocator {
	duration := opts.LeaseDuration
	if duration <= 0 {
		duration = DefaultLeaseDuration
	}
	limit := opts.ScanLimit
	if limit == 0 || limit > fullCycle {
		limit = fullCycle
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := svcfields.WithSubsystem(opts.Logger, "allocator")
	return &Allocator{
		leases:    make(map[address.Address]time.Time),
		cursor:    address.Min,
		duration:  duration,
		scanLimit: limit,
		clock:     clk,
		logger:    logger,
		metrics:   newAllocatorMetrics(opts.MeterProvider, logger),
		tracer:    otel.Tracer("pkt.systems/addrlease/allocator"),
	}
}

// Close unregisters the allocator's metric callbacks. The lease table stays
// usable; only the entries gauge stops reporting. Close is idempotent.
func (a *Allocator) Close() error {
	return a.metrics.close()
}

// LeaseDuration returns the fixed lease lifetime.
func (a *Allocator) LeaseDuration() time.Duration {
	return a.duration
}

// Len returns the number of lease table entries, counting expired entries
// that have not been reclaimed yet.
func (a *Allocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.leases)
}

// Cursor returns the address the next Allocate starts scanning from.
func (a *Allocator) Cursor() address.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cursor
}

// Allocate scans upward from the cursor, wrapping past 255.255.255.255, and
// leases the first address that is absent from the table or expired. The
// cursor is left on the returned address. If the scan examines every
// candidate it is allowed to without finding one, Allocate returns a Failure
// matching ErrExhausted and changes nothing.
func (a *Allocator) Allocate(ctx context.Context) (address.Address, error) {
	ctx, span, logger, finish := a.begin(ctx, opAllocate)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	candidate := a.cursor
	for scanned := uint64(1); scanned <= a.scanLimit; scanned++ {
		expiry, leased := a.leases[candidate]
		if leased && !expired(expiry, now) {
			candidate = candidate.Next()
			continue
		}
		if leased {
			a.metrics.recordReclaim(ctx, opAllocate, 1)
			logger.Debug("allocator.allocate.reclaimed", "address", candidate.String(), "expired_at", expiry)
		}
		expiresAt := now.Add(a.duration)
		a.leases[candidate] = expiresAt
		a.cursor = candidate
		a.metrics.setEntries(len(a.leases))
		a.metrics.recordScan(ctx, scanned)
		span.SetAttributes(
			attribute.String("addrlease.address", candidate.String()),
			attribute.Int64("addrlease.allocate.scanned", int64(scanned)),
		)
		logger.Info("allocator.allocate.success",
			"address", candidate.String(),
			"expires_at", expiresAt,
			"scanned", scanned,
		)
		finish(nil)
		return candidate, nil
	}

	err := exhausted(a.cursor, a.scanLimit)
	a.metrics.recordScan(ctx, a.scanLimit)
	logger.Warn("allocator.allocate.exhausted", "cursor", a.cursor.String(), "scanned", a.scanLimit, "entries", len(a.leases))
	finish(err)
	return 0, err
}

// Renew restarts the lease on addr for a full LeaseDuration. It only checks
// that addr has a table entry; an expired entry that has not been reclaimed
// is renewed like any other.
func (a *Allocator) Renew(ctx context.Context, addr address.Address) error {
	_, span, logger, finish := a.begin(ctx, opRenew)
	defer span.End()
	span.SetAttributes(attribute.String("addrlease.address", addr.String()))

	a.mu.Lock()
	defer a.mu.Unlock()

	previous, ok := a.leases[addr]
	if !ok {
		err := notLeased(addr)
		logger.Debug("allocator.renew.not_leased", "address", addr.String())
		finish(err)
		return err
	}
	now := a.clock.Now()
	expiresAt := now.Add(a.duration)
	a.leases[addr] = expiresAt
	logger.Info("allocator.renew.success",
		"address", addr.String(),
		"expires_at", expiresAt,
		"was_expired", expired(previous, now),
	)
	finish(nil)
	return nil
}

// Release deletes the lease on addr and resets the scan cursor to 0.0.0.0.
func (a *Allocator) Release(ctx context.Context, addr address.Address) error {
	_, span, logger, finish := a.begin(ctx, opRelease)
	defer span.End()
	span.SetAttributes(attribute.String("addrlease.address", addr.String()))

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.leases[addr]; !ok {
		err := notLeased(addr)
		logger.Debug("allocator.release.not_leased", "address", addr.String())
		finish(err)
		return err
	}
	a.releaseLocked(addr)
	logger.Info("allocator.release.success", "address", addr.String())
	finish(nil)
	return nil
}

// Status reports whether addr is assigned and, if so, how long its lease has
// left. An expired entry found here is released before reporting AVAILABLE,
// which resets the scan cursor exactly as Release does.
func (a *Allocator) Status(ctx context.Context, addr address.Address) Report {
	ctx, span, logger, finish := a.begin(ctx, opStatus)
	defer span.End()
	span.SetAttributes(attribute.String("addrlease.address", addr.String()))

	a.mu.Lock()
	defer a.mu.Unlock()

	report := Report{Address: addr, State: StateAvailable}
	expiry, ok := a.leases[addr]
	if ok {
		now := a.clock.Now()
		if expired(expiry, now) {
			a.releaseLocked(addr)
			a.metrics.recordReclaim(ctx, opStatus, 1)
			logger.Debug("allocator.status.reclaimed", "address", addr.String(), "expired_at", expiry)
		} else {
			report.State = StateAssigned
			report.ExpiresAt = expiry
			report.Remaining = expiry.Sub(now).Truncate(time.Second)
		}
	}
	span.SetAttributes(attribute.String("addrlease.state", string(report.State)))
	logger.Trace("allocator.status", "address", addr.String(), "state", string(report.State), "remaining", report.RemainingSeconds())
	finish(nil)
	return report
}

// Sweep removes every expired entry and returns how many were removed. The
// scan cursor is not touched.
func (a *Allocator) Sweep(ctx context.Context) int {
	ctx, span, logger, finish := a.begin(ctx, opSweep)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	removed := 0
	for addr, expiry := range a.leases {
		if expired(expiry, now) {
			delete(a.leases, addr)
			removed++
		}
	}
	a.metrics.setEntries(len(a.leases))
	a.metrics.recordReclaim(ctx, opSweep, removed)
	span.SetAttributes(attribute.Int("addrlease.sweep.removed", removed))
	if removed > 0 {
		logger.Debug("allocator.sweep.reclaimed", "removed", removed, "entries", len(a.leases))
	}
	finish(nil)
	return removed
}

func (a *Allocator) releaseLocked(addr address.Address) {
	delete(a.leases, addr)
	a.cursor = address.Min
	a.metrics.setEntries(len(a.leases))
}

// expired reports whether a lease expiring at expiry is over at now.
func expired(expiry, now time.Time) bool {
	return !now.Before(expiry)
}

func (a *Allocator) begin(ctx context.Context, op string) (context.Context, trace.Span, pslog.Logger, func(error)) {
	if ctx == nil {
		ctx = context.Background()
	}
	begin := time.Now()
	ctx, span := a.tracer.Start(ctx, "addrlease.allocator."+op, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("addrlease.operation", op))
	if cid := correlation.ID(ctx); cid != "" {
		span.SetAttributes(attribute.String("addrlease.correlation_id", cid))
	}
	logger := correlation.Logger(ctx, a.logger)
	return ctx, span, logger, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, resultLabel(err))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		a.metrics.recordOp(ctx, op, time.Since(begin), err)
	}
}
