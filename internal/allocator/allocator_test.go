package allocator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pkt.systems/addrlease/internal/address"
	"pkt.systems/addrlease/internal/allocator"
	"pkt.systems/addrlease/internal/clock"
)

var epoch = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestAllocator(t *testing.T, opts allocator.Options) (*allocator.Allocator, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(epoch)
	opts.Clock = clk
	a := allocator.New(opts)
	t.Cleanup(func() { _ = a.Close() })
	return a, clk
}

func mustAllocate(t *testing.T, a *allocator.Allocator) address.Address {
	t.Helper()
	addr, err := a.Allocate(context.Background())
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	return addr
}

func TestStatusNeverAllocatedIsAvailable(t *testing.T) {
	a, _ := newTestAllocator(t, allocator.Options{})
	ctx := context.Background()
	for _, s := range []string{"0.0.0.0", "9.9.9.9", "255.255.255.255"} {
		report := a.Status(ctx, address.MustParse(s))
		if report.State != allocator.StateAvailable {
			t.Fatalf("%s: expected AVAILABLE, got %s", s, report.State)
		}
		if report.Remaining != 0 || !report.ExpiresAt.IsZero() {
			t.Fatalf("%s: expected empty timing, got %+v", s, report)
		}
	}
	if a.Len() != 0 {
		t.Fatalf("expected empty table, got %d entries", a.Len())
	}
}

func TestScenarioAskStatusReleaseRenew(t *testing.T) {
	a, clk := newTestAllocator(t, allocator.Options{})
	ctx := context.Background()

	if got := mustAllocate(t, a); got.String() != "0.0.0.0" {
		t.Fatalf("expected first offer 0.0.0.0, got %s", got)
	}
	second := mustAllocate(t, a)
	if second.String() != "0.0.0.1" {
		t.Fatalf("expected second offer 0.0.0.1, got %s", second)
	}

	clk.Advance(250 * time.Millisecond)
	report := a.Status(ctx, second)
	if report.State != allocator.StateAssigned {
		t.Fatalf("expected ASSIGNED, got %s", report.State)
	}
	if got := report.RemainingSeconds(); got != 59 {
		t.Fatalf("expected remaining floored to 59, got %d", got)
	}
	if !report.ExpiresAt.Equal(epoch.Add(allocator.DefaultLeaseDuration)) {
		t.Fatalf("unexpected expiry %v", report.ExpiresAt)
	}

	if err := a.Release(ctx, second); err != nil {
		t.Fatalf("release: %v", err)
	}
	if report := a.Status(ctx, second); report.State != allocator.StateAvailable {
		t.Fatalf("expected AVAILABLE after release, got %s", report.State)
	}

	err := a.Renew(ctx, address.MustParse("9.9.9.9"))
	if !errors.Is(err, allocator.ErrNotLeased) {
		t.Fatalf("expected ErrNotLeased, got %v", err)
	}
	var failure allocator.Failure
	if !errors.As(err, &failure) || failure.Code != allocator.CodeNotLeased || failure.Address.String() != "9.9.9.9" {
		t.Fatalf("unexpected failure %#v", err)
	}
}

func TestAllocateAfterStatusRemainingWithinDuration(t *testing.T) {
	a, _ := newTestAllocator(t, allocator.Options{LeaseDuration: 30 * time.Second})
	addr := mustAllocate(t, a)
	report := a.Status(context.Background(), addr)
	if report.State != allocator.StateAssigned {
		t.Fatalf("expected ASSIGNED, got %s", report.State)
	}
	if report.Remaining <= 0 || report.Remaining > 30*time.Second {
		t.Fatalf("remaining %v outside (0, 30s]", report.Remaining)
	}
	if a.LeaseDuration() != 30*time.Second {
		t.Fatalf("unexpected lease duration %v", a.LeaseDuration())
	}
}

func TestAllocateAscendingAndDistinct(t *testing.T) {
	a, _ := newTestAllocator(t, allocator.Options{})
	prev := mustAllocate(t, a)
	for i := 0; i < 300; i++ {
		next := mustAllocate(t, a)
		if next != prev+1 {
			t.Fatalf("expected %s after %s, got %s", prev+1, prev, next)
		}
		prev = next
	}
	if prev.String() != "0.0.1.44" {
		t.Fatalf("expected carry into third octet, got %s", prev)
	}
	if a.Cursor() != prev {
		t.Fatalf("expected cursor on last offer %s, got %s", prev, a.Cursor())
	}
}

func TestAllocateNeverReturnsAssignedAddress(t *testing.T) {
	a, clk := newTestAllocator(t, allocator.Options{})
	ctx := context.Background()
	first := mustAllocate(t, a)
	second := mustAllocate(t, a)
	third := mustAllocate(t, a)

	// Releasing the middle address sends the cursor back to 0.0.0.0; the
	// next scan must skip the still-assigned first address.
	if err := a.Release(ctx, second); err != nil {
		t.Fatalf("release: %v", err)
	}
	if a.Cursor() != address.Min {
		t.Fatalf("expected cursor reset, got %s", a.Cursor())
	}
	if got := mustAllocate(t, a); got != second {
		t.Fatalf("expected %s to be reused, got %s", second, got)
	}
	if got := mustAllocate(t, a); got == first || got == third || got == second {
		t.Fatalf("allocate returned an assigned address %s", got)
	}
	clk.Advance(time.Second)
	for _, addr := range []address.Address{first, second, third} {
		if report := a.Status(ctx, addr); report.State != allocator.StateAssigned {
			t.Fatalf("%s: expected ASSIGNED, got %s", addr, report.State)
		}
	}
}

func TestAllocateReclaimsExpiredAtExactExpiry(t *testing.T) {
	a, clk := newTestAllocator(t, allocator.Options{})
	ctx := context.Background()
	first := mustAllocate(t, a)
	if err := a.Release(ctx, mustAllocate(t, a)); err != nil {
		t.Fatalf("release: %v", err)
	}

	clk.Advance(allocator.DefaultLeaseDuration - time.Nanosecond)
	if got := mustAllocate(t, a); got == first {
		t.Fatalf("allocate reused %s before expiry", first)
	}

	if err := a.Release(ctx, first+1); err != nil {
		t.Fatalf("release: %v", err)
	}
	clk.Advance(time.Nanosecond)
	got := mustAllocate(t, a)
	if got != first {
		t.Fatalf("expected expired %s to be overwritten, got %s", first, got)
	}
	report := a.Status(ctx, got)
	if report.State != allocator.StateAssigned || report.Remaining != allocator.DefaultLeaseDuration {
		t.Fatalf("expected a fresh lease, got %+v", report)
	}
	if a.Len() != 1 {
		t.Fatalf("expected a single entry, got %d", a.Len())
	}
}

func TestRenewRestoresFullDuration(t *testing.T) {
	a, clk := newTestAllocator(t, allocator.Options{})
	ctx := context.Background()
	addr := mustAllocate(t, a)

	clk.Advance(45 * time.Second)
	if got := a.Status(ctx, addr).RemainingSeconds(); got != 15 {
		t.Fatalf("expected 15s left, got %d", got)
	}
	if err := a.Renew(ctx, addr); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if got := a.Status(ctx, addr).Remaining; got != allocator.DefaultLeaseDuration {
		t.Fatalf("expected full duration after renew, got %v", got)
	}
}

func TestRenewIgnoresExpiryWhenEntryPresent(t *testing.T) {
	a, clk := newTestAllocator(t, allocator.Options{})
	ctx := context.Background()
	addr := mustAllocate(t, a)

	clk.Advance(2 * allocator.DefaultLeaseDuration)
	if err := a.Renew(ctx, addr); err != nil {
		t.Fatalf("renew of expired but unreclaimed lease: %v", err)
	}
	report := a.Status(ctx, addr)
	if report.State != allocator.StateAssigned || report.Remaining != allocator.DefaultLeaseDuration {
		t.Fatalf("expected renewed lease, got %+v", report)
	}
}

func TestReleaseNotLeasedLeavesStateUnchanged(t *testing.T) {
	a, _ := newTestAllocator(t, allocator.Options{})
	ctx := context.Background()
	mustAllocate(t, a)
	mustAllocate(t, a)
	cursor := a.Cursor()

	err := a.Release(ctx, address.MustParse("10.0.0.1"))
	if !errors.Is(err, allocator.ErrNotLeased) {
		t.Fatalf("expected ErrNotLeased, got %v", err)
	}
	if errors.Is(err, allocator.ErrExhausted) {
		t.Fatal("not-leased failure must not match ErrExhausted")
	}
	if a.Cursor() != cursor || a.Len() != 2 {
		t.Fatalf("failed release mutated state: cursor=%s len=%d", a.Cursor(), a.Len())
	}
}

func TestReleaseResetsScanToBottom(t *testing.T) {
	a, _ := newTestAllocator(t, allocator.Options{})
	ctx := context.Background()
	var addrs []address.Address
	for i := 0; i < 5; i++ {
		addrs = append(addrs, mustAllocate(t, a))
	}
	if err := a.Release(ctx, addrs[0]); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := mustAllocate(t, a); got != addrs[0] {
		t.Fatalf("expected scan to restart at %s, got %s", addrs[0], got)
	}
	if err := a.Release(ctx, addrs[3]); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := mustAllocate(t, a); got != addrs[3] {
		t.Fatalf("expected lowest free address %s, got %s", addrs[3], got)
	}
	if got := mustAllocate(t, a); got != addrs[4]+1 {
		t.Fatalf("expected %s, got %s", addrs[4]+1, got)
	}
}

func TestStatusReclaimsExpiredLease(t *testing.T) {
	a, clk := newTestAllocator(t, allocator.Options{})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		mustAllocate(t, a)
	}
	last := a.Cursor()

	clk.Advance(allocator.DefaultLeaseDuration)
	report := a.Status(ctx, last)
	if report.State != allocator.StateAvailable {
		t.Fatalf("expected AVAILABLE once expired, got %s", report.State)
	}
	if a.Len() != 3 {
		t.Fatalf("expected expired entry removed, got %d entries", a.Len())
	}
	if a.Cursor() != address.Min {
		t.Fatalf("expected reclaiming status to reset cursor, got %s", a.Cursor())
	}
	if err := a.Renew(ctx, last); !errors.Is(err, allocator.ErrNotLeased) {
		t.Fatalf("expected reclaimed address to be unleased, got %v", err)
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	a, clk := newTestAllocator(t, allocator.Options{})
	ctx := context.Background()
	first := mustAllocate(t, a)
	second := mustAllocate(t, a)
	clk.Advance(30 * time.Second)
	third := mustAllocate(t, a)
	clk.Advance(30 * time.Second)

	if removed := a.Sweep(ctx); removed != 2 {
		t.Fatalf("expected 2 expired entries removed, got %d", removed)
	}
	if a.Cursor() != third {
		t.Fatalf("sweep moved cursor to %s", a.Cursor())
	}
	for _, addr := range []address.Address{first, second} {
		if err := a.Renew(ctx, addr); !errors.Is(err, allocator.ErrNotLeased) {
			t.Fatalf("%s: expected swept entry to be gone, got %v", addr, err)
		}
	}
	if report := a.Status(ctx, third); report.State != allocator.StateAssigned || report.RemainingSeconds() != 30 {
		t.Fatalf("unexpected report for live lease %+v", report)
	}
	if removed := a.Sweep(ctx); removed != 0 {
		t.Fatalf("expected nothing left to sweep, got %d", removed)
	}
}

func TestAllocateExhaustedWithinScanLimit(t *testing.T) {
	a, _ := newTestAllocator(t, allocator.Options{ScanLimit: 1})
	first := mustAllocate(t, a)

	_, err := a.Allocate(context.Background())
	if !errors.Is(err, allocator.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	var failure allocator.Failure
	if !errors.As(err, &failure) || failure.Code != allocator.CodeExhausted {
		t.Fatalf("unexpected failure %#v", err)
	}
	if a.Len() != 1 || a.Cursor() != first {
		t.Fatalf("exhaustion mutated state: len=%d cursor=%s", a.Len(), a.Cursor())
	}
}

func TestAllocateConcurrentCallersGetDistinctAddresses(t *testing.T) {
	a, _ := newTestAllocator(t, allocator.Options{})
	const workers, perWorker = 8, 64

	var (
		mu   sync.Mutex
		seen = make(map[address.Address]struct{})
		wg   sync.WaitGroup
	)
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				addr, err := a.Allocate(context.Background())
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				if _, dup := seen[addr]; dup {
					mu.Unlock()
					errs <- errors.New("duplicate address " + addr.String())
					return
				}
				seen[addr] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if len(seen) != workers*perWorker || a.Len() != workers*perWorker {
		t.Fatalf("expected %d leases, got seen=%d len=%d", workers*perWorker, len(seen), a.Len())
	}
}
