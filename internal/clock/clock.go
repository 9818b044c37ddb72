// Package clock lets the allocator and sweeper read time through an interface
// so lease expiry can be driven deterministically in tests.
package clock

import "time"

// Clock is the time source for lease expiry and the background sweeper.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real reads the system clock.
type Real struct{}

// Now returns the current time with its monotonic reading intact, so lease
// arithmetic is unaffected by wall-clock steps. Calling UTC on the result
// would drop that reading.
func (Real) Now() time.Time {
	return time.Now()
}

// After mirrors time.After.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
