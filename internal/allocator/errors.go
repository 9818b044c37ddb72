package allocator

import (
	"errors"
	"fmt"

	"pkt.systems/addrlease/internal/address"
)

var (
	// ErrNotLeased reports a renew or release of an address with no entry in
	// the lease table.
	ErrNotLeased = errors.New("address is not currently in use")
	// ErrExhausted reports that an allocation scan found no free address.
	ErrExhausted = errors.New("address space exhausted")
)

const (
	// CodeNotLeased is the Failure code matching ErrNotLeased.
	CodeNotLeased = "not_leased"
	// CodeExhausted is the Failure code matching ErrExhausted.
	CodeExhausted = "exhausted"
)

// Failure carries transport-neutral error details that front-ends map to
// their own rendering. It matches the package sentinels through errors.Is.
type Failure struct {
	Code    string
	Detail  string
	Address address.Address
}

func (f Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s: %s", f.Code, f.Detail)
	}
	return f.Code
}

// Is reports whether target is the sentinel for f.Code.
func (f Failure) Is(target error) bool {
	switch f.Code {
	case CodeNotLeased:
		return target == ErrNotLeased
	case CodeExhausted:
		return target == ErrExhausted
	}
	return false
}

func notLeased(addr address.Address) Failure {
	return Failure{
		Code:    CodeNotLeased,
		Detail:  addr.String() + " is not currently in use",
		Address: addr,
	}
}

func exhausted(cursor address.Address, scanned uint64) Failure {
	return Failure{
		Code:    CodeExhausted,
		Detail:  fmt.Sprintf("no free address after scanning %d candidates from %s", scanned, cursor),
		Address: cursor,
	}
}
