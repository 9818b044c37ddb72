package shell

import (
	"errors"
	"strconv"
	"strings"

	"pkt.systems/addrlease/internal/address"
	"pkt.systems/addrlease/internal/allocator"
)

// Kind names a shell request.
type Kind string

const (
	KindAsk     Kind = "ASK"
	KindRenew   Kind = "RENEW"
	KindRelease Kind = "RELEASE"
	KindStatus  Kind = "STATUS"
	KindHelp    Kind = "HELP"
	KindQuit    Kind = "QUIT"
)

// ErrUnknownCommand reports a line that names no request.
var ErrUnknownCommand = errors.New("invalid command")

// Request is one parsed command line. Address is only meaningful for
// RENEW, RELEASE and STATUS.
type Request struct {
	Kind    Kind
	Address address.Address
}

// Parse reads one command line. Commands are case-insensitive. RENEW,
// RELEASE and STATUS take exactly one dotted-quad argument, validated here so
// malformed addresses never reach the allocator; such lines return the
// request kind together with address.ErrInvalidFormat.
func Parse(line string) (Request, error) {
	fields := strings.Fields(strings.ToUpper(line))
	if len(fields) == 0 {
		return Request{}, ErrUnknownCommand
	}
	kind := Kind(fields[0])
	switch kind {
	case KindAsk, KindHelp:
		if len(fields) != 1 {
			return Request{}, ErrUnknownCommand
		}
		return Request{Kind: kind}, nil
	case KindQuit, "EXIT":
		if len(fields) != 1 {
			return Request{}, ErrUnknownCommand
		}
		return Request{Kind: KindQuit}, nil
	case KindRenew, KindRelease, KindStatus:
		if len(fields) != 2 {
			return Request{}, ErrUnknownCommand
		}
		addr, err := address.Parse(fields[1])
		if err != nil {
			return Request{Kind: kind}, err
		}
		return Request{Kind: kind, Address: addr}, nil
	}
	return Request{}, ErrUnknownCommand
}

// Response is the structured outcome of one request.
type Response struct {
	Request Request
	// Offered is the address handed out by ASK.
	Offered address.Address
	// Report is filled by STATUS.
	Report allocator.Report
	Err    error
}

// String renders the response as the single line the shell prints.
func (r Response) String() string {
	if r.Err != nil {
		switch {
		case errors.Is(r.Err, ErrUnknownCommand):
			return "Invalid command. Please try again."
		case errors.Is(r.Err, address.ErrInvalidFormat):
			return "Error: Invalid IP address format"
		case errors.Is(r.Err, allocator.ErrNotLeased):
			return "Error: " + r.Request.Address.String() + " is not currently in use"
		case errors.Is(r.Err, allocator.ErrExhausted):
			return "Error: " + allocator.ErrExhausted.Error()
		}
		return "Error: " + r.Err.Error()
	}
	switch r.Request.Kind {
	case KindAsk:
		return "Offer " + r.Offered.String()
	case KindRenew:
		return "RENEWED for " + r.Request.Address.String()
	case KindRelease:
		return "RELEASED for " + r.Request.Address.String()
	case KindStatus:
		if r.Report.State == allocator.StateAssigned {
			return r.Report.Address.String() + " ASSIGNED - Time Left: " + strconv.FormatInt(r.Report.RemainingSeconds(), 10) + " seconds"
		}
		return r.Report.Address.String() + " AVAILABLE"
	case KindHelp:
		return helpText
	}
	return ""
}
