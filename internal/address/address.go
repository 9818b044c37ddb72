// Package address models IPv4 addresses as 32-bit big-endian values so the
// allocator can scan them in numeric order.
package address

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"strconv"
	"strings"
)

// ErrInvalidFormat reports text that is not four dotted decimal octets in
// [0,255].
var ErrInvalidFormat = errors.New("invalid IP address format")

// Address is an IPv4 address. The zero value is 0.0.0.0.
type Address uint32

const (
	// Min is the lowest address and the scan cursor reset target.
	Min Address = 0
	// Max is the highest address.
	Max Address = 0xFFFFFFFF
)

// FromOctets builds an address from its four octets, most significant first.
func FromOctets(a, b, c, d byte) Address {
	return Address(binary.BigEndian.Uint32([]byte{a, b, c, d}))
}

// FromAddr converts an IPv4 (or IPv4-mapped IPv6) netip.Addr.
func FromAddr(ip netip.Addr) (Address, bool) {
	ip = ip.Unmap()
	if !ip.Is4() {
		return 0, false
	}
	raw := ip.As4()
	return Address(binary.BigEndian.Uint32(raw[:])), true
}

// Parse accepts exactly four decimal octets separated by '.'. Surrounding
// whitespace is ignored.
func Parse(s string) (Address, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 4 {
		return 0, ErrInvalidFormat
	}
	var octets [4]byte
	for i, part := range parts {
		if part == "" {
			return 0, ErrInvalidFormat
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return 0, ErrInvalidFormat
			}
		}
		n, err := strconv.Atoi(part)
		if err != nil || n > 255 {
			return 0, ErrInvalidFormat
		}
		octets[i] = byte(n)
	}
	return FromOctets(octets[0], octets[1], octets[2], octets[3]), nil
}

// MustParse is Parse for constants and tests; it panics on malformed input.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic("address: " + err.Error() + ": " + strconv.Quote(s))
	}
	return a
}

// Octets returns the four octets, most significant first.
func (a Address) Octets() [4]byte {
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], uint32(a))
	return out
}

// Addr returns the address as a netip.Addr.
func (a Address) Addr() netip.Addr {
	return netip.AddrFrom4(a.Octets())
}

// Next returns the following address, wrapping Max to Min.
func (a Address) Next() Address {
	return a + 1
}

func (a Address) String() string {
	o := a.Octets()
	buf := make([]byte, 0, 15)
	for i, b := range o {
		if i > 0 {
			buf = append(buf, '.')
		}
		buf = strconv.AppendUint(buf, uint64(b), 10)
	}
	return string(buf)
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
