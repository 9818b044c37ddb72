package address_test

import (
	"errors"
	"net/netip"
	"testing"

	"pkt.systems/addrlease/internal/address"
)

func TestParseValid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want address.Address
		text string
	}{
		{"0.0.0.0", address.Min, "0.0.0.0"},
		{"255.255.255.255", address.Max, "255.255.255.255"},
		{"0.0.0.1", 1, "0.0.0.1"},
		{"0.0.1.0", 256, "0.0.1.0"},
		{"9.9.9.9", address.FromOctets(9, 9, 9, 9), "9.9.9.9"},
		{" 10.0.0.1 ", address.FromOctets(10, 0, 0, 1), "10.0.0.1"},
		{"010.000.000.001", address.FromOctets(10, 0, 0, 1), "10.0.0.1"},
	}
	for _, tc := range cases {
		got, err := address.Parse(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parse %q: expected %d, got %d", tc.in, tc.want, got)
		}
		if got.String() != tc.text {
			t.Fatalf("parse %q: expected text %q, got %q", tc.in, tc.text, got.String())
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"",
		"1.2.3",
		"1.2.3.4.5",
		"1.2.3.256",
		"256.0.0.0",
		"-1.0.0.0",
		"+1.0.0.0",
		"a.b.c.d",
		"1..3.4",
		"1.2.3.4.",
		"1.2.3.99999999999999999999",
		"1. 2.3.4",
	} {
		if _, err := address.Parse(in); !errors.Is(err, address.ErrInvalidFormat) {
			t.Fatalf("parse %q: expected ErrInvalidFormat, got %v", in, err)
		}
	}
}

func TestNextWrapsAtMax(t *testing.T) {
	t.Parallel()

	if got := address.MustParse("0.0.0.255").Next(); got.String() != "0.0.1.0" {
		t.Fatalf("expected carry into third octet, got %s", got)
	}
	if got := address.Max.Next(); got != address.Min {
		t.Fatalf("expected wrap to 0.0.0.0, got %s", got)
	}
}

func TestOrderIsNumeric(t *testing.T) {
	t.Parallel()

	lo := address.MustParse("0.0.0.255")
	hi := address.MustParse("0.0.1.0")
	if !(lo < hi) {
		t.Fatalf("expected %s < %s", lo, hi)
	}
	if !(address.MustParse("1.0.0.0") > address.MustParse("0.255.255.255")) {
		t.Fatal("expected first octet to dominate ordering")
	}
}

func TestNetipRoundTrip(t *testing.T) {
	t.Parallel()

	ip := netip.MustParseAddr("192.168.2.10")
	a, ok := address.FromAddr(ip)
	if !ok {
		t.Fatal("expected IPv4 conversion")
	}
	if a.Addr() != ip {
		t.Fatalf("expected %s, got %s", ip, a.Addr())
	}
	mapped := netip.MustParseAddr("::ffff:192.168.2.10")
	if b, ok := address.FromAddr(mapped); !ok || b != a {
		t.Fatalf("expected mapped address to convert to %s, got %s (ok=%v)", a, b, ok)
	}
	if _, ok := address.FromAddr(netip.MustParseAddr("2001:db8::1")); ok {
		t.Fatal("expected IPv6 address to be rejected")
	}
}

func TestUnmarshalText(t *testing.T) {
	t.Parallel()

	var a address.Address
	if err := a.UnmarshalText([]byte("1.2.3.4")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if a != address.FromOctets(1, 2, 3, 4) {
		t.Fatalf("unexpected address %s", a)
	}
	if err := a.UnmarshalText([]byte("1.2.3.256")); !errors.Is(err, address.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}
