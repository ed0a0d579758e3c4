package vl1

import (
	"fmt"
	"net/netip"

	"github.com/vl1proto/vl1-go/internal/buf"
	"github.com/vl1proto/vl1-go/vl1err"
)

// InetAddress is an IPv4 or IPv6 socket address (IP + UDP/TCP port).
//
// Its wire form always starts with a 1-byte address-family discriminator
// (4 for IPv4, 6 for IPv6) followed by the raw address and a 2-byte
// big-endian port: 7 bytes total for IPv4, 19 for IPv6. This family byte is
// what §4.2 calls a "naked" encoding: it has nothing to do with Endpoint's
// own (16+variant) type-byte scheme, and a leading 4 or 6 — both well below
// endpointWireBase — is exactly how a decoder tells "this is a bare
// InetAddress, not an Endpoint type byte" apart (§8 invariant 5).
type InetAddress struct {
	Addr netip.Addr
	Port uint16
}

const (
	familyV4 = 4
	familyV6 = 6
)

// NakedLen returns the total wire length including the family byte: 7 for
// IPv4, 19 for IPv6, 0 if invalid.
func (ia InetAddress) NakedLen() int {
	switch {
	case ia.Addr.Is4():
		return 7
	case ia.Addr.Is6():
		return 19
	default:
		return 0
	}
}

// MarshalNaked writes the family-byte-prefixed wire form to b.
func (ia InetAddress) MarshalNaked(b *buf.Buffer) error {
	if ia.Addr.Is4() {
		if err := b.AppendByte(familyV4); err != nil {
			return err
		}
		a4 := ia.Addr.As4()
		if err := b.AppendBytes(a4[:]); err != nil {
			return err
		}
		return b.AppendUint16(ia.Port)
	}
	if ia.Addr.Is6() {
		if err := b.AppendByte(familyV6); err != nil {
			return err
		}
		a16 := ia.Addr.As16()
		if err := b.AppendBytes(a16[:]); err != nil {
			return err
		}
		return b.AppendUint16(ia.Port)
	}
	return fmt.Errorf("vl1: inetaddress: invalid address family: %w", vl1err.InvalidData)
}

// UnmarshalNaked reads the family byte and dispatches to the matching
// fixed-length body. familyByte must already have been peeked/consumed by
// the caller (Endpoint's decoder needs to inspect it before deciding
// whether it is looking at a naked InetAddress at all) and is passed in
// explicitly rather than re-read.
func UnmarshalNaked(familyByte byte, b *buf.Buffer) (InetAddress, error) {
	switch familyByte {
	case familyV4:
		raw, err := b.ReadBytes(4)
		if err != nil {
			return InetAddress{}, err
		}
		var a4 [4]byte
		copy(a4[:], raw)
		port, err := b.ReadUint16()
		if err != nil {
			return InetAddress{}, err
		}
		return InetAddress{Addr: netip.AddrFrom4(a4), Port: port}, nil
	case familyV6:
		raw, err := b.ReadBytes(16)
		if err != nil {
			return InetAddress{}, err
		}
		var a16 [16]byte
		copy(a16[:], raw)
		port, err := b.ReadUint16()
		if err != nil {
			return InetAddress{}, err
		}
		return InetAddress{Addr: netip.AddrFrom16(a16), Port: port}, nil
	default:
		return InetAddress{}, fmt.Errorf("vl1: inetaddress: unknown family byte %d: %w", familyByte, vl1err.InvalidFormat)
	}
}

func (ia InetAddress) String() string {
	return fmt.Sprintf("%s:%d", ia.Addr.String(), ia.Port)
}

func (ia InetAddress) Equal(o InetAddress) bool {
	return ia.Addr == o.Addr && ia.Port == o.Port
}
