// Package vl1 implements the addressing primitives of the VL1 transport
// layer: 40-bit node Address, Ethernet MAC, InetAddress, and the Endpoint
// tagged union used to locate a peer across transports.
package vl1

import (
	"encoding/hex"
	"fmt"

	"github.com/vl1proto/vl1-go/vl1err"
)

// AddressSize is the length in bytes of a VL1 node address (40 bits).
const AddressSize = 5

// Address is a 40-bit identifier derived from an Identity's public keys.
type Address [AddressSize]byte

// IsNil reports whether this is the all-zero reserved address.
func (a Address) IsNil() bool {
	return a == Address{}
}

// String renders the address as 10 lowercase hex digits.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// ParseAddress parses 10 lowercase or uppercase hex digits into an Address.
func ParseAddress(s string) (Address, error) {
	var a Address
	if len(s) != AddressSize*2 {
		return a, fmt.Errorf("vl1: address %q: want %d hex chars, got %d: %w", s, AddressSize*2, len(s), vl1err.InvalidFormat)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("vl1: address %q: %w: %w", s, vl1err.InvalidFormat, err)
	}
	copy(a[:], b)
	return a, nil
}
