package vl1

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/vl1proto/vl1-go/vl1err"
)

// MAC is a 48-bit Ethernet hardware address.
type MAC [6]byte

func (m MAC) String() string {
	parts := make([]string, 6)
	for i, b := range m {
		parts[i] = hex.EncodeToString([]byte{b})
	}
	return strings.Join(parts, ":")
}

// ParseMAC parses a colon-separated hex MAC address.
func ParseMAC(s string) (MAC, error) {
	var m MAC
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return m, fmt.Errorf("vl1: mac %q: want 6 octets, got %d: %w", s, len(parts), vl1err.InvalidFormat)
	}
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) != 1 {
			return m, fmt.Errorf("vl1: mac %q: bad octet %q: %w", s, p, vl1err.InvalidFormat)
		}
		m[i] = b[0]
	}
	return m, nil
}
