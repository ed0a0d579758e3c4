package vl1

import (
	"encoding/base64"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/vl1proto/vl1-go/internal/buf"
	"github.com/vl1proto/vl1-go/vl1err"
)

// EndpointKind is the discriminant of the Endpoint tagged union. Wire tags
// are EndpointKind + endpointWireBase (16), except for IpUdp, which is also
// accepted as a "naked" InetAddress with no type byte at all (§4.2).
type EndpointKind uint8

const (
	EndpointNil EndpointKind = iota
	EndpointZeroTier
	EndpointZeroTierEncap
	EndpointEthernet
	EndpointWifiDirect
	EndpointBluetooth
	EndpointIcmp
	EndpointIpUdp
	EndpointIpTcp
	EndpointHttp
	EndpointWebRTC
)

const endpointWireBase = 16

// naked InetAddress family bytes (see familyV4/familyV6 in inetaddress.go)
// that precede the IP body when no Endpoint type byte is present at all.
const (
	nakedTypeV4 = familyV4
	nakedTypeV6 = familyV6
)

func (k EndpointKind) scheme() string {
	switch k {
	case EndpointNil:
		return "nil"
	case EndpointZeroTier:
		return "zt"
	case EndpointZeroTierEncap:
		return "zte"
	case EndpointEthernet:
		return "eth"
	case EndpointWifiDirect:
		return "wifip2p"
	case EndpointBluetooth:
		return "bt"
	case EndpointIcmp:
		return "icmp"
	case EndpointIpUdp:
		return "udp"
	case EndpointIpTcp:
		return "tcp"
	case EndpointHttp:
		return "url"
	case EndpointWebRTC:
		return "webrtc"
	default:
		return "?"
	}
}

func schemeToKind(s string) (EndpointKind, bool) {
	switch s {
	case "nil":
		return EndpointNil, true
	case "zt":
		return EndpointZeroTier, true
	case "zte":
		return EndpointZeroTierEncap, true
	case "eth":
		return EndpointEthernet, true
	case "wifip2p":
		return EndpointWifiDirect, true
	case "bt":
		return EndpointBluetooth, true
	case "icmp":
		return EndpointIcmp, true
	case "udp":
		return EndpointIpUdp, true
	case "tcp":
		return EndpointIpTcp, true
	case "url":
		return EndpointHttp, true
	case "webrtc":
		return EndpointWebRTC, true
	default:
		return 0, false
	}
}

// Endpoint is a tagged union of transport locators: a place a peer might be
// reached. Total order is same-variant natural order, else by variant tag.
type Endpoint struct {
	Kind EndpointKind

	ZT   Address     // EndpointZeroTier, EndpointZeroTierEncap
	MAC  MAC         // EndpointEthernet, EndpointWifiDirect, EndpointBluetooth
	IP   InetAddress // EndpointIcmp, EndpointIpUdp, EndpointIpTcp
	URL  string      // EndpointHttp
	Blob []byte      // EndpointWebRTC
}

// Nil is the zero Endpoint.
var NilEndpoint = Endpoint{Kind: EndpointNil}

// Marshal writes the wire encoding: one type-byte (variant+16) then
// variant-specific data. Nil has no body. IpUdp is special-cased by callers
// that want the backward-compatible naked encoding; Marshal always emits
// the type-byte form.
func (e Endpoint) Marshal(b *buf.Buffer) error {
	if err := b.AppendByte(byte(e.Kind) + endpointWireBase); err != nil {
		return err
	}
	switch e.Kind {
	case EndpointNil:
		return nil
	case EndpointZeroTier, EndpointZeroTierEncap:
		return b.AppendBytes(e.ZT[:])
	case EndpointEthernet, EndpointWifiDirect, EndpointBluetooth:
		return b.AppendBytes(e.MAC[:])
	case EndpointIcmp, EndpointIpUdp, EndpointIpTcp:
		return e.IP.MarshalNaked(b)
	case EndpointHttp:
		if err := b.AppendVarint(uint64(len(e.URL))); err != nil {
			return err
		}
		return b.AppendBytes([]byte(e.URL))
	case EndpointWebRTC:
		if err := b.AppendVarint(uint64(len(e.Blob))); err != nil {
			return err
		}
		return b.AppendBytes(e.Blob)
	default:
		return fmt.Errorf("vl1: endpoint: unknown kind %d: %w", e.Kind, vl1err.InvalidData)
	}
}

// MarshalNakedIpUdp writes only the bare InetAddress (no type byte), the
// backward-compatible wire form for IpUdp endpoints.
func (e Endpoint) MarshalNakedIpUdp(b *buf.Buffer) error {
	if e.Kind != EndpointIpUdp {
		return fmt.Errorf("vl1: endpoint: naked encoding only valid for IpUdp: %w", vl1err.InvalidData)
	}
	return e.IP.MarshalNaked(b)
}

// UnmarshalEndpoint reads one Endpoint from b. A leading byte of 4 or 6
// (below endpointWireBase) means "no type byte: a naked IPv4/IPv6 address
// follows" and is always interpreted as IpUdp, per §4.2 and §8 invariant 5.
//
// TYPE_ZEROTIER_ENCAP (tag endpointWireBase+EndpointZeroTierEncap) is
// special-cased below to unmarshal to EndpointZeroTier, not
// EndpointZeroTierEncap. This mirrors the upstream implementation exactly
// (see DESIGN.md "TYPE_ZEROTIER_ENCAP unmarshal") and is preserved for wire
// compatibility rather than "fixed", since nothing in this spec requires
// tag-name symmetry, only that marshal(unmarshal(validWire)) round-trips.
func UnmarshalEndpoint(b *buf.Buffer) (Endpoint, error) {
	tb, err := b.ReadByte()
	if err != nil {
		return Endpoint{}, err
	}

	if tb == nakedTypeV4 || tb == nakedTypeV6 {
		ia, err := UnmarshalNaked(tb, b)
		if err != nil {
			return Endpoint{}, err
		}
		return Endpoint{Kind: EndpointIpUdp, IP: ia}, nil
	}

	if tb < endpointWireBase {
		return Endpoint{}, fmt.Errorf("vl1: endpoint: invalid type byte %d: %w", tb, vl1err.InvalidFormat)
	}
	kind := EndpointKind(tb - endpointWireBase)

	switch kind {
	case EndpointNil:
		return Endpoint{Kind: EndpointNil}, nil
	case EndpointZeroTierEncap:
		// See doc comment above: preserved upstream quirk.
		addr, err := readAddress(b)
		if err != nil {
			return Endpoint{}, err
		}
		return Endpoint{Kind: EndpointZeroTier, ZT: addr}, nil
	case EndpointZeroTier:
		addr, err := readAddress(b)
		if err != nil {
			return Endpoint{}, err
		}
		return Endpoint{Kind: EndpointZeroTier, ZT: addr}, nil
	case EndpointEthernet, EndpointWifiDirect, EndpointBluetooth:
		raw, err := b.ReadBytes(6)
		if err != nil {
			return Endpoint{}, err
		}
		var m MAC
		copy(m[:], raw)
		return Endpoint{Kind: kind, MAC: m}, nil
	case EndpointIcmp, EndpointIpUdp, EndpointIpTcp:
		fb, err := b.ReadByte()
		if err != nil {
			return Endpoint{}, err
		}
		ia, err := UnmarshalNaked(fb, b)
		if err != nil {
			return Endpoint{}, err
		}
		return Endpoint{Kind: kind, IP: ia}, nil
	case EndpointHttp:
		n, err := b.ReadVarint()
		if err != nil {
			return Endpoint{}, err
		}
		raw, err := b.ReadBytes(int(n))
		if err != nil {
			return Endpoint{}, err
		}
		return Endpoint{Kind: EndpointHttp, URL: string(raw)}, nil
	case EndpointWebRTC:
		n, err := b.ReadVarint()
		if err != nil {
			return Endpoint{}, err
		}
		raw, err := b.ReadBytes(int(n))
		if err != nil {
			return Endpoint{}, err
		}
		blob := make([]byte, len(raw))
		copy(blob, raw)
		return Endpoint{Kind: EndpointWebRTC, Blob: blob}, nil
	default:
		return Endpoint{}, fmt.Errorf("vl1: endpoint: unknown type byte %d: %w", tb, vl1err.InvalidFormat)
	}
}

func readAddress(b *buf.Buffer) (Address, error) {
	var a Address
	raw, err := b.ReadBytes(AddressSize)
	if err != nil {
		return a, err
	}
	copy(a[:], raw)
	return a, nil
}

// String renders the text form scheme:body.
func (e Endpoint) String() string {
	switch e.Kind {
	case EndpointNil:
		return "nil:"
	case EndpointZeroTier, EndpointZeroTierEncap:
		return e.Kind.scheme() + ":" + e.ZT.String()
	case EndpointEthernet, EndpointWifiDirect, EndpointBluetooth:
		return e.Kind.scheme() + ":" + e.MAC.String()
	case EndpointIcmp, EndpointIpUdp, EndpointIpTcp:
		return e.Kind.scheme() + ":" + e.IP.String()
	case EndpointHttp:
		return e.Kind.scheme() + ":" + e.URL
	case EndpointWebRTC:
		return e.Kind.scheme() + ":" + escapeWebRTC(e.Blob)
	default:
		return "?:"
	}
}

// ParseEndpoint parses the scheme:body text form.
func ParseEndpoint(s string) (Endpoint, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Endpoint{}, fmt.Errorf("vl1: endpoint %q: missing scheme separator: %w", s, vl1err.InvalidFormat)
	}
	kind, ok := schemeToKind(parts[0])
	if !ok {
		return Endpoint{}, fmt.Errorf("vl1: endpoint %q: unknown scheme %q: %w", s, parts[0], vl1err.InvalidFormat)
	}
	body := parts[1]

	switch kind {
	case EndpointNil:
		return Endpoint{Kind: EndpointNil}, nil
	case EndpointZeroTier, EndpointZeroTierEncap:
		addr, err := ParseAddress(body)
		if err != nil {
			return Endpoint{}, err
		}
		return Endpoint{Kind: kind, ZT: addr}, nil
	case EndpointEthernet, EndpointWifiDirect, EndpointBluetooth:
		mac, err := ParseMAC(body)
		if err != nil {
			return Endpoint{}, err
		}
		return Endpoint{Kind: kind, MAC: mac}, nil
	case EndpointIcmp, EndpointIpUdp, EndpointIpTcp:
		host, portStr, err := splitHostPort(body)
		if err != nil {
			return Endpoint{}, err
		}
		addr, err := netip.ParseAddr(host)
		if err != nil {
			return Endpoint{}, fmt.Errorf("vl1: endpoint %q: %w", s, err)
		}
		var port uint64
		if portStr != "" {
			port, err = strconv.ParseUint(portStr, 10, 16)
			if err != nil {
				return Endpoint{}, fmt.Errorf("vl1: endpoint %q: %w", s, err)
			}
		}
		return Endpoint{Kind: kind, IP: InetAddress{Addr: addr, Port: uint16(port)}}, nil
	case EndpointHttp:
		return Endpoint{Kind: EndpointHttp, URL: body}, nil
	case EndpointWebRTC:
		blob, err := unescapeWebRTC(body)
		if err != nil {
			return Endpoint{}, err
		}
		return Endpoint{Kind: EndpointWebRTC, Blob: blob}, nil
	default:
		return Endpoint{}, fmt.Errorf("vl1: endpoint %q: unhandled scheme: %w", s, vl1err.InvalidFormat)
	}
}

func splitHostPort(s string) (host, port string, err error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return s, "", nil
	}
	// IPv6 literals contain multiple colons; only treat the trailing
	// segment as a port if everything after it is digits.
	maybePort := s[i+1:]
	for _, c := range maybePort {
		if c < '0' || c > '9' {
			return s, "", nil
		}
	}
	if maybePort == "" {
		return s, "", nil
	}
	return s[:i], maybePort, nil
}

// escapeWebRTC/unescapeWebRTC give WebRTC's arbitrary binary blob a
// reversible text form via standard base64url, tolerating any byte value.
func escapeWebRTC(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func unescapeWebRTC(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("vl1: webrtc blob: %w", err)
	}
	return b, nil
}

// Compare implements the total order required by §3: same-variant natural
// order, else ordered by variant tag.
func (e Endpoint) Compare(o Endpoint) int {
	if e.Kind != o.Kind {
		if e.Kind < o.Kind {
			return -1
		}
		return 1
	}
	switch e.Kind {
	case EndpointNil:
		return 0
	case EndpointZeroTier, EndpointZeroTierEncap:
		return compareBytes(e.ZT[:], o.ZT[:])
	case EndpointEthernet, EndpointWifiDirect, EndpointBluetooth:
		return compareBytes(e.MAC[:], o.MAC[:])
	case EndpointIcmp, EndpointIpUdp, EndpointIpTcp:
		return strings.Compare(e.IP.String(), o.IP.String())
	case EndpointHttp:
		return strings.Compare(e.URL, o.URL)
	case EndpointWebRTC:
		return compareBytes(e.Blob, o.Blob)
	default:
		return 0
	}
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func (e Endpoint) Equal(o Endpoint) bool { return e.Compare(o) == 0 }
