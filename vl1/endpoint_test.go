package vl1

import (
	"net/netip"
	"testing"

	"github.com/vl1proto/vl1-go/internal/buf"
)

func TestEndpointRoundTripWire(t *testing.T) {
	cases := []Endpoint{
		{Kind: EndpointNil},
		{Kind: EndpointZeroTier, ZT: Address{1, 2, 3, 4, 5}},
		{Kind: EndpointEthernet, MAC: MAC{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}},
		{Kind: EndpointIpUdp, IP: InetAddress{Addr: netip.MustParseAddr("10.0.0.1"), Port: 9993}},
		{Kind: EndpointIpUdp, IP: InetAddress{Addr: netip.MustParseAddr("2001:db8::1"), Port: 443}},
		{Kind: EndpointHttp, URL: "https://example.com/x"},
		{Kind: EndpointWebRTC, Blob: []byte{0, 1, 2, 255, 254}},
	}

	for _, e := range cases {
		backing := make([]byte, 256)
		b := buf.NewBuffer(backing)
		if err := e.Marshal(b); err != nil {
			t.Fatalf("marshal %v: %v", e, err)
		}
		rb := buf.WrapRead(b.Bytes())
		got, err := UnmarshalEndpoint(rb)
		if err != nil {
			t.Fatalf("unmarshal %v: %v", e, err)
		}
		if !e.Equal(got) {
			t.Fatalf("round trip mismatch: %v != %v", e, got)
		}
	}
}

func TestEndpointRoundTripText(t *testing.T) {
	cases := []string{
		"nil:",
		"zt:0102030405",
		"eth:aa:bb:cc:dd:ee:ff",
		"udp:10.0.0.1:9993",
		"url:https://example.com/x",
	}
	for _, s := range cases {
		e, err := ParseEndpoint(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if e.String() != s {
			t.Fatalf("text round trip: %q != %q", s, e.String())
		}
	}
}

func TestNakedIpv4UnmarshalsAsIpUdp(t *testing.T) {
	ia := InetAddress{Addr: netip.MustParseAddr("192.168.1.1"), Port: 1234}
	backing := make([]byte, 32)
	b := buf.NewBuffer(backing)
	if err := ia.MarshalNaked(b); err != nil {
		t.Fatal(err)
	}
	rb := buf.WrapRead(b.Bytes())
	e, err := UnmarshalEndpoint(rb)
	if err != nil {
		t.Fatal(err)
	}
	if e.Kind != EndpointIpUdp {
		t.Fatalf("expected IpUdp, got kind %d", e.Kind)
	}
	if !e.IP.Equal(ia) {
		t.Fatalf("addr mismatch: %v != %v", e.IP, ia)
	}
}

func TestZeroTierEncapUnmarshalsAsZeroTier(t *testing.T) {
	// Preserves the upstream quirk documented in DESIGN.md: the
	// TYPE_ZEROTIER_ENCAP wire tag decodes to EndpointZeroTier.
	addr := Address{9, 8, 7, 6, 5}
	e := Endpoint{Kind: EndpointZeroTierEncap, ZT: addr}
	backing := make([]byte, 32)
	b := buf.NewBuffer(backing)
	if err := e.Marshal(b); err != nil {
		t.Fatal(err)
	}
	rb := buf.WrapRead(b.Bytes())
	got, err := UnmarshalEndpoint(rb)
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != EndpointZeroTier {
		t.Fatalf("expected EndpointZeroTier (quirk), got kind %d", got.Kind)
	}
	if got.ZT != addr {
		t.Fatalf("address mismatch")
	}
}

func TestEndpointOrdering(t *testing.T) {
	a := Endpoint{Kind: EndpointZeroTier, ZT: Address{1}}
	b2 := Endpoint{Kind: EndpointZeroTier, ZT: Address{2}}
	if a.Compare(b2) >= 0 {
		t.Fatalf("expected a < b")
	}
	c := Endpoint{Kind: EndpointEthernet}
	if a.Compare(c) >= 0 {
		t.Fatalf("expected lower variant tag to sort first")
	}
}
