// Package framing implements V1 packet framing: the 27-byte PacketHeader,
// the 13-byte FragmentHeader, and the three cipher suites selected by the
// flags_cipher_hops byte, grounded on the original vl1::peer V1 codec.
package framing

import (
	"fmt"

	"github.com/vl1proto/vl1-go/internal/buf"
	"github.com/vl1proto/vl1-go/vl1"
)

const (
	// HeaderSize is the wire size of PacketHeader: id(8) + dest(5) + src(5)
	// + flags_cipher_hops(1) + mac(8).
	HeaderSize = 27
	// FragmentHeaderSize is the wire size of FragmentHeader: id(8) + dest(5)
	// + fragment_indicator(1) + total_and_fragment_no(1) + reserved_hops(1).
	FragmentHeaderSize = 13
	// MaxFragmentCount caps the number of fragments (including the first,
	// non-fragment-framed chunk) a single packet may be split into.
	MaxFragmentCount = 16
	// FragmentIndicator marks byte 13 of a fragment: a value that can never
	// appear as a valid 6th address byte, distinguishing fragments from the
	// first chunk of a packet on the wire.
	FragmentIndicator = 0xff
)

// flags_cipher_hops bit layout: bits 0-2 are hop count, bits 3-4 select the
// cipher suite, bit 5 marks a fragmented packet. Hops are mutable in flight
// (relays increment/decrement them) and must be masked out of every MAC/AAD
// computation.
const (
	HopsMask               = 0x07
	FlagsFieldMaskHideHops = ^byte(HopsMask)

	CipherNoCryptPoly1305   = 0x00
	CipherSalsa2012Poly1305 = 0x08
	CipherAESGMACSIV        = 0x10
	cipherMask              = 0x18

	HeaderFlagFragmented = 0x20
)

// Message verb byte layout (first payload byte once decrypted): low bits
// are the message type, high bits are flags.
const (
	MessageTypeMask       = 0x1f
	MessageFlagCompressed = 0x80
)

// PacketHeader is the 27-byte V1 packet header.
type PacketHeader struct {
	ID              [8]byte
	Dest            vl1.Address
	Src             vl1.Address
	FlagsCipherHops byte
	MAC             [8]byte
}

// Cipher returns the cipher suite selector bits, masking off hops and the
// fragmented flag.
func (h *PacketHeader) Cipher() byte { return h.FlagsCipherHops & cipherMask }

// Hops returns the current hop count (low 3 bits).
func (h *PacketHeader) Hops() byte { return h.FlagsCipherHops & HopsMask }

// SetHops rewrites the hop count in place without touching cipher/flag bits.
func (h *PacketHeader) SetHops(hops byte) {
	h.FlagsCipherHops = (h.FlagsCipherHops &^ HopsMask) | (hops & HopsMask)
}

// IsFragmented reports whether the fragmented-packet flag is set.
func (h *PacketHeader) IsFragmented() bool {
	return h.FlagsCipherHops&HeaderFlagFragmented != 0
}

// MaskedFlagsCipherHops returns the byte with hops zeroed, the value used as
// MAC/AAD input so relays can mutate hops without invalidating the MAC.
func (h *PacketHeader) MaskedFlagsCipherHops() byte {
	return h.FlagsCipherHops & FlagsFieldMaskHideHops
}

// Marshal appends the 27-byte wire encoding to b.
func (h *PacketHeader) Marshal(b *buf.Buffer) error {
	if err := b.AppendBytes(h.ID[:]); err != nil {
		return err
	}
	if err := b.AppendBytes(h.Dest[:]); err != nil {
		return err
	}
	if err := b.AppendBytes(h.Src[:]); err != nil {
		return err
	}
	if err := b.AppendByte(h.FlagsCipherHops); err != nil {
		return err
	}
	return b.AppendBytes(h.MAC[:])
}

// Bytes returns the 27-byte wire encoding as a fresh slice.
func (h *PacketHeader) Bytes() []byte {
	b := buf.NewBuffer(make([]byte, 0, HeaderSize))
	_ = h.Marshal(b)
	return b.Bytes()
}

// UnmarshalPacketHeader reads a 27-byte PacketHeader from b.
func UnmarshalPacketHeader(b *buf.Buffer) (PacketHeader, error) {
	var h PacketHeader
	id, err := b.ReadBytes(8)
	if err != nil {
		return h, fmt.Errorf("framing: header id: %w", err)
	}
	copy(h.ID[:], id)
	dest, err := b.ReadBytes(vl1.AddressSize)
	if err != nil {
		return h, fmt.Errorf("framing: header dest: %w", err)
	}
	copy(h.Dest[:], dest)
	src, err := b.ReadBytes(vl1.AddressSize)
	if err != nil {
		return h, fmt.Errorf("framing: header src: %w", err)
	}
	copy(h.Src[:], src)
	fch, err := b.ReadByte()
	if err != nil {
		return h, fmt.Errorf("framing: header flags_cipher_hops: %w", err)
	}
	h.FlagsCipherHops = fch
	mac, err := b.ReadBytes(8)
	if err != nil {
		return h, fmt.Errorf("framing: header mac: %w", err)
	}
	copy(h.MAC[:], mac)
	return h, nil
}

// FragmentHeader is the 13-byte header prefixing every fragment after the
// first chunk of a split packet.
type FragmentHeader struct {
	ID                 [8]byte
	Dest               vl1.Address
	Indicator          byte // always FragmentIndicator on the wire
	TotalAndFragmentNo byte
	ReservedHops       byte
}

// NewFragmentHeader builds a fragment header for fragment number no (1-based,
// since fragment 0 is the unframed first chunk) of total fragments.
func NewFragmentHeader(id [8]byte, dest vl1.Address, total, no int) FragmentHeader {
	return FragmentHeader{
		ID:                 id,
		Dest:               dest,
		Indicator:          FragmentIndicator,
		TotalAndFragmentNo: byte(total<<4) | byte(no&0x0f),
	}
}

// Total returns the total fragment count this header claims (including the
// unframed first chunk).
func (h *FragmentHeader) Total() int { return int(h.TotalAndFragmentNo >> 4) }

// No returns this fragment's 1-based index.
func (h *FragmentHeader) No() int { return int(h.TotalAndFragmentNo & 0x0f) }

// Marshal appends the 13-byte wire encoding to b.
func (h *FragmentHeader) Marshal(b *buf.Buffer) error {
	if err := b.AppendBytes(h.ID[:]); err != nil {
		return err
	}
	if err := b.AppendBytes(h.Dest[:]); err != nil {
		return err
	}
	if err := b.AppendByte(h.Indicator); err != nil {
		return err
	}
	if err := b.AppendByte(h.TotalAndFragmentNo); err != nil {
		return err
	}
	return b.AppendByte(h.ReservedHops)
}

// Bytes returns the 13-byte wire encoding as a fresh slice.
func (h *FragmentHeader) Bytes() []byte {
	b := buf.NewBuffer(make([]byte, 0, FragmentHeaderSize))
	_ = h.Marshal(b)
	return b.Bytes()
}

// UnmarshalFragmentHeader reads a 13-byte FragmentHeader from b.
func UnmarshalFragmentHeader(b *buf.Buffer) (FragmentHeader, error) {
	var h FragmentHeader
	id, err := b.ReadBytes(8)
	if err != nil {
		return h, fmt.Errorf("framing: fragment id: %w", err)
	}
	copy(h.ID[:], id)
	dest, err := b.ReadBytes(vl1.AddressSize)
	if err != nil {
		return h, fmt.Errorf("framing: fragment dest: %w", err)
	}
	copy(h.Dest[:], dest)
	ind, err := b.ReadByte()
	if err != nil {
		return h, fmt.Errorf("framing: fragment indicator: %w", err)
	}
	h.Indicator = ind
	tfn, err := b.ReadByte()
	if err != nil {
		return h, fmt.Errorf("framing: fragment total_and_no: %w", err)
	}
	h.TotalAndFragmentNo = tfn
	rh, err := b.ReadByte()
	if err != nil {
		return h, fmt.Errorf("framing: fragment reserved_hops: %w", err)
	}
	h.ReservedHops = rh
	return h, nil
}
