// Package zssp implements the ZSSP (ZeroTier Secure Session Protocol)
// handshake and data channel: Noise_XK plus a Kyber1024 hybrid key
// encapsulation mixed into the final secret (§4.6), fragment-protected
// via the same generational Fragged[T] reassembler V1 packet framing
// uses (§4.7), with a replay-resistant out-of-order counter window for
// the data channel.
//
// Grounded on ntor/ntor.go's handshake-state shape (ephemeral keypair,
// Complete()-style finalization, HKDF key expansion with a protocol-name
// salt) generalized from Tor's ntor (curve25519+SHA-256, one round trip,
// no hybrid KEM) to ZSSP's richer Noise_XK (P-384+Kyber1024 hybrid,
// header protection, rekey). Wire constants below are taken verbatim
// from original_source/zssp/src/proto.rs.
package zssp

import "crypto/sha512"

// SessionProtocolVersion is the only version this package speaks: Noise_XK
// with NIST P-384 plus a Kyber1024 hybrid exchange on session init.
const SessionProtocolVersion = 0x00

// Packet types, carried in the version/type byte following the header.
const (
	PacketTypeNOP              = 0
	PacketTypeData             = 1
	PacketTypeAliceNoiseXKInit = 2
	PacketTypeBobNoiseXKAck    = 3
	PacketTypeAliceNoiseXKAck  = 4
	PacketTypeRekeyInit        = 5
	PacketTypeRekeyAck         = 6
)

const (
	// HeaderSize is the fixed physical header preceding every ZSSP packet:
	// 8-byte session id, 4-byte counter, 4-byte reserved/fragment info.
	HeaderSize = 16
	// HeaderProtectStart/End bound the header bytes obfuscated by the
	// header-protection key established in AliceNoiseXKInit (§4.7):
	// session-id and counter, but not the leading packet-type byte a
	// receiver needs to dispatch on, nor fragmentation framing.
	HeaderProtectStart = 6
	HeaderProtectEnd   = 22

	MinPacketSize    = HeaderSize + AESGCMTagSize
	MinTransportMTU  = 128
	MaxFragments     = 48
	MaxHandshakeFrag = 16
	MaxHandshakeSize = MaxHandshakeFrag * MinTransportMTU

	AES256KeySize         = 32
	AESHeaderProtKeySize  = 16
	AESGCMTagSize         = 16
	AESGCMNonceSize       = 12
	BaseKeySize           = 64

	// CounterWindowMaxOOO is how far out of order the receive window
	// tolerates reordering before rejecting a packet as a replay (§4.6).
	CounterWindowMaxOOO = 32
	// CounterWindowMaxSkipAhead bounds how far ahead of the last-seen
	// counter an accepted packet may jump, guarding against a corrupted
	// counter field wrapping the window out from under legitimate traffic.
	CounterWindowMaxSkipAhead = 16777216
)

// KBKDF usage-label bytes distinguish what a derived key is for (§4.6).
const (
	KBKDFLabelInitEncryption = 'x' // AES-GCM during initial handshake setup
	KBKDFLabelAliceToBob     = 'A' // AES-GCM, Alice->Bob traffic direction
	KBKDFLabelBobToAlice     = 'B' // AES-GCM, Bob->Alice traffic direction
	KBKDFLabelRatchet        = 'R' // next session key in the ratchet chain
)

// protocolName is the literal Noise protocol name string ZSSP's initial
// hash state is seeded from.
const protocolName = "Noise_XKpsk3_P384_AESGCM_SHA384_hybridKyber1024"

// InitialH is SHA-384(protocolName), the starting value mixed into every
// handshake transcript hash before any message-specific data (§4.6).
var InitialH = sha384Sum(protocolName)

func sha384Sum(s string) [48]byte {
	return sha512.Sum384([]byte(s))
}
