// Package identity implements the VL1 Identity construct: a
// proof-of-work-bound node address with hybrid X25519+Ed25519+P-384 key
// material, signing/verification in legacy and modern formats, ECDH
// agreement, and the one-way legacy-to-hybrid upgrade path (spec.md §2.3,
// §4.1).
package identity

import (
	"github.com/vl1proto/vl1-go/vl1"
)

// P384Size is the uncompressed point encoding length for a P-384 public key
// (1-byte prefix + two 48-byte coordinates).
const P384Size = 97

// P384SigSize is the raw (non-ASN.1) r||s encoding length of a P-384 ECDSA
// signature: two 48-byte big-endian integers.
const P384SigSize = 96

// LegacySigSize is the length of a "legacy" signature: a 64-byte Ed25519
// signature followed by the first 32 bytes of SHA-512(msg).
const LegacySigSize = 96

// Modern signature algorithm tags (1-byte prefix).
const (
	SigAlgEd25519 byte = 0x01
	SigAlgECDSAP384 byte = 0x02
)

// Hybrid block version tag used in the text/binary encodings.
const p384BlockVersion = 0x02

// P384Public is the optional hybrid key block binding P-384 keys to the
// legacy X25519/Ed25519 keys.
type P384Public struct {
	ECDHPub        [P384Size]byte
	ECDSAPub       [P384Size]byte
	ECDSASelfSig   [P384SigSize]byte
	Ed25519SelfSig [64]byte
}

// P384Secret mirrors P384Public with the corresponding private scalars.
type P384Secret struct {
	ECDHPriv  [48]byte
	ECDSAPriv [48]byte
}

// Secret mirrors the public key set with private key material. Ed25519Priv
// is the 32-byte seed (not crypto/ed25519's 64-byte seed+pub expanded
// form), matching the on-the-wire/text secret layout: 32 bytes of X25519
// scalar followed by 32 bytes of Ed25519 seed, 64 bytes total.
type Secret struct {
	X25519Priv  [32]byte
	Ed25519Priv [32]byte
	P384        *P384Secret
}

// Identity is immutable after construction (upgrade() produces a new value
// rather than mutating in place, so existing references stay valid).
type Identity struct {
	Address    vl1.Address
	X25519Pub  [32]byte
	Ed25519Pub [32]byte
	P384       *P384Public // present once upgraded
	Secret     *Secret     // present only when this identity carries private keys
	Fingerprint [48]byte
}

// HasPrivate reports whether this Identity carries secret key material.
func (id *Identity) HasPrivate() bool { return id.Secret != nil }

// HasP384 reports whether this Identity has been upgraded to the hybrid
// P-384 key block.
func (id *Identity) HasP384() bool { return id.P384 != nil }

// PublicOnly returns a copy of id with Secret stripped, for safe export.
func (id *Identity) PublicOnly() *Identity {
	cp := *id
	cp.Secret = nil
	return &cp
}
