package identity

import (
	"crypto/ed25519"
	"crypto/subtle"
	"fmt"
)

// Sign produces a "modern" signature: a 1-byte algorithm tag followed by
// the raw signature. It uses P-384 ECDSA (over SHA-384(msg)) if this
// identity has been upgraded, else Ed25519 directly over msg.
func Sign(id *Identity, msg []byte) ([]byte, error) {
	if id.Secret == nil {
		return nil, fmt.Errorf("identity: sign requires secret key material")
	}
	if id.P384 != nil && id.Secret.P384 != nil {
		digest := sha384Sum(msg)
		sig, err := p384ECDSASign(id.Secret.P384.ECDSAPriv, digest[:])
		if err != nil {
			return nil, fmt.Errorf("identity: p384 sign: %w", err)
		}
		out := make([]byte, 1+P384SigSize)
		out[0] = SigAlgECDSAP384
		copy(out[1:], sig[:])
		return out, nil
	}
	sig := ed25519.Sign(ed25519.NewKeyFromSeed(id.Secret.Ed25519Priv[:]), msg)
	out := make([]byte, 1+len(sig))
	out[0] = SigAlgEd25519
	copy(out[1:], sig)
	return out, nil
}

// SignLegacy produces the legacy 96-byte signature format: a 64-byte
// Ed25519 signature followed by the first 32 bytes of SHA-512(msg).
func SignLegacy(id *Identity, msg []byte) ([]byte, error) {
	if id.Secret == nil {
		return nil, fmt.Errorf("identity: sign requires secret key material")
	}
	sig := ed25519.Sign(ed25519.NewKeyFromSeed(id.Secret.Ed25519Priv[:]), msg)
	digest := sha512sum(msg)
	out := make([]byte, LegacySigSize)
	copy(out[0:64], sig)
	copy(out[64:96], digest[0:32])
	return out, nil
}

// Verify checks a signature in either the legacy format (triggered by a
// signature length of exactly 96 bytes) or the modern 1-byte-tag format.
func Verify(id *Identity, msg, sig []byte) bool {
	if len(sig) == LegacySigSize {
		edSig := sig[0:64]
		wantDigest := sig[64:96]
		if !ed25519.Verify(ed25519.PublicKey(id.Ed25519Pub[:]), msg, edSig) {
			return false
		}
		gotDigest := sha512sum(msg)
		return subtle.ConstantTimeCompare(gotDigest[0:32], wantDigest) == 1
	}
	if len(sig) < 1 {
		return false
	}
	switch sig[0] {
	case SigAlgEd25519:
		return ed25519.Verify(ed25519.PublicKey(id.Ed25519Pub[:]), msg, sig[1:])
	case SigAlgECDSAP384:
		if id.P384 == nil || len(sig) != 1+P384SigSize {
			return false
		}
		var rs [P384SigSize]byte
		copy(rs[:], sig[1:])
		digest := sha384Sum(msg)
		return p384ECDSAVerify(id.P384.ECDSAPub, digest[:], rs)
	default:
		return false
	}
}
