package identity

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/vl1proto/vl1-go/vl1"
	"github.com/vl1proto/vl1-go/vl1err"
)

// Generate repeatedly generates X25519+Ed25519 keypairs, runs the
// memory-hard derivation function, and accepts the first candidate whose
// derived digest satisfies the PoW predicate (spec.md §4.1). The accepted
// identity is immediately upgraded to the hybrid P-384 form.
func Generate() (*Identity, error) {
	for {
		edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("identity: generate ed25519: %w", err)
		}

		var xPriv [32]byte
		if _, err := rand.Read(xPriv[:]); err != nil {
			return nil, fmt.Errorf("identity: generate x25519: %w", err)
		}
		// Clamp per curve25519 convention.
		xPriv[0] &= 248
		xPriv[31] &= 127
		xPriv[31] |= 64
		xPub, err := curve25519.X25519(xPriv[:], curve25519.Basepoint)
		if err != nil {
			return nil, fmt.Errorf("identity: derive x25519 pub: %w", err)
		}

		h := sha512.New()
		h.Write(xPub)
		h.Write(edPub)
		var digest [64]byte
		copy(digest[:], h.Sum(nil))

		deriveWorkFunction(&digest)

		if digest[0] >= powThreshold {
			continue
		}

		var addr vl1.Address
		copy(addr[:], digest[59:64])
		if addr.IsNil() {
			continue
		}

		id := &Identity{Address: addr}
		copy(id.X25519Pub[:], xPub)
		copy(id.Ed25519Pub[:], edPub)
		id.Secret = &Secret{}
		copy(id.Secret.X25519Priv[:], xPriv[:])
		copy(id.Secret.Ed25519Priv[:], edPriv.Seed())

		upgraded, err := Upgrade(id)
		if err != nil {
			return nil, fmt.Errorf("identity: upgrade newly generated identity: %w", err)
		}
		return upgraded, nil
	}
}

// canonicalPublicBuffer builds address || x25519_pub || ed25519_pub, and if
// p384 is non-nil, appends 0x02 || p384_ecdh_pub || p384_ecdsa_pub — the
// buffer that the P-384 self-signature and the Ed25519 binding signature
// cover (spec.md §4.1 "Upgrade").
func canonicalPublicBuffer(id *Identity, p384 *P384Public) []byte {
	buf := make([]byte, 0, 5+32+32+1+P384Size+P384Size)
	buf = append(buf, id.Address[:]...)
	buf = append(buf, id.X25519Pub[:]...)
	buf = append(buf, id.Ed25519Pub[:]...)
	if p384 != nil {
		buf = append(buf, p384BlockVersion)
		buf = append(buf, p384.ECDHPub[:]...)
		buf = append(buf, p384.ECDSAPub[:]...)
	}
	return buf
}

// Upgrade adds a P-384 hybrid key block to a legacy (X25519/Ed25519-only)
// identity that carries secret key material. Not deterministic across
// calls (fresh P-384 keys are generated each time). Returns a new Identity;
// the input is not mutated.
func Upgrade(id *Identity) (*Identity, error) {
	if id.Secret == nil {
		return nil, fmt.Errorf("identity: upgrade requires secret key material")
	}
	if id.P384 != nil {
		return id, nil // already upgraded; upgrade is a one-time operation
	}

	ecdhPub, ecdhPriv, err := generateP384ECDH()
	if err != nil {
		return nil, fmt.Errorf("identity: generate p384 ecdh: %w", err)
	}
	ecdsaPub, ecdsaPriv, err := generateP384ECDSA()
	if err != nil {
		return nil, fmt.Errorf("identity: generate p384 ecdsa: %w", err)
	}

	base := canonicalPublicBuffer(id, &P384Public{ECDHPub: ecdhPub, ECDSAPub: ecdsaPub})

	// P-384 signs SHA-384(base) (ECDSA conventionally signs a digest, not
	// the raw message).
	digest := sha384Sum(base)
	ecdsaSig, err := p384ECDSASign(ecdsaPriv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("identity: p384 self-sign: %w", err)
	}

	// Ed25519 signs base || ecdsa_self_sig to bind the P-384 randomness.
	toSign := append(append([]byte{}, base...), ecdsaSig[:]...)
	ed25519Sig := ed25519.Sign(ed25519.NewKeyFromSeed(id.Secret.Ed25519Priv[:]), toSign)

	p384 := &P384Public{
		ECDHPub:      ecdhPub,
		ECDSAPub:     ecdsaPub,
		ECDSASelfSig: ecdsaSig,
	}
	copy(p384.Ed25519SelfSig[:], ed25519Sig)

	out := &Identity{
		Address:    id.Address,
		X25519Pub:  id.X25519Pub,
		Ed25519Pub: id.Ed25519Pub,
		P384:       p384,
		Secret: &Secret{
			X25519Priv:  id.Secret.X25519Priv,
			Ed25519Priv: id.Secret.Ed25519Priv,
			P384:        &P384Secret{ECDHPriv: ecdhPriv, ECDSAPriv: ecdsaPriv},
		},
	}
	out.Fingerprint = computeFingerprint(out)
	return out, nil
}

// Validate checks the PoW predicate on the legacy keys and, if a P-384
// block is present, both self-signatures (spec.md §3 invariants i–iii).
func Validate(id *Identity) error {
	h := sha512sum(append(append([]byte{}, id.X25519Pub[:]...), id.Ed25519Pub[:]...))
	deriveWorkFunction(&h)
	if h[0] >= powThreshold {
		return fmt.Errorf("identity: proof-of-work predicate failed: %w", vl1err.IdentityWeak)
	}
	var derivedAddr vl1.Address
	copy(derivedAddr[:], h[59:64])
	if derivedAddr != id.Address {
		return fmt.Errorf("identity: address does not match derived value: %w", vl1err.IdentityWeak)
	}

	if id.P384 != nil {
		base := canonicalPublicBuffer(id, id.P384)
		digest := sha384Sum(base)
		if !p384ECDSAVerify(id.P384.ECDSAPub, digest[:], id.P384.ECDSASelfSig) {
			return fmt.Errorf("identity: p384 self-signature invalid: %w", vl1err.IdentityWeak)
		}
		toVerify := append(append([]byte{}, base...), id.P384.ECDSASelfSig[:]...)
		if !ed25519.Verify(ed25519.PublicKey(id.Ed25519Pub[:]), toVerify, id.P384.Ed25519SelfSig[:]) {
			return fmt.Errorf("identity: ed25519 binding signature invalid: %w", vl1err.IdentityWeak)
		}
	}

	expected := computeFingerprint(id)
	if expected != id.Fingerprint {
		return fmt.Errorf("identity: fingerprint mismatch: %w", vl1err.IdentityWeak)
	}
	return nil
}

// Agree computes the 64-byte symmetric secret shared between self and
// other (spec.md §4.1 "Agreement"). Requires self to carry secret key
// material.
func Agree(self, other *Identity) ([64]byte, error) {
	var out [64]byte
	if self.Secret == nil {
		return out, fmt.Errorf("identity: agree requires secret key material")
	}

	xShared, err := curve25519.X25519(self.Secret.X25519Priv[:], other.X25519Pub[:])
	if err != nil {
		return out, fmt.Errorf("identity: x25519 agree: %w", err)
	}
	xDerived := sha512sum(xShared)

	if self.P384 != nil && self.Secret.P384 != nil && other.P384 != nil {
		p384Shared, err := p384ECDHAgree(self.Secret.P384.ECDHPriv, other.P384.ECDHPub)
		if err != nil {
			return out, fmt.Errorf("identity: p384 agree: %w", err)
		}
		mac := hmac.New(sha512.New, xDerived[:])
		mac.Write(p384Shared)
		copy(out[:], mac.Sum(nil))
		return out, nil
	}

	out = xDerived
	return out, nil
}
