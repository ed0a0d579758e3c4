package framing

import (
	"crypto/sha512"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SymmetricSecret holds the per-peer keys derived once from Identity.Agree's
// 64-byte output: Key feeds Salsa/Poly framing directly (§4.4.1), while
// GMACKey and CryptKey are HKDF-expanded subkeys for the AES-GMAC-SIV suite
// so the two ciphers never share key material.
type SymmetricSecret struct {
	Key     [32]byte
	GMACKey [32]byte
	CryptKey [32]byte
}

// DeriveSymmetricSecret builds the per-peer V1 keys from the 64-byte shared
// secret produced by identity.Agree.
func DeriveSymmetricSecret(agreed [64]byte) (SymmetricSecret, error) {
	var s SymmetricSecret
	copy(s.Key[:], agreed[:32])

	r := hkdf.New(sha512.New, agreed[:], nil, []byte("vl1 aes-gmac-siv mac"))
	if _, err := io.ReadFull(r, s.GMACKey[:]); err != nil {
		return s, err
	}
	r = hkdf.New(sha512.New, agreed[:], nil, []byte("vl1 aes-gmac-siv crypt"))
	if _, err := io.ReadFull(r, s.CryptKey[:]); err != nil {
		return s, err
	}
	return s, nil
}
