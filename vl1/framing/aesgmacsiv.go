package framing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"fmt"
)

// zeroGCMNonce is the fixed nonce used for the GMAC (first) pass of
// AES-GMAC-SIV. Synthetic-IV constructions (RFC 5297, and AES-GCM-SIV after
// it) derive their misuse resistance from hashing the whole message under a
// fixed nonce, not from nonce uniqueness — the 128-bit tag this produces
// becomes the actual per-message nonce for the second, encryption pass.
var zeroGCMNonce [12]byte

// EncryptAESGMACSIV runs the two-pass AES-GMAC-SIV construction: a GCM
// instance keyed by secret.GMACKey authenticates aad||plaintext under the
// fixed zero nonce to produce a 16-byte synthetic tag, then that tag is used
// as the IV for AES-CTR under secret.CryptKey to produce ciphertext. The
// returned tag's first 8 bytes become header.ID and the next 8 become
// header.MAC (§4.4, §7's "id and mac are parts of the single SIV tag" note).
func EncryptAESGMACSIV(secret *SymmetricSecret, aad []byte, plaintext []byte) (tag [16]byte, ciphertext []byte, err error) {
	gmacBlock, err := aes.NewCipher(secret.GMACKey[:])
	if err != nil {
		return tag, nil, fmt.Errorf("framing: aes-gmac-siv: mac key: %w", err)
	}
	gcm, err := cipher.NewGCM(gmacBlock)
	if err != nil {
		return tag, nil, fmt.Errorf("framing: aes-gmac-siv: gcm: %w", err)
	}
	sum := gcm.Seal(nil, zeroGCMNonce[:], nil, append(append([]byte{}, aad...), plaintext...))
	copy(tag[:], sum)

	cryptBlock, err := aes.NewCipher(secret.CryptKey[:])
	if err != nil {
		return tag, nil, fmt.Errorf("framing: aes-gmac-siv: crypt key: %w", err)
	}
	ctr := cipher.NewCTR(cryptBlock, tag[:])
	ciphertext = make([]byte, len(plaintext))
	ctr.XORKeyStream(ciphertext, plaintext)
	return tag, ciphertext, nil
}

// DecryptAESGMACSIV reverses EncryptAESGMACSIV: it decrypts ciphertext under
// the claimed tag, recomputes the synthetic tag over aad||plaintext, and
// rejects on any mismatch (covering both payload tampering and hop-mutation
// attempts outside the masked AAD).
func DecryptAESGMACSIV(secret *SymmetricSecret, tag [16]byte, aad []byte, ciphertext []byte) (plaintext []byte, ok bool, err error) {
	cryptBlock, err := aes.NewCipher(secret.CryptKey[:])
	if err != nil {
		return nil, false, fmt.Errorf("framing: aes-gmac-siv: crypt key: %w", err)
	}
	ctr := cipher.NewCTR(cryptBlock, tag[:])
	plaintext = make([]byte, len(ciphertext))
	ctr.XORKeyStream(plaintext, ciphertext)

	gmacBlock, err := aes.NewCipher(secret.GMACKey[:])
	if err != nil {
		return nil, false, fmt.Errorf("framing: aes-gmac-siv: mac key: %w", err)
	}
	gcm, err := cipher.NewGCM(gmacBlock)
	if err != nil {
		return nil, false, fmt.Errorf("framing: aes-gmac-siv: gcm: %w", err)
	}
	want := gcm.Seal(nil, zeroGCMNonce[:], nil, append(append([]byte{}, aad...), plaintext...))
	if subtle.ConstantTimeCompare(want, tag[:]) != 1 {
		return nil, false, nil
	}
	return plaintext, true, nil
}

// PacketAAD builds the additional-authenticated-data input for
// AES-GMAC-SIV: dest || src || masked flags_cipher_hops (§4.4).
func PacketAAD(dest, src [5]byte, maskedFlagsCipherHops byte) []byte {
	aad := make([]byte, 0, 11)
	aad = append(aad, dest[:]...)
	aad = append(aad, src[:]...)
	aad = append(aad, maskedFlagsCipherHops)
	return aad
}
