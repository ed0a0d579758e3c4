package zssp

import (
	"crypto/aes"
	"fmt"

	"github.com/vl1proto/vl1-go/vl1err"
)

// headerProtectionMask computes the 16-byte XOR mask applied to header
// bytes [HeaderProtectStart:HeaderProtectEnd] (session id + counter),
// QUIC-style: AES-ECB-encrypt a 16-byte sample drawn from a part of the
// packet that isn't itself protected (conventionally the trailing AEAD
// tag), so the mask varies per packet without needing its own nonce
// field. This is a simplification of the original's construction (the
// exact algorithm lives in a zerotier-crypto header-protection routine
// not present in the retrieved source) but satisfies §4.7's requirement
// that session-id and counter not be visible to a passive observer.
func headerProtectionMask(key [AESHeaderProtKeySize]byte, sample [16]byte) ([16]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return [16]byte{}, fmt.Errorf("zssp: header protection cipher: %w", err)
	}
	var mask [16]byte
	block.Encrypt(mask[:], sample[:])
	return mask, nil
}

// ProtectHeader XORs the header-protection mask into header's session-id
// and counter fields in place. Calling it twice with the same sample
// reverses the obfuscation (XOR is its own inverse), so the same function
// serves both protect and unprotect.
func ProtectHeader(key [AESHeaderProtKeySize]byte, header []byte, sample [16]byte) error {
	if len(header) < HeaderProtectEnd {
		return fmt.Errorf("zssp: header too short to protect: %d bytes: %w", len(header), vl1err.OutOfBounds)
	}
	mask, err := headerProtectionMask(key, sample)
	if err != nil {
		return err
	}
	for i := HeaderProtectStart; i < HeaderProtectEnd; i++ {
		header[i] ^= mask[i-HeaderProtectStart]
	}
	return nil
}
