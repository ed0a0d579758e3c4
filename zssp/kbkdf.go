package zssp

import (
	"crypto/sha512"
	"io"

	"golang.org/x/crypto/hkdf"
)

// deriveKey expands secret (the Noise chaining key / mixed handshake
// secret) into an AES-256 key for the given usage label, the same
// HKDF-SHA-based expansion pattern ntor/ntor.go uses for its own
// protocol-name-salted key derivation, generalized to ZSSP's
// single-byte KBKDF usage labels (§4.6) in place of ntor's "expand"
// string constant.
func deriveKey(secret []byte, label byte) [AES256KeySize]byte {
	info := append([]byte(protocolName+":"), label)
	kdf := hkdf.New(sha512.New384, secret, nil, info)
	var out [AES256KeySize]byte
	_, _ = io.ReadFull(kdf, out[:])
	return out
}

// deriveRatchetSecret derives the next session's base secret from the
// current one, per the 'R' ratchet-chain label (§4.6).
func deriveRatchetSecret(secret []byte) [BaseKeySize]byte {
	info := append([]byte(protocolName+":"), byte(KBKDFLabelRatchet))
	kdf := hkdf.New(sha512.New384, secret, nil, info)
	var out [BaseKeySize]byte
	_, _ = io.ReadFull(kdf, out[:])
	return out
}
