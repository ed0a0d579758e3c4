package identity

import (
	"encoding/binary"

	"github.com/vl1proto/vl1-go/internal/salsa"
)

// powThreshold is the maximum allowed value of byte 0 of the final digest
// produced by deriveWorkFunction for an address to be accepted. This must
// match upstream bit-for-bit to interoperate with existing identities
// (§6 "Protocol constants").
const powThreshold = 17

// genMemSize is the size of the memory-hard scratch arena: 2 MiB.
const genMemSize = 2 * 1024 * 1024

// deriveWorkFunction runs the memory-hard address-derivation function over
// a 64-byte SHA-512 digest (mutated and returned in place), per spec.md
// §4.1. Endianness and byte-level access of the arena are fixed so that
// independent implementations derive the same address from the same keys.
func deriveWorkFunction(digest *[64]byte) {
	var key [32]byte
	var nonce [8]byte
	copy(key[:], digest[0:32])
	copy(nonce[:], digest[32:40])
	cipher := salsa.New(20, &key, &nonce)

	genmem := make([]byte, genMemSize)

	// Fill the arena in 64-byte blocks; each block is the Salsa
	// encryption (keystream XOR) of the prior block, block 0 being the
	// encryption of an all-zero block.
	var prev [64]byte
	for off := 0; off < genMemSize; off += 64 {
		var ks [64]byte
		cipher.KeyStream(ks[:])
		var block [64]byte
		for i := 0; i < 64; i++ {
			block[i] = ks[i] ^ prev[i]
		}
		copy(genmem[off:off+64], block[:])
		prev = block
	}

	const numWords = genMemSize / 8 // 2 MiB viewed as u64 words

	for i := 0; i+16 <= genMemSize; i += 16 {
		idx1 := int(genmem[i+7]) % 8
		word2 := binary.BigEndian.Uint64(genmem[i+8 : i+16])
		idx2 := int(word2%uint64(numWords)) * 8

		// Swap an 8-byte digest word with an 8-byte arena word.
		var tmp [8]byte
		copy(tmp[:], digest[idx1*8:idx1*8+8])
		copy(digest[idx1*8:idx1*8+8], genmem[idx2:idx2+8])
		copy(genmem[idx2:idx2+8], tmp[:])

		// Re-encrypt the whole digest in place with the continuing
		// keystream.
		var ks [64]byte
		cipher.KeyStream(ks[:])
		for j := 0; j < 64; j++ {
			digest[j] ^= ks[j]
		}
	}
}
