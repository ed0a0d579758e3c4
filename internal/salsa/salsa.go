// Package salsa implements the Salsa20 stream cipher core with a
// caller-supplied round count. golang.org/x/crypto/salsa20 only exposes the
// standard 20-round construction through its public API; both the identity
// proof-of-work derivation (20 rounds) and the V1 CIPHER_SALSA2012_POLY1305
// framing suite (12 rounds) need a parametric round count, so this core is
// hand-rolled the same way the original implementation hand-rolls a generic
// Salsa<ROUNDS> type rather than depending on a crate.
package salsa

import "encoding/binary"

const (
	blockSize = 64
	sigma0    = 0x61707865
	sigma1    = 0x3320646e
	sigma2    = 0x79622d32
	sigma3    = 0x6b206574
)

func rotl(x uint32, n uint) uint32 { return x<<n | x>>(32-n) }

// Core runs the Salsa20 core hash function for the given number of double
// rounds (rounds must be even: 20, 12, or 8) over a 16-word (64-byte) input
// block, writing the 64-byte output to out.
func Core(rounds int, in *[64]byte, out *[64]byte) {
	var x [16]uint32
	for i := 0; i < 16; i++ {
		x[i] = binary.LittleEndian.Uint32(in[i*4:])
	}
	orig := x

	for i := 0; i < rounds; i += 2 {
		x[4] ^= rotl(x[0]+x[12], 7)
		x[8] ^= rotl(x[4]+x[0], 9)
		x[12] ^= rotl(x[8]+x[4], 13)
		x[0] ^= rotl(x[12]+x[8], 18)

		x[9] ^= rotl(x[5]+x[1], 7)
		x[13] ^= rotl(x[9]+x[5], 9)
		x[1] ^= rotl(x[13]+x[9], 13)
		x[5] ^= rotl(x[1]+x[13], 18)

		x[14] ^= rotl(x[10]+x[6], 7)
		x[2] ^= rotl(x[14]+x[10], 9)
		x[6] ^= rotl(x[2]+x[14], 13)
		x[10] ^= rotl(x[6]+x[2], 18)

		x[3] ^= rotl(x[15]+x[11], 7)
		x[7] ^= rotl(x[3]+x[15], 9)
		x[11] ^= rotl(x[7]+x[3], 13)
		x[15] ^= rotl(x[11]+x[7], 18)

		x[1] ^= rotl(x[0]+x[3], 7)
		x[2] ^= rotl(x[1]+x[0], 9)
		x[3] ^= rotl(x[2]+x[1], 13)
		x[0] ^= rotl(x[3]+x[2], 18)

		x[6] ^= rotl(x[5]+x[4], 7)
		x[7] ^= rotl(x[6]+x[5], 9)
		x[4] ^= rotl(x[7]+x[6], 13)
		x[5] ^= rotl(x[4]+x[7], 18)

		x[11] ^= rotl(x[10]+x[9], 7)
		x[8] ^= rotl(x[11]+x[10], 9)
		x[9] ^= rotl(x[8]+x[11], 13)
		x[10] ^= rotl(x[9]+x[8], 18)

		x[12] ^= rotl(x[15]+x[14], 7)
		x[13] ^= rotl(x[12]+x[15], 9)
		x[14] ^= rotl(x[13]+x[12], 13)
		x[15] ^= rotl(x[14]+x[13], 18)
	}

	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint32(out[i*4:], x[i]+orig[i])
	}
}

// Cipher is a Salsa20/R keystream generator with expanded 256-bit key and
// a 64-bit nonce (the classic Salsa20 layout: 8 constant bytes, two 16-byte
// key halves, 8-byte nonce, 8-byte counter, arranged into 16 little-endian
// words as sigma0|k0|sigma1|nonce|counter|sigma2|k1|sigma3).
type Cipher struct {
	rounds  int
	block   [64]byte
	counter uint64
	key     [32]byte
	nonce   [8]byte
	off     int
}

// New creates a Salsa20/rounds keystream generator for a 32-byte key and an
// 8-byte nonce, with the block counter starting at 0.
func New(rounds int, key *[32]byte, nonce *[8]byte) *Cipher {
	c := &Cipher{rounds: rounds}
	copy(c.key[:], key[:])
	copy(c.nonce[:], nonce[:])
	c.off = blockSize // force generation of the first block on first use
	return c
}

func (c *Cipher) genBlock() {
	var in [64]byte
	binary.LittleEndian.PutUint32(in[0:], sigma0)
	copy(in[4:20], c.key[0:16])
	binary.LittleEndian.PutUint32(in[20:], sigma1)
	copy(in[24:32], c.nonce[:])
	binary.LittleEndian.PutUint64(in[32:], c.counter)
	binary.LittleEndian.PutUint32(in[40:], sigma2)
	copy(in[44:60], c.key[16:32])
	binary.LittleEndian.PutUint32(in[60:], sigma3)

	Core(c.rounds, &in, &c.block)
	c.counter++
	c.off = 0
}

// KeyStream fills out with raw keystream bytes.
func (c *Cipher) KeyStream(out []byte) {
	for i := range out {
		if c.off >= blockSize {
			c.genBlock()
		}
		out[i] = c.block[c.off]
		c.off++
	}
}

// XORKeyStream XORs src with the keystream into dst (dst and src may
// overlap exactly, as with crypto/cipher.Stream implementations).
func (c *Cipher) XORKeyStream(dst, src []byte) {
	for i := range src {
		if c.off >= blockSize {
			c.genBlock()
		}
		dst[i] = src[i] ^ c.block[c.off]
		c.off++
	}
}
