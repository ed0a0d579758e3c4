package framing

import (
	"crypto/subtle"

	"golang.org/x/crypto/poly1305"

	"github.com/vl1proto/vl1-go/internal/salsa"
)

// salsaPolyCreate derives the per-packet Salsa20/12 instance and Poly1305
// one-time key per §4.4.1: the peer's symmetric key XOR'ed with header bytes
// 0..18, then byte 18 with the hop-masked flags byte, bytes 19-20 with the
// little-endian packet size. The nonce is the header's id field. The first
// 32 keystream bytes become the Poly1305 key; the cipher is returned still
// positioned to continue the stream into the payload.
func salsaPolyCreate(secret *SymmetricSecret, header *PacketHeader, packetSize int) (*salsa.Cipher, [32]byte) {
	key := secret.Key
	hb := header.Bytes()
	for i := 0; i < 18; i++ {
		key[i] ^= hb[i]
	}
	key[18] ^= header.MaskedFlagsCipherHops()
	key[19] ^= byte(packetSize)
	key[20] ^= byte(packetSize >> 8)

	c := salsa.New(12, &key, &header.ID)
	var otk [32]byte
	c.KeyStream(otk[:])
	return c, otk
}

// EncryptSalsaPoly encrypts payload in place (unless the suite is
// CIPHER_NOCRYPT_POLY1305, in which case it is left untouched) and returns
// the first 8 bytes of the Poly1305 tag to store in header.MAC. packetSize
// is HeaderSize+len(payload).
func EncryptSalsaPoly(secret *SymmetricSecret, header *PacketHeader, payload []byte, packetSize int) [8]byte {
	c, otk := salsaPolyCreate(secret, header, packetSize)
	if header.Cipher() == CipherSalsa2012Poly1305 {
		c.XORKeyStream(payload, payload)
	}
	var sum [16]byte
	poly1305.Sum(&sum, payload, &otk)
	var mac [8]byte
	copy(mac[:], sum[:8])
	return mac
}

// DecryptSalsaPoly verifies the Poly1305 tag over payload (still the raw
// wire bytes) and, if valid and the suite calls for decryption, decrypts
// payload in place. packetSize is HeaderSize+len(payload). ok is false on
// any MAC mismatch.
func DecryptSalsaPoly(secret *SymmetricSecret, header *PacketHeader, payload []byte, packetSize int) (ok bool) {
	c, otk := salsaPolyCreate(secret, header, packetSize)
	var sum [16]byte
	poly1305.Sum(&sum, payload, &otk)
	if subtle.ConstantTimeCompare(sum[:8], header.MAC[:]) != 1 {
		return false
	}
	if header.Cipher() == CipherSalsa2012Poly1305 {
		c.XORKeyStream(payload, payload)
	}
	return true
}
