package framing

import (
	"encoding/binary"
	"fmt"

	"github.com/vl1proto/vl1-go/vl1"
	"github.com/vl1proto/vl1-go/vl1err"
)

// MessageHello is the verb value legal under CIPHER_NOCRYPT_POLY1305; no
// other message type may be sent unencrypted (§4.4, §7).
const MessageHello = 0x01

// Encrypt seals payload (the plaintext message envelope starting with the
// verb byte) for suite, filling in header.MAC (and, for AES-GMAC-SIV,
// header.ID) as a side effect. header's ID/Dest/Src/FlagsCipherHops must
// already be set by the caller except where noted.
func Encrypt(secret *SymmetricSecret, header *PacketHeader, payload []byte) ([]byte, error) {
	switch header.Cipher() {
	case CipherNoCryptPoly1305, CipherSalsa2012Poly1305:
		packetSize := HeaderSize + len(payload)
		header.MAC = EncryptSalsaPoly(secret, header, payload, packetSize)
		return payload, nil

	case CipherAESGMACSIV:
		aad := PacketAAD(header.Dest, header.Src, header.MaskedFlagsCipherHops())
		tag, ciphertext, err := EncryptAESGMACSIV(secret, aad, payload)
		if err != nil {
			return nil, err
		}
		copy(header.ID[:], tag[0:8])
		copy(header.MAC[:], tag[8:16])
		return ciphertext, nil

	default:
		return nil, fmt.Errorf("framing: encrypt: unknown cipher suite %#x: %w", header.Cipher(), vl1err.InvalidData)
	}
}

// Decrypt authenticates and, where applicable, decrypts payload (the raw
// wire bytes following the header, after fragment reassembly). It returns
// the plaintext message envelope and the packet id recovered from the
// header or, for AES-GMAC-SIV, from the synthetic tag. CIPHER_NOCRYPT_POLY1305
// is accepted only when the decrypted verb is MessageHello; all other verbs
// under that suite fail authentication per §4.4/§7.
func Decrypt(secret *SymmetricSecret, header *PacketHeader, payload []byte) (plaintext []byte, messageID uint64, ok bool, err error) {
	switch header.Cipher() {
	case CipherNoCryptPoly1305, CipherSalsa2012Poly1305:
		packetSize := HeaderSize + len(payload)
		if !DecryptSalsaPoly(secret, header, payload, packetSize) {
			return nil, 0, false, nil
		}
		if header.Cipher() == CipherNoCryptPoly1305 {
			if len(payload) == 0 || payload[0]&MessageTypeMask != MessageHello {
				return nil, 0, false, nil
			}
		}
		return payload, binary.BigEndian.Uint64(header.ID[:]), true, nil

	case CipherAESGMACSIV:
		aad := PacketAAD(header.Dest, header.Src, header.MaskedFlagsCipherHops())
		var tag [16]byte
		copy(tag[0:8], header.ID[:])
		copy(tag[8:16], header.MAC[:])
		pt, valid, err := DecryptAESGMACSIV(secret, tag, aad, payload)
		if err != nil {
			return nil, 0, false, err
		}
		if !valid {
			return nil, 0, false, nil
		}
		return pt, binary.BigEndian.Uint64(tag[0:8]), true, nil

	default:
		return nil, 0, false, fmt.Errorf("framing: decrypt: unknown cipher suite %#x: %w", header.Cipher(), vl1err.InvalidData)
	}
}

// ChooseCipher selects AES-GMAC-SIV for peers speaking protocol version 11+
// and Salsa/Poly otherwise (§4.4.2 step 2).
func ChooseCipher(remoteProtocolVersion int) byte {
	if remoteProtocolVersion >= 11 {
		return CipherAESGMACSIV
	}
	return CipherSalsa2012Poly1305
}

// SplitFragments divides a fully-encrypted packet (header + ciphertext
// payload) into wire-ready chunks once it exceeds maxFragmentSize: the first
// chunk is the unframed header+payload prefix up to the MTU, and each
// subsequent chunk is prefixed with a FragmentHeader (§4.4.2 step 5,
// capped at MaxFragmentCount).
func SplitFragments(full []byte, mtu int) ([][]byte, error) {
	if len(full) <= mtu {
		return [][]byte{full}, nil
	}
	if mtu <= HeaderSize {
		return nil, fmt.Errorf("framing: split: mtu %d too small for header: %w", mtu, vl1err.InvalidData)
	}

	var id [8]byte
	copy(id[:], full[0:8])
	var dest vl1.Address
	copy(dest[:], full[8:8+vl1.AddressSize])

	chunks := [][]byte{full[:mtu]}
	pos := mtu
	chunkPayload := mtu - HeaderSize

	overrun := len(full) - mtu
	fragCount := overrun / chunkPayload
	if overrun%chunkPayload != 0 {
		fragCount++
	}
	total := fragCount + 1
	if total > MaxFragmentCount {
		return nil, fmt.Errorf("framing: split: packet needs %d fragments, max is %d: %w", total, MaxFragmentCount, vl1err.OutOfBounds)
	}

	for no := 1; pos < len(full); no++ {
		end := pos + chunkPayload
		if end > len(full) {
			end = len(full)
		}
		fh := NewFragmentHeader(id, dest, total, no)
		b := make([]byte, 0, FragmentHeaderSize+(end-pos))
		b = append(b, fh.Bytes()...)
		b = append(b, full[pos:end]...)
		chunks = append(chunks, b)
		pos = end
	}
	return chunks, nil
}
