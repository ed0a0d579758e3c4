package zssp

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/vl1proto/vl1-go/vl1err"
)

var dataAD = []byte(protocolName + ":data")

func dataNonce(counter uint64) [AESGCMNonceSize]byte {
	var n [AESGCMNonceSize]byte
	binary.BigEndian.PutUint64(n[AESGCMNonceSize-8:], counter)
	return n
}

// EncryptData seals plaintext for the data channel under keys.SendKey,
// with the nonce derived from counter rather than drawn at random: ZSSP
// sessions never reuse a (key, counter) pair because the counter strictly
// increases for the lifetime of one SendKey and a rekey always replaces
// it (§4.6).
func EncryptData(keys *SessionKeys, counter uint64, plaintext []byte) (*DataMessage, error) {
	block, err := aes.NewCipher(keys.SendKey[:])
	if err != nil {
		return nil, fmt.Errorf("zssp: encrypt data: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("zssp: encrypt data: %w", err)
	}
	nonce := dataNonce(counter)
	ct := gcm.Seal(nil, nonce[:], plaintext, dataAD)
	return &DataMessage{Counter: counter, Ciphertext: ct}, nil
}

// DecryptData opens a DataMessage under keys.RecvKey. Callers must run
// msg.Counter through SessionManager.AcceptCounter before (or after, but
// before trusting the plaintext) calling this, since AEAD verification
// alone does not reject a replayed-but-still-authentic counter (§8.10).
func DecryptData(keys *SessionKeys, msg *DataMessage) ([]byte, error) {
	block, err := aes.NewCipher(keys.RecvKey[:])
	if err != nil {
		return nil, fmt.Errorf("zssp: decrypt data: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("zssp: decrypt data: %w", err)
	}
	nonce := dataNonce(msg.Counter)
	pt, err := gcm.Open(nil, nonce[:], msg.Ciphertext, dataAD)
	if err != nil {
		return nil, fmt.Errorf("zssp: decrypt data: open failed (auth): %w: %w", vl1err.AuthenticationFailed, err)
	}
	return pt, nil
}
