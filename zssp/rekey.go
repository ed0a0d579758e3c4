package zssp

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"fmt"

	"github.com/vl1proto/vl1-go/vl1/identity"
	"github.com/vl1proto/vl1-go/vl1err"
)

// Rekey (§4.6) refreshes a session's traffic keys without a full Noise_XK
// round trip: each side contributes a fresh P-384 ephemeral, AES-GCM-sealed
// under the current send key, and the resulting ECDH shared secret is mixed
// into the session's ratchet chain (KBKDFLabelRatchet) the same way
// deriveRatchetSecret already advances it on a plain counter-triggered
// ratchet. RekeyAck additionally carries a SHA-384 fingerprint of the next
// secret so the initiator can confirm both sides derived the same thing
// before switching traffic keys, per spec.md §4.6.

// RekeyInitMessage is the wire-ready rekey-initiation message: a fresh
// P-384 ephemeral public key, AES-GCM-sealed under the current session
// send key.
type RekeyInitMessage struct {
	Ciphertext []byte
}

// RekeyAckMessage returns the responder's fresh ephemeral plus a
// fingerprint of the next ratcheted secret, sealed the same way.
type RekeyAckMessage struct {
	Ciphertext []byte
}

var rekeyInitAD = []byte(protocolName + ":rekey-init")
var rekeyAckAD = []byte(protocolName + ":rekey-ack")

// RekeyState tracks this side's in-progress rekey between sending
// RekeyInit and processing the matching RekeyAck.
type RekeyState struct {
	localE *ecdh.PrivateKey
}

// BuildRekeyInit starts a rekey. ZSSP does not distinguish Alice/Bob
// roles for rekey: whichever side hits the counter high-water mark or
// age threshold first (§4.6) may initiate.
func BuildRekeyInit(keys *SessionKeys) (*RekeyState, *RekeyInitMessage, error) {
	e, err := ecdh.P384().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: rekey init: generate ephemeral: %w", err)
	}
	ct, err := aeadSeal(keys.SendKey, rekeyInitAD, e.PublicKey().Bytes())
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: rekey init: encrypt: %w", err)
	}
	return &RekeyState{localE: e}, &RekeyInitMessage{Ciphertext: ct}, nil
}

// nextRatchetBase mixes the ephemeral-ephemeral ECDH shared secret into
// the session's current ratchet chain, producing the base secret both
// sides will derive matching fingerprints and traffic keys from.
func nextRatchetBase(keys *SessionKeys, shared []byte) [BaseKeySize]byte {
	mixed := append(append([]byte{}, keys.ratchetSecret[:]...), shared...)
	return deriveRatchetSecret(mixed)
}

func rekeyFingerprint(nextBase [BaseKeySize]byte) [48]byte {
	return sha512.Sum384(nextBase[:])
}

// rekeyedSessionKeys derives fresh traffic keys from nextBase, preserving
// session ids, header protection key, and each side's traffic direction
// (aliceIsLocal) from the session being rekeyed.
func rekeyedSessionKeys(old *SessionKeys, nextBase [BaseKeySize]byte) *SessionKeys {
	aliceToBob := deriveKey(nextBase[:], KBKDFLabelAliceToBob)
	bobToAlice := deriveKey(nextBase[:], KBKDFLabelBobToAlice)
	keys := &SessionKeys{
		LocalSessionID:  old.LocalSessionID,
		RemoteSessionID: old.RemoteSessionID,
		HeaderProtKey:   old.HeaderProtKey,
		aliceIsLocal:    old.aliceIsLocal,
	}
	if old.aliceIsLocal {
		keys.SendKey = aliceToBob
		keys.RecvKey = bobToAlice
	} else {
		keys.SendKey = bobToAlice
		keys.RecvKey = aliceToBob
	}
	copy(keys.ratchetSecret[:], nextBase[:])
	return keys
}

// ProcessRekeyInit answers a peer's RekeyInit: it decrypts their
// ephemeral, generates its own, derives the next ratchet base from the
// shared ECDH, and returns the ack plus the SessionKeys to switch to.
func ProcessRekeyInit(keys *SessionKeys, msg *RekeyInitMessage) (*SessionKeys, *RekeyAckMessage, error) {
	peerEBytes, err := aeadOpen(keys.RecvKey, rekeyInitAD, msg.Ciphertext)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: process rekey init: decrypt failed (auth): %w: %w", vl1err.AuthenticationFailed, err)
	}
	peerE, err := ecdh.P384().NewPublicKey(peerEBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: process rekey init: bad peer ephemeral: %w", err)
	}
	localE, err := ecdh.P384().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: process rekey init: generate ephemeral: %w", err)
	}
	shared, err := localE.ECDH(peerE)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: process rekey init: ecdh: %w", err)
	}

	nextBase := nextRatchetBase(keys, shared)
	fingerprint := rekeyFingerprint(nextBase)

	ackPlaintext := append(append([]byte{}, localE.PublicKey().Bytes()...), fingerprint[:]...)
	ct, err := aeadSeal(keys.SendKey, rekeyAckAD, ackPlaintext)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: process rekey init: encrypt ack: %w", err)
	}

	return rekeyedSessionKeys(keys, nextBase), &RekeyAckMessage{Ciphertext: ct}, nil
}

// ProcessRekeyAck completes a rekey this side initiated with
// BuildRekeyInit: it decrypts the peer's ephemeral and fingerprint,
// mixes the matching ECDH into the ratchet chain, checks the
// fingerprint to guard against a mismatched derivation, and returns the
// new SessionKeys.
func (rs *RekeyState) ProcessRekeyAck(keys *SessionKeys, msg *RekeyAckMessage) (*SessionKeys, error) {
	plaintext, err := aeadOpen(keys.RecvKey, rekeyAckAD, msg.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("zssp: process rekey ack: decrypt failed (auth): %w: %w", vl1err.AuthenticationFailed, err)
	}
	if len(plaintext) != identity.P384Size+48 {
		return nil, fmt.Errorf("zssp: process rekey ack: truncated plaintext: %w", vl1err.InvalidData)
	}
	peerEBytes := plaintext[:identity.P384Size]
	wantFingerprint := plaintext[identity.P384Size:]

	peerE, err := ecdh.P384().NewPublicKey(peerEBytes)
	if err != nil {
		return nil, fmt.Errorf("zssp: process rekey ack: bad peer ephemeral: %w", err)
	}
	shared, err := rs.localE.ECDH(peerE)
	if err != nil {
		return nil, fmt.Errorf("zssp: process rekey ack: ecdh: %w", err)
	}

	nextBase := nextRatchetBase(keys, shared)
	fingerprint := rekeyFingerprint(nextBase)
	if subtle.ConstantTimeCompare(fingerprint[:], wantFingerprint) != 1 {
		return nil, fmt.Errorf("zssp: process rekey ack: next-secret fingerprint mismatch: %w", vl1err.AuthenticationFailed)
	}

	return rekeyedSessionKeys(keys, nextBase), nil
}
