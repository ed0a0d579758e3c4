package zssp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/mlkem"
	"crypto/rand"
	"crypto/sha512"
	"fmt"

	"github.com/vl1proto/vl1-go/vl1/identity"
	"github.com/vl1proto/vl1-go/vl1err"
)

// symmetricState tracks the running Noise transcript hash and chaining
// key, the way ntor/ntor.go accumulates secretInput across the
// handshake before a single HKDF expansion — generalized here into the
// incremental mix-hash/mix-key steps a multi-message Noise pattern needs.
type symmetricState struct {
	h  [48]byte
	ck [48]byte
}

func newSymmetricState() *symmetricState {
	s := &symmetricState{}
	s.h = InitialH
	s.ck = InitialH
	return s
}

func (s *symmetricState) mixHash(data []byte) {
	h := sha512.New384()
	h.Write(s.h[:])
	h.Write(data)
	copy(s.h[:], h.Sum(nil))
}

// mixKey folds new key material (an ECDH or KEM shared secret) into the
// chaining key and returns a fresh 32-byte AEAD key for the steps that
// follow, HKDF-SHA384-expanded with the current ck as salt.
func (s *symmetricState) mixKey(ikm []byte) [32]byte {
	combined := deriveHKDF(s.ck[:], ikm, 80)
	copy(s.ck[:], combined[:48])
	var k [32]byte
	copy(k[:], combined[48:80])
	return k
}

func (s *symmetricState) encryptAndHash(key [32]byte, plaintext []byte) ([]byte, error) {
	ct, err := aeadSeal(key, s.h[:], plaintext)
	if err != nil {
		return nil, err
	}
	s.mixHash(ct)
	return ct, nil
}

func (s *symmetricState) decryptAndHash(key [32]byte, ciphertext []byte) ([]byte, error) {
	pt, err := aeadOpen(key, s.h[:], ciphertext)
	if err != nil {
		return nil, err
	}
	s.mixHash(ciphertext)
	return pt, nil
}

func aeadSeal(key [32]byte, ad, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	var nonce [AESGCMNonceSize]byte // zero nonce: each handshake step uses a freshly derived key
	return gcm.Seal(nil, nonce[:], plaintext, ad), nil
}

func aeadOpen(key [32]byte, ad, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	var nonce [AESGCMNonceSize]byte
	return gcm.Open(nil, nonce[:], ciphertext, ad)
}

// deriveHKDF expands n bytes via HKDF-SHA384 with salt/ikm swapped into
// golang.org/x/crypto/hkdf's (hash, secret, salt, info) argument order.
func deriveHKDF(salt, ikm []byte, n int) []byte {
	kdf := hkdfReader(salt, ikm)
	out := make([]byte, n)
	_, _ = kdf.Read(out)
	return out
}

// SessionKeys is the result of a completed handshake: the AEAD keys for
// each traffic direction, the header-protection key, and both sides'
// session ids for data-packet routing (§4.6).
type SessionKeys struct {
	LocalSessionID  SessionID
	RemoteSessionID SessionID
	HeaderProtKey   [AESHeaderProtKeySize]byte
	SendKey         [32]byte
	RecvKey         [32]byte
	ratchetSecret   [48]byte
	aliceIsLocal    bool
}

// AliceHandshake is Alice's (the initiator's) in-progress handshake
// state between sending AliceNoiseXKInit and processing BobNoiseXKAck.
type AliceHandshake struct {
	sym         *symmetricState
	selfID      *identity.Identity
	bobStatic   *ecdh.PublicKey
	aliceE      *ecdh.PrivateKey
	aliceHK     *mlkem.DecapsulationKey1024
	localSessID SessionID
	hpk         [AESHeaderProtKeySize]byte
}

// AliceNoiseXKInitMessage is the wire-ready first handshake message.
type AliceNoiseXKInitMessage struct {
	AliceEPub       []byte // P-384 uncompressed point
	AliceSessionID  SessionID
	AliceHKPublic   []byte // Kyber1024/ML-KEM-1024 encapsulation key
	HeaderProtKey   [AESHeaderProtKeySize]byte
	EncryptedBlock  []byte // enc(session_id || hk_pub || header_protection_key)
}

// AliceStartHandshake builds AliceNoiseXKInit against bobStaticP384Pub
// (Bob's long-term P-384 ECDH public key, from his Identity).
func AliceStartHandshake(self *identity.Identity, bobStaticP384Pub [identity.P384Size]byte) (*AliceHandshake, *AliceNoiseXKInitMessage, error) {
	bobPub, err := ecdh.P384().NewPublicKey(bobStaticP384Pub[:])
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: alice init: bad bob static key: %w", err)
	}
	aliceE, err := ecdh.P384().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: alice init: generate ephemeral: %w", err)
	}
	aliceHK, err := mlkem.GenerateKey1024()
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: alice init: generate kyber keypair: %w", err)
	}
	sessID, err := NewSessionID()
	if err != nil {
		return nil, nil, err
	}
	var hpk [AESHeaderProtKeySize]byte
	if _, err := rand.Read(hpk[:]); err != nil {
		return nil, nil, fmt.Errorf("zssp: alice init: generate header protection key: %w", err)
	}

	sym := newSymmetricState()
	sym.mixHash(aliceE.PublicKey().Bytes())

	es, err := aliceE.ECDH(bobPub)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: alice init: es ecdh: %w", err)
	}
	k := sym.mixKey(es)

	sessIDBytes := sessID.Bytes()
	hkPubBytes := aliceHK.EncapsulationKey().Bytes()
	plaintext := make([]byte, 0, SessionIDSize+len(hkPubBytes)+AESHeaderProtKeySize)
	plaintext = append(plaintext, sessIDBytes[:]...)
	plaintext = append(plaintext, hkPubBytes...)
	plaintext = append(plaintext, hpk[:]...)

	enc, err := sym.encryptAndHash(k, plaintext)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: alice init: encrypt: %w", err)
	}

	hs := &AliceHandshake{
		sym:         sym,
		selfID:      self,
		bobStatic:   bobPub,
		aliceE:      aliceE,
		aliceHK:     aliceHK,
		localSessID: sessID,
		hpk:         hpk,
	}
	msg := &AliceNoiseXKInitMessage{
		AliceEPub:      aliceE.PublicKey().Bytes(),
		AliceSessionID: sessID,
		AliceHKPublic:  hkPubBytes,
		HeaderProtKey:  hpk,
		EncryptedBlock: enc,
	}
	return hs, msg, nil
}

// BobHandshake is Bob's (the responder's) in-progress handshake state
// between processing AliceNoiseXKInit and processing AliceNoiseXKAck.
type BobHandshake struct {
	sym           *symmetricState
	self          *identity.Identity
	aliceEPub     *ecdh.PublicKey
	bobE          *ecdh.PrivateKey
	aliceSessID   SessionID
	localSessID   SessionID
	hpk           [AESHeaderProtKeySize]byte
	kyberShared   []byte
}

// BobNoiseXKAckMessage is the wire-ready second handshake message.
type BobNoiseXKAckMessage struct {
	BobEPub         []byte
	BobSessionID    SessionID
	BobHKCiphertext []byte
	EncryptedBlock  []byte
}

// BobProcessInit processes an AliceNoiseXKInit addressed to self, whose
// static P-384 private key is self.Secret.P384.ECDHPriv.
func BobProcessInit(self *identity.Identity, msg *AliceNoiseXKInitMessage) (*BobHandshake, *BobNoiseXKAckMessage, error) {
	if self.Secret == nil || self.Secret.P384 == nil {
		return nil, nil, fmt.Errorf("zssp: bob process init: self has no p384 secret")
	}
	aliceEPub, err := ecdh.P384().NewPublicKey(msg.AliceEPub)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: bob process init: bad alice ephemeral: %w", err)
	}
	bobStaticPriv, err := ecdh.P384().NewPrivateKey(self.Secret.P384.ECDHPriv[:])
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: bob process init: bad self static key: %w", err)
	}

	sym := newSymmetricState()
	sym.mixHash(msg.AliceEPub)

	es, err := bobStaticPriv.ECDH(aliceEPub)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: bob process init: es ecdh: %w", err)
	}
	k := sym.mixKey(es)

	plaintext, err := sym.decryptAndHash(k, msg.EncryptedBlock)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: bob process init: decrypt failed (auth): %w: %w", vl1err.AuthenticationFailed, err)
	}
	if len(plaintext) < SessionIDSize+AESHeaderProtKeySize {
		return nil, nil, fmt.Errorf("zssp: bob process init: truncated plaintext: %w", vl1err.InvalidData)
	}
	aliceSessID, err := SessionIDFromBytes(plaintext[0:SessionIDSize])
	if err != nil {
		return nil, nil, err
	}
	aliceHKPubBytes := plaintext[SessionIDSize : len(plaintext)-AESHeaderProtKeySize]
	var hpk [AESHeaderProtKeySize]byte
	copy(hpk[:], plaintext[len(plaintext)-AESHeaderProtKeySize:])

	aliceHKPub, err := mlkem.NewEncapsulationKey1024(aliceHKPubBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: bob process init: bad kyber public key: %w", err)
	}
	kyberShared, kyberCT := aliceHKPub.Encapsulate()

	bobE, err := ecdh.P384().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: bob process init: generate ephemeral: %w", err)
	}
	sym.mixHash(bobE.PublicKey().Bytes())

	ee, err := bobE.ECDH(aliceEPub)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: bob process init: ee ecdh: %w", err)
	}
	k2 := sym.mixKey(ee)

	localSessID, err := NewSessionID()
	if err != nil {
		return nil, nil, err
	}
	localSessIDBytes := localSessID.Bytes()
	ackPlaintext := make([]byte, 0, SessionIDSize+len(kyberCT))
	ackPlaintext = append(ackPlaintext, localSessIDBytes[:]...)
	ackPlaintext = append(ackPlaintext, kyberCT...)

	enc, err := sym.encryptAndHash(k2, ackPlaintext)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: bob process init: encrypt: %w", err)
	}

	hs := &BobHandshake{
		sym:         sym,
		self:        self,
		aliceEPub:   aliceEPub,
		bobE:        bobE,
		aliceSessID: aliceSessID,
		localSessID: localSessID,
		hpk:         hpk,
		kyberShared: kyberShared,
	}
	ackMsg := &BobNoiseXKAckMessage{
		BobEPub:         bobE.PublicKey().Bytes(),
		BobSessionID:    localSessID,
		BobHKCiphertext: kyberCT,
		EncryptedBlock:  enc,
	}
	return hs, ackMsg, nil
}

// AliceNoiseXKAckMessage is the wire-ready third (final) handshake
// message: Alice's static P-384 public key sealed under the inner key
// (es||ee||hk), followed by her full identity blob sealed under the
// outer key (es||ee||se||hk||psk) once se is mixed in (§4.6).
type AliceNoiseXKAckMessage struct {
	InnerBlock []byte
	OuterBlock []byte
}

// AliceFinish processes BobNoiseXKAck, mixes in the Kyber shared secret,
// then Alice's own static key (se), and derives the final SessionKeys.
// The returned AliceNoiseXKAckMessage carries Alice's static public key
// and full identity in two AEAD blocks so Bob can recover se (which
// needs Alice's static public key) before he can authenticate the rest.
func (hs *AliceHandshake) AliceFinish(ack *BobNoiseXKAckMessage, psk []byte) (*SessionKeys, *AliceNoiseXKAckMessage, error) {
	if hs.selfID.Secret == nil || hs.selfID.Secret.P384 == nil {
		return nil, nil, fmt.Errorf("zssp: alice finish: self has no p384 secret")
	}
	bobEPub, err := ecdh.P384().NewPublicKey(ack.BobEPub)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: alice finish: bad bob ephemeral: %w", err)
	}
	hs.sym.mixHash(ack.BobEPub)

	ee, err := hs.aliceE.ECDH(bobEPub)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: alice finish: ee ecdh: %w", err)
	}
	k2 := hs.sym.mixKey(ee)

	plaintext, err := hs.sym.decryptAndHash(k2, ack.EncryptedBlock)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: alice finish: decrypt failed (auth): %w: %w", vl1err.AuthenticationFailed, err)
	}
	if len(plaintext) < SessionIDSize {
		return nil, nil, fmt.Errorf("zssp: alice finish: truncated plaintext: %w", vl1err.InvalidData)
	}
	bobSessID, err := SessionIDFromBytes(plaintext[0:SessionIDSize])
	if err != nil {
		return nil, nil, err
	}
	kyberCT := plaintext[SessionIDSize:]

	kyberShared, err := hs.aliceHK.Decapsulate(kyberCT)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: alice finish: kyber decapsulate: %w", err)
	}
	kInner := hs.sym.mixKey(kyberShared) // hk

	innerBlock, err := hs.sym.encryptAndHash(kInner, hs.selfID.P384.ECDHPub[:])
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: alice finish: encrypt inner block: %w", err)
	}

	aliceStaticPriv, err := ecdh.P384().NewPrivateKey(hs.selfID.Secret.P384.ECDHPriv[:])
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: alice finish: bad self static key: %w", err)
	}
	se, err := aliceStaticPriv.ECDH(bobEPub)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: alice finish: se ecdh: %w", err)
	}
	kOuter := hs.sym.mixKey(se)
	if psk != nil {
		kOuter = hs.sym.mixKey(psk)
	}

	staticBlob, err := identity.MarshalBinary(hs.selfID, false)
	if err != nil {
		return nil, nil, err
	}
	outerBlock, err := hs.sym.encryptAndHash(kOuter, staticBlob)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: alice finish: encrypt outer block: %w", err)
	}

	keys := finalizeSessionKeys(hs.sym, hs.localSessID, bobSessID, hs.hpk, true)
	return keys, &AliceNoiseXKAckMessage{InnerBlock: innerBlock, OuterBlock: outerBlock}, nil
}

// BobFinish processes AliceNoiseXKAck: it decrypts the inner block to
// learn Alice's static P-384 public key, uses it (with Bob's own
// ephemeral private key) to compute se — the same shared secret Alice
// derived from her static private key and Bob's ephemeral public key —
// then decrypts the outer block to recover and verify Alice's full
// identity, and derives the matching SessionKeys on Bob's side.
func (hs *BobHandshake) BobFinish(ack *AliceNoiseXKAckMessage, psk []byte) (*SessionKeys, *identity.Identity, error) {
	kInner := hs.sym.mixKey(hs.kyberShared) // hk

	aliceStaticPubBytes, err := hs.sym.decryptAndHash(kInner, ack.InnerBlock)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: bob finish: decrypt inner block failed (auth): %w: %w", vl1err.AuthenticationFailed, err)
	}
	if len(aliceStaticPubBytes) != identity.P384Size {
		return nil, nil, fmt.Errorf("zssp: bob finish: bad alice static key length %d: %w", len(aliceStaticPubBytes), vl1err.InvalidData)
	}
	aliceStaticPub, err := ecdh.P384().NewPublicKey(aliceStaticPubBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: bob finish: bad alice static key: %w", err)
	}

	se, err := hs.bobE.ECDH(aliceStaticPub)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: bob finish: se ecdh: %w", err)
	}
	kOuter := hs.sym.mixKey(se)
	if psk != nil {
		kOuter = hs.sym.mixKey(psk)
	}

	plaintext, err := hs.sym.decryptAndHash(kOuter, ack.OuterBlock)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: bob finish: decrypt outer block failed (auth): %w: %w", vl1err.AuthenticationFailed, err)
	}
	aliceIdentity, err := identity.UnmarshalBinary(plaintext)
	if err != nil {
		return nil, nil, fmt.Errorf("zssp: bob finish: parse alice identity: %w", err)
	}
	if aliceIdentity.P384 == nil || aliceIdentity.P384.ECDHPub != [identity.P384Size]byte(aliceStaticPubBytes) {
		return nil, nil, fmt.Errorf("zssp: bob finish: alice identity does not bind the static key used for se: %w", vl1err.AuthenticationFailed)
	}

	keys := finalizeSessionKeys(hs.sym, hs.localSessID, hs.aliceSessID, hs.hpk, false)
	return keys, aliceIdentity, nil
}

func finalizeSessionKeys(sym *symmetricState, localSessID, remoteSessID SessionID, hpk [AESHeaderProtKeySize]byte, aliceIsLocal bool) *SessionKeys {
	aliceToBob := deriveKey(sym.ck[:], KBKDFLabelAliceToBob)
	bobToAlice := deriveKey(sym.ck[:], KBKDFLabelBobToAlice)
	keys := &SessionKeys{
		LocalSessionID:  localSessID,
		RemoteSessionID: remoteSessID,
		HeaderProtKey:   hpk,
	}
	if aliceIsLocal {
		keys.SendKey = aliceToBob
		keys.RecvKey = bobToAlice
	} else {
		keys.SendKey = bobToAlice
		keys.RecvKey = aliceToBob
	}
	keys.aliceIsLocal = aliceIsLocal
	copy(keys.ratchetSecret[:], sym.ck[:])
	return keys
}
