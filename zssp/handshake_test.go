package zssp

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/vl1proto/vl1-go/vl1/identity"
	"github.com/vl1proto/vl1-go/vl1err"
)

func mustGenerate(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	if !id.HasP384() {
		t.Fatalf("generated identity missing p384 block")
	}
	return id
}

// runHandshake drives a full Alice/Bob round trip and returns both sides'
// SessionKeys plus the identity Bob recovered from it.
func runHandshake(t *testing.T, alice, bob *identity.Identity) (*SessionKeys, *SessionKeys, *identity.Identity) {
	t.Helper()

	aliceHS, initMsg, err := AliceStartHandshake(alice, bob.P384.ECDHPub)
	if err != nil {
		t.Fatalf("alice start handshake: %v", err)
	}

	bobHS, bobAck, err := BobProcessInit(bob, initMsg)
	if err != nil {
		t.Fatalf("bob process init: %v", err)
	}

	aliceKeys, aliceAck, err := aliceHS.AliceFinish(bobAck, nil)
	if err != nil {
		t.Fatalf("alice finish: %v", err)
	}

	bobKeys, recovered, err := bobHS.BobFinish(aliceAck, nil)
	if err != nil {
		t.Fatalf("bob finish: %v", err)
	}

	return aliceKeys, bobKeys, recovered
}

func TestHandshakeRoundTrip(t *testing.T) {
	alice := mustGenerate(t)
	bob := mustGenerate(t)

	aliceKeys, bobKeys, recovered := runHandshake(t, alice, bob)

	if recovered.Address != alice.Address {
		t.Fatalf("bob recovered wrong identity: got %x want %x", recovered.Address, alice.Address)
	}
	if aliceKeys.SendKey != bobKeys.RecvKey {
		t.Fatalf("alice send key != bob recv key")
	}
	if aliceKeys.RecvKey != bobKeys.SendKey {
		t.Fatalf("alice recv key != bob send key")
	}
	if aliceKeys.LocalSessionID != bobKeys.RemoteSessionID {
		t.Fatalf("alice local session id != bob remote session id")
	}
	if bobKeys.LocalSessionID != aliceKeys.RemoteSessionID {
		t.Fatalf("bob local session id != alice remote session id")
	}
	if aliceKeys.HeaderProtKey != bobKeys.HeaderProtKey {
		t.Fatalf("header protection key did not agree")
	}
}

func TestHandshakeWithPSK(t *testing.T) {
	alice := mustGenerate(t)
	bob := mustGenerate(t)
	psk := bytes.Repeat([]byte{0x42}, 32)

	aliceHS, initMsg, err := AliceStartHandshake(alice, bob.P384.ECDHPub)
	if err != nil {
		t.Fatalf("alice start handshake: %v", err)
	}
	bobHS, bobAck, err := BobProcessInit(bob, initMsg)
	if err != nil {
		t.Fatalf("bob process init: %v", err)
	}
	aliceKeys, aliceAck, err := aliceHS.AliceFinish(bobAck, psk)
	if err != nil {
		t.Fatalf("alice finish: %v", err)
	}
	bobKeys, _, err := bobHS.BobFinish(aliceAck, psk)
	if err != nil {
		t.Fatalf("bob finish: %v", err)
	}
	if aliceKeys.SendKey != bobKeys.RecvKey {
		t.Fatalf("psk handshake: keys did not agree")
	}

	// Mismatched PSKs on each side must not agree on the outer key, so
	// Bob's AEAD open over the outer block fails authentication.
	aliceHS2, initMsg2, err := AliceStartHandshake(alice, bob.P384.ECDHPub)
	if err != nil {
		t.Fatalf("alice start handshake 2: %v", err)
	}
	bobHS2, bobAck2, err := BobProcessInit(bob, initMsg2)
	if err != nil {
		t.Fatalf("bob process init 2: %v", err)
	}
	_, aliceAck2, err := aliceHS2.AliceFinish(bobAck2, psk)
	if err != nil {
		t.Fatalf("alice finish 2: %v", err)
	}
	_, _, err = bobHS2.BobFinish(aliceAck2, bytes.Repeat([]byte{0x99}, 32))
	if !errors.Is(err, vl1err.AuthenticationFailed) {
		t.Fatalf("expected authentication failure on mismatched psk, got %v", err)
	}
}

func TestHandshakeTruncatedInitRejected(t *testing.T) {
	alice := mustGenerate(t)
	bob := mustGenerate(t)

	_, initMsg, err := AliceStartHandshake(alice, bob.P384.ECDHPub)
	if err != nil {
		t.Fatalf("alice start handshake: %v", err)
	}
	initMsg.EncryptedBlock = initMsg.EncryptedBlock[:len(initMsg.EncryptedBlock)-4]

	_, _, err = BobProcessInit(bob, initMsg)
	if err == nil {
		t.Fatalf("expected truncated handshake packet to be rejected")
	}
}

func TestHandshakeCorruptedAckRejected(t *testing.T) {
	alice := mustGenerate(t)
	bob := mustGenerate(t)

	aliceHS, initMsg, err := AliceStartHandshake(alice, bob.P384.ECDHPub)
	if err != nil {
		t.Fatalf("alice start handshake: %v", err)
	}
	bobHS, bobAck, err := BobProcessInit(bob, initMsg)
	if err != nil {
		t.Fatalf("bob process init: %v", err)
	}
	_, aliceAck, err := aliceHS.AliceFinish(bobAck, nil)
	if err != nil {
		t.Fatalf("alice finish: %v", err)
	}

	aliceAck.InnerBlock[0] ^= 0xff
	_, _, err = bobHS.BobFinish(aliceAck, nil)
	if !errors.Is(err, vl1err.AuthenticationFailed) {
		t.Fatalf("expected authentication failure on corrupted inner block, got %v", err)
	}
}

// TestHandshakeThenReorderedDataPackets mirrors the "handshake followed by
// reordered data" scenario: once a session is established, 100 data
// packets sent in shuffled order must all be accepted exactly once.
func TestHandshakeThenReorderedDataPackets(t *testing.T) {
	alice := mustGenerate(t)
	bob := mustGenerate(t)
	aliceKeys, bobKeys, _ := runHandshake(t, alice, bob)

	const n = 100
	msgs := make([]*DataMessage, n)
	for i := 0; i < n; i++ {
		msg, err := EncryptData(aliceKeys, uint64(i), []byte("payload"))
		if err != nil {
			t.Fatalf("encrypt data %d: %v", i, err)
		}
		msgs[i] = msg
	}

	order := rand.New(rand.NewSource(1)).Perm(n)

	var window ReplayWindow
	for _, idx := range order {
		if err := window.Accept(msgs[idx].Counter); err != nil {
			t.Fatalf("reordered counter %d rejected: %v", msgs[idx].Counter, err)
		}
		pt, err := DecryptData(bobKeys, msgs[idx])
		if err != nil {
			t.Fatalf("decrypt data %d: %v", msgs[idx].Counter, err)
		}
		if string(pt) != "payload" {
			t.Fatalf("plaintext mismatch for counter %d", msgs[idx].Counter)
		}
	}

	// Replaying any one of them again must now be rejected.
	if err := window.Accept(msgs[0].Counter); err == nil {
		t.Fatalf("expected replay of counter %d to be rejected", msgs[0].Counter)
	}
}

func TestRekeyRoundTrip(t *testing.T) {
	alice := mustGenerate(t)
	bob := mustGenerate(t)
	aliceKeys, bobKeys, _ := runHandshake(t, alice, bob)

	rs, initMsg, err := BuildRekeyInit(aliceKeys)
	if err != nil {
		t.Fatalf("build rekey init: %v", err)
	}

	newBobKeys, ackMsg, err := ProcessRekeyInit(bobKeys, initMsg)
	if err != nil {
		t.Fatalf("process rekey init: %v", err)
	}

	newAliceKeys, err := rs.ProcessRekeyAck(aliceKeys, ackMsg)
	if err != nil {
		t.Fatalf("process rekey ack: %v", err)
	}

	if newAliceKeys.SendKey != newBobKeys.RecvKey {
		t.Fatalf("rekeyed alice send key != bob recv key")
	}
	if newAliceKeys.RecvKey != newBobKeys.SendKey {
		t.Fatalf("rekeyed alice recv key != bob send key")
	}
	if newAliceKeys.SendKey == aliceKeys.SendKey {
		t.Fatalf("rekey did not actually rotate the send key")
	}
}

func TestRekeyAckCorruptedRejected(t *testing.T) {
	alice := mustGenerate(t)
	bob := mustGenerate(t)
	aliceKeys, bobKeys, _ := runHandshake(t, alice, bob)

	rs, initMsg, err := BuildRekeyInit(aliceKeys)
	if err != nil {
		t.Fatalf("build rekey init: %v", err)
	}
	_, ackMsg, err := ProcessRekeyInit(bobKeys, initMsg)
	if err != nil {
		t.Fatalf("process rekey init: %v", err)
	}

	ackMsg.Ciphertext[0] ^= 0xff
	if _, err := rs.ProcessRekeyAck(aliceKeys, ackMsg); !errors.Is(err, vl1err.AuthenticationFailed) {
		t.Fatalf("expected corrupted rekey ack to fail authentication, got %v", err)
	}
}
