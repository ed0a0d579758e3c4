package zssp

import (
	"bytes"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := &Envelope{
		PacketType: PacketTypeData,
		Dest:       SessionID(12345),
		Src:        SessionID(67890),
		Body:       []byte("payload bytes"),
	}
	parsed, err := ParseEnvelope(env.Marshal())
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	if parsed.PacketType != env.PacketType || parsed.Dest != env.Dest || parsed.Src != env.Src {
		t.Fatalf("envelope header mismatch: got %+v want %+v", parsed, env)
	}
	if !bytes.Equal(parsed.Body, env.Body) {
		t.Fatalf("envelope body mismatch: got %x want %x", parsed.Body, env.Body)
	}
}

func TestMessageWireRoundTrip(t *testing.T) {
	alice := mustGenerate(t)
	bob := mustGenerate(t)

	_, initMsg, err := AliceStartHandshake(alice, bob.P384.ECDHPub)
	if err != nil {
		t.Fatalf("alice start handshake: %v", err)
	}
	gotInit, err := UnmarshalAliceNoiseXKInitMessage(initMsg.Marshal())
	if err != nil {
		t.Fatalf("unmarshal init: %v", err)
	}
	if gotInit.AliceSessionID != initMsg.AliceSessionID {
		t.Fatalf("init session id mismatch")
	}
	if !bytes.Equal(gotInit.EncryptedBlock, initMsg.EncryptedBlock) {
		t.Fatalf("init encrypted block mismatch")
	}

	_, bobAck, err := BobProcessInit(bob, initMsg)
	if err != nil {
		t.Fatalf("bob process init: %v", err)
	}
	gotAck, err := UnmarshalBobNoiseXKAckMessage(bobAck.Marshal())
	if err != nil {
		t.Fatalf("unmarshal bob ack: %v", err)
	}
	if gotAck.BobSessionID != bobAck.BobSessionID {
		t.Fatalf("bob ack session id mismatch")
	}
	if !bytes.Equal(gotAck.BobHKCiphertext, bobAck.BobHKCiphertext) {
		t.Fatalf("bob ack kyber ciphertext mismatch")
	}
}

func TestDataMessageWireRoundTrip(t *testing.T) {
	msg := &DataMessage{Counter: 42, Ciphertext: []byte("ciphertext bytes")}
	got, err := UnmarshalDataMessage(msg.Marshal())
	if err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if got.Counter != msg.Counter || !bytes.Equal(got.Ciphertext, msg.Ciphertext) {
		t.Fatalf("data message mismatch: got %+v want %+v", got, msg)
	}
}

func TestSessionManagerFullHandshakeAndData(t *testing.T) {
	alice := mustGenerate(t)
	bob := mustGenerate(t)

	aliceMgr := NewSessionManager()
	bobMgr := NewSessionManager()

	initMsg, err := aliceMgr.StartSession(alice, bob.P384.ECDHPub)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	bobAck, err := bobMgr.HandleInit(bob, initMsg)
	if err != nil {
		t.Fatalf("handle init: %v", err)
	}

	aliceAck, aliceKeys, err := aliceMgr.HandleBobAck(initMsg.AliceSessionID, bobAck, nil)
	if err != nil {
		t.Fatalf("handle bob ack: %v", err)
	}

	bobKeys, remote, err := bobMgr.HandleAliceAck(bobAck.BobSessionID, aliceAck, nil)
	if err != nil {
		t.Fatalf("handle alice ack: %v", err)
	}
	if remote.Address != alice.Address {
		t.Fatalf("bob recovered wrong peer identity")
	}

	gotAliceKeys, ok := aliceMgr.Keys(aliceKeys.LocalSessionID)
	if !ok || gotAliceKeys.SendKey != bobKeys.RecvKey {
		t.Fatalf("alice session keys not retrievable or mismatched")
	}

	msg, err := EncryptData(aliceKeys, 0, []byte("hello bob"))
	if err != nil {
		t.Fatalf("encrypt data: %v", err)
	}
	if err := bobMgr.AcceptCounter(bobKeys.LocalSessionID, msg.Counter); err != nil {
		t.Fatalf("accept counter: %v", err)
	}
	pt, err := DecryptData(bobKeys, msg)
	if err != nil {
		t.Fatalf("decrypt data: %v", err)
	}
	if string(pt) != "hello bob" {
		t.Fatalf("plaintext mismatch: %q", pt)
	}
}
