package zssp

import (
	"fmt"

	"github.com/vl1proto/vl1-go/internal/buf"
	"github.com/vl1proto/vl1-go/vl1err"
)

// Envelope is the routing wrapper a ZSSP packet wears on the wire, e.g.
// carried as a VL1 packet's USER_MESSAGE payload (§4.6, §4.7). PacketType
// is the version/type byte proto.go documents; Dest is the session id the
// receiver looks its state up by, Src is the sender's own id for the same
// conversation, echoed back so a reply can address it without either side
// re-deriving routing state from message bodies. Dest is the zero
// SessionID on AliceNoiseXKInit, since the responder has no prior state
// to look up yet.
type Envelope struct {
	PacketType byte
	Dest       SessionID
	Src        SessionID
	Body       []byte
}

// Marshal serializes the envelope, header followed by the opaque body.
func (e *Envelope) Marshal() []byte {
	b := buf.NewBuffer(make([]byte, 0, 1+SessionIDSize*2+len(e.Body)))
	_ = b.AppendByte(e.PacketType)
	dest := e.Dest.Bytes()
	_ = b.AppendBytes(dest[:])
	src := e.Src.Bytes()
	_ = b.AppendBytes(src[:])
	_ = b.AppendBytes(e.Body)
	return b.Bytes()
}

// ParseEnvelope splits a wire packet into its routing header and body.
func ParseEnvelope(data []byte) (*Envelope, error) {
	b := buf.WrapRead(data)
	t, err := b.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("zssp: envelope: %w", err)
	}
	destBytes, err := b.ReadBytes(SessionIDSize)
	if err != nil {
		return nil, fmt.Errorf("zssp: envelope: %w", err)
	}
	dest, err := SessionIDFromBytes(destBytes)
	if err != nil {
		return nil, fmt.Errorf("zssp: envelope: %w", err)
	}
	srcBytes, err := b.ReadBytes(SessionIDSize)
	if err != nil {
		return nil, fmt.Errorf("zssp: envelope: %w", err)
	}
	src, err := SessionIDFromBytes(srcBytes)
	if err != nil {
		return nil, fmt.Errorf("zssp: envelope: %w", err)
	}
	body, err := b.ReadBytes(b.Remaining())
	if err != nil {
		return nil, fmt.Errorf("zssp: envelope: %w", err)
	}
	return &Envelope{PacketType: t, Dest: dest, Src: src, Body: append([]byte{}, body...)}, nil
}

func appendLenPrefixed(b *buf.Buffer, p []byte) error {
	if err := b.AppendVarint(uint64(len(p))); err != nil {
		return err
	}
	return b.AppendBytes(p)
}

func readLenPrefixed(b *buf.Buffer) ([]byte, error) {
	n, err := b.ReadVarint()
	if err != nil {
		return nil, err
	}
	p, err := b.ReadBytes(int(n))
	if err != nil {
		return nil, err
	}
	return append([]byte{}, p...), nil
}

// Marshal serializes an AliceNoiseXKInit body (the Envelope wraps it).
func (m *AliceNoiseXKInitMessage) Marshal() []byte {
	b := buf.NewBuffer(make([]byte, 0, 512))
	_ = appendLenPrefixed(b, m.AliceEPub)
	sid := m.AliceSessionID.Bytes()
	_ = b.AppendBytes(sid[:])
	_ = appendLenPrefixed(b, m.AliceHKPublic)
	_ = b.AppendBytes(m.HeaderProtKey[:])
	_ = appendLenPrefixed(b, m.EncryptedBlock)
	return b.Bytes()
}

// UnmarshalAliceNoiseXKInitMessage parses a body produced by Marshal.
func UnmarshalAliceNoiseXKInitMessage(data []byte) (*AliceNoiseXKInitMessage, error) {
	b := buf.WrapRead(data)
	ePub, err := readLenPrefixed(b)
	if err != nil {
		return nil, fmt.Errorf("zssp: unmarshal alice init: %w", err)
	}
	sidBytes, err := b.ReadBytes(SessionIDSize)
	if err != nil {
		return nil, fmt.Errorf("zssp: unmarshal alice init: %w", err)
	}
	sid, err := SessionIDFromBytes(sidBytes)
	if err != nil {
		return nil, fmt.Errorf("zssp: unmarshal alice init: %w", err)
	}
	hkPub, err := readLenPrefixed(b)
	if err != nil {
		return nil, fmt.Errorf("zssp: unmarshal alice init: %w", err)
	}
	hpkBytes, err := b.ReadBytes(AESHeaderProtKeySize)
	if err != nil {
		return nil, fmt.Errorf("zssp: unmarshal alice init: %w", err)
	}
	var hpk [AESHeaderProtKeySize]byte
	copy(hpk[:], hpkBytes)
	enc, err := readLenPrefixed(b)
	if err != nil {
		return nil, fmt.Errorf("zssp: unmarshal alice init: %w", err)
	}
	return &AliceNoiseXKInitMessage{
		AliceEPub:      ePub,
		AliceSessionID: sid,
		AliceHKPublic:  hkPub,
		HeaderProtKey:  hpk,
		EncryptedBlock: enc,
	}, nil
}

// Marshal serializes a BobNoiseXKAck body.
func (m *BobNoiseXKAckMessage) Marshal() []byte {
	b := buf.NewBuffer(make([]byte, 0, 2048))
	_ = appendLenPrefixed(b, m.BobEPub)
	sid := m.BobSessionID.Bytes()
	_ = b.AppendBytes(sid[:])
	_ = appendLenPrefixed(b, m.BobHKCiphertext)
	_ = appendLenPrefixed(b, m.EncryptedBlock)
	return b.Bytes()
}

// UnmarshalBobNoiseXKAckMessage parses a body produced by Marshal.
func UnmarshalBobNoiseXKAckMessage(data []byte) (*BobNoiseXKAckMessage, error) {
	b := buf.WrapRead(data)
	ePub, err := readLenPrefixed(b)
	if err != nil {
		return nil, fmt.Errorf("zssp: unmarshal bob ack: %w", err)
	}
	sidBytes, err := b.ReadBytes(SessionIDSize)
	if err != nil {
		return nil, fmt.Errorf("zssp: unmarshal bob ack: %w", err)
	}
	sid, err := SessionIDFromBytes(sidBytes)
	if err != nil {
		return nil, fmt.Errorf("zssp: unmarshal bob ack: %w", err)
	}
	ct, err := readLenPrefixed(b)
	if err != nil {
		return nil, fmt.Errorf("zssp: unmarshal bob ack: %w", err)
	}
	enc, err := readLenPrefixed(b)
	if err != nil {
		return nil, fmt.Errorf("zssp: unmarshal bob ack: %w", err)
	}
	return &BobNoiseXKAckMessage{
		BobEPub:         ePub,
		BobSessionID:    sid,
		BobHKCiphertext: ct,
		EncryptedBlock:  enc,
	}, nil
}

// Marshal serializes an AliceNoiseXKAck body.
func (m *AliceNoiseXKAckMessage) Marshal() []byte {
	b := buf.NewBuffer(make([]byte, 0, 1024))
	_ = appendLenPrefixed(b, m.InnerBlock)
	_ = appendLenPrefixed(b, m.OuterBlock)
	return b.Bytes()
}

// UnmarshalAliceNoiseXKAckMessage parses a body produced by Marshal.
func UnmarshalAliceNoiseXKAckMessage(data []byte) (*AliceNoiseXKAckMessage, error) {
	b := buf.WrapRead(data)
	inner, err := readLenPrefixed(b)
	if err != nil {
		return nil, fmt.Errorf("zssp: unmarshal alice ack: %w", err)
	}
	outer, err := readLenPrefixed(b)
	if err != nil {
		return nil, fmt.Errorf("zssp: unmarshal alice ack: %w", err)
	}
	return &AliceNoiseXKAckMessage{InnerBlock: inner, OuterBlock: outer}, nil
}

// Marshal serializes a RekeyInit body: just the AEAD ciphertext, since
// Envelope already supplies routing and RekeyInit carries nothing else.
func (m *RekeyInitMessage) Marshal() []byte { return append([]byte{}, m.Ciphertext...) }

// UnmarshalRekeyInitMessage parses a body produced by Marshal.
func UnmarshalRekeyInitMessage(data []byte) (*RekeyInitMessage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("zssp: unmarshal rekey init: empty body: %w", vl1err.InvalidData)
	}
	return &RekeyInitMessage{Ciphertext: append([]byte{}, data...)}, nil
}

// Marshal serializes a RekeyAck body.
func (m *RekeyAckMessage) Marshal() []byte { return append([]byte{}, m.Ciphertext...) }

// UnmarshalRekeyAckMessage parses a body produced by Marshal.
func UnmarshalRekeyAckMessage(data []byte) (*RekeyAckMessage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("zssp: unmarshal rekey ack: empty body: %w", vl1err.InvalidData)
	}
	return &RekeyAckMessage{Ciphertext: append([]byte{}, data...)}, nil
}

// DataMessage is the wire body of PacketTypeData: a monotonic counter
// (the replay window's input, §8.10) followed by the AES-256-GCM
// ciphertext, nonce-derived from the counter the way the handshake AEAD
// steps derive theirs from a fresh key instead (data.go).
type DataMessage struct {
	Counter    uint64
	Ciphertext []byte
}

// Marshal serializes a Data body.
func (m *DataMessage) Marshal() []byte {
	b := buf.NewBuffer(make([]byte, 0, 8+len(m.Ciphertext)))
	_ = b.AppendUint64(m.Counter)
	_ = b.AppendBytes(m.Ciphertext)
	return b.Bytes()
}

// UnmarshalDataMessage parses a body produced by Marshal.
func UnmarshalDataMessage(data []byte) (*DataMessage, error) {
	b := buf.WrapRead(data)
	counter, err := b.ReadUint64()
	if err != nil {
		return nil, fmt.Errorf("zssp: unmarshal data: %w", err)
	}
	ct, err := b.ReadBytes(b.Remaining())
	if err != nil {
		return nil, fmt.Errorf("zssp: unmarshal data: %w", err)
	}
	return &DataMessage{Counter: counter, Ciphertext: append([]byte{}, ct...)}, nil
}
