package zssp

import (
	"encoding/binary"
	"fmt"

	"crypto/rand"
)

// SessionIDSize is the wire length of a SessionId. The original's exact
// size isn't in the retrieved source (sessionid.rs wasn't part of the
// pack; proto.rs only references SessionId::SIZE symbolically); 8 bytes
// is chosen here so a SessionId fits a single uint64 for the session
// lookup table's map key, per spec.md §4.6's "short identifier ... used
// to route data packets to sessions without Noise pattern lookups".
const SessionIDSize = 8

// SessionID identifies one ZSSP session so a data packet can be routed to
// it without walking the Noise handshake state machine. The zero value is
// never valid (see NewSessionID).
type SessionID uint64

// NewSessionID draws a random nonzero session id.
func NewSessionID() (SessionID, error) {
	var b [SessionIDSize]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, fmt.Errorf("zssp: generate session id: %w", err)
		}
		id := SessionID(binary.BigEndian.Uint64(b[:]))
		if id != 0 {
			return id, nil
		}
	}
}

func (id SessionID) Bytes() [SessionIDSize]byte {
	var b [SessionIDSize]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b
}

func SessionIDFromBytes(b []byte) (SessionID, error) {
	if len(b) != SessionIDSize {
		return 0, fmt.Errorf("zssp: session id: want %d bytes, got %d", SessionIDSize, len(b))
	}
	return SessionID(binary.BigEndian.Uint64(b)), nil
}
