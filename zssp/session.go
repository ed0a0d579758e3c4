package zssp

import (
	"fmt"
	"sync"

	"github.com/vl1proto/vl1-go/vl1/identity"
	"github.com/vl1proto/vl1-go/vl1err"
)

// established is one session's post-handshake state: the derived traffic
// keys, the replay-protected receive counter, and (on Bob's side) the
// peer identity recovered from the handshake.
type established struct {
	mu     sync.Mutex
	keys   *SessionKeys
	window ReplayWindow
	remote *identity.Identity
}

// SessionManager owns every in-progress and established ZSSP session for
// one node, keyed by this node's own local SessionID so an incoming
// packet's session id field is a direct map lookup rather than a walk of
// the Noise handshake machinery (§4.6 "session-id routing"). Grounded on
// original_source/zssp/src/proto.rs's packet-type dispatch table; the
// session table itself has no teacher analog (Tor circuits are keyed by
// circuit id over an already-established TLS link, not by a
// handshake-derived session id) and is designed fresh from spec.md §4.6.
type SessionManager struct {
	mu       sync.Mutex
	alice    map[SessionID]*AliceHandshake
	bob      map[SessionID]*BobHandshake
	rekeys   map[SessionID]*RekeyState
	sessions map[SessionID]*established
}

// NewSessionManager returns an empty SessionManager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		alice:    make(map[SessionID]*AliceHandshake),
		bob:      make(map[SessionID]*BobHandshake),
		rekeys:   make(map[SessionID]*RekeyState),
		sessions: make(map[SessionID]*established),
	}
}

// StartSession begins a new session as Alice (the initiator) against a
// peer whose long-term P-384 static key is bobStaticP384Pub, returning the
// AliceNoiseXKInit message to send.
func (m *SessionManager) StartSession(self *identity.Identity, bobStaticP384Pub [identity.P384Size]byte) (*AliceNoiseXKInitMessage, error) {
	hs, msg, err := AliceStartHandshake(self, bobStaticP384Pub)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.alice[msg.AliceSessionID] = hs
	m.mu.Unlock()
	return msg, nil
}

// HandleInit processes an incoming AliceNoiseXKInit addressed to self (as
// Bob), returning the BobNoiseXKAck to send back.
func (m *SessionManager) HandleInit(self *identity.Identity, msg *AliceNoiseXKInitMessage) (*BobNoiseXKAckMessage, error) {
	hs, ack, err := BobProcessInit(self, msg)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.bob[ack.BobSessionID] = hs
	m.mu.Unlock()
	return ack, nil
}

// HandleBobAck processes an incoming BobNoiseXKAck addressed to the Alice
// handshake pending under aliceSessionID, completing and establishing the
// session. It returns the final AliceNoiseXKAck to send plus the
// established SessionKeys, whose RemoteSessionID is Bob's local session
// id — the routing id the caller addresses that final message to.
func (m *SessionManager) HandleBobAck(aliceSessionID SessionID, ack *BobNoiseXKAckMessage, psk []byte) (*AliceNoiseXKAckMessage, *SessionKeys, error) {
	m.mu.Lock()
	hs, ok := m.alice[aliceSessionID]
	if ok {
		delete(m.alice, aliceSessionID)
	}
	m.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("zssp: handle bob ack: no pending handshake for session %d: %w", aliceSessionID, vl1err.NotFound)
	}

	keys, finalMsg, err := hs.AliceFinish(ack, psk)
	if err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	m.sessions[keys.LocalSessionID] = &established{keys: keys}
	m.mu.Unlock()
	return finalMsg, keys, nil
}

// HandleAliceAck processes an incoming AliceNoiseXKAck addressed to the
// Bob handshake pending under bobSessionID, completing and establishing
// the session. It returns the established SessionKeys and the
// now-verified identity of the peer that completed it.
func (m *SessionManager) HandleAliceAck(bobSessionID SessionID, ack *AliceNoiseXKAckMessage, psk []byte) (*SessionKeys, *identity.Identity, error) {
	m.mu.Lock()
	hs, ok := m.bob[bobSessionID]
	if ok {
		delete(m.bob, bobSessionID)
	}
	m.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("zssp: handle alice ack: no pending handshake for session %d: %w", bobSessionID, vl1err.NotFound)
	}

	keys, remote, err := hs.BobFinish(ack, psk)
	if err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	m.sessions[keys.LocalSessionID] = &established{keys: keys, remote: remote}
	m.mu.Unlock()
	return keys, remote, nil
}

func (m *SessionManager) lookup(localSessionID SessionID) (*established, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[localSessionID]
	return e, ok
}

// Keys returns the current SessionKeys for localSessionID, if the session
// is established.
func (m *SessionManager) Keys(localSessionID SessionID) (*SessionKeys, bool) {
	e, ok := m.lookup(localSessionID)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.keys, true
}

// Remote returns the peer identity recovered during the handshake for
// localSessionID, if known (only Bob's side learns it this way; Alice
// already knew it before dialing).
func (m *SessionManager) Remote(localSessionID SessionID) (*identity.Identity, bool) {
	e, ok := m.lookup(localSessionID)
	if !ok || e.remote == nil {
		return nil, false
	}
	return e.remote, true
}

// AcceptCounter runs localSessionID's replay window over counter (§8.10),
// rejecting duplicates, stale counters, and implausible forward jumps.
func (m *SessionManager) AcceptCounter(localSessionID SessionID, counter uint64) error {
	e, ok := m.lookup(localSessionID)
	if !ok {
		return fmt.Errorf("zssp: accept counter: unknown session %d: %w", localSessionID, vl1err.NotFound)
	}
	return e.window.Accept(counter)
}

// BeginRekey starts a rekey against the established session localSessionID
// and returns the RekeyInit message to send.
func (m *SessionManager) BeginRekey(localSessionID SessionID) (*RekeyInitMessage, error) {
	e, ok := m.lookup(localSessionID)
	if !ok {
		return nil, fmt.Errorf("zssp: begin rekey: unknown session %d: %w", localSessionID, vl1err.NotFound)
	}
	e.mu.Lock()
	keys := e.keys
	e.mu.Unlock()

	rs, msg, err := BuildRekeyInit(keys)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.rekeys[localSessionID] = rs
	m.mu.Unlock()
	return msg, nil
}

// HandleRekeyInit answers a peer-initiated rekey against localSessionID,
// swapping in the refreshed SessionKeys and returning the RekeyAck to
// send back.
func (m *SessionManager) HandleRekeyInit(localSessionID SessionID, msg *RekeyInitMessage) (*RekeyAckMessage, error) {
	e, ok := m.lookup(localSessionID)
	if !ok {
		return nil, fmt.Errorf("zssp: handle rekey init: unknown session %d: %w", localSessionID, vl1err.NotFound)
	}
	e.mu.Lock()
	keys := e.keys
	e.mu.Unlock()

	newKeys, ack, err := ProcessRekeyInit(keys, msg)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.keys = newKeys
	e.mu.Unlock()
	return ack, nil
}

// HandleRekeyAck completes a rekey this side initiated with BeginRekey,
// swapping in the refreshed SessionKeys once the fingerprint checks out.
func (m *SessionManager) HandleRekeyAck(localSessionID SessionID, msg *RekeyAckMessage) error {
	m.mu.Lock()
	rs, ok := m.rekeys[localSessionID]
	if ok {
		delete(m.rekeys, localSessionID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("zssp: handle rekey ack: no pending rekey for session %d: %w", localSessionID, vl1err.NotFound)
	}

	e, ok := m.lookup(localSessionID)
	if !ok {
		return fmt.Errorf("zssp: handle rekey ack: unknown session %d: %w", localSessionID, vl1err.NotFound)
	}
	e.mu.Lock()
	keys := e.keys
	e.mu.Unlock()

	newKeys, err := rs.ProcessRekeyAck(keys, msg)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.keys = newKeys
	e.mu.Unlock()
	return nil
}
