// Package peer implements the VL1 Peer/Path state machine (§4.5, §9):
// path learning and prioritization over a generational weak-reference
// arena, service-tick pruning, and the HELLO/OK/WHOIS/ECHO dispatch table.
// Grounded on circuit/circuit.go's rmu/wmu mutex convention and log/slog
// usage, with the path-ownership and dispatch logic itself taken from
// original_source/.../peer.rs.
package peer

import (
	"sync"
	"sync/atomic"

	"github.com/vl1proto/vl1-go/vl1"
	"github.com/vl1proto/vl1-go/vl1/framing"
	"github.com/vl1proto/vl1-go/vl1/identity"
	"github.com/vl1proto/vl1-go/vl1/node"
)

// PeerExpirationTime is the idle duration (in the application's tick units,
// conventionally milliseconds) after which a path or peer is considered
// dead. The source's exact constant wasn't present in the retrieved files;
// this mirrors the public ZeroTier default of 10 minutes.
const PeerExpirationTime = 10 * 60 * 1000

// ServiceIntervalTicks is how often Node.Service should call Peer.Service,
// mirroring the original's SERVICE_INTERVAL_MS.
const ServiceIntervalTicks = 10000

const maxPathsShrinkThreshold = 16

// PeerPath is a weak reference to one of this peer's known paths, held as
// an index+generation pair into the node's path Arena (§9).
type PeerPath struct {
	Ref node.PathRef
}

// Peer owns a remote Identity, the symmetric secret derived against it, and
// all per-peer mutable state: a prioritized path list, atomic activity
// timestamps, a monotonic outgoing message-id counter, and reported remote
// version/endpoint info.
type Peer struct {
	Identity *identity.Identity
	secret   framing.SymmetricSecret

	pathsMu sync.Mutex
	paths   []PeerPath

	lastSendTicks       atomic.Int64
	lastReceiveTicks    atomic.Int64
	lastHelloReplyTicks atomic.Int64
	lastForwardTicks    atomic.Int64
	createTimeTicks     int64

	messageIDCounter atomic.Uint64

	remoteInfo RemoteNodeInfo

	// Trusted marks a peer whose HELLOs are accepted unconditionally (the
	// application trusts the sender, or this node or the sender is a root).
	Trusted atomic.Bool
}

// New builds a Peer for a remote identity, given the 64-byte secret from
// identity.Agree(selfIdentity, remoteIdentity).
func New(remote *identity.Identity, agreedSecret [64]byte, nowTicks int64) (*Peer, error) {
	secret, err := framing.DeriveSymmetricSecret(agreedSecret)
	if err != nil {
		return nil, err
	}
	p := &Peer{
		Identity:        remote,
		secret:          secret,
		createTimeTicks: nowTicks,
	}
	p.remoteInfo.ReportedLocalEndpoints = make(map[vl1.Endpoint]int64)
	return p, nil
}

// Secret returns the peer's V1 symmetric secret (used by the framing
// layer to encrypt/decrypt packets to and from this peer).
func (p *Peer) Secret() *framing.SymmetricSecret { return &p.secret }

// NextMessageID returns the next value of this peer's monotonically
// increasing outgoing message-id counter (§5: "senders must use fetch_add
// so that concurrent builders get distinct ids").
func (p *Peer) NextMessageID() uint64 { return p.messageIDCounter.Add(1) }

func (p *Peer) LastSendTicks() int64       { return p.lastSendTicks.Load() }
func (p *Peer) LastReceiveTicks() int64    { return p.lastReceiveTicks.Load() }
func (p *Peer) LastHelloReplyTicks() int64 { return p.lastHelloReplyTicks.Load() }
func (p *Peer) LastForwardTicks() int64    { return p.lastForwardTicks.Load() }

func (p *Peer) RecordSend(ticks int64)       { p.lastSendTicks.Store(ticks) }
func (p *Peer) RecordReceive(ticks int64)    { p.lastReceiveTicks.Store(ticks) }
func (p *Peer) RecordHelloReply(ticks int64) { p.lastHelloReplyTicks.Store(ticks) }
func (p *Peer) RecordForward(ticks int64)    { p.lastForwardTicks.Store(ticks) }

// RemoteInfo returns the peer's reported-version / reported-endpoints block.
func (p *Peer) RemoteInfo() *RemoteNodeInfo { return &p.remoteInfo }
