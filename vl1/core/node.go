// Package core wires together the path arena, peer table, and injected
// application/inner-protocol layers into a single running VL1 node, the
// way cmd/tor-client/main.go wires a directory cache, consensus, and
// circuit/link/proxy together into one running client.
package core

import (
	"fmt"
	"sync"

	"github.com/vl1proto/vl1-go/vl1"
	"github.com/vl1proto/vl1-go/vl1/framing"
	"github.com/vl1proto/vl1-go/vl1/identity"
	"github.com/vl1proto/vl1-go/vl1/node"
	"github.com/vl1proto/vl1-go/vl1/peer"
	"github.com/vl1proto/vl1-go/vl1/ratelimit"
	"github.com/vl1proto/vl1-go/zssp"
)

// whoisResendInterval bounds how often this node will re-issue a WHOIS for
// the same unresolved address, so a burst of packets from (or addressed
// to) a peer we haven't looked up yet doesn't flood the chosen root.
const whoisResendInterval = 1000 // ticks (milliseconds)

// Node is this node's runtime state: its own identity, the path arena all
// peers' PathRefs resolve against, the peer table, and the two
// application-supplied capability interfaces (§6).
type Node struct {
	Self *identity.Identity

	arena *node.Arena
	app   node.ApplicationLayer
	inner node.InnerProtocolLayer

	peersMu sync.RWMutex
	peers   map[vl1.Address]*peer.Peer

	rootsMu sync.RWMutex
	roots   map[vl1.Address]bool

	whoisMu    sync.Mutex
	whoisGates map[vl1.Address]*ratelimit.IntervalGate

	// sessions owns every ZSSP handshake/rekey/data session this node is a
	// party to, dispatched by session id on VerbZSSP independently of the
	// peer table above (§4.6 "session-id routing").
	sessions *zssp.SessionManager
}

// New constructs a Node for self, using app for the clock/wire-send/trust
// capabilities and inner for any verb this core doesn't own itself (§6).
func New(self *identity.Identity, app node.ApplicationLayer, inner node.InnerProtocolLayer) *Node {
	return &Node{
		Self:  self,
		arena: node.NewArena(),
		app:   app,
		inner: inner,
		peers:      make(map[vl1.Address]*peer.Peer),
		roots:      make(map[vl1.Address]bool),
		whoisGates: make(map[vl1.Address]*ratelimit.IntervalGate),
		sessions:   zssp.NewSessionManager(),
	}
}

// Arena returns the node's path arena.
func (n *Node) Arena() *node.Arena { return n.arena }

// AddRoot marks addr as a trusted root: HELLOs and ECHOs from it are
// answered unconditionally, and only a root's RENDEZVOUS/OK(WHOIS)/
// PUSH_DIRECT_PATHS are honored (§9).
func (n *Node) AddRoot(addr vl1.Address) {
	n.rootsMu.Lock()
	defer n.rootsMu.Unlock()
	n.roots[addr] = true
}

// IsRoot reports whether addr is a configured root.
func (n *Node) IsRoot(addr vl1.Address) bool {
	n.rootsMu.RLock()
	defer n.rootsMu.RUnlock()
	return n.roots[addr]
}

// Peer returns the known Peer for addr, if any.
func (n *Node) Peer(addr vl1.Address) (*peer.Peer, bool) {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()
	p, ok := n.peers[addr]
	return p, ok
}

// peerAddresses returns a snapshot of the current peer table's keys.
func (n *Node) peerAddresses() []vl1.Address {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()
	addrs := make([]vl1.Address, 0, len(n.peers))
	for a := range n.peers {
		addrs = append(addrs, a)
	}
	return addrs
}

// LearnPeer registers a new remote identity, deriving the V1 symmetric
// secret via identity.Agree and trusting it if it's a configured root.
func (n *Node) LearnPeer(remote *identity.Identity, nowTicks int64) (*peer.Peer, error) {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	if existing, ok := n.peers[remote.Address]; ok {
		return existing, nil
	}
	secret, err := identity.Agree(n.Self, remote)
	if err != nil {
		return nil, fmt.Errorf("core: learn peer %s: %w", remote.Address, err)
	}
	p, err := peer.New(remote, secret, nowTicks)
	if err != nil {
		return nil, err
	}
	if n.IsRoot(remote.Address) {
		p.Trusted.Store(true)
	}
	n.peers[remote.Address] = p
	return p, nil
}

// rootPeers returns this node's configured root Peers that are already
// known, used as RENDEZVOUS-free fallback paths for a peer with no direct
// path of its own (§4.5's "path selection falls back to the best root").
func (n *Node) rootFallback() func() (*node.Path, bool) {
	return func() (*node.Path, bool) {
		n.rootsMu.RLock()
		roots := make([]vl1.Address, 0, len(n.roots))
		for a := range n.roots {
			roots = append(roots, a)
		}
		n.rootsMu.RUnlock()

		for _, addr := range roots {
			if p, ok := n.Peer(addr); ok {
				if path, ok := p.DirectPath(n.arena); ok {
					return path, true
				}
			}
		}
		return nil, false
	}
}

// Service runs one maintenance pass over every known peer (§4.5's "service
// tick"): pruning stale paths, and removing peers that have gone fully
// silent for longer than peer.PeerExpirationTime. Callers are expected to
// invoke this roughly every peer.ServiceIntervalTicks.
func (n *Node) Service(nowTicks int64) {
	for _, addr := range n.peerAddresses() {
		p, ok := n.Peer(addr)
		if !ok {
			continue
		}
		if alive := p.Service(n.arena, nowTicks); !alive {
			n.peersMu.Lock()
			delete(n.peers, addr)
			n.peersMu.Unlock()
		}
	}
}

// Secret returns the V1 symmetric secret for a known peer, used by callers
// that frame outgoing packets via vl1/framing directly.
func (n *Node) Secret(addr vl1.Address) (*framing.SymmetricSecret, bool) {
	p, ok := n.Peer(addr)
	if !ok {
		return nil, false
	}
	return p.Secret(), true
}

// lookupIdentity answers a WHOIS query from already-known peers' identities.
func (n *Node) lookupIdentity(addr vl1.Address) (*identity.Identity, bool) {
	p, ok := n.Peer(addr)
	if !ok {
		return nil, false
	}
	return p.Identity, true
}

// RequestWhois issues a WHOIS for addr to the best available root, rate
// limited to once per whoisResendInterval ticks per address (§4.5, §9's
// "throttle how often a peer re-sends WHOIS" note). It is a no-op if no
// root has a usable direct path yet.
func (n *Node) RequestWhois(addr vl1.Address, nowTicks int64) {
	n.whoisMu.Lock()
	gate, ok := n.whoisGates[addr]
	if !ok {
		gate = ratelimit.NewIntervalGate(whoisResendInterval)
		n.whoisGates[addr] = gate
	}
	fire := gate.Gate(nowTicks)
	n.whoisMu.Unlock()
	if !fire {
		return
	}

	path, ok := n.rootFallback()()
	if !ok {
		return
	}
	body, err := peer.BuildWhois([]vl1.Address{addr})
	if err != nil {
		n.app.Event(node.Event{Kind: "whois_build_failed", Address: addr, Detail: err.Error()})
		return
	}
	if err := n.app.WireSend(path.Endpoint, path.LocalSocket, path.LocalInterface, body, 0); err != nil {
		n.app.Event(node.Event{Kind: "whois_send_failed", Address: addr, Detail: err.Error()})
	}
}

// StartZSSPSession begins a ZSSP handshake (§4.6) against addr, an already
// known peer, sending AliceNoiseXKInit to its best available path. The
// established session is retrievable later by the SessionID this call
// assigns, once HandlePacket's VerbZSSP branch completes the handshake.
func (n *Node) StartZSSPSession(addr vl1.Address, now int64) error {
	p, ok := n.Peer(addr)
	if !ok {
		return fmt.Errorf("core: start zssp session: peer %s not known", addr)
	}
	msg, err := n.sessions.StartSession(n.Self, p.Identity.P384.ECDHPub)
	if err != nil {
		return fmt.Errorf("core: start zssp session: %w", err)
	}
	env := &zssp.Envelope{
		PacketType: zssp.PacketTypeAliceNoiseXKInit,
		Dest:       0,
		Src:        msg.AliceSessionID,
		Body:       msg.Marshal(),
	}
	n.sendZSSPEnvelope(p, env, now)
	return nil
}

func (n *Node) sendZSSPEnvelope(p *peer.Peer, env *zssp.Envelope, now int64) {
	path, ok := p.Path(n.arena, n.rootFallback())
	if !ok {
		n.app.Event(node.Event{Kind: "zssp_send_no_path", Address: p.Identity.Address})
		return
	}
	if err := n.app.WireSend(path.Endpoint, path.LocalSocket, path.LocalInterface, zsspWireBody(env), 0); err != nil {
		n.app.Event(node.Event{Kind: "zssp_send_failed", Address: p.Identity.Address, Detail: err.Error()})
		return
	}
	p.RecordSend(now)
}

// adoptIdentity is called for each identity carried in an OK(WHOIS) reply;
// it registers the identity as a new (untrusted) peer if not already known.
func (n *Node) adoptIdentity(id *identity.Identity) {
	if _, ok := n.Peer(id.Address); ok {
		return
	}
	if _, err := n.LearnPeer(id, n.app.TimeTicks()); err != nil {
		n.app.Event(node.Event{Kind: "adopt_identity_failed", Address: id.Address, Detail: err.Error()})
	}
}
