package core

import (
	"testing"

	"github.com/vl1proto/vl1-go/vl1"
	"github.com/vl1proto/vl1-go/vl1/identity"
	"github.com/vl1proto/vl1-go/vl1/node"
	"github.com/vl1proto/vl1-go/vl1/peer"
)

type fakeApp struct {
	now    int64
	sent   []sendRecord
	events []node.Event
}

type sendRecord struct {
	endpoint vl1.Endpoint
	data     []byte
}

func (f *fakeApp) TimeTicks() int64   { return f.now }
func (f *fakeApp) GetBuffer() []byte  { return make([]byte, 2048) }
func (f *fakeApp) ShouldRespondTo(id []byte) bool { return true }
func (f *fakeApp) Event(evt node.Event)           { f.events = append(f.events, evt) }
func (f *fakeApp) WireSend(endpoint vl1.Endpoint, localSocket, localInterface any, data []byte, hint int) error {
	f.sent = append(f.sent, sendRecord{endpoint: endpoint, data: data})
	return nil
}

type fakeInner struct {
	lastVerb byte
	handled  bool
}

func (f *fakeInner) HandlePacket(app node.ApplicationLayer, hops int, messageID uint64, verb byte, payload []byte) node.PacketHandlerResult {
	f.lastVerb = verb
	f.handled = true
	return node.ResultOK
}
func (f *fakeInner) HandleOK(app node.ApplicationLayer, inReVerb byte, inReMessageID uint64, payload []byte) node.PacketHandlerResult {
	return node.ResultOK
}
func (f *fakeInner) HandleError(app node.ApplicationLayer, inReVerb byte, inReMessageID uint64, errorCode byte, payload []byte) node.PacketHandlerResult {
	return node.ResultOK
}

func mustGenerateCore(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return id
}

func newTestNode(t *testing.T) (*Node, *fakeApp, *identity.Identity) {
	t.Helper()
	self := mustGenerateCore(t)
	app := &fakeApp{now: 1000}
	n := New(self, app, &fakeInner{})
	return n, app, self
}

func TestLearnPeerIsIdempotent(t *testing.T) {
	n, _, _ := newTestNode(t)
	remote := mustGenerateCore(t)

	p1, err := n.LearnPeer(remote, 1000)
	if err != nil {
		t.Fatalf("LearnPeer: %v", err)
	}
	p2, err := n.LearnPeer(remote, 2000)
	if err != nil {
		t.Fatalf("LearnPeer: %v", err)
	}
	if p1 != p2 {
		t.Fatalf("expected the same Peer instance on re-learn")
	}
}

func TestRootPeerIsTrusted(t *testing.T) {
	n, _, _ := newTestNode(t)
	remote := mustGenerateCore(t)
	n.AddRoot(remote.Address)

	p, err := n.LearnPeer(remote, 1000)
	if err != nil {
		t.Fatalf("LearnPeer: %v", err)
	}
	if !p.Trusted.Load() {
		t.Fatalf("expected a configured root to be trusted on learn")
	}
}

func TestHandlePacketHelloFromUnknownPeerErrors(t *testing.T) {
	n, _, _ := newTestNode(t)
	result := n.HandlePacket(vl1.Address{1, 2, 3, 4, 5}, 0, 1, node.VerbHello, []byte{node.VerbHello}, node.PathRef{})
	if result != node.ResultError {
		t.Fatalf("expected ResultError for hello from unknown peer, got %v", result)
	}
}

func TestHandlePacketEchoRoundTripSendsReply(t *testing.T) {
	n, app, _ := newTestNode(t)
	remote := mustGenerateCore(t)
	p, err := n.LearnPeer(remote, 1000)
	if err != nil {
		t.Fatalf("LearnPeer: %v", err)
	}
	p.Trusted.Store(true)

	ref := n.arena.Insert(&node.Path{Endpoint: vl1.Endpoint{Kind: vl1.EndpointIpUdp}})
	p.LearnPath(n.arena, ref, 1000)

	req := peer.BuildEcho([]byte("hi"))
	result := n.HandlePacket(remote.Address, 0, 1, node.VerbEcho, req, ref)
	if result != node.ResultOK {
		t.Fatalf("expected ResultOK, got %v", result)
	}
	if len(app.sent) != 1 {
		t.Fatalf("expected one reply to be sent, got %d", len(app.sent))
	}
}

func TestHandlePacketUnknownVerbDelegatesToInner(t *testing.T) {
	n, _, _ := newTestNode(t)
	remote := mustGenerateCore(t)
	if _, err := n.LearnPeer(remote, 1000); err != nil {
		t.Fatalf("LearnPeer: %v", err)
	}
	inner := &fakeInner{}
	n.inner = inner

	result := n.HandlePacket(remote.Address, 0, 1, node.VerbUserMessage, []byte{node.VerbUserMessage, 0xaa}, node.PathRef{})
	if result != node.ResultOK {
		t.Fatalf("expected ResultOK from inner layer, got %v", result)
	}
	if !inner.handled || inner.lastVerb != node.VerbUserMessage {
		t.Fatalf("expected inner layer to handle USER_MESSAGE")
	}
}

func TestHandlePacketEchoFromUnknownRequestsWhois(t *testing.T) {
	n, app, _ := newTestNode(t)
	root := mustGenerateCore(t)
	n.AddRoot(root.Address)
	if _, err := n.LearnPeer(root, app.now); err != nil {
		t.Fatalf("LearnPeer: %v", err)
	}
	rootPeer, _ := n.Peer(root.Address)
	ref := n.arena.Insert(&node.Path{Endpoint: vl1.Endpoint{Kind: vl1.EndpointIpUdp}})
	rootPeer.LearnPath(n.arena, ref, app.now)

	unknown := vl1.Address{9, 9, 9, 9, 9}
	result := n.HandlePacket(unknown, 0, 1, node.VerbEcho, peer.BuildEcho(nil), node.PathRef{})
	if result != node.ResultError {
		t.Fatalf("expected ResultError for echo from unknown peer, got %v", result)
	}
	if len(app.sent) != 1 {
		t.Fatalf("expected a WHOIS to be sent to the root, got %d sends", len(app.sent))
	}

	// A second packet from the same unresolved address within the gate's
	// interval must not trigger a second WHOIS.
	n.HandlePacket(unknown, 0, 1, node.VerbEcho, peer.BuildEcho(nil), node.PathRef{})
	if len(app.sent) != 1 {
		t.Fatalf("expected WHOIS re-send to be rate limited, got %d sends", len(app.sent))
	}
}

// TestZSSPSessionEndToEnd drives a full ZSSP handshake between two Nodes
// entirely through StartZSSPSession/HandlePacket, the way two live vl1d
// processes would exchange VerbZSSP packets over the wire (§4.6).
func TestZSSPSessionEndToEnd(t *testing.T) {
	aliceSelf := mustGenerateCore(t)
	bobSelf := mustGenerateCore(t)

	aliceApp := &fakeApp{now: 1000}
	bobApp := &fakeApp{now: 1000}
	alice := New(aliceSelf, aliceApp, &fakeInner{})
	bob := New(bobSelf, bobApp, &fakeInner{})

	if _, err := alice.LearnPeer(bobSelf, 1000); err != nil {
		t.Fatalf("alice learn bob: %v", err)
	}
	if _, err := bob.LearnPeer(aliceSelf, 1000); err != nil {
		t.Fatalf("bob learn alice: %v", err)
	}

	aliceRef := alice.arena.Insert(&node.Path{Endpoint: vl1.Endpoint{Kind: vl1.EndpointIpUdp}})
	bobRef := bob.arena.Insert(&node.Path{Endpoint: vl1.Endpoint{Kind: vl1.EndpointIpUdp}})
	ap, _ := alice.Peer(bobSelf.Address)
	ap.LearnPath(alice.arena, aliceRef, 1000)
	bp, _ := bob.Peer(aliceSelf.Address)
	bp.LearnPath(bob.arena, bobRef, 1000)

	if err := alice.StartZSSPSession(bobSelf.Address, 1000); err != nil {
		t.Fatalf("start zssp session: %v", err)
	}
	if len(aliceApp.sent) != 1 {
		t.Fatalf("expected alice to send one AliceNoiseXKInit, got %d", len(aliceApp.sent))
	}

	// AliceNoiseXKInit: alice -> bob.
	initPacket := aliceApp.sent[0].data
	if result := bob.HandlePacket(aliceSelf.Address, 0, 1, initPacket[0], initPacket, bobRef); result != node.ResultOK {
		t.Fatalf("bob handle init: %v", result)
	}
	if len(bobApp.sent) != 1 {
		t.Fatalf("expected bob to send one BobNoiseXKAck, got %d", len(bobApp.sent))
	}

	// BobNoiseXKAck: bob -> alice.
	ackPacket := bobApp.sent[0].data
	if result := alice.HandlePacket(bobSelf.Address, 0, 1, ackPacket[0], ackPacket, aliceRef); result != node.ResultOK {
		t.Fatalf("alice handle bob ack: %v", result)
	}
	if len(aliceApp.sent) != 2 {
		t.Fatalf("expected alice to send the final AliceNoiseXKAck, got %d sends", len(aliceApp.sent))
	}

	// AliceNoiseXKAck: alice -> bob, completing bob's side.
	finalPacket := aliceApp.sent[1].data
	if result := bob.HandlePacket(aliceSelf.Address, 0, 1, finalPacket[0], finalPacket, bobRef); result != node.ResultOK {
		t.Fatalf("bob handle final ack: %v", result)
	}

	foundEstablished := false
	for _, evt := range bobApp.events {
		if evt.Kind == "zssp_session_established" {
			foundEstablished = true
		}
	}
	if !foundEstablished {
		t.Fatalf("expected bob to report zssp_session_established, got events: %+v", bobApp.events)
	}
}

func TestServiceRemovesExpiredPeers(t *testing.T) {
	n, _, _ := newTestNode(t)
	remote := mustGenerateCore(t)
	if _, err := n.LearnPeer(remote, 1000); err != nil {
		t.Fatalf("LearnPeer: %v", err)
	}

	n.Service(1000 + 2*peer.PeerExpirationTime)
	if _, ok := n.Peer(remote.Address); ok {
		t.Fatalf("expected expired peer to be removed by Service")
	}
}
