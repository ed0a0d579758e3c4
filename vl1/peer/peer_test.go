package peer

import (
	"net/netip"
	"testing"

	"github.com/vl1proto/vl1-go/vl1"
	"github.com/vl1proto/vl1-go/vl1/identity"
	"github.com/vl1proto/vl1-go/vl1/node"
)

func mustGenerate(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	return id
}

func newTestPeer(t *testing.T) (*Peer, *identity.Identity) {
	t.Helper()
	self := mustGenerate(t)
	remote := mustGenerate(t)
	secret, err := identity.Agree(self, remote)
	if err != nil {
		t.Fatalf("agree: %v", err)
	}
	p, err := New(remote, secret, 1000)
	if err != nil {
		t.Fatalf("peer.New: %v", err)
	}
	return p, remote
}

func udpEndpoint(ip string, port uint16) vl1.Endpoint {
	return vl1.Endpoint{
		Kind: vl1.EndpointIpUdp,
		IP: vl1.InetAddress{
			Addr: netip.MustParseAddr(ip),
			Port: port,
		},
	}
}

func TestLearnPathAppendsNewPath(t *testing.T) {
	p, _ := newTestPeer(t)
	arena := node.NewArena()

	ref := arena.Insert(&node.Path{Endpoint: udpEndpoint("10.0.0.1", 4000)})
	p.LearnPath(arena, ref, 100)

	path, ok := p.DirectPath(arena)
	if !ok {
		t.Fatalf("expected a direct path after learning one")
	}
	if path.Endpoint.IP.Port != 4000 {
		t.Fatalf("unexpected path learned: %+v", path.Endpoint)
	}
}

func TestLearnPathReplacesSameIPDifferentPort(t *testing.T) {
	p, _ := newTestPeer(t)
	arena := node.NewArena()

	ref1 := arena.Insert(&node.Path{Endpoint: udpEndpoint("10.0.0.1", 4000)})
	p.LearnPath(arena, ref1, 100)

	ref2 := arena.Insert(&node.Path{Endpoint: udpEndpoint("10.0.0.1", 5000)})
	p.LearnPath(arena, ref2, 200)

	if len(p.paths) != 1 {
		t.Fatalf("expected replacement to keep a single path, got %d", len(p.paths))
	}
	if _, ok := arena.Resolve(ref1); ok {
		t.Fatalf("expected the old path's arena slot to be released")
	}
	path, ok := p.DirectPath(arena)
	if !ok || path.Endpoint.IP.Port != 5000 {
		t.Fatalf("expected the replacement path with port 5000, got %+v", path)
	}
}

func TestLearnPathAppendsDifferentIP(t *testing.T) {
	p, _ := newTestPeer(t)
	arena := node.NewArena()

	ref1 := arena.Insert(&node.Path{Endpoint: udpEndpoint("10.0.0.1", 4000)})
	p.LearnPath(arena, ref1, 100)

	ref2 := arena.Insert(&node.Path{Endpoint: udpEndpoint("10.0.0.2", 4000)})
	p.LearnPath(arena, ref2, 200)

	if len(p.paths) != 2 {
		t.Fatalf("expected two distinct paths, got %d", len(p.paths))
	}
}

func TestPrioritizeByRecency(t *testing.T) {
	p, _ := newTestPeer(t)
	arena := node.NewArena()

	refOld := arena.Insert(&node.Path{Endpoint: udpEndpoint("10.0.0.1", 4000)})
	p.LearnPath(arena, refOld, 100)

	refNew := arena.Insert(&node.Path{Endpoint: udpEndpoint("10.0.0.2", 4000)})
	p.LearnPath(arena, refNew, 500)

	path, ok := p.DirectPath(arena)
	if !ok {
		t.Fatalf("expected a direct path")
	}
	if path.Endpoint.IP.Port != 4000 || path.Endpoint.IP.Addr.String() != "10.0.0.2" {
		t.Fatalf("expected most recently touched path first, got %+v", path.Endpoint)
	}
}

func TestServicePrunesStalePaths(t *testing.T) {
	p, _ := newTestPeer(t)
	arena := node.NewArena()

	ref := arena.Insert(&node.Path{Endpoint: udpEndpoint("10.0.0.1", 4000)})
	p.LearnPath(arena, ref, 100)

	farFuture := int64(2 * PeerExpirationTime)
	alive := p.Service(arena, farFuture)
	if _, ok := p.DirectPath(arena); ok {
		t.Fatalf("expected the stale path to have been pruned")
	}
	if alive {
		t.Fatalf("expected peer to be reported dead after expiration with no other activity")
	}
}

func TestServiceKeepsFreshPeerAlive(t *testing.T) {
	p, _ := newTestPeer(t)
	arena := node.NewArena()

	ref := arena.Insert(&node.Path{Endpoint: udpEndpoint("10.0.0.1", 4000)})
	p.LearnPath(arena, ref, 100)
	p.RecordReceive(100)

	alive := p.Service(arena, 200)
	if !alive {
		t.Fatalf("expected a recently active peer to remain alive")
	}
	if _, ok := p.DirectPath(arena); !ok {
		t.Fatalf("expected the fresh path to survive service")
	}
}

func TestNextMessageIDMonotonic(t *testing.T) {
	p, _ := newTestPeer(t)
	a := p.NextMessageID()
	b := p.NextMessageID()
	if b <= a {
		t.Fatalf("expected a monotonically increasing message id, got %d then %d", a, b)
	}
}
