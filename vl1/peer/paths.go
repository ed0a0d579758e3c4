package peer

import (
	"sort"

	"github.com/vl1proto/vl1-go/vl1"
	"github.com/vl1proto/vl1-go/vl1/node"
)

// LearnPath records a newly observed path for this peer (§4.5 "path
// learning"). If an existing path shares the same IpUdp IP address but a
// different port, it is replaced in place rather than duplicated; the old
// arena slot is released. Otherwise the new path is appended. Either way
// the path list is reprioritized by recency afterward.
func (p *Peer) LearnPath(arena *node.Arena, ref node.PathRef, nowTicks int64) {
	candidate, ok := arena.Resolve(ref)
	if !ok {
		return
	}

	p.pathsMu.Lock()
	defer p.pathsMu.Unlock()

	if candIP, isUDP := candidate.Endpoint.IP, candidate.Endpoint.Kind == vl1.EndpointIpUdp; isUDP {
		for i, pp := range p.paths {
			existing, ok := arena.Resolve(pp.Ref)
			if !ok {
				continue
			}
			if existing.Endpoint.Kind == vl1.EndpointIpUdp &&
				existing.Endpoint.IP.Addr == candIP.Addr &&
				existing.Endpoint.IP.Port != candIP.Port {
				arena.Release(pp.Ref)
				p.paths[i] = PeerPath{Ref: ref}
				candidate.TouchReceive(nowTicks)
				p.prioritizeLocked(arena)
				return
			}
		}
	}

	candidate.TouchReceive(nowTicks)
	p.paths = append(p.paths, PeerPath{Ref: ref})
	p.prioritizeLocked(arena)
}

// prioritizeLocked sorts paths by descending last-receive recency. Caller
// must hold pathsMu.
func (p *Peer) prioritizeLocked(arena *node.Arena) {
	sort.SliceStable(p.paths, func(i, j int) bool {
		pi, okI := arena.Resolve(p.paths[i].Ref)
		pj, okJ := arena.Resolve(p.paths[j].Ref)
		if !okI {
			return false
		}
		if !okJ {
			return true
		}
		return pi.LastReceiveTicks() > pj.LastReceiveTicks()
	})
}

// DirectPath returns the first still-resolvable path, which after
// prioritization is the most recently active one.
func (p *Peer) DirectPath(arena *node.Arena) (*node.Path, bool) {
	p.pathsMu.Lock()
	defer p.pathsMu.Unlock()
	for _, pp := range p.paths {
		if path, ok := arena.Resolve(pp.Ref); ok {
			return path, true
		}
	}
	return nil, false
}

// Path returns this peer's best direct path, falling back to rootFallback
// (conventionally the best root's direct path) if this peer has no direct
// path of its own (§4.5).
func (p *Peer) Path(arena *node.Arena, rootFallback func() (*node.Path, bool)) (*node.Path, bool) {
	if path, ok := p.DirectPath(arena); ok {
		return path, true
	}
	if rootFallback != nil {
		return rootFallback()
	}
	return nil, false
}

// Service prunes paths that are stale or whose arena slot has been
// released, shrinks the backing slice if it has grown past
// maxPathsShrinkThreshold, and prunes the reported-local-endpoints map. It
// returns false to request this peer be deleted if it has not been heard
// from within PeerExpirationTime (§4.5 "service tick").
func (p *Peer) Service(arena *node.Arena, nowTicks int64) bool {
	p.pathsMu.Lock()
	kept := p.paths[:0]
	for _, pp := range p.paths {
		path, ok := arena.Resolve(pp.Ref)
		if !ok {
			continue
		}
		if nowTicks-path.LastReceiveTicks() >= PeerExpirationTime {
			arena.Release(pp.Ref)
			continue
		}
		kept = append(kept, pp)
	}
	p.paths = kept
	if cap(p.paths) > maxPathsShrinkThreshold && len(p.paths) <= maxPathsShrinkThreshold {
		shrunk := make([]PeerPath, len(p.paths))
		copy(shrunk, p.paths)
		p.paths = shrunk
	}
	p.prioritizeLocked(arena)
	p.pathsMu.Unlock()

	p.remoteInfo.PruneReportedEndpoints(nowTicks)

	lastSeen := p.LastReceiveTicks()
	if p.createTimeTicks > lastSeen {
		lastSeen = p.createTimeTicks
	}
	return (nowTicks - lastSeen) < PeerExpirationTime
}
