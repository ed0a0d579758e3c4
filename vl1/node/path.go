package node

import (
	"sync/atomic"

	"github.com/vl1proto/vl1-go/vl1"
)

// Path is an active transport 5-tuple a peer may be reached through. The
// node's arena owns every Path strongly; peers hold only weak PathRefs
// (§9's "cyclic ownership" note) so a path can be pruned out from under a
// peer without a circular reference-count dependency.
type Path struct {
	Endpoint        vl1.Endpoint
	LocalSocket     any
	LocalInterface  any
	lastReceiveTicks atomic.Int64
}

// LastReceiveTicks returns the last time a packet was received over this
// path, as an atomic read (§5: "timestamps are atomics so hot-path
// recording does not take a lock").
func (p *Path) LastReceiveTicks() int64 { return p.lastReceiveTicks.Load() }

// TouchReceive records that a packet was just received on this path.
func (p *Path) TouchReceive(ticks int64) { p.lastReceiveTicks.Store(ticks) }
