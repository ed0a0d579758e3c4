package peer

import (
	"sync"

	"github.com/vl1proto/vl1-go/vl1"
)

// RemoteNodeInfo is read on most sends (to choose a cipher suite) and
// written only on HELLO/OK(HELLO), so an RW-lock fits better than a mutex
// (§9).
type RemoteNodeInfo struct {
	mu sync.RWMutex

	RemoteProtocolVersion int
	RemoteVersionMajor    int
	RemoteVersionMinor    int
	RemoteVersionRevision int

	// ReportedLocalEndpoints maps an externally-observed endpoint for this
	// node (as reported by the remote peer) to the tick it was last
	// reported, so stale entries can be pruned on Service().
	ReportedLocalEndpoints map[vl1.Endpoint]int64
}

// SetRemoteVersion records the remote's declared protocol/software version.
func (r *RemoteNodeInfo) SetRemoteVersion(protocolVersion, major, minor, revision int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RemoteProtocolVersion = protocolVersion
	r.RemoteVersionMajor = major
	r.RemoteVersionMinor = minor
	r.RemoteVersionRevision = revision
}

// ProtocolVersion returns the last-reported remote protocol version.
func (r *RemoteNodeInfo) ProtocolVersion() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.RemoteProtocolVersion
}

// ReportLocalEndpoint records that the remote peer observed us reachable
// at endpoint as of ticks.
func (r *RemoteNodeInfo) ReportLocalEndpoint(endpoint vl1.Endpoint, ticks int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ReportedLocalEndpoints == nil {
		r.ReportedLocalEndpoints = make(map[vl1.Endpoint]int64)
	}
	r.ReportedLocalEndpoints[endpoint] = ticks
}

// PruneReportedEndpoints drops entries older than PeerExpirationTime.
func (r *RemoteNodeInfo) PruneReportedEndpoints(nowTicks int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ep, ts := range r.ReportedLocalEndpoints {
		if nowTicks-ts >= PeerExpirationTime {
			delete(r.ReportedLocalEndpoints, ep)
		}
	}
}
