// Package node provides the injected-capability interfaces, the path
// arena, and message-verb constants shared by the VL1 peer state machine.
// It is grounded on link/link.go's connection-registry idiom (ClaimCircID-
// style bookkeeping) adapted to path ownership, and on the original
// vl1::ApplicationLayer / vl1::InnerProtocolLayer traits (§6).
package node

import (
	"github.com/vl1proto/vl1-go/vl1"
)

// PacketHandlerResult is the tri-state outcome of a message handler: a
// handler that didn't recognize the verb returns NotHandled so the caller
// can fall back to the injected inner-protocol layer (§6).
type PacketHandlerResult int

const (
	ResultOK PacketHandlerResult = iota
	ResultError
	ResultNotHandled
)

// Message verb numbers. These aren't present in the retrieved source
// (protocol.rs wasn't part of the pack); they're chosen consistent with the
// public VL1 verb table so they remain interoperable with the byte layout
// described in §4.5.
const (
	VerbNOP              = 0x00
	VerbHello            = 0x01
	VerbError            = 0x02
	VerbOK               = 0x03
	VerbWhois            = 0x04
	VerbRendezvous       = 0x05
	VerbEcho             = 0x06
	VerbPushDirectPaths  = 0x08
	VerbUserMessage      = 0x0e
	// VerbZSSP carries a raw ZSSP handshake/rekey/data packet (§4.6): its
	// payload is a zssp.Envelope, routed by session id rather than by the
	// verb table the rest of this switch uses.
	VerbZSSP = 0x0f
)

// ApplicationLayer is the set of capabilities the embedding application
// must provide (§6): a clock, a buffer pool, the wire-send primitive, a
// trust predicate, and an event sink for debug/audit events. LocalSocket
// and LocalInterface are opaque handles the application attaches to paths
// and passes back on send; VL1 never interprets them.
type ApplicationLayer interface {
	TimeTicks() int64
	GetBuffer() []byte
	WireSend(endpoint vl1.Endpoint, localSocket, localInterface any, data []byte, hint int) error
	ShouldRespondTo(id []byte) bool
	Event(evt Event)
}

// Event is a debug/audit event emitted by the core for the application's
// event sink; it never affects protocol behavior (§7's "a debug event may
// be emitted but no peer-visible response is generated").
type Event struct {
	Kind    string
	Address vl1.Address
	Detail  string
}

// InnerProtocolLayer receives any verb the VL1 core does not own itself
// (§4.5's "everything else is delegated to the inner layer").
type InnerProtocolLayer interface {
	HandlePacket(app ApplicationLayer, hops int, messageID uint64, verb byte, payload []byte) PacketHandlerResult
	HandleOK(app ApplicationLayer, inReVerb byte, inReMessageID uint64, payload []byte) PacketHandlerResult
	HandleError(app ApplicationLayer, inReVerb byte, inReMessageID uint64, errorCode byte, payload []byte) PacketHandlerResult
}
