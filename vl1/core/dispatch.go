package core

import (
	"fmt"

	"github.com/vl1proto/vl1-go/vl1"
	"github.com/vl1proto/vl1-go/vl1/node"
	"github.com/vl1proto/vl1-go/vl1/peer"
	"github.com/vl1proto/vl1-go/zssp"
)

// HandlePacket is the core's top-level verb dispatch (§4.5): it owns
// HELLO/OK/WHOIS/ECHO/RENDEZVOUS/PUSH_DIRECT_PATHS, and hands anything it
// doesn't recognize (chiefly USER_MESSAGE) to the injected InnerProtocolLayer.
// sourceAddr is the sender's already-authenticated address (the packet's
// header.Src, verified by a successful framing.Decrypt against that
// peer's secret); sourcePath is the PathRef the packet physically arrived
// on, used for path learning when hops == 0.
func (n *Node) HandlePacket(sourceAddr vl1.Address, hops int, messageID uint64, verb byte, payload []byte, sourcePath node.PathRef) node.PacketHandlerResult {
	now := n.app.TimeTicks()
	p, known := n.Peer(sourceAddr)

	switch verb {
	case node.VerbNOP:
		return node.ResultOK

	case node.VerbHello:
		if !known {
			n.app.Event(node.Event{Kind: "hello_from_unknown", Address: sourceAddr})
			n.RequestWhois(sourceAddr, now)
			return node.ResultError
		}
		isTrusted := p.Trusted.Load() || n.IsRoot(sourceAddr)
		var observed vl1.Endpoint
		if path, ok := n.arena.Resolve(sourcePath); ok {
			observed = path.Endpoint
		}
		reply, err := peer.HandleHello(payload, isTrusted, 11, 0, 0, 0, uint64(now), observed)
		if err != nil {
			n.app.Event(node.Event{Kind: "hello_rejected", Address: sourceAddr, Detail: err.Error()})
			return node.ResultError
		}
		p.RecordReceive(now)
		n.sendTo(p, reply, now)
		return node.ResultOK

	case node.VerbEcho:
		if !known {
			n.RequestWhois(sourceAddr, now)
			return node.ResultError
		}
		isTrusted := p.Trusted.Load() || n.IsRoot(sourceAddr)
		reply, err := peer.HandleEcho(payload, isTrusted)
		if err != nil {
			return node.ResultError
		}
		p.RecordReceive(now)
		n.sendTo(p, reply, now)
		return node.ResultOK

	case node.VerbWhois:
		if !known {
			n.RequestWhois(sourceAddr, now)
			return node.ResultError
		}
		replies, err := peer.HandleWhois(payload, n.lookupIdentity, 1280)
		if err != nil {
			return node.ResultError
		}
		for _, reply := range replies {
			n.sendTo(p, reply, now)
		}
		return node.ResultOK

	case node.VerbRendezvous:
		if !known {
			n.RequestWhois(sourceAddr, now)
			return node.ResultError
		}
		hint, err := peer.HandleRendezvous(payload, n.IsRoot(sourceAddr))
		if err != nil {
			n.app.Event(node.Event{Kind: "rendezvous_rejected", Address: sourceAddr, Detail: err.Error()})
			return node.ResultError
		}
		n.app.Event(node.Event{Kind: "rendezvous_hint", Address: hint.With, Detail: hint.Endpoint.String()})
		return node.ResultOK

	case node.VerbPushDirectPaths:
		if !known {
			n.RequestWhois(sourceAddr, now)
			return node.ResultError
		}
		isTrusted := p.Trusted.Load() || n.IsRoot(sourceAddr)
		endpoints, err := peer.HandlePushDirectPaths(payload, isTrusted)
		if err != nil {
			return node.ResultError
		}
		for _, ep := range endpoints {
			n.app.Event(node.Event{Kind: "push_direct_path", Address: sourceAddr, Detail: ep.String()})
		}
		return node.ResultOK

	case node.VerbOK:
		return n.handleOK(sourceAddr, p, known, payload, hops, sourcePath, now)

	case node.VerbError:
		return n.handleError(sourceAddr, payload)

	case node.VerbZSSP:
		return n.handleZSSP(sourceAddr, payload, sourcePath, now)

	default:
		if n.inner == nil {
			return node.ResultNotHandled
		}
		return n.inner.HandlePacket(n.app, hops, messageID, verb, payload)
	}
}

func (n *Node) handleOK(sourceAddr vl1.Address, p *peer.Peer, known bool, payload []byte, hops int, sourcePath node.PathRef, now int64) node.PacketHandlerResult {
	if len(payload) < 2 {
		return node.ResultError
	}
	inReVerb := payload[1]
	switch inReVerb {
	case node.VerbHello:
		if !known {
			return node.ResultError
		}
		if err := p.HandleOKHello(payload, hops, n.arena, sourcePath, now); err != nil {
			n.app.Event(node.Event{Kind: "ok_hello_rejected", Address: sourceAddr, Detail: err.Error()})
			return node.ResultError
		}
		p.RecordHelloReply(now)
		return node.ResultOK

	case node.VerbWhois:
		if err := peer.HandleOKWhois(payload, n.IsRoot(sourceAddr), n.adoptIdentity); err != nil {
			return node.ResultError
		}
		return node.ResultOK

	default:
		if n.inner == nil {
			return node.ResultNotHandled
		}
		var msgID uint64
		return n.inner.HandleOK(n.app, inReVerb, msgID, payload[2:])
	}
}

func (n *Node) handleError(sourceAddr vl1.Address, payload []byte) node.PacketHandlerResult {
	if len(payload) < 3 {
		return node.ResultError
	}
	inReVerb := payload[1]
	errorCode := payload[2]
	if n.inner == nil {
		return node.ResultNotHandled
	}
	var msgID uint64
	return n.inner.HandleError(n.app, inReVerb, msgID, errorCode, payload[3:])
}

func (n *Node) sendTo(p *peer.Peer, wireBody []byte, now int64) {
	path, ok := p.Path(n.arena, n.rootFallback())
	if !ok {
		n.app.Event(node.Event{Kind: "send_no_path", Detail: fmt.Sprintf("peer %s has no usable path", p.Identity.Address)})
		return
	}
	if err := n.app.WireSend(path.Endpoint, path.LocalSocket, path.LocalInterface, wireBody, 0); err != nil {
		n.app.Event(node.Event{Kind: "send_failed", Detail: err.Error()})
		return
	}
	p.RecordSend(now)
}

// handleZSSP dispatches VerbZSSP payloads by packet type and, within that,
// by session id (§4.6 "session-id routing"). Handshake packets complete a
// pending AliceHandshake/BobHandshake in n.sessions and reply on the same
// physical path the request arrived on, since the peer that sent an
// AliceNoiseXKInit is by definition not yet in the peer table — ZSSP
// establishes the session (and, on Bob's side, the verified identity)
// independently of the V1 HELLO/WHOIS path peer.go uses.
func (n *Node) handleZSSP(sourceAddr vl1.Address, payload []byte, sourcePath node.PathRef, now int64) node.PacketHandlerResult {
	if len(payload) < 1 {
		n.app.Event(node.Event{Kind: "zssp_envelope_rejected", Address: sourceAddr, Detail: "empty payload"})
		return node.ResultError
	}
	env, err := zssp.ParseEnvelope(payload[1:]) // payload[0] is the VerbZSSP byte
	if err != nil {
		n.app.Event(node.Event{Kind: "zssp_envelope_rejected", Address: sourceAddr, Detail: err.Error()})
		return node.ResultError
	}

	switch env.PacketType {
	case zssp.PacketTypeAliceNoiseXKInit:
		msg, err := zssp.UnmarshalAliceNoiseXKInitMessage(env.Body)
		if err != nil {
			n.app.Event(node.Event{Kind: "zssp_init_rejected", Address: sourceAddr, Detail: err.Error()})
			return node.ResultError
		}
		ack, err := n.sessions.HandleInit(n.Self, msg)
		if err != nil {
			n.app.Event(node.Event{Kind: "zssp_init_rejected", Address: sourceAddr, Detail: err.Error()})
			return node.ResultError
		}
		n.replyZSSP(sourcePath, &zssp.Envelope{
			PacketType: zssp.PacketTypeBobNoiseXKAck,
			Dest:       env.Src,
			Src:        ack.BobSessionID,
			Body:       ack.Marshal(),
		})
		return node.ResultOK

	case zssp.PacketTypeBobNoiseXKAck:
		msg, err := zssp.UnmarshalBobNoiseXKAckMessage(env.Body)
		if err != nil {
			n.app.Event(node.Event{Kind: "zssp_bob_ack_rejected", Address: sourceAddr, Detail: err.Error()})
			return node.ResultError
		}
		finalMsg, keys, err := n.sessions.HandleBobAck(env.Dest, msg, nil)
		if err != nil {
			n.app.Event(node.Event{Kind: "zssp_bob_ack_rejected", Address: sourceAddr, Detail: err.Error()})
			return node.ResultError
		}
		n.replyZSSP(sourcePath, &zssp.Envelope{
			PacketType: zssp.PacketTypeAliceNoiseXKAck,
			Dest:       keys.RemoteSessionID,
			Src:        keys.LocalSessionID,
			Body:       finalMsg.Marshal(),
		})
		n.app.Event(node.Event{Kind: "zssp_session_established", Address: sourceAddr})
		return node.ResultOK

	case zssp.PacketTypeAliceNoiseXKAck:
		msg, err := zssp.UnmarshalAliceNoiseXKAckMessage(env.Body)
		if err != nil {
			n.app.Event(node.Event{Kind: "zssp_alice_ack_rejected", Address: sourceAddr, Detail: err.Error()})
			return node.ResultError
		}
		_, remote, err := n.sessions.HandleAliceAck(env.Dest, msg, nil)
		if err != nil {
			n.app.Event(node.Event{Kind: "zssp_alice_ack_rejected", Address: sourceAddr, Detail: err.Error()})
			return node.ResultError
		}
		n.adoptIdentity(remote)
		n.app.Event(node.Event{Kind: "zssp_session_established", Address: remote.Address})
		return node.ResultOK

	case zssp.PacketTypeRekeyInit:
		msg, err := zssp.UnmarshalRekeyInitMessage(env.Body)
		if err != nil {
			n.app.Event(node.Event{Kind: "zssp_rekey_init_rejected", Address: sourceAddr, Detail: err.Error()})
			return node.ResultError
		}
		ack, err := n.sessions.HandleRekeyInit(env.Dest, msg)
		if err != nil {
			n.app.Event(node.Event{Kind: "zssp_rekey_init_rejected", Address: sourceAddr, Detail: err.Error()})
			return node.ResultError
		}
		n.replyZSSP(sourcePath, &zssp.Envelope{
			PacketType: zssp.PacketTypeRekeyAck,
			Dest:       env.Src,
			Src:        env.Dest,
			Body:       ack.Marshal(),
		})
		return node.ResultOK

	case zssp.PacketTypeRekeyAck:
		msg, err := zssp.UnmarshalRekeyAckMessage(env.Body)
		if err != nil {
			n.app.Event(node.Event{Kind: "zssp_rekey_ack_rejected", Address: sourceAddr, Detail: err.Error()})
			return node.ResultError
		}
		if err := n.sessions.HandleRekeyAck(env.Dest, msg); err != nil {
			n.app.Event(node.Event{Kind: "zssp_rekey_ack_rejected", Address: sourceAddr, Detail: err.Error()})
			return node.ResultError
		}
		n.app.Event(node.Event{Kind: "zssp_rekey_complete", Address: sourceAddr})
		return node.ResultOK

	case zssp.PacketTypeData:
		msg, err := zssp.UnmarshalDataMessage(env.Body)
		if err != nil {
			n.app.Event(node.Event{Kind: "zssp_data_rejected", Address: sourceAddr, Detail: err.Error()})
			return node.ResultError
		}
		if err := n.sessions.AcceptCounter(env.Dest, msg.Counter); err != nil {
			// Per §7, a replayed/out-of-window counter is dropped silently
			// with no peer-visible response.
			return node.ResultError
		}
		keys, ok := n.sessions.Keys(env.Dest)
		if !ok {
			return node.ResultError
		}
		plaintext, err := zssp.DecryptData(keys, msg)
		if err != nil {
			return node.ResultError
		}
		if len(plaintext) < 1 {
			return node.ResultError
		}
		if n.inner == nil {
			return node.ResultOK
		}
		return n.inner.HandlePacket(n.app, 0, 0, plaintext[0], plaintext[1:])

	default:
		n.app.Event(node.Event{Kind: "zssp_unknown_packet_type", Address: sourceAddr, Detail: fmt.Sprintf("%d", env.PacketType)})
		return node.ResultError
	}
}

// replyZSSP sends a ZSSP envelope back out over the path a request
// physically arrived on, bypassing the peer table: a handshake's early
// messages precede any V1 peer entry for the far side.
func (n *Node) replyZSSP(sourcePath node.PathRef, env *zssp.Envelope) {
	path, ok := n.arena.Resolve(sourcePath)
	if !ok {
		n.app.Event(node.Event{Kind: "zssp_reply_no_path"})
		return
	}
	if err := n.app.WireSend(path.Endpoint, path.LocalSocket, path.LocalInterface, zsspWireBody(env), 0); err != nil {
		n.app.Event(node.Event{Kind: "zssp_send_failed", Detail: err.Error()})
	}
}

// zsspWireBody prepends the VerbZSSP byte, the same way every vl1/peer
// Build* helper prepends its own verb, so a ZSSP envelope round-trips
// through HandlePacket's payload convention the same way HELLO/ECHO/WHOIS do.
func zsspWireBody(env *zssp.Envelope) []byte {
	return append([]byte{node.VerbZSSP}, env.Marshal()...)
}
