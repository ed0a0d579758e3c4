package peer

import (
	"fmt"

	"github.com/vl1proto/vl1-go/internal/buf"
	"github.com/vl1proto/vl1-go/vl1"
	"github.com/vl1proto/vl1-go/vl1/identity"
	"github.com/vl1proto/vl1-go/vl1/node"
)

// HelloFields is the fixed portion of a HELLO message body, following the
// one-byte verb: protocol version, three-part software version, and the
// sender's timestamp (echoed back in OK so the sender can estimate RTT).
type HelloFields struct {
	ProtocolVersion byte
	VersionMajor    byte
	VersionMinor    byte
	VersionRevision uint16
	Timestamp       uint64
}

// BuildHello renders a HELLO body (verb byte, HelloFields, then the
// sender's full identity) per §4.5.
func BuildHello(fields HelloFields, senderIdentity *identity.Identity) ([]byte, error) {
	b := buf.NewBuffer(make([]byte, 0, 256))
	if err := b.AppendByte(node.VerbHello); err != nil {
		return nil, err
	}
	if err := b.AppendByte(fields.ProtocolVersion); err != nil {
		return nil, err
	}
	if err := b.AppendByte(fields.VersionMajor); err != nil {
		return nil, err
	}
	if err := b.AppendByte(fields.VersionMinor); err != nil {
		return nil, err
	}
	if err := b.AppendUint16(fields.VersionRevision); err != nil {
		return nil, err
	}
	if err := b.AppendUint64(fields.Timestamp); err != nil {
		return nil, err
	}
	idBytes, err := identity.MarshalBinary(senderIdentity, false)
	if err != nil {
		return nil, err
	}
	if err := b.AppendBytes(idBytes); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// HandleHello processes an inbound HELLO: accepted only if the application
// trusts the sender, this node is a root, or the sender is a root
// (represented here by the caller passing isTrusted, since trust policy is
// application-specific per §6). On success it returns the OK(HELLO) reply
// body (echoed timestamp, this node's version, and the endpoint the sender
// was observed at).
func HandleHello(payload []byte, isTrusted bool, selfProtocolVersion, selfMajor, selfMinor byte, selfRevision uint16, selfTimestamp uint64, observedEndpoint vl1.Endpoint) ([]byte, error) {
	if !isTrusted {
		return nil, fmt.Errorf("peer: hello rejected: sender not trusted")
	}
	if _, err := ParseHelloFields(payload); err != nil {
		return nil, err
	}

	b := buf.NewBuffer(make([]byte, 0, 256))
	if err := b.AppendByte(node.VerbOK); err != nil {
		return nil, err
	}
	if err := b.AppendByte(node.VerbHello); err != nil { // in_re_verb
		return nil, err
	}
	if err := b.AppendByte(selfProtocolVersion); err != nil {
		return nil, err
	}
	if err := b.AppendByte(selfMajor); err != nil {
		return nil, err
	}
	if err := b.AppendByte(selfMinor); err != nil {
		return nil, err
	}
	if err := b.AppendUint16(selfRevision); err != nil {
		return nil, err
	}
	if err := b.AppendUint64(selfTimestamp); err != nil {
		return nil, err
	}
	if err := observedEndpoint.Marshal(b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// ParseHelloFields parses the fixed HELLO header (after the verb byte).
func ParseHelloFields(payload []byte) (HelloFields, error) {
	var f HelloFields
	r := buf.WrapRead(payload)
	if _, err := r.ReadByte(); err != nil { // verb
		return f, err
	}
	pv, err := r.ReadByte()
	if err != nil {
		return f, err
	}
	f.ProtocolVersion = pv
	maj, err := r.ReadByte()
	if err != nil {
		return f, err
	}
	f.VersionMajor = maj
	min, err := r.ReadByte()
	if err != nil {
		return f, err
	}
	f.VersionMinor = min
	rev, err := r.ReadUint16()
	if err != nil {
		return f, err
	}
	f.VersionRevision = rev
	ts, err := r.ReadUint64()
	if err != nil {
		return f, err
	}
	f.Timestamp = ts
	return f, nil
}

// HandleOKHello processes an inbound OK(HELLO): records the remote's
// declared version, and — if hops == 0 and the path was unknown — learns
// the source path and inserts the reported endpoint into the peer's
// reported-local-endpoints map.
func (p *Peer) HandleOKHello(payload []byte, hops int, arena *node.Arena, sourcePath node.PathRef, nowTicks int64) error {
	r := buf.WrapRead(payload)
	if _, err := r.ReadBytes(2); err != nil { // verb, in_re_verb
		return err
	}
	pv, err := r.ReadByte()
	if err != nil {
		return err
	}
	maj, err := r.ReadByte()
	if err != nil {
		return err
	}
	min, err := r.ReadByte()
	if err != nil {
		return err
	}
	rev, err := r.ReadUint16()
	if err != nil {
		return err
	}
	if _, err := r.ReadUint64(); err != nil { // echoed timestamp
		return err
	}
	reportedEndpoint, err := vl1.UnmarshalEndpoint(r)
	if err != nil {
		return err
	}

	p.remoteInfo.SetRemoteVersion(int(pv), int(maj), int(min), int(rev))

	if hops == 0 {
		p.LearnPath(arena, sourcePath, nowTicks)
	}
	p.remoteInfo.ReportLocalEndpoint(reportedEndpoint, nowTicks)
	return nil
}

// BuildWhois renders a WHOIS request for the given addresses.
func BuildWhois(addrs []vl1.Address) ([]byte, error) {
	b := buf.NewBuffer(make([]byte, 0, 1+5*len(addrs)))
	if err := b.AppendByte(node.VerbWhois); err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if err := b.AppendBytes(a[:]); err != nil {
			return nil, err
		}
	}
	return b.Bytes(), nil
}

// LookupFunc resolves a known address to its full public identity.
type LookupFunc func(vl1.Address) (*identity.Identity, bool)

// HandleWhois answers a WHOIS request: for each 5-byte address in the
// payload that lookup knows, appends that peer's full public identity to
// the reply, packing replies into MTU-sized packets until addresses run
// out (§4.5). mtu bounds the body size of each returned packet (the
// caller still must add framing/header overhead).
func HandleWhois(payload []byte, lookup LookupFunc, mtu int) ([][]byte, error) {
	r := buf.WrapRead(payload)
	if _, err := r.ReadByte(); err != nil { // verb
		return nil, err
	}

	var replies [][]byte
	cur := buf.NewBuffer(make([]byte, 0, mtu))
	_ = cur.AppendByte(node.VerbOK)
	_ = cur.AppendByte(node.VerbWhois)

	flush := func() {
		if cur.Len() > 2 {
			replies = append(replies, cur.Bytes())
		}
		cur = buf.NewBuffer(make([]byte, 0, mtu))
		_ = cur.AppendByte(node.VerbOK)
		_ = cur.AppendByte(node.VerbWhois)
	}

	for r.Remaining() >= vl1.AddressSize {
		raw, err := r.ReadBytes(vl1.AddressSize)
		if err != nil {
			return nil, err
		}
		var addr vl1.Address
		copy(addr[:], raw)

		id, ok := lookup(addr)
		if !ok {
			continue
		}
		idBytes, err := identity.MarshalBinary(id, false)
		if err != nil {
			return nil, err
		}
		if cur.Len()+len(idBytes) > mtu {
			flush()
		}
		_ = cur.AppendBytes(idBytes)
	}
	flush()
	return replies, nil
}

// HandleOKWhois is accepted only from a root; it decodes a stream of
// public identities and hands each to adopt for adoption by the node.
func HandleOKWhois(payload []byte, isFromRoot bool, adopt func(*identity.Identity)) error {
	if !isFromRoot {
		return fmt.Errorf("peer: ok(whois) rejected: not from a root")
	}
	r := buf.WrapRead(payload)
	if _, err := r.ReadBytes(2); err != nil { // verb, in_re_verb
		return err
	}
	for r.Remaining() > 0 {
		id, err := identity.UnmarshalBinaryFrom(r)
		if err != nil {
			return err
		}
		adopt(id)
	}
	return nil
}

// BuildEcho renders an ECHO request carrying an arbitrary payload.
func BuildEcho(data []byte) []byte {
	b := buf.NewBuffer(make([]byte, 0, 1+len(data)))
	_ = b.AppendByte(node.VerbEcho)
	_ = b.AppendBytes(data)
	return b.Bytes()
}

// HandleEcho answers an ECHO request with OK carrying the same payload,
// but only if the sender is trusted.
func HandleEcho(payload []byte, isTrusted bool) ([]byte, error) {
	if !isTrusted {
		return nil, fmt.Errorf("peer: echo rejected: sender not trusted")
	}
	b := buf.NewBuffer(make([]byte, 0, len(payload)+1))
	_ = b.AppendByte(node.VerbOK)
	_ = b.AppendByte(node.VerbEcho)
	_ = b.AppendBytes(payload[1:]) // strip the inbound verb byte, keep the rest
	return b.Bytes(), nil
}

// RendezvousHint is one suggested peer endpoint extracted from a RENDEZVOUS
// message: "address believes it can be reached at endpoint".
type RendezvousHint struct {
	With     vl1.Address
	Endpoint vl1.Endpoint
}

// HandleRendezvous parses a RENDEZVOUS message (only ever honored from a
// root, since it's an instruction to attempt a connection to a third party
// named by the sender — spec.md §9's Open Question decision keeps this a
// trust-gated parse-only stub: the node has no orchestration logic yet to
// actually kick off a hole-punch attempt, so the hint is returned for the
// caller to act on or ignore).
func HandleRendezvous(payload []byte, isFromRoot bool) (RendezvousHint, error) {
	var hint RendezvousHint
	if !isFromRoot {
		return hint, fmt.Errorf("peer: rendezvous rejected: not from a root")
	}
	r := buf.WrapRead(payload)
	if _, err := r.ReadByte(); err != nil { // verb
		return hint, err
	}
	addrB, err := r.ReadBytes(vl1.AddressSize)
	if err != nil {
		return hint, err
	}
	copy(hint.With[:], addrB)
	ep, err := vl1.UnmarshalEndpoint(r)
	if err != nil {
		return hint, err
	}
	hint.Endpoint = ep
	return hint, nil
}

// HandlePushDirectPaths parses a PUSH_DIRECT_PATHS message: a list of
// endpoints the sender claims to also be reachable at. This is trust-gated
// and parse-only (§9's Open Question decision): blindly learning paths
// suggested by a peer (rather than directly observed) would let an
// untrusted peer redirect traffic, so the hints are returned for the
// caller's own policy to accept or discard rather than being auto-learned.
func HandlePushDirectPaths(payload []byte, isTrusted bool) ([]vl1.Endpoint, error) {
	if !isTrusted {
		return nil, fmt.Errorf("peer: push_direct_paths rejected: sender not trusted")
	}
	r := buf.WrapRead(payload)
	if _, err := r.ReadByte(); err != nil { // verb
		return nil, err
	}
	count, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	endpoints := make([]vl1.Endpoint, 0, count)
	for i := 0; i < int(count); i++ {
		ep, err := vl1.UnmarshalEndpoint(r)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// BuildPushDirectPaths renders a PUSH_DIRECT_PATHS message advertising
// endpoints this node believes it is reachable at.
func BuildPushDirectPaths(endpoints []vl1.Endpoint) ([]byte, error) {
	if len(endpoints) > 255 {
		return nil, fmt.Errorf("peer: push_direct_paths: too many endpoints (%d)", len(endpoints))
	}
	b := buf.NewBuffer(make([]byte, 0, 32*len(endpoints)+2))
	if err := b.AppendByte(node.VerbPushDirectPaths); err != nil {
		return nil, err
	}
	if err := b.AppendByte(byte(len(endpoints))); err != nil {
		return nil, err
	}
	for _, ep := range endpoints {
		if err := ep.Marshal(b); err != nil {
			return nil, err
		}
	}
	return b.Bytes(), nil
}
