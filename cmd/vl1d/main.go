// Command vl1d runs a standalone VL1 node: it owns a UDP socket, frames and
// unframes V1 packets, and dispatches them through vl1/core the way
// cmd/tor-client wires a directory cache and circuit builder into a running
// SOCKS proxy.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/vl1proto/vl1-go/internal/buf"
	"github.com/vl1proto/vl1-go/vl1"
	"github.com/vl1proto/vl1-go/vl1/core"
	"github.com/vl1proto/vl1-go/vl1/datadir"
	"github.com/vl1proto/vl1-go/vl1/fragged"
	"github.com/vl1proto/vl1-go/vl1/framing"
	"github.com/vl1proto/vl1-go/vl1/identity"
	"github.com/vl1proto/vl1-go/vl1/node"
)

// Version is set at build time via ldflags.
var Version = "dev"

const serviceInterval = 10 * time.Second

// localConfig is the JSON shape of local.conf.
type localConfig struct {
	ListenAddr string      `json:"listen_addr"`
	Roots      vl1.RootSet `json:"roots"`
}

func defaultConfig() localConfig {
	return localConfig{ListenAddr: ":9993"}
}

func main() {
	dirFlag := flag.String("datadir", defaultDataDir(), "path to the node's data directory")
	zsspDialFlag := flag.String("zssp-dial", "", "address (hex) of an already-configured root/peer to open a ZSSP session against on startup")
	flag.Parse()

	logger, logFile := setupLogging()
	defer func() { _ = logFile.Close() }()

	fmt.Printf("=== vl1d %s ===\n", Version)

	dd, err := datadir.Open(*dirFlag)
	if err != nil {
		logger.Error("failed to open data directory", "error", err)
		os.Exit(1)
	}

	self, err := dd.ReadIdentity(true)
	if err != nil {
		logger.Error("failed to load or generate identity", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Identity: %s\n", self.Address)

	if _, err := dd.AuthToken(); err != nil {
		logger.Warn("failed to establish local auth token", "error", err)
	}

	cfg := defaultConfig()
	if err := dd.ReadConfig(&cfg); err != nil {
		logger.Error("failed to read local.conf", "error", err)
		os.Exit(1)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultConfig().ListenAddr
	}

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		logger.Error("invalid listen_addr", "addr", cfg.ListenAddr, "error", err)
		os.Exit(1)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		logger.Error("failed to bind UDP socket", "addr", cfg.ListenAddr, "error", err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()
	fmt.Printf("Listening on %s\n", conn.LocalAddr())

	app := newUDPApp(conn, logger)
	d := &daemon{
		self:   self,
		app:    app,
		logger: logger,
	}
	d.node = core.New(self, app, &loggingInner{logger: logger})

	for _, r := range cfg.Roots.Entries {
		d.node.AddRoot(r.Identity.Address)
		p, err := d.node.LearnPeer(r.Identity, app.TimeTicks())
		if err != nil {
			logger.Warn("failed to learn root", "root", r.Identity.Address, "error", err)
			continue
		}
		ref := d.node.Arena().Insert(&node.Path{Endpoint: r.Endpoint})
		p.LearnPath(d.node.Arena(), ref, app.TimeTicks())
		logger.Info("configured root", "address", r.Identity.Address, "endpoint", r.Endpoint.String())
	}

	if *zsspDialFlag != "" {
		target, err := vl1.ParseAddress(*zsspDialFlag)
		if err != nil {
			logger.Error("invalid -zssp-dial address", "address", *zsspDialFlag, "error", err)
			os.Exit(1)
		}
		if err := d.node.StartZSSPSession(target, app.TimeTicks()); err != nil {
			logger.Error("failed to start zssp session", "address", target, "error", err)
			os.Exit(1)
		}
		logger.Info("zssp handshake initiated", "address", target)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); d.receiveLoop(ctx) }()
	go func() { defer wg.Done(); d.serviceLoop(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-sigCh
	fmt.Println("\nShutting down...")
	cancel()
	_ = conn.Close()
	wg.Wait()
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.vl1"
	}
	return ".vl1"
}

func setupLogging() (*slog.Logger, *os.File) {
	logFile, err := os.OpenFile("vl1d-debug.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log file: %v\n", err)
		os.Exit(1)
	}
	fileHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})
	stdoutHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(&multiHandler{handlers: []slog.Handler{fileHandler, stdoutHandler}})
	return logger, logFile
}

// daemon holds the running node plus the per-packet fragment reassemblers
// the ApplicationLayer interface has no room for.
type daemon struct {
	self   *identity.Identity
	app    *udpApp
	node   *core.Node
	logger *slog.Logger

	fragMu  sync.Mutex
	pending map[uint64]*pendingPacket
}

// pendingPacket accumulates the unframed first chunk (which carries the
// PacketHeader but not the total fragment count) and the fragments that
// follow it (which carry the total but not the header) until both are known
// (§4.3). frag reassembles in header-relative order: slot 0 is always the
// first chunk.
type pendingPacket struct {
	header     framing.PacketHeader
	haveHeader bool
	chunk0     []byte
	frag       *fragged.Fragged[[]byte]
	total      int
}

func (d *daemon) pendingFor(id uint64) *pendingPacket {
	d.fragMu.Lock()
	defer d.fragMu.Unlock()
	if d.pending == nil {
		d.pending = make(map[uint64]*pendingPacket)
	}
	pp, ok := d.pending[id]
	if !ok {
		pp = &pendingPacket{frag: fragged.New[[]byte](framing.MaxFragmentCount)}
		d.pending[id] = pp
	}
	return pp
}

func (d *daemon) clearPending(id uint64) {
	d.fragMu.Lock()
	delete(d.pending, id)
	d.fragMu.Unlock()
}

func (d *daemon) receiveLoop(ctx context.Context) {
	readBuf := make([]byte, 65536)
	for {
		_ = d.app.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, raddr, err := d.app.conn.ReadFromUDP(readBuf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			d.logger.Warn("udp read error", "error", err)
			continue
		}
		d.handleDatagram(append([]byte(nil), readBuf[:n]...), raddr)
	}
}

func (d *daemon) serviceLoop(ctx context.Context) {
	ticker := time.NewTicker(serviceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.node.Service(d.app.TimeTicks())
		}
	}
}

// handleDatagram unframes one UDP datagram, which may be either a complete
// V1 packet or one fragment of one, and dispatches the reassembled plaintext
// once all fragments of a fragmented packet have arrived.
func (d *daemon) handleDatagram(data []byte, raddr *net.UDPAddr) {
	if len(data) < framing.FragmentHeaderSize {
		return
	}
	if data[13] == framing.FragmentIndicator {
		d.handleFragment(data, raddr)
		return
	}
	d.handleFirstChunk(data, raddr)
}

// handleFragment processes one trailing fragment (fragment numbers 1..
// total-1; the unframed first chunk always fills slot 0). It learns the
// total fragment count from the fragment header itself, which the first
// chunk never carries, and feeds a buffered first chunk into the
// reassembler retroactively once that total becomes known (§4.3).
func (d *daemon) handleFragment(data []byte, raddr *net.UDPAddr) {
	b := buf.WrapRead(data)
	fh, err := framing.UnmarshalFragmentHeader(b)
	if err != nil {
		return
	}
	payload, err := b.ReadBytes(b.Remaining())
	if err != nil {
		return
	}

	id := binary.BigEndian.Uint64(fh.ID[:])
	pp := d.pendingFor(id)
	pp.total = fh.Total()

	if fragments, ready := pp.frag.Assemble(id, fh.No(), pp.total, payload); ready {
		d.finishReassembly(id, pp, fragments, raddr)
		return
	}
	if pp.haveHeader && pp.chunk0 != nil {
		chunk0 := pp.chunk0
		pp.chunk0 = nil
		if fragments, ready := pp.frag.Assemble(id, 0, pp.total, chunk0); ready {
			d.finishReassembly(id, pp, fragments, raddr)
		}
	}
}

func (d *daemon) handleFirstChunk(data []byte, raddr *net.UDPAddr) {
	b := buf.WrapRead(data)
	header, err := framing.UnmarshalPacketHeader(b)
	if err != nil {
		return
	}
	rest, err := b.ReadBytes(b.Remaining())
	if err != nil {
		return
	}
	if header.Dest != d.self.Address {
		return // not for us; VL1 relaying is out of scope for this daemon
	}

	if !header.IsFragmented() {
		d.processPacket(header, rest, raddr)
		return
	}

	id := binary.BigEndian.Uint64(header.ID[:])
	pp := d.pendingFor(id)
	pp.header = header
	pp.haveHeader = true
	if pp.total > 0 {
		if fragments, ready := pp.frag.Assemble(id, 0, pp.total, rest); ready {
			d.finishReassembly(id, pp, fragments, raddr)
			return
		}
	}
	pp.chunk0 = rest
}

func (d *daemon) finishReassembly(id uint64, pp *pendingPacket, fragments [][]byte, raddr *net.UDPAddr) {
	d.clearPending(id)
	full := make([]byte, 0, len(fragments)*1400)
	for _, part := range fragments {
		full = append(full, part...)
	}
	d.processPacket(pp.header, full, raddr)
}

// processPacket authenticates and dispatches one fully reassembled V1
// packet (header plus its complete ciphertext payload).
func (d *daemon) processPacket(header framing.PacketHeader, rest []byte, raddr *net.UDPAddr) {
	p, known := d.node.Peer(header.Src)
	if !known {
		d.node.RequestWhois(header.Src, d.app.TimeTicks())
		return
	}

	plaintext, messageID, ok, err := framing.Decrypt(p.Secret(), &header, rest)
	if err != nil || !ok {
		if err != nil {
			d.logger.Debug("packet decrypt failed", "src", header.Src, "error", err)
		}
		return
	}
	if len(plaintext) == 0 {
		return
	}

	observedIP, _ := netip.AddrFromSlice(raddr.IP)
	ref := d.node.Arena().Insert(&node.Path{
		Endpoint: vl1.Endpoint{
			Kind: vl1.EndpointIpUdp,
			IP:   vl1.InetAddress{Addr: observedIP, Port: uint16(raddr.Port)},
		},
	})
	p.LearnPath(d.node.Arena(), ref, d.app.TimeTicks())

	verb := plaintext[0] & framing.MessageTypeMask
	d.node.HandlePacket(header.Src, int(header.Hops()), messageID, verb, plaintext, ref)
}

// loggingInner is the InnerProtocolLayer for verbs this daemon has no
// higher-level use for yet: it just logs them, the way directory/cache.go's
// callers log a soft failure rather than treating it as fatal.
type loggingInner struct {
	logger *slog.Logger
}

func (l *loggingInner) HandlePacket(app node.ApplicationLayer, hops int, messageID uint64, verb byte, payload []byte) node.PacketHandlerResult {
	l.logger.Debug("unhandled verb", "verb", verb, "hops", hops)
	return node.ResultNotHandled
}

func (l *loggingInner) HandleOK(app node.ApplicationLayer, inReVerb byte, inReMessageID uint64, payload []byte) node.PacketHandlerResult {
	return node.ResultNotHandled
}

func (l *loggingInner) HandleError(app node.ApplicationLayer, inReVerb byte, inReMessageID uint64, errorCode byte, payload []byte) node.PacketHandlerResult {
	return node.ResultNotHandled
}

// udpApp implements node.ApplicationLayer over a bound UDP socket.
type udpApp struct {
	conn   *net.UDPConn
	logger *slog.Logger
}

func newUDPApp(conn *net.UDPConn, logger *slog.Logger) *udpApp {
	return &udpApp{conn: conn, logger: logger}
}

func (a *udpApp) TimeTicks() int64 { return time.Now().UnixMilli() }

func (a *udpApp) GetBuffer() []byte { return make([]byte, 2048) }

func (a *udpApp) ShouldRespondTo(id []byte) bool { return true }

func (a *udpApp) Event(evt node.Event) {
	a.logger.Debug("event", "kind", evt.Kind, "address", evt.Address.String(), "detail", evt.Detail)
}

func (a *udpApp) WireSend(endpoint vl1.Endpoint, localSocket, localInterface any, data []byte, hint int) error {
	if endpoint.Kind != vl1.EndpointIpUdp {
		return fmt.Errorf("vl1d: cannot send to non-UDP endpoint %s", endpoint.String())
	}
	addr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(endpoint.IP.Addr, endpoint.IP.Port))
	_, err := a.conn.WriteToUDP(data, addr)
	return err
}

// multiHandler fans out slog records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: hs}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: hs}
}
