// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

// Package cloud implements the orchestrator (spec.md §4.8, C10): the
// single event-loop owner that glues the local interface, the UDP
// socket, the forwarding table, the peer set and reconnect queue, the
// beacon, and the port forwarder together, and drives them from the
// poll loop's readiness events and its ≈1 Hz housekeeping tick.
package cloud

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bfix/gospel/logger"

	"github.com/wisdark/vpncloud/beacon"
	"github.com/wisdark/vpncloud/config"
	"github.com/wisdark/vpncloud/cryptosession"
	"github.com/wisdark/vpncloud/device"
	"github.com/wisdark/vpncloud/peer"
	"github.com/wisdark/vpncloud/poll"
	"github.com/wisdark/vpncloud/portfwd"
	"github.com/wisdark/vpncloud/privilege"
	"github.com/wisdark/vpncloud/stats"
	"github.com/wisdark/vpncloud/table"
	"github.com/wisdark/vpncloud/util"
	"github.com/wisdark/vpncloud/wire"
)

// maxDatagram bounds the scratch buffers used for the interface and
// socket read paths: a flat 64 KiB, large enough for any UDP datagram
// and any frame read from the device.
const maxDatagram = 65536

// Cloud owns every piece of mutable runtime state (spec.md §4.8). It is
// mutated only from the goroutine running Run's poll loop; Start and New
// run before that loop begins.
type Cloud struct {
	cfg *config.Config

	dev  device.Device
	conn *net.UDPConn

	magic   uint32
	methods *cryptosession.MethodTable
	nodeID  peer.NodeID
	tap     bool

	table     *table.Table
	peers     *peer.Set
	reconnect *peer.ReconnectQueue
	// pending holds handshakes in progress, keyed by remote address
	// string (spec.md §3: "handshake state is held separately in a
	// pending-handshakes map keyed by remote address").
	pending map[string]*cryptosession.Session

	claims    []wire.NodeAddress
	forwarder *portfwd.Forwarder
	lease     *portfwd.Lease

	stats *stats.Stats
	clock util.TimeSource

	lastKeepalive time.Time
	lastBeacon    time.Time
}

// New builds an orchestrator for a merged Config and an already-opened
// local interface and UDP socket. clock may be nil to use the system
// clock.
func New(cfg *config.Config, dev device.Device, conn *net.UDPConn, st *stats.Stats, clock util.TimeSource) (*Cloud, error) {
	if clock == nil {
		clock = util.SystemTimeSource{}
	}
	magic, err := wire.ParseMagic(cfg.Magic)
	if err != nil {
		return nil, err
	}
	claims, err := buildClaims(cfg)
	if err != nil {
		return nil, err
	}
	c := &Cloud{
		cfg:       cfg,
		dev:       dev,
		conn:      conn,
		magic:     magic,
		methods:   cryptosession.NewMethodTable(cfg.Crypto.Algorithms),
		nodeID:    peer.NewNodeID(),
		tap:       cfg.Device.Type == config.DeviceTAP,
		table:     table.New(tableModeFromConfig(cfg.Mode), cfg.SwitchTimeout, clock),
		peers:     peer.NewSet(clock),
		reconnect: peer.NewReconnectQueue(clock),
		pending:   make(map[string]*cryptosession.Session),
		claims:    claims,
		stats:     st,
		clock:     clock,
	}
	return c, nil
}

func tableModeFromConfig(m config.Mode) table.Mode {
	switch m {
	case config.ModeRouter:
		return table.ModeRouter
	case config.ModeSwitch:
		return table.ModeSwitch
	case config.ModeHub:
		return table.ModeHub
	default:
		return table.ModeNormal
	}
}

// buildClaims parses the configured claim list and, if auto_claim is
// set, appends the claim derived from `ip` (spec.md §3 "ClaimSet").
func buildClaims(cfg *config.Config) ([]wire.NodeAddress, error) {
	var claims []wire.NodeAddress
	for _, s := range cfg.Claims {
		c, err := ParseClaim(s)
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	if cfg.AutoClaim && cfg.IP != "" {
		c, err := AutoClaimIP(cfg.IP)
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, nil
}

// Start runs the one-time startup sequence after the interface and
// socket are already open (spec.md §4.8: "request port forwarding →
// connect to each configured peer (enqueue, not block)"). Run should be
// called immediately after.
func (c *Cloud) Start() {
	for _, p := range c.cfg.Peers {
		c.reconnect.Add(p, true)
	}
	if c.cfg.Device.MTU > 0 {
		if err := device.SetMTU(c.dev.Name(), c.cfg.Device.MTU); err != nil {
			logger.Printf(logger.WARN, "[cloud] failed to set device mtu: %s", err)
		}
	}
	if c.cfg.IP != "" {
		if ip, ipnet, err := net.ParseCIDR(c.cfg.IP); err != nil {
			logger.Printf(logger.WARN, "[cloud] invalid ip %q: %s", c.cfg.IP, err)
		} else {
			bits, _ := ipnet.Mask.Size()
			if err := device.SetIPv4(c.dev.Name(), ip.String(), bits); err != nil {
				logger.Printf(logger.WARN, "[cloud] failed to set device address: %s", err)
			}
		}
	}
	if err := privilege.RunScript(c.cfg.Ifup, c.dev.Name()); err != nil {
		logger.Printf(logger.WARN, "[cloud] ifup script failed: %s", err)
	}
	if c.cfg.PortForwarding {
		c.forwarder = portfwd.New(c.listenPort(), "vpncloud")
		lease, err := c.forwarder.Open()
		if err != nil {
			logger.Printf(logger.DBG, "[cloud] port forwarding failed: %s", err)
		} else if lease != nil {
			c.lease = lease
			logger.Printf(logger.INFO, "[cloud] port forwarding active: %s", lease)
		}
	}
}

func (c *Cloud) listenPort() int {
	if a, ok := c.conn.LocalAddr().(*net.UDPAddr); ok {
		return a.Port
	}
	return 0
}

// udpEvent is one datagram handed from the socket-reading goroutine to
// the poll loop.
type udpEvent struct {
	addr *net.UDPAddr
	data []byte
}

// Run enters the poll loop and blocks until ctx is cancelled, then runs
// shutdown (spec.md §4.8).
func (c *Cloud) Run(ctx context.Context) error {
	deviceCh := make(chan interface{}, 64)
	udpCh := make(chan interface{}, 64)
	go c.pumpDevice(ctx, deviceCh)
	go c.pumpUDP(ctx, udpCh)

	poll.Run(ctx, deviceCh, udpCh, poll.Handlers{
		OnDevice:     c.onDeviceEvent,
		OnUDP:        c.onUDPEvent,
		OnHousekeep:  c.housekeep,
		TickInterval: time.Second,
	})
	return c.shutdown()
}

func (c *Cloud) pumpDevice(ctx context.Context, ch chan<- interface{}) {
	buf := make([]byte, maxDatagram)
	for ctx.Err() == nil {
		n, err := c.dev.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		frame := append([]byte(nil), buf[:n]...)
		select {
		case ch <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Cloud) pumpUDP(ctx context.Context, ch chan<- interface{}) {
	buf := make([]byte, maxDatagram)
	for ctx.Err() == nil {
		n, from, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		data := append([]byte(nil), buf[:n]...)
		select {
		case ch <- udpEvent{addr: from, data: data}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Cloud) onDeviceEvent(ev interface{}) {
	c.handleOutboundFrame(ev.([]byte))
}

func (c *Cloud) onUDPEvent(ev interface{}) {
	e := ev.(udpEvent)
	c.handleDatagram(e.addr, e.data)
}

// handleOutboundFrame resolves a frame read from the local interface to
// a peer (or broadcast set) via the forwarding table and sends it
// (spec.md §2: "local interface → C10 reads packet → C4 resolves
// destination ... → C3 seals → C2 frames → UDP send").
func (c *Cloud) handleOutboundFrame(frame []byte) {
	_, dst, ok := frameAddresses(c.tap, frame)
	if !ok {
		return
	}
	ref, action := c.table.Resolve(dst)
	switch action {
	case table.ActionDrop:
		c.stats.Inc(stats.DroppedNoRoute)
	case table.ActionUnicast:
		if rec := c.peerByRef(ref); rec != nil {
			c.sendData(rec, frame)
		} else {
			c.stats.Inc(stats.DroppedNoRoute)
		}
	case table.ActionBroadcast:
		for _, rec := range c.peers.All() {
			c.sendData(rec, frame)
		}
	}
}

func (c *Cloud) peerByRef(ref table.PeerRef) *peer.Record {
	id, err := nodeIDFromRef(ref)
	if err != nil {
		return nil
	}
	rec, ok := c.peers.Get(id)
	if !ok {
		return nil
	}
	return rec
}

func nodeIDFromRef(ref table.PeerRef) (peer.NodeID, error) {
	var id peer.NodeID
	b, err := hex.DecodeString(string(ref))
	if err != nil || len(b) != len(id) {
		return id, fmt.Errorf("cloud: malformed peer ref %q", ref)
	}
	copy(id[:], b)
	return id, nil
}

func (c *Cloud) sendData(rec *peer.Record, payload []byte) {
	body, err := wire.Marshal(wire.NewDataMsg(payload))
	if err != nil {
		return
	}
	if err := c.sendSealed(rec.Remote.UDPAddr(), rec.Session, body); err != nil {
		logger.Printf(logger.DBG, "[cloud] send to %s failed: %s", rec.Remote, err)
		return
	}
	if len(payload) > 0 {
		c.stats.Inc(stats.PacketsOut)
		c.stats.Add(stats.BytesOut, len(payload))
	}
}

// handleDatagram parses a datagram's header, opens its body if
// encrypted, and dispatches on message kind (spec.md §2: "UDP recv → C2
// parses header → C3 opens → dispatch by message kind").
func (c *Cloud) handleDatagram(from *net.UDPAddr, data []byte) {
	magic, method, encrypted, err := wire.DecodeHeader(data)
	if err != nil {
		c.stats.Inc(stats.Truncated)
		return
	}
	if magic != c.magic {
		c.stats.Inc(stats.BadMagic)
		return
	}
	header := data[:wire.HeaderSize]
	rest := data[wire.HeaderSize:]

	var body []byte
	var rec *peer.Record
	if encrypted {
		if len(rest) < 3 {
			c.stats.Inc(stats.Truncated)
			return
		}
		seq := uint32(rest[0])<<16 | uint32(rest[1])<<8 | uint32(rest[2])
		ciphertext := rest[3:]
		sock := wire.NewSocketAddr(from.IP, uint16(from.Port))
		r, ok := c.peers.GetByRemote(sock)
		if !ok {
			c.stats.Inc(stats.AuthFailed)
			return
		}
		plain, err := r.Session.Open(seq, ciphertext, header)
		if err != nil {
			if errors.Is(err, cryptosession.ErrReplay) {
				c.stats.Inc(stats.Replay)
			} else {
				c.stats.Inc(stats.AuthFailed)
			}
			return
		}
		body = plain
		rec = r
		c.peers.Touch(r.NodeID)
	} else {
		body = rest
		_ = method
	}

	msg, err := wire.DecodeBody(body)
	if err != nil {
		c.stats.Inc(stats.UnknownMsgType)
		return
	}
	switch m := msg.(type) {
	case *wire.InitMsg:
		c.handleInit(from, m)
	case *wire.ResponseMsg:
		c.handleResponse(from, m)
	case *wire.DataMsg:
		c.handleData(rec, m)
	case *wire.PeersMsg:
		c.handlePeers(rec, m)
	case *wire.CloseMsg:
		c.handleClose(rec)
	}
}

func (c *Cloud) handleInit(from *net.UDPAddr, m *wire.InitMsg) {
	sess := cryptosession.NewSession(c.methods, c.cfg.Crypto.Password)
	resp, err := sess.HandleInit(*m)
	if err != nil {
		if errors.Is(err, cryptosession.ErrBadMethod) {
			c.stats.Inc(stats.BadMethod)
		}
		return
	}
	resp.NodeID = append([]byte(nil), c.nodeID[:]...)
	body, err := wire.Marshal(&resp)
	if err != nil {
		return
	}
	if err := c.sendPlain(from, resp.Method, body); err != nil {
		logger.Printf(logger.DBG, "[cloud] failed to send Response to %s: %s", from, err)
		return
	}
	var peerID peer.NodeID
	if len(m.NodeID) == len(peerID) {
		copy(peerID[:], m.NodeID)
	}
	c.establishPeer(peerID, from, sess)
}

func (c *Cloud) handleResponse(from *net.UDPAddr, m *wire.ResponseMsg) {
	sess, ok := c.pending[from.String()]
	if !ok {
		return
	}
	delete(c.pending, from.String())
	if err := sess.HandleResponse(*m); err != nil {
		if errors.Is(err, cryptosession.ErrBadMethod) {
			c.stats.Inc(stats.BadMethod)
		}
		c.reconnect.Fail(from.String())
		return
	}
	var peerID peer.NodeID
	if len(m.NodeID) == len(peerID) {
		copy(peerID[:], m.NodeID)
	}
	c.establishPeer(peerID, from, sess)
}

// establishPeer inserts a freshly established session into the peer
// set, resolving the node-id collision tie-break (spec.md §4.4): the
// loser's session is closed and discarded.
func (c *Cloud) establishPeer(id peer.NodeID, from *net.UDPAddr, sess *cryptosession.Session) {
	addrStr := from.String()
	rec := &peer.Record{
		NodeID:     id,
		Remote:     wire.NewSocketAddr(from.IP, uint16(from.Port)),
		Session:    sess,
		FromConfig: c.reconnect.FromConfig(addrStr),
	}
	if _, won := c.peers.Add(rec); !won {
		sess.Close()
		return
	}
	c.reconnect.Succeed(addrStr)
	logger.Printf(logger.INFO, "[cloud] peer established: %s (%s)", id, from)
}

func (c *Cloud) handleData(rec *peer.Record, m *wire.DataMsg) {
	if rec == nil || len(m.Payload) == 0 {
		return
	}
	if c.table.Mode() == table.ModeSwitch {
		if src, _, ok := frameAddresses(c.tap, m.Payload); ok {
			c.table.Learn(src, rec.Ref())
		}
	}
	c.stats.Inc(stats.PacketsIn)
	c.stats.Add(stats.BytesIn, len(m.Payload))
	if err := c.dev.Write(m.Payload); err != nil {
		logger.Printf(logger.DBG, "[cloud] device write failed: %s", err)
	}
}

func (c *Cloud) handlePeers(rec *peer.Record, m *wire.PeersMsg) {
	if rec == nil {
		return
	}
	rec.Claims = m.Claims
	for _, claim := range m.Claims {
		c.table.LearnClaim(claim, rec.Ref())
	}
	ownAddr := c.conn.LocalAddr().String()
	for _, pi := range m.Peers {
		addrStr := pi.Addr.String()
		if addrStr == ownAddr {
			continue
		}
		if _, ok := c.peers.GetByRemote(pi.Addr); ok {
			continue
		}
		if c.reconnect.Contains(addrStr) {
			continue
		}
		c.reconnect.Add(addrStr, false)
	}
}

func (c *Cloud) handleClose(rec *peer.Record) {
	if rec == nil {
		return
	}
	c.removePeer(rec)
}

func (c *Cloud) removePeer(rec *peer.Record) {
	c.peers.Remove(rec.NodeID)
	c.table.RemovePeer(rec.Ref())
	rec.Session.Close()
	if rec.FromConfig {
		c.reconnect.Readd(rec.Remote.String(), true)
	}
	c.stats.Inc(stats.PeersEvicted)
}

// sendPlain writes an unencrypted datagram: the handshake messages
// (spec.md §4.1: "flags bit 0 = 0 ... plaintext body").
func (c *Cloud) sendPlain(to *net.UDPAddr, method uint8, body []byte) error {
	buf := make([]byte, wire.HeaderSize, wire.HeaderSize+len(body))
	wire.EncodeHeader(buf, c.magic, method, false)
	buf = append(buf, body...)
	_, err := c.conn.WriteToUDP(buf, to)
	return err
}

// sendSealed writes an AEAD-sealed datagram: the header (used as
// associated data), the 3-byte sequence number the receiver needs to
// reconstruct the nonce (spec.md §2's "3-byte crypto nonce"; datagrams
// may arrive out of order so the counter travels on the wire rather
// than being inferred from delivery order), then the ciphertext.
func (c *Cloud) sendSealed(to *net.UDPAddr, sess *cryptosession.Session, body []byte) error {
	header := make([]byte, wire.HeaderSize)
	wire.EncodeHeader(header, c.magic, sess.Method(), true)
	ciphertext, seq, err := sess.Seal(body, header)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, wire.HeaderSize+3+len(ciphertext))
	buf = append(buf, header...)
	buf = append(buf, byte(seq>>16), byte(seq>>8), byte(seq))
	buf = append(buf, ciphertext...)
	_, err = c.conn.WriteToUDP(buf, to)
	return err
}

// initiate sends a fresh Init to addr and records the handshake as
// pending, called for every address the reconnect queue reports due
// (spec.md §4.6).
func (c *Cloud) initiate(addr string) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		logger.Printf(logger.WARN, "[cloud] bad peer address %q: %s", addr, err)
		c.reconnect.Fail(addr)
		return
	}
	sess := cryptosession.NewSession(c.methods, c.cfg.Crypto.Password)
	initMsg, err := sess.BeginInitiate()
	if err != nil {
		c.reconnect.Fail(addr)
		return
	}
	initMsg.NodeID = append([]byte(nil), c.nodeID[:]...)
	body, err := wire.Marshal(&initMsg)
	if err != nil {
		return
	}
	if err := c.sendPlain(udpAddr, initMsg.Method, body); err != nil {
		logger.Printf(logger.DBG, "[cloud] failed to send Init to %s: %s", addr, err)
		c.reconnect.Fail(addr)
		return
	}
	c.pending[udpAddr.String()] = sess
}

// housekeep runs every ≈1 Hz tick (spec.md §4.7): table eviction, peer
// timeouts, reconnect retries, keepalive/gossip, beacon ops, port
// mapping refresh, and statistics emission.
func (c *Cloud) housekeep() {
	now := c.clock.Now()

	c.table.Housekeep()
	for _, rec := range c.peers.EvictExpired(c.cfg.PeerTimeout) {
		c.table.RemovePeer(rec.Ref())
		rec.Session.Close()
		if rec.FromConfig {
			c.reconnect.Readd(rec.Remote.String(), true)
		}
		c.stats.Inc(stats.PeersEvicted)
	}
	for _, addr := range c.reconnect.Due() {
		c.initiate(addr)
	}

	if stats.Due(c.lastKeepalive, c.cfg.Keepalive(), now) {
		c.sendKeepalives()
		c.sendPeersGossip()
		c.lastKeepalive = now
	}
	if c.cfg.Beacon.Interval > 0 && stats.Due(c.lastBeacon, c.cfg.Beacon.Interval, now) {
		c.runBeacon()
		c.lastBeacon = now
	}
	if c.forwarder != nil {
		c.forwarder.Tick(now)
	}
	c.stats.Emit()
}

// sendKeepalives sends an empty Data frame to every peer, refreshing
// their NAT mapping and our own liveness in their records (spec.md
// §4.4).
func (c *Cloud) sendKeepalives() {
	for _, rec := range c.peers.All() {
		c.sendData(rec, nil)
	}
}

// sendPeersGossip sends every peer the full current peer list (minus
// itself) and our claim set (spec.md §4.4, §8 invariant 6).
func (c *Cloud) sendPeersGossip() {
	all := c.peers.All()
	for _, target := range all {
		infos := make([]wire.PeerInfo, 0, len(all)-1)
		for _, other := range all {
			if other.NodeID == target.NodeID {
				continue
			}
			infos = append(infos, wire.PeerInfo{
				Addr:   other.Remote,
				NodeID: append([]byte(nil), other.NodeID[:]...),
			})
		}
		msg := wire.NewPeersMsg(infos, c.claims)
		body, err := wire.Marshal(msg)
		if err != nil {
			continue
		}
		if err := c.sendSealed(target.Remote.UDPAddr(), target.Session, body); err != nil {
			logger.Printf(logger.DBG, "[cloud] peers gossip to %s failed: %s", target.Remote, err)
		}
	}
}

// runBeacon publishes our public endpoint set (if beacon.store is
// configured) and ingests addresses from beacon.load into the
// reconnect queue (spec.md §4.5).
func (c *Cloud) runBeacon() {
	if c.cfg.Beacon.Store != "" {
		if err := beacon.Store(c.cfg.Beacon.Store, c.publicEndpoints(), c.cfg.Beacon.Password); err != nil {
			logger.Printf(logger.WARN, "[cloud] beacon store failed: %s", err)
		}
	}
	if c.cfg.Beacon.Load != "" {
		addrs, err := beacon.Load(c.cfg.Beacon.Load, c.cfg.Beacon.Password)
		if err != nil {
			logger.Printf(logger.DBG, "[cloud] beacon load failed: %s", err)
			return
		}
		for _, a := range addrs {
			addrStr := a.String()
			if _, ok := c.peers.GetByRemote(a); ok {
				continue
			}
			if c.reconnect.Contains(addrStr) {
				continue
			}
			c.reconnect.Add(addrStr, false)
		}
	}
}

// publicEndpoints builds the address list beacon.Store publishes: the
// port-forwarded external port if a mapping is active, otherwise the
// local listen port, paired with the configured `ip` as a best-effort
// reachable address (this daemon has no STUN-like facility to learn its
// own public IP, which is out of scope per spec.md §1).
func (c *Cloud) publicEndpoints() []wire.SocketAddr {
	port := c.listenPort()
	if c.lease != nil {
		port = c.lease.Port
	}
	ip := net.IPv4zero
	if addr, _, err := net.ParseCIDR(c.cfg.IP); err == nil {
		ip = addr
	} else if parsed := net.ParseIP(c.cfg.IP); parsed != nil {
		ip = parsed
	}
	return []wire.SocketAddr{wire.NewSocketAddr(ip, uint16(port))}
}

// shutdown sends Close to every peer, releases the port mapping, and
// runs the ifdown script (spec.md §4.8).
func (c *Cloud) shutdown() error {
	for _, rec := range c.peers.All() {
		body, err := wire.Marshal(wire.NewCloseMsg())
		if err != nil {
			continue
		}
		_ = c.sendSealed(rec.Remote.UDPAddr(), rec.Session, body)
	}
	if c.forwarder != nil {
		c.forwarder.Close()
	}
	if err := privilege.RunScript(c.cfg.Ifdown, c.dev.Name()); err != nil {
		logger.Printf(logger.WARN, "[cloud] ifdown script failed: %s", err)
	}
	return nil
}
