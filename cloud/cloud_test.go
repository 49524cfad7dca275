// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package cloud

import (
	"net"
	"testing"
	"time"

	"github.com/wisdark/vpncloud/config"
	"github.com/wisdark/vpncloud/device"
	"github.com/wisdark/vpncloud/stats"
	"github.com/wisdark/vpncloud/table"
	"github.com/wisdark/vpncloud/util"
	"github.com/wisdark/vpncloud/wire"
)

// newTestCloud builds a Cloud bound to a real loopback UDP socket, with a
// DummyDevice in place of a kernel tun/tap interface, so the handshake
// and forwarding paths can be driven deterministically without a poll
// loop running in the background.
func newTestCloud(t *testing.T, mode config.Mode) (*Cloud, *device.DummyDevice) {
	t.Helper()
	cfg := config.Default()
	cfg.Magic = "hash:clustertest"
	cfg.Crypto.Password = "shared-secret"
	cfg.Crypto.Algorithms = []string{"chacha20"}
	cfg.Mode = mode
	cfg.Device.Type = config.DeviceTAP
	cfg.PortForwarding = false

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	dev := device.NewDummyDevice()
	st, err := stats.New("", "", "")
	if err != nil {
		t.Fatalf("stats.New: %v", err)
	}
	t.Cleanup(st.Close)

	clock := util.NewVirtualTimeSource(time.Unix(1700000000, 0))
	c, err := New(cfg, dev, conn, st, clock)
	if err != nil {
		t.Fatalf("cloud.New: %v", err)
	}
	return c, dev
}

// readOneDatagram reads exactly one datagram from c's socket, the way the
// production pumpUDP goroutine would, but synchronously for test control.
func readOneDatagram(t *testing.T, c *Cloud) (*net.UDPAddr, []byte) {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, maxDatagram)
	n, from, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	return from, buf[:n]
}

// handshakeClouds drives a to initiate a handshake with b and exchanges
// exactly the two datagrams a real handshake produces, leaving both
// sides with one established peer record each.
func handshakeClouds(t *testing.T, a, b *Cloud) {
	t.Helper()
	a.initiate(b.conn.LocalAddr().String())

	fromA, initData := readOneDatagram(t, b)
	b.handleDatagram(fromA, initData)

	fromB, respData := readOneDatagram(t, a)
	a.handleDatagram(fromB, respData)

	if a.peers.Len() != 1 {
		t.Fatalf("initiator should have 1 established peer, got %d", a.peers.Len())
	}
	if b.peers.Len() != 1 {
		t.Fatalf("responder should have 1 established peer, got %d", b.peers.Len())
	}
}

func TestHandshakeEstablishesBothSides(t *testing.T) {
	a, _ := newTestCloud(t, config.ModeSwitch)
	b, _ := newTestCloud(t, config.ModeSwitch)
	handshakeClouds(t, a, b)
}

// TestSwitchModeLearnsAndForwards reproduces the spec's two-node switch
// scenario: a frame sent from the local interface on one side is
// delivered, sealed and framed over UDP, to the other side's local
// interface, and the switch table learns the sender's MAC along the way.
func TestSwitchModeLearnsAndForwards(t *testing.T) {
	a, devA := newTestCloud(t, config.ModeSwitch)
	b, devB := newTestCloud(t, config.ModeSwitch)
	handshakeClouds(t, a, b)

	srcMAC := []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff} // broadcast: a has no learned route yet
	frame := append(append(append([]byte{}, dstMAC...), srcMAC...), 0x08, 0x00, 'h', 'i')

	devA.PutInbound(frame)
	a.handleOutboundFrame(mustPopInbound(t, devA))

	fromA, data := readOneDatagram(t, b)
	b.handleDatagram(fromA, data)

	out, ok := devB.PopOutbound()
	if !ok {
		t.Fatal("expected frame delivered to b's local interface")
	}
	if string(out) != string(frame) {
		t.Fatalf("frame mismatch: got %x want %x", out, frame)
	}

	// b's switch table should now have learned a's peer for srcMAC, so a
	// unicast reply destined to it resolves instead of broadcasting.
	aAddr := wire.NewNodeAddress(wire.KindMAC, srcMAC)
	_, action := b.table.Resolve(aAddr)
	if action != table.ActionUnicast {
		t.Fatalf("expected learned route to resolve as unicast, got %v", action)
	}
}

func mustPopInbound(t *testing.T, d *device.DummyDevice) []byte {
	t.Helper()
	buf := make([]byte, maxDatagram)
	n, err := d.Read(buf)
	if err != nil {
		t.Fatalf("DummyDevice.Read: %v", err)
	}
	return buf[:n]
}

func TestReplayedDatagramIsDropped(t *testing.T) {
	a, devA := newTestCloud(t, config.ModeSwitch)
	b, _ := newTestCloud(t, config.ModeSwitch)
	handshakeClouds(t, a, b)

	frame := []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01, 0x02, 0x00, 0x00, 0x00, 0x00, 0x02, 0x08, 0x00, 'x'}
	devA.PutInbound(frame)
	a.handleOutboundFrame(mustPopInbound(t, devA))

	from, data := readOneDatagram(t, b)

	before := b.stats.Get(stats.Replay)
	b.handleDatagram(from, data)
	b.handleDatagram(from, data) // same datagram delivered twice
	after := b.stats.Get(stats.Replay)

	if after != before+1 {
		t.Fatalf("expected replay_count to increase by 1, got %d -> %d", before, after)
	}
}

func TestBadMagicIsCounted(t *testing.T) {
	a, _ := newTestCloud(t, config.ModeSwitch)

	buf := make([]byte, 8)
	// a completely different magic than a's configured one.
	buf[0], buf[1], buf[2], buf[3] = 0, 0, 0, 0
	before := a.stats.Get(stats.BadMagic)
	a.handleDatagram(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}, buf)
	after := a.stats.Get(stats.BadMagic)
	if after != before+1 {
		t.Fatalf("expected bad_magic to increase by 1, got %d -> %d", before, after)
	}
}
