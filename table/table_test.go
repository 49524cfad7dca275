// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package table

import (
	"net"
	"testing"
	"time"

	"github.com/wisdark/vpncloud/util"
	"github.com/wisdark/vpncloud/wire"
)

func mac(b byte) wire.NodeAddress {
	return wire.NewNodeAddress(wire.KindMAC, []byte{0x02, 0, 0, 0, 0, b})
}

func ipv4(s string) wire.NodeAddress {
	return wire.NewNodeAddress(wire.KindIPv4, net.ParseIP(s).To4())
}

func ipv4Net(s string) wire.NodeAddress {
	ip, ipnet, _ := net.ParseCIDR(s)
	bits, _ := ipnet.Mask.Size()
	data := append(append([]byte{}, ip.To4()...), byte(bits))
	return wire.NewNodeAddress(wire.KindIPv4Net, data)
}

func TestSwitchModeBroadcastsUnknownDestination(t *testing.T) {
	tbl := New(ModeSwitch, time.Minute, nil)
	_, action := tbl.Resolve(mac(1))
	if action != ActionBroadcast {
		t.Fatalf("expected ActionBroadcast for unknown unicast dest, got %v", action)
	}
}

func TestSwitchModeAlwaysBroadcastsMulticast(t *testing.T) {
	tbl := New(ModeSwitch, time.Minute, nil)
	broadcast := wire.NewNodeAddress(wire.KindMAC, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	tbl.Learn(broadcast, PeerRef("peerA")) // learned, but dst is multicast
	_, action := tbl.Resolve(broadcast)
	if action != ActionBroadcast {
		t.Fatalf("expected broadcast/multicast destination to always broadcast, got %v", action)
	}
}

func TestSwitchModeLearnAndResolve(t *testing.T) {
	tbl := New(ModeSwitch, time.Minute, nil)
	tbl.Learn(mac(1), PeerRef("peerA"))
	ref, action := tbl.Resolve(mac(1))
	if action != ActionUnicast || ref != PeerRef("peerA") {
		t.Fatalf("expected unicast to peerA, got ref=%q action=%v", ref, action)
	}
}

func TestSwitchModeLearnedEntryExpires(t *testing.T) {
	clock := util.NewVirtualTimeSource(time.Unix(1000, 0))
	tbl := New(ModeSwitch, time.Minute, clock)
	tbl.Learn(mac(1), PeerRef("peerA"))
	clock.Advance(2 * time.Minute)
	tbl.Housekeep()
	_, action := tbl.Resolve(mac(1))
	if action != ActionBroadcast {
		t.Fatalf("expected expired learned entry to fall back to broadcast, got %v", action)
	}
}

func TestHubModeAlwaysBroadcasts(t *testing.T) {
	tbl := New(ModeHub, time.Minute, nil)
	tbl.Learn(mac(1), PeerRef("peerA"))
	_, action := tbl.Resolve(mac(1))
	if action != ActionBroadcast {
		t.Fatalf("hub mode must always broadcast, got %v", action)
	}
}

func TestRouterModeLongestPrefixMatch(t *testing.T) {
	tbl := New(ModeRouter, 0, nil)
	tbl.LearnClaim(ipv4Net("10.0.0.0/8"), PeerRef("peerWide"))
	tbl.LearnClaim(ipv4Net("10.1.0.0/16"), PeerRef("peerNarrow"))

	ref, action := tbl.Resolve(ipv4("10.1.2.3"))
	if action != ActionUnicast || ref != PeerRef("peerNarrow") {
		t.Fatalf("expected longest-prefix match to pick peerNarrow, got ref=%q action=%v", ref, action)
	}

	ref, action = tbl.Resolve(ipv4("10.9.9.9"))
	if action != ActionUnicast || ref != PeerRef("peerWide") {
		t.Fatalf("expected fallback to wider prefix peerWide, got ref=%q action=%v", ref, action)
	}
}

func TestRouterModeDropsUnroutable(t *testing.T) {
	tbl := New(ModeRouter, 0, nil)
	tbl.LearnClaim(ipv4Net("10.0.0.0/8"), PeerRef("peerA"))
	_, action := tbl.Resolve(ipv4("192.168.1.1"))
	if action != ActionDrop {
		t.Fatalf("expected drop for unroutable destination in router mode, got %v", action)
	}
}

func TestNormalModeFallsBackToBroadcast(t *testing.T) {
	tbl := New(ModeNormal, 0, nil)
	tbl.LearnClaim(ipv4Net("10.0.0.0/8"), PeerRef("peerA"))
	_, action := tbl.Resolve(ipv4("192.168.1.1"))
	if action != ActionBroadcast {
		t.Fatalf("expected normal mode to broadcast unroutable destinations, got %v", action)
	}
}

// TestLongestPrefixTieBreaksLexicographically covers two claims that
// mask down to the identical /24 network (so both match the target at
// the same prefix length) but were claimed via different unmasked
// addresses, and so are stored as two distinct entries; the lower
// PeerRef must win (spec.md §4.3).
func TestLongestPrefixTieBreaksLexicographically(t *testing.T) {
	tbl := New(ModeRouter, 0, nil)
	tbl.LearnClaim(ipv4Net("10.0.0.5/24"), PeerRef("zzz"))
	tbl.LearnClaim(ipv4Net("10.0.0.9/24"), PeerRef("aaa"))

	ref, action := tbl.Resolve(ipv4("10.0.0.50"))
	if action != ActionUnicast || ref != PeerRef("aaa") {
		t.Fatalf("expected lexicographically smaller peer ref aaa to win tie, got ref=%q action=%v", ref, action)
	}
}

func TestRemovePeerClearsEntries(t *testing.T) {
	tbl := New(ModeSwitch, time.Minute, nil)
	tbl.Learn(mac(1), PeerRef("peerA"))
	tbl.Learn(mac(2), PeerRef("peerA"))
	tbl.Learn(mac(3), PeerRef("peerB"))
	tbl.RemovePeer(PeerRef("peerA"))

	if _, action := tbl.Resolve(mac(1)); action != ActionBroadcast {
		t.Fatalf("expected peerA's entries to be gone, got %v", action)
	}
	if ref, action := tbl.Resolve(mac(3)); action != ActionUnicast || ref != PeerRef("peerB") {
		t.Fatalf("expected peerB's entry to survive, got ref=%q action=%v", ref, action)
	}
}

func TestSize(t *testing.T) {
	tbl := New(ModeSwitch, time.Minute, nil)
	if tbl.Size() != 0 {
		t.Fatalf("expected empty table, got size %d", tbl.Size())
	}
	tbl.Learn(mac(1), PeerRef("peerA"))
	tbl.Learn(mac(2), PeerRef("peerB"))
	if tbl.Size() != 2 {
		t.Fatalf("expected size 2, got %d", tbl.Size())
	}
}
