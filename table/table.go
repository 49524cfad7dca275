// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

// Package table implements the self-learning, mode-polymorphic address to
// peer forwarding table (spec.md §4.3): the L2 "switch"/"hub" tables and
// the L3 "router"/"normal" tables, sharing one eviction and lookup code
// path and differing only in keying and broadcast policy, following the
// tagged-variant design spec.md §9 calls for and the declarative constant
// tables the teacher's enums/ package uses for its own small closed sets.
package table

import (
	"net"
	"time"

	"github.com/wisdark/vpncloud/util"
	"github.com/wisdark/vpncloud/wire"
)

// Mode selects the forwarding-table variant (spec.md §4.3).
type Mode int

// Recognized modes.
const (
	ModeNormal Mode = iota
	ModeRouter
	ModeSwitch
	ModeHub
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeRouter:
		return "router"
	case ModeSwitch:
		return "switch"
	case ModeHub:
		return "hub"
	}
	return "unknown"
}

// PeerRef identifies a peer by key (its node id, hex-encoded), not by
// owning pointer, so the table and the peer set can evolve independently
// (spec.md §9: "hold peers by key ... to avoid cyclic ownership").
type PeerRef string

// Action is the outcome of resolving an outbound frame's destination.
type Action int

// Recognized actions.
const (
	// ActionDrop discards the frame; no route and no fallback.
	ActionDrop Action = iota
	// ActionUnicast sends the frame to exactly one peer.
	ActionUnicast
	// ActionBroadcast sends the frame to every known peer.
	ActionBroadcast
)

type entry struct {
	peer      PeerRef
	expiresAt time.Time
	permanent bool
}

// Table is the address→peer forwarding table, polymorphic over Mode
// (spec.md §4.3). It is not safe for concurrent use; the single
// event-loop thread owns it exclusively (spec.md §5).
type Table struct {
	mode       Mode
	dstTimeout time.Duration
	clock      util.TimeSource

	entries *util.Map[string, entry]
	// addrs remembers the NodeAddress behind each map key so Housekeep
	// and longest-prefix matching can iterate without re-deriving it.
	addrs *util.Map[string, wire.NodeAddress]
}

// New creates an empty table for the given mode. dstTimeout is the L2
// learned-entry TTL (spec.md's `switch_timeout`/`dst_timeout`); it is
// unused in router/normal modes, whose claim-derived entries never
// expire.
func New(mode Mode, dstTimeout time.Duration, clock util.TimeSource) *Table {
	if clock == nil {
		clock = util.SystemTimeSource{}
	}
	return &Table{
		mode:       mode,
		dstTimeout: dstTimeout,
		clock:      clock,
		entries:    util.NewMap[string, entry](),
		addrs:      util.NewMap[string, wire.NodeAddress](),
	}
}

// Mode reports the table's forwarding variant.
func (t *Table) Mode() Mode { return t.mode }

// Learn records that addr is reachable via peer, refreshing its expiry
// (spec.md §4.3: "On inbound data frame, learn (src_mac, peer) ... The
// most recent source address for a peer wins over older entries").
// Used by switch mode on every inbound frame.
func (t *Table) Learn(addr wire.NodeAddress, peer PeerRef) {
	t.put(addr, peer, t.clock.Now().Add(t.dstTimeout), false)
}

// LearnClaim records a permanent, claim-derived route (spec.md §3: "claim-
// derived entries never expire"). Used by router/normal modes when
// ingesting a peer's gossiped claim set.
func (t *Table) LearnClaim(addr wire.NodeAddress, peer PeerRef) {
	t.put(addr, peer, time.Time{}, true)
}

func (t *Table) put(addr wire.NodeAddress, peer PeerRef, expiresAt time.Time, permanent bool) {
	key := addr.Key()
	t.entries.Put(key, entry{peer: peer, expiresAt: expiresAt, permanent: permanent}, 0)
	t.addrs.Put(key, addr, 0)
}

// lookupExact returns the live entry for addr, purging it lazily if it
// has expired. The table does not see the peer set, so an entry whose
// peer is gone is still returned until RemovePeer deletes it.
func (t *Table) lookupExact(addr wire.NodeAddress) (PeerRef, bool) {
	key := addr.Key()
	e, ok := t.entries.Get(key, 0)
	if !ok {
		return "", false
	}
	if !e.permanent && t.clock.Now().After(e.expiresAt) {
		t.entries.Delete(key, 0)
		t.addrs.Delete(key, 0)
		return "", false
	}
	return e.peer, true
}

// broadcastDst reports whether addr is the L2 broadcast/multicast address
// (spec.md §4.3: "first bit of mac = 1").
func broadcastDst(addr wire.NodeAddress) bool {
	return len(addr.Data) > 0 && addr.Data[0]&1 != 0
}

// Resolve decides how to forward a frame/packet addressed to dst,
// implementing each mode's policy (spec.md §4.3).
func (t *Table) Resolve(dst wire.NodeAddress) (PeerRef, Action) {
	switch t.mode {
	case ModeHub:
		return "", ActionBroadcast
	case ModeSwitch:
		if broadcastDst(dst) {
			return "", ActionBroadcast
		}
		if ref, ok := t.lookupExact(dst); ok {
			return ref, ActionUnicast
		}
		return "", ActionBroadcast
	case ModeRouter:
		if ref, ok := t.longestPrefixMatch(dst); ok {
			return ref, ActionUnicast
		}
		return "", ActionDrop
	default: // ModeNormal
		if ref, ok := t.longestPrefixMatch(dst); ok {
			return ref, ActionUnicast
		}
		return "", ActionBroadcast
	}
}

// Lookup is the raw key lookup exposed for tests and for the L2 switch
// invariant checks (spec.md §8 invariant 4); it does not apply broadcast
// fallback policy.
func (t *Table) Lookup(addr wire.NodeAddress) (PeerRef, bool) {
	if t.mode == ModeRouter || t.mode == ModeNormal {
		return t.longestPrefixMatch(addr)
	}
	return t.lookupExact(addr)
}

// longestPrefixMatch scans claim-derived routes for the longest prefix
// containing dst's IP, breaking ties by lexicographic PeerRef order
// (spec.md §4.3: "Ties in longest-prefix are resolved by lexicographic
// order of peer node id, deterministically").
func (t *Table) longestPrefixMatch(dst wire.NodeAddress) (PeerRef, bool) {
	dstIP, ok := nodeAddressIP(dst)
	if !ok {
		return "", false
	}
	var (
		best     PeerRef
		bestBits = -1
		found    bool
	)
	_ = t.addrs.ProcessRange(func(key string, addr wire.NodeAddress, _ int) error {
		ipnet, bits, ok := nodeAddressPrefix(addr)
		if !ok || !ipnet.Contains(dstIP) {
			return nil
		}
		e, ok := t.entries.Get(key, 0)
		if !ok {
			return nil
		}
		if bits > bestBits || (bits == bestBits && (!found || e.peer < best)) {
			best, bestBits, found = e.peer, bits, true
		}
		return nil
	}, true)
	return best, found
}

// nodeAddressIP extracts a plain (non-prefix) IP from a NodeAddress, for
// matching a destination packet's address against claimed prefixes.
func nodeAddressIP(addr wire.NodeAddress) (net.IP, bool) {
	switch addr.Kind {
	case wire.KindIPv4:
		if len(addr.Data) == 4 {
			return net.IP(addr.Data), true
		}
	case wire.KindIPv6:
		if len(addr.Data) == 16 {
			return net.IP(addr.Data), true
		}
	case wire.KindIPv4Net, wire.KindIPv6Net:
		ipnet, _, ok := nodeAddressPrefix(addr)
		if !ok {
			return nil, false
		}
		return ipnet.IP, true
	}
	return nil, false
}

// nodeAddressPrefix decodes a claimed IP/prefix NodeAddress (data = raw IP
// bytes followed by a 1-byte prefix length) into a *net.IPNet plus its
// prefix bit count, for longest-prefix comparisons.
func nodeAddressPrefix(addr wire.NodeAddress) (*net.IPNet, int, bool) {
	var ipLen int
	switch addr.Kind {
	case wire.KindIPv4Net:
		ipLen = 4
	case wire.KindIPv6Net:
		ipLen = 16
	default:
		return nil, 0, false
	}
	if len(addr.Data) != ipLen+1 {
		return nil, 0, false
	}
	ip := net.IP(addr.Data[:ipLen])
	bits := int(addr.Data[ipLen])
	mask := net.CIDRMask(bits, ipLen*8)
	return &net.IPNet{IP: ip.Mask(mask), Mask: mask}, bits, true
}

// Housekeep evicts every non-permanent entry whose expiry has passed
// (spec.md §4.7: "housekeeping tick at ≈1 Hz evicts expired entries").
func (t *Table) Housekeep() {
	now := t.clock.Now()
	var stale []string
	_ = t.entries.ProcessRange(func(key string, e entry, _ int) error {
		if !e.permanent && now.After(e.expiresAt) {
			stale = append(stale, key)
		}
		return nil
	}, true)
	for _, key := range stale {
		t.entries.Delete(key, 0)
		t.addrs.Delete(key, 0)
	}
}

// RemovePeer deletes every entry referencing peer, implementing the
// invariant that after a peer is removed no forwarding entry references
// it (spec.md §8 invariant 2).
func (t *Table) RemovePeer(peer PeerRef) {
	var stale []string
	_ = t.entries.ProcessRange(func(key string, e entry, _ int) error {
		if e.peer == peer {
			stale = append(stale, key)
		}
		return nil
	}, true)
	for _, key := range stale {
		t.entries.Delete(key, 0)
		t.addrs.Delete(key, 0)
	}
}

// Size returns the number of entries currently tracked, for statistics.
func (t *Table) Size() int {
	return t.entries.Size()
}
