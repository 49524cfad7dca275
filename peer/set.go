// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

// Package peer implements the peer set and membership protocol (spec.md
// §4.4): peer records keyed by node id and remote address, liveness via
// keepalive and timeout, and the reconnect backoff queue (§4.6).
package peer

import (
	"encoding/hex"
	"time"

	"github.com/wisdark/vpncloud/cryptosession"
	"github.com/wisdark/vpncloud/table"
	"github.com/wisdark/vpncloud/util"
	"github.com/wisdark/vpncloud/wire"
)

// NodeID is the random 16-byte value exchanged at handshake, used as a
// tie-breaker and as the table's stable peer reference (spec.md §3).
type NodeID [16]byte

// String renders the node id as lowercase hex, doubling as the table's
// PeerRef so the forwarding table never holds an owning pointer to a Peer
// (spec.md §9).
func (n NodeID) String() string {
	return hex.EncodeToString(n[:])
}

// Ref returns the table.PeerRef this node id resolves to.
func (n NodeID) Ref() table.PeerRef {
	return table.PeerRef(n.String())
}

// NewNodeID generates a fresh random node id.
func NewNodeID() NodeID {
	var id NodeID
	copy(id[:], util.NewRndArray(16))
	return id
}

// Record is one peer's membership state (spec.md §3 "PeerRecord"). A
// Record's Session is Established for its entire lifetime; a handshake in
// progress is tracked separately (see cloud.Cloud's pending map).
type Record struct {
	NodeID    NodeID
	Remote    wire.SocketAddr
	Alternate []wire.SocketAddr
	Session   *cryptosession.Session
	LastSeen  time.Time
	Claims    []wire.NodeAddress
	// FromConfig marks a peer reached via a configured address rather
	// than gossip discovery; only these are re-queued for reconnect on
	// loss (spec.md §4.4).
	FromConfig bool
}

// Ref returns the table.PeerRef for this record.
func (r *Record) Ref() table.PeerRef { return r.NodeID.Ref() }

// Set is the membership table: at most one Record per node id and at
// most one per remote address (spec.md §3 invariants).
type Set struct {
	byNode   map[NodeID]*Record
	byRemote map[string]*Record
	clock    util.TimeSource
}

// NewSet creates an empty peer set.
func NewSet(clock util.TimeSource) *Set {
	if clock == nil {
		clock = util.SystemTimeSource{}
	}
	return &Set{
		byNode:   make(map[NodeID]*Record),
		byRemote: make(map[string]*Record),
		clock:    clock,
	}
}

// Get returns the record for a node id, if any.
func (s *Set) Get(id NodeID) (*Record, bool) {
	r, ok := s.byNode[id]
	return r, ok
}

// GetByRemote returns the record whose remote address matches addr.
func (s *Set) GetByRemote(addr wire.SocketAddr) (*Record, bool) {
	r, ok := s.byRemote[addr.String()]
	return r, ok
}

// Add inserts a newly established record, resolving the spec's tie-break
// rule when the incoming node id collides with an existing record: "the
// connection with the lexicographically smaller remote-address wins and
// the loser is closed" (spec.md §4.4). It returns the record that was
// kept and whether the caller's incoming connection was the winner (if
// false, the caller must close its own session and discard r).
func (s *Set) Add(r *Record) (kept *Record, won bool) {
	if existing, ok := s.byNode[r.NodeID]; ok {
		if existing.Remote.String() <= r.Remote.String() {
			return existing, false
		}
		s.remove(existing)
	}
	if existing, ok := s.byRemote[r.Remote.String()]; ok {
		s.remove(existing)
	}
	r.LastSeen = s.clock.Now()
	s.byNode[r.NodeID] = r
	s.byRemote[r.Remote.String()] = r
	return r, true
}

// Remove deletes a record by node id, returning it if present.
func (s *Set) Remove(id NodeID) (*Record, bool) {
	r, ok := s.byNode[id]
	if !ok {
		return nil, false
	}
	s.remove(r)
	return r, true
}

func (s *Set) remove(r *Record) {
	delete(s.byNode, r.NodeID)
	delete(s.byRemote, r.Remote.String())
}

// Touch refreshes a record's last-seen timestamp, keeping it alive
// against peer_timeout (spec.md §4.4).
func (s *Set) Touch(id NodeID) {
	if r, ok := s.byNode[id]; ok {
		r.LastSeen = s.clock.Now()
	}
}

// All returns every current peer record, in no particular order.
func (s *Set) All() []*Record {
	out := make([]*Record, 0, len(s.byNode))
	for _, r := range s.byNode {
		out = append(out, r)
	}
	return out
}

// Len reports the number of peers currently tracked.
func (s *Set) Len() int { return len(s.byNode) }

// EvictExpired removes and returns every record silent for longer than
// peerTimeout (spec.md §4.4: "peers without any received message in this
// window are evicted").
func (s *Set) EvictExpired(peerTimeout time.Duration) []*Record {
	now := s.clock.Now()
	var expired []*Record
	for _, r := range s.byNode {
		if now.Sub(r.LastSeen) > peerTimeout {
			expired = append(expired, r)
		}
	}
	for _, r := range expired {
		s.remove(r)
	}
	return expired
}
