// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package peer

import (
	"net"
	"testing"
	"time"

	"github.com/wisdark/vpncloud/util"
	"github.com/wisdark/vpncloud/wire"
)

func addr(ip string, port uint16) wire.SocketAddr {
	return wire.NewSocketAddr(net.ParseIP(ip), port)
}

func TestSetAddAndGet(t *testing.T) {
	s := NewSet(nil)
	id := NewNodeID()
	rec := &Record{NodeID: id, Remote: addr("10.0.0.1", 3210)}

	kept, won := s.Add(rec)
	if !won || kept != rec {
		t.Fatalf("expected new record to win, got won=%v kept=%v", won, kept)
	}
	got, ok := s.Get(id)
	if !ok || got != rec {
		t.Fatal("expected Get to return the inserted record")
	}
	byRemote, ok := s.GetByRemote(addr("10.0.0.1", 3210))
	if !ok || byRemote != rec {
		t.Fatal("expected GetByRemote to find the inserted record")
	}
}

// TestSetAddTieBreak covers the spec's node-id-collision rule: the
// connection whose remote address sorts lexicographically smaller wins
// and the loser's caller is told to close its own session.
func TestSetAddTieBreak(t *testing.T) {
	s := NewSet(nil)
	id := NewNodeID()

	first := &Record{NodeID: id, Remote: addr("10.0.0.9", 3210)}
	if _, won := s.Add(first); !won {
		t.Fatal("first insert should always win")
	}

	// Smaller remote address: should win and replace first.
	smaller := &Record{NodeID: id, Remote: addr("10.0.0.1", 3210)}
	kept, won := s.Add(smaller)
	if !won || kept != smaller {
		t.Fatalf("expected smaller remote address to win, got won=%v kept=%v", won, kept)
	}

	// Larger remote address: should lose, existing kept unchanged.
	larger := &Record{NodeID: id, Remote: addr("10.0.0.99", 3210)}
	kept, won = s.Add(larger)
	if won || kept != smaller {
		t.Fatalf("expected larger remote address to lose, got won=%v kept=%v", won, kept)
	}
}

func TestSetRemoveAndLen(t *testing.T) {
	s := NewSet(nil)
	id := NewNodeID()
	s.Add(&Record{NodeID: id, Remote: addr("10.0.0.1", 3210)})
	if s.Len() != 1 {
		t.Fatalf("expected len 1, got %d", s.Len())
	}
	if _, ok := s.Remove(id); !ok {
		t.Fatal("expected Remove to find the record")
	}
	if s.Len() != 0 {
		t.Fatalf("expected len 0 after remove, got %d", s.Len())
	}
	if _, ok := s.Remove(id); ok {
		t.Fatal("expected second Remove to report not found")
	}
}

func TestSetEvictExpired(t *testing.T) {
	clock := util.NewVirtualTimeSource(time.Unix(1000, 0))
	s := NewSet(clock)
	id := NewNodeID()
	s.Add(&Record{NodeID: id, Remote: addr("10.0.0.1", 3210)})

	clock.Advance(30 * time.Second)
	if expired := s.EvictExpired(time.Minute); len(expired) != 0 {
		t.Fatalf("expected no eviction before timeout, got %d", len(expired))
	}
	clock.Advance(2 * time.Minute)
	expired := s.EvictExpired(time.Minute)
	if len(expired) != 1 || expired[0].NodeID != id {
		t.Fatalf("expected the stale peer to be evicted, got %+v", expired)
	}
	if s.Len() != 0 {
		t.Fatalf("expected set empty after eviction, got len %d", s.Len())
	}
}

func TestSetTouchRefreshesLastSeen(t *testing.T) {
	clock := util.NewVirtualTimeSource(time.Unix(1000, 0))
	s := NewSet(clock)
	id := NewNodeID()
	s.Add(&Record{NodeID: id, Remote: addr("10.0.0.1", 3210)})

	clock.Advance(50 * time.Second)
	s.Touch(id)
	clock.Advance(50 * time.Second)
	if expired := s.EvictExpired(time.Minute); len(expired) != 0 {
		t.Fatalf("expected Touch to keep the peer alive, got %d evicted", len(expired))
	}
}

func TestReconnectQueueDueAndBackoff(t *testing.T) {
	clock := util.NewVirtualTimeSource(time.Unix(1000, 0))
	q := NewReconnectQueue(clock)
	q.Add("10.0.0.1:3210", true)

	due := q.Due()
	if len(due) != 1 || due[0] != "10.0.0.1:3210" {
		t.Fatalf("expected the newly added address to be due immediately, got %v", due)
	}

	// Still pending (handshake in flight): not due again yet.
	if due := q.Due(); len(due) != 0 {
		t.Fatalf("expected no re-attempt while handshake pending, got %v", due)
	}

	// Handshake times out: the queue doubles backoff from MinBackoff to
	// 2*MinBackoff and schedules the next attempt that far out.
	clock.Advance(HandshakeTimeout + time.Second)
	if due := q.Due(); len(due) != 0 {
		t.Fatalf("expected backoff delay after timeout, got %v", due)
	}
	clock.Advance(2 * MinBackoff)
	due = q.Due()
	if len(due) != 1 {
		t.Fatalf("expected address due again after doubled backoff elapsed, got %v", due)
	}
}

func TestReconnectQueueSucceedRemoves(t *testing.T) {
	q := NewReconnectQueue(nil)
	q.Add("10.0.0.1:3210", true)
	if !q.Contains("10.0.0.1:3210") {
		t.Fatal("expected queue to contain the address")
	}
	q.Succeed("10.0.0.1:3210")
	if q.Contains("10.0.0.1:3210") {
		t.Fatal("expected Succeed to remove the address")
	}
}

func TestReconnectQueueReaddRespectsFromConfig(t *testing.T) {
	q := NewReconnectQueue(nil)
	q.Readd("10.0.0.1:3210", false)
	if q.Contains("10.0.0.1:3210") {
		t.Fatal("expected Readd to skip a non-configured address")
	}
	q.Readd("10.0.0.1:3210", true)
	if !q.Contains("10.0.0.1:3210") {
		t.Fatal("expected Readd to re-queue a configured address")
	}
}
