// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package peer

import (
	"time"

	"github.com/wisdark/vpncloud/util"
)

// Default backoff bounds (spec.md §4.4): "Backoff doubles from 1s up to
// 3600s on each failure (no handshake completes within 10s)".
const (
	MinBackoff        = 1 * time.Second
	MaxBackoff        = 3600 * time.Second
	HandshakeTimeout  = 10 * time.Second
)

// reconnectEntry is one address the queue retries, with exponential
// backoff (spec.md §4.6).
type reconnectEntry struct {
	addr        string
	nextAttempt time.Time
	backoff     time.Duration
	fromConfig  bool
	pending     time.Time // zero if no handshake currently in flight
}

// ReconnectQueue holds configured and gossiped peer addresses pending a
// connection attempt, tick-driven from housekeeping the way the gossip
// loop in a peer-discovery daemon periodically retries known addresses,
// generalized here to single-threaded tick polling rather than its own
// goroutine (spec.md §5: no suspension points besides the poll wait).
type ReconnectQueue struct {
	entries map[string]*reconnectEntry
	clock   util.TimeSource
}

// NewReconnectQueue creates an empty queue.
func NewReconnectQueue(clock util.TimeSource) *ReconnectQueue {
	if clock == nil {
		clock = util.SystemTimeSource{}
	}
	return &ReconnectQueue{entries: make(map[string]*reconnectEntry), clock: clock}
}

// Add enqueues addr for connection attempts, a no-op if already queued.
// fromConfig marks whether the address came from the static `peers` list
// (re-queued on loss) as opposed to gossip discovery (not re-queued).
func (q *ReconnectQueue) Add(addr string, fromConfig bool) {
	if _, ok := q.entries[addr]; ok {
		return
	}
	q.entries[addr] = &reconnectEntry{
		addr:        addr,
		nextAttempt: q.clock.Now(),
		backoff:     MinBackoff,
		fromConfig:  fromConfig,
	}
}

// Remove drops addr from the queue, called when its handshake completes
// (spec.md §4.6: "A successful handshake removes the entry").
func (q *ReconnectQueue) Remove(addr string) {
	delete(q.entries, addr)
}

// Contains reports whether addr is already queued, so gossip ingestion
// can skip addresses already known (spec.md §4.4).
func (q *ReconnectQueue) Contains(addr string) bool {
	_, ok := q.entries[addr]
	return ok
}

// FromConfig reports whether addr is queued as a statically configured
// peer (as opposed to one discovered via gossip or beacon), so callers
// can decide whether a peer built from this address should be re-queued
// on loss (spec.md §4.4: "a user-configured peer is re-added to the
// queue on peer loss, a gossip-discovered one is not"). Reports false for
// an address that isn't queued at all.
func (q *ReconnectQueue) FromConfig(addr string) bool {
	e, ok := q.entries[addr]
	return ok && e.fromConfig
}

// Due returns every address whose next-attempt time has arrived and
// marks each as now pending a handshake, to be called once per
// housekeeping tick (spec.md §4.7).
func (q *ReconnectQueue) Due() []string {
	now := q.clock.Now()
	var due []string
	for _, e := range q.entries {
		if !e.pending.IsZero() && now.Sub(e.pending) < HandshakeTimeout {
			continue
		}
		if !e.pending.IsZero() {
			// handshake timed out without completing: back off and retry.
			q.fail(e)
			continue
		}
		if now.Before(e.nextAttempt) {
			continue
		}
		e.pending = now
		due = append(due, e.addr)
	}
	return due
}

// fail doubles an entry's backoff up to MaxBackoff and schedules the next
// attempt (spec.md §4.6).
func (q *ReconnectQueue) fail(e *reconnectEntry) {
	e.pending = time.Time{}
	e.backoff *= 2
	if e.backoff > MaxBackoff {
		e.backoff = MaxBackoff
	}
	e.nextAttempt = q.clock.Now().Add(e.backoff)
}

// Fail records that an outstanding attempt for addr did not complete in
// time, applying backoff immediately rather than waiting for the next
// Due() call to notice the timeout.
func (q *ReconnectQueue) Fail(addr string) {
	if e, ok := q.entries[addr]; ok {
		q.fail(e)
	}
}

// Succeed removes addr from the queue after a successful handshake.
func (q *ReconnectQueue) Succeed(addr string) {
	q.Remove(addr)
}

// Readd re-queues a configured peer's address after its connection was
// lost (spec.md §4.4: "a user-configured peer is re-added to the queue on
// peer loss, a gossip-discovered one is not"); a no-op for non-configured
// addresses.
func (q *ReconnectQueue) Readd(addr string, fromConfig bool) {
	if !fromConfig {
		return
	}
	q.Add(addr, true)
}

// Len reports the number of addresses currently queued.
func (q *ReconnectQueue) Len() int { return len(q.entries) }
