// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

// Package poll implements the event loop's readiness wait (spec.md §4.7,
// C9): a single reactor fed by two blocking-read sources (the local
// interface and the UDP socket) plus a periodic housekeeping tick.
// Grounded on the teacher's channel-pump pattern (transport's
// channel_netw.go blocking reads feeding a channel, core.go's pump
// select loop), generalized here from "one channel per transport
// endpoint" to "one channel per readiness source plus a ticker" exactly
// as spec.md describes.
package poll

import (
	"context"
	"time"
)

// batchSize bounds how many ready events from one source are drained
// before giving the other source a turn, so a flood from either the
// interface or the socket can't starve the other (spec.md §4.7: "Drain
// all ready ... up to a small batch, e.g., 64").
const batchSize = 64

// Handlers bundles the callbacks the orchestrator supplies for each
// readiness source and for the periodic tick.
type Handlers struct {
	OnDevice     func(event interface{})
	OnUDP        func(event interface{})
	OnHousekeep  func()
	TickInterval time.Duration
}

// Run runs the single-threaded poll loop described in spec.md §4.7 until
// ctx is cancelled. device and udp are expected to be backed by a
// goroutine each doing the actual blocking read/recv and forwarding
// results over a channel; Run itself does no blocking I/O of its own
// beyond waiting on those channels and the ticker.
func Run(ctx context.Context, deviceCh <-chan interface{}, udpCh <-chan interface{}, h Handlers) {
	interval := h.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-udpCh:
			if !ok {
				return
			}
			h.OnUDP(ev)
			drain(udpCh, h.OnUDP, batchSize-1)
		case ev, ok := <-deviceCh:
			if !ok {
				return
			}
			h.OnDevice(ev)
			drain(deviceCh, h.OnDevice, batchSize-1)
		case <-ticker.C:
			h.OnHousekeep()
		}
	}
}

// drain consumes up to max additional ready events from ch without
// blocking, so a burst on one source is bounded before the select
// statement gets another look at the other source (spec.md §4.7).
func drain(ch <-chan interface{}, handle func(interface{}), max int) {
	for i := 0; i < max; i++ {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			handle(ev)
		default:
			return
		}
	}
}
