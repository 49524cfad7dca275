// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

// Package stats implements the orchestrator's observability sinks:
// in-memory counters for every packet-drop/error condition (spec.md §7,
// §8), periodic emission to a stats file (grounded on
// original_source/src/main.rs's stats_file handling) and an optional
// statsd UDP sink.
package stats

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/wisdark/vpncloud/util"
)

// Counter names (spec.md §7, §8).
const (
	BadMagic       = "bad_magic"
	BadMethod      = "bad_method"
	AuthFailed     = "auth_failed"
	Replay         = "replay_count"
	Truncated      = "truncated"
	DroppedNoRoute = "dropped_no_route"
	UnknownMsgType = "unknown_msg_type"
	PeersEvicted   = "peers_evicted"
	PacketsIn      = "packets_in"
	PacketsOut     = "packets_out"
	BytesIn        = "bytes_in"
	BytesOut       = "bytes_out"
)

// Stats owns the orchestrator's counters and periodic sinks. It is
// mutated only from the single event-loop thread, so no locking is
// needed (spec.md §5).
type Stats struct {
	counters util.Counter[string]

	statsFile   *os.File
	statsdConn  net.Conn
	statsdProto string
}

// New creates an empty Stats, opening statsFilePath (if non-empty,
// create+chmod 0644, mirroring main.rs's stats_file setup) and a statsd
// UDP connection (if server is non-empty).
func New(statsFilePath, statsdServer, statsdPrefix string) (*Stats, error) {
	s := &Stats{counters: make(util.Counter[string]), statsdProto: statsdPrefix}
	if statsFilePath != "" {
		if err := util.EnforceDirExists(filepath.Dir(statsFilePath)); err != nil {
			return nil, fmt.Errorf("stats: failed to prepare stats file directory: %w", err)
		}
		f, err := os.Create(statsFilePath)
		if err != nil {
			return nil, fmt.Errorf("stats: failed to create stats file: %w", err)
		}
		if err := f.Chmod(0644); err != nil {
			f.Close()
			return nil, fmt.Errorf("stats: failed to set permissions on stats file: %w", err)
		}
		s.statsFile = f
	}
	if statsdServer != "" {
		conn, err := net.Dial("udp", statsdServer)
		if err != nil {
			return nil, fmt.Errorf("stats: failed to dial statsd: %w", err)
		}
		s.statsdConn = conn
	}
	return s, nil
}

// Inc increments a named counter by one and returns its new value.
func (s *Stats) Inc(name string) int {
	return s.counters.Add(name)
}

// Add increments a named counter by n, for byte/packet totals.
func (s *Stats) Add(name string, n int) {
	s.counters.AddN(name, n)
}

// Get returns a counter's current value.
func (s *Stats) Get(name string) int {
	return s.counters.Num(name)
}

// Emit writes the current counters to the stats file (truncated and
// rewritten each call, one `name value` line per counter) and pushes
// them to statsd as gauges; called on every housekeeping tick.
func (s *Stats) Emit() {
	if s.statsFile != nil {
		s.writeFile()
	}
	if s.statsdConn != nil {
		s.writeStatsd()
	}
}

func (s *Stats) writeFile() {
	names := make([]string, 0, len(s.counters))
	for name := range s.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	if _, err := s.statsFile.Seek(0, 0); err != nil {
		return
	}
	if err := s.statsFile.Truncate(0); err != nil {
		return
	}
	for _, name := range names {
		val := s.counters[name]
		if name == BytesIn || name == BytesOut {
			fmt.Fprintf(s.statsFile, "%s %s\n", name, util.Scale1024(uint64(val)))
			continue
		}
		fmt.Fprintf(s.statsFile, "%s %d\n", name, val)
	}
}

func (s *Stats) writeStatsd() {
	for name, val := range s.counters {
		line := fmt.Sprintf("%s%s:%d|g\n", s.statsdProto, name, val)
		s.statsdConn.Write([]byte(line))
	}
}

// Close releases the stats file and statsd connection.
func (s *Stats) Close() {
	if s.statsFile != nil {
		s.statsFile.Close()
	}
	if s.statsdConn != nil {
		s.statsdConn.Close()
	}
}

// tick is kept as a tiny helper so callers can compute "has the interval
// elapsed" without duplicating the comparison everywhere.
func tick(last time.Time, interval time.Duration, now time.Time) bool {
	return interval > 0 && now.Sub(last) >= interval
}

// Due reports whether interval has elapsed since last, the same
// elapsed-since-last-tick check the orchestrator's housekeeping uses for
// every one of its own periodic tasks.
func Due(last time.Time, interval time.Duration, now time.Time) bool {
	return tick(last, interval, now)
}
