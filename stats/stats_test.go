// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package stats

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestIncAndGet(t *testing.T) {
	s, err := New("", "", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if got := s.Get(BadMagic); got != 0 {
		t.Fatalf("expected 0 before any Inc, got %d", got)
	}
	s.Inc(BadMagic)
	s.Inc(BadMagic)
	if got := s.Get(BadMagic); got != 2 {
		t.Fatalf("expected 2 after two Inc calls, got %d", got)
	}
}

func TestAddAccumulates(t *testing.T) {
	s, err := New("", "", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.Add(BytesIn, 1500)
	s.Add(BytesIn, 64)
	if got := s.Get(BytesIn); got != 1564 {
		t.Fatalf("expected 1564, got %d", got)
	}
}

func TestEmitWritesStatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.txt")

	s, err := New(path, "", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.Inc(PacketsIn)
	s.Add(BytesIn, 42)
	s.Emit()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open stats file: %v", err)
	}
	defer f.Close()

	found := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			t.Fatalf("unexpected line format: %q", scanner.Text())
		}
		found[fields[0]] = fields[1]
	}
	if found[PacketsIn] != "1" {
		t.Fatalf("expected packets_in=1 in stats file, got %q", found[PacketsIn])
	}
	if found[BytesIn] != "42" {
		t.Fatalf("expected bytes_in=42 in stats file, got %q", found[BytesIn])
	}
}

func TestEmitRewritesRatherThanAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.txt")

	s, err := New(path, "", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.Inc(PacketsIn)
	s.Emit()
	s.Inc(PacketsIn)
	s.Emit()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read stats file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly one line for packets_in after two Emit calls, got %v", lines)
	}
	if lines[0] != "packets_in 2" {
		t.Fatalf("expected packets_in 2, got %q", lines[0])
	}
}

func TestEmitWritesStatsdGauge(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	s, err := New("", conn.LocalAddr().String(), "vpncloud.")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.Inc(AuthFailed)
	s.Emit()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	line := string(buf[:n])
	if !strings.Contains(line, "vpncloud.auth_failed:1|g") {
		t.Fatalf("expected statsd gauge line, got %q", line)
	}
}

func TestDueRespectsInterval(t *testing.T) {
	base := time.Unix(1000, 0)
	if Due(base, time.Minute, base.Add(30*time.Second)) {
		t.Fatal("expected not due before interval elapses")
	}
	if !Due(base, time.Minute, base.Add(time.Minute)) {
		t.Fatal("expected due once interval elapses")
	}
	if Due(base, 0, base.Add(time.Hour)) {
		t.Fatal("expected a zero interval to never be due")
	}
}
