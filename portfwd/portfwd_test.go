// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package portfwd

import (
	"testing"
	"time"
)

func TestLeaseStringFormatsActiveLease(t *testing.T) {
	l := &Lease{Method: "natpmp", Port: 3210, Duration: time.Hour}
	got := l.String()
	want := "natpmp:3210 (1h0m0s)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLeaseStringHandlesNil(t *testing.T) {
	var l *Lease
	if got := l.String(); got != "none" {
		t.Fatalf("expected \"none\" for a nil lease, got %q", got)
	}
}

func TestTickNoopWithoutLease(t *testing.T) {
	f := New(3210, "vpncloud")
	// Must not panic or dial out when no lease has ever been established.
	f.Tick(time.Now())
	if f.lease != nil {
		t.Fatalf("expected lease to remain nil, got %+v", f.lease)
	}
}

func TestScheduleRefreshUsesRefreshFraction(t *testing.T) {
	f := New(3210, "vpncloud")
	f.lease = &Lease{Method: "natpmp", Port: 3210, Duration: 100 * time.Second}

	before := time.Now()
	f.scheduleRefresh()
	after := time.Now()

	wantMin := before.Add(60 * time.Second)
	wantMax := after.Add(60 * time.Second)
	if f.nextTick.Before(wantMin) || f.nextTick.After(wantMax) {
		t.Fatalf("expected nextTick around now+60s, got %v (window %v..%v)", f.nextTick, wantMin, wantMax)
	}
}

func TestScheduleRefreshNoopWithoutLease(t *testing.T) {
	f := New(3210, "vpncloud")
	f.scheduleRefresh()
	if !f.nextTick.IsZero() {
		t.Fatalf("expected nextTick to stay zero without a lease, got %v", f.nextTick)
	}
}

func TestTickRespectsDeadline(t *testing.T) {
	f := New(3210, "vpncloud")
	f.lease = &Lease{Method: "natpmp", Port: 3210, Duration: time.Hour}
	f.nextTick = time.Now().Add(time.Hour)

	// Ticking well before the deadline must not attempt a refresh (which
	// would try to dial out) or touch the scheduled lease.
	f.Tick(time.Now())
	if f.lease == nil || f.lease.Port != 3210 {
		t.Fatalf("expected lease untouched before its deadline, got %+v", f.lease)
	}
}
