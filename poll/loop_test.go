// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package poll

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRunDispatchesDeviceAndUDPEvents(t *testing.T) {
	deviceCh := make(chan interface{}, 8)
	udpCh := make(chan interface{}, 8)
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var gotDevice, gotUDP []interface{}

	done := make(chan struct{})
	go func() {
		Run(ctx, deviceCh, udpCh, Handlers{
			OnDevice: func(ev interface{}) {
				mu.Lock()
				gotDevice = append(gotDevice, ev)
				mu.Unlock()
			},
			OnUDP: func(ev interface{}) {
				mu.Lock()
				gotUDP = append(gotUDP, ev)
				mu.Unlock()
			},
			OnHousekeep:  func() {},
			TickInterval: time.Hour,
		})
		close(done)
	}()

	deviceCh <- "frame1"
	udpCh <- "datagram1"

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(gotDevice) + len(gotUDP)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for events to be dispatched")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(gotDevice) != 1 || gotDevice[0] != "frame1" {
		t.Fatalf("expected device event dispatched once, got %v", gotDevice)
	}
	if len(gotUDP) != 1 || gotUDP[0] != "datagram1" {
		t.Fatalf("expected UDP event dispatched once, got %v", gotUDP)
	}
}

func TestRunTicksHousekeeping(t *testing.T) {
	deviceCh := make(chan interface{})
	udpCh := make(chan interface{})
	ctx, cancel := context.WithCancel(context.Background())

	ticks := make(chan struct{}, 8)
	done := make(chan struct{})
	go func() {
		Run(ctx, deviceCh, udpCh, Handlers{
			OnDevice:     func(interface{}) {},
			OnUDP:        func(interface{}) {},
			OnHousekeep:  func() { ticks <- struct{}{} },
			TickInterval: 5 * time.Millisecond,
		})
		close(done)
	}()

	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a housekeeping tick")
	}

	cancel()
	<-done
}

func TestRunStopsOnContextCancel(t *testing.T) {
	deviceCh := make(chan interface{})
	udpCh := make(chan interface{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Run(ctx, deviceCh, udpCh, Handlers{
			OnDevice:     func(interface{}) {},
			OnUDP:        func(interface{}) {},
			OnHousekeep:  func() {},
			TickInterval: time.Hour,
		})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return promptly after ctx cancel")
	}
}

func TestRunStopsOnClosedChannel(t *testing.T) {
	deviceCh := make(chan interface{})
	udpCh := make(chan interface{})

	done := make(chan struct{})
	go func() {
		Run(context.Background(), deviceCh, udpCh, Handlers{
			OnDevice:     func(interface{}) {},
			OnUDP:        func(interface{}) {},
			OnHousekeep:  func() {},
			TickInterval: time.Hour,
		})
		close(done)
	}()

	close(udpCh)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return after udpCh closed")
	}
}
