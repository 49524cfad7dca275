// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

// Package portfwd implements opportunistic NAT traversal for the UDP
// listen port (spec.md §4.6): NAT-PMP is tried first, then UPnP-IGD; a
// successful mapping is refreshed at 60% of its lease duration, and every
// failure is non-fatal (spec.md §7: "All errors are non-fatal and logged
// at debug level").
package portfwd

import (
	"fmt"
	"time"

	natpmp "github.com/jackpal/go-nat-pmp"

	"github.com/bfix/gospel/logger"
	"github.com/bfix/gospel/network"
)

// defaultLifetime is the requested NAT-PMP mapping lifetime; UPnP leases
// are managed by gospel's PortMapper and have no comparable knob here.
const defaultLifetime = 3600 * time.Second

// refreshFraction is the fraction of a lease's duration after which it is
// refreshed (spec.md §4.6: "refreshed at 60% of its duration").
const refreshFraction = 0.6

// Lease describes an active port mapping, however it was obtained.
type Lease struct {
	Method   string // "natpmp" or "upnp"
	Port     int
	Duration time.Duration
}

// Forwarder owns the (at most one) active NAT mapping for the configured
// listen port and knows how to refresh or release it, grounded on the
// teacher's transport.go ForwardOpen/ForwardClose (the UPnP half) with a
// NAT-PMP attempt tried first per spec.md §4.6.
type Forwarder struct {
	port int
	tag  string

	upnp   *network.PortMapper
	upnpID string

	natpmpClient *natpmp.Client

	lease    *Lease
	nextTick time.Time
}

// New creates a forwarder for the given UDP port. tag identifies this
// application to UPnP-IGD routers (gospel's PortMapper uses it as a
// description string).
func New(port int, tag string) *Forwarder {
	return &Forwarder{port: port, tag: tag}
}

// Open attempts NAT-PMP first, then UPnP-IGD, returning the resulting
// lease. A nil, nil result means neither method is available; callers
// treat this as "no forwarding", not an error (spec.md §4.6).
func (f *Forwarder) Open() (*Lease, error) {
	if lease, err := f.tryNATPMP(); err == nil {
		f.lease = lease
		f.scheduleRefresh()
		return lease, nil
	} else {
		logger.Printf(logger.DBG, "[portfwd] NAT-PMP unavailable: %s", err)
	}
	if lease, err := f.tryUPnP(); err == nil {
		f.lease = lease
		f.scheduleRefresh()
		return lease, nil
	} else {
		logger.Printf(logger.DBG, "[portfwd] UPnP unavailable: %s", err)
	}
	return nil, nil
}

func (f *Forwarder) tryNATPMP() (*Lease, error) {
	gw, err := natpmp.DiscoverGateway()
	if err != nil {
		return nil, err
	}
	client := natpmp.NewClient(gw)
	res, err := client.AddPortMapping("udp", f.port, f.port, int(defaultLifetime.Seconds()))
	if err != nil {
		return nil, err
	}
	f.natpmpClient = client
	return &Lease{
		Method:   "natpmp",
		Port:     int(res.MappedExternalPort),
		Duration: time.Duration(res.PortMappingLifetimeInSeconds) * time.Second,
	}, nil
}

func (f *Forwarder) tryUPnP() (*Lease, error) {
	mngr, err := network.NewPortMapper(f.tag)
	if err != nil {
		return nil, err
	}
	id, _, remote, err := mngr.Assign("udp", f.port)
	if err != nil {
		mngr.Close()
		return nil, err
	}
	f.upnp = mngr
	f.upnpID = id
	_ = remote
	return &Lease{Method: "upnp", Port: f.port, Duration: defaultLifetime}, nil
}

// scheduleRefresh arms the next refresh deadline at refreshFraction of
// the current lease's duration.
func (f *Forwarder) scheduleRefresh() {
	if f.lease == nil {
		return
	}
	d := time.Duration(float64(f.lease.Duration) * refreshFraction)
	if d <= 0 {
		d = time.Minute
	}
	f.nextTick = time.Now().Add(d)
}

// Tick is called from housekeeping; it refreshes the active lease once
// its refresh deadline has passed (spec.md §4.6, §4.7).
func (f *Forwarder) Tick(now time.Time) {
	if f.lease == nil || now.Before(f.nextTick) {
		return
	}
	switch f.lease.Method {
	case "natpmp":
		if lease, err := f.tryNATPMP(); err == nil {
			f.lease = lease
		} else {
			logger.Printf(logger.DBG, "[portfwd] NAT-PMP refresh failed: %s", err)
		}
	case "upnp":
		if lease, err := f.tryUPnP(); err == nil {
			f.lease = lease
		} else {
			logger.Printf(logger.DBG, "[portfwd] UPnP refresh failed: %s", err)
		}
	}
	f.scheduleRefresh()
}

// Close releases any active mapping.
func (f *Forwarder) Close() {
	if f.natpmpClient != nil {
		// a zero lifetime and external port deletes the mapping
		if _, err := f.natpmpClient.AddPortMapping("udp", f.port, 0, 0); err != nil {
			logger.Printf(logger.DBG, "[portfwd] NAT-PMP release failed: %s", err)
		}
	}
	if f.upnp != nil {
		if f.upnpID != "" {
			if err := f.upnp.Unassign(f.upnpID); err != nil {
				logger.Printf(logger.DBG, "[portfwd] UPnP release failed: %s", err)
			}
		}
		f.upnp.Close()
	}
	f.lease = nil
}

// String describes the active lease for logging.
func (l *Lease) String() string {
	if l == nil {
		return "none"
	}
	return fmt.Sprintf("%s:%d (%s)", l.Method, l.Port, l.Duration)
}
