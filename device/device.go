// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

// Package device implements the local interface capability (spec.md §6,
// C1): opening a tun/tap device by name and type, blocking read/write of
// one packet/frame, and the handful of OS-level side effects (MTU,
// address, rp_filter) the orchestrator needs at startup. Grounded
// directly on original_source/src/device.rs's TUNSETIFF/IFF_TUN/IFF_TAP/
// IFF_NO_PI handling and its `%d`-substitution/MockDevice shape,
// translated from the Rust ioctl call to Go via golang.org/x/sys/unix.
package device

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Type is the kind of local interface opened (spec.md §6).
type Type int

// Recognized types.
const (
	TypeTUN Type = iota
	TypeTAP
	TypeDummy
)

func (t Type) String() string {
	switch t {
	case TypeTUN:
		return "tun"
	case TypeTAP:
		return "tap"
	case TypeDummy:
		return "dummy"
	}
	return "unknown"
}

// DefaultPath returns the default device node for a given type.
func DefaultPath(t Type) string {
	if t == TypeDummy {
		return "/dev/null"
	}
	return "/dev/net/tun"
}

// Device is the capability the orchestrator depends on: open by name,
// blocking read/write of one packet/frame, MTU.
type Device interface {
	// Read blocks until one packet/frame is available and copies it into
	// buffer, returning the number of bytes read.
	Read(buffer []byte) (int, error)
	// Write blocks until one packet/frame has been written.
	Write(data []byte) error
	// Name returns the OS-assigned interface name (resolved `%d`, if any).
	Name() string
	// Type reports the device kind.
	Type() Type
	// Close releases the underlying file descriptor.
	Close() error
}

const (
	iffTUN    = 0x0001
	iffTAP    = 0x0002
	iffNoPI   = 0x1000
	tunSetIff = 0x400454ca
	ifNameSz  = 16
)

// ifReq mirrors struct ifreq's name+flags prefix; the remaining bytes of
// the 40-byte kernel structure are unused by TUNSETIFF and left zero.
type ifReq struct {
	name  [ifNameSz]byte
	flags uint16
	_     [40 - ifNameSz - 2]byte
}

// TunTapDevice is a real kernel tun/tap device (spec.md §6).
type TunTapDevice struct {
	file *os.File
	name string
	typ  Type
}

// Open creates a new tun/tap device of the given type and name. name may
// contain the token `%d`, replaced by the kernel with the next free index
// (spec.md §6: "return the OS-assigned name when the config name contains
// the token %d"). If path is empty, the type's default device node is
// used.
func Open(name string, typ Type, path string) (*TunTapDevice, error) {
	if typ == TypeDummy {
		return openDummy(name, path)
	}
	if path == "" {
		path = DefaultPath(typ)
	}
	if len(name) >= ifNameSz {
		return nil, fmt.Errorf("device: interface name %q too long", name)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	var req ifReq
	copy(req.name[:], name)
	switch typ {
	case TypeTUN:
		req.flags = iffTUN | iffNoPI
	case TypeTAP:
		req.flags = iffTAP | iffNoPI
	}
	if err := ioctl(f.Fd(), tunSetIff, uintptr(unsafe.Pointer(&req))); err != nil {
		f.Close()
		return nil, fmt.Errorf("device: TUNSETIFF failed: %w", err)
	}
	resolved := cString(req.name[:])
	return &TunTapDevice{file: f, name: resolved, typ: typ}, nil
}

func ioctl(fd uintptr, req uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// openDummy opens a plain file (or special file/FIFO) used for reading
// and writing packets, with no networking device involved
// (original_source/src/device.rs's `dummy` constructor).
func openDummy(name, path string) (*TunTapDevice, error) {
	if path == "" {
		path = "/dev/null"
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &TunTapDevice{file: f, name: name, typ: TypeDummy}, nil
}

// Read blocks for one packet/frame. EINTR is retried (spec.md §7:
// "Transient I/O: ... the local interface write returning EINTR is
// retried").
func (d *TunTapDevice) Read(buffer []byte) (int, error) {
	for {
		n, err := d.file.Read(buffer)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return n, err
	}
}

// Write blocks until data has been written in full, retrying on EINTR.
func (d *TunTapDevice) Write(data []byte) error {
	for {
		_, err := d.file.Write(data)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return err
	}
}

// Name returns the OS-assigned interface name.
func (d *TunTapDevice) Name() string { return d.name }

// Type reports the device kind.
func (d *TunTapDevice) Type() Type { return d.typ }

// Close releases the device file descriptor.
func (d *TunTapDevice) Close() error { return d.file.Close() }

// SetMTU sets the interface MTU via `ip link set <name> mtu <n>`, the
// same external-tool approach the orchestrator uses for ifup/ifdown
// scripts rather than raw SIOCSIFMTU, since MTU/address configuration is
// explicitly out of scope beyond "abstract local interface capability"
// (spec.md §1).
func SetMTU(name string, mtu int) error {
	return exec.Command("ip", "link", "set", name, "mtu", strconv.Itoa(mtu)).Run()
}

// SetIPv4 assigns an IPv4 address and netmask (CIDR form, e.g. "24") to
// the interface and brings it up.
func SetIPv4(name, ip string, prefixLen int) error {
	cidr := fmt.Sprintf("%s/%d", ip, prefixLen)
	if err := exec.Command("ip", "addr", "add", cidr, "dev", name).Run(); err != nil {
		return err
	}
	return exec.Command("ip", "link", "set", name, "up").Run()
}

// SetRPFilter writes the rp_filter sysctl equivalent for name, used when
// `device.fix_rp_filter` is set to keep strict reverse-path filtering
// from dropping asymmetric mesh traffic.
func SetRPFilter(name string, value int) error {
	path := fmt.Sprintf("/proc/sys/net/ipv4/conf/%s/rp_filter", name)
	return os.WriteFile(path, []byte(strconv.Itoa(value)), 0644)
}

// DummyDevice is an in-memory Device for tests (original_source's
// MockDevice): packets are queued in and out rather than touching a real
// interface.
type DummyDevice struct {
	inbound  [][]byte
	outbound [][]byte
}

// NewDummyDevice creates an empty in-memory device.
func NewDummyDevice() *DummyDevice {
	return &DummyDevice{}
}

// PutInbound queues a packet/frame to be returned by the next Read.
func (d *DummyDevice) PutInbound(data []byte) {
	d.inbound = append(d.inbound, append([]byte(nil), data...))
}

// PopOutbound dequeues the oldest packet/frame written via Write.
func (d *DummyDevice) PopOutbound() ([]byte, bool) {
	if len(d.outbound) == 0 {
		return nil, false
	}
	data := d.outbound[0]
	d.outbound = d.outbound[1:]
	return data, true
}

// HasInbound reports whether a Read would succeed without blocking.
func (d *DummyDevice) HasInbound() bool { return len(d.inbound) > 0 }

// Read returns the next queued inbound packet, or io.EOF-style error if
// none is queued (tests drive this deterministically; it never blocks).
func (d *DummyDevice) Read(buffer []byte) (int, error) {
	if len(d.inbound) == 0 {
		return 0, errNoData
	}
	data := d.inbound[0]
	d.inbound = d.inbound[1:]
	return copy(buffer, data), nil
}

// Write queues data for PopOutbound to retrieve.
func (d *DummyDevice) Write(data []byte) error {
	d.outbound = append(d.outbound, append([]byte(nil), data...))
	return nil
}

// Name returns a fixed placeholder name.
func (d *DummyDevice) Name() string { return "dummy0" }

// Type reports TypeDummy.
func (d *DummyDevice) Type() Type { return TypeDummy }

// Close is a no-op for the in-memory device.
func (d *DummyDevice) Close() error { return nil }

var errNoData = errors.New("device: no inbound data queued")
