// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bfix/gospel/logger"
)

// DeviceType selects the kind of local interface C1 opens.
type DeviceType int

// Recognized device types.
const (
	DeviceTUN DeviceType = iota
	DeviceTAP
	DeviceDummy
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTUN:
		return "tun"
	case DeviceTAP:
		return "tap"
	case DeviceDummy:
		return "dummy"
	}
	return "unknown"
}

// ParseDeviceType parses the `device.type` / `--type` option.
func ParseDeviceType(s string) (DeviceType, error) {
	switch strings.ToLower(s) {
	case "tun":
		return DeviceTUN, nil
	case "tap":
		return DeviceTAP, nil
	case "dummy":
		return DeviceDummy, nil
	}
	return 0, fmt.Errorf("config: unknown device type %q", s)
}

// Mode selects the forwarding-table variant (C4).
type Mode int

// Recognized modes.
const (
	ModeNormal Mode = iota
	ModeRouter
	ModeSwitch
	ModeHub
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeRouter:
		return "router"
	case ModeSwitch:
		return "switch"
	case ModeHub:
		return "hub"
	}
	return "unknown"
}

// ParseMode parses the `mode` option.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "normal":
		return ModeNormal, nil
	case "router":
		return ModeRouter, nil
	case "switch":
		return ModeSwitch, nil
	case "hub":
		return ModeHub, nil
	}
	return 0, fmt.Errorf("config: unknown mode %q", s)
}

// Default constants, named after the original implementation's.
const (
	DefaultPeerTimeout   = 300 * time.Second
	DefaultPort          = 3210
	DefaultBeaconPeriod  = 3600 * time.Second
	DefaultSwitchTimeout = 300 * time.Second
	DefaultMTU           = 1400
)

// CryptoConfig holds C3's key material and allowed AEAD suite list.
type CryptoConfig struct {
	Password    string
	PrivateKey  string
	PublicKey   string
	TrustedKeys []string
	Algorithms  []string
}

// DeviceConfig holds C1's parameters.
type DeviceConfig struct {
	Type        DeviceType
	Name        string
	Path        string
	FixRPFilter bool
	MTU         int
}

// BeaconConfig holds C7's parameters.
type BeaconConfig struct {
	Store    string
	Load     string
	Interval time.Duration
	Password string
}

// StatsdConfig holds the optional statsd sink.
type StatsdConfig struct {
	Server string
	Prefix string
}

// Config is the immutable, fully merged configuration the orchestrator
// runs with (spec.md §3, §6).
type Config struct {
	Device DeviceConfig

	IP     string
	Ifup   string
	Ifdown string

	Crypto CryptoConfig
	Magic  string

	Listen        string
	Peers         []string
	PeerTimeout   time.Duration
	keepalive     *time.Duration
	SwitchTimeout time.Duration

	Beacon BeaconConfig

	Mode           Mode
	Claims         []string
	AutoClaim      bool
	PortForwarding bool

	Daemonize bool
	PidFile   string
	StatsFile string
	Statsd    StatsdConfig
	User      string
	Group     string
}

// Default returns the built-in defaults, the left-most layer of the merge
// (spec.md §6: "defaults ← file ← flags").
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Type: DeviceTUN,
			Name: "vpncloud%d",
			MTU:  DefaultMTU,
		},
		Crypto: CryptoConfig{
			Algorithms: []string{"chacha20", "aes256", "aes128"},
		},
		Magic:          "hash:vpncloud",
		Listen:         fmt.Sprintf("[::]:%d", DefaultPort),
		PeerTimeout:    DefaultPeerTimeout,
		SwitchTimeout:  DefaultSwitchTimeout,
		Beacon:         BeaconConfig{Interval: DefaultBeaconPeriod},
		Mode:           ModeNormal,
		AutoClaim:      true,
		PortForwarding: true,
	}
}

// SetKeepalive overrides the derived keepalive interval.
func (c *Config) SetKeepalive(d time.Duration) {
	c.keepalive = &d
}

// Keepalive returns the configured keepalive interval, or the derived
// default max(peer_timeout/2 - 60s, 1s) when unset (spec.md §4.4, §9 —
// the Open Question about this default becoming zero/negative is resolved
// by the clamp below).
func (c *Config) Keepalive() time.Duration {
	if c.keepalive != nil {
		return *c.keepalive
	}
	d := c.PeerTimeout/2 - 60*time.Second
	if d < time.Second {
		d = time.Second
	}
	return d
}

// ParseListen turns a `listen` option (`*:PORT`, `PORT`, or `addr:port`)
// into a dual-stack bind address, matching the original's parse_listen.
func ParseListen(addr string) (*net.UDPAddr, error) {
	if rest := strings.TrimPrefix(addr, "*:"); rest != addr {
		port, err := strconv.Atoi(rest)
		if err != nil {
			return nil, fmt.Errorf("config: invalid port %q: %w", rest, err)
		}
		return &net.UDPAddr{IP: net.IPv6unspecified, Port: port}, nil
	}
	if strings.Contains(addr, ":") {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("config: invalid address %q: %w", addr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("config: invalid port %q: %w", portStr, err)
		}
		ip := net.IPv6unspecified
		if host != "" {
			if ip = net.ParseIP(host); ip == nil {
				return nil, fmt.Errorf("config: invalid host %q", host)
			}
		}
		return &net.UDPAddr{IP: ip, Port: port}, nil
	}
	port, err := strconv.Atoi(addr)
	if err != nil {
		return nil, fmt.Errorf("config: invalid port %q: %w", addr, err)
	}
	return &net.UDPAddr{IP: net.IPv6unspecified, Port: port}, nil
}

// LogSummary emits a single debug line summarizing the merged configuration,
// the way the original logs `debug!("Config: {:?}", config)`.
func (c *Config) LogSummary() {
	logger.Printf(logger.DBG, "[config] mode=%s device=%s/%s listen=%s peers=%d",
		c.Mode, c.Device.Type, c.Device.Name, c.Listen, len(c.Peers))
}
