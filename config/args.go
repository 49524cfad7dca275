// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package config

import (
	"flag"
	"strings"
	"time"
)

// Args holds the parsed command-line flags, the right-most (and
// highest-priority) layer of the merge (spec.md §6: "defaults ← file ←
// flags"). Optional scalars are nil when the flag was never set, so
// MergeArgs can tell "set to zero value" apart from "not given".
type Args struct {
	ConfigFile string

	Type       *string
	DevicePath *string
	FixRPFilter bool
	MTU         *int
	Mode        *string

	Password      *string
	PrivateKey    *string
	PublicKey     *string
	TrustedKeys   []string
	Algorithms    []string

	Claims      []string
	NoAutoClaim bool

	Device *string
	Listen *string
	Peers  []string

	PeerTimeout   *time.Duration
	Keepalive     *time.Duration
	SwitchTimeout *time.Duration

	BeaconStore    *string
	BeaconLoad     *string
	BeaconInterval *time.Duration
	BeaconPassword *string

	Verbose bool
	Quiet   bool

	IP     *string
	Ifup   *string
	Ifdown *string

	Version bool
	Genkey  bool

	NoPortForwarding bool
	Daemon           bool
	PidFile          *string
	StatsFile        *string
	StatsdServer     *string
	StatsdPrefix     *string
	User             *string
	Group            *string

	MigrateConfig bool
}

// ParseArgs registers and parses the vpncloud flag set, the way the
// original's StructOpt-derived Args struct lays out its fields.
func ParseArgs(fs *flag.FlagSet, argv []string) (*Args, error) {
	a := &Args{}

	var (
		typ, devicePath, mode                                   string
		mtu                                                      int
		password, privateKey, publicKey                         string
		trustedKeys, algorithms, claims, peers                   string
		device, listen                                           string
		peerTimeout, keepalive, switchTimeout                    time.Duration
		beaconStore, beaconLoad, beaconPassword                  string
		beaconInterval                                           time.Duration
		ip, ifup, ifdown                                        string
		pidFile, statsFile, statsdServer, statsdPrefix           string
		user, group                                              string
	)

	fs.StringVar(&a.ConfigFile, "config", "", "read configuration options from the specified file")
	fs.StringVar(&typ, "type", "", "set the type of network (tun, tap)")
	fs.StringVar(&devicePath, "device-path", "", "set the path of the base device")
	fs.BoolVar(&a.FixRPFilter, "fix-rp-filter", false, "fix the rp_filter settings on the host")
	fs.IntVar(&mtu, "mtu", 0, "the MTU of the virtual device")
	fs.StringVar(&mode, "mode", "", "the mode of the VPN (normal, router, switch, hub)")

	fs.StringVar(&password, "password", "", "the shared password to encrypt all traffic")
	fs.StringVar(&privateKey, "private-key", "", "the private key to use")
	fs.StringVar(&publicKey, "public-key", "", "the public key to use")
	fs.StringVar(&trustedKeys, "trusted-key", "", "other public keys to trust, comma separated")
	fs.StringVar(&algorithms, "algorithm", "", "algorithms to allow, comma separated")

	fs.StringVar(&claims, "claim", "", "local subnets to claim, comma separated")
	fs.BoolVar(&a.NoAutoClaim, "no-auto-claim", false, "do not automatically claim the device ip")

	fs.StringVar(&device, "device", "", "name of the virtual device")
	fs.StringVar(&listen, "listen", "", "the port number (or ip:port) on which to listen for data")
	fs.StringVar(&peers, "peer", "", "addresses of peers to connect to, comma separated")

	fs.DurationVar(&peerTimeout, "peer-timeout", 0, "peer timeout")
	fs.DurationVar(&keepalive, "keepalive", 0, "interval to send keepalive messages")
	fs.DurationVar(&switchTimeout, "switch-timeout", 0, "switch table entry timeout")

	fs.StringVar(&beaconStore, "beacon-store", "", "file path or |command to store the beacon")
	fs.StringVar(&beaconLoad, "beacon-load", "", "file path or |command to load the beacon")
	fs.DurationVar(&beaconInterval, "beacon-interval", 0, "beacon store/load interval")
	fs.StringVar(&beaconPassword, "beacon-password", "", "password to encrypt the beacon with")

	fs.BoolVar(&a.Verbose, "verbose", false, "print debug information")
	fs.BoolVar(&a.Quiet, "quiet", false, "only print errors and warnings")

	fs.StringVar(&ip, "ip", "", "an IP address (plus optional prefix length) for the interface")
	fs.StringVar(&ifup, "ifup", "", "a command to setup the network interface")
	fs.StringVar(&ifdown, "ifdown", "", "a command to bring down the network interface")

	fs.BoolVar(&a.Version, "version", false, "print the version and exit")
	fs.BoolVar(&a.Genkey, "genkey", false, "generate and print a key-pair and exit")

	fs.BoolVar(&a.NoPortForwarding, "no-port-forwarding", false, "disable automatic port forwarding")
	fs.BoolVar(&a.Daemon, "daemon", false, "run the process in the background")
	fs.StringVar(&pidFile, "pid-file", "", "store the process id in this file")
	fs.StringVar(&statsFile, "stats-file", "", "print statistics to this file")
	fs.StringVar(&statsdServer, "statsd-server", "", "send statistics to this statsd server")
	fs.StringVar(&statsdPrefix, "statsd-prefix", "", "prefix for statsd records")
	fs.StringVar(&user, "user", "", "run as other user")
	fs.StringVar(&group, "group", "", "run as other group")

	fs.BoolVar(&a.MigrateConfig, "migrate-config", false, "migrate an old config file")

	if err := fs.Parse(argv); err != nil {
		return nil, err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	strPtr := func(name string, v string) *string {
		if !set[name] {
			return nil
		}
		return &v
	}
	durPtr := func(name string, v time.Duration) *time.Duration {
		if !set[name] {
			return nil
		}
		return &v
	}
	intPtr := func(name string, v int) *int {
		if !set[name] {
			return nil
		}
		return &v
	}
	csv := func(name, v string) []string {
		if !set[name] || v == "" {
			return nil
		}
		return strings.Split(v, ",")
	}

	a.Type = strPtr("type", typ)
	a.DevicePath = strPtr("device-path", devicePath)
	a.MTU = intPtr("mtu", mtu)
	a.Mode = strPtr("mode", mode)
	a.Password = strPtr("password", password)
	a.PrivateKey = strPtr("private-key", privateKey)
	a.PublicKey = strPtr("public-key", publicKey)
	a.TrustedKeys = csv("trusted-key", trustedKeys)
	a.Algorithms = csv("algorithm", algorithms)
	a.Claims = csv("claim", claims)
	a.Device = strPtr("device", device)
	a.Listen = strPtr("listen", listen)
	a.Peers = csv("peer", peers)
	a.PeerTimeout = durPtr("peer-timeout", peerTimeout)
	a.Keepalive = durPtr("keepalive", keepalive)
	a.SwitchTimeout = durPtr("switch-timeout", switchTimeout)
	a.BeaconStore = strPtr("beacon-store", beaconStore)
	a.BeaconLoad = strPtr("beacon-load", beaconLoad)
	a.BeaconInterval = durPtr("beacon-interval", beaconInterval)
	a.BeaconPassword = strPtr("beacon-password", beaconPassword)
	a.IP = strPtr("ip", ip)
	a.Ifup = strPtr("ifup", ifup)
	a.Ifdown = strPtr("ifdown", ifdown)
	a.PidFile = strPtr("pid-file", pidFile)
	a.StatsFile = strPtr("stats-file", statsFile)
	a.StatsdServer = strPtr("statsd-server", statsdServer)
	a.StatsdPrefix = strPtr("statsd-prefix", statsdPrefix)
	a.User = strPtr("user", user)
	a.Group = strPtr("group", group)

	return a, nil
}

// MergeArgs merges command-line flags over c, the final and
// highest-priority layer of the merge.
func (c *Config) MergeArgs(a *Args) {
	if a.Type != nil {
		if t, err := ParseDeviceType(*a.Type); err == nil {
			c.Device.Type = t
		}
	}
	if a.DevicePath != nil {
		c.Device.Path = *a.DevicePath
	}
	if a.FixRPFilter {
		c.Device.FixRPFilter = true
	}
	if a.MTU != nil {
		c.Device.MTU = *a.MTU
	}
	if a.Mode != nil {
		if m, err := ParseMode(*a.Mode); err == nil {
			c.Mode = m
		}
	}
	if a.Password != nil {
		c.Crypto.Password = *a.Password
	}
	if a.PrivateKey != nil {
		c.Crypto.PrivateKey = *a.PrivateKey
	}
	if a.PublicKey != nil {
		c.Crypto.PublicKey = *a.PublicKey
	}
	c.Crypto.TrustedKeys = append(c.Crypto.TrustedKeys, a.TrustedKeys...)
	if len(a.Algorithms) > 0 {
		c.Crypto.Algorithms = a.Algorithms
	}
	c.Claims = append(c.Claims, a.Claims...)
	if a.NoAutoClaim {
		c.AutoClaim = false
	}
	if a.Device != nil {
		c.Device.Name = *a.Device
	}
	if a.Listen != nil {
		c.Listen = *a.Listen
	}
	c.Peers = append(c.Peers, a.Peers...)
	if a.PeerTimeout != nil {
		c.PeerTimeout = *a.PeerTimeout
	}
	if a.Keepalive != nil {
		c.SetKeepalive(*a.Keepalive)
	}
	if a.SwitchTimeout != nil {
		c.SwitchTimeout = *a.SwitchTimeout
	}
	if a.BeaconStore != nil {
		c.Beacon.Store = *a.BeaconStore
	}
	if a.BeaconLoad != nil {
		c.Beacon.Load = *a.BeaconLoad
	}
	if a.BeaconInterval != nil {
		c.Beacon.Interval = *a.BeaconInterval
	}
	if a.BeaconPassword != nil {
		c.Beacon.Password = *a.BeaconPassword
	}
	if a.IP != nil {
		c.IP = *a.IP
	}
	if a.Ifup != nil {
		c.Ifup = *a.Ifup
	}
	if a.Ifdown != nil {
		c.Ifdown = *a.Ifdown
	}
	if a.NoPortForwarding {
		c.PortForwarding = false
	}
	if a.Daemon {
		c.Daemonize = true
	}
	if a.PidFile != nil {
		c.PidFile = *a.PidFile
	}
	if a.StatsFile != nil {
		c.StatsFile = *a.StatsFile
	}
	if a.StatsdServer != nil {
		c.Statsd.Server = *a.StatsdServer
	}
	if a.StatsdPrefix != nil {
		c.Statsd.Prefix = *a.StatsdPrefix
	}
	if a.User != nil {
		c.User = *a.User
	}
	if a.Group != nil {
		c.Group = *a.Group
	}
}
