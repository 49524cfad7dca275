// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DeviceFile is the optional `device` section of the YAML config file.
type DeviceFile struct {
	Type        *string `yaml:"type"`
	Name        *string `yaml:"name"`
	Path        *string `yaml:"path"`
	FixRPFilter *bool   `yaml:"fix_rp_filter"`
	MTU         *int    `yaml:"mtu"`
}

// CryptoFile is the optional `crypto` section.
type CryptoFile struct {
	Password    *string  `yaml:"password"`
	PrivateKey  *string  `yaml:"private_key"`
	PublicKey   *string  `yaml:"public_key"`
	TrustedKeys []string `yaml:"trusted_keys"`
	Algorithms  []string `yaml:"algorithms"`
}

// BeaconFile is the optional `beacon` section.
type BeaconFile struct {
	Store    *string        `yaml:"store"`
	Load     *string        `yaml:"load"`
	Interval *time.Duration `yaml:"interval"`
	Password *string        `yaml:"password"`
}

// StatsdFile is the optional `statsd` section.
type StatsdFile struct {
	Server *string `yaml:"server"`
	Prefix *string `yaml:"prefix"`
}

// ConfigFile mirrors the YAML document (spec.md §6); every field is
// optional so that "unspecified options leave prior values intact"
// (spec.md §8, config-merge idempotence law).
type ConfigFile struct {
	Device *DeviceFile `yaml:"device"`

	IP     *string `yaml:"ip"`
	Ifup   *string `yaml:"ifup"`
	Ifdown *string `yaml:"ifdown"`

	Crypto CryptoFile `yaml:"crypto"`
	Magic  *string    `yaml:"magic"`

	Listen        *string        `yaml:"listen"`
	Peers         []string       `yaml:"peers"`
	PeerTimeout   *time.Duration `yaml:"peer_timeout"`
	Keepalive     *time.Duration `yaml:"keepalive"`
	SwitchTimeout *time.Duration `yaml:"switch_timeout"`

	Beacon *BeaconFile `yaml:"beacon"`

	Mode           *string  `yaml:"mode"`
	Claims         []string `yaml:"claims"`
	AutoClaim      *bool    `yaml:"auto_claim"`
	PortForwarding *bool    `yaml:"port_forwarding"`

	Daemonize *bool   `yaml:"daemonize"`
	PidFile   *string `yaml:"pid_file"`
	StatsFile *string `yaml:"stats_file"`
	Statsd    *StatsdFile `yaml:"statsd"`
	User      *string `yaml:"user"`
	Group     *string `yaml:"group"`
}

// knownTopLevelKeys lists every key merge_file/merge_args recognizes.
// The historical format additionally supported `network_id`, silently
// re-mapped to `magic`; the new format drops it and refuses to start
// rather than silently ignore an unknown key (spec.md §9 Open Question).
var knownTopLevelKeys = map[string]bool{
	"device": true, "ip": true, "ifup": true, "ifdown": true,
	"crypto": true, "magic": true, "listen": true, "peers": true,
	"peer_timeout": true, "keepalive": true, "switch_timeout": true,
	"beacon": true, "mode": true, "claims": true, "auto_claim": true,
	"port_forwarding": true, "daemonize": true, "pid_file": true,
	"stats_file": true, "statsd": true, "user": true, "group": true,
}

// ErrLegacyNetworkID is returned when a YAML config file still carries the
// removed `network_id` key; rerun with --migrate-config.
var ErrLegacyNetworkID = fmt.Errorf("config: legacy 'network_id' key found, run with --migrate-config")

// checkUnknownKeys scans the document's top-level mapping for keys this
// version does not recognize.
func checkUnknownKeys(raw []byte) error {
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return err
	}
	if len(node.Content) == 0 {
		return nil
	}
	doc := node.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i < len(doc.Content); i += 2 {
		key := doc.Content[i].Value
		if key == "network_id" {
			return ErrLegacyNetworkID
		}
		if !knownTopLevelKeys[key] {
			return fmt.Errorf("config: unknown option %q (refusing to start; see --migrate-config for legacy files)", key)
		}
	}
	return nil
}

// MigrateLegacyFile rewrites a config file still carrying the removed
// `network_id` top-level key to use `magic` instead, leaving every other
// key untouched (spec.md §9: "--migrate-config rewrites a legacy file in
// place").
func MigrateLegacyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return err
	}
	if len(node.Content) == 0 {
		return fmt.Errorf("config: %s is empty", path)
	}
	doc := node.Content[0]
	if doc.Kind != yaml.MappingNode {
		return fmt.Errorf("config: %s is not a mapping", path)
	}
	found := false
	for i := 0; i < len(doc.Content); i += 2 {
		if doc.Content[i].Value == "network_id" {
			doc.Content[i].Value = "magic"
			found = true
		}
	}
	if !found {
		return fmt.Errorf("config: %s has no legacy 'network_id' key to migrate", path)
	}
	out, err := yaml.Marshal(&node)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0644)
}

// LoadFile reads and parses a YAML config file, rejecting unknown or
// legacy keys rather than silently ignoring them.
func LoadFile(path string) (*ConfigFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := checkUnknownKeys(raw); err != nil {
		return nil, err
	}
	cf := new(ConfigFile)
	if err := yaml.Unmarshal(raw, cf); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return cf, nil
}

// MergeFile merges a parsed config file's fields over c, in place,
// matching the original's Config::merge_file field-by-field behavior.
func (c *Config) MergeFile(f *ConfigFile) {
	if f.Device != nil {
		if f.Device.Type != nil {
			if t, err := ParseDeviceType(*f.Device.Type); err == nil {
				c.Device.Type = t
			}
		}
		if f.Device.Name != nil {
			c.Device.Name = *f.Device.Name
		}
		if f.Device.Path != nil {
			c.Device.Path = *f.Device.Path
		}
		if f.Device.FixRPFilter != nil {
			c.Device.FixRPFilter = *f.Device.FixRPFilter
		}
		if f.Device.MTU != nil {
			c.Device.MTU = *f.Device.MTU
		}
	}
	if f.IP != nil {
		c.IP = *f.IP
	}
	if f.Ifup != nil {
		c.Ifup = *f.Ifup
	}
	if f.Ifdown != nil {
		c.Ifdown = *f.Ifdown
	}
	if f.Magic != nil {
		c.Magic = *f.Magic
	}
	if f.Listen != nil {
		c.Listen = *f.Listen
	}
	c.Peers = append(c.Peers, f.Peers...)
	if f.PeerTimeout != nil {
		c.PeerTimeout = *f.PeerTimeout
	}
	if f.Keepalive != nil {
		c.SetKeepalive(*f.Keepalive)
	}
	if f.SwitchTimeout != nil {
		c.SwitchTimeout = *f.SwitchTimeout
	}
	if f.Beacon != nil {
		if f.Beacon.Store != nil {
			c.Beacon.Store = *f.Beacon.Store
		}
		if f.Beacon.Load != nil {
			c.Beacon.Load = *f.Beacon.Load
		}
		if f.Beacon.Interval != nil {
			c.Beacon.Interval = *f.Beacon.Interval
		}
		if f.Beacon.Password != nil {
			c.Beacon.Password = *f.Beacon.Password
		}
	}
	if f.Mode != nil {
		if m, err := ParseMode(*f.Mode); err == nil {
			c.Mode = m
		}
	}
	c.Claims = append(c.Claims, f.Claims...)
	if f.AutoClaim != nil {
		c.AutoClaim = *f.AutoClaim
	}
	if f.PortForwarding != nil {
		c.PortForwarding = *f.PortForwarding
	}
	if f.Daemonize != nil {
		c.Daemonize = *f.Daemonize
	}
	if f.PidFile != nil {
		c.PidFile = *f.PidFile
	}
	if f.StatsFile != nil {
		c.StatsFile = *f.StatsFile
	}
	if f.Statsd != nil {
		if f.Statsd.Server != nil {
			c.Statsd.Server = *f.Statsd.Server
		}
		if f.Statsd.Prefix != nil {
			c.Statsd.Prefix = *f.Statsd.Prefix
		}
	}
	if f.User != nil {
		c.User = *f.User
	}
	if f.Group != nil {
		c.Group = *f.Group
	}
	if f.Crypto.Password != nil {
		c.Crypto.Password = *f.Crypto.Password
	}
	if f.Crypto.PublicKey != nil {
		c.Crypto.PublicKey = *f.Crypto.PublicKey
	}
	if f.Crypto.PrivateKey != nil {
		c.Crypto.PrivateKey = *f.Crypto.PrivateKey
	}
	c.Crypto.TrustedKeys = append(c.Crypto.TrustedKeys, f.Crypto.TrustedKeys...)
	if len(f.Crypto.Algorithms) > 0 {
		c.Crypto.Algorithms = f.Crypto.Algorithms
	}
}
