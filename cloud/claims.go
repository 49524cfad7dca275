// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package cloud

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/wisdark/vpncloud/wire"
)

// ParseClaim turns one `claims`/`ip` config entry into a wire.NodeAddress:
// `IP/prefix` for L3 modes, `MAC` (optionally `MAC@VLAN`) for L2 modes
// (spec.md §3 "ClaimSet").
func ParseClaim(s string) (wire.NodeAddress, error) {
	if strings.Contains(s, "/") {
		return parseIPPrefix(s)
	}
	if strings.Contains(s, ":") && len(strings.Split(s, ":")) == 6 {
		return parseMACClaim(s)
	}
	return wire.NodeAddress{}, fmt.Errorf("cloud: unrecognized claim %q", s)
}

func parseIPPrefix(s string) (wire.NodeAddress, error) {
	ip, ipnet, err := net.ParseCIDR(s)
	if err != nil {
		return wire.NodeAddress{}, fmt.Errorf("cloud: invalid claim %q: %w", s, err)
	}
	bits, _ := ipnet.Mask.Size()
	if ip4 := ip.To4(); ip4 != nil {
		data := append(append([]byte{}, ip4...), byte(bits))
		return wire.NewNodeAddress(wire.KindIPv4Net, data), nil
	}
	data := append(append([]byte{}, ip.To16()...), byte(bits))
	return wire.NewNodeAddress(wire.KindIPv6Net, data), nil
}

func parseMACClaim(s string) (wire.NodeAddress, error) {
	parts := strings.SplitN(s, "@", 2)
	mac, err := net.ParseMAC(parts[0])
	if err != nil {
		return wire.NodeAddress{}, fmt.Errorf("cloud: invalid MAC claim %q: %w", s, err)
	}
	if len(parts) == 1 {
		return wire.NewNodeAddress(wire.KindMAC, mac), nil
	}
	vlan, err := strconv.Atoi(parts[1])
	if err != nil {
		return wire.NodeAddress{}, fmt.Errorf("cloud: invalid VLAN in claim %q: %w", s, err)
	}
	data := append(append([]byte{}, mac...), byte(vlan>>8), byte(vlan))
	return wire.NewNodeAddress(wire.KindMACVLAN, data), nil
}

// AutoClaimIP builds the claim NodeAddress for the interface's own IP,
// used when `auto_claim` is set (spec.md §3: "the local interface's IP
// (if auto_claim) is inserted automatically").
func AutoClaimIP(ipWithPrefix string) (wire.NodeAddress, error) {
	return parseIPPrefix(ipWithPrefix)
}
