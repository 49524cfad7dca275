// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package cloud

import "github.com/wisdark/vpncloud/wire"

// frameAddresses extracts the (src, dst) NodeAddress pair a raw L2 frame
// or L3 packet carries, keyed the way the configured mode expects: MAC(
// +VLAN) for switch/hub, IP for router/normal. ok is false for a frame too
// short to contain the relevant header.
func frameAddresses(tap bool, data []byte) (src, dst wire.NodeAddress, ok bool) {
	if tap {
		return ethernetAddresses(data)
	}
	return ipAddresses(data)
}

// ethernetAddresses parses dst(6)+src(6)+[vlan tag] from an Ethernet II
// frame.
func ethernetAddresses(data []byte) (src, dst wire.NodeAddress, ok bool) {
	if len(data) < 12 {
		return wire.NodeAddress{}, wire.NodeAddress{}, false
	}
	dstMAC := data[0:6]
	srcMAC := data[6:12]
	if len(data) >= 16 && data[12] == 0x81 && data[13] == 0x00 {
		vlan := (int(data[14]&0x0f) << 8) | int(data[15])
		dst = wire.NewNodeAddress(wire.KindMACVLAN, append(append([]byte{}, dstMAC...), byte(vlan>>8), byte(vlan)))
		src = wire.NewNodeAddress(wire.KindMACVLAN, append(append([]byte{}, srcMAC...), byte(vlan>>8), byte(vlan)))
		return src, dst, true
	}
	dst = wire.NewNodeAddress(wire.KindMAC, dstMAC)
	src = wire.NewNodeAddress(wire.KindMAC, srcMAC)
	return src, dst, true
}

// ipAddresses parses the source/destination address out of an IPv4 or
// IPv6 packet's header, detected by the version nibble.
func ipAddresses(data []byte) (src, dst wire.NodeAddress, ok bool) {
	if len(data) < 1 {
		return wire.NodeAddress{}, wire.NodeAddress{}, false
	}
	switch data[0] >> 4 {
	case 4:
		if len(data) < 20 {
			return wire.NodeAddress{}, wire.NodeAddress{}, false
		}
		src = wire.NewNodeAddress(wire.KindIPv4, data[12:16])
		dst = wire.NewNodeAddress(wire.KindIPv4, data[16:20])
		return src, dst, true
	case 6:
		if len(data) < 40 {
			return wire.NodeAddress{}, wire.NodeAddress{}, false
		}
		src = wire.NewNodeAddress(wire.KindIPv6, data[8:24])
		dst = wire.NewNodeAddress(wire.KindIPv6, data[24:40])
		return src, dst, true
	}
	return wire.NodeAddress{}, wire.NodeAddress{}, false
}
