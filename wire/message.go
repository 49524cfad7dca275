// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package wire

import (
	"bytes"
	"fmt"
	"net"
)

// Message tags, the first byte of every plaintext body (spec.md §4.1).
const (
	MsgData     uint8 = 0
	MsgPeers    uint8 = 1
	MsgInit     uint8 = 2
	MsgResponse uint8 = 3
	MsgClose    uint8 = 4
)

// NodeIDSize is the length in bytes of the random per-peer identifier
// exchanged during the handshake.
const NodeIDSize = 16

// Kinds of NodeAddress (claims and forwarding-table keys).
const (
	KindMAC = iota
	KindMACVLAN
	KindIPv4
	KindIPv6
	KindIPv4Net
	KindIPv6Net
)

// SocketAddr is the wire encoding of a UDP endpoint: 1-byte family followed
// by 16 bytes of host (IPv4 addresses are IPv4-mapped IPv6, per spec.md §3)
// and a 2-byte port.
type SocketAddr struct {
	Family byte
	Host   []byte `size:"16"`
	Port   uint16 `order:"big"`
}

// NewSocketAddr builds a SocketAddr from a net.IP and port.
func NewSocketAddr(ip net.IP, port uint16) SocketAddr {
	family := byte(6)
	host := ip.To16()
	if host == nil {
		host = make([]byte, 16)
	}
	if ip4 := ip.To4(); ip4 != nil {
		family = 4
	}
	return SocketAddr{Family: family, Host: append([]byte(nil), host...), Port: port}
}

// IP returns the host portion as a net.IP.
func (s SocketAddr) IP() net.IP {
	return net.IP(append([]byte(nil), s.Host...))
}

// UDPAddr converts to a *net.UDPAddr.
func (s SocketAddr) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: s.IP(), Port: int(s.Port)}
}

func (s SocketAddr) String() string {
	return s.UDPAddr().String()
}

// Equal reports whether two socket addresses denote the same endpoint.
func (s SocketAddr) Equal(o SocketAddr) bool {
	return s.Port == o.Port && bytes.Equal(s.Host, o.Host)
}

// NodeAddress is a tagged claim/forwarding key: a MAC (+ optional VLAN) for
// L2 modes, or an IP/prefix for L3 modes (spec.md §3).
type NodeAddress struct {
	Kind byte
	Len  byte
	Data []byte `size:"Len"`
}

// NewNodeAddress builds a NodeAddress, computing Len from data.
func NewNodeAddress(kind byte, data []byte) NodeAddress {
	return NodeAddress{Kind: kind, Len: byte(len(data)), Data: append([]byte(nil), data...)}
}

// Equal reports bit-exact equality, as required by spec.md §3.
func (a NodeAddress) Equal(b NodeAddress) bool {
	return a.Kind == b.Kind && bytes.Equal(a.Data, b.Data)
}

// Key returns a value usable as a comparable map key.
func (a NodeAddress) Key() string {
	return string(append([]byte{a.Kind}, a.Data...))
}

func (a NodeAddress) String() string {
	switch a.Kind {
	case KindMAC, KindMACVLAN:
		return net.HardwareAddr(a.Data).String()
	case KindIPv4, KindIPv6, KindIPv4Net, KindIPv6Net:
		if len(a.Data) > 1 {
			return fmt.Sprintf("%s/%d", net.IP(a.Data[:len(a.Data)-1]), a.Data[len(a.Data)-1])
		}
	}
	return fmt.Sprintf("node(%d,%x)", a.Kind, a.Data)
}

// PeerInfo is one entry in a Peers gossip message: a remote endpoint and
// the node id it claims.
type PeerInfo struct {
	Addr   SocketAddr
	NodeID []byte `size:"16"`
}

// DataMsg carries a raw L2 frame or L3 packet verbatim.
type DataMsg struct {
	Tag     uint8
	Payload []byte `size:"*"`
}

// NewDataMsg wraps payload (which may be empty, for a keepalive).
func NewDataMsg(payload []byte) *DataMsg {
	return &DataMsg{Tag: MsgData, Payload: payload}
}

// PeersMsg gossips the sender's full peer list and claim set.
type PeersMsg struct {
	Tag        uint8
	PeerCount  uint16 `order:"big"`
	Peers      []PeerInfo `size:"PeerCount"`
	ClaimCount uint16     `order:"big"`
	Claims     []NodeAddress `size:"ClaimCount"`
}

// NewPeersMsg builds a Peers message from the given peers and claims.
func NewPeersMsg(peers []PeerInfo, claims []NodeAddress) *PeersMsg {
	return &PeersMsg{
		Tag:        MsgPeers,
		PeerCount:  uint16(len(peers)),
		Peers:      peers,
		ClaimCount: uint16(len(claims)),
		Claims:     claims,
	}
}

// InitMsg is handshake step 1: our ephemeral public key, a random nonce,
// and our node id (spec.md §3: "node id ... exchanged at handshake").
type InitMsg struct {
	Tag       uint8
	Method    uint8
	EphPubKey []byte `size:"32"`
	Nonce     []byte `size:"24"`
	NodeID    []byte `size:"16"`
}

// ResponseMsg is handshake step 2, symmetric in shape to InitMsg.
type ResponseMsg struct {
	Tag       uint8
	Method    uint8
	EphPubKey []byte `size:"32"`
	Nonce     []byte `size:"24"`
	NodeID    []byte `size:"16"`
}

// CloseMsg has no body; it merely signals session teardown.
type CloseMsg struct {
	Tag uint8
}

// NewCloseMsg returns the (constant) Close message.
func NewCloseMsg() *CloseMsg {
	return &CloseMsg{Tag: MsgClose}
}

// Tag reports the wire tag byte at the front of body without decoding it.
func Tag(body []byte) (uint8, error) {
	if len(body) == 0 {
		return 0, ErrTruncated
	}
	return body[0], nil
}

// DecodeBody dispatches on the leading tag byte and unmarshals the
// corresponding message body, mirroring the factory-style dispatch the
// GNUnet port uses for its message types.
func DecodeBody(body []byte) (interface{}, error) {
	tag, err := Tag(body)
	if err != nil {
		return nil, err
	}
	switch tag {
	case MsgData:
		m := new(DataMsg)
		if err := Unmarshal(m, body); err != nil {
			return nil, err
		}
		return m, nil
	case MsgPeers:
		m := new(PeersMsg)
		if err := Unmarshal(m, body); err != nil {
			return nil, err
		}
		return m, nil
	case MsgInit:
		m := new(InitMsg)
		if err := Unmarshal(m, body); err != nil {
			return nil, err
		}
		return m, nil
	case MsgResponse:
		m := new(ResponseMsg)
		if err := Unmarshal(m, body); err != nil {
			return nil, err
		}
		return m, nil
	case MsgClose:
		m := new(CloseMsg)
		if err := Unmarshal(m, body); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("wire: unknown message tag %d", tag)
	}
}
