// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package wire

import "encoding/binary"

// sipHashKey0/sipHashKey1 are the fixed 128-bit key used to derive the
// wire magic from a network name (config option `magic: hash:<name>`).
// There is no confidentiality requirement on this value: the point of
// hashing the name is collision avoidance between independently chosen
// network names, not secrecy.
const (
	sipHashKey0 = 0x0706050403020100
	sipHashKey1 = 0x0f0e0d0c0b0a0908
)

func rotl64(x uint64, b uint) uint64 {
	return (x << b) | (x >> (64 - b))
}

// sipHash24 computes SipHash-2-4 of data with the given 128-bit key.
func sipHash24(k0, k1 uint64, data []byte) uint64 {
	v0 := k0 ^ 0x736f6d6570736575
	v1 := k1 ^ 0x646f72616e646f6d
	v2 := k0 ^ 0x6c7967656e657261
	v3 := k1 ^ 0x7465646279746573

	round := func() {
		v0 += v1
		v1 = rotl64(v1, 13)
		v1 ^= v0
		v0 = rotl64(v0, 32)
		v2 += v3
		v3 = rotl64(v3, 16)
		v3 ^= v2
		v0 += v3
		v3 = rotl64(v3, 21)
		v3 ^= v0
		v2 += v1
		v1 = rotl64(v1, 17)
		v1 ^= v2
		v2 = rotl64(v2, 32)
	}

	n := len(data)
	end := n - (n % 8)
	var m uint64
	for i := 0; i < end; i += 8 {
		m = binary.LittleEndian.Uint64(data[i : i+8])
		v3 ^= m
		round()
		round()
		v0 ^= m
	}

	var last [8]byte
	copy(last[:], data[end:])
	last[7] = byte(n)
	m = binary.LittleEndian.Uint64(last[:])
	v3 ^= m
	round()
	round()
	v0 ^= m

	v2 ^= 0xff
	round()
	round()
	round()
	round()

	return v0 ^ v1 ^ v2 ^ v3
}

// SipHashMagic returns the low 32 bits of SipHash-2-4 over name, big-endian,
// as described in spec.md's `magic: hash:<name>` config option.
func SipHashMagic(name string) uint32 {
	h := sipHash24(sipHashKey0, sipHashKey1, []byte(name))
	return uint32(h)
}
