// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package beacon

import "math/big"

// base62 encodes arbitrary bytes as a big-radix integer over this
// alphabet, matching the original implementation's choice of an
// alphanumeric-only beacon encoding so the sealed blob embeds cleanly in
// arbitrary text (spec.md §4.5). No base62 codec exists anywhere in the
// retrieved corpus, so this is implemented directly against the standard
// big-radix encoding algorithm with the stdlib's math/big.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var base = big.NewInt(int64(len(alphabet)))

// encodeBase62 renders data as a base62 string. A leading-zero-byte run
// is preserved as a run of the alphabet's zero digit, mirroring how
// base58/base62 codecs commonly handle leading zero bytes.
func encodeBase62(data []byte) string {
	zeros := 0
	for zeros < len(data) && data[zeros] == 0 {
		zeros++
	}
	n := new(big.Int).SetBytes(data)
	var out []byte
	zero := alphabet[0]
	for n.Sign() > 0 {
		m := new(big.Int)
		n.DivMod(n, base, m)
		out = append(out, alphabet[m.Int64()])
	}
	for i := 0; i < zeros; i++ {
		out = append(out, zero)
	}
	// digits were produced least-significant first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

// decodeBase62 is the inverse of encodeBase62.
func decodeBase62(s string) ([]byte, error) {
	zeros := 0
	zero := alphabet[0]
	for zeros < len(s) && s[zeros] == zero {
		zeros++
	}
	n := new(big.Int)
	for i := zeros; i < len(s); i++ {
		idx := indexOf(s[i])
		if idx < 0 {
			return nil, ErrMalformed
		}
		n.Mul(n, base)
		n.Add(n, big.NewInt(int64(idx)))
	}
	body := n.Bytes()
	out := make([]byte, zeros+len(body))
	copy(out[zeros:], body)
	return out, nil
}

func indexOf(c byte) int {
	for i := 0; i < len(alphabet); i++ {
		if alphabet[i] == c {
			return i
		}
	}
	return -1
}
