// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package wire

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// HeaderSize is the fixed size of every datagram's header.
const HeaderSize = 8

// FlagEncrypted marks a datagram body as AEAD-sealed.
const FlagEncrypted = 1 << 0

// Header is the 8-byte prefix of every UDP datagram:
// magic(4) | crypto_method(1) | flags(1) | reserved(2)
type Header struct {
	Magic  uint32 `order:"big"`
	Method uint8
	Flags  uint8
	_      uint16 `order:"big"` // reserved
}

var (
	// ErrBadMagic describes a datagram whose magic tag does not match ours;
	// nothing in this package returns it (DecodeHeader does not check the magic).
	ErrBadMagic = errors.New("wire: bad magic")
	// ErrTruncated is returned when a datagram is shorter than the header.
	ErrTruncated = errors.New("wire: truncated datagram")
)

// EncodeHeader writes the header into the first HeaderSize bytes of buf.
func EncodeHeader(buf []byte, magic uint32, method uint8, encrypted bool) {
	binary.BigEndian.PutUint32(buf[0:4], magic)
	buf[4] = method
	buf[5] = 0
	if encrypted {
		buf[5] |= FlagEncrypted
	}
	buf[6] = 0
	buf[7] = 0
}

// DecodeHeader reads a header from the start of buf. It does not validate
// the magic; callers compare against their own expected value.
func DecodeHeader(buf []byte) (magic uint32, method uint8, encrypted bool, err error) {
	if len(buf) < HeaderSize {
		err = ErrTruncated
		return
	}
	magic = binary.BigEndian.Uint32(buf[0:4])
	method = buf[4]
	encrypted = buf[5]&FlagEncrypted != 0
	return
}

// ParseMagic turns a config `magic` option into its 4-byte wire value.
// The value is either "hash:<name>", whose tag is the low 32 bits of
// SipHash-2-4 over <name> with a fixed key, or 8 hex digits taken literally.
func ParseMagic(s string) (uint32, error) {
	if strings.HasPrefix(s, "hash:") {
		return SipHashMagic(s[len("hash:"):]), nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 4 {
		return 0, fmt.Errorf("wire: invalid magic %q: want 8 hex digits or hash:<name>", s)
	}
	return binary.BigEndian.Uint32(b), nil
}
