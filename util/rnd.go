// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package util

import (
	"crypto/rand"
)

// RndArray fills a buffer with random content
func RndArray(b []byte) {
	rand.Read(b)
}

// NewRndArray creates a new buffer of given size; filled with random content.
func NewRndArray(size int) []byte {
	b := make([]byte, size)
	rand.Read(b)
	return b
}
