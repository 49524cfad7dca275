// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package cryptosession

import "fmt"

// Errors surfaced only through statistics counters (spec.md §4.2): a
// single bad datagram never tears down an established session.
var (
	ErrBadMethod     = fmt.Errorf("cryptosession: unknown crypto method")
	ErrAuthFailed    = fmt.Errorf("cryptosession: authentication failed")
	ErrReplay        = fmt.Errorf("cryptosession: replayed or stale nonce")
	ErrTruncated     = fmt.Errorf("cryptosession: message truncated")
	ErrNonceExhausted = fmt.Errorf("cryptosession: nonce counter exhausted, rekey required")
	ErrWrongState    = fmt.Errorf("cryptosession: handshake message received in wrong state")
	ErrNotEstablished = fmt.Errorf("cryptosession: session not established")
)
