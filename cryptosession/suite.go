// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package cryptosession

import (
	"crypto/aes"
	"crypto/cipher"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// suite describes one AEAD algorithm offered in the negotiated list.
type suite struct {
	name    string
	keySize int
	newAEAD func(key []byte) (cipher.AEAD, error)
}

var knownSuites = map[string]suite{
	"chacha20": {
		name:    "chacha20",
		keySize: chacha20poly1305.KeySize,
		newAEAD: chacha20poly1305.New,
	},
	"aes256": {
		name:    "aes256",
		keySize: 32,
		newAEAD: newAESGCM,
	},
	"aes128": {
		name:    "aes128",
		keySize: 16,
		newAEAD: newAESGCM,
	},
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// MethodTable maps wire crypto_method bytes to AEAD suites, built from the
// configured algorithm list. Method 0 is always plaintext (spec.md §4.1);
// methods 1..N index into the list in order, so two peers configured with
// the same `crypto.algorithms` ordering negotiate compatibly.
type MethodTable struct {
	names []string
}

// NewMethodTable builds a table from an ordered algorithm name list
// (config.CryptoConfig.Algorithms). Unknown names are kept positionally
// but will fail to resolve to a suite if ever selected.
func NewMethodTable(algorithms []string) *MethodTable {
	names := make([]string, len(algorithms))
	for i, n := range algorithms {
		names[i] = strings.ToLower(n)
	}
	return &MethodTable{names: names}
}

// IsPlain reports whether method 0 (always plaintext) was selected.
func (t *MethodTable) IsPlain(method uint8) bool {
	return method == 0
}

// Resolve returns the suite for a non-zero method byte.
func (t *MethodTable) Resolve(method uint8) (suite, error) {
	if method == 0 {
		return suite{name: "plain"}, nil
	}
	idx := int(method) - 1
	if idx < 0 || idx >= len(t.names) {
		return suite{}, ErrBadMethod
	}
	s, ok := knownSuites[t.names[idx]]
	if !ok {
		return suite{}, ErrBadMethod
	}
	return s, nil
}

// MethodFor returns the wire method byte for the named suite, or
// ErrBadMethod if that name is not among the configured algorithms.
func (t *MethodTable) MethodFor(name string) (uint8, error) {
	name = strings.ToLower(name)
	for i, n := range t.names {
		if n == name {
			return uint8(i + 1), nil
		}
	}
	return 0, ErrBadMethod
}

// Preferred returns the wire method byte for the first configured
// algorithm, or 0 (plaintext) if none are configured.
func (t *MethodTable) Preferred() uint8 {
	if len(t.names) == 0 {
		return 0
	}
	return 1
}
