// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package cryptosession

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// EphemeralKeyPair is a single-use X25519 key pair generated per handshake
// (spec.md §4.2: "Init carrying our ephemeral public key").
type EphemeralKeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// NewEphemeralKeyPair generates a fresh X25519 key pair.
func NewEphemeralKeyPair() (*EphemeralKeyPair, error) {
	kp := new(EphemeralKeyPair)
	if _, err := io.ReadFull(rand.Reader, kp.Private[:]); err != nil {
		return nil, err
	}
	curve25519.ScalarBaseMult(&kp.Public, &kp.Private)
	return kp, nil
}

// sharedSecretECDH computes the X25519 Diffie-Hellman shared point between
// our ephemeral private key and the peer's ephemeral public key, the way
// the teacher's key_exchange.go computes an Ed25519-based shared secret,
// generalized to the curve this spec calls for.
func sharedSecretECDH(priv, peerPub *[32]byte) ([]byte, error) {
	secret, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return nil, err
	}
	return secret, nil
}

// deriveMasterSecret produces the root key material for a session: either
// the X25519 ECDH output (when trusted/ephemeral keys are in play) or a
// hash of the shared password (spec.md §4.2: "derive the session key from
// the shared password or from the X25519 ECDH ... config decides").
func deriveMasterSecret(password string, ecdh []byte) []byte {
	if len(ecdh) > 0 {
		return ecdh
	}
	sum := sha256.Sum256([]byte(password))
	return sum[:]
}

// directionalKeys expands a master secret into two independent AEAD keys,
// one per direction, labeled by handshake role so both peers agree which
// key seals which direction without exchanging anything further.
type directionalKeys struct {
	tx []byte
	rx []byte
}

// deriveDirectionalKeys expands a master secret into two independent AEAD
// keys. The salt is always built as initiatorNonce||responderNonce so both
// sides of the handshake compute the identical salt regardless of which
// one is doing the computing; `initiator` only selects which of the two
// resulting keys becomes this side's tx key.
func deriveDirectionalKeys(master, initiatorNonce, responderNonce []byte, initiator bool, keySize int) (*directionalKeys, error) {
	salt := append(append([]byte{}, initiatorNonce...), responderNonce...)
	initToResp := make([]byte, keySize)
	respToInit := make([]byte, keySize)

	r1 := hkdf.New(sha256.New, master, salt, []byte("vpncloud initiator->responder"))
	if _, err := io.ReadFull(r1, initToResp); err != nil {
		return nil, err
	}
	r2 := hkdf.New(sha256.New, master, salt, []byte("vpncloud responder->initiator"))
	if _, err := io.ReadFull(r2, respToInit); err != nil {
		return nil, err
	}

	if initiator {
		return &directionalKeys{tx: initToResp, rx: respToInit}, nil
	}
	return &directionalKeys{tx: respToInit, rx: initToResp}, nil
}
