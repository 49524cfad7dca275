// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package cryptosession

import (
	"crypto/cipher"

	"github.com/wisdark/vpncloud/util"
	"github.com/wisdark/vpncloud/wire"
)

// State is a Session's position in the handshake/teardown state machine
// (spec.md §4.2).
type State int

// Recognized states.
const (
	StateNone State = iota
	StateInitiating
	StateResponding
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateInitiating:
		return "initiating"
	case StateResponding:
		return "responding"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session drives one peer's crypto state: handshake, AEAD seal/open,
// nonce discipline and replay protection. A Session is not safe for
// concurrent use; the single-threaded poll loop owns it exclusively.
type Session struct {
	table    *MethodTable
	password string

	state State

	localEph  *EphemeralKeyPair
	remoteEph [32]byte
	localNonce  [24]byte
	remoteNonce [24]byte

	method uint8
	tx     cipher.AEAD
	rx     cipher.AEAD

	txSeq   nonceCounter
	rxWin   replayWindow
	initiator bool
}

// NewSession creates a fresh, unestablished session for one peer.
func NewSession(table *MethodTable, password string) *Session {
	return &Session{table: table, password: password, state: StateNone}
}

// State returns the session's current state.
func (s *Session) State() State { return s.state }

// Established reports whether the session can seal/open application data.
func (s *Session) Established() bool { return s.state == StateEstablished }

// NeedsRekey reports whether the send counter has exhausted its 24-bit
// range and a fresh Init should be sent (spec.md §4.2).
func (s *Session) NeedsRekey() bool { return s.txSeq.Exhausted() }

// BeginInitiate transitions None → Initiating and returns the Init
// message to send (spec.md §4.2: "we send Init carrying our ephemeral
// public key and a random nonce").
func (s *Session) BeginInitiate() (wire.InitMsg, error) {
	eph, err := NewEphemeralKeyPair()
	if err != nil {
		return wire.InitMsg{}, err
	}
	s.localEph = eph
	s.initiator = true
	util.RndArray(s.localNonce[:])
	s.state = StateInitiating
	return wire.InitMsg{
		Tag:       wire.MsgInit,
		Method:    s.table.Preferred(),
		EphPubKey: append([]byte{}, eph.Public[:]...),
		Nonce:     append([]byte{}, s.localNonce[:]...),
	}, nil
}

// HandleInit handles a peer's Init in state None: it derives the session
// keys, moves straight to Established and returns the Response to send
// back. StateResponding is never entered.
func (s *Session) HandleInit(msg wire.InitMsg) (wire.ResponseMsg, error) {
	if s.state != StateNone {
		return wire.ResponseMsg{}, ErrWrongState
	}
	if len(msg.EphPubKey) != 32 || len(msg.Nonce) != 24 {
		return wire.ResponseMsg{}, ErrTruncated
	}
	eph, err := NewEphemeralKeyPair()
	if err != nil {
		return wire.ResponseMsg{}, err
	}
	s.localEph = eph
	s.initiator = false
	copy(s.remoteEph[:], msg.EphPubKey)
	copy(s.remoteNonce[:], msg.Nonce)
	util.RndArray(s.localNonce[:])
	s.method = msg.Method

	if err := s.establish(s.remoteNonce[:], s.localNonce[:]); err != nil {
		return wire.ResponseMsg{}, err
	}
	s.state = StateEstablished
	return wire.ResponseMsg{
		Tag:       wire.MsgResponse,
		Method:    s.method,
		EphPubKey: append([]byte{}, eph.Public[:]...),
		Nonce:     append([]byte{}, s.localNonce[:]...),
	}, nil
}

// HandleResponse transitions Initiating → Established on a peer's
// Response.
func (s *Session) HandleResponse(msg wire.ResponseMsg) error {
	if s.state != StateInitiating {
		return ErrWrongState
	}
	if len(msg.EphPubKey) != 32 || len(msg.Nonce) != 24 {
		return ErrTruncated
	}
	copy(s.remoteEph[:], msg.EphPubKey)
	copy(s.remoteNonce[:], msg.Nonce)
	s.method = msg.Method

	if err := s.establish(s.localNonce[:], s.remoteNonce[:]); err != nil {
		return err
	}
	s.state = StateEstablished
	return nil
}

// establish derives the directional AEAD keys. initiatorNonce/
// responderNonce must be passed in that canonical order regardless of
// which side is computing, so both peers agree on the HKDF salt.
func (s *Session) establish(initiatorNonce, responderNonce []byte) error {
	su, err := s.table.Resolve(s.method)
	if err != nil {
		return err
	}
	if s.table.IsPlain(s.method) {
		s.state = StateEstablished
		return nil
	}
	var ecdh []byte
	if s.password == "" {
		var err error
		ecdh, err = sharedSecretECDH(&s.localEph.Private, &s.remoteEph)
		if err != nil {
			return err
		}
	}
	master := deriveMasterSecret(s.password, ecdh)
	keys, err := deriveDirectionalKeys(master, initiatorNonce, responderNonce, s.initiator, su.keySize)
	if err != nil {
		return err
	}
	if s.tx, err = su.newAEAD(keys.tx); err != nil {
		return err
	}
	if s.rx, err = su.newAEAD(keys.rx); err != nil {
		return err
	}
	return nil
}

// Method returns the negotiated crypto_method byte, for the wire header.
func (s *Session) Method() uint8 { return s.method }

// Close transitions to Closed; no further Seal/Open calls succeed.
func (s *Session) Close() { s.state = StateClosed }

// Seal encrypts (or, for the plaintext method, simply copies) an outbound
// payload. associatedData is the 8-byte wire header (spec.md §4.1: "AEAD
// ciphertext+tag whose associated data is the header"). The returned seq
// is the 24-bit counter this message was sealed under; the caller must
// carry it on the wire (as the 3-byte sequence prefix ahead of the
// ciphertext, see cloud.sendSealed) since UDP delivers datagrams out of
// order and Open needs it back.
func (s *Session) Seal(plaintext, associatedData []byte) (ciphertext []byte, seq uint32, err error) {
	if s.state != StateEstablished {
		return nil, 0, ErrNotEstablished
	}
	if s.table.IsPlain(s.method) {
		return append([]byte{}, plaintext...), 0, nil
	}
	seq, err = s.txSeq.Next()
	if err != nil {
		return nil, 0, err
	}
	nonce := expandNonce(seq)
	out := s.tx.Seal(nil, nonce, plaintext, associatedData)
	return out, seq, nil
}

// Open decrypts and authenticates an inbound payload sealed under
// sequence number seq, applying the sliding anti-replay window.
func (s *Session) Open(seq uint32, ciphertext, associatedData []byte) ([]byte, error) {
	if s.state != StateEstablished {
		return nil, ErrNotEstablished
	}
	if s.table.IsPlain(s.method) {
		return append([]byte{}, ciphertext...), nil
	}
	if !s.rxWin.Check(seq) {
		return nil, ErrReplay
	}
	nonce := expandNonce(seq)
	plain, err := s.rx.Open(nil, nonce, ciphertext, associatedData)
	if err != nil {
		return nil, ErrAuthFailed
	}
	s.rxWin.Mark(seq)
	return plain, nil
}
