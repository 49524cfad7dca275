// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package cryptosession

import (
	"bytes"
	"testing"
)

func handshake(t *testing.T, password string) (initiator, responder *Session) {
	t.Helper()
	table := NewMethodTable([]string{"chacha20"})
	initiator = NewSession(table, password)
	responder = NewSession(table, password)

	initMsg, err := initiator.BeginInitiate()
	if err != nil {
		t.Fatalf("BeginInitiate: %v", err)
	}
	respMsg, err := responder.HandleInit(initMsg)
	if err != nil {
		t.Fatalf("HandleInit: %v", err)
	}
	if err := initiator.HandleResponse(respMsg); err != nil {
		t.Fatalf("HandleResponse: %v", err)
	}
	if !initiator.Established() || !responder.Established() {
		t.Fatal("both sides should be established")
	}
	return initiator, responder
}

func TestSealOpenRoundtrip(t *testing.T) {
	a, b := handshake(t, "shared-secret")
	ad := []byte("header-as-associated-data")

	ciphertext, seq, err := a.Seal([]byte("hello"), ad)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	plain, err := b.Open(seq, ciphertext, ad)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(plain, []byte("hello")) {
		t.Fatalf("plaintext mismatch: %q", plain)
	}
}

func TestSealSequenceIncreases(t *testing.T) {
	a, b := handshake(t, "shared-secret")
	ad := []byte("ad")

	_, seq1, err := a.Seal([]byte("one"), ad)
	if err != nil {
		t.Fatal(err)
	}
	_, seq2, err := a.Seal([]byte("two"), ad)
	if err != nil {
		t.Fatal(err)
	}
	if seq2 <= seq1 {
		t.Fatalf("expected increasing sequence, got %d then %d", seq1, seq2)
	}
	_ = b
}

func TestOpenRejectsReplay(t *testing.T) {
	a, b := handshake(t, "shared-secret")
	ad := []byte("ad")

	ciphertext, seq, err := a.Seal([]byte("once"), ad)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Open(seq, ciphertext, ad); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := b.Open(seq, ciphertext, ad); err != ErrReplay {
		t.Fatalf("expected ErrReplay on replay, got %v", err)
	}
}

func TestOpenRejectsTamperedAD(t *testing.T) {
	a, b := handshake(t, "shared-secret")

	ciphertext, seq, err := a.Seal([]byte("payload"), []byte("good-ad"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Open(seq, ciphertext, []byte("bad-ad")); err != ErrAuthFailed {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestPlaintextMethodSkipsCrypto(t *testing.T) {
	table := NewMethodTable(nil)
	a := NewSession(table, "")
	b := NewSession(table, "")

	initMsg, err := a.BeginInitiate()
	if err != nil {
		t.Fatal(err)
	}
	if initMsg.Method != 0 {
		t.Fatalf("expected plaintext method 0, got %d", initMsg.Method)
	}
	respMsg, err := b.HandleInit(initMsg)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.HandleResponse(respMsg); err != nil {
		t.Fatal(err)
	}

	ciphertext, seq, err := a.Seal([]byte("frame"), []byte("ad"))
	if err != nil {
		t.Fatal(err)
	}
	if seq != 0 {
		t.Fatalf("plaintext seq should be 0, got %d", seq)
	}
	plain, err := b.Open(seq, ciphertext, []byte("ad"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plain, []byte("frame")) {
		t.Fatalf("plaintext roundtrip mismatch: %q", plain)
	}
}

func TestMethodMatchesNegotiation(t *testing.T) {
	a, b := handshake(t, "shared-secret")
	if a.Method() != b.Method() {
		t.Fatalf("negotiated methods differ: %d != %d", a.Method(), b.Method())
	}
	if a.Method() != 1 {
		t.Fatalf("expected method 1 (chacha20), got %d", a.Method())
	}
}

func TestSealBeforeEstablishedFails(t *testing.T) {
	table := NewMethodTable([]string{"chacha20"})
	s := NewSession(table, "pw")
	if _, _, err := s.Seal([]byte("x"), []byte("ad")); err != ErrNotEstablished {
		t.Fatalf("expected ErrNotEstablished, got %v", err)
	}
}
