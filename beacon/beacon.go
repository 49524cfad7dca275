// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

// Package beacon implements the out-of-band endpoint beacon (spec.md
// §4.5): an AEAD-sealed, base62-encoded list of a node's public UDP
// endpoints, published to and read from a file path or a piped shell
// command so it can be embedded in arbitrary text (a pastebin, DNS TXT
// record, whatever the operator wires up out of band).
package beacon

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/wisdark/vpncloud/util"
	"github.com/wisdark/vpncloud/wire"
)

const (
	sentinelBegin = "-----BEGIN VPNCLOUD BEACON-----"
	sentinelEnd   = "-----END VPNCLOUD BEACON-----"
	version       = 1
)

// ErrMalformed is returned (and otherwise just skipped by Parse) for a
// block that fails to decode.
var ErrMalformed = errors.New("beacon: malformed block")

// body is the beacon's plaintext payload (spec.md §4.5: "version(1) |
// count(1) | socket_address*").
type body struct {
	Version byte
	Count   byte
	Addrs   []wire.SocketAddr `size:"Count"`
}

// deriveKey turns a beacon_password into a fixed-size AEAD key via a
// fixed KDF, the same sha256-of-password technique cryptosession falls
// back to when no ECDH material is available (spec.md §4.5, §4.2).
func deriveKey(password string) [32]byte {
	return sha256.Sum256([]byte(password))
}

// Seal encodes and AEAD-seals a list of public endpoints, returning the
// base62 blob on its own line between a BEGIN marker line and an END
// marker line so it embeds cleanly in arbitrary text (spec.md §4.5).
func Seal(addrs []wire.SocketAddr, password string) (string, error) {
	if len(addrs) > 255 {
		return "", fmt.Errorf("beacon: too many addresses (%d > 255)", len(addrs))
	}
	b := body{Version: version, Count: byte(len(addrs)), Addrs: addrs}
	plain, err := wire.Marshal(&b)
	if err != nil {
		return "", err
	}
	key := deriveKey(password)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plain, nil)
	return sentinelBegin + "\n" + encodeBase62(sealed) + "\n" + sentinelEnd, nil
}

// openBlock decrypts and decodes one base62 block (the text strictly
// between a BEGIN/END marker pair) into its address list.
func openBlock(block string, password string) ([]wire.SocketAddr, error) {
	raw, err := decodeBase62(strings.TrimSpace(block))
	if err != nil {
		return nil, ErrMalformed
	}
	key := deriveKey(password)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize() {
		return nil, ErrMalformed
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrMalformed
	}
	var b body
	if err := wire.Unmarshal(&b, plain); err != nil {
		return nil, ErrMalformed
	}
	return b.Addrs, nil
}

// Parse scans text for every BEGIN/END bracketed block and decodes it,
// skipping malformed blocks rather than failing the whole scan (spec.md
// §4.5: "malformed blocks are skipped").
func Parse(text string, password string) []wire.SocketAddr {
	var out []wire.SocketAddr
	rest := text
	for {
		start := strings.Index(rest, sentinelBegin)
		if start < 0 {
			break
		}
		rest = rest[start+len(sentinelBegin):]
		end := strings.Index(rest, sentinelEnd)
		if end < 0 {
			break
		}
		block := rest[:end]
		rest = rest[end+len(sentinelEnd):]
		addrs, err := openBlock(block, password)
		if err != nil {
			continue
		}
		out = append(out, addrs...)
	}
	return out
}

// Store publishes the sealed beacon to dest: a filesystem path written
// atomically via temp-file + rename, or, if dest begins with `|`, a
// shell command line whose stdin receives the encoded text (spec.md
// §4.5). The `|command` form executes a shell; spec.md §9 documents this
// as something to refuse post-privilege-drop when undesired.
func Store(dest string, addrs []wire.SocketAddr, password string) error {
	text, err := Seal(addrs, password)
	if err != nil {
		return err
	}
	if strings.HasPrefix(dest, "|") {
		return runPipe(dest[1:], []byte(text))
	}
	return writeAtomic(dest, []byte(text))
}

// Load ingests a beacon from src, the mirror of Store: a path to read, or
// a `|command` whose stdout is read (spec.md §4.5).
func Load(src string, password string) ([]wire.SocketAddr, error) {
	var text []byte
	var err error
	if strings.HasPrefix(src, "|") {
		text, err = runPipeOutput(src[1:])
	} else {
		text, err = os.ReadFile(src)
	}
	if err != nil {
		return nil, err
	}
	return Parse(string(text), password), nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := util.EnforceDirExists(dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".beacon-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func runPipe(command string, stdin []byte) error {
	cmd := exec.Command("sh", "-c", command)
	cmd.Stdin = bytes.NewReader(stdin)
	return cmd.Run()
}

func runPipeOutput(command string) ([]byte, error) {
	cmd := exec.Command("sh", "-c", command)
	return cmd.Output()
}
