package session

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"hash"
	"io"
	"time"
)

// HandshakeTimeout bounds the challenge/response exchange (§4.2: "3 s").
const HandshakeTimeout = 3 * time.Second

// nonceSize is the size of the listener's random challenge.
const nonceSize = 16

// Digest constructs the hash used for the challenge/response. The
// reference system uses MD5 (§9 "Digest choice"); it is not
// security-critical here because the passphrase is never transmitted and
// the nonce prevents replay within a session, but the wire size is the
// only hard constraint so a stronger digest may be substituted.
type Digest func() hash.Hash

// DefaultDigest is crypto/md5, matching the reference system.
var DefaultDigest Digest = md5.New

// ErrAuthFailed is returned by the listener when the response digest does
// not match.
var ErrAuthFailed = errors.New("session: handshake authentication failed")

type deadliner interface {
	SetDeadline(time.Time) error
}

// ListenerHandshake performs the listener side of §4.2: send a random
// nonce, verify the connecting endpoint's digest(passphrase || nonce).
func ListenerHandshake(rw io.ReadWriter, passphrase string, digest Digest) error {
	if digest == nil {
		digest = DefaultDigest
	}
	if d, ok := rw.(deadliner); ok {
		_ = d.SetDeadline(time.Now().Add(HandshakeTimeout))
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("session: generate nonce: %w", err)
	}
	if err := writeFramed(rw, nonce); err != nil {
		return fmt.Errorf("session: send challenge: %w", err)
	}

	resp, err := readFramed(rw)
	if err != nil {
		return fmt.Errorf("session: read response: %w", err)
	}

	want := digestOf(digest, passphrase, nonce)
	ok := len(resp) == len(want) && subtle.ConstantTimeCompare(resp, want) == 1
	if !ok {
		_ = writeFramed(rw, []byte{0x00})
		return ErrAuthFailed
	}
	return writeFramed(rw, []byte{0x01})
}

// ConnectingHandshake performs the connecting side of §4.2: receive the
// nonce, reply with digest(passphrase || nonce), and wait for the
// listener's ok/fail byte.
func ConnectingHandshake(rw io.ReadWriter, passphrase string, digest Digest) error {
	if digest == nil {
		digest = DefaultDigest
	}
	if d, ok := rw.(deadliner); ok {
		_ = d.SetDeadline(time.Now().Add(HandshakeTimeout))
	}

	nonce, err := readFramed(rw)
	if err != nil {
		return fmt.Errorf("session: read challenge: %w", err)
	}

	resp := digestOf(digest, passphrase, nonce)
	if err := writeFramed(rw, resp); err != nil {
		return fmt.Errorf("session: send response: %w", err)
	}

	result, err := readFramed(rw)
	if err != nil {
		return fmt.Errorf("session: read result: %w", err)
	}
	if len(result) != 1 || result[0] != 0x01 {
		return ErrAuthFailed
	}
	return nil
}

func digestOf(digest Digest, passphrase string, nonce []byte) []byte {
	h := digest()
	h.Write([]byte(passphrase))
	h.Write(nonce)
	return h.Sum(nil)
}
