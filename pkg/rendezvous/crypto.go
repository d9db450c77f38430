package rendezvous

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// deriveKey truncates/pads the passphrase's UTF-8 bytes to the cipher's
// 32-byte key size, per §6.
func deriveKey(passphrase string) [chacha20poly1305.KeySize]byte {
	var key [chacha20poly1305.KeySize]byte
	copy(key[:], passphrase)
	return key
}

// EncryptCandidateSet serialises and encrypts cs under the passphrase,
// producing the broker payload laid out in §6: a 12-byte nonce in
// plaintext followed by the ChaCha20-Poly1305 sealed candidate set.
func EncryptCandidateSet(passphrase string, cs CandidateSet) ([]byte, error) {
	plain, err := cs.plaintext()
	if err != nil {
		return nil, err
	}

	key := deriveKey(passphrase)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("rendezvous: chacha20poly1305 init: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("rendezvous: nonce generation: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plain, nil)
	return append(nonce, sealed...), nil
}

// DecryptCandidateSet reverses EncryptCandidateSet. A decryption failure
// (wrong passphrase, corrupted or hostile payload) is reported as an
// error; §4.1 and §8's "wrong passphrase" scenario require the caller to
// treat this as silent-ignore, not a fatal condition.
func DecryptCandidateSet(passphrase string, payload []byte) (CandidateSet, error) {
	key := deriveKey(passphrase)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return CandidateSet{}, fmt.Errorf("rendezvous: chacha20poly1305 init: %w", err)
	}

	if len(payload) < aead.NonceSize() {
		return CandidateSet{}, fmt.Errorf("rendezvous: payload shorter than nonce")
	}
	nonce, sealed := payload[:aead.NonceSize()], payload[aead.NonceSize():]

	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return CandidateSet{}, fmt.Errorf("rendezvous: decrypt: %w", err)
	}
	return parseCandidateSetPlaintext(plain)
}

// ServerTopic is the topic the server subscribes to and the client
// publishes on: "<name>/s".
func ServerTopic(serverName string) string {
	return serverName + "/s"
}

// ClientTopic is the topic the client subscribes to and the server
// publishes on: "<name>/c".
func ClientTopic(serverName string) string {
	return serverName + "/c"
}
