package session

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/vorobalek/whisper-go/crypto/keys"
)

// ErrDecryptFailed is returned when an AEAD frame fails authentication.
// A failed frame is a hard error for that frame; the channel stays usable.
var ErrDecryptFailed = errors.New("decrypt failed")

// Channel is the attempt-scoped secure channel between two sagas. Each side
// generates a fresh ephemeral X25519 pair per attempt; once the peer's
// ephemeral public key arrives, the shared ChaCha20-Poly1305 key is derived
// exactly once. The key lives only in memory and dies with the attempt.
type Channel struct {
	ephemeral *keys.X25519KeyPair
	aead      cipher.AEAD
}

// NewChannel generates the ephemeral key pair for a fresh attempt.
func NewChannel() (*Channel, error) {
	eph, err := keys.GenerateX25519KeyPair()
	if err != nil {
		return nil, err
	}
	return &Channel{ephemeral: eph}, nil
}

// PublicKey returns the ephemeral public key bytes sent in signaling
// payloads for this attempt.
func (c *Channel) PublicKey() []byte {
	return c.ephemeral.PublicBytesKey()
}

// Derive computes the shared symmetric key from the peer's ephemeral public
// key. It is an error to derive twice for the same attempt.
func (c *Channel) Derive(peerEphemeralPub []byte) error {
	if c.aead != nil {
		return fmt.Errorf("shared key already derived for this attempt")
	}
	shared, err := c.ephemeral.DeriveSharedSecret(peerEphemeralPub)
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.New(shared)
	if err != nil {
		return fmt.Errorf("failed to create AEAD: %w", err)
	}
	c.aead = aead
	return nil
}

// Ready reports whether the shared key has been derived.
func (c *Channel) Ready() bool {
	return c.aead != nil
}

// Encrypt seals plaintext into a nonce||ciphertext frame with a fresh
// random nonce.
func (c *Channel) Encrypt(plaintext []byte) ([]byte, error) {
	if c.aead == nil {
		return nil, fmt.Errorf("shared key not derived")
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := c.aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, len(nonce)+len(ciphertext))
	copy(out, nonce)
	copy(out[len(nonce):], ciphertext)
	return out, nil
}

// Decrypt opens a nonce||ciphertext frame produced by the peer's Encrypt.
func (c *Channel) Decrypt(data []byte) ([]byte, error) {
	if c.aead == nil {
		return nil, fmt.Errorf("shared key not derived")
	}
	if len(data) < chacha20poly1305.NonceSize {
		return nil, ErrDecryptFailed
	}

	nonce := data[:chacha20poly1305.NonceSize]
	ciphertext := data[chacha20poly1305.NonceSize:]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
