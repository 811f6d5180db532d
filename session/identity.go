package session

import (
	"encoding/base64"
	"fmt"

	whispercrypto "github.com/vorobalek/whisper-go/crypto"
	"github.com/vorobalek/whisper-go/crypto/keys"
)

// Identity wraps the long-term signing key pair. The base64-encoded public
// key is the peer's address; the pair outlives all connections and the
// private half never leaves the process.
type Identity struct {
	keyPair   whispercrypto.KeyPair
	publicKey string
}

// NewIdentity wraps an existing signing key pair.
func NewIdentity(keyPair whispercrypto.KeyPair) (*Identity, error) {
	pk, ok := keyPair.(whispercrypto.PublicKeyed)
	if !ok {
		return nil, fmt.Errorf("%w: key pair does not expose wire bytes", whispercrypto.ErrInvalidKeyType)
	}
	return &Identity{
		keyPair:   keyPair,
		publicKey: base64.StdEncoding.EncodeToString(pk.PublicBytesKey()),
	}, nil
}

// GenerateIdentity creates a fresh Ed25519 identity.
func GenerateIdentity() (*Identity, error) {
	kp, err := keys.GenerateEd25519KeyPair()
	if err != nil {
		return nil, err
	}
	return NewIdentity(kp)
}

// PublicKey returns the base64 public key that serves as the local address.
func (i *Identity) PublicKey() string {
	return i.publicKey
}

// Fingerprint returns a short log-safe identifier for this identity.
func (i *Identity) Fingerprint() string {
	pk := i.keyPair.(whispercrypto.PublicKeyed)
	return keys.Fingerprint(pk.PublicBytesKey())
}

// Sign produces a detached signature over the message.
func (i *Identity) Sign(message []byte) ([]byte, error) {
	return i.keyPair.Sign(message)
}

// KeyPair exposes the underlying pair for collaborators that need it, such
// as push payload decryption.
func (i *Identity) KeyPair() whispercrypto.KeyPair {
	return i.keyPair
}
