// Whisper - trustless peer-to-peer signaling and messaging
// Copyright (C) 2025 vorobalek
//
// This file is part of Whisper.
//
// Whisper is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Whisper is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Whisper. If not, see <https://www.gnu.org/licenses/>.

package keys

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/cloudflare/circl/hpke"

	whispercrypto "github.com/vorobalek/whisper-go/crypto"
)

// X25519KeyPair holds an X25519 private key and its corresponding public key.
// Connection attempts generate one of these per saga attempt; it is never
// persisted and never reused across attempts.
type X25519KeyPair struct {
	privateKey *ecdh.PrivateKey
	publicKey  *ecdh.PublicKey
	id         string
}

// GenerateX25519KeyPair generates a new ephemeral X25519 key pair.
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	privateKey, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral ECDH key: %w", err)
	}
	publicKey := privateKey.PublicKey()

	// Generate ID from public key hash
	pubKeyBytes := publicKey.Bytes()
	hash := sha256.Sum256(pubKeyBytes)
	id := hex.EncodeToString(hash[:8])

	return &X25519KeyPair{
		privateKey: privateKey,
		publicKey:  publicKey,
		id:         id,
	}, nil
}

// PublicKey returns the public key
func (kp *X25519KeyPair) PublicKey() crypto.PublicKey {
	return kp.publicKey
}

// PublicBytesKey returns the public key bytes as sent on the wire
func (kp *X25519KeyPair) PublicBytesKey() []byte {
	return kp.publicKey.Bytes()
}

// PrivateKey returns the private key
func (kp *X25519KeyPair) PrivateKey() crypto.PrivateKey {
	return kp.privateKey
}

// Type returns the key type
func (kp *X25519KeyPair) Type() whispercrypto.KeyType {
	return whispercrypto.KeyTypeX25519
}

// ID returns a unique identifier for this key pair
func (kp *X25519KeyPair) ID() string {
	return kp.id
}

// Sign returns an error as X25519 is a key agreement algorithm.
// For digital signatures, use Ed25519 keys instead.
func (kp *X25519KeyPair) Sign(message []byte) ([]byte, error) {
	return nil, whispercrypto.ErrSignNotSupported
}

// Verify returns an error as X25519 is a key agreement algorithm.
func (kp *X25519KeyPair) Verify(message, signature []byte) error {
	return whispercrypto.ErrVerifyNotSupported
}

// DeriveSharedSecret computes a 32-byte symmetric key from an X25519 ECDH
// exchange. Given our private key and the peer's public key bytes, it returns
// SHA-256 of the raw 32-byte ECDH shared secret. Both peers derive the same
// key for the same attempt.
func (kp *X25519KeyPair) DeriveSharedSecret(peerPubBytes []byte) ([]byte, error) {
	curve := ecdh.X25519()
	peerPub, err := curve.NewPublicKey(peerPubBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse peer public key: %w", err)
	}

	shared, err := checkedSecret(kp.privateKey.ECDH(peerPub))
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}

	sum := sha256.Sum256(shared)
	return sum[:], nil
}

// checkedSecret rejects low-order or identity results of an X25519 exchange.
func checkedSecret(dh []byte, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	var zero [32]byte
	if subtle.ConstantTimeCompare(dh, zero[:]) == 1 {
		return nil, fmt.Errorf("x25519: low-order or identity point")
	}
	return dh, nil
}

// ConvertEd25519PubToX25519 turns an Ed25519 public key into the X25519 public key.
func ConvertEd25519PubToX25519(pubKey crypto.PublicKey) ([]byte, error) {
	edPub, ok := pubKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("expected ed25519.PublicKey, got %T", pubKey)
	}

	if l := len(edPub); l != ed25519.PublicKeySize {
		return nil, fmt.Errorf("bad Ed25519 pub length: %d", l)
	}
	// Decompress Ed25519 point
	P, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return nil, fmt.Errorf("invalid Ed25519 pub: %w", err)
	}
	return P.BytesMontgomery(), nil
}

// ConvertEd25519PrivToX25519 turns an Ed25519 private key into the X25519 scalar.
func ConvertEd25519PrivToX25519(privKey crypto.PrivateKey) ([]byte, error) {
	edPriv, ok := privKey.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("expected ed25519.PrivateKey, got %T", privKey)
	}

	if l := len(edPriv); l != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("bad Ed25519 priv length: %d", l)
	}
	seed := edPriv.Seed()
	h := sha512.Sum512(seed) // RFC8032 §5.1.5
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64

	var xPriv [32]byte
	copy(xPriv[:], h[:32])
	return xPriv[:], nil
}

// hpkeSuite is the fixed HPKE ciphersuite used to seal offline payloads to a
// peer's long-term key. Both ends must agree on it.
func hpkeSuite() hpke.Suite {
	return hpke.NewSuite(
		hpke.KEM_X25519_HKDF_SHA256,
		hpke.KDF_HKDF_SHA256,
		hpke.AEAD_ChaCha20Poly1305,
	)
}

// HPKESealToEd25519Peer seals plaintext to the holder of an Ed25519 key:
// the key is converted to X25519 and the payload is encrypted in HPKE base
// mode. Output packet layout is enc||ciphertext.
func HPKESealToEd25519Peer(edPeerPub crypto.PublicKey, plaintext, info []byte) ([]byte, error) {
	peerX, err := ConvertEd25519PubToX25519(edPeerPub)
	if err != nil {
		return nil, err
	}

	kem := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	rp, err := kem.UnmarshalBinaryPublicKey(peerX)
	if err != nil {
		return nil, fmt.Errorf("hpke unmarshal pub: %w", err)
	}

	sender, err := hpkeSuite().NewSender(rp, info)
	if err != nil {
		return nil, fmt.Errorf("hpke new sender: %w", err)
	}

	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("hpke setup: %w", err)
	}

	ct, err := sealer.Seal(plaintext, info)
	if err != nil {
		return nil, fmt.Errorf("hpke seal: %w", err)
	}

	return append(append([]byte{}, enc...), ct...), nil
}

// HPKEOpenWithEd25519Priv reverses HPKESealToEd25519Peer. It converts the
// recipient's Ed25519 private key to the X25519 scalar, parses the
// enc||ciphertext packet, and opens it.
func HPKEOpenWithEd25519Priv(privateKey crypto.PrivateKey, packet, info []byte) ([]byte, error) {
	const encLen = 32 // X25519 KEM enc length
	if len(packet) < encLen {
		return nil, fmt.Errorf("packet too short: %d", len(packet))
	}
	enc := packet[:encLen]
	ct := packet[encLen:]

	xPrivBytes, err := ConvertEd25519PrivToX25519(privateKey)
	if err != nil {
		return nil, err
	}

	kem := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	skR, err := kem.UnmarshalBinaryPrivateKey(xPrivBytes)
	if err != nil {
		return nil, fmt.Errorf("hpke unmarshal priv: %w", err)
	}

	receiver, err := hpkeSuite().NewReceiver(skR, info)
	if err != nil {
		return nil, fmt.Errorf("hpke new receiver: %w", err)
	}

	opener, err := receiver.Setup(enc)
	if err != nil {
		return nil, fmt.Errorf("hpke receiver setup: %w", err)
	}

	return opener.Open(ct, info)
}
