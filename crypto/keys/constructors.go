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
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58"

	whispercrypto "github.com/vorobalek/whisper-go/crypto"
)

// Generate creates a new signing key pair of the given type.
func Generate(keyType whispercrypto.KeyType) (whispercrypto.KeyPair, error) {
	switch keyType {
	case whispercrypto.KeyTypeEd25519:
		return GenerateEd25519KeyPair()
	case whispercrypto.KeyTypeSecp256k1:
		return GenerateSecp256k1KeyPair()
	default:
		return nil, fmt.Errorf("%w: %s", whispercrypto.ErrInvalidKeyType, keyType)
	}
}

// VerifyWithPublic verifies a detached signature against raw public key
// bytes. The key type is recovered from the wire length: 32 bytes is an
// Ed25519 key, 33 bytes a compressed secp256k1 key.
func VerifyWithPublic(pub, message, signature []byte) error {
	switch len(pub) {
	case ed25519.PublicKeySize:
		if !ed25519.Verify(ed25519.PublicKey(pub), message, signature) {
			return whispercrypto.ErrInvalidSignature
		}
		return nil
	case 33:
		parsed, err := secp256k1.ParsePubKey(pub)
		if err != nil {
			return whispercrypto.ErrInvalidPublicKey
		}
		return verifySecp256k1(parsed, message, signature)
	default:
		return whispercrypto.ErrInvalidPublicKey
	}
}

// Fingerprint returns a short, log-safe identifier for raw public key bytes:
// base58 of the first 8 bytes of the key's SHA-256.
func Fingerprint(pub []byte) string {
	hash := sha256.Sum256(pub)
	return base58.Encode(hash[:8])
}
