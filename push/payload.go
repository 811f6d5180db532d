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

package push

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"

	whispercrypto "github.com/vorobalek/whisper-go/crypto"
	"github.com/vorobalek/whisper-go/crypto/keys"
)

// payloadInfo binds sealed notification payloads to their purpose.
var payloadInfo = []byte("whisper/push/v1")

// Payload is what a dialing client leaves with the gateway for an offline
// peer: who is calling and when. The gateway sees only ciphertext.
type Payload struct {
	Caller    string `json:"caller"`
	Timestamp int64  `json:"timestamp"`
}

// SealPayload encrypts a notification payload to the recipient's
// long-term public key (base64, as carried in envelopes). Ephemeral
// attempt keys cannot serve here: the recipient is offline and will
// decrypt long after the attempt died.
func SealPayload(recipientKey string, p Payload) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(recipientKey)
	if err != nil {
		return "", fmt.Errorf("decode recipient key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return "", fmt.Errorf("recipient key is not an Ed25519 key")
	}

	plain, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	sealed, err := keys.HPKESealToEd25519Peer(ed25519.PublicKey(raw), plain, payloadInfo)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenPayload decrypts a notification payload with the local identity's
// key pair.
func OpenPayload(keyPair whispercrypto.KeyPair, sealed string) (Payload, error) {
	packet, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	plain, err := keys.HPKEOpenWithEd25519Priv(keyPair.PrivateKey(), packet, payloadInfo)
	if err != nil {
		return Payload{}, err
	}
	var p Payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}
