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

// Package push carries the client side of delayed-dial notifications: the
// push subscription published with update calls, the VAPID token the
// gateway requires, and payload sealing to a peer's long-term key.
package push

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VAPIDTokenTTL is the validity window of a gateway token. Gateways
// reject anything above 24 hours.
const VAPIDTokenTTL = 12 * time.Hour

// VAPIDKey is the application server key pair identifying this client to
// push gateways.
type VAPIDKey struct {
	private *ecdsa.PrivateKey
}

// ParseVAPIDKey decodes a base64url-encoded PKCS#8 P-256 private key.
func ParseVAPIDKey(encoded string) (*VAPIDKey, error) {
	der, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode vapid key: %w", err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse vapid key: %w", err)
	}
	ec, ok := parsed.(*ecdsa.PrivateKey)
	if !ok || ec.Curve != elliptic.P256() {
		return nil, fmt.Errorf("vapid key must be a P-256 key")
	}
	return &VAPIDKey{private: ec}, nil
}

// Token builds the ES256 JWT a push gateway requires: aud is the
// gateway origin of the subscription endpoint, sub identifies the sender.
func (k *VAPIDKey) Token(endpoint, subject string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}

	claims := jwt.MapClaims{
		"aud": u.Scheme + "://" + u.Host,
		"exp": time.Now().Add(VAPIDTokenTTL).Unix(),
		"sub": subject,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(k.private)
	if err != nil {
		return "", fmt.Errorf("sign vapid token: %w", err)
	}
	return signed, nil
}

// PublicKey returns the uncompressed P-256 public point in the
// base64url form subscriptions carry.
func (k *VAPIDKey) PublicKey() string {
	pub := k.private.PublicKey
	raw := elliptic.Marshal(elliptic.P256(), pub.X, pub.Y)
	return base64.RawURLEncoding.EncodeToString(raw)
}
