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

package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vorobalek/whisper-go/crypto/keys"
	"github.com/vorobalek/whisper-go/session"
)

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new identity key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := session.GenerateIdentity()
			if err != nil {
				return fmt.Errorf("generate identity: %w", err)
			}

			priv, ok := identity.KeyPair().PrivateKey().(ed25519.PrivateKey)
			if !ok {
				return fmt.Errorf("unexpected key type")
			}
			seed := base64.StdEncoding.EncodeToString(priv.Seed())

			fmt.Printf("public key:  %s\n", identity.PublicKey())
			fmt.Printf("fingerprint: %s\n", identity.Fingerprint())
			fmt.Printf("seed:        %s\n", seed)
			fmt.Println()
			fmt.Println("Keep the seed secret. Export it as WHISPER_KEY_SEED to reuse this identity.")
			return nil
		},
	}
}

// identityFromSeed restores an identity from a base64 Ed25519 seed.
func identityFromSeed(encoded string) (*session.Identity, error) {
	seed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	kp, err := keys.NewEd25519KeyPairFromSeed(seed)
	if err != nil {
		return nil, err
	}
	return session.NewIdentity(kp)
}
