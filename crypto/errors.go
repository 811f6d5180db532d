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

package crypto

import "errors"

var (
	// ErrInvalidSignature is returned when signature verification fails
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidKeyType is returned when a key of an unexpected type is supplied
	ErrInvalidKeyType = errors.New("invalid key type")

	// ErrInvalidPublicKey is returned when raw public key bytes cannot be parsed
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrSignNotSupported is returned by key agreement keys asked to sign
	ErrSignNotSupported = errors.New("signing not supported for this key type")

	// ErrVerifyNotSupported is returned by key agreement keys asked to verify
	ErrVerifyNotSupported = errors.New("verification not supported for this key type")
)
