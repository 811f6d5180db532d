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

package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// kdfIterations is the PBKDF2 iteration count for every derived key.
	kdfIterations = 100_000

	keySize  = 32
	saltSize = 16
	ivSize   = 12

	// nameSalt is the fixed salt for the identifier-hashing key. Identifier
	// hashes must be deterministic across restarts for lookup, so their key
	// cannot use a per-write salt.
	nameSalt = "whisper/store/names/v1"
)

// sealer derives per-write value keys and deterministic identifier hashes
// from the store password.
type sealer struct {
	password []byte
	nameKey  []byte
}

func newSealer(password string) *sealer {
	pw := []byte(password)
	return &sealer{
		password: pw,
		nameKey:  pbkdf2.Key(pw, []byte(nameSalt), kdfIterations, keySize, sha256.New),
	}
}

// hashTable hashes a logical table name.
func (s *sealer) hashTable(table string) string {
	return s.hashName("table", table)
}

// hashID hashes a logical record id within its table.
func (s *sealer) hashID(table, id string) string {
	return s.hashName("id", table+"\x00"+id)
}

func (s *sealer) hashName(kind, name string) string {
	mac := hmac.New(sha256.New, s.nameKey)
	mac.Write([]byte(kind))
	mac.Write([]byte{0})
	mac.Write([]byte(name))
	return hex.EncodeToString(mac.Sum(nil))
}

// seal encrypts a value into a record. Every write gets a fresh salt and
// therefore a fresh key.
func (s *sealer) seal(table, id string, value []byte) (Record, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return Record{}, fmt.Errorf("generate salt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Record{}, fmt.Errorf("generate iv: %w", err)
	}

	aead, err := s.aead(salt)
	if err != nil {
		return Record{}, err
	}

	return Record{
		IDHash:     s.hashID(table, id),
		IV:         iv,
		Salt:       salt,
		Ciphertext: aead.Seal(nil, iv, value, nil),
	}, nil
}

// open decrypts a record, rederiving the key with the stored salt.
func (s *sealer) open(rec Record) ([]byte, error) {
	aead, err := s.aead(rec.Salt)
	if err != nil {
		return nil, err
	}
	value, err := aead.Open(nil, rec.IV, rec.Ciphertext, nil)
	if err != nil {
		return nil, ErrStoreCorrupt
	}
	return value, nil
}

func (s *sealer) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(s.password, salt, kdfIterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
