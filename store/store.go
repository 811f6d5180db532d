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

// Package store provides the password-locked encrypted key/value store.
// Everything at rest is ciphertext: values are sealed per write under a
// key freshly derived from the password and a per-write salt, and table
// names and ids are hashed so storage leaks no plaintext identifiers.
package store

import (
	"context"
	"errors"
)

// Logical table names. They are hashed before reaching a backend.
const (
	TableCheck       = "check"
	TableKeys        = "keys"
	TableConnections = "connections"
	TableHistory     = "history"
	TableCache       = "cache"
)

var (
	// ErrStoreLocked means the password does not open this store.
	ErrStoreLocked = errors.New("store locked: wrong password")

	// ErrStoreCorrupt means a record failed to decrypt under the correct
	// password. The record is lost; the store stays usable.
	ErrStoreCorrupt = errors.New("store record corrupt")

	// ErrNotFound means no record exists for the id.
	ErrNotFound = errors.New("record not found")
)

// Record is one encrypted row as persisted by a backend.
type Record struct {
	IDHash     string `json:"id"`
	IV         []byte `json:"iv"`
	Salt       []byte `json:"salt"`
	Ciphertext []byte `json:"ciphertext"`
}

// Dump is the database-level envelope moved verbatim by Dump/Restore:
// hashed table name to its records.
type Dump map[string][]Record

// Store is the interface the application layers persist through.
type Store interface {
	Set(ctx context.Context, table, id string, value []byte) error
	Get(ctx context.Context, table, id string) ([]byte, error)
	GetAll(ctx context.Context, table string) ([][]byte, error)
	Delete(ctx context.Context, table, id string) error
	Clear(ctx context.Context, table string) error
	Dump(ctx context.Context) (Dump, error)
	Restore(ctx context.Context, dump Dump) error
}

// Backend persists encrypted records. Table and id arguments arrive
// already hashed.
type Backend interface {
	Put(ctx context.Context, tableHash string, rec Record) error
	Get(ctx context.Context, tableHash, idHash string) (Record, bool, error)
	List(ctx context.Context, tableHash string) ([]Record, error)
	Delete(ctx context.Context, tableHash, idHash string) error
	Clear(ctx context.Context, tableHash string) error
	Dump(ctx context.Context) (Dump, error)
	Restore(ctx context.Context, dump Dump) error
}
