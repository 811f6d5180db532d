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
	"context"
	"fmt"

	"github.com/vorobalek/whisper-go/internal/logger"
)

// checkProbe is the known plaintext the check record must decrypt to.
const checkProbe = "whisper-store-check-v1"

// EncryptedStore implements Store over any Backend, sealing every value and
// hashing every identifier before it reaches the backend.
type EncryptedStore struct {
	backend Backend
	sealer  *sealer
	log     logger.Logger
}

// Open creates the store and proves the password against the check record:
// a decrypt failure there means a wrong password (ErrStoreLocked), not
// corruption, and so does a non-empty database with no check record under
// this password's hashes. A fresh database gets its check record written.
func Open(ctx context.Context, backend Backend, password string, log logger.Logger) (*EncryptedStore, error) {
	if log == nil {
		log = logger.Nop()
	}
	s := &EncryptedStore{
		backend: backend,
		sealer:  newSealer(password),
		log:     log,
	}

	tableHash := s.sealer.hashTable(TableCheck)
	idHash := s.sealer.hashID(TableCheck, TableCheck)
	rec, ok, err := backend.Get(ctx, tableHash, idHash)
	if err != nil {
		return nil, fmt.Errorf("read check record: %w", err)
	}
	if !ok {
		// Identifiers are hashed under a password-derived key, so a wrong
		// password does not find the check record at all. A database that
		// already holds records is therefore locked to another password.
		existing, err := backend.Dump(ctx)
		if err != nil {
			return nil, fmt.Errorf("read store contents: %w", err)
		}
		for _, recs := range existing {
			if len(recs) > 0 {
				return nil, ErrStoreLocked
			}
		}
		probe, err := s.sealer.seal(TableCheck, TableCheck, []byte(checkProbe))
		if err != nil {
			return nil, fmt.Errorf("seal check record: %w", err)
		}
		if err := backend.Put(ctx, tableHash, probe); err != nil {
			return nil, fmt.Errorf("write check record: %w", err)
		}
		return s, nil
	}

	value, err := s.sealer.open(rec)
	if err != nil || string(value) != checkProbe {
		return nil, ErrStoreLocked
	}
	return s, nil
}

// Set seals and persists one value.
func (s *EncryptedStore) Set(ctx context.Context, table, id string, value []byte) error {
	rec, err := s.sealer.seal(table, id, value)
	if err != nil {
		return err
	}
	return s.backend.Put(ctx, s.sealer.hashTable(table), rec)
}

// Get reads and opens one value.
func (s *EncryptedStore) Get(ctx context.Context, table, id string) ([]byte, error) {
	rec, ok, err := s.backend.Get(ctx, s.sealer.hashTable(table), s.sealer.hashID(table, id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return s.sealer.open(rec)
}

// GetAll reads and opens every value in a table. Corrupt records are
// logged and skipped; losing one record must not take the table down.
func (s *EncryptedStore) GetAll(ctx context.Context, table string) ([][]byte, error) {
	recs, err := s.backend.List(ctx, s.sealer.hashTable(table))
	if err != nil {
		return nil, err
	}
	values := make([][]byte, 0, len(recs))
	for _, rec := range recs {
		value, err := s.sealer.open(rec)
		if err != nil {
			s.log.Error("dropping corrupt store record",
				logger.String("table", table),
				logger.String("id_hash", rec.IDHash))
			continue
		}
		values = append(values, value)
	}
	return values, nil
}

// Delete removes one record.
func (s *EncryptedStore) Delete(ctx context.Context, table, id string) error {
	return s.backend.Delete(ctx, s.sealer.hashTable(table), s.sealer.hashID(table, id))
}

// Clear removes every record in a table.
func (s *EncryptedStore) Clear(ctx context.Context, table string) error {
	return s.backend.Clear(ctx, s.sealer.hashTable(table))
}

// Dump exports the encrypted records verbatim.
func (s *EncryptedStore) Dump(ctx context.Context) (Dump, error) {
	return s.backend.Dump(ctx)
}

// Restore imports a dump verbatim. The same password opens the restored
// database.
func (s *EncryptedStore) Restore(ctx context.Context, dump Dump) error {
	return s.backend.Restore(ctx, dump)
}
