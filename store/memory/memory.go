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

// Package memory provides the in-memory store backend used by tests and
// ephemeral sessions.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vorobalek/whisper-go/store"
)

// Backend keeps encrypted records in maps.
type Backend struct {
	mu     sync.RWMutex
	tables map[string]map[string]store.Record
}

// NewBackend creates an empty backend.
func NewBackend() *Backend {
	return &Backend{tables: make(map[string]map[string]store.Record)}
}

// Put stores a record.
func (b *Backend) Put(ctx context.Context, tableHash string, rec store.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	table, ok := b.tables[tableHash]
	if !ok {
		table = make(map[string]store.Record)
		b.tables[tableHash] = table
	}
	table[rec.IDHash] = rec
	return nil
}

// Get reads a record.
func (b *Backend) Get(ctx context.Context, tableHash, idHash string) (store.Record, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.tables[tableHash][idHash]
	return rec, ok, nil
}

// List returns all records of a table in stable id-hash order.
func (b *Backend) List(ctx context.Context, tableHash string) ([]store.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	table := b.tables[tableHash]
	recs := make([]store.Record, 0, len(table))
	for _, rec := range table {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].IDHash < recs[j].IDHash })
	return recs, nil
}

// Delete removes one record.
func (b *Backend) Delete(ctx context.Context, tableHash, idHash string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tables[tableHash], idHash)
	return nil
}

// Clear removes a table.
func (b *Backend) Clear(ctx context.Context, tableHash string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tables, tableHash)
	return nil
}

// Dump exports every record.
func (b *Backend) Dump(ctx context.Context) (store.Dump, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	dump := make(store.Dump, len(b.tables))
	for tableHash := range b.tables {
		recs, _ := b.listLocked(tableHash)
		dump[tableHash] = recs
	}
	return dump, nil
}

func (b *Backend) listLocked(tableHash string) ([]store.Record, error) {
	table := b.tables[tableHash]
	recs := make([]store.Record, 0, len(table))
	for _, rec := range table {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].IDHash < recs[j].IDHash })
	return recs, nil
}

// Restore replaces the backend contents with a dump.
func (b *Backend) Restore(ctx context.Context, dump store.Dump) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tables = make(map[string]map[string]store.Record, len(dump))
	for tableHash, recs := range dump {
		table := make(map[string]store.Record, len(recs))
		for _, rec := range recs {
			table[rec.IDHash] = rec
		}
		b.tables[tableHash] = table
	}
	return nil
}
