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

// Package postgres provides the PostgreSQL store backend. Rows carry only
// hashed identifiers and ciphertext.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vorobalek/whisper-go/store"
)

// Config holds PostgreSQL connection configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Backend implements store.Backend over a pgx connection pool.
type Backend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS whisper_records (
	table_hash TEXT NOT NULL,
	id_hash    TEXT NOT NULL,
	iv         BYTEA NOT NULL,
	salt       BYTEA NOT NULL,
	ciphertext BYTEA NOT NULL,
	PRIMARY KEY (table_hash, id_hash)
)`

// NewBackend creates the backend and ensures the schema exists.
func NewBackend(ctx context.Context, cfg *Config) (*Backend, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Backend{pool: pool}, nil
}

// Close releases the connection pool.
func (b *Backend) Close() {
	b.pool.Close()
}

// Put stores a record, replacing any previous version.
func (b *Backend) Put(ctx context.Context, tableHash string, rec store.Record) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO whisper_records (table_hash, id_hash, iv, salt, ciphertext)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (table_hash, id_hash)
		DO UPDATE SET iv = $3, salt = $4, ciphertext = $5`,
		tableHash, rec.IDHash, rec.IV, rec.Salt, rec.Ciphertext)
	return err
}

// Get reads a record.
func (b *Backend) Get(ctx context.Context, tableHash, idHash string) (store.Record, bool, error) {
	rec := store.Record{IDHash: idHash}
	err := b.pool.QueryRow(ctx, `
		SELECT iv, salt, ciphertext FROM whisper_records
		WHERE table_hash = $1 AND id_hash = $2`,
		tableHash, idHash).Scan(&rec.IV, &rec.Salt, &rec.Ciphertext)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, err
	}
	return rec, true, nil
}

// List returns all records of a table in stable id-hash order.
func (b *Backend) List(ctx context.Context, tableHash string) ([]store.Record, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id_hash, iv, salt, ciphertext FROM whisper_records
		WHERE table_hash = $1 ORDER BY id_hash`,
		tableHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []store.Record
	for rows.Next() {
		var rec store.Record
		if err := rows.Scan(&rec.IDHash, &rec.IV, &rec.Salt, &rec.Ciphertext); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Delete removes one record.
func (b *Backend) Delete(ctx context.Context, tableHash, idHash string) error {
	_, err := b.pool.Exec(ctx, `
		DELETE FROM whisper_records WHERE table_hash = $1 AND id_hash = $2`,
		tableHash, idHash)
	return err
}

// Clear removes a table.
func (b *Backend) Clear(ctx context.Context, tableHash string) error {
	_, err := b.pool.Exec(ctx, `
		DELETE FROM whisper_records WHERE table_hash = $1`, tableHash)
	return err
}

// Dump exports every record.
func (b *Backend) Dump(ctx context.Context) (store.Dump, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT table_hash, id_hash, iv, salt, ciphertext FROM whisper_records
		ORDER BY table_hash, id_hash`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dump := make(store.Dump)
	for rows.Next() {
		var tableHash string
		var rec store.Record
		if err := rows.Scan(&tableHash, &rec.IDHash, &rec.IV, &rec.Salt, &rec.Ciphertext); err != nil {
			return nil, err
		}
		dump[tableHash] = append(dump[tableHash], rec)
	}
	return dump, rows.Err()
}

// Restore replaces the database contents with a dump atomically.
func (b *Backend) Restore(ctx context.Context, dump store.Dump) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM whisper_records`); err != nil {
		return err
	}
	for tableHash, recs := range dump {
		for _, rec := range recs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO whisper_records (table_hash, id_hash, iv, salt, ciphertext)
				VALUES ($1, $2, $3, $4, $5)`,
				tableHash, rec.IDHash, rec.IV, rec.Salt, rec.Ciphertext); err != nil {
				return err
			}
		}
	}
	return tx.Commit(ctx)
}
