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

package conn

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vorobalek/whisper-go/internal/logger"
)

// Registry exclusively owns all connections, keyed by the peer's base64
// public key.
type Registry struct {
	services *Services
	log      logger.Logger

	mu    sync.Mutex
	conns map[string]*Connection
	sf    singleflight.Group

	onIncoming func(c *Connection)
}

// RegistryConfig wires the registry.
type RegistryConfig struct {
	Services *Services

	// OnIncomingConnection fires asynchronously when a peer-initiated
	// connection is created. Errors (panics) in the hook are recovered and
	// logged, never propagated.
	OnIncomingConnection func(c *Connection)
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	services := cfg.Services
	if services.Logger == nil {
		services.Logger = logger.Nop()
	}
	if services.AttemptDeadline == 0 {
		services.AttemptDeadline = 60 * time.Second
	}
	if services.CallTimeout == 0 {
		services.CallTimeout = 15 * time.Second
	}
	return &Registry{
		services:   services,
		log:        services.Logger,
		conns:      make(map[string]*Connection),
		onIncoming: cfg.OnIncomingConnection,
	}
}

// Lookup returns the connection for a peer, if any.
func (r *Registry) Lookup(peer string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[peer]
	return c, ok
}

// GetOrCreate returns the peer's connection, creating an outgoing-capable
// one on first use. Concurrent calls for the same peer collapse into one
// creation.
func (r *Registry) GetOrCreate(peer string) *Connection {
	if c, ok := r.Lookup(peer); ok {
		return c
	}
	v, _, _ := r.sf.Do(peer, func() (interface{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.conns[peer]; ok {
			return c, nil
		}
		c := newConnection(peer, r.services)
		r.conns[peer] = c
		return c, nil
	})
	return v.(*Connection)
}

// CreateIncoming creates a connection for a peer-initiated dial and fires
// the incoming-connection hook asynchronously.
func (r *Registry) CreateIncoming(peer string) (*Connection, error) {
	r.mu.Lock()
	if _, ok := r.conns[peer]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("connection for peer already exists")
	}
	c := newConnection(peer, r.services)
	r.conns[peer] = c
	r.mu.Unlock()

	if r.onIncoming != nil {
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Error("incoming connection hook panicked",
						logger.Any("panic", rec))
				}
			}()
			r.onIncoming(c)
		}()
	}
	return c, nil
}

// Delete aborts and removes the peer's connection.
func (r *Registry) Delete(peer string) {
	r.mu.Lock()
	c, ok := r.conns[peer]
	delete(r.conns, peer)
	r.mu.Unlock()
	if ok {
		c.abortAll("deleted")
	}
}

// List returns the peers with live connections.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	peers := make([]string, 0, len(r.conns))
	for peer := range r.conns {
		peers = append(peers, peer)
	}
	return peers
}

// CloseAll aborts every connection. Used on handle shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()
	for _, c := range conns {
		c.abortAll("shutdown")
	}
}
