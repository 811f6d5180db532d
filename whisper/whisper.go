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

// Package whisper assembles the signaling, session, and reliability layers
// behind one handle. No process globals: everything the core needs travels
// through the handle and injected interfaces.
package whisper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vorobalek/whisper-go/call"
	"github.com/vorobalek/whisper-go/chat"
	"github.com/vorobalek/whisper-go/clock"
	"github.com/vorobalek/whisper-go/conn"
	whispercrypto "github.com/vorobalek/whisper-go/crypto"
	"github.com/vorobalek/whisper-go/envelope"
	"github.com/vorobalek/whisper-go/internal/logger"
	"github.com/vorobalek/whisper-go/internal/metrics"
	"github.com/vorobalek/whisper-go/push"
	"github.com/vorobalek/whisper-go/session"
	"github.com/vorobalek/whisper-go/store"
	"github.com/vorobalek/whisper-go/transport"
	"github.com/vorobalek/whisper-go/webrtc"
)

// replayTTL bounds the envelope replay cache. It only needs to outlive the
// freshness window with margin.
const replayTTL = 2 * time.Minute

// Config enumerates everything the application wires in.
type Config struct {
	ServerURL string
	Version   string

	// OnNewVersion fires when the relay reports the client is outdated.
	OnNewVersion func()

	// SigningKeyPair is the long-term identity. Nil generates a fresh
	// Ed25519 pair.
	SigningKeyPair whispercrypto.KeyPair

	ICEServers []string

	// OnIncomingConnection fires asynchronously for peer-initiated
	// connections.
	OnIncomingConnection func(c *conn.Connection)

	// FocusOnDial may veto a brand-new incoming dial (for instance when
	// the application cannot come to the foreground).
	FocusOnDial func(peer string) bool

	// RequestDial asks the application to accept a brand-new incoming
	// dial. Nil accepts everything.
	RequestDial func(peer string) bool

	// OnMayWorkUnstably reports degraded-but-running conditions.
	OnMayWorkUnstably func(reason string)

	// Push configures notifications and the subscription machinery.
	Push push.Options

	// Store is the opened encrypted store. Nil disables persistence (the
	// update cache then lives only in memory).
	Store store.Store

	// Beacon overrides the fire-and-forget close transport. Nil selects
	// the HTTP beacon; hosts with a sendBeacon-like primitive wrap it in a
	// transport.BeaconFunc.
	Beacon transport.Beacon

	// Connector overrides the peer-connection factory. Nil selects pion.
	Connector conn.PeerConnector

	AttemptDeadline time.Duration
	CallTimeout     time.Duration

	Logger  logger.Logger
	Metrics *metrics.Collector
}

// Handle is the top-level object the application drives.
type Handle struct {
	identity *session.Identity
	clk      *clock.Service
	replay   *envelope.ReplayGuard
	primary  *transport.WSChannel
	calls    *call.Service
	registry *conn.Registry
	notifier *push.Notifier
	st       store.Store
	m        *metrics.Collector
	log      logger.Logger

	mu    sync.Mutex
	chats map[string]*chat.Chat

	onMayWorkUnstably func(reason string)
}

// Initialize wires the full stack and starts the primary channel.
func Initialize(ctx context.Context, cfg Config) (*Handle, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server url is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewCollector()
	}

	keyPair := cfg.SigningKeyPair
	var identity *session.Identity
	var err error
	if keyPair == nil {
		identity, err = session.GenerateIdentity()
	} else {
		identity, err = session.NewIdentity(keyPair)
	}
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}

	notifier, err := push.NewNotifier(cfg.Push, log)
	if err != nil {
		return nil, fmt.Errorf("push: %w", err)
	}

	h := &Handle{
		identity:          identity,
		clk:               clock.NewService(),
		replay:            envelope.NewReplayGuard(replayTTL),
		notifier:          notifier,
		st:                cfg.Store,
		m:                 m,
		log:               log.WithFields(logger.String("self", identity.Fingerprint())),
		chats:             make(map[string]*chat.Chat),
		onMayWorkUnstably: cfg.OnMayWorkUnstably,
	}

	codec := envelope.NewCodec(identity, h.clk, h.replay, h.log)

	primary, err := transport.NewWSChannel(cfg.ServerURL, transport.WSOptions{
		OnCall: func(raw []byte) {
			if h.calls != nil {
				h.calls.HandleRaw(raw)
			}
		},
		OnReady: func() { h.publishUpdate() },
	}, h.log)
	if err != nil {
		return nil, fmt.Errorf("primary channel: %w", err)
	}
	h.primary = primary

	beacon := cfg.Beacon
	if beacon == nil {
		beacon = transport.NewHTTPBeacon(cfg.ServerURL)
	}
	h.calls = call.NewService(identity.PublicKey(), call.Config{
		Codec:        codec,
		Clock:        h.clk,
		Primary:      primary,
		Secondary:    transport.NewHTTPSender(cfg.ServerURL),
		Beacon:       beacon,
		Metrics:      m,
		Logger:       h.log,
		OnNewVersion: cfg.OnNewVersion,
	})

	connector := cfg.Connector
	if connector == nil {
		connector = webrtc.NewConnector()
	}

	h.registry = conn.NewRegistry(conn.RegistryConfig{
		Services: &conn.Services{
			Calls:           h.calls,
			Connector:       connector,
			ICEServers:      cfg.ICEServers,
			Clock:           h.clk,
			Metrics:         m,
			Logger:          h.log,
			LocalKey:        identity.PublicKey(),
			AttemptDeadline: cfg.AttemptDeadline,
			CallTimeout:     cfg.CallTimeout,
			OnConnected:     h.onConnected,
		},
		OnIncomingConnection: func(c *conn.Connection) {
			h.attachChat(c)
			if cfg.OnIncomingConnection != nil {
				cfg.OnIncomingConnection(c)
			}
		},
	})

	requestDial := cfg.RequestDial
	dispatcher := conn.NewDispatcher(h.registry, conn.DispatcherConfig{
		FocusOnDial: cfg.FocusOnDial,
		RequestDial: func(peer string) bool {
			h.notifier.Notify(peer, "Whisper", "Incoming connection request")
			if requestDial == nil {
				return true
			}
			return requestDial(peer)
		},
	})
	h.calls.SetDispatcher(dispatcher)

	return h, nil
}

// publishUpdate re-announces this client (and its push subscription) after
// every primary reconnect.
func (h *Handle) publishUpdate() {
	if h.calls == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := h.calls.Update(ctx, h.notifier.Subscription()); err != nil {
		h.log.Warn("update publication failed", logger.Error(err))
		if h.onMayWorkUnstably != nil {
			h.onMayWorkUnstably("update-publication-failed")
		}
	}
}

// PublicKey returns the local address.
func (h *Handle) PublicKey() string {
	return h.identity.PublicKey()
}

// ServerTime reports the relay clock.
func (h *Handle) ServerTime() int64 {
	return h.clk.ServerTime()
}

// Get returns the connection for a peer, creating one on first use.
func (h *Handle) Get(peer string) *conn.Connection {
	c := h.registry.GetOrCreate(peer)
	h.attachChat(c)
	return c
}

// Chat returns the reliability layer bound to a peer's connection.
func (h *Handle) Chat(peer string) *chat.Chat {
	h.Get(peer)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.chats[peer]
}

// Delete closes and removes a peer's connection and its chat state.
func (h *Handle) Delete(peer string) {
	if c, ok := h.registry.Lookup(peer); ok {
		c.Close()
	}
	h.registry.Delete(peer)
	h.replay.DeleteSender(peer)

	h.mu.Lock()
	if ch, ok := h.chats[peer]; ok {
		ch.Close()
		delete(h.chats, peer)
	}
	h.mu.Unlock()
}

// List returns peers with live connections.
func (h *Handle) List() []string {
	return h.registry.List()
}

// ShowNotification displays one notification, subject to the notifier's
// dedup policy. The permission state reported to the notifier is not
// consulted.
func (h *Handle) ShowNotification(title, body string) bool {
	return h.notifier.Notify("local", title, body)
}

// SetPushSubscription installs the host's push subscription; it is
// published with the next update call.
func (h *Handle) SetPushSubscription(sub *envelope.Subscription) {
	h.notifier.SetSubscription(sub)
	h.publishUpdate()
}

// Notifier exposes the push machinery (VAPID token construction, sealed
// payloads) to host integrations.
func (h *Handle) Notifier() *push.Notifier {
	return h.notifier
}

// Close tears the stack down: all connections, the chat watchdogs, the
// replay guard, and the primary channel.
func (h *Handle) Close() error {
	var g errgroup.Group
	g.Go(func() error {
		h.registry.CloseAll()
		return nil
	})
	g.Go(func() error {
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, ch := range h.chats {
			ch.Close()
		}
		return nil
	})
	g.Go(func() error {
		h.replay.Close()
		return h.primary.Close()
	})
	return g.Wait()
}

// onConnected fires on every saga Connected transition and replays the
// peer's unacknowledged updates on the fresh channel.
func (h *Handle) onConnected(c *conn.Connection) {
	h.attachChat(c)
	h.mu.Lock()
	ch := h.chats[c.PublicKey()]
	h.mu.Unlock()
	if ch != nil {
		go ch.OnConnected()
	}
}

// attachChat lazily binds the chat reliability layer to a connection.
func (h *Handle) attachChat(c *conn.Connection) {
	peer := c.PublicKey()
	h.mu.Lock()
	if _, ok := h.chats[peer]; ok {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	ch, err := chat.NewChat(context.Background(), peer, c, h.st, h.clk, h.m, h.log)
	if err != nil {
		h.log.Error("failed to create chat layer", logger.Error(err))
		return
	}

	h.mu.Lock()
	if _, ok := h.chats[peer]; ok {
		h.mu.Unlock()
		ch.Close()
		return
	}
	h.chats[peer] = ch
	h.mu.Unlock()

	c.OnMessage(ch.HandleIncoming)
}
