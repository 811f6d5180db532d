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
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vorobalek/whisper-go/crypto/keys"
	"github.com/vorobalek/whisper-go/envelope"
	"github.com/vorobalek/whisper-go/internal/logger"
)

// ErrNotOpen is returned by Send when no data channel is ready.
var ErrNotOpen = errors.New("connection not open")

// Connection is the per-peer object owning the two sagas and, once either
// connects, the ready data channel. The registry is its only owner.
type Connection struct {
	peer     string
	services *Services
	log      logger.Logger

	mu       sync.Mutex
	state    State
	openedAt int64
	incoming *Saga
	outgoing *Saga
	dc       DataChannel

	onMessage      func(message string)
	onProgress     func(percent int)
	onStateChanged func(from, to State)
}

func newConnection(peer string, services *Services) *Connection {
	c := &Connection{
		peer:     peer,
		services: services,
		state:    ConnNew,
		log: services.Logger.WithFields(
			logger.String("peer", shortPeer(peer)),
		),
	}
	return c
}

func shortPeer(peer string) string {
	return keys.Fingerprint([]byte(peer))
}

// PublicKey returns the peer's base64 public key.
func (c *Connection) PublicKey() string {
	return c.peer
}

// State returns the connection's lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OpenedAt returns the relay timestamp of the first Connected transition,
// or zero before that.
func (c *Connection) OpenedAt() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openedAt
}

// OnMessage registers the inbound message callback.
func (c *Connection) OnMessage(fn func(message string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnProgress registers the attempt progress callback.
func (c *Connection) OnProgress(fn func(percent int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onProgress = fn
}

// OnStateChanged registers the lifecycle callback.
func (c *Connection) OnStateChanged(fn func(from, to State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChanged = fn
}

// Open starts (or restarts) the outgoing saga toward Connected. It is
// idempotent while an attempt is in flight.
func (c *Connection) Open() {
	c.mu.Lock()
	if c.state == ConnOpen {
		c.mu.Unlock()
		return
	}
	if c.outgoing != nil && c.outgoing.State().Active() {
		c.mu.Unlock()
		c.log.Debug("open ignored, outgoing attempt in flight")
		return
	}
	saga, err := newSaga(c, RoleOutgoing)
	if err != nil {
		c.mu.Unlock()
		c.log.Error("failed to create outgoing saga", logger.Error(err))
		return
	}
	c.outgoing = saga
	c.mu.Unlock()

	c.setState(ConnConnecting)
	saga.start()
}

// Send writes one message to the ready data channel.
func (c *Connection) Send(message string) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if dc == nil {
		return ErrNotOpen
	}
	return dc.Send([]byte(message))
}

// Close aborts both sagas, notifies the peer via the beacon transport, and
// settles the connection to Closed.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.state == ConnClosed {
		c.mu.Unlock()
		return
	}
	incoming, outgoing := c.incoming, c.outgoing
	c.dc = nil
	c.mu.Unlock()

	if incoming != nil {
		incoming.Abort("closed")
	}
	if outgoing != nil {
		outgoing.Abort("closed")
	}
	c.services.Calls.Close(c.peer)
	c.setState(ConnClosed)
}

// closeFromPeer settles the connection after a validated close call. The
// beacon is not echoed back.
func (c *Connection) closeFromPeer() {
	c.mu.Lock()
	incoming, outgoing := c.incoming, c.outgoing
	c.dc = nil
	c.mu.Unlock()

	if incoming != nil {
		incoming.Abort("peer-closed")
	}
	if outgoing != nil {
		outgoing.Abort("peer-closed")
	}
	c.setState(ConnClosed)
}

// startIncoming begins the incoming saga for a freshly validated dial.
func (c *Connection) startIncoming(peerEph []byte) {
	saga, err := newSaga(c, RoleIncoming)
	if err != nil {
		c.log.Error("failed to create incoming saga", logger.Error(err))
		return
	}
	saga.peerEph = peerEph
	saga.events <- sagaEvent{kind: evContinue, target: StateAwaitingDial}

	c.mu.Lock()
	c.incoming = saga
	c.mu.Unlock()

	c.setState(ConnConnecting)
	saga.start()
}

// reopenIncoming aborts any current incoming attempt and starts a fresh one
// for an out-of-phase dial, treated as the peer's explicit restart.
func (c *Connection) reopenIncoming(peerEph []byte) {
	c.mu.Lock()
	old := c.incoming
	c.mu.Unlock()
	if old != nil {
		old.Abort("superseded")
	}
	c.startIncoming(peerEph)
}

// demoteToAnswerer resolves offer glare: both sides dialed, both treated
// the other's dial as an acknowledgment, both sent offers. The side with
// the lexicographically smaller key gives up the offerer role, reuses the
// outgoing attempt's channel (the peer sealed its offer against that
// ephemeral key), and accepts the peer's offer on a fresh incoming saga.
func (c *Connection) demoteToAnswerer(peerEph, sealedOffer []byte) {
	c.mu.Lock()
	outgoing := c.outgoing
	oldIncoming := c.incoming
	c.mu.Unlock()

	if outgoing == nil {
		return
	}
	channel, _ := outgoing.takeChannel()
	outgoing.Abort("glare-demoted")
	if oldIncoming != nil {
		oldIncoming.Abort("superseded")
	}

	saga, err := newSaga(c, RoleIncoming)
	if err != nil {
		c.log.Error("failed to create incoming saga", logger.Error(err))
		return
	}
	saga.channel = channel
	saga.log = saga.log.WithFields(logger.String("glare", "answerer"))

	c.mu.Lock()
	c.incoming = saga
	c.mu.Unlock()

	// Prime the saga past the dial exchange and hand it the offer.
	saga.mu.Lock()
	saga.state = StateAwaitingOffer
	saga.mu.Unlock()
	saga.start()
	saga.handleOffer(peerEph, sealedOffer)
}

// Incoming returns the incoming saga, if any.
func (c *Connection) Incoming() *Saga {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.incoming
}

// Outgoing returns the outgoing saga, if any.
func (c *Connection) Outgoing() *Saga {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outgoing
}

// abortAll tears down both sagas without peer notification. The registry
// uses it on delete.
func (c *Connection) abortAll(reason string) {
	c.mu.Lock()
	incoming, outgoing := c.incoming, c.outgoing
	c.mu.Unlock()
	if incoming != nil {
		incoming.Abort(reason)
	}
	if outgoing != nil {
		outgoing.Abort(reason)
	}
}

func (c *Connection) setState(next State) {
	c.mu.Lock()
	prev := c.state
	// A closed connection leaves Closed only through a fresh attempt.
	if prev == next || (prev == ConnClosed && next != ConnConnecting) {
		c.mu.Unlock()
		return
	}
	c.state = next
	fn := c.onStateChanged
	c.mu.Unlock()

	c.log.Info("connection state changed",
		logger.String("from", prev.String()),
		logger.String("to", next.String()))
	if fn != nil {
		fn(prev, next)
	}
}

// sagaProgress forwards attempt progress to the application.
func (c *Connection) sagaProgress(s *Saga, state SagaState) {
	c.mu.Lock()
	fn := c.onProgress
	c.mu.Unlock()
	if fn != nil {
		fn(state.progress())
	}
}

// sagaConnected publishes the ready data channel the first time either
// saga reaches Connected.
func (c *Connection) sagaConnected(s *Saga, dc DataChannel) {
	c.mu.Lock()
	first := c.dc == nil
	if first {
		c.dc = dc
		c.openedAt = c.services.Clock.ServerTime()
	}
	c.mu.Unlock()

	if first {
		c.setState(ConnOpen)
	}
	if c.services.OnConnected != nil {
		c.services.OnConnected(c)
	}
}

// sagaClosed settles the connection once both sagas are terminal.
func (c *Connection) sagaClosed(s *Saga, reason string) {
	c.mu.Lock()
	incomingDone := c.incoming == nil || c.incoming.State().Terminal()
	outgoingDone := c.outgoing == nil || c.outgoing.State().Terminal()
	neverStarted := c.incoming == nil && c.outgoing == nil
	c.mu.Unlock()

	c.log.Debug("saga closed",
		logger.String("role", s.role.String()),
		logger.String("reason", reason))

	if incomingDone && outgoingDone && !neverStarted {
		c.mu.Lock()
		c.dc = nil
		c.mu.Unlock()
		c.setState(ConnClosed)
	}
}

// handleMessage forwards one data-channel message to the application.
func (c *Connection) handleMessage(data []byte) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn(string(data))
	}
}

// Services groups the shared collaborators every connection borrows. The
// registry owns one instance.
type Services struct {
	Calls           CallService
	Connector       PeerConnector
	ICEServers      []string
	Clock           ClockService
	Metrics         MetricsService
	Logger          logger.Logger
	LocalKey        string
	AttemptDeadline time.Duration
	CallTimeout     time.Duration

	// OnConnected fires on every saga Connected transition; the chat layer
	// uses it to replay unacknowledged updates.
	OnConnected func(c *Connection)
}

// CallService is the outbound call surface sagas use. Satisfied by
// *call.Service; narrowed so tests can fake it.
type CallService interface {
	Dial(ctx context.Context, recipient string, ephemeralPub []byte) error
	Offer(ctx context.Context, recipient string, ephemeralPub, sealed []byte) error
	Answer(ctx context.Context, recipient string, ephemeralPub, sealed []byte) error
	Ice(ctx context.Context, recipient string, ephemeralPub, sealed []byte, source envelope.IceSource) error
	Close(recipient string) bool
}

// ClockService reports the relay clock.
type ClockService interface {
	ServerTime() int64
}

// MetricsService records saga and crypto outcomes.
type MetricsService interface {
	RecordSagaConnect(d time.Duration)
	RecordSagaFailure(reason string)
	RecordDecryptFailure()
}
