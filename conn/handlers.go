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
	"github.com/vorobalek/whisper-go/envelope"
	"github.com/vorobalek/whisper-go/internal/logger"
)

// Dispatcher routes validated inbound calls to the sagas of the right
// connection. Every ignore condition logs at debug and returns; the relay
// is untrusted and peers may send anything at any time.
type Dispatcher struct {
	registry *Registry
	log      logger.Logger

	// focusOnDial may veto a brand-new incoming connection before the
	// acceptance prompt (for instance when the application cannot come to
	// the foreground). Returning false drops the dial.
	focusOnDial func(peer string) bool

	// requestDial asks the application whether to accept a brand-new
	// incoming connection. Returning false drops the dial silently.
	requestDial func(peer string) bool
}

// DispatcherConfig wires the dispatcher hooks.
type DispatcherConfig struct {
	FocusOnDial func(peer string) bool
	RequestDial func(peer string) bool
}

// NewDispatcher creates the dispatcher for a registry.
func NewDispatcher(registry *Registry, cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		log:         registry.log,
		focusOnDial: cfg.FocusOnDial,
		requestDial: cfg.RequestDial,
	}
}

// OnUpdate handles a relay-delivered update call. Updates announce a
// sender to the relay; peers have no business pushing them here, so it is
// a debug-logged no-op.
func (d *Dispatcher) OnUpdate(p *envelope.Parsed) {
	d.log.Debug("update call ignored", logger.String("sender", shortPeer(p.Sender)))
}

// OnDial handles a validated dial.
//
// Four live paths:
//  1. No connection: the peer initiates. The application hooks may veto;
//     otherwise an incoming connection is created and its saga starts with
//     the peer's ephemeral key.
//  2. Our outgoing saga is awaiting its dial acknowledgment: this dial is
//     it (the peer's ephemeral key arrives here), and it continues the
//     outgoing saga.
//  3. Our incoming saga is still New or AwaitingDial: the dial continues
//     it with the peer's ephemeral key.
//  4. Anything else is an out-of-phase dial, treated as the peer's
//     explicit restart: the incoming saga is atomically aborted and
//     restarted with the new ephemeral key.
func (d *Dispatcher) OnDial(p *envelope.Parsed) {
	c, ok := d.registry.Lookup(p.Sender)
	if !ok {
		if d.focusOnDial != nil && !d.focusOnDial(p.Sender) {
			d.log.Debug("dial vetoed by focus hook", logger.String("sender", shortPeer(p.Sender)))
			return
		}
		if d.requestDial != nil && !d.requestDial(p.Sender) {
			d.log.Debug("dial rejected by application", logger.String("sender", shortPeer(p.Sender)))
			return
		}
		c, err := d.registry.CreateIncoming(p.Sender)
		if err != nil {
			d.log.Debug("incoming connection creation raced", logger.Error(err))
			return
		}
		c.startIncoming(p.EphemeralKey)
		return
	}

	if outgoing := c.Outgoing(); outgoing != nil {
		if st := outgoing.State(); st == StateAwaitDial || st == StateAwaitingDial {
			outgoing.handleDialAck(p.EphemeralKey)
			return
		}
	}

	if incoming := c.Incoming(); incoming != nil {
		if st := incoming.State(); st == StateNew || st == StateAwaitingDial {
			incoming.handleDial(p.EphemeralKey)
			return
		}
	}

	c.reopenIncoming(p.EphemeralKey)
}

// OnOffer handles a validated offer. The incoming saga must be awaiting
// it. The one exception is offer glare after simultaneous dials: the side
// with the lexicographically smaller public key yields the offerer role
// and accepts the peer's offer instead.
func (d *Dispatcher) OnOffer(p *envelope.Parsed) {
	c, ok := d.registry.Lookup(p.Sender)
	if !ok {
		d.log.Debug("offer for unknown peer", logger.String("sender", shortPeer(p.Sender)))
		return
	}

	if incoming := c.Incoming(); incoming != nil {
		if st := incoming.State(); st == StateAwaitOffer || st == StateAwaitingOffer {
			incoming.handleOffer(p.EphemeralKey, p.Data)
			return
		}
	}

	outgoing := c.Outgoing()
	polite := d.registry.services.LocalKey < p.Sender
	if outgoing != nil && outgoing.State().Active() && polite {
		d.log.Debug("offer glare, yielding offerer role",
			logger.String("sender", shortPeer(p.Sender)))
		c.demoteToAnswerer(p.EphemeralKey, p.Data)
		return
	}

	d.log.Debug("offer dropped, no saga awaiting it",
		logger.String("sender", shortPeer(p.Sender)))
}

// OnAnswer handles a validated answer: the outgoing saga takes it while
// awaiting it and also once its offer is being sent or has been sent, so an
// answer that overtakes our own transition is not lost.
func (d *Dispatcher) OnAnswer(p *envelope.Parsed) {
	c, ok := d.registry.Lookup(p.Sender)
	if !ok {
		d.log.Debug("answer for unknown peer", logger.String("sender", shortPeer(p.Sender)))
		return
	}
	outgoing := c.Outgoing()
	if outgoing == nil {
		d.log.Debug("answer dropped, no saga awaiting it",
			logger.String("sender", shortPeer(p.Sender)))
		return
	}
	switch outgoing.State() {
	case StateSendingOffer, StateOfferSent, StateAwaitAnswer, StateAwaitingAnswer:
		outgoing.handleAnswer(p.EphemeralKey, p.Data)
	default:
		d.log.Debug("answer dropped, no saga awaiting it",
			logger.String("sender", shortPeer(p.Sender)))
	}
}

// OnIce routes a candidate to the saga paired with the peer saga that
// produced it: candidates from the peer's incoming saga feed our outgoing
// saga and vice versa.
func (d *Dispatcher) OnIce(p *envelope.Parsed) {
	c, ok := d.registry.Lookup(p.Sender)
	if !ok {
		d.log.Debug("candidate for unknown peer", logger.String("sender", shortPeer(p.Sender)))
		return
	}

	var saga *Saga
	switch p.Source {
	case envelope.IceSourceIncoming:
		saga = c.Outgoing()
	case envelope.IceSourceOutgoing:
		saga = c.Incoming()
	default:
		d.log.Debug("candidate with unknown source", logger.String("sender", shortPeer(p.Sender)))
		return
	}
	if saga == nil {
		d.log.Debug("candidate with no matching saga",
			logger.String("sender", shortPeer(p.Sender)),
			logger.String("source", p.Source.String()))
		return
	}
	saga.addCandidate(p.Data)
}

// OnClose handles a validated close. Late teardowns of an already
// superseded attempt (timestamp at or before the current openedAt) are
// dropped.
func (d *Dispatcher) OnClose(p *envelope.Parsed) {
	c, ok := d.registry.Lookup(p.Sender)
	if !ok {
		d.log.Debug("close for unknown peer", logger.String("sender", shortPeer(p.Sender)))
		return
	}
	if c.State() == ConnClosed {
		d.log.Debug("close for already closed connection",
			logger.String("sender", shortPeer(p.Sender)))
		return
	}
	if opened := c.OpenedAt(); opened != 0 && p.Timestamp <= opened {
		d.log.Debug("stale close dropped",
			logger.String("sender", shortPeer(p.Sender)),
			logger.Int64("timestamp", p.Timestamp),
			logger.Int64("openedAt", opened))
		return
	}
	c.closeFromPeer()
}
