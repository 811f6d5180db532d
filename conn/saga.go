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
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vorobalek/whisper-go/envelope"
	"github.com/vorobalek/whisper-go/internal/logger"
	"github.com/vorobalek/whisper-go/session"
)

// dataChannelLabel names the single negotiated channel per connection.
const dataChannelLabel = "whisper"

type eventKind int

const (
	evContinue eventKind = iota
	evConnected
	evAbort
)

type sagaEvent struct {
	kind   eventKind
	reason string

	// target is the awaiting state a continue event resumes. Events can be
	// posted slightly before the saga reaches that state (the peer may act
	// on our call before our own transition lands); they sit in the buffer
	// until the matching wait consumes them, and mismatched leftovers are
	// discarded.
	target SagaState
}

// Saga drives one direction of a connection attempt. It is a goroutine
// owning the receive end of an event channel: handlers send continue or
// abort, the data channel open sends connected, and the attempt deadline
// races them all. Every attempt owns a fresh ephemeral key pair via its
// session channel; restarting a saga regenerates everything.
type Saga struct {
	role Role
	peer string
	conn *Connection

	mu        sync.Mutex
	state     SagaState
	channel   *session.Channel
	peerEph   []byte
	remoteSDP *SessionDescription
	remoteSet bool
	buffered  [][]byte
	sealedOut []byte
	pc        PeerConnection
	dc        DataChannel
	events    chan sagaEvent
	running   bool
	stolen    bool

	attemptID string
	started   time.Time
	log       logger.Logger
}

func newSaga(c *Connection, role Role) (*Saga, error) {
	ch, err := session.NewChannel()
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	return &Saga{
		role:      role,
		peer:      c.peer,
		conn:      c,
		state:     StateNew,
		channel:   ch,
		events:    make(chan sagaEvent, 16),
		attemptID: id,
		log: c.log.WithFields(
			logger.String("attempt", id),
			logger.String("role", role.String()),
		),
	}, nil
}

// State returns the saga's current state.
func (s *Saga) State() SagaState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// start launches the run loop. The caller may have primed state, peer key,
// and pending events beforehand.
func (s *Saga) start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.started = time.Now()
	s.mu.Unlock()
	go s.run()
}

// Continue resumes a suspended saga. Calling it in a non-awaiting state is
// a no-op; peers may send anything at any time.
func (s *Saga) Continue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.continueLocked()
}

func (s *Saga) continueLocked() {
	if !s.state.Awaiting() {
		s.log.Debug("continue ignored", logger.String("state", s.state.String()))
		return
	}
	s.postLocked(sagaEvent{kind: evContinue, target: s.state})
}

// postLocked queues an event for the run loop.
func (s *Saga) postLocked(ev sagaEvent) {
	select {
	case s.events <- ev:
	default:
		s.log.Debug("saga event dropped, queue full")
	}
}

// Abort forces the saga toward Closed from any state.
func (s *Saga) Abort(reason string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	if !s.running {
		// Never started or already finished its loop: settle directly.
		s.cleanupLocked()
		s.state = StateClosed
		s.mu.Unlock()
		s.conn.sagaClosed(s, reason)
		return
	}
	s.mu.Unlock()
	select {
	case s.events <- sagaEvent{kind: evAbort, reason: reason}:
	default:
	}
}

// handleDialAck resumes an outgoing saga whose dial the peer has answered
// with its own dial carrying the peer's ephemeral key for the attempt.
// The ack can overtake our own AwaitDial->AwaitingDial transition, so both
// states accept it.
func (s *Saga) handleDialAck(peerEph []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role != RoleOutgoing || (s.state != StateAwaitDial && s.state != StateAwaitingDial) {
		s.log.Debug("dial ack ignored", logger.String("state", s.state.String()))
		return
	}
	if s.peerEph != nil {
		s.log.Debug("duplicate dial ack ignored")
		return
	}
	s.peerEph = peerEph
	s.postLocked(sagaEvent{kind: evContinue, target: StateAwaitingDial})
}

// handleDial resumes an incoming saga waiting for the peer's dial.
func (s *Saga) handleDial(peerEph []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role != RoleIncoming || (s.state != StateNew && s.state != StateAwaitingDial) {
		s.log.Debug("dial ignored", logger.String("state", s.state.String()))
		return
	}
	s.peerEph = peerEph
	s.postLocked(sagaEvent{kind: evContinue, target: StateAwaitingDial})
}

// handleOffer installs the peer's sealed session description into an
// incoming saga waiting for it.
func (s *Saga) handleOffer(peerEph, sealed []byte) {
	s.handleDescription(RoleIncoming, []SagaState{StateAwaitOffer, StateAwaitingOffer},
		StateAwaitingOffer, peerEph, sealed)
}

// handleAnswer installs the peer's sealed session description into an
// outgoing saga waiting for it. The peer may answer before our own
// post-offer transitions land, so every state between the offer send and
// the answer wait accepts it.
func (s *Saga) handleAnswer(peerEph, sealed []byte) {
	s.handleDescription(RoleOutgoing,
		[]SagaState{StateSendingOffer, StateOfferSent, StateAwaitAnswer, StateAwaitingAnswer},
		StateAwaitingAnswer, peerEph, sealed)
}

func (s *Saga) handleDescription(role Role, accept []SagaState, target SagaState, peerEph, sealed []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.role == role
	if ok {
		ok = false
		for _, st := range accept {
			if s.state == st {
				ok = true
				break
			}
		}
	}
	if !ok {
		s.log.Debug("description ignored", logger.String("state", s.state.String()))
		return
	}
	if s.remoteSDP != nil {
		s.log.Debug("duplicate description ignored")
		return
	}
	if s.peerEph == nil {
		s.peerEph = peerEph
	}
	if !s.channel.Ready() {
		if err := s.channel.Derive(s.peerEph); err != nil {
			s.log.Debug("shared key derivation failed", logger.Error(err))
			return
		}
	}
	plain, err := s.channel.Decrypt(sealed)
	if err != nil {
		s.conn.services.Metrics.RecordDecryptFailure()
		s.log.Debug("session description decrypt failed", logger.Error(err))
		return
	}
	var desc SessionDescription
	if err := json.Unmarshal(plain, &desc); err != nil {
		s.log.Debug("session description unmarshal failed", logger.Error(err))
		return
	}
	s.remoteSDP = &desc
	s.postLocked(sagaEvent{kind: evContinue, target: target})
}

// addCandidate feeds one sealed remote ICE candidate. Candidates arriving
// before the shared key is derived or the remote description is installed
// are buffered sealed and flushed on install.
func (s *Saga) addCandidate(sealed []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() || s.state == StateClosing {
		s.log.Debug("candidate ignored, saga closed")
		return
	}
	if s.channel.Ready() && s.pc != nil && s.remoteSet {
		cand, err := s.channel.Decrypt(sealed)
		if err != nil {
			s.conn.services.Metrics.RecordDecryptFailure()
			s.log.Debug("candidate decrypt failed", logger.Error(err))
			return
		}
		pc := s.pc
		go func() {
			if err := pc.AddICECandidate(cand); err != nil {
				s.log.Debug("add candidate failed", logger.Error(err))
			}
		}()
		return
	}
	s.buffered = append(s.buffered, sealed)
}

// takeChannel hands the attempt's secure channel to a successor saga and
// leaves this one unable to touch it again. Used when offer glare demotes
// the local side from offerer to answerer: the peer sealed its offer
// against this channel's ephemeral key.
func (s *Saga) takeChannel() (*session.Channel, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stolen = true
	return s.channel, s.peerEph
}

func (s *Saga) setState(next SagaState) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	s.log.Debug("saga transition",
		logger.String("from", prev.String()),
		logger.String("to", next.String()))
	s.conn.sagaProgress(s, next)
}

func (s *Saga) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.conn.services.CallTimeout)
}

// wait suspends until an event or the attempt deadline. It returns the
// event and true, or false when the deadline elapsed.
func (s *Saga) wait(deadline <-chan time.Time) (sagaEvent, bool) {
	select {
	case ev := <-s.events:
		return ev, true
	case <-deadline:
		return sagaEvent{}, false
	}
}

// run is the saga's cooperative task. It advances through the state table
// until Connected or Closed.
func (s *Saga) run() {
	timer := time.NewTimer(s.conn.services.AttemptDeadline)
	defer timer.Stop()

	failReason := ""
	for {
		st := s.State()
		switch st {
		case StateNew:
			if s.role == RoleOutgoing {
				s.setState(StateAwaitDial)
			} else {
				s.setState(StateAwaitingDial)
			}

		case StateAwaitDial:
			// Outgoing initiation: announce the attempt and our ephemeral key.
			ctx, cancel := s.callContext()
			err := s.conn.services.Calls.Dial(ctx, s.peer, s.channel.PublicKey())
			cancel()
			if err != nil {
				failReason = "transport"
				s.log.Debug("dial failed", logger.Error(err))
				s.setState(StateClosing)
				continue
			}
			s.setState(StateAwaitingDial)

		case StateAwaitingDial:
			ev, ok := s.wait(timer.C)
			if !ok {
				failReason = "deadline"
				s.setState(StateClosing)
				continue
			}
			switch ev.kind {
			case evContinue:
				if ev.target != StateAwaitingDial {
					continue
				}
				if s.role == RoleOutgoing {
					s.setState(StateDialAccepted)
				} else {
					s.setState(StateAwaitOffer)
				}
			case evAbort:
				failReason = ev.reason
				s.setState(StateClosing)
			}

		case StateDialAccepted:
			if err := s.deriveShared(); err != nil {
				failReason = "derive"
				s.setState(StateClosing)
				continue
			}
			s.setState(StateSendOffer)

		case StateSendOffer:
			if err := s.prepareOffer(); err != nil {
				failReason = "offer"
				s.log.Debug("offer preparation failed", logger.Error(err))
				s.setState(StateClosing)
				continue
			}
			s.setState(StateSendingOffer)

		case StateSendingOffer:
			ctx, cancel := s.callContext()
			err := s.conn.services.Calls.Offer(ctx, s.peer, s.channel.PublicKey(), s.sealedOut)
			cancel()
			if err != nil {
				failReason = "transport"
				s.log.Debug("offer send failed", logger.Error(err))
				s.setState(StateClosing)
				continue
			}
			s.setState(StateOfferSent)

		case StateOfferSent:
			s.setState(StateAwaitAnswer)

		case StateAwaitAnswer:
			s.setState(StateAwaitingAnswer)

		case StateAwaitingAnswer:
			ev, ok := s.wait(timer.C)
			if !ok {
				failReason = "deadline"
				s.setState(StateClosing)
				continue
			}
			switch ev.kind {
			case evContinue:
				if ev.target != StateAwaitingAnswer {
					continue
				}
				s.setState(StateAnswerReceived)
			case evAbort:
				failReason = ev.reason
				s.setState(StateClosing)
			}

		case StateAnswerReceived:
			if err := s.installRemote(); err != nil {
				failReason = "remote-description"
				s.log.Debug("remote description install failed", logger.Error(err))
				s.setState(StateClosing)
				continue
			}
			s.setState(StateAwaitConnection)

		case StateAwaitOffer:
			// Incoming acknowledgment: hand the peer our ephemeral key so it
			// can seal the offer.
			ctx, cancel := s.callContext()
			err := s.conn.services.Calls.Dial(ctx, s.peer, s.channel.PublicKey())
			cancel()
			if err != nil {
				failReason = "transport"
				s.log.Debug("dial ack failed", logger.Error(err))
				s.setState(StateClosing)
				continue
			}
			s.setState(StateAwaitingOffer)

		case StateAwaitingOffer:
			ev, ok := s.wait(timer.C)
			if !ok {
				failReason = "deadline"
				s.setState(StateClosing)
				continue
			}
			switch ev.kind {
			case evContinue:
				if ev.target != StateAwaitingOffer {
					continue
				}
				s.setState(StateOfferReceived)
			case evAbort:
				failReason = ev.reason
				s.setState(StateClosing)
			}

		case StateOfferReceived:
			if err := s.setupPeerConnection(); err != nil {
				failReason = "peer-connection"
				s.log.Debug("peer connection setup failed", logger.Error(err))
				s.setState(StateClosing)
				continue
			}
			if err := s.installRemote(); err != nil {
				failReason = "remote-description"
				s.log.Debug("remote description install failed", logger.Error(err))
				s.setState(StateClosing)
				continue
			}
			s.setState(StateSendAnswer)

		case StateSendAnswer:
			if err := s.prepareAnswer(); err != nil {
				failReason = "answer"
				s.log.Debug("answer preparation failed", logger.Error(err))
				s.setState(StateClosing)
				continue
			}
			s.setState(StateSendingAnswer)

		case StateSendingAnswer:
			ctx, cancel := s.callContext()
			err := s.conn.services.Calls.Answer(ctx, s.peer, s.channel.PublicKey(), s.sealedOut)
			cancel()
			if err != nil {
				failReason = "transport"
				s.log.Debug("answer send failed", logger.Error(err))
				s.setState(StateClosing)
				continue
			}
			s.setState(StateAnswerSent)

		case StateAnswerSent:
			s.setState(StateAwaitConnection)

		case StateAwaitConnection:
			s.setState(StateAwaitingConnection)

		case StateAwaitingConnection:
			ev, ok := s.wait(timer.C)
			if !ok {
				failReason = "deadline"
				s.setState(StateClosing)
				continue
			}
			switch ev.kind {
			case evConnected:
				s.setState(StateConnected)
			case evAbort:
				failReason = ev.reason
				s.setState(StateClosing)
			case evContinue:
				// Nothing to resume here; keep waiting for the channel.
			}

		case StateConnected:
			s.mu.Lock()
			s.running = false
			dc := s.dc
			s.mu.Unlock()
			s.conn.services.Metrics.RecordSagaConnect(time.Since(s.started))
			s.conn.sagaConnected(s, dc)
			return

		case StateClosing:
			s.mu.Lock()
			s.cleanupLocked()
			s.state = StateClosed
			s.running = false
			s.mu.Unlock()
			if failReason == "" {
				failReason = "aborted"
			}
			s.conn.services.Metrics.RecordSagaFailure(failReason)
			s.conn.sagaClosed(s, failReason)
			return

		case StateClosed:
			return
		}
	}
}

// deriveShared derives the attempt's symmetric key from the peer's
// ephemeral key; a no-op when a handler already derived it.
func (s *Saga) deriveShared() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel.Ready() {
		return nil
	}
	if s.peerEph == nil {
		return errors.New("peer ephemeral key not set")
	}
	return s.channel.Derive(s.peerEph)
}

// setupPeerConnection creates the underlying transport endpoint and hooks
// its callbacks. The outgoing side creates the data channel; the incoming
// side adopts the remotely-created one.
func (s *Saga) setupPeerConnection() error {
	pc, err := s.conn.services.Connector.NewPeerConnection(s.conn.services.ICEServers)
	if err != nil {
		return err
	}

	pc.OnICECandidate(func(cand []byte) {
		s.sendCandidate(cand)
	})
	pc.OnConnectionFailed(func() {
		s.Abort("peer-connection-failed")
	})

	if s.role == RoleOutgoing {
		dc, err := pc.CreateDataChannel(dataChannelLabel)
		if err != nil {
			pc.Close()
			return err
		}
		s.adoptDataChannel(dc)
	} else {
		pc.OnDataChannel(func(dc DataChannel) {
			s.adoptDataChannel(dc)
		})
	}

	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()
	return nil
}

func (s *Saga) adoptDataChannel(dc DataChannel) {
	s.mu.Lock()
	s.dc = dc
	s.mu.Unlock()
	dc.OnMessage(func(data []byte) {
		s.conn.handleMessage(data)
	})
	dc.OnOpen(func() {
		select {
		case s.events <- sagaEvent{kind: evConnected}:
		default:
		}
	})
}

// prepareOffer builds and seals the local offer.
func (s *Saga) prepareOffer() error {
	if err := s.setupPeerConnection(); err != nil {
		return err
	}
	desc, err := s.pc.CreateOffer()
	if err != nil {
		return err
	}
	return s.sealDescription(desc)
}

// prepareAnswer builds and seals the local answer.
func (s *Saga) prepareAnswer() error {
	desc, err := s.pc.CreateAnswer()
	if err != nil {
		return err
	}
	return s.sealDescription(desc)
}

func (s *Saga) sealDescription(desc SessionDescription) error {
	plain, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sealed, err := s.channel.Encrypt(plain)
	if err != nil {
		return err
	}
	s.sealedOut = sealed
	return nil
}

// installRemote installs the decrypted remote description and flushes any
// buffered candidates.
func (s *Saga) installRemote() error {
	s.mu.Lock()
	pc := s.pc
	desc := s.remoteSDP
	s.mu.Unlock()
	if pc == nil || desc == nil {
		return errors.New("no peer connection or remote description")
	}
	if err := pc.SetRemoteDescription(*desc); err != nil {
		return err
	}
	s.mu.Lock()
	s.remoteSet = true
	pending := s.buffered
	s.buffered = nil
	s.mu.Unlock()
	for _, sealed := range pending {
		s.mu.Lock()
		cand, err := s.channel.Decrypt(sealed)
		s.mu.Unlock()
		if err != nil {
			s.conn.services.Metrics.RecordDecryptFailure()
			s.log.Debug("buffered candidate decrypt failed", logger.Error(err))
			continue
		}
		if err := pc.AddICECandidate(cand); err != nil {
			s.log.Debug("buffered candidate rejected", logger.Error(err))
		}
	}
	return nil
}

// sendCandidate seals and ships one local ICE candidate. Errors are logged
// only; candidate loss degrades, not breaks, connectivity.
func (s *Saga) sendCandidate(cand []byte) {
	s.mu.Lock()
	if s.stolen || !s.channel.Ready() {
		s.mu.Unlock()
		return
	}
	sealed, err := s.channel.Encrypt(cand)
	ephPub := s.channel.PublicKey()
	s.mu.Unlock()
	if err != nil {
		s.log.Debug("candidate seal failed", logger.Error(err))
		return
	}

	source := envelope.IceSourceIncoming
	if s.role == RoleOutgoing {
		source = envelope.IceSourceOutgoing
	}
	ctx, cancel := s.callContext()
	defer cancel()
	if err := s.conn.services.Calls.Ice(ctx, s.peer, ephPub, sealed, source); err != nil {
		s.log.Debug("candidate send failed", logger.Error(err))
	}
}

// cleanupLocked releases the attempt's transport resources.
func (s *Saga) cleanupLocked() {
	if s.dc != nil {
		s.dc.Close()
		s.dc = nil
	}
	if s.pc != nil {
		s.pc.Close()
		s.pc = nil
	}
	s.buffered = nil
	s.remoteSDP = nil
	s.sealedOut = nil
}
