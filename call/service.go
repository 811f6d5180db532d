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

// Package call builds, signs, and routes call envelopes, and dispatches
// validated inbound calls to the connection layer.
package call

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vorobalek/whisper-go/clock"
	"github.com/vorobalek/whisper-go/envelope"
	"github.com/vorobalek/whisper-go/internal/logger"
	"github.com/vorobalek/whisper-go/internal/metrics"
	"github.com/vorobalek/whisper-go/transport"
)

// Dispatcher receives validated inbound calls. The connection layer
// implements it; every method must swallow its own "ignore" conditions.
type Dispatcher interface {
	OnUpdate(p *envelope.Parsed)
	OnDial(p *envelope.Parsed)
	OnOffer(p *envelope.Parsed)
	OnAnswer(p *envelope.Parsed)
	OnIce(p *envelope.Parsed)
	OnClose(p *envelope.Parsed)
}

// Config wires the call service.
type Config struct {
	Codec     *envelope.Codec
	Clock     *clock.Service
	Primary   transport.Primary
	Secondary transport.Sender
	Beacon    transport.Beacon
	Metrics   *metrics.Collector
	Logger    logger.Logger

	// OnNewVersion fires when the relay rejects a call because the client
	// version is outdated.
	OnNewVersion func()
}

// Service is the single path all outbound calls take to the relay.
type Service struct {
	codec        *envelope.Codec
	clk          *clock.Service
	primary      transport.Primary
	secondary    transport.Sender
	beacon       transport.Beacon
	metrics      *metrics.Collector
	log          logger.Logger
	onNewVersion func()

	sender     string
	dispatcher Dispatcher
}

// NewService creates the call service. The sender address is the local
// base64 public key embedded in every payload.
func NewService(sender string, cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewCollector()
	}
	return &Service{
		codec:        cfg.Codec,
		clk:          cfg.Clock,
		primary:      cfg.Primary,
		secondary:    cfg.Secondary,
		beacon:       cfg.Beacon,
		metrics:      m,
		log:          log,
		onNewVersion: cfg.OnNewVersion,
		sender:       sender,
	}
}

// SetDispatcher installs the inbound call dispatcher. It must be set
// before the primary channel starts delivering calls.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Update announces the sender, optionally carrying a push subscription.
func (s *Service) Update(ctx context.Context, sub *envelope.Subscription) error {
	payload := envelope.UpdatePayload{Sender: s.sender, Subscription: sub}
	return s.send(ctx, envelope.MethodUpdate, payload)
}

// Dial invites recipient to a connection attempt.
func (s *Service) Dial(ctx context.Context, recipient string, ephemeralPub []byte) error {
	payload := envelope.DialPayload{
		Sender:       s.sender,
		Timestamp:    s.clk.ServerTime(),
		Recipient:    recipient,
		EphemeralKey: base64.StdEncoding.EncodeToString(ephemeralPub),
	}
	return s.send(ctx, envelope.MethodDial, payload)
}

// Offer sends an AEAD-sealed session description.
func (s *Service) Offer(ctx context.Context, recipient string, ephemeralPub, sealed []byte) error {
	return s.sendSession(ctx, envelope.MethodOffer, recipient, ephemeralPub, sealed)
}

// Answer sends an AEAD-sealed session description in reply to an offer.
func (s *Service) Answer(ctx context.Context, recipient string, ephemeralPub, sealed []byte) error {
	return s.sendSession(ctx, envelope.MethodAnswer, recipient, ephemeralPub, sealed)
}

func (s *Service) sendSession(ctx context.Context, method envelope.Method, recipient string, ephemeralPub, sealed []byte) error {
	payload := envelope.SessionPayload{
		Sender:       s.sender,
		Timestamp:    s.clk.ServerTime(),
		Recipient:    recipient,
		EphemeralKey: base64.StdEncoding.EncodeToString(ephemeralPub),
		Data:         base64.StdEncoding.EncodeToString(sealed),
	}
	return s.send(ctx, method, payload)
}

// Ice sends one AEAD-sealed ICE candidate tagged with the producing saga.
func (s *Service) Ice(ctx context.Context, recipient string, ephemeralPub, sealed []byte, source envelope.IceSource) error {
	payload := envelope.IcePayload{
		Sender:       s.sender,
		Timestamp:    s.clk.ServerTime(),
		Recipient:    recipient,
		EphemeralKey: base64.StdEncoding.EncodeToString(ephemeralPub),
		Data:         base64.StdEncoding.EncodeToString(sealed),
		Source:       source,
	}
	return s.send(ctx, envelope.MethodIce, payload)
}

// Close tears down the connection with recipient. It goes out via the
// beacon only: teardown must work during process shutdown when no reply
// can be awaited.
func (s *Service) Close(recipient string) bool {
	payload := envelope.ClosePayload{
		Sender:    s.sender,
		Timestamp: s.clk.ServerTime(),
		Recipient: recipient,
	}
	env, err := s.codec.Sign(envelope.MethodClose, payload)
	if err != nil {
		s.log.Error("failed to sign close call", logger.Error(err))
		return false
	}
	body, err := json.Marshal(env)
	if err != nil {
		s.log.Error("failed to marshal close call", logger.Error(err))
		return false
	}
	if s.beacon == nil {
		return false
	}
	ok := s.beacon.Send(body)
	s.metrics.RecordCall(string(envelope.MethodClose), ok)
	return ok
}

// send signs the payload and routes it: primary when ready, secondary as
// fallback, ErrTransportUnavailable when both fail. Every decoded response
// refreshes the relay clock.
func (s *Service) send(ctx context.Context, method envelope.Method, payload any) error {
	env, err := s.codec.Sign(method, payload)
	if err != nil {
		return fmt.Errorf("sign %s call: %w", method, err)
	}

	resp, err := s.transmit(ctx, env)
	if err != nil {
		s.metrics.RecordCall(string(method), false)
		return err
	}

	if resp.Timestamp != 0 {
		s.clk.Observe(resp.Timestamp)
	}
	if !resp.OK {
		s.metrics.RecordCall(string(method), false)
		rejected := &RelayRejectedError{Reason: resp.Reason, Errors: resp.Errors}
		if resp.Reason == "version" && s.onNewVersion != nil {
			s.onNewVersion()
		}
		return rejected
	}
	s.metrics.RecordCall(string(method), true)
	return nil
}

func (s *Service) transmit(ctx context.Context, env *envelope.Envelope) (*envelope.Response, error) {
	var resp *envelope.Response
	var err error

	if s.primary != nil && s.primary.Ready() {
		resp, err = s.primary.Send(ctx, env)
		if err == nil && resp != nil {
			return resp, nil
		}
		s.log.Debug("primary transport failed, falling back",
			logger.String("method", string(env.Method)),
			logger.Error(err))
		s.metrics.RecordFallback()
	}

	if s.secondary == nil {
		return nil, ErrTransportUnavailable
	}
	resp, err = s.secondary.Send(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	if resp == nil {
		return nil, ErrInvalidResponse
	}
	return resp, nil
}

// HandleRaw parses and validates one relay-delivered envelope and
// dispatches it. Malformed, stale, misrouted, or replayed traffic is
// dropped with a debug log; the relay is untrusted and peers may send
// anything at any time.
func (s *Service) HandleRaw(raw []byte) {
	if s.dispatcher == nil {
		return
	}

	p, err := s.codec.Parse(raw)
	if err != nil {
		s.log.Debug("dropped unparsable call", logger.Error(err))
		s.metrics.RecordDroppedEnvelope("parse")
		return
	}
	if err := s.codec.Verify(p); err != nil {
		var inv *envelope.InvalidEnvelopeError
		check := "unknown"
		if errors.As(err, &inv) {
			check = inv.Check
		}
		s.log.Debug("dropped invalid call",
			logger.String("method", string(p.Method)),
			logger.String("check", check))
		s.metrics.RecordDroppedEnvelope(check)
		return
	}

	switch p.Method {
	case envelope.MethodUpdate:
		s.dispatcher.OnUpdate(p)
	case envelope.MethodDial:
		s.dispatcher.OnDial(p)
	case envelope.MethodOffer:
		s.dispatcher.OnOffer(p)
	case envelope.MethodAnswer:
		s.dispatcher.OnAnswer(p)
	case envelope.MethodIce:
		s.dispatcher.OnIce(p)
	case envelope.MethodClose:
		s.dispatcher.OnClose(p)
	}
}
