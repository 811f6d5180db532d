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

// Package webrtc adapts pion/webrtc to the connection layer's
// peer-connection interfaces.
package webrtc

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/vorobalek/whisper-go/conn"
)

// Connector creates pion-backed peer connections.
type Connector struct{}

// NewConnector returns the default peer connector.
func NewConnector() *Connector {
	return &Connector{}
}

// NewPeerConnection implements conn.PeerConnector.
func (c *Connector) NewPeerConnection(iceServers []string) (conn.PeerConnection, error) {
	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}

	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return &peerConnection{pc: pc}, nil
}

type peerConnection struct {
	pc *webrtc.PeerConnection
}

func (p *peerConnection) CreateOffer() (conn.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return conn.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return conn.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return conn.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (p *peerConnection) CreateAnswer() (conn.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return conn.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return conn.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return conn.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (p *peerConnection) SetRemoteDescription(desc conn.SessionDescription) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (p *peerConnection) AddICECandidate(candidate []byte) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("unmarshal candidate: %w", err)
	}
	return p.pc.AddICECandidate(init)
}

func (p *peerConnection) OnICECandidate(fn func(candidate []byte)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// End-of-candidates marker; trickle peers do not need it.
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		fn(data)
	})
}

func (p *peerConnection) CreateDataChannel(label string) (conn.DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	return &dataChannel{dc: dc}, nil
}

func (p *peerConnection) OnDataChannel(fn func(conn.DataChannel)) {
	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(&dataChannel{dc: dc})
	})
}

func (p *peerConnection) OnConnectionFailed(fn func()) {
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			fn()
		}
	})
}

func (p *peerConnection) Close() error {
	return p.pc.Close()
}

type dataChannel struct {
	dc *webrtc.DataChannel
}

func (d *dataChannel) Label() string {
	return d.dc.Label()
}

func (d *dataChannel) Send(data []byte) error {
	return d.dc.Send(data)
}

func (d *dataChannel) OnOpen(fn func()) {
	d.dc.OnOpen(fn)
}

func (d *dataChannel) OnMessage(fn func(data []byte)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (d *dataChannel) Close() error {
	return d.dc.Close()
}
