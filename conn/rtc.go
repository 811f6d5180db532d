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

// The peer-connection primitive is an external collaborator. The core
// depends only on these interfaces; the webrtc package provides the pion
// implementation and tests provide fakes.

// SessionDescription is the negotiated description exchanged in offer and
// answer calls. It is serialized to JSON, UTF-8 encoded, and AEAD-sealed
// before leaving the process.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// PeerConnector creates peer connections.
type PeerConnector interface {
	NewPeerConnection(iceServers []string) (PeerConnection, error)
}

// PeerConnection is one attempt's transport endpoint.
type PeerConnection interface {
	// CreateOffer produces the local offer and installs it as the local
	// description.
	CreateOffer() (SessionDescription, error)

	// CreateAnswer produces the local answer and installs it as the local
	// description. The remote offer must be installed first.
	CreateAnswer() (SessionDescription, error)

	// SetRemoteDescription installs the peer's description.
	SetRemoteDescription(desc SessionDescription) error

	// AddICECandidate feeds one remote candidate (serialized JSON).
	AddICECandidate(candidate []byte) error

	// OnICECandidate registers the local candidate callback.
	OnICECandidate(fn func(candidate []byte))

	// CreateDataChannel opens the negotiation for a named channel.
	CreateDataChannel(label string) (DataChannel, error)

	// OnDataChannel registers the remotely-created channel callback.
	OnDataChannel(fn func(DataChannel))

	// OnConnectionFailed registers a callback for terminal transport
	// failure (failed, disconnected beyond recovery, closed).
	OnConnectionFailed(fn func())

	// Close releases the attempt's transport resources.
	Close() error
}

// DataChannel is the ready bidirectional message channel surfaced to the
// application once a saga connects.
type DataChannel interface {
	Label() string
	Send(data []byte) error
	OnOpen(fn func())
	OnMessage(fn func(data []byte))
	Close() error
}
