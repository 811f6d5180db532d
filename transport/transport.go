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

// Package transport provides the three relay transports: the persistent
// bidirectional primary channel, the request/response secondary channel,
// and the fire-and-forget beacon used exclusively for close calls.
package transport

import (
	"context"
	"errors"

	"github.com/vorobalek/whisper-go/envelope"
)

// ErrNotReady is returned by the primary channel while it is reconnecting.
// Callers fall back to the secondary transport.
var ErrNotReady = errors.New("transport not ready")

// Sender transmits one signed envelope and returns the relay's response.
type Sender interface {
	Send(ctx context.Context, env *envelope.Envelope) (*envelope.Response, error)
}

// Primary is the persistent bidirectional channel shared by all
// connections. Besides request/response it delivers relay-pushed calls and
// exposes readiness so outbound traffic can gate on it.
type Primary interface {
	Sender

	// Ready reports whether the channel is currently connected.
	Ready() bool

	// WaitReady blocks until the channel (re)connects or ctx is done.
	WaitReady(ctx context.Context) error

	// Close tears the channel down permanently.
	Close() error
}

// Beacon sends a small fire-and-forget body. It must succeed-or-vanish
// without a reply, so it remains usable during process teardown.
type Beacon interface {
	Send(body []byte) bool
}
