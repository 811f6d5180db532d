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

package push

import (
	"sync"
	"time"

	"github.com/vorobalek/whisper-go/envelope"
	"github.com/vorobalek/whisper-go/internal/logger"
)

// Permission is the host's notification permission state.
type Permission int

const (
	PermissionDefault Permission = iota
	PermissionGranted
	PermissionDenied
)

// quietInterval suppresses repeat notifications for the same peer.
const quietInterval = 30 * time.Second

// Options mirror the push configuration the application passes in.
type Options struct {
	// Disable turns the push machinery off entirely.
	Disable bool

	// VAPIDKey is the base64url PKCS#8 application server key.
	VAPIDKey string

	// Show displays one notification to the user and reports success.
	// Hosts without a notification surface may leave it nil.
	Show func(title string, body string) bool

	// Permission hooks fire once the permission state is known.
	OnPermissionDefault func()
	OnPermissionGranted func()
	OnPermissionDenied  func()
}

// Notifier owns the push subscription and notification dedup. The
// subscription is re-published with an update call on every primary
// channel reconnect.
type Notifier struct {
	opts Options
	key  *VAPIDKey
	log  logger.Logger

	mu           sync.Mutex
	subscription *envelope.Subscription
	lastShown    map[string]time.Time
}

// NewNotifier wires the notifier; a nil VAPID key is fine when push is
// disabled.
func NewNotifier(opts Options, log logger.Logger) (*Notifier, error) {
	if log == nil {
		log = logger.Nop()
	}
	n := &Notifier{
		opts:      opts,
		log:       log,
		lastShown: make(map[string]time.Time),
	}
	if opts.Disable {
		return n, nil
	}
	if opts.VAPIDKey != "" {
		key, err := ParseVAPIDKey(opts.VAPIDKey)
		if err != nil {
			return nil, err
		}
		n.key = key
	}
	return n, nil
}

// SetPermission reports the host's permission state and fires the
// matching hook.
func (n *Notifier) SetPermission(p Permission) {
	switch p {
	case PermissionGranted:
		if n.opts.OnPermissionGranted != nil {
			n.opts.OnPermissionGranted()
		}
	case PermissionDenied:
		if n.opts.OnPermissionDenied != nil {
			n.opts.OnPermissionDenied()
		}
	default:
		if n.opts.OnPermissionDefault != nil {
			n.opts.OnPermissionDefault()
		}
	}
}

// SetSubscription installs the host-provided push subscription.
func (n *Notifier) SetSubscription(sub *envelope.Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subscription = sub
}

// Subscription returns the subscription to publish with update calls, or
// nil when push is disabled or absent.
func (n *Notifier) Subscription() *envelope.Subscription {
	if n.opts.Disable {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.subscription
}

// Key returns the VAPID key, or nil.
func (n *Notifier) Key() *VAPIDKey {
	return n.key
}

// Notify shows one notification for a peer, deduplicating repeats inside
// the quiet interval. Returns whether a notification was displayed.
func (n *Notifier) Notify(peer, title, body string) bool {
	if n.opts.Disable || n.opts.Show == nil {
		return false
	}

	n.mu.Lock()
	if last, ok := n.lastShown[peer]; ok && time.Since(last) < quietInterval {
		n.mu.Unlock()
		n.log.Debug("notification suppressed inside quiet interval")
		return false
	}
	n.lastShown[peer] = time.Now()
	n.mu.Unlock()

	return n.opts.Show(title, body)
}
