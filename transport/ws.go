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

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vorobalek/whisper-go/envelope"
	"github.com/vorobalek/whisper-go/internal/logger"
)

// SignalPath is the relay's persistent channel endpoint.
const SignalPath = "/signal/v1"

// WSChannel implements Primary over a single long-lived WebSocket. It
// reconnects forever with a backoff of max(1000+1000*retries, 5000) ms,
// invokes the OnReady hook after every reconnect, routes relay-pushed calls
// to OnCall, and matches responses to in-flight requests in FIFO order
// (the relay answers calls in the order it receives them on one channel).
type WSChannel struct {
	url          string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	log          logger.Logger

	onCall  func(raw []byte)
	onReady func()

	mu      sync.Mutex
	conn    *websocket.Conn
	pending []chan *envelope.Response
	ready   bool
	readyCh chan struct{}
	closed  bool
	stop    chan struct{}
}

// WSOptions tunes the channel. Zero values get defaults.
type WSOptions struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// OnCall receives raw relay-pushed envelopes.
	OnCall func(raw []byte)

	// OnReady runs after every successful (re)connect. The call service
	// uses it to re-publish the update call with the push subscription.
	OnReady func()
}

// NewWSChannel creates the primary channel for the given relay base URL
// and starts its connect loop.
func NewWSChannel(serverURL string, opts WSOptions, log logger.Logger) (*WSChannel, error) {
	wsURL, err := signalURL(serverURL)
	if err != nil {
		return nil, err
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}

	c := &WSChannel{
		url:          wsURL,
		dialTimeout:  opts.DialTimeout,
		writeTimeout: opts.WriteTimeout,
		log:          log,
		onCall:       opts.OnCall,
		onReady:      opts.OnReady,
		readyCh:      make(chan struct{}),
		stop:         make(chan struct{}),
	}
	go c.connectLoop()
	return c, nil
}

// signalURL converts an http(s) relay base URL into the ws(s) signal URL.
func signalURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme: %s", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + SignalPath
	return u.String(), nil
}

// reconnectDelay returns the wait before attempt number retries.
func reconnectDelay(retries int) time.Duration {
	delay := 1000 + 1000*retries
	if delay < 5000 {
		delay = 5000
	}
	return time.Duration(delay) * time.Millisecond
}

func (c *WSChannel) connectLoop() {
	retries := 0
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		dialer := &websocket.Dialer{HandshakeTimeout: c.dialTimeout}
		ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
		conn, _, err := dialer.DialContext(ctx, c.url, nil)
		cancel()
		if err != nil {
			c.log.Debug("primary channel dial failed",
				logger.String("url", c.url),
				logger.Int("retries", retries),
				logger.Error(err))
			retries++
			select {
			case <-time.After(reconnectDelay(retries)):
				continue
			case <-c.stop:
				return
			}
		}
		retries = 0

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.ready = true
		close(c.readyCh)
		c.mu.Unlock()

		c.log.Info("primary channel connected", logger.String("url", c.url))
		if c.onReady != nil {
			go c.onReady()
		}

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.ready = false
		c.readyCh = make(chan struct{})
		c.failPendingLocked()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		c.log.Warn("primary channel disconnected, reconnecting")
	}
}

// readLoop reads until the connection dies. Frames carrying a method field
// are relay-pushed calls; everything else is a response to the oldest
// in-flight request.
func (c *WSChannel) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("primary channel read error", logger.Error(err))
			}
			return
		}

		var probe struct {
			Method *string `json:"a"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			c.log.Debug("primary channel dropped undecodable frame", logger.Error(err))
			continue
		}

		if probe.Method != nil {
			if c.onCall != nil {
				c.onCall(raw)
			}
			continue
		}

		var resp envelope.Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			c.log.Debug("primary channel dropped undecodable response", logger.Error(err))
			continue
		}
		c.deliver(&resp)
	}
}

func (c *WSChannel) deliver(resp *envelope.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		c.log.Debug("primary channel response with no pending request")
		return
	}
	ch := c.pending[0]
	c.pending = c.pending[1:]
	ch <- resp
}

// failPendingLocked drains in-flight requests on disconnect so their
// senders fall back to the secondary transport.
func (c *WSChannel) failPendingLocked() {
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = nil
}

// Ready reports whether the channel is currently connected.
func (c *WSChannel) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// WaitReady blocks until the next (re)connect or ctx cancellation.
func (c *WSChannel) WaitReady(ctx context.Context) error {
	c.mu.Lock()
	if c.ready {
		c.mu.Unlock()
		return nil
	}
	ch := c.readyCh
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stop:
		return ErrNotReady
	}
}

// Send transmits one envelope and waits for the relay's response.
func (c *WSChannel) Send(ctx context.Context, env *envelope.Envelope) (*envelope.Response, error) {
	c.mu.Lock()
	if !c.ready || c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotReady
	}
	conn := c.conn
	respCh := make(chan *envelope.Response, 1)
	c.pending = append(c.pending, respCh)

	conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	err := conn.WriteJSON(env)
	if err != nil {
		// Drop our pending slot; the connection is going down anyway.
		for i, ch := range c.pending {
			if ch == respCh {
				c.pending = append(c.pending[:i], c.pending[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
		conn.Close()
		return nil, fmt.Errorf("write call: %w", err)
	}
	c.mu.Unlock()

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrNotReady
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears the channel down permanently.
func (c *WSChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.failPendingLocked()
	c.mu.Unlock()

	close(c.stop)
	if conn != nil {
		conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return conn.Close()
	}
	return nil
}
