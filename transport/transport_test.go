package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorobalek/whisper-go/envelope"
)

func TestReconnectDelay(t *testing.T) {
	assert.Equal(t, 5000*time.Millisecond, reconnectDelay(0))
	assert.Equal(t, 5000*time.Millisecond, reconnectDelay(1))
	assert.Equal(t, 5000*time.Millisecond, reconnectDelay(4))
	assert.Equal(t, 6000*time.Millisecond, reconnectDelay(5))
	assert.Equal(t, 11000*time.Millisecond, reconnectDelay(10))
}

func TestSignalURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://relay.example", "ws://relay.example/signal/v1"},
		{"https://relay.example", "wss://relay.example/signal/v1"},
		{"https://relay.example/base/", "wss://relay.example/base/signal/v1"},
		{"wss://relay.example", "wss://relay.example/signal/v1"},
	}
	for _, tc := range tests {
		got, err := signalURL(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := signalURL("ftp://relay.example")
	assert.Error(t, err)
}

func TestHTTPSenderRoundTrip(t *testing.T) {
	var received envelope.Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, CallPath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(envelope.Response{OK: true, Timestamp: 42})
	}))
	defer srv.Close()

	sender := NewHTTPSender(srv.URL)
	resp, err := sender.Send(context.Background(), &envelope.Envelope{
		Method:    envelope.MethodDial,
		Payload:   json.RawMessage(`{"a":"sender"}`),
		Signature: "sig",
	})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, int64(42), resp.Timestamp)
	assert.Equal(t, envelope.MethodDial, received.Method)
}

func TestHTTPSenderRejectsGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	sender := NewHTTPSender(srv.URL)
	_, err := sender.Send(context.Background(), &envelope.Envelope{Method: envelope.MethodDial})
	assert.Error(t, err)
}

func TestHTTPBeaconFireAndForget(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		mu.Lock()
		bodies = append(bodies, string(buf[:n]))
		mu.Unlock()
	}))
	defer srv.Close()

	beacon := NewHTTPBeacon(srv.URL)
	assert.True(t, beacon.Send([]byte(`{"a":"close"}`)))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1)
	assert.Contains(t, bodies[0], "close")
}

func TestHTTPBeaconReportsFailure(t *testing.T) {
	beacon := NewHTTPBeacon("http://127.0.0.1:1")
	assert.False(t, beacon.Send([]byte("x")))
}

// wsTestRelay is a minimal in-process relay endpoint: it answers every
// call with ok and can push raw frames.
type wsTestRelay struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
	calls []envelope.Envelope
}

func (r *wsTestRelay) handler(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.conns = append(r.conns, conn)
	r.mu.Unlock()

	go func() {
		for {
			var env envelope.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			r.mu.Lock()
			r.calls = append(r.calls, env)
			r.mu.Unlock()
			conn.WriteJSON(envelope.Response{OK: true, Timestamp: time.Now().UnixMilli()})
		}
	}()
}

func (r *wsTestRelay) push(raw string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.conns {
		conn.WriteMessage(websocket.TextMessage, []byte(raw))
	}
}

func TestWSChannelSendAndPush(t *testing.T) {
	relay := &wsTestRelay{t: t}
	mux := http.NewServeMux()
	mux.HandleFunc(SignalPath, relay.handler)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var pushed [][]byte
	var pushedMu sync.Mutex
	readyCount := 0
	var readyMu sync.Mutex

	ch, err := NewWSChannel(srv.URL, WSOptions{
		OnCall: func(raw []byte) {
			pushedMu.Lock()
			pushed = append(pushed, raw)
			pushedMu.Unlock()
		},
		OnReady: func() {
			readyMu.Lock()
			readyCount++
			readyMu.Unlock()
		},
	}, nil)
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ch.WaitReady(ctx))
	assert.True(t, ch.Ready())

	resp, err := ch.Send(ctx, &envelope.Envelope{
		Method:    envelope.MethodUpdate,
		Payload:   json.RawMessage(`{"a":"me"}`),
		Signature: "sig",
	})
	require.NoError(t, err)
	assert.True(t, resp.OK)

	// A relay-pushed call (a frame with a method) lands in OnCall.
	relay.push(`{"a":"dial","b":{"a":"peer"},"c":"sig"}`)
	require.Eventually(t, func() bool {
		pushedMu.Lock()
		defer pushedMu.Unlock()
		return len(pushed) == 1
	}, 3*time.Second, 10*time.Millisecond)

	pushedMu.Lock()
	assert.True(t, strings.Contains(string(pushed[0]), `"dial"`))
	pushedMu.Unlock()

	readyMu.Lock()
	assert.GreaterOrEqual(t, readyCount, 1)
	readyMu.Unlock()
}

func TestWSChannelNotReadyWithoutServer(t *testing.T) {
	ch, err := NewWSChannel("http://127.0.0.1:1", WSOptions{}, nil)
	require.NoError(t, err)
	defer ch.Close()

	assert.False(t, ch.Ready())
	_, err = ch.Send(context.Background(), &envelope.Envelope{Method: envelope.MethodUpdate})
	assert.ErrorIs(t, err, ErrNotReady)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.Error(t, ch.WaitReady(ctx))
}
