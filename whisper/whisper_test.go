package whisper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorobalek/whisper-go/conn"
	"github.com/vorobalek/whisper-go/session"
	"github.com/vorobalek/whisper-go/store"
	"github.com/vorobalek/whisper-go/store/memory"
)

// nullConnector keeps Initialize from touching real WebRTC.
type nullConnector struct{}

func (nullConnector) NewPeerConnection(iceServers []string) (conn.PeerConnection, error) {
	return nil, assert.AnError
}

func newTestHandle(t *testing.T) *Handle {
	t.Helper()
	st, err := store.Open(context.Background(), memory.NewBackend(), "pw", nil)
	require.NoError(t, err)

	h, err := Initialize(context.Background(), Config{
		// Nothing listens here; the channel retries in the background and
		// calls fall back to the (equally dead) secondary, which is fine
		// for handle-level tests.
		ServerURL: "http://127.0.0.1:1",
		Store:     st,
		Connector: nullConnector{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestInitializeRequiresServerURL(t *testing.T) {
	_, err := Initialize(context.Background(), Config{})
	assert.Error(t, err)
}

func TestHandleExposesIdentity(t *testing.T) {
	h := newTestHandle(t)
	assert.NotEmpty(t, h.PublicKey())
	assert.NotZero(t, h.ServerTime())
}

func TestInitializeWithProvidedKeyPair(t *testing.T) {
	identity, err := session.GenerateIdentity()
	require.NoError(t, err)

	h, err := Initialize(context.Background(), Config{
		ServerURL:      "http://127.0.0.1:1",
		SigningKeyPair: identity.KeyPair(),
		Connector:      nullConnector{},
	})
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, identity.PublicKey(), h.PublicKey())
}

func TestGetCreatesConnectionAndChat(t *testing.T) {
	h := newTestHandle(t)

	c := h.Get("peer-key")
	require.NotNil(t, c)
	assert.Equal(t, "peer-key", c.PublicKey())
	assert.Equal(t, conn.ConnNew, c.State())

	// Same connection and an attached chat layer on repeat access.
	assert.Same(t, c, h.Get("peer-key"))
	assert.NotNil(t, h.Chat("peer-key"))
	assert.Equal(t, []string{"peer-key"}, h.List())
}

func TestDeleteRemovesConnection(t *testing.T) {
	h := newTestHandle(t)

	h.Get("peer-key")
	h.Delete("peer-key")
	assert.Empty(t, h.List())
	assert.NotNil(t, h.Get("peer-key"))
}

func TestShowNotificationWithoutSurface(t *testing.T) {
	h := newTestHandle(t)
	assert.False(t, h.ShowNotification("title", "body"))
}
