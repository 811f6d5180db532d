package envelope

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorobalek/whisper-go/clock"
	"github.com/vorobalek/whisper-go/session"
)

func fixedClock(t *testing.T, at time.Time) *clock.Service {
	t.Helper()
	return clock.NewServiceWithNow(func() time.Time { return at })
}

func newTestCodec(t *testing.T) (*Codec, *session.Identity, *clock.Service) {
	t.Helper()
	identity, err := session.GenerateIdentity()
	require.NoError(t, err)
	clk := fixedClock(t, time.UnixMilli(1_700_000_000_000))
	return NewCodec(identity, clk, nil, nil), identity, clk
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	codec, identity, clk := newTestCodec(t)

	payload := DialPayload{
		Sender:       identity.PublicKey(),
		Timestamp:    clk.ServerTime(),
		Recipient:    identity.PublicKey(),
		EphemeralKey: base64.StdEncoding.EncodeToString(make([]byte, 32)),
	}
	env, err := codec.Sign(MethodDial, payload)
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	parsed, err := codec.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, MethodDial, parsed.Method)
	assert.Equal(t, identity.PublicKey(), parsed.Sender)
	assert.Equal(t, payload.Timestamp, parsed.Timestamp)
	assert.Len(t, parsed.EphemeralKey, 32)

	require.NoError(t, codec.Verify(parsed))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	codec, identity, clk := newTestCodec(t)

	payload := ClosePayload{
		Sender:    identity.PublicKey(),
		Timestamp: clk.ServerTime(),
		Recipient: identity.PublicKey(),
	}
	env, err := codec.Sign(MethodClose, payload)
	require.NoError(t, err)

	// Re-sign with a different timestamp in the payload but the old
	// signature.
	payload.Timestamp++
	tampered, err := json.Marshal(payload)
	require.NoError(t, err)
	env.Payload = tampered

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	parsed, err := codec.Parse(raw)
	require.NoError(t, err)

	err = codec.Verify(parsed)
	var inv *InvalidEnvelopeError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, "signature", inv.Check)
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	codec, identity, clk := newTestCodec(t)

	for _, skew := range []int64{-MaxClockSkew - 1, MaxClockSkew + 1, -10_000, 10_000} {
		payload := ClosePayload{
			Sender:    identity.PublicKey(),
			Timestamp: clk.ServerTime() + skew,
			Recipient: identity.PublicKey(),
		}
		env, err := codec.Sign(MethodClose, payload)
		require.NoError(t, err)
		raw, err := json.Marshal(env)
		require.NoError(t, err)
		parsed, err := codec.Parse(raw)
		require.NoError(t, err)

		err = codec.Verify(parsed)
		var inv *InvalidEnvelopeError
		require.ErrorAs(t, err, &inv, "skew %d", skew)
		assert.Equal(t, "timestamp", inv.Check)
	}
}

func TestVerifyAcceptsSkewWithinWindow(t *testing.T) {
	codec, identity, clk := newTestCodec(t)

	for _, skew := range []int64{-MaxClockSkew, 0, MaxClockSkew} {
		payload := ClosePayload{
			Sender:    identity.PublicKey(),
			Timestamp: clk.ServerTime() + skew,
			Recipient: identity.PublicKey(),
		}
		env, err := codec.Sign(MethodClose, payload)
		require.NoError(t, err)
		raw, err := json.Marshal(env)
		require.NoError(t, err)
		parsed, err := codec.Parse(raw)
		require.NoError(t, err)
		assert.NoError(t, codec.Verify(parsed), "skew %d", skew)
	}
}

func TestVerifyRejectsWrongRecipient(t *testing.T) {
	codec, identity, clk := newTestCodec(t)
	other, err := session.GenerateIdentity()
	require.NoError(t, err)

	payload := ClosePayload{
		Sender:    identity.PublicKey(),
		Timestamp: clk.ServerTime(),
		Recipient: other.PublicKey(),
	}
	env, err := codec.Sign(MethodClose, payload)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	parsed, err := codec.Parse(raw)
	require.NoError(t, err)

	err = codec.Verify(parsed)
	var inv *InvalidEnvelopeError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, "recipient", inv.Check)
}

func TestUpdateSkipsTimestampAndRecipientChecks(t *testing.T) {
	codec, identity, _ := newTestCodec(t)

	env, err := codec.Sign(MethodUpdate, UpdatePayload{Sender: identity.PublicKey()})
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	parsed, err := codec.Parse(raw)
	require.NoError(t, err)

	assert.NoError(t, codec.Verify(parsed))
	assert.Nil(t, parsed.Subscription)
}

func TestUpdateCarriesSubscription(t *testing.T) {
	codec, identity, _ := newTestCodec(t)

	exp := int64(123)
	env, err := codec.Sign(MethodUpdate, UpdatePayload{
		Sender: identity.PublicKey(),
		Subscription: &Subscription{
			Endpoint:       "https://push.example/sub",
			ExpirationTime: &exp,
			Keys:           SubscriptionKeys{P256DH: "p", Auth: "a"},
		},
	})
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	parsed, err := codec.Parse(raw)
	require.NoError(t, err)
	require.NotNil(t, parsed.Subscription)
	assert.Equal(t, "https://push.example/sub", parsed.Subscription.Endpoint)
	assert.Equal(t, "p", parsed.Subscription.Keys.P256DH)
}

func TestVerifyRejectsReplay(t *testing.T) {
	identity, err := session.GenerateIdentity()
	require.NoError(t, err)
	clk := fixedClock(t, time.UnixMilli(1_700_000_000_000))
	guard := NewReplayGuard(time.Minute)
	defer guard.Close()
	codec := NewCodec(identity, clk, guard, nil)

	payload := ClosePayload{
		Sender:    identity.PublicKey(),
		Timestamp: clk.ServerTime(),
		Recipient: identity.PublicKey(),
	}
	env, err := codec.Sign(MethodClose, payload)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	parsed, err := codec.Parse(raw)
	require.NoError(t, err)
	require.NoError(t, codec.Verify(parsed))

	replayed, err := codec.Parse(raw)
	require.NoError(t, err)
	err = codec.Verify(replayed)
	var inv *InvalidEnvelopeError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, "replay", inv.Check)
}

func TestParseRejectsUnknownMethod(t *testing.T) {
	codec, _, _ := newTestCodec(t)
	_, err := codec.Parse([]byte(`{"a":"bogus","b":{},"c":""}`))
	assert.Error(t, err)
}

func TestIcePayloadSourceRoundTrip(t *testing.T) {
	codec, identity, clk := newTestCodec(t)

	env, err := codec.Sign(MethodIce, IcePayload{
		Sender:       identity.PublicKey(),
		Timestamp:    clk.ServerTime(),
		Recipient:    identity.PublicKey(),
		EphemeralKey: base64.StdEncoding.EncodeToString(make([]byte, 32)),
		Data:         base64.StdEncoding.EncodeToString([]byte("candidate")),
		Source:       IceSourceOutgoing,
	})
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	parsed, err := codec.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, IceSourceOutgoing, parsed.Source)
	assert.Equal(t, []byte("candidate"), parsed.Data)
}
