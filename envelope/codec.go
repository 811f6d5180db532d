package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/vorobalek/whisper-go/clock"
	"github.com/vorobalek/whisper-go/crypto/keys"
	"github.com/vorobalek/whisper-go/internal/logger"
)

// MaxClockSkew is the freshness window for peer-directed envelopes. An
// envelope whose timestamp differs from the relay clock by more than this
// is treated as replayed or stale and dropped.
const MaxClockSkew = 5000 // milliseconds

// Signer is the identity surface the codec needs: detached signing plus the
// base64 public key that doubles as the local address.
type Signer interface {
	Sign(message []byte) ([]byte, error)
	PublicKey() string
}

// InvalidEnvelopeError reports which validation check an inbound envelope
// failed. Handlers drop such envelopes silently.
type InvalidEnvelopeError struct {
	Check string // "timestamp", "recipient", "signature", "replay"
}

func (e *InvalidEnvelopeError) Error() string {
	return fmt.Sprintf("invalid envelope: %s check failed", e.Check)
}

// Parsed is an envelope with its payload fields extracted. Which fields are
// set depends on the method.
type Parsed struct {
	Envelope

	Sender       string
	Timestamp    int64
	Recipient    string
	EphemeralKey []byte
	Data         []byte
	Source       IceSource
	Subscription *Subscription
}

// Codec serializes, signs, parses, and validates envelopes.
type Codec struct {
	signer Signer
	clk    *clock.Service
	replay *ReplayGuard
	log    logger.Logger
}

// NewCodec creates a codec bound to the local identity and relay clock.
// The replay guard may be nil to disable replay tracking.
func NewCodec(signer Signer, clk *clock.Service, replay *ReplayGuard, log logger.Logger) *Codec {
	if log == nil {
		log = logger.Nop()
	}
	return &Codec{signer: signer, clk: clk, replay: replay, log: log}
}

// Sign marshals the payload, signs the exact marshaled bytes, and wraps both
// into an envelope. The recipient verifies against the same bytes, so the
// payload serialization must be stable; the single-letter field order of the
// payload structs guarantees that.
func (c *Codec) Sign(method Method, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	sig, err := c.signer.Sign(raw)
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}
	return &Envelope{
		Method:    method,
		Payload:   raw,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// Parse decodes a raw envelope and extracts the payload fields for its
// method. It performs no validation beyond shape.
func (c *Codec) Parse(raw []byte) (*Parsed, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if !env.Method.Valid() {
		return nil, fmt.Errorf("unknown method %q", env.Method)
	}

	p := &Parsed{Envelope: env}
	switch env.Method {
	case MethodUpdate:
		var body UpdatePayload
		if err := json.Unmarshal(env.Payload, &body); err != nil {
			return nil, fmt.Errorf("unmarshal update payload: %w", err)
		}
		p.Sender = body.Sender
		p.Subscription = body.Subscription

	case MethodDial:
		var body DialPayload
		if err := json.Unmarshal(env.Payload, &body); err != nil {
			return nil, fmt.Errorf("unmarshal dial payload: %w", err)
		}
		p.Sender, p.Timestamp, p.Recipient = body.Sender, body.Timestamp, body.Recipient
		eph, err := base64.StdEncoding.DecodeString(body.EphemeralKey)
		if err != nil {
			return nil, fmt.Errorf("decode ephemeral key: %w", err)
		}
		p.EphemeralKey = eph

	case MethodOffer, MethodAnswer:
		var body SessionPayload
		if err := json.Unmarshal(env.Payload, &body); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Method, err)
		}
		p.Sender, p.Timestamp, p.Recipient = body.Sender, body.Timestamp, body.Recipient
		eph, err := base64.StdEncoding.DecodeString(body.EphemeralKey)
		if err != nil {
			return nil, fmt.Errorf("decode ephemeral key: %w", err)
		}
		data, err := base64.StdEncoding.DecodeString(body.Data)
		if err != nil {
			return nil, fmt.Errorf("decode session data: %w", err)
		}
		p.EphemeralKey, p.Data = eph, data

	case MethodIce:
		var body IcePayload
		if err := json.Unmarshal(env.Payload, &body); err != nil {
			return nil, fmt.Errorf("unmarshal ice payload: %w", err)
		}
		p.Sender, p.Timestamp, p.Recipient = body.Sender, body.Timestamp, body.Recipient
		eph, err := base64.StdEncoding.DecodeString(body.EphemeralKey)
		if err != nil {
			return nil, fmt.Errorf("decode ephemeral key: %w", err)
		}
		data, err := base64.StdEncoding.DecodeString(body.Data)
		if err != nil {
			return nil, fmt.Errorf("decode candidate data: %w", err)
		}
		p.EphemeralKey, p.Data, p.Source = eph, data, body.Source

	case MethodClose:
		var body ClosePayload
		if err := json.Unmarshal(env.Payload, &body); err != nil {
			return nil, fmt.Errorf("unmarshal close payload: %w", err)
		}
		p.Sender, p.Timestamp, p.Recipient = body.Sender, body.Timestamp, body.Recipient
	}

	return p, nil
}

// Verify runs the inbound validation discipline: timestamp freshness,
// recipient match, detached signature, replay. Update envelopes carry no
// recipient or timestamp and skip the first two checks. The relay is
// untrusted, so a failed check is not an error condition for the caller;
// it returns an InvalidEnvelopeError the caller logs at debug and drops.
func (c *Codec) Verify(p *Parsed) error {
	if p.Method.PeerDirected() {
		skew := p.Timestamp - c.clk.ServerTime()
		if skew < -MaxClockSkew || skew > MaxClockSkew {
			return &InvalidEnvelopeError{Check: "timestamp"}
		}
		if p.Recipient != c.signer.PublicKey() {
			return &InvalidEnvelopeError{Check: "recipient"}
		}
	}

	senderPub, err := base64.StdEncoding.DecodeString(p.Sender)
	if err != nil {
		return &InvalidEnvelopeError{Check: "signature"}
	}
	sig, err := base64.StdEncoding.DecodeString(p.Signature)
	if err != nil {
		return &InvalidEnvelopeError{Check: "signature"}
	}
	if err := keys.VerifyWithPublic(senderPub, p.Payload, sig); err != nil {
		return &InvalidEnvelopeError{Check: "signature"}
	}

	if c.replay != nil && p.Method.PeerDirected() && c.replay.Seen(p.Sender, p.Signature) {
		return &InvalidEnvelopeError{Check: "replay"}
	}

	return nil
}
