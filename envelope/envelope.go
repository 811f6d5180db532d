// Package envelope implements the signed call envelope protocol spoken with
// the relay. An envelope is {a: method, b: payload, c: signature} where the
// signature is a detached signature of the payload bytes under the sender's
// long-term signing key. Field labels are single letters for on-the-wire
// compatibility with the existing relay.
package envelope

import (
	"encoding/json"
)

// Method identifies the kind of call an envelope carries.
type Method string

const (
	MethodUpdate Method = "update"
	MethodDial   Method = "dial"
	MethodOffer  Method = "offer"
	MethodAnswer Method = "answer"
	MethodIce    Method = "ice"
	MethodClose  Method = "close"
)

// Valid reports whether the method is one the protocol knows.
func (m Method) Valid() bool {
	switch m {
	case MethodUpdate, MethodDial, MethodOffer, MethodAnswer, MethodIce, MethodClose:
		return true
	}
	return false
}

// PeerDirected reports whether envelopes of this method carry a recipient
// and a relay-clock timestamp. Everything except update does.
func (m Method) PeerDirected() bool {
	return m != MethodUpdate
}

// IceSource tags an ICE candidate with the saga that produced it on the
// sender's side.
type IceSource int

const (
	IceSourceUnknown IceSource = iota
	IceSourceIncoming
	IceSourceOutgoing
)

// String returns a readable name for logs.
func (s IceSource) String() string {
	switch s {
	case IceSourceIncoming:
		return "incoming"
	case IceSourceOutgoing:
		return "outgoing"
	default:
		return "unknown"
	}
}

// Envelope is the signed wire unit.
type Envelope struct {
	Method    Method          `json:"a"`
	Payload   json.RawMessage `json:"b"`
	Signature string          `json:"c"`
}

// SubscriptionKeys is the key material of a push subscription.
type SubscriptionKeys struct {
	P256DH string `json:"a"`
	Auth   string `json:"b"`
}

// Subscription is the push subscription wire form carried by update calls.
type Subscription struct {
	Endpoint       string           `json:"a"`
	ExpirationTime *int64           `json:"b"`
	Keys           SubscriptionKeys `json:"c"`
}

// UpdatePayload announces the sender to the relay, optionally with a push
// subscription. It carries no recipient and no timestamp.
type UpdatePayload struct {
	Sender       string        `json:"a"`
	Subscription *Subscription `json:"b,omitempty"`
}

// DialPayload invites a peer to a connection attempt and carries the
// sender's ephemeral encryption public key for the attempt.
type DialPayload struct {
	Sender       string `json:"a"`
	Timestamp    int64  `json:"b"`
	Recipient    string `json:"c"`
	EphemeralKey string `json:"d"`
}

// SessionPayload carries an AEAD-encrypted session description. It is used
// by both offer and answer calls.
type SessionPayload struct {
	Sender       string `json:"a"`
	Timestamp    int64  `json:"b"`
	Recipient    string `json:"c"`
	EphemeralKey string `json:"d"`
	Data         string `json:"e"`
}

// IcePayload carries one AEAD-encrypted ICE candidate plus the source tag
// identifying which of the sender's sagas produced it.
type IcePayload struct {
	Sender       string    `json:"a"`
	Timestamp    int64     `json:"b"`
	Recipient    string    `json:"c"`
	EphemeralKey string    `json:"d"`
	Data         string    `json:"e"`
	Source       IceSource `json:"f"`
}

// ClosePayload tears down the connection with the recipient.
type ClosePayload struct {
	Sender    string `json:"a"`
	Timestamp int64  `json:"b"`
	Recipient string `json:"c"`
}

// Response is the relay's reply to a call.
type Response struct {
	OK        bool     `json:"ok"`
	Timestamp int64    `json:"timestamp"`
	Reason    string   `json:"reason,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}
