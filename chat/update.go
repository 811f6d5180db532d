// Package chat implements the application reliability core: updates are
// persisted and replayed until acknowledged, and message, delivery, seen,
// and reaction states merge deterministically across duplicates.
package chat

// Stamp is a bare relay-clock timestamp attached to a state change.
type Stamp struct {
	Timestamp int64 `json:"ts"`
}

// Message is the text body of an update.
type Message struct {
	Timestamp int64  `json:"ts"`
	Text      string `json:"text"`
}

// Reaction is an emoji (or any short string) attached to a message.
type Reaction struct {
	Timestamp int64  `json:"ts"`
	Value     string `json:"value"`
}

// Update is the unit the chat layer exchanges over the data channel. ID is
// the sender-assigned relay-clock timestamp of the original message; all
// later state changes reference it.
type Update struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	Delivered *Stamp    `json:"delivered,omitempty"`
	Seen      *Stamp    `json:"seen,omitempty"`
	Reaction  *Reaction `json:"reaction,omitempty"`
}

// Useful reports whether the update carries state worth caching. Pure
// action updates (typing and the like) are ephemeral.
func (u *Update) Useful() bool {
	return u.Message != nil || u.Delivered != nil || u.Seen != nil || u.Reaction != nil
}

// stripAction returns a copy without the ephemeral action field, the form
// that enters the cache.
func (u *Update) stripAction() *Update {
	c := *u
	c.Action = ""
	return &c
}

// Merge folds src into dst under the per-field rules: message and reaction
// are last-write-wins by timestamp, delivered and seen keep the earliest
// timestamp. Returns whether dst changed. The rules make replaying any
// permutation of updates converge to the same state.
func Merge(dst, src *Update) bool {
	changed := false

	if src.Message != nil && (dst.Message == nil || src.Message.Timestamp > dst.Message.Timestamp) {
		dst.Message = src.Message
		changed = true
	}
	if src.Delivered != nil && (dst.Delivered == nil || src.Delivered.Timestamp < dst.Delivered.Timestamp) {
		dst.Delivered = src.Delivered
		changed = true
	}
	if src.Seen != nil && (dst.Seen == nil || src.Seen.Timestamp < dst.Seen.Timestamp) {
		dst.Seen = src.Seen
		changed = true
	}
	if src.Reaction != nil && (dst.Reaction == nil || src.Reaction.Timestamp > dst.Reaction.Timestamp) {
		dst.Reaction = src.Reaction
		changed = true
	}

	return changed
}
