package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/vorobalek/whisper-go/internal/logger"
	"github.com/vorobalek/whisper-go/internal/metrics"
	"github.com/vorobalek/whisper-go/store"
)

// ActionTyping is the conventional ephemeral action.
const ActionTyping = "typing"

// Link is the connection surface the chat layer drives. Satisfied by
// *conn.Connection.
type Link interface {
	Send(message string) error
	Open()
}

// Clock reports the relay clock.
type Clock interface {
	ServerTime() int64
}

// Entry is one materialized message in the history.
type Entry struct {
	ID          int64  `json:"id"`
	Mine        bool   `json:"mine"`
	Text        string `json:"text"`
	SentAt      int64  `json:"sentAt"`
	DeliveredAt *int64 `json:"deliveredAt,omitempty"`
	SeenAt      *int64 `json:"seenAt,omitempty"`
	Reaction    string `json:"reaction,omitempty"`
	ReactionAt  int64  `json:"reactionAt,omitempty"`
}

// Chat is the per-peer reliability layer. Outgoing updates persist in the
// useful-update cache and replay on every reconnect until the peer has
// acknowledged them; incoming updates merge idempotently.
type Chat struct {
	peer string
	link Link
	st   store.Store
	clk  Clock
	m    *metrics.Collector
	log  logger.Logger

	mu      sync.Mutex
	cache   *Cache
	history []*Entry

	onMessage func(e Entry)
	onChange  func(e Entry)
	onAction  func(action string)

	dog *watchdog
}

// NewChat loads the peer's cache and history and binds the reliability
// layer to a connection.
func NewChat(ctx context.Context, peer string, link Link, st store.Store, clk Clock, m *metrics.Collector, log logger.Logger) (*Chat, error) {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewCollector()
	}
	cache, err := LoadCache(ctx, st, peer)
	if err != nil {
		return nil, err
	}

	c := &Chat{
		peer:  peer,
		link:  link,
		st:    st,
		clk:   clk,
		m:     m,
		log:   log,
		cache: cache,
	}
	if err := c.loadHistory(ctx); err != nil {
		return nil, err
	}
	c.dog = newWatchdog(c)
	return c, nil
}

// OnMessage registers the new-message callback.
func (c *Chat) OnMessage(fn func(e Entry)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnChange registers the message-state-change callback (delivered, seen,
// reaction).
func (c *Chat) OnChange(fn func(e Entry)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// OnAction registers the ephemeral action callback.
func (c *Chat) OnAction(fn func(action string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAction = fn
}

// History returns a copy of the materialized messages in the order they
// were added.
func (c *Chat) History() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.history))
	for i, e := range c.history {
		out[i] = *e
	}
	return out
}

// SendText sends a new message. Its id is the relay clock at send time.
func (c *Chat) SendText(ctx context.Context, text string) (int64, error) {
	id := c.clk.ServerTime()
	u := &Update{
		ID:      id,
		Message: &Message{Timestamp: id, Text: text},
	}

	c.mu.Lock()
	changed := c.cache.Apply(u)
	c.history = append(c.history, &Entry{ID: id, Mine: true, Text: text, SentAt: id})
	c.mu.Unlock()

	if changed {
		c.persist(ctx)
	}
	c.emit(u)
	c.dog.kick()
	return id, nil
}

// SendDelivered acknowledges receipt of the peer's message.
func (c *Chat) SendDelivered(ctx context.Context, id int64) error {
	now := c.clk.ServerTime()
	u := &Update{ID: id, Delivered: &Stamp{Timestamp: now}}
	c.applyLocal(ctx, u)
	c.emit(u)
	return nil
}

// SendSeen marks the peer's message as seen.
func (c *Chat) SendSeen(ctx context.Context, id int64) error {
	now := c.clk.ServerTime()
	u := &Update{ID: id, Seen: &Stamp{Timestamp: now}}
	c.applyLocal(ctx, u)
	c.emit(u)
	return nil
}

// SendReaction attaches a reaction to a message.
func (c *Chat) SendReaction(ctx context.Context, id int64, value string) error {
	now := c.clk.ServerTime()
	u := &Update{ID: id, Reaction: &Reaction{Timestamp: now, Value: value}}
	c.applyLocal(ctx, u)
	c.emit(u)
	return nil
}

// SendAction sends an ephemeral action such as typing. Never cached,
// never resent.
func (c *Chat) SendAction(action string) {
	u := &Update{ID: c.clk.ServerTime(), Action: action}
	c.emit(u)
}

// applyLocal merges a locally produced update and refreshes history state.
func (c *Chat) applyLocal(ctx context.Context, u *Update) {
	c.mu.Lock()
	changed := c.cache.Apply(u)
	c.updateHistoryLocked(u)
	c.mu.Unlock()
	if changed {
		c.persist(ctx)
	}
}

// emit serializes one update onto the data channel. Send failures are
// logged only; the cache replays on the next connect.
func (c *Chat) emit(u *Update) {
	data, err := json.Marshal(u)
	if err != nil {
		c.log.Error("failed to marshal update", logger.Error(err))
		return
	}
	if err := c.link.Send(string(data)); err != nil {
		c.log.Debug("update send failed, will resend on reconnect", logger.Error(err))
	}
}

// HandleIncoming processes one raw update from the data channel.
func (c *Chat) HandleIncoming(raw string) {
	var u Update
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		c.log.Debug("dropped undecodable update", logger.Error(err))
		return
	}

	if !u.Useful() {
		if u.Action != "" {
			c.mu.Lock()
			fn := c.onAction
			c.mu.Unlock()
			if fn != nil {
				fn(u.Action)
			}
		}
		return
	}

	c.mu.Lock()
	changed := c.cache.Apply(&u)
	newMessage := false
	if u.Message != nil && c.findEntryLocked(u.ID) == nil {
		// Seed the entry from the cache's merged state: delivered, seen,
		// or reaction updates may have arrived before the message itself.
		src := &u
		if merged, ok := c.cache.Get(u.ID); ok && merged.Message != nil {
			src = merged
		}
		c.history = append(c.history, &Entry{
			ID:     u.ID,
			Mine:   false,
			Text:   src.Message.Text,
			SentAt: src.Message.Timestamp,
		})
		c.updateHistoryLocked(src)
		newMessage = true
	}
	c.updateHistoryLocked(&u)
	entry := c.findEntryLocked(u.ID)
	var snapshot Entry
	if entry != nil {
		snapshot = *entry
	}
	onMessage, onChange := c.onMessage, c.onChange
	c.mu.Unlock()

	if changed {
		c.m.RecordUpdateMerged()
		c.persist(context.Background())
	}

	if newMessage {
		if onMessage != nil {
			onMessage(snapshot)
		}
		// Acknowledge receipt so the peer's watchdog stands down.
		if err := c.SendDelivered(context.Background(), u.ID); err != nil {
			c.log.Debug("delivered ack failed", logger.Error(err))
		}
	} else if entry != nil && onChange != nil {
		onChange(snapshot)
	}
	c.dog.kick()
}

// OnConnected replays the useful-update cache in id order on the fresh
// channel. The merge rules make this idempotent on the receiving side.
func (c *Chat) OnConnected() {
	c.mu.Lock()
	updates := c.cache.All()
	c.mu.Unlock()

	for _, u := range updates {
		c.emit(u)
		c.m.RecordUpdateResent()
	}
	c.dog.kick()
}

// Close stops the watchdog.
func (c *Chat) Close() {
	c.dog.stop()
}

// oldestUndelivered returns the id of the oldest own message without a
// delivered stamp, or zero.
func (c *Chat) oldestUndelivered() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.history {
		if e.Mine && e.DeliveredAt == nil {
			return e.ID
		}
	}
	return 0
}

func (c *Chat) findEntryLocked(id int64) *Entry {
	for _, e := range c.history {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// updateHistoryLocked folds an update's state stamps into the matching
// history entry under the same per-field rules the cache merges with, so
// the visible history converges regardless of delivery order.
func (c *Chat) updateHistoryLocked(u *Update) {
	e := c.findEntryLocked(u.ID)
	if e == nil {
		return
	}
	if u.Message != nil && u.Message.Timestamp > e.SentAt {
		e.Text = u.Message.Text
		e.SentAt = u.Message.Timestamp
	}
	if u.Delivered != nil && (e.DeliveredAt == nil || u.Delivered.Timestamp < *e.DeliveredAt) {
		ts := u.Delivered.Timestamp
		e.DeliveredAt = &ts
	}
	if u.Seen != nil && (e.SeenAt == nil || u.Seen.Timestamp < *e.SeenAt) {
		ts := u.Seen.Timestamp
		e.SeenAt = &ts
	}
	if u.Reaction != nil && u.Reaction.Timestamp > e.ReactionAt {
		e.Reaction = u.Reaction.Value
		e.ReactionAt = u.Reaction.Timestamp
	}
}

// persist writes the cache and history blobs.
func (c *Chat) persist(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.cache.Persist(ctx); err != nil {
		c.log.Error("failed to persist update cache", logger.Error(err))
	}
	if err := c.persistHistoryLocked(ctx); err != nil {
		c.log.Error("failed to persist history", logger.Error(err))
	}
}

func (c *Chat) persistHistoryLocked(ctx context.Context) error {
	if c.st == nil {
		return nil
	}
	blob, err := json.Marshal(c.history)
	if err != nil {
		return err
	}
	return c.st.Set(ctx, store.TableHistory, c.peer, blob)
}

func (c *Chat) loadHistory(ctx context.Context) error {
	if c.st == nil {
		return nil
	}
	blob, err := c.st.Get(ctx, store.TableHistory, c.peer)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(blob, &c.history)
}
