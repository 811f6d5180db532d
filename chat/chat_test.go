package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorobalek/whisper-go/store"
	"github.com/vorobalek/whisper-go/store/memory"
)

type fakeLink struct {
	mu    sync.Mutex
	sent  []string
	opens int
	fail  bool
}

func (f *fakeLink) Send(message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeLink) Open() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
}

func (f *fakeLink) sentUpdates(t *testing.T) []Update {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Update, 0, len(f.sent))
	for _, raw := range f.sent {
		var u Update
		require.NoError(t, json.Unmarshal([]byte(raw), &u))
		out = append(out, u)
	}
	return out
}

func (f *fakeLink) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) ServerTime() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += ms
}

func newTestChat(t *testing.T) (*Chat, *fakeLink, *fakeClock, store.Store) {
	t.Helper()
	link := &fakeLink{}
	clk := &fakeClock{now: 1_000_000}
	st, err := store.Open(context.Background(), memory.NewBackend(), "password", nil)
	require.NoError(t, err)

	c, err := NewChat(context.Background(), "peer-key", link, st, clk, nil, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, link, clk, st
}

func TestSendTextCachesAndSends(t *testing.T) {
	c, link, clk, _ := newTestChat(t)

	id, err := c.SendText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, clk.ServerTime(), id)

	sent := link.sentUpdates(t)
	require.Len(t, sent, 1)
	assert.Equal(t, "hello", sent[0].Message.Text)

	history := c.History()
	require.Len(t, history, 1)
	assert.True(t, history[0].Mine)
	assert.Nil(t, history[0].DeliveredAt)
}

func TestIncomingMessageAcknowledged(t *testing.T) {
	c, link, _, _ := newTestChat(t)

	var got []Entry
	var mu sync.Mutex
	c.OnMessage(func(e Entry) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	incoming, err := json.Marshal(Update{ID: 500, Message: &Message{Timestamp: 500, Text: "hi"}})
	require.NoError(t, err)
	c.HandleIncoming(string(incoming))

	mu.Lock()
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Text)
	assert.False(t, got[0].Mine)
	mu.Unlock()

	// The delivered acknowledgment went back automatically.
	sent := link.sentUpdates(t)
	require.Len(t, sent, 1)
	assert.Equal(t, int64(500), sent[0].ID)
	assert.NotNil(t, sent[0].Delivered)
}

func TestIncomingDeliveredStampsOwnMessage(t *testing.T) {
	c, _, _, _ := newTestChat(t)

	id, err := c.SendText(context.Background(), "ping")
	require.NoError(t, err)

	ack, err := json.Marshal(Update{ID: id, Delivered: &Stamp{Timestamp: id + 50}})
	require.NoError(t, err)
	c.HandleIncoming(string(ack))

	history := c.History()
	require.Len(t, history, 1)
	require.NotNil(t, history[0].DeliveredAt)
	assert.Equal(t, id+50, *history[0].DeliveredAt)
	assert.Equal(t, int64(0), c.oldestUndelivered())
}

func TestStaleReactionDoesNotCorruptHistory(t *testing.T) {
	c, _, _, _ := newTestChat(t)

	msg, err := json.Marshal(Update{ID: 1, Message: &Message{Timestamp: 1, Text: "hi"}})
	require.NoError(t, err)
	c.HandleIncoming(string(msg))

	fresh, err := json.Marshal(Update{ID: 1, Reaction: &Reaction{Timestamp: 200, Value: "👍"}})
	require.NoError(t, err)
	c.HandleIncoming(string(fresh))

	// A reordered, older reaction must not win in the visible history any
	// more than it does in the cache.
	stale, err := json.Marshal(Update{ID: 1, Reaction: &Reaction{Timestamp: 150, Value: "👎"}})
	require.NoError(t, err)
	c.HandleIncoming(string(stale))

	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, "👍", history[0].Reaction)
	assert.Equal(t, int64(200), history[0].ReactionAt)
}

func TestHistoryConvergesUnderReordering(t *testing.T) {
	updates := []Update{
		{ID: 1, Message: &Message{Timestamp: 100, Text: "x"}},
		{ID: 1, Delivered: &Stamp{Timestamp: 110}},
		{ID: 1, Message: &Message{Timestamp: 90, Text: "stale"}},
		{ID: 1, Reaction: &Reaction{Timestamp: 200, Value: "👍"}},
		{ID: 1, Reaction: &Reaction{Timestamp: 150, Value: "👎"}},
		{ID: 1, Delivered: &Stamp{Timestamp: 105}},
	}

	// Forward order and reversed order must surface the same entry.
	var got []Entry
	for _, order := range [][]Update{updates, reversed(updates)} {
		c, _, _, _ := newTestChat(t)
		for _, u := range order {
			raw, err := json.Marshal(u)
			require.NoError(t, err)
			c.HandleIncoming(string(raw))
		}
		history := c.History()
		require.Len(t, history, 1)
		got = append(got, history[0])
	}

	assert.Equal(t, got[0].Text, got[1].Text)
	assert.Equal(t, "x", got[0].Text)
	assert.Equal(t, got[0].Reaction, got[1].Reaction)
	assert.Equal(t, "👍", got[0].Reaction)
	require.NotNil(t, got[0].DeliveredAt)
	require.NotNil(t, got[1].DeliveredAt)
	assert.Equal(t, int64(105), *got[0].DeliveredAt)
	assert.Equal(t, *got[0].DeliveredAt, *got[1].DeliveredAt)
}

func reversed(in []Update) []Update {
	out := make([]Update, len(in))
	for i, u := range in {
		out[len(in)-1-i] = u
	}
	return out
}

func TestEditedMessageUpdatesHistory(t *testing.T) {
	c, _, _, _ := newTestChat(t)

	first, err := json.Marshal(Update{ID: 1, Message: &Message{Timestamp: 100, Text: "draft"}})
	require.NoError(t, err)
	c.HandleIncoming(string(first))

	edited, err := json.Marshal(Update{ID: 1, Message: &Message{Timestamp: 160, Text: "final"}})
	require.NoError(t, err)
	c.HandleIncoming(string(edited))

	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, "final", history[0].Text)
	assert.Equal(t, int64(160), history[0].SentAt)
}

func TestActionUpdatesAreEphemeral(t *testing.T) {
	c, link, _, _ := newTestChat(t)

	var actions []string
	var mu sync.Mutex
	c.OnAction(func(a string) {
		mu.Lock()
		actions = append(actions, a)
		mu.Unlock()
	})

	incoming, err := json.Marshal(Update{ID: 1, Action: ActionTyping})
	require.NoError(t, err)
	c.HandleIncoming(string(incoming))

	mu.Lock()
	assert.Equal(t, []string{ActionTyping}, actions)
	mu.Unlock()
	assert.Empty(t, link.sentUpdates(t))

	c.SendAction(ActionTyping)
	sent := link.sentUpdates(t)
	require.Len(t, sent, 1)
	assert.Equal(t, ActionTyping, sent[0].Action)
}

func TestResendReplaysCacheInOrder(t *testing.T) {
	c, link, clk, _ := newTestChat(t)

	_, err := c.SendText(context.Background(), "one")
	require.NoError(t, err)
	clk.advance(10)
	_, err = c.SendText(context.Background(), "two")
	require.NoError(t, err)

	link.mu.Lock()
	link.sent = nil
	link.mu.Unlock()

	c.OnConnected()

	sent := link.sentUpdates(t)
	require.Len(t, sent, 2)
	assert.Equal(t, "one", sent[0].Message.Text)
	assert.Equal(t, "two", sent[1].Message.Text)
	assert.Less(t, sent[0].ID, sent[1].ID)
}

// Resend must be idempotent on the receiving side: replaying a sender's
// cache into a receiver's cache any number of times converges.
func TestResendConvergence(t *testing.T) {
	sender, senderLink, clk, _ := newTestChat(t)

	_, err := sender.SendText(context.Background(), "a")
	require.NoError(t, err)
	clk.advance(5)
	_, err = sender.SendText(context.Background(), "b")
	require.NoError(t, err)

	receiver := &Cache{entries: make(map[int64]*Update)}
	for round := 0; round < 3; round++ {
		for _, u := range senderLink.sentUpdates(t) {
			copied := u
			receiver.Apply(&copied)
		}
	}

	sender.mu.Lock()
	senderUpdates := sender.cache.All()
	sender.mu.Unlock()

	require.Equal(t, len(senderUpdates), receiver.Len())
	for _, u := range senderUpdates {
		got, ok := receiver.Get(u.ID)
		require.True(t, ok)
		assert.Equal(t, u.Message.Text, got.Message.Text)
	}
}

func TestChatStateSurvivesReload(t *testing.T) {
	link := &fakeLink{}
	clk := &fakeClock{now: 2_000_000}
	st, err := store.Open(context.Background(), memory.NewBackend(), "password", nil)
	require.NoError(t, err)

	first, err := NewChat(context.Background(), "peer", link, st, clk, nil, nil)
	require.NoError(t, err)
	_, err = first.SendText(context.Background(), "persisted")
	require.NoError(t, err)
	first.Close()

	second, err := NewChat(context.Background(), "peer", link, st, clk, nil, nil)
	require.NoError(t, err)
	defer second.Close()

	history := second.History()
	require.Len(t, history, 1)
	assert.Equal(t, "persisted", history[0].Text)

	second.mu.Lock()
	assert.Equal(t, 1, second.cache.Len())
	second.mu.Unlock()
}

func TestWatchdogSchedulesReopens(t *testing.T) {
	c, link, clk, _ := newTestChat(t)

	_, err := c.SendText(context.Background(), "undelivered")
	require.NoError(t, err)

	// Under 5 seconds: nothing.
	clk.advance(4000)
	assert.True(t, c.dog.check())
	assert.Equal(t, 0, link.openCount())

	// Past 5 seconds: first reopen.
	clk.advance(2000)
	assert.True(t, c.dog.check())
	assert.Equal(t, 1, link.openCount())

	// Still undelivered but before 30 seconds: no second attempt yet.
	clk.advance(10_000)
	assert.True(t, c.dog.check())
	assert.Equal(t, 1, link.openCount())

	// Past 30 seconds: second reopen.
	clk.advance(20_000)
	assert.True(t, c.dog.check())
	assert.Equal(t, 2, link.openCount())
}

func TestWatchdogClearsOnDelivery(t *testing.T) {
	c, link, clk, _ := newTestChat(t)

	id, err := c.SendText(context.Background(), "msg")
	require.NoError(t, err)
	clk.advance(6000)
	assert.True(t, c.dog.check())
	assert.Equal(t, 1, link.openCount())

	ack, err := json.Marshal(Update{ID: id, Delivered: &Stamp{Timestamp: id + 10}})
	require.NoError(t, err)
	c.HandleIncoming(string(ack))

	assert.False(t, c.dog.check())
	assert.Equal(t, 1, link.openCount())
}

func TestWatchdogLoopFires(t *testing.T) {
	c, link, clk, _ := newTestChat(t)

	_, err := c.SendText(context.Background(), "slow")
	require.NoError(t, err)
	clk.advance(6000)
	c.dog.kick()

	require.Eventually(t, func() bool {
		return link.openCount() >= 1
	}, 3*time.Second, 50*time.Millisecond)
}
