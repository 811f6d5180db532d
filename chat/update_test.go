package chat

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeRules(t *testing.T) {
	dst := &Update{ID: 1, Message: &Message{Timestamp: 100, Text: "x"}}

	// Newer message wins.
	assert.True(t, Merge(dst, &Update{ID: 1, Message: &Message{Timestamp: 150, Text: "y"}}))
	assert.Equal(t, "y", dst.Message.Text)

	// Older message loses.
	assert.False(t, Merge(dst, &Update{ID: 1, Message: &Message{Timestamp: 90, Text: "stale"}}))
	assert.Equal(t, "y", dst.Message.Text)

	// Earliest delivered wins.
	assert.True(t, Merge(dst, &Update{ID: 1, Delivered: &Stamp{Timestamp: 110}}))
	assert.True(t, Merge(dst, &Update{ID: 1, Delivered: &Stamp{Timestamp: 105}}))
	assert.False(t, Merge(dst, &Update{ID: 1, Delivered: &Stamp{Timestamp: 120}}))
	assert.Equal(t, int64(105), dst.Delivered.Timestamp)

	// Latest reaction wins.
	assert.True(t, Merge(dst, &Update{ID: 1, Reaction: &Reaction{Timestamp: 200, Value: "👍"}}))
	assert.False(t, Merge(dst, &Update{ID: 1, Reaction: &Reaction{Timestamp: 180, Value: "👎"}}))
	assert.Equal(t, "👍", dst.Reaction.Value)
}

// Spec scenario: a fixed sequence of updates must converge to one state.
func TestMergeScenario(t *testing.T) {
	cache := &Cache{entries: make(map[int64]*Update)}

	updates := []*Update{
		{ID: 1, Message: &Message{Timestamp: 100, Text: "x"}},
		{ID: 1, Delivered: &Stamp{Timestamp: 110}},
		{ID: 1, Message: &Message{Timestamp: 90, Text: "stale"}},
		{ID: 1, Reaction: &Reaction{Timestamp: 200, Value: "👍"}},
		{ID: 1, Delivered: &Stamp{Timestamp: 105}},
	}
	for _, u := range updates {
		cache.Apply(u)
	}

	merged, ok := cache.Get(1)
	require.True(t, ok)
	assert.Equal(t, int64(100), merged.Message.Timestamp)
	assert.Equal(t, "x", merged.Message.Text)
	assert.Equal(t, int64(105), merged.Delivered.Timestamp)
	assert.Equal(t, "👍", merged.Reaction.Value)
	assert.Nil(t, merged.Seen)
}

// Replaying any permutation of updates for one id must converge to the
// same merged state.
func TestMergeIsPermutationInvariant(t *testing.T) {
	updates := []*Update{
		{ID: 7, Message: &Message{Timestamp: 100, Text: "first"}},
		{ID: 7, Message: &Message{Timestamp: 130, Text: "edited"}},
		{ID: 7, Delivered: &Stamp{Timestamp: 140}},
		{ID: 7, Delivered: &Stamp{Timestamp: 135}},
		{ID: 7, Seen: &Stamp{Timestamp: 150}},
		{ID: 7, Reaction: &Reaction{Timestamp: 160, Value: "a"}},
		{ID: 7, Reaction: &Reaction{Timestamp: 170, Value: "b"}},
	}

	reference := &Cache{entries: make(map[int64]*Update)}
	for _, u := range updates {
		reference.Apply(u)
	}
	want, ok := reference.Get(7)
	require.True(t, ok)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		shuffled := make([]*Update, len(updates))
		copy(shuffled, updates)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		cache := &Cache{entries: make(map[int64]*Update)}
		for _, u := range shuffled {
			cache.Apply(u)
		}
		got, ok := cache.Get(7)
		require.True(t, ok)
		assert.Equal(t, *want.Message, *got.Message)
		assert.Equal(t, *want.Delivered, *got.Delivered)
		assert.Equal(t, *want.Seen, *got.Seen)
		assert.Equal(t, *want.Reaction, *got.Reaction)
	}
}

func TestActionOnlyUpdatesNeverCached(t *testing.T) {
	cache := &Cache{entries: make(map[int64]*Update)}
	assert.False(t, cache.Apply(&Update{ID: 1, Action: ActionTyping}))
	assert.Equal(t, 0, cache.Len())
}

func TestCacheStripsActionOnInsert(t *testing.T) {
	cache := &Cache{entries: make(map[int64]*Update)}
	cache.Apply(&Update{ID: 1, Action: ActionTyping, Message: &Message{Timestamp: 1, Text: "hi"}})
	u, ok := cache.Get(1)
	require.True(t, ok)
	assert.Empty(t, u.Action)
	assert.NotNil(t, u.Message)
}

func TestCacheAllSortedByID(t *testing.T) {
	cache := &Cache{entries: make(map[int64]*Update)}
	for _, id := range []int64{30, 10, 20} {
		cache.Apply(&Update{ID: id, Message: &Message{Timestamp: id, Text: "m"}})
	}
	all := cache.All()
	require.Len(t, all, 3)
	assert.Equal(t, int64(10), all[0].ID)
	assert.Equal(t, int64(20), all[1].ID)
	assert.Equal(t, int64(30), all[2].ID)
}
