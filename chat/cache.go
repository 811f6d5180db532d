package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/vorobalek/whisper-go/store"
)

// Cache is the per-peer useful-update cache. Invariant: every entry
// carries at least one of message, delivered, seen, or reaction. The whole
// cache persists as one encrypted blob keyed by the peer.
type Cache struct {
	peer    string
	store   store.Store
	entries map[int64]*Update
}

// LoadCache reads the peer's cache from the store, or starts empty.
func LoadCache(ctx context.Context, st store.Store, peer string) (*Cache, error) {
	c := &Cache{
		peer:    peer,
		store:   st,
		entries: make(map[int64]*Update),
	}
	if st == nil {
		return c, nil
	}

	blob, err := st.Get(ctx, store.TableCache, peer)
	if errors.Is(err, store.ErrNotFound) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	var list []*Update
	if err := json.Unmarshal(blob, &list); err != nil {
		return nil, err
	}
	for _, u := range list {
		c.entries[u.ID] = u
	}
	return c, nil
}

// Apply merges one update into the cache. Useless updates (action-only)
// never enter. Returns whether the cache changed; the caller persists on
// change.
func (c *Cache) Apply(u *Update) bool {
	if !u.Useful() {
		return false
	}
	existing, ok := c.entries[u.ID]
	if !ok {
		c.entries[u.ID] = u.stripAction()
		return true
	}
	return Merge(existing, u)
}

// Get returns the cached entry for an id.
func (c *Cache) Get(id int64) (*Update, bool) {
	u, ok := c.entries[id]
	return u, ok
}

// All returns the cached updates in id order, the order resend uses.
func (c *Cache) All() []*Update {
	list := make([]*Update, 0, len(c.entries))
	for _, u := range c.entries {
		list = append(list, u)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Persist writes the whole cache to the store.
func (c *Cache) Persist(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	blob, err := json.Marshal(c.All())
	if err != nil {
		return err
	}
	return c.store.Set(ctx, store.TableCache, c.peer, blob)
}
