package envelope

import (
	"sync"
	"time"
)

// ReplayGuard remembers (sender, signature) pairs with a TTL. The freshness
// window still admits a replay for a few seconds; recording seen signatures
// closes it. TTL only needs to outlive MaxClockSkew.
type ReplayGuard struct {
	ttl  time.Duration
	data sync.Map // sender -> *sync.Map (signature -> expiryUnix)
	tick *time.Ticker
	stop chan struct{}
	once sync.Once
}

// NewReplayGuard creates a TTL-based replay cache.
func NewReplayGuard(ttl time.Duration) *ReplayGuard {
	g := &ReplayGuard{
		ttl:  ttl,
		stop: make(chan struct{}),
		tick: time.NewTicker(time.Minute),
	}
	go g.gcLoop()
	return g
}

// Seen returns true if (sender, signature) was seen before; otherwise records
// it and returns false.
func (g *ReplayGuard) Seen(sender, signature string) bool {
	if sender == "" || signature == "" {
		return false
	}
	exp := time.Now().Add(g.ttl).Unix()

	v, _ := g.data.LoadOrStore(sender, &sync.Map{})
	m := v.(*sync.Map)

	if old, ok := m.Load(signature); ok {
		if prevExp, _ := old.(int64); prevExp >= time.Now().Unix() {
			return true
		}
	}
	m.Store(signature, exp)
	return false
}

// DeleteSender removes all entries for a sender (call when a connection is
// deleted).
func (g *ReplayGuard) DeleteSender(sender string) {
	g.data.Delete(sender)
}

// Close stops the background GC.
func (g *ReplayGuard) Close() {
	g.once.Do(func() {
		close(g.stop)
		if g.tick != nil {
			g.tick.Stop()
		}
	})
}

func (g *ReplayGuard) gcLoop() {
	for {
		select {
		case <-g.tick.C:
			now := time.Now().Unix()
			g.data.Range(func(k, v any) bool {
				m := v.(*sync.Map)
				empty := true
				m.Range(func(sk, sv any) bool {
					if exp, _ := sv.(int64); exp < now {
						m.Delete(sk)
					} else {
						empty = false
					}
					return true
				})
				if empty {
					g.data.Delete(k)
				}
				return true
			})
		case <-g.stop:
			return
		}
	}
}
