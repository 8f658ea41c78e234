// Package replay implements the bounded nonce-replay cache that backs
// RequestValidator's Unauthorized{bad_nonce} check.
package replay

import (
	"sync"
	"time"
)

// Cache stores seen (source, nonce) pairs with a TTL, so a repeated
// nonce from the same source within the freshness window is rejected as
// a replay. Ttl should track the configured ticket lifetime: a nonce
// older than that is already rejected by the timestamp check, so there is
// no need to remember it past that point.
type Cache struct {
	ttl  time.Duration
	data sync.Map // source name -> *sync.Map (nonce -> expiry unix nanoseconds)
	tick *time.Ticker
	stop chan struct{}
}

// New creates a replay cache with the given TTL and starts its
// background GC loop. Call Close when done.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		ttl:  ttl,
		stop: make(chan struct{}),
		tick: time.NewTicker(time.Minute),
	}
	go c.gcLoop()
	return c
}

// Seen returns true if (source, nonce) was already recorded and its
// entry hasn't expired; otherwise it records the pair and returns false.
func (c *Cache) Seen(source, nonce string) bool {
	if source == "" || nonce == "" {
		return false
	}
	exp := time.Now().Add(c.ttl).UnixNano()

	v, _ := c.data.LoadOrStore(source, &sync.Map{})
	m := v.(*sync.Map)

	if old, ok := m.Load(nonce); ok {
		if prevExp, _ := old.(int64); prevExp >= time.Now().UnixNano() {
			return true
		}
	}
	m.Store(nonce, exp)
	return false
}

// Forget removes all recorded nonces for source, e.g. when an endpoint
// is deleted.
func (c *Cache) Forget(source string) {
	c.data.Delete(source)
}

// Close stops the background GC loop.
func (c *Cache) Close() {
	close(c.stop)
	if c.tick != nil {
		c.tick.Stop()
	}
}

func (c *Cache) gcLoop() {
	for {
		select {
		case <-c.tick.C:
			now := time.Now().UnixNano()
			c.data.Range(func(k, v any) bool {
				m := v.(*sync.Map)
				empty := true
				m.Range(func(nk, nv any) bool {
					if exp, _ := nv.(int64); exp < now {
						m.Delete(nk)
					} else {
						empty = false
					}
					return true
				})
				if empty {
					c.data.Delete(k)
				}
				return true
			})
		case <-c.stop:
			return
		}
	}
}
