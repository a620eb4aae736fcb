package cluster

import "sync/atomic"

// Cache is a copy-on-write slot-to-node-address table. Reads never block
// a concurrent Learn; Learn replaces the whole map, never mutating it in
// place, so readers cannot see a torn state.
type Cache struct {
	table atomic.Pointer[map[int]string]
}

// NewCache returns an empty Cache; every slot resolves to the default node
// until a MOVED reply teaches it otherwise.
func NewCache() *Cache {
	c := &Cache{}
	empty := map[int]string{}
	c.table.Store(&empty)
	return c
}

// Lookup returns the node address owning slot, or "" if the cache has no
// opinion (the caller should fall back to its default node).
func (c *Cache) Lookup(slot int) string {
	m := *c.table.Load()
	return m[slot]
}

// Learn records that slot is now owned by addr, as a MOVED reply reports.
// ASK redirects are never cached: their targets are one-shot and must not
// poison steady-state routing.
func (c *Cache) Learn(slot int, addr string) {
	for {
		old := c.table.Load()
		next := make(map[int]string, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[slot] = addr
		if c.table.CompareAndSwap(old, &next) {
			return
		}
	}
}
