// Package cache memoizes SSTable lookups the storage engine has already
// paid for once, so a hot key that was flushed out of the MemTable doesn't
// re-pay a bloom filter check plus a sparse-index scan on every repeated
// engine.Engine.Get.
package cache

import (
	"container/list"
	"sync"
)

// resolvedValue is one cached SSTable resolution: the value bytes found
// for a key once the engine has already walked the level set for it.
type resolvedValue struct {
	key   string
	value []byte
}

// LRUCache is a fixed-size, byte-keyed LRU of resolved values. Entries are
// never invalidated individually — a key's value never changes once
// written (I1) — only Clear (called from engine.Engine.FlushAll, the one
// operation that actually wipes every key) ever removes a live entry
// ahead of an LRU eviction.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	lruList  *list.List
	items    map[string]*list.Element

	hits   uint64
	misses uint64
}

// NewLRUCache creates a cache holding at most capacity resolved values.
// A non-positive capacity disables caching: Get always misses and Put is
// a no-op, which lets engine.Engine wire this in unconditionally without
// a separate on/off switch in engine.Options.
func NewLRUCache(capacity int) *LRUCache {
	return &LRUCache{
		capacity: capacity,
		lruList:  list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get looks up key's resolved value.
func (c *LRUCache) Get(key []byte) (value []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity <= 0 {
		return nil, false
	}

	if elem, found := c.items[string(key)]; found {
		c.hits++
		c.lruList.MoveToFront(elem)
		return elem.Value.(*resolvedValue).value, true
	}
	c.misses++
	return nil, false
}

// Put records key's resolved value, evicting the least recently used
// entry first if the cache is already at capacity.
func (c *LRUCache) Put(key, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity <= 0 {
		return
	}

	k := string(key)
	if elem, found := c.items[k]; found {
		c.lruList.MoveToFront(elem)
		elem.Value.(*resolvedValue).value = value
		return
	}

	if c.lruList.Len() >= c.capacity {
		c.evictLocked()
	}

	element := c.lruList.PushFront(&resolvedValue{key: k, value: value})
	c.items[k] = element
}

// Len returns the number of entries currently cached.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

func (c *LRUCache) evictLocked() {
	if elem := c.lruList.Back(); elem != nil {
		removed := c.lruList.Remove(elem).(*resolvedValue)
		delete(c.items, removed.key)
	}
}

// Clear drops every entry and resets the hit/miss counters, used by
// engine.Engine.FlushAll after it has wiped the underlying SSTables and
// MemTables.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lruList = list.New()
	c.items = make(map[string]*list.Element)
	c.hits = 0
	c.misses = 0
}

// HitRate returns the fraction of Get calls that found a cached value,
// which engine.Engine.Stats surfaces as CacheHitRate via slog-friendly
// plain fields rather than a separate expvar publication.
func (c *LRUCache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}
