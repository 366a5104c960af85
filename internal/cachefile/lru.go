package cachefile

import "sync"

// ChunkObserver is told about chunk cache lookups.
type ChunkObserver interface {
	ChunkCacheHit()
	ChunkCacheMiss()
}

type nopObserver struct{}

func (nopObserver) ChunkCacheHit()  {}
func (nopObserver) ChunkCacheMiss() {}

type chunkKey struct {
	variable int
	chunk    int
}

// none marks the end of the recency list.
const none = -1

// slot holds one decoded chunk. prev and next index into lruCache.slots.
type slot struct {
	key        chunkKey
	data       []float64
	prev, next int
}

// lruCache keeps up to capacity decoded chunks, evicting the least recently
// used. Slots are allocated once and recycled on eviction. Safe for
// concurrent use.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	byKey    map[chunkKey]int
	slots    []slot
	newest   int
	oldest   int
}

func newLRUCache(capacity int) *lruCache {
	capacity = max(capacity, 0)
	return &lruCache{
		capacity: capacity,
		byKey:    make(map[chunkKey]int, capacity),
		slots:    make([]slot, 0, capacity),
		newest:   none,
		oldest:   none,
	}
}

func (c *lruCache) get(key chunkKey) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.byKey[key]
	if !ok {
		return nil, false
	}
	c.touch(i)
	return c.slots[i].data, true
}

func (c *lruCache) put(key chunkKey, data []float64) {
	if c.capacity == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.byKey[key]; ok {
		c.slots[i].data = data
		c.touch(i)
		return
	}

	var i int
	if len(c.slots) < c.capacity {
		i = len(c.slots)
		c.slots = append(c.slots, slot{prev: none, next: none})
	} else {
		i = c.oldest
		c.unlink(i)
		delete(c.byKey, c.slots[i].key)
	}
	c.slots[i].key, c.slots[i].data = key, data
	c.byKey[key] = i
	c.pushNewest(i)
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}

// touch marks slot i as most recently used.
func (c *lruCache) touch(i int) {
	if i == c.newest {
		return
	}
	c.unlink(i)
	c.pushNewest(i)
}

func (c *lruCache) pushNewest(i int) {
	s := &c.slots[i]
	s.prev, s.next = none, c.newest
	if c.newest != none {
		c.slots[c.newest].prev = i
	}
	c.newest = i
	if c.oldest == none {
		c.oldest = i
	}
}

func (c *lruCache) unlink(i int) {
	s := &c.slots[i]
	if s.prev != none {
		c.slots[s.prev].next = s.next
	} else {
		c.newest = s.next
	}
	if s.next != none {
		c.slots[s.next].prev = s.prev
	} else {
		c.oldest = s.prev
	}
	s.prev, s.next = none, none
}
