package cache

import (
	"container/list"
	"sync"
	"time"
)

// lruCache is the in-process tier: a thread-safe LRU with per-entry expiry
// and a hard capacity bound. Values are opaque byte slices so both tiers
// speak the same encoding.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*lruItem
	order    *list.List
	now      func() time.Time
}

type lruItem struct {
	key       string
	value     []byte
	expiresAt time.Time
	element   *list.Element
}

func newLRUCache(capacity int) *lruCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &lruCache{
		capacity: capacity,
		items:    make(map[string]*lruItem),
		order:    list.New(),
		now:      time.Now,
	}
}

// get returns the value for key if present and unexpired, promoting the
// entry to most recently used.
func (c *lruCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.now().After(item.expiresAt) {
		c.remove(item)
		return nil, false
	}
	c.order.MoveToFront(item.element)
	return item.value, true
}

// set stores value under key with the given TTL, evicting the least
// recently used entry when the capacity bound is exceeded.
func (c *lruCache) set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[key]; ok {
		existing.value = value
		existing.expiresAt = c.now().Add(ttl)
		c.order.MoveToFront(existing.element)
		return
	}

	item := &lruItem{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	item.element = c.order.PushFront(item)
	c.items[key] = item

	if c.order.Len() > c.capacity {
		c.evict()
	}
}

func (c *lruCache) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.items[key]; ok {
		c.remove(item)
	}
}

func (c *lruCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*lruItem)
	c.order.Init()
}

func (c *lruCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// remove drops item from both the map and the order list. Caller holds mu.
func (c *lruCache) remove(item *lruItem) {
	delete(c.items, item.key)
	c.order.Remove(item.element)
}

// evict drops the least recently used entry. Caller holds mu.
func (c *lruCache) evict() {
	element := c.order.Back()
	if element != nil {
		c.remove(element.Value.(*lruItem))
	}
}
