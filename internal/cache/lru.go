// Package cache provides a small thread-safe LRU cache with per-entry expiry.
package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// EvictFunc is called, outside the cache lock, for every entry that leaves the cache.
type EvictFunc[K comparable, V any] func(key K, value V)

// LRU is a thread-safe least-recently-used cache whose entries expire after a fixed TTL.
type LRU[K comparable, V any] struct {
	mu           sync.Mutex
	capacity     int
	ttl          time.Duration
	items        map[K]*list.Element
	evictionList *list.List
	onEvict      EvictFunc[K, V]
	now          func() time.Time

	hits   uint64
	misses uint64
}

// Stats holds cache counters
type Stats struct {
	Size     int
	Capacity int
	Hits     uint64
	Misses   uint64
}

// NewLRU creates a cache holding at most capacity entries, each living for ttl
func NewLRU[K comparable, V any](capacity int, ttl time.Duration, onEvict EvictFunc[K, V]) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU[K, V]{
		capacity:     capacity,
		ttl:          ttl,
		items:        make(map[K]*list.Element, capacity),
		evictionList: list.New(),
		onEvict:      onEvict,
		now:          time.Now,
	}
}

// Get returns the value for key if present and not expired
func (c *LRU[K, V]) Get(key K) (V, bool) {
	var zero V
	var evicted []*entry[K, V]

	c.mu.Lock()
	elem, found := c.items[key]
	if !found {
		c.misses++
		c.mu.Unlock()
		return zero, false
	}

	e := elem.Value.(*entry[K, V])
	if !c.now().Before(e.expiresAt) {
		c.removeElement(elem)
		evicted = append(evicted, e)
		c.misses++
		c.mu.Unlock()
		c.notify(evicted)
		return zero, false
	}

	c.evictionList.MoveToFront(elem)
	c.hits++
	c.mu.Unlock()
	return e.value, true
}

// Set adds or replaces the value for key and resets its expiry
func (c *LRU[K, V]) Set(key K, value V) {
	var evicted []*entry[K, V]

	c.mu.Lock()
	expiresAt := c.now().Add(c.ttl)

	if elem, found := c.items[key]; found {
		e := elem.Value.(*entry[K, V])
		evicted = append(evicted, &entry[K, V]{key: e.key, value: e.value})
		e.value = value
		e.expiresAt = expiresAt
		c.evictionList.MoveToFront(elem)
	} else {
		elem := c.evictionList.PushFront(&entry[K, V]{key: key, value: value, expiresAt: expiresAt})
		c.items[key] = elem

		if c.evictionList.Len() > c.capacity {
			if oldest := c.evictionList.Back(); oldest != nil {
				evicted = append(evicted, oldest.Value.(*entry[K, V]))
				c.removeElement(oldest)
			}
		}
	}
	c.mu.Unlock()

	c.notify(evicted)
}

// Delete removes key from the cache
func (c *LRU[K, V]) Delete(key K) {
	var evicted []*entry[K, V]

	c.mu.Lock()
	if elem, found := c.items[key]; found {
		evicted = append(evicted, elem.Value.(*entry[K, V]))
		c.removeElement(elem)
	}
	c.mu.Unlock()

	c.notify(evicted)
}

// Clear removes all entries
func (c *LRU[K, V]) Clear() {
	var evicted []*entry[K, V]

	c.mu.Lock()
	for elem := c.evictionList.Front(); elem != nil; elem = elem.Next() {
		evicted = append(evicted, elem.Value.(*entry[K, V]))
	}
	c.items = make(map[K]*list.Element, c.capacity)
	c.evictionList.Init()
	c.mu.Unlock()

	c.notify(evicted)
}

// Len returns the number of entries, including expired ones not yet collected
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictionList.Len()
}

// CleanupExpired removes expired entries and returns how many were removed
func (c *LRU[K, V]) CleanupExpired() int {
	var evicted []*entry[K, V]

	c.mu.Lock()
	now := c.now()
	for elem := c.evictionList.Back(); elem != nil; {
		prev := elem.Prev()
		e := elem.Value.(*entry[K, V])
		if !now.Before(e.expiresAt) {
			evicted = append(evicted, e)
			c.removeElement(elem)
		}
		elem = prev
	}
	c.mu.Unlock()

	c.notify(evicted)
	return len(evicted)
}

// GetStats returns cache statistics
func (c *LRU[K, V]) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Size:     c.evictionList.Len(),
		Capacity: c.capacity,
		Hits:     c.hits,
		Misses:   c.misses,
	}
}

func (c *LRU[K, V]) removeElement(elem *list.Element) {
	c.evictionList.Remove(elem)
	delete(c.items, elem.Value.(*entry[K, V]).key)
}

func (c *LRU[K, V]) notify(evicted []*entry[K, V]) {
	if c.onEvict == nil {
		return
	}
	for _, e := range evicted {
		c.onEvict(e.key, e.value)
	}
}
